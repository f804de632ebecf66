package pgdirectory

import (
	"context"
	"fmt"

	"github.com/openhab/cloud-tunnelgw/notify"
	"github.com/openhab/cloud-tunnelgw/siteapi"
)

// Persist implements notify.Store against the same connection pool used for directory
// lookups, per SPEC_FULL.md §4.I: both are "external persistence" in the spec's terms.
func (d *Directory) Persist(ctx context.Context, rec siteapi.NotificationRecord) error {
	const q = `
INSERT INTO notifications (id, user_id, message, icon, tag, payload, created_at, hidden)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := d.db.ExecContext(ctx, q, rec.ID, rec.UserID, rec.Message, rec.Icon, rec.Tag, rec.Payload, rec.CreatedAt, rec.Hidden)
	if err != nil {
		return fmt.Errorf("pgdirectory: persist notification: %w", err)
	}
	return nil
}

// TokensForUser implements notify.DeviceStore.
func (d *Directory) TokensForUser(ctx context.Context, userID string) ([]notify.DeviceToken, error) {
	const q = `
SELECT device_id, platform, fcm_token
FROM user_devices
WHERE user_id = $1`
	rows, err := d.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("pgdirectory: tokens for user: %w", err)
	}
	defer rows.Close()

	var out []notify.DeviceToken
	for rows.Next() {
		var tok notify.DeviceToken
		if err := rows.Scan(&tok.DeviceID, &tok.Platform, &tok.FCMToken); err != nil {
			return nil, fmt.Errorf("pgdirectory: scan device token: %w", err)
		}
		out = append(out, tok)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgdirectory: iterate device tokens: %w", err)
	}
	return out, nil
}

var (
	_ notify.Store       = (*Directory)(nil)
	_ notify.DeviceStore = (*Directory)(nil)
)
