package memdirectory

import (
	"context"

	"github.com/openhab/cloud-tunnelgw/notify"
	"github.com/openhab/cloud-tunnelgw/siteapi"
)

// Persist implements notify.Store for single-node development, mirroring
// directory/pgdirectory's production implementation against an in-memory slice instead
// of Postgres.
func (d *Directory) Persist(_ context.Context, rec siteapi.NotificationRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notifications = append(d.notifications, rec)
	return nil
}

// PutDeviceTokens registers userID's push-capable devices, for notify.DeviceStore.
func (d *Directory) PutDeviceTokens(userID string, tokens []notify.DeviceToken) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.devices == nil {
		d.devices = make(map[string][]notify.DeviceToken)
	}
	d.devices[userID] = tokens
}

// TokensForUser implements notify.DeviceStore.
func (d *Directory) TokensForUser(_ context.Context, userID string) ([]notify.DeviceToken, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]notify.DeviceToken(nil), d.devices[userID]...), nil
}

var (
	_ notify.Store       = (*Directory)(nil)
	_ notify.DeviceStore = (*Directory)(nil)
)
