// Package notify implements the NotificationService component: it validates, persists,
// and fans out push notifications that sites emit over their tunnel's control stream.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/openhab/cloud-tunnelgw/fserrors"
	"github.com/openhab/cloud-tunnelgw/observability"
	"github.com/openhab/cloud-tunnelgw/siteapi"
)

// ErrPayloadTooLarge is returned by Send when the encoded payload exceeds the configured
// maximum.
var ErrPayloadTooLarge = errors.New("notify: payload too large")

// ErrInvalidPayload is returned by Send when the payload is not a JSON object.
var ErrInvalidPayload = errors.New("notify: payload is not a JSON object")

// DefaultMaxPayloadBytes is the spec's maxNotificationPayloadBytes default.
const DefaultMaxPayloadBytes = 1 << 20 // 1 MiB

// Store persists notification records. The production implementation shares the
// directory's Postgres pool (directory/pgdirectory); tests use a small in-memory fake.
type Store interface {
	Persist(ctx context.Context, rec siteapi.NotificationRecord) error
}

// DeviceToken is one of a user's registered push-capable devices.
type DeviceToken struct {
	DeviceID string
	Platform string // "android", "ios"
	FCMToken string // empty if this device has no registered cloud-messaging token
}

// DeviceStore resolves a user's registered devices.
type DeviceStore interface {
	TokensForUser(ctx context.Context, userID string) ([]DeviceToken, error)
}

// PushNotification is the normalized content handed to a PushProvider.
type PushNotification struct {
	Message string
	Icon    string
	Tag     string
	Payload []byte
}

// PushResult is one token's outcome from a batch send.
type PushResult struct {
	Token string
	Err   error
}

// PushProvider is the capability interface spec §9 calls for: new push channels are
// drop-in additions behind this interface. One concrete implementation exists today
// (notify/fcm).
type PushProvider interface {
	// IsConfigured reports whether the provider has credentials to actually send.
	IsConfigured() bool
	// SendBatch sends n to every token, never failing the call for a subset of
	// per-token failures; failures are reported per-token in the returned slice.
	SendBatch(ctx context.Context, tokens []string, n PushNotification) ([]PushResult, error)
	// SendHide sends a "hide this notification" marker to every token.
	SendHide(ctx context.Context, tokens []string, notificationID string) error
}

// Service is the NotificationService component (spec Component I).
type Service struct {
	store           Store
	devices         DeviceStore
	push            PushProvider
	maxPayloadBytes int
	obs             observability.NotificationObserver
}

// Config configures a Service.
type Config struct {
	MaxPayloadBytes int
}

// New returns a Service. obs may be nil.
func New(store Store, devices DeviceStore, push PushProvider, cfg Config, obs observability.NotificationObserver) *Service {
	if cfg.MaxPayloadBytes <= 0 {
		cfg.MaxPayloadBytes = DefaultMaxPayloadBytes
	}
	if obs == nil {
		obs = observability.NoopNotificationObserver
	}
	return &Service{store: store, devices: devices, push: push, maxPayloadBytes: cfg.MaxPayloadBytes, obs: obs}
}

// Send implements the five-step contract from spec §4.I: size-check, normalize the
// legacy tag/severity alias, persist, resolve device tokens, and fan out a push batch.
// It never fails the call because a subset of device tokens failed; per-token push
// failures are only logged (via the caller-supplied logf).
func (s *Service) Send(ctx context.Context, userID string, rawPayload []byte, logf func(format string, args ...any)) error {
	if len(rawPayload) > s.maxPayloadBytes {
		if logf != nil {
			logf("notify: payload for user %s rejected: %d bytes exceeds max %d", userID, len(rawPayload), s.maxPayloadBytes)
		}
		return fserrors.Wrap(fserrors.ComponentNotify, fserrors.KindPayloadTooLarge, ErrPayloadTooLarge)
	}

	var fields map[string]any
	if err := json.Unmarshal(rawPayload, &fields); err != nil {
		return fserrors.Wrap(fserrors.ComponentNotify, fserrors.KindInvalidInput, ErrInvalidPayload)
	}

	tag, _ := fields["tag"].(string)
	if tag == "" {
		if severity, ok := fields["severity"].(string); ok && severity != "" {
			fields["tag"] = severity
			tag = severity
		}
	}
	normalized, err := json.Marshal(fields)
	if err != nil {
		return fserrors.Wrap(fserrors.ComponentNotify, fserrors.KindInvalidInput, err)
	}
	message, _ := fields["message"].(string)
	icon, _ := fields["icon"].(string)

	rec := siteapi.NotificationRecord{
		ID:        uuid.NewString(),
		UserID:    userID,
		Message:   message,
		Icon:      icon,
		Tag:       tag,
		Payload:   normalized,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.Persist(ctx, rec); err != nil {
		return fserrors.Wrap(fserrors.ComponentNotify, fserrors.KindStoreUnavailable, err)
	}

	tokens, err := s.fcmTokens(ctx, userID, logf)
	if err != nil {
		// Persistence already succeeded; a device-lookup failure must not fail the
		// call (spec §4.I step 5's "never fail the call" extends to the lookup that
		// feeds it).
		s.obs.Dispatch(observability.NotificationResultFailed, 0)
		return nil
	}
	if len(tokens) == 0 {
		s.obs.Dispatch(observability.NotificationResultOK, 0)
		return nil
	}
	if s.push == nil || !s.push.IsConfigured() {
		if logf != nil {
			logf("notify: push provider not configured, skipping %d token(s) for user %s", len(tokens), userID)
		}
		s.obs.Dispatch(observability.NotificationResultFailed, len(tokens))
		return nil
	}

	results, err := s.push.SendBatch(ctx, tokens, PushNotification{Message: message, Icon: icon, Tag: tag, Payload: normalized})
	if err != nil {
		if logf != nil {
			logf("notify: push batch send failed for user %s: %v", userID, err)
		}
		s.obs.Dispatch(observability.NotificationResultFailed, len(tokens))
		return nil
	}
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			if logf != nil {
				logf("notify: push to token %s failed: %v", redactToken(r.Token), r.Err)
			}
		}
	}
	switch {
	case failed == 0:
		s.obs.Dispatch(observability.NotificationResultOK, len(tokens))
	case failed == len(tokens):
		s.obs.Dispatch(observability.NotificationResultFailed, len(tokens))
	default:
		s.obs.Dispatch(observability.NotificationResultPartial, len(tokens))
	}
	return nil
}

// Hide sends a "hide" marker to the user's devices. It does not touch persistence.
func (s *Service) Hide(ctx context.Context, userID, notificationID string, logf func(format string, args ...any)) error {
	tokens, err := s.fcmTokens(ctx, userID, logf)
	if err != nil || len(tokens) == 0 {
		return nil
	}
	if s.push == nil || !s.push.IsConfigured() {
		return nil
	}
	if err := s.push.SendHide(ctx, tokens, notificationID); err != nil {
		if logf != nil {
			logf("notify: hide send failed for user %s: %v", userID, err)
		}
	}
	return nil
}

func (s *Service) fcmTokens(ctx context.Context, userID string, logf func(format string, args ...any)) ([]string, error) {
	devices, err := s.devices.TokensForUser(ctx, userID)
	if err != nil {
		if logf != nil {
			logf("notify: device lookup failed for user %s: %v", userID, err)
		}
		return nil, err
	}
	tokens := make([]string, 0, len(devices))
	for _, d := range devices {
		if d.FCMToken == "" {
			// iOS device with no registered cloud-messaging token: skipped, not an error.
			continue
		}
		tokens = append(tokens, d.FCMToken)
	}
	return tokens, nil
}

func redactToken(tok string) string {
	if len(tok) <= 8 {
		return "***"
	}
	return tok[:4] + "..." + tok[len(tok)-4:]
}
