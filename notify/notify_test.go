package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/openhab/cloud-tunnelgw/fserrors"
	"github.com/openhab/cloud-tunnelgw/siteapi"
)

type memStore struct {
	mu   sync.Mutex
	recs []siteapi.NotificationRecord
}

func (m *memStore) Persist(_ context.Context, rec siteapi.NotificationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

type memDevices struct {
	byUser map[string][]DeviceToken
}

func (m *memDevices) TokensForUser(_ context.Context, userID string) ([]DeviceToken, error) {
	return m.byUser[userID], nil
}

type fakePush struct {
	mu        sync.Mutex
	configured bool
	batches   [][]string
	failToken string
}

func (p *fakePush) IsConfigured() bool { return p.configured }

func (p *fakePush) SendBatch(_ context.Context, tokens []string, _ PushNotification) ([]PushResult, error) {
	p.mu.Lock()
	p.batches = append(p.batches, tokens)
	p.mu.Unlock()
	results := make([]PushResult, 0, len(tokens))
	for _, t := range tokens {
		var err error
		if t == p.failToken {
			err = errors.New("provider rejected token")
		}
		results = append(results, PushResult{Token: t, Err: err})
	}
	return results, nil
}

func (p *fakePush) SendHide(_ context.Context, tokens []string, _ string) error {
	p.mu.Lock()
	p.batches = append(p.batches, tokens)
	p.mu.Unlock()
	return nil
}

func TestSend_PersistsAndNormalizesTag(t *testing.T) {
	store := &memStore{}
	devices := &memDevices{byUser: map[string][]DeviceToken{
		"u1": {{DeviceID: "d1", Platform: "android", FCMToken: "tok-1"}},
	}}
	push := &fakePush{configured: true}
	svc := New(store, devices, push, Config{}, nil)

	payload := []byte(`{"message":"door open","severity":"warn"}`)
	if err := svc.Send(context.Background(), "u1", payload, nil); err != nil {
		t.Fatalf("send: %v", err)
	}

	if len(store.recs) != 1 {
		t.Fatalf("expected 1 persisted record, got %d", len(store.recs))
	}
	rec := store.recs[0]
	if rec.Tag != "warn" {
		t.Fatalf("expected tag normalized from severity, got %q", rec.Tag)
	}
	var roundTrip map[string]any
	if err := json.Unmarshal(rec.Payload, &roundTrip); err != nil {
		t.Fatalf("unmarshal stored payload: %v", err)
	}
	if roundTrip["message"] != "door open" || roundTrip["tag"] != "warn" {
		t.Fatalf("unexpected stored payload: %v", roundTrip)
	}

	if len(push.batches) != 1 || len(push.batches[0]) != 1 || push.batches[0][0] != "tok-1" {
		t.Fatalf("expected one push batch to tok-1, got %v", push.batches)
	}
}

func TestSend_TagPreservedWhenPresent(t *testing.T) {
	store := &memStore{}
	svc := New(store, &memDevices{}, &fakePush{configured: true}, Config{}, nil)

	payload := []byte(`{"message":"m","tag":"explicit","severity":"ignored"}`)
	if err := svc.Send(context.Background(), "u1", payload, nil); err != nil {
		t.Fatalf("send: %v", err)
	}
	if store.recs[0].Tag != "explicit" {
		t.Fatalf("expected explicit tag to win over severity, got %q", store.recs[0].Tag)
	}
}

func TestSend_PayloadTooLarge(t *testing.T) {
	store := &memStore{}
	svc := New(store, &memDevices{}, &fakePush{configured: true}, Config{MaxPayloadBytes: 16}, nil)

	big := []byte(`{"message":"` + strings.Repeat("x", 64) + `"}`)
	err := svc.Send(context.Background(), "u1", big, nil)
	if k, ok := fserrors.KindOf(err); !ok || k != fserrors.KindPayloadTooLarge {
		t.Fatalf("expected KindPayloadTooLarge, got %v", err)
	}
	if len(store.recs) != 0 {
		t.Fatal("payload rejected for size must not be persisted")
	}
}

func TestSend_BoundaryExactlyAtMax(t *testing.T) {
	store := &memStore{}
	payload := []byte(`{"message":"hi"}`)
	svc := New(store, &memDevices{}, &fakePush{configured: true}, Config{MaxPayloadBytes: len(payload)}, nil)

	if err := svc.Send(context.Background(), "u1", payload, nil); err != nil {
		t.Fatalf("expected success at exact boundary, got %v", err)
	}

	oneMore := append(append([]byte{}, payload...), ' ')
	svc2 := New(&memStore{}, &memDevices{}, &fakePush{configured: true}, Config{MaxPayloadBytes: len(payload)}, nil)
	err := svc2.Send(context.Background(), "u1", oneMore, nil)
	if k, ok := fserrors.KindOf(err); !ok || k != fserrors.KindPayloadTooLarge {
		t.Fatalf("expected one byte over max to fail, got %v", err)
	}
}

func TestSend_SkipsIOSDeviceWithoutFCMToken(t *testing.T) {
	store := &memStore{}
	devices := &memDevices{byUser: map[string][]DeviceToken{
		"u1": {{DeviceID: "d1", Platform: "ios", FCMToken: ""}},
	}}
	push := &fakePush{configured: true}
	svc := New(store, devices, push, Config{}, nil)

	if err := svc.Send(context.Background(), "u1", []byte(`{"message":"m"}`), nil); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(push.batches) != 0 {
		t.Fatalf("expected no push batch for a device without an FCM token, got %v", push.batches)
	}
}

func TestSend_PartialPushFailureDoesNotFailCall(t *testing.T) {
	store := &memStore{}
	devices := &memDevices{byUser: map[string][]DeviceToken{
		"u1": {
			{DeviceID: "d1", Platform: "android", FCMToken: "good"},
			{DeviceID: "d2", Platform: "android", FCMToken: "bad"},
		},
	}}
	push := &fakePush{configured: true, failToken: "bad"}
	svc := New(store, devices, push, Config{}, nil)

	if err := svc.Send(context.Background(), "u1", []byte(`{"message":"m"}`), nil); err != nil {
		t.Fatalf("expected nil error despite one token failing, got %v", err)
	}
}

func TestHide_DoesNotPersist(t *testing.T) {
	store := &memStore{}
	devices := &memDevices{byUser: map[string][]DeviceToken{
		"u1": {{DeviceID: "d1", Platform: "android", FCMToken: "tok-1"}},
	}}
	push := &fakePush{configured: true}
	svc := New(store, devices, push, Config{}, nil)

	if err := svc.Hide(context.Background(), "u1", "notif-1", nil); err != nil {
		t.Fatalf("hide: %v", err)
	}
	if len(store.recs) != 0 {
		t.Fatal("hide must not touch persistence")
	}
	if len(push.batches) != 1 {
		t.Fatalf("expected one hide batch, got %d", len(push.batches))
	}
}
