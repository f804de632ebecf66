package connlock

import (
	"context"
	"testing"
	"time"

	"github.com/openhab/cloud-tunnelgw/store/memstore"
)

func TestAcquire_SecondAttemptDenied(t *testing.T) {
	kv := memstore.New()
	m := New(kv, Config{NodeAddress: "node-a", TTL: time.Minute, Heartbeat: time.Second}, nil)
	ctx := context.Background()

	lock, err := m.Acquire(ctx, "site-1", "conn-a", 1)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if lock.NodeAddress != "node-a" {
		t.Fatalf("expected node-a, got %q", lock.NodeAddress)
	}

	if _, err := m.Acquire(ctx, "site-1", "conn-b", 1); err != ErrLockHeld {
		t.Fatalf("expected ErrLockHeld, got %v", err)
	}
}

func TestRenew_FailsAfterRelease(t *testing.T) {
	kv := memstore.New()
	m := New(kv, Config{NodeAddress: "node-a", TTL: time.Minute, Heartbeat: time.Second}, nil)
	ctx := context.Background()

	lock, err := m.Acquire(ctx, "site-1", "conn-a", 1)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if ok, err := m.Renew(ctx, "site-1", "conn-a", lock); err != nil || !ok {
		t.Fatalf("expected renew ok, got ok=%v err=%v", ok, err)
	}
	if err := m.Release(ctx, "site-1", lock); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, err := m.Renew(ctx, "site-1", "conn-a", lock); err != nil || ok {
		t.Fatalf("expected renew to fail after release, got ok=%v err=%v", ok, err)
	}
}

func TestAcquire_ReconnectDuringTTLIsDeniedNotReplaced(t *testing.T) {
	kv := memstore.New()
	m := New(kv, Config{NodeAddress: "node-a", TTL: time.Minute, Heartbeat: time.Second}, nil)
	ctx := context.Background()

	oldLock, err := m.Acquire(ctx, "site-1", "conn-old", 1)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := m.Acquire(ctx, "site-1", "conn-new", 2); err != ErrLockHeld {
		t.Fatalf("expected a reconnect during TTL to be denied with ErrLockHeld, got %v", err)
	}
	// The original connection's lock must still renew: a denied reconnect never
	// silently replaces it.
	if ok, err := m.Renew(ctx, "site-1", "conn-old", oldLock); err != nil || !ok {
		t.Fatalf("expected old lock to still renew, got ok=%v err=%v", ok, err)
	}
}

func TestBlockAndIsBlocked(t *testing.T) {
	kv := memstore.New()
	m := New(kv, Config{NodeAddress: "node-a"}, nil)
	ctx := context.Background()

	if _, blocked, err := m.IsBlocked(ctx, "site-1"); err != nil || blocked {
		t.Fatalf("expected not blocked, got blocked=%v err=%v", blocked, err)
	}
	if err := m.Block(ctx, "site-1", "abuse", time.Hour); err != nil {
		t.Fatalf("block: %v", err)
	}
	entry, blocked, err := m.IsBlocked(ctx, "site-1")
	if err != nil || !blocked {
		t.Fatalf("expected blocked, got blocked=%v err=%v", blocked, err)
	}
	if entry.Reason != "abuse" {
		t.Fatalf("expected reason abuse, got %q", entry.Reason)
	}
}

func TestRunHeartbeat_StopsOnLockLoss(t *testing.T) {
	kv := memstore.New()
	m := New(kv, Config{NodeAddress: "node-a", TTL: 50 * time.Millisecond, Heartbeat: 10 * time.Millisecond}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lock, err := m.Acquire(ctx, "site-1", "conn-a", 1)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	lost := m.RunHeartbeat(ctx, "site-1", "conn-a", lock)

	if err := m.Release(ctx, "site-1", lock); err != nil {
		t.Fatalf("release: %v", err)
	}

	select {
	case <-lost:
	case <-time.After(time.Second):
		t.Fatal("expected heartbeat to report lock loss")
	}
}
