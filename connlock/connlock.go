// Package connlock implements the ConnectionManager component: it enforces that at most
// one node in the cluster holds the active tunnel connection for a given site, using the
// shared state store's atomic primitives instead of any in-process coordination.
package connlock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/openhab/cloud-tunnelgw/fserrors"
	"github.com/openhab/cloud-tunnelgw/internal/timeutil"
	"github.com/openhab/cloud-tunnelgw/observability"
	"github.com/openhab/cloud-tunnelgw/siteapi"
	"github.com/openhab/cloud-tunnelgw/store"
)

// ErrLockHeld is returned by Acquire when another connection already owns the site's lock
// and has not exceeded its TTL.
var ErrLockHeld = errors.New("connlock: lock held by another connection")

// Config configures a Manager.
type Config struct {
	NodeAddress string        // this node's address, stored in every lock it grants
	TTL         time.Duration // ConnectionLock TTL; must be several multiples of Heartbeat
	Heartbeat   time.Duration // lock-renewal interval
}

// Manager is the ConnectionManager component (spec Component C).
type Manager struct {
	kv  store.KV
	cfg Config
	obs observability.LockObserver
}

// New returns a Manager backed by kv. A zero TTL falls back to 45s and a zero Heartbeat
// to a third of the TTL.
func New(kv store.KV, cfg Config, obs observability.LockObserver) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = 45 * time.Second
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = cfg.TTL / 3
	}
	if obs == nil {
		obs = observability.NoopLockObserver
	}
	return &Manager{kv: kv, cfg: cfg, obs: obs}
}

func lockKey(siteID string) string {
	return fmt.Sprintf("tunnelgw:lock:site:%s", siteID)
}

func blockKey(siteID string) string {
	return fmt.Sprintf("tunnelgw:block:site:%s", siteID)
}

// Acquire grants siteID's lock to connectionID on this node, failing with ErrLockHeld if
// another connection already holds an unexpired lock.
func (m *Manager) Acquire(ctx context.Context, siteID, connectionID string, siteVersion int64) (*siteapi.ConnectionLock, error) {
	lock := &siteapi.ConnectionLock{
		SiteID:       siteID,
		NodeAddress:  m.cfg.NodeAddress,
		ConnectionID: connectionID,
		GrantedAt:    time.Now().UTC(),
		SiteVersion:  siteVersion,
	}
	raw, err := json.Marshal(lock)
	if err != nil {
		return nil, fserrors.Wrap(fserrors.ComponentConnLock, fserrors.KindInvalidInput, err)
	}
	ttl := timeutil.NormalizeSkew(m.cfg.TTL)
	acquired, err := m.kv.SetNX(ctx, lockKey(siteID), string(raw), ttl)
	if err != nil {
		m.obs.Lock(observability.LockResultDenied)
		return nil, fserrors.Wrap(fserrors.ComponentConnLock, fserrors.KindStoreUnavailable, err)
	}
	if !acquired {
		m.obs.Lock(observability.LockResultDenied)
		return nil, ErrLockHeld
	}
	m.obs.Lock(observability.LockResultAcquired)
	return lock, nil
}

// Renew extends the TTL of siteID's lock, provided it is still held by connectionID.
// A false, nil-error result means the lock was lost (expired or taken over) and the
// caller's TunnelSession must transition to DEGRADED/CLOSED.
func (m *Manager) Renew(ctx context.Context, siteID, connectionID string, lock *siteapi.ConnectionLock) (bool, error) {
	start := time.Now()
	raw, err := json.Marshal(lock)
	if err != nil {
		return false, fserrors.Wrap(fserrors.ComponentConnLock, fserrors.KindInvalidInput, err)
	}
	ttl := timeutil.NormalizeSkew(m.cfg.TTL)
	renewed, err := m.kv.CompareAndRenew(ctx, lockKey(siteID), string(raw), ttl)
	m.obs.HeartbeatLatency(time.Since(start))
	if err != nil {
		m.obs.Lock(observability.LockResultLost)
		return false, fserrors.Wrap(fserrors.ComponentConnLock, fserrors.KindStoreUnavailable, err)
	}
	if !renewed {
		m.obs.Lock(observability.LockResultLost)
		return false, nil
	}
	m.obs.Lock(observability.LockResultRenewed)
	return true, nil
}

// Release gives up siteID's lock, provided it is still held by connectionID.
func (m *Manager) Release(ctx context.Context, siteID string, lock *siteapi.ConnectionLock) error {
	raw, err := json.Marshal(lock)
	if err != nil {
		return fserrors.Wrap(fserrors.ComponentConnLock, fserrors.KindInvalidInput, err)
	}
	_, err = m.kv.CompareAndDelete(ctx, lockKey(siteID), string(raw))
	if err != nil {
		return fserrors.Wrap(fserrors.ComponentConnLock, fserrors.KindStoreUnavailable, err)
	}
	m.obs.Lock(observability.LockResultReleased)
	return nil
}

// Current returns the currently granted lock for siteID, if any.
func (m *Manager) Current(ctx context.Context, siteID string) (*siteapi.ConnectionLock, bool, error) {
	raw, ok, err := m.kv.Get(ctx, lockKey(siteID))
	if err != nil {
		return nil, false, fserrors.Wrap(fserrors.ComponentConnLock, fserrors.KindStoreUnavailable, err)
	}
	if !ok {
		return nil, false, nil
	}
	var lock siteapi.ConnectionLock
	if err := json.Unmarshal([]byte(raw), &lock); err != nil {
		return nil, false, fserrors.Wrap(fserrors.ComponentConnLock, fserrors.KindInvalidInput, err)
	}
	return &lock, true, nil
}

// IsBlocked reports whether siteID is currently administratively blocked.
func (m *Manager) IsBlocked(ctx context.Context, siteID string) (*siteapi.BlockEntry, bool, error) {
	raw, ok, err := m.kv.Get(ctx, blockKey(siteID))
	if err != nil {
		return nil, false, fserrors.Wrap(fserrors.ComponentConnLock, fserrors.KindStoreUnavailable, err)
	}
	if !ok {
		return nil, false, nil
	}
	var be siteapi.BlockEntry
	if err := json.Unmarshal([]byte(raw), &be); err != nil {
		return nil, false, fserrors.Wrap(fserrors.ComponentConnLock, fserrors.KindInvalidInput, err)
	}
	return &be, true, nil
}

// Block sets an administrative block on siteID. A zero ttl leaves the entry's ExpiresAt
// unset and keeps the block in the store for one year.
func (m *Manager) Block(ctx context.Context, siteID, reason string, ttl time.Duration) error {
	be := siteapi.BlockEntry{SiteID: siteID, Reason: reason, BlockedAt: time.Now().UTC()}
	if ttl > 0 {
		be.ExpiresAt = be.BlockedAt.Add(ttl)
	}
	raw, err := json.Marshal(be)
	if err != nil {
		return fserrors.Wrap(fserrors.ComponentConnLock, fserrors.KindInvalidInput, err)
	}
	if ttl <= 0 {
		ttl = 365 * 24 * time.Hour
	}
	if _, err := m.kv.SetNX(ctx, blockKey(siteID), string(raw), timeutil.NormalizeSkew(ttl)); err != nil {
		return fserrors.Wrap(fserrors.ComponentConnLock, fserrors.KindStoreUnavailable, err)
	}
	return nil
}

// RunHeartbeat renews lock on cfg.Heartbeat until ctx is done, the lock is lost, or renewal
// fails. The returned channel is closed when the loop stops for any of these reasons; no
// value is ever sent on it, so a caller that needs to tell a lost lock from ctx
// cancellation checks its own state.
func (m *Manager) RunHeartbeat(ctx context.Context, siteID, connectionID string, lock *siteapi.ConnectionLock) <-chan struct{} {
	lost := make(chan struct{})
	go func() {
		defer close(lost)
		ticker := time.NewTicker(m.cfg.Heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ok, err := m.Renew(ctx, siteID, connectionID, lock)
				if err != nil || !ok {
					return
				}
			}
		}
	}()
	return lost
}
