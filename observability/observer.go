// Package observability defines the metric event surfaces the gateway emits, independent
// of any particular metrics backend.
package observability

import (
	"sync"
	"sync/atomic"
	"time"
)

// AttachResult is the outcome of a site tunnel attach attempt.
type AttachResult string

const (
	AttachResultOK   AttachResult = "ok"
	AttachResultFail AttachResult = "fail"
)

// AttachReason explains an attach outcome.
type AttachReason string

const (
	AttachReasonOK              AttachReason = "ok"
	AttachReasonUpgradeError    AttachReason = "upgrade_error"
	AttachReasonAuthFailed      AttachReason = "auth_failed"
	AttachReasonMalformed       AttachReason = "malformed"
	AttachReasonLockUnavailable AttachReason = "lock_unavailable"
	AttachReasonTakeover        AttachReason = "takeover"
)

// LockResult is the outcome of a ConnectionManager lock operation.
type LockResult string

const (
	LockResultAcquired LockResult = "acquired"
	LockResultDenied   LockResult = "denied"
	LockResultRenewed  LockResult = "renewed"
	LockResultLost     LockResult = "lost"
	LockResultReleased LockResult = "released"
)

// CloseReason explains why a TunnelSession closed.
type CloseReason string

const (
	CloseReasonPeerClosed   CloseReason = "peer_closed"
	CloseReasonIdleTimeout  CloseReason = "idle_timeout"
	CloseReasonLockLost     CloseReason = "lock_lost"
	CloseReasonReplaced     CloseReason = "replaced"
	CloseReasonShutdown     CloseReason = "shutdown"
	CloseReasonWriteError   CloseReason = "write_error"
	CloseReasonMalformed    CloseReason = "malformed"
)

// RequestResult is the outcome of a forwarded client HTTP or WebSocket request.
type RequestResult string

const (
	RequestResultOK        RequestResult = "ok"
	RequestResultSiteError RequestResult = "site_error"
	RequestResultTimeout   RequestResult = "timeout"
	RequestResultOffline   RequestResult = "offline"
	RequestResultTooLarge  RequestResult = "too_large"
)

// NotificationResult is the outcome of dispatching a push notification batch.
type NotificationResult string

const (
	NotificationResultOK       NotificationResult = "ok"
	NotificationResultPartial NotificationResult = "partial"
	NotificationResultFailed  NotificationResult = "failed"
)

// TunnelObserver receives tunnel-session-level metric events.
type TunnelObserver interface {
	ConnCount(n int64)
	Attach(result AttachResult, reason AttachReason)
	Close(reason CloseReason)
	AttachLatency(d time.Duration)
}

// LockObserver receives ConnectionManager metric events.
type LockObserver interface {
	Lock(result LockResult)
	HeartbeatLatency(d time.Duration)
}

// RequestObserver receives HTTPDispatcher/WSDispatcher metric events.
type RequestObserver interface {
	Request(result RequestResult, d time.Duration)
	InFlight(n int64)
	WebSocketCount(n int64)
}

// NotificationObserver receives NotificationService metric events.
type NotificationObserver interface {
	Dispatch(result NotificationResult, n int)
}

type noopTunnelObserver struct{}

func (noopTunnelObserver) ConnCount(int64)                   {}
func (noopTunnelObserver) Attach(AttachResult, AttachReason) {}
func (noopTunnelObserver) Close(CloseReason)                 {}
func (noopTunnelObserver) AttachLatency(time.Duration)       {}

type noopLockObserver struct{}

func (noopLockObserver) Lock(LockResult)             {}
func (noopLockObserver) HeartbeatLatency(time.Duration) {}

type noopRequestObserver struct{}

func (noopRequestObserver) Request(RequestResult, time.Duration) {}
func (noopRequestObserver) InFlight(int64)                       {}
func (noopRequestObserver) WebSocketCount(int64)                 {}

type noopNotificationObserver struct{}

func (noopNotificationObserver) Dispatch(NotificationResult, int) {}

// Noop* are zero-cost observers used when metrics are disabled.
var (
	NoopTunnelObserver       TunnelObserver       = noopTunnelObserver{}
	NoopLockObserver         LockObserver         = noopLockObserver{}
	NoopRequestObserver      RequestObserver      = noopRequestObserver{}
	NoopNotificationObserver NotificationObserver = noopNotificationObserver{}
)

// AtomicTunnelObserver swaps its delegate at runtime, so metrics can be toggled without
// restarting the process.
type AtomicTunnelObserver struct {
	once sync.Once
	v    atomic.Value
}

type tunnelObserverHolder struct{ obs TunnelObserver }

func NewAtomicTunnelObserver() *AtomicTunnelObserver {
	a := &AtomicTunnelObserver{}
	a.init()
	return a
}

func (a *AtomicTunnelObserver) init() {
	a.once.Do(func() { a.v.Store(&tunnelObserverHolder{obs: NoopTunnelObserver}) })
}

func (a *AtomicTunnelObserver) Set(obs TunnelObserver) {
	if obs == nil {
		obs = NoopTunnelObserver
	}
	a.init()
	a.v.Store(&tunnelObserverHolder{obs: obs})
}

func (a *AtomicTunnelObserver) load() TunnelObserver {
	a.init()
	return a.v.Load().(*tunnelObserverHolder).obs
}

func (a *AtomicTunnelObserver) ConnCount(n int64) { a.load().ConnCount(n) }
func (a *AtomicTunnelObserver) Attach(result AttachResult, reason AttachReason) {
	a.load().Attach(result, reason)
}
func (a *AtomicTunnelObserver) Close(reason CloseReason)   { a.load().Close(reason) }
func (a *AtomicTunnelObserver) AttachLatency(d time.Duration) { a.load().AttachLatency(d) }

// AtomicLockObserver swaps its delegate at runtime.
type AtomicLockObserver struct {
	once sync.Once
	v    atomic.Value
}

type lockObserverHolder struct{ obs LockObserver }

func NewAtomicLockObserver() *AtomicLockObserver {
	a := &AtomicLockObserver{}
	a.init()
	return a
}

func (a *AtomicLockObserver) init() {
	a.once.Do(func() { a.v.Store(&lockObserverHolder{obs: NoopLockObserver}) })
}

func (a *AtomicLockObserver) Set(obs LockObserver) {
	if obs == nil {
		obs = NoopLockObserver
	}
	a.init()
	a.v.Store(&lockObserverHolder{obs: obs})
}

func (a *AtomicLockObserver) load() LockObserver {
	a.init()
	return a.v.Load().(*lockObserverHolder).obs
}

func (a *AtomicLockObserver) Lock(result LockResult)               { a.load().Lock(result) }
func (a *AtomicLockObserver) HeartbeatLatency(d time.Duration)      { a.load().HeartbeatLatency(d) }

// AtomicRequestObserver swaps its delegate at runtime.
type AtomicRequestObserver struct {
	once sync.Once
	v    atomic.Value
}

type requestObserverHolder struct{ obs RequestObserver }

func NewAtomicRequestObserver() *AtomicRequestObserver {
	a := &AtomicRequestObserver{}
	a.init()
	return a
}

func (a *AtomicRequestObserver) init() {
	a.once.Do(func() { a.v.Store(&requestObserverHolder{obs: NoopRequestObserver}) })
}

func (a *AtomicRequestObserver) Set(obs RequestObserver) {
	if obs == nil {
		obs = NoopRequestObserver
	}
	a.init()
	a.v.Store(&requestObserverHolder{obs: obs})
}

func (a *AtomicRequestObserver) load() RequestObserver {
	a.init()
	return a.v.Load().(*requestObserverHolder).obs
}

func (a *AtomicRequestObserver) Request(result RequestResult, d time.Duration) {
	a.load().Request(result, d)
}
func (a *AtomicRequestObserver) InFlight(n int64)        { a.load().InFlight(n) }
func (a *AtomicRequestObserver) WebSocketCount(n int64)  { a.load().WebSocketCount(n) }

// AtomicNotificationObserver swaps its delegate at runtime.
type AtomicNotificationObserver struct {
	once sync.Once
	v    atomic.Value
}

type notificationObserverHolder struct{ obs NotificationObserver }

func NewAtomicNotificationObserver() *AtomicNotificationObserver {
	a := &AtomicNotificationObserver{}
	a.init()
	return a
}

func (a *AtomicNotificationObserver) init() {
	a.once.Do(func() { a.v.Store(&notificationObserverHolder{obs: NoopNotificationObserver}) })
}

func (a *AtomicNotificationObserver) Set(obs NotificationObserver) {
	if obs == nil {
		obs = NoopNotificationObserver
	}
	a.init()
	a.v.Store(&notificationObserverHolder{obs: obs})
}

func (a *AtomicNotificationObserver) load() NotificationObserver {
	a.init()
	return a.v.Load().(*notificationObserverHolder).obs
}

func (a *AtomicNotificationObserver) Dispatch(result NotificationResult, n int) {
	a.load().Dispatch(result, n)
}
