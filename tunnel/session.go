// Package tunnel implements the TunnelSession component: the stateful, multiplexed
// connection to a single site's tunnel agent, carrying one control stream for
// notifications and keepalives plus one yamux stream per forwarded HTTP request or
// bridged WebSocket connection.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	yamuxlib "github.com/hashicorp/yamux"
	"github.com/openhab/cloud-tunnelgw/connlock"
	"github.com/openhab/cloud-tunnelgw/fserrors"
	"github.com/openhab/cloud-tunnelgw/framing/jsonframe"
	"github.com/openhab/cloud-tunnelgw/internal/muxconn"
	"github.com/openhab/cloud-tunnelgw/mux/yamux"
	"github.com/openhab/cloud-tunnelgw/observability"
	"github.com/openhab/cloud-tunnelgw/realtime/ws"
	"github.com/openhab/cloud-tunnelgw/siteapi"
	"github.com/openhab/cloud-tunnelgw/streamhello"
	"github.com/openhab/cloud-tunnelgw/wire"
)

// State is a TunnelSession lifecycle state.
type State int

const (
	StateNew State = iota
	StateAuthenticating
	StateLockPending
	StateReady
	StateDegraded
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateAuthenticating:
		return "AUTHENTICATING"
	case StateLockPending:
		return "LOCK_PENDING"
	case StateReady:
		return "READY"
	case StateDegraded:
		return "DEGRADED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// ErrNotReady is returned by stream operations attempted outside StateReady/StateDegraded.
var ErrNotReady = errors.New("tunnel: session not ready")

// ErrControlTimeout is returned when the site never opens its control stream.
var ErrControlTimeout = errors.New("tunnel: control stream never opened")

// Config configures a Session.
type Config struct {
	LockTTL             time.Duration
	Heartbeat           time.Duration
	ControlStreamWait   time.Duration // how long to wait for the site's control stream
	MaxControlFrameBytes int

	// PingInterval and PingTimeout drive the gateway-initiated control-stream liveness
	// check: a ping is sent every PingInterval, and two consecutive unanswered pings
	// (no pong within PingTimeout) close the session (spec §4.F).
	PingInterval time.Duration
	PingTimeout  time.Duration
}

func (c *Config) setDefaults() {
	if c.LockTTL <= 0 {
		c.LockTTL = 45 * time.Second
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = c.LockTTL / 3
	}
	if c.ControlStreamWait <= 0 {
		c.ControlStreamWait = 10 * time.Second
	}
	if c.MaxControlFrameBytes <= 0 {
		c.MaxControlFrameBytes = wire.DefaultMaxJSONFrameBytes
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = 2 * c.PingInterval / 3
	}
}

// maxPingMisses is the number of consecutive unanswered pings tolerated before a session
// is considered dead (spec §4.F: close after two missed pongs).
const maxPingMisses = 2

// Session is one site's attached tunnel connection.
type Session struct {
	cfg          Config
	site         *siteapi.Site
	connectionID string
	obs          observability.TunnelObserver

	lockMgr *connlock.Manager

	mu    sync.Mutex
	state State
	lock  *siteapi.ConnectionLock

	wsConn  *ws.Conn
	mc      *muxconn.Conn
	ymux    *yamuxlib.Session
	control *yamuxlib.Stream

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	closeErr  error
	lost      <-chan struct{}

	pongCh chan struct{}
}

// Attach performs the full attach handshake for an already-authenticated site: it acquires
// the site's connection lock, builds a yamux session over the upgraded websocket, waits for
// the site to open its control stream, and starts the lock heartbeat. On any failure the
// underlying connection is closed and the session is left in StateClosed.
//
// A site reconnecting while its previous lock is still held never silently replaces it:
// Acquire either succeeds or Attach rejects the new connection with close reason "already
// connected", leaving the existing session untouched. See DESIGN.md.
func Attach(ctx context.Context, wsConn *ws.Conn, site *siteapi.Site, connectionID string, siteVersion int64, lockMgr *connlock.Manager, obs observability.TunnelObserver, cfg Config) (*Session, error) {
	cfg.setDefaults()
	if obs == nil {
		obs = observability.NoopTunnelObserver
	}
	sessCtx, cancel := context.WithCancel(ctx)
	s := &Session{
		cfg:          cfg,
		site:         site,
		connectionID: connectionID,
		obs:          obs,
		lockMgr:      lockMgr,
		state:        StateAuthenticating,
		wsConn:       wsConn,
		ctx:          sessCtx,
		cancel:       cancel,
		pongCh:       make(chan struct{}, 1),
	}

	s.setState(StateLockPending)
	lock, err := lockMgr.Acquire(sessCtx, site.ID, connectionID, siteVersion)
	if err != nil {
		cancel()
		if errors.Is(err, connlock.ErrLockHeld) {
			wsConn.CloseWithStatus(websocket.ClosePolicyViolation, "already connected")
			s.setState(StateClosed)
			obs.Attach(observability.AttachResultFail, observability.AttachReasonLockUnavailable)
			return nil, fserrors.Wrap(fserrors.ComponentTunnel, fserrors.KindTakeover, err)
		}
		wsConn.Close()
		s.setState(StateClosed)
		obs.Attach(observability.AttachResultFail, observability.AttachReasonUpgradeError)
		return nil, err
	}
	s.lock = lock

	mc := muxconn.New(sessCtx, wsConn)
	ymux, err := yamux.NewServer(mc, nil)
	if err != nil {
		cancel()
		wsConn.Close()
		s.setState(StateClosed)
		obs.Attach(observability.AttachResultFail, observability.AttachReasonUpgradeError)
		return nil, fmt.Errorf("tunnel: yamux server: %w", err)
	}
	s.mc = mc
	s.ymux = ymux

	control, err := acceptControlStream(ymux, cfg.ControlStreamWait, cfg.MaxControlFrameBytes)
	if err != nil {
		cancel()
		ymux.Close()
		wsConn.Close()
		s.setState(StateClosed)
		obs.Attach(observability.AttachResultFail, observability.AttachReasonMalformed)
		return nil, err
	}
	s.control = control

	s.lost = lockMgr.RunHeartbeat(sessCtx, site.ID, connectionID, lock)
	go s.watchLockLoss()
	go s.pingLoop()

	s.setState(StateReady)
	obs.ConnCount(1)
	obs.Attach(observability.AttachResultOK, observability.AttachReasonOK)
	return s, nil
}

func acceptControlStream(ymux *yamuxlib.Session, wait time.Duration, maxBytes int) (*yamuxlib.Stream, error) {
	type result struct {
		stream *yamuxlib.Stream
		err    error
	}
	done := make(chan result, 1)
	go func() {
		stream, err := ymux.AcceptStream()
		if err != nil {
			done <- result{err: err}
			return
		}
		kind, err := streamhello.Read(stream, maxBytes)
		if err != nil {
			stream.Close()
			done <- result{err: err}
			return
		}
		if kind != wire.KindControl {
			stream.Close()
			done <- result{err: fmt.Errorf("tunnel: expected control stream, got %q", kind)}
			return
		}
		done <- result{stream: stream}
	}()
	select {
	case r := <-done:
		if r.err != nil {
			return nil, fserrors.Wrap(fserrors.ComponentTunnel, fserrors.KindMalformedFrame, r.err)
		}
		return r.stream, nil
	case <-time.After(wait):
		return nil, fserrors.Wrap(fserrors.ComponentTunnel, fserrors.KindTunnelTimeout, ErrControlTimeout)
	}
}

// NotePong records a pong received on the control stream, clearing the missed-ping
// counter. Called from the control loop's reader goroutine.
func (s *Session) NotePong() {
	select {
	case s.pongCh <- struct{}{}:
	default:
	}
}

// pingLoop sends a control-stream ping every PingInterval and closes the session after
// maxPingMisses consecutive pings go unanswered within PingTimeout (spec §4.F). It is the
// gateway-initiated half of the keepalive; the site may also ping the gateway, which is
// answered reactively in the control loop and never touches this counter.
func (s *Session) pingLoop() {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	misses := 0
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}

		if err := s.SendControl(wire.ControlMessage{Kind: wire.ControlKindPing}); err != nil {
			return
		}

		select {
		case <-s.pongCh:
			misses = 0
		case <-time.After(s.cfg.PingTimeout):
			misses++
			if misses >= maxPingMisses {
				s.setState(StateDegraded)
				s.Close(observability.CloseReasonIdleTimeout)
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Session) watchLockLoss() {
	<-s.lost
	if s.State() == StateClosed {
		return
	}
	s.setState(StateDegraded)
	s.Close(observability.CloseReasonLockLost)
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// State reports the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Lock returns the connection lock this session currently holds.
func (s *Session) Lock() *siteapi.ConnectionLock {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lock
}

// Site returns the site this session is attached for.
func (s *Session) Site() *siteapi.Site { return s.site }

// ConnectionID returns the connection id this session was attached with.
func (s *Session) ConnectionID() string { return s.connectionID }

// Context is canceled when the session closes, for deriving per-stream deadlines.
func (s *Session) Context() context.Context { return s.ctx }

// OpenStream opens a new yamux stream tagged with kind, for a single HTTP request or
// bridged WebSocket connection.
func (s *Session) OpenStream(kind wire.Kind) (*yamuxlib.Stream, error) {
	st := s.State()
	if st != StateReady && st != StateDegraded {
		return nil, ErrNotReady
	}
	stream, err := s.ymux.OpenStream()
	if err != nil {
		return nil, fserrors.Wrap(fserrors.ComponentTunnel, fserrors.KindSiteOffline, err)
	}
	if err := streamhello.Write(stream, kind); err != nil {
		stream.Close()
		return nil, fserrors.Wrap(fserrors.ComponentTunnel, fserrors.KindMalformedFrame, err)
	}
	return stream, nil
}

// SendControl writes a control-plane message (notification, item update, command, or
// ping/pong) on the session's single control stream.
//
// Writes are serialized by yamux.Stream's own internal locking; the control stream is
// never read and written from outside this package concurrently with Close.
func (s *Session) SendControl(msg wire.ControlMessage) error {
	if s.State() != StateReady {
		return ErrNotReady
	}
	msg.V = wire.ProtocolVersion
	if err := jsonframe.WriteJSONFrame(s.control, msg); err != nil {
		return fserrors.Wrap(fserrors.ComponentTunnel, fserrors.KindClientDisconnect, err)
	}
	return nil
}

// ControlStream exposes the raw control stream for a background reader loop (consuming
// site-originated item updates, pings, and pongs) owned by the caller.
func (s *Session) ControlStream() *yamuxlib.Stream { return s.control }

// Close tears the session down, releasing its connection lock and the underlying
// websocket. Safe to call more than once and from multiple goroutines.
func (s *Session) Close(reason observability.CloseReason) error {
	s.closeOnce.Do(func() {
		s.setState(StateClosed)
		s.cancel()
		if s.ymux != nil {
			s.ymux.Close()
		}
		if s.wsConn != nil {
			s.wsConn.Close()
		}
		if s.lockMgr != nil && s.lock != nil {
			// Best-effort: if the lock was already lost (CloseReasonLockLost), releasing a
			// lock this node no longer holds is a harmless no-op at the store layer.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			s.closeErr = s.lockMgr.Release(releaseCtx, s.site.ID, s.lock)
		}
		s.obs.ConnCount(0)
		s.obs.Close(reason)
	})
	return s.closeErr
}
