// Package server wires the gateway's components into the HTTP surface a deployment
// actually exposes: the site-facing tunnel attach endpoint, the client-facing request
// dispatcher, and the small set of operational endpoints tunnelgwctl and a load balancer
// poll.
package server

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/openhab/cloud-tunnelgw/auth"
	"github.com/openhab/cloud-tunnelgw/connlock"
	"github.com/openhab/cloud-tunnelgw/directory"
	"github.com/openhab/cloud-tunnelgw/dispatch"
	"github.com/openhab/cloud-tunnelgw/notify"
	"github.com/openhab/cloud-tunnelgw/observability"
	"github.com/openhab/cloud-tunnelgw/tracker"
	"github.com/openhab/cloud-tunnelgw/tunnel"
)

// Config configures a Gateway.
type Config struct {
	NodeAddress    string // this node's externally reachable address, stored in every lock it grants
	AttachPath     string // site-facing tunnel attach endpoint path
	AllowedOrigins []string
	AllowNoOrigin  bool
	BlockTTL       time.Duration // spec §3's blockTTL
	MaxAttachBytes int64

	RequestMaxAge   time.Duration // spec's requestMaxAge
	SweepInterval   time.Duration // how often the sweeper runs; set independently of RequestMaxAge

	Tunnel tunnel.Config
	HTTP   dispatch.HTTPConfig
	WS     dispatch.WSConfig
}

// DefaultConfig returns conservative defaults, mirroring spec §6's parameter table.
func DefaultConfig() Config {
	return Config{
		AttachPath:     "/tunnel/attach",
		AllowNoOrigin:  false,
		BlockTTL:       60 * time.Second,
		MaxAttachBytes: 8 * 1024,
		RequestMaxAge:  120 * time.Second,
		SweepInterval:  10 * time.Second,
	}
}

func (c *Config) setDefaults() {
	def := DefaultConfig()
	if c.AttachPath == "" {
		c.AttachPath = def.AttachPath
	}
	if c.BlockTTL <= 0 {
		c.BlockTTL = def.BlockTTL
	}
	if c.MaxAttachBytes <= 0 {
		c.MaxAttachBytes = def.MaxAttachBytes
	}
	if c.RequestMaxAge <= 0 {
		c.RequestMaxAge = def.RequestMaxAge
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = def.SweepInterval
	}
}

// registeredSession is everything the gateway tracks for one site's attached tunnel.
type registeredSession struct {
	sess *tunnel.Session
	reqs *tracker.RequestTracker
	wsts *tracker.WebSocketTracker
	http *dispatch.HTTPDispatcher
	ws   *dispatch.WSDispatcher
}

// Gateway is the top-level process object: it owns the live site sessions and the
// component instances every request handler borrows.
type Gateway struct {
	cfg Config

	authg    *auth.Gateway
	dir      directory.Directory
	lockMgr  *connlock.Manager
	peers    *dispatch.PeerProxy
	notifier *notify.Service

	tunnelObs observability.TunnelObserver
	reqObs    observability.RequestObserver

	logger *log.Logger

	mu       sync.RWMutex
	sessions map[string]*registeredSession // keyed by siteID
}

// New returns a Gateway. notifier may be nil if push notifications are not configured;
// logger defaults to log.Default() if nil.
func New(cfg Config, authg *auth.Gateway, dir directory.Directory, lockMgr *connlock.Manager, notifier *notify.Service, tunnelObs observability.TunnelObserver, reqObs observability.RequestObserver, logger *log.Logger) *Gateway {
	cfg.setDefaults()
	if tunnelObs == nil {
		tunnelObs = observability.NoopTunnelObserver
	}
	if reqObs == nil {
		reqObs = observability.NoopRequestObserver
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Gateway{
		cfg:       cfg,
		authg:     authg,
		dir:       dir,
		lockMgr:   lockMgr,
		peers:     dispatch.NewPeerProxy(),
		notifier:  notifier,
		tunnelObs: tunnelObs,
		reqObs:    reqObs,
		logger:    logger,
		sessions:  make(map[string]*registeredSession),
	}
}

func (g *Gateway) register(siteID string, rs *registeredSession) {
	g.mu.Lock()
	g.sessions[siteID] = rs
	g.mu.Unlock()
}

func (g *Gateway) unregister(siteID string, rs *registeredSession) {
	g.mu.Lock()
	if g.sessions[siteID] == rs {
		delete(g.sessions, siteID)
	}
	g.mu.Unlock()
}

// localSession returns the locally-attached session for siteID, if this node holds it.
func (g *Gateway) localSession(siteID string) (*registeredSession, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	rs, ok := g.sessions[siteID]
	return rs, ok
}

// SessionSnapshot is the read-only view of one live session exposed to admin tooling.
type SessionSnapshot struct {
	SiteID       string
	ConnectionID string
	NodeAddress  string
	State        string
	InFlight     int
	WebSockets   int
	GrantedAt    time.Time
}

// Sessions returns a snapshot of every session attached to this node, for tunnelgwctl and
// the admin HTTP surface.
func (g *Gateway) Sessions() []SessionSnapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]SessionSnapshot, 0, len(g.sessions))
	for siteID, rs := range g.sessions {
		var connID, node string
		var granted time.Time
		if lock := rs.sess.Lock(); lock != nil {
			connID = lock.ConnectionID
			node = lock.NodeAddress
			granted = lock.GrantedAt
		}
		out = append(out, SessionSnapshot{
			SiteID:       siteID,
			ConnectionID: connID,
			NodeAddress:  node,
			State:        rs.sess.State().String(),
			InFlight:     rs.reqs.Len(),
			WebSockets:   rs.wsts.Len(),
			GrantedAt:    granted,
		})
	}
	return out
}

// Close tears down every locally-attached session, for graceful shutdown.
func (g *Gateway) Close() {
	g.mu.RLock()
	sessions := make([]*registeredSession, 0, len(g.sessions))
	for _, rs := range g.sessions {
		sessions = append(sessions, rs)
	}
	g.mu.RUnlock()
	for _, rs := range sessions {
		rs.sess.Close(observability.CloseReasonShutdown)
	}
}

// runSweeper periodically removes expired in-flight request entries from every
// locally-attached session's RequestTracker and logs each one. It does not touch the
// forwarded request itself; HTTPDispatcher.Forward bounds that with its own timeout.
func (g *Gateway) runSweeper(ctx context.Context) {
	ticker := time.NewTicker(g.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.mu.RLock()
			sessions := make([]*registeredSession, 0, len(g.sessions))
			for _, rs := range g.sessions {
				sessions = append(sessions, rs)
			}
			g.mu.RUnlock()
			now := time.Now()
			for _, rs := range sessions {
				expired := rs.reqs.SweepExpired(now)
				for _, req := range expired {
					g.logger.Printf("server: request %s for site %s exceeded requestMaxAge, dropping", req.RequestID, req.SiteID)
				}
			}
		}
	}
}

// Run starts the gateway's background loops (currently only the request sweeper) and
// blocks until ctx is canceled.
func (g *Gateway) Run(ctx context.Context) {
	g.runSweeper(ctx)
}
