package server

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/openhab/cloud-tunnelgw/dispatch"
	"github.com/openhab/cloud-tunnelgw/internal/wsutil"
	"github.com/openhab/cloud-tunnelgw/observability"
	"github.com/openhab/cloud-tunnelgw/realtime/ws"
	"github.com/openhab/cloud-tunnelgw/tracker"
	"github.com/openhab/cloud-tunnelgw/tunnel"
	"github.com/openhab/cloud-tunnelgw/wire"
)

// HandleTunnelAttach is the site-facing endpoint a site's tunnel agent dials once, out of
// band, with query parameters uuid/secret/version (spec §5's wire note). The upgrade
// happens unconditionally so every rejection can be reported as a close frame instead of a
// plain HTTP error: a site's reconnect logic watches the close reason, not the status line.
func (g *Gateway) HandleTunnelAttach(w http.ResponseWriter, r *http.Request) {
	siteUUID := r.URL.Query().Get("uuid")
	secret := r.URL.Query().Get("secret")
	siteVersion, _ := strconv.ParseInt(r.URL.Query().Get("version"), 10, 64)
	ctx := r.Context()

	checker := ws.NewOriginChecker(g.cfg.AllowedOrigins, g.cfg.AllowNoOrigin)
	conn, err := ws.Upgrade(w, r, ws.UpgraderOptions{CheckOrigin: checker})
	if err != nil {
		return
	}
	// Every yamux-multiplexed stream's framing is bounded by wire's own chunk/body
	// limits; the raw websocket transport carrying them needs a read limit at least that
	// large so a legitimate max-size chunk is never rejected at the socket layer.
	conn.SetReadLimit(wsutil.ReadLimit(int(g.cfg.MaxAttachBytes), wire.DefaultMaxChunkBytes))

	if _, blocked, err := g.lockMgr.IsBlocked(ctx, siteUUID); err == nil && blocked {
		conn.CloseWithStatus(websocket.CloseNormalClosure, "")
		return
	}
	// A store error while checking the block list fails open (spec §4.A): a site is never
	// kept off the tunnel just because the rate-limit check itself is unavailable.

	site, err := g.authg.AuthenticateSiteAttach(ctx, siteUUID, secret)
	if err != nil {
		_ = g.lockMgr.Block(ctx, siteUUID, "invalid credentials", g.cfg.BlockTTL)
		conn.CloseWithStatus(websocket.ClosePolicyViolation, "invalid credentials")
		return
	}

	connectionID := uuid.NewString()
	sess, err := tunnel.Attach(ctx, conn, site, connectionID, siteVersion, g.lockMgr, g.tunnelObs, g.cfg.Tunnel)
	if err != nil {
		// tunnel.Attach has already closed conn with the appropriate reason (e.g. "already
		// connected" on lock contention) and released anything it partially acquired.
		return
	}

	reqs := tracker.NewRequestTracker(g.reqObs)
	wsts := tracker.NewWebSocketTracker(g.reqObs)
	rs := &registeredSession{
		sess: sess,
		reqs: reqs,
		wsts: wsts,
		http: dispatch.NewHTTPDispatcher(reqs, g.reqObs, g.cfg.HTTP),
		ws:   dispatch.NewWSDispatcher(wsts, g.reqObs, g.cfg.WS),
	}
	g.register(site.ID, rs)

	g.runControlLoop(sess, site.ID, rs)
}

// runControlLoop consumes the session's control stream until it closes, handling
// keepalive ping/pong and inbound notification dispatch (spec §4.F's control frame set).
// It owns deregistering the session and tearing down its trackers on exit.
func (g *Gateway) runControlLoop(sess *tunnel.Session, siteID string, rs *registeredSession) {
	defer func() {
		g.unregister(siteID, rs)
		if dropped := rs.wsts.ForSite(siteID); len(dropped) > 0 {
			g.logger.Printf("server: site %s tunnel closed with %d bridged websocket(s) still open, dropping", siteID, len(dropped))
		}
		sess.Close(observability.CloseReasonPeerClosed)
	}()

	control := sess.ControlStream()
	for {
		msg, err := readControlMessage(control, g.cfg.Tunnel.MaxControlFrameBytes)
		if err != nil {
			return
		}
		if msg == nil {
			// Malformed frame: log and drop, never close the session for this (spec §4.F).
			g.logger.Printf("server: malformed control frame from site %s, dropping", siteID)
			continue
		}
		switch msg.Kind {
		case wire.ControlKindPing:
			_ = sess.SendControl(wire.ControlMessage{Kind: wire.ControlKindPong})
		case wire.ControlKindPong:
			sess.NotePong()
		case wire.ControlKindNotification:
			g.handleInboundNotification(sess, siteID, msg.Data)
		case wire.ControlKindItemUpdate, wire.ControlKindCommand:
			// Out of core scope except to forward to subscribers if any (spec §4.F); this
			// deployment has none, so these are observed and dropped.
		default:
			g.logger.Printf("server: unknown control frame kind %q from site %s", msg.Kind, siteID)
		}
	}
}

func (g *Gateway) handleInboundNotification(sess *tunnel.Session, siteID string, data any) {
	if g.notifier == nil {
		return
	}
	raw, err := encodeControlData(data)
	if err != nil {
		g.logger.Printf("server: notification from site %s had unencodable payload: %v", siteID, err)
		return
	}
	site := sess.Site()
	if site == nil {
		return
	}
	if err := g.notifier.Send(sess.Context(), site.Owner, raw, g.logger.Printf); err != nil {
		g.logger.Printf("server: notify.Send for site %s failed: %v", siteID, err)
	}
}
