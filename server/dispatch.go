package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/openhab/cloud-tunnelgw/auth"
	"github.com/openhab/cloud-tunnelgw/directory"
	"github.com/openhab/cloud-tunnelgw/fserrors"
	"github.com/openhab/cloud-tunnelgw/realtime/ws"
	"github.com/openhab/cloud-tunnelgw/siteapi"
	"github.com/openhab/cloud-tunnelgw/wire"
)

const sessionCookieName = "tunnelgw_session"

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// statusForErr maps a dispatch failure to the status a client-facing boundary should
// report for it, per fserrors.Kind.HTTPStatus. Errors that never went through fserrors.Wrap
// fall back to 502, since they reached here from a tunnel-facing call that only ever
// returns classified errors in practice.
func statusForErr(err error) int {
	kind, ok := fserrors.KindOf(err)
	if !ok {
		return http.StatusBadGateway
	}
	return kind.HTTPStatus()
}

// headerTrackingWriter records whether a response's headers have already been committed,
// so a caller whose downstream write partially succeeded knows not to attempt writing an
// error status of its own (net/http panics on a second WriteHeader, and silently drops a
// second header set even without panicking).
type headerTrackingWriter struct {
	http.ResponseWriter
	wroteHeader bool
}

func (h *headerTrackingWriter) WriteHeader(status int) {
	h.wroteHeader = true
	h.ResponseWriter.WriteHeader(status)
}

func (h *headerTrackingWriter) Write(b []byte) (int, error) {
	h.wroteHeader = true
	return h.ResponseWriter.Write(b)
}

// authenticateClient tries a session cookie, then HTTP Basic, then a Bearer token, in that
// order, matching spec §4.G step 1. A session cookie carries the same kind of opaque token
// AuthenticateBearer already validates, so the cookie path reuses it rather than standing up
// a second token format: the two differ only in where the token travels on the wire.
func (g *Gateway) authenticateClient(r *http.Request) (*siteapi.User, error) {
	if c, err := r.Cookie(sessionCookieName); err == nil && c.Value != "" {
		if user, err := g.authg.AuthenticateBearer(r.Context(), c.Value); err == nil {
			return user, nil
		}
	}
	if username, password, ok := r.BasicAuth(); ok {
		if user, err := g.authg.AuthenticateBasic(r.Context(), username, password); err == nil {
			return user, nil
		}
	}
	if tok := bearerToken(r); tok != "" {
		if user, err := g.authg.AuthenticateBearer(r.Context(), tok); err == nil {
			return user, nil
		}
	}
	return nil, auth.ErrInvalidCredentials
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return h[len(prefix):]
	}
	return ""
}

func headersFromHTTP(h http.Header) []wire.Header {
	out := make([]wire.Header, 0, len(h))
	for name, values := range h {
		for _, v := range values {
			out = append(out, wire.Header{Name: name, Value: v})
		}
	}
	return out
}

// clientTarget is the outcome of authenticating a client request and resolving its site's
// lock: exactly one of (rs set, peer set) holds when ok is true.
type clientTarget struct {
	site *siteapi.Site
	rs   *registeredSession // set when this node holds the lock
	peer string             // nodeAddress, set when a peer holds the lock
}

// resolve authenticates r, resolves its owner's site, and peeks that site's connection
// lock (spec §4.G steps 1-3). On failure it writes the appropriate error response to w
// itself and returns ok=false; the caller should return immediately in that case.
func (g *Gateway) resolve(w http.ResponseWriter, r *http.Request) (clientTarget, bool) {
	user, err := g.authenticateClient(r)
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, "unauthorized")
		return clientTarget{}, false
	}

	site, err := g.dir.SiteByOwner(r.Context(), user.ID)
	if err != nil {
		// Every account has exactly one site (project invariant); anything else is a
		// directory fault, never surfaced as a client-facing 4xx (spec §4.G step 2).
		if errors.Is(err, directory.ErrNotFound) {
			g.logger.Printf("server: account %s has no registered site", user.ID)
		} else {
			g.logger.Printf("server: directory lookup for account %s failed: %v", user.ID, err)
		}
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return clientTarget{}, false
	}

	lock, present, err := g.lockMgr.Current(r.Context(), site.ID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return clientTarget{}, false
	}
	if !present {
		writeJSONError(w, http.StatusServiceUnavailable, "site offline")
		return clientTarget{}, false
	}

	if lock.NodeAddress == g.cfg.NodeAddress {
		rs, ok := g.localSession(site.ID)
		if !ok {
			// The lock says this node, but the session already tore down locally (a race
			// with Close); treat it the same as offline rather than panic on a nil session.
			writeJSONError(w, http.StatusServiceUnavailable, "site offline")
			return clientTarget{}, false
		}
		return clientTarget{site: site, rs: rs}, true
	}
	return clientTarget{site: site, peer: lock.NodeAddress}, true
}

// remotePrefix is the optional path prefix a client-facing URL carries (spec §6: "Arbitrary
// path after an optional /remote prefix that the dispatcher strips"); everything after it
// is proxied to the site verbatim.
const remotePrefix = "/remote"

// stripRemotePrefix removes a leading /remote from r's path in place, leaving every other
// request untouched. It is idempotent: a request already stripped (e.g. by a peer that
// forwarded it after stripping) is a no-op here.
func stripRemotePrefix(r *http.Request) {
	if rest := strings.TrimPrefix(r.URL.Path, remotePrefix); rest != r.URL.Path {
		if rest == "" {
			rest = "/"
		}
		r.URL.Path = rest
		r.URL.RawPath = ""
	}
}

// ServeHTTP is the client-facing request endpoint: authenticate, resolve the site, then
// either dispatch locally or proxy to whichever peer node holds the site's lock. Proxying
// always goes through dispatch.PeerProxy's reverse proxy, never an HTTP redirect, so that
// non-idempotent methods (POST/PUT/DELETE) forward correctly.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	stripRemotePrefix(r)
	target, ok := g.resolve(w, r)
	if !ok {
		return
	}
	if target.peer != "" {
		if err := g.peers.ServeHTTP(w, r, target.peer); err != nil {
			writeJSONError(w, http.StatusBadGateway, "peer unreachable")
		}
		return
	}
	tw := &headerTrackingWriter{ResponseWriter: w}
	if _, err := target.rs.http.Forward(r.Context(), target.rs.sess, r.Method, r.URL.RequestURI(), headersFromHTTP(r.Header), r.Body, tw); err != nil {
		g.logger.Printf("server: forward to site %s failed: %v", target.site.ID, err)
		// Forward only fails before it calls WriteHeader itself when the failure happens
		// opening the stream or exchanging meta frames; a body-streaming failure after
		// that point has already committed a status, and tw.wroteHeader reflects it.
		if !tw.wroteHeader {
			if status := statusForErr(err); status != 0 {
				writeJSONError(w, status, "bad gateway")
			}
		}
	}
}

// ServeWebSocketUpgrade is the client-facing WebSocket upgrade endpoint (spec §4.H): same
// auth and site resolution as ServeHTTP, but the upgraded client socket is bridged directly
// to a KindWS tunnel stream instead of a single request/response exchange.
func (g *Gateway) ServeWebSocketUpgrade(w http.ResponseWriter, r *http.Request) {
	stripRemotePrefix(r)
	target, ok := g.resolve(w, r)
	if !ok {
		return
	}
	if target.peer != "" {
		// A tunneled client WebSocket is a long-lived bidirectional stream: proxying it to
		// a peer still goes through the reverse proxy (which forwards the upgrade as-is),
		// never a redirect, for the same reason non-idempotent HTTP forwards do.
		if err := g.peers.ServeHTTP(w, r, target.peer); err != nil {
			writeJSONError(w, http.StatusBadGateway, "peer unreachable")
		}
		return
	}

	checker := ws.NewOriginChecker(g.cfg.AllowedOrigins, g.cfg.AllowNoOrigin)
	client, err := ws.Upgrade(w, r, ws.UpgraderOptions{CheckOrigin: checker})
	if err != nil {
		return
	}
	// ws.Upgrade above has already sent 101 Switching Protocols and hijacked the
	// connection: there is no HTTP status left to write on a Bridge failure, classified
	// or not. Logging here is for operators; the client only sees the socket close.
	if err := target.rs.ws.Bridge(r.Context(), target.rs.sess, r.URL.RequestURI(), headersFromHTTP(r.Header), client); err != nil {
		g.logger.Printf("server: websocket bridge to site %s ended: %v", target.site.ID, err)
	}
}
