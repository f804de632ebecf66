// Package tracker holds the in-process registries of work flowing through a site's
// tunnel: forwarded HTTP requests awaiting a response and bridged WebSocket connections.
// Both registries are pure bookkeeping; they hold no network resources themselves.
package tracker

import (
	"errors"
	"sync"
	"time"

	"github.com/openhab/cloud-tunnelgw/observability"
	"github.com/openhab/cloud-tunnelgw/siteapi"
)

// ErrNotFound is returned when an operation references an unknown request or connection id.
var ErrNotFound = errors.New("tracker: not found")

// RequestTracker tracks in-flight HTTP requests forwarded to sites.
type RequestTracker struct {
	mu       sync.Mutex
	requests map[string]siteapi.InFlightRequest
	obs      observability.RequestObserver
}

// NewRequestTracker returns an empty RequestTracker. obs may be nil.
func NewRequestTracker(obs observability.RequestObserver) *RequestTracker {
	if obs == nil {
		obs = observability.NoopRequestObserver
	}
	return &RequestTracker{requests: make(map[string]siteapi.InFlightRequest), obs: obs}
}

// Start registers a new in-flight request and returns it.
func (t *RequestTracker) Start(req siteapi.InFlightRequest) siteapi.InFlightRequest {
	t.mu.Lock()
	t.requests[req.RequestID] = req
	n := len(t.requests)
	t.mu.Unlock()
	t.obs.InFlight(int64(n))
	return req
}

// Get looks up an in-flight request by id.
func (t *RequestTracker) Get(requestID string) (siteapi.InFlightRequest, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	req, ok := t.requests[requestID]
	if !ok {
		return siteapi.InFlightRequest{}, ErrNotFound
	}
	return req, nil
}

// Finish removes a request from the registry. It is safe to call more than once; the
// second call reports false.
func (t *RequestTracker) Finish(requestID string) bool {
	t.mu.Lock()
	_, ok := t.requests[requestID]
	delete(t.requests, requestID)
	n := len(t.requests)
	t.mu.Unlock()
	if ok {
		t.obs.InFlight(int64(n))
	}
	return ok
}

// ForSite returns a snapshot of requests currently tracked for siteID.
func (t *RequestTracker) ForSite(siteID string) []siteapi.InFlightRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []siteapi.InFlightRequest
	for _, req := range t.requests {
		if req.SiteID == siteID {
			out = append(out, req)
		}
	}
	return out
}

// SweepExpired removes and returns every request whose deadline has passed as of now.
func (t *RequestTracker) SweepExpired(now time.Time) []siteapi.InFlightRequest {
	t.mu.Lock()
	var expired []siteapi.InFlightRequest
	for id, req := range t.requests {
		if !req.Deadline.IsZero() && now.After(req.Deadline) {
			expired = append(expired, req)
			delete(t.requests, id)
		}
	}
	n := len(t.requests)
	t.mu.Unlock()
	if len(expired) > 0 {
		t.obs.InFlight(int64(n))
	}
	return expired
}

// Len reports the current number of in-flight requests.
func (t *RequestTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.requests)
}

// WebSocketTracker tracks client WebSocket connections bridged through a site's tunnel.
type WebSocketTracker struct {
	mu    sync.Mutex
	conns map[string]siteapi.TunneledWebSocket
	obs   observability.RequestObserver
}

// NewWebSocketTracker returns an empty WebSocketTracker. obs may be nil.
func NewWebSocketTracker(obs observability.RequestObserver) *WebSocketTracker {
	if obs == nil {
		obs = observability.NoopRequestObserver
	}
	return &WebSocketTracker{conns: make(map[string]siteapi.TunneledWebSocket), obs: obs}
}

// Start registers a new tunneled WebSocket connection.
func (t *WebSocketTracker) Start(ws siteapi.TunneledWebSocket) siteapi.TunneledWebSocket {
	t.mu.Lock()
	t.conns[ws.ConnID] = ws
	n := len(t.conns)
	t.mu.Unlock()
	t.obs.WebSocketCount(int64(n))
	return ws
}

// Get looks up a tracked connection by id.
func (t *WebSocketTracker) Get(connID string) (siteapi.TunneledWebSocket, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ws, ok := t.conns[connID]
	if !ok {
		return siteapi.TunneledWebSocket{}, ErrNotFound
	}
	return ws, nil
}

// Finish removes a connection from the registry. Safe to call more than once; reports
// false on the second call.
func (t *WebSocketTracker) Finish(connID string) bool {
	t.mu.Lock()
	_, ok := t.conns[connID]
	delete(t.conns, connID)
	n := len(t.conns)
	t.mu.Unlock()
	if ok {
		t.obs.WebSocketCount(int64(n))
	}
	return ok
}

// ForSite removes and returns every connection tracked for siteID. Used when a site's
// tunnel session closes and every bridged connection it was carrying must be dropped.
func (t *WebSocketTracker) ForSite(siteID string) []siteapi.TunneledWebSocket {
	t.mu.Lock()
	var matched []siteapi.TunneledWebSocket
	for id, ws := range t.conns {
		if ws.SiteID == siteID {
			matched = append(matched, ws)
			delete(t.conns, id)
		}
	}
	n := len(t.conns)
	t.mu.Unlock()
	if len(matched) > 0 {
		t.obs.WebSocketCount(int64(n))
	}
	return matched
}

// Len reports the current number of tracked connections.
func (t *WebSocketTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}
