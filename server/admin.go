package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/schema"
)

// sessionFilter is the query-parameter shape accepted by AdminSessionsHandler, e.g.
// "/admin/sessions?state=READY". gorilla/schema decodes r.URL.Query() into this struct
// the same way the teacher's ambient stack uses it for the mutagen example API's typed
// query decoding (see SPEC_FULL.md §6's ambient stack note).
type sessionFilter struct {
	SiteID string `schema:"site_id"`
	State  string `schema:"state"`
}

var sessionFilterDecoder = schema.NewDecoder()

func init() {
	sessionFilterDecoder.IgnoreUnknownKeys(true)
}

// HandleHealthz reports process liveness: it never consults the store or directory, so a
// load balancer's liveness probe never fails because a downstream dependency is slow.
func (g *Gateway) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// pinger is implemented by directory.Directory backends that hold a live connection
// worth probing (directory/pgdirectory.Directory); directory/memdirectory does not, and
// readyz simply has nothing to check in that configuration.
type pinger interface {
	Ping(ctx context.Context) error
}

// HandleReadyz reports whether this node can presently serve traffic: the directory must
// be reachable if it exposes a Ping method. A failing readyz response tells the load
// balancer to stop routing new client requests here without tearing down already-attached
// site tunnels.
func (g *Gateway) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	if p, ok := g.dir.(pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "not ready", "error": err.Error()})
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

// AdminSessionsHandler renders the live session snapshot as JSON for tunnelgwctl and any
// other operator tooling; it is never exposed on the client-facing listener. Optional
// site_id/state query parameters narrow the result.
func (g *Gateway) AdminSessionsHandler(w http.ResponseWriter, r *http.Request) {
	var filter sessionFilter
	if err := r.ParseForm(); err == nil {
		_ = sessionFilterDecoder.Decode(&filter, r.Form)
	}

	sessions := g.Sessions()
	if filter.SiteID != "" || filter.State != "" {
		filtered := sessions[:0]
		for _, s := range sessions {
			if filter.SiteID != "" && s.SiteID != filter.SiteID {
				continue
			}
			if filter.State != "" && !strings.EqualFold(s.State, filter.State) {
				continue
			}
			filtered = append(filtered, s)
		}
		sessions = filtered
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(sessions)
}

// HandleNotificationHide implements the HTTP surface for notify.Service.Hide (spec
// §4.I's second contract operation): DELETE /notifications/{id}, authenticated the same
// way as any other client request.
func (g *Gateway) HandleNotificationHide(w http.ResponseWriter, r *http.Request) {
	if g.notifier == nil {
		writeJSONError(w, http.StatusNotFound, "notifications not configured")
		return
	}
	user, err := g.authenticateClient(r)
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/notifications/")
	id = strings.Trim(id, "/")
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, "missing notification id")
		return
	}
	if err := g.notifier.Hide(r.Context(), user.ID, id, g.logger.Printf); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
