package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openhab/cloud-tunnelgw/auth"
	"github.com/openhab/cloud-tunnelgw/connlock"
	"github.com/openhab/cloud-tunnelgw/directory"
	"github.com/openhab/cloud-tunnelgw/siteapi"
	"github.com/openhab/cloud-tunnelgw/store/memstore"
)

type fakeDirectory struct {
	sites map[string]siteapi.Site
	users map[string]siteapi.User
	pingErr error
}

func (d *fakeDirectory) SiteByUUID(ctx context.Context, uuid string) (*siteapi.Site, error) {
	return nil, directory.ErrNotFound
}
func (d *fakeDirectory) SiteByOwner(ctx context.Context, ownerID string) (*siteapi.Site, error) {
	return nil, directory.ErrNotFound
}
func (d *fakeDirectory) UserByUsername(ctx context.Context, username string) (*siteapi.User, error) {
	return nil, directory.ErrNotFound
}
func (d *fakeDirectory) UserByID(ctx context.Context, id string) (*siteapi.User, error) {
	if u, ok := d.users[id]; ok {
		return &u, nil
	}
	return nil, directory.ErrNotFound
}
func (d *fakeDirectory) Ping(ctx context.Context) error { return d.pingErr }

func newTestGateway(dir directory.Directory) *Gateway {
	kv := memstore.New()
	lockMgr := connlock.New(kv, connlock.Config{NodeAddress: "node-a"}, nil)
	authg := auth.New(dir, nil, nil)
	return New(Config{}, authg, dir, lockMgr, nil, nil, nil, nil)
}

func TestHandleHealthz(t *testing.T) {
	g := newTestGateway(&fakeDirectory{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	g.HandleHealthz(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected status ok, got %q", body["status"])
	}
}

func TestHandleReadyz(t *testing.T) {
	t.Run("ready when directory ping succeeds", func(t *testing.T) {
		g := newTestGateway(&fakeDirectory{})
		req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
		rec := httptest.NewRecorder()
		g.HandleReadyz(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
	})

	t.Run("not ready when directory ping fails", func(t *testing.T) {
		g := newTestGateway(&fakeDirectory{pingErr: errors.New("db down")})
		req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
		rec := httptest.NewRecorder()
		g.HandleReadyz(rec, req)
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", rec.Code)
		}
	})
}

func TestAdminSessionsHandler_EmptyAndFiltered(t *testing.T) {
	g := newTestGateway(&fakeDirectory{})

	req := httptest.NewRequest(http.MethodGet, "/admin/sessions", nil)
	rec := httptest.NewRecorder()
	g.AdminSessionsHandler(rec, req)

	var sessions []SessionSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &sessions); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected no sessions, got %d", len(sessions))
	}

	req = httptest.NewRequest(http.MethodGet, "/admin/sessions?state=ready", nil)
	rec = httptest.NewRecorder()
	g.AdminSessionsHandler(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHandleNotificationHide_NoNotifierConfigured(t *testing.T) {
	g := newTestGateway(&fakeDirectory{})
	req := httptest.NewRequest(http.MethodDelete, "/notifications/abc123", nil)
	rec := httptest.NewRecorder()
	g.HandleNotificationHide(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when no notifier configured, got %d", rec.Code)
	}
}

var _ directory.Directory = (*fakeDirectory)(nil)
