package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openhab/cloud-tunnelgw/directory/memdirectory"
	"github.com/openhab/cloud-tunnelgw/fserrors"
	"github.com/openhab/cloud-tunnelgw/siteapi"
	"golang.org/x/crypto/bcrypt"
)

func mustHash(t *testing.T, plain string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return string(h)
}

func TestAuthenticateSiteAttach(t *testing.T) {
	dir := memdirectory.New()
	dir.PutSite(siteapi.Site{ID: "1", UUID: "site-uuid", Secret: mustHash(t, "s3cret"), Active: true, CreatedAt: time.Now()})
	g := New(dir, nil, nil)
	ctx := context.Background()

	if _, err := g.AuthenticateSiteAttach(ctx, "site-uuid", "s3cret"); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	_, err := g.AuthenticateSiteAttach(ctx, "site-uuid", "wrong")
	if k, _ := fserrors.KindOf(err); k != fserrors.KindAuthFailed {
		t.Fatalf("expected KindAuthFailed, got %v", err)
	}
	_, err = g.AuthenticateSiteAttach(ctx, "missing", "s3cret")
	if k, _ := fserrors.KindOf(err); k != fserrors.KindAuthFailed {
		t.Fatalf("expected KindAuthFailed for unknown uuid, got %v", err)
	}
}

func TestAuthenticateSiteAttach_Inactive(t *testing.T) {
	dir := memdirectory.New()
	dir.PutSite(siteapi.Site{ID: "1", UUID: "site-uuid", Secret: mustHash(t, "s3cret"), Active: false})
	g := New(dir, nil, nil)

	_, err := g.AuthenticateSiteAttach(context.Background(), "site-uuid", "s3cret")
	if k, _ := fserrors.KindOf(err); k != fserrors.KindAuthFailed {
		t.Fatalf("expected KindAuthFailed for inactive site, got %v", err)
	}
}

func TestAuthenticateBasic_CaseInsensitiveUsername(t *testing.T) {
	dir := memdirectory.New()
	dir.PutUser(siteapi.User{ID: "u1", Username: "Alice", PasswordHash: mustHash(t, "pw"), Active: true})
	g := New(dir, nil, nil)

	user, err := g.AuthenticateBasic(context.Background(), "ALICE", "pw")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if user.ID != "u1" {
		t.Fatalf("expected u1, got %q", user.ID)
	}
}

type fakeTokens struct {
	userID string
	active bool
	err    error
}

func (f fakeTokens) Lookup(_ context.Context, _ string) (string, bool, error) {
	return f.userID, f.active, f.err
}

func TestAuthenticateBearer(t *testing.T) {
	dir := memdirectory.New()
	dir.PutUser(siteapi.User{ID: "u1", Username: "alice", Active: true})
	g := New(dir, fakeTokens{userID: "u1", active: true}, nil)

	user, err := g.AuthenticateBearer(context.Background(), "tok")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if user.ID != "u1" {
		t.Fatalf("expected u1, got %q", user.ID)
	}

	g2 := New(dir, fakeTokens{err: errors.New("down")}, nil)
	_, err = g2.AuthenticateBearer(context.Background(), "tok")
	if k, _ := fserrors.KindOf(err); k != fserrors.KindDirectoryUnavailable {
		t.Fatalf("expected KindDirectoryUnavailable, got %v", err)
	}

	g3 := New(dir, nil, nil)
	_, err = g3.AuthenticateBearer(context.Background(), "tok")
	if k, _ := fserrors.KindOf(err); k != fserrors.KindAuthFailed {
		t.Fatalf("expected KindAuthFailed when bearer unconfigured, got %v", err)
	}
}

func TestAuthenticateClient(t *testing.T) {
	g := New(memdirectory.New(), nil, []ClientCredential{{ClientID: "node-b", ClientSecret: "hunter2"}})

	if err := g.AuthenticateClient("node-b", "hunter2"); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if err := g.AuthenticateClient("node-b", "wrong"); err == nil {
		t.Fatal("expected failure for wrong secret")
	}
	if err := g.AuthenticateClient("unknown", "hunter2"); err == nil {
		t.Fatal("expected failure for unknown client")
	}
}
