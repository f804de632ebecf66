// Package auth implements the Auth Gateway component: the three credential validators the
// gateway accepts (site tunnel attach secrets, user Basic auth, and inter-service OAuth2
// client credentials), each using a constant-time comparison appropriate to its secret
// encoding.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/openhab/cloud-tunnelgw/directory"
	"github.com/openhab/cloud-tunnelgw/fserrors"
	"github.com/openhab/cloud-tunnelgw/siteapi"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials covers every authentication failure; callers must not distinguish
// "wrong secret" from "unknown identity" in any user-visible response.
var ErrInvalidCredentials = errors.New("auth: invalid credentials")

// TokenStore resolves a bearer token to the user id that owns it.
type TokenStore interface {
	Lookup(ctx context.Context, token string) (userID string, active bool, err error)
}

// ClientCredential is a registered inter-node or admin-tool OAuth2 client.
type ClientCredential struct {
	ClientID     string
	ClientSecret string
}

// Gateway is the Auth Gateway component (spec Component J).
type Gateway struct {
	dir     directory.Directory
	tokens  TokenStore
	clients map[string]string // clientID -> clientSecret
}

// New returns a Gateway. tokens may be nil if bearer auth is not configured.
func New(dir directory.Directory, tokens TokenStore, clients []ClientCredential) *Gateway {
	cm := make(map[string]string, len(clients))
	for _, c := range clients {
		cm[c.ClientID] = c.ClientSecret
	}
	return &Gateway{dir: dir, tokens: tokens, clients: cm}
}

// AuthenticateSiteAttach validates a site's tunnel attach credentials.
//
// Usernames and site identifiers are compared case-sensitively except where explicitly
// noted: the spec's Open Question on username case-sensitivity is resolved here by
// treating site UUIDs as case-sensitive (they are server-generated, opaque identifiers)
// while AuthenticateBasic lowercases usernames (human-chosen, frequently re-typed). See
// DESIGN.md.
func (g *Gateway) AuthenticateSiteAttach(ctx context.Context, uuid, secret string) (*siteapi.Site, error) {
	site, err := g.dir.SiteByUUID(ctx, strings.TrimSpace(uuid))
	if errors.Is(err, directory.ErrNotFound) {
		return nil, fserrors.Wrap(fserrors.ComponentAuth, fserrors.KindAuthFailed, ErrInvalidCredentials)
	}
	if err != nil {
		return nil, fserrors.Wrap(fserrors.ComponentAuth, fserrors.KindDirectoryUnavailable, err)
	}
	if !site.Active {
		return nil, fserrors.Wrap(fserrors.ComponentAuth, fserrors.KindAuthFailed, ErrInvalidCredentials)
	}
	// bcrypt.CompareHashAndPassword is inherently constant-time with respect to the
	// candidate secret.
	if err := bcrypt.CompareHashAndPassword([]byte(site.Secret), []byte(secret)); err != nil {
		return nil, fserrors.Wrap(fserrors.ComponentAuth, fserrors.KindAuthFailed, ErrInvalidCredentials)
	}
	return site, nil
}

// AuthenticateBasic validates a user's HTTP Basic credentials.
func (g *Gateway) AuthenticateBasic(ctx context.Context, username, password string) (*siteapi.User, error) {
	user, err := g.dir.UserByUsername(ctx, strings.ToLower(strings.TrimSpace(username)))
	if errors.Is(err, directory.ErrNotFound) {
		return nil, fserrors.Wrap(fserrors.ComponentAuth, fserrors.KindAuthFailed, ErrInvalidCredentials)
	}
	if err != nil {
		return nil, fserrors.Wrap(fserrors.ComponentAuth, fserrors.KindDirectoryUnavailable, err)
	}
	if !user.Active {
		return nil, fserrors.Wrap(fserrors.ComponentAuth, fserrors.KindAuthFailed, ErrInvalidCredentials)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, fserrors.Wrap(fserrors.ComponentAuth, fserrors.KindAuthFailed, ErrInvalidCredentials)
	}
	return user, nil
}

// AuthenticateBearer validates a bearer token and returns its owning user.
func (g *Gateway) AuthenticateBearer(ctx context.Context, token string) (*siteapi.User, error) {
	if g.tokens == nil {
		return nil, fserrors.Wrap(fserrors.ComponentAuth, fserrors.KindAuthFailed, ErrInvalidCredentials)
	}
	userID, active, err := g.tokens.Lookup(ctx, strings.TrimSpace(token))
	if err != nil {
		return nil, fserrors.Wrap(fserrors.ComponentAuth, fserrors.KindDirectoryUnavailable, err)
	}
	if !active || userID == "" {
		return nil, fserrors.Wrap(fserrors.ComponentAuth, fserrors.KindAuthFailed, ErrInvalidCredentials)
	}
	user, err := g.dir.UserByID(ctx, userID)
	if errors.Is(err, directory.ErrNotFound) {
		return nil, fserrors.Wrap(fserrors.ComponentAuth, fserrors.KindAuthFailed, ErrInvalidCredentials)
	}
	if err != nil {
		return nil, fserrors.Wrap(fserrors.ComponentAuth, fserrors.KindDirectoryUnavailable, err)
	}
	if !user.Active {
		return nil, fserrors.Wrap(fserrors.ComponentAuth, fserrors.KindAuthFailed, ErrInvalidCredentials)
	}
	return user, nil
}

// AuthenticateClient validates an inter-node or admin-tool OAuth2 client secret.
//
// Client secrets are plain (not hashed) shared secrets exchanged out of band between
// trusted cluster nodes, so subtle.ConstantTimeCompare is used directly rather than
// bcrypt, matching a symmetric pre-shared-key comparison rather than a password check.
func (g *Gateway) AuthenticateClient(clientID, clientSecret string) error {
	expected, ok := g.clients[clientID]
	if !ok {
		return fserrors.Wrap(fserrors.ComponentAuth, fserrors.KindAuthFailed, ErrInvalidCredentials)
	}
	a, b := []byte(expected), []byte(clientSecret)
	if len(a) != len(b) || subtle.ConstantTimeCompare(a, b) != 1 {
		return fserrors.Wrap(fserrors.ComponentAuth, fserrors.KindAuthFailed, ErrInvalidCredentials)
	}
	return nil
}
