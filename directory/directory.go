// Package directory defines the Directory component: read access to site and user
// identity records, backed by whatever external datastore the deployment runs (spec
// Component B explicitly treats this as pluggable persistence, not in-process state).
package directory

import (
	"context"
	"errors"

	"github.com/openhab/cloud-tunnelgw/siteapi"
)

// ErrNotFound is returned when a lookup finds no matching record.
var ErrNotFound = errors.New("directory: not found")

// Directory resolves site and user identity records.
type Directory interface {
	SiteByUUID(ctx context.Context, uuid string) (*siteapi.Site, error)
	// SiteByOwner resolves the single site belonging to ownerID's account. This
	// deployment's invariant is one site per account (spec §3); ErrNotFound means the
	// account has no registered site.
	SiteByOwner(ctx context.Context, ownerID string) (*siteapi.Site, error)
	UserByUsername(ctx context.Context, username string) (*siteapi.User, error)
	UserByID(ctx context.Context, id string) (*siteapi.User, error)
}
