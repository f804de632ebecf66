// Package siteapi holds the data model shared across gateway components: the directory
// records a site's identity and owner resolve to, and the runtime records that describe a
// connection's ownership and in-flight work.
package siteapi

import "time"

// Site is a directory record identifying a tunnel-capable openHAB Cloud account.
type Site struct {
	ID        string
	UUID      string
	Secret    string // bcrypt hash, never the raw secret
	Owner     string // User.ID
	Active    bool
	CreatedAt time.Time
}

// User is a directory record for an account that can authenticate to the gateway.
type User struct {
	ID           string
	Username     string // always compared lowercased, see the auth section of DESIGN.md
	PasswordHash string // bcrypt
	Active       bool
}

// ConnectionLock records which cluster node currently owns a site's single active tunnel
// connection.
type ConnectionLock struct {
	SiteID       string
	NodeAddress  string
	ConnectionID string
	GrantedAt    time.Time
	SiteVersion  int64
}

// BlockEntry marks a site as administratively blocked from attaching, with an optional
// expiry.
type BlockEntry struct {
	SiteID    string
	Reason    string
	BlockedAt time.Time
	ExpiresAt time.Time // zero when the block was set without a ttl (the store entry still lapses after one year)
}

// InFlightRequest tracks one forwarded client HTTP request awaiting (or streaming) its
// response from a site.
type InFlightRequest struct {
	RequestID string
	SiteID    string
	Method    string
	Path      string
	StartedAt time.Time
	Deadline  time.Time
}

// TunneledWebSocket tracks one client WebSocket connection bridged through a site's
// tunnel stream.
type TunneledWebSocket struct {
	ConnID    string
	SiteID    string
	StartedAt time.Time
}

// NotificationRecord is a persisted push notification, independent of delivery outcome.
//
// Payload is the site's JSON object, re-encoded after tag normalization; Tag is
// normalized at acceptance time from the legacy "severity" alias when the site omits it,
// and the normalized tag is also written into Payload. See
// notify.Service.Send and DESIGN.md.
type NotificationRecord struct {
	ID        string
	UserID    string
	Message   string
	Icon      string
	Tag       string
	Payload   []byte
	CreatedAt time.Time
	Hidden    bool
}
