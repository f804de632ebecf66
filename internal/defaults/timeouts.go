package defaults

import "time"

const (
	// ConnectTimeout is the default timeout for completing a site's tunnel attach handshake.
	ConnectTimeout = 10 * time.Second

	// LockTTL is the default ConnectionLock TTL, several multiples of HeartbeatInterval.
	LockTTL = 45 * time.Second

	// HeartbeatInterval is the default lock-renewal heartbeat interval.
	HeartbeatInterval = 15 * time.Second

	// RequestTimeout is the default upper bound for a forwarded client HTTP request.
	RequestTimeout = 30 * time.Second

	// MaxRequestTimeout caps a per-request timeout supplied by a client.
	MaxRequestTimeout = 5 * time.Minute
)
