package wsutil

import "math"

const (
	defaultMaxAttachPayload = 8 * 1024
	defaultMaxChunkBytes    = 1 << 20

	// frameOverheadBytes covers the fixed-size fields surrounding a tunnel attach query
	// string or a streamhello preface, so the read limit has headroom beyond the raw
	// payload bound.
	frameOverheadBytes = 4 + 1 + 1 + 4
)

// ReadLimit returns a conservative per-message websocket read limit (in bytes) for the
// raw transport connection carrying a yamux session: it must accommodate the attach
// endpoint's largest accepted query payload and the largest body chunk the wire framing
// permits, whichever is bigger.
//
// A zero/negative argument falls back to its own default.
func ReadLimit(maxAttachPayload int, maxChunkBytes int) int64 {
	ap := int64(maxAttachPayload)
	if ap <= 0 {
		ap = defaultMaxAttachPayload
	}
	cb := int64(maxChunkBytes)
	if cb <= 0 {
		cb = defaultMaxChunkBytes
	}

	attachMax := int64(frameOverheadBytes)
	if ap > math.MaxInt64-attachMax {
		attachMax = math.MaxInt64
	} else {
		attachMax += ap
	}

	if cb > attachMax {
		return cb
	}
	return attachMax
}
