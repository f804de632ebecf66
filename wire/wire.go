// Package wire defines the JSON meta messages exchanged between the gateway and a site's
// tunnel agent on top of a yamux stream, and the stream-kind tags used to route a newly
// opened stream to the right handler.
package wire

// ProtocolVersion is the current wire meta-message version.
const ProtocolVersion = 1

// Kind tags the purpose of a multiplexed stream, read as the first framed message on
// every stream the gateway opens or accepts (see streamhello).
type Kind string

const (
	// KindControl carries long-lived, connectionless messages: notifications, item
	// updates, commands, and keepalive pings/pongs. Opened once per session.
	KindControl Kind = "control"
	// KindHTTP carries a single forwarded client HTTP request/response pair.
	KindHTTP Kind = "http"
	// KindWS carries a single tunneled client WebSocket connection.
	KindWS Kind = "ws"
)

// Header is the lossless header representation used by request/response meta messages.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Error is the structured error carried in response meta messages.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HTTPRequestMeta is the JSON meta message opening a KindHTTP stream (gateway -> site).
type HTTPRequestMeta struct {
	V         int      `json:"v"`
	RequestID string   `json:"request_id"`
	Method    string   `json:"method"`
	Path      string   `json:"path"`
	Headers   []Header `json:"headers"`
	TimeoutMS int64    `json:"timeout_ms,omitempty"`
}

// HTTPResponseMeta is the JSON meta message returned on a KindHTTP stream (site -> gateway).
type HTTPResponseMeta struct {
	V         int      `json:"v"`
	RequestID string   `json:"request_id"`
	OK        bool     `json:"ok"`
	Status    int      `json:"status,omitempty"`
	Headers   []Header `json:"headers,omitempty"`
	Error     *Error   `json:"error,omitempty"`
}

// WSOpenMeta is the JSON meta message opening a KindWS stream (gateway -> site).
type WSOpenMeta struct {
	V       int      `json:"v"`
	ConnID  string   `json:"conn_id"`
	Path    string   `json:"path"`
	Headers []Header `json:"headers"`
}

// WSOpenResp is the JSON meta message acknowledging a KindWS stream (site -> gateway).
type WSOpenResp struct {
	V        int    `json:"v"`
	ConnID   string `json:"conn_id"`
	OK       bool   `json:"ok"`
	Protocol string `json:"protocol,omitempty"`
	Error    *Error `json:"error,omitempty"`
}

// ControlMessage is a small, connectionless message carried on the control stream.
type ControlMessage struct {
	V    int    `json:"v"`
	Kind string `json:"kind"` // "notification" | "itemupdate" | "command" | "ping" | "pong"
	Data any    `json:"data,omitempty"`
}

const (
	ControlKindNotification = "notification"
	ControlKindItemUpdate   = "itemupdate"
	ControlKindCommand      = "command"
	ControlKindPing         = "ping"
	ControlKindPong         = "pong"
)

// Frame size limits enforced on untrusted stream input.
const (
	DefaultMaxJSONFrameBytes = 1 << 20       // 1 MiB
	DefaultMaxChunkBytes     = 256 << 10     // 256 KiB
	DefaultMaxBodyBytes      = 64 << 20      // 64 MiB
	DefaultMaxWSFrameBytes   = 1 << 20       // 1 MiB
)
