package server

import (
	"encoding/json"
	"io"

	"github.com/openhab/cloud-tunnelgw/framing/jsonframe"
	"github.com/openhab/cloud-tunnelgw/wire"
)

// readControlMessage reads one length-prefixed control frame from the session's control
// stream. A nil, nil return means the frame arrived but failed to decode as a
// wire.ControlMessage: the caller drops it and keeps reading rather than closing the
// session over one malformed frame.
func readControlMessage(r io.Reader, maxBytes int) (*wire.ControlMessage, error) {
	raw, err := jsonframe.ReadJSONFrame(r, maxBytes)
	if err != nil {
		return nil, err
	}
	var msg wire.ControlMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, nil
	}
	return &msg, nil
}

// encodeControlData re-marshals a control message's Data field (decoded as a bare
// map[string]any/any by encoding/json) back into raw JSON bytes for notify.Service, which
// expects the notification payload as wire bytes rather than a decoded value.
func encodeControlData(data any) ([]byte, error) {
	return json.Marshal(data)
}
