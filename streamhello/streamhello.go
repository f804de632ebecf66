// Package streamhello implements the small framed preface every multiplexed tunnel
// stream begins with: a single length-prefixed JSON message declaring the stream's
// wire.Kind, so a single dispatch point per session can route the stream to its handler.
package streamhello

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/openhab/cloud-tunnelgw/framing/jsonframe"
	"github.com/openhab/cloud-tunnelgw/wire"
)

var ErrEmptyKind = errors.New("streamhello: empty kind")

type hello struct {
	Kind string `json:"kind"`
}

// Write frames and writes the stream-kind preface.
func Write(w io.Writer, kind wire.Kind) error {
	if kind == "" {
		return ErrEmptyKind
	}
	return jsonframe.WriteJSONFrame(w, hello{Kind: string(kind)})
}

// Read reads and parses the stream-kind preface, bounded by maxBytes.
func Read(r io.Reader, maxBytes int) (wire.Kind, error) {
	b, err := jsonframe.ReadJSONFrame(r, maxBytes)
	if err != nil {
		return "", err
	}
	var h hello
	if err := json.Unmarshal(b, &h); err != nil {
		return "", fmt.Errorf("streamhello: decode: %w", err)
	}
	if h.Kind == "" {
		return "", ErrEmptyKind
	}
	return wire.Kind(h.Kind), nil
}
