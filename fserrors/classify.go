package fserrors

import (
	"context"
	"errors"

	"github.com/gorilla/websocket"
)

// ClassifyContextKind maps a context cancellation/deadline error to a stable Kind,
// falling back to fallback for anything else.
func ClassifyContextKind(err error, fallback Kind) Kind {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTunnelTimeout
	case errors.Is(err, context.Canceled):
		return KindCanceled
	default:
		return fallback
	}
}

// ClassifyAttachCloseKind maps a tunnel websocket close error to a stable Kind.
//
// Attach rejections close the upgrade with a status + short reason token (for example
// "auth_failed", "takeover") before any yamux session is established.
func ClassifyAttachCloseKind(err error) (Kind, bool) {
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		return "", false
	}
	switch ce.Text {
	case "auth_failed", "invalid credentials":
		return KindAuthFailed, true
	case "takeover", "already connected":
		return KindTakeover, true
	case "malformed_frame":
		return KindMalformedFrame, true
	case "timeout":
		return KindTunnelTimeout, true
	case "canceled":
		return KindCanceled, true
	default:
		return "", false
	}
}
