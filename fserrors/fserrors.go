// Package fserrors is the gateway's structured error taxonomy.
//
// Every user-visible failure is classified into a stable Kind, attributed to the
// Component that raised it, and optionally wraps the underlying cause.
package fserrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Component identifies which part of the gateway raised an error.
type Component string

const (
	ComponentConnLock    Component = "connlock"
	ComponentTunnel      Component = "tunnel"
	ComponentDispatch    Component = "dispatch"
	ComponentTracker     Component = "tracker"
	ComponentAuth        Component = "auth"
	ComponentDirectory   Component = "directory"
	ComponentStore       Component = "store"
	ComponentNotify      Component = "notify"
)

// Kind is a stable, programmatic error identifier for user-facing operations.
//
// These mirror the Kind column of the gateway's error handling design: each maps to
// exactly one HTTP status / control-plane behavior at the boundary that reports it.
type Kind string

const (
	KindAuthFailed            Kind = "auth_failed"
	KindSiteOffline           Kind = "site_offline"
	KindTakeover              Kind = "takeover"
	KindTunnelTimeout         Kind = "tunnel_timeout"
	KindPayloadTooLarge       Kind = "payload_too_large"
	KindStoreUnavailable      Kind = "store_unavailable"
	KindDirectoryUnavailable  Kind = "directory_unavailable"
	KindMalformedFrame        Kind = "malformed_frame"
	KindClientDisconnect      Kind = "client_disconnect"
	KindNotFound              Kind = "not_found"
	KindInvalidInput          Kind = "invalid_input"
	KindCanceled              Kind = "canceled"
)

// Error is a structured, programmatically identifiable error.
type Error struct {
	Component Component
	Kind      Kind
	Err       error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Component, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Component, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap attributes err to component/kind, producing a stable, classifiable *Error.
func Wrap(component Component, kind Kind, err error) error {
	return &Error{Component: component, Kind: kind, Err: err}
}

// KindOf extracts the Kind from err if it (or something it wraps) is a *Error.
func KindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return "", false
}

// HTTPStatus is the HTTP status a client-facing boundary should report for k. It is the
// one place that Kind-to-status mapping promised by the Kind doc comment actually lives.
// A zero result means the client side of the exchange is already gone (disconnected or
// canceled) and there is nothing to report.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindAuthFailed:
		return http.StatusUnauthorized
	case KindTakeover:
		return http.StatusConflict
	case KindSiteOffline:
		return http.StatusServiceUnavailable
	case KindTunnelTimeout:
		return http.StatusGatewayTimeout
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindMalformedFrame:
		return http.StatusBadGateway
	case KindStoreUnavailable, KindDirectoryUnavailable:
		return http.StatusServiceUnavailable
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindClientDisconnect, KindCanceled:
		return 0
	default:
		return http.StatusBadGateway
	}
}
