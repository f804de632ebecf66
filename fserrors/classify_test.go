package fserrors

import (
	"context"
	"errors"
	"testing"

	"github.com/gorilla/websocket"
)

func TestClassifyContextKind(t *testing.T) {
	t.Run("timeout", func(t *testing.T) {
		if got := ClassifyContextKind(context.DeadlineExceeded, KindStoreUnavailable); got != KindTunnelTimeout {
			t.Fatalf("expected %q, got %q", KindTunnelTimeout, got)
		}
	})
	t.Run("canceled", func(t *testing.T) {
		if got := ClassifyContextKind(context.Canceled, KindStoreUnavailable); got != KindCanceled {
			t.Fatalf("expected %q, got %q", KindCanceled, got)
		}
	})
	t.Run("fallback", func(t *testing.T) {
		if got := ClassifyContextKind(errors.New("x"), KindStoreUnavailable); got != KindStoreUnavailable {
			t.Fatalf("expected %q, got %q", KindStoreUnavailable, got)
		}
	})
}

func TestClassifyAttachCloseKind(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
		ok   bool
	}{
		{"not_close_error", errors.New("x"), "", false},
		{"auth_failed", &websocket.CloseError{Code: websocket.ClosePolicyViolation, Text: "auth_failed"}, KindAuthFailed, true},
		{"takeover", &websocket.CloseError{Code: websocket.ClosePolicyViolation, Text: "takeover"}, KindTakeover, true},
		{"unknown_reason", &websocket.CloseError{Code: websocket.ClosePolicyViolation, Text: "wat"}, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ClassifyAttachCloseKind(tc.err)
			if ok != tc.ok || got != tc.want {
				t.Fatalf("expected (%q, %v), got (%q, %v)", tc.want, tc.ok, got, ok)
			}
		})
	}
}

func TestError_UnwrapAndKindOf(t *testing.T) {
	base := errors.New("boom")
	err := Wrap(ComponentStore, KindStoreUnavailable, base)
	if !errors.Is(err, base) {
		t.Fatalf("expected errors.Is to find the wrapped cause")
	}
	kind, ok := KindOf(err)
	if !ok || kind != KindStoreUnavailable {
		t.Fatalf("expected (%q, true), got (%q, %v)", KindStoreUnavailable, kind, ok)
	}
}
