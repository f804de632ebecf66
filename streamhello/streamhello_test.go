package streamhello

import (
	"bytes"
	"errors"
	"testing"

	"github.com/openhab/cloud-tunnelgw/framing/jsonframe"
	"github.com/openhab/cloud-tunnelgw/wire"
)

func TestWriteRead_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, wire.KindHTTP); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := Read(&buf, 1<<10)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != wire.KindHTTP {
		t.Fatalf("expected %q, got %q", wire.KindHTTP, got)
	}
}

func TestWrite_EmptyKind(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, ""); !errors.Is(err, ErrEmptyKind) {
		t.Fatalf("expected ErrEmptyKind, got %v", err)
	}
}

func TestRead_EmptyKind(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, wire.Kind("x")); err != nil {
		t.Fatalf("write: %v", err)
	}
	// A whitespace-only kind is not empty and comes back unchanged.
	buf.Reset()
	_ = Write(&buf, wire.Kind(" "))
	got, _ := Read(&buf, 1<<10)
	if got != wire.Kind(" ") {
		t.Fatalf("unexpected: %q", got)
	}

	// A frame whose kind really is empty is rejected by Read.
	buf.Reset()
	if err := jsonframe.WriteJSONFrame(&buf, map[string]string{"kind": ""}); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	if _, err := Read(&buf, 1<<10); !errors.Is(err, ErrEmptyKind) {
		t.Fatalf("expected ErrEmptyKind, got %v", err)
	}
}
