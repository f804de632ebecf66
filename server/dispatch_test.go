package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openhab/cloud-tunnelgw/fserrors"
)

func TestStatusForErr(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"site offline", fserrors.Wrap(fserrors.ComponentDispatch, fserrors.KindSiteOffline, errors.New("x")), http.StatusServiceUnavailable},
		{"tunnel timeout", fserrors.Wrap(fserrors.ComponentDispatch, fserrors.KindTunnelTimeout, errors.New("x")), http.StatusGatewayTimeout},
		{"payload too large", fserrors.Wrap(fserrors.ComponentDispatch, fserrors.KindPayloadTooLarge, errors.New("x")), http.StatusRequestEntityTooLarge},
		{"malformed frame", fserrors.Wrap(fserrors.ComponentDispatch, fserrors.KindMalformedFrame, errors.New("x")), http.StatusBadGateway},
		{"unclassified", errors.New("plain"), http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := statusForErr(tc.err); got != tc.want {
				t.Fatalf("statusForErr(%v) = %d, want %d", tc.err, got, tc.want)
			}
		})
	}
}

func TestStatusForErr_ClientGoneMapsToZero(t *testing.T) {
	err := fserrors.Wrap(fserrors.ComponentDispatch, fserrors.KindClientDisconnect, errors.New("x"))
	if got := statusForErr(err); got != 0 {
		t.Fatalf("expected 0 for client disconnect, got %d", got)
	}
}

func TestHeaderTrackingWriter_TracksWriteHeader(t *testing.T) {
	rec := httptest.NewRecorder()
	tw := &headerTrackingWriter{ResponseWriter: rec}
	if tw.wroteHeader {
		t.Fatal("expected wroteHeader false before any write")
	}
	tw.WriteHeader(http.StatusOK)
	if !tw.wroteHeader {
		t.Fatal("expected wroteHeader true after WriteHeader")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected underlying writer to receive status, got %d", rec.Code)
	}
}

func TestHeaderTrackingWriter_TracksImplicitWrite(t *testing.T) {
	rec := httptest.NewRecorder()
	tw := &headerTrackingWriter{ResponseWriter: rec}
	if _, err := tw.Write([]byte("body")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !tw.wroteHeader {
		t.Fatal("expected wroteHeader true after a body Write with no prior WriteHeader")
	}
}
