package tunnel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/openhab/cloud-tunnelgw/connlock"
	"github.com/openhab/cloud-tunnelgw/framing/jsonframe"
	"github.com/openhab/cloud-tunnelgw/internal/muxconn"
	"github.com/openhab/cloud-tunnelgw/mux/yamux"
	"github.com/openhab/cloud-tunnelgw/observability"
	"github.com/openhab/cloud-tunnelgw/realtime/ws"
	"github.com/openhab/cloud-tunnelgw/siteapi"
	"github.com/openhab/cloud-tunnelgw/store/memstore"
	"github.com/openhab/cloud-tunnelgw/streamhello"
	"github.com/openhab/cloud-tunnelgw/wire"
)

type attachResult struct {
	session *Session
	err     error
}

func startTestGateway(t *testing.T, lockMgr *connlock.Manager, site *siteapi.Site) (*httptest.Server, <-chan attachResult) {
	t.Helper()
	results := make(chan attachResult, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := ws.Upgrade(w, r, ws.UpgraderOptions{CheckOrigin: func(*http.Request) bool { return true }})
		if err != nil {
			results <- attachResult{err: err}
			return
		}
		sess, err := Attach(context.Background(), conn, site, "conn-a", 1, lockMgr, nil, Config{
			LockTTL: time.Minute, Heartbeat: 100 * time.Millisecond, ControlStreamWait: 2 * time.Second,
		})
		results <- attachResult{session: sess, err: err}
	}))
	return srv, results
}

func dialSite(t *testing.T, srv *httptest.Server) *ws.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	conn, _, err := ws.Dial(context.Background(), url, ws.DialOptions{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestAttach_ReadyAfterControlStream(t *testing.T) {
	site := &siteapi.Site{ID: "site-1", UUID: "uuid-1", Active: true}
	lockMgr := connlock.New(memstore.New(), connlock.Config{NodeAddress: "node-a", TTL: time.Minute, Heartbeat: 100 * time.Millisecond}, nil)

	srv, results := startTestGateway(t, lockMgr, site)
	defer srv.Close()

	siteConn := dialSite(t, srv)
	defer siteConn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	mc := muxconn.New(ctx, siteConn)
	ymuxClient, err := yamux.NewClient(mc, nil)
	if err != nil {
		t.Fatalf("yamux client: %v", err)
	}
	stream, err := ymuxClient.OpenStream()
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	if err := streamhello.Write(stream, wire.KindControl); err != nil {
		t.Fatalf("write hello: %v", err)
	}

	select {
	case r := <-results:
		if r.err != nil {
			t.Fatalf("attach failed: %v", r.err)
		}
		if r.session.State() != StateReady {
			t.Fatalf("expected StateReady, got %v", r.session.State())
		}
		r.session.Close(observability.CloseReasonShutdown)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for attach")
	}
}

func TestAttach_ReconnectWhileReadyIsRejected(t *testing.T) {
	site := &siteapi.Site{ID: "site-3", UUID: "uuid-3", Active: true}
	lockMgr := connlock.New(memstore.New(), connlock.Config{NodeAddress: "node-a", TTL: time.Minute, Heartbeat: 100 * time.Millisecond}, nil)

	srv, results := startTestGateway(t, lockMgr, site)
	defer srv.Close()

	firstConn := dialSite(t, srv)
	defer firstConn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	mc := muxconn.New(ctx, firstConn)
	ymuxClient, err := yamux.NewClient(mc, nil)
	if err != nil {
		t.Fatalf("yamux client: %v", err)
	}
	stream, err := ymuxClient.OpenStream()
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	if err := streamhello.Write(stream, wire.KindControl); err != nil {
		t.Fatalf("write hello: %v", err)
	}

	var first attachResult
	select {
	case first = <-results:
		if first.err != nil {
			t.Fatalf("first attach failed: %v", first.err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for first attach")
	}
	defer first.session.Close(observability.CloseReasonShutdown)

	secondResults := make(chan attachResult, 1)
	srv2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := ws.Upgrade(w, r, ws.UpgraderOptions{CheckOrigin: func(*http.Request) bool { return true }})
		if err != nil {
			secondResults <- attachResult{err: err}
			return
		}
		sess, err := Attach(context.Background(), conn, site, "conn-c", 1, lockMgr, nil, Config{
			LockTTL: time.Minute, ControlStreamWait: 2 * time.Second,
		})
		secondResults <- attachResult{session: sess, err: err}
	}))
	defer srv2.Close()

	secondConn := dialSite(t, srv2)
	defer secondConn.Close()

	select {
	case r := <-secondResults:
		if r.err == nil {
			t.Fatal("expected second attach to be rejected while the first still holds the lock")
		}
		if r.session != nil {
			t.Fatal("expected no session for a rejected attach")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for second attach to be rejected")
	}

	if first.session.State() != StateReady {
		t.Fatalf("expected first session to remain READY, got %v", first.session.State())
	}
}

func TestSession_PingTimeoutClosesSession(t *testing.T) {
	site := &siteapi.Site{ID: "site-4", UUID: "uuid-4", Active: true}
	lockMgr := connlock.New(memstore.New(), connlock.Config{NodeAddress: "node-a", TTL: time.Minute, Heartbeat: 100 * time.Millisecond}, nil)

	results := make(chan attachResult, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := ws.Upgrade(w, r, ws.UpgraderOptions{CheckOrigin: func(*http.Request) bool { return true }})
		if err != nil {
			results <- attachResult{err: err}
			return
		}
		sess, err := Attach(context.Background(), conn, site, "conn-d", 1, lockMgr, nil, Config{
			LockTTL: time.Minute, ControlStreamWait: 2 * time.Second,
			PingInterval: 30 * time.Millisecond, PingTimeout: 30 * time.Millisecond,
		})
		results <- attachResult{session: sess, err: err}
	}))
	defer srv.Close()

	siteConn := dialSite(t, srv)
	defer siteConn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	mc := muxconn.New(ctx, siteConn)
	ymuxClient, err := yamux.NewClient(mc, nil)
	if err != nil {
		t.Fatalf("yamux client: %v", err)
	}
	stream, err := ymuxClient.OpenStream()
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	if err := streamhello.Write(stream, wire.KindControl); err != nil {
		t.Fatalf("write hello: %v", err)
	}

	var r attachResult
	select {
	case r = <-results:
		if r.err != nil {
			t.Fatalf("attach failed: %v", r.err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for attach")
	}
	defer r.session.Close(observability.CloseReasonShutdown)

	// Nobody ever reads the gateway's pings off stream, so no pong ever arrives; after
	// two misses the session should close on its own.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.session.State() == StateClosed {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("expected session to close after missed pongs, still %v", r.session.State())
}

func TestSession_PongKeepsSessionReady(t *testing.T) {
	site := &siteapi.Site{ID: "site-5", UUID: "uuid-5", Active: true}
	lockMgr := connlock.New(memstore.New(), connlock.Config{NodeAddress: "node-a", TTL: time.Minute, Heartbeat: 100 * time.Millisecond}, nil)

	results := make(chan attachResult, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := ws.Upgrade(w, r, ws.UpgraderOptions{CheckOrigin: func(*http.Request) bool { return true }})
		if err != nil {
			results <- attachResult{err: err}
			return
		}
		sess, err := Attach(context.Background(), conn, site, "conn-e", 1, lockMgr, nil, Config{
			LockTTL: time.Minute, ControlStreamWait: 2 * time.Second,
			PingInterval: 30 * time.Millisecond, PingTimeout: 200 * time.Millisecond,
		})
		results <- attachResult{session: sess, err: err}
	}))
	defer srv.Close()

	siteConn := dialSite(t, srv)
	defer siteConn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	mc := muxconn.New(ctx, siteConn)
	ymuxClient, err := yamux.NewClient(mc, nil)
	if err != nil {
		t.Fatalf("yamux client: %v", err)
	}
	stream, err := ymuxClient.OpenStream()
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	if err := streamhello.Write(stream, wire.KindControl); err != nil {
		t.Fatalf("write hello: %v", err)
	}

	var r attachResult
	select {
	case r = <-results:
		if r.err != nil {
			t.Fatalf("attach failed: %v", r.err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for attach")
	}
	defer r.session.Close(observability.CloseReasonShutdown)

	// The site side replies pong to every ping it reads.
	go func() {
		for {
			raw, err := jsonframe.ReadJSONFrame(stream, wire.DefaultMaxJSONFrameBytes)
			if err != nil {
				return
			}
			var msg wire.ControlMessage
			if err := json.Unmarshal(raw, &msg); err != nil {
				return
			}
			if msg.Kind == wire.ControlKindPing {
				if err := jsonframe.WriteJSONFrame(stream, wire.ControlMessage{Kind: wire.ControlKindPong}); err != nil {
					return
				}
			}
		}
	}()

	// The gateway side plays the part of runControlLoop: read replies off the control
	// stream and feed pongs back to the session.
	go func() {
		control := r.session.ControlStream()
		for {
			raw, err := jsonframe.ReadJSONFrame(control, wire.DefaultMaxJSONFrameBytes)
			if err != nil {
				return
			}
			var msg wire.ControlMessage
			if err := json.Unmarshal(raw, &msg); err != nil {
				continue
			}
			if msg.Kind == wire.ControlKindPong {
				r.session.NotePong()
			}
		}
	}()

	time.Sleep(300 * time.Millisecond)
	if r.session.State() != StateReady {
		t.Fatalf("expected session to remain READY while answering pings, got %v", r.session.State())
	}
}

func TestAttach_NoControlStreamTimesOut(t *testing.T) {
	site := &siteapi.Site{ID: "site-2", UUID: "uuid-2", Active: true}
	lockMgr := connlock.New(memstore.New(), connlock.Config{NodeAddress: "node-a", TTL: time.Minute}, nil)

	results := make(chan attachResult, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := ws.Upgrade(w, r, ws.UpgraderOptions{CheckOrigin: func(*http.Request) bool { return true }})
		if err != nil {
			results <- attachResult{err: err}
			return
		}
		sess, err := Attach(context.Background(), conn, site, "conn-b", 1, lockMgr, nil, Config{
			LockTTL: time.Minute, ControlStreamWait: 50 * time.Millisecond,
		})
		results <- attachResult{session: sess, err: err}
	}))
	defer srv.Close()

	siteConn := dialSite(t, srv)
	defer siteConn.Close()

	select {
	case r := <-results:
		if r.err == nil {
			t.Fatal("expected attach to fail when site never opens a control stream")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for attach failure")
	}
}
