package dispatch

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/openhab/cloud-tunnelgw/fserrors"
	"github.com/openhab/cloud-tunnelgw/framing/chunk"
	"github.com/openhab/cloud-tunnelgw/framing/jsonframe"
	"github.com/openhab/cloud-tunnelgw/internal/contextutil"
	"github.com/openhab/cloud-tunnelgw/observability"
	"github.com/openhab/cloud-tunnelgw/realtime/ws"
	"github.com/openhab/cloud-tunnelgw/siteapi"
	"github.com/openhab/cloud-tunnelgw/tracker"
	"github.com/openhab/cloud-tunnelgw/tunnel"
	"github.com/openhab/cloud-tunnelgw/wire"
)

// WSConfig bounds a single bridged client WebSocket connection.
type WSConfig struct {
	OpenTimeout   time.Duration
	MaxChunkBytes int
}

func (c *WSConfig) setDefaults() {
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 10 * time.Second
	}
	if c.MaxChunkBytes <= 0 {
		c.MaxChunkBytes = wire.DefaultMaxChunkBytes
	}
}

// WSDispatcher bridges client WebSocket connections through a site's tunnel session,
// carrying each frame as a single chunk (op byte implicit in the chunk boundary: each
// chunk.Write/Read call corresponds to exactly one client WebSocket message).
type WSDispatcher struct {
	cfg  WSConfig
	wsts *tracker.WebSocketTracker
	obs  observability.RequestObserver
}

// NewWSDispatcher returns a WSDispatcher. wsts/obs may be nil.
func NewWSDispatcher(wsts *tracker.WebSocketTracker, obs observability.RequestObserver, cfg WSConfig) *WSDispatcher {
	cfg.setDefaults()
	if obs == nil {
		obs = observability.NoopRequestObserver
	}
	return &WSDispatcher{cfg: cfg, wsts: wsts, obs: obs}
}

// Bridge opens a KindWS stream to the site for path/headers, then pumps frames between
// client (a just-upgraded client connection) and the stream until either side closes.
func (d *WSDispatcher) Bridge(ctx context.Context, sess *tunnel.Session, path string, headers []wire.Header, client *ws.Conn) error {
	connID := uuid.NewString()
	start := time.Now()

	siteID := ""
	if lock := sess.Lock(); lock != nil {
		siteID = lock.SiteID
	}
	if d.wsts != nil {
		d.wsts.Start(siteapi.TunneledWebSocket{ConnID: connID, SiteID: siteID, StartedAt: start})
		defer d.wsts.Finish(connID)
	}

	stream, err := sess.OpenStream(wire.KindWS)
	if err != nil {
		d.obs.Request(observability.RequestResultOffline, time.Since(start))
		return fserrors.Wrap(fserrors.ComponentDispatch, fserrors.KindSiteOffline, err)
	}
	defer stream.Close()

	openMeta := wire.WSOpenMeta{V: wire.ProtocolVersion, ConnID: connID, Path: path, Headers: headers}
	if err := jsonframe.WriteJSONFrame(stream, openMeta); err != nil {
		return fserrors.Wrap(fserrors.ComponentDispatch, fserrors.KindClientDisconnect, err)
	}

	openCtx, openCancel := contextutil.WithTimeout(ctx, d.cfg.OpenTimeout)
	defer openCancel()
	respRaw, err := readJSONFrameWithTimeout(openCtx, stream, wire.DefaultMaxJSONFrameBytes)
	if err != nil {
		d.obs.Request(observability.RequestResultTimeout, time.Since(start))
		return fserrors.Wrap(fserrors.ComponentDispatch, fserrors.ClassifyContextKind(err, fserrors.KindSiteOffline), err)
	}
	var resp wire.WSOpenResp
	if err := json.Unmarshal(respRaw, &resp); err != nil {
		return fserrors.Wrap(fserrors.ComponentDispatch, fserrors.KindMalformedFrame, err)
	}
	if !resp.OK {
		d.obs.Request(observability.RequestResultSiteError, time.Since(start))
		return fserrors.Wrap(fserrors.ComponentDispatch, fserrors.KindSiteOffline, errBridgeRejected(resp))
	}

	bridgeCtx, bridgeCancel := context.WithCancel(ctx)
	defer bridgeCancel()

	var wg sync.WaitGroup
	var once sync.Once
	var firstErr error
	fail := func(err error) {
		once.Do(func() { firstErr = err; bridgeCancel() })
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		fail(pumpClientToStream(bridgeCtx, client, stream, d.cfg.MaxChunkBytes))
	}()
	go func() {
		defer wg.Done()
		fail(pumpStreamToClient(bridgeCtx, stream, client, d.cfg.MaxChunkBytes))
	}()
	wg.Wait()

	if firstErr != nil && firstErr != io.EOF {
		d.obs.Request(observability.RequestResultSiteError, time.Since(start))
		return fserrors.Wrap(fserrors.ComponentDispatch, fserrors.KindClientDisconnect, firstErr)
	}
	d.obs.Request(observability.RequestResultOK, time.Since(start))
	return nil
}

func pumpClientToStream(ctx context.Context, client *ws.Conn, stream io.Writer, maxChunkBytes int) error {
	var total int64
	for {
		_, data, err := client.ReadMessage(ctx)
		if err != nil {
			chunk.WriteTerminator(stream)
			return err
		}
		if err := chunk.Write(stream, data, maxChunkBytes, 0, &total); err != nil {
			return err
		}
	}
}

func pumpStreamToClient(ctx context.Context, stream io.Reader, client *ws.Conn, maxChunkBytes int) error {
	var total int64
	for {
		data, done, err := chunk.Read(stream, maxChunkBytes, 0, &total)
		if err != nil {
			return err
		}
		if done {
			return io.EOF
		}
		if err := client.WriteMessage(ctx, websocket.BinaryMessage, data); err != nil {
			return err
		}
	}
}

type bridgeRejectedError struct{ resp wire.WSOpenResp }

func (e bridgeRejectedError) Error() string {
	if e.resp.Error != nil {
		return e.resp.Error.Message
	}
	return "dispatch: site rejected websocket bridge"
}

func errBridgeRejected(resp wire.WSOpenResp) error { return bridgeRejectedError{resp: resp} }

// readJSONFrameWithTimeout reads one JSON frame, failing with ctx's error if it is done
// before a frame arrives. jsonframe.ReadJSONFrame has no context parameter, so the read
// runs on its own goroutine and is abandoned (not canceled) on timeout; the underlying
// stream is closed by the caller regardless, which unblocks it.
func readJSONFrameWithTimeout(ctx context.Context, r io.Reader, maxLen int) ([]byte, error) {
	type result struct {
		b   []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		b, err := jsonframe.ReadJSONFrame(r, maxLen)
		done <- result{b: b, err: err}
	}()
	select {
	case res := <-done:
		return res.b, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
