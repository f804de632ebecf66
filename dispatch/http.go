// Package dispatch implements the HTTPDispatcher and WSDispatcher components: stateless
// callers that borrow a *tunnel.Session, open one yamux stream per forwarded request, and
// speak the length-prefixed meta+body framing defined in package wire.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/openhab/cloud-tunnelgw/fserrors"
	"github.com/openhab/cloud-tunnelgw/framing/chunk"
	"github.com/openhab/cloud-tunnelgw/framing/jsonframe"
	"github.com/openhab/cloud-tunnelgw/observability"
	"github.com/openhab/cloud-tunnelgw/siteapi"
	"github.com/openhab/cloud-tunnelgw/tracker"
	"github.com/openhab/cloud-tunnelgw/tunnel"
	"github.com/openhab/cloud-tunnelgw/wire"
)

// ErrPayloadTooLarge is classified as KindPayloadTooLarge alongside chunk.ErrBodyTooLarge.
// Forward itself reports an over-limit body through chunk.ErrBodyTooLarge.
var ErrPayloadTooLarge = errors.New("dispatch: payload too large")

// HTTPConfig bounds a single forwarded HTTP request.
type HTTPConfig struct {
	Timeout       time.Duration
	MaxChunkBytes int
	MaxBodyBytes  int64
}

func (c *HTTPConfig) setDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxChunkBytes <= 0 {
		c.MaxChunkBytes = wire.DefaultMaxChunkBytes
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = wire.DefaultMaxBodyBytes
	}
}

// HTTPDispatcher forwards client HTTP requests through a site's tunnel session.
type HTTPDispatcher struct {
	cfg     HTTPConfig
	reqs    *tracker.RequestTracker
	obs     observability.RequestObserver
}

// NewHTTPDispatcher returns an HTTPDispatcher. reqs/obs may be nil.
func NewHTTPDispatcher(reqs *tracker.RequestTracker, obs observability.RequestObserver, cfg HTTPConfig) *HTTPDispatcher {
	cfg.setDefaults()
	if obs == nil {
		obs = observability.NoopRequestObserver
	}
	return &HTTPDispatcher{cfg: cfg, reqs: reqs, obs: obs}
}

// Forward sends method/path/headers/body to the site over sess and streams its response
// into w. The request id is generated here and returned for logging/correlation.
func (d *HTTPDispatcher) Forward(ctx context.Context, sess *tunnel.Session, method, path string, headers []wire.Header, body io.Reader, w http.ResponseWriter) (requestID string, err error) {
	start := time.Now()
	requestID = uuid.NewString()

	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	if d.reqs != nil {
		siteID := ""
		if lock := sess.Lock(); lock != nil {
			siteID = lock.SiteID
		}
		d.reqs.Start(siteapi.InFlightRequest{
			RequestID: requestID, SiteID: siteID, Method: method, Path: path,
			StartedAt: start, Deadline: start.Add(d.cfg.Timeout),
		})
		defer d.reqs.Finish(requestID)
	}

	stream, err := sess.OpenStream(wire.KindHTTP)
	if err != nil {
		d.obs.Request(observability.RequestResultOffline, time.Since(start))
		return requestID, fserrors.Wrap(fserrors.ComponentDispatch, fserrors.KindSiteOffline, err)
	}
	defer stream.Close()
	go func() {
		<-ctx.Done()
		stream.Close()
	}()

	meta := wire.HTTPRequestMeta{
		V: wire.ProtocolVersion, RequestID: requestID, Method: method, Path: path,
		Headers: headers, TimeoutMS: d.cfg.Timeout.Milliseconds(),
	}
	if err := jsonframe.WriteJSONFrame(stream, meta); err != nil {
		d.obs.Request(observability.RequestResultSiteError, time.Since(start))
		return requestID, fserrors.Wrap(fserrors.ComponentDispatch, fserrors.KindClientDisconnect, err)
	}
	if err := streamBody(stream, body, d.cfg.MaxChunkBytes, d.cfg.MaxBodyBytes); err != nil {
		result := observability.RequestResultSiteError
		if errors.Is(err, ErrPayloadTooLarge) {
			result = observability.RequestResultTooLarge
		}
		d.obs.Request(result, time.Since(start))
		return requestID, fserrors.Wrap(fserrors.ComponentDispatch, kindFor(err), err)
	}

	respRaw, err := jsonframe.ReadJSONFrame(stream, wire.DefaultMaxJSONFrameBytes)
	if err != nil {
		result := observability.RequestResultSiteError
		if errors.Is(err, context.DeadlineExceeded) {
			result = observability.RequestResultTimeout
		}
		d.obs.Request(result, time.Since(start))
		return requestID, fserrors.Wrap(fserrors.ComponentDispatch, fserrors.ClassifyContextKind(err, fserrors.KindSiteOffline), err)
	}
	var resp wire.HTTPResponseMeta
	if err := json.Unmarshal(respRaw, &resp); err != nil {
		d.obs.Request(observability.RequestResultSiteError, time.Since(start))
		return requestID, fserrors.Wrap(fserrors.ComponentDispatch, fserrors.KindMalformedFrame, err)
	}
	if !resp.OK {
		d.obs.Request(observability.RequestResultSiteError, time.Since(start))
		msg := "site error"
		if resp.Error != nil {
			msg = resp.Error.Message
		}
		return requestID, fserrors.Wrap(fserrors.ComponentDispatch, fserrors.KindSiteOffline, errors.New(msg))
	}

	for _, h := range resp.Headers {
		w.Header().Add(h.Name, h.Value)
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if err := chunk.CopyToWriter(stream, w, d.cfg.MaxChunkBytes, d.cfg.MaxBodyBytes); err != nil {
		d.obs.Request(observability.RequestResultSiteError, time.Since(start))
		return requestID, fserrors.Wrap(fserrors.ComponentDispatch, kindFor(err), err)
	}

	d.obs.Request(observability.RequestResultOK, time.Since(start))
	return requestID, nil
}

func streamBody(w io.Writer, body io.Reader, maxChunkBytes int, maxBodyBytes int64) error {
	if body == nil {
		return chunk.WriteTerminator(w)
	}
	var total int64
	buf := make([]byte, maxChunkBytes)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if werr := chunk.Write(w, buf[:n], maxChunkBytes, maxBodyBytes, &total); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			return chunk.WriteTerminator(w)
		}
		if err != nil {
			return err
		}
	}
}

func kindFor(err error) fserrors.Kind {
	switch {
	case errors.Is(err, chunk.ErrBodyTooLarge), errors.Is(err, ErrPayloadTooLarge):
		return fserrors.KindPayloadTooLarge
	case errors.Is(err, chunk.ErrChunkTooLarge):
		return fserrors.KindMalformedFrame
	default:
		return fserrors.KindSiteOffline
	}
}

