// Package prom wires observability events to Prometheus metrics.
package prom

import (
	"net/http"
	"time"

	"github.com/openhab/cloud-tunnelgw/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry returns a fresh Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// Handler returns a Prometheus HTTP handler bound to the registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// TunnelObserver exports TunnelSession metrics to Prometheus.
type TunnelObserver struct {
	connGauge     prometheus.Gauge
	attachTotal   *prometheus.CounterVec
	closeTotal    *prometheus.CounterVec
	attachLatency prometheus.Histogram
}

func NewTunnelObserver(reg *prometheus.Registry) *TunnelObserver {
	o := &TunnelObserver{
		connGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tunnelgw_site_connections",
			Help: "Current count of attached site tunnel connections.",
		}),
		attachTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tunnelgw_attach_total",
			Help: "Site tunnel attach attempts by result and reason.",
		}, []string{"result", "reason"}),
		closeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tunnelgw_session_close_total",
			Help: "TunnelSession close reasons.",
		}, []string{"reason"}),
		attachLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tunnelgw_attach_latency_seconds",
			Help:    "Latency from inbound tunnel websocket upgrade to READY state.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(o.connGauge, o.attachTotal, o.closeTotal, o.attachLatency)
	return o
}

func (o *TunnelObserver) ConnCount(n int64) { o.connGauge.Set(float64(n)) }

func (o *TunnelObserver) Attach(result observability.AttachResult, reason observability.AttachReason) {
	o.attachTotal.WithLabelValues(string(result), string(reason)).Inc()
}

func (o *TunnelObserver) Close(reason observability.CloseReason) {
	o.closeTotal.WithLabelValues(string(reason)).Inc()
}

func (o *TunnelObserver) AttachLatency(d time.Duration) {
	o.attachLatency.Observe(d.Seconds())
}

// LockObserver exports ConnectionManager metrics to Prometheus.
type LockObserver struct {
	lockTotal        *prometheus.CounterVec
	heartbeatLatency prometheus.Histogram
}

func NewLockObserver(reg *prometheus.Registry) *LockObserver {
	o := &LockObserver{
		lockTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tunnelgw_lock_total",
			Help: "ConnectionLock operations by result.",
		}, []string{"result"}),
		heartbeatLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tunnelgw_lock_heartbeat_latency_seconds",
			Help:    "Latency of the store round trip for a lock renewal.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(o.lockTotal, o.heartbeatLatency)
	return o
}

func (o *LockObserver) Lock(result observability.LockResult) {
	o.lockTotal.WithLabelValues(string(result)).Inc()
}

func (o *LockObserver) HeartbeatLatency(d time.Duration) {
	o.heartbeatLatency.Observe(d.Seconds())
}

// RequestObserver exports HTTPDispatcher/WSDispatcher metrics to Prometheus.
type RequestObserver struct {
	requestTotal   *prometheus.CounterVec
	requestLatency prometheus.Histogram
	inFlightGauge  prometheus.Gauge
	wsGauge        prometheus.Gauge
}

func NewRequestObserver(reg *prometheus.Registry) *RequestObserver {
	o := &RequestObserver{
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tunnelgw_requests_total",
			Help: "Forwarded client requests by result.",
		}, []string{"result"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tunnelgw_request_latency_seconds",
			Help:    "End-to-end latency of forwarded client requests.",
			Buckets: prometheus.DefBuckets,
		}),
		inFlightGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tunnelgw_requests_in_flight",
			Help: "Current count of in-flight forwarded requests.",
		}),
		wsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tunnelgw_websockets_open",
			Help: "Current count of tunneled WebSocket connections.",
		}),
	}
	reg.MustRegister(o.requestTotal, o.requestLatency, o.inFlightGauge, o.wsGauge)
	return o
}

func (o *RequestObserver) Request(result observability.RequestResult, d time.Duration) {
	o.requestTotal.WithLabelValues(string(result)).Inc()
	o.requestLatency.Observe(d.Seconds())
}

func (o *RequestObserver) InFlight(n int64)       { o.inFlightGauge.Set(float64(n)) }
func (o *RequestObserver) WebSocketCount(n int64) { o.wsGauge.Set(float64(n)) }

// NotificationObserver exports NotificationService metrics to Prometheus.
type NotificationObserver struct {
	dispatchTotal *prometheus.CounterVec
	batchSize     prometheus.Histogram
}

func NewNotificationObserver(reg *prometheus.Registry) *NotificationObserver {
	o := &NotificationObserver{
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tunnelgw_notifications_total",
			Help: "Push notification dispatch attempts by result.",
		}, []string{"result"}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tunnelgw_notification_batch_size",
			Help:    "Number of device tokens in a notification batch.",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
		}),
	}
	reg.MustRegister(o.dispatchTotal, o.batchSize)
	return o
}

func (o *NotificationObserver) Dispatch(result observability.NotificationResult, n int) {
	o.dispatchTotal.WithLabelValues(string(result)).Inc()
	o.batchSize.Observe(float64(n))
}
