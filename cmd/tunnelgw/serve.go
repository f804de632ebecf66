package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/cors"
	"github.com/spf13/cobra"

	"github.com/openhab/cloud-tunnelgw/auth"
	"github.com/openhab/cloud-tunnelgw/connlock"
	"github.com/openhab/cloud-tunnelgw/directory"
	"github.com/openhab/cloud-tunnelgw/directory/memdirectory"
	"github.com/openhab/cloud-tunnelgw/directory/pgdirectory"
	"github.com/openhab/cloud-tunnelgw/dispatch"
	"github.com/openhab/cloud-tunnelgw/notify"
	"github.com/openhab/cloud-tunnelgw/notify/fcm"
	"github.com/openhab/cloud-tunnelgw/observability/prom"
	"github.com/openhab/cloud-tunnelgw/server"
	"github.com/openhab/cloud-tunnelgw/store"
	"github.com/openhab/cloud-tunnelgw/store/memstore"
	"github.com/openhab/cloud-tunnelgw/store/redisstore"
	"github.com/openhab/cloud-tunnelgw/tunnel"
)

var serveCommand = &cobra.Command{
	Use:   "serve",
	Short: "Run a gateway node: accept site tunnels and dispatch client traffic",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(ctx context.Context) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger := log.New(os.Stderr, "", log.LstdFlags)

	kv, closeStore, err := buildStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	dir, closeDir, err := buildDirectory(cfg)
	if err != nil {
		return err
	}
	defer closeDir()

	reg := prom.NewRegistry()
	tunnelObs := prom.NewTunnelObserver(reg)
	lockObs := prom.NewLockObserver(reg)
	reqObs := prom.NewRequestObserver(reg)
	notifyObs := prom.NewNotificationObserver(reg)

	lockMgr := connlock.New(kv, connlock.Config{
		NodeAddress: cfg.NodeAddress,
		TTL:         cfg.connectionLockTTL(),
		Heartbeat:   cfg.pingInterval(),
	}, lockObs)

	authg := auth.New(dir, nil, nil)

	notifier := buildNotifier(cfg, dir, notifyObs, logger)

	gw := server.New(server.Config{
		NodeAddress:    cfg.NodeAddress,
		AttachPath:     cfg.AttachPath,
		AllowedOrigins: cfg.AllowedOrigins,
		AllowNoOrigin:  cfg.AllowNoOrigin,
		BlockTTL:       cfg.blockTTL(),
		MaxAttachBytes: int64(cfg.MaxAttachBytes),
		RequestMaxAge:  cfg.requestMaxAge(),
		SweepInterval:  cfg.sweepInterval(),
		Tunnel: tunnel.Config{
			LockTTL:      cfg.connectionLockTTL(),
			Heartbeat:    cfg.connectionLockTTL() / 3,
			PingInterval: cfg.pingInterval(),
			PingTimeout:  cfg.pingTimeout(),
		},
		HTTP: dispatch.HTTPConfig{Timeout: cfg.requestMaxAge()},
		WS:   dispatch.WSConfig{},
	}, authg, dir, lockMgr, notifier, tunnelObs, reqObs, logger)

	publicSrv := &http.Server{Addr: cfg.ListenAddress, Handler: buildPublicRouter(gw, cfg)}
	adminSrv := &http.Server{Addr: cfg.AdminAddress, Handler: buildAdminRouter(gw, reg, cfg)}

	runCtx, stop := signal.NotifyContext(ctx, shutdownSignals()...)
	defer stop()

	gwCtx, gwCancel := context.WithCancel(runCtx)
	defer gwCancel()
	go gw.Run(gwCtx)

	errs := make(chan error, 2)
	go func() { errs <- serveOrNil(publicSrv) }()
	go func() { errs <- serveOrNil(adminSrv) }()

	logger.Printf("tunnelgw: listening on %s (public) and %s (admin)", cfg.ListenAddress, cfg.AdminAddress)

	select {
	case <-runCtx.Done():
		logger.Printf("tunnelgw: shutdown signal received, draining (grace=%s)", cfg.shutdownGrace())
	case err := <-errs:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.shutdownGrace())
	defer cancel()
	_ = publicSrv.Shutdown(shutdownCtx)
	_ = adminSrv.Shutdown(shutdownCtx)
	gwCancel()
	gw.Close()
	return nil
}

func serveOrNil(s *http.Server) error {
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func buildStore(cfg appConfig) (store.KV, func(), error) {
	switch cfg.Store.Driver {
	case "redis":
		rs := redisstore.New(redisstore.Config{
			Addr:     cfg.Store.Addr,
			Username: cfg.Store.Username,
			Password: cfg.Store.Password,
			DB:       cfg.Store.DB,
		})
		return rs, func() { _ = rs.Close() }, nil
	default:
		return memstore.New(), func() {}, nil
	}
}

func buildDirectory(cfg appConfig) (directory.Directory, func(), error) {
	switch cfg.Directory.Driver {
	case "postgres":
		pg, err := pgdirectory.Open(cfg.Directory.DSN)
		if err != nil {
			return nil, func() {}, err
		}
		return pg, func() { _ = pg.Close() }, nil
	default:
		return memdirectory.New(), func() {}, nil
	}
}

// notifyBacking is satisfied by directory backends that also implement notify.Store and
// notify.DeviceStore (pgdirectory.Directory, memdirectory.Directory); a hypothetical
// directory driver that implements neither simply runs with notifications disabled.
type notifyBacking interface {
	notify.Store
	notify.DeviceStore
}

func buildNotifier(cfg appConfig, dir directory.Directory, obs *prom.NotificationObserver, logger *log.Logger) *notify.Service {
	backing, ok := dir.(notifyBacking)
	if !ok {
		logger.Printf("tunnelgw: directory driver %q exposes no notification persistence, notifications disabled", cfg.Directory.Driver)
		return nil
	}
	var push notify.PushProvider
	if cfg.FCM.Enabled {
		push = fcm.New(cfg.FCM.ProjectID, unconfiguredTokenSource)
	}
	return notify.New(backing, backing, push, notify.Config{MaxPayloadBytes: cfg.MaxNotificationPayloadBytes}, obs)
}

// unconfiguredTokenSource is a placeholder fcm.TokenSource: FCM HTTP v1 requires a
// service-account OAuth2 token, whose acquisition is an external collaborator per spec §1
// ("account/OAuth2 persistence... excluded"). A real deployment supplies its own
// TokenSource backed by golang.org/x/oauth2/google credentials.
func unconfiguredTokenSource(ctx context.Context) (string, error) {
	return "", errors.New("tunnelgw: no FCM token source configured")
}

// buildPublicRouter wires the client-facing and site-facing HTTP surface (spec §6):
// the tunnel attach endpoint, the notification hide endpoint, and a catch-all for every
// other path/method, which is client traffic bound for a site (HTTP or WebSocket
// upgrade). rs/cors wraps the whole thing since this listener is browser-callable.
func buildPublicRouter(gw *server.Gateway, cfg appConfig) http.Handler {
	router := httprouter.New()
	router.HandleMethodNotAllowed = false

	router.GET(cfg.AttachPath, func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		gw.HandleTunnelAttach(w, r)
	})
	router.DELETE("/notifications/:id", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		gw.HandleNotificationHide(w, r)
	})

	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isUpgradeRequest(r) {
			gw.ServeWebSocketUpgrade(w, r)
			return
		}
		gw.ServeHTTP(w, r)
	})

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
	})
	return c.Handler(router)
}

// isUpgradeRequest reports whether r is an HTTP->WebSocket upgrade (spec §6: "Connection:
// Upgrade, Upgrade: websocket triggers WSDispatcher").
func isUpgradeRequest(r *http.Request) bool {
	return headerTokenPresent(r.Header.Get("Connection"), "upgrade") &&
		strings.EqualFold(strings.TrimSpace(r.Header.Get("Upgrade")), "websocket")
}

func headerTokenPresent(header, token string) bool {
	for _, part := range strings.Split(header, ",") {
		if strings.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}
	return false
}

// buildAdminRouter wires the operational surface: health/readiness probes, the Prometheus
// exposition endpoint, and the session snapshot tunnelgwctl polls. It is never wrapped
// with CORS and is meant to bind a private address (cfg.AdminAddress).
func buildAdminRouter(gw *server.Gateway, reg *prometheus.Registry, cfg appConfig) http.Handler {
	router := httprouter.New()
	router.GET("/healthz", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) { gw.HandleHealthz(w, r) })
	router.GET("/readyz", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) { gw.HandleReadyz(w, r) })
	router.GET("/admin/sessions", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) { gw.AdminSessionsHandler(w, r) })
	if cfg.MetricsEnabled {
		router.Handler(http.MethodGet, "/metrics", prom.Handler(reg))
	}
	return router
}
