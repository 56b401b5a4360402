// ABOUTME: Gateway orchestrator serving the websocket protocol and REST reads over HTTP
// ABOUTME: Owns the listener (TCP or tsnet), supervised restarts and graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/stampdesk/internal/auth"
	"github.com/2389/stampdesk/internal/config"
	"github.com/2389/stampdesk/internal/protocol"
	"github.com/2389/stampdesk/internal/workflow"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second

// Gateway serves stampdesk over HTTP.
type Gateway struct {
	config   *config.Config
	protocol *protocol.Server
	service  *workflow.Service
	verifier auth.TokenVerifier
	handler  http.Handler
	logger   *slog.Logger

	tsnetServer *tsnet.Server

	// listen opens the HTTP listener for each serve attempt.
	listen func(ctx context.Context) (net.Listener, error)

	ready    atomic.Bool
	restarts atomic.Int64

	mu   sync.Mutex
	addr string
}

// New builds a gateway. Token auth is enabled when auth.jwt_secret is set.
func New(cfg *config.Config, proto *protocol.Server, svc *workflow.Service, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{
		config:   cfg,
		protocol: proto,
		service:  svc,
		logger:   logger.With("component", "gateway"),
	}

	if cfg.Auth.JWTSecret != "" {
		v, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			return nil, fmt.Errorf("creating JWT verifier: %w", err)
		}
		g.verifier = v
		g.logger.Info("operator token auth enabled")
	} else {
		g.logger.Warn("auth disabled - no jwt_secret configured")
	}

	g.listen = g.setupListener
	g.handler = g.routes()
	return g, nil
}

func (g *Gateway) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /ready", g.handleReady)

	protected := auth.Middleware(g.verifier)
	mux.Handle("GET /ws", protected(http.HandlerFunc(g.handleWebsocket)))
	mux.Handle("GET /api/signatures", protected(http.HandlerFunc(g.handleListSignatures)))
	mux.Handle("GET /api/signatures/{id}", protected(http.HandlerFunc(g.handleGetSignature)))
	mux.Handle("GET /api/signatures/{id}/original", protected(http.HandlerFunc(g.handleDownload)))
	mux.Handle("GET /api/signatures/{id}/signed", protected(http.HandlerFunc(g.handleDownload)))
	mux.Handle("GET /api/stats", protected(http.HandlerFunc(g.handleStats)))
	return mux
}

// Handler returns the HTTP handler with every route.
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

// Addr returns the address currently served, or "" before listening.
func (g *Gateway) Addr() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addr
}

// Restarts returns how many times the HTTP server was restarted after a failure.
func (g *Gateway) Restarts() int64 {
	return g.restarts.Load()
}

// Run serves until ctx is canceled. The protocol server's log forwarding
// runs alongside; a failed HTTP server is restarted after server.restart_delay.
func (g *Gateway) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return g.protocol.Run(ctx) })
	eg.Go(func() error { return g.serveSupervised(ctx) })
	err := eg.Wait()

	if g.tsnetServer != nil {
		if cerr := g.tsnetServer.Close(); cerr != nil {
			g.logger.Warn("tailscale shutdown", "error", cerr)
		}
	}
	return err
}

// serveSupervised serves HTTP, restarting after a delay whenever the server
// fails, until ctx ends.
func (g *Gateway) serveSupervised(ctx context.Context) error {
	for {
		err := g.serveOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		g.ready.Store(false)
		delay := g.config.Server.RestartDelay
		g.logger.Error("HTTP server failed, restarting", "error", err, "delay", delay)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		g.restarts.Add(1)
	}
}

func (g *Gateway) serveOnce(ctx context.Context) error {
	ln, err := g.listen(ctx)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           g.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g.mu.Lock()
	g.addr = ln.Addr().String()
	g.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()
	g.ready.Store(true)

	select {
	case <-ctx.Done():
		g.ready.Store(false)
		g.logger.Info("context canceled, initiating shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			g.logger.Warn("HTTP shutdown", "error", err)
		}
		return nil
	case err := <-errCh:
		_ = srv.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP server: %w", err)
	}
}

// setupListener opens a TCP listener, or a tailnet listener when Tailscale
// is enabled. The tsnet node is started once and reused across restarts.
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if !g.config.Tailscale.Enabled {
		ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
		if err != nil {
			return nil, fmt.Errorf("listening on HTTP address: %w", err)
		}
		return ln, nil
	}

	if g.tsnetServer == nil {
		if err := g.startTailscale(ctx); err != nil {
			return nil, err
		}
	}
	ln, err := g.tsnetServer.Listen("tcp", ":80")
	if err != nil {
		return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	return ln, nil
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "stampdesk", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set tailscale.auth_key or TS_AUTHKEY")
	}
	return authKey, nil
}

func (g *Gateway) startTailscale(ctx context.Context) error {
	tsCfg := g.config.Tailscale
	if g.config.Server.HTTPAddr != "" {
		g.logger.Warn("server.http_addr is ignored when tailscale is enabled", "http_addr", g.config.Server.HTTPAddr)
	}

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return fmt.Errorf("creating tailscale state dir: %w", err)
	}
	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return err
	}

	ts := &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}
	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := ts.Up(ctx)
	if err != nil {
		_ = ts.Close()
		return fmt.Errorf("starting tailscale: %w", err)
	}
	g.tsnetServer = ts
	g.logTailscaleStatus(tsCfg.Hostname, status)
	return nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// handleHealth returns 200 OK if the process is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 once the HTTP server is accepting connections.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if !g.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("starting"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d sessions)", g.protocol.Sessions())
}
