// ABOUTME: Gateway orchestrator that wires the intake pipeline to chat transports and HTTP
// ABOUTME: Manages listeners, transport goroutines, health endpoints and shutdown order

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

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/mapfeed/internal/chat"
	"github.com/2389/mapfeed/internal/config"
	"github.com/2389/mapfeed/internal/dedupe"
	"github.com/2389/mapfeed/internal/extract"
	"github.com/2389/mapfeed/internal/feed"
	"github.com/2389/mapfeed/internal/geocode"
	"github.com/2389/mapfeed/internal/intake"
	"github.com/2389/mapfeed/internal/journal"
	"github.com/2389/mapfeed/internal/markers"
	"github.com/2389/mapfeed/internal/matrix"
	"github.com/2389/mapfeed/internal/session"
	"github.com/2389/mapfeed/internal/telegram"
)

const defaultKeepalive = 30 * time.Second

// Gateway orchestrates the mapfeed server components.
type Gateway struct {
	config      *config.Config
	intake      *intake.Service
	hub         *feed.Hub
	journal     *journal.Journal
	transports  []chat.Transport
	dispatcher  *chat.Dispatcher
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger

	// running counts transports whose Run has not returned
	running atomic.Int32

	// keepalive is the SSE comment interval
	keepalive time.Duration

	stopTransports context.CancelFunc
	transportsDone sync.WaitGroup
}

// Option customizes a Gateway built by New.
type Option func(*options)

type options struct {
	geocoder   geocode.Geocoder
	transports []chat.Transport
	overrideTx bool
}

// WithGeocoder replaces the Nominatim client.
func WithGeocoder(g geocode.Geocoder) Option {
	return func(o *options) { o.geocoder = g }
}

// WithTransports replaces the transports built from config.
func WithTransports(ts ...chat.Transport) Option {
	return func(o *options) {
		o.transports = ts
		o.overrideTx = true
	}
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	policy, err := session.ParseLinkPolicy(cfg.Intake.LinkPolicy)
	if err != nil {
		return nil, err
	}
	keywords := cfg.Intake.Keywords
	if len(keywords) == 0 {
		keywords = extract.DefaultKeywords
	}
	places, err := extract.NewKeywordPlaces(keywords)
	if err != nil {
		return nil, err
	}

	geocoder := o.geocoder
	if geocoder == nil {
		geocoder = geocode.NewNominatim(geocode.NominatimConfig{
			BaseURL:   cfg.Geocoder.BaseURL,
			UserAgent: cfg.Geocoder.UserAgent,
			Language:  cfg.Geocoder.Language,
			Timeout:   cfg.Geocoder.Timeout,
		}, logger)
	}

	gw := &Gateway{
		config:    cfg,
		hub:       feed.NewHub(cfg.Feed.Buffer, logger),
		logger:    logger.With("component", "gateway"),
		keepalive: defaultKeepalive,
	}

	intakeOpts := intake.Options{
		Store: markers.NewStore(),
		Hub:   gw.hub,
		Sessions: session.NewManager(session.Options{
			LinkPolicy:  policy,
			Placeholder: cfg.Intake.PostPlaceholder,
			Places:      places,
		}),
		Geocoder:        geocoder,
		Dedupe:          dedupe.New(cfg.Intake.DedupeTTL, 0),
		Operators:       cfg.Operators(),
		InitialSnapshot: cfg.Feed.InitialSnapshot,
		Logger:          logger,
	}

	if cfg.Database.Path != "" {
		j, err := journal.Open(cfg.Database.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("opening journal: %w", err)
		}
		gw.journal = j
		intakeOpts.Journal = j
	}

	gw.intake = intake.New(intakeOpts)
	gw.dispatcher = chat.NewDispatcher(gw.intake, logger)

	if o.overrideTx {
		gw.transports = o.transports
	} else if gw.transports, err = buildTransports(cfg, logger); err != nil {
		gw.closeJournal()
		return nil, err
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// buildTransports creates the chat transports enabled in config.
func buildTransports(cfg *config.Config, logger *slog.Logger) ([]chat.Transport, error) {
	var ts []chat.Transport
	if cfg.Telegram.Enabled {
		bot, err := telegram.New(telegram.Config{
			Token:       cfg.Telegram.Token,
			APIEndpoint: cfg.Telegram.APIEndpoint,
			PollTimeout: cfg.Telegram.PollTimeout,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("creating telegram transport: %w", err)
		}
		ts = append(ts, bot)
	}
	if cfg.Matrix.Enabled {
		bridge, err := matrix.New(matrix.Config{
			Homeserver:   cfg.Matrix.Homeserver,
			UserID:       cfg.Matrix.UserID,
			AccessToken:  cfg.Matrix.AccessToken,
			AllowedRooms: cfg.Matrix.AllowedRooms,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("creating matrix transport: %w", err)
		}
		ts = append(ts, bridge)
	}
	return ts, nil
}

// Intake returns the orchestrator, for callers that seed or inspect markers.
func (g *Gateway) Intake() *intake.Service {
	return g.intake
}

// Handler returns the HTTP handler with all routes registered.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// setupTCPListener creates a standard TCP listener for HTTP.
func (g *Gateway) setupTCPListener() (net.Listener, error) {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// setupListener creates the HTTP listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled", "http_addr", g.config.Server.HTTPAddr)
		}
		return g.setupTailscaleListener(ctx)
	}
	return g.setupTCPListener()
}

// startServers starts the HTTP server and every transport, returning the error channel.
func (g *Gateway) startServers(ctx context.Context, httpLn net.Listener) chan error {
	errCh := make(chan error, 1+len(g.transports))

	go func() {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	g.stopTransports = cancel
	for _, t := range g.transports {
		g.running.Add(1)
		g.transportsDone.Go(func() {
			defer g.running.Add(-1)
			g.logger.Info("transport started", "transport", t.Name())
			if err := t.Run(runCtx, g.dispatcher); err != nil {
				errCh <- fmt.Errorf("%s transport: %w", t.Name(), err)
				return
			}
			g.logger.Info("transport stopped", "transport", t.Name())
		})
	}

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		g.drainErrors(errCh)
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (g *Gateway) drainErrors(errCh chan error) {
	select {
	case additionalErr := <-errCh:
		g.logger.Error("additional server error", "error", additionalErr)
	default:
	}
}

// Run starts the HTTP server and the transports and blocks until the context
// is canceled. Returns nil on graceful shutdown, or the first server or
// transport error.
func (g *Gateway) Run(ctx context.Context) error {
	httpListener, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := g.startServers(ctx, httpListener)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// The Run context is already canceled at this point.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
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
	return filepath.Join(homeDir, ".local", "share", "mapfeed", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListener brings up a tsnet node and listens on its port 80.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	ln, err := g.tsnetServer.Listen("tcp", ":80")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	return ln, nil
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

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// stopTransportsAndWait cancels the transports and waits for them and for
// queued updates, or gives up when ctx expires.
func (g *Gateway) stopTransportsAndWait(ctx context.Context) error {
	if g.stopTransports != nil {
		g.stopTransports()
	}
	done := make(chan struct{})
	go func() {
		g.transportsDone.Wait()
		g.dispatcher.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gateway) closeJournal() error {
	if g.journal == nil {
		return nil
	}
	return g.journal.Close()
}

// Shutdown gracefully stops the HTTP server and the transports and releases
// resources. Transports stop first so no commit races the hub closing, and
// the hub closes before the HTTP server so streaming handlers return.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "transport shutdown", g.stopTransportsAndWait(ctx))
	g.hub.Close()
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "journal close", g.closeJournal())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if at least one transport is running.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	n := g.running.Load()
	if n == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no transports running"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d transports, %d feed clients, %d markers)", n, g.hub.Count(), g.intake.MarkerCount())
}
