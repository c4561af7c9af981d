// Package app wires the queue, delivery client, connectivity monitor and
// the submission and sync engines into one Controller with a defined
// construction and teardown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/alexjbarnes/solara-sync/internal/auth"
	"github.com/alexjbarnes/solara-sync/internal/catalog"
	"github.com/alexjbarnes/solara-sync/internal/config"
	"github.com/alexjbarnes/solara-sync/internal/connectivity"
	apperrors "github.com/alexjbarnes/solara-sync/internal/errors"
	"github.com/alexjbarnes/solara-sync/internal/imageprep"
	"github.com/alexjbarnes/solara-sync/internal/inbox"
	"github.com/alexjbarnes/solara-sync/internal/mcpserver"
	"github.com/alexjbarnes/solara-sync/internal/server"
	"github.com/alexjbarnes/solara-sync/internal/sheets"
	"github.com/alexjbarnes/solara-sync/internal/state"
	"github.com/alexjbarnes/solara-sync/internal/uploader"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"
)

const (
	serverReadTimeout = 30 * time.Second
	// serverWriteTimeout bounds a submit_photos call, which may deliver
	// up to 100 photos sequentially.
	serverWriteTimeout = 15 * time.Minute
	serverIdleTimeout  = 120 * time.Second
	shutdownTimeout    = 10 * time.Second
)

// Options override collaborators, mostly for tests.
type Options struct {
	// Reporter receives events in addition to the log.
	Reporter uploader.Reporter

	// HTTPClient is used for deliveries and catalog fetches.
	HTTPClient *http.Client

	// Prober replaces the HTTP reachability probe.
	Prober connectivity.Prober

	Version string
}

// Controller owns every long-lived component.
type Controller struct {
	cfg    *config.Config
	logger *slog.Logger
	opts   Options

	state        *state.State
	client       *sheets.Client
	monitor      *connectivity.Monitor
	orchestrator *uploader.Orchestrator
	sweeper      *uploader.Sweeper
	catalog      *catalog.Service

	// runCtx is the context sync callbacks run under. It is replaced
	// by Run and cancelled on shutdown.
	mu     sync.Mutex
	runCtx context.Context
}

// New opens the queue database and builds all components. The caller
// must call Close.
func New(cfg *config.Config, logger *slog.Logger, opts Options) (*Controller, error) {
	st, err := state.LoadAt(cfg.StatePath)
	if err != nil {
		return nil, fmt.Errorf("loading state: %w", err)
	}

	c := &Controller{
		cfg:    cfg,
		logger: logger,
		opts:   opts,
		state:  st,
		client: sheets.NewClient(cfg.ScriptURL, opts.HTTPClient, cfg.DeliveryTimeout),
		runCtx: context.Background(),
	}

	prober := opts.Prober
	if prober == nil {
		prober = connectivity.NewHTTPProber(cfg.ProbeURL, cfg.ProbeTimeout)
	}

	c.monitor = connectivity.NewMonitor(connectivity.Config{
		Prober:   prober,
		Interval: cfg.ProbeInterval,
		OnOnline: c.syncOnReconnect,
	}, logger.With(slog.String("component", "connectivity")))

	reporter := uploader.Reporter(uploader.LogReporter{Logger: logger})
	if opts.Reporter != nil {
		reporter = uploader.MultiReporter{reporter, opts.Reporter}
	}

	deps := uploader.Deps{
		Queue:        st,
		Deliverer:    c.client,
		Connectivity: c.monitor,
		Reporter:     reporter,
		Logger:       logger,
	}

	if cfg.ImageMaxDimension > 0 {
		deps.Preprocessor = imageprep.Downscaler{
			MaxDimension: cfg.ImageMaxDimension,
			Quality:      cfg.ImageQuality,
		}
	}

	c.orchestrator = uploader.NewOrchestrator(deps)
	c.sweeper = uploader.NewSweeper(deps)
	c.catalog = catalog.NewService(c.client, st, logger.With(slog.String("component", "catalog")))

	return c, nil
}

// Close waits for in-flight sync callbacks and closes the database.
func (c *Controller) Close() error {
	c.monitor.Wait()
	return c.state.Close()
}

// Monitor exposes the connectivity monitor.
func (c *Controller) Monitor() *connectivity.Monitor {
	return c.monitor
}

// Probe samples connectivity once without triggering a sync.
func (c *Controller) Probe(ctx context.Context) bool {
	return c.monitor.Sample(ctx)
}

// Online reports the last observed connectivity.
func (c *Controller) Online() bool {
	return c.monitor.Online()
}

// Submit runs one batch through the orchestrator.
func (c *Controller) Submit(ctx context.Context, batch uploader.Batch, progress uploader.ProgressFunc) (uploader.BatchResult, error) {
	return c.orchestrator.Submit(ctx, batch, progress)
}

// Sync runs one sweep now.
func (c *Controller) Sync(ctx context.Context, progress uploader.ProgressFunc) (uploader.SweepResult, error) {
	return c.sweeper.Sweep(ctx, progress)
}

// Pending lists queued records.
func (c *Controller) Pending() ([]state.Record, error) {
	return c.state.Records()
}

// QueueCount returns the number of queued records.
func (c *Controller) QueueCount() (int, error) {
	return c.state.Count()
}

// Catalog loads classification options, falling back to the cache.
func (c *Controller) Catalog(ctx context.Context) (*catalog.Catalog, error) {
	return c.catalog.Load(ctx)
}

// syncOnReconnect is the monitor's OnOnline hook.
func (c *Controller) syncOnReconnect() {
	c.mu.Lock()
	ctx := c.runCtx
	c.mu.Unlock()

	if _, err := c.sweeper.Sweep(ctx, nil); err != nil {
		if errors.Is(err, apperrors.ErrSweepRunning) {
			c.logger.Debug("sync already running, another pass requested")
			return
		}

		c.logger.Error("sync after reconnect failed", slog.String("error", err.Error()))
	}
}

// Run starts the connectivity monitor, the inbox watcher (when
// INBOX_DIR is set) and the MCP server (when enabled), and blocks until
// ctx is cancelled or one of them fails.
func (c *Controller) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	c.mu.Lock()
	c.runCtx = gctx
	c.mu.Unlock()

	g.Go(func() error {
		return ignoreCanceled(c.monitor.Run(gctx))
	})

	if c.cfg.InboxDir != "" {
		w := inbox.NewWatcher(c.cfg.InboxDir, c.orchestrator, c.logger)

		g.Go(func() error {
			return ignoreCanceled(w.Watch(gctx))
		})
	}

	if c.cfg.EnableMCP {
		g.Go(func() error {
			return c.runMCP(gctx)
		})
	}

	return g.Wait()
}

// MCPHandler builds the HTTP handler serving /mcp and /healthz.
func (c *Controller) MCPHandler() (http.Handler, error) {
	entries, err := c.cfg.ParseMCPAPIKeys()
	if err != nil {
		return nil, fmt.Errorf("parsing MCP API keys: %w", err)
	}

	version := c.opts.Version
	if version == "" {
		version = "dev"
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{Name: "solara-sync", Version: version},
		nil,
	)
	mcpserver.RegisterTools(mcpServer, c)

	mcpHandler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return mcpServer
	}, nil)

	return server.NewMux(server.MuxConfig{
		Keys:       auth.NewKeyStore(entries),
		MCPHandler: mcpHandler,
		Health:     c.health,
		Logger:     c.logger.With(slog.String("service", "mcp")),
	}), nil
}

func (c *Controller) health() server.Health {
	h := server.Health{Status: "ok", Online: c.Online()}

	n, err := c.QueueCount()
	if err != nil {
		h.Status = "degraded"
		return h
	}

	h.Pending = n

	return h
}

// runMCP serves the MCP HTTP endpoint until ctx is cancelled.
func (c *Controller) runMCP(ctx context.Context) error {
	handler, err := c.MCPHandler()
	if err != nil {
		return err
	}

	mcpLogger := c.logger.With(slog.String("service", "mcp"))

	srv := &http.Server{
		Addr:         c.cfg.MCPListenAddr,
		Handler:      handler,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	mcpLogger.Info("starting MCP server", slog.String("listen", c.cfg.MCPListenAddr))

	// Shutdown when context is cancelled.
	go func() {
		<-ctx.Done()
		mcpLogger.Info("shutting down MCP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("MCP server error: %w", err)
	}

	return nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}
