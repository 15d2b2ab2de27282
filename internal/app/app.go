// Package app wires up all subsystems and owns the application lifecycle.
//
// Startup order:
//  1. initRegistry — build the EndpointRegistry from configuration
//  2. initPlugins  — construct the configured plugin chain
//  3. initServices — metrics registry, dispatcher, client identifier
//  4. initServer   — the ProxyServer itself
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/nulpointcorp/powerproxy/internal/clientid"
	"github.com/nulpointcorp/powerproxy/internal/config"
	"github.com/nulpointcorp/powerproxy/internal/dispatch"
	"github.com/nulpointcorp/powerproxy/internal/logger"
	"github.com/nulpointcorp/powerproxy/internal/metrics"
	"github.com/nulpointcorp/powerproxy/internal/pluginbus"
	"github.com/nulpointcorp/powerproxy/internal/registry"
	"github.com/nulpointcorp/powerproxy/internal/server"
)

// App owns all long-lived resources and exposes Run / Close.
type App struct {
	version string
	view    *config.View
	baseCtx context.Context
	log     *slog.Logger

	reg        *registry.Registry
	bus        *pluginbus.Bus
	identifier *clientid.Identifier
	dispatcher *dispatch.Dispatcher
	prom       *metrics.Registry
	access     *logger.Logger
	srv        *server.Server

	closers []io.Closer
}

// New initialises all subsystems and returns a ready-to-run App. All
// resources allocated here are released by Close.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, version string) (*App, error) {
	if ctx == nil {
		return nil, fmt.Errorf("app: context must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}

	a := &App{view: config.NewView(cfg), version: version, baseCtx: ctx, log: log}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"registry", a.initRegistry},
		{"plugins", a.initPlugins},
		{"services", a.initServices},
		{"server", a.initServer},
	}

	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("app: init %s: %w", s.name, err)
		}
	}

	a.printBanner()
	a.bus.FireStartup()

	return a, nil
}

func (a *App) initRegistry(_ context.Context) error {
	reg, err := registry.Build(a.view)
	if err != nil {
		return err
	}
	a.reg = reg
	return nil
}

func (a *App) initPlugins(ctx context.Context) error {
	plugins, closers, err := buildPlugins(ctx, a.view, a.log)
	if err != nil {
		return err
	}
	a.closers = closers
	a.bus = pluginbus.New(plugins)
	return nil
}

func (a *App) initServices(_ context.Context) error {
	a.prom = metrics.New()
	a.prom.SetBuildInfo(a.version)
	a.identifier = clientid.New(a.view)
	a.dispatcher = dispatch.New(a.reg, a.prom)
	return nil
}

func (a *App) initServer(ctx context.Context) error {
	access, err := logger.New(ctx, a.log)
	if err != nil {
		return err
	}
	a.access = access
	a.srv = server.New(a.identifier, a.bus, a.dispatcher, a.prom, a.access, a.log)
	return nil
}

func (a *App) printBanner() {
	a.log.Info("powerproxy configured",
		slog.String("version", a.version),
		slog.Int("port", a.view.Port()),
		slog.Int("clients", len(a.view.Clients())),
		slog.Int("targets", len(a.reg.Targets)),
		slog.Int("plugins", len(a.bus.Plugins())),
	)
}

// Run starts the HTTP server and blocks until ctx is cancelled or an error
// occurs. It closes the app gracefully when returning.
func (a *App) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", a.view.Port())

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.srv.StartWithRoutes(addr, a.prom.Handler())
	})

	g.Go(func() error {
		<-gctx.Done()
		a.Close()
		return nil
	})

	return g.Wait()
}

// Close releases all resources. Safe to call multiple times.
func (a *App) Close() {
	if a.reg != nil {
		a.reg.Close()
	}
	if a.access != nil {
		if err := a.access.Close(); err != nil {
			a.log.Error("access logger close error", slog.String("error", err.Error()))
		}
		a.access = nil
	}
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.log.Error("close error", slog.String("error", err.Error()))
		}
	}
	a.closers = nil
}
