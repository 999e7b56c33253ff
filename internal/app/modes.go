package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"dexguard/internal/notify"
	"dexguard/internal/server"
	"dexguard/internal/server/handler"
	"dexguard/internal/server/ws"
)

const (
	// archiveExportInterval is how often the day's JSONL snapshots are
	// refreshed in the object store.
	archiveExportInterval = time.Hour

	// archiveExportLimit caps how many records each snapshot carries.
	archiveExportLimit = 500
)

// ServerMode runs the API surface on in-memory state only: the HTTP server,
// the WebSocket hub, and the notification forwarder.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startNotifyForwarder(ctx, g, deps)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}

	return g.Wait()
}

// FullMode runs everything server mode runs plus the periodic report export
// to object storage.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startNotifyForwarder(ctx, g, deps)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}

	if deps.Archiver != nil {
		g.Go(func() error {
			err := deps.Archiver.Run(ctx, archiveExportInterval, archiveExportLimit)
			if ctx.Err() != nil {
				return nil
			}
			return err
		})
	}

	return g.Wait()
}

// startHTTPServer adds the HTTP server and WebSocket hub goroutines to the
// given errgroup. The server is shut down gracefully when the context is
// cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(deps.Bus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		err := hub.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})

	srv := server.NewServer(
		server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
		},
		server.Handlers{
			Health: handler.NewHealthHandler(a.logger),
			Swaps:  handler.NewSwapHandler(deps.Protection, a.logger),
			Orders: handler.NewOrderHandler(deps.Splitter, a.logger),
		},
		hub,
		a.logger,
	)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// startNotifyForwarder adds the bus-to-notifier bridge to the errgroup.
func (a *App) startNotifyForwarder(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	forwarder := notify.NewForwarder(deps.Bus, deps.Notifier, a.logger)
	g.Go(func() error {
		err := forwarder.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})
}
