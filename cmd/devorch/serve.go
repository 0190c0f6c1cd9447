package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jg-phare/devorch/pkg/api"
	"github.com/jg-phare/devorch/pkg/config"
	"github.com/jg-phare/devorch/pkg/progress"
	"github.com/jg-phare/devorch/pkg/projectctx"
)

var (
	serveAddr    string
	serveOrigins []string
	serveNoWatch bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Start all configured providers and serve the HTTP API:

  GET  /api/health               liveness and ready-server count
  GET  /api/servers              per-server status
  POST /api/tools/{server}/{tool} invoke a tool ({"arguments": {...}, "timeout": "30s"})
  POST /api/context              start a project context task ({"path": "..."})
  GET  /api/status/{taskId}      task state and snapshot
  GET  /ws?taskId=...            progress events over WebSocket
  GET  /events?taskId=...        progress events as Server-Sent Events

Edits to the config file are applied while running: new servers are started,
removed ones stopped, changed ones restarted.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides serve.addr)")
	serveCmd.Flags().StringSliceVar(&serveOrigins, "allow-origin", nil, "extra WebSocket origin patterns")
	serveCmd.Flags().BoolVar(&serveNoWatch, "no-watch", false, "do not reload the config file on change")
}

func runServe(cmd *cobra.Command, _ []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	addr := e.cfg.Serve.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	reg := e.registry()
	defer reg.Cleanup()
	if err := startServers(ctx, e, reg); err != nil {
		return err
	}

	bus := progress.NewBus()
	defer bus.Close()

	apiServer := api.New(api.Config{
		Backend:        reg,
		Contexts:       projectctx.New(reg, projectctx.Options{}, e.logger),
		Bus:            bus,
		Logger:         e.logger,
		OriginPatterns: serveOrigins,
	})
	defer apiServer.Close()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	httpServer := &http.Server{
		Handler:           apiServer,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		e.logger.Info().Str("addr", ln.Addr().String()).Msg("serving")
		if err := httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), e.cfg.Timeouts.ShutdownGrace)
		defer cancel()
		e.logger.Info().Msg("shutting down")
		// Long-lived progress streams hold their connections open; closing
		// the bus ends them so Shutdown can drain.
		bus.Close()
		return httpServer.Shutdown(shutdownCtx)
	})
	if !serveNoWatch && e.loader.File() != "" {
		g.Go(func() error {
			err := e.loader.Watch(gctx, e.logger, func(cfg *config.Config) {
				res := reg.Reconcile(gctx, cfg.Servers)
				e.logger.Info().
					Strs("added", res.Added).
					Strs("removed", res.Removed).
					Strs("restarted", res.Restarted).
					Int("errors", len(res.Errors)).
					Msg("config reloaded")
				for name, msg := range res.Errors {
					e.logger.Warn().Str("server", name).Str("error", msg).Msg("reconcile failed")
				}
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				e.logger.Warn().Err(err).Msg("config watch stopped")
			}
			return nil
		})
	}
	return g.Wait()
}
