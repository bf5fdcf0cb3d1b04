package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zenibako/scenario-sync/hostbridge"
	"github.com/zenibako/scenario-sync/mirror"
	"github.com/zenibako/scenario-sync/panel"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Watch the mirror directory and host form panels and the OSC bridge",
	Long: `Serve keeps the mirror directory in sync until interrupted.

  - Edited files are saved once they stop changing.
  - Form panels connect over WebSocket at ws://<panel.addr>/panels/{shortId}.
  - With osc.port set, changes are announced as /update/... OSC messages.
  - With osc.listen set, /reload/{shortId} and /reload OSC commands drop
    cached state and pull the affected scenarios again.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		out := cmd.OutOrStdout()

		ids, err := a.workspace.Scenarios()
		if err != nil {
			return err
		}
		if len(ids) > 0 {
			if _, err := a.workspace.Pull(ctx, ids...); err != nil {
				return err
			}
			// Seed fingerprints so the first refresh only reports real server changes
			for _, id := range ids {
				a.refresh.ShouldPurgeOnRefresh(ctx, id)
			}
		}

		watcher := mirror.NewWatcher(a.workspace, mirror.WatcherOptions{
			Logger:   logger,
			Debounce: cfg.Mirror.Debounce,
		})
		if err := watcher.Start(ctx); err != nil {
			return err
		}
		defer watcher.Stop()

		server := panel.NewServer(a.cache, a.registry, panel.ServerConfig{
			Addr:         cfg.Panel.Addr,
			StateTimeout: cfg.Panel.StateTimeout,
			Logger:       logger,
		})
		if err := server.Start(); err != nil {
			return err
		}
		defer server.Stop()

		if cfg.OSC.Port > 0 {
			broadcaster := hostbridge.NewUDPBroadcaster(cfg.OSC.Host, cfg.OSC.Port, hostbridge.Options{Logger: logger})
			detach := broadcaster.Attach(a.cache, a.provider)
			defer detach()
			printSuccess(out, "OSC updates → %s:%d", cfg.OSC.Host, cfg.OSC.Port)
		}

		if cfg.OSC.Listen != "" {
			listener, err := hostbridge.NewListener(cfg.OSC.Listen, &pullingReloader{app: a, ctx: ctx}, hostbridge.Options{Logger: logger})
			if err != nil {
				return err
			}
			go func() {
				if err := listener.ListenAndServe(); err != nil {
					logger.Error("OSC listener stopped", "err", err)
				}
			}()
			defer listener.Close()
			printSuccess(out, "OSC reload commands ← %s", cfg.OSC.Listen)
		}

		printTitle(out, "Serving %d scenario(s) from %s", len(ids), a.workspace.Dir())
		printSuccess(out, "Form panels: ws://%s/panels/{shortId}", server.Addr())
		fmt.Fprintln(out, mutedStyle.Render("Press Ctrl+C to stop"))

		<-ctx.Done()
		fmt.Fprintln(out, mutedStyle.Render("Shutting down..."))
		return nil
	},
}

// pullingReloader drops cached state on reload commands and re-pulls the
// affected mirrored scenarios so the files follow the server
type pullingReloader struct {
	app *app
	ctx context.Context
}

var _ hostbridge.Reloader = (*pullingReloader)(nil)

func (r *pullingReloader) RequestServerReload(shortID string) {
	r.app.cache.RequestServerReload(shortID)
	if r.app.workspace.Has(shortID) {
		go r.pull(shortID)
	}
}

func (r *pullingReloader) InvalidateAll() {
	r.app.cache.InvalidateAll()
	ids, err := r.app.workspace.Scenarios()
	if err != nil {
		logger.Warn("Failed to list mirrored scenarios", "err", err)
		return
	}
	for _, id := range ids {
		r.app.cache.Store().RequestServerReload(id)
		go r.pull(id)
	}
}

// pull holds the scenario lock so it never interleaves with a save or refresh
func (r *pullingReloader) pull(shortID string) {
	unlock, err := r.app.lock.Lock(r.ctx, shortID)
	if err != nil {
		return
	}
	defer unlock()
	if _, err := r.app.workspace.Pull(r.ctx, shortID); err != nil {
		logger.Error("Failed to pull after reload", "shortId", shortID, "err", err)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
