package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/listenify-platform/listenify-app/internal/config"
	"github.com/listenify-platform/listenify-app/pkg/client"
	"github.com/listenify-platform/listenify-app/pkg/events"
	"github.com/listenify-platform/listenify-app/pkg/relay"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func listenCmd(flags *globalFlags) *cobra.Command {
	var withLifecycle bool

	cmd := &cobra.Command{
		Use:   "listen [event...]",
		Short: "Stay connected and print server pushes as JSON lines",
		Long: `listen keeps the socket open, reconnecting as configured, and prints every
matching event as one JSON object per line: {"type": ..., "data": ...}.

With no events named, everything is printed. When the config file enables them,
the Prometheus endpoint and the NATS relay run alongside, and edits to the config
file are applied to the live connection.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := flags.newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runListen(ctx, a, flags.configPath, args, withLifecycle, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&withLifecycle, "lifecycle", false, "also print socket:* lifecycle events when listening to everything")
	return cmd
}

func runListen(ctx context.Context, a *app, configPath string, names []string, withLifecycle bool, out io.Writer) error {
	printer := &linePrinter{w: out}

	if len(names) == 0 {
		names = []string{events.Wildcard}
	}
	for _, name := range names {
		skipLifecycle := name == events.Wildcard && !withLifecycle
		sub := a.client.On(name, func(e events.Event) error {
			if skipLifecycle && isLifecycle(e.Name) {
				return nil
			}
			return printer.print(e)
		})
		defer sub.Unsubscribe()
	}

	failed := make(chan client.ReconnectFailedEvent, 1)
	a.client.On(client.EventReconnectFailed, func(e events.Event) error {
		var payload client.ReconnectFailedEvent
		if err := e.Decode(&payload); err != nil {
			return err
		}
		select {
		case failed <- payload:
		default:
		}
		return nil
	})

	if srv := a.startMetrics(); srv != nil {
		defer shutdownServer(srv, a)
	}

	if a.cfg.Relay.Enabled {
		r, err := relay.New(a.client, relay.Options{
			URL:         a.cfg.Relay.URL,
			Prefix:      a.cfg.Relay.Prefix,
			QueueName:   a.cfg.Relay.Queue,
			CallTimeout: a.cfg.Relay.CallTimeout,
			Logger:      a.logger,
		})
		if err != nil {
			return err
		}
		defer r.Close()
		if err := r.Start(); err != nil {
			return err
		}
	}

	if configPath != "" {
		w, err := config.NewWatcher(configPath, func(cfg *config.Config) {
			if err := a.apply(ctx, cfg); err != nil {
				a.logger.Error("Failed to apply reloaded config", "error", err)
			}
		}, config.WithWatchLogger(a.logger))
		if err != nil {
			return err
		}
		if err := w.Start(); err != nil {
			return err
		}
		defer w.Stop()
	}

	if err := connect(ctx, a); err != nil {
		return err
	}
	a.logger.Info("Listening", "url", a.cfg.Connection.URL, "events", names)

	select {
	case <-ctx.Done():
		a.logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.client.Disconnect(shutdownCtx)
	case f := <-failed:
		return fmt.Errorf("gave up reconnecting after %d attempts", f.Attempts)
	}
}

func (a *app) startMetrics() *http.Server {
	if a.metrics == nil || a.cfg.Metrics.Listen == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle(a.cfg.Metrics.Path, promhttp.HandlerFor(a.metrics, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              a.cfg.Metrics.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("Serving metrics", "addr", srv.Addr, "path", a.cfg.Metrics.Path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("Metrics server stopped", "error", err)
		}
	}()
	return srv
}

func shutdownServer(srv *http.Server, a *app) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		a.logger.Warn("Metrics server shutdown", "error", err)
	}
}

func isLifecycle(name string) bool {
	switch name {
	case client.EventConnect, client.EventDisconnect, client.EventError,
		client.EventReconnectAttempt, client.EventReconnectSuccess,
		client.EventReconnectError, client.EventReconnectFailed:
		return true
	}
	return false
}

// linePrinter serialises concurrent handlers onto one writer.
type linePrinter struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *linePrinter) print(e events.Event) error {
	line, err := json.Marshal(e)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err = p.w.Write(append(line, '\n'))
	return err
}
