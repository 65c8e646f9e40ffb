package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/listenify-platform/listenify-app/internal/config"
	"github.com/listenify-platform/listenify-app/pkg/client"
	"github.com/listenify-platform/listenify-app/pkg/registry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

type globalFlags struct {
	configPath string
	url        string
	token      string
	logLevel   string
	logFile    string
	debug      bool
}

// app is what every subcommand runs against.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	logSink  io.Closer
	registry *registry.Registry
	client   *client.Client
	metrics  *prometheus.Registry
}

// loadConfig reads --config (or the defaults) and applies flag overrides.
func (g *globalFlags) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if g.configPath != "" {
		loaded, err := config.Load(g.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	g.override(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Connection.URL == "" {
		return nil, errors.New("no socket URL: set connection.url in the config file or pass --url")
	}
	return cfg, nil
}

func (g *globalFlags) override(cmd *cobra.Command, cfg *config.Config) {
	changed := func(name string) bool { return cmd.Flags().Changed(name) }
	if changed("url") {
		cfg.Connection.URL = g.url
	}
	if changed("token") {
		cfg.Connection.Token = g.token
	}
	if changed("log-level") {
		cfg.Log.Level = g.logLevel
	}
	if changed("log-file") {
		cfg.Log.File = g.logFile
	}
	if changed("debug") {
		cfg.Connection.Debug = g.debug
	}
}

func (g *globalFlags) newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := g.loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	logger, sink, err := newLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, logSink: sink}
	opts := cfg.ClientOptions()
	if cfg.Metrics.Listen != "" {
		a.metrics = prometheus.NewRegistry()
		a.metrics.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		opts = append(opts, client.WithRegisterer(a.metrics))
	}
	a.registry = registry.New(logger, opts...)
	a.client, _ = a.registry.GetOrCreate(cfg.Connection.Name)
	return a, nil
}

// apply pushes a reloaded config into the live client. Endpoint changes reconnect it.
func (a *app) apply(ctx context.Context, cfg *config.Config) error {
	return a.client.SetOptions(ctx, cfg.ClientOptions()...)
}

func (a *app) Close() error {
	err := a.registry.CloseAll()
	if a.logSink != nil {
		err = errors.Join(err, a.logSink.Close())
	}
	return err
}

// newLogger builds the process logger. With a log file configured, output is rotated by lumberjack.
func newLogger(cfg config.Log, stderr io.Writer) (*slog.Logger, io.Closer, error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	var out io.Writer = stderr
	var sink io.Closer
	if cfg.File != "" {
		rotated := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		out, sink = rotated, rotated
	}
	if out == nil {
		out = os.Stderr
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(out, handlerOpts)
	} else {
		handler = slog.NewTextHandler(out, handlerOpts)
	}
	return slog.New(handler), sink, nil
}

func connect(ctx context.Context, a *app) error {
	if err := a.client.Connect(ctx); err != nil {
		return fmt.Errorf("connect to %s: %w", a.cfg.Connection.URL, err)
	}
	return nil
}
