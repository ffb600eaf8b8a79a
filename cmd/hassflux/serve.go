package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/nugget/hassflux/internal/buildinfo"
	"github.com/nugget/hassflux/internal/connwatch"
	"github.com/nugget/hassflux/internal/httpserver"
	"github.com/nugget/hassflux/internal/metrics"
	"github.com/nugget/hassflux/internal/mqtt"
	"github.com/nugget/hassflux/internal/registry"
	"github.com/nugget/hassflux/internal/router"
	"github.com/nugget/hassflux/internal/sink"
)

// shutdownTimeout bounds the presence publish, MQTT disconnect and
// HTTP drain on shutdown.
const shutdownTimeout = 10 * time.Second

// runServe handles the "hassflux serve" subcommand. It loads config,
// opens the sink, connects to the broker and blocks until a shutdown
// signal arrives or the HTTP server fails. The HTTP server and the
// shutdown sequence run in one errgroup so either can end the process.
//
// The shutdown sequence is:
//  1. SIGINT or SIGTERM cancels the context
//  2. Health probes stop and the HTTP server drains
//  3. The MQTT client announces "Stopped", disconnects and drains the
//     inbound queue
//  4. The sink is closed
func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting hassflux", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "branch", buildinfo.GitBranch, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger = newLogger(stdout, cfg.Level(), cfg.LogFormat)
	logger.Info("config loaded",
		"path", cfgPath,
		"broker", cfg.MQTT.Broker,
		"discovery_prefix", cfg.MQTT.DiscoveryPrefix,
		"sink", cfg.Sink.Backend,
		"port", cfg.Listen.Port,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	instanceID, err := mqtt.LoadOrCreateInstanceID(cfg.DataDir)
	if err != nil {
		return err
	}
	logger.Info("instance identity", "instance_id", instanceID)

	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)

	store, err := sink.New(cfg.Sink, logger.With("component", "sink"))
	if err != nil {
		return fmt.Errorf("open sink: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("sink close failed", "error", err)
		}
	}()

	reg := registry.New()
	topics := configTopics(cfg)

	// The router subscribes through the client and the client delivers
	// to the router; rtr is set before the client starts.
	var rtr *router.Router
	client := mqtt.New(cfg.MQTT, mqtt.Options{
		InstanceID:   instanceID,
		ConfigTopics: topics,
		Topics:       reg,
		Handler: func(ctx context.Context, topic string, payload []byte) {
			rtr.Handle(ctx, topic, payload)
		},
		Metrics: m,
		Logger:  logger.With("component", "mqtt"),
	})
	rtr = router.New(router.Config{
		DiscoveryPrefix: cfg.MQTT.DiscoveryPrefix,
		ConfigTopics:    topics,
		QoS:             byte(cfg.MQTT.QoS),
	}, reg, client, store, m, logger.With("component", "router"))

	if err := client.Start(ctx); err != nil {
		return err
	}

	monitor := connwatch.New(connwatch.DefaultConfig(), m.SetDependency, logger.With("component", "connwatch"))
	monitor.Watch(ctx, "mqtt", client.AwaitConnection)
	monitor.Watch(ctx, cfg.Sink.Backend, store.Ping)

	var srv *httpserver.Server
	if cfg.Listen.Port > 0 {
		srv = httpserver.New(cfg.Listen.Address, cfg.Listen.Port, promReg, monitor, reg, logger.With("component", "http"))
	}

	g, gctx := errgroup.WithContext(ctx)
	if srv != nil {
		g.Go(func() error {
			if err := srv.Start(); err != nil {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			logger.Info("shutdown signal received")
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer shutdownCancel()

		monitor.Stop()
		if srv != nil {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("HTTP server shutdown failed", "error", err)
			}
		}
		if err := client.Stop(shutdownCtx); err != nil {
			logger.Warn("mqtt shutdown failed", "error", err)
		}
		return nil
	})

	err = g.Wait()
	if err != nil {
		logger.Error("hassflux stopped with error", "error", err)
	}
	logger.Info("hassflux stopped", "components", reg.Len(), "uptime", buildinfo.Uptime().String())
	return err
}
