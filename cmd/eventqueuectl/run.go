package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/modularevents/eventqueue"
	"github.com/modularevents/eventqueue/sinks/metricsink"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run the event queue worker loop until interrupted",
	RunE:  runE,
}

func runE(cmd *cobra.Command, args []string) error {
	logger := eventqueue.NewSlogLogger(slog.Default())

	initial, err := loadFileConfig(configPath)
	if err != nil {
		return err
	}
	cfgHolder := newConfigHolder(initial)

	mq := eventqueue.NewMainQueue(logger)

	sink := metricsink.New(initial.MetricsNamespace)
	if err := sink.Attach(mq.Inner()); err != nil {
		return fmt.Errorf("eventqueuectl: attaching metrics sink: %w", err)
	}

	registry := prometheus.NewRegistry()
	if err := registry.Register(sink); err != nil {
		return fmt.Errorf("eventqueuectl: registering metrics collector: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if initial.MetricsAddr != "" {
		go serveMetrics(ctx, initial.MetricsAddr, registry, logger)
	}

	if err := watchConfig(ctx, configPath, cfgHolder, logger); err != nil {
		logger.Warn("config reload watcher not started", "error", err)
	}

	return runWorkerLoop(ctx, mq, cfgHolder, logger)
}

// runWorkerLoop drives mq.Inner().HandleNext on a robfig/cron schedule.
// Everything else in cfgHolder (metrics namespace, metrics address) is
// already applied at startup; the tick schedule is read once here, since
// cron.Cron has no supported way to change a running entry's expression in
// place and tearing the scheduler down on every config write would race
// against in-flight ticks for no real benefit at this polling granularity.
func runWorkerLoop(ctx context.Context, mq *eventqueue.MainQueue, cfgHolder *configHolder, logger eventqueue.Logger) error {
	cfg := cfgHolder.Load()

	c := cron.New()
	_, err := c.AddFunc(cfg.TickSchedule, func() {
		for {
			result := mq.Inner().HandleNext(ctx)
			if result == eventqueue.Idle || result == eventqueue.Closed {
				return
			}
		}
	})
	if err != nil {
		return fmt.Errorf("eventqueuectl: invalid tick schedule %q: %w", cfg.TickSchedule, err)
	}

	c.Start()
	<-ctx.Done()
	c.Stop()

	requestShutdownAndDrain(mq, logger)
	return nil
}

func requestShutdownAndDrain(mq *eventqueue.MainQueue, logger eventqueue.Logger) {
	mq.RequestShutdown()
	for !mq.IsShutDown() {
		result := mq.Inner().HandleNext(context.Background())
		if result == eventqueue.Idle {
			break
		}
	}
	logger.Info("event queue drained and closed")
}

func serveMetrics(ctx context.Context, addr string, registry *prometheus.Registry, logger eventqueue.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server stopped", "error", err)
	}
}

// watchConfig uses fsnotify to reload configPath into cfgHolder on every
// write event. The tick schedule is read once at startup (see
// runWorkerLoop); this keeps metricsNamespace/metricsAddr observable for a
// future reload-aware exporter without requiring a process restart just to
// notice the file changed.
func watchConfig(ctx context.Context, path string, cfgHolder *configHolder, logger eventqueue.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("eventqueuectl: creating config watcher: %w", err)
	}

	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return fmt.Errorf("eventqueuectl: watching %s: %w", path, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := loadFileConfig(path)
				if err != nil {
					logger.Warn("config reload failed, keeping previous config", "error", err)
					continue
				}
				cfgHolder.Store(cfg)
				logger.Info("config reloaded", "path", path)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config watcher error", "error", err)
			}
		}
	}()

	return nil
}
