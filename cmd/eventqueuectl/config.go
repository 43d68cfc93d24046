package main

import (
	"fmt"
	"os"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// fileConfig is the on-disk shape of eventqueuectl's YAML config, loaded at
// startup and reloaded live on every fsnotify write event.
type fileConfig struct {
	// TickSchedule is a robfig/cron/v3 standard expression driving how often
	// the worker loop polls HandleNext when storage is otherwise idle.
	TickSchedule string `yaml:"tickSchedule"`
	// MetricsAddr is the listen address for the Prometheus /metrics
	// endpoint. Empty disables it.
	MetricsAddr string `yaml:"metricsAddr"`
	// MetricsNamespace prefixes every exported metric name.
	MetricsNamespace string `yaml:"metricsNamespace"`
}

func defaultFileConfig() fileConfig {
	return fileConfig{
		TickSchedule:     "@every 10ms",
		MetricsAddr:      ":9090",
		MetricsNamespace: "eventqueue",
	}
}

func loadFileConfig(path string) (fileConfig, error) {
	cfg := defaultFileConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("eventqueuectl: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("eventqueuectl: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// configHolder lets the reload watcher swap in a new fileConfig without the
// worker loop needing its own locking; reads are a single atomic load.
type configHolder struct {
	v atomic.Value
}

func newConfigHolder(initial fileConfig) *configHolder {
	h := &configHolder{}
	h.v.Store(initial)
	return h
}

func (h *configHolder) Load() fileConfig {
	return h.v.Load().(fileConfig)
}

func (h *configHolder) Store(cfg fileConfig) {
	h.v.Store(cfg)
}
