package app

import (
	"fmt"
	"strings"
	"time"

	"cartobot/internal/config"
	"cartobot/internal/lifecycle"
	"cartobot/internal/logsink"
	"cartobot/internal/platform"
	"cartobot/internal/storage"
	"cartobot/internal/task/engine"
	logx "cartobot/pkg/logx"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	pc := cfg.Persistence
	driver := strings.ToLower(strings.TrimSpace(pc.Driver))
	busy, err := config.ParseDurationOrDefault("persistence.busy_timeout", pc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	switch driver {
	case "", "file", "none":
	case "sqlite", "sqlite3":
		if strings.TrimSpace(pc.Path) == "" {
			return storage.Config{}, fmt.Errorf("persistence.path is required when persistence.driver=sqlite")
		}
	default:
		return storage.Config{}, fmt.Errorf("unknown persistence.driver: %s", pc.Driver)
	}
	return storage.Config{Driver: driver, Path: strings.TrimSpace(pc.Path), BusyTimeout: busy}, nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		MirrorLevel: cfg.Logging.SinkLevel,
	}
}

func mapSinkConfig(cfg *config.Config, onFailure func(error)) logsink.Config {
	return logsink.Config{
		MainDir:        cfg.LogSink.MainDir,
		DMDir:          cfg.LogSink.DMDir,
		MaxBufferBytes: cfg.LogSink.MaxBufferBytes,
		OnWriteFailure: onFailure,
	}
}

func mapEngineConfig(cfg *config.Config) engine.Config {
	return engine.Config{Workers: cfg.Scheduler.Workers, QueueSize: cfg.Scheduler.QueueSize}
}

func mapResources(cfg *config.Config) []lifecycle.ResourceSpec {
	out := make([]lifecycle.ResourceSpec, 0, len(cfg.Resources))
	for _, r := range cfg.Resources {
		out = append(out, lifecycle.ResourceSpec{
			Name:   strings.TrimSpace(r.Name),
			Kind:   platform.Kind(r.Kind),
			ID:     strings.TrimSpace(r.ID),
			Parent: strings.TrimSpace(r.Parent),
		})
	}
	return out
}
