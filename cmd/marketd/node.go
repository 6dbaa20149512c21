package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gridmarket/config"
	"gridmarket/core/events"
	"gridmarket/core/market"
	"gridmarket/storage"
)

// openStore opens the state database selected by the node configuration.
func openStore(node config.NodeConfig) (storage.Database, error) {
	switch node.Backend {
	case config.BackendMemory:
		return storage.NewMemDB(), nil
	case config.BackendLevelDB, config.BackendBolt:
	default:
		return nil, fmt.Errorf("unsupported backend %q", node.Backend)
	}
	if err := os.MkdirAll(node.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if node.Backend == config.BackendBolt {
		db, err := storage.NewBoltDB(filepath.Join(node.DataDir, "market.db"))
		if err != nil {
			return nil, fmt.Errorf("open bolt store: %w", err)
		}
		return db, nil
	}
	db, err := storage.NewLevelDB(filepath.Join(node.DataDir, "state"))
	if err != nil {
		return nil, fmt.Errorf("open leveldb store: %w", err)
	}
	return db, nil
}

// logEmitter writes every published event as a structured log line.
type logEmitter struct {
	logger *slog.Logger
}

func newLogEmitter(logger *slog.Logger) logEmitter {
	return logEmitter{logger: logger}
}

func (l logEmitter) Emit(evt events.Event) {
	flat := events.Flatten(evt)
	if flat == nil {
		return
	}
	args := make([]any, 0, len(flat.Attributes)*2+2)
	args = append(args, "type", flat.Type)
	for k, v := range flat.Attributes {
		args = append(args, k, v)
	}
	l.logger.Debug("market event", args...)
}

type ticker interface {
	Tick() (market.TickReport, error)
}

// tickLoop drives the market clock on a wall-clock interval.
type tickLoop struct {
	engine   ticker
	interval time.Duration
	logger   *slog.Logger
	done     chan struct{}
}

func newTickLoop(engine ticker, interval time.Duration, logger *slog.Logger) *tickLoop {
	return &tickLoop{engine: engine, interval: interval, logger: logger, done: make(chan struct{})}
}

func (l *tickLoop) Done() <-chan struct{} { return l.done }

// Run ticks until ctx is cancelled. A failed tick is logged and the loop
// keeps going.
func (l *tickLoop) Run(ctx context.Context) {
	defer close(l.done)
	t := time.NewTicker(l.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			report, err := l.engine.Tick()
			if err != nil {
				l.logger.Error("tick failed", "error", err)
				continue
			}
			if report.Failures > 0 || report.Punished > 0 {
				l.logger.Warn("tick completed with faults",
					"tick", report.Tick,
					"punished", report.Punished,
					"failures", report.Failures)
				continue
			}
			l.logger.Debug("tick completed",
				"tick", report.Tick,
				"agreementsFinished", report.AgreementsFinished,
				"resourcesRemoved", report.ResourcesRemoved,
				"rewardProcessed", report.Reward.Processed)
		}
	}
}
