package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gridmarket/config"
	"gridmarket/core/events"
	"gridmarket/core/market"
)

func TestOpenStoreBackends(t *testing.T) {
	for _, backend := range []string{config.BackendMemory, config.BackendLevelDB, config.BackendBolt} {
		t.Run(backend, func(t *testing.T) {
			db, err := openStore(config.NodeConfig{Backend: backend, DataDir: t.TempDir()})
			require.NoError(t, err)
			require.NoError(t, db.Put([]byte("k"), []byte("v")))
			got, err := db.Get([]byte("k"))
			require.NoError(t, err)
			require.Equal(t, []byte("v"), got)
			db.Close()
		})
	}
	_, err := openStore(config.NodeConfig{Backend: "rocks", DataDir: t.TempDir()})
	require.Error(t, err)
}

type countingTicker struct {
	calls atomic.Int64
	fail  bool
}

func (c *countingTicker) Tick() (market.TickReport, error) {
	n := c.calls.Add(1)
	if c.fail {
		return market.TickReport{}, errors.New("boom")
	}
	return market.TickReport{Tick: uint64(n)}, nil
}

func TestTickLoopStopsOnCancel(t *testing.T) {
	engine := &countingTicker{}
	loop := newTickLoop(engine, time.Millisecond, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)
	require.Eventually(t, func() bool { return engine.calls.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-loop.Done():
	case <-time.After(time.Second):
		t.Fatal("tick loop did not stop")
	}
}

func TestTickLoopSurvivesErrors(t *testing.T) {
	engine := &countingTicker{fail: true}
	var buf bytes.Buffer
	loop := newTickLoop(engine, time.Millisecond, slog.New(slog.NewTextHandler(&buf, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)
	require.Eventually(t, func() bool { return engine.calls.Load() >= 2 }, time.Second, time.Millisecond)
	cancel()
	<-loop.Done()
	require.Contains(t, buf.String(), "tick failed")
}

func TestLogEmitterWritesAttributes(t *testing.T) {
	var buf bytes.Buffer
	emitter := newLogEmitter(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	emitter.Emit(events.ModulePause{Module: "rental", Paused: true})
	require.Contains(t, buf.String(), `"type":"module.pause"`)
	require.Contains(t, buf.String(), `"module":"rental"`)
}
