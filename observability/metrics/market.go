package metrics

import (
	"math"
	"math/big"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// MarketMetrics tracks the command path and tick hooks of the market engine.
type MarketMetrics struct {
	commands       *prometheus.CounterVec
	hookFailures   *prometheus.CounterVec
	sweepItems     *prometheus.CounterVec
	penalties      *prometheus.CounterVec
	rewardEntries  prometheus.Counter
	rewardQueue    prometheus.Gauge
	rewardCredited prometheus.Counter
	events         *prometheus.CounterVec
	tick           prometheus.Gauge
	paused         *prometheus.GaugeVec
}

var (
	marketOnce     sync.Once
	marketRegistry *MarketMetrics
)

// Market returns the process-wide market metrics, registering them on first
// use.
func Market() *MarketMetrics {
	marketOnce.Do(func() {
		marketRegistry = &MarketMetrics{
			commands: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "gridmarket",
				Name:      "commands_total",
				Help:      "Commands applied by the engine segmented by command and outcome.",
			}, []string{"command", "outcome"}),
			hookFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "gridmarket",
				Name:      "tick_hook_failures_total",
				Help:      "Tick hooks that failed and were rolled back.",
			}, []string{"hook"}),
			sweepItems: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "gridmarket",
				Name:      "sweep_items_total",
				Help:      "Items visited by the expiry sweeps and the health check.",
			}, []string{"sweep", "outcome"}),
			penalties: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "gridmarket",
				Name:      "fault_penalties_total",
				Help:      "Provider fault penalties segmented by whether the stake could be seized.",
			}, []string{"applied"}),
			rewardEntries: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "gridmarket",
				Name:      "reward_entries_processed_total",
				Help:      "Reward dataset entries credited by the reward cycle.",
			}),
			rewardQueue: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "gridmarket",
				Name:      "reward_queue_tasks",
				Help:      "Reward tasks waiting in the queue, including the running one.",
			}),
			rewardCredited: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "gridmarket",
				Name:      "reward_credited_total",
				Help:      "Income credited by the reward cycle in base units.",
			}),
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "gridmarket",
				Name:      "events_total",
				Help:      "Events published by the engine segmented by type.",
			}, []string{"type"}),
			tick: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "gridmarket",
				Name:      "tick",
				Help:      "Last tick processed by the engine.",
			}),
			paused: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "gridmarket",
				Name:      "module_paused",
				Help:      "Set to 1 while a module rejects commands.",
			}, []string{"module"}),
		}
		prometheus.MustRegister(
			marketRegistry.commands,
			marketRegistry.hookFailures,
			marketRegistry.sweepItems,
			marketRegistry.penalties,
			marketRegistry.rewardEntries,
			marketRegistry.rewardQueue,
			marketRegistry.rewardCredited,
			marketRegistry.events,
			marketRegistry.tick,
			marketRegistry.paused,
		)
	})
	return marketRegistry
}

func (m *MarketMetrics) ObserveCommand(command string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.commands.WithLabelValues(label(command), outcome).Inc()
}

func (m *MarketMetrics) IncHookFailure(hook string) {
	if m == nil {
		return
	}
	m.hookFailures.WithLabelValues(label(hook)).Inc()
}

// ObserveSweepItem records one sweep member. Outcomes should be stable
// strings such as "finished", "removed", "punished" or "error".
func (m *MarketMetrics) ObserveSweepItem(sweep, outcome string) {
	if m == nil {
		return
	}
	m.sweepItems.WithLabelValues(label(sweep), label(outcome)).Inc()
}

func (m *MarketMetrics) ObservePenalty(applied bool) {
	if m == nil {
		return
	}
	value := "false"
	if applied {
		value = "true"
	}
	m.penalties.WithLabelValues(value).Inc()
}

func (m *MarketMetrics) ObserveRewardSlice(processed uint64, credited *big.Int, queued int) {
	if m == nil {
		return
	}
	m.rewardEntries.Add(float64(processed))
	if credited != nil && credited.Sign() > 0 {
		m.rewardCredited.Add(bigToFloat(credited))
	}
	m.rewardQueue.Set(float64(queued))
}

func (m *MarketMetrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(label(eventType)).Inc()
}

func (m *MarketMetrics) SetTick(tick uint64) {
	if m == nil {
		return
	}
	m.tick.Set(float64(tick))
}

func (m *MarketMetrics) SetPaused(module string, paused bool) {
	if m == nil {
		return
	}
	value := 0.0
	if paused {
		value = 1
	}
	m.paused.WithLabelValues(label(module)).Set(value)
}

func label(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "unknown"
	}
	return v
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(value).Float64()
	if math.IsInf(f, 0) {
		return math.MaxFloat64
	}
	return f
}
