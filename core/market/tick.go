package market

import (
	"fmt"
	"math/big"

	nativecommon "gridmarket/native/common"
	"gridmarket/native/rewards"
)

// Tick hook names, used in logs and metrics.
const (
	HookAgreementExpiry = "agreement_expiry"
	HookResourceExpiry  = "resource_expiry"
	HookHealthCheck     = "health_check"
	HookProviderEpoch   = "provider_epoch"
	HookClientEpoch     = "client_epoch"
	HookRewardStep      = "reward_step"
)

// TickReport summarises what one tick did.
type TickReport struct {
	Tick               uint64
	AgreementsFinished int
	ResourcesRemoved   int
	HealthChecked      bool
	Punished           int
	// EpochTasks lists the reward tasks queued by the epoch trigger.
	EpochTasks []uint64
	Reward     rewards.StepResult
	// Failures counts sweep members and hooks that were rolled back.
	Failures int
}

// Tick advances the market clock by one and runs the per-tick hooks in order:
// agreement expiry, resource expiry, the periodic health check, one page of
// each epoch reward snapshot and one bounded step of the reward cycle. Each hook commits
// on its own; a failing hook is rolled back and logged without stopping the
// others. The new tick is persisted last.
func (e *Engine) Tick() (TickReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev := e.tick
	now := prev + 1
	e.tick = now
	report := TickReport{Tick: now}

	e.runHook(HookAgreementExpiry, &report, func() error {
		outcomes, err := e.rental.SweepExpired(now)
		if err != nil {
			return err
		}
		for _, o := range outcomes {
			if o.Err != nil {
				report.Failures++
				e.metrics.ObserveSweepItem(HookAgreementExpiry, "error")
				e.logger.Warn("market: agreement expiry failed", "tick", now, "agreement", o.AgreementIndex, "error", o.Err)
				continue
			}
			if o.Finished {
				report.AgreementsFinished++
				e.metrics.ObserveSweepItem(HookAgreementExpiry, "finished")
			}
		}
		return nil
	})

	e.runHook(HookResourceExpiry, &report, func() error {
		outcomes, err := e.registry.SweepExpired(now)
		if err != nil {
			return err
		}
		for _, o := range outcomes {
			if o.Err != nil {
				report.Failures++
				e.metrics.ObserveSweepItem(HookResourceExpiry, "error")
				e.logger.Warn("market: resource expiry failed", "tick", now, "resource", o.Index, "error", o.Err)
				continue
			}
			if o.Removed {
				report.ResourcesRemoved++
				e.metrics.ObserveSweepItem(HookResourceExpiry, "removed")
			}
		}
		return nil
	})

	if period := e.params.Rental.HealthCheckPeriod; period > 0 && now%period == 0 {
		report.HealthChecked = true
		e.runHook(HookHealthCheck, &report, func() error {
			outcomes, err := e.rental.HealthCheck(now)
			if err != nil {
				return err
			}
			for _, o := range outcomes {
				if o.Err != nil {
					report.Failures++
					e.metrics.ObserveSweepItem(HookHealthCheck, "error")
					e.logger.Warn("market: health check failed", "tick", now, "agreement", o.AgreementIndex, "error", o.Err)
					continue
				}
				if !o.Punished {
					continue
				}
				report.Punished++
				e.metrics.ObserveSweepItem(HookHealthCheck, "punished")
				e.metrics.ObservePenalty(o.PenaltyErr == nil)
				if o.PenaltyErr != nil {
					e.logger.Warn("market: fault penalty not applied", "tick", now, "agreement", o.AgreementIndex, "error", o.PenaltyErr)
				}
			}
			return nil
		})
	}

	rewardsPaused := e.guard(nativecommon.ModuleRewards) != nil
	if !rewardsPaused {
		epoch := e.params.EpochLength > 0 && now%e.params.EpochLength == 0
		e.runHook(HookProviderEpoch, &report, func() error {
			return e.epochSnapshot(&report, epoch, rewards.VariantProvider, e.params.ProviderEpochPayout, rewards.ProviderSource(e.registry))
		})
		e.runHook(HookClientEpoch, &report, func() error {
			return e.epochSnapshot(&report, epoch, rewards.VariantClient, e.params.ClientEpochPayout, rewards.ClientSource(e.rental))
		})
	}

	if !rewardsPaused {
		e.runHook(HookRewardStep, &report, func() error {
			result, err := e.rewards.Step()
			if err != nil {
				return err
			}
			report.Reward = result
			if result.Active {
				queue, err := e.rewards.Queue()
				if err != nil {
					return err
				}
				e.metrics.ObserveRewardSlice(result.Processed, result.Credited, len(queue.Tasks))
			}
			return nil
		})
	}

	if err := e.applyLocked("", func() error { return e.state.SetUint64(tickKey, now) }); err != nil {
		e.tick = prev
		return report, fmt.Errorf("market: persist tick %d: %w", now, err)
	}
	e.metrics.SetTick(now)
	if report.Failures > 0 || report.AgreementsFinished > 0 || report.ResourcesRemoved > 0 || report.Punished > 0 {
		e.logger.Info("market tick",
			"tick", now,
			"agreementsFinished", report.AgreementsFinished,
			"resourcesRemoved", report.ResourcesRemoved,
			"punished", report.Punished,
			"failures", report.Failures)
	}
	return report, nil
}

func (e *Engine) runHook(name string, report *TickReport, fn func() error) {
	if err := e.applyLocked("", fn); err != nil {
		report.Failures++
		e.metrics.IncHookFailure(name)
		e.logger.Error("market: tick hook failed", "hook", name, "tick", e.tick, "error", err)
	}
}

// epochSnapshot opens the snapshot of variant on an epoch tick, then collects
// one bounded page of the open snapshot, if any. Tasks queued when the
// snapshot completes are recorded in the report.
func (e *Engine) epochSnapshot(report *TickReport, epoch bool, variant rewards.Variant, payout *big.Int, src rewards.Source) error {
	if epoch && payout != nil && payout.Sign() > 0 {
		started, err := e.rewards.BeginEpoch(variant, payout)
		if err != nil {
			return err
		}
		if !started {
			e.logger.Warn("market: epoch skipped, previous snapshot still collecting", "variant", variant.String(), "tick", e.tick)
		}
	}
	result, err := e.rewards.CollectEpoch(variant, src)
	if err != nil {
		return err
	}
	report.EpochTasks = append(report.EpochTasks, result.Queued...)
	return nil
}

// CurrentTick returns the last processed tick.
func (e *Engine) CurrentTick() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tick
}
