package market

import (
	"fmt"

	coreerrors "gridmarket/core/errors"
	"gridmarket/core/events"
	nativecommon "gridmarket/native/common"
)

var pausePrefix = []byte("market/paused/")

func pauseKey(module string) []byte {
	return append(append([]byte{}, pausePrefix...), module...)
}

// IsPaused reports whether module currently rejects commands.
func (e *Engine) IsPaused(module string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isPaused(module)
}

// pauseView reads the pause switches of an engine whose lock is held.
type pauseView struct{ e *Engine }

func (p pauseView) IsPaused(module string) bool { return p.e.isPaused(module) }

// isPaused treats read errors as not paused and logs them.
func (e *Engine) isPaused(module string) bool {
	var paused bool
	ok, err := e.state.KVGet(pauseKey(module), &paused)
	if err != nil {
		e.logger.Error("market: read pause switch", "module", module, "error", err)
		return false
	}
	return ok && paused
}

func (e *Engine) guard(module string) error {
	if err := nativecommon.Guard(pauseView{e}, module); err != nil {
		return fmt.Errorf("market: %s: %w", module, err)
	}
	return nil
}

// PauseModule makes module reject commands until ResumeModule is called.
// Tick hooks keep running, except the reward cycle which halts in place.
func (e *Engine) PauseModule(module string) error {
	return e.setPaused("pause_module", module, true)
}

// ResumeModule lifts a pause.
func (e *Engine) ResumeModule(module string) error {
	return e.setPaused("resume_module", module, false)
}

func (e *Engine) setPaused(command, module string, paused bool) error {
	if !nativecommon.KnownModule(module) {
		err := fmt.Errorf("market: module %q: %w", module, coreerrors.ErrUnknownModule)
		e.metrics.ObserveCommand(command, err)
		return err
	}
	err := e.apply(command, "", func() error {
		if paused {
			if err := e.state.KVPut(pauseKey(module), true); err != nil {
				return err
			}
		} else if err := e.state.KVDelete(pauseKey(module)); err != nil {
			return err
		}
		e.buffer.Emit(events.ModulePause{Module: module, Paused: paused})
		return nil
	})
	if err == nil {
		e.metrics.SetPaused(module, paused)
	}
	return err
}

// PausedModules returns the pause switch of every module.
func (e *Engine) PausedModules() map[string]bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]bool, len(nativecommon.Modules))
	for _, module := range nativecommon.Modules {
		out[module] = e.isPaused(module)
	}
	return out
}
