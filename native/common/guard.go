package common

import coreerrors "gridmarket/core/errors"

// Module names accepted by the pause guard.
const (
	ModuleStaking  = "staking"
	ModuleRegistry = "registry"
	ModuleRental   = "rental"
	ModuleRewards  = "rewards"
)

// Modules lists every pausable module.
var Modules = []string{ModuleStaking, ModuleRegistry, ModuleRental, ModuleRewards}

// KnownModule reports whether name is a pausable module.
func KnownModule(name string) bool {
	for _, m := range Modules {
		if m == name {
			return true
		}
	}
	return false
}

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return coreerrors.ErrModulePaused
	}
	return nil
}
