package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindOfWrapped(t *testing.T) {
	err := fmt.Errorf("staking: lock: %w", ErrInsufficientActive)
	require.True(t, stderrors.Is(err, ErrInsufficientActive))
	require.Equal(t, KindEconomic, KindOf(err))
	require.Equal(t, KindCapacity, KindOf(ErrCapacityExceeded))
	require.Equal(t, KindState, KindOf(fmt.Errorf("x: %w", ErrResourceHasBeenRented)))
	require.Equal(t, KindInternal, KindOf(stderrors.New("disk on fire")))
	require.Equal(t, KindInternal, KindOf(nil))
	require.Equal(t, "validation", KindOf(ErrNotOwner).String())
}
