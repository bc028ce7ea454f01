package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_IsMatchesKind(t *testing.T) {
	err := NotFound("payout.remove", "no rule for %s", "tf")

	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrAlreadyExists))
	assert.Equal(t, "payout.remove: no rule for tf", err.Error())
}

func TestError_WrappedChain(t *testing.T) {
	base := Arithmetic("finance.add", "overflow")
	wrapped := fmt.Errorf("allocate: %w", base)

	require.True(t, errors.Is(wrapped, ErrArithmetic))
	assert.Equal(t, KindArithmetic, KindOf(wrapped))
}

func TestWrap_UnwrapsCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(KindPrecondition, "run", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "run: PRECONDITION: disk full", err.Error())
}

func TestKindOf_Unclassified(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))
}
