package errkind

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorIsMatchesByKind(t *testing.T) {
	err := New(Inconsistency, "corrupt_queue", "task store header is corrupt", nil)
	require.True(t, errors.Is(err, &Error{Kind: Inconsistency}))
	require.False(t, errors.Is(err, &Error{Kind: UserInput}))
}

func TestErrorIsMatchesByCode(t *testing.T) {
	err := New(ResourceLimit, "queue_full", "enqueued count exceeds limit", nil)
	require.True(t, errors.Is(err, &Error{Kind: ResourceLimit, Code: "queue_full"}))
	require.False(t, errors.Is(err, &Error{Kind: ResourceLimit, Code: "map_size_full"}))
}

func TestFatalOnlyForInconsistency(t *testing.T) {
	assert.True(t, Fatal(New(Inconsistency, "", "", nil)))
	assert.False(t, Fatal(New(Transient, "", "", nil)))
	assert.False(t, Fatal(errors.New("plain")))
}

func TestRetryableOnlyForTransient(t *testing.T) {
	assert.True(t, Retryable(New(Transient, "", "", nil)))
	assert.False(t, Retryable(New(UserInput, "", "", nil)))
}

func TestOfUnwrapsWrappedErrors(t *testing.T) {
	inner := New(NotFound, "no_such_index", "index does not exist", nil)
	wrapped := fmt.Errorf("submit: %w", inner)
	assert.Equal(t, NotFound, Of(wrapped))
}

func TestOfReturnsEmptyForPlainErrors(t *testing.T) {
	assert.Equal(t, Kind(""), Of(errors.New("plain")))
}
