package komodoerr_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clydebarrow/komodo/komodoerr"
)

func TestErrorsAsDistinguishesKinds(t *testing.T) {
	var err error = &komodoerr.Duplicate{Collection: "widgets", IndexName: "primary"}

	var dup *komodoerr.Duplicate
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, "widgets", dup.Collection)

	var unknown *komodoerr.UnknownIndex
	assert.False(t, errors.As(err, &unknown))
}

func TestBackendFailureUnwrapsToCause(t *testing.T) {
	cause := errors.New("disk full")
	wrapped := komodoerr.NewBackendFailure(cause)

	assert.ErrorIs(t, wrapped, cause)
	assert.NotEmpty(t, wrapped.Stack())
}
