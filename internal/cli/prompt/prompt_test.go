package prompt

import (
	"errors"
	"fmt"
	"testing"

	"github.com/manifoldco/promptui"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsAborted(t *testing.T) {
	assert.True(t, IsAborted(ErrAborted))
	assert.True(t, IsAborted(promptui.ErrInterrupt))
	assert.True(t, IsAborted(promptui.ErrAbort))
	assert.True(t, IsAborted(fmt.Errorf("prompt: %w", promptui.ErrInterrupt)))
	assert.False(t, IsAborted(nil))
	assert.False(t, IsAborted(errors.New("disk full")))
}

func TestWrapError(t *testing.T) {
	require.NoError(t, wrapError(nil))
	assert.ErrorIs(t, wrapError(promptui.ErrInterrupt), ErrAborted)
	assert.ErrorIs(t, wrapError(promptui.ErrAbort), ErrAborted)

	passthrough := errors.New("disk full")
	assert.Equal(t, passthrough, wrapError(passthrough))
}
