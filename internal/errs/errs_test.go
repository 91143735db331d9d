package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorFormattingIncludesStageAndFields(t *testing.T) {
	err := New(
		"okx",
		CodeAuth,
		WithStage("login"),
		WithMessage("login rejected"),
		WithRawCode("60009"),
		WithRawMessage("Login failed."),
		WithField("user", "u-1"),
		WithField("  ", "ignored"),
		WithCause(errors.New("boom")),
	)

	out := err.Error()
	require.Contains(t, out, "exchange=okx")
	require.Contains(t, out, "code=auth")
	require.Contains(t, out, "stage=login")
	require.Contains(t, out, `raw_code="60009"`)
	require.Contains(t, out, `fields=user="u-1"`)
	require.Contains(t, out, `cause="boom"`)
	require.NotContains(t, out, "ignored")
}

func TestUnknownDefaults(t *testing.T) {
	err := New("", "")
	require.Equal(t, "exchange=unknown code=unknown", err.Error())

	var nilErr *E
	require.Equal(t, "<nil>", nilErr.Error())
}

func TestCodeOfWalksWrappedChain(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := fmt.Errorf("ensure: %w", New("gate", CodeNetwork, WithCause(cause)))

	require.Equal(t, CodeNetwork, CodeOf(err))
	require.True(t, Is(err, CodeNetwork))
	require.False(t, Is(err, CodeAuth))
	require.ErrorIs(t, err, cause)
	require.Equal(t, Code(""), CodeOf(cause))
}
