package validator

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindVerdictMapping(t *testing.T) {
	t.Parallel()

	require.Equal(t, VerdictValid, KindValid.Verdict())
	require.Equal(t, VerdictInvalid, KindInvalidTerminal.Verdict())
	require.Equal(t, VerdictInvalid, KindInvalidRetryable.Verdict())
	require.Equal(t, VerdictError, KindFatalError.Verdict())
	require.Equal(t, "invalid_retryable", KindInvalidRetryable.String())
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	s := Summarize([]Result{
		{Verdict: VerdictValid},
		{Verdict: VerdictInvalid},
		{Verdict: VerdictError},
		{Verdict: VerdictValid},
	})
	require.Equal(t, Summary{Total: 4, Valid: 2, Invalid: 1, Errors: 1}, s)
}

func TestConfigurationErrorWrapping(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("build pool: %w", NewConfigurationError("credentials", ErrNoCredentialsConfigured))
	require.True(t, IsConfigurationError(err))
	require.True(t, errors.Is(err, ErrNoCredentialsConfigured))
	require.Contains(t, err.Error(), "configuration credentials: no credentials configured")
	require.False(t, IsConfigurationError(errors.New("boom")))
}
