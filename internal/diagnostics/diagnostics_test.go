package diagnostics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resultByCheck(results []Result, check string) (Result, bool) {
	for _, r := range results {
		if r.Check == check {
			return r, true
		}
	}
	return Result{}, false
}

func TestAnalyzeCleanLogs(t *testing.T) {
	a := NewAnalyzer()
	results := a.AnalyzeLogs([]string{
		"2026-08-26 INFO tunnel up",
		"2026-08-26 INFO healthy",
	})
	require.Len(t, results, 1)
	assert.True(t, results[0].Passed)
	assert.Equal(t, "logs", results[0].Check)
}

func TestAnalyzeAuthFailure(t *testing.T) {
	a := NewAnalyzer()
	results := a.AnalyzeLogs([]string{"AUTH_FAILED: bad credentials"})

	r, ok := resultByCheck(results, "auth_failure")
	require.True(t, ok)
	assert.False(t, r.Passed)
	assert.False(t, r.Persistent)
	assert.NotEmpty(t, r.Recommendation)
}

func TestAnalyzeRepeatedFailureIsPersistent(t *testing.T) {
	a := NewAnalyzer()
	results := a.AnalyzeLogs([]string{
		"dns resolution failed for host a",
		"lookup b: no such host",
	})

	r, ok := resultByCheck(results, "dns_error")
	require.True(t, ok)
	assert.True(t, r.Persistent)
}

func TestAnalyzeMultipleSignatures(t *testing.T) {
	a := NewAnalyzer()
	results := a.AnalyzeLogs([]string{
		"authentication failed",
		"certificate verify error",
	})
	require.Len(t, results, 2)

	_, ok := resultByCheck(results, "auth_failure")
	assert.True(t, ok)
	_, ok = resultByCheck(results, "tls_error")
	assert.True(t, ok)
}
