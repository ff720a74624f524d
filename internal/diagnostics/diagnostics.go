// Package diagnostics runs VPN-specific health checks over container logs.
package diagnostics

import "regexp"

// Result is the outcome of one diagnostic check.
type Result struct {
	Check          string
	Passed         bool
	Message        string
	Recommendation string
	// Persistent marks a problem that matched more than once, which
	// usually means it survives container restarts.
	Persistent bool
}

type pattern struct {
	check          string
	re             *regexp.Regexp
	message        string
	recommendation string
}

// Analyzer matches known failure signatures in tunnel logs.
type Analyzer struct {
	patterns []pattern
}

// NewAnalyzer returns an analyzer with the built-in failure signatures.
func NewAnalyzer() *Analyzer {
	return &Analyzer{patterns: []pattern{
		{
			check:          "auth_failure",
			re:             regexp.MustCompile(`(?i)AUTH_FAILED|authentication (failed|failure)`),
			message:        "Authentication failure detected",
			recommendation: "Verify credentials and provider configuration.",
		},
		{
			check:          "tls_error",
			re:             regexp.MustCompile(`(?i)tls|certificate|ssl`),
			message:        "TLS or certificate issue detected",
			recommendation: "Check certificates and TLS settings.",
		},
		{
			check:          "dns_error",
			re:             regexp.MustCompile(`(?i)(dns (resolution|lookup) failed)|no such host`),
			message:        "DNS resolution failure detected",
			recommendation: "Verify DNS settings or server availability.",
		},
	}}
}

// AnalyzeLogs scans log lines for failure signatures. A clean log yields a
// single passing result.
func (a *Analyzer) AnalyzeLogs(lines []string) []Result {
	counts := make([]int, len(a.patterns))
	for _, line := range lines {
		for i, p := range a.patterns {
			if p.re.MatchString(line) {
				counts[i]++
			}
		}
	}

	var results []Result
	for i, p := range a.patterns {
		if counts[i] == 0 {
			continue
		}
		results = append(results, Result{
			Check:          p.check,
			Passed:         false,
			Message:        p.message,
			Recommendation: p.recommendation,
			Persistent:     counts[i] > 1,
		})
	}
	if len(results) == 0 {
		results = append(results, Result{Check: "logs", Passed: true, Message: "No critical log errors"})
	}
	return results
}
