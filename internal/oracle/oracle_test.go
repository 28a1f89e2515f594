package oracle

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLongestAPIPathPredicateFailsOnMissingSymbol(t *testing.T) {
	p, err := New("longest_api_path", nil)
	require.NoError(t, err)

	summary := Summary{CoveredSymbols: map[string]bool{"cJSON_Parse": true}}
	require.True(t, p.Fails(summary, []string{"cJSON_Parse", "cJSON_GetObjectItem"}))
	require.False(t, p.Fails(summary, []string{"cJSON_Parse"}))
}

func TestParseCoverageProfileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coverage.summary")
	content := "cJSON_Parse\t5\t20\t18\ncJSON_GetObjectItem\t0\t10\t0\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	summary, err := ParseCoverageProfile(path)
	require.NoError(t, err)
	require.True(t, summary.CoveredSymbols["cJSON_Parse"])
	require.False(t, summary.CoveredSymbols["cJSON_GetObjectItem"])
	require.Equal(t, 30, summary.TotalLines)
	require.Equal(t, 18, summary.CoveredLines)
}

func TestDumpFuzzerCoverageReportsMissedSymbols(t *testing.T) {
	summary := Summary{
		CoveredSymbols: map[string]bool{"a": true},
		TotalLines:     10,
		CoveredLines:   6,
	}
	out := DumpFuzzerCoverage(summary, []string{"a", "b"})
	require.Contains(t, out, "a: hit")
	require.Contains(t, out, "b: MISSED")
	require.Contains(t, out, "60.0%")
}
