package billing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileStartsZero(t *testing.T) {
	c := NewCounters(t.TempDir())
	require.NoError(t, c.Load())
	require.Zero(t, c.PromptTokens)
	require.Zero(t, c.CompletionTokens)
	require.Zero(t, c.Dollars)
}

func TestRecordPersistsThreeSpaceSeparatedNumbers(t *testing.T) {
	dir := t.TempDir()
	c := NewCounters(dir)
	require.NoError(t, c.Load())
	require.NoError(t, c.Record(100, 50, 0.0123))

	data, err := os.ReadFile(filepath.Join(dir, FileName))
	require.NoError(t, err)
	require.Equal(t, "100 50 0.0123", string(data))
}

func TestLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c := NewCounters(dir)
	require.NoError(t, c.Load())
	require.NoError(t, c.Record(10, 20, 1.5))
	require.NoError(t, c.Record(5, 5, 0.5))

	reloaded := NewCounters(dir)
	require.NoError(t, reloaded.Load())
	require.Equal(t, uint64(15), reloaded.PromptTokens)
	require.Equal(t, uint64(25), reloaded.CompletionTokens)
	require.Equal(t, 2.0, reloaded.Dollars)
}
