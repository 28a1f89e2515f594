// Package billing implements the LLM usage counters SPEC_FULL.md §9
// describes living at output/<lib>/misc/openai_usage: three space-separated
// numbers (prompt tokens, completion tokens, dollars spent). Unlike every
// other persisted file in this pipeline it is NOT JSON — the on-disk format
// is dictated by the spec, not by the teacher's usual serialization choice,
// so this package intentionally does not reuse encoding/json. The
// load-mutate-save-under-mutex shape is still grounded on the teacher's
// internal/state.FileManager.
package billing

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

// FileName is the name of the persisted usage counter file.
const FileName = "openai_usage"

// Counters is process-wide mutable state for the LLM backend's usage
// accounting (SPEC_FULL.md §5: "Shared-resource policy... protected by
// their single-threaded runtime; not touched during sanitization").
type Counters struct {
	mu               sync.Mutex
	filePath         string
	PromptTokens     uint64
	CompletionTokens uint64
	Dollars          float64
}

// NewCounters creates Counters backed by dir/openai_usage.
func NewCounters(dir string) *Counters {
	return &Counters{filePath: dir + string(os.PathSeparator) + FileName}
}

// Load reads the three-space-separated-number file, treating a missing
// file as all-zero counters.
func (c *Counters) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			c.PromptTokens, c.CompletionTokens, c.Dollars = 0, 0, 0
			return nil
		}
		return fmt.Errorf("failed to read usage counters %s: %w", c.filePath, err)
	}

	fields := strings.Fields(string(data))
	if len(fields) != 3 {
		return fmt.Errorf("malformed usage counters file %s: expected 3 fields, got %d", c.filePath, len(fields))
	}
	prompt, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return fmt.Errorf("malformed prompt token count: %w", err)
	}
	completion, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return fmt.Errorf("malformed completion token count: %w", err)
	}
	dollars, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return fmt.Errorf("malformed dollar amount: %w", err)
	}
	c.PromptTokens, c.CompletionTokens, c.Dollars = prompt, completion, dollars
	return nil
}

// Save persists the three counters as space-separated numbers.
func (c *Counters) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveLocked()
}

func (c *Counters) saveLocked() error {
	line := fmt.Sprintf("%d %d %s", c.PromptTokens, c.CompletionTokens, strconv.FormatFloat(c.Dollars, 'f', -1, 64))
	if err := os.WriteFile(c.filePath, []byte(line), 0644); err != nil {
		return fmt.Errorf("failed to write usage counters %s: %w", c.filePath, err)
	}
	return nil
}

// Record adds one request's usage to the running totals and persists the
// result immediately, matching the teacher's FileManager methods that
// mutate-then-save in one call rather than batching writes.
func (c *Counters) Record(promptTokens, completionTokens uint64, dollars float64) error {
	c.mu.Lock()
	c.PromptTokens += promptTokens
	c.CompletionTokens += completionTokens
	c.Dollars += dollars
	err := c.saveLocked()
	c.mu.Unlock()
	return err
}
