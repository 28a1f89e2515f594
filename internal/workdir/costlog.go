package workdir

import (
	"encoding/json"
	"fmt"
	"os"
)

// CostLog is the WorkDir's per-stage timing record (SPEC_FULL.md §9: "cost"
// file mapping stage-name → seconds). Keys are one of syntax, link, execute,
// fuzz, coverage, update.
type CostLog map[string]float64

// LoadCostLog reads a WorkDir's cost file, returning an empty CostLog if it
// does not yet exist.
func LoadCostLog(path string) (CostLog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return CostLog{}, nil
		}
		return nil, fmt.Errorf("failed to read cost log %s: %w", path, err)
	}
	var log CostLog
	if err := json.Unmarshal(data, &log); err != nil {
		return nil, fmt.Errorf("failed to parse cost log %s: %w", path, err)
	}
	return log, nil
}

// Record sets the timing for a stage and persists the whole log.
func (c CostLog) Record(path, stage string, seconds float64) error {
	c[stage] = seconds
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cost log: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write cost log %s: %w", path, err)
	}
	return nil
}
