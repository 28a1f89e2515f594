package oracle

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ParseCoverageProfile reads a coverage summary emitted by the
// Coverage-profile binary's run, one line per symbol: "<symbol>\t<hit
// count>\t<total lines>\t<covered lines>". This is the pipeline's internal
// textual rendering of whatever `llvm-profdata`/`llvm-cov export` would
// otherwise produce; the field this predicate actually depends on —
// per-symbol hit/miss — is preserved exactly.
func ParseCoverageProfile(path string) (Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return Summary{}, err
	}
	defer f.Close()

	summary := Summary{CoveredSymbols: make(map[string]bool)}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 4 {
			return Summary{}, fmt.Errorf("malformed coverage line %q", line)
		}
		symbol := fields[0]
		hits, err := strconv.Atoi(fields[1])
		if err != nil {
			return Summary{}, fmt.Errorf("malformed hit count in %q: %w", line, err)
		}
		total, err := strconv.Atoi(fields[2])
		if err != nil {
			return Summary{}, fmt.Errorf("malformed total-lines in %q: %w", line, err)
		}
		covered, err := strconv.Atoi(fields[3])
		if err != nil {
			return Summary{}, fmt.Errorf("malformed covered-lines in %q: %w", line, err)
		}
		if hits > 0 {
			summary.CoveredSymbols[symbol] = true
		}
		summary.TotalLines += total
		summary.CoveredLines += covered
	}
	if err := scanner.Err(); err != nil {
		return Summary{}, err
	}
	return summary, nil
}

// DumpFuzzerCoverage renders a human-readable coverage report for a failed
// Coverage stage (dump_fuzzer_coverage, SPEC_FULL.md §7, 4.2 step 5),
// returned as the ProgramError's message.
func DumpFuzzerCoverage(summary Summary, targetPath []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "coverage %.1f%% (%d/%d lines)\n", summary.Percentage(), summary.CoveredLines, summary.TotalLines)
	for _, sym := range targetPath {
		status := "MISSED"
		if summary.CoveredSymbols[sym] {
			status = "hit"
		}
		fmt.Fprintf(&b, "  %s: %s\n", sym, status)
	}
	return b.String()
}
