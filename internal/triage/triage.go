// Package triage renders Markdown evidence reports for the WorkDirs
// preserved under the Hang/Fuzzer cleanup policy (SPEC_FULL.md §7, 4.5).
// Grounded on the teacher's internal/report.MarkdownReporter, generalized
// from a single Bug record to a Program plus its ProgramError and
// retained WorkDir artifacts.
package triage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/defuzzforge/defuzzforge/internal/program"
	"github.com/defuzzforge/defuzzforge/internal/workdir"
)

// Reporter saves a triage report for a preserved WorkDir to disk.
type Reporter interface {
	Save(p *program.Program, progErr *program.ProgramError, w *workdir.WorkDir) (string, error)
}

// MarkdownReporter writes one Markdown file per preserved WorkDir.
type MarkdownReporter struct {
	OutputDir string
}

// NewMarkdownReporter creates a MarkdownReporter writing under outputDir.
func NewMarkdownReporter(outputDir string) *MarkdownReporter {
	return &MarkdownReporter{OutputDir: outputDir}
}

// Save renders p's triage evidence and writes it to
// OutputDir/program_<id>_<kind>.md. Only called for Hang/Fuzzer verdicts
// (program.ProgramError.KeepsWorkDir), since those are the only verdicts
// whose WorkDir survives cleanup for a human to inspect.
func (r *MarkdownReporter) Save(p *program.Program, progErr *program.ProgramError, w *workdir.WorkDir) (string, error) {
	if err := os.MkdirAll(r.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create triage directory: %w", err)
	}

	costs, _ := workdir.LoadCostLog(w.CostLogPath())

	name := fmt.Sprintf("program_%06d_%s.md", p.ID, progErr.Kind)
	path := filepath.Join(r.OutputDir, name)

	var content string
	content += fmt.Sprintf("# Triage report: program %d (%s)\n\n", p.ID, progErr.Kind)
	content += fmt.Sprintf("## Verdict\n\n```\n%s\n```\n\n", progErr.Error())
	if len(p.Combination) > 0 {
		content += fmt.Sprintf("## Target combination\n\n%v\n\n", p.Combination)
	}
	content += fmt.Sprintf("## Stage timings (seconds)\n\n")
	for _, stage := range []string{"syntax", "link", "execute", "fuzz", "coverage", "update"} {
		if seconds, ok := costs[stage]; ok {
			content += fmt.Sprintf("- %s: %.3f\n", stage, seconds)
		}
	}
	content += fmt.Sprintf("\n## Source\n\n```c\n%s\n```\n\n", p.Source)
	content += fmt.Sprintf("## WorkDir\n\n`%s`\n", w.Root)

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("failed to write triage report %s: %w", path, err)
	}
	return path, nil
}
