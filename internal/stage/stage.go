// Package stage implements StageRunner (SPEC_FULL.md §7, component C): the
// five-stage Syntax→Link→Execute→Fuzz→Coverage pipeline every candidate
// passes through before CorpusEvolver ever sees it. Grounded on the
// teacher's internal/seed_executor (the synchronous, timeout-bounded exec
// pattern StageRunner reuses for Execute/Fuzz) and internal/state (the
// load-mutate-save cost-log bookkeeping, here via workdir.CostLog).
package stage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/defuzzforge/defuzzforge/internal/oracle"
	"github.com/defuzzforge/defuzzforge/internal/program"
	"github.com/defuzzforge/defuzzforge/internal/toolchain"
	"github.com/defuzzforge/defuzzforge/internal/workdir"
)

// CoverageCollector runs a Coverage-profile binary over a set of corpus
// directories and produces a coverage summary oracle.ParseCoverageProfile
// can read. Implemented as an interface so tests can substitute a fake
// without a real llvm-profdata/llvm-cov toolchain.
type CoverageCollector interface {
	Collect(binary string, corpusDirs []string, summaryPath string) error
}

// ToolchainDriver is the subset of toolchain.Driver's behavior StageRunner
// depends on. Declared as an interface (rather than taking *toolchain.Driver
// directly) so tests can substitute a fake compiler/executor without
// shelling out to a real toolchain.
type ToolchainDriver interface {
	Compile(sources []string, out string, profile toolchain.Profile) (*toolchain.CompileResult, error)
	ExecuteOne(binary, inputFile string) (toolchain.ExecResult, string, error)
	ExecuteFuzzer(binary string, corpusDirs []string) (toolchain.ExecResult, string, error)
}

// Config bundles a Runner's fixed, per-library dependencies.
type Config struct {
	Driver       ToolchainDriver
	Predicate    oracle.Predicate
	Coverage     CoverageCollector
	SharedCorpus string
	InitFilePath string // optional; copied into every WorkDir if non-empty
}

// Runner is StageRunner.
type Runner struct {
	cfg Config
}

// New creates a Runner bound to a target library's toolchain, coverage
// predicate, and coverage collector.
func New(cfg Config) *Runner {
	return &Runner{cfg: cfg}
}

// Run executes all five stages in order for p inside w, stopping at the
// first failure. A nil return means the candidate was accepted; CorpusEvolver
// itself runs afterward on BatchSupervisor's main process, never here
// (SPEC_FULL.md §8) — Run's only remaining job past acceptance is compiling
// the Minimize-profile binary the Supervisor's evolve pass will invoke.
func (r *Runner) Run(p *program.Program, w *workdir.WorkDir) *program.ProgramError {
	costs, err := workdir.LoadCostLog(w.CostLogPath())
	if err != nil {
		costs = workdir.CostLog{}
	}
	record := func(stage string, start time.Time) {
		_ = costs.Record(w.CostLogPath(), stage, time.Since(start).Seconds())
	}

	// 1. Syntax.
	start := time.Now()
	res, err := r.cfg.Driver.Compile([]string{w.SourcePath}, "", toolchain.Syntax)
	record("syntax", start)
	if err != nil {
		return program.Syntax("%s", err.Error())
	}
	if !res.Success {
		return program.Syntax("%s", res.Stderr)
	}

	// 2. Link.
	start = time.Now()
	if err := rewriteSource(w.SourcePath, RemoveDuplicateDefinitions); err != nil {
		return program.Link("failed to run duplicate-definition remover: %s", err.Error())
	}
	res, err = r.cfg.Driver.Compile([]string{w.SourcePath}, w.FuzzerBinary(), toolchain.Fuzzer)
	record("link", start)
	if err != nil {
		return program.Link("%s", err.Error())
	}
	if !res.Success {
		return program.Link("%s", res.Stderr)
	}

	// 3. Execute.
	start = time.Now()
	if err := rewriteSource(w.SourcePath, func(s string) string {
		return GenericPreprocess(GuardFileDescriptors(s))
	}); err != nil {
		return program.Execute("failed to run fd-guard/preprocess: %s", err.Error())
	}
	if r.cfg.InitFilePath != "" {
		if err := copyFile(r.cfg.InitFilePath, filepath.Join(w.Root, filepath.Base(r.cfg.InitFilePath))); err != nil {
			return program.Execute("failed to copy init file: %s", err.Error())
		}
	}
	res, err = r.cfg.Driver.Compile([]string{w.SourcePath}, w.FuzzerBinary(), toolchain.Fuzzer)
	if err != nil {
		record("execute", start)
		return program.Execute("recompile before execute failed: %s", err.Error())
	}
	if !res.Success {
		record("execute", start)
		return program.Execute("%s", res.Stderr)
	}

	inputs, err := corpusInputFiles(r.cfg.SharedCorpus)
	if err != nil {
		record("execute", start)
		return program.Execute("failed to list shared corpus: %s", err.Error())
	}
	for _, input := range inputs {
		outcome, stderr, err := r.cfg.Driver.ExecuteOne(w.FuzzerBinary(), input)
		if err != nil {
			record("execute", start)
			return program.Execute("%s", err.Error())
		}
		switch outcome {
		case toolchain.TimedOut:
			record("execute", start)
			return program.Hang("execution of %s exceeded timeout", filepath.Base(input))
		case toolchain.ExecError:
			record("execute", start)
			return program.Execute("%s", stderr)
		}
	}
	record("execute", start)

	// 4. Fuzz.
	start = time.Now()
	corpusDirs := []string{w.CorpusDir, r.cfg.SharedCorpus}
	outcome, stderr, err := r.cfg.Driver.ExecuteFuzzer(w.FuzzerBinary(), corpusDirs)
	record("fuzz", start)
	if err != nil {
		return program.Fuzzer("%s", err.Error())
	}
	if outcome != toolchain.Ok {
		return program.Fuzzer("%s", stderr)
	}

	// 5. Coverage.
	start = time.Now()
	res, err = r.cfg.Driver.Compile([]string{w.SourcePath}, w.CoverageBinary(), toolchain.Coverage)
	if err != nil {
		record("coverage", start)
		return program.Coverage("%s", err.Error())
	}
	if !res.Success {
		record("coverage", start)
		return program.Coverage("%s", res.Stderr)
	}

	summaryPath := filepath.Join(w.Root, "coverage.summary")
	if err := r.cfg.Coverage.Collect(w.CoverageBinary(), corpusDirs, summaryPath); err != nil {
		record("coverage", start)
		return program.Coverage("failed to collect coverage: %s", err.Error())
	}
	summary, err := oracle.ParseCoverageProfile(summaryPath)
	if err != nil {
		record("coverage", start)
		return program.Coverage("failed to parse coverage profile: %s", err.Error())
	}
	record("coverage", start)

	if r.cfg.Predicate.Fails(summary, p.Combination) {
		return program.Coverage("%s", oracle.DumpFuzzerCoverage(summary, p.Combination))
	}

	// Accepted: compile the Minimize-profile binary CorpusEvolver will run
	// in merge mode. The merge/feature-store update itself is the
	// Supervisor's responsibility, not this worker's.
	start = time.Now()
	res, err = r.cfg.Driver.Compile([]string{w.SourcePath}, w.EvolveBinary(), toolchain.Minimize)
	record("update", start)
	if err != nil {
		return program.Coverage("failed to compile minimize binary: %s", err.Error())
	}
	if !res.Success {
		return program.Coverage("%s", res.Stderr)
	}
	return nil
}

func rewriteSource(path string, transform func(string) string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	rewritten := transform(string(data))
	return os.WriteFile(path, []byte(rewritten), 0644)
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}

func corpusInputFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	return files, nil
}

// DefaultCoverageCollector runs the compiled coverage binary as a fuzzer
// over corpusDirs for a bounded duration, then, if the run left no file at
// summaryPath, writes an empty one there. Target libraries typically
// supply their own CoverageCollector backed by llvm-profdata/llvm-cov;
// this implementation exists so the pipeline still produces a (possibly
// empty) summary when one isn't wired up, rather than failing to build.
type DefaultCoverageCollector struct {
	Driver *toolchain.Driver
}

func (c DefaultCoverageCollector) Collect(binary string, corpusDirs []string, summaryPath string) error {
	if _, _, err := c.Driver.ExecuteFuzzer(binary, corpusDirs); err != nil {
		return fmt.Errorf("coverage run failed: %w", err)
	}
	if _, err := os.Stat(summaryPath); err == nil {
		return nil
	}
	return os.WriteFile(summaryPath, nil, 0644)
}
