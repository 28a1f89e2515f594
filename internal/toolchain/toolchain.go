// Package toolchain invokes the C/C++ compiler and fuzzer/coverage binaries
// on behalf of the sanitization pipeline (SPEC_FULL.md §7, component A:
// ToolchainDriver). Adapted from the teacher's internal/compiler (flag
// plumbing) and internal/seed_executor (context-timeout exec pattern),
// generalized to the four build profiles and two execution modes this
// pipeline needs.
package toolchain

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	executor "github.com/defuzzforge/defuzzforge/internal/exec"
)

// Profile selects a fixed flag set for Driver.Compile (SPEC_FULL.md §7, 4.1).
type Profile int

const (
	// Syntax performs a syntax-only check; no link.
	Syntax Profile = iota
	// Fuzzer links libFuzzer + ASan + UBSan.
	Fuzzer
	// Coverage links source-based coverage instrumentation.
	Coverage
	// Minimize is the Fuzzer profile plus a coverage ignorelist, used only
	// by CorpusEvolver.
	Minimize
)

// EXECUTION_TIMEOUT and MIN_FUZZ_TIME per SPEC_FULL.md §7, 4.1.
const (
	ExecutionTimeout = 180 * time.Second
	MinFuzzTime      = 60 * time.Second
)

// asanOptions is set for every execution, per SPEC_FULL.md §9: exit 168
// uniquely identifies a sanitizer-detected defect.
const asanOptions = "ASAN_OPTIONS=exitcode=168:alloc_dealloc_mismatch=0"

// SanitizerExitCode is the designated ASan exit code for a sanitizer-detected
// fault (spec Glossary: "Sanitizer exit 168").
const SanitizerExitCode = 168

// Config describes the fixed, per-library parts of the toolchain: compiler
// path, include search path, and the blocklist used by the Minimize profile.
type Config struct {
	CompilerPath     string
	IncludePath      string
	CoverageLibPath  string // the coverage-instrumented library to link against
	BlocklistPath    string // coverage ignorelist for the Minimize profile
	LibrarySoPath    string // library archive/object to link (Fuzzer/Coverage)
}

// Driver is the ToolchainDriver (SPEC_FULL.md §7, component A).
type Driver struct {
	cfg Config
	// exec runs the compiler itself. Compile has no timeout to enforce
	// (the compiler is trusted, unlike a candidate's own binary), so it
	// goes through the plain Executor interface rather than run's
	// context-bounded os/exec.CommandContext path.
	exec executor.Executor
}

// New creates a Driver bound to a library's toolchain configuration.
func New(cfg Config) *Driver {
	return &Driver{cfg: cfg, exec: executor.NewCommandExecutor()}
}

// CompileResult is the outcome of a single Compile call.
type CompileResult struct {
	Success bool
	Stderr  string
}

// flags returns the exact flag set for a profile (SPEC_FULL.md §7/§9).
func (d *Driver) flags(profile Profile, out string) []string {
	switch profile {
	case Syntax:
		f := []string{"-fsyntax-only"}
		if d.cfg.IncludePath != "" {
			f = append(f, "-I"+d.cfg.IncludePath)
		}
		return f
	case Fuzzer:
		f := []string{
			"-fsanitize=fuzzer", "-O1", "-g",
			"-fsanitize=address,undefined",
			"-ftrivial-auto-var-init=zero",
			"-enable-trivial-auto-var-init-zero-knowing-it-will-be-removed-from-clang",
			"-fsanitize-trap=undefined", "-fno-sanitize-recover=undefined",
			"-o", out,
		}
		if d.cfg.IncludePath != "" {
			f = append(f, "-I"+d.cfg.IncludePath)
		}
		if d.cfg.LibrarySoPath != "" {
			f = append(f, d.cfg.LibrarySoPath)
		}
		return f
	case Coverage:
		f := []string{
			"-fsanitize=fuzzer",
			"-fprofile-instr-generate", "-fcoverage-mapping",
			"-o", out,
		}
		if d.cfg.IncludePath != "" {
			f = append(f, "-I"+d.cfg.IncludePath)
		}
		if d.cfg.CoverageLibPath != "" {
			f = append(f, d.cfg.CoverageLibPath)
		} else if d.cfg.LibrarySoPath != "" {
			f = append(f, d.cfg.LibrarySoPath)
		}
		f = append(f, "-ldl", "-lm")
		return f
	case Minimize:
		f := d.flags(Fuzzer, out)
		if d.cfg.BlocklistPath != "" {
			f = append(f, "-fsanitize-coverage-ignorelist="+d.cfg.BlocklistPath)
		}
		return f
	default:
		return nil
	}
}

// Compile invokes the compiler against sources under the given profile.
// For Syntax, out is ignored (no link product).
func (d *Driver) Compile(sources []string, out string, profile Profile) (*CompileResult, error) {
	args := append([]string{}, sources...)
	args = append(args, d.flags(profile, out)...)

	result, err := d.exec.Run(d.cfg.CompilerPath, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to invoke compiler %s: %w", d.cfg.CompilerPath, err)
	}
	return &CompileResult{Success: result.ExitCode == 0, Stderr: result.Stderr}, nil
}

// ExecResult is the outcome of running a compiled candidate once.
type ExecResult int

const (
	Ok ExecResult = iota
	TimedOut
	ExecError
)

// ExecuteOne runs binary against a single input file with a wall-clock
// timeout of EXECUTION_TIMEOUT, per SPEC_FULL.md §7, 4.1.
func (d *Driver) ExecuteOne(binary, inputFile string) (ExecResult, string, error) {
	return d.run(binary, []string{inputFile}, ExecutionTimeout)
}

// ExecuteFuzzer runs binary in fuzzing mode against the given corpus
// directories for MIN_FUZZ_TIME, per SPEC_FULL.md §7, 4.1.
func (d *Driver) ExecuteFuzzer(binary string, corpusDirs []string) (ExecResult, string, error) {
	args := append([]string{fmt.Sprintf("-max_total_time=%d", int(MinFuzzTime.Seconds()))}, corpusDirs...)
	return d.run(binary, args, MinFuzzTime+5*time.Second)
}

// run executes binary with args under ctxTimeout, classifying the outcome.
func (d *Driver) run(binary string, args []string, ctxTimeout time.Duration) (ExecResult, string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Env = append(os.Environ(), asanOptions)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	if ctx.Err() == context.DeadlineExceeded {
		return TimedOut, stderr.String(), nil
	}

	if runErr == nil {
		return Ok, stderr.String(), nil
	}

	if _, ok := runErr.(*exec.ExitError); ok {
		return ExecError, stderr.String(), nil
	}

	return ExecError, stderr.String(), fmt.Errorf("failed to execute %s: %w", binary, runErr)
}

// ExitCode extracts a process exit code, handling signal terminations the
// way the teacher's seed_executor.getExitCode does (128+signal convention).
func ExitCode(ps *os.ProcessState) int {
	if ps == nil {
		return -1
	}
	code := ps.ExitCode()
	if code != -1 {
		return code
	}
	if status, ok := ps.Sys().(syscall.WaitStatus); ok {
		if status.Signaled() {
			return 128 + int(status.Signal())
		}
		if status.Exited() {
			return status.ExitStatus()
		}
	}
	return code
}

// TempSourcePath joins name onto a WorkDir root, giving a path for a
// preprocessed copy of the source inside that WorkDir.
func TempSourcePath(workdirRoot, name string) string {
	return filepath.Join(workdirRoot, name)
}
