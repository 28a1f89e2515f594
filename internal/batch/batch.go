// Package batch implements BatchSupervisor (SPEC_FULL.md §7, component E):
// fans a list of candidate Programs out to a bounded pool of worker
// processes, one OS process per candidate, collects typed verdicts, and
// enforces the WorkDir cleanup policy. Grounded on the teacher's use of
// os/exec plus context timeouts for out-of-process work (internal/
// seed_executor) generalized here to a process-per-candidate pool using
// golang.org/x/sync/errgroup, the pattern the corpus's own cifuzz
// reference material uses for bounded worker fan-out.
package batch

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/defuzzforge/defuzzforge/internal/evolve"
	"github.com/defuzzforge/defuzzforge/internal/program"
	"github.com/defuzzforge/defuzzforge/internal/workdir"
)

// WorkerRunner spawns one worker process for a serialized Program and
// reports its outcome. Implemented as an interface so tests can substitute
// a fake without spawning a real `harness` binary.
type WorkerRunner interface {
	Run(ctx context.Context, libraryName, programPath string) (exitCode int, stderr []byte, err error)
}

// execWorkerRunner invokes the child-worker CLI as
// `harness <library_name> check <program_path>` (SPEC_FULL.md §9), stdout
// suppressed, stderr captured.
type execWorkerRunner struct {
	HarnessPath string
}

func (r execWorkerRunner) Run(ctx context.Context, libraryName, programPath string) (int, []byte, error) {
	cmd := exec.CommandContext(ctx, r.HarnessPath, libraryName, "check", programPath)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.Stdout = nil

	err := cmd.Run()
	if err == nil {
		return 0, stderr.Bytes(), nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), stderr.Bytes(), nil
	}
	return -1, stderr.Bytes(), fmt.Errorf("failed to spawn worker: %w", err)
}

// NewExecWorkerRunner creates a WorkerRunner that invokes the real harness
// binary at harnessPath.
func NewExecWorkerRunner(harnessPath string) WorkerRunner {
	return execWorkerRunner{HarnessPath: harnessPath}
}

// Supervisor is BatchSupervisor.
type Supervisor struct {
	Runner      WorkerRunner
	LibraryName string
	LibRoot     string // root passed to Program.SerializedPath
	WorkRoot    string // parent directory for per-candidate WorkDirs
	HeaderBlock string // prepended to every serialized Program's source
	Core        int    // batch size: bounded parallelism

	// Evolver and SharedCorpus drive CorpusEvolver. Evolve is invoked here,
	// on the Supervisor's own single process, after a worker reports an
	// accepted verdict — never inside the worker itself, so
	// GlobalFeatureStore is read-modify-written serially even though
	// workers within a batch run concurrently (SPEC_FULL.md §8).
	Evolver      *evolve.Evolver
	SharedCorpus string

	evolveMu sync.Mutex // admits one runOne goroutine at a time into evolve
}

// Verdict pairs one Program with its pipeline outcome (nil means accepted).
type Verdict struct {
	Program *program.Program
	Err     *program.ProgramError
}

// CheckMany serializes each Program (prepending the library's header
// block), then dispatches them in batches of size Core: one worker process
// per candidate inside a batch, batches joined sequentially before the
// next one starts (SPEC_FULL.md §7, 4.4; §5 ordering guarantee (b)).
// Verdicts are returned in input order.
func (s *Supervisor) CheckMany(ctx context.Context, programs []*program.Program) ([]Verdict, error) {
	verdicts := make([]Verdict, len(programs))

	for start := 0; start < len(programs); start += s.Core {
		end := start + s.Core
		if end > len(programs) {
			end = len(programs)
		}
		batch := programs[start:end]

		g, gctx := errgroup.WithContext(ctx)
		for i, p := range batch {
			i, p := i, p
			g.Go(func() error {
				v, err := s.runOne(gctx, p)
				if err != nil {
					return err
				}
				verdicts[start+i] = v
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, fmt.Errorf("batch starting at index %d failed: %w", start, err)
		}
	}
	return verdicts, nil
}

// runOne serializes p, spawns its worker, decodes the verdict, and applies
// the cleanup policy to its WorkDir.
func (s *Supervisor) runOne(ctx context.Context, p *program.Program) (Verdict, error) {
	path, err := program.Serialize(s.LibRoot, p, s.HeaderBlock)
	if err != nil {
		return Verdict{}, fmt.Errorf("failed to serialize program %d: %w", p.ID, err)
	}

	exitCode, stderr, err := s.Runner.Run(ctx, s.LibraryName, path)
	if err != nil {
		return Verdict{}, fmt.Errorf("worker for program %d failed to run: %w", p.ID, err)
	}

	var progErr *program.ProgramError
	if exitCode != 0 {
		progErr = program.UnmarshalStderr(stderr)
	}

	if progErr == nil {
		if err := s.evolve(p); err != nil {
			return Verdict{}, fmt.Errorf("corpus evolution for program %d failed: %w", p.ID, err)
		}
	}

	if err := s.cleanup(p, progErr); err != nil {
		return Verdict{}, err
	}

	return Verdict{Program: p, Err: progErr}, nil
}

// evolve runs CorpusEvolver against an accepted candidate's WorkDir, which
// the worker left on disk with its local corpus/ intact and a freshly
// compiled Minimize binary. This is the only call site for Evolver.Evolve
// in the whole pipeline. A batch's runOne goroutines can reach it at the
// same time, so evolveMu lets one candidate in at a time and
// GlobalFeatureStore never sees two concurrent read-modify-writes.
func (s *Supervisor) evolve(p *program.Program) error {
	s.evolveMu.Lock()
	defer s.evolveMu.Unlock()

	dirs, err := workdirsForProgram(s.WorkRoot, p.ID)
	if err != nil {
		return fmt.Errorf("failed to locate workdir for program %d: %w", p.ID, err)
	}
	if len(dirs) == 0 {
		return fmt.Errorf("no workdir found for accepted program %d", p.ID)
	}
	for _, dir := range dirs {
		w := workdir.Open(dir, p.ID)
		if _, err := s.Evolver.Evolve(w, s.SharedCorpus); err != nil {
			return err
		}
		if err := w.DeleteCorpus(); err != nil {
			return fmt.Errorf("failed to delete local corpus for workdir %s: %w", dir, err)
		}
	}
	return nil
}

// cleanup applies cleanup_sanitize_dir followed by the keep/remove policy
// (SPEC_FULL.md §7, 4.5). A candidate can leave more than one WorkDir behind
// (a crashed-and-retried worker), so every directory's cleanup is attempted
// even if an earlier one fails; multierr combines all of their errors into
// one returned error instead of stopping at the first.
func (s *Supervisor) cleanup(p *program.Program, progErr *program.ProgramError) error {
	// The worker's own WorkDir lives under WorkRoot/<id>-<uuid>; the
	// Supervisor does not know the uuid suffix the worker chose, so it
	// finds every directory with the program id prefix, runs
	// workdir.Cleanup (cleanup_sanitize_dir) on each, and then applies the
	// keep/remove decision.
	dirs, err := workdirsForProgram(s.WorkRoot, p.ID)
	if err != nil {
		return fmt.Errorf("failed to locate workdir for program %d: %w", p.ID, err)
	}

	var errs error
	for _, dir := range dirs {
		w := workdir.Open(dir, p.ID)
		if err := w.Cleanup(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to clean workdir %s: %w", dir, err))
			continue
		}
		if progErr.KeepsWorkDir() {
			continue
		}
		if err := w.Destroy(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to remove workdir %s: %w", dir, err))
		}
	}
	return errs
}
