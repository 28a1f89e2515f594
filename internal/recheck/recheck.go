// Package recheck implements Recheck (SPEC_FULL.md §7, component G):
// invoked once after the fuzz loop's first convergence, it re-validates
// every previously accepted seed against the now richer shared corpus and
// demotes any that no longer pass. Grounded on the same exclusive-mutex
// discipline the teacher's internal/state.FileManager applies to its
// single persisted file, generalized here to guard a whole re-validation
// pass rather than one read-modify-write.
package recheck

import (
	"sync"

	"github.com/defuzzforge/defuzzforge/internal/program"
	"github.com/defuzzforge/defuzzforge/internal/toolchain"
	"github.com/defuzzforge/defuzzforge/internal/workdir"
)

// Recheck runs the post-convergence re-validation pass. Run holds mu for
// its whole pass, so concurrent Run calls on the same Recheck are
// serialized; the lock is not shared with BatchSupervisor or the run
// command, so a Recheck pass is not serialized against a concurrent batch.
// Run returns one Result per seed, with Demoted set for those that no longer
// pass; it never mutates a queue itself — the caller applies the removal,
// keeping queue ownership in one place.
type Recheck struct {
	mu           sync.Mutex
	Driver       *toolchain.Driver
	SharedCorpus string
	WorkRoot     string
}

// Result is one seed's re-validation outcome.
type Result struct {
	ProgramID uint64
	Demoted   bool
	Err       *program.ProgramError
}

// Run re-validates every accepted seed in seeds. For each: recompile under
// the Fuzzer profile, then re-run the Execute stage against the
// now-enriched shared corpus (SPEC_FULL.md §7, 4.6). Acquires Recheck's
// exclusive lock for the duration of the whole pass.
func (r *Recheck) Run(seeds []*program.Program) ([]Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	results := make([]Result, 0, len(seeds))
	for _, seed := range seeds {
		res, err := r.recheckOne(seed)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (r *Recheck) recheckOne(seed *program.Program) (Result, error) {
	w, err := workdir.New(r.WorkRoot, seed.ID, seed.Source)
	if err != nil {
		return Result{}, err
	}
	defer w.Destroy()

	compileRes, err := r.Driver.Compile([]string{w.SourcePath}, w.FuzzerBinary(), toolchain.Fuzzer)
	if err != nil {
		return Result{}, err
	}
	if !compileRes.Success {
		return Result{ProgramID: seed.ID, Demoted: true, Err: program.Link("%s", compileRes.Stderr)}, nil
	}

	inputs, err := corpusInputFiles(r.SharedCorpus)
	if err != nil {
		return Result{}, err
	}
	for _, input := range inputs {
		outcome, stderr, err := r.Driver.ExecuteOne(w.FuzzerBinary(), input)
		if err != nil {
			return Result{}, err
		}
		switch outcome {
		case toolchain.TimedOut:
			return Result{ProgramID: seed.ID, Demoted: true, Err: program.Hang("recheck execution timed out")}, nil
		case toolchain.ExecError:
			return Result{ProgramID: seed.ID, Demoted: true, Err: program.Execute("%s", stderr)}, nil
		}
	}

	return Result{ProgramID: seed.ID, Demoted: false}, nil
}
