// Package workdir implements the per-candidate scratch directory described
// in SPEC_FULL.md §5 (WorkDir): source, compiled binaries, a corpus/
// subdirectory, a per-stage cost log, and the libFuzzer merge control file.
package workdir

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

const (
	corpusSubdir       = "corpus"
	mergeControlName   = "merge_control_file"
	sourceName         = "source.cc"
	fuzzerBinaryName   = "a.out"
	coverageBinaryName = "a.cov.out"
	evolveBinaryName   = "a.evo.out"
)

// WorkDir is a filesystem directory uniquely owned by one Program during
// sanitization.
type WorkDir struct {
	Root       string // the WorkDir directory itself
	ProgramID  uint64
	SourcePath string
	CorpusDir  string
}

// New creates and returns the WorkDir for a candidate, rooted under
// output/<lib>/work/<id>-<uuid>. The uuid suffix avoids collisions with a
// WorkDir retained from an earlier batch under the Hang/Fuzzer cleanup
// policy (SPEC_FULL.md §5).
func New(workRoot string, programID uint64, source string) (*WorkDir, error) {
	dirName := fmt.Sprintf("%06d-%s", programID, uuid.NewString())
	root := filepath.Join(workRoot, dirName)

	w := &WorkDir{
		Root:      root,
		ProgramID: programID,
		CorpusDir: filepath.Join(root, corpusSubdir),
	}
	w.SourcePath = filepath.Join(root, sourceName)

	if err := os.MkdirAll(w.CorpusDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workdir %s: %w", root, err)
	}
	if err := os.WriteFile(w.SourcePath, []byte(source), 0644); err != nil {
		return nil, fmt.Errorf("failed to write source into workdir %s: %w", root, err)
	}
	return w, nil
}

// Open reconstructs a WorkDir handle for a directory already on disk, given
// only its root — used by BatchSupervisor to rediscover a worker's WorkDir
// after the worker process that created it (via New) has already exited.
func Open(root string, programID uint64) *WorkDir {
	return &WorkDir{
		Root:       root,
		ProgramID:  programID,
		SourcePath: filepath.Join(root, sourceName),
		CorpusDir:  filepath.Join(root, corpusSubdir),
	}
}

// FuzzerBinary returns the path to the Fuzzer-profile compiled binary.
func (w *WorkDir) FuzzerBinary() string { return filepath.Join(w.Root, fuzzerBinaryName) }

// CoverageBinary returns the path to the Coverage-profile compiled binary.
func (w *WorkDir) CoverageBinary() string { return filepath.Join(w.Root, coverageBinaryName) }

// EvolveBinary returns the path to the Minimize-profile compiled binary used
// by CorpusEvolver.
func (w *WorkDir) EvolveBinary() string { return filepath.Join(w.Root, evolveBinaryName) }

// MergeControlPath returns the path to the libFuzzer merge control file.
func (w *WorkDir) MergeControlPath() string { return filepath.Join(w.Root, mergeControlName) }

// CostLogPath returns the path to the per-stage timing log.
func (w *WorkDir) CostLogPath() string { return filepath.Join(w.Root, "cost") }

// Destroy removes the WorkDir recursively.
func (w *WorkDir) Destroy() error {
	if err := os.RemoveAll(w.Root); err != nil {
		return fmt.Errorf("failed to destroy workdir %s: %w", w.Root, err)
	}
	return nil
}

// DeleteCorpus removes the WorkDir's local corpus/ subdirectory to bound
// disk usage after a successful sanitization (SPEC_FULL.md §7, end of Coverage
// stage).
func (w *WorkDir) DeleteCorpus() error {
	if err := os.RemoveAll(w.CorpusDir); err != nil {
		return fmt.Errorf("failed to delete corpus in %s: %w", w.Root, err)
	}
	return nil
}

// retainedExtensions is the minimum set of files cleanup_sanitize_dir keeps,
// per SPEC_FULL.md §7, 4.5.
var retainedExtensions = map[string]bool{
	".log":      true,
	".out":      true,
	".cc":       true,
	".profdata": true,
	"":          true, // the extensionless "cost" file
}

// Cleanup implements cleanup_sanitize_dir: delete every entry in the WorkDir
// whose extension is not in the retained set.
func (w *WorkDir) Cleanup() error {
	entries, err := os.ReadDir(w.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to list workdir %s: %w", w.Root, err)
	}

	for _, e := range entries {
		if e.IsDir() {
			// corpus/ and any other subdirectory are not in the retained
			// extension set and are removed outright.
			if err := os.RemoveAll(filepath.Join(w.Root, e.Name())); err != nil {
				return fmt.Errorf("failed to clean %s: %w", e.Name(), err)
			}
			continue
		}
		ext := filepath.Ext(e.Name())
		if retainedExtensions[ext] {
			continue
		}
		if err := os.Remove(filepath.Join(w.Root, e.Name())); err != nil {
			return fmt.Errorf("failed to clean %s: %w", e.Name(), err)
		}
	}
	return nil
}

// RetainedExtension reports whether ext (including the leading dot, or "" for
// an extensionless file) survives cleanup_sanitize_dir. Exported for tests
// asserting the "verdict None retains only {log,out,cc,profdata,cost}"
// invariant (spec.md §8).
func RetainedExtension(ext string) bool {
	return retainedExtensions[ext]
}
