// Package evolve implements CorpusEvolver (SPEC_FULL.md §7, component D):
// after a candidate passes sanitization, it merges newly-covering corpus
// inputs into the shared corpus and updates the persisted global feature
// set. Grounded on the teacher's internal/state.FileManager
// load-mutate-save pattern (here applied to feature.Store) and on
// internal/seed_executor's exec.CommandContext usage for invoking the
// fuzzer's merge mode.
package evolve

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/defuzzforge/defuzzforge/internal/feature"
	"github.com/defuzzforge/defuzzforge/internal/logger"
	"github.com/defuzzforge/defuzzforge/internal/workdir"
)

// CorporaFeatures is the parsed result of one merge-control file: an ordered
// list of (corpus file path, feature set) pairs, one per input present in
// the candidate's corpus at merge time (SPEC_FULL.md §3).
type CorporaFeatures []CorpusEntry

// CorpusEntry is a single (file, features) pair within a CorporaFeatures
// list.
type CorpusEntry struct {
	Path     string
	Features []feature.Feature
}

// Merger runs the fuzzer binary's merge mode and produces the raw control
// file Evolver then parses. Implemented as an interface so tests
// can substitute a fake without invoking a real libFuzzer binary.
type Merger interface {
	Merge(binary, controlFile, sharedCorpus, localCorpus string) error
}

// toolchainMerger invokes the compiled Minimize-profile binary with
// libFuzzer's merge flags, matching the real `-merge=1
// -merge_control_file=...` invocation.
type toolchainMerger struct{}

func (toolchainMerger) Merge(binary, controlFile, sharedCorpus, localCorpus string) error {
	args := []string{
		"-merge=1",
		"-merge_control_file=" + controlFile,
		sharedCorpus,
		localCorpus,
	}
	return runMergeProcess(binary, args)
}

// Evolver is CorpusEvolver.
type Evolver struct {
	store  feature.Store
	merger Merger
}

// New creates an Evolver bound to a target library's GlobalFeatureStore.
func New(store feature.Store, merger Merger) *Evolver {
	if merger == nil {
		merger = toolchainMerger{}
	}
	return &Evolver{store: store, merger: merger}
}

// Evolve implements the six-step evolve(workdir) procedure of
// SPEC_FULL.md §7, 4.3.
func (e *Evolver) Evolve(w *workdir.WorkDir, sharedCorpus string) (interesting []string, err error) {
	// Step 1: Minimize-profile binary is assumed already built at
	// w.EvolveBinary() by the caller's recompile step (StageRunner owns
	// the compile call; Evolver only consumes the artifact).
	if _, statErr := os.Stat(w.EvolveBinary()); statErr != nil {
		return nil, fmt.Errorf("evolve binary missing for workdir %s: %w", w.Root, statErr)
	}

	// Step 2: load (or implicitly seed) the GlobalFeatureStore. seedNeeded
	// is evaluated before Load so it reflects whether the backing file
	// existed coming into this call, not whether the in-memory set ended up
	// empty (an empty-but-already-persisted store must not be reseeded).
	seedNeeded := !e.store.Exists()
	if err := e.store.Load(); err != nil {
		return nil, fmt.Errorf("failed to load global feature store: %w", err)
	}
	if seedNeeded {
		if err := e.seedFromSharedCorpus(w, sharedCorpus); err != nil {
			return nil, fmt.Errorf("failed to seed global feature store from shared corpus: %w", err)
		}
	}

	// Step 3: invoke merge mode, then parse the resulting control file.
	controlFile := w.MergeControlPath()
	if err := e.merger.Merge(w.EvolveBinary(), controlFile, sharedCorpus, w.CorpusDir); err != nil {
		return nil, fmt.Errorf("merge invocation failed: %w", err)
	}
	corpora, err := ParseControlFile(controlFile)
	if err != nil {
		return nil, fmt.Errorf("failed to parse merge control file: %w", err)
	}

	// Step 4: insert features per pair; mark files with any newly-added
	// feature as interesting.
	for _, entry := range corpora {
		added := e.store.InsertNew(entry.Features)
		if len(added) > 0 {
			interesting = append(interesting, entry.Path)
		}
	}

	// Step 5: copy interesting files into the shared corpus, THEN persist
	// the feature store. A crash before the copies complete must not
	// leave a feature persisted whose input was never admitted.
	if err := os.MkdirAll(sharedCorpus, 0755); err != nil {
		return nil, fmt.Errorf("failed to create shared corpus %s: %w", sharedCorpus, err)
	}
	for _, path := range interesting {
		if err := copyIntoSharedCorpus(path, sharedCorpus); err != nil {
			return nil, fmt.Errorf("failed to admit %s into shared corpus: %w", path, err)
		}
	}
	if err := e.store.Save(); err != nil {
		return nil, fmt.Errorf("failed to persist global feature store: %w", err)
	}

	// Step 6: the control file is regenerable, so removing it is safe even
	// if a prior step already crashed and was retried.
	if err := os.Remove(controlFile); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to delete merge control file: %w", err)
	}

	return interesting, nil
}

// seedFromSharedCorpus implements the "otherwise" branch of step 2
// (SPEC_FULL.md §7, 4.3): on a library's very first Evolve call there is no
// global_feature.json yet, so every feature already covered by
// pre-existing shared-corpus seed files would otherwise go unrecorded, and
// the first candidate that happens to exercise one of them would be
// wrongly treated as novel. Run the Minimize binary in merge mode over the
// shared corpus alone and record what it already covers, without
// re-admitting any file — everything found here is already in the shared
// corpus.
func (e *Evolver) seedFromSharedCorpus(w *workdir.WorkDir, sharedCorpus string) error {
	if _, err := os.Stat(sharedCorpus); os.IsNotExist(err) {
		return nil
	}

	seedControlFile := filepath.Join(w.Root, "seed_merge_control_file")
	if err := e.merger.Merge(w.EvolveBinary(), seedControlFile, sharedCorpus, sharedCorpus); err != nil {
		return fmt.Errorf("seed merge invocation failed: %w", err)
	}
	defer os.Remove(seedControlFile)

	corpora, err := ParseControlFile(seedControlFile)
	if err != nil {
		return fmt.Errorf("failed to parse seed merge control file: %w", err)
	}
	for _, entry := range corpora {
		e.store.InsertNew(entry.Features)
	}
	return nil
}

// copyIntoSharedCorpus admits src into dir, naming the destination file
// after src's basename. SharedCorpus admits are append-only by name
// (SPEC_FULL.md §5(d)); fuzzer-chosen basenames are content hashes, so a
// basename collision should mean two candidates produced byte-identical
// input. When it doesn't — a hash clash rather than true duplicate content
// — go-diff's DiffMain makes that distinction explicit in the log instead
// of silently overwriting one candidate's admitted input with another's.
func copyIntoSharedCorpus(src, dir string) error {
	in, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	dst := filepath.Join(dir, filepath.Base(src))

	existing, err := os.ReadFile(dst)
	switch {
	case err == nil:
		if string(existing) == string(in) {
			return nil
		}
		dmp := diffmatchpatch.New()
		diffs := dmp.DiffMain(string(existing), string(in), false)
		logger.Warn("shared corpus basename collision for %s: %d differing content spans, admitting the newer candidate's bytes", filepath.Base(src), len(diffs))
	case os.IsNotExist(err):
		// First admit of this basename.
	default:
		return err
	}

	return os.WriteFile(dst, in, 0644)
}

// ParseControlFile reads a merge control file written as a JSON array of
// {"path":...,"features":[...]} objects. gjson is used instead of
// encoding/json so a merge invocation killed mid-write — leaving a
// truncated JSON array tail on disk — still yields every complete entry
// rather than failing the whole parse (the pipeline's one place that needs
// tolerant partial JSON access, since a crashed merge must not lose
// already-flushed entries). The field the pipeline actually depends on is
// the ordered (path, features) pairing, which this preserves exactly
// (SPEC_FULL.md §3: "domain and hash function are opaque to the core").
func ParseControlFile(path string) (CorporaFeatures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var out CorporaFeatures
	gjson.ParseBytes(data).ForEach(func(_, entry gjson.Result) bool {
		cp := CorpusEntry{Path: entry.Get("path").String()}
		for _, f := range entry.Get("features").Array() {
			cp.Features = append(cp.Features, feature.Feature(f.Uint()))
		}
		out = append(out, cp)
		return true
	})
	return out, nil
}

// WriteControlFile serializes a CorporaFeatures list back into the on-disk
// format ParseControlFile reads, used by the merger and by tests. Built
// incrementally with sjson rather than a single json.Marshal call, matching
// ParseControlFile's field-at-a-time access style.
func WriteControlFile(path string, corpora CorporaFeatures) error {
	doc := "[]"
	var err error
	for i, entry := range corpora {
		doc, err = sjson.Set(doc, fmt.Sprintf("%d.path", i), entry.Path)
		if err != nil {
			return fmt.Errorf("failed to encode merge control entry: %w", err)
		}
		feats := make([]uint32, len(entry.Features))
		for j, f := range entry.Features {
			feats[j] = uint32(f)
		}
		doc, err = sjson.Set(doc, fmt.Sprintf("%d.features", i), feats)
		if err != nil {
			return fmt.Errorf("failed to encode merge control entry: %w", err)
		}
	}
	return os.WriteFile(path, []byte(doc), 0644)
}
