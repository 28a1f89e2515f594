package evolve

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/defuzzforge/defuzzforge/internal/feature"
	"github.com/defuzzforge/defuzzforge/internal/workdir"
)

// fakeMerger writes a pre-canned control file instead of invoking a real
// fuzzer binary, so these tests exercise Evolve's bookkeeping without a
// compiled target.
type fakeMerger struct {
	corpora CorporaFeatures
}

func (f fakeMerger) Merge(binary, controlFile, sharedCorpus, localCorpus string) error {
	return WriteControlFile(controlFile, f.corpora)
}

func newWorkdirWithEvolveBinary(t *testing.T, id uint64) *workdir.WorkDir {
	t.Helper()
	root := t.TempDir()
	w, err := workdir.New(root, id, "int main(){return 0;}")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(w.EvolveBinary(), []byte("fake-binary"), 0755))
	return w
}

func TestEvolveAdmitsOnlyFilesWithNewFeatures(t *testing.T) {
	libRoot := t.TempDir()
	sharedCorpus := filepath.Join(libRoot, "shared_corpus")
	store := feature.NewFileStore(filepath.Join(libRoot, "misc"))

	w := newWorkdirWithEvolveBinary(t, 1)
	interesting := filepath.Join(w.CorpusDir, "interesting")
	stale := filepath.Join(w.CorpusDir, "stale")
	require.NoError(t, os.WriteFile(interesting, []byte("new-input"), 0644))
	require.NoError(t, os.WriteFile(stale, []byte("old-input"), 0644))

	merger := fakeMerger{corpora: CorporaFeatures{
		{Path: interesting, Features: []feature.Feature{100, 101}},
		{Path: stale, Features: []feature.Feature{}},
	}}

	e := New(store, merger)
	admitted, err := e.Evolve(w, sharedCorpus)
	require.NoError(t, err)
	require.Equal(t, []string{interesting}, admitted)

	_, statErr := os.Stat(filepath.Join(sharedCorpus, "interesting"))
	require.NoError(t, statErr, "interesting file should be copied into shared corpus")
	_, statErr = os.Stat(filepath.Join(sharedCorpus, "stale"))
	require.True(t, os.IsNotExist(statErr), "stale file with no new features must not be admitted")

	reloaded := feature.NewFileStore(filepath.Join(libRoot, "misc"))
	require.NoError(t, reloaded.Load())
	require.True(t, reloaded.Contains(100))
	require.True(t, reloaded.Contains(101))

	_, statErr = os.Stat(w.MergeControlPath())
	require.True(t, os.IsNotExist(statErr), "control file must be deleted after evolve")
}

// TestSharedInputDedupAcrossTwoCandidates covers the scenario named in
// spec.md §8: two distinct candidates independently discover an input whose
// content already covers a feature admitted by the first. The second
// candidate's admit of the same feature id is a no-op: its file is not
// admitted, and the feature set still holds exactly one feature.
func TestSharedInputDedupAcrossTwoCandidates(t *testing.T) {
	libRoot := t.TempDir()
	sharedCorpus := filepath.Join(libRoot, "shared_corpus")
	store := feature.NewFileStore(filepath.Join(libRoot, "misc"))

	w1 := newWorkdirWithEvolveBinary(t, 1)
	first := filepath.Join(w1.CorpusDir, "shared-blob")
	require.NoError(t, os.WriteFile(first, []byte("payload"), 0644))
	m1 := fakeMerger{corpora: CorporaFeatures{{Path: first, Features: []feature.Feature{7}}}}
	e1 := New(store, m1)
	admitted1, err := e1.Evolve(w1, sharedCorpus)
	require.NoError(t, err)
	require.Equal(t, []string{first}, admitted1)

	w2 := newWorkdirWithEvolveBinary(t, 2)
	second := filepath.Join(w2.CorpusDir, "shared-blob")
	require.NoError(t, os.WriteFile(second, []byte("payload"), 0644))
	m2 := fakeMerger{corpora: CorporaFeatures{{Path: second, Features: []feature.Feature{7}}}}
	e2 := New(store, m2)
	admitted2, err := e2.Evolve(w2, sharedCorpus)
	require.NoError(t, err)
	require.Empty(t, admitted2, "feature 7 was already recorded; candidate 2 brings nothing new")

	reloaded := feature.NewFileStore(filepath.Join(libRoot, "misc"))
	require.NoError(t, reloaded.Load())
	require.Equal(t, 1, reloaded.Len())
}

// seedAndMainMerger returns a different control file on the seeding pass
// (sharedCorpus for both args) than on the regular merge pass, letting a
// test tell which invocation it's responding to.
type seedAndMainMerger struct {
	seedCorpora CorporaFeatures
	mainCorpora CorporaFeatures
	seedCalls   int
	mainCalls   int
}

func (m *seedAndMainMerger) Merge(binary, controlFile, sharedCorpus, localCorpus string) error {
	if sharedCorpus == localCorpus {
		m.seedCalls++
		return WriteControlFile(controlFile, m.seedCorpora)
	}
	m.mainCalls++
	return WriteControlFile(controlFile, m.mainCorpora)
}

func TestEvolveSeedsFeatureStoreFromExistingSharedCorpusOnFirstCall(t *testing.T) {
	libRoot := t.TempDir()
	sharedCorpus := filepath.Join(libRoot, "shared_corpus")
	require.NoError(t, os.MkdirAll(sharedCorpus, 0755))
	preexisting := filepath.Join(sharedCorpus, "preexisting")
	require.NoError(t, os.WriteFile(preexisting, []byte("already-covered"), 0644))

	store := feature.NewFileStore(filepath.Join(libRoot, "misc"))
	require.False(t, store.Exists(), "no global feature store should exist yet")

	w := newWorkdirWithEvolveBinary(t, 1)
	candidateInput := filepath.Join(w.CorpusDir, "candidate")
	require.NoError(t, os.WriteFile(candidateInput, []byte("candidate-input"), 0644))

	merger := &seedAndMainMerger{
		seedCorpora: CorporaFeatures{{Path: preexisting, Features: []feature.Feature{1, 2}}},
		mainCorpora: CorporaFeatures{{Path: candidateInput, Features: []feature.Feature{1}}},
	}

	e := New(store, merger)
	admitted, err := e.Evolve(w, sharedCorpus)
	require.NoError(t, err)
	require.Equal(t, 1, merger.seedCalls, "first Evolve call must seed from the shared corpus")
	require.Equal(t, 1, merger.mainCalls)
	require.Empty(t, admitted, "feature 1 was already covered by the pre-existing seed, so it is not novel")

	reloaded := feature.NewFileStore(filepath.Join(libRoot, "misc"))
	require.NoError(t, reloaded.Load())
	require.True(t, reloaded.Contains(1))
	require.True(t, reloaded.Contains(2))

	_, statErr := os.Stat(filepath.Join(w.Root, "seed_merge_control_file"))
	require.True(t, os.IsNotExist(statErr), "seed control file must not be left behind")

	// A second Evolve call against the same (now-persisted) store must not
	// reseed.
	w2 := newWorkdirWithEvolveBinary(t, 2)
	other := filepath.Join(w2.CorpusDir, "other")
	require.NoError(t, os.WriteFile(other, []byte("other-input"), 0644))
	merger2 := &seedAndMainMerger{mainCorpora: CorporaFeatures{{Path: other, Features: []feature.Feature{3}}}}
	store2 := feature.NewFileStore(filepath.Join(libRoot, "misc"))
	e2 := New(store2, merger2)
	_, err = e2.Evolve(w2, sharedCorpus)
	require.NoError(t, err)
	require.Zero(t, merger2.seedCalls, "feature store already exists, must not reseed")
}

func TestParseAndWriteControlFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "merge_control_file")
	corpora := CorporaFeatures{
		{Path: "/a/b", Features: []feature.Feature{1, 2, 3}},
		{Path: "/a/c", Features: nil},
	}
	require.NoError(t, WriteControlFile(path, corpora))

	parsed, err := ParseControlFile(path)
	require.NoError(t, err)
	require.Len(t, parsed, 2)
	require.Equal(t, "/a/b", parsed[0].Path)
	require.Equal(t, []feature.Feature{1, 2, 3}, parsed[0].Features)
	require.Equal(t, "/a/c", parsed[1].Path)
	require.Empty(t, parsed[1].Features)
}
