package workdir

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewCreatesSourceAndCorpus(t *testing.T) {
	root := t.TempDir()
	w, err := New(root, 42, "int main(){return 0;}")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := os.Stat(w.SourcePath); err != nil {
		t.Errorf("source file missing: %v", err)
	}
	if _, err := os.Stat(w.CorpusDir); err != nil {
		t.Errorf("corpus dir missing: %v", err)
	}
}

func TestCleanupRetainsOnlyAllowedExtensions(t *testing.T) {
	root := t.TempDir()
	w, err := New(root, 1, "code")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	keep := []string{"a.out", "b.cov.out", "source.cc", "run.profdata", "cost", "x.log"}
	drop := []string{"junk.tmp", "input.bin"}
	for _, f := range append(keep, drop...) {
		if err := os.WriteFile(filepath.Join(w.Root, f), []byte("x"), 0644); err != nil {
			t.Fatalf("setup write failed: %v", err)
		}
	}

	if err := w.Cleanup(); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}

	entries, err := os.ReadDir(w.Root)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	remaining := map[string]bool{}
	for _, e := range entries {
		remaining[e.Name()] = true
	}
	for _, f := range drop {
		if remaining[f] {
			t.Errorf("expected %s to be removed", f)
		}
	}
	for _, f := range keep {
		if !remaining[f] {
			t.Errorf("expected %s to be retained", f)
		}
	}
	if remaining["corpus"] {
		t.Errorf("expected corpus/ subdirectory to be removed by cleanup")
	}
}

func TestDestroyRemovesWorkDir(t *testing.T) {
	root := t.TempDir()
	w, err := New(root, 7, "code")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := w.Destroy(); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}
	if _, err := os.Stat(w.Root); !os.IsNotExist(err) {
		t.Errorf("expected workdir to be gone, stat err=%v", err)
	}
}
