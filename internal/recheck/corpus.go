package recheck

import (
	"os"
	"path/filepath"
)

// corpusInputFiles lists the regular files directly inside dir, mirroring
// the same enumeration stage.Runner uses for the Execute stage's per-input
// loop (SPEC_FULL.md §7, 4.2 step 3 and 4.6 step 2 run the identical
// procedure against the shared corpus).
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
