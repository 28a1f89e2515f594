package program

import (
	"fmt"
	"os"
	"path/filepath"
)

// Serialize writes the Program's source to its on-disk work path, prepending
// the target library's header block (SPEC_FULL.md §7, BatchSupervisor: "prepending
// the library's header block"). Adapted from the teacher's seed.SaveSeed.
func Serialize(libRoot string, p *Program, headerBlock string) (string, error) {
	path := p.SerializedPath(libRoot)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create program directory for id %d: %w", p.ID, err)
	}

	content := p.Source
	if headerBlock != "" {
		content = headerBlock + "\n" + content
	}

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("failed to write program %d: %w", p.ID, err)
	}
	return path, nil
}
