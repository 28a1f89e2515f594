package batch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// WorkDirsForProgram is workdirsForProgram exported for callers outside this
// package (cmd/defuzz's triage pass, which needs to locate a retained
// WorkDir for a Hang/Fuzzer verdict after CheckMany returns).
func WorkDirsForProgram(root string, programID uint64) ([]string, error) {
	return workdirsForProgram(root, programID)
}

// workdirsForProgram finds every WorkDir under root whose directory name
// starts with the program id's fixed-width prefix (the naming convention
// workdir.New uses: "<id>-<uuid>"). Usually there is exactly one; a worker
// that crashed mid-run and was retried could leave more than one behind,
// so all matches are cleaned up together.
func workdirsForProgram(root string, programID uint64) ([]string, error) {
	prefix := fmt.Sprintf("%06d-", programID)
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
			dirs = append(dirs, filepath.Join(root, e.Name()))
		}
	}
	return dirs, nil
}
