// Package feature implements the GlobalFeatureStore (SPEC_FULL.md §7,
// component F): the persisted set of coverage features CorpusEvolver checks
// each accepted candidate's corpus against. Grounded on the teacher's
// internal/state.FileManager load/mutate/save-under-mutex shape, applied to
// a feature set instead of a scalar coverage counter.
package feature

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tidwall/gjson"
)

// FileName is the name of the persisted feature-store file.
const FileName = "global_feature.json"

// Feature is a single libFuzzer/SanitizerCoverage edge or counter id.
type Feature uint32

// Store is the in-memory, file-backed feature set.
type Store interface {
	Load() error
	Save() error
	// Exists reports whether the store's backing file is already present on
	// disk, distinguishing "nothing recorded yet" from "empty but already
	// persisted" (CorpusEvolver uses this to decide whether a library's very
	// first Evolve call needs to seed from the existing shared corpus).
	Exists() bool
	// Contains reports whether f has already been recorded.
	Contains(f Feature) bool
	// InsertNew adds every feature in fs not already present and returns
	// the ones that were actually new (SPEC_FULL.md §4.3: "insert any new
	// feature ids").
	InsertNew(fs []Feature) []Feature
	// Len returns the number of distinct features recorded so far.
	Len() int
}

// FileStore is the file-backed implementation of Store.
type FileStore struct {
	mu       sync.Mutex
	filePath string
	features map[Feature]struct{}
}

// NewFileStore creates a FileStore rooted at dir/global_feature.json.
func NewFileStore(dir string) *FileStore {
	return &FileStore{
		filePath: filepath.Join(dir, FileName),
		features: make(map[Feature]struct{}),
	}
}

// Load reads the feature set from disk. A missing file is treated as an
// empty store, matching FileManager.Load's "no file yet" behavior.
func (s *FileStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			s.features = make(map[Feature]struct{})
			return nil
		}
		return fmt.Errorf("failed to read feature store %s: %w", s.filePath, err)
	}

	var list []Feature
	if err := json.Unmarshal(data, &list); err != nil {
		// A crash mid-Save can leave a truncated JSON array on disk (the
		// write is not atomic). An array that does not end in ']' is cut
		// back to its last ',' so the partially-written element is dropped;
		// gjson then tolerates the unterminated array and yields every
		// complete element, so the store loses at most the one in-flight
		// feature rather than every feature ever persisted.
		end := len(data)
		for end > 0 && (data[end-1] == ' ' || data[end-1] == '\n' || data[end-1] == '\r' || data[end-1] == '\t') {
			end--
		}
		if end > 0 && data[end-1] != ']' {
			for end > 0 && data[end-1] != ',' {
				end--
			}
			if end > 0 {
				end--
			}
		}
		list = nil
		gjson.ParseBytes(data[:end]).ForEach(func(_, v gjson.Result) bool {
			list = append(list, Feature(v.Uint()))
			return true
		})
	}
	s.features = make(map[Feature]struct{}, len(list))
	for _, f := range list {
		s.features[f] = struct{}{}
	}
	return nil
}

// Exists reports whether the backing file has been persisted at least once.
func (s *FileStore) Exists() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := os.Stat(s.filePath)
	return err == nil
}

// Save persists the full feature set, sorted for diff-stable output.
func (s *FileStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *FileStore) saveLocked() error {
	list := make([]Feature, 0, len(s.features))
	for f := range s.features {
		list = append(list, f)
	}
	for i := 1; i < len(list); i++ {
		for j := i; j > 0 && list[j-1] > list[j]; j-- {
			list[j-1], list[j] = list[j], list[j-1]
		}
	}

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0755); err != nil {
		return fmt.Errorf("failed to create feature store directory: %w", err)
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal feature store: %w", err)
	}
	if err := os.WriteFile(s.filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write feature store %s: %w", s.filePath, err)
	}
	return nil
}

// Contains reports whether f has already been recorded.
func (s *FileStore) Contains(f Feature) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.features[f]
	return ok
}

// InsertNew adds every not-yet-seen feature in fs and returns those that
// were newly added. Callers persist with Save once all insertions for a
// CorpusEvolver run are complete (SPEC_FULL.md §4.3 ordering guarantee).
func (s *FileStore) InsertNew(fs []Feature) []Feature {
	s.mu.Lock()
	defer s.mu.Unlock()

	var added []Feature
	for _, f := range fs {
		if _, ok := s.features[f]; !ok {
			s.features[f] = struct{}{}
			added = append(added, f)
		}
	}
	return added
}

// Len returns the number of distinct features recorded so far.
func (s *FileStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.features)
}
