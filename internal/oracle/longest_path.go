package oracle

func init() {
	Register("longest_api_path", NewLongestAPIPathPredicate)
}

// NewLongestAPIPathPredicate builds the default Predicate: the driver fails
// if any symbol named in targetPath was never observed as covered.
func NewLongestAPIPathPredicate(options map[string]any) (Predicate, error) {
	return longestAPIPathPredicate{}, nil
}

// longestAPIPathPredicate implements sanitize_by_fuzzer_coverage directly
// against the combination the candidate was prompted to exercise: it fails
// the driver unless every symbol on that path was hit at least once.
type longestAPIPathPredicate struct{}

func (longestAPIPathPredicate) Fails(summary Summary, targetPath []string) bool {
	for _, sym := range targetPath {
		if !summary.CoveredSymbols[sym] {
			return true
		}
	}
	return false
}
