package program

import (
	"regexp"
	"strings"
)

// codeBlockRegex matches a fenced code block: ```[lang]\n...\n```
var codeBlockRegex = regexp.MustCompile("(?s)```(?:c|cpp|C|CPP|cc)?\\s*\\n(.+?)\\n?```")

// StripCodeWrapper extracts the C/C++ source from a raw LLM response.
//
// Resolved open question (SPEC_FULL.md §11): if the response contains one or
// more triple-backtick fenced blocks, the code of every fenced block is kept,
// in order, separated by a blank line; everything outside the fences is
// discarded, including prose before the first fence and prose between two
// fences. This differs from the ambiguous "prefix everything before the
// first fence as a comment" behavior: a multi-fence response keeps the code
// of all its blocks, not only the first.
//
// If no fence is found, stray ``` markers are stripped and the remaining
// text is returned trimmed, on the assumption that the whole response is code.
func StripCodeWrapper(response string) string {
	matches := codeBlockRegex.FindAllStringSubmatch(response, -1)
	if len(matches) > 0 {
		blocks := make([]string, 0, len(matches))
		for _, m := range matches {
			if len(m) > 1 {
				blocks = append(blocks, strings.TrimSpace(m[1]))
			}
		}
		return strings.TrimSpace(strings.Join(blocks, "\n\n"))
	}

	lines := strings.Split(response, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
