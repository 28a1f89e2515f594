// Package program holds the data model for a candidate fuzz driver as it
// moves through the sanitization pipeline: the raw Program the LLM produced,
// and the tagged ProgramError variant a stage returns on rejection.
package program

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/tidwall/gjson"
)

// Program is a candidate fuzz driver identified by a stable integer ID.
type Program struct {
	ID          uint64    `json:"id"`
	Source      string    `json:"source"`
	Combination []string  `json:"combination,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// SerializedPath returns the on-disk path a Program is written to before a
// worker checks it, per the layout in SPEC_FULL.md §9: data/<lib>/programs/id-<ID>.c
func (p *Program) SerializedPath(libRoot string) string {
	return filepath.Join(libRoot, "programs", fmt.Sprintf("id-%06d.c", p.ID))
}

// ErrorKind tags the variant of ProgramError, selecting cleanup policy.
type ErrorKind string

const (
	KindSyntax   ErrorKind = "Syntax"
	KindLink     ErrorKind = "Link"
	KindExecute  ErrorKind = "Execute"
	KindFuzzer   ErrorKind = "Fuzzer"
	KindHang     ErrorKind = "Hang"
	KindCoverage ErrorKind = "Coverage"
)

// ProgramError is the tagged variant returned by a pipeline stage on
// rejection. Exactly one of the six kinds in SPEC_FULL.md §5 (Data Model).
type ProgramError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *ProgramError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func newErr(kind ErrorKind, format string, args ...any) *ProgramError {
	return &ProgramError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Syntax(format string, args ...any) *ProgramError   { return newErr(KindSyntax, format, args...) }
func Link(format string, args ...any) *ProgramError     { return newErr(KindLink, format, args...) }
func Execute(format string, args ...any) *ProgramError  { return newErr(KindExecute, format, args...) }
func Fuzzer(format string, args ...any) *ProgramError   { return newErr(KindFuzzer, format, args...) }
func Hang(format string, args ...any) *ProgramError     { return newErr(KindHang, format, args...) }
func Coverage(format string, args ...any) *ProgramError { return newErr(KindCoverage, format, args...) }

// KeepsWorkDir reports whether this verdict's cleanup policy retains the
// WorkDir (SPEC_FULL.md §7, 4.5): Hang and Fuzzer preserve evidence; a nil
// verdict (accepted) also keeps its WorkDir. Anything else is removed.
func (e *ProgramError) KeepsWorkDir() bool {
	if e == nil {
		return true
	}
	return e.Kind == KindHang || e.Kind == KindFuzzer
}

// MarshalStderr encodes a ProgramError as the JSON payload a child worker
// writes to stderr on rejection (SPEC_FULL.md §9, external interfaces).
func MarshalStderr(e *ProgramError) ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalStderr decodes a worker's stderr into a ProgramError. If the bytes
// do not decode as a ProgramError, the Supervisor falls back to
// program.Fuzzer(raw_stderr) per SPEC_FULL.md §7 (Batch Supervisor decode
// fallback). A strict decode is tried first; if it fails, gjson is given a
// chance to pull the kind/message fields out anyway — a worker's stderr can
// carry trailing diagnostic lines appended after its JSON verdict (an
// underlying library writing its own warning to the same stream), which a
// strict json.Unmarshal rejects outright but gjson's tolerant field access
// still resolves.
func UnmarshalStderr(raw []byte) *ProgramError {
	var pe ProgramError
	if err := json.Unmarshal(raw, &pe); err == nil && pe.Kind != "" {
		return &pe
	}

	if kind := gjson.GetBytes(raw, "kind"); kind.Exists() {
		return &ProgramError{Kind: ErrorKind(kind.String()), Message: gjson.GetBytes(raw, "message").String()}
	}

	return Fuzzer("%s", string(raw))
}
