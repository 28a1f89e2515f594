// Command harness is the child-worker CLI BatchSupervisor spawns once per
// candidate (SPEC_FULL.md §9): `harness <library_name> check <program_path>`.
// It runs the full five-stage sanitization pipeline for one serialized
// Program, inside its own OS process, and reports the verdict through its
// exit code and stderr rather than a return value in shared memory — the
// same out-of-process isolation the teacher's seed_executor relies on for a
// single seed's synchronous, timeout-bounded run.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/defuzzforge/defuzzforge/internal/config"
	"github.com/defuzzforge/defuzzforge/internal/logger"
	"github.com/defuzzforge/defuzzforge/internal/oracle"
	"github.com/defuzzforge/defuzzforge/internal/program"
	"github.com/defuzzforge/defuzzforge/internal/stage"
	"github.com/defuzzforge/defuzzforge/internal/toolchain"
	"github.com/defuzzforge/defuzzforge/internal/workdir"
)

func main() {
	if err := newHarnessCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func newHarnessCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "harness <library_name> check <program_path>",
		Short:         "Run one candidate fuzz driver through the sanitization pipeline.",
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			libraryName, subcommand, programPath := args[0], args[1], args[2]
			if subcommand != "check" {
				return fmt.Errorf("unknown harness subcommand %q", subcommand)
			}
			return runCheck(libraryName, programPath)
		},
	}
	return cmd
}

// runCheck implements the child-worker protocol: exit 0 on acceptance, or
// write the rejecting ProgramError as JSON to stderr and exit non-zero.
func runCheck(libraryName, programPath string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger.SetLevel(cfg.LogLevel)

	if libraryName != cfg.Library {
		return fmt.Errorf("harness invoked for library %q but configured for %q", libraryName, cfg.Library)
	}

	id, err := idFromProgramPath(programPath)
	if err != nil {
		return fmt.Errorf("failed to parse program id from %s: %w", programPath, err)
	}

	source, err := os.ReadFile(programPath)
	if err != nil {
		return fmt.Errorf("failed to read program %s: %w", programPath, err)
	}
	p := &program.Program{ID: id, Source: string(source)}

	workRoot := filepath.Join(cfg.Layout.OutputRoot, "work")
	sharedCorpus := filepath.Join(cfg.Layout.OutputRoot, "corpus")

	w, err := workdir.New(workRoot, p.ID, p.Source)
	if err != nil {
		return fmt.Errorf("failed to create workdir: %w", err)
	}

	driver := toolchain.New(toolchain.Config{
		CompilerPath:    cfg.Toolchain.CompilerPath,
		IncludePath:     cfg.Toolchain.IncludePath,
		CoverageLibPath: cfg.Toolchain.CoverageLibPath,
		BlocklistPath:   cfg.Toolchain.BlocklistPath,
		LibrarySoPath:   cfg.Toolchain.LibrarySoPath,
	})

	predicate, err := oracle.New(cfg.Predicate.Type, cfg.Predicate.Options)
	if err != nil {
		return fmt.Errorf("failed to build coverage predicate: %w", err)
	}

	// CorpusEvolver (feature.Store, evolve.Evolver) deliberately does not
	// appear here: GlobalFeatureStore is read-modify-written serially on
	// BatchSupervisor's own process, never inside a per-candidate worker
	// (SPEC_FULL.md §8). This worker only decides acceptance and, on
	// acceptance, leaves the Minimize binary compiled for the Supervisor to
	// use.
	runner := stage.New(stage.Config{
		Driver:       driver,
		Predicate:    predicate,
		Coverage:     stage.DefaultCoverageCollector{Driver: driver},
		SharedCorpus: sharedCorpus,
		InitFilePath: cfg.Toolchain.InitFilePath,
	})

	progErr := runner.Run(p, w)

	if progErr == nil {
		// An accepted candidate's local corpus/ must survive this process:
		// BatchSupervisor's CorpusEvolver pass still needs it for the merge
		// step, so cleanup_sanitize_dir (which would remove it) runs on the
		// Supervisor's side, after Evolve, instead of here.
		return nil
	}

	// Rejected: nothing further will touch this WorkDir from another
	// process, so cleanup_sanitize_dir can run immediately.
	if err := w.Cleanup(); err != nil {
		return fmt.Errorf("failed to clean workdir: %w", err)
	}

	raw, err := program.MarshalStderr(progErr)
	if err != nil {
		return fmt.Errorf("failed to marshal verdict: %w", err)
	}
	fmt.Fprintln(os.Stderr, string(raw))
	os.Exit(1)
	return nil
}

// idFromProgramPath parses the ID out of a path named id-<digits>.c
// (program.Program.SerializedPath's format).
func idFromProgramPath(path string) (uint64, error) {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.TrimPrefix(base, "id-")
	id, err := strconv.ParseUint(base, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unrecognized program filename %q: %w", filepath.Base(path), err)
	}
	return id, nil
}
