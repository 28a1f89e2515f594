package app

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/defuzzforge/defuzzforge/internal/config"
	"github.com/defuzzforge/defuzzforge/internal/logger"
	"github.com/defuzzforge/defuzzforge/internal/program"
	"github.com/defuzzforge/defuzzforge/internal/recheck"
	"github.com/defuzzforge/defuzzforge/internal/toolchain"
)

// NewRecheckCommand creates the "recheck" subcommand: Recheck (SPEC_FULL.md
// §7, component G), run once after the fuzz loop's first convergence.
func NewRecheckCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recheck",
		Short: "Re-validate every previously accepted seed against the enriched shared corpus.",
		Long: `Recompiles every seed in succ_seeds/ under the Fuzzer profile and
re-runs the Execute stage against the shared corpus as it now stands. Any
seed that no longer compiles or now hangs/errors is demoted: moved from
succ_seeds/ to err_seeds/.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger.SetLevel(cfg.LogLevel)
			return runRecheck(cfg)
		},
	}
	return cmd
}

func runRecheck(cfg *config.Config) error {
	succDir := filepath.Join(cfg.Layout.OutputRoot, "succ_seeds")
	errDir := filepath.Join(cfg.Layout.OutputRoot, "err_seeds")
	sharedCorpus := filepath.Join(cfg.Layout.OutputRoot, "corpus")
	workRoot := filepath.Join(cfg.Layout.OutputRoot, "work")

	succQueue := program.NewQueue(succDir)
	if err := succQueue.Load(); err != nil {
		return fmt.Errorf("failed to load accepted seeds: %w", err)
	}
	seeds := succQueue.NextBatch(succQueue.Len())
	if len(seeds) == 0 {
		logger.Info("no accepted seeds to recheck")
		return nil
	}

	driver := toolchain.New(toolchain.Config{
		CompilerPath:    cfg.Toolchain.CompilerPath,
		IncludePath:     cfg.Toolchain.IncludePath,
		CoverageLibPath: cfg.Toolchain.CoverageLibPath,
		BlocklistPath:   cfg.Toolchain.BlocklistPath,
		LibrarySoPath:   cfg.Toolchain.LibrarySoPath,
	})

	r := &recheck.Recheck{Driver: driver, SharedCorpus: sharedCorpus, WorkRoot: workRoot}
	results, err := r.Run(seeds)
	if err != nil {
		return fmt.Errorf("recheck pass failed: %w", err)
	}

	errQueue := program.NewQueue(errDir)
	demoted := 0
	bySeedID := make(map[uint64]*program.Program, len(seeds))
	for _, s := range seeds {
		bySeedID[s.ID] = s
	}

	for _, res := range results {
		if !res.Demoted {
			// Still accepted: its file under succ_seeds/ was never touched
			// by NextBatch, nothing to do.
			continue
		}
		demoted++
		seed := bySeedID[res.ProgramID]
		logger.Warn("seed %d demoted on recheck: %s", res.ProgramID, res.Err.Error())
		if err := succQueue.Archive(seed); err != nil {
			return fmt.Errorf("failed to remove demoted seed %d from accepted queue: %w", res.ProgramID, err)
		}
		if err := errQueue.Add(seed); err != nil {
			return fmt.Errorf("failed to demote seed %d: %w", res.ProgramID, err)
		}
	}

	logger.Info("recheck complete: %d/%d demoted", demoted, len(seeds))
	return nil
}
