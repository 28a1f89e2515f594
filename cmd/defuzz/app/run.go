package app

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/defuzzforge/defuzzforge/internal/batch"
	"github.com/defuzzforge/defuzzforge/internal/config"
	"github.com/defuzzforge/defuzzforge/internal/evolve"
	"github.com/defuzzforge/defuzzforge/internal/feature"
	"github.com/defuzzforge/defuzzforge/internal/logger"
	"github.com/defuzzforge/defuzzforge/internal/program"
	"github.com/defuzzforge/defuzzforge/internal/state"
	"github.com/defuzzforge/defuzzforge/internal/triage"
	"github.com/defuzzforge/defuzzforge/internal/workdir"
)

// NewRunCommand creates the "run" subcommand: BatchSupervisor's outer loop,
// draining the pending program queue in batches of cfg.Pipeline.Core until
// empty.
func NewRunCommand() *cobra.Command {
	var harnessPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Drain the pending candidate queue through the sanitization pipeline.",
		Long: `Dispatches every pending candidate fuzz driver in output/<lib>/seeds
through BatchSupervisor, in batches of the configured core size, one
harness worker process per candidate. Accepted candidates move to
succ_seeds/, rejected ones to err_seeds/; Hang and Fuzzer verdicts also get
a Markdown triage report in output/<lib>/triage, naming their retained
WorkDir.

Resumes automatically: the pending queue, feature store, and shared corpus
are all persisted to disk, so a re-run after a crash picks up where the
last one left off.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger.SetLevel(cfg.LogLevel)

			if harnessPath == "" {
				if resolved, err := exec.LookPath("harness"); err == nil {
					harnessPath = resolved
				} else {
					harnessPath = "harness"
				}
			}

			return runBatches(cfg, harnessPath)
		},
	}

	cmd.Flags().StringVar(&harnessPath, "harness-path", "", "path to the harness child-worker binary (default: resolved from PATH)")
	return cmd
}

func runBatches(cfg *config.Config, harnessPath string) error {
	seedsDir := filepath.Join(cfg.Layout.OutputRoot, "seeds")
	succDir := filepath.Join(cfg.Layout.OutputRoot, "succ_seeds")
	errDir := filepath.Join(cfg.Layout.OutputRoot, "err_seeds")
	workRoot := filepath.Join(cfg.Layout.OutputRoot, "work")
	triageDir := filepath.Join(cfg.Layout.OutputRoot, "triage")
	stateDir := filepath.Join(cfg.Layout.OutputRoot, "state")
	sharedCorpus := filepath.Join(cfg.Layout.OutputRoot, "corpus")
	miscDir := filepath.Join(cfg.Layout.OutputRoot, "misc")

	queue := program.NewQueue(seedsDir)
	if err := queue.Load(); err != nil {
		return fmt.Errorf("failed to load pending queue: %w", err)
	}
	if queue.Len() == 0 {
		logger.Info("pending queue is empty, nothing to do")
		return nil
	}

	succQueue := program.NewQueue(succDir)
	errQueue := program.NewQueue(errDir)
	reporter := triage.NewMarkdownReporter(triageDir)
	metrics := state.NewFileMetricsManager(stateDir)
	featureStore := feature.NewFileStore(miscDir)

	resumeState := state.NewFileManager(stateDir)
	if err := resumeState.Load(); err != nil {
		return fmt.Errorf("failed to load resume state: %w", err)
	}

	// The Supervisor owns the one-and-only Evolver instance for this run:
	// GlobalFeatureStore is read-modify-written serially here, never inside
	// the per-candidate worker processes CheckMany spawns (SPEC_FULL.md §8).
	sup := &batch.Supervisor{
		Runner:       batch.NewExecWorkerRunner(harnessPath),
		LibraryName:  cfg.Library,
		LibRoot:      cfg.Layout.DataRoot,
		WorkRoot:     workRoot,
		Core:         cfg.Pipeline.Core,
		Evolver:      evolve.New(featureStore, nil),
		SharedCorpus: sharedCorpus,
	}

	ctx := context.Background()
	for queue.Len() > 0 {
		batchPrograms := queue.NextBatch(cfg.Pipeline.Core)
		logger.Info("dispatching batch of %d candidates", len(batchPrograms))
		resumeState.UpdatePoolSize(queue.Len())

		verdicts, err := sup.CheckMany(ctx, batchPrograms)
		if err != nil {
			queue.Requeue(batchPrograms)
			return fmt.Errorf("batch run failed: %w", err)
		}

		for _, v := range verdicts {
			metrics.RecordSeedProcessed()
			resumeState.UpdateCurrentID(v.Program.ID)
			resumeState.IncrementProcessed()
			if err := queue.Archive(v.Program); err != nil {
				return fmt.Errorf("failed to archive program %d: %w", v.Program.ID, err)
			}

			if v.Err == nil {
				logger.Info("program %d accepted", v.Program.ID)
				metrics.RecordCoverageIncrease()
				resumeState.UpdateCoverage(uint64(featureStore.Len()))
				if err := succQueue.Add(v.Program); err != nil {
					return fmt.Errorf("failed to record accepted program %d: %w", v.Program.ID, err)
				}
				continue
			}

			logger.Warn("program %d rejected: %s", v.Program.ID, v.Err.Error())
			if err := errQueue.Add(v.Program); err != nil {
				return fmt.Errorf("failed to record rejected program %d: %w", v.Program.ID, err)
			}

			if !v.Err.KeepsWorkDir() {
				continue
			}
			if err := writeTriageReport(reporter, v.Program, v.Err, workRoot); err != nil {
				logger.Warn("failed to write triage report for program %d: %v", v.Program.ID, err)
			}
		}

		if err := metrics.Save(); err != nil {
			logger.Warn("failed to persist run metrics: %v", err)
		}
		if err := resumeState.Save(); err != nil {
			logger.Warn("failed to persist resume state: %v", err)
		}
	}

	logger.Info("queue drained: %s", metrics.FormatOneLine())
	return nil
}

// writeTriageReport locates the retained WorkDir for a Hang/Fuzzer verdict
// and saves a Markdown report for it in the reporter's output directory.
func writeTriageReport(reporter *triage.MarkdownReporter, p *program.Program, progErr *program.ProgramError, workRoot string) error {
	dirs, err := batch.WorkDirsForProgram(workRoot, p.ID)
	if err != nil {
		return err
	}
	if len(dirs) == 0 {
		return fmt.Errorf("no retained workdir found for program %d", p.ID)
	}
	w := workdir.Open(dirs[0], p.ID)
	_, err = reporter.Save(p, progErr, w)
	return err
}
