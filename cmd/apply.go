// File: cmd/apply.go
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/applyloop/applyloop/api/schemas"
	"github.com/applyloop/applyloop/internal/browser"
	"github.com/applyloop/applyloop/internal/config"
	"github.com/applyloop/applyloop/internal/engine"
	"github.com/applyloop/applyloop/internal/executor"
	"github.com/applyloop/applyloop/internal/history"
	"github.com/applyloop/applyloop/internal/llmclient"
	"github.com/applyloop/applyloop/internal/loop"
	"github.com/applyloop/applyloop/internal/observability"
	"github.com/applyloop/applyloop/internal/planner"
	"github.com/applyloop/applyloop/internal/profile"
	"github.com/applyloop/applyloop/internal/recovery"
	"github.com/applyloop/applyloop/internal/snapshot"
)

// newApplyCmd creates and configures the `apply` command.
func newApplyCmd() *cobra.Command {
	applyCmd := &cobra.Command{
		Use:   "apply [job-urls...]",
		Short: "Runs an application attempt against each job URL",
		Args:  cobra.MinimumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind flags to their Viper keys so command-line flags override
			// values from the config file and environment.
			if err := viper.BindPFlag("engine.concurrency", cmd.Flags().Lookup("concurrency")); err != nil {
				return err
			}
			if err := viper.BindPFlag("browser.headless", cmd.Flags().Lookup("headless")); err != nil {
				return err
			}
			return viper.BindPFlag("profile.path", cmd.Flags().Lookup("profile"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			// The context from Execute ends on SIGINT/SIGTERM.
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return err
			}

			components, err := initializeApplyComponents(*cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}

			results := components.Engine.ProcessBatch(ctx, args)

			counts := engine.Summarize(results)
			fmt.Printf("\nBatch complete: %d completed, %d failed, %d aborted\n",
				counts[schemas.StatusCompleted],
				counts[schemas.StatusFailed],
				counts[schemas.StatusAborted],
			)
			for _, r := range results {
				line := fmt.Sprintf("  %-9s %s", r.Status, r.JobURL)
				if r.Reason != "" {
					line += " (" + r.Reason + ")"
				}
				fmt.Println(line)
			}

			if ctx.Err() != nil {
				return fmt.Errorf("batch interrupted by signal")
			}
			return nil
		},
	}

	applyCmd.Flags().IntP("concurrency", "j", 0, "Number of concurrent attempts. (Overrides config/env)")
	applyCmd.Flags().Bool("headless", true, "Run the browser headless. (Overrides config/env)")
	applyCmd.Flags().StringP("profile", "p", "", "Path to the applicant profile YAML. (Overrides config/env)")

	return applyCmd
}

// applyComponents holds the long-lived services shared across attempts.
type applyComponents struct {
	Engine   *engine.Engine
	Recorder *history.FileRecorder
}

// initializeApplyComponents handles dependency injection. The browser driver
// is not built here: each attempt launches and tears down its own session.
func initializeApplyComponents(cfg config.Config, logger *zap.Logger) (*applyComponents, error) {
	prof, err := profile.Load(cfg.Profile.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load applicant profile: %w", err)
	}

	recorder, err := history.NewFileRecorder(cfg.History.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open application history: %w", err)
	}

	// One limiter paces everything outbound: attempt starts through the
	// engine, model calls through the paced client.
	limiter := engine.NewLimiter(cfg.Engine)

	llm, err := llmclient.NewClient(cfg.LLM, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build model client: %w", err)
	}
	pacedLLM := llmclient.NewPacedClient(llm, limiter)

	attempt := func(ctx context.Context, jobURL string) schemas.AttemptResult {
		driver, err := browser.NewDriver(ctx, cfg.Browser, logger)
		if err != nil {
			logger.Error("Failed to launch browser session",
				zap.String("job_url", jobURL), zap.Error(err))
			return recordLaunchFailure(ctx, recorder, logger, jobURL, err)
		}
		defer driver.Close(context.Background())

		builder := snapshot.NewBuilder(driver, logger)
		attemptLoop := loop.New(
			driver,
			builder,
			planner.New(pacedLLM, prof, cfg.Loop, logger),
			recovery.New(pacedLLM, prof, cfg.Loop, logger),
			executor.New(driver, builder, cfg.Loop, logger),
			recorder,
			cfg,
			logger,
		)
		return attemptLoop.Run(ctx, jobURL)
	}

	return &applyComponents{
		Engine:   engine.New(cfg.Engine, limiter, attempt, recorder, logger),
		Recorder: recorder,
	}, nil
}

// recordLaunchFailure reports an attempt that never got a browser session.
// It still lands in the history file so the ledger stays complete.
func recordLaunchFailure(ctx context.Context, recorder schemas.HistoryRecorder, logger *zap.Logger, jobURL string, cause error) schemas.AttemptResult {
	now := time.Now().UTC()
	result := schemas.AttemptResult{
		AttemptID:  uuid.NewString(),
		JobURL:     jobURL,
		Status:     schemas.StatusFailed,
		Reason:     fmt.Sprintf("browser launch failed: %v", cause),
		StartedAt:  now,
		FinishedAt: now,
	}

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	hist := &schemas.SessionHistory{AttemptID: result.AttemptID, JobURL: jobURL}
	if err := recorder.Record(recordCtx, result, hist); err != nil {
		logger.Error("Failed to record attempt", zap.Error(err))
	}
	return result
}
