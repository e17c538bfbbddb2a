package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dasabhishk/st2/internal/app"
	"github.com/dasabhishk/st2/pkg/migration/core/domain/model"
	"github.com/dasabhishk/st2/pkg/migration/manager"
	"github.com/dasabhishk/st2/pkg/migration/support/util/logger"
)

func newRootCommand() *cobra.Command {
	opts := &app.Options{EmbeddedConfig: embeddedConfig}
	root := &cobra.Command{
		Use:           "migrator",
		Short:         "Migrates validated staging rows into the target database",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	envDefault := os.Getenv("ENV_FILE_PATH")
	if envDefault == "" {
		envDefault = ".env"
	}
	root.PersistentFlags().StringVar(&opts.EnvFilePath, "env-file", envDefault, "path of the .env file")
	root.PersistentFlags().StringVar(&opts.ConfigFilePath, "config", "", "YAML file layered over the embedded configuration")

	root.AddCommand(
		newServeCommand(opts),
		newRunCommand(opts),
		newScheduleCommand(opts),
		newReportCommand(opts),
	)
	return root
}

func newServeCommand(opts *app.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, recurring jobs and the HTTP API until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.Serve(cmd.Context(), *opts)
		},
	}
}

// settingsFlags binds per-run overrides. Zero keeps the configured value.
func settingsFlags(cmd *cobra.Command, s *model.MigrationSettings) {
	cmd.Flags().IntVar(&s.MaxParallelism, "max-parallelism", 0, "concurrent procedure calls per group")
	cmd.Flags().IntVar(&s.FetchBatchSize, "fetch-batch-size", 0, "rows fetched per query")
	cmd.Flags().IntVar(&s.ProcessingBatchSize, "processing-batch-size", 0, "rows per processing group")
	cmd.Flags().IntVar(&s.RecordCap, "record-cap", 0, "maximum rows migrated by this run")
}

func newRunCommand(opts *app.Options) *cobra.Command {
	var (
		category  string
		createdBy string
		settings  model.MigrationSettings
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Migrate a category now and wait for the run to finish",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.Run(cmd.Context(), *opts, func(ctx context.Context, m *manager.Manager) error {
				id, err := m.Start(ctx, manager.StartRequest{
					Category:  category,
					Mode:      model.ModeInstant,
					Settings:  settings,
					CreatedBy: createdBy,
				})
				if err != nil {
					return err
				}
				return awaitJob(ctx, cmd.OutOrStdout(), m, id)
			})
		},
	}
	cmd.Flags().StringVarP(&category, "category", "c", "", "category to migrate (required)")
	cmd.Flags().StringVar(&createdBy, "created-by", currentUser(), "recorded as the requester")
	settingsFlags(cmd, &settings)
	_ = cmd.MarkFlagRequired("category")
	return cmd
}

func newScheduleCommand(opts *app.Options) *cobra.Command {
	var (
		category   string
		createdBy  string
		start, end string
		settings   model.MigrationSettings
	)
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Migrate a category inside a time window and wait for the run to finish",
		RunE: func(cmd *cobra.Command, _ []string) error {
			startAt, err := time.Parse(time.RFC3339, start)
			if err != nil {
				return fmt.Errorf("invalid --start %q: %w", start, err)
			}
			endAt, err := time.Parse(time.RFC3339, end)
			if err != nil {
				return fmt.Errorf("invalid --end %q: %w", end, err)
			}
			return app.Run(cmd.Context(), *opts, func(ctx context.Context, m *manager.Manager) error {
				id, err := m.Start(ctx, manager.StartRequest{
					Category:  category,
					Mode:      model.ModeScheduled,
					Start:     &startAt,
					End:       &endAt,
					Settings:  settings,
					CreatedBy: createdBy,
				})
				if err != nil {
					return err
				}
				logger.Infof("Job %s waits for its window (%s - %s).", id, start, end)
				return awaitJob(ctx, cmd.OutOrStdout(), m, id)
			})
		},
	}
	cmd.Flags().StringVarP(&category, "category", "c", "", "category to migrate (required)")
	cmd.Flags().StringVar(&start, "start", "", "window start, RFC3339 (required)")
	cmd.Flags().StringVar(&end, "end", "", "window end, RFC3339 (required)")
	cmd.Flags().StringVar(&createdBy, "created-by", currentUser(), "recorded as the requester")
	settingsFlags(cmd, &settings)
	_ = cmd.MarkFlagRequired("category")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

// report is printed by the report command.
type report struct {
	Category string      `json:"category"`
	Rows     interface{} `json:"rows"`
	Errors   interface{} `json:"errors"`
}

func newReportCommand(opts *app.Options) *cobra.Command {
	var (
		category string
		since    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print row counts per status and recent error counts for a category",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.Run(cmd.Context(), *opts, func(ctx context.Context, m *manager.Manager) error {
				rows, err := m.Summary(ctx, category)
				if err != nil {
					return err
				}
				now := time.Now()
				errs, err := m.ErrorCounts(ctx, now.Add(-since), now)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), report{Category: category, Rows: rows, Errors: errs})
			})
		},
	}
	cmd.Flags().StringVarP(&category, "category", "c", "", "category to report on (required)")
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "error log look-back")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}

// awaitJob blocks until the job finishes. When ctx is cancelled first the
// job is stopped and its final state is still reported.
func awaitJob(ctx context.Context, out io.Writer, m *manager.Manager, id string) error {
	status, result, err := m.Wait(ctx, id)
	if ctx.Err() != nil {
		if _, stopErr := m.Stop(context.Background(), id); stopErr != nil {
			logger.Errorf("Failed to stop job %s: %v", id, stopErr)
		}
		status, result, err = m.Wait(context.Background(), id)
	}
	if err != nil {
		return err
	}
	if printErr := printJSON(out, struct {
		ID     string          `json:"id"`
		Status model.JobStatus `json:"status"`
		Result model.RunResult `json:"result"`
	}{id, status, result}); printErr != nil {
		return printErr
	}
	if status == model.JobStatusFailed {
		return fmt.Errorf("job %s failed", id)
	}
	return nil
}

func printJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "cli"
}
