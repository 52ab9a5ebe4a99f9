package cli

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/modelops/finetunectl/pipeline"
	"github.com/modelops/finetunectl/pkg/sdk"
)

var (
	configPath        string
	datasetDir        string
	runPollInterval   time.Duration
	runTimeout        time.Duration
	runOutputDir      string
	watchPollInterval time.Duration
	watchOutputDir    string
)

var psdk sdk.SDK

func SetSDK(s sdk.SDK) {
	psdk = s
}

func NewPipelineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipeline [run|monitor|cancel]",
		Short: "Fine-tuning pipeline",
		Long:  `Run the automatic fine-tuning pipeline, monitor a job or cancel it.`,
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run pipeline",
		Long: `Run the full fine-tuning pipeline end to end.

Examples:
  # Drive the run from a declarative configuration file
  finetunectl pipeline run --config config/en-fr.toml

  # Auto-discover everything from the dataset directory
  finetunectl pipeline run --dataset-dir data/en-fr/3_fineTuning/supervised`,
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := runSource()
			if err != nil {
				logErrorCmd(*cmd, err)

				return err
			}

			ctx := cmd.Context()
			if runTimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, runTimeout)
				defer cancel()
			}

			p := pipeline.New(psdk, src, slog.Default(), pipeline.Options{
				PollInterval: runPollInterval,
				OutputDir:    runOutputDir,
				Output:       cmd.OutOrStdout(),
			})
			if err := p.Run(ctx); err != nil {
				logErrorCmd(*cmd, err)

				return err
			}
			logOKCmd(*cmd)

			return nil
		},
	}
	runCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the TOML run configuration")
	runCmd.Flags().StringVarP(&datasetDir, "dataset-dir", "d", "", "Dataset method directory for auto-discovery")
	runCmd.Flags().DurationVarP(&runPollInterval, "poll-interval", "p", pipeline.DefaultPollInterval, "Job status poll interval")
	runCmd.Flags().DurationVarP(&runTimeout, "timeout", "t", 0, "Overall run timeout (0 means no timeout)")
	runCmd.Flags().StringVarP(&runOutputDir, "out-dir", "O", "", "Report output directory override")

	monitorCmd := &cobra.Command{
		Use:   "monitor <job_id>",
		Short: "Monitor job",
		Long:  `Poll a fine-tuning job until it finishes and write its report.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return nil
			}

			m := pipeline.NewMonitor(psdk, slog.Default(), watchPollInterval)
			job, err := m.WaitUntilTerminal(cmd.Context(), args[0])
			if err != nil {
				logErrorCmd(*cmd, err)

				return err
			}
			logJSONCmd(*cmd, job)

			dir, err := m.BuildReport(cmd.Context(), job, watchOutputDir)
			if err != nil {
				logErrorCmd(*cmd, err)

				return err
			}
			logJSONCmd(*cmd, map[string]string{"report_dir": dir})

			return nil
		},
	}
	monitorCmd.Flags().DurationVarP(&watchPollInterval, "poll-interval", "p", pipeline.InteractivePollInterval, "Job status poll interval")
	monitorCmd.Flags().StringVarP(&watchOutputDir, "out-dir", "O", "result/ft_reports", "Report output directory")

	cancelCmd := &cobra.Command{
		Use:   "cancel <job_id>",
		Short: "Cancel job",
		Long:  `Request cancellation of a running fine-tuning job.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return nil
			}

			job, err := psdk.CancelJob(cmd.Context(), args[0])
			if err != nil {
				logErrorCmd(*cmd, err)

				return err
			}
			logJSONCmd(*cmd, job)

			return nil
		},
	}

	cmd.AddCommand(runCmd)
	cmd.AddCommand(monitorCmd)
	cmd.AddCommand(cancelCmd)

	return cmd
}

// runSource maps the run flags to a configuration source. Exactly one of
// --config and --dataset-dir must be set.
func runSource() (pipeline.Source, error) {
	switch {
	case configPath != "" && datasetDir != "":
		return nil, errors.New("--config and --dataset-dir are mutually exclusive")
	case configPath != "":
		return pipeline.Declarative{Path: configPath}, nil
	case datasetDir != "":
		return pipeline.AutoDiscovered{RootDir: datasetDir}, nil
	default:
		return nil, errors.New("one of --config or --dataset-dir is required")
	}
}
