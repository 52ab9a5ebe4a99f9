package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/modelops/finetunectl/pkg/sdk"
)

const (
	// DefaultPollInterval is tuned for the fully automatic pipeline, where
	// nobody is necessarily watching.
	DefaultPollInterval = 2 * time.Minute

	// InteractivePollInterval is the shorter cadence used when an operator
	// monitors a single job.
	InteractivePollInterval = 30 * time.Second

	diagnosticsLimit = 1000
)

// Monitor polls a fine-tuning job until it reaches a terminal state and
// collects its artifacts into a report.
type Monitor struct {
	sdk      sdk.SDK
	logger   *slog.Logger
	interval time.Duration
}

func NewMonitor(s sdk.SDK, logger *slog.Logger, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	return &Monitor{
		sdk:      s,
		logger:   logger,
		interval: interval,
	}
}

// WaitUntilTerminal fetches the job status every poll interval until it is
// terminal, returning the final snapshot. Cancelling ctx stops the wait
// before the next fetch and returns ctx.Err().
func (m *Monitor) WaitUntilTerminal(ctx context.Context, jobID string) (sdk.Job, error) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		job, err := m.sdk.GetJob(ctx, jobID)
		if err != nil {
			return sdk.Job{}, fmt.Errorf("failed to retrieve job %s: %w", jobID, err)
		}

		m.logger.Info("fine-tuning job status",
			slog.String("job_id", jobID),
			slog.String("status", string(job.Status)))

		if job.Status.Terminal() {
			return job, nil
		}

		select {
		case <-ctx.Done():
			return sdk.Job{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// BuildReport fetches the terminal job's events and checkpoints and writes
// the report artifact set under outDir. It returns the report directory.
func (m *Monitor) BuildReport(ctx context.Context, job sdk.Job, outDir string) (string, error) {
	events, err := m.sdk.ListJobEvents(ctx, job.ID, diagnosticsLimit)
	if err != nil {
		return "", fmt.Errorf("failed to list events for job %s: %w", job.ID, err)
	}

	checkpoints, err := m.sdk.ListJobCheckpoints(ctx, job.ID, diagnosticsLimit)
	if err != nil {
		return "", fmt.Errorf("failed to list checkpoints for job %s: %w", job.ID, err)
	}

	metrics := ExtractMetrics(events)

	dir, err := WriteReport(job, events, checkpoints, metrics, outDir)
	if err != nil {
		return "", err
	}

	m.logger.Info("report written",
		slog.String("job_id", job.ID),
		slog.String("dir", dir),
		slog.Int("events", len(events)),
		slog.Int("checkpoints", len(checkpoints)),
		slog.Int("metric_rows", len(metrics)))

	return dir, nil
}

// MetricRow is one tidy row of the training metrics table.
type MetricRow struct {
	Step          int64
	TrainLoss     *float64
	ValidLoss     *float64
	FullValidLoss *float64
}

// ExtractMetrics builds the metrics table from events of type "metrics".
// Rows without a step are discarded; the result is sorted ascending by step.
func ExtractMetrics(events []sdk.Event) []MetricRow {
	var rows []MetricRow
	for _, e := range events {
		if e.Type != "metrics" {
			continue
		}
		if e.Data.Step == nil {
			continue
		}
		rows = append(rows, MetricRow{
			Step:          *e.Data.Step,
			TrainLoss:     e.Data.TrainLoss,
			ValidLoss:     e.Data.ValidLoss,
			FullValidLoss: e.Data.FullValidLoss,
		})
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].Step < rows[j].Step })

	return rows
}
