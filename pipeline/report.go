package pipeline

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/modelops/finetunectl/pkg/sdk"
)

const reportFilePerm = 0o644

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// SanitizeModelName maps a model identifier to a filesystem-safe name.
func SanitizeModelName(name string) string {
	return unsafeNameChars.ReplaceAllString(name, "_")
}

// reportModelName picks the identifier the report is named after: the
// fine-tuned model once present, the base model otherwise, the job id as a
// last resort.
func reportModelName(job sdk.Job) string {
	switch {
	case job.FineTunedModel != "":
		return job.FineTunedModel
	case job.Model != "":
		return job.Model
	default:
		return job.ID
	}
}

// WriteReport writes the full artifact set for a terminal job under
// outDir/<sanitized model name>: the job snapshot, the event, checkpoint and
// metric tables, and the training-curve chart. Regenerating overwrites.
func WriteReport(job sdk.Job, events []sdk.Event, checkpoints []sdk.Checkpoint, metrics []MetricRow, outDir string) (string, error) {
	safe := SanitizeModelName(reportModelName(job))
	dir := filepath.Join(outDir, safe)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	snapshot, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, "job_"+safe+".json"), snapshot, reportFilePerm); err != nil {
		return "", err
	}

	if err := writeEventsCSV(filepath.Join(dir, "events_"+safe+".csv"), events); err != nil {
		return "", err
	}
	if err := writeCheckpointsCSV(filepath.Join(dir, "checkpoints_"+safe+".csv"), checkpoints); err != nil {
		return "", err
	}
	if err := writeMetricsCSV(filepath.Join(dir, "metrics_"+safe+".csv"), metrics); err != nil {
		return "", err
	}

	if err := renderTrainingCurve(filepath.Join(dir, "training_curve_"+safe+".png"), metrics); err != nil {
		return "", fmt.Errorf("failed to render training curve: %w", err)
	}

	return dir, nil
}

func writeCSV(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return err
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()

	return w.Error()
}

func writeEventsCSV(path string, events []sdk.Event) error {
	rows := make([][]string, 0, len(events))
	for _, e := range events {
		rows = append(rows, []string{
			time.Unix(e.CreatedAt, 0).UTC().Format(time.RFC3339),
			e.Level,
			e.Type,
			e.Message,
		})
	}

	return writeCSV(path, []string{"created_at", "level", "type", "message"}, rows)
}

func writeCheckpointsCSV(path string, checkpoints []sdk.Checkpoint) error {
	rows := make([][]string, 0, len(checkpoints))
	for _, c := range checkpoints {
		rows = append(rows, []string{
			c.ID,
			strconv.FormatInt(c.StepNumber, 10),
			time.Unix(c.CreatedAt, 0).UTC().Format(time.RFC3339),
			c.FineTunedModelCheckpoint,
		})
	}

	return writeCSV(path, []string{"id", "step_number", "created_at", "fine_tuned_model_checkpoint"}, rows)
}

func formatLoss(v *float64) string {
	if v == nil {
		return ""
	}

	return strconv.FormatFloat(*v, 'g', -1, 64)
}

func writeMetricsCSV(path string, metrics []MetricRow) error {
	rows := make([][]string, 0, len(metrics))
	for _, m := range metrics {
		rows = append(rows, []string{
			strconv.FormatInt(m.Step, 10),
			formatLoss(m.TrainLoss),
			formatLoss(m.ValidLoss),
			formatLoss(m.FullValidLoss),
		})
	}

	return writeCSV(path, []string{"step", "train_loss", "valid_loss", "full_valid_loss"}, rows)
}

type lossSeries struct {
	name   string
	points plotter.XYs
}

func lossColumns(metrics []MetricRow) []lossSeries {
	cols := []struct {
		name  string
		value func(MetricRow) *float64
	}{
		{"train_loss", func(m MetricRow) *float64 { return m.TrainLoss }},
		{"valid_loss", func(m MetricRow) *float64 { return m.ValidLoss }},
		{"full_valid_loss", func(m MetricRow) *float64 { return m.FullValidLoss }},
	}

	var series []lossSeries
	for _, col := range cols {
		var pts plotter.XYs
		for _, m := range metrics {
			v := col.value(m)
			// Log axis: non-positive losses cannot be plotted.
			if v == nil || *v <= 0 {
				continue
			}
			pts = append(pts, plotter.XY{X: float64(m.Step), Y: *v})
		}
		if len(pts) > 0 {
			series = append(series, lossSeries{name: col.name, points: pts})
		}
	}

	return series
}

// renderTrainingCurve draws loss vs. step with a logarithmic loss axis, one
// series per available loss column. An empty metrics table still produces a
// valid image with a placeholder title.
func renderTrainingCurve(path string, metrics []MetricRow) error {
	p := plot.New()
	p.X.Label.Text = "Step"
	p.Y.Label.Text = "Loss"

	series := lossColumns(metrics)
	if len(series) == 0 {
		p.Title.Text = "No metrics data"

		return p.Save(10*vg.Inch, 6*vg.Inch, path)
	}

	p.Title.Text = "Training losses vs step"
	p.Y.Scale = plot.LogScale{}
	p.Y.Tick.Marker = plot.LogTicks{Prec: -1}
	p.Add(plotter.NewGrid())
	p.Legend.Top = true

	for _, s := range series {
		if err := plotutil.AddLinePoints(p, s.name, s.points); err != nil {
			return err
		}
	}

	return p.Save(10*vg.Inch, 6*vg.Inch, path)
}
