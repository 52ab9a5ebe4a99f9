// Package pipeline sequences the automatic fine-tuning cycle against the
// remote training service: dataset discovery, split upload, job launch,
// polling, failure diagnosis, report generation and evaluation.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/0x6flab/namegenerator"
	"github.com/google/uuid"
	"github.com/hokaccha/go-prettyjson"

	"github.com/modelops/finetunectl/dataset"
	"github.com/modelops/finetunectl/pkg/sdk"
)

const (
	uploadPurpose    = "fine-tune"
	defInspectLimit  = 50
	inspectDetailMax = 5
)

// State identifies the stage a pipeline run is in.
type State uint8

const (
	StateDiscover State = iota
	StateUpload
	StateLaunch
	StatePoll
	StateDiagnoseFailure
	StateReport
	StateEvaluate
	StateInspect
	StateDone
	StateAbort
)

func (s State) String() string {
	switch s {
	case StateDiscover:
		return "Discover"
	case StateUpload:
		return "Upload"
	case StateLaunch:
		return "Launch"
	case StatePoll:
		return "Poll"
	case StateDiagnoseFailure:
		return "DiagnoseFailure"
	case StateReport:
		return "Report"
	case StateEvaluate:
		return "Evaluate"
	case StateInspect:
		return "Inspect"
	case StateDone:
		return "Done"
	case StateAbort:
		return "Abort"
	default:
		return "Unknown"
	}
}

type Options struct {
	// PollInterval overrides DefaultPollInterval when positive.
	PollInterval time.Duration
	// OutputDir overrides the report directory from the run configuration.
	OutputDir string
	// InspectLimit bounds the output-item page fetched for review.
	InspectLimit uint64
	// Output receives operator-facing renderings. Defaults to stdout.
	Output io.Writer
}

// Pipeline is the orchestrator for one run. Each instance is independent;
// no state crosses run boundaries.
type Pipeline struct {
	sdk          sdk.SDK
	src          Source
	logger       *slog.Logger
	out          io.Writer
	pollInterval time.Duration
	outputDir    string
	inspectLimit uint64
	runID        string
}

func New(s sdk.SDK, src Source, logger *slog.Logger, opts Options) *Pipeline {
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	inspectLimit := opts.InspectLimit
	if inspectLimit == 0 {
		inspectLimit = defInspectLimit
	}

	return &Pipeline{
		sdk:          s,
		src:          src,
		logger:       logger,
		out:          out,
		pollInterval: pollInterval,
		outputDir:    opts.OutputDir,
		inspectLimit: inspectLimit,
		runID:        uuid.NewString(),
	}
}

// Run drives the state machine to completion. Errors before the job
// succeeds abort the run; errors after a successful fine-tune are logged as
// warnings and never invalidate the trained model or its report.
func (p *Pipeline) Run(ctx context.Context) error {
	state := StateDiscover

	var (
		cfg      RunConfig
		uploaded map[dataset.Split]string
		job      sdk.Job
		eval     sdk.Eval
		evalRun  sdk.EvalRun
	)

	for {
		switch state {
		case StateDiscover:
			c, err := ResolveConfig(p.src)
			if err != nil {
				return p.abort(state, err)
			}
			cfg = c
			p.logger.Info("dataset resolved",
				slog.String("lang_pair", cfg.Dataset.LangPair),
				slog.String("method", cfg.Dataset.Method),
				slog.String("version", cfg.Dataset.Name),
				slog.String("dir", cfg.Dataset.Dir))
			state = StateUpload

		case StateUpload:
			ids, err := p.upload(ctx, cfg)
			if err != nil {
				return p.abort(state, err)
			}
			uploaded = ids
			state = StateLaunch

		case StateLaunch:
			j, err := p.launch(ctx, cfg, uploaded)
			if err != nil {
				return p.abort(state, err)
			}
			job = j
			p.logger.Info("fine-tuning job created",
				slog.String("job_id", job.ID),
				slog.String("suffix", cfg.Suffix),
				slog.String("status", string(job.Status)))
			state = StatePoll

		case StatePoll:
			monitor := NewMonitor(p.sdk, p.logger, p.pollInterval)
			j, err := monitor.WaitUntilTerminal(ctx, job.ID)
			if err != nil {
				return p.abort(state, err)
			}
			job = j
			if job.Status != sdk.Succeeded {
				state = StateDiagnoseFailure
			} else {
				state = StateReport
			}

		case StateDiagnoseFailure:
			p.diagnoseFailure(ctx, job)

			return p.abort(state, fmt.Errorf("fine-tuning job %s ended with status %q", job.ID, job.Status))

		case StateReport:
			monitor := NewMonitor(p.sdk, p.logger, p.pollInterval)
			if _, err := monitor.BuildReport(ctx, job, p.reportDir(cfg)); err != nil {
				p.logger.Warn("report generation failed",
					slog.String("job_id", job.ID),
					slog.String("error", err.Error()))
			}
			state = StateEvaluate

		case StateEvaluate:
			if !cfg.Evaluation.Enable {
				p.logger.Info("evaluation disabled")
				state = StateDone

				continue
			}
			ev, run, err := p.evaluate(ctx, cfg, job, uploaded)
			if err != nil {
				p.logger.Warn("skipping evaluation",
					slog.String("job_id", job.ID),
					slog.String("error", err.Error()))
				state = StateDone

				continue
			}
			eval = ev
			evalRun = run
			state = StateInspect

		case StateInspect:
			p.inspect(ctx, eval.ID, evalRun.ID)
			state = StateDone

		case StateDone:
			p.logger.Info("pipeline done",
				slog.String("job_id", job.ID),
				slog.String("fine_tuned_model", job.FineTunedModel))

			return nil

		default:
			return p.abort(state, fmt.Errorf("invalid pipeline state %d", state))
		}
	}
}

func (p *Pipeline) abort(s State, err error) error {
	p.logger.Error("pipeline aborted",
		slog.String("state", s.String()),
		slog.String("error", err.Error()))

	return err
}

func (p *Pipeline) reportDir(cfg RunConfig) string {
	if p.outputDir != "" {
		return p.outputDir
	}

	return cfg.Reporting.OutputDir
}

// upload transfers all three split files. A failure on any split aborts the
// run: a job trained without a validation or eval file silently degrades
// quality metrics.
func (p *Pipeline) upload(ctx context.Context, cfg RunConfig) (map[dataset.Split]string, error) {
	uploaded := make(map[dataset.Split]string, len(dataset.Splits))
	for _, split := range dataset.Splits {
		f, err := p.sdk.UploadFile(ctx, cfg.Dataset.Files[split], uploadPurpose)
		if err != nil {
			return nil, fmt.Errorf("failed to upload %s split: %w", split, err)
		}
		uploaded[split] = f.ID
		p.logger.Info("split uploaded",
			slog.String("split", string(split)),
			slog.String("file_id", f.ID))
	}

	return uploaded, nil
}

func (p *Pipeline) launch(ctx context.Context, cfg RunConfig, uploaded map[dataset.Split]string) (sdk.Job, error) {
	req := sdk.JobRequest{
		Model:          cfg.BaseModel,
		TrainingFile:   uploaded[dataset.SplitTrain],
		ValidationFile: uploaded[dataset.SplitValid],
		Suffix:         cfg.Suffix,
		Method: sdk.Method{
			Type: cfg.Dataset.Method,
			Hyperparameters: sdk.Hyperparameters{
				NEpochs:                cfg.Hyperparameters.Epochs,
				BatchSize:              cfg.Hyperparameters.BatchSize,
				LearningRateMultiplier: cfg.Hyperparameters.LearningRateMultiplier,
				Seed:                   cfg.Hyperparameters.Seed,
			},
		},
		Metadata: map[string]string{
			"source":          cfg.Source,
			"lang_pair":       cfg.Dataset.LangPair,
			"version":         cfg.Dataset.Name,
			"pipeline_run_id": p.runID,
		},
		Seed: cfg.Hyperparameters.Seed,
	}

	job, err := p.sdk.CreateJob(ctx, req)
	if err != nil {
		return sdk.Job{}, fmt.Errorf("failed to create fine-tuning job: %w", err)
	}

	return job, nil
}

// diagnoseFailure surfaces the raw job snapshot and best-effort event and
// checkpoint listings. A failed diagnostic fetch is logged without masking
// the job failure; an empty listing is reported as such.
func (p *Pipeline) diagnoseFailure(ctx context.Context, job sdk.Job) {
	p.logger.Error("fine-tuning job did not succeed",
		slog.String("job_id", job.ID),
		slog.String("status", string(job.Status)))
	p.printJSON(job)

	events, err := p.sdk.ListJobEvents(ctx, job.ID, diagnosticsLimit)
	switch {
	case err != nil:
		p.logger.Warn("could not retrieve job events",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()))
	case len(events) == 0:
		fmt.Fprintln(p.out, "no events recorded")
	default:
		fmt.Fprintf(p.out, "events (%d):\n", len(events))
		for _, e := range events {
			fmt.Fprintf(p.out, "  [%s] %s %s\n",
				time.Unix(e.CreatedAt, 0).UTC().Format(time.RFC3339), e.Level, e.Message)
		}
	}

	checkpoints, err := p.sdk.ListJobCheckpoints(ctx, job.ID, diagnosticsLimit)
	switch {
	case err != nil:
		p.logger.Warn("could not retrieve job checkpoints",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()))
	case len(checkpoints) == 0:
		fmt.Fprintln(p.out, "no checkpoints recorded")
	default:
		fmt.Fprintf(p.out, "checkpoints (%d):\n", len(checkpoints))
		for _, c := range checkpoints {
			fmt.Fprintf(p.out, "  %s step=%d model=%s\n", c.ID, c.StepNumber, c.FineTunedModelCheckpoint)
		}
	}
}

func (p *Pipeline) evaluate(ctx context.Context, cfg RunConfig, job sdk.Job, uploaded map[dataset.Split]string) (sdk.Eval, sdk.EvalRun, error) {
	dataSourceConfig, err := readJSONDoc(cfg.Evaluation.DataSourceConfigPath)
	if err != nil {
		return sdk.Eval{}, sdk.EvalRun{}, err
	}
	testingCriteria, err := readJSONDoc(cfg.Evaluation.TestingCriteriaPath)
	if err != nil {
		return sdk.Eval{}, sdk.EvalRun{}, err
	}

	eval, err := p.sdk.CreateEval(ctx, sdk.EvalRequest{
		Name:             fmt.Sprintf("Eval %s %s", cfg.Dataset.LangPair, cfg.Dataset.Name),
		DataSourceConfig: dataSourceConfig,
		TestingCriteria:  testingCriteria,
		Metadata: map[string]string{
			"lang_pair": cfg.Dataset.LangPair,
			"version":   cfg.Dataset.Name,
		},
	})
	if err != nil {
		return sdk.Eval{}, sdk.EvalRun{}, fmt.Errorf("failed to create evaluation: %w", err)
	}
	p.logger.Info("evaluation created", slog.String("eval_id", eval.ID))

	tmpl, err := readRunTemplate(cfg.Evaluation.RunTemplatePath)
	if err != nil {
		return sdk.Eval{}, sdk.EvalRun{}, err
	}

	model := job.FineTunedModel
	if model == "" {
		model = job.Model
	}
	tmpl["model"] = model
	tmpl["source"] = map[string]any{
		"type": "file_id",
		"id":   uploaded[dataset.SplitEval],
	}
	NormalizeRunTemplate(tmpl)

	run, err := p.sdk.CreateEvalRun(ctx, eval.ID, sdk.EvalRunRequest{
		Name:       namegenerator.NewGenerator().Generate(),
		DataSource: tmpl,
		Metadata:   map[string]string{"pipeline_run_id": p.runID},
	})
	if err != nil {
		return sdk.Eval{}, sdk.EvalRun{}, fmt.Errorf("failed to start evaluation run: %w", err)
	}
	p.logger.Info("evaluation run started",
		slog.String("run_id", run.ID),
		slog.String("model", model))

	return eval, run, nil
}

// inspect renders a bounded page of graded output items for operator
// review. Failures here never invalidate the completed fine-tune.
func (p *Pipeline) inspect(ctx context.Context, evalID, runID string) {
	items, err := p.sdk.ListOutputItems(ctx, evalID, runID, p.inspectLimit)
	if err != nil {
		p.logger.Warn("could not retrieve output items",
			slog.String("eval_id", evalID),
			slog.String("run_id", runID),
			slog.String("error", err.Error()))

		return
	}

	fmt.Fprintf(p.out, "output items (%d):\n", len(items))
	shown := min(len(items), inspectDetailMax)
	for _, item := range items[:shown] {
		p.printJSON(item)
	}
	if len(items) > shown {
		fmt.Fprintln(p.out, "... (truncated)")
	}
}

func (p *Pipeline) printJSON(v any) {
	b, err := prettyjson.Marshal(v)
	if err != nil {
		p.logger.Warn("could not render JSON", slog.String("error", err.Error()))

		return
	}
	fmt.Fprintln(p.out, string(b))
}

func readJSONDoc(path string) (json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%s does not contain valid JSON", path)
	}

	return json.RawMessage(data), nil
}

func readRunTemplate(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var tmpl map[string]any
	if err := json.Unmarshal(data, &tmpl); err != nil {
		return nil, fmt.Errorf("failed to parse run template %s: %w", path, err)
	}

	return tmpl, nil
}

// NormalizeRunTemplate rewrites qualified "item." reference paths to their
// bare form in place; the service accepts both, the pipeline submits only
// the bare form.
func NormalizeRunTemplate(t map[string]any) {
	for k, v := range t {
		switch val := v.(type) {
		case string:
			if k == "references" || k == "item_reference" {
				t[k] = strings.TrimPrefix(val, "item.")
			}
		case map[string]any:
			NormalizeRunTemplate(val)
		case []any:
			for _, item := range val {
				if m, ok := item.(map[string]any); ok {
					NormalizeRunTemplate(m)
				}
			}
		}
	}
}
