package sdk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

const jobsEndpoint = "/fine_tuning/jobs"

// Status is the lifecycle status of a remote fine-tuning job.
type Status string

const (
	Queued    Status = "queued"
	Running   Status = "running"
	Succeeded Status = "succeeded"
	Failed    Status = "failed"
	Cancelled Status = "cancelled"
)

// Terminal reports whether no further automatic progress occurs from s.
// Unknown intermediate statuses reported by the service are non-terminal.
func (s Status) Terminal() bool {
	switch s {
	case Succeeded, Failed, Cancelled:
		return true
	default:
		return false
	}
}

type Hyperparameters struct {
	NEpochs                int     `json:"n_epochs,omitempty"`
	BatchSize              int     `json:"batch_size,omitempty"`
	LearningRateMultiplier float64 `json:"learning_rate_multiplier,omitempty"`
	Seed                   *int64  `json:"seed,omitempty"`
}

// Method is the two-level discriminated union the service expects for
// method-specific hyperparameters: {"type": <method>, <method>: {"hyperparameters": ...}}.
type Method struct {
	Type            string
	Hyperparameters Hyperparameters
}

func (m Method) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"type": m.Type,
		m.Type: map[string]any{
			"hyperparameters": m.Hyperparameters,
		},
	})
}

func (m *Method) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if t, ok := raw["type"]; ok {
		if err := json.Unmarshal(t, &m.Type); err != nil {
			return err
		}
	}
	inner, ok := raw[m.Type]
	if !ok {
		return nil
	}
	var envelope struct {
		Hyperparameters Hyperparameters `json:"hyperparameters"`
	}
	if err := json.Unmarshal(inner, &envelope); err != nil {
		return err
	}
	m.Hyperparameters = envelope.Hyperparameters

	return nil
}

type JobError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Param   string `json:"param,omitempty"`
}

type Job struct {
	ID             string            `json:"id"`
	Object         string            `json:"object,omitempty"`
	Model          string            `json:"model,omitempty"`
	FineTunedModel string            `json:"fine_tuned_model,omitempty"`
	Status         Status            `json:"status"`
	TrainingFile   string            `json:"training_file,omitempty"`
	ValidationFile string            `json:"validation_file,omitempty"`
	Suffix         string            `json:"suffix,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Error          *JobError         `json:"error,omitempty"`
	CreatedAt      int64             `json:"created_at,omitempty"`
	FinishedAt     int64             `json:"finished_at,omitempty"`
}

type JobRequest struct {
	Model          string            `json:"model"`
	TrainingFile   string            `json:"training_file"`
	ValidationFile string            `json:"validation_file,omitempty"`
	Suffix         string            `json:"suffix,omitempty"`
	Method         Method            `json:"method"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Seed           *int64            `json:"seed,omitempty"`
}

// MetricData carries the loss metrics attached to events of type "metrics".
// Pointer fields distinguish absent values from zero.
type MetricData struct {
	Step          *int64   `json:"step,omitempty"`
	TrainLoss     *float64 `json:"train_loss,omitempty"`
	ValidLoss     *float64 `json:"valid_loss,omitempty"`
	FullValidLoss *float64 `json:"full_valid_loss,omitempty"`
}

type Event struct {
	ID        string     `json:"id,omitempty"`
	Level     string     `json:"level,omitempty"`
	Type      string     `json:"type,omitempty"`
	Message   string     `json:"message,omitempty"`
	Data      MetricData `json:"data,omitempty"`
	CreatedAt int64      `json:"created_at,omitempty"`
}

type Checkpoint struct {
	ID                       string `json:"id"`
	FineTunedModelCheckpoint string `json:"fine_tuned_model_checkpoint,omitempty"`
	StepNumber               int64  `json:"step_number,omitempty"`
	CreatedAt                int64  `json:"created_at,omitempty"`
}

type eventPage struct {
	Data    []Event `json:"data"`
	HasMore bool    `json:"has_more"`
}

type checkpointPage struct {
	Data    []Checkpoint `json:"data"`
	HasMore bool         `json:"has_more"`
}

func (sdk *ftSDK) CreateJob(ctx context.Context, req JobRequest) (Job, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return Job{}, err
	}

	url := sdk.baseURL + jobsEndpoint

	body, err := sdk.processRequest(ctx, http.MethodPost, url, CTJSON, data, http.StatusOK)
	if err != nil {
		return Job{}, err
	}

	var j Job
	if err := json.Unmarshal(body, &j); err != nil {
		return Job{}, err
	}

	return j, nil
}

func (sdk *ftSDK) GetJob(ctx context.Context, id string) (Job, error) {
	url := sdk.baseURL + jobsEndpoint + "/" + id

	body, err := sdk.processRequest(ctx, http.MethodGet, url, "", nil, http.StatusOK)
	if err != nil {
		return Job{}, err
	}

	var j Job
	if err := json.Unmarshal(body, &j); err != nil {
		return Job{}, err
	}

	return j, nil
}

func (sdk *ftSDK) CancelJob(ctx context.Context, id string) (Job, error) {
	url := fmt.Sprintf("%s%s/%s/cancel", sdk.baseURL, jobsEndpoint, id)

	body, err := sdk.processRequest(ctx, http.MethodPost, url, "", nil, http.StatusOK)
	if err != nil {
		return Job{}, err
	}

	var j Job
	if err := json.Unmarshal(body, &j); err != nil {
		return Job{}, err
	}

	return j, nil
}

func (sdk *ftSDK) ListJobEvents(ctx context.Context, id string, limit uint64) ([]Event, error) {
	url := fmt.Sprintf("%s%s/%s/events", sdk.baseURL, jobsEndpoint, id)
	if limit > 0 {
		url = fmt.Sprintf("%s?limit=%d", url, limit)
	}

	body, err := sdk.processRequest(ctx, http.MethodGet, url, "", nil, http.StatusOK)
	if err != nil {
		return nil, err
	}

	var page eventPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, err
	}

	return page.Data, nil
}

func (sdk *ftSDK) ListJobCheckpoints(ctx context.Context, id string, limit uint64) ([]Checkpoint, error) {
	url := fmt.Sprintf("%s%s/%s/checkpoints", sdk.baseURL, jobsEndpoint, id)
	if limit > 0 {
		url = fmt.Sprintf("%s?limit=%d", url, limit)
	}

	body, err := sdk.processRequest(ctx, http.MethodGet, url, "", nil, http.StatusOK)
	if err != nil {
		return nil, err
	}

	var page checkpointPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, err
	}

	return page.Data, nil
}
