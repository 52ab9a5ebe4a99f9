package sdk

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/modelops/finetunectl/pkg/errors"
)

const CTJSON string = "application/json"

// SDK is the client facade for the remote training service. It exposes the
// three capability groups the pipeline depends on: file transfer,
// fine-tuning jobs and evaluations.
type SDK interface {
	// UploadFile uploads a local dataset file for the given purpose and
	// returns its remote descriptor.
	//
	// example:
	//  f, _ := sdk.UploadFile(ctx, "data/train_en_fr.jsonl", "fine-tune")
	//  fmt.Println(f.ID)
	UploadFile(ctx context.Context, path, purpose string) (File, error)

	// CreateJob submits a new fine-tuning job.
	//
	// example:
	//  job, _ := sdk.CreateJob(ctx, sdk.JobRequest{
	//    Model:        "gpt-4o-2024-08-06",
	//    TrainingFile: "file-abc",
	//  })
	//  fmt.Println(job.ID)
	CreateJob(ctx context.Context, req JobRequest) (Job, error)

	// GetJob retrieves a fine-tuning job snapshot by id.
	//
	// example:
	//  job, _ := sdk.GetJob(ctx, "ftjob-abc")
	//  fmt.Println(job.Status)
	GetJob(ctx context.Context, id string) (Job, error)

	// CancelJob cancels a running fine-tuning job.
	//
	// example:
	//  job, _ := sdk.CancelJob(ctx, "ftjob-abc")
	//  fmt.Println(job.Status)
	CancelJob(ctx context.Context, id string) (Job, error)

	// ListJobEvents lists the events emitted by a fine-tuning job.
	//
	// example:
	//  events, _ := sdk.ListJobEvents(ctx, "ftjob-abc", 1000)
	//  fmt.Println(len(events))
	ListJobEvents(ctx context.Context, id string, limit uint64) ([]Event, error)

	// ListJobCheckpoints lists the checkpoints produced by a fine-tuning job.
	//
	// example:
	//  ckpts, _ := sdk.ListJobCheckpoints(ctx, "ftjob-abc", 1000)
	//  fmt.Println(len(ckpts))
	ListJobCheckpoints(ctx context.Context, id string, limit uint64) ([]Checkpoint, error)

	// CreateEval creates a new evaluation.
	//
	// example:
	//  ev, _ := sdk.CreateEval(ctx, sdk.EvalRequest{Name: "Eval en-fr v3"})
	//  fmt.Println(ev.ID)
	CreateEval(ctx context.Context, req EvalRequest) (Eval, error)

	// CreateEvalRun starts a run of an existing evaluation.
	//
	// example:
	//  run, _ := sdk.CreateEvalRun(ctx, "eval-abc", sdk.EvalRunRequest{})
	//  fmt.Println(run.ID)
	CreateEvalRun(ctx context.Context, evalID string, req EvalRunRequest) (EvalRun, error)

	// ListOutputItems lists the graded output items of an evaluation run.
	//
	// example:
	//  items, _ := sdk.ListOutputItems(ctx, "eval-abc", "evalrun-abc", 50)
	//  fmt.Println(len(items))
	ListOutputItems(ctx context.Context, evalID, runID string, limit uint64) ([]OutputItem, error)
}

type ftSDK struct {
	baseURL      string
	apiKey       string
	organization string
	project      string
	client       *http.Client
}

type Config struct {
	BaseURL         string
	APIKey          string
	Organization    string
	Project         string
	TLSVerification bool
}

func NewSDK(cfg Config) SDK {
	return &ftSDK{
		baseURL:      cfg.BaseURL,
		apiKey:       cfg.APIKey,
		organization: cfg.Organization,
		project:      cfg.Project,
		client: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					InsecureSkipVerify: !cfg.TLSVerification,
				},
			},
		},
	}
}

// APIError is a transport-level failure reported by the remote service.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("unexpected response code: %d", e.StatusCode)
	}

	return fmt.Sprintf("remote service error (status %d): %s", e.StatusCode, e.Message)
}

func (e *APIError) Is(target error) bool {
	return target == errors.ErrNotFound && e.StatusCode == http.StatusNotFound
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

func (sdk *ftSDK) processRequest(ctx context.Context, method, reqURL, contentType string, data []byte, expectedRespCode int) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, reqURL, bytes.NewReader(data))
	if err != nil {
		return []byte{}, err
	}

	if contentType != "" {
		req.Header.Add("Content-Type", contentType)
	}
	if sdk.apiKey != "" {
		req.Header.Add("Authorization", "Bearer "+sdk.apiKey)
	}
	if sdk.organization != "" {
		req.Header.Add("OpenAI-Organization", sdk.organization)
	}
	if sdk.project != "" {
		req.Header.Add("OpenAI-Project", sdk.project)
	}

	resp, err := sdk.client.Do(req)
	if err != nil {
		return []byte{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return []byte{}, err
	}

	if resp.StatusCode != expectedRespCode {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var eb errorBody
		if err := json.Unmarshal(body, &eb); err == nil {
			apiErr.Message = eb.Error.Message
			apiErr.Code = eb.Error.Code
		}

		return []byte{}, apiErr
	}

	return body, nil
}
