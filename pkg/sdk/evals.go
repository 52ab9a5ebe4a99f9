package sdk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

const evalsEndpoint = "/evals"

type Eval struct {
	ID        string            `json:"id"`
	Name      string            `json:"name,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt int64             `json:"created_at,omitempty"`
}

// EvalRequest creates an evaluation. DataSourceConfig and TestingCriteria
// are operator-authored JSON documents passed through verbatim.
type EvalRequest struct {
	Name             string            `json:"name"`
	DataSourceConfig json.RawMessage   `json:"data_source_config"`
	TestingCriteria  json.RawMessage   `json:"testing_criteria"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// EvalRunRequest starts a run of an evaluation. DataSource is the run
// template with the fine-tuned model and source file already injected.
type EvalRunRequest struct {
	Name       string            `json:"name,omitempty"`
	DataSource map[string]any    `json:"data_source"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type ResultCounts struct {
	Total   int64 `json:"total"`
	Passed  int64 `json:"passed"`
	Failed  int64 `json:"failed"`
	Errored int64 `json:"errored"`
}

type EvalRun struct {
	ID           string       `json:"id"`
	EvalID       string       `json:"eval_id,omitempty"`
	Name         string       `json:"name,omitempty"`
	Status       string       `json:"status,omitempty"`
	Model        string       `json:"model,omitempty"`
	ResultCounts ResultCounts `json:"result_counts,omitempty"`
	CreatedAt    int64        `json:"created_at,omitempty"`
}

// OutputItem is one graded example of an evaluation run: the datasource item
// carries the reference, the sample carries the model output.
type OutputItem struct {
	ID             string         `json:"id"`
	Status         string         `json:"status,omitempty"`
	DatasourceItem map[string]any `json:"datasource_item,omitempty"`
	Sample         map[string]any `json:"sample,omitempty"`
	CreatedAt      int64          `json:"created_at,omitempty"`
}

type outputItemPage struct {
	Data    []OutputItem `json:"data"`
	HasMore bool         `json:"has_more"`
}

func (sdk *ftSDK) CreateEval(ctx context.Context, req EvalRequest) (Eval, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return Eval{}, err
	}

	url := sdk.baseURL + evalsEndpoint

	body, err := sdk.processRequest(ctx, http.MethodPost, url, CTJSON, data, http.StatusOK)
	if err != nil {
		return Eval{}, err
	}

	var ev Eval
	if err := json.Unmarshal(body, &ev); err != nil {
		return Eval{}, err
	}

	return ev, nil
}

func (sdk *ftSDK) CreateEvalRun(ctx context.Context, evalID string, req EvalRunRequest) (EvalRun, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return EvalRun{}, err
	}

	url := fmt.Sprintf("%s%s/%s/runs", sdk.baseURL, evalsEndpoint, evalID)

	body, err := sdk.processRequest(ctx, http.MethodPost, url, CTJSON, data, http.StatusOK)
	if err != nil {
		return EvalRun{}, err
	}

	var run EvalRun
	if err := json.Unmarshal(body, &run); err != nil {
		return EvalRun{}, err
	}

	return run, nil
}

func (sdk *ftSDK) ListOutputItems(ctx context.Context, evalID, runID string, limit uint64) ([]OutputItem, error) {
	url := fmt.Sprintf("%s%s/%s/runs/%s/output_items", sdk.baseURL, evalsEndpoint, evalID, runID)
	if limit > 0 {
		url = fmt.Sprintf("%s?limit=%d", url, limit)
	}

	body, err := sdk.processRequest(ctx, http.MethodGet, url, "", nil, http.StatusOK)
	if err != nil {
		return nil, err
	}

	var page outputItemPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, err
	}

	return page.Data, nil
}
