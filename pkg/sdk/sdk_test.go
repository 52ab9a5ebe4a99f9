package sdk

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelops/finetunectl/pkg/errors"
)

func newTestSDK(srvURL string) SDK {
	return NewSDK(Config{
		BaseURL:         srvURL,
		APIKey:          "test-key",
		Organization:    "org-1",
		Project:         "proj-1",
		TLSVerification: true,
	})
}

func TestUploadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train_set.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"messages":[]}`+"\n"), 0o644))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/files", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "org-1", r.Header.Get("OpenAI-Organization"))
		assert.Equal(t, "proj-1", r.Header.Get("OpenAI-Project"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "fine-tune", r.FormValue("purpose"))

		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, "train_set.jsonl", hdr.Filename)
		content, err := io.ReadAll(f)
		require.NoError(t, err)
		assert.Contains(t, string(content), "messages")

		w.Header().Set("Content-Type", CTJSON)
		_, _ = w.Write([]byte(`{"id":"file-abc","filename":"train_set.jsonl","purpose":"fine-tune","bytes":16}`))
	}))
	defer srv.Close()

	f, err := newTestSDK(srv.URL).UploadFile(context.Background(), path, "fine-tune")
	require.NoError(t, err)
	assert.Equal(t, "file-abc", f.ID)
	assert.Equal(t, "fine-tune", f.Purpose)
}

func TestUploadFileRejectsExtension(t *testing.T) {
	_, err := newTestSDK("http://localhost").UploadFile(context.Background(), "data/train_set.csv", "fine-tune")
	assert.ErrorIs(t, err, errors.ErrInvalidData)
}

func TestCreateJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/fine_tuning/jobs", r.URL.Path)
		assert.Equal(t, CTJSON, r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o-2024-08-06", body["model"])
		assert.Equal(t, "file-train", body["training_file"])
		assert.Equal(t, "file-valid", body["validation_file"])

		method, ok := body["method"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "supervised", method["type"])
		_, ok = method["supervised"].(map[string]any)
		assert.True(t, ok)

		metadata, ok := body["metadata"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "en-fr", metadata["lang_pair"])

		w.Header().Set("Content-Type", CTJSON)
		_, _ = w.Write([]byte(`{"id":"ftjob-1","status":"queued","model":"gpt-4o-2024-08-06"}`))
	}))
	defer srv.Close()

	job, err := newTestSDK(srv.URL).CreateJob(context.Background(), JobRequest{
		Model:          "gpt-4o-2024-08-06",
		TrainingFile:   "file-train",
		ValidationFile: "file-valid",
		Suffix:         "EN-FR-translator-3-supervised",
		Method: Method{
			Type:            "supervised",
			Hyperparameters: Hyperparameters{NEpochs: 3, BatchSize: 4, LearningRateMultiplier: 2.0},
		},
		Metadata: map[string]string{"lang_pair": "en-fr"},
	})
	require.NoError(t, err)
	assert.Equal(t, "ftjob-1", job.ID)
	assert.Equal(t, Queued, job.Status)
}

func TestGetJobNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"message":"no such job","type":"invalid_request_error","code":"not_found"}}`))
	}))
	defer srv.Close()

	_, err := newTestSDK(srv.URL).GetJob(context.Background(), "ftjob-missing")
	assert.ErrorIs(t, err, errors.ErrNotFound)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "not_found", apiErr.Code)
	assert.Contains(t, apiErr.Error(), "no such job")
}

func TestCancelJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/fine_tuning/jobs/ftjob-1/cancel", r.URL.Path)

		w.Header().Set("Content-Type", CTJSON)
		_, _ = w.Write([]byte(`{"id":"ftjob-1","status":"cancelled"}`))
	}))
	defer srv.Close()

	job, err := newTestSDK(srv.URL).CancelJob(context.Background(), "ftjob-1")
	require.NoError(t, err)
	assert.Equal(t, Cancelled, job.Status)
}

func TestListJobEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fine_tuning/jobs/ftjob-1/events", r.URL.Path)
		assert.Equal(t, "1000", r.URL.Query().Get("limit"))

		w.Header().Set("Content-Type", CTJSON)
		_, _ = w.Write([]byte(`{
			"data": [
				{"id":"ftevent-2","level":"info","type":"metrics","message":"Step 10","data":{"step":10,"train_loss":1.5},"created_at":1700000100},
				{"id":"ftevent-1","level":"info","type":"message","message":"Created fine-tuning job","created_at":1700000000}
			],
			"has_more": false
		}`))
	}))
	defer srv.Close()

	events, err := newTestSDK(srv.URL).ListJobEvents(context.Background(), "ftjob-1", 1000)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "metrics", events[0].Type)
	require.NotNil(t, events[0].Data.Step)
	assert.Equal(t, int64(10), *events[0].Data.Step)
	require.NotNil(t, events[0].Data.TrainLoss)
	assert.InDelta(t, 1.5, *events[0].Data.TrainLoss, 1e-9)
	assert.Nil(t, events[1].Data.Step)
}

func TestListJobCheckpoints(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fine_tuning/jobs/ftjob-1/checkpoints", r.URL.Path)
		assert.Equal(t, "1000", r.URL.Query().Get("limit"))

		w.Header().Set("Content-Type", CTJSON)
		_, _ = w.Write([]byte(`{
			"data": [{"id":"ftckpt-1","fine_tuned_model_checkpoint":"ft:gpt-4o:acme:ckpt-10","step_number":10,"created_at":1700000100}],
			"has_more": false
		}`))
	}))
	defer srv.Close()

	checkpoints, err := newTestSDK(srv.URL).ListJobCheckpoints(context.Background(), "ftjob-1", 1000)
	require.NoError(t, err)
	require.Len(t, checkpoints, 1)
	assert.Equal(t, int64(10), checkpoints[0].StepNumber)
}

func TestCreateEvalRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/evals/eval-1/runs", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		ds, ok := body["data_source"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "ft:gpt-4o:acme:sfx:1", ds["model"])

		w.Header().Set("Content-Type", CTJSON)
		_, _ = w.Write([]byte(`{"id":"evalrun-1","eval_id":"eval-1","status":"queued","model":"ft:gpt-4o:acme:sfx:1"}`))
	}))
	defer srv.Close()

	run, err := newTestSDK(srv.URL).CreateEvalRun(context.Background(), "eval-1", EvalRunRequest{
		Name:       "winter-cherry",
		DataSource: map[string]any{"model": "ft:gpt-4o:acme:sfx:1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "evalrun-1", run.ID)
	assert.Equal(t, "eval-1", run.EvalID)
}

func TestListOutputItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/evals/eval-1/runs/evalrun-1/output_items", r.URL.Path)
		assert.Equal(t, "50", r.URL.Query().Get("limit"))

		w.Header().Set("Content-Type", CTJSON)
		_, _ = w.Write([]byte(`{
			"data": [
				{"id":"outputitem-1","status":"pass","datasource_item":{"reference":"Bonjour"},"sample":{"output_text":"Bonjour"}},
				{"id":"outputitem-2","status":"fail","datasource_item":{"reference":"Merci"},"sample":{"output_text":"De rien"}}
			],
			"has_more": false
		}`))
	}))
	defer srv.Close()

	items, err := newTestSDK(srv.URL).ListOutputItems(context.Background(), "eval-1", "evalrun-1", 50)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "pass", items[0].Status)
	assert.Equal(t, "Bonjour", items[0].DatasourceItem["reference"])
}
