package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/modelops/finetunectl/pkg/sdk"
)

// MockSDK is a mock implementation of the sdk.SDK interface
type MockSDK struct {
	mock.Mock
}

// UploadFile uploads a local dataset file
func (m *MockSDK) UploadFile(ctx context.Context, path, purpose string) (sdk.File, error) {
	args := m.Called(ctx, path, purpose)
	return args.Get(0).(sdk.File), args.Error(1)
}

// CreateJob submits a fine-tuning job
func (m *MockSDK) CreateJob(ctx context.Context, req sdk.JobRequest) (sdk.Job, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(sdk.Job), args.Error(1)
}

// GetJob retrieves a fine-tuning job snapshot
func (m *MockSDK) GetJob(ctx context.Context, id string) (sdk.Job, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(sdk.Job), args.Error(1)
}

// CancelJob cancels a fine-tuning job
func (m *MockSDK) CancelJob(ctx context.Context, id string) (sdk.Job, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(sdk.Job), args.Error(1)
}

// ListJobEvents lists fine-tuning job events
func (m *MockSDK) ListJobEvents(ctx context.Context, id string, limit uint64) ([]sdk.Event, error) {
	args := m.Called(ctx, id, limit)
	return args.Get(0).([]sdk.Event), args.Error(1)
}

// ListJobCheckpoints lists fine-tuning job checkpoints
func (m *MockSDK) ListJobCheckpoints(ctx context.Context, id string, limit uint64) ([]sdk.Checkpoint, error) {
	args := m.Called(ctx, id, limit)
	return args.Get(0).([]sdk.Checkpoint), args.Error(1)
}

// CreateEval creates an evaluation
func (m *MockSDK) CreateEval(ctx context.Context, req sdk.EvalRequest) (sdk.Eval, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(sdk.Eval), args.Error(1)
}

// CreateEvalRun starts an evaluation run
func (m *MockSDK) CreateEvalRun(ctx context.Context, evalID string, req sdk.EvalRunRequest) (sdk.EvalRun, error) {
	args := m.Called(ctx, evalID, req)
	return args.Get(0).(sdk.EvalRun), args.Error(1)
}

// ListOutputItems lists evaluation run output items
func (m *MockSDK) ListOutputItems(ctx context.Context, evalID, runID string, limit uint64) ([]sdk.OutputItem, error) {
	args := m.Called(ctx, evalID, runID, limit)
	return args.Get(0).([]sdk.OutputItem), args.Error(1)
}
