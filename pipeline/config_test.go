package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelops/finetunectl/pkg/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "pipeline.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestResolveConfigDeclarative(t *testing.T) {
	root, _ := mkDatasetTree(t)

	path := writeConfig(t, fmt.Sprintf(`
[dataset]
base_dir = %q

[dataset.split]
train_ratio = 0.8
validation_ratio = 0.1
evaluation_ratio = 0.1

[fine_tuning]
base_model = "gpt-4.1-2025-04-14"
suffix_template = "{lang_pair}-{method}-v{version}"

[fine_tuning.hyperparameters]
epochs = 5
batch_size = 8
learning_rate_multiplier = 1.5
seed = 42

[evaluation]
enable = true
data_source_config_path = "dsc.json"
testing_criteria_path = "tc.json"
data_source_run_path = "run.json"

[reporting]
output_dir = "reports"
`, root))

	cfg, err := ResolveConfig(Declarative{Path: path})
	require.NoError(t, err)

	assert.Equal(t, "config", cfg.Source)
	assert.Equal(t, "en-fr", cfg.Dataset.LangPair)
	assert.Equal(t, "supervised", cfg.Dataset.Method)
	assert.Equal(t, "v3", cfg.Dataset.Name)
	assert.Equal(t, "gpt-4.1-2025-04-14", cfg.BaseModel)
	assert.Equal(t, "EN-FR-supervised-v3", cfg.Suffix)
	assert.Equal(t, 5, cfg.Hyperparameters.Epochs)
	assert.Equal(t, 8, cfg.Hyperparameters.BatchSize)
	assert.InDelta(t, 1.5, cfg.Hyperparameters.LearningRateMultiplier, 1e-9)
	require.NotNil(t, cfg.Hyperparameters.Seed)
	assert.Equal(t, int64(42), *cfg.Hyperparameters.Seed)
	assert.True(t, cfg.Evaluation.Enable)
	assert.Equal(t, "run.json", cfg.Evaluation.RunTemplatePath)
	assert.Equal(t, "reports", cfg.Reporting.OutputDir)
}

func TestResolveConfigDefaults(t *testing.T) {
	root, _ := mkDatasetTree(t)

	path := writeConfig(t, fmt.Sprintf(`
[dataset]
base_dir = %q

[fine_tuning]
base_model = "gpt-4o-2024-08-06"

[fine_tuning.hyperparameters]

[evaluation]
enable = false
`, root))

	cfg, err := ResolveConfig(Declarative{Path: path})
	require.NoError(t, err)

	assert.Equal(t, defEpochs, cfg.Hyperparameters.Epochs)
	assert.Equal(t, defBatchSize, cfg.Hyperparameters.BatchSize)
	assert.InDelta(t, defLRMultiplier, cfg.Hyperparameters.LearningRateMultiplier, 1e-9)
	assert.Nil(t, cfg.Hyperparameters.Seed)
	assert.Equal(t, "EN-FR-translator-3-supervised", cfg.Suffix)
	assert.Equal(t, defOutputDir, cfg.Reporting.OutputDir)
}

func TestResolveConfigMissingKeys(t *testing.T) {
	root, _ := mkDatasetTree(t)

	tests := []struct {
		name       string
		doc        string
		missingKey string
	}{
		{
			name: "no fine_tuning section",
			doc: fmt.Sprintf(`
[dataset]
base_dir = %q

[evaluation]
enable = false
`, root),
			missingKey: "fine_tuning",
		},
		{
			name: "no base model",
			doc: fmt.Sprintf(`
[dataset]
base_dir = %q

[fine_tuning]
suffix_template = "x"

[fine_tuning.hyperparameters]

[evaluation]
enable = false
`, root),
			missingKey: "fine_tuning.base_model",
		},
		{
			name: "no evaluation enable",
			doc: fmt.Sprintf(`
[dataset]
base_dir = %q

[fine_tuning]
base_model = "gpt-4o-2024-08-06"

[fine_tuning.hyperparameters]

[evaluation]
data_source_config_path = "dsc.json"
`, root),
			missingKey: "evaluation.enable",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.doc)

			_, err := ResolveConfig(Declarative{Path: path})
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrInvalidConfig)
			assert.Contains(t, err.Error(), fmt.Sprintf("%q", tc.missingKey))
		})
	}
}

func TestResolveConfigSplitRatios(t *testing.T) {
	root, _ := mkDatasetTree(t)

	tests := []struct {
		name        string
		train       float64
		valid       float64
		eval        float64
		expectedErr bool
	}{
		{"sums to one", 0.8, 0.1, 0.1, false},
		{"sums below one", 0.7, 0.2, 0.05, false},
		{"sums above one", 0.8, 0.2, 0.1, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, fmt.Sprintf(`
[dataset]
base_dir = %q

[dataset.split]
train_ratio = %g
validation_ratio = %g
evaluation_ratio = %g

[fine_tuning]
base_model = "gpt-4o-2024-08-06"

[fine_tuning.hyperparameters]

[evaluation]
enable = false
`, root, tc.train, tc.valid, tc.eval))

			_, err := ResolveConfig(Declarative{Path: path})
			if tc.expectedErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, errors.ErrInvalidConfig)
				assert.Contains(t, err.Error(), "split ratios")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestResolveConfigAuto(t *testing.T) {
	root, _ := mkDatasetTree(t)

	cfg, err := ResolveConfig(AutoDiscovered{RootDir: root})
	require.NoError(t, err)

	assert.Equal(t, "auto", cfg.Source)
	assert.Equal(t, defBaseModel, cfg.BaseModel)
	assert.Equal(t, "EN-FR-translator-3-supervised", cfg.Suffix)
	assert.Equal(t, defEpochs, cfg.Hyperparameters.Epochs)
	assert.False(t, cfg.Evaluation.Enable)
	assert.Equal(t, defOutputDir, cfg.Reporting.OutputDir)
}

func TestResolveConfigMissingFile(t *testing.T) {
	_, err := ResolveConfig(Declarative{Path: filepath.Join(t.TempDir(), "absent.toml")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

type unknownSource struct{}

func (unknownSource) sourceName() string { return "unknown" }

func TestResolveConfigUnknownSource(t *testing.T) {
	_, err := ResolveConfig(unknownSource{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}
