package pipeline

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml"

	"github.com/modelops/finetunectl/dataset"
	"github.com/modelops/finetunectl/pkg/errors"
)

const (
	defBaseModel      = "gpt-4o-2024-08-06"
	defSuffixTemplate = "{lang_pair}-translator-{version}-{method}"
	defEpochs         = 3
	defBatchSize      = 4
	defLRMultiplier   = 2.0
	defOutputDir      = "result/ft_reports"

	ratioTolerance = 1e-9
)

// Source selects how a run configuration is obtained: an explicit
// declarative document or auto-discovery from a dataset directory.
type Source interface {
	sourceName() string
}

// Declarative resolves the run from a TOML configuration file.
type Declarative struct {
	Path string
}

func (Declarative) sourceName() string { return "config" }

// AutoDiscovered derives every run parameter from the dataset directory
// conventions, with defaults for the rest.
type AutoDiscovered struct {
	RootDir string
}

func (AutoDiscovered) sourceName() string { return "auto" }

type Hyperparameters struct {
	Epochs                 int     `toml:"epochs"`
	BatchSize              int     `toml:"batch_size"`
	LearningRateMultiplier float64 `toml:"learning_rate_multiplier"`
	Seed                   *int64  `toml:"seed"`
}

type EvaluationConfig struct {
	Enable               bool   `toml:"enable"`
	DataSourceConfigPath string `toml:"data_source_config_path"`
	TestingCriteriaPath  string `toml:"testing_criteria_path"`
	RunTemplatePath      string `toml:"data_source_run_path"`
}

type ReportingConfig struct {
	OutputDir string `toml:"output_dir"`
}

// RunConfig is the fully-resolved parameter set for one pipeline execution.
// It is built once by ResolveConfig and read-only thereafter.
type RunConfig struct {
	Source          string
	Dataset         dataset.Version
	BaseModel       string
	Suffix          string
	Hyperparameters Hyperparameters
	Evaluation      EvaluationConfig
	Reporting       ReportingConfig
}

type declarativeDoc struct {
	Dataset struct {
		BaseDir string `toml:"base_dir"`
		Split   struct {
			TrainRatio      float64 `toml:"train_ratio"`
			ValidationRatio float64 `toml:"validation_ratio"`
			EvaluationRatio float64 `toml:"evaluation_ratio"`
		} `toml:"split"`
	} `toml:"dataset"`
	FineTuning struct {
		BaseModel       string          `toml:"base_model"`
		SuffixTemplate  string          `toml:"suffix_template"`
		Hyperparameters Hyperparameters `toml:"hyperparameters"`
	} `toml:"fine_tuning"`
	Evaluation EvaluationConfig `toml:"evaluation"`
	Reporting  ReportingConfig  `toml:"reporting"`
}

// requiredKeys are checked in order; validation fails naming the first
// missing key.
var requiredKeys = []string{
	"dataset",
	"dataset.base_dir",
	"fine_tuning",
	"fine_tuning.base_model",
	"fine_tuning.hyperparameters",
	"evaluation",
	"evaluation.enable",
}

// ResolveConfig builds the RunConfig for src. Both source kinds run dataset
// discovery, so downstream stages are source-agnostic.
func ResolveConfig(src Source) (RunConfig, error) {
	switch s := src.(type) {
	case Declarative:
		return resolveDeclarative(s.Path)
	case AutoDiscovered:
		return resolveAuto(s.RootDir)
	default:
		return RunConfig{}, fmt.Errorf("unknown run source %T: %w", src, errors.ErrInvalidConfig)
	}
}

func resolveDeclarative(path string) (RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RunConfig{}, fmt.Errorf("error reading config file: %w", err)
	}

	tree, err := toml.Load(string(data))
	if err != nil {
		return RunConfig{}, fmt.Errorf("error parsing config file: %w", err)
	}

	for _, key := range requiredKeys {
		if !tree.Has(key) {
			return RunConfig{}, fmt.Errorf("missing required config key %q: %w", key, errors.ErrInvalidConfig)
		}
	}

	var doc declarativeDoc
	if err := tree.Unmarshal(&doc); err != nil {
		return RunConfig{}, fmt.Errorf("error unmarshaling config: %w", err)
	}

	split := doc.Dataset.Split
	sum := split.TrainRatio + split.ValidationRatio + split.EvaluationRatio
	if sum > 1.0+ratioTolerance {
		return RunConfig{}, fmt.Errorf("split ratios sum to %g, cannot exceed 1.0: %w", sum, errors.ErrInvalidConfig)
	}

	v, err := dataset.Discover(doc.Dataset.BaseDir)
	if err != nil {
		return RunConfig{}, err
	}

	return newRunConfig(Declarative{Path: path}, v, doc.FineTuning.BaseModel, doc.FineTuning.SuffixTemplate,
		doc.FineTuning.Hyperparameters, doc.Evaluation, doc.Reporting), nil
}

func resolveAuto(rootDir string) (RunConfig, error) {
	v, err := dataset.Discover(rootDir)
	if err != nil {
		return RunConfig{}, err
	}

	return newRunConfig(AutoDiscovered{RootDir: rootDir}, v, "", "", Hyperparameters{}, EvaluationConfig{}, ReportingConfig{}), nil
}

func newRunConfig(src Source, v dataset.Version, baseModel, suffixTemplate string, hp Hyperparameters, ev EvaluationConfig, rep ReportingConfig) RunConfig {
	if baseModel == "" {
		baseModel = defBaseModel
	}
	if suffixTemplate == "" {
		suffixTemplate = defSuffixTemplate
	}
	if hp.Epochs == 0 {
		hp.Epochs = defEpochs
	}
	if hp.BatchSize == 0 {
		hp.BatchSize = defBatchSize
	}
	if hp.LearningRateMultiplier == 0 {
		hp.LearningRateMultiplier = defLRMultiplier
	}
	if rep.OutputDir == "" {
		rep.OutputDir = defOutputDir
	}

	return RunConfig{
		Source:          src.sourceName(),
		Dataset:         v,
		BaseModel:       baseModel,
		Suffix:          expandSuffix(suffixTemplate, v),
		Hyperparameters: hp,
		Evaluation:      ev,
		Reporting:       rep,
	}
}

// expandSuffix substitutes the template placeholders: the lang pair is
// upper-cased and the version marker is stripped to its number.
func expandSuffix(tmpl string, v dataset.Version) string {
	r := strings.NewReplacer(
		"{lang_pair}", strings.ToUpper(v.LangPair),
		"{version}", strconv.Itoa(v.Number),
		"{method}", v.Method,
	)

	return r.Replace(tmpl)
}
