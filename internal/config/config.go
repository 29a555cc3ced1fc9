// Package config loads the pipeline configuration from a YAML file and the environment.
package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// MongoURLEnv overrides mongo.url when set.
const MongoURLEnv = "MONGO_DB_URL"

// ErrInvalid is returned by Validate.
var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	ArtifactDir    string         `yaml:"artifact_dir"`
	RegistryDir    string         `yaml:"registry_dir"`
	PredictionDir  string         `yaml:"prediction_dir"`
	TargetColumn   string         `yaml:"target_column"`
	FeatureStore   string         `yaml:"feature_store_file"`
	Mongo          Mongo          `yaml:"mongo"`
	Ingestion      Ingestion      `yaml:"ingestion"`
	Validation     Validation     `yaml:"validation"`
	Transformation Transformation `yaml:"transformation"`
	Trainer        Trainer        `yaml:"trainer"`
	Evaluation     Evaluation     `yaml:"evaluation"`
	RunLog         RunLog         `yaml:"runlog"`
	Log            Log            `yaml:"log"`
	Predict        Predict        `yaml:"predict"`
}

type Mongo struct {
	URL        string        `yaml:"url"`
	Database   string        `yaml:"database"`
	Collection string        `yaml:"collection"`
	Timeout    time.Duration `yaml:"timeout"`
}

type Ingestion struct {
	TestSize float64 `yaml:"test_size"`
	Seed     uint64  `yaml:"seed"`
}

type Validation struct {
	BaseFilePath     string  `yaml:"base_file_path"`
	MissingThreshold float64 `yaml:"missing_threshold"`
	DriftPValue      float64 `yaml:"drift_p_value"`
}

type Transformation struct {
	Resample       bool   `yaml:"resample"`
	SMOTENeighbors int    `yaml:"smote_neighbors"`
	Seed           uint64 `yaml:"seed"`
}

type Trainer struct {
	ExpectedScore        float64 `yaml:"expected_score"`
	OverfittingThreshold float64 `yaml:"overfitting_threshold"`
	NEstimators          int     `yaml:"n_estimators"`
	MaxDepth             int     `yaml:"max_depth"`
	LearningRate         float64 `yaml:"learning_rate"`
	Bins                 int     `yaml:"bins"`
}

type Evaluation struct {
	ChangeThreshold float64 `yaml:"change_threshold"`
}

type RunLog struct {
	Path string `yaml:"path"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Predict struct {
	ChunkSize   int  `yaml:"chunk_size"`
	Concurrency int  `yaml:"concurrency"`
	Progress    bool `yaml:"progress"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		ArtifactDir:   "artifact",
		RegistryDir:   "saved_models",
		PredictionDir: "prediction",
		TargetColumn:  "class",
		FeatureStore:  "sensor.csv",
		Mongo: Mongo{
			URL:        "mongodb://localhost:27017",
			Database:   "aps",
			Collection: "sensor",
			Timeout:    30 * time.Second,
		},
		Ingestion: Ingestion{
			TestSize: 0.2,
			Seed:     42,
		},
		Validation: Validation{
			BaseFilePath:     "aps_failure_training_set1.csv",
			MissingThreshold: 0.2,
			DriftPValue:      0.05,
		},
		Transformation: Transformation{
			Resample:       true,
			SMOTENeighbors: 5,
			Seed:           42,
		},
		Trainer: Trainer{
			ExpectedScore:        0.7,
			OverfittingThreshold: 0.1,
			NEstimators:          100,
			MaxDepth:             3,
			LearningRate:         0.1,
			Bins:                 64,
		},
		Evaluation: Evaluation{
			ChangeThreshold: 0.01,
		},
		RunLog: RunLog{
			Path: "runs.db",
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
		Predict: Predict{
			ChunkSize:   1000,
			Concurrency: 4,
		},
	}
}

// Load reads path over the defaults, then applies the environment. An empty
// path keeps the defaults. A .env file in the working directory is loaded
// when present; variables already set in the process win.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "unable to read config %s", path)
		}

		err = yaml.Unmarshal(content, cfg)
		if err != nil {
			return nil, errors.Wrapf(err, "unable to decode config %s", path)
		}
	}

	err := godotenv.Load()
	if err != nil && !os.IsNotExist(errors.Cause(err)) {
		return nil, errors.Wrap(err, "unable to load .env")
	}

	cfg.ApplyEnv()

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnv overrides file values with environment variables.
func (c *Config) ApplyEnv() {
	if url, ok := os.LookupEnv(MongoURLEnv); ok && url != "" {
		c.Mongo.URL = url
	}
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	checks := []struct {
		ok   bool
		desc string
	}{
		{c.ArtifactDir != "", "artifact_dir must be set"},
		{c.RegistryDir != "", "registry_dir must be set"},
		{c.PredictionDir != "", "prediction_dir must be set"},
		{c.TargetColumn != "", "target_column must be set"},
		{c.Ingestion.TestSize > 0 && c.Ingestion.TestSize < 1, "ingestion.test_size must be in (0,1)"},
		{inUnit(c.Validation.MissingThreshold), "validation.missing_threshold must be in [0,1]"},
		{inUnit(c.Validation.DriftPValue), "validation.drift_p_value must be in [0,1]"},
		{c.Transformation.SMOTENeighbors > 0, "transformation.smote_neighbors must be positive"},
		{inUnit(c.Trainer.ExpectedScore), "trainer.expected_score must be in [0,1]"},
		{inUnit(c.Trainer.OverfittingThreshold), "trainer.overfitting_threshold must be in [0,1]"},
		{c.Trainer.NEstimators > 0, "trainer.n_estimators must be positive"},
		{c.Trainer.MaxDepth > 0, "trainer.max_depth must be positive"},
		{c.Trainer.LearningRate > 0, "trainer.learning_rate must be positive"},
		{c.Trainer.Bins > 1, "trainer.bins must be greater than 1"},
		{inUnit(c.Evaluation.ChangeThreshold), "evaluation.change_threshold must be in [0,1]"},
		{c.Predict.ChunkSize > 0, "predict.chunk_size must be positive"},
		{c.Predict.Concurrency > 0, "predict.concurrency must be positive"},
		{c.Mongo.Timeout >= 0, "mongo.timeout must not be negative"},
	}

	for _, check := range checks {
		if !check.ok {
			return errors.Wrap(ErrInvalid, check.desc)
		}
	}

	return nil
}

func inUnit(v float64) bool {
	return v >= 0 && v <= 1
}
