// Package config provides configuration management for AutoAnnotator.
// Configuration is loaded from environment variables with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	// Default values
	DefaultLogLevel       = "info"
	DefaultDatasetRoot    = "data/Dataset"
	DefaultOutputDir      = "data/output/temp"
	DefaultCaptionOutput  = "caption_outputs"
	DefaultModelBackend   = "gemini"
	DefaultModel          = "gemini-2.5-flash"
	DefaultGroundingModel = "gemini-robotics-er-1.5-preview"
	DefaultLanguage       = "en"
	DefaultWorkers        = 4
	DefaultStatusPort     = 8787

	// Environment variable names
	EnvAPIKey         = "GEMINI_API_KEY"
	EnvOpenAIKey      = "OPENAI_API_KEY"
	EnvOpenAIBaseURL  = "ANNOTATOR_OPENAI_BASE_URL"
	EnvLogLevel       = "ANNOTATOR_LOG_LEVEL"
	EnvDatasetRoot    = "ANNOTATOR_DATASET_ROOT"
	EnvOutputDir      = "ANNOTATOR_OUTPUT_DIR"
	EnvCaptionOutput  = "ANNOTATOR_CAPTION_OUTPUT"
	EnvModelBackend   = "ANNOTATOR_MODEL_BACKEND"
	EnvModel          = "ANNOTATOR_MODEL"
	EnvGroundingModel = "ANNOTATOR_GROUNDING_MODEL"
	EnvLanguage       = "ANNOTATOR_LANGUAGE"
	EnvWorkers        = "ANNOTATOR_WORKERS"
	EnvStatusPort     = "ANNOTATOR_STATUS_PORT"
	EnvLedgerPath     = "ANNOTATOR_LEDGER_PATH"
	EnvTrackerPython  = "ANNOTATOR_TRACKER_PYTHON"
	EnvTrackerModule  = "ANNOTATOR_TRACKER_MODULE"
	EnvPromptsDir     = "ANNOTATOR_PROMPTS_DIR"

	EnvUploadTimeout     = "ANNOTATOR_UPLOAD_TIMEOUT"
	EnvProcessingTimeout = "ANNOTATOR_PROCESSING_TIMEOUT"
	EnvMaxAttempts       = "ANNOTATOR_MAX_ATTEMPTS"
	EnvRetryWait         = "ANNOTATOR_RETRY_WAIT"
	EnvRetryJitter       = "ANNOTATOR_RETRY_JITTER"
	EnvSegmentMinSec     = "ANNOTATOR_SEGMENT_MIN_SEC"
	EnvSegmentMaxSec     = "ANNOTATOR_SEGMENT_MAX_SEC"
	EnvSegmentFraction   = "ANNOTATOR_SEGMENT_FRACTION"
	EnvChunkSec          = "ANNOTATOR_CHUNK_SEC"

	// Ledger database filename
	LedgerFilename = "annotator.db"

	// Model invocation defaults
	DefaultUploadTimeout     = 5 * time.Minute
	DefaultProcessingTimeout = 10 * time.Minute
	DefaultMaxAttempts       = 5
	DefaultRetryWait         = 20 * time.Second
	DefaultRetryJitter       = 2 * time.Second

	// Long-video captioning defaults
	DefaultSegmentMinSec   = 5 * 60.0
	DefaultSegmentMaxSec   = 30 * 60.0
	DefaultSegmentFraction = 0.8
	DefaultChunkSec        = 60.0

	DefaultTrackerModule = "samurai_tracker"
)

// Config defines the application configuration interface
type Config interface {
	APIKey() string
	OpenAIKey() string
	OpenAIBaseURL() string
	LogLevel() string
	DatasetRoot() string
	OutputDir() string
	CaptionOutputDir() string
	ModelBackend() string
	Model() string
	GroundingModel() string
	Language() string
	Workers() int
	StatusPort() int
	LedgerPath() string
	PromptsDir() string
	TrackerPython() string
	TrackerModule() string

	UploadTimeout() time.Duration
	ProcessingTimeout() time.Duration
	MaxAttempts() int
	RetryWait() time.Duration
	RetryJitter() time.Duration

	SegmentMinSec() float64
	SegmentMaxSec() float64
	SegmentFraction() float64
	ChunkSec() float64
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	apiKey        string
	openAIKey     string
	openAIBaseURL string
	logLevel      string
	datasetRoot   string
	outputDir     string
	captionOutput string
	modelBackend  string
	model         string
	grounding     string
	language      string
	workers       int
	statusPort    int
	ledgerPath    string
	promptsDir    string
	trackerPython string
	trackerModule string

	uploadTimeout     time.Duration
	processingTimeout time.Duration
	maxAttempts       int
	retryWait         time.Duration
	retryJitter       time.Duration
	segmentMinSec     float64
	segmentMaxSec     float64
	segmentFraction   float64
	chunkSec          float64
}

// New creates a new EnvConfig with defaults and environment variable overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		apiKey:        os.Getenv(EnvAPIKey),
		openAIKey:     os.Getenv(EnvOpenAIKey),
		openAIBaseURL: os.Getenv(EnvOpenAIBaseURL),
		logLevel:      DefaultLogLevel,
		datasetRoot:   DefaultDatasetRoot,
		outputDir:     DefaultOutputDir,
		captionOutput: DefaultCaptionOutput,
		modelBackend:  DefaultModelBackend,
		model:         DefaultModel,
		grounding:     DefaultGroundingModel,
		language:      DefaultLanguage,
		workers:       DefaultWorkers,
		statusPort:    DefaultStatusPort,
		promptsDir:    os.Getenv(EnvPromptsDir),
		trackerPython: os.Getenv(EnvTrackerPython),
		trackerModule: DefaultTrackerModule,

		uploadTimeout:     DefaultUploadTimeout,
		processingTimeout: DefaultProcessingTimeout,
		maxAttempts:       DefaultMaxAttempts,
		retryWait:         DefaultRetryWait,
		retryJitter:       DefaultRetryJitter,
		segmentMinSec:     DefaultSegmentMinSec,
		segmentMaxSec:     DefaultSegmentMaxSec,
		segmentFraction:   DefaultSegmentFraction,
		chunkSec:          DefaultChunkSec,
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		cfg.logLevel = ll
	}
	if dr := os.Getenv(EnvDatasetRoot); dr != "" {
		cfg.datasetRoot = dr
	}
	if od := os.Getenv(EnvOutputDir); od != "" {
		cfg.outputDir = od
	}
	if co := os.Getenv(EnvCaptionOutput); co != "" {
		cfg.captionOutput = co
	}
	if mb := os.Getenv(EnvModelBackend); mb != "" {
		if mb != "gemini" && mb != "openai" {
			return nil, fmt.Errorf("invalid %s: must be gemini or openai, got %q", EnvModelBackend, mb)
		}
		cfg.modelBackend = mb
	}
	if m := os.Getenv(EnvModel); m != "" {
		cfg.model = m
	}
	if gm := os.Getenv(EnvGroundingModel); gm != "" {
		cfg.grounding = gm
	}
	if lang := os.Getenv(EnvLanguage); lang != "" {
		cfg.language = lang
	}
	if w := os.Getenv(EnvWorkers); w != "" {
		workers, err := strconv.Atoi(w)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvWorkers, err)
		}
		if workers < 1 {
			return nil, fmt.Errorf("invalid %s: must be at least 1", EnvWorkers)
		}
		cfg.workers = workers
	}
	if p := os.Getenv(EnvStatusPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvStatusPort, err)
		}
		if port < 0 || port > 65535 {
			return nil, fmt.Errorf("invalid %s: port must be between 0 and 65535", EnvStatusPort)
		}
		cfg.statusPort = port
	}
	if lp := os.Getenv(EnvLedgerPath); lp != "" {
		cfg.ledgerPath = lp
	}
	if tm := os.Getenv(EnvTrackerModule); tm != "" {
		cfg.trackerModule = tm
	}

	if err := overrideDuration(EnvUploadTimeout, &cfg.uploadTimeout); err != nil {
		return nil, err
	}
	if err := overrideDuration(EnvProcessingTimeout, &cfg.processingTimeout); err != nil {
		return nil, err
	}
	if err := overrideDuration(EnvRetryWait, &cfg.retryWait); err != nil {
		return nil, err
	}
	if err := overrideDuration(EnvRetryJitter, &cfg.retryJitter); err != nil {
		return nil, err
	}
	if ma := os.Getenv(EnvMaxAttempts); ma != "" {
		attempts, err := strconv.Atoi(ma)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvMaxAttempts, err)
		}
		if attempts < 1 {
			return nil, fmt.Errorf("invalid %s: must be at least 1", EnvMaxAttempts)
		}
		cfg.maxAttempts = attempts
	}
	if err := overrideFloat(EnvSegmentMinSec, &cfg.segmentMinSec); err != nil {
		return nil, err
	}
	if err := overrideFloat(EnvSegmentMaxSec, &cfg.segmentMaxSec); err != nil {
		return nil, err
	}
	if err := overrideFloat(EnvSegmentFraction, &cfg.segmentFraction); err != nil {
		return nil, err
	}
	if err := overrideFloat(EnvChunkSec, &cfg.chunkSec); err != nil {
		return nil, err
	}
	if cfg.segmentMinSec > cfg.segmentMaxSec {
		return nil, fmt.Errorf("invalid %s/%s: min %.0f exceeds max %.0f",
			EnvSegmentMinSec, EnvSegmentMaxSec, cfg.segmentMinSec, cfg.segmentMaxSec)
	}

	return cfg, nil
}

func overrideDuration(envName string, dst *time.Duration) error {
	v := os.Getenv(envName)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", envName, err)
	}
	if d <= 0 {
		return fmt.Errorf("invalid %s: must be positive", envName)
	}
	*dst = d
	return nil
}

func overrideFloat(envName string, dst *float64) error {
	v := os.Getenv(envName)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", envName, err)
	}
	if f <= 0 {
		return fmt.Errorf("invalid %s: must be positive", envName)
	}
	*dst = f
	return nil
}

// APIKey returns the Gemini API key
func (c *EnvConfig) APIKey() string {
	return c.apiKey
}

// OpenAIKey returns the API key for the OpenAI-compatible backend
func (c *EnvConfig) OpenAIKey() string {
	return c.openAIKey
}

// OpenAIBaseURL returns the base URL for the OpenAI-compatible backend
func (c *EnvConfig) OpenAIBaseURL() string {
	return c.openAIBaseURL
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DatasetRoot returns the dataset root directory
func (c *EnvConfig) DatasetRoot() string {
	return c.datasetRoot
}

// OutputDir returns the annotation output directory
func (c *EnvConfig) OutputDir() string {
	return c.outputDir
}

// CaptionOutputDir returns the long-video caption output directory
func (c *EnvConfig) CaptionOutputDir() string {
	return c.captionOutput
}

// ModelBackend returns the model backend ("gemini" or "openai")
func (c *EnvConfig) ModelBackend() string {
	return c.modelBackend
}

// Model returns the annotation model name
func (c *EnvConfig) Model() string {
	return c.model
}

// GroundingModel returns the grounding model name
func (c *EnvConfig) GroundingModel() string {
	return c.grounding
}

// Language returns the caption language
func (c *EnvConfig) Language() string {
	return c.language
}

// Workers returns the number of parallel segment workers
func (c *EnvConfig) Workers() int {
	return c.workers
}

// StatusPort returns the status API port (0 disables the status server)
func (c *EnvConfig) StatusPort() int {
	return c.statusPort
}

// LedgerPath returns the full path to the run ledger database file
func (c *EnvConfig) LedgerPath() string {
	if c.ledgerPath != "" {
		return c.ledgerPath
	}
	return filepath.Join(c.outputDir, LedgerFilename)
}

// PromptsDir returns the optional on-disk prompt template directory.
// Empty means use the embedded templates.
func (c *EnvConfig) PromptsDir() string {
	return c.promptsDir
}

func (c *EnvConfig) TrackerPython() string {
	return c.trackerPython
}

func (c *EnvConfig) TrackerModule() string {
	return c.trackerModule
}

func (c *EnvConfig) UploadTimeout() time.Duration {
	return c.uploadTimeout
}

func (c *EnvConfig) ProcessingTimeout() time.Duration {
	return c.processingTimeout
}

func (c *EnvConfig) MaxAttempts() int {
	return c.maxAttempts
}

func (c *EnvConfig) RetryWait() time.Duration {
	return c.retryWait
}

func (c *EnvConfig) RetryJitter() time.Duration {
	return c.retryJitter
}

func (c *EnvConfig) SegmentMinSec() float64 {
	return c.segmentMinSec
}

func (c *EnvConfig) SegmentMaxSec() float64 {
	return c.segmentMaxSec
}

func (c *EnvConfig) SegmentFraction() float64 {
	return c.segmentFraction
}

func (c *EnvConfig) ChunkSec() float64 {
	return c.chunkSec
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
