package services

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Lllllllleong/sheetupdater/internal/gcp"
	"github.com/Lllllllleong/sheetupdater/internal/objectstore"
)

// Supported document backends.
const (
	BackendDrive = "drive"
	BackendGCS   = "gcs"
	BackendS3    = "s3"
)

const (
	defaultMinDocumentSize = 4 << 10
	defaultChunkSize       = 1 << 20
	defaultStageTimeout    = 60 * time.Second
)

// DefaultIDFields are the payload keys that carry the document identifier.
var DefaultIDFields = []string{"Current File ID", "docId"}

// Config holds all configuration for the sheet updater. It is loaded once
// and passed by value to every component.
type Config struct {
	Backend   string
	Drive     gcp.DriveConfig
	GCSBucket string
	S3        objectstore.Config

	ScratchDir      string
	MinDocumentSize int64
	ChunkSize       int
	StageTimeout    time.Duration
	FieldMapFile    string
	IDFields        []string

	ProjectID        string
	TaskCollection   string
	WorkflowID       string
	WorkflowLocation string

	AsyncMaxConcurrent int
	AsyncRunTimeout    time.Duration
}

// DefaultConfig returns the configuration used when no environment is set.
func DefaultConfig() Config {
	return Config{
		Backend:            BackendDrive,
		ScratchDir:         os.TempDir(),
		MinDocumentSize:    defaultMinDocumentSize,
		ChunkSize:          defaultChunkSize,
		StageTimeout:       defaultStageTimeout,
		IDFields:           DefaultIDFields,
		TaskCollection:     "sheetUpdates",
		WorkflowLocation:   "us-central1",
		AsyncMaxConcurrent: 4,
		AsyncRunTimeout:    5 * time.Minute,
	}
}

// LoadConfig loads and validates all necessary environment variables.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()

	cfg.Backend = strings.ToLower(gcp.GetEnv("DOCUMENT_BACKEND", cfg.Backend))
	cfg.Drive = gcp.DriveConfig{
		ClientID:     gcp.GetEnv("GOOGLE_CLIENT_ID", ""),
		ClientSecret: gcp.GetEnv("GOOGLE_CLIENT_SECRET", ""),
		RefreshToken: gcp.GetEnv("GOOGLE_REFRESH_TOKEN", ""),
	}
	cfg.GCSBucket = gcp.GetEnv("GCS_BUCKET", "")
	cfg.S3 = objectstore.Config{
		Endpoint:  gcp.GetEnv("S3_ENDPOINT", ""),
		AccessKey: gcp.GetEnv("S3_ACCESS_KEY", ""),
		SecretKey: gcp.GetEnv("S3_SECRET_KEY", ""),
		Region:    gcp.GetEnv("S3_REGION", "us-east-1"),
		Bucket:    gcp.GetEnv("S3_BUCKET", ""),
	}
	cfg.ScratchDir = gcp.GetEnv("SCRATCH_DIR", cfg.ScratchDir)
	cfg.FieldMapFile = gcp.GetEnv("FIELD_MAP_FILE", "")
	cfg.IDFields = gcp.GetEnvList("ID_FIELDS", cfg.IDFields)
	cfg.ProjectID = gcp.GetEnv("PROJECT_ID", "")
	cfg.TaskCollection = gcp.GetEnv("TASK_COLLECTION", cfg.TaskCollection)
	cfg.WorkflowID = gcp.GetEnv("WORKFLOW_ID", "")
	cfg.WorkflowLocation = gcp.GetEnv("WORKFLOW_LOCATION", cfg.WorkflowLocation)

	var err error
	if cfg.S3.UseSSL, err = gcp.GetEnvBool("S3_USE_SSL", false); err != nil {
		return Config{}, err
	}
	minSize, err := gcp.GetEnvInt("MIN_DOCUMENT_SIZE", int(cfg.MinDocumentSize))
	if err != nil {
		return Config{}, err
	}
	cfg.MinDocumentSize = int64(minSize)
	if cfg.ChunkSize, err = gcp.GetEnvInt("CHUNK_SIZE", cfg.ChunkSize); err != nil {
		return Config{}, err
	}
	if cfg.StageTimeout, err = gcp.GetEnvDuration("STAGE_TIMEOUT", cfg.StageTimeout); err != nil {
		return Config{}, err
	}
	if cfg.AsyncMaxConcurrent, err = gcp.GetEnvInt("ASYNC_MAX_CONCURRENT", cfg.AsyncMaxConcurrent); err != nil {
		return Config{}, err
	}
	if cfg.AsyncRunTimeout, err = gcp.GetEnvDuration("ASYNC_RUN_TIMEOUT", cfg.AsyncRunTimeout); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the values every backend depends on.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendDrive:
	case BackendGCS:
		if c.GCSBucket == "" {
			return fmt.Errorf("GCS_BUCKET must be set for the gcs backend")
		}
	case BackendS3:
		if err := c.S3.Validate(); err != nil {
			return fmt.Errorf("invalid s3 backend config: %w", err)
		}
	default:
		return fmt.Errorf("unknown DOCUMENT_BACKEND %q", c.Backend)
	}
	if c.ScratchDir == "" {
		return fmt.Errorf("SCRATCH_DIR must not be empty")
	}
	if c.MinDocumentSize <= 0 {
		return fmt.Errorf("MIN_DOCUMENT_SIZE must be positive")
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("CHUNK_SIZE must be positive")
	}
	if c.StageTimeout <= 0 {
		return fmt.Errorf("STAGE_TIMEOUT must be positive")
	}
	if len(c.IDFields) == 0 {
		return fmt.Errorf("ID_FIELDS must name at least one field")
	}
	if c.AsyncMaxConcurrent <= 0 {
		return fmt.Errorf("ASYNC_MAX_CONCURRENT must be positive")
	}
	if c.AsyncRunTimeout <= 0 {
		return fmt.Errorf("ASYNC_RUN_TIMEOUT must be positive")
	}
	return nil
}
