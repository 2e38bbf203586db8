// Package config loads the ingestion/retrieval configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (IMAGINGDB_*)
//  3. JSON configuration file
//  4. Default values (lowest priority)
//
// Database credentials live in a separate file (see catalog.LoadCredentials);
// the config file never carries secrets.
package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/czbiohub/imagingdb/pkg/storage"
	storagefs "github.com/czbiohub/imagingdb/pkg/storage/fs"
	storages3 "github.com/czbiohub/imagingdb/pkg/storage/s3"
)

// Storage backend selectors.
const (
	StorageS3    = "s3"
	StorageLocal = "local"
)

// Config captures the static configuration of an upload or download run.
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging"`

	// UploadType selects frames (split into plane objects) or file uploads.
	UploadType string `mapstructure:"upload_type" validate:"omitempty,oneof=frames file"`

	// FramesFormat names the splitter variant for frames uploads.
	// Required when UploadType is frames.
	FramesFormat string `mapstructure:"frames_format" validate:"required_if=UploadType frames,omitempty,oneof=ome_tiff tif_folder tif_id lif"`

	// Storage selects the backend kind. Defaults to s3.
	Storage string `mapstructure:"storage" validate:"required,oneof=s3 local"`

	// StorageAccess is the backend access point: the bucket name for s3, the
	// mount point for local.
	StorageAccess string `mapstructure:"storage_access" validate:"required"`

	// S3 carries the optional S3 connection details beyond the bucket name.
	S3 S3Config `mapstructure:"s3"`

	// Microscope is recorded on every dataset ingested with this config.
	Microscope string `mapstructure:"microscope"`

	// FilenameParser names the parser used by the tif_folder variant.
	FilenameParser string `mapstructure:"filename_parser"`

	// SchemaFilename points at a JSON schema restricting variable metadata.
	SchemaFilename string `mapstructure:"schema_filename"`

	// Workers bounds the parallel transfer pool. Zero means one per CPU.
	Workers int `mapstructure:"workers" validate:"omitempty,min=1"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level: DEBUG, INFO, WARN or ERROR.
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR"`

	// Format is text or json.
	Format string `mapstructure:"format" validate:"required,oneof=text json"`
}

// S3Config carries S3 connection details. Credentials come from the standard
// AWS environment/profile chain unless set here explicitly.
type S3Config struct {
	Region         string `mapstructure:"region"`
	Endpoint       string `mapstructure:"endpoint"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
	AccessKeyID    string `mapstructure:"access_key_id"`
	SecretKey      string `mapstructure:"secret_access_key"`
}

// Load reads the JSON config file at path, applies environment overrides and
// defaults, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("IMAGINGDB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// ApplyDefaults fills unset fields with their defaults. Explicit values are
// preserved.
func ApplyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	cfg.Logging.Level = strings.ToUpper(cfg.Logging.Level)

	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	if cfg.Storage == "" {
		cfg.Storage = StorageS3
	}
}

// Validate checks the configuration against its struct constraints.
func Validate(cfg *Config) error {
	return validator.New().Struct(cfg)
}

// NewBackend builds the storage backend the config selects.
func (c *Config) NewBackend(ctx context.Context) (storage.Backend, error) {
	switch c.Storage {
	case StorageLocal:
		return storagefs.New(storagefs.Config{MountPoint: c.StorageAccess})
	case StorageS3:
		return storages3.NewFromConfig(ctx, storages3.Config{
			Bucket:          c.StorageAccess,
			Region:          c.S3.Region,
			Endpoint:        c.S3.Endpoint,
			ForcePathStyle:  c.S3.ForcePathStyle,
			AccessKeyID:     c.S3.AccessKeyID,
			SecretAccessKey: c.S3.SecretKey,
		})
	default:
		return nil, fmt.Errorf("unknown storage kind: %s", c.Storage)
	}
}
