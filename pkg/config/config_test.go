package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storagefs "github.com/czbiohub/imagingdb/pkg/storage/fs"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `{
		"upload_type": "frames",
		"frames_format": "ome_tiff",
		"storage": "s3",
		"storage_access": "czbiohub-imaging",
		"s3": {"region": "us-west-2"},
		"microscope": "czdragonfly",
		"schema_filename": "metadata_schema.json",
		"workers": 8
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "frames", cfg.UploadType)
	assert.Equal(t, "ome_tiff", cfg.FramesFormat)
	assert.Equal(t, "s3", cfg.Storage)
	assert.Equal(t, "czbiohub-imaging", cfg.StorageAccess)
	assert.Equal(t, "us-west-2", cfg.S3.Region)
	assert.Equal(t, "czdragonfly", cfg.Microscope)
	assert.Equal(t, 8, cfg.Workers)

	// Defaults fill unset logging fields.
	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoadLocalStorage(t *testing.T) {
	path := writeConfig(t, `{
		"upload_type": "file",
		"storage": "local",
		"storage_access": "/mnt/imaging",
		"logging": {"level": "debug", "format": "json"}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "local", cfg.Storage)
	assert.Equal(t, "/mnt/imaging", cfg.StorageAccess)
	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadDefaultStorage(t *testing.T) {
	path := writeConfig(t, `{
		"upload_type": "file",
		"storage_access": "czbiohub-imaging"
	}`)

	// Omitted storage kind defaults to s3.
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, StorageS3, cfg.Storage)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLoadMalformedFile(t *testing.T) {
	path := writeConfig(t, "{not json")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"bad storage kind", `{"storage": "tape", "storage_access": "x"}`},
		{"missing storage access", `{"storage": "local"}`},
		{"bad upload type", `{"upload_type": "stream", "storage": "local", "storage_access": "x"}`},
		{"frames without format", `{"upload_type": "frames", "storage": "local", "storage_access": "x"}`},
		{"bad frames format", `{"upload_type": "frames", "frames_format": "nd2", "storage": "local", "storage_access": "x"}`},
		{"negative workers", `{"storage": "local", "storage_access": "x", "workers": -1}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.content))
			assert.Error(t, err)
		})
	}
}

func TestNewBackendLocal(t *testing.T) {
	mount := t.TempDir()
	cfg := &Config{Storage: StorageLocal, StorageAccess: mount}

	backend, err := cfg.NewBackend(context.Background())
	require.NoError(t, err)
	_, ok := backend.(*storagefs.Store)
	assert.True(t, ok)
}

func TestNewBackendUnknown(t *testing.T) {
	cfg := &Config{Storage: "tape"}
	_, err := cfg.NewBackend(context.Background())
	assert.Error(t, err)
}
