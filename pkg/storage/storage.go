// Package storage abstracts the object store holding plane and file payloads.
//
// Two backends implement the same capability set: an S3 bucket+prefix variant
// and a mounted-filesystem variant. Keys are slash-separated paths relative to
// the backend root; plane payloads are PNG-encoded bytes whose identity is the
// hash of the decoded canonical pixel buffer.
package storage

import (
	"context"

	"github.com/czbiohub/imagingdb/pkg/imageio"
)

// Backend is the uniform capability set over object-store and filesystem
// storage targets. Implementations must be safe for concurrent use; the
// transfer pool calls Put/Get from multiple workers.
type Backend interface {
	// AssertUnique fails with ErrStorageExists when any object exists under
	// dir. Called once per dataset before a non-overwrite ingestion.
	AssertUnique(ctx context.Context, dir string) error

	// PutPlane writes encoded plane bytes at key, replacing any existing
	// object.
	PutPlane(ctx context.Context, key string, data []byte) error

	// PutFile uploads a local file at key without interpreting its contents.
	PutFile(ctx context.Context, key string, localPath string) error

	// GetPlane fetches and decodes a stored plane.
	GetPlane(ctx context.Context, key string) (*imageio.Plane, error)

	// GetFile downloads the object at key to localPath.
	GetFile(ctx context.Context, key string, localPath string) error

	// ListPrefix returns all keys under dir, sorted.
	ListPrefix(ctx context.Context, dir string) ([]string, error)
}
