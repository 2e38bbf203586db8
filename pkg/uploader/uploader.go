// Package uploader drives batch ingestion: it walks a batch descriptor row by
// row, splits each source into plane objects or uploads it as an opaque file,
// and catalogs the result. Rows are processed sequentially; a failing row is
// recorded and the batch moves on.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/czbiohub/imagingdb/internal/logger"
	"github.com/czbiohub/imagingdb/pkg/catalog"
	"github.com/czbiohub/imagingdb/pkg/dataset"
	"github.com/czbiohub/imagingdb/pkg/imageio"
	"github.com/czbiohub/imagingdb/pkg/splitter"
	"github.com/czbiohub/imagingdb/pkg/storage"
)

// Upload types.
const (
	TypeFrames = "frames"
	TypeFile   = "file"
)

// State is the lifecycle position of one batch row.
type State string

const (
	StatePending    State = "pending"
	StateValidating State = "validating"
	StateUploading  State = "uploading"
	StateCataloged  State = "cataloged"
	StateFailed     State = "failed"
)

// Result records the outcome of one batch row.
type Result struct {
	Serial string
	State  State
	Err    error
}

// Options configures an upload batch. The per-row descriptor can override
// SchemaFilename and narrow positions.
type Options struct {
	// UploadType selects frames (split into plane objects) or file (stored
	// as-is).
	UploadType string

	// FramesFormat names the splitter variant for frames uploads.
	FramesFormat string

	Microscope     string
	FilenameParser string
	SchemaFilename string

	// Workers bounds the parallel upload pool per dataset.
	Workers int

	// Overwrite replaces existing storage objects and catalog rows instead of
	// failing on a known serial.
	Overwrite bool

	// OpenSeries opens vendor containers for the lif variant.
	OpenSeries splitter.SeriesOpener
}

// Uploader coordinates storage and catalog for a batch of datasets.
type Uploader struct {
	catalog *catalog.Catalog
	backend storage.Backend
	opts    Options
}

// New validates the options and builds an uploader.
func New(cat *catalog.Catalog, backend storage.Backend, opts Options) (*Uploader, error) {
	if cat == nil {
		return nil, errors.New("catalog is required")
	}
	if backend == nil {
		return nil, errors.New("storage backend is required")
	}
	switch opts.UploadType {
	case TypeFrames:
		if opts.FramesFormat == "" {
			return nil, errors.New("frames uploads need a frames format")
		}
	case TypeFile:
	default:
		return nil, fmt.Errorf("upload type must be %q or %q, got %q",
			TypeFrames, TypeFile, opts.UploadType)
	}
	return &Uploader{catalog: cat, backend: backend, opts: opts}, nil
}

// Run processes the batch rows in order. A row failure is recorded in its
// Result and the next row still runs; a cancelled context fails the current
// row and every row after it.
func (u *Uploader) Run(ctx context.Context, rows []Row) []Result {
	results := make([]Result, 0, len(rows))
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			for _, rest := range rows[i:] {
				results = append(results, Result{Serial: rest.DatasetID, State: StateFailed, Err: err})
			}
			break
		}

		res := Result{Serial: row.DatasetID, State: StatePending}
		if err := u.processRow(ctx, row, &res); err != nil {
			logger.Error("dataset upload failed",
				"serial", row.DatasetID, "stage", string(res.State), "error", err)
			res.State = StateFailed
			res.Err = err
		} else {
			logger.Info("dataset uploaded", "serial", row.DatasetID)
		}
		results = append(results, res)
	}
	return results
}

// processRow runs one row through validate, upload and catalog, advancing
// res.State as it goes. On error res.State names the stage that broke.
func (u *Uploader) processRow(ctx context.Context, row Row, res *Result) error {
	res.State = StateValidating
	serial, err := dataset.ParseSerial(row.DatasetID)
	if err != nil {
		return err
	}

	if !u.opts.Overwrite {
		err := u.catalog.SessionScope(ctx, func(_ context.Context, s *catalog.Session) error {
			return s.AssertUniqueSerial(row.DatasetID)
		})
		if err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	res.State = StateUploading
	switch u.opts.UploadType {
	case TypeFrames:
		err = u.uploadFrames(ctx, row, serial)
	case TypeFile:
		err = u.uploadFile(ctx, row, serial)
	}
	if err != nil {
		return err
	}
	res.State = StateCataloged
	return nil
}

// uploadFrames splits the source, uploads the plane objects and catalogs the
// four metadata products in one transaction.
func (u *Uploader) uploadFrames(ctx context.Context, row Row, serial dataset.Serial) error {
	schemaPath := u.opts.SchemaFilename
	if row.SchemaFilename != "" {
		schemaPath = row.SchemaFilename
	}

	sp, err := splitter.New(ctx, u.opts.FramesFormat, splitter.Params{
		Serial:         row.DatasetID,
		Backend:        u.backend,
		Overwrite:      u.opts.Overwrite,
		Workers:        u.opts.Workers,
		FilenameParser: u.opts.FilenameParser,
		SchemaPath:     schemaPath,
		Positions:      row.Positions,
		OpenSeries:     u.opts.OpenSeries,
	})
	if err != nil {
		return err
	}
	if err := sp.GetFramesAndMetadata(ctx, row.FileName); err != nil {
		return err
	}

	frames, err := sp.FramesMeta()
	if err != nil {
		return err
	}
	framesJSON, err := sp.FramesJSON()
	if err != nil {
		return err
	}
	global, err := sp.GlobalMeta()
	if err != nil {
		return err
	}
	globalJSON, err := sp.GlobalJSON()
	if err != nil {
		return err
	}

	// The per-plane variable metadata rides along in the frame rows.
	if len(framesJSON) == len(frames) {
		for i := range frames {
			frames[i].Metadata = framesJSON[i]
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return u.catalog.SessionScope(ctx, func(_ context.Context, s *catalog.Session) error {
		return s.InsertFrames(catalog.InsertFramesParams{
			Serial:         row.DatasetID,
			DateTime:       serial.Time,
			Microscope:     u.opts.Microscope,
			Description:    row.Description,
			ParentSerial:   row.ParentDatasetID,
			Global:         global,
			GlobalMetadata: globalJSON,
			Frames:         frames,
			Overwrite:      u.opts.Overwrite,
		})
	})
}

// uploadFile stores the source unchanged under raw_files/<serial> and catalogs
// its location and content hash.
func (u *Uploader) uploadFile(ctx context.Context, row Row, serial dataset.Serial) error {
	info, err := os.Stat(row.FileName)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("file uploads take a single file, %s is a directory", row.FileName)
	}

	storageDir := dataset.FileDir(row.DatasetID)
	if !u.opts.Overwrite {
		if err := u.backend.AssertUnique(ctx, storageDir); err != nil {
			return err
		}
	}

	sha, err := imageio.SHA256File(row.FileName)
	if err != nil {
		return err
	}
	fileName := filepath.Base(row.FileName)
	if err := u.backend.PutFile(ctx, storageDir+"/"+fileName, row.FileName); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return u.catalog.SessionScope(ctx, func(_ context.Context, s *catalog.Session) error {
		return s.InsertFile(catalog.InsertFileParams{
			Serial:       row.DatasetID,
			DateTime:     serial.Time,
			Microscope:   u.opts.Microscope,
			Description:  row.Description,
			ParentSerial: row.ParentDatasetID,
			StorageDir:   storageDir,
			FileName:     fileName,
			SHA256:       sha,
			Metadata:     map[string]any{"file_origin": row.FileName},
			Overwrite:    u.opts.Overwrite,
		})
	})
}
