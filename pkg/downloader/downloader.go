// Package downloader re-materializes cataloged datasets: it resolves a serial
// against the catalog, fetches the selected plane objects (or the opaque file)
// from storage and writes the metadata views next to them.
package downloader

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/czbiohub/imagingdb/internal/logger"
	"github.com/czbiohub/imagingdb/pkg/catalog"
	"github.com/czbiohub/imagingdb/pkg/dataset"
	"github.com/czbiohub/imagingdb/pkg/storage"
)

// Output file names inside the destination folder.
const (
	globalMetaName = "global_metadata.json"
	framesMetaName = "frames_meta.csv"
)

// ErrDestinationExists indicates the per-dataset destination folder is already
// present; downloads never overwrite local data.
var ErrDestinationExists = errors.New("destination folder already exists")

// ErrNothingToDo indicates both data and metadata were deselected.
var ErrNothingToDo = errors.New("both data and metadata are deselected, nothing to do")

// Request selects what to re-materialize for one dataset.
type Request struct {
	// Serial names the dataset.
	Serial string

	// Dest is the parent folder; the dataset lands in Dest/<serial>.
	Dest string

	// Channels filters planes by channel, each entry a channel name or a
	// numeric index. Empty means all channels.
	Channels []string

	// Positions, Times and Slices filter planes by coordinate. Empty means no
	// restriction.
	Positions []int
	Times     []int
	Slices    []int

	// SkipData writes only the metadata views.
	SkipData bool

	// SkipMetadata writes only the payload objects.
	SkipMetadata bool
}

// Downloader resolves datasets against the catalog and pulls their objects
// from storage.
type Downloader struct {
	catalog *catalog.Catalog
	backend storage.Backend
	pool    storage.Pool
}

// New builds a downloader. Workers bounds the parallel download pool; zero
// means one per CPU.
func New(cat *catalog.Catalog, backend storage.Backend, workers int) (*Downloader, error) {
	if cat == nil {
		return nil, errors.New("catalog is required")
	}
	if backend == nil {
		return nil, errors.New("storage backend is required")
	}
	return &Downloader{
		catalog: cat,
		backend: backend,
		pool:    storage.Pool{Workers: workers},
	}, nil
}

// Run re-materializes one dataset into a fresh Dest/<serial> folder.
func (d *Downloader) Run(ctx context.Context, req Request) error {
	if req.SkipData && req.SkipMetadata {
		return ErrNothingToDo
	}
	if _, err := dataset.ParseSerial(req.Serial); err != nil {
		return err
	}

	destDir := filepath.Join(req.Dest, req.Serial)
	if err := os.MkdirAll(req.Dest, 0o755); err != nil {
		return err
	}
	if err := os.Mkdir(destDir, 0o755); err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%w: %s", ErrDestinationExists, destDir)
		}
		return err
	}

	return d.catalog.SessionScope(ctx, func(ctx context.Context, s *catalog.Session) error {
		ds, err := s.GetDataSet(req.Serial)
		if err != nil {
			return err
		}
		if ds.Frames {
			return d.downloadFrames(ctx, s, req, destDir)
		}
		return d.downloadFile(ctx, s, req, destDir)
	})
}

// downloadFrames fetches the selected planes and writes the metadata views.
func (d *Downloader) downloadFrames(ctx context.Context, s *catalog.Session, req Request, destDir string) error {
	filters := catalog.Filters{
		Slices:    req.Slices,
		Times:     req.Times,
		Positions: req.Positions,
	}
	channels, err := resolveChannels(s, req.Serial, req.Channels)
	if err != nil {
		return err
	}
	filters.Channels = channels

	global, err := s.GetFramesGlobal(req.Serial)
	if err != nil {
		return err
	}
	frames, err := s.GetFrames(req.Serial, filters)
	if err != nil {
		return err
	}
	if len(frames) == 0 {
		return fmt.Errorf("no frames of dataset %s match the filters", req.Serial)
	}

	if !req.SkipMetadata {
		if err := writeGlobalMeta(destDir, req.Serial, global); err != nil {
			return err
		}
		if err := writeFramesMeta(destDir, frames); err != nil {
			return err
		}
	}

	if !req.SkipData {
		items := make([]storage.DownloadItem, len(frames))
		for i, f := range frames {
			items[i] = storage.DownloadItem{
				Key:       global.StorageDir + "/" + f.FileName,
				LocalPath: filepath.Join(destDir, f.FileName),
			}
		}
		if err := d.pool.DownloadPlanes(ctx, d.backend, items); err != nil {
			return err
		}
	}

	logger.Info("dataset downloaded",
		"serial", req.Serial, "frames", len(frames), "dest", destDir)
	return nil
}

// downloadFile fetches the opaque payload and writes its metadata view.
func (d *Downloader) downloadFile(ctx context.Context, s *catalog.Session, req Request, destDir string) error {
	if !filtersEmpty(req) {
		return fmt.Errorf("dataset %s holds a file, frame filters do not apply", req.Serial)
	}

	global, err := s.GetFileGlobal(req.Serial)
	if err != nil {
		return err
	}

	if !req.SkipMetadata {
		meta, err := global.Metadata()
		if err != nil {
			return err
		}
		doc := map[string]any{
			"dataset_serial": req.Serial,
			"storage_dir":    global.StorageDir,
			"file_name":      global.FileName,
			"sha256":         global.SHA256,
			"metadata":       meta,
		}
		if err := writeJSON(filepath.Join(destDir, globalMetaName), doc); err != nil {
			return err
		}
	}

	if !req.SkipData {
		key := global.StorageDir + "/" + global.FileName
		local := filepath.Join(destDir, global.FileName)
		if err := d.backend.GetFile(ctx, key, local); err != nil {
			return err
		}
	}

	logger.Info("file dataset downloaded",
		"serial", req.Serial, "file", global.FileName, "dest", destDir)
	return nil
}

func filtersEmpty(req Request) bool {
	return len(req.Channels) == 0 && len(req.Positions) == 0 &&
		len(req.Times) == 0 && len(req.Slices) == 0
}

// resolveChannels maps the requested channels to channel indices. Numeric
// entries are used as indices directly; names are resolved against the
// dataset's channel names.
func resolveChannels(s *catalog.Session, serial string, requested []string) ([]int, error) {
	if len(requested) == 0 {
		return nil, nil
	}

	var names map[int]string
	indices := make([]int, 0, len(requested))
	for _, entry := range requested {
		if idx, err := strconv.Atoi(entry); err == nil {
			indices = append(indices, idx)
			continue
		}

		if names == nil {
			var err error
			if names, err = s.ChannelNames(serial); err != nil {
				return nil, err
			}
		}
		idx, ok := lookupChannel(names, entry)
		if !ok {
			return nil, fmt.Errorf("dataset %s has no channel named %q", serial, entry)
		}
		indices = append(indices, idx)
	}
	return indices, nil
}

func lookupChannel(names map[int]string, name string) (int, bool) {
	for idx, n := range names {
		if n == name {
			return idx, true
		}
	}
	return 0, false
}

// writeGlobalMeta writes the dataset aggregate, including the variable global
// metadata, as one JSON document.
func writeGlobalMeta(destDir, serial string, global *catalog.FramesGlobal) error {
	meta, err := global.Metadata()
	if err != nil {
		return err
	}
	doc := map[string]any{
		"dataset_serial": serial,
		"storage_dir":    global.StorageDir,
		"nbr_frames":     global.NbrFrames,
		"im_width":       global.ImWidth,
		"im_height":      global.ImHeight,
		"im_colors":      global.ImColors,
		"bit_depth":      global.BitDepth,
		"nbr_slices":     global.NbrSlices,
		"nbr_channels":   global.NbrChannels,
		"nbr_timepoints": global.NbrTimepoints,
		"nbr_positions":  global.NbrPositions,
		"metadata":       meta,
	}
	return writeJSON(filepath.Join(destDir, globalMetaName), doc)
}

// writeFramesMeta writes one CSV row per selected plane.
func writeFramesMeta(destDir string, frames []catalog.Frame) error {
	f, err := os.Create(filepath.Join(destDir, framesMetaName))
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{
		"channel_idx", "slice_idx", "time_idx", "pos_idx",
		"channel_name", "file_name", "sha256",
	}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, frame := range frames {
		record := []string{
			strconv.Itoa(frame.ChannelIdx),
			strconv.Itoa(frame.SliceIdx),
			strconv.Itoa(frame.TimeIdx),
			strconv.Itoa(frame.PosIdx),
			frame.ChannelName,
			frame.FileName,
			frame.SHA256,
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}

func writeJSON(path string, doc any) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
