// Package splitter normalizes acquisition source formats into a plane stream
// with uniform metadata.
//
// Every variant produces the same four products: the per-plane metadata table
// (frames meta), the per-plane variable metadata (frames json), the required
// global aggregate (global meta) and the variable global metadata (global
// json). Planes are uploaded to storage while the source is being read, not
// after; the catalog insert happens later, once the coordinator has all
// products in hand.
package splitter

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/czbiohub/imagingdb/pkg/catalog"
	"github.com/czbiohub/imagingdb/pkg/dataset"
	"github.com/czbiohub/imagingdb/pkg/imageio"
	"github.com/czbiohub/imagingdb/pkg/storage"
)

// ErrNotAssigned indicates an accessor called before the splitter produced
// the requested product.
var ErrNotAssigned = errors.New("has no values yet")

// Splitter reads one source and produces the plane stream plus metadata.
type Splitter interface {
	// GetFramesAndMetadata drives the ingestion: it reads the source at
	// srcPath, uploads plane objects to storage and populates the four
	// metadata products.
	GetFramesAndMetadata(ctx context.Context, srcPath string) error

	// FramesMeta returns the per-plane metadata table.
	FramesMeta() ([]catalog.FrameRecord, error)

	// FramesJSON returns the per-plane variable metadata, index-aligned with
	// FramesMeta.
	FramesJSON() ([]map[string]any, error)

	// GlobalMeta returns the required per-dataset aggregate.
	GlobalMeta() (catalog.GlobalMeta, error)

	// GlobalJSON returns the variable global metadata.
	GlobalJSON() (map[string]any, error)
}

// Params configures a splitter for one dataset ingestion.
type Params struct {
	// Serial is the dataset serial; the storage directory derives from it.
	Serial string

	// Backend receives the plane objects.
	Backend storage.Backend

	// Overwrite skips the storage uniqueness check and lets per-key puts
	// replace existing objects.
	Overwrite bool

	// Workers bounds the parallel upload pool. Zero means one per CPU.
	Workers int

	// FilenameParser names the parser used by the tif_folder variant.
	FilenameParser string

	// SchemaPath points at a JSON schema restricting which variable metadata
	// keys are kept (ome_tiff).
	SchemaPath string

	// Positions restricts ome_tiff ingestion to the given position labels.
	// Empty means all positions.
	Positions []string

	// OpenSeries opens a vendor container as an indexed series (lif).
	OpenSeries SeriesOpener
}

// Factory constructs a splitter variant. Construction performs the storage
// uniqueness check when overwrite is off, so it can fail.
type Factory func(ctx context.Context, p Params) (Splitter, error)

var registry = map[string]Factory{}

// Register adds a variant under its frames_format name.
func Register(format string, factory Factory) {
	registry[format] = factory
}

// New constructs the variant registered under format.
func New(ctx context.Context, format string, p Params) (Splitter, error) {
	factory, ok := registry[format]
	if !ok {
		return nil, fmt.Errorf("unknown frames format: %s", format)
	}
	return factory(ctx, p)
}

// Formats returns the registered frames_format names, sorted.
func Formats() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// imName renders the deterministic plane object name.
func imName(c, z, t, p int) string {
	return fmt.Sprintf("im_c%03d_z%03d_t%03d_p%03d.png", c, z, t, p)
}

// base carries the state shared by every variant. It exclusively owns the
// four products during the splitter's lifetime.
type base struct {
	serial     string
	storageDir string
	backend    storage.Backend
	overwrite  bool
	pool       storage.Pool

	frameWidth  int
	frameHeight int
	imColors    int
	bitDepth    imageio.BitDepth
	frameInfoOK bool

	framesMeta []catalog.FrameRecord
	framesJSON []map[string]any
	globalMeta *catalog.GlobalMeta
	globalJSON map[string]any
}

// newBase validates the serial, derives the storage directory and performs
// the uniqueness check unless overwrite is on.
func newBase(ctx context.Context, p Params) (base, error) {
	if _, err := dataset.ParseSerial(p.Serial); err != nil {
		return base{}, err
	}
	if p.Backend == nil {
		return base{}, errors.New("storage backend is required")
	}

	b := base{
		serial:     p.Serial,
		storageDir: dataset.FrameDir(p.Serial),
		backend:    p.Backend,
		overwrite:  p.Overwrite,
		pool:       storage.Pool{Workers: p.Workers},
	}
	if !p.Overwrite {
		if err := p.Backend.AssertUnique(ctx, b.storageDir); err != nil {
			return base{}, err
		}
	}
	return b, nil
}

// setFrameInfo fixes the frame shape, color count and bit depth from one
// representative plane or metadata record.
func (b *base) setFrameInfo(width, height, colors int, depth imageio.BitDepth) error {
	if !depth.Valid() || (colors != 1 && colors != 3) {
		return fmt.Errorf("%w: %d colors, %q", imageio.ErrUnsupportedBitDepth, colors, depth)
	}
	b.frameWidth = width
	b.frameHeight = height
	b.imColors = colors
	b.bitDepth = depth
	b.frameInfoOK = true
	return nil
}

// setGlobalMeta derives the dimension counts from the collected frame rows
// and fails if any required aggregate field is missing.
func (b *base) setGlobalMeta(nbrFrames int) error {
	if !b.frameInfoOK {
		return errors.New("frame info has not been set")
	}

	channels := map[int]bool{}
	slices := map[int]bool{}
	times := map[int]bool{}
	positions := map[int]bool{}
	for _, f := range b.framesMeta {
		channels[f.ChannelIdx] = true
		slices[f.SliceIdx] = true
		times[f.TimeIdx] = true
		positions[f.PosIdx] = true
	}

	b.globalMeta = &catalog.GlobalMeta{
		StorageDir:    b.storageDir,
		NbrFrames:     nbrFrames,
		ImWidth:       b.frameWidth,
		ImHeight:      b.frameHeight,
		ImColors:      b.imColors,
		BitDepth:      string(b.bitDepth),
		NbrSlices:     len(slices),
		NbrChannels:   len(channels),
		NbrTimepoints: len(times),
		NbrPositions:  len(positions),
	}

	g := b.globalMeta
	if g.StorageDir == "" || g.NbrFrames == 0 || g.ImWidth == 0 || g.ImHeight == 0 ||
		g.ImColors == 0 || g.BitDepth == "" || g.NbrSlices == 0 || g.NbrChannels == 0 ||
		g.NbrTimepoints == 0 || g.NbrPositions == 0 {
		b.globalMeta = nil
		return fmt.Errorf("%w: not all required global metadata fields are present",
			catalog.ErrSchemaViolation)
	}
	return nil
}

// checkPlane verifies a decoded plane against the fixed frame info.
func (b *base) checkPlane(p *imageio.Plane) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.Width != b.frameWidth || p.Height != b.frameHeight ||
		p.Colors != b.imColors || p.BitDepth != b.bitDepth {
		return fmt.Errorf("plane %dx%dx%d %s does not match dataset shape %dx%dx%d %s",
			p.Width, p.Height, p.Colors, p.BitDepth,
			b.frameWidth, b.frameHeight, b.imColors, b.bitDepth)
	}
	return nil
}

// uploadPlanes sends encoded planes through the parallel pool.
func (b *base) uploadPlanes(ctx context.Context, items []storage.UploadItem) error {
	return b.pool.UploadPlanes(ctx, b.backend, items)
}

// key returns the full object key for a plane file name.
func (b *base) key(fileName string) string {
	return b.storageDir + "/" + fileName
}

// sortFrames orders the products by (pos, time, channel, slice), keeping
// frames meta and frames json aligned.
func (b *base) sortFrames() {
	idx := make([]int, len(b.framesMeta))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(x, y int) bool {
		a, c := b.framesMeta[idx[x]], b.framesMeta[idx[y]]
		if a.PosIdx != c.PosIdx {
			return a.PosIdx < c.PosIdx
		}
		if a.TimeIdx != c.TimeIdx {
			return a.TimeIdx < c.TimeIdx
		}
		if a.ChannelIdx != c.ChannelIdx {
			return a.ChannelIdx < c.ChannelIdx
		}
		return a.SliceIdx < c.SliceIdx
	})

	meta := make([]catalog.FrameRecord, len(idx))
	var jsons []map[string]any
	if len(b.framesJSON) == len(idx) {
		jsons = make([]map[string]any, len(idx))
	}
	for i, j := range idx {
		meta[i] = b.framesMeta[j]
		if jsons != nil {
			jsons[i] = b.framesJSON[j]
		}
	}
	b.framesMeta = meta
	if jsons != nil {
		b.framesJSON = jsons
	}
}

// FramesMeta returns the per-plane metadata table.
func (b *base) FramesMeta() ([]catalog.FrameRecord, error) {
	if b.framesMeta == nil {
		return nil, fmt.Errorf("frames_meta %w", ErrNotAssigned)
	}
	return b.framesMeta, nil
}

// FramesJSON returns the per-plane variable metadata.
func (b *base) FramesJSON() ([]map[string]any, error) {
	if b.framesJSON == nil {
		return nil, fmt.Errorf("frames_json %w", ErrNotAssigned)
	}
	return b.framesJSON, nil
}

// GlobalMeta returns the required per-dataset aggregate.
func (b *base) GlobalMeta() (catalog.GlobalMeta, error) {
	if b.globalMeta == nil {
		return catalog.GlobalMeta{}, fmt.Errorf("global_meta %w", ErrNotAssigned)
	}
	return *b.globalMeta, nil
}

// GlobalJSON returns the variable global metadata.
func (b *base) GlobalJSON() (map[string]any, error) {
	if b.globalJSON == nil {
		return nil, fmt.Errorf("global_json %w", ErrNotAssigned)
	}
	return b.globalJSON, nil
}
