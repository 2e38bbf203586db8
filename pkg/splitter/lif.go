package splitter

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/czbiohub/imagingdb/internal/logger"
	"github.com/czbiohub/imagingdb/pkg/catalog"
	"github.com/czbiohub/imagingdb/pkg/imageio"
	"github.com/czbiohub/imagingdb/pkg/storage"
)

func init() {
	Register("lif", newLif)
}

// SeriesReader presents an opened vendor container as an indexed series of
// planes, the way bioformats-style readers expose Leica lif files. Each
// series holds one acquisition position.
type SeriesReader interface {
	// SeriesCount returns the number of series in the container.
	SeriesCount() int

	// PixelType returns the container's element type, "uint8" or "uint16".
	PixelType() string

	// Plane decodes the first plane of series i.
	Plane(i int) (*imageio.Plane, error)

	// Metadata enumerates the reader-reported metadata fields of series i,
	// best effort.
	Metadata(i int) (map[string]any, error)

	// Close releases the container.
	Close() error
}

// SeriesOpener opens a vendor container at path.
type SeriesOpener func(path string) (SeriesReader, error)

// LifSplitter ingests vendor containers through an injected series reader.
// Series index maps to pos_idx; channel, slice and time are all zero.
type LifSplitter struct {
	base

	open SeriesOpener
}

func newLif(ctx context.Context, p Params) (Splitter, error) {
	if p.OpenSeries == nil {
		return nil, errors.New("lif ingestion requires a series reader")
	}
	b, err := newBase(ctx, p)
	if err != nil {
		return nil, err
	}
	return &LifSplitter{base: b, open: p.OpenSeries}, nil
}

// GetFramesAndMetadata reads every series, uploads one plane per series and
// populates the metadata products.
func (s *LifSplitter) GetFramesAndMetadata(ctx context.Context, srcPath string) error {
	if _, err := os.Stat(srcPath); err != nil {
		return err
	}

	reader, err := s.open(srcPath)
	if err != nil {
		return err
	}
	defer reader.Close()

	depth := imageio.BitDepth(reader.PixelType())
	if !depth.Valid() {
		return fmt.Errorf("%w: container pixel type %q", imageio.ErrUnsupportedBitDepth, reader.PixelType())
	}

	count := reader.SeriesCount()
	if count == 0 {
		return errors.New("container holds no series")
	}

	s.framesMeta = make([]catalog.FrameRecord, 0, count)
	s.framesJSON = make([]map[string]any, 0, count)
	items := make([]storage.UploadItem, 0, count)

	for i := 0; i < count; i++ {
		plane, err := reader.Plane(i)
		if err != nil {
			return fmt.Errorf("series %d: %w", i, err)
		}
		if plane.BitDepth != depth {
			return fmt.Errorf("%w: series %d is %s, container declares %s",
				imageio.ErrUnsupportedBitDepth, i, plane.BitDepth, depth)
		}
		if !s.frameInfoOK {
			if err := s.setFrameInfo(plane.Width, plane.Height, plane.Colors, plane.BitDepth); err != nil {
				return err
			}
		}
		if err := s.checkPlane(plane); err != nil {
			return fmt.Errorf("series %d: %w", i, err)
		}

		meta, err := reader.Metadata(i)
		if err != nil {
			logger.Warn("could not enumerate series metadata", "series", i, "error", err)
			meta = map[string]any{}
		}

		fileName := imName(0, 0, 0, i)
		data, err := plane.EncodePNG()
		if err != nil {
			return err
		}

		s.framesMeta = append(s.framesMeta, catalog.FrameRecord{
			ChannelIdx: 0,
			SliceIdx:   0,
			TimeIdx:    0,
			PosIdx:     i,
			FileName:   fileName,
			SHA256:     plane.SHA256(),
		})
		s.framesJSON = append(s.framesJSON, meta)
		items = append(items, storage.UploadItem{Key: s.key(fileName), Data: data})
	}

	if err := s.uploadPlanes(ctx, items); err != nil {
		return err
	}

	s.globalJSON = map[string]any{"file_origin": srcPath}

	s.sortFrames()
	if err := s.setGlobalMeta(count); err != nil {
		return err
	}

	logger.Info("split vendor container", "serial", s.serial, "series", count)
	return nil
}
