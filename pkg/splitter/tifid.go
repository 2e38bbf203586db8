package splitter

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/czbiohub/imagingdb/internal/logger"
	"github.com/czbiohub/imagingdb/pkg/catalog"
	"github.com/czbiohub/imagingdb/pkg/imageio/tiffreader"
	"github.com/czbiohub/imagingdb/pkg/storage"
)

func init() {
	Register("tif_id", newTifID)
}

// TifIDSplitter reads a single multi-page TIFF whose first-page
// ImageDescription is an ImageJ-style key=value blob declaring the stack
// shape (images, channels, slices). Timepoints are derived as
// images / (channels * slices); the page order is time, then channel, with
// the slice as the fastest axis. Positions are always one.
type TifIDSplitter struct {
	base
}

func newTifID(ctx context.Context, p Params) (Splitter, error) {
	b, err := newBase(ctx, p)
	if err != nil {
		return nil, err
	}
	return &TifIDSplitter{base: b}, nil
}

// stackShape is the declared geometry of an embedded-description stack.
type stackShape struct {
	images   int
	channels int
	slices   int
	times    int
}

// parseDescription extracts the stack shape from an ImageJ description blob.
// Lines look like "images=6", "channels=2", "slices=3"; unknown lines are
// ignored. Missing channels or slices default to 1.
func parseDescription(desc string) (stackShape, error) {
	shape := stackShape{channels: 1, slices: 1}
	found := false

	for _, line := range strings.Split(desc, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			continue
		}
		switch strings.TrimSpace(key) {
		case "images":
			shape.images = n
			found = true
		case "channels":
			shape.channels = n
		case "slices":
			shape.slices = n
		}
	}

	if !found || shape.images <= 0 {
		return shape, fmt.Errorf("%w: description does not declare an image count", tiffreader.ErrParse)
	}
	if shape.channels <= 0 || shape.slices <= 0 {
		return shape, fmt.Errorf("%w: non-positive channels or slices", tiffreader.ErrParse)
	}
	perTime := shape.channels * shape.slices
	if shape.images%perTime != 0 {
		return shape, fmt.Errorf("%w: %d images not divisible by channels*slices=%d",
			tiffreader.ErrParse, shape.images, perTime)
	}
	shape.times = shape.images / perTime
	return shape, nil
}

// GetFramesAndMetadata reads every page, uploads the planes and populates
// the metadata products.
func (s *TifIDSplitter) GetFramesAndMetadata(ctx context.Context, srcPath string) error {
	reader, err := tiffreader.Open(srcPath)
	if err != nil {
		return err
	}

	shape, err := parseDescription(reader.Pages[0].ImageDescription)
	if err != nil {
		return err
	}
	if shape.images != len(reader.Pages) {
		return fmt.Errorf("%w: description declares %d images but container has %d pages",
			tiffreader.ErrParse, shape.images, len(reader.Pages))
	}

	first, err := reader.DecodePlane(0)
	if err != nil {
		return err
	}
	if err := s.setFrameInfo(first.Width, first.Height, first.Colors, first.BitDepth); err != nil {
		return err
	}

	s.framesMeta = make([]catalog.FrameRecord, 0, shape.images)
	s.framesJSON = make([]map[string]any, 0, shape.images)
	items := make([]storage.UploadItem, 0, shape.images)

	for i := 0; i < shape.images; i++ {
		plane, err := reader.DecodePlane(i)
		if err != nil {
			return err
		}
		if err := s.checkPlane(plane); err != nil {
			return err
		}

		// Slice is the fastest axis, then channel, then time.
		z := i % shape.slices
		c := (i / shape.slices) % shape.channels
		t := i / (shape.slices * shape.channels)

		fileName := imName(c, z, t, 0)
		data, err := plane.EncodePNG()
		if err != nil {
			return err
		}

		s.framesMeta = append(s.framesMeta, catalog.FrameRecord{
			ChannelIdx:  c,
			SliceIdx:    z,
			TimeIdx:     t,
			PosIdx:      0,
			ChannelName: strconv.Itoa(c),
			FileName:    fileName,
			SHA256:      plane.SHA256(),
		})
		s.framesJSON = append(s.framesJSON, map[string]any{
			"BitsPerSample": reader.Pages[i].BitsPerSample,
			"ImageWidth":    reader.Pages[i].Width,
			"ImageLength":   reader.Pages[i].Height,
		})
		items = append(items, storage.UploadItem{Key: s.key(fileName), Data: data})
	}

	if err := s.uploadPlanes(ctx, items); err != nil {
		return err
	}

	s.globalJSON = map[string]any{
		"file_origin":      srcPath,
		"ImageDescription": reader.Pages[0].ImageDescription,
	}

	s.sortFrames()
	if err := s.setGlobalMeta(shape.images); err != nil {
		return err
	}

	logger.Info("split embedded-description stack",
		"serial", s.serial, "frames", shape.images,
		"channels", shape.channels, "slices", shape.slices, "timepoints", shape.times)
	return nil
}
