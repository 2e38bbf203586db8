package splitter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	xtiff "golang.org/x/image/tiff"

	"github.com/czbiohub/imagingdb/internal/logger"
	"github.com/czbiohub/imagingdb/pkg/catalog"
	"github.com/czbiohub/imagingdb/pkg/imageio"
	"github.com/czbiohub/imagingdb/pkg/imageio/tiffreader"
	"github.com/czbiohub/imagingdb/pkg/parsers"
	"github.com/czbiohub/imagingdb/pkg/storage"
)

func init() {
	Register("tif_folder", newTifFolder)
}

// sidecarName is the optional per-acquisition metadata file written next to
// the frames.
const sidecarName = "metadata.txt"

// TifFolderSplitter reads a directory of per-plane tiffs. Plane coordinates
// come from the file names via a registered parser; global frame info comes
// from the metadata.txt sidecar when present, otherwise from the first image.
type TifFolderSplitter struct {
	base

	parse parsers.ParseFunc
}

func newTifFolder(ctx context.Context, p Params) (Splitter, error) {
	b, err := newBase(ctx, p)
	if err != nil {
		return nil, err
	}

	parserName := p.FilenameParser
	if parserName == "" {
		parserName = "parse_sms_name"
	}
	parse, err := parsers.Get(parserName)
	if err != nil {
		return nil, err
	}

	return &TifFolderSplitter{base: b, parse: parse}, nil
}

// setFrameInfoFromSummary fixes frame info from a sidecar Summary block:
// PixelType containing "RGB" means 3 colors, BitDepth selects the element
// type, Width and Height give the shape.
func (s *TifFolderSplitter) setFrameInfoFromSummary(summary map[string]any) error {
	pixelType, _ := summary["PixelType"].(string)
	colors := 1
	if strings.Contains(strings.ToUpper(pixelType), "RGB") {
		colors = 3
	}

	var depth imageio.BitDepth
	switch intField(summary, "BitDepth") {
	case 8:
		depth = imageio.BitDepthUint8
	case 16:
		depth = imageio.BitDepthUint16
	default:
		return fmt.Errorf("%w: sidecar bit depth %v", imageio.ErrUnsupportedBitDepth, summary["BitDepth"])
	}

	width := intField(summary, "Width")
	height := intField(summary, "Height")
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: sidecar without frame shape", tiffreader.ErrParse)
	}
	return s.setFrameInfo(width, height, colors, depth)
}

// readSidecar loads metadata.txt if present. The whole document becomes the
// variable global metadata; its Summary block provides the frame info.
func (s *TifFolderSplitter) readSidecar(dir string) (map[string]any, error) {
	data, err := os.ReadFile(filepath.Join(dir, sidecarName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: bad %s: %v", tiffreader.ErrParse, sidecarName, err)
	}
	return doc, nil
}

// decodeTif reads one per-plane tiff and its variable metadata. Uncompressed
// files go through the paged reader so tags survive; compressed files fall
// back to the generic decoder.
func decodeTif(path string) (*imageio.Plane, map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}

	meta := map[string]any{}
	if reader, err := tiffreader.New(data); err == nil {
		page := reader.Pages[0]
		meta["BitsPerSample"] = page.BitsPerSample
		meta["ImageWidth"] = page.Width
		meta["ImageLength"] = page.Height
		if reader.IJInfo != "" {
			meta["IJMetadata"] = map[string]any{"Info": reader.IJInfo}
		}
		if page.Compression == 1 {
			plane, err := reader.DecodePlane(0)
			if err != nil {
				return nil, nil, err
			}
			return plane, meta, nil
		}
	}

	img, err := xtiff.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", tiffreader.ErrParse, filepath.Base(path), err)
	}
	plane, err := imageio.FromImage(img)
	if err != nil {
		return nil, nil, err
	}
	return plane, meta, nil
}

// GetFramesAndMetadata parses, decodes and uploads every tiff in the folder.
// Channel indices are provisional until all names are known; the final
// alphabetical remap happens before names are generated.
func (s *TifFolderSplitter) GetFramesAndMetadata(ctx context.Context, srcPath string) error {
	info, err := os.Stat(srcPath)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", tiffreader.ErrParse, srcPath)
	}

	entries, err := os.ReadDir(srcPath)
	if err != nil {
		return err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := strings.ToLower(e.Name())
		if strings.HasSuffix(name, ".tif") || strings.HasSuffix(name, ".tiff") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	if len(files) == 0 {
		return fmt.Errorf("%w: no tiff files under %s", tiffreader.ErrParse, srcPath)
	}

	sidecar, err := s.readSidecar(srcPath)
	if err != nil {
		return err
	}
	if sidecar != nil {
		if summary, ok := sidecar["Summary"].(map[string]any); ok {
			if err := s.setFrameInfoFromSummary(summary); err != nil {
				return err
			}
		}
	}

	acc := parsers.NewChannelAccumulator()
	type pending struct {
		idx   parsers.Indices
		plane *imageio.Plane
		meta  map[string]any
	}
	collected := make([]pending, 0, len(files))

	for _, name := range files {
		idx, err := s.parse(name, acc)
		if err != nil {
			return err
		}

		plane, meta, err := decodeTif(filepath.Join(srcPath, name))
		if err != nil {
			return err
		}
		if !s.frameInfoOK {
			if err := s.setFrameInfo(plane.Width, plane.Height, plane.Colors, plane.BitDepth); err != nil {
				return err
			}
		}
		if err := s.checkPlane(plane); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		collected = append(collected, pending{idx: idx, plane: plane, meta: meta})
	}

	// All channel names are known; remap provisional indices to their
	// alphabetical positions, then generate deterministic plane names.
	remap := acc.Finalize()

	s.framesMeta = make([]catalog.FrameRecord, 0, len(collected))
	s.framesJSON = make([]map[string]any, 0, len(collected))
	items := make([]storage.UploadItem, 0, len(collected))

	for _, p := range collected {
		c := remap[p.idx.ChannelIdx]
		fileName := imName(c, p.idx.SliceIdx, p.idx.TimeIdx, p.idx.PosIdx)

		data, err := p.plane.EncodePNG()
		if err != nil {
			return err
		}

		s.framesMeta = append(s.framesMeta, catalog.FrameRecord{
			ChannelIdx:  c,
			SliceIdx:    p.idx.SliceIdx,
			TimeIdx:     p.idx.TimeIdx,
			PosIdx:      p.idx.PosIdx,
			ChannelName: p.idx.ChannelName,
			FileName:    fileName,
			SHA256:      p.plane.SHA256(),
		})
		s.framesJSON = append(s.framesJSON, p.meta)
		items = append(items, storage.UploadItem{Key: s.key(fileName), Data: data})
	}

	if err := s.uploadPlanes(ctx, items); err != nil {
		return err
	}

	s.globalJSON = map[string]any{"file_origin": srcPath}
	for k, v := range sidecar {
		s.globalJSON[k] = v
	}

	s.sortFrames()
	if err := s.setGlobalMeta(len(s.framesMeta)); err != nil {
		return err
	}

	logger.Info("split tiff folder",
		"serial", s.serial, "frames", len(s.framesMeta), "channels", acc.Len())
	return nil
}
