package splitter

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/czbiohub/imagingdb/internal/logger"
	"github.com/czbiohub/imagingdb/pkg/catalog"
	"github.com/czbiohub/imagingdb/pkg/imageio/tiffreader"
	"github.com/czbiohub/imagingdb/pkg/storage"
)

func init() {
	Register("ome_tiff", newOmeTiff)
}

// OmeTiffSplitter reads MicroManager ome-tiff acquisitions: one multi-page
// container per position, each page carrying a MicroManagerMetadata JSON tag
// with the plane's coordinates. The first page's ImageJ Info blob holds the
// InitialPositionList used to filter positions by label.
type OmeTiffSplitter struct {
	base

	schema    *jsonschema.Schema
	positions map[string]bool
}

func newOmeTiff(ctx context.Context, p Params) (Splitter, error) {
	b, err := newBase(ctx, p)
	if err != nil {
		return nil, err
	}

	schema, err := loadSchema(p.SchemaPath)
	if err != nil {
		return nil, err
	}

	var positions map[string]bool
	if len(p.Positions) > 0 {
		positions = make(map[string]bool, len(p.Positions))
		for _, label := range p.Positions {
			positions[label] = true
		}
	}

	return &OmeTiffSplitter{base: b, schema: schema, positions: positions}, nil
}

// mmMeta is the subset of the per-page MicroManager metadata the catalog
// needs; the full map is kept as variable metadata.
type mmMeta struct {
	ChannelIndex  int
	Slice         int
	FrameIndex    int
	PositionIndex int
	Channel       string
}

func parseMMMeta(raw string) (mmMeta, map[string]any, error) {
	if raw == "" {
		return mmMeta{}, nil, fmt.Errorf("%w: page has no MicroManager metadata", tiffreader.ErrParse)
	}
	var full map[string]any
	if err := json.Unmarshal([]byte(raw), &full); err != nil {
		return mmMeta{}, nil, fmt.Errorf("%w: bad MicroManager metadata: %v", tiffreader.ErrParse, err)
	}

	meta := mmMeta{
		ChannelIndex:  intField(full, "ChannelIndex"),
		Slice:         intField(full, "Slice"),
		FrameIndex:    intField(full, "FrameIndex"),
		PositionIndex: intField(full, "PositionIndex"),
	}
	if ch, ok := full["Channel"].(string); ok {
		meta.Channel = ch
	} else {
		meta.Channel = strconv.Itoa(meta.ChannelIndex)
	}
	return meta, full, nil
}

func intField(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	default:
		return 0
	}
}

// positionLabels extracts the InitialPositionList labels from the ImageJ
// Info blob, keyed by position index. Missing or unparseable info yields an
// empty map; labels then default to "Pos<idx>".
func positionLabels(info string) map[int]string {
	labels := map[int]string{}
	if info == "" {
		return labels
	}

	var parsed struct {
		InitialPositionList []struct {
			Label string `json:"Label"`
		} `json:"InitialPositionList"`
	}
	if err := json.Unmarshal([]byte(info), &parsed); err != nil {
		return labels
	}
	for i, pos := range parsed.InitialPositionList {
		labels[i] = pos.Label
	}
	return labels
}

func (s *OmeTiffSplitter) label(labels map[int]string, posIdx int) string {
	if label, ok := labels[posIdx]; ok {
		return label
	}
	return fmt.Sprintf("Pos%d", posIdx)
}

// containerFiles resolves srcPath to the list of position containers.
func containerFiles(srcPath string) ([]string, error) {
	info, err := os.Stat(srcPath)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{srcPath}, nil
	}

	entries, err := os.ReadDir(srcPath)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := strings.ToLower(e.Name())
		if strings.HasSuffix(name, ".tif") || strings.HasSuffix(name, ".tiff") {
			files = append(files, filepath.Join(srcPath, e.Name()))
		}
	}
	sort.Strings(files)
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no tiff containers under %s", tiffreader.ErrParse, srcPath)
	}
	return files, nil
}

// GetFramesAndMetadata walks every container page, uploads the kept planes
// and populates the metadata products.
func (s *OmeTiffSplitter) GetFramesAndMetadata(ctx context.Context, srcPath string) error {
	files, err := containerFiles(srcPath)
	if err != nil {
		return err
	}

	s.framesMeta = []catalog.FrameRecord{}
	s.framesJSON = []map[string]any{}
	var items []storage.UploadItem
	var firstInfo string
	skipped := 0

	for _, file := range files {
		reader, err := tiffreader.Open(file)
		if err != nil {
			return fmt.Errorf("container %s: %w", file, err)
		}
		labels := positionLabels(reader.IJInfo)
		if firstInfo == "" {
			firstInfo = reader.IJInfo
		}

		for i := range reader.Pages {
			meta, full, err := parseMMMeta(reader.Pages[i].MicroManagerMetadata)
			if err != nil {
				return fmt.Errorf("container %s page %d: %w", file, i, err)
			}

			if s.positions != nil && !s.positions[s.label(labels, meta.PositionIndex)] {
				skipped++
				continue
			}

			plane, err := reader.DecodePlane(i)
			if err != nil {
				return fmt.Errorf("container %s page %d: %w", file, i, err)
			}
			if !s.frameInfoOK {
				if err := s.setFrameInfo(plane.Width, plane.Height, plane.Colors, plane.BitDepth); err != nil {
					return err
				}
			}
			if err := s.checkPlane(plane); err != nil {
				return fmt.Errorf("container %s page %d: %w", file, i, err)
			}

			fileName := imName(meta.ChannelIndex, meta.Slice, meta.FrameIndex, meta.PositionIndex)
			data, err := plane.EncodePNG()
			if err != nil {
				return err
			}

			s.framesMeta = append(s.framesMeta, catalog.FrameRecord{
				ChannelIdx:  meta.ChannelIndex,
				SliceIdx:    meta.Slice,
				TimeIdx:     meta.FrameIndex,
				PosIdx:      meta.PositionIndex,
				ChannelName: meta.Channel,
				FileName:    fileName,
				SHA256:      plane.SHA256(),
			})
			s.framesJSON = append(s.framesJSON, filterMetadata(full, s.schema))
			items = append(items, storage.UploadItem{Key: s.key(fileName), Data: data})
		}
	}

	if len(s.framesMeta) == 0 {
		return fmt.Errorf("%w: no planes match the requested positions", tiffreader.ErrParse)
	}

	if err := s.uploadPlanes(ctx, items); err != nil {
		return err
	}

	s.globalJSON = map[string]any{"file_origin": srcPath}
	if firstInfo != "" {
		s.globalJSON["IJInfo"] = firstInfo
	}

	s.sortFrames()
	if err := s.setGlobalMeta(len(s.framesMeta)); err != nil {
		return err
	}

	logger.Info("split ome-tiff acquisition",
		"serial", s.serial, "containers", len(files),
		"frames", len(s.framesMeta), "skipped_planes", skipped)
	return nil
}
