// Package tiffreader provides page-level access to multi-page TIFF
// containers: per-page tags (ImageDescription, ImageJ metadata, MicroManager
// metadata) and raw strip-based pixel decoding.
//
// The stdlib and x/image TIFF decoders only expose the first page and no
// vendor tags, so IFD traversal is done with goexif's tiff package and pixel
// data is read directly from the strip tables.
package tiffreader

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rwcarlsen/goexif/tiff"

	"github.com/czbiohub/imagingdb/pkg/imageio"
)

// TIFF tag ids used by the splitters.
const (
	tagImageDescription     = 270
	tagStripOffsets         = 273
	tagSamplesPerPixel      = 277
	tagRowsPerStrip         = 278
	tagStripByteCounts      = 279
	tagBitsPerSample        = 258
	tagCompression          = 259
	tagImageWidth           = 256
	tagImageLength          = 257
	tagIJMetadataByteCounts = 50838
	tagIJMetadata           = 50839
	tagMicroManagerMetadata = 51123
)

// ErrParse indicates a TIFF container that cannot be interpreted.
var ErrParse = errors.New("tiff parse error")

// Page is one IFD of a multi-page container.
type Page struct {
	Width           int
	Height          int
	BitsPerSample   int
	SamplesPerPixel int
	Compression     int

	// ImageDescription is the raw tag 270 value, NUL-trimmed.
	ImageDescription string

	// MicroManagerMetadata is the raw per-page JSON blob from tag 51123,
	// empty when the tag is absent.
	MicroManagerMetadata string

	stripOffsets    []int64
	stripByteCounts []int64
}

// Reader holds a fully parsed multi-page TIFF.
type Reader struct {
	data  []byte
	order binary.ByteOrder

	// Pages lists every IFD in file order.
	Pages []*Page

	// IJInfo is the ImageJ "Info" metadata string from the first page,
	// empty when absent. MicroManager stores the InitialPositionList here.
	IJInfo string
}

// Open parses the TIFF container at path.
func Open(path string) (*Reader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return New(data)
}

// New parses a TIFF container from memory.
func New(data []byte) (*Reader, error) {
	t, err := tiff.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	r := &Reader{data: data, order: t.Order}
	for _, dir := range t.Dirs {
		page, err := r.parsePage(dir)
		if err != nil {
			return nil, err
		}
		r.Pages = append(r.Pages, page)
	}
	if len(r.Pages) == 0 {
		return nil, fmt.Errorf("%w: no pages", ErrParse)
	}

	if info, err := r.parseIJInfo(t.Dirs[0]); err == nil {
		r.IJInfo = info
	}
	return r, nil
}

func findTag(dir *tiff.Dir, id uint16) *tiff.Tag {
	for _, tag := range dir.Tags {
		if tag.Id == id {
			return tag
		}
	}
	return nil
}

func tagInt(dir *tiff.Dir, id uint16, def int) int {
	tag := findTag(dir, id)
	if tag == nil {
		return def
	}
	v, err := tag.Int(0)
	if err != nil {
		return def
	}
	return v
}

func tagIntSlice(dir *tiff.Dir, id uint16) []int64 {
	tag := findTag(dir, id)
	if tag == nil {
		return nil
	}
	vals := make([]int64, 0, tag.Count)
	for i := 0; i < int(tag.Count); i++ {
		v, err := tag.Int64(i)
		if err != nil {
			return nil
		}
		vals = append(vals, v)
	}
	return vals
}

func tagString(dir *tiff.Dir, id uint16) string {
	tag := findTag(dir, id)
	if tag == nil {
		return ""
	}
	if s, err := tag.StringVal(); err == nil {
		return strings.Trim(s, "\x00")
	}
	// Some writers store text tags as BYTE/UNDEFINED.
	return strings.Trim(string(tag.Val), "\x00")
}

func (r *Reader) parsePage(dir *tiff.Dir) (*Page, error) {
	page := &Page{
		Width:                tagInt(dir, tagImageWidth, 0),
		Height:               tagInt(dir, tagImageLength, 0),
		BitsPerSample:        tagInt(dir, tagBitsPerSample, 8),
		SamplesPerPixel:      tagInt(dir, tagSamplesPerPixel, 1),
		Compression:          tagInt(dir, tagCompression, 1),
		ImageDescription:     tagString(dir, tagImageDescription),
		MicroManagerMetadata: tagString(dir, tagMicroManagerMetadata),
		stripOffsets:         tagIntSlice(dir, tagStripOffsets),
		stripByteCounts:      tagIntSlice(dir, tagStripByteCounts),
	}
	if page.Width <= 0 || page.Height <= 0 {
		return nil, fmt.Errorf("%w: page without dimensions", ErrParse)
	}
	return page, nil
}

// parseIJInfo extracts the ImageJ "Info" string from the IJMetadata tag pair.
// The byte-count tag holds the header length followed by one length per data
// chunk; the metadata tag holds an "IJIJ" magic, a (fourcc, count) table and
// the chunks themselves. "info" chunks are UTF-16 in the file's byte order.
func (r *Reader) parseIJInfo(dir *tiff.Dir) (string, error) {
	counts := tagIntSlice(dir, tagIJMetadataByteCounts)
	meta := findTag(dir, tagIJMetadata)
	if meta == nil || len(counts) < 2 {
		return "", fmt.Errorf("%w: no ImageJ metadata", ErrParse)
	}
	raw := meta.Val

	headerLen := int(counts[0])
	if headerLen < 4 || headerLen > len(raw) || string(raw[0:4]) != "IJIJ" {
		return "", fmt.Errorf("%w: bad ImageJ metadata header", ErrParse)
	}

	// Header entries: fourcc + chunk count, 8 bytes each after the magic.
	type entry struct {
		kind   string
		chunks int
	}
	var entries []entry
	for off := 4; off+8 <= headerLen; off += 8 {
		entries = append(entries, entry{
			kind:   string(raw[off : off+4]),
			chunks: int(r.order.Uint32(raw[off+4 : off+8])),
		})
	}

	dataOff := headerLen
	countIdx := 1
	for _, e := range entries {
		for c := 0; c < e.chunks; c++ {
			if countIdx >= len(counts) {
				return "", fmt.Errorf("%w: truncated ImageJ metadata", ErrParse)
			}
			n := int(counts[countIdx])
			countIdx++
			if dataOff+n > len(raw) {
				return "", fmt.Errorf("%w: truncated ImageJ metadata", ErrParse)
			}
			chunk := raw[dataOff : dataOff+n]
			dataOff += n

			if e.kind == "info" {
				return decodeUTF16(chunk, r.order), nil
			}
		}
	}
	return "", fmt.Errorf("%w: no info entry in ImageJ metadata", ErrParse)
}

func decodeUTF16(b []byte, order binary.ByteOrder) string {
	runes := make([]rune, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		runes = append(runes, rune(order.Uint16(b[i:i+2])))
	}
	return string(runes)
}

// DecodePlane reads the pixel data of one page into a canonical plane.
// Only uncompressed strip layouts are supported; MicroManager and ImageJ
// write their stacks uncompressed.
func (r *Reader) DecodePlane(pageIdx int) (*imageio.Plane, error) {
	if pageIdx < 0 || pageIdx >= len(r.Pages) {
		return nil, fmt.Errorf("%w: page %d out of range", ErrParse, pageIdx)
	}
	page := r.Pages[pageIdx]

	if page.Compression != 1 {
		return nil, fmt.Errorf("%w: compression %d not supported for paged decode",
			ErrParse, page.Compression)
	}

	var depth imageio.BitDepth
	switch page.BitsPerSample {
	case 8:
		depth = imageio.BitDepthUint8
	case 16:
		depth = imageio.BitDepthUint16
	default:
		return nil, fmt.Errorf("%w: %d bits per sample",
			imageio.ErrUnsupportedBitDepth, page.BitsPerSample)
	}
	if page.SamplesPerPixel != 1 && page.SamplesPerPixel != 3 {
		return nil, fmt.Errorf("%w: %d samples per pixel",
			imageio.ErrUnsupportedBitDepth, page.SamplesPerPixel)
	}

	plane, err := imageio.NewPlane(page.Width, page.Height, page.SamplesPerPixel, depth)
	if err != nil {
		return nil, err
	}

	if len(page.stripOffsets) == 0 || len(page.stripOffsets) != len(page.stripByteCounts) {
		return nil, fmt.Errorf("%w: inconsistent strip tables", ErrParse)
	}

	raw := make([]byte, 0, len(plane.Pix))
	for i, off := range page.stripOffsets {
		n := page.stripByteCounts[i]
		if off < 0 || n < 0 || off+n > int64(len(r.data)) {
			return nil, fmt.Errorf("%w: strip %d out of bounds", ErrParse, i)
		}
		raw = append(raw, r.data[off:off+n]...)
	}
	if len(raw) < len(plane.Pix) {
		return nil, fmt.Errorf("%w: %d pixel bytes, want %d", ErrParse, len(raw), len(plane.Pix))
	}
	raw = raw[:len(plane.Pix)]

	if depth == imageio.BitDepthUint16 && r.order == binary.LittleEndian {
		// Canonical buffers are big-endian.
		for i := 0; i+1 < len(raw); i += 2 {
			raw[i], raw[i+1] = raw[i+1], raw[i]
		}
	}
	copy(plane.Pix, raw)
	return plane, nil
}
