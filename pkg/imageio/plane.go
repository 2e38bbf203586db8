// Package imageio holds the per-plane pixel representation, the PNG codec and
// the content hashing primitives.
//
// A plane's canonical representation is its raw pixel buffer in row-major
// order at native bit depth, channel-interleaved, big-endian for 16-bit
// samples. Hashes are computed over this canonical buffer, never over encoded
// bytes, so re-encoding a plane does not change its identity.
package imageio

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
)

// BitDepth is the per-sample element type of a plane.
type BitDepth string

const (
	BitDepthUint8  BitDepth = "uint8"
	BitDepthUint16 BitDepth = "uint16"
)

// ErrUnsupportedBitDepth indicates a pixel type outside {uint8, uint16} or a
// color count outside {1, 3}.
var ErrUnsupportedBitDepth = errors.New("unsupported bit depth")

// BytesPerSample returns the byte width of one sample.
func (b BitDepth) BytesPerSample() int {
	if b == BitDepthUint16 {
		return 2
	}
	return 1
}

// Valid reports whether the bit depth is one of the supported values.
func (b BitDepth) Valid() bool {
	return b == BitDepthUint8 || b == BitDepthUint16
}

// Plane is a single 2-D image at a specific (channel, slice, time, position).
type Plane struct {
	Width  int
	Height int

	// Colors is 1 for grayscale and 3 for RGB.
	Colors int

	BitDepth BitDepth

	// Pix is the canonical pixel buffer: row-major, channel-interleaved,
	// big-endian for 16-bit samples. len(Pix) must equal
	// Width*Height*Colors*BitDepth.BytesPerSample().
	Pix []byte
}

// NewPlane allocates a zeroed plane with a canonical buffer.
func NewPlane(width, height, colors int, depth BitDepth) (*Plane, error) {
	if !depth.Valid() || (colors != 1 && colors != 3) {
		return nil, fmt.Errorf("%w: %d colors, %q", ErrUnsupportedBitDepth, colors, depth)
	}
	return &Plane{
		Width:    width,
		Height:   height,
		Colors:   colors,
		BitDepth: depth,
		Pix:      make([]byte, width*height*colors*depth.BytesPerSample()),
	}, nil
}

// Validate checks buffer size and dimension consistency.
func (p *Plane) Validate() error {
	if !p.BitDepth.Valid() || (p.Colors != 1 && p.Colors != 3) {
		return fmt.Errorf("%w: %d colors, %q", ErrUnsupportedBitDepth, p.Colors, p.BitDepth)
	}
	want := p.Width * p.Height * p.Colors * p.BitDepth.BytesPerSample()
	if len(p.Pix) != want {
		return fmt.Errorf("pixel buffer is %d bytes, want %d for %dx%dx%d %s",
			len(p.Pix), want, p.Width, p.Height, p.Colors, p.BitDepth)
	}
	return nil
}

// SHA256 returns the hex digest of the canonical pixel buffer.
func (p *Plane) SHA256() string {
	sum := sha256.Sum256(p.Pix)
	return hex.EncodeToString(sum[:])
}

// SHA256Bytes returns the hex digest of an opaque byte buffer.
func SHA256Bytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SHA256File returns the hex digest of a file's contents.
func SHA256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
