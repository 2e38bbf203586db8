package imageio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gradientPlane fills a plane with a deterministic ramp so every pixel is
// distinguishable after a round trip.
func gradientPlane(t *testing.T, w, h, colors int, depth BitDepth) *Plane {
	t.Helper()
	p, err := NewPlane(w, h, colors, depth)
	require.NoError(t, err)
	if depth == BitDepthUint16 {
		for i := 0; i < w*h*colors; i++ {
			p.PutUint16(i, uint16(i*257))
		}
	} else {
		for i := range p.Pix {
			p.Pix[i] = byte(i)
		}
	}
	return p
}

func TestPNGRoundTrip(t *testing.T) {
	cases := []struct {
		name   string
		colors int
		depth  BitDepth
	}{
		{"gray8", 1, BitDepthUint8},
		{"gray16", 1, BitDepthUint16},
		{"rgb8", 3, BitDepthUint8},
		{"rgb16", 3, BitDepthUint16},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			src := gradientPlane(t, 15, 10, tc.colors, tc.depth)

			data, err := src.EncodePNG()
			require.NoError(t, err)

			got, err := DecodePNG(data)
			require.NoError(t, err)
			assert.Equal(t, src.Width, got.Width)
			assert.Equal(t, src.Height, got.Height)
			assert.Equal(t, src.Colors, got.Colors)
			assert.Equal(t, src.BitDepth, got.BitDepth)
			assert.Equal(t, src.Pix, got.Pix)
		})
	}
}

func TestHashIsOverCanonicalBytes(t *testing.T) {
	src := gradientPlane(t, 12, 8, 1, BitDepthUint16)

	data, err := src.EncodePNG()
	require.NoError(t, err)
	decoded, err := DecodePNG(data)
	require.NoError(t, err)

	// Re-encoding must not change the plane hash.
	assert.Equal(t, src.SHA256(), decoded.SHA256())
	// But the hash is not the hash of the encoded bytes.
	assert.NotEqual(t, src.SHA256(), SHA256Bytes(data))
}

func TestUnsupportedShapes(t *testing.T) {
	_, err := NewPlane(4, 4, 2, BitDepthUint8)
	assert.ErrorIs(t, err, ErrUnsupportedBitDepth)

	_, err = NewPlane(4, 4, 1, BitDepth("float32"))
	assert.ErrorIs(t, err, ErrUnsupportedBitDepth)

	bad := &Plane{Width: 4, Height: 4, Colors: 1, BitDepth: BitDepthUint8, Pix: make([]byte, 3)}
	assert.Error(t, bad.Validate())
}

func TestSHA256File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blob.bin")
	payload := []byte("microscopy payload")
	require.NoError(t, os.WriteFile(path, payload, 0644))

	got, err := SHA256File(path)
	require.NoError(t, err)
	assert.Equal(t, SHA256Bytes(payload), got)
}
