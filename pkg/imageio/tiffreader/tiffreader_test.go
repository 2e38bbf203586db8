package tiffreader

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/czbiohub/imagingdb/internal/tifftest"
	"github.com/czbiohub/imagingdb/pkg/imageio"
)

func TestMultiPageRoundTrip(t *testing.T) {
	planes := []*imageio.Plane{
		tifftest.GradientPlane(15, 10, 1, imageio.BitDepthUint16, 0),
		tifftest.GradientPlane(15, 10, 1, imageio.BitDepthUint16, 1),
		tifftest.GradientPlane(15, 10, 1, imageio.BitDepthUint16, 2),
	}
	pages := make([]tifftest.Page, len(planes))
	for i, p := range planes {
		pages[i] = tifftest.Page{Plane: p}
	}

	r, err := New(tifftest.Build(pages))
	require.NoError(t, err)
	require.Len(t, r.Pages, 3)

	for i, want := range planes {
		assert.Equal(t, 15, r.Pages[i].Width)
		assert.Equal(t, 10, r.Pages[i].Height)
		assert.Equal(t, 16, r.Pages[i].BitsPerSample)

		got, err := r.DecodePlane(i)
		require.NoError(t, err)
		assert.Equal(t, want.Pix, got.Pix, "page %d", i)
		assert.Equal(t, want.SHA256(), got.SHA256(), "page %d", i)
	}
}

func TestImageDescriptionAndMMMetadata(t *testing.T) {
	mm := map[string]any{
		"ChannelIndex": 1, "Slice": 2, "FrameIndex": 0,
		"Channel": "GFP", "PositionIndex": 0,
	}
	mmJSON, err := json.Marshal(mm)
	require.NoError(t, err)

	data := tifftest.Build([]tifftest.Page{{
		Plane:       tifftest.GradientPlane(8, 6, 1, imageio.BitDepthUint8, 0),
		Description: "images=6\nchannels=2\nslices=3\n",
		MMMetadata:  string(mmJSON),
	}})

	r, err := New(data)
	require.NoError(t, err)
	assert.Contains(t, r.Pages[0].ImageDescription, "channels=2")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(r.Pages[0].MicroManagerMetadata), &decoded))
	assert.Equal(t, "GFP", decoded["Channel"])
}

func TestIJInfo(t *testing.T) {
	info := `{"InitialPositionList":[{"Label":"Pos0"},{"Label":"Pos1"}]}`
	data := tifftest.Build([]tifftest.Page{{
		Plane:  tifftest.GradientPlane(8, 6, 1, imageio.BitDepthUint8, 0),
		IJInfo: info,
	}})

	r, err := New(data)
	require.NoError(t, err)
	assert.Equal(t, info, r.IJInfo)
}

func TestRGBPage(t *testing.T) {
	want := tifftest.GradientPlane(5, 4, 3, imageio.BitDepthUint8, 3)
	r, err := New(tifftest.Build([]tifftest.Page{{Plane: want}}))
	require.NoError(t, err)

	got, err := r.DecodePlane(0)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Colors)
	assert.Equal(t, want.Pix, got.Pix)
}

func TestRejectsGarbage(t *testing.T) {
	_, err := New([]byte("definitely not a tiff"))
	assert.ErrorIs(t, err, ErrParse)
}

func TestPageOutOfRange(t *testing.T) {
	r, err := New(tifftest.Build([]tifftest.Page{{
		Plane: tifftest.GradientPlane(4, 4, 1, imageio.BitDepthUint8, 0),
	}}))
	require.NoError(t, err)
	_, err = r.DecodePlane(1)
	assert.ErrorIs(t, err, ErrParse)
}
