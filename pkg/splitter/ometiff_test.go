package splitter

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/czbiohub/imagingdb/internal/tifftest"
	"github.com/czbiohub/imagingdb/pkg/catalog"
	"github.com/czbiohub/imagingdb/pkg/imageio"
)

// writeAcquisition builds one container per position, two channels by two
// slices per container, with MicroManager page metadata and an
// InitialPositionList on the first page of each container.
func writeAcquisition(t *testing.T, dir string, positions []string) map[string]*imageio.Plane {
	t.Helper()

	posList := make([]map[string]any, len(positions))
	for i, label := range positions {
		posList[i] = map[string]any{"Label": label}
	}
	info, err := json.Marshal(map[string]any{"InitialPositionList": posList})
	require.NoError(t, err)

	planes := map[string]*imageio.Plane{}
	seed := 0
	for p, label := range positions {
		var pages []tifftest.Page
		for c := 0; c < 2; c++ {
			for z := 0; z < 2; z++ {
				plane := tifftest.GradientPlane(12, 8, 1, imageio.BitDepthUint16, seed)
				seed++
				planes[fmt.Sprintf("p%d_c%d_z%d", p, c, z)] = plane

				mm, err := json.Marshal(map[string]any{
					"ChannelIndex":  c,
					"Slice":         z,
					"FrameIndex":    0,
					"PositionIndex": p,
					"Channel":       fmt.Sprintf("ch%d", c),
					"Exposure-ms":   50,
					"Binning":       "1x1",
				})
				require.NoError(t, err)

				page := tifftest.Page{Plane: plane, MMMetadata: string(mm)}
				if len(pages) == 0 {
					page.IJInfo = string(info)
				}
				pages = append(pages, page)
			}
		}
		path := filepath.Join(dir, fmt.Sprintf("acq_%s.ome.tif", label))
		require.NoError(t, os.WriteFile(path, tifftest.Build(pages), 0644))
	}
	return planes
}

func TestOmeTiffSplit(t *testing.T) {
	backend := newTestBackend(t)
	serial := "ISP-2021-06-09-10-00-00-0001"
	dir := t.TempDir()
	planes := writeAcquisition(t, dir, []string{"Pos0", "Pos1"})
	ctx := context.Background()

	sp, err := New(ctx, "ome_tiff", Params{Serial: serial, Backend: backend})
	require.NoError(t, err)
	require.NoError(t, sp.GetFramesAndMetadata(ctx, dir))

	global, err := sp.GlobalMeta()
	require.NoError(t, err)
	assert.Equal(t, 8, global.NbrFrames)
	assert.Equal(t, 2, global.NbrChannels)
	assert.Equal(t, 2, global.NbrSlices)
	assert.Equal(t, 1, global.NbrTimepoints)
	assert.Equal(t, 2, global.NbrPositions)
	assert.Equal(t, "uint16", global.BitDepth)
	assert.Equal(t, 12, global.ImWidth)
	assert.Equal(t, 8, global.ImHeight)

	frames, err := sp.FramesMeta()
	require.NoError(t, err)
	require.Len(t, frames, 8)

	i := 0
	for p := 0; p < 2; p++ {
		for c := 0; c < 2; c++ {
			for z := 0; z < 2; z++ {
				f := frames[i]
				assert.Equal(t, fmt.Sprintf("im_c%03d_z%03d_t000_p%03d.png", c, z, p), f.FileName)
				assert.Equal(t, fmt.Sprintf("ch%d", c), f.ChannelName)
				assert.Equal(t, planes[fmt.Sprintf("p%d_c%d_z%d", p, c, z)].SHA256(), f.SHA256)
				i++
			}
		}
	}

	// Variable page metadata is carried per frame.
	framesJSON, err := sp.FramesJSON()
	require.NoError(t, err)
	require.Len(t, framesJSON, 8)
	assert.Equal(t, float64(50), framesJSON[0]["Exposure-ms"])

	globalJSON, err := sp.GlobalJSON()
	require.NoError(t, err)
	assert.Contains(t, globalJSON["IJInfo"], "InitialPositionList")
}

func TestOmeTiffPositionFilter(t *testing.T) {
	backend := newTestBackend(t)
	dir := t.TempDir()
	writeAcquisition(t, dir, []string{"Pos0", "Pos1", "Pos2"})
	ctx := context.Background()

	sp, err := New(ctx, "ome_tiff", Params{
		Serial:    "ISP-2021-06-09-10-00-00-0002",
		Backend:   backend,
		Positions: []string{"Pos1"},
	})
	require.NoError(t, err)
	require.NoError(t, sp.GetFramesAndMetadata(ctx, dir))

	global, err := sp.GlobalMeta()
	require.NoError(t, err)
	assert.Equal(t, 4, global.NbrFrames)
	assert.Equal(t, 1, global.NbrPositions)

	frames, err := sp.FramesMeta()
	require.NoError(t, err)
	for _, f := range frames {
		assert.Equal(t, 1, f.PosIdx)
	}
}

func TestOmeTiffNoMatchingPositions(t *testing.T) {
	backend := newTestBackend(t)
	dir := t.TempDir()
	writeAcquisition(t, dir, []string{"Pos0"})

	sp, err := New(context.Background(), "ome_tiff", Params{
		Serial:    "ISP-2021-06-09-10-00-00-0003",
		Backend:   backend,
		Positions: []string{"Pos9"},
	})
	require.NoError(t, err)
	assert.Error(t, sp.GetFramesAndMetadata(context.Background(), dir))
}

func TestOmeTiffSchemaFiltering(t *testing.T) {
	backend := newTestBackend(t)
	dir := t.TempDir()
	writeAcquisition(t, dir, []string{"Pos0"})

	// The schema accepts numeric Exposure-ms but requires numeric Binning,
	// which the source stores as a string; Binning must be dropped.
	schemaPath := filepath.Join(t.TempDir(), "meta_schema.json")
	schema := `{
		"type": "object",
		"properties": {
			"Exposure-ms": {"type": "number"},
			"Binning": {"type": "number"}
		}
	}`
	require.NoError(t, os.WriteFile(schemaPath, []byte(schema), 0644))

	ctx := context.Background()
	sp, err := New(ctx, "ome_tiff", Params{
		Serial:     "ISP-2021-06-09-10-00-00-0004",
		Backend:    backend,
		SchemaPath: schemaPath,
	})
	require.NoError(t, err)
	require.NoError(t, sp.GetFramesAndMetadata(ctx, dir))

	framesJSON, err := sp.FramesJSON()
	require.NoError(t, err)
	for _, meta := range framesJSON {
		assert.Contains(t, meta, "Exposure-ms")
		assert.NotContains(t, meta, "Binning")
		// Keys the schema does not mention pass through.
		assert.Contains(t, meta, "Channel")
	}
}

func TestOmeTiffMalformedSchema(t *testing.T) {
	backend := newTestBackend(t)
	schemaPath := filepath.Join(t.TempDir(), "broken.json")
	require.NoError(t, os.WriteFile(schemaPath, []byte("{not json"), 0644))

	_, err := New(context.Background(), "ome_tiff", Params{
		Serial:     "ISP-2021-06-09-10-00-00-0005",
		Backend:    backend,
		SchemaPath: schemaPath,
	})
	assert.ErrorIs(t, err, catalog.ErrSchemaViolation)
}

func TestOmeTiffSingleFile(t *testing.T) {
	backend := newTestBackend(t)
	dir := t.TempDir()
	writeAcquisition(t, dir, []string{"Pos0"})
	file := filepath.Join(dir, "acq_Pos0.ome.tif")
	ctx := context.Background()

	sp, err := New(ctx, "ome_tiff", Params{
		Serial:  "ISP-2021-06-09-10-00-00-0006",
		Backend: backend,
	})
	require.NoError(t, err)
	require.NoError(t, sp.GetFramesAndMetadata(ctx, file))

	global, err := sp.GlobalMeta()
	require.NoError(t, err)
	assert.Equal(t, 4, global.NbrFrames)
}

func TestOmeTiffMissingMMMetadata(t *testing.T) {
	backend := newTestBackend(t)
	plane := tifftest.GradientPlane(6, 6, 1, imageio.BitDepthUint8, 0)
	path := filepath.Join(t.TempDir(), "plain.tif")
	require.NoError(t, os.WriteFile(path,
		tifftest.Build([]tifftest.Page{{Plane: plane}}), 0644))

	sp, err := New(context.Background(), "ome_tiff", Params{
		Serial:  "ISP-2021-06-09-10-00-00-0007",
		Backend: backend,
	})
	require.NoError(t, err)
	assert.Error(t, sp.GetFramesAndMetadata(context.Background(), path))
}
