package parsers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIdxFromName(t *testing.T) {
	acc := NewChannelAccumulator()

	idx, err := ParseIdxFromName("im_c001_z002_t003_p004.png", acc)
	require.NoError(t, err)
	assert.Equal(t, Indices{
		ChannelIdx:  0,
		SliceIdx:    2,
		TimeIdx:     3,
		PosIdx:      4,
		ChannelName: "1",
	}, idx)

	// Paths are accepted; only the base name is parsed. Channel "0" is new
	// to the accumulator, so it gets the next provisional index.
	idx, err = ParseIdxFromName("/data/frames/im_c000_z000_t000_p000.tif", acc)
	require.NoError(t, err)
	assert.Equal(t, 1, idx.ChannelIdx)
	assert.Equal(t, "0", idx.ChannelName)

	// Finalize orders the names alphabetically: "0" before "1".
	assert.Equal(t, map[int]int{0: 1, 1: 0}, acc.Finalize())
}

func TestParseIdxFromNameSparseChannels(t *testing.T) {
	acc := NewChannelAccumulator()

	first, err := ParseIdxFromName("im_c002_z000_t000_p000.tif", acc)
	require.NoError(t, err)
	second, err := ParseIdxFromName("im_c005_z000_t000_p000.tif", acc)
	require.NoError(t, err)

	// Sparse channel numbers get dense provisional indices.
	assert.Equal(t, 0, first.ChannelIdx)
	assert.Equal(t, "2", first.ChannelName)
	assert.Equal(t, 1, second.ChannelIdx)
	assert.Equal(t, "5", second.ChannelName)

	// A repeated channel reuses its provisional index.
	again, err := ParseIdxFromName("im_c002_z001_t000_p000.tif", acc)
	require.NoError(t, err)
	assert.Equal(t, 0, again.ChannelIdx)

	assert.Equal(t, map[int]int{0: 0, 1: 1}, acc.Finalize())
}

func TestParseIdxFromNameRejects(t *testing.T) {
	acc := NewChannelAccumulator()
	for _, name := range []string{
		"im_c001_z002_t003.png",
		"img_c001_z002_t003_p004.png",
		"im_cxxx_z002_t003_p004.png",
		"im_c001_z002_t003_p004",
		"",
	} {
		_, err := ParseIdxFromName(name, acc)
		assert.ErrorIs(t, err, ErrParse, "name %q", name)
	}
}

func TestParseSMSName(t *testing.T) {
	acc := NewChannelAccumulator()

	idx, err := ParseSMSName("img_phase_t000_p050_z001.tif", acc)
	require.NoError(t, err)
	assert.Equal(t, Indices{
		ChannelIdx:  0,
		SliceIdx:    1,
		TimeIdx:     0,
		PosIdx:      50,
		ChannelName: "phase",
	}, idx)

	// Channel names may contain underscores.
	idx, err = ParseSMSName("img_Far_Red_t012_p000_z005.tif", acc)
	require.NoError(t, err)
	assert.Equal(t, "Far_Red", idx.ChannelName)
	assert.Equal(t, 1, idx.ChannelIdx)
	assert.Equal(t, 12, idx.TimeIdx)
	assert.Equal(t, 5, idx.SliceIdx)

	// A repeated channel reuses its provisional index.
	idx, err = ParseSMSName("img_phase_t001_p050_z000.tif", acc)
	require.NoError(t, err)
	assert.Equal(t, 0, idx.ChannelIdx)
}

func TestParseSMSNameRejects(t *testing.T) {
	acc := NewChannelAccumulator()
	for _, name := range []string{
		"image_phase_t000_p050_z001.tif",
		"img_phase_t000_p050.tif",
		"img_phase_tXYZ_p050_z001.tif",
		"img_phase_z001_p050_t000.tif",
		"img__t000_p050_z001.tif",
	} {
		_, err := ParseSMSName(name, acc)
		assert.ErrorIs(t, err, ErrParse, "name %q", name)
	}
}

func TestChannelAccumulatorFinalize(t *testing.T) {
	acc := NewChannelAccumulator()

	// Observation order: phase, brightfield, 666.
	assert.Equal(t, 0, acc.Index("phase"))
	assert.Equal(t, 1, acc.Index("brightfield"))
	assert.Equal(t, 2, acc.Index("666"))

	// Alphabetical final order: 666, brightfield, phase.
	remap := acc.Finalize()
	assert.Equal(t, map[int]int{0: 2, 1: 1, 2: 0}, remap)
	assert.Equal(t, []string{"phase", "brightfield", "666"}, acc.Names())
}

func TestRegistry(t *testing.T) {
	fn, err := Get("parse_sms_name")
	require.NoError(t, err)
	require.NotNil(t, fn)

	fn, err = Get("parse_idx_from_name")
	require.NoError(t, err)
	require.NotNil(t, fn)

	_, err = Get("parse_nothing")
	assert.Error(t, err)
}
