package dataset

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSerial(t *testing.T) {
	s, err := ParseSerial("ISP-2005-06-09-20-00-00-0001")
	require.NoError(t, err)
	assert.Equal(t, "ISP", s.Prefix)
	assert.Equal(t, time.Date(2005, 6, 9, 20, 0, 0, 0, time.UTC), s.Time)
	assert.Equal(t, "0001", s.Number)
	assert.Equal(t, "ISP-2005-06-09-20-00-00-0001", s.String())
}

func TestParseSerialPrefixes(t *testing.T) {
	valid := []string{
		"AB-2010-01-01-00-00-00-0000",
		"SMS-2010-01-01-01-00-00-0005",
		"TEST-2005-06-09-20-00-00-1000",
		"ML90-2020-12-31-23-59-59-9999",
	}
	for _, serial := range valid {
		_, err := ParseSerial(serial)
		assert.NoError(t, err, serial)
	}
}

func TestParseSerialRejects(t *testing.T) {
	invalid := []string{
		"",
		"ISP",
		"I-2005-06-09-20-00-00-0001",     // prefix too short
		"LONGP-2005-06-09-20-00-00-0001", // prefix too long
		"isp-2005-06-09-20-00-00-0001",   // lowercase prefix
		"ISP-2005-06-09-20-00-00-001",    // three digit sequence
		"ISP-2005-06-09-20-00-00-00011",  // five digit sequence
		"ISP-2005-13-09-20-00-00-0001",   // month 13
		"ISP-2005-02-30-20-00-00-0001",   // Feb 30
		"ISP-2005-06-09-25-00-00-0001",   // hour 25
		"ISP-2005-06-09-20-00-00-0001 ",  // trailing space
		"ISP_2005-06-09-20-00-00-0001",   // wrong separator
	}
	for _, serial := range invalid {
		_, err := ParseSerial(serial)
		assert.ErrorIs(t, err, ErrInvalidSerial, serial)
	}
}

func TestStorageDirs(t *testing.T) {
	assert.Equal(t, "raw_frames/ISP-2005-06-09-20-00-00-0001",
		FrameDir("ISP-2005-06-09-20-00-00-0001"))
	assert.Equal(t, "raw_files/ISP-2005-06-09-20-00-00-0001",
		FileDir("ISP-2005-06-09-20-00-00-0001"))
}
