// Package dataset defines the dataset identifier contract.
//
// A dataset serial is the only user-visible primary key of the catalog. It has
// the form <PREFIX>-YYYY-MM-DD-HH-MM-SS-<NNNN>, where PREFIX is 2-4 uppercase
// letters or digits, the date-time parses as a UTC wall clock, and NNNN is a
// four digit sequence number. The timestamp in the serial is authoritative
// over any timestamp embedded in source files.
package dataset

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// ErrInvalidSerial indicates a dataset serial that does not match the
// required format.
var ErrInvalidSerial = errors.New("invalid dataset serial")

// serialPattern captures prefix, date-time and sequence number.
var serialPattern = regexp.MustCompile(
	`^([A-Z0-9]{2,4})-(\d{4}-\d{2}-\d{2}-\d{2}-\d{2}-\d{2})-(\d{4})$`)

// timeLayout is the wall-clock layout embedded in a serial.
const timeLayout = "2006-01-02-15-04-05"

// Serial is a parsed dataset identifier.
type Serial struct {
	// Prefix is the 2-4 character uppercase project prefix.
	Prefix string

	// Time is the acquisition wall clock, interpreted as UTC.
	Time time.Time

	// Number is the four digit sequence string, zero padding preserved.
	Number string
}

// ParseSerial validates a dataset serial and returns its parts.
// The date-time portion must be a real calendar time; "2015-13-40-..." is
// rejected even though it matches the digit pattern.
func ParseSerial(serial string) (Serial, error) {
	m := serialPattern.FindStringSubmatch(serial)
	if m == nil {
		return Serial{}, fmt.Errorf("%w: %q does not match <PREFIX>-YYYY-MM-DD-HH-MM-SS-<NNNN>",
			ErrInvalidSerial, serial)
	}

	ts, err := time.ParseInLocation(timeLayout, m[2], time.UTC)
	if err != nil {
		return Serial{}, fmt.Errorf("%w: %q has an invalid date-time: %v",
			ErrInvalidSerial, serial, err)
	}
	// time.Parse normalizes out-of-range components in some layouts; make sure
	// the round trip is exact.
	if ts.Format(timeLayout) != m[2] {
		return Serial{}, fmt.Errorf("%w: %q has an out-of-range date-time",
			ErrInvalidSerial, serial)
	}

	return Serial{
		Prefix: m[1],
		Time:   ts,
		Number: m[3],
	}, nil
}

// String reassembles the canonical serial form.
func (s Serial) String() string {
	return fmt.Sprintf("%s-%s-%s", s.Prefix, s.Time.Format(timeLayout), s.Number)
}

// FrameDir returns the storage directory for a frames dataset.
func FrameDir(serial string) string {
	return "raw_frames/" + serial
}

// FileDir returns the storage directory for an opaque file dataset.
func FileDir(serial string) string {
	return "raw_files/" + serial
}
