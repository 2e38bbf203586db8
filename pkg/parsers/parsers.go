// Package parsers extracts plane coordinates from file names.
//
// Each parser is a pure function over (file name, channel accumulator). The
// accumulator assigns provisional channel indices in observation order;
// Finalize re-sorts the names alphabetically so channel_idx assignment is
// stable regardless of directory iteration order.
package parsers

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// ErrParse indicates a file name that does not match the parser's grammar.
var ErrParse = errors.New("cannot parse file name")

// Indices are the plane coordinates extracted from one file name.
type Indices struct {
	ChannelIdx  int
	SliceIdx    int
	TimeIdx     int
	PosIdx      int
	ChannelName string
}

// ChannelAccumulator tracks the channel names observed so far in a dataset
// and assigns each a provisional index by lookup-or-append.
type ChannelAccumulator struct {
	names []string
	index map[string]int
}

// NewChannelAccumulator returns an empty accumulator.
func NewChannelAccumulator() *ChannelAccumulator {
	return &ChannelAccumulator{index: map[string]int{}}
}

// Index returns the provisional index for name, appending it on first sight.
func (a *ChannelAccumulator) Index(name string) int {
	if idx, ok := a.index[name]; ok {
		return idx
	}
	idx := len(a.names)
	a.names = append(a.names, name)
	a.index[name] = idx
	return idx
}

// Names returns the observed channel names in observation order.
func (a *ChannelAccumulator) Names() []string {
	return append([]string(nil), a.names...)
}

// Len returns the number of distinct channels observed.
func (a *ChannelAccumulator) Len() int {
	return len(a.names)
}

// Finalize sorts the observed names alphabetically and returns the remap
// from provisional index to final index. Callers apply the remap to every
// Indices they collected before cataloging.
func (a *ChannelAccumulator) Finalize() map[int]int {
	sorted := append([]string(nil), a.names...)
	sort.Strings(sorted)

	final := make(map[string]int, len(sorted))
	for i, name := range sorted {
		final[name] = i
	}

	remap := make(map[int]int, len(a.names))
	for provisional, name := range a.names {
		remap[provisional] = final[name]
	}
	return remap
}

// ParseFunc is the uniform parser signature.
type ParseFunc func(name string, acc *ChannelAccumulator) (Indices, error)

var idxPattern = regexp.MustCompile(`^im_c(\d+)_z(\d+)_t(\d+)_p(\d+)\.\w+$`)

// ParseIdxFromName parses the canonical plane name
// im_c<CCC>_z<ZZZ>_t<TTT>_p<PPP>.<ext>. The channel name is the decimal
// channel number rendered as a string; the returned ChannelIdx is the
// accumulator's provisional index, not the literal number, so sparse channel
// numbers map to dense indices after Finalize.
func ParseIdxFromName(name string, acc *ChannelAccumulator) (Indices, error) {
	base := filepath.Base(name)
	m := idxPattern.FindStringSubmatch(base)
	if m == nil {
		return Indices{}, fmt.Errorf("%w: %q does not match im_cCCC_zZZZ_tTTT_pPPP", ErrParse, base)
	}

	c, _ := strconv.Atoi(m[1])
	z, _ := strconv.Atoi(m[2])
	t, _ := strconv.Atoi(m[3])
	p, _ := strconv.Atoi(m[4])

	channelName := strconv.Itoa(c)

	return Indices{
		ChannelIdx:  acc.Index(channelName),
		SliceIdx:    z,
		TimeIdx:     t,
		PosIdx:      p,
		ChannelName: channelName,
	}, nil
}

// ParseSMSName parses img_<channel>_t<TTT>_p<PPP>_z<ZZZ>.tif. The channel
// token may itself contain underscores; the trailing three tokens are fixed.
func ParseSMSName(name string, acc *ChannelAccumulator) (Indices, error) {
	base := filepath.Base(name)
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	tokens := strings.Split(stem, "_")
	if len(tokens) < 5 || tokens[0] != "img" {
		return Indices{}, fmt.Errorf("%w: %q does not match img_<channel>_tTTT_pPPP_zZZZ", ErrParse, base)
	}

	t, err := parseDimToken(tokens[len(tokens)-3], 't')
	if err != nil {
		return Indices{}, fmt.Errorf("%w: %q: %v", ErrParse, base, err)
	}
	p, err := parseDimToken(tokens[len(tokens)-2], 'p')
	if err != nil {
		return Indices{}, fmt.Errorf("%w: %q: %v", ErrParse, base, err)
	}
	z, err := parseDimToken(tokens[len(tokens)-1], 'z')
	if err != nil {
		return Indices{}, fmt.Errorf("%w: %q: %v", ErrParse, base, err)
	}

	channelName := strings.Join(tokens[1:len(tokens)-3], "_")
	if channelName == "" {
		return Indices{}, fmt.Errorf("%w: %q has an empty channel token", ErrParse, base)
	}

	return Indices{
		ChannelIdx:  acc.Index(channelName),
		SliceIdx:    z,
		TimeIdx:     t,
		PosIdx:      p,
		ChannelName: channelName,
	}, nil
}

// parseDimToken parses a token like t000 into its decimal value.
func parseDimToken(token string, dim byte) (int, error) {
	if len(token) < 2 || token[0] != dim {
		return 0, fmt.Errorf("expected %c-token, got %q", dim, token)
	}
	v, err := strconv.Atoi(token[1:])
	if err != nil {
		return 0, fmt.Errorf("non-numeric %c-token %q", dim, token)
	}
	return v, nil
}

var registry = map[string]ParseFunc{
	"parse_sms_name":      ParseSMSName,
	"parse_idx_from_name": ParseIdxFromName,
}

// Get returns a registered parser by name.
func Get(name string) (ParseFunc, error) {
	fn, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown filename parser: %s", name)
	}
	return fn, nil
}
