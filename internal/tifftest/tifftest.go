// Package tifftest builds minimal little-endian TIFF containers for tests.
// Pages are written uncompressed with a single strip, matching what
// MicroManager and ImageJ produce for acquisition stacks.
package tifftest

import (
	"encoding/binary"

	"github.com/czbiohub/imagingdb/pkg/imageio"
)

// TIFF field types.
const (
	typeASCII     = 2
	typeShort     = 3
	typeLong      = 4
	typeUndefined = 7
)

// Page describes one IFD to synthesize.
type Page struct {
	// Plane supplies dimensions, sample layout and pixel bytes.
	Plane *imageio.Plane

	// Description becomes tag 270 (ImageDescription).
	Description string

	// MMMetadata becomes tag 51123 (MicroManagerMetadata), usually JSON.
	MMMetadata string

	// IJInfo, when non-empty on the first page, is stored as an ImageJ
	// metadata "info" entry (tags 50838/50839), UTF-16 little-endian.
	IJInfo string
}

type entry struct {
	tag   uint16
	typ   uint16
	count uint32
	// inline holds the value when it fits in four bytes; otherwise external
	// holds bytes placed in the data area and the offset is patched in.
	inline   [4]byte
	external []byte
}

func shortEntry(tag uint16, v uint16) entry {
	e := entry{tag: tag, typ: typeShort, count: 1}
	binary.LittleEndian.PutUint16(e.inline[0:2], v)
	return e
}

func longEntry(tag uint16, v uint32) entry {
	e := entry{tag: tag, typ: typeLong, count: 1}
	binary.LittleEndian.PutUint32(e.inline[:], v)
	return e
}

func asciiEntry(tag uint16, s string) entry {
	data := append([]byte(s), 0)
	e := entry{tag: tag, typ: typeASCII, count: uint32(len(data))}
	if len(data) <= 4 {
		copy(e.inline[:], data)
	} else {
		e.external = data
	}
	return e
}

func bytesEntry(tag uint16, typ uint16, data []byte) entry {
	e := entry{tag: tag, typ: typ, count: uint32(len(data))}
	if len(data) <= 4 {
		copy(e.inline[:], data)
	} else {
		e.external = data
	}
	return e
}

func longArrayEntry(tag uint16, vals []uint32) entry {
	e := entry{tag: tag, typ: typeLong, count: uint32(len(vals))}
	data := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(data[i*4:], v)
	}
	if len(data) <= 4 {
		copy(e.inline[:], data)
	} else {
		e.external = data
	}
	return e
}

func shortArrayEntry(tag uint16, vals []uint16) entry {
	e := entry{tag: tag, typ: typeShort, count: uint32(len(vals))}
	data := make([]byte, 2*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint16(data[i*2:], v)
	}
	if len(data) <= 4 {
		copy(e.inline[:], data)
	} else {
		e.external = data
	}
	return e
}

func utf16LE(s string) []byte {
	out := make([]byte, 0, len(s)*2)
	for _, r := range s {
		out = binary.LittleEndian.AppendUint16(out, uint16(r))
	}
	return out
}

// Build assembles the container.
func Build(pages []Page) []byte {
	// Header: byte order, magic, IFD0 offset (patched last).
	buf := []byte{'I', 'I', 42, 0, 0, 0, 0, 0}

	appendData := func(data []byte) uint32 {
		// TIFF offsets must be word-aligned.
		if len(buf)%2 == 1 {
			buf = append(buf, 0)
		}
		off := uint32(len(buf))
		buf = append(buf, data...)
		return off
	}

	// Pass 1: data areas per page, entries with resolved external offsets.
	pageEntries := make([][]entry, len(pages))
	for i, page := range pages {
		p := page.Plane

		// Strip data in file byte order (canonical buffers are big-endian).
		strip := make([]byte, len(p.Pix))
		copy(strip, p.Pix)
		if p.BitDepth == imageio.BitDepthUint16 {
			for j := 0; j+1 < len(strip); j += 2 {
				strip[j], strip[j+1] = strip[j+1], strip[j]
			}
		}
		stripOff := appendData(strip)

		entries := []entry{
			longEntry(256, uint32(p.Width)),
			longEntry(257, uint32(p.Height)),
			shortEntry(259, 1), // no compression
			shortEntry(262, 1), // BlackIsZero
			longEntry(273, stripOff),
			shortEntry(277, uint16(p.Colors)),
			longEntry(278, uint32(p.Height)),
			longEntry(279, uint32(len(strip))),
		}
		bits := make([]uint16, p.Colors)
		for c := range bits {
			bits[c] = uint16(8 * p.BitDepth.BytesPerSample())
		}
		entries = append(entries, shortArrayEntry(258, bits))

		if page.Description != "" {
			entries = append(entries, asciiEntry(270, page.Description))
		}
		if page.MMMetadata != "" {
			entries = append(entries, asciiEntry(51123, page.MMMetadata))
		}
		if page.IJInfo != "" {
			info := utf16LE(page.IJInfo)
			header := []byte("IJIJ")
			header = append(header, 'i', 'n', 'f', 'o')
			header = binary.LittleEndian.AppendUint32(header, 1)
			meta := append(header, info...)
			counts := []uint32{uint32(len(header)), uint32(len(info))}
			entries = append(entries,
				longArrayEntry(50838, counts),
				bytesEntry(50839, typeUndefined, meta))
		}

		// IFD entries must be sorted by tag id.
		for a := 1; a < len(entries); a++ {
			for b := a; b > 0 && entries[b-1].tag > entries[b].tag; b-- {
				entries[b-1], entries[b] = entries[b], entries[b-1]
			}
		}

		for j := range entries {
			if entries[j].external != nil {
				off := appendData(entries[j].external)
				binary.LittleEndian.PutUint32(entries[j].inline[:], off)
			}
		}
		pageEntries[i] = entries
	}

	// Pass 2: IFDs, each chained to the next.
	if len(buf)%2 == 1 {
		buf = append(buf, 0)
	}
	ifdOffsets := make([]uint32, len(pages))
	off := uint32(len(buf))
	for i := range pages {
		ifdOffsets[i] = off
		off += 2 + 12*uint32(len(pageEntries[i])) + 4
	}
	binary.LittleEndian.PutUint32(buf[4:8], ifdOffsets[0])

	for i, entries := range pageEntries {
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(entries)))
		for _, e := range entries {
			buf = binary.LittleEndian.AppendUint16(buf, e.tag)
			buf = binary.LittleEndian.AppendUint16(buf, e.typ)
			buf = binary.LittleEndian.AppendUint32(buf, e.count)
			buf = append(buf, e.inline[:]...)
		}
		next := uint32(0)
		if i+1 < len(pages) {
			next = ifdOffsets[i+1]
		}
		buf = binary.LittleEndian.AppendUint32(buf, next)
	}
	return buf
}

// GradientPlane returns a plane with a deterministic pixel ramp.
func GradientPlane(width, height, colors int, depth imageio.BitDepth, seed int) *imageio.Plane {
	p, err := imageio.NewPlane(width, height, colors, depth)
	if err != nil {
		panic(err)
	}
	n := width * height * colors
	if depth == imageio.BitDepthUint16 {
		for i := 0; i < n; i++ {
			p.PutUint16(i, uint16((i+seed*1000)%65536))
		}
	} else {
		for i := 0; i < n; i++ {
			p.Pix[i] = byte((i + seed*100) % 256)
		}
	}
	return p
}
