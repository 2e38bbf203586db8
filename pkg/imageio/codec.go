package imageio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/png"
)

// EncodePNG serializes a plane as PNG. Grayscale planes encode as 8- or
// 16-bit grayscale; RGB planes encode as 8- or 16-bit truecolor (the encoder
// drops the all-opaque alpha channel).
func (p *Plane) EncodePNG() ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	img, err := p.toImage()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("png encode: %w", err)
	}
	return buf.Bytes(), nil
}

func (p *Plane) toImage() (image.Image, error) {
	rect := image.Rect(0, 0, p.Width, p.Height)
	n := p.Width * p.Height

	switch {
	case p.Colors == 1 && p.BitDepth == BitDepthUint8:
		img := image.NewGray(rect)
		copy(img.Pix, p.Pix)
		return img, nil

	case p.Colors == 1 && p.BitDepth == BitDepthUint16:
		img := image.NewGray16(rect)
		copy(img.Pix, p.Pix)
		return img, nil

	case p.Colors == 3 && p.BitDepth == BitDepthUint8:
		img := image.NewNRGBA(rect)
		for i := 0; i < n; i++ {
			img.Pix[i*4+0] = p.Pix[i*3+0]
			img.Pix[i*4+1] = p.Pix[i*3+1]
			img.Pix[i*4+2] = p.Pix[i*3+2]
			img.Pix[i*4+3] = 0xff
		}
		return img, nil

	case p.Colors == 3 && p.BitDepth == BitDepthUint16:
		img := image.NewNRGBA64(rect)
		for i := 0; i < n; i++ {
			copy(img.Pix[i*8:i*8+6], p.Pix[i*6:i*6+6])
			img.Pix[i*8+6] = 0xff
			img.Pix[i*8+7] = 0xff
		}
		return img, nil
	}

	return nil, fmt.Errorf("%w: %d colors, %q", ErrUnsupportedBitDepth, p.Colors, p.BitDepth)
}

// DecodePNG deserializes PNG bytes into a plane, preserving bit depth.
func DecodePNG(data []byte) (*Plane, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("png decode: %w", err)
	}
	return FromImage(img)
}

// FromImage converts a decoded image into a canonical plane. It handles the
// concrete types the stdlib PNG and x/image TIFF decoders produce; anything
// else (paletted, YCbCr, float) is an unsupported bit depth.
func FromImage(img image.Image) (*Plane, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	switch src := img.(type) {
	case *image.Gray:
		p, _ := NewPlane(w, h, 1, BitDepthUint8)
		for y := 0; y < h; y++ {
			copy(p.Pix[y*w:(y+1)*w], src.Pix[y*src.Stride:y*src.Stride+w])
		}
		return p, nil

	case *image.Gray16:
		p, _ := NewPlane(w, h, 1, BitDepthUint16)
		for y := 0; y < h; y++ {
			copy(p.Pix[y*w*2:(y+1)*w*2], src.Pix[y*src.Stride:y*src.Stride+w*2])
		}
		return p, nil

	case *image.NRGBA:
		return rgbaToPlane(w, h, src.Pix, src.Stride)

	case *image.RGBA:
		return rgbaToPlane(w, h, src.Pix, src.Stride)

	case *image.NRGBA64:
		return rgba64ToPlane(w, h, src.Pix, src.Stride)

	case *image.RGBA64:
		return rgba64ToPlane(w, h, src.Pix, src.Stride)
	}

	if _, paletted := img.ColorModel().(color.Palette); paletted {
		return nil, fmt.Errorf("%w: paletted image", ErrUnsupportedBitDepth)
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupportedBitDepth, img)
}

func rgbaToPlane(w, h int, pix []byte, stride int) (*Plane, error) {
	p, _ := NewPlane(w, h, 3, BitDepthUint8)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			src := y*stride + x*4
			dst := (y*w + x) * 3
			p.Pix[dst+0] = pix[src+0]
			p.Pix[dst+1] = pix[src+1]
			p.Pix[dst+2] = pix[src+2]
		}
	}
	return p, nil
}

func rgba64ToPlane(w, h int, pix []byte, stride int) (*Plane, error) {
	p, _ := NewPlane(w, h, 3, BitDepthUint16)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			src := y*stride + x*8
			dst := (y*w + x) * 6
			copy(p.Pix[dst:dst+6], pix[src:src+6])
		}
	}
	return p, nil
}

// Uint16At returns the sample value at a flat sample index for 16-bit planes.
// Used by tests and the vendor-container adapter; panics on 8-bit planes.
func (p *Plane) Uint16At(i int) uint16 {
	return binary.BigEndian.Uint16(p.Pix[i*2:])
}

// PutUint16 stores a sample value at a flat sample index for 16-bit planes.
func (p *Plane) PutUint16(i int, v uint16) {
	binary.BigEndian.PutUint16(p.Pix[i*2:], v)
}
