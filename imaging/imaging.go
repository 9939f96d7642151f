// Package imaging decodes stored image bytes into normalized CHW float
// images and provides the transform functions applied before assembly.
package imaging

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrDecode is returned when stored bytes can't be decoded into an image.
var ErrDecode = errors.New("imaging: decode failed")

// Image is an RGB image in channel-major (CHW) layout with values in [0, 1].
type Image struct {
	C, H, W int
	Pix     []float32
}

// NewImage allocates a zeroed image.
func NewImage(c, h, w int) *Image {
	return &Image{C: c, H: h, W: w, Pix: make([]float32, c*h*w)}
}

// At returns the value of channel c at (y, x).
func (im *Image) At(c, y, x int) float32 {
	return im.Pix[(c*im.H+y)*im.W+x]
}

// Set sets the value of channel c at (y, x).
func (im *Image) Set(c, y, x int, v float32) {
	im.Pix[(c*im.H+y)*im.W+x] = v
}

// SameShape reports whether two images have identical dimensions.
func (im *Image) SameShape(o *Image) bool {
	return im.C == o.C && im.H == o.H && im.W == o.W
}

// Decoder turns stored bytes into an Image.
type Decoder interface {
	Decode(raw []byte) (*Image, error)
}

// DecoderFunc adapts a function to the Decoder interface.
type DecoderFunc func(raw []byte) (*Image, error)

// Decode implements Decoder.
func (f DecoderFunc) Decode(raw []byte) (*Image, error) { return f(raw) }

// StdDecoder decodes every format registered with the image package: PNG,
// JPEG and GIF from the standard library plus BMP, TIFF and WebP.
type StdDecoder struct{}

// Decode implements Decoder. Grayscale inputs are expanded to three channels.
func (StdDecoder) Decode(raw []byte) (*Image, error) {
	if len(raw) == 0 {
		return nil, errors.Wrap(ErrDecode, "empty input")
	}
	src, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, errors.Wrapf(ErrDecode, "%v", err)
	}
	b := src.Bounds()
	if b.Empty() {
		return nil, errors.Wrapf(ErrDecode, "empty %s image", format)
	}
	return FromImage(src), nil
}

// FromImage converts any image.Image into a CHW RGB Image.
func FromImage(src image.Image) *Image {
	b := src.Bounds()
	h, w := b.Dy(), b.Dx()
	out := NewImage(3, h, w)
	plane := h * w
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := src.At(b.Min.X+x, b.Min.Y+y).RGBA()
			i := y*w + x
			out.Pix[i] = float32(r) / 0xffff
			out.Pix[plane+i] = float32(g) / 0xffff
			out.Pix[2*plane+i] = float32(bl) / 0xffff
		}
	}
	return out
}

// ToRGBA converts an Image back into an image.RGBA. Missing channels are
// replicated from the first one.
func (im *Image) ToRGBA() *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, im.W, im.H))
	for y := 0; y < im.H; y++ {
		for x := 0; x < im.W; x++ {
			var px [3]uint8
			for c := 0; c < 3; c++ {
				ch := c
				if ch >= im.C {
					ch = 0
				}
				v := im.At(ch, y, x)
				if v < 0 {
					v = 0
				} else if v > 1 {
					v = 1
				}
				px[c] = uint8(v*255 + 0.5)
			}
			i := out.PixOffset(x, y)
			out.Pix[i], out.Pix[i+1], out.Pix[i+2], out.Pix[i+3] = px[0], px[1], px[2], 0xff
		}
	}
	return out
}
