package imaging

import (
	"image"

	"github.com/pkg/errors"
	"golang.org/x/image/draw"
)

// Transform maps a decoded image to the image handed to consumers. It must
// not modify its input.
type Transform func(*Image) (*Image, error)

// Identity returns its input unchanged.
func Identity(im *Image) (*Image, error) { return im, nil }

// Compose applies transforms left to right. Nil entries are skipped.
func Compose(ts ...Transform) Transform {
	return func(im *Image) (*Image, error) {
		var err error
		for _, t := range ts {
			if t == nil {
				continue
			}
			if im, err = t(im); err != nil {
				return nil, err
			}
		}
		return im, nil
	}
}

// Resize scales images to h x w with bilinear interpolation.
func Resize(h, w int) Transform {
	return func(im *Image) (*Image, error) {
		if h <= 0 || w <= 0 {
			return nil, errors.Errorf("invalid resize target %dx%d", h, w)
		}
		if im.H == h && im.W == w {
			return im, nil
		}
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.BiLinear.Scale(dst, dst.Bounds(), im.ToRGBA(), image.Rect(0, 0, im.W, im.H), draw.Src, nil)
		out := FromImage(dst)
		if im.C == 1 {
			out = &Image{C: 1, H: h, W: w, Pix: out.Pix[:h*w]}
		}
		return out, nil
	}
}

// Normalize subtracts a per-channel mean and divides by a per-channel std.
func Normalize(mean, std []float32) Transform {
	return func(im *Image) (*Image, error) {
		if len(mean) != im.C || len(std) != im.C {
			return nil, errors.Errorf("normalize expects %d channel statistics, got mean=%d std=%d", im.C, len(mean), len(std))
		}
		out := NewImage(im.C, im.H, im.W)
		plane := im.H * im.W
		for c := 0; c < im.C; c++ {
			if std[c] == 0 {
				return nil, errors.Errorf("normalize: zero std for channel %d", c)
			}
			for i := c * plane; i < (c+1)*plane; i++ {
				out.Pix[i] = (im.Pix[i] - mean[c]) / std[c]
			}
		}
		return out, nil
	}
}
