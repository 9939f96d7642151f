package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"

	"github.com/pkg/errors"
	"golang.org/x/image/bmp"
)

func testImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 255, G: uint8(x * 10), B: 0, A: 255})
		}
	}
	return img
}

func approxEqual(a, b, tol float32) bool {
	return math.Abs(float64(a-b)) <= float64(tol)
}

func TestStdDecoderPNG(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, testImage(4, 3)); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	im, err := StdDecoder{}.Decode(buf.Bytes())
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if im.C != 3 || im.H != 3 || im.W != 4 {
		t.Fatalf("unexpected shape %dx%dx%d", im.C, im.H, im.W)
	}
	if !approxEqual(im.At(0, 1, 2), 1, 1e-6) {
		t.Fatalf("expected red channel 1, got %v", im.At(0, 1, 2))
	}
	if !approxEqual(im.At(1, 0, 3), 30.0/255, 1e-4) {
		t.Fatalf("expected green channel %v, got %v", 30.0/255, im.At(1, 0, 3))
	}
}

func TestStdDecoderBMP(t *testing.T) {
	var buf bytes.Buffer
	if err := bmp.Encode(&buf, testImage(5, 5)); err != nil {
		t.Fatalf("bmp encode: %v", err)
	}
	im, err := StdDecoder{}.Decode(buf.Bytes())
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if im.H != 5 || im.W != 5 {
		t.Fatalf("unexpected shape %dx%d", im.H, im.W)
	}
}

func TestStdDecoderGarbage(t *testing.T) {
	for _, raw := range [][]byte{nil, []byte("not an image")} {
		if _, err := (StdDecoder{}).Decode(raw); !errors.Is(err, ErrDecode) {
			t.Fatalf("expected ErrDecode for %q, got %v", raw, err)
		}
	}
}

func TestResize(t *testing.T) {
	src := FromImage(testImage(8, 6))
	out, err := Resize(3, 4)(src)
	if err != nil {
		t.Fatalf("Resize error: %v", err)
	}
	if out.C != 3 || out.H != 3 || out.W != 4 || len(out.Pix) != 36 {
		t.Fatalf("unexpected resized image %dx%dx%d (%d)", out.C, out.H, out.W, len(out.Pix))
	}
	// red is constant so it survives interpolation
	if !approxEqual(out.At(0, 2, 3), 1, 1e-2) {
		t.Fatalf("expected red ~1 after resize, got %v", out.At(0, 2, 3))
	}
	if _, err := Resize(0, 4)(src); err == nil {
		t.Fatalf("expected error for zero height")
	}
}

func TestComposeNormalize(t *testing.T) {
	im := NewImage(1, 1, 2)
	im.Pix[0], im.Pix[1] = 0.5, 1

	tr := Compose(Identity, nil, Normalize([]float32{0.5}, []float32{0.25}))
	out, err := tr(im)
	if err != nil {
		t.Fatalf("transform error: %v", err)
	}
	if out.Pix[0] != 0 || out.Pix[1] != 2 {
		t.Fatalf("unexpected normalized values %v", out.Pix)
	}
	if im.Pix[1] != 1 {
		t.Fatalf("Normalize modified its input")
	}
	if _, err := Normalize([]float32{0, 0}, []float32{1, 1})(im); err == nil {
		t.Fatalf("expected channel count mismatch error")
	}
}
