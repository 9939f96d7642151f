package batch

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/pkg/errors"

	"github.com/Noofbiz/metaloader/imaging"
	"github.com/Noofbiz/metaloader/records"
	"github.com/Noofbiz/metaloader/stream"
)

var byteDecoder = imaging.DecoderFunc(func(raw []byte) (*imaging.Image, error) {
	if len(raw) == 0 {
		return nil, errors.Wrap(imaging.ErrDecode, "empty")
	}
	im := imaging.NewImage(1, 1, 1)
	im.Pix[0] = float32(raw[0])
	return im, nil
})

func newAssembler(t *testing.T, nCats, perCat, offset int, rng *rand.Rand) *Assembler {
	t.Helper()
	src := records.NewMemorySource()
	streams := make([]*stream.CategoryStream, nCats)
	for c := range nCats {
		cat := fmt.Sprintf("c%d", c)
		for i := range perCat {
			src.Add(cat, records.SampleRecord{ID: fmt.Sprintf("%s/%d", cat, i), Raw: []byte{byte(c)}})
		}
		s, err := stream.New(context.Background(), src, cat, rng)
		if err != nil {
			t.Fatalf("stream.New error: %v", err)
		}
		streams[c] = s
	}
	a, err := NewAssembler("test", streams, byteDecoder, nil, offset, rng)
	if err != nil {
		t.Fatalf("NewAssembler error: %v", err)
	}
	return a
}

func TestNextLabelsAndUniformity(t *testing.T) {
	const nCats, pulls = 4, 8000
	a := newAssembler(t, nCats, 3, 10, rand.New(rand.NewSource(21)))

	counts := make([]int, nCats)
	for range pulls {
		it, err := a.Next()
		if err != nil {
			t.Fatalf("Next error: %v", err)
		}
		local := it.Label - 10
		if local < 0 || local >= nCats {
			t.Fatalf("label %d outside [10,%d)", it.Label, 10+nCats)
		}
		// decoded byte is the category index
		if int(it.Image.Pix[0]) != local {
			t.Fatalf("label %d does not match image of category %v", it.Label, it.Image.Pix[0])
		}
		counts[local]++
	}
	want := float64(pulls) / nCats
	for c, n := range counts {
		if math.Abs(float64(n)-want) > 0.1*want {
			t.Fatalf("category %d drawn %d times, expected about %.0f", c, n, want)
		}
	}
}

func TestDecodeFailure(t *testing.T) {
	src := records.NewMemorySource()
	src.Add("x", records.SampleRecord{ID: "broken"})
	rng := rand.New(rand.NewSource(1))
	s, _ := stream.New(context.Background(), src, "x", rng)
	a, err := NewAssembler("bad", []*stream.CategoryStream{s}, byteDecoder, nil, 0, rng)
	if err != nil {
		t.Fatalf("NewAssembler error: %v", err)
	}
	if _, err := a.Next(); !errors.Is(err, imaging.ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
}

func TestNewAssemblerValidation(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	if _, err := NewAssembler("x", nil, byteDecoder, nil, 0, rng); err == nil {
		t.Fatalf("expected error for no streams")
	}
	a := newAssembler(t, 1, 1, 0, rng)
	if _, err := NewAssembler("x", a.streams, byteDecoder, nil, 0, nil); err == nil {
		t.Fatalf("expected error for nil generator")
	}
	if _, err := NewAssembler("x", a.streams, byteDecoder, nil, -1, rng); err == nil {
		t.Fatalf("expected error for negative offset")
	}
}
