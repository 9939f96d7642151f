// Package batch samples flat (image, label) items for standard supervised
// training: every pull picks a category uniformly at random and returns its
// next record. There is no deduplication.
package batch

import (
	"math/rand"

	"github.com/pkg/errors"

	"github.com/Noofbiz/metaloader/imaging"
	"github.com/Noofbiz/metaloader/stream"
	"github.com/Noofbiz/metaloader/worker"
)

// Item is one labeled sample. Label is the category index within its source
// plus the source offset, so labels stay unique across concatenated sources.
type Item struct {
	Image *imaging.Image
	Label int
	ID    string
}

// Assembler draws items from one source's category streams.
type Assembler struct {
	name      string
	streams   []*stream.CategoryStream
	decoder   imaging.Decoder
	transform imaging.Transform
	offset    int
	rng       *rand.Rand
}

// NewAssembler creates a batch Assembler. transform may be nil.
func NewAssembler(name string, streams []*stream.CategoryStream, decoder imaging.Decoder,
	transform imaging.Transform, offset int, rng *rand.Rand) (*Assembler, error) {
	if len(streams) == 0 {
		return nil, errors.New("batch: no category streams")
	}
	if decoder == nil {
		return nil, errors.New("batch: decoder cannot be nil")
	}
	if offset < 0 {
		return nil, errors.Errorf("batch: negative label offset %d", offset)
	}
	if rng == nil {
		return nil, worker.ErrNilRand
	}
	if transform == nil {
		transform = imaging.Identity
	}
	a := &Assembler{
		name:      name,
		streams:   streams,
		decoder:   decoder,
		transform: transform,
		offset:    offset,
	}
	a.SetRand(rng)
	return a, nil
}

// Name returns the source name.
func (a *Assembler) Name() string { return a.name }

// NumClasses returns the number of categories of the source.
func (a *Assembler) NumClasses() int { return len(a.streams) }

// Offset returns the label offset of the source.
func (a *Assembler) Offset() int { return a.offset }

// Next draws one item.
func (a *Assembler) Next() (Item, error) {
	c := a.rng.Intn(len(a.streams))
	s := a.streams[c]
	rec, err := s.Next()
	if err != nil {
		return Item{}, errors.Wrapf(err, "source %s", a.name)
	}
	im, err := a.decoder.Decode(rec.Raw)
	if err != nil {
		return Item{}, errors.Wrapf(err, "source %s category %q record %s", a.name, s.Category(), rec.ID)
	}
	if im, err = a.transform(im); err != nil {
		return Item{}, errors.Wrapf(err, "source %s transform record %s", a.name, rec.ID)
	}
	return Item{Image: im, Label: c + a.offset, ID: rec.ID}, nil
}

// Rand implements worker.Component.
func (a *Assembler) Rand() *rand.Rand { return a.rng }

// SetRand implements worker.Component and cascades to every stream.
func (a *Assembler) SetRand(r *rand.Rand) {
	if r == nil {
		return
	}
	a.rng = r
	for _, s := range a.streams {
		s.SetRand(r)
	}
}

// Components implements worker.Composite.
func (a *Assembler) Components() []worker.Component {
	out := make([]worker.Component, len(a.streams))
	for i, s := range a.streams {
		out[i] = s
	}
	return out
}
