package episode

import (
	"math/rand"

	"github.com/pkg/errors"

	"github.com/Noofbiz/metaloader/imaging"
	"github.com/Noofbiz/metaloader/records"
	"github.com/Noofbiz/metaloader/stream"
	"github.com/Noofbiz/metaloader/worker"
)

// AssemblerOption configures an Assembler.
type AssemblerOption func(*Assembler)

// WithRejectLimit sets the number of consecutive duplicate draws tolerated
// while looking for one new record. n <= 0 keeps the default, which is
// derived from the category capacity.
func WithRejectLimit(n int) AssemblerOption {
	return func(a *Assembler) {
		if n > 0 {
			a.rejectLimit = n
		}
	}
}

// Assembler builds episodes out of one source's category streams.
type Assembler struct {
	streams    []*stream.CategoryStream
	capacities []int
	decoder    imaging.Decoder
	transform  imaging.Transform
	rng        *rand.Rand

	rejectLimit int
}

// NewAssembler creates an Assembler. capacities[i] is the number of unique
// records available in streams[i]. transform may be nil.
func NewAssembler(streams []*stream.CategoryStream, capacities []int, decoder imaging.Decoder,
	transform imaging.Transform, rng *rand.Rand, opts ...AssemblerOption) (*Assembler, error) {
	if len(streams) == 0 {
		return nil, errors.New("episode: no category streams")
	}
	if len(capacities) != len(streams) {
		return nil, errors.Errorf("episode: %d capacities for %d streams", len(capacities), len(streams))
	}
	if decoder == nil {
		return nil, errors.New("episode: decoder cannot be nil")
	}
	if rng == nil {
		return nil, worker.ErrNilRand
	}
	if transform == nil {
		transform = imaging.Identity
	}
	a := &Assembler{
		streams:    streams,
		capacities: capacities,
		decoder:    decoder,
		transform:  transform,
		rng:        rng,
	}
	for _, opt := range opts {
		opt(a)
	}
	for _, s := range streams {
		s.SetRand(rng)
	}
	return a, nil
}

// NumClasses returns the number of categories of the source.
func (a *Assembler) NumClasses() int { return len(a.streams) }

// Capacities returns the number of unique records per category.
func (a *Assembler) Capacities() []int { return a.capacities }

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

// Assemble realizes desc. For every entry, in order, it rejection-samples
// NumSupport then NumQuery records whose ids were not drawn yet for that
// entry's category in this episode. Labels follow the first-appearance order
// of categories in desc.
func (a *Assembler) Assemble(desc Description) (*Episode, error) {
	if err := desc.Validate(a.capacities); err != nil {
		return nil, err
	}
	classes := desc.Classes()
	labels := make(map[int]int, len(classes))
	for i, c := range classes {
		labels[c] = i
	}

	nSupport, nQuery := desc.Sizes()
	ep := &Episode{
		SupportImages: make([]*imaging.Image, 0, nSupport),
		SupportLabels: make([]int, 0, nSupport),
		SupportIDs:    make([]string, 0, nSupport),
		QueryImages:   make([]*imaging.Image, 0, nQuery),
		QueryLabels:   make([]int, 0, nQuery),
		QueryIDs:      make([]string, 0, nQuery),
		Categories:    classes,
	}

	for _, e := range desc {
		used := make(map[string]struct{}, e.NumSupport+e.NumQuery)
		label := labels[e.Category]
		for range e.NumSupport {
			rec, im, err := a.drawUnique(e.Category, used)
			if err != nil {
				return nil, err
			}
			ep.SupportImages = append(ep.SupportImages, im)
			ep.SupportLabels = append(ep.SupportLabels, label)
			ep.SupportIDs = append(ep.SupportIDs, rec.ID)
		}
		for range e.NumQuery {
			rec, im, err := a.drawUnique(e.Category, used)
			if err != nil {
				return nil, err
			}
			ep.QueryImages = append(ep.QueryImages, im)
			ep.QueryLabels = append(ep.QueryLabels, label)
			ep.QueryIDs = append(ep.QueryIDs, rec.ID)
		}
	}
	return ep, nil
}

// defaultRejectLimit bounds consecutive duplicate draws for a category of
// capacity records behind a shuffle queue of queueSize. Behind a queue at
// least as large as the category, the last unused record comes up about once
// every capacity draws.
func defaultRejectLimit(capacity, queueSize int) int {
	return 16*(capacity+queueSize) + 64
}

// drawUnique pulls from a category until a record not in used comes up,
// then decodes and transforms it.
func (a *Assembler) drawUnique(category int, used map[string]struct{}) (records.SampleRecord, *imaging.Image, error) {
	s := a.streams[category]
	limit := a.rejectLimit
	if limit == 0 {
		limit = defaultRejectLimit(a.capacities[category], s.QueueSize())
	}
	for rejected := 0; ; {
		rec, err := s.Next()
		if err != nil {
			return records.SampleRecord{}, nil, err
		}
		if _, dup := used[rec.ID]; dup {
			rejected++
			if rejected > limit {
				return records.SampleRecord{}, nil, errors.Wrapf(ErrRejectionLimit,
					"category %q: %d duplicates in a row, %d ids used", s.Category(), rejected, len(used))
			}
			continue
		}
		used[rec.ID] = struct{}{}

		im, err := a.decoder.Decode(rec.Raw)
		if err != nil {
			return records.SampleRecord{}, nil, errors.Wrapf(err, "category %q record %s", s.Category(), rec.ID)
		}
		if im, err = a.transform(im); err != nil {
			return records.SampleRecord{}, nil, errors.Wrapf(err, "transform category %q record %s", s.Category(), rec.ID)
		}
		return rec, im, nil
	}
}
