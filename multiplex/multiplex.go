// Package multiplex interleaves several independent dataset sources into one
// infinite stream. Every pull chooses a source uniformly at random, regardless
// of source size, and forwards exactly one pull to it.
package multiplex

import (
	"math/rand"

	"github.com/pkg/errors"

	"github.com/Noofbiz/metaloader/worker"
)

// Source is a pull-based stream of T drawing from a replica generator.
type Source[T any] interface {
	worker.Component
	Next() (T, error)
}

// Multiplexer picks one of its sources per pull.
type Multiplexer[T any] struct {
	sources []Source[T]
	counts  []int
	rng     *rand.Rand
}

// Compile-time interface assertion
var _ worker.Composite = (*Multiplexer[int])(nil)

// New creates a Multiplexer. The generator is installed on every source.
func New[T any](rng *rand.Rand, sources ...Source[T]) (*Multiplexer[T], error) {
	if len(sources) == 0 {
		return nil, errors.New("multiplex: at least one source is required")
	}
	for i, s := range sources {
		if s == nil {
			return nil, errors.Errorf("multiplex: source %d is nil", i)
		}
	}
	if rng == nil {
		return nil, worker.ErrNilRand
	}
	m := &Multiplexer[T]{
		sources: sources,
		counts:  make([]int, len(sources)),
	}
	m.SetRand(rng)
	return m, nil
}

// Next pulls one item from a uniformly chosen source.
func (m *Multiplexer[T]) Next() (T, error) {
	i, v, err := m.NextFrom()
	if err != nil {
		return v, errors.Wrapf(err, "source %d", i)
	}
	return v, nil
}

// NextFrom is Next that also reports which source produced the item.
func (m *Multiplexer[T]) NextFrom() (int, T, error) {
	i := m.rng.Intn(len(m.sources))
	m.counts[i]++
	v, err := m.sources[i].Next()
	return i, v, err
}

// Len returns the number of sources.
func (m *Multiplexer[T]) Len() int { return len(m.sources) }

// Source returns source i.
func (m *Multiplexer[T]) Source(i int) Source[T] { return m.sources[i] }

// Counts returns the number of pulls forwarded to each source.
func (m *Multiplexer[T]) Counts() []int {
	out := make([]int, len(m.counts))
	copy(out, m.counts)
	return out
}

// Rand implements worker.Component.
func (m *Multiplexer[T]) Rand() *rand.Rand { return m.rng }

// SetRand implements worker.Component and cascades to every source.
func (m *Multiplexer[T]) SetRand(r *rand.Rand) {
	if r == nil {
		return
	}
	m.rng = r
	for _, s := range m.sources {
		s.SetRand(r)
	}
}

// Components implements worker.Composite.
func (m *Multiplexer[T]) Components() []worker.Component {
	out := make([]worker.Component, len(m.sources))
	for i, s := range m.sources {
		out[i] = s
	}
	return out
}
