// Package stream turns a category's finite record sequence into an infinite,
// memory-bounded cyclic stream.
//
// A CategoryStream never buffers records it already yielded. When the
// underlying pass is exhausted it closes the iterator and opens a new pass
// over the same category, so memory does not grow with the number of pulls
// or the number of completed cycles. The only buffering is the optional
// fixed-size shuffle queue.
package stream

import (
	"context"
	"io"
	"math/rand"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/Noofbiz/metaloader/records"
)

var (
	// ErrNilRand is returned when a stream is built without a random generator.
	ErrNilRand = errors.New("stream: random generator is required")
	// ErrEmptyCategory is returned when a fresh pass over a category yields no
	// record, which would otherwise make the stream spin forever.
	ErrEmptyCategory = errors.New("stream: category has no records")
)

// State of a CategoryStream.
type State int

const (
	// StateActive means the current pass has records left (or is unknown yet).
	StateActive State = iota
	// StateRestarting means the current pass was exhausted and the next pull
	// will open a new one.
	StateRestarting
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateRestarting:
		return "restarting"
	}
	return "unknown"
}

// Option configures a CategoryStream.
type Option func(*CategoryStream)

// WithShuffleQueue enables a shuffle queue of n records. Records are emitted
// in a random order drawn from the stream's generator, within a window of n.
func WithShuffleQueue(n int) Option {
	return func(s *CategoryStream) {
		if n > 1 {
			s.queueSize = n
		}
	}
}

// CategoryStream is an infinite cyclic view over one category of a RecordSource.
type CategoryStream struct {
	ctx      context.Context
	source   records.RecordSource
	category string
	rng      *rand.Rand

	it    records.RecordIterator
	state State
	// pulled counts records read in the current pass.
	pulled int
	cycles int

	queueSize int
	queue     []records.SampleRecord
}

// New creates a stream over category. The iterator is opened lazily on the
// first pull. ctx is passed to every Open of the source.
func New(ctx context.Context, source records.RecordSource, category string, rng *rand.Rand, opts ...Option) (*CategoryStream, error) {
	if source == nil {
		return nil, errors.New("stream: source cannot be nil")
	}
	if rng == nil {
		return nil, errors.Wrapf(ErrNilRand, "category %q", category)
	}
	s := &CategoryStream{
		ctx:      ctx,
		source:   source,
		category: category,
		rng:      rng,
		state:    StateRestarting,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.queueSize > 0 {
		s.queue = make([]records.SampleRecord, 0, s.queueSize)
	}
	return s, nil
}

// Category returns the category id of the stream.
func (s *CategoryStream) Category() string { return s.category }

// State returns the current state.
func (s *CategoryStream) State() State { return s.state }

// QueueSize returns the size of the shuffle queue, 0 when disabled.
func (s *CategoryStream) QueueSize() int { return s.queueSize }

// Cycles returns the number of completed passes.
func (s *CategoryStream) Cycles() int { return s.cycles }

// Rand returns the generator used by the stream.
func (s *CategoryStream) Rand() *rand.Rand { return s.rng }

// SetRand replaces the generator. Nil is ignored.
func (s *CategoryStream) SetRand(r *rand.Rand) {
	if r != nil {
		s.rng = r
	}
}

// Next returns the next record, restarting the pass on exhaustion.
func (s *CategoryStream) Next() (records.SampleRecord, error) {
	if s.queueSize == 0 {
		return s.pull()
	}
	for len(s.queue) < s.queueSize {
		rec, err := s.pull()
		if err != nil {
			return records.SampleRecord{}, err
		}
		s.queue = append(s.queue, rec)
	}
	i := s.rng.Intn(len(s.queue))
	rec := s.queue[i]
	last := len(s.queue) - 1
	s.queue[i] = s.queue[last]
	s.queue[last] = records.SampleRecord{}
	s.queue = s.queue[:last]
	return rec, nil
}

// pull reads one record from the source in file order.
func (s *CategoryStream) pull() (records.SampleRecord, error) {
	for {
		if s.state == StateRestarting {
			if err := s.restart(); err != nil {
				return records.SampleRecord{}, err
			}
		}
		rec, err := s.it.Next()
		if err == nil {
			s.pulled++
			return rec, nil
		}
		if err != io.EOF {
			return records.SampleRecord{}, errors.Wrapf(err, "category %q", s.category)
		}
		if s.pulled == 0 {
			return records.SampleRecord{}, errors.Wrapf(ErrEmptyCategory, "category %q", s.category)
		}
		s.cycles++
		s.state = StateRestarting
		klog.V(2).Infof("stream %q: pass %d exhausted after %d records, restarting", s.category, s.cycles, s.pulled)
	}
}

func (s *CategoryStream) restart() error {
	if s.it != nil {
		if err := s.it.Close(); err != nil {
			klog.Warningf("stream %q: closing iterator: %v", s.category, err)
		}
		s.it = nil
	}
	it, err := s.source.Open(s.ctx, s.category)
	if err != nil {
		return errors.Wrapf(err, "failed to open category %q", s.category)
	}
	s.it = it
	s.pulled = 0
	s.state = StateActive
	return nil
}

// Close releases the current iterator. The stream may be used again after
// Close; the next pull starts a new pass.
func (s *CategoryStream) Close() error {
	s.state = StateRestarting
	s.queue = s.queue[:0]
	if s.it == nil {
		return nil
	}
	err := s.it.Close()
	s.it = nil
	return err
}
