package episode

import (
	"math/rand"

	"github.com/pkg/errors"

	"github.com/Noofbiz/metaloader/worker"
)

// Source is a pull-based, infinite stream of episodes from one dataset
// source: every Next samples a description and assembles it.
type Source struct {
	name    string
	sampler Sampler
	asm     *Assembler
	rng     *rand.Rand
}

// NewSource creates an episode source. The generator is shared with the
// assembler and its streams.
func NewSource(name string, sampler Sampler, asm *Assembler, rng *rand.Rand) (*Source, error) {
	if sampler == nil || asm == nil {
		return nil, errors.New("episode: sampler and assembler are required")
	}
	if rng == nil {
		return nil, worker.ErrNilRand
	}
	s := &Source{name: name, sampler: sampler, asm: asm}
	s.SetRand(rng)
	return s, nil
}

// Name returns the name of the source.
func (s *Source) Name() string { return s.name }

// Assembler returns the underlying assembler.
func (s *Source) Assembler() *Assembler { return s.asm }

// MaxSizes forwards the sampler bounds.
func (s *Source) MaxSizes() (support, query int) { return s.sampler.MaxSizes() }

// Next samples and assembles one episode.
func (s *Source) Next() (*Episode, error) {
	desc, err := s.sampler.Sample(s.rng)
	if err != nil {
		return nil, errors.Wrapf(err, "source %s: sample description", s.name)
	}
	ep, err := s.asm.Assemble(desc)
	if err != nil {
		return nil, errors.Wrapf(err, "source %s: assemble %v", s.name, desc)
	}
	return ep, nil
}

// Rand implements worker.Component.
func (s *Source) Rand() *rand.Rand { return s.rng }

// SetRand implements worker.Component.
func (s *Source) SetRand(r *rand.Rand) {
	if r == nil {
		return
	}
	s.rng = r
	s.asm.SetRand(r)
}

// Components implements worker.Composite.
func (s *Source) Components() []worker.Component {
	return []worker.Component{s.asm}
}
