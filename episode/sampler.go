package episode

import (
	"math/rand"

	"github.com/pkg/errors"
)

// Sampler decides what an episode is made of. Implementations must draw
// all their randomness from the generator they are given.
type Sampler interface {
	Sample(rng *rand.Rand) (Description, error)
	// MaxSizes bounds the support and query set sizes of any sampled episode,
	// for preallocation.
	MaxSizes() (support, query int)
}

// UniformSampler draws Ways distinct categories uniformly among those holding
// at least Shots + Queries records, with fixed shot and query counts.
type UniformSampler struct {
	Ways, Shots, Queries int

	eligible []int
}

// NewUniformSampler creates a UniformSampler for a source whose categories
// hold capacities[i] records.
func NewUniformSampler(capacities []int, ways, shots, queries int) (*UniformSampler, error) {
	if ways < 1 || shots < 1 || queries < 1 {
		return nil, errors.Wrapf(ErrInvalidCount, "ways=%d shots=%d queries=%d", ways, shots, queries)
	}
	var eligible []int
	for c, n := range capacities {
		if n >= shots+queries {
			eligible = append(eligible, c)
		}
	}
	if len(eligible) < ways {
		return nil, errors.Wrapf(ErrInsufficientSamples,
			"%d-way %d-shot %d-query needs %d categories with %d records, found %d",
			ways, shots, queries, ways, shots+queries, len(eligible))
	}
	return &UniformSampler{Ways: ways, Shots: shots, Queries: queries, eligible: eligible}, nil
}

// Sample implements Sampler.
func (u *UniformSampler) Sample(rng *rand.Rand) (Description, error) {
	if rng == nil {
		return nil, errors.New("episode: sampler needs a random generator")
	}
	pool := make([]int, len(u.eligible))
	copy(pool, u.eligible)
	// partial Fisher-Yates
	desc := make(Description, u.Ways)
	for i := range u.Ways {
		j := i + rng.Intn(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
		desc[i] = Entry{Category: pool[i], NumSupport: u.Shots, NumQuery: u.Queries}
	}
	return desc, nil
}

// MaxSizes implements Sampler.
func (u *UniformSampler) MaxSizes() (support, query int) {
	return u.Ways * u.Shots, u.Ways * u.Queries
}
