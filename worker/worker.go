// Package worker isolates randomness between parallel replicas of a pipeline.
//
// Every replica owns one *rand.Rand seeded from (base seed, worker index).
// Pipeline components take that generator at construction time and expose
// it through Component so that a replica can be reseeded in one call and its
// wiring verified before the first draw.
package worker

import (
	"fmt"
	"math/rand"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	// ErrUnwired is returned by Verify when a component does not use the
	// replica's generator.
	ErrUnwired = errors.New("worker: component is not wired to the replica generator")
	// ErrNilRand is returned when a nil generator is bound.
	ErrNilRand = errors.New("worker: random generator is required")
)

// Component is anything drawing from a random generator.
type Component interface {
	Rand() *rand.Rand
	// SetRand replaces the generator. Composites cascade it to every owned
	// component before returning.
	SetRand(r *rand.Rand)
}

// Composite is a Component owning other components.
type Composite interface {
	Component
	Components() []Component
}

// Context carries the identity and generator of one replica.
type Context struct {
	BaseSeed int64
	Index    int
	// ID correlates the log lines of one replica.
	ID   string
	Rand *rand.Rand
}

// Seed returns the seed of worker index for a base seed.
func Seed(base int64, index int) int64 {
	return base + int64(index)
}

// NewContext creates the context of replica index.
func NewContext(baseSeed int64, index int) *Context {
	return &Context{
		BaseSeed: baseSeed,
		Index:    index,
		ID:       uuid.NewString(),
		Rand:     rand.New(rand.NewSource(Seed(baseSeed, index))),
	}
}

func (c *Context) String() string {
	return fmt.Sprintf("worker %d (seed %d, %s)", c.Index, Seed(c.BaseSeed, c.Index), c.ID)
}

// Bind installs the context generator on root and verifies the whole tree.
func (c *Context) Bind(root Component) error {
	if c.Rand == nil {
		return ErrNilRand
	}
	root.SetRand(c.Rand)
	return Verify(root, c.Rand)
}

// Reseed replaces the context generator with a new one seeded from seed and
// binds it to root.
func (c *Context) Reseed(root Component, seed int64) error {
	c.BaseSeed = seed
	c.Rand = rand.New(rand.NewSource(Seed(seed, c.Index)))
	return c.Bind(root)
}

// Verify walks the component tree and checks every component uses r.
func Verify(root Component, r *rand.Rand) error {
	return verify(root, r, "root")
}

func verify(c Component, r *rand.Rand, path string) error {
	if c.Rand() != r {
		return errors.Wrapf(ErrUnwired, "%s (%T)", path, c)
	}
	comp, ok := c.(Composite)
	if !ok {
		return nil
	}
	for i, child := range comp.Components() {
		if err := verify(child, r, fmt.Sprintf("%s/%d", path, i)); err != nil {
			return err
		}
	}
	return nil
}
