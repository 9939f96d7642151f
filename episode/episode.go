// Package episode realizes episode descriptions into concrete support and
// query sets with per-category sample uniqueness.
//
// What to sample (ways, shots, categories) is decided by a Sampler; this
// package only decides how a description is turned into unique items.
package episode

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/Noofbiz/metaloader/imaging"
)

var (
	ErrEmptyDescription  = errors.New("episode: empty description")
	ErrUnknownCategory   = errors.New("episode: category out of range")
	ErrDuplicateCategory = errors.New("episode: category appears more than once")
	ErrInvalidCount      = errors.New("episode: support and query counts must be positive")
	// ErrInsufficientSamples is returned when a category can't provide
	// n_support + n_query unique records. Assembling such a description would
	// never terminate.
	ErrInsufficientSamples = errors.New("episode: not enough unique samples in category")
	// ErrRejectionLimit is returned when rejection sampling keeps drawing
	// already used records past the configured limit.
	ErrRejectionLimit = errors.New("episode: rejection sampling limit reached")
)

// Entry asks for NumSupport + NumQuery unique samples of one category.
type Entry struct {
	Category   int
	NumSupport int
	NumQuery   int
}

// Description is the ordered list of entries composing one episode.
type Description []Entry

// Classes returns the categories in order of first appearance. The position
// of a category in this list is its episode-local label.
func (d Description) Classes() []int {
	seen := make(map[int]struct{}, len(d))
	out := make([]int, 0, len(d))
	for _, e := range d {
		if _, ok := seen[e.Category]; ok {
			continue
		}
		seen[e.Category] = struct{}{}
		out = append(out, e.Category)
	}
	return out
}

// Sizes returns the total number of support and query samples.
func (d Description) Sizes() (support, query int) {
	for _, e := range d {
		support += e.NumSupport
		query += e.NumQuery
	}
	return support, query
}

// Validate checks d against the number of unique records available per
// category. It must pass before any record is drawn.
func (d Description) Validate(capacities []int) error {
	if len(d) == 0 {
		return ErrEmptyDescription
	}
	seen := make(map[int]struct{}, len(d))
	for i, e := range d {
		if e.Category < 0 || e.Category >= len(capacities) {
			return errors.Wrapf(ErrUnknownCategory, "entry %d: category %d, have %d", i, e.Category, len(capacities))
		}
		if _, ok := seen[e.Category]; ok {
			return errors.Wrapf(ErrDuplicateCategory, "entry %d: category %d", i, e.Category)
		}
		seen[e.Category] = struct{}{}
		if e.NumSupport < 1 || e.NumQuery < 1 {
			return errors.Wrapf(ErrInvalidCount, "entry %d: support=%d query=%d", i, e.NumSupport, e.NumQuery)
		}
		if need := e.NumSupport + e.NumQuery; need > capacities[e.Category] {
			return errors.Wrapf(ErrInsufficientSamples, "entry %d: category %d needs %d, has %d",
				i, e.Category, need, capacities[e.Category])
		}
	}
	return nil
}

func (d Description) String() string {
	return fmt.Sprintf("%d-way %v", len(d), []Entry(d))
}

// Episode is one assembled task. Labels are episode-local in [0, Way()) and
// aligned positionally with the images; IDs are the record ids drawn.
type Episode struct {
	SupportImages []*imaging.Image
	SupportLabels []int
	SupportIDs    []string

	QueryImages []*imaging.Image
	QueryLabels []int
	QueryIDs    []string

	// Categories maps episode-local labels back to source category indices.
	Categories []int
}

// Way returns the number of distinct categories of the episode.
func (e *Episode) Way() int { return len(e.Categories) }
