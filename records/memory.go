package records

import (
	"context"
	"io"

	"github.com/pkg/errors"
)

// MemorySource is a RecordSource backed by in-memory slices.
type MemorySource struct {
	categories map[string][]SampleRecord
}

// NewMemorySource creates an empty MemorySource.
func NewMemorySource() *MemorySource {
	return &MemorySource{categories: make(map[string][]SampleRecord)}
}

// Add appends records to a category, creating it if needed.
func (m *MemorySource) Add(category string, recs ...SampleRecord) {
	m.categories[category] = append(m.categories[category], recs...)
}

// Categories returns the number of categories stored.
func (m *MemorySource) Categories() int {
	return len(m.categories)
}

// Open implements RecordSource.
func (m *MemorySource) Open(_ context.Context, category string) (RecordIterator, error) {
	recs, ok := m.categories[category]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownCategory, "open %q", category)
	}
	return &memoryIterator{recs: recs}, nil
}

// Count implements RecordSource.
func (m *MemorySource) Count(_ context.Context, category string) (int, error) {
	recs, ok := m.categories[category]
	if !ok {
		return 0, errors.Wrapf(ErrUnknownCategory, "count %q", category)
	}
	return len(recs), nil
}

type memoryIterator struct {
	recs []SampleRecord
	pos  int
}

func (it *memoryIterator) Next() (SampleRecord, error) {
	if it.pos >= len(it.recs) {
		return SampleRecord{}, io.EOF
	}
	rec := it.recs[it.pos]
	it.pos++
	return rec, nil
}

func (it *memoryIterator) Close() error {
	it.recs = nil
	return nil
}
