// Package records defines the stored sample unit and the RecordSource
// capability every storage backend has to satisfy in order to feed category
// streams.
//
// A RecordSource is opened once per pass over a category. Exhaustion of a pass
// is reported with io.EOF from RecordIterator.Next; callers that want an
// infinite view (see package stream) simply open the category again.
//
// Three backends are provided:
//   - MemorySource keeps records in memory (tests, tiny datasets).
//   - TFRecordSource reads one TFRecord file per category.
//   - RedisSource reads one Redis list per category in fixed-size pages.
package records

import (
	"context"

	"github.com/pkg/errors"
)

var (
	// ErrUnknownCategory is returned when a source has no data for a category.
	ErrUnknownCategory = errors.New("records: unknown category")
	// ErrCorruptRecord is returned when a stored record fails framing or
	// checksum validation.
	ErrCorruptRecord = errors.New("records: corrupt record")
	// ErrMissingFeature is returned when a stored example lacks a required feature.
	ErrMissingFeature = errors.New("records: missing feature")
)

// SampleRecord is the opaque unit read from storage. ID is unique within its
// category; Raw holds the encoded image bytes.
type SampleRecord struct {
	ID    string
	Raw   []byte
	Label int64
}

// RecordIterator walks one pass over a category's records.
type RecordIterator interface {
	// Next returns the next record, or io.EOF once the pass is exhausted.
	Next() (SampleRecord, error)
	Close() error
}

// RecordSource is the storage capability behind category streams.
type RecordSource interface {
	// Open starts a new pass over the category from its first record. It may
	// be called any number of times.
	Open(ctx context.Context, category string) (RecordIterator, error)

	// Count returns the number of records physically available for the category.
	Count(ctx context.Context, category string) (int, error)
}
