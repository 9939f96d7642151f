package records

import (
	"context"
	"io"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisPageSize is the number of list elements fetched per LRANGE.
const DefaultRedisPageSize = 64

// RedisSource reads one Redis list per category, stored at key
// "<prefix>:<category>". Each element is an encoded example (EncodeExample).
type RedisSource struct {
	client   redis.UniversalClient
	prefix   string
	pageSize int64
}

// NewRedisSource creates a RedisSource. pageSize <= 0 selects DefaultRedisPageSize.
func NewRedisSource(client redis.UniversalClient, prefix string, pageSize int) *RedisSource {
	if pageSize <= 0 {
		pageSize = DefaultRedisPageSize
	}
	return &RedisSource{client: client, prefix: prefix, pageSize: int64(pageSize)}
}

// Key returns the list key of a category.
func (s *RedisSource) Key(category string) string {
	return s.prefix + ":" + category
}

// Categories lists the categories stored under the prefix, sorted.
func (s *RedisSource) Categories(ctx context.Context) ([]string, error) {
	var out []string
	iter := s.client.Scan(ctx, 0, s.prefix+":*", 0).Iterator()
	for iter.Next(ctx) {
		out = append(out, strings.TrimPrefix(iter.Val(), s.prefix+":"))
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to SCAN %s:*", s.prefix)
	}
	sort.Strings(out)
	return out, nil
}

// Push appends records to a category list.
func (s *RedisSource) Push(ctx context.Context, category string, recs ...SampleRecord) error {
	if len(recs) == 0 {
		return nil
	}
	vals := make([]any, len(recs))
	for i, rec := range recs {
		vals[i] = EncodeExample(rec)
	}
	if err := s.client.RPush(ctx, s.Key(category), vals...).Err(); err != nil {
		return errors.Wrapf(err, "failed to push to %s", s.Key(category))
	}
	return nil
}

// Open implements RecordSource. The returned iterator keeps at most one page
// of elements in memory. Redis does not tell a missing list from an empty
// one, so both yield an iterator that is exhausted right away.
func (s *RedisSource) Open(ctx context.Context, category string) (RecordIterator, error) {
	return &redisIterator{ctx: ctx, src: s, key: s.Key(category)}, nil
}

// Count implements RecordSource.
func (s *RedisSource) Count(ctx context.Context, category string) (int, error) {
	n, err := s.client.LLen(ctx, s.Key(category)).Result()
	if err != nil {
		return 0, errors.Wrapf(err, "failed to LLEN %s", s.Key(category))
	}
	return int(n), nil
}

type redisIterator struct {
	ctx   context.Context
	src   *RedisSource
	key   string
	page  []string
	idx   int
	start int64
	done  bool
}

func (it *redisIterator) Next() (SampleRecord, error) {
	if it.idx >= len(it.page) {
		if it.done {
			return SampleRecord{}, io.EOF
		}
		vals, err := it.src.client.LRange(it.ctx, it.key, it.start, it.start+it.src.pageSize-1).Result()
		if err != nil {
			return SampleRecord{}, errors.Wrapf(err, "failed to LRANGE %s", it.key)
		}
		if int64(len(vals)) < it.src.pageSize {
			it.done = true
		}
		if len(vals) == 0 {
			return SampleRecord{}, io.EOF
		}
		it.page = vals
		it.idx = 0
		it.start += int64(len(vals))
	}
	pos := int(it.start) - len(it.page) + it.idx
	rec, err := DecodeExample([]byte(it.page[it.idx]), pos)
	it.idx++
	if err != nil {
		return SampleRecord{}, errors.Wrapf(err, "%s element %d", it.key, pos)
	}
	return rec, nil
}

func (it *redisIterator) Close() error {
	it.page = nil
	it.done = true
	return nil
}
