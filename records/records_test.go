package records

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

func makeRecords(class string, n int) []SampleRecord {
	recs := make([]SampleRecord, n)
	for i := range n {
		recs[i] = SampleRecord{
			ID:    fmt.Sprintf("%s-%d", class, i),
			Raw:   []byte(fmt.Sprintf("payload-%s-%d", class, i)),
			Label: int64(i % 3),
		}
	}
	return recs
}

// drain reads a full pass from an iterator.
func drain(t *testing.T, it RecordIterator) []SampleRecord {
	t.Helper()
	defer it.Close()
	var out []SampleRecord
	for {
		rec, err := it.Next()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("Next error: %v", err)
		}
		out = append(out, rec)
	}
}

func sameRecords(t *testing.T, got, want []SampleRecord) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %d records, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i].ID != want[i].ID || string(got[i].Raw) != string(want[i].Raw) || got[i].Label != want[i].Label {
			t.Fatalf("record %d mismatch: got %+v want %+v", i, got[i], want[i])
		}
	}
}

func TestExampleRoundTripWithoutID(t *testing.T) {
	rec := SampleRecord{Raw: []byte{1, 2, 3}, Label: 42}
	got, err := DecodeExample(EncodeExample(rec), 7)
	if err != nil {
		t.Fatalf("DecodeExample error: %v", err)
	}
	if got.ID != "7" {
		t.Fatalf("expected positional id 7, got %q", got.ID)
	}
	if got.Label != 42 || string(got.Raw) != string(rec.Raw) {
		t.Fatalf("unexpected record %+v", got)
	}
}

func TestDecodeExampleMissingImage(t *testing.T) {
	_, err := DecodeExample([]byte{}, 0)
	if !errors.Is(err, ErrMissingFeature) {
		t.Fatalf("expected ErrMissingFeature, got %v", err)
	}
}

func TestTFRecordSourceReadAndCount(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "cat.tfrecords")
	want := makeRecords("cat", 5)
	if err := WriteTFRecordFile(path, want); err != nil {
		t.Fatalf("WriteTFRecordFile error: %v", err)
	}

	src := NewTFRecordSource(map[string]string{"cat": path})
	ctx := context.Background()

	n, err := src.Count(ctx, "cat")
	if err != nil {
		t.Fatalf("Count error: %v", err)
	}
	if n != 5 {
		t.Fatalf("expected 5 records, got %d", n)
	}

	// two passes must return identical records
	for pass := 0; pass < 2; pass++ {
		it, err := src.Open(ctx, "cat")
		if err != nil {
			t.Fatalf("Open error: %v", err)
		}
		sameRecords(t, drain(t, it), want)
	}

	if _, err := src.Open(ctx, "dog"); !errors.Is(err, ErrUnknownCategory) {
		t.Fatalf("expected ErrUnknownCategory, got %v", err)
	}
}

func TestTFRecordCorruptPayload(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "bad.tfrecords")
	if err := WriteTFRecordFile(path, makeRecords("bad", 2)); err != nil {
		t.Fatalf("WriteTFRecordFile error: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	// flip a payload byte of the first record (after the 12 byte header)
	b[14] ^= 0xff
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	src := NewTFRecordSource(map[string]string{"bad": path})
	it, err := src.Open(context.Background(), "bad")
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer it.Close()
	if _, err := it.Next(); !errors.Is(err, ErrCorruptRecord) {
		t.Fatalf("expected ErrCorruptRecord, got %v", err)
	}
}

func TestTFRecordUndecodablePayloadKeepsPositions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mixed.tfrecords")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	tw := NewTFRecordWriter(f)
	// framing is valid for all three, the middle payload is not an example
	for _, payload := range [][]byte{
		EncodeExample(SampleRecord{Raw: []byte{1}, Label: 1}),
		{0xff},
		EncodeExample(SampleRecord{Raw: []byte{3}, Label: 3}),
	} {
		if err := tw.WriteRaw(payload); err != nil {
			t.Fatalf("WriteRaw error: %v", err)
		}
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	it, err := NewTFRecordSource(map[string]string{"m": path}).Open(context.Background(), "m")
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer it.Close()
	if rec, err := it.Next(); err != nil || rec.ID != "0" {
		t.Fatalf("first record = %+v, %v; want id 0", rec, err)
	}
	if _, err := it.Next(); !errors.Is(err, ErrCorruptRecord) {
		t.Fatalf("expected ErrCorruptRecord, got %v", err)
	}
	if rec, err := it.Next(); err != nil || rec.ID != "2" {
		t.Fatalf("third record = %+v, %v; want id 2", rec, err)
	}
}

func TestTFRecordTruncatedCount(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "short.tfrecords")
	if err := WriteTFRecordFile(path, makeRecords("short", 3)); err != nil {
		t.Fatalf("WriteTFRecordFile error: %v", err)
	}
	b, _ := os.ReadFile(path)
	if err := os.WriteFile(path, b[:len(b)-3], 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := countTFRecords(path); !errors.Is(err, ErrCorruptRecord) {
		t.Fatalf("expected ErrCorruptRecord for truncated file, got %v", err)
	}
}

func TestDatasetSpecFilePatterns(t *testing.T) {
	tests := []struct {
		pattern string
		wantErr error
	}{
		{"{}.tfrecords", nil},
		{"{}_{}.tfrecords", ErrShardedLayout},
		{"class-{}.tfrecords", ErrUnsupportedPattern},
	}
	for _, tt := range tests {
		spec := &DatasetSpec{
			Name:        "omniglot",
			Path:        "/data/omniglot",
			FilePattern: tt.pattern,
			Classes:     map[Split][]string{SplitTrain: {"0", "1"}},
		}
		files, err := spec.ClassFiles(SplitTrain)
		if tt.wantErr != nil {
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("pattern %q: expected %v, got %v", tt.pattern, tt.wantErr, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("pattern %q: unexpected error %v", tt.pattern, err)
		}
		if len(files) != 2 || files[1].Path != filepath.Join("/data/omniglot", "1.tfrecords") {
			t.Fatalf("pattern %q: unexpected files %+v", tt.pattern, files)
		}
	}
}

func TestLoadDatasetSpecDefaults(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "birds.json")
	js := `{"file_pattern": "{}.tfrecords", "classes": {"train": ["a", "b"], "test": ["c"]}}`
	if err := os.WriteFile(path, []byte(js), 0o644); err != nil {
		t.Fatalf("write spec: %v", err)
	}
	spec, err := LoadDatasetSpec(path)
	if err != nil {
		t.Fatalf("LoadDatasetSpec error: %v", err)
	}
	if spec.Name != "birds" || spec.Path != tmp {
		t.Fatalf("unexpected defaults: name=%q path=%q", spec.Name, spec.Path)
	}
	if _, err := spec.GetClasses(SplitValid); !errors.Is(err, ErrNoClasses) {
		t.Fatalf("expected ErrNoClasses for empty split, got %v", err)
	}

	src, classes, err := NewTFRecordSourceFromSpec(spec, SplitTrain)
	if err != nil {
		t.Fatalf("NewTFRecordSourceFromSpec error: %v", err)
	}
	if len(classes) != 2 || classes[0] != "a" {
		t.Fatalf("unexpected classes %v", classes)
	}
	if p, _ := src.path("b"); p != filepath.Join(tmp, "b.tfrecords") {
		t.Fatalf("unexpected path %q", p)
	}
}

func TestRedisSourcePaging(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	// page size smaller than the list so several LRANGE calls are needed
	src := NewRedisSource(client, "fewshot", 3)
	want := makeRecords("fox", 8)
	if err := src.Push(ctx, "fox", want...); err != nil {
		t.Fatalf("Push error: %v", err)
	}

	n, err := src.Count(ctx, "fox")
	if err != nil || n != 8 {
		t.Fatalf("Count = %d, %v; want 8", n, err)
	}

	for pass := 0; pass < 2; pass++ {
		it, err := src.Open(ctx, "fox")
		if err != nil {
			t.Fatalf("Open error: %v", err)
		}
		sameRecords(t, drain(t, it), want)
	}

	// a missing list is an empty pass, the stream above reports it
	it, err := src.Open(ctx, "owl")
	if err != nil {
		t.Fatalf("Open of a missing list: %v", err)
	}
	if _, err := it.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF from a missing list, got %v", err)
	}
	it.Close()

	if err := src.Push(ctx, "cat", makeRecords("cat", 1)...); err != nil {
		t.Fatalf("Push error: %v", err)
	}
	mr.Set("other:key", "x")
	cats, err := src.Categories(ctx)
	if err != nil {
		t.Fatalf("Categories error: %v", err)
	}
	if len(cats) != 2 || cats[0] != "cat" || cats[1] != "fox" {
		t.Fatalf("Categories = %v, want [cat fox]", cats)
	}
}

func TestMemorySource(t *testing.T) {
	src := NewMemorySource()
	want := makeRecords("x", 4)
	src.Add("x", want...)

	n, err := src.Count(context.Background(), "x")
	if err != nil || n != 4 {
		t.Fatalf("Count = %d, %v; want 4", n, err)
	}
	it, err := src.Open(context.Background(), "x")
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	sameRecords(t, drain(t, it), want)
}
