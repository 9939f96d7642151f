package datasets

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/pkg/errors"
)

func TestParseFloatList(t *testing.T) {
	got, err := ParseFloatList(" 0.5, 0.25 ,1")
	if err != nil {
		t.Fatalf("ParseFloatList error: %v", err)
	}
	want := []float32{0.5, 0.25, 1}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
	if got, err := ParseFloatList(""); err != nil || got != nil {
		t.Fatalf("empty list: got %v, %v", got, err)
	}
	if _, err := ParseFloatList("0.5,,1"); err == nil {
		t.Fatalf("expected error for empty value")
	}
	if _, err := ParseFloatList("0.5,x"); !errors.Is(err, strconv.ErrSyntax) {
		t.Fatalf("expected strconv.ErrSyntax behind the wrapped error, got %v", err)
	}
}

func TestWriteCountsCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "counts.csv")
	if err := WriteCountsCSV(path, "source", []string{"a", "b"}, []int{3, 4}); err != nil {
		t.Fatalf("WriteCountsCSV error: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got, want := string(b), "source,count\na,3\nb,4\n"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if err := WriteCountsCSV(path, "source", []string{"a"}, nil); err == nil {
		t.Fatalf("expected error for mismatched lengths")
	}
}
