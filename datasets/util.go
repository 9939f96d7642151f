package datasets

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

func parseFloat32(s string) (float32, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty string")
	}
	v, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return 0, err
	}
	return float32(v), nil
}

// ParseFloatList parses a comma separated list such as "0.485,0.456,0.406".
// An empty string yields a nil slice.
func ParseFloatList(s string) ([]float32, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		v, err := parseFloat32(p)
		if err != nil {
			return nil, errors.Wrapf(err, "value %d of %q", i, s)
		}
		out[i] = v
	}
	return out, nil
}

// WriteCountsCSV writes one row per name with its count under a header.
func WriteCountsCSV(path, header string, names []string, counts []int) error {
	if len(names) != len(counts) {
		return errors.Errorf("%d names but %d counts", len(names), len(counts))
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{header, "count"}); err != nil {
		return err
	}
	for i, name := range names {
		if err := w.Write([]string{name, strconv.Itoa(counts[i])}); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}
