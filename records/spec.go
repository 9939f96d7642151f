package records

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrShardedLayout is returned for file patterns describing several shards
	// per class. Only one file per class is supported.
	ErrShardedLayout = errors.New("records: sharded files are not supported, one file per class is expected")
	// ErrUnsupportedPattern is returned for file patterns that don't start with "{}".
	ErrUnsupportedPattern = errors.New("records: unsupported file pattern")
	// ErrNoClasses is returned when a split has no classes.
	ErrNoClasses = errors.New("records: split has no classes")
)

// Split identifies a meta-split of a dataset.
type Split string

const (
	SplitTrain Split = "train"
	SplitValid Split = "valid"
	SplitTest  Split = "test"
)

// ParseSplit converts a string to a Split.
func ParseSplit(s string) (Split, error) {
	switch Split(strings.ToLower(strings.TrimSpace(s))) {
	case SplitTrain:
		return SplitTrain, nil
	case SplitValid, "validation":
		return SplitValid, nil
	case SplitTest:
		return SplitTest, nil
	}
	return "", errors.Errorf("unknown split %q", s)
}

// DatasetSpec describes where a dataset source lives on disk and which
// classes belong to each split.
type DatasetSpec struct {
	Name string `json:"name"`
	// Path is the directory holding the class files. When empty it defaults
	// to the directory of the spec file.
	Path string `json:"path"`
	// FilePattern maps a class id to a file name, e.g. "{}.tfrecords".
	FilePattern    string             `json:"file_pattern"`
	Classes        map[Split][]string `json:"classes"`
	ImagesPerClass map[string]int     `json:"images_per_class,omitempty"`
}

// ClassFile pairs a class id with its record file.
type ClassFile struct {
	Class string
	Path  string
}

// LoadDatasetSpec reads a JSON dataset specification.
func LoadDatasetSpec(path string) (*DatasetSpec, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read dataset spec %s", path)
	}
	var spec DatasetSpec
	if err := json.Unmarshal(b, &spec); err != nil {
		return nil, errors.Wrapf(err, "failed to parse dataset spec %s", path)
	}
	if spec.Path == "" {
		spec.Path = filepath.Dir(path)
	}
	if spec.Name == "" {
		spec.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return &spec, nil
}

// FindDatasetSpecs returns the JSON specs found in dir.
func FindDatasetSpecs(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, errors.Errorf("no dataset specs found in %s", dir)
	}
	return matches, nil
}

// GetClasses returns the class ids of a split in their declared order.
func (s *DatasetSpec) GetClasses(split Split) ([]string, error) {
	classes := s.Classes[split]
	if len(classes) == 0 {
		return nil, errors.Wrapf(ErrNoClasses, "%s/%s", s.Name, split)
	}
	return classes, nil
}

// ClassFiles resolves the record file of every class of a split. The file
// pattern is checked before anything is opened so that layout errors surface
// at setup time.
func (s *DatasetSpec) ClassFiles(split Split) ([]ClassFile, error) {
	if err := checkFilePattern(s.FilePattern); err != nil {
		return nil, errors.Wrapf(err, "dataset %s", s.Name)
	}
	classes, err := s.GetClasses(split)
	if err != nil {
		return nil, err
	}
	out := make([]ClassFile, len(classes))
	for i, c := range classes {
		out[i] = ClassFile{
			Class: c,
			Path:  filepath.Join(s.Path, strings.Replace(s.FilePattern, "{}", c, 1)),
		}
	}
	return out, nil
}

func checkFilePattern(pattern string) error {
	switch {
	case strings.HasPrefix(pattern, "{}_{}"):
		return ErrShardedLayout
	case strings.HasPrefix(pattern, "{}"):
		return nil
	}
	return errors.Wrapf(ErrUnsupportedPattern, "%q, expected something starting with \"{}\" or \"{}_{}\"", pattern)
}
