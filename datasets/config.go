package datasets

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkg/errors"

	"github.com/Noofbiz/metaloader/imaging"
)

// DefaultConfigJSON holds the default pipeline configuration. Config files
// only need to list the values they change.
const DefaultConfigJSON = `{
  "data": {
    "shuffle_queue": 0,
    "image_size": 84,
    "reject_limit": 0
  },
  "episode": {
    "ways": 5,
    "shots": 1,
    "queries": 15
  },
  "loader": {
    "workers": 4,
    "seed": 2024,
    "buffer": 8,
    "batch_size": 64
  }
}`

// Config is the full pipeline configuration.
type Config struct {
	Data    DataConfig    `json:"data"`
	Episode EpisodeConfig `json:"episode"`
	Loader  LoaderConfig  `json:"loader"`
}

// DataConfig controls reading and preprocessing.
type DataConfig struct {
	// ShuffleQueue is the per-category shuffle window, 0 to read in storage order.
	ShuffleQueue int `json:"shuffle_queue"`
	// ImageSize resizes images to ImageSize x ImageSize, 0 keeps them as decoded.
	ImageSize int `json:"image_size"`
	// Mean and Std normalize channels when both are set.
	Mean []float32 `json:"mean,omitempty"`
	Std  []float32 `json:"std,omitempty"`
	// RejectLimit bounds consecutive duplicate draws in episode assembly,
	// 0 derives it from the category and shuffle queue sizes.
	RejectLimit int `json:"reject_limit"`
}

// EpisodeConfig parametrizes the default uniform episode sampler.
type EpisodeConfig struct {
	Ways    int `json:"ways"`
	Shots   int `json:"shots"`
	Queries int `json:"queries"`
}

// LoaderConfig controls replicas and batching.
type LoaderConfig struct {
	Workers   int   `json:"workers"`
	Seed      int64 `json:"seed"`
	Buffer    int   `json:"buffer"`
	BatchSize int   `json:"batch_size"`
}

// DefaultConfig returns the parsed DefaultConfigJSON.
func DefaultConfig() Config {
	var cfg Config
	if err := json.Unmarshal([]byte(DefaultConfigJSON), &cfg); err != nil {
		panic(fmt.Sprintf("datasets: invalid default config: %v", err))
	}
	return cfg
}

// LoadConfig reads a JSON config file on top of the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "failed to read config %s", path)
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "failed to parse config %s", path)
	}
	return cfg, cfg.Validate()
}

// Validate checks the configuration for values no pipeline can run with.
func (c Config) Validate() error {
	switch {
	case c.Data.ShuffleQueue < 0:
		return errors.Errorf("config: negative shuffle_queue %d", c.Data.ShuffleQueue)
	case c.Data.ImageSize < 0:
		return errors.Errorf("config: negative image_size %d", c.Data.ImageSize)
	case len(c.Data.Mean) != len(c.Data.Std):
		return errors.Errorf("config: mean has %d values, std has %d", len(c.Data.Mean), len(c.Data.Std))
	case c.Episode.Ways < 1 || c.Episode.Shots < 1 || c.Episode.Queries < 1:
		return errors.Errorf("config: ways, shots and queries must be positive, got %d/%d/%d",
			c.Episode.Ways, c.Episode.Shots, c.Episode.Queries)
	case c.Loader.Workers < 1:
		return errors.Errorf("config: workers must be positive, got %d", c.Loader.Workers)
	case c.Loader.Buffer < 0:
		return errors.Errorf("config: negative buffer %d", c.Loader.Buffer)
	case c.Loader.BatchSize < 1:
		return errors.Errorf("config: batch_size must be positive, got %d", c.Loader.BatchSize)
	}
	return nil
}

// Transform builds the preprocessing transform described by the config.
func (d DataConfig) Transform() imaging.Transform {
	var ts []imaging.Transform
	if d.ImageSize > 0 {
		ts = append(ts, imaging.Resize(d.ImageSize, d.ImageSize))
	}
	if len(d.Mean) > 0 {
		ts = append(ts, imaging.Normalize(d.Mean, d.Std))
	}
	if len(ts) == 0 {
		return imaging.Identity
	}
	return imaging.Compose(ts...)
}
