package datasets

import (
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"

	"github.com/Noofbiz/metaloader/batch"
	"github.com/Noofbiz/metaloader/episode"
)

// EpisodeDataset adapts an episode stream to GoMLX's train.Dataset. Every
// Yield returns one episode, which is also passed as the spec value.
type EpisodeDataset struct {
	name string
	src  Puller[*episode.Episode]
}

// NewEpisodeDataset wraps src.
func NewEpisodeDataset(name string, src Puller[*episode.Episode]) *EpisodeDataset {
	return &EpisodeDataset{name: name, src: src}
}

// Name implements train.Dataset.
func (d *EpisodeDataset) Name() string { return d.name }

// Reset implements train.Dataset. Episode streams are infinite, there is no
// epoch to restart.
func (d *EpisodeDataset) Reset() {}

// Yield implements train.Dataset. inputs are the support and query image
// tensors, labels the matching episode-local label tensors.
func (d *EpisodeDataset) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	ep, err := d.src.Next()
	if err != nil {
		return nil, nil, nil, err
	}
	inputs, labels, err = EpisodeTensors(ep)
	if err != nil {
		return nil, nil, nil, err
	}
	return ep, inputs, labels, nil
}

// BatchDataset adapts a batch item stream to GoMLX's train.Dataset, stacking
// BatchSize items per Yield.
type BatchDataset struct {
	name string
	src  Puller[batch.Item]

	// BatchSize for yielding batches
	BatchSize int
	// NumClasses is the total number of classes over all sources.
	NumClasses int
}

// NewBatchDataset wraps src.
func NewBatchDataset(name string, src Puller[batch.Item], batchSize, numClasses int) (*BatchDataset, error) {
	if batchSize < 1 {
		return nil, errors.Errorf("batch size must be >= 1, got %d", batchSize)
	}
	return &BatchDataset{name: name, src: src, BatchSize: batchSize, NumClasses: numClasses}, nil
}

// Name implements train.Dataset.
func (d *BatchDataset) Name() string { return d.name }

// Reset implements train.Dataset.
func (d *BatchDataset) Reset() {}

// Yield implements train.Dataset.
func (d *BatchDataset) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	items := make([]batch.Item, d.BatchSize)
	for i := range items {
		if items[i], err = d.src.Next(); err != nil {
			return nil, nil, nil, err
		}
	}
	flat, err := MakeItemBatchFlat(items)
	if err != nil {
		return nil, nil, nil, err
	}
	in, la, err := flat.ToGomlxTensors()
	if err != nil {
		return nil, nil, nil, err
	}
	return nil, []*tensors.Tensor{in}, []*tensors.Tensor{la}, nil
}
