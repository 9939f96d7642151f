package datasets

import (
	"github.com/gomlx/gomlx/pkg/ml/train"
)

// This package wires the streaming pieces (records -> stream -> episode/batch
// assemblers -> multiplexer) into ready-to-use pipelines, and exposes them to
// GoMLX training loops.
//
// Pipelines are infinite and pull-based: nothing is produced until a consumer
// asks for it, and every replica owns its streams and random generator. The
// Loader runs several replicas concurrently when throughput matters.
//
// Layout and intended usage:
//
// MakeEpisodePipeline
//   - One episode.Source per dataset source, multiplexed uniformly.
//   - Emits *episode.Episode values with episode-local labels.
//
// MakeBatchPipeline
//   - One batch.Assembler per dataset source, multiplexed uniformly.
//   - Labels are offset by the running class count of the previous sources.
//
// EpisodeDataset / BatchDataset
//   - Adapt any Puller to GoMLX's train.Dataset. Images become float32
//     tensors shaped [N, C, H, W]; labels become int32 tensors shaped [N].

// Puller is the pull-based contract shared by multiplexers and loaders.
type Puller[T any] interface {
	Next() (T, error)
}

// Compile-time interface assertions
var (
	_ train.Dataset = (*EpisodeDataset)(nil)
	_ train.Dataset = (*BatchDataset)(nil)
)
