package datasets

import (
	"context"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"k8s.io/klog/v2"

	"github.com/Noofbiz/metaloader/batch"
	"github.com/Noofbiz/metaloader/episode"
	"github.com/Noofbiz/metaloader/imaging"
	"github.com/Noofbiz/metaloader/multiplex"
	"github.com/Noofbiz/metaloader/records"
	"github.com/Noofbiz/metaloader/stream"
	"github.com/Noofbiz/metaloader/worker"
)

// SourceSpec describes one dataset source of a pipeline.
type SourceSpec struct {
	Name    string
	Source  records.RecordSource
	Classes []string

	// NewSampler builds the episode description sampler of the source from
	// its category capacities. Nil selects a UniformSampler from the config.
	NewSampler func(capacities []int) (episode.Sampler, error)
}

// TFRecordSource builds a SourceSpec reading one TFRecord file per class.
// File pattern errors are returned here, before any stream is opened.
func TFRecordSource(spec *records.DatasetSpec, split records.Split) (SourceSpec, error) {
	src, classes, err := records.NewTFRecordSourceFromSpec(spec, split)
	if err != nil {
		return SourceSpec{}, err
	}
	return SourceSpec{Name: spec.Name, Source: src, Classes: classes}, nil
}

// RedisSource builds a SourceSpec reading one Redis list per class.
func RedisSource(client redis.UniversalClient, prefix, name string, classes []string) SourceSpec {
	return SourceSpec{
		Name:    name,
		Source:  records.NewRedisSource(client, prefix, 0),
		Classes: classes,
	}
}

// openStreams creates the category streams of a source and measures the
// capacity of every category.
func openStreams(ctx context.Context, src SourceSpec, cfg DataConfig, w *worker.Context) ([]*stream.CategoryStream, []int, error) {
	if src.Source == nil {
		return nil, nil, errors.Errorf("source %s: no record source", src.Name)
	}
	if len(src.Classes) == 0 {
		return nil, nil, errors.Wrapf(records.ErrNoClasses, "source %s", src.Name)
	}
	streams := make([]*stream.CategoryStream, len(src.Classes))
	caps := make([]int, len(src.Classes))
	for i, class := range src.Classes {
		n, err := src.Source.Count(ctx, class)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "source %s", src.Name)
		}
		if n == 0 {
			return nil, nil, errors.Wrapf(stream.ErrEmptyCategory, "source %s class %q", src.Name, class)
		}
		s, err := stream.New(ctx, src.Source, class, w.Rand, stream.WithShuffleQueue(cfg.ShuffleQueue))
		if err != nil {
			return nil, nil, err
		}
		streams[i] = s
		caps[i] = n
	}
	klog.V(1).Infof("%s: source %s has %d classes", w, src.Name, len(streams))
	return streams, caps, nil
}

// MakeEpisodePipeline returns the episode stream of one replica: one
// episode.Source per dataset source, multiplexed uniformly.
func MakeEpisodePipeline(ctx context.Context, sources []SourceSpec, cfg Config, decoder imaging.Decoder,
	w *worker.Context) (*multiplex.Multiplexer[*episode.Episode], error) {
	if len(sources) == 0 {
		return nil, errors.New("datasets: no sources")
	}
	transform := cfg.Data.Transform()
	eps := make([]multiplex.Source[*episode.Episode], 0, len(sources))
	for _, src := range sources {
		streams, caps, err := openStreams(ctx, src, cfg.Data, w)
		if err != nil {
			return nil, err
		}
		asm, err := episode.NewAssembler(streams, caps, decoder, transform, w.Rand,
			episode.WithRejectLimit(cfg.Data.RejectLimit))
		if err != nil {
			return nil, errors.Wrapf(err, "source %s", src.Name)
		}
		var sampler episode.Sampler
		if src.NewSampler != nil {
			sampler, err = src.NewSampler(caps)
		} else {
			sampler, err = episode.NewUniformSampler(caps, cfg.Episode.Ways, cfg.Episode.Shots, cfg.Episode.Queries)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "source %s: sampler", src.Name)
		}
		es, err := episode.NewSource(src.Name, sampler, asm, w.Rand)
		if err != nil {
			return nil, err
		}
		eps = append(eps, es)
	}
	m, err := multiplex.New(w.Rand, eps...)
	if err != nil {
		return nil, err
	}
	if err := worker.Verify(m, w.Rand); err != nil {
		return nil, err
	}
	return m, nil
}

// MakeBatchPipeline returns the batch item stream of one replica and the
// total number of classes over all sources. Source i labels its classes
// starting at the class count of sources 0..i-1.
func MakeBatchPipeline(ctx context.Context, sources []SourceSpec, cfg Config, decoder imaging.Decoder,
	w *worker.Context) (*multiplex.Multiplexer[batch.Item], int, error) {
	if len(sources) == 0 {
		return nil, 0, errors.New("datasets: no sources")
	}
	transform := cfg.Data.Transform()
	offset := 0
	bs := make([]multiplex.Source[batch.Item], 0, len(sources))
	for _, src := range sources {
		streams, _, err := openStreams(ctx, src, cfg.Data, w)
		if err != nil {
			return nil, 0, err
		}
		asm, err := batch.NewAssembler(src.Name, streams, decoder, transform, offset, w.Rand)
		if err != nil {
			return nil, 0, errors.Wrapf(err, "source %s", src.Name)
		}
		bs = append(bs, asm)
		offset += asm.NumClasses()
	}
	m, err := multiplex.New(w.Rand, bs...)
	if err != nil {
		return nil, 0, err
	}
	if err := worker.Verify(m, w.Rand); err != nil {
		return nil, 0, err
	}
	return m, offset, nil
}
