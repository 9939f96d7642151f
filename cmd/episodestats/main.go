// Command episodestats builds the episode or batch pipeline over a set of
// dataset sources, pulls from it with several replicas and reports what it
// produced: throughput, per-source and per-label counts, plus bar charts.
//
// Usage:
//
//	episodestats -specs ./records -split train -mode episode -n 500
//	episodestats -redis localhost:6379 -redis-prefix omniglot -mode batch
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/redis/go-redis/v9"
	"k8s.io/klog/v2"

	"github.com/Noofbiz/metaloader/batch"
	"github.com/Noofbiz/metaloader/datasets"
	"github.com/Noofbiz/metaloader/episode"
	"github.com/Noofbiz/metaloader/imaging"
	"github.com/Noofbiz/metaloader/multiplex"
	"github.com/Noofbiz/metaloader/records"
	"github.com/Noofbiz/metaloader/worker"
)

// cliFlags holds the command line. Config values are only taken from flags
// the user actually set, so a JSON config is not overwritten by defaults.
type cliFlags struct {
	fs *flag.FlagSet

	configPath  *string
	specs       *string
	split       *string
	redisAddr   *string
	redisPrefix *string
	mode        *string
	n           *int
	out         *string
	outCSV      *string
	printConfig *bool

	workers      *int
	seed         *int64
	buffer       *int
	batchSize    *int
	ways         *int
	shots        *int
	queries      *int
	shuffleQueue *int
	imageSize    *int
	rejectLimit  *int
	mean         *string
	std          *string
}

func newCLIFlags(fs *flag.FlagSet) *cliFlags {
	def := datasets.DefaultConfig()
	return &cliFlags{
		fs:          fs,
		configPath:  fs.String("config", "", "path to a JSON pipeline config (optional, values override the defaults)"),
		specs:       fs.String("specs", "records", "directory holding dataset spec JSON files (TFRecord backend)"),
		split:       fs.String("split", "train", "split to read: train, valid or test"),
		redisAddr:   fs.String("redis", "", "read records from this Redis server instead of TFRecord files"),
		redisPrefix: fs.String("redis-prefix", "fewshot", "key prefix of the Redis category lists, also used as the source name"),
		mode:        fs.String("mode", "episode", "pipeline to run: episode or batch"),
		n:           fs.Int("n", 200, "number of episodes or batches to pull"),
		out:         fs.String("out", "plots", "output directory for generated plots (empty to skip)"),
		outCSV:      fs.String("out-csv", "", "if set, write per-source counts to this CSV path"),
		printConfig: fs.Bool("print-effective-config", false, "print the effective (JSON+CLI merged) configuration and exit"),

		workers:      fs.Int("workers", def.Loader.Workers, "number of pipeline replicas"),
		seed:         fs.Int64("seed", def.Loader.Seed, "base random seed, replica i uses seed+i"),
		buffer:       fs.Int("buffer", def.Loader.Buffer, "items buffered between the replicas and the consumer"),
		batchSize:    fs.Int("batch-size", def.Loader.BatchSize, "items per batch in batch mode"),
		ways:         fs.Int("ways", def.Episode.Ways, "categories per episode"),
		shots:        fs.Int("shots", def.Episode.Shots, "support records per category"),
		queries:      fs.Int("queries", def.Episode.Queries, "query records per category"),
		shuffleQueue: fs.Int("shuffle-queue", def.Data.ShuffleQueue, "per-category shuffle window, 0 reads in storage order"),
		imageSize:    fs.Int("image-size", def.Data.ImageSize, "resize images to NxN, 0 keeps decoded size"),
		rejectLimit:  fs.Int("reject-limit", def.Data.RejectLimit, "max consecutive duplicate draws, 0 derives it from the category and shuffle queue sizes"),
		mean:         fs.String("mean", "", "comma-separated per-channel mean for normalization"),
		std:          fs.String("std", "", "comma-separated per-channel std for normalization"),
	}
}

// config loads the JSON config and applies the flags set on the command line.
func (c *cliFlags) config() (datasets.Config, error) {
	cfg, err := datasets.LoadConfig(*c.configPath)
	if err != nil {
		return cfg, err
	}
	var ferr error
	c.fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "workers":
			cfg.Loader.Workers = *c.workers
		case "seed":
			cfg.Loader.Seed = *c.seed
		case "buffer":
			cfg.Loader.Buffer = *c.buffer
		case "batch-size":
			cfg.Loader.BatchSize = *c.batchSize
		case "ways":
			cfg.Episode.Ways = *c.ways
		case "shots":
			cfg.Episode.Shots = *c.shots
		case "queries":
			cfg.Episode.Queries = *c.queries
		case "shuffle-queue":
			cfg.Data.ShuffleQueue = *c.shuffleQueue
		case "image-size":
			cfg.Data.ImageSize = *c.imageSize
		case "reject-limit":
			cfg.Data.RejectLimit = *c.rejectLimit
		case "mean":
			if cfg.Data.Mean, err = datasets.ParseFloatList(*c.mean); err != nil && ferr == nil {
				ferr = fmt.Errorf("-mean: %w", err)
			}
		case "std":
			if cfg.Data.Std, err = datasets.ParseFloatList(*c.std); err != nil && ferr == nil {
				ferr = fmt.Errorf("-std: %w", err)
			}
		}
	})
	if ferr != nil {
		return cfg, ferr
	}
	return cfg, cfg.Validate()
}

// loadSources opens the dataset sources named on the command line. The
// returned function releases them.
func (c *cliFlags) loadSources(ctx context.Context) ([]datasets.SourceSpec, func(), error) {
	if *c.redisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: *c.redisAddr})
		classes, err := records.NewRedisSource(client, *c.redisPrefix, 0).Categories(ctx)
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		klog.Infof("Redis %s: found %d categories under %s", *c.redisAddr, len(classes), *c.redisPrefix)
		src := datasets.RedisSource(client, *c.redisPrefix, *c.redisPrefix, classes)
		return []datasets.SourceSpec{src}, func() { client.Close() }, nil
	}

	split, err := records.ParseSplit(*c.split)
	if err != nil {
		return nil, nil, err
	}
	paths, err := records.FindDatasetSpecs(*c.specs)
	if err != nil {
		return nil, nil, err
	}
	var sources []datasets.SourceSpec
	for _, path := range paths {
		spec, err := records.LoadDatasetSpec(path)
		if err != nil {
			return nil, nil, err
		}
		src, err := datasets.TFRecordSource(spec, split)
		if err != nil {
			return nil, nil, fmt.Errorf("dataset spec %s: %w", path, err)
		}
		klog.Infof("Using dataset %s: %d %s classes", spec.Name, len(src.Classes), split)
		sources = append(sources, src)
	}
	if len(sources) == 0 {
		return nil, nil, fmt.Errorf("no dataset specs found in %s", *c.specs)
	}
	return sources, func() {}, nil
}

// tagged pairs a pipeline output with the index of the source it came from.
type tagged[T any] struct {
	src int
	v   T
}

// tagger makes a multiplexer report its source index with every item.
type tagger[T any] struct {
	*multiplex.Multiplexer[T]
}

func (t tagger[T]) Next() (tagged[T], error) {
	i, v, err := t.NextFrom()
	return tagged[T]{src: i, v: v}, err
}

// float32Bytes is the size of a float32 tensor's data.
func float32Bytes(t *tensors.Tensor) int64 {
	n := int64(4)
	for _, d := range t.Shape().Dimensions {
		n *= int64(d)
	}
	return n
}

func runEpisodes(ctx context.Context, sources []datasets.SourceSpec, cfg datasets.Config, n int, r *report) error {
	build := func(ctx context.Context, w *worker.Context) (tagger[*episode.Episode], error) {
		m, err := datasets.MakeEpisodePipeline(ctx, sources, cfg, imaging.StdDecoder{}, w)
		return tagger[*episode.Episode]{m}, err
	}
	l := datasets.NewLoader[tagged[*episode.Episode]](ctx, cfg.Loader.Workers, cfg.Loader.Seed, cfg.Loader.Buffer, build)
	defer l.Close()

	for i := 0; i < n; i++ {
		t, w, err := l.NextFrom()
		if err != nil {
			return fmt.Errorf("episode %d: %w", i, err)
		}
		inputs, _, err := datasets.EpisodeTensors(t.v)
		if err != nil {
			return fmt.Errorf("episode %d: %w", i, err)
		}
		r.addEpisode(t.src, w, t.v)
		for _, in := range inputs {
			r.tensorBytes += float32Bytes(in)
		}
		r.maybeLog()
	}
	return l.Close()
}

func runBatches(ctx context.Context, sources []datasets.SourceSpec, cfg datasets.Config, n int, r *report) error {
	build := func(ctx context.Context, w *worker.Context) (tagger[batch.Item], error) {
		m, _, err := datasets.MakeBatchPipeline(ctx, sources, cfg, imaging.StdDecoder{}, w)
		return tagger[batch.Item]{m}, err
	}
	l := datasets.NewLoader[tagged[batch.Item]](ctx, cfg.Loader.Workers, cfg.Loader.Seed, cfg.Loader.Buffer, build)
	defer l.Close()

	items := make([]batch.Item, cfg.Loader.BatchSize)
	for i := 0; i < n; i++ {
		for j := range items {
			t, w, err := l.NextFrom()
			if err != nil {
				return fmt.Errorf("batch %d: %w", i, err)
			}
			r.addItem(t.src, w, t.v)
			items[j] = t.v
		}
		flat, err := datasets.MakeItemBatchFlat(items)
		if err != nil {
			return fmt.Errorf("batch %d: %w", i, err)
		}
		in, _, err := flat.ToGomlxTensors()
		if err != nil {
			return fmt.Errorf("batch %d: %w", i, err)
		}
		r.tensorBytes += float32Bytes(in)
		r.batches++
		r.maybeLog()
	}
	return l.Close()
}

func main() {
	klog.InitFlags(nil)
	c := newCLIFlags(flag.CommandLine)
	flag.Parse()
	defer klog.Flush()

	cfg, err := c.config()
	if err != nil {
		klog.Fatalf("invalid configuration: %v", err)
	}
	if *c.printConfig {
		b, err := json.MarshalIndent(struct {
			datasets.Config
			Mode  string `json:"mode"`
			N     int    `json:"n"`
			Split string `json:"split"`
		}{cfg, *c.mode, *c.n, *c.split}, "", "  ")
		if err != nil {
			klog.Fatalf("failed to marshal effective config: %v", err)
		}
		fmt.Println(string(b))
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	sources, release, err := c.loadSources(ctx)
	if err != nil {
		klog.Fatalf("failed to load sources: %v", err)
	}
	defer release()

	names := make([]string, len(sources))
	for i, s := range sources {
		names[i] = s.Name
	}
	r := newReport(*c.mode, names)

	start := time.Now()
	switch *c.mode {
	case "episode":
		err = runEpisodes(ctx, sources, cfg, *c.n, r)
	case "batch":
		err = runBatches(ctx, sources, cfg, *c.n, r)
	default:
		klog.Fatalf("unknown mode %q, want episode or batch", *c.mode)
	}
	r.elapsed = time.Since(start)
	if err != nil {
		klog.Errorf("pipeline stopped: %v", err)
	}
	r.log()

	if *c.outCSV != "" {
		if err := datasets.WriteCountsCSV(*c.outCSV, "source", r.sources, r.perSource); err != nil {
			klog.Errorf("failed to write %s: %v", *c.outCSV, err)
		} else {
			klog.Infof("Wrote per-source counts to %s", *c.outCSV)
		}
	}
	if *c.out != "" {
		if err := r.plot(*c.out); err != nil {
			klog.Errorf("failed to write plots: %v", err)
		} else {
			klog.Infof("Wrote plots to %s", *c.out)
		}
	}
	if err != nil {
		klog.Flush()
		os.Exit(1)
	}
}
