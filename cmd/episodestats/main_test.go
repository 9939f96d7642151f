package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/Noofbiz/metaloader/records"
)

func parseFlags(t *testing.T, args ...string) *cliFlags {
	t.Helper()
	fs := flag.NewFlagSet("episodestats", flag.ContinueOnError)
	c := newCLIFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse %v: %v", args, err)
	}
	return c
}

func TestFlagsOverrideJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	if err := os.WriteFile(path, []byte(`{"episode": {"ways": 10, "shots": 3}, "loader": {"workers": 2}}`), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	c := parseFlags(t, "-config", path, "-shots", "2", "-mean", "0.5,0.5,0.5", "-std", "0.25,0.25,0.25")
	cfg, err := c.config()
	if err != nil {
		t.Fatalf("config error: %v", err)
	}
	// ways and workers come from JSON, shots from the flag
	if cfg.Episode.Ways != 10 || cfg.Episode.Shots != 2 || cfg.Loader.Workers != 2 {
		t.Fatalf("unexpected merged config %+v", cfg)
	}
	if len(cfg.Data.Mean) != 3 || cfg.Data.Std[2] != 0.25 {
		t.Fatalf("unexpected normalization %v / %v", cfg.Data.Mean, cfg.Data.Std)
	}

	c = parseFlags(t, "-mean", "0.5,0.5")
	if _, err := c.config(); err == nil {
		t.Fatalf("expected error for mean without std")
	}
	c = parseFlags(t, "-std", "x")
	if _, err := c.config(); err == nil {
		t.Fatalf("expected error for malformed std")
	}
}

func writeFixture(t *testing.T, dir, name string, classes, perClass int) {
	t.Helper()
	root := filepath.Join(dir, name)
	if err := os.MkdirAll(root, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	ids := make([]string, classes)
	for c := range classes {
		ids[c] = fmt.Sprintf("c%d", c)
		recs := make([]records.SampleRecord, perClass)
		for i := range recs {
			img := image.NewGray(image.Rect(0, 0, 3, 3))
			img.Set(1, 1, color.Gray{Y: uint8(c*40 + i)})
			var buf bytes.Buffer
			if err := png.Encode(&buf, img); err != nil {
				t.Fatalf("png: %v", err)
			}
			recs[i] = records.SampleRecord{ID: fmt.Sprintf("%s-%d-%d", name, c, i), Raw: buf.Bytes(), Label: int64(c)}
		}
		if err := records.WriteTFRecordFile(filepath.Join(root, ids[c]+".tfrecords"), recs); err != nil {
			t.Fatalf("write tfrecord: %v", err)
		}
	}
	spec := records.DatasetSpec{
		Name:        name,
		Path:        root,
		FilePattern: "{}.tfrecords",
		Classes:     map[records.Split][]string{records.SplitTrain: ids},
	}
	b, _ := json.Marshal(spec)
	if err := os.WriteFile(filepath.Join(dir, name+".json"), b, 0644); err != nil {
		t.Fatalf("write spec: %v", err)
	}
}

func TestRunEpisodesAndBatches(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "alpha", 3, 5)
	writeFixture(t, dir, "beta", 4, 5)

	c := parseFlags(t, "-specs", dir, "-workers", "2", "-ways", "2", "-shots", "1", "-queries", "2",
		"-image-size", "2", "-batch-size", "4", "-shuffle-queue", "2")
	cfg, err := c.config()
	if err != nil {
		t.Fatalf("config error: %v", err)
	}
	ctx := context.Background()
	sources, release, err := c.loadSources(ctx)
	if err != nil {
		t.Fatalf("loadSources error: %v", err)
	}
	defer release()
	if len(sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(sources))
	}

	r := newReport("episode", []string{sources[0].Name, sources[1].Name})
	if err := runEpisodes(ctx, sources, cfg, 40, r); err != nil {
		t.Fatalf("runEpisodes error: %v", err)
	}
	if r.episodes != 40 || r.ways[2] != 40 {
		t.Fatalf("unexpected episode report: %d episodes, ways %v", r.episodes, r.ways)
	}
	// episode-local labels only
	if len(r.labels) != 2 {
		t.Fatalf("expected labels {0,1}, got %v", r.labels)
	}
	if r.tensorBytes != 40*6*3*2*2*4 {
		t.Fatalf("unexpected tensor bytes %d", r.tensorBytes)
	}

	r = newReport("batch", []string{sources[0].Name, sources[1].Name})
	if err := runBatches(ctx, sources, cfg, 10, r); err != nil {
		t.Fatalf("runBatches error: %v", err)
	}
	if r.batches != 10 || r.items != 40 {
		t.Fatalf("unexpected batch report: %d batches, %d items", r.batches, r.items)
	}
	for l := range r.labels {
		if l < 0 || l >= 7 {
			t.Fatalf("label %d outside [0,7)", l)
		}
	}

	out := filepath.Join(t.TempDir(), "plots")
	if err := r.plot(out); err != nil {
		t.Fatalf("plot error: %v", err)
	}
	for _, name := range []string{"batch_sources.png", "batch_labels.png"} {
		if fi, err := os.Stat(filepath.Join(out, name)); err != nil || fi.Size() == 0 {
			t.Fatalf("missing plot %s: %v", name, err)
		}
	}
}

func TestLoadSourcesEmptyDir(t *testing.T) {
	c := parseFlags(t, "-specs", t.TempDir())
	if _, _, err := c.loadSources(context.Background()); err == nil {
		t.Fatalf("expected error for a directory without dataset specs")
	}
}
