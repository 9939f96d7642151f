package main

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"k8s.io/klog/v2"

	"github.com/Noofbiz/metaloader/batch"
	"github.com/Noofbiz/metaloader/episode"
)

// progressEvery controls how often maybeLog reports, in pulled episodes or
// batches.
const progressEvery = 100

// report accumulates what the pipeline produced.
type report struct {
	mode      string
	sources   []string
	perSource []int
	perWorker map[int]int
	labels    map[int]int
	ways      map[int]int

	episodes    int
	batches     int
	items       int
	images      int
	tensorBytes int64
	elapsed     time.Duration
	start       time.Time
}

func newReport(mode string, sources []string) *report {
	return &report{
		mode:      mode,
		sources:   sources,
		perSource: make([]int, len(sources)),
		perWorker: make(map[int]int),
		labels:    make(map[int]int),
		ways:      make(map[int]int),
		start:     time.Now(),
	}
}

func (r *report) addEpisode(src, worker int, ep *episode.Episode) {
	r.episodes++
	r.perSource[src]++
	r.perWorker[worker]++
	r.ways[ep.Way()]++
	for _, l := range ep.SupportLabels {
		r.labels[l]++
	}
	for _, l := range ep.QueryLabels {
		r.labels[l]++
	}
	r.images += len(ep.SupportImages) + len(ep.QueryImages)
}

func (r *report) addItem(src, worker int, it batch.Item) {
	r.items++
	r.perSource[src]++
	r.perWorker[worker]++
	r.labels[it.Label]++
	r.images++
}

// pulled is the number of episodes or batches seen so far.
func (r *report) pulled() int {
	if r.mode == "batch" {
		return r.batches
	}
	return r.episodes
}

func (r *report) maybeLog() {
	if n := r.pulled(); n > 0 && n%progressEvery == 0 {
		elapsed := time.Since(r.start)
		klog.Infof("[%s] %s pulled, %s images, %s/s", r.mode, humanize.Comma(int64(n)),
			humanize.Comma(int64(r.images)), humanize.CommafWithDigits(float64(n)/elapsed.Seconds(), 1))
	}
}

func (r *report) log() {
	n := r.pulled()
	rate := 0.0
	if s := r.elapsed.Seconds(); s > 0 {
		rate = float64(n) / s
	}
	klog.Infof("%s %s in %v (%s/s), %s images, %s of tensors", humanize.Comma(int64(n)), r.mode, r.elapsed.Round(time.Millisecond),
		humanize.CommafWithDigits(rate, 1), humanize.Comma(int64(r.images)), humanize.Bytes(uint64(r.tensorBytes)))
	for i, name := range r.sources {
		share := 0.0
		if total := r.totalPerSource(); total > 0 {
			share = float64(r.perSource[i]) / float64(total)
		}
		klog.Infof("  source %-20s %8s (%.3f)", name, humanize.Comma(int64(r.perSource[i])), share)
	}
	workers := sortedKeys(r.perWorker)
	for _, w := range workers {
		klog.V(1).Infof("  worker %d: %s", w, humanize.Comma(int64(r.perWorker[w])))
	}
	if r.mode == "episode" {
		for _, w := range sortedKeys(r.ways) {
			klog.Infof("  %d-way episodes: %s", w, humanize.Comma(int64(r.ways[w])))
		}
	}
	klog.Infof("  %d distinct labels", len(r.labels))
}

func (r *report) totalPerSource() int {
	total := 0
	for _, n := range r.perSource {
		total += n
	}
	return total
}

// labelCounts returns label names and counts sorted by label.
func (r *report) labelCounts() ([]string, []int) {
	keys := sortedKeys(r.labels)
	names := make([]string, len(keys))
	counts := make([]int, len(keys))
	for i, k := range keys {
		names[i] = strconv.Itoa(k)
		counts[i] = r.labels[k]
	}
	return names, counts
}

// plot writes the per-source and per-label bar charts into outDir.
func (r *report) plot(outDir string) error {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return err
	}
	if err := plotCounts(filepath.Join(outDir, r.mode+"_sources.png"),
		fmt.Sprintf("%s per source", r.mode), r.sources, r.perSource, color.RGBA{R: 20, G: 80, B: 200, A: 255}); err != nil {
		return err
	}
	names, counts := r.labelCounts()
	return plotCounts(filepath.Join(outDir, r.mode+"_labels.png"),
		"samples per label", names, counts, color.RGBA{R: 200, G: 30, B: 30, A: 255})
}

// plotCounts writes a bar chart of counts with one named bar each.
func plotCounts(path, title string, names []string, counts []int, col color.Color) error {
	if len(names) != len(counts) {
		return fmt.Errorf("%d names but %d counts", len(names), len(counts))
	}
	p := plot.New()
	p.Title.Text = title
	p.Y.Label.Text = "count"

	vals := make(plotter.Values, len(counts))
	for i, c := range counts {
		vals[i] = float64(c)
	}
	width := vg.Points(20)
	if len(vals) > 40 {
		width = vg.Points(4)
	}
	bars, err := plotter.NewBarChart(vals, width)
	if err != nil {
		return err
	}
	bars.Color = col
	bars.LineStyle.Width = vg.Length(0)
	p.Add(bars)
	p.Add(plotter.NewGrid())
	if len(names) <= 40 {
		p.NominalX(names...)
	}
	return p.Save(8*vg.Inch, 4*vg.Inch, path)
}

func sortedKeys(m map[int]int) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
