package worker

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// BuildFunc constructs the pipeline of one replica. It must wire the context
// generator into every component it creates.
type BuildFunc[P Component] func(ctx context.Context, w *Context) (P, error)

// ConsumeFunc pulls from one replica until it is done or ctx is canceled.
type ConsumeFunc[P Component] func(ctx context.Context, w *Context, p P) error

// Run starts workers independent replicas, each built from its own Context.
// Replicas share no mutable state. The first error cancels the context passed
// to the other replicas and is returned once all of them stopped.
func Run[P Component](ctx context.Context, workers int, seed int64, build BuildFunc[P], consume ConsumeFunc[P]) error {
	if workers < 1 {
		return errors.Errorf("worker: need at least one worker, got %d", workers)
	}
	g, gctx := errgroup.WithContext(ctx)
	for i := range workers {
		w := NewContext(seed, i)
		g.Go(func() error {
			p, err := build(gctx, w)
			if err != nil {
				return errors.Wrapf(err, "%s: build", w)
			}
			if err := w.Bind(p); err != nil {
				return errors.Wrapf(err, "%s: bind", w)
			}
			klog.V(1).Infof("%s started", w)
			err = consume(gctx, w, p)
			klog.V(1).Infof("%s stopped: %v", w, err)
			return err
		})
	}
	return g.Wait()
}
