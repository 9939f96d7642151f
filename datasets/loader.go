package datasets

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/Noofbiz/metaloader/multiplex"
	"github.com/Noofbiz/metaloader/worker"
)

// ErrLoaderClosed is returned by Next once the loader stopped.
var ErrLoaderClosed = errors.New("datasets: loader closed")

type loaded[T any] struct {
	v      T
	worker int
	err    error
}

// Loader runs several independent pipeline replicas concurrently and merges
// their output into one buffered stream. Each replica is built with its own
// worker.Context and pulls from its own pipeline; there is no ordering
// between replicas.
type Loader[T any] struct {
	out    chan loaded[T]
	cancel context.CancelFunc

	mu  sync.Mutex
	err error
}

// NewLoader starts workers replicas built by build. A replica stops after
// delivering its first error.
func NewLoader[T any, P multiplex.Source[T]](ctx context.Context, workers int, seed int64, buffer int,
	build worker.BuildFunc[P]) *Loader[T] {
	ctx, cancel := context.WithCancel(ctx)
	l := &Loader[T]{
		out:    make(chan loaded[T], buffer),
		cancel: cancel,
	}
	consume := func(ctx context.Context, w *worker.Context, p P) error {
		for {
			v, err := p.Next()
			select {
			case l.out <- loaded[T]{v: v, worker: w.Index, err: err}:
			case <-ctx.Done():
				return nil
			}
			if err != nil {
				return err
			}
		}
	}
	go func() {
		err := worker.Run(ctx, workers, seed, build, consume)
		l.mu.Lock()
		l.err = err
		l.mu.Unlock()
		close(l.out)
	}()
	return l
}

// Next returns the next item from any replica.
func (l *Loader[T]) Next() (T, error) {
	v, _, err := l.NextFrom()
	return v, err
}

// NextFrom is Next that also reports the index of the replica that produced
// the item.
func (l *Loader[T]) NextFrom() (T, int, error) {
	r, ok := <-l.out
	if !ok {
		var zero T
		if err := l.Err(); err != nil {
			return zero, -1, err
		}
		return zero, -1, ErrLoaderClosed
	}
	return r.v, r.worker, r.err
}

// Err returns the error that stopped the replicas, if any.
func (l *Loader[T]) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Close stops all replicas and waits for them to exit.
func (l *Loader[T]) Close() error {
	l.cancel()
	for range l.out {
	}
	err := l.Err()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
