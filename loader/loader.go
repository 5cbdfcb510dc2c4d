// Package loader turns a decoded dataset into batched, augmented tensors.
//
// Batches are assembled by a pool of worker goroutines that run ahead of the
// consumer by a bounded number of batches. Delivery order, shuffling and
// augmentation depend only on the seed, the epoch and the batch number, so
// a run is reproducible regardless of the worker count.
package loader

import (
	"math/rand"
	"sync"

	"cifarmask/dataset"
	"cifarmask/tensor"

	"github.com/pkg/errors"
)

// Order selects how indices are visited.
type Order int

const (
	// Sequential visits indices in the order given.
	Sequential Order = iota
	// Random reshuffles indices every epoch.
	Random
)

func (o Order) String() string {
	if o == Random {
		return "random"
	}
	return "sequential"
}

// Batch is one assembled minibatch.
type Batch struct {
	Images  *tensor.Tensor // [B C H W]
	Labels  []int
	Indices []int // dataset positions of the examples
}

// Len is the number of examples in the batch.
func (b Batch) Len() int { return len(b.Labels) }

// BatchIterator yields the batches of one pass.
type BatchIterator interface {
	// Next returns the next batch, or false once the pass is exhausted or
	// failed. Err tells the two apart.
	Next() (Batch, bool)
	Err() error
	// Close releases workers of an unfinished pass.
	Close()
}

// Stream is a restartable source of batches; every Iter is one full pass.
type Stream interface {
	Len() int
	Iter() BatchIterator
}

// Options configure a Loader.
type Options struct {
	BatchSize int
	Workers   int
	Order     Order
	DropLast  bool
	// Indices restricts the loader to these dataset positions. Nil means
	// every record.
	Indices  []int
	Pipeline Pipeline
	Seed     int64
	// Prefetch bounds how many batches may be ready ahead of the consumer.
	// Zero means twice the worker count.
	Prefetch int
}

// Loader is a Stream over a dataset.
type Loader struct {
	ds      *dataset.Dataset
	opts    Options
	indices []int

	mu    sync.Mutex
	epoch int
}

// New validates opts against ds.
func New(ds *dataset.Dataset, opts Options) (*Loader, error) {
	if opts.BatchSize <= 0 {
		return nil, errors.Errorf("batch size must be positive, got %d", opts.BatchSize)
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Prefetch <= 0 {
		opts.Prefetch = 2 * opts.Workers
	}
	var indices []int
	if opts.Indices == nil {
		indices = make([]int, ds.Len())
		for i := range indices {
			indices[i] = i
		}
	} else {
		indices = append([]int(nil), opts.Indices...)
		for _, i := range indices {
			if i < 0 || i >= ds.Len() {
				return nil, errors.Errorf("index %d out of range [0, %d)", i, ds.Len())
			}
		}
	}
	return &Loader{ds: ds, opts: opts, indices: indices}, nil
}

// Len is the number of batches per pass.
func (l *Loader) Len() int {
	n, b := len(l.indices), l.opts.BatchSize
	if l.opts.DropLast {
		return n / b
	}
	return (n + b - 1) / b
}

// Examples is the number of examples delivered per pass.
func (l *Loader) Examples() int {
	if l.opts.DropLast {
		return l.Len() * l.opts.BatchSize
	}
	return len(l.indices)
}

// Options returns the loader configuration.
func (l *Loader) Options() Options { return l.opts }

// Iter starts the next epoch.
func (l *Loader) Iter() BatchIterator {
	l.mu.Lock()
	epoch := l.epoch
	l.epoch++
	l.mu.Unlock()

	order := l.indices
	if l.opts.Order == Random {
		order = append([]int(nil), l.indices...)
		rng := rand.New(rand.NewSource(mixSeed(l.opts.Seed, epoch, -1)))
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	return newIterator(l, order, epoch)
}

// mixSeed derives an independent seed for (seed, epoch, batch).
func mixSeed(seed int64, epoch, batch int) int64 {
	x := uint64(seed)
	for _, v := range []int{epoch, batch} {
		x ^= uint64(int64(v)) + 0x9e3779b97f4a7c15 + (x << 6) + (x >> 2)
		x *= 0xbf58476d1ce4e5b9
		x ^= x >> 31
	}
	return int64(x)
}

// assemble decodes and augments batch b of an epoch.
func (l *Loader) assemble(order []int, epoch, b int) (Batch, error) {
	bs := l.opts.BatchSize
	lo, hi := b*bs, (b+1)*bs
	if hi > len(order) {
		hi = len(order)
	}
	h := l.ds.Header
	c, ht, w := h.Channels, h.Height, h.Width
	size := h.ImageSize()

	batch := Batch{
		Images:  tensor.New(hi-lo, c, ht, w),
		Labels:  make([]int, hi-lo),
		Indices: append([]int(nil), order[lo:hi]...),
	}
	rng := rand.New(rand.NewSource(mixSeed(l.opts.Seed, epoch, b)))
	for k, idx := range batch.Indices {
		raw := l.ds.Images[idx]
		if len(raw) != size {
			return Batch{}, errors.Errorf("record %d: image has %d bytes, want %d", idx, len(raw), size)
		}
		img := batch.Images.Data[k*size : (k+1)*size]
		for i, v := range raw {
			img[i] = float64(v)
		}
		l.opts.Pipeline.Apply(img, c, ht, w, rng)
		batch.Labels[k] = l.ds.Labels[idx]
	}
	return batch, nil
}

type result struct {
	batch Batch
	err   error
}

// iterator delivers batches in order while workers assemble ahead.
type iterator struct {
	results []chan result
	next    int
	err     error

	tokens chan struct{}
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

func newIterator(l *Loader, order []int, epoch int) *iterator {
	n := l.Len()
	it := &iterator{
		results: make([]chan result, n),
		tokens:  make(chan struct{}, l.opts.Prefetch),
		done:    make(chan struct{}),
	}
	for i := range it.results {
		it.results[i] = make(chan result, 1)
	}

	jobs := make(chan int)
	it.wg.Add(1)
	go func() {
		defer it.wg.Done()
		defer close(jobs)
		for b := 0; b < n; b++ {
			select {
			case it.tokens <- struct{}{}:
			case <-it.done:
				return
			}
			select {
			case jobs <- b:
			case <-it.done:
				return
			}
		}
	}()

	for w := 0; w < l.opts.Workers; w++ {
		it.wg.Add(1)
		go func() {
			defer it.wg.Done()
			for b := range jobs {
				batch, err := l.assemble(order, epoch, b)
				it.results[b] <- result{batch: batch, err: err}
			}
		}()
	}
	return it
}

func (it *iterator) Next() (Batch, bool) {
	if it.err != nil || it.next >= len(it.results) {
		return Batch{}, false
	}
	select {
	case <-it.done:
		return Batch{}, false
	default:
	}
	var r result
	select {
	case r = <-it.results[it.next]:
	case <-it.done:
		return Batch{}, false
	}
	<-it.tokens
	it.next++
	if r.err != nil {
		it.err = r.err
		it.Close()
		return Batch{}, false
	}
	if it.next == len(it.results) {
		it.Close()
	}
	return r.batch, true
}

func (it *iterator) Err() error { return it.err }

func (it *iterator) Close() {
	it.once.Do(func() {
		close(it.done)
		it.wg.Wait()
	})
}
