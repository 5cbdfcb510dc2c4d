package loader

import (
	"cifarmask/dataset"
	"cifarmask/mask"

	"github.com/pkg/errors"
)

// StreamConfig holds the knobs shared by the three run streams.
type StreamConfig struct {
	BatchSize int
	Workers   int
	Seed      int64
}

// Streams are the batch sources of one run.
type Streams struct {
	// Train yields held-in examples only, shuffled, augmented, drop-last.
	Train *Loader
	// Superset yields every training-split example in index order without
	// augmentation, regardless of the mask.
	Superset *Loader
	// Test yields the validation split in index order.
	Test *Loader
}

// NewStreams builds the run streams. m must cover the training split.
func NewStreams(train, val *dataset.Dataset, m mask.Mask, cfg StreamConfig) (*Streams, error) {
	if len(m) != train.Len() {
		return nil, errors.Errorf("mask covers %d examples, training split has %d", len(m), train.Len())
	}
	trainLoader, err := New(train, Options{
		BatchSize: cfg.BatchSize,
		Workers:   cfg.Workers,
		Order:     Random,
		DropLast:  true,
		Indices:   m.Indices(),
		Pipeline:  TrainPipeline(),
		Seed:      cfg.Seed,
	})
	if err != nil {
		return nil, errors.Wrap(err, "train stream")
	}
	superset, err := New(train, Options{
		BatchSize: cfg.BatchSize,
		Workers:   cfg.Workers,
		Order:     Sequential,
		Pipeline:  EvalPipeline(),
		Seed:      cfg.Seed,
	})
	if err != nil {
		return nil, errors.Wrap(err, "superset stream")
	}
	s := &Streams{Train: trainLoader, Superset: superset}
	if val != nil {
		if s.Test, err = New(val, Options{
			BatchSize: cfg.BatchSize,
			Workers:   cfg.Workers,
			Order:     Sequential,
			Pipeline:  EvalPipeline(),
			Seed:      cfg.Seed,
		}); err != nil {
			return nil, errors.Wrap(err, "test stream")
		}
	}
	return s, nil
}

// sliceStream replays a fixed list of batches.
type sliceStream struct {
	batches []Batch
}

// FromBatches returns a Stream that yields batches on every pass.
func FromBatches(batches ...Batch) Stream {
	return &sliceStream{batches: batches}
}

func (s *sliceStream) Len() int { return len(s.batches) }

func (s *sliceStream) Iter() BatchIterator { return &sliceIterator{batches: s.batches} }

type sliceIterator struct {
	batches []Batch
	next    int
}

func (it *sliceIterator) Next() (Batch, bool) {
	if it.next >= len(it.batches) {
		return Batch{}, false
	}
	it.next++
	return it.batches[it.next-1], true
}

func (it *sliceIterator) Err() error { return nil }
func (it *sliceIterator) Close()     {}
