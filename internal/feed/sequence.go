package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/lamim/trainsession/pkg/models"
)

// SequenceFeed serves minibatches of whole sequences from memory.
//
// A minibatch always holds at least one sequence and then adds sequences while
// the sample count stays within the requested size. Minibatches never straddle
// an epoch boundary.
type SequenceFeed struct {
	sequences []models.Sequence
	streams   map[string]bool
	epochSize uint64
	cursor    models.Cursor
	logger    *slog.Logger
}

// NewSequenceFeed creates a feed over sequences. epochSize is a sample count,
// FullDataSweep or InfinitelyRepeat.
func NewSequenceFeed(sequences []models.Sequence, epochSize uint64, logger *slog.Logger) (*SequenceFeed, error) {
	if len(sequences) == 0 {
		return nil, fmt.Errorf("sequence feed needs at least one sequence")
	}
	streams := make(map[string]bool)
	for i, seq := range sequences {
		if seq.Len() == 0 {
			return nil, fmt.Errorf("sequence %d (id %d) is empty", i, seq.ID)
		}
		for name := range seq.Streams {
			streams[name] = true
		}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &SequenceFeed{
		sequences: sequences,
		streams:   streams,
		epochSize: epochSize,
		logger:    logger.With("component", "sequence_feed"),
	}, nil
}

// Streams returns the stream names available in the feed
func (f *SequenceFeed) Streams() []string {
	names := make([]string, 0, len(f.streams))
	for name := range f.streams {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SweepSamples returns the number of samples in one pass over the data
func (f *SequenceFeed) SweepSamples() uint64 {
	var n uint64
	for _, seq := range f.sequences {
		n += uint64(seq.Len())
	}
	return n
}

// NextMinibatch returns the next minibatch, or nil once at the end of an epoch
func (f *SequenceFeed) NextMinibatch(ctx context.Context, size uint64, inputs map[string]string) (*models.Minibatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for input, stream := range inputs {
		if !f.streams[stream] {
			return nil, fmt.Errorf("%w: input %q bound to %q", ErrUnknownStream, input, stream)
		}
	}
	if size == 0 {
		size = 1
	}

	if f.epochEnded() {
		f.cursor.Epoch++
		f.cursor.InEpoch = 0
		if f.epochSize == FullDataSweep {
			f.cursor.Epoch = f.cursor.Sweep
		}
		f.logger.Debug("Epoch exhausted", "epoch", f.cursor.Epoch)
		return nil, nil
	}

	mb := &models.Minibatch{Inputs: make(map[string]*models.StreamData, len(inputs))}
	for input := range inputs {
		mb.Inputs[input] = &models.StreamData{}
	}

	for {
		seq := f.sequences[f.cursor.Sequence]
		n := uint64(seq.Len())
		if mb.NumSequences > 0 && mb.NumSamples+n > size {
			break
		}

		for input, stream := range inputs {
			data := mb.Inputs[input]
			data.Sequences = append(data.Sequences, seq.Streams[stream])
		}
		mb.NumSamples += n
		mb.NumSequences++
		f.cursor.InEpoch += n

		f.cursor.Sequence++
		if f.cursor.Sequence == uint64(len(f.sequences)) {
			f.cursor.Sequence = 0
			f.cursor.Sweep++
			mb.SweepEnd = true
		}

		if f.epochEnded() || mb.NumSamples >= size {
			break
		}
	}

	return mb, nil
}

func (f *SequenceFeed) epochEnded() bool {
	switch f.epochSize {
	case InfinitelyRepeat:
		return false
	case FullDataSweep:
		return f.cursor.Sweep > f.cursor.Epoch
	default:
		return f.cursor.InEpoch >= f.epochSize
	}
}

// Position returns the current cursor
func (f *SequenceFeed) Position() models.Cursor {
	return f.cursor
}

// SetPosition moves the feed to a previously obtained cursor
func (f *SequenceFeed) SetPosition(pos models.Cursor) error {
	if pos.Sequence >= uint64(len(f.sequences)) {
		return fmt.Errorf("%w: sequence %d of %d", ErrInvalidPosition, pos.Sequence, len(f.sequences))
	}
	f.cursor = pos
	return nil
}
