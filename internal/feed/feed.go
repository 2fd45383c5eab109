package feed

import (
	"context"
	"errors"
	"math"

	"github.com/lamim/trainsession/pkg/models"
)

const (
	// FullDataSweep ends an epoch after one pass over the data
	FullDataSweep uint64 = 0
	// InfinitelyRepeat never ends an epoch
	InfinitelyRepeat uint64 = math.MaxUint64
)

var (
	// ErrParse is returned for malformed text-format input
	ErrParse = errors.New("parse error")
	// ErrUnknownStream is returned when an input is bound to a stream the feed does not have
	ErrUnknownStream = errors.New("unknown stream")
	// ErrInvalidPosition is returned when a cursor does not fit the feed
	ErrInvalidPosition = errors.New("invalid feed position")
)

// MinibatchFeed is a source of minibatches advancing through epochs.
//
// NextMinibatch returns (nil, nil) once when the current epoch is exhausted;
// the following call starts the next epoch. inputs maps model input names to
// feed stream names.
type MinibatchFeed interface {
	NextMinibatch(ctx context.Context, size uint64, inputs map[string]string) (*models.Minibatch, error)
	Position() models.Cursor
	SetPosition(pos models.Cursor) error
}

// StreamDef describes one stream of a text-format file
type StreamDef struct {
	Name   string `toml:"name" yaml:"name"`     // stream name used in input bindings
	Field  string `toml:"field" yaml:"field"`   // field tag in the file, e.g. "S0"
	Dim    int    `toml:"dim" yaml:"dim"`       // sample dimension (0 = unchecked)
	Sparse bool   `toml:"sparse" yaml:"sparse"` // values written as index:value
}
