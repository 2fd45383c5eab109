package schedule

import (
	"errors"
	"fmt"
	"sort"
)

// ErrInvalidSchedule is returned when schedule entries are empty or unordered
var ErrInvalidSchedule = errors.New("invalid schedule")

// Value is the set of scalar types a schedule can hold
type Value interface {
	~int | ~int64 | ~uint64 | ~float32 | ~float64
}

// Entry maps a global sample-count threshold to a value
type Entry[V Value] struct {
	From  uint64 `toml:"from" yaml:"from"`
	Value V      `toml:"value" yaml:"value"`
}

// Schedule is a step function from sample count to a value.
// It is immutable and safe to query with non-monotonic arguments.
type Schedule[V Value] struct {
	entries []Entry[V]
}

// New creates a schedule from entries in strictly increasing threshold order.
// Sample counts before the first threshold get the first value; the last
// value holds indefinitely.
func New[V Value](entries []Entry[V]) (Schedule[V], error) {
	if len(entries) == 0 {
		return Schedule[V]{}, fmt.Errorf("%w: no entries", ErrInvalidSchedule)
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].From <= entries[i-1].From {
			return Schedule[V]{}, fmt.Errorf("%w: threshold %d at position %d is not greater than %d",
				ErrInvalidSchedule, entries[i].From, i, entries[i-1].From)
		}
	}
	return Schedule[V]{entries: append([]Entry[V](nil), entries...)}, nil
}

// Constant creates a schedule that always returns v
func Constant[V Value](v V) Schedule[V] {
	return Schedule[V]{entries: []Entry[V]{{From: 0, Value: v}}}
}

// PerEpoch creates a schedule where values[i] applies from sample i*epochSize.
// An epochSize of 0 yields a constant schedule of values[0].
func PerEpoch[V Value](values []V, epochSize uint64) (Schedule[V], error) {
	if len(values) == 0 {
		return Schedule[V]{}, fmt.Errorf("%w: no values", ErrInvalidSchedule)
	}
	if epochSize == 0 {
		return Constant(values[0]), nil
	}
	entries := make([]Entry[V], len(values))
	for i, v := range values {
		entries[i] = Entry[V]{From: uint64(i) * epochSize, Value: v}
	}
	return New(entries)
}

// ValueAt returns the value of the last threshold <= sampleCount
func (s Schedule[V]) ValueAt(sampleCount uint64) V {
	if len(s.entries) == 0 {
		var zero V
		return zero
	}
	// first entry whose threshold is beyond sampleCount
	i := sort.Search(len(s.entries), func(i int) bool {
		return s.entries[i].From > sampleCount
	})
	if i == 0 {
		return s.entries[0].Value
	}
	return s.entries[i-1].Value
}

// IsZero reports whether the schedule has no entries
func (s Schedule[V]) IsZero() bool {
	return len(s.entries) == 0
}

// Entries returns a copy of the schedule entries
func (s Schedule[V]) Entries() []Entry[V] {
	return append([]Entry[V](nil), s.entries...)
}

// Crossed reports whether a multiple of freq lies in (prev, cur].
// A step that passes several multiples still counts once.
func Crossed(prev, cur, freq uint64) bool {
	if freq == 0 || cur <= prev {
		return false
	}
	return cur/freq > prev/freq
}
