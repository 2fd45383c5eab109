package schedule

import (
	"errors"
	"testing"
)

func TestConstant(t *testing.T) {
	s := Constant[uint64](4)
	for _, n := range []uint64{0, 1, 3, 1000, 1 << 40} {
		if got := s.ValueAt(n); got != 4 {
			t.Errorf("ValueAt(%d) = %d, want 4", n, got)
		}
	}
}

func TestValueAt(t *testing.T) {
	s, err := New([]Entry[float64]{
		{From: 10, Value: 0.3},
		{From: 20, Value: 0.2},
		{From: 40, Value: 0.1},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	tests := []struct {
		name string
		n    uint64
		want float64
	}{
		{"before first threshold", 0, 0.3},
		{"at first threshold", 10, 0.3},
		{"inside first step", 19, 0.3},
		{"at second threshold", 20, 0.2},
		{"inside second step", 39, 0.2},
		{"at last threshold", 40, 0.1},
		{"holds last value", 1_000_000, 0.1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.ValueAt(tt.n); got != tt.want {
				t.Errorf("ValueAt(%d) = %v, want %v", tt.n, got, tt.want)
			}
		})
	}
}

func TestValueAtNonMonotonicQueries(t *testing.T) {
	s, err := New([]Entry[uint64]{{From: 0, Value: 2}, {From: 8, Value: 4}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	queries := []uint64{100, 0, 9, 7, 8, 3}
	want := []uint64{4, 2, 4, 2, 4, 2}
	for i, n := range queries {
		if got := s.ValueAt(n); got != want[i] {
			t.Errorf("query %d: ValueAt(%d) = %d, want %d", i, n, got, want[i])
		}
	}
}

func TestNoInterveningThresholdKeepsValue(t *testing.T) {
	s, err := New([]Entry[uint64]{{From: 0, Value: 1}, {From: 50, Value: 2}, {From: 90, Value: 3}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	thresholds := []uint64{0, 50, 90}
	for n1 := uint64(0); n1 < 120; n1++ {
		for n2 := n1 + 1; n2 < 120; n2++ {
			intervening := false
			for _, th := range thresholds {
				if n1 < th && th <= n2 {
					intervening = true
					break
				}
			}
			if !intervening && s.ValueAt(n1) != s.ValueAt(n2) {
				t.Fatalf("ValueAt(%d)=%d != ValueAt(%d)=%d with no threshold between",
					n1, s.ValueAt(n1), n2, s.ValueAt(n2))
			}
		}
	}
}

func TestNewRejectsInvalidEntries(t *testing.T) {
	tests := []struct {
		name    string
		entries []Entry[uint64]
	}{
		{"empty", nil},
		{"equal thresholds", []Entry[uint64]{{From: 5, Value: 1}, {From: 5, Value: 2}}},
		{"decreasing thresholds", []Entry[uint64]{{From: 10, Value: 1}, {From: 5, Value: 2}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.entries)
			if !errors.Is(err, ErrInvalidSchedule) {
				t.Errorf("expected ErrInvalidSchedule, got %v", err)
			}
		})
	}
}

func TestPerEpoch(t *testing.T) {
	s, err := PerEpoch([]float64{0.3, 0.2, 0.1, 0.0}, 25)
	if err != nil {
		t.Fatalf("PerEpoch failed: %v", err)
	}

	checks := map[uint64]float64{0: 0.3, 24: 0.3, 25: 0.2, 50: 0.1, 74: 0.1, 75: 0.0, 500: 0.0}
	for n, want := range checks {
		if got := s.ValueAt(n); got != want {
			t.Errorf("ValueAt(%d) = %v, want %v", n, got, want)
		}
	}

	c, err := PerEpoch([]float64{0.5, 0.1}, 0)
	if err != nil {
		t.Fatalf("PerEpoch with zero epoch size failed: %v", err)
	}
	if got := c.ValueAt(1000); got != 0.5 {
		t.Errorf("zero epoch size should be constant first value, got %v", got)
	}
}

func TestEntriesIsCopy(t *testing.T) {
	s := Constant(3)
	e := s.Entries()
	e[0].Value = 99
	if s.ValueAt(0) != 3 {
		t.Error("mutating Entries() result changed the schedule")
	}
}

func TestCrossed(t *testing.T) {
	tests := []struct {
		prev, cur, freq uint64
		want            bool
	}{
		{7, 11, 10, true},
		{11, 15, 10, false},
		{36, 40, 10, true},
		{30, 30, 10, false},
		{0, 100, 10, true},
		{59, 61, 20, true},
		{5, 9, 0, false},
	}

	for _, tt := range tests {
		if got := Crossed(tt.prev, tt.cur, tt.freq); got != tt.want {
			t.Errorf("Crossed(%d, %d, %d) = %v, want %v", tt.prev, tt.cur, tt.freq, got, tt.want)
		}
	}
}
