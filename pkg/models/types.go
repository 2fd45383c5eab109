package models

// Sample is one step of a sequence in a single stream.
// Indices is nil for dense samples; otherwise Values[i] belongs at Indices[i].
type Sample struct {
	Indices []int     `json:"indices,omitempty"`
	Values  []float32 `json:"values"`
}

// ArgMax returns the position of the largest value in the sample, or -1 if empty.
func (s Sample) ArgMax() int {
	best := -1
	var bestVal float32
	for i, v := range s.Values {
		if best == -1 || v > bestVal {
			best, bestVal = i, v
		}
	}
	if best == -1 || s.Indices == nil {
		return best
	}
	return s.Indices[best]
}

// Sequence is an ordered run of samples that share a sequence id.
// Sequences are never split across minibatches.
type Sequence struct {
	ID      uint64
	Streams map[string][]Sample // stream name -> samples
}

// Len returns the number of samples in the longest stream of the sequence
func (s Sequence) Len() int {
	n := 0
	for _, samples := range s.Streams {
		if len(samples) > n {
			n = len(samples)
		}
	}
	return n
}

// StreamData holds the sequences of one model input inside a minibatch
type StreamData struct {
	Sequences [][]Sample
}

// NumSamples returns the total sample count over all sequences
func (d *StreamData) NumSamples() uint64 {
	if d == nil {
		return 0
	}
	var n uint64
	for _, seq := range d.Sequences {
		n += uint64(len(seq))
	}
	return n
}

// Minibatch is a group of whole sequences bound to model inputs
type Minibatch struct {
	Inputs       map[string]*StreamData // input name -> data
	NumSamples   uint64                 // samples in the largest input
	NumSequences int
	SweepEnd     bool // the last sequence of a data sweep is in this batch
}

// Input returns the data bound to a model input, or nil
func (mb *Minibatch) Input(name string) *StreamData {
	if mb == nil {
		return nil
	}
	return mb.Inputs[name]
}

// Cursor is a restartable position inside a feed
type Cursor struct {
	Sweep    uint64 `json:"sweep"`    // completed data sweeps
	Sequence uint64 `json:"sequence"` // next sequence within the sweep
	Epoch    uint64 `json:"epoch"`    // completed epochs
	InEpoch  uint64 `json:"in_epoch"` // samples delivered in the current epoch
}

// MinibatchResult holds aggregate criterion values for one trained minibatch.
// Loss and Metric are sums over the minibatch samples.
type MinibatchResult struct {
	Samples uint64
	Loss    float64
	Metric  float64
}

// SessionState is the mutable state owned by the session controller during a run
type SessionState struct {
	TotalSamplesSeen     uint64
	RestartIndex         uint32 // index used by the next checkpoint write
	CrossValidationIndex uint32 // completed cross-validation rounds
}
