package progress

import (
	"time"

	"github.com/lamim/trainsession/internal/schedule"
	"github.com/lamim/trainsession/pkg/models"
)

// Range is a half-open [Start, End) interval of a cumulative counter
type Range struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

// Delta returns End - Start
func (r Range) Delta() uint64 {
	return r.End - r.Start
}

// Aggregate describes a criterion over a period. Start and End are the
// running totals at the period bounds; Sum is accumulated within the period
// so it does not depend on where the run started.
type Aggregate struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Sum   float64 `json:"sum"`
}

// TrainingUpdate covers the minibatches since the previous update
type TrainingUpdate struct {
	Samples Range
	Updates Range
	Loss    Aggregate
	Metric  Aggregate
}

// AverageLoss returns the per-sample loss over the period
func (u TrainingUpdate) AverageLoss() float64 {
	return average(u.Loss.Sum, u.Samples.Delta())
}

// AverageMetric returns the per-sample metric over the period
func (u TrainingUpdate) AverageMetric() float64 {
	return average(u.Metric.Sum, u.Samples.Delta())
}

// TrainingSummary closes one reporting period
type TrainingSummary struct {
	Index   int // number of summaries emitted before this one
	Samples Range
	Updates Range
	Loss    Aggregate
	Metric  Aggregate
	Elapsed time.Duration
}

// AverageLoss returns the per-sample loss over the period
func (s TrainingSummary) AverageLoss() float64 {
	return average(s.Loss.Sum, s.Samples.Delta())
}

// AverageMetric returns the per-sample metric over the period
func (s TrainingSummary) AverageMetric() float64 {
	return average(s.Metric.Sum, s.Samples.Delta())
}

// TestSummary reports one cross-validation round
type TestSummary struct {
	Index       int
	Samples     uint64
	Minibatches uint64
	ErrorSum    float64 // sum of per-minibatch error rate times its sample count
	Elapsed     time.Duration
}

// AverageError returns the error percentage over the round
func (s TestSummary) AverageError() float64 {
	return average(s.ErrorSum*100, s.Samples)
}

func average(sum float64, n uint64) float64 {
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Listener receives progress events. Calls happen on the training goroutine.
type Listener interface {
	OnTrainingUpdate(u TrainingUpdate)
	OnTrainingSummary(s TrainingSummary)
	OnTestSummary(s TestSummary)
}

// StartListener is implemented by listeners that need the sample count a
// run starts from
type StartListener interface {
	OnStart(totalSamples uint64)
}

// CheckpointListener is implemented by listeners that track checkpoint writes
type CheckpointListener interface {
	OnCheckpoint(info *models.CheckpointInfo)
}

type counters struct {
	samples uint64
	updates uint64
	loss    float64
	metric  float64
}

// period accumulates criterion sums since the last emit
type period struct {
	loss   float64
	metric float64
}

func (p *period) add(res models.MinibatchResult) {
	p.loss += res.Loss
	p.metric += res.Metric
}

// Reporter turns per-minibatch results into listener events.
// Updates fire every updateFrequency minibatches; summaries fire each time
// the sample count crosses a multiple of summaryFrequency and once more at
// Finish for any samples not yet summarized.
type Reporter struct {
	listeners        []Listener
	updateFrequency  uint64
	summaryFrequency uint64

	now         counters
	lastUpdate  counters
	lastSummary counters
	updPeriod   period
	sumPeriod   period
	summaries   int
	tests       int
	periodStart time.Time
}

// NewReporter creates a reporter. updateFrequency 0 disables updates and
// summaryFrequency 0 leaves a single summary at Finish.
func NewReporter(updateFrequency, summaryFrequency uint64, listeners ...Listener) *Reporter {
	return &Reporter{
		listeners:        listeners,
		updateFrequency:  updateFrequency,
		summaryFrequency: summaryFrequency,
		periodStart:      time.Now(),
	}
}

// Start resets the counters at the given sample count, e.g. after a restore,
// and tells listeners implementing StartListener
func (r *Reporter) Start(totalSamples uint64) {
	r.now = counters{samples: totalSamples}
	r.lastUpdate = r.now
	r.lastSummary = r.now
	r.updPeriod = period{}
	r.sumPeriod = period{}
	r.periodStart = time.Now()
	for _, l := range r.listeners {
		if sl, ok := l.(StartListener); ok {
			sl.OnStart(totalSamples)
		}
	}
}

// Summaries returns the number of training summaries emitted
func (r *Reporter) Summaries() int {
	return r.summaries
}

// Record accounts one trained minibatch
func (r *Reporter) Record(res models.MinibatchResult) {
	prev := r.now.samples
	r.now.samples += res.Samples
	r.now.updates++
	r.now.loss += res.Loss
	r.now.metric += res.Metric
	r.updPeriod.add(res)
	r.sumPeriod.add(res)

	if r.updateFrequency > 0 && r.now.updates-r.lastUpdate.updates >= r.updateFrequency {
		r.emitUpdate()
	}
	if schedule.Crossed(prev, r.now.samples, r.summaryFrequency) {
		r.emitSummary()
	}
}

// Test reports a cross-validation round and returns it with its index set
func (r *Reporter) Test(s TestSummary) TestSummary {
	s.Index = r.tests
	r.tests++
	for _, l := range r.listeners {
		l.OnTestSummary(s)
	}
	return s
}

// Checkpoint forwards a checkpoint write to listeners that track them
func (r *Reporter) Checkpoint(info *models.CheckpointInfo) {
	for _, l := range r.listeners {
		if cl, ok := l.(CheckpointListener); ok {
			cl.OnCheckpoint(info)
		}
	}
}

// Finish flushes pending updates and closes the last reporting period
func (r *Reporter) Finish() {
	if r.updateFrequency > 0 && r.now.updates > r.lastUpdate.updates {
		r.emitUpdate()
	}
	if r.now.samples > r.lastSummary.samples {
		r.emitSummary()
	}
}

func (r *Reporter) emitUpdate() {
	u := TrainingUpdate{
		Samples: Range{r.lastUpdate.samples, r.now.samples},
		Updates: Range{r.lastUpdate.updates, r.now.updates},
		Loss:    Aggregate{r.lastUpdate.loss, r.now.loss, r.updPeriod.loss},
		Metric:  Aggregate{r.lastUpdate.metric, r.now.metric, r.updPeriod.metric},
	}
	r.lastUpdate = r.now
	r.updPeriod = period{}
	for _, l := range r.listeners {
		l.OnTrainingUpdate(u)
	}
}

func (r *Reporter) emitSummary() {
	s := TrainingSummary{
		Index:   r.summaries,
		Samples: Range{r.lastSummary.samples, r.now.samples},
		Updates: Range{r.lastSummary.updates, r.now.updates},
		Loss:    Aggregate{r.lastSummary.loss, r.now.loss, r.sumPeriod.loss},
		Metric:  Aggregate{r.lastSummary.metric, r.now.metric, r.sumPeriod.metric},
		Elapsed: time.Since(r.periodStart),
	}
	r.lastSummary = r.now
	r.sumPeriod = period{}
	r.summaries++
	r.periodStart = time.Now()
	for _, l := range r.listeners {
		l.OnTrainingSummary(s)
	}
}
