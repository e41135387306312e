package training

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/tsawler/go-textgen/nn"
)

// LossAccumulator normalizes per-step loss results into a running total and
// computes epoch means. The first Add establishes the tuple arity; every
// later step must match it. A non-finite combined scalar aborts immediately
// with a *DivergedError.
type LossAccumulator struct {
	phase string
	epoch int
	total []float64
	steps int
}

// NewLossAccumulator creates an accumulator for one epoch of the named
// training phase. The phase and epoch only label the diagnostic when a step
// diverges.
func NewLossAccumulator(phase string, epoch int) *LossAccumulator {
	return &LossAccumulator{phase: phase, epoch: epoch}
}

// Add folds one step's loss into the running total.
func (a *LossAccumulator) Add(l nn.Loss) error {
	combined := l.Sum()
	if math.IsNaN(combined) || math.IsInf(combined, 0) {
		return &DivergedError{Phase: a.phase, Epoch: a.epoch, Value: combined}
	}
	if a.total == nil {
		a.total = append([]float64(nil), l.Components...)
		a.steps = 1
		return nil
	}
	if len(l.Components) != len(a.total) {
		return fmt.Errorf("loss arity changed mid-epoch: got %d components, want %d",
			len(l.Components), len(a.total))
	}
	floats.Add(a.total, l.Components)
	a.steps++
	return nil
}

// Steps returns the number of accumulated steps.
func (a *LossAccumulator) Steps() int {
	return a.steps
}

// Mean returns the element-wise mean over the accumulated steps.
func (a *LossAccumulator) Mean() []float64 {
	return a.MeanOver(float64(a.steps))
}

// MeanOver returns the element-wise total divided by n. Phases whose step
// count is not the normalizer (paired real/fake batching) pass their own n.
func (a *LossAccumulator) MeanOver(n float64) []float64 {
	if a.total == nil || n == 0 {
		return nil
	}
	mean := make([]float64, len(a.total))
	for i, v := range a.total {
		mean[i] = v / n
	}
	return mean
}

// MeanScalar returns the combined scalar mean over the accumulated steps.
func (a *LossAccumulator) MeanScalar() float64 {
	if a.steps == 0 {
		return 0
	}
	return floats.Sum(a.total) / float64(a.steps)
}

// Perplexity derives perplexity from a mean loss. A large mean loss
// overflows to IEEE-754 +Inf; that is a valid result, not an error.
func Perplexity(meanLoss float64) float64 {
	return math.Exp(meanLoss)
}
