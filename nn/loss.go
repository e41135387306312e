package nn

import "gonum.org/v1/gonum/floats"

// Loss is the result of computing one training or validation step: either a
// single scalar, or a fixed-order tuple of component scalars (for models that
// report multiple loss parts). The tuple arity is constant across all steps
// of one training phase.
type Loss struct {
	Components []float64
}

// ScalarLoss wraps a single scalar loss value.
func ScalarLoss(v float64) Loss {
	return Loss{Components: []float64{v}}
}

// TupleLoss wraps a fixed-order tuple of component losses.
func TupleLoss(vs ...float64) Loss {
	return Loss{Components: vs}
}

// Sum returns the combined scalar value of the loss. For a scalar loss this
// is the value itself; for a tuple it is the sum of all components.
func (l Loss) Sum() float64 {
	return floats.Sum(l.Components)
}

// Arity returns the number of components.
func (l Loss) Arity() int {
	return len(l.Components)
}

// IsTuple reports whether the loss carries more than one component.
func (l Loss) IsTuple() bool {
	return len(l.Components) > 1
}

// Backward runs a backward pass for a computed loss, populating the gradient
// buffers of the owning module's parameters. When retain is true the forward
// computation's intermediate state is kept alive so that a later backward
// pass over the same forward graph can follow.
type Backward func(retain bool) error

// StepResult couples a step's loss value with its deferred backward pass.
//
// Backward holds one entry per backward pass the step requires: a single
// entry for ordinary steps, or one entry per parameter partition for
// split-parameter generators, in positional correspondence with the loss
// components and the partition optimizers. The engine decides retention:
// every pass except the last is run with retain=true.
//
// A model in evaluation mode may return an empty Backward; callers never
// invoke it during validation.
type StepResult struct {
	Loss     Loss
	Backward []Backward
}

// Step builds a single-backward StepResult.
func Step(loss Loss, backward Backward) StepResult {
	if backward == nil {
		return StepResult{Loss: loss}
	}
	return StepResult{Loss: loss, Backward: []Backward{backward}}
}
