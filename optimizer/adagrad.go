package optimizer

import (
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/floats"

	"github.com/tsawler/go-textgen/checkpoints"
	"github.com/tsawler/go-textgen/nn"
)

// AdaGrad implements the AdaGrad optimizer: per-element learning rates
// scaled by the accumulated squared gradient history.
type AdaGrad struct {
	parameters  []*nn.Parameter
	lr          float64
	eps         float64
	weightDecay float64
	sumSquares  [][]float64 // accumulated squared gradients
	mutex       sync.RWMutex
}

// NewAdaGrad creates a new AdaGrad optimizer bound to the given parameters.
func NewAdaGrad(parameters []*nn.Parameter, lr, eps, weightDecay float64) *AdaGrad {
	return &AdaGrad{
		parameters:  parameters,
		lr:          lr,
		eps:         eps,
		weightDecay: weightDecay,
		sumSquares:  zeroBuffers(parameters),
	}
}

// Step performs a single optimization step
func (ag *AdaGrad) Step() error {
	ag.mutex.Lock()
	defer ag.mutex.Unlock()

	for i, param := range ag.parameters {
		grad := param.Grad
		if ag.weightDecay > 0 {
			g := make([]float64, len(grad))
			copy(g, grad)
			floats.AddScaled(g, ag.weightDecay, param.Data)
			grad = g
		}

		sum := ag.sumSquares[i]
		for j := range grad {
			sum[j] += grad[j] * grad[j]
			param.Data[j] -= ag.lr * grad[j] / (math.Sqrt(sum[j]) + ag.eps)
		}
	}
	return nil
}

// ZeroGrad resets gradients to zero for all parameters
func (ag *AdaGrad) ZeroGrad() {
	nn.ZeroGrads(ag.parameters)
}

// GetLR returns the current learning rate
func (ag *AdaGrad) GetLR() float64 {
	ag.mutex.RLock()
	defer ag.mutex.RUnlock()
	return ag.lr
}

// SetLR sets the learning rate
func (ag *AdaGrad) SetLR(lr float64) {
	ag.mutex.Lock()
	defer ag.mutex.Unlock()
	ag.lr = lr
}

// GetState extracts AdaGrad state for checkpointing
func (ag *AdaGrad) GetState() (*checkpoints.OptimizerState, error) {
	ag.mutex.RLock()
	defer ag.mutex.RUnlock()

	return &checkpoints.OptimizerState{
		Type: "AdaGrad",
		Parameters: map[string]interface{}{
			"learning_rate": ag.lr,
			"epsilon":       ag.eps,
			"weight_decay":  ag.weightDecay,
		},
		StateData: captureBuffers(ag.sumSquares, "squared_grad_sum", "squared_grad_sum"),
	}, nil
}

// LoadState restores AdaGrad state from a checkpoint
func (ag *AdaGrad) LoadState(state *checkpoints.OptimizerState) error {
	if err := validateStateType("AdaGrad", state); err != nil {
		return err
	}

	ag.mutex.Lock()
	defer ag.mutex.Unlock()

	ag.lr = extractFloat64Param(state.Parameters, "learning_rate", ag.lr)
	ag.eps = extractFloat64Param(state.Parameters, "epsilon", ag.eps)
	ag.weightDecay = extractFloat64Param(state.Parameters, "weight_decay", ag.weightDecay)

	if err := restoreBuffers(ag.sumSquares, state.StateData, "squared_grad_sum"); err != nil {
		return fmt.Errorf("failed to restore AdaGrad accumulators: %v", err)
	}
	return nil
}
