package optimizer

import (
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/floats"

	"github.com/tsawler/go-textgen/checkpoints"
	"github.com/tsawler/go-textgen/nn"
)

// Adam implements the Adam optimizer with bias-corrected first and second
// moment estimates.
type Adam struct {
	parameters  []*nn.Parameter
	lr          float64
	beta1       float64
	beta2       float64
	eps         float64
	weightDecay float64
	step        int64
	m           [][]float64 // first moment estimates
	v           [][]float64 // second moment estimates
	mutex       sync.RWMutex
}

// NewAdam creates a new Adam optimizer bound to the given parameters.
func NewAdam(parameters []*nn.Parameter, lr, beta1, beta2, eps, weightDecay float64) *Adam {
	return &Adam{
		parameters:  parameters,
		lr:          lr,
		beta1:       beta1,
		beta2:       beta2,
		eps:         eps,
		weightDecay: weightDecay,
		m:           zeroBuffers(parameters),
		v:           zeroBuffers(parameters),
	}
}

// NewDefaultAdam creates an Adam optimizer with the standard defaults
// (beta1=0.9, beta2=0.999, eps=1e-8, no weight decay).
func NewDefaultAdam(parameters []*nn.Parameter, lr float64) *Adam {
	return NewAdam(parameters, lr, 0.9, 0.999, 1e-8, 0.0)
}

// Step performs a single optimization step
func (adam *Adam) Step() error {
	adam.mutex.Lock()
	defer adam.mutex.Unlock()

	adam.step++

	// bias correction factors
	bias1 := 1.0 - math.Pow(adam.beta1, float64(adam.step))
	bias2 := 1.0 - math.Pow(adam.beta2, float64(adam.step))

	for i, param := range adam.parameters {
		grad := param.Grad
		if adam.weightDecay > 0 {
			g := make([]float64, len(grad))
			copy(g, grad)
			floats.AddScaled(g, adam.weightDecay, param.Data)
			grad = g
		}

		m := adam.m[i]
		v := adam.v[i]
		for j := range grad {
			m[j] = adam.beta1*m[j] + (1.0-adam.beta1)*grad[j]
			v[j] = adam.beta2*v[j] + (1.0-adam.beta2)*grad[j]*grad[j]

			mHat := m[j] / bias1
			vHat := v[j] / bias2
			param.Data[j] -= adam.lr * mHat / (math.Sqrt(vHat) + adam.eps)
		}
	}
	return nil
}

// ZeroGrad resets gradients to zero for all parameters
func (adam *Adam) ZeroGrad() {
	nn.ZeroGrads(adam.parameters)
}

// GetLR returns the current learning rate
func (adam *Adam) GetLR() float64 {
	adam.mutex.RLock()
	defer adam.mutex.RUnlock()
	return adam.lr
}

// SetLR sets the learning rate
func (adam *Adam) SetLR(lr float64) {
	adam.mutex.Lock()
	defer adam.mutex.Unlock()
	adam.lr = lr
}

// GetState extracts Adam state for checkpointing
func (adam *Adam) GetState() (*checkpoints.OptimizerState, error) {
	adam.mutex.RLock()
	defer adam.mutex.RUnlock()

	state := &checkpoints.OptimizerState{
		Type: "Adam",
		Parameters: map[string]interface{}{
			"learning_rate": adam.lr,
			"beta1":         adam.beta1,
			"beta2":         adam.beta2,
			"epsilon":       adam.eps,
			"weight_decay":  adam.weightDecay,
			"step_count":    float64(adam.step),
		},
	}
	state.StateData = append(state.StateData, captureBuffers(adam.m, "m", "m")...)
	state.StateData = append(state.StateData, captureBuffers(adam.v, "v", "v")...)
	return state, nil
}

// LoadState restores Adam state from a checkpoint
func (adam *Adam) LoadState(state *checkpoints.OptimizerState) error {
	if err := validateStateType("Adam", state); err != nil {
		return err
	}

	adam.mutex.Lock()
	defer adam.mutex.Unlock()

	adam.lr = extractFloat64Param(state.Parameters, "learning_rate", adam.lr)
	adam.beta1 = extractFloat64Param(state.Parameters, "beta1", adam.beta1)
	adam.beta2 = extractFloat64Param(state.Parameters, "beta2", adam.beta2)
	adam.eps = extractFloat64Param(state.Parameters, "epsilon", adam.eps)
	adam.weightDecay = extractFloat64Param(state.Parameters, "weight_decay", adam.weightDecay)
	adam.step = extractInt64Param(state.Parameters, "step_count", adam.step)

	if err := restoreBuffers(adam.m, state.StateData, "m"); err != nil {
		return fmt.Errorf("failed to restore Adam first moments: %v", err)
	}
	if err := restoreBuffers(adam.v, state.StateData, "v"); err != nil {
		return fmt.Errorf("failed to restore Adam second moments: %v", err)
	}
	return nil
}
