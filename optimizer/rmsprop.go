package optimizer

import (
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/floats"

	"github.com/tsawler/go-textgen/checkpoints"
	"github.com/tsawler/go-textgen/nn"
)

// RMSProp implements the RMSProp optimizer: gradients scaled by a running
// average of their recent magnitudes, with optional momentum.
type RMSProp struct {
	parameters  []*nn.Parameter
	lr          float64
	alpha       float64 // smoothing constant
	eps         float64
	weightDecay float64
	momentum    float64
	squaredAvg  [][]float64
	buffers     [][]float64 // momentum buffers, allocated only when momentum > 0
	mutex       sync.RWMutex
}

// NewRMSProp creates a new RMSProp optimizer bound to the given parameters.
func NewRMSProp(parameters []*nn.Parameter, lr, alpha, eps, weightDecay, momentum float64) *RMSProp {
	rms := &RMSProp{
		parameters:  parameters,
		lr:          lr,
		alpha:       alpha,
		eps:         eps,
		weightDecay: weightDecay,
		momentum:    momentum,
		squaredAvg:  zeroBuffers(parameters),
	}
	if momentum > 0 {
		rms.buffers = zeroBuffers(parameters)
	}
	return rms
}

// Step performs a single optimization step
func (rms *RMSProp) Step() error {
	rms.mutex.Lock()
	defer rms.mutex.Unlock()

	for i, param := range rms.parameters {
		grad := param.Grad
		if rms.weightDecay > 0 {
			g := make([]float64, len(grad))
			copy(g, grad)
			floats.AddScaled(g, rms.weightDecay, param.Data)
			grad = g
		}

		avg := rms.squaredAvg[i]
		for j := range grad {
			avg[j] = rms.alpha*avg[j] + (1.0-rms.alpha)*grad[j]*grad[j]
			update := grad[j] / (math.Sqrt(avg[j]) + rms.eps)
			if rms.momentum > 0 {
				buf := rms.buffers[i]
				buf[j] = rms.momentum*buf[j] + update
				update = buf[j]
			}
			param.Data[j] -= rms.lr * update
		}
	}
	return nil
}

// ZeroGrad resets gradients to zero for all parameters
func (rms *RMSProp) ZeroGrad() {
	nn.ZeroGrads(rms.parameters)
}

// GetLR returns the current learning rate
func (rms *RMSProp) GetLR() float64 {
	rms.mutex.RLock()
	defer rms.mutex.RUnlock()
	return rms.lr
}

// SetLR sets the learning rate
func (rms *RMSProp) SetLR(lr float64) {
	rms.mutex.Lock()
	defer rms.mutex.Unlock()
	rms.lr = lr
}

// GetState extracts RMSProp state for checkpointing
func (rms *RMSProp) GetState() (*checkpoints.OptimizerState, error) {
	rms.mutex.RLock()
	defer rms.mutex.RUnlock()

	state := &checkpoints.OptimizerState{
		Type: "RMSProp",
		Parameters: map[string]interface{}{
			"learning_rate": rms.lr,
			"alpha":         rms.alpha,
			"epsilon":       rms.eps,
			"weight_decay":  rms.weightDecay,
			"momentum":      rms.momentum,
		},
		StateData: captureBuffers(rms.squaredAvg, "squared_grad_avg", "squared_grad_avg"),
	}
	if rms.momentum > 0 {
		state.StateData = append(state.StateData, captureBuffers(rms.buffers, "momentum", "momentum")...)
	}
	return state, nil
}

// LoadState restores RMSProp state from a checkpoint
func (rms *RMSProp) LoadState(state *checkpoints.OptimizerState) error {
	if err := validateStateType("RMSProp", state); err != nil {
		return err
	}

	rms.mutex.Lock()
	defer rms.mutex.Unlock()

	rms.lr = extractFloat64Param(state.Parameters, "learning_rate", rms.lr)
	rms.alpha = extractFloat64Param(state.Parameters, "alpha", rms.alpha)
	rms.eps = extractFloat64Param(state.Parameters, "epsilon", rms.eps)
	rms.weightDecay = extractFloat64Param(state.Parameters, "weight_decay", rms.weightDecay)
	rms.momentum = extractFloat64Param(state.Parameters, "momentum", rms.momentum)

	if err := restoreBuffers(rms.squaredAvg, state.StateData, "squared_grad_avg"); err != nil {
		return fmt.Errorf("failed to restore RMSProp averages: %v", err)
	}
	if rms.momentum > 0 {
		if rms.buffers == nil {
			rms.buffers = zeroBuffers(rms.parameters)
		}
		if err := restoreBuffers(rms.buffers, state.StateData, "momentum"); err != nil {
			return fmt.Errorf("failed to restore RMSProp momentum: %v", err)
		}
	}
	return nil
}
