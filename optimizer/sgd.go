package optimizer

import (
	"fmt"
	"sync"

	"gonum.org/v1/gonum/floats"

	"github.com/tsawler/go-textgen/checkpoints"
	"github.com/tsawler/go-textgen/nn"
)

// SGD implements stochastic gradient descent with optional momentum,
// dampening, weight decay, and Nesterov momentum.
type SGD struct {
	parameters   []*nn.Parameter
	learningRate float64
	momentum     float64
	weightDecay  float64
	dampening    float64
	nesterov     bool
	velocities   [][]float64
	mutex        sync.RWMutex
}

// NewSGD creates a new SGD optimizer bound to the given parameters.
func NewSGD(parameters []*nn.Parameter, lr, momentum, weightDecay, dampening float64, nesterov bool) *SGD {
	sgd := &SGD{
		parameters:   parameters,
		learningRate: lr,
		momentum:     momentum,
		weightDecay:  weightDecay,
		dampening:    dampening,
		nesterov:     nesterov,
	}
	if momentum > 0 {
		sgd.velocities = zeroBuffers(parameters)
	}
	return sgd
}

// Step performs a single optimization step
func (sgd *SGD) Step() error {
	sgd.mutex.Lock()
	defer sgd.mutex.Unlock()

	for i, param := range sgd.parameters {
		grad := param.Grad

		if sgd.weightDecay > 0 || sgd.momentum > 0 {
			// work on a copy so the parameter's gradient buffer stays intact
			g := make([]float64, len(grad))
			copy(g, grad)
			if sgd.weightDecay > 0 {
				floats.AddScaled(g, sgd.weightDecay, param.Data)
			}
			if sgd.momentum > 0 {
				velocity := sgd.velocities[i]
				// velocity = momentum*velocity + (1-dampening)*grad
				floats.Scale(sgd.momentum, velocity)
				floats.AddScaled(velocity, 1.0-sgd.dampening, g)
				if sgd.nesterov {
					// g = g + momentum*velocity
					floats.AddScaled(g, sgd.momentum, velocity)
				} else {
					copy(g, velocity)
				}
			}
			grad = g
		}

		// param = param - lr*grad
		floats.AddScaled(param.Data, -sgd.learningRate, grad)
	}
	return nil
}

// ZeroGrad resets gradients to zero for all parameters
func (sgd *SGD) ZeroGrad() {
	nn.ZeroGrads(sgd.parameters)
}

// GetLR returns the current learning rate
func (sgd *SGD) GetLR() float64 {
	sgd.mutex.RLock()
	defer sgd.mutex.RUnlock()
	return sgd.learningRate
}

// SetLR sets the learning rate
func (sgd *SGD) SetLR(lr float64) {
	sgd.mutex.Lock()
	defer sgd.mutex.Unlock()
	sgd.learningRate = lr
}

// GetState extracts SGD state for checkpointing
func (sgd *SGD) GetState() (*checkpoints.OptimizerState, error) {
	sgd.mutex.RLock()
	defer sgd.mutex.RUnlock()

	state := &checkpoints.OptimizerState{
		Type: "SGD",
		Parameters: map[string]interface{}{
			"learning_rate": sgd.learningRate,
			"momentum":      sgd.momentum,
			"weight_decay":  sgd.weightDecay,
			"dampening":     sgd.dampening,
			"nesterov":      sgd.nesterov,
		},
	}
	if sgd.momentum > 0 {
		state.StateData = captureBuffers(sgd.velocities, "momentum", "momentum")
	}
	return state, nil
}

// LoadState restores SGD state from a checkpoint
func (sgd *SGD) LoadState(state *checkpoints.OptimizerState) error {
	if err := validateStateType("SGD", state); err != nil {
		return err
	}

	sgd.mutex.Lock()
	defer sgd.mutex.Unlock()

	sgd.learningRate = extractFloat64Param(state.Parameters, "learning_rate", sgd.learningRate)
	sgd.momentum = extractFloat64Param(state.Parameters, "momentum", sgd.momentum)
	sgd.weightDecay = extractFloat64Param(state.Parameters, "weight_decay", sgd.weightDecay)
	sgd.dampening = extractFloat64Param(state.Parameters, "dampening", sgd.dampening)
	sgd.nesterov = extractBoolParam(state.Parameters, "nesterov", sgd.nesterov)

	if sgd.momentum > 0 {
		if sgd.velocities == nil {
			sgd.velocities = zeroBuffers(sgd.parameters)
		}
		if err := restoreBuffers(sgd.velocities, state.StateData, "momentum"); err != nil {
			return fmt.Errorf("failed to restore SGD momentum: %v", err)
		}
	}
	return nil
}
