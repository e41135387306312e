// Package optimizer implements the optimization processes that update model
// parameters in place: SGD, Adam, AdaGrad, and RMSProp. Every optimizer is
// bound to one parameter partition and supports full state save/restore for
// checkpoint round-trips.
package optimizer

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tsawler/go-textgen/checkpoints"
	"github.com/tsawler/go-textgen/nn"
)

// Optimizer defines the common interface for all optimizers.
// This interface enables state save/restore for checkpoint functionality.
type Optimizer interface {
	// Step performs a single optimization step using the gradients
	// currently held by the bound parameters
	Step() error

	// ZeroGrad resets gradients to zero for all bound parameters
	ZeroGrad()

	// GetLR gets the current learning rate
	GetLR() float64

	// SetLR sets the learning rate
	SetLR(lr float64)

	// GetState extracts optimizer state for checkpointing
	GetState() (*checkpoints.OptimizerState, error)

	// LoadState restores optimizer state from a checkpoint
	LoadState(state *checkpoints.OptimizerState) error
}

// extractBufferIndex extracts the parameter index from state tensor names
// like "momentum_0", "variance_1", "squared_grad_avg_0"
func extractBufferIndex(name string) int {
	i := strings.LastIndexByte(name, '_')
	if i < 0 {
		return -1
	}
	idx, err := strconv.Atoi(name[i+1:])
	if err != nil {
		return -1
	}
	return idx
}

// validateStateType ensures the state type matches the optimizer
func validateStateType(optimizerType string, state *checkpoints.OptimizerState) error {
	if state.Type != optimizerType {
		return fmt.Errorf("state type mismatch: expected %s, got %s", optimizerType, state.Type)
	}
	return nil
}

// restoreBuffers copies state tensors into the per-parameter buffers keyed by
// the index suffix of each tensor name.
func restoreBuffers(buffers [][]float64, tensors []checkpoints.OptimizerTensor, stateType string) error {
	for _, t := range tensors {
		if t.StateType != stateType {
			continue
		}
		idx := extractBufferIndex(t.Name)
		if idx < 0 || idx >= len(buffers) {
			return fmt.Errorf("state tensor %q does not match any parameter", t.Name)
		}
		if len(t.Data) != len(buffers[idx]) {
			return fmt.Errorf("state tensor %q size mismatch: expected %d elements, got %d",
				t.Name, len(buffers[idx]), len(t.Data))
		}
		copy(buffers[idx], t.Data)
	}
	return nil
}

// captureBuffers snapshots per-parameter buffers as named state tensors.
func captureBuffers(buffers [][]float64, name, stateType string) []checkpoints.OptimizerTensor {
	tensors := make([]checkpoints.OptimizerTensor, 0, len(buffers))
	for i, buf := range buffers {
		data := make([]float64, len(buf))
		copy(data, buf)
		tensors = append(tensors, checkpoints.OptimizerTensor{
			Name:      fmt.Sprintf("%s_%d", name, i),
			Data:      data,
			StateType: stateType,
		})
	}
	return tensors
}

// zeroBuffers allocates one zero buffer per parameter, sized to match.
func zeroBuffers(params []*nn.Parameter) [][]float64 {
	buffers := make([][]float64, len(params))
	for i, p := range params {
		buffers[i] = make([]float64, len(p.Data))
	}
	return buffers
}

// extractFloat64Param safely extracts a float64 parameter from the state map
func extractFloat64Param(params map[string]interface{}, key string, defaultValue float64) float64 {
	if val, ok := params[key].(float64); ok {
		return val
	}
	return defaultValue
}

// extractInt64Param safely extracts an int64 parameter from the state map
func extractInt64Param(params map[string]interface{}, key string, defaultValue int64) int64 {
	if val, ok := params[key].(float64); ok {
		return int64(val)
	}
	return defaultValue
}

// extractBoolParam safely extracts a bool parameter from the state map
func extractBoolParam(params map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := params[key].(bool); ok {
		return val
	}
	return defaultValue
}
