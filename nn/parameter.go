package nn

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

// Global random source for deterministic initialization
var globalRng *rand.Rand = rand.New(rand.NewSource(1))

// SetRandomSeed sets the global random seed for deterministic weight initialization
func SetRandomSeed(seed int64) {
	globalRng = rand.New(rand.NewSource(seed))
}

// Parameter is a named, flat trainable weight vector together with its
// gradient buffer. Data and Grad always have the same length; exactly one
// optimizer updates a given parameter in place.
type Parameter struct {
	Name string
	Data []float64
	Grad []float64
}

// NewParameter creates a zero-initialized parameter of the given size.
func NewParameter(name string, size int) *Parameter {
	return &Parameter{
		Name: name,
		Data: make([]float64, size),
		Grad: make([]float64, size),
	}
}

// NewUniformParameter creates a parameter initialized from U(-bound, bound).
func NewUniformParameter(name string, size int, bound float64) *Parameter {
	p := NewParameter(name, size)
	for i := range p.Data {
		p.Data[i] = (globalRng.Float64()*2.0 - 1.0) * bound
	}
	return p
}

// ZeroGrad resets the gradient buffer to zero.
func (p *Parameter) ZeroGrad() {
	for i := range p.Grad {
		p.Grad[i] = 0
	}
}

// ZeroGrads resets the gradients of all given parameters.
func ZeroGrads(params []*Parameter) {
	for _, p := range params {
		p.ZeroGrad()
	}
}

// ClipGradNorm scales the gradients of params in place so that their global
// L2 norm does not exceed maxNorm, and returns the pre-clip norm. A
// non-positive maxNorm leaves the gradients untouched.
func ClipGradNorm(params []*Parameter, maxNorm float64) float64 {
	var sq float64
	for _, p := range params {
		n := floats.Norm(p.Grad, 2)
		sq += n * n
	}
	total := math.Sqrt(sq)
	if maxNorm <= 0 || total <= maxNorm {
		return total
	}
	scale := maxNorm / total
	for _, p := range params {
		floats.Scale(scale, p.Grad)
	}
	return total
}

// StateDict is a flat serializable view of a module's parameters, keyed by
// parameter name.
type StateDict map[string][]float64

// StateDictOf captures a copy of the given parameters.
func StateDictOf(params []*Parameter) StateDict {
	sd := make(StateDict, len(params))
	for _, p := range params {
		data := make([]float64, len(p.Data))
		copy(data, p.Data)
		sd[p.Name] = data
	}
	return sd
}

// LoadStateDict copies values from sd into the matching parameters. Every
// parameter must be present in sd with a matching length.
func LoadStateDict(params []*Parameter, sd StateDict) error {
	for _, p := range params {
		data, ok := sd[p.Name]
		if !ok {
			return fmt.Errorf("state dict missing parameter %q", p.Name)
		}
		if len(data) != len(p.Data) {
			return fmt.Errorf("parameter %q size mismatch: model %d, state dict %d",
				p.Name, len(p.Data), len(data))
		}
		copy(p.Data, data)
	}
	return nil
}
