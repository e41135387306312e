package optimizer

import (
	"math"
	"testing"

	"github.com/tsawler/go-textgen/nn"
)

func paramWithGrad(name string, data, grad []float64) *nn.Parameter {
	p := nn.NewParameter(name, len(data))
	copy(p.Data, data)
	copy(p.Grad, grad)
	return p
}

func TestSGDVanillaStep(t *testing.T) {
	p := paramWithGrad("w", []float64{1.0, 2.0}, []float64{0.5, -0.5})
	sgd := NewSGD([]*nn.Parameter{p}, 0.1, 0, 0, 0, false)

	if err := sgd.Step(); err != nil {
		t.Fatalf("Step failed: %v", err)
	}

	// param = param - lr*grad
	want := []float64{0.95, 2.05}
	for i, v := range want {
		if math.Abs(p.Data[i]-v) > 1e-12 {
			t.Errorf("Position %d: expected %f, got %f", i, v, p.Data[i])
		}
	}
}

func TestSGDMomentumStep(t *testing.T) {
	p := paramWithGrad("w", []float64{1.0}, []float64{1.0})
	sgd := NewSGD([]*nn.Parameter{p}, 0.1, 0.9, 0, 0, false)

	// First step: velocity = grad, update = lr*velocity.
	if err := sgd.Step(); err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if math.Abs(p.Data[0]-0.9) > 1e-12 {
		t.Errorf("Expected 0.9 after first step, got %f", p.Data[0])
	}

	// Second step with the same gradient: velocity = 0.9*1 + 1 = 1.9.
	if err := sgd.Step(); err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if math.Abs(p.Data[0]-(0.9-0.19)) > 1e-12 {
		t.Errorf("Expected 0.71 after second step, got %f", p.Data[0])
	}
}

func TestSGDWeightDecayKeepsGradBuffer(t *testing.T) {
	p := paramWithGrad("w", []float64{1.0}, []float64{0.5})
	sgd := NewSGD([]*nn.Parameter{p}, 0.1, 0, 0.1, 0, false)

	if err := sgd.Step(); err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	// The decay term is applied to a copy; the gradient buffer is untouched.
	if p.Grad[0] != 0.5 {
		t.Errorf("Expected unmodified gradient 0.5, got %f", p.Grad[0])
	}
	want := 1.0 - 0.1*(0.5+0.1*1.0)
	if math.Abs(p.Data[0]-want) > 1e-12 {
		t.Errorf("Expected %f, got %f", want, p.Data[0])
	}
}

func TestAdamFirstStep(t *testing.T) {
	p := paramWithGrad("w", []float64{1.0}, []float64{1.0})
	adam := NewDefaultAdam([]*nn.Parameter{p}, 0.1)

	if err := adam.Step(); err != nil {
		t.Fatalf("Step failed: %v", err)
	}

	// With bias correction the first update is lr * g / (|g| + eps).
	want := 1.0 - 0.1*1.0/(1.0+1e-8)
	if math.Abs(p.Data[0]-want) > 1e-9 {
		t.Errorf("Expected %f, got %f", want, p.Data[0])
	}
}

func TestAdaGradStep(t *testing.T) {
	p := paramWithGrad("w", []float64{1.0}, []float64{2.0})
	ag := NewAdaGrad([]*nn.Parameter{p}, 0.1, 1e-10, 0)

	if err := ag.Step(); err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	// sumSquares = 4, update = lr * g / sqrt(4) = 0.1.
	if math.Abs(p.Data[0]-0.9) > 1e-9 {
		t.Errorf("Expected 0.9, got %f", p.Data[0])
	}

	if err := ag.Step(); err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	// sumSquares = 8, update = 0.1 * 2 / sqrt(8).
	want := 0.9 - 0.1*2.0/math.Sqrt(8)
	if math.Abs(p.Data[0]-want) > 1e-9 {
		t.Errorf("Expected %f, got %f", want, p.Data[0])
	}
}

func TestRMSPropStep(t *testing.T) {
	p := paramWithGrad("w", []float64{1.0}, []float64{1.0})
	rms := NewRMSProp([]*nn.Parameter{p}, 0.1, 0.9, 1e-8, 0, 0)

	if err := rms.Step(); err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	// squaredAvg = 0.1, update = lr * g / sqrt(0.1).
	want := 1.0 - 0.1*1.0/(math.Sqrt(0.1)+1e-8)
	if math.Abs(p.Data[0]-want) > 1e-9 {
		t.Errorf("Expected %f, got %f", want, p.Data[0])
	}
}

func TestLearningRateAccessors(t *testing.T) {
	p := nn.NewParameter("w", 2)
	opts := []Optimizer{
		NewSGD([]*nn.Parameter{p}, 0.1, 0, 0, 0, false),
		NewDefaultAdam([]*nn.Parameter{p}, 0.1),
		NewAdaGrad([]*nn.Parameter{p}, 0.1, 1e-10, 0),
		NewRMSProp([]*nn.Parameter{p}, 0.1, 0.99, 1e-8, 0, 0),
	}
	for _, opt := range opts {
		if opt.GetLR() != 0.1 {
			t.Errorf("Expected initial LR 0.1, got %f", opt.GetLR())
		}
		opt.SetLR(0.01)
		if opt.GetLR() != 0.01 {
			t.Errorf("Expected updated LR 0.01, got %f", opt.GetLR())
		}
	}
}

func TestZeroGrad(t *testing.T) {
	p := paramWithGrad("w", []float64{1.0, 1.0}, []float64{0.5, 0.5})
	sgd := NewSGD([]*nn.Parameter{p}, 0.1, 0, 0, 0, false)
	sgd.ZeroGrad()
	for i, g := range p.Grad {
		if g != 0 {
			t.Errorf("Position %d: expected zero gradient, got %f", i, g)
		}
	}
}

func TestAdamStateRoundTrip(t *testing.T) {
	p := paramWithGrad("w", []float64{1.0, 2.0}, []float64{0.5, -0.5})
	adam := NewDefaultAdam([]*nn.Parameter{p}, 0.1)
	for i := 0; i < 3; i++ {
		if err := adam.Step(); err != nil {
			t.Fatalf("Step failed: %v", err)
		}
	}

	state, err := adam.GetState()
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	if state.Type != "Adam" {
		t.Errorf("Expected state type Adam, got %q", state.Type)
	}

	q := paramWithGrad("w", []float64{1.0, 2.0}, []float64{0.5, -0.5})
	restored := NewDefaultAdam([]*nn.Parameter{q}, 0.5)
	if err := restored.LoadState(state); err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}
	if restored.GetLR() != 0.1 {
		t.Errorf("Expected restored LR 0.1, got %f", restored.GetLR())
	}

	// From identical positions, the restored optimizer produces exactly
	// the same next update as the original.
	copy(q.Data, p.Data)
	if err := adam.Step(); err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if err := restored.Step(); err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	for i := range q.Data {
		if math.Abs(q.Data[i]-p.Data[i]) > 1e-9 {
			t.Errorf("Position %d: expected %f, got %f", i, p.Data[i], q.Data[i])
		}
	}
}

func TestSGDMomentumStateRoundTrip(t *testing.T) {
	p := paramWithGrad("w", []float64{1.0}, []float64{1.0})
	sgd := NewSGD([]*nn.Parameter{p}, 0.1, 0.9, 0, 0, false)
	if err := sgd.Step(); err != nil {
		t.Fatalf("Step failed: %v", err)
	}

	state, err := sgd.GetState()
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	if len(state.StateData) != 1 || state.StateData[0].StateType != "momentum" {
		t.Fatalf("Expected one momentum buffer, got %v", state.StateData)
	}

	q := paramWithGrad("w", []float64{0.9}, []float64{1.0})
	restored := NewSGD([]*nn.Parameter{q}, 0.1, 0.9, 0, 0, false)
	if err := restored.LoadState(state); err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}
	if err := sgd.Step(); err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if err := restored.Step(); err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if math.Abs(q.Data[0]-p.Data[0]) > 1e-12 {
		t.Errorf("Expected identical trajectories, got %f vs %f", q.Data[0], p.Data[0])
	}
}

func TestLoadStateTypeMismatch(t *testing.T) {
	p := nn.NewParameter("w", 2)
	adam := NewDefaultAdam([]*nn.Parameter{p}, 0.1)
	sgd := NewSGD([]*nn.Parameter{p}, 0.1, 0, 0, 0, false)

	state, err := sgd.GetState()
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	if err := adam.LoadState(state); err == nil {
		t.Error("Expected an error loading SGD state into Adam")
	}
}
