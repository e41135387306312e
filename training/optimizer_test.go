package training

import (
	"testing"

	"github.com/tsawler/go-textgen/optimizer"
)

func TestBuildOptimizerKinds(t *testing.T) {
	tests := []struct {
		learner string
		want    string
	}{
		{"adam", "*optimizer.Adam"},
		{"sgd", "*optimizer.SGD"},
		{"adagrad", "*optimizer.AdaGrad"},
		{"rmsprop", "*optimizer.RMSProp"},
		{"Adam", "*optimizer.Adam"}, // case-insensitive
	}

	for _, tt := range tests {
		t.Run(tt.learner, func(t *testing.T) {
			mod := newFakeModule("w")
			set := BuildOptimizer(mod, tt.learner, 0.01)
			if len(set.Opts) != 1 {
				t.Fatalf("Expected a single optimizer, got %d", len(set.Opts))
			}
			if got := typeName(set.Opts[0]); got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestBuildOptimizerFallback(t *testing.T) {
	// An unrecognized learner falls back to Adam instead of failing.
	set := BuildOptimizer(newFakeModule("w"), "lbfgs", 0.01)
	if got := typeName(set.Opts[0]); got != "*optimizer.Adam" {
		t.Errorf("Expected Adam fallback, got %s", got)
	}
}

func TestBuildOptimizerSplit(t *testing.T) {
	gen := &splitGenerator{
		fakeModule: newFakeModule("base"),
		manager:    newFakeModule("manager").params[0],
		worker:     newFakeModule("worker").params[0],
	}
	set := BuildOptimizer(gen, "adam", 0.01)
	if !set.Split() {
		t.Fatal("Expected a split optimizer set")
	}
	if len(set.Names) != 2 || set.Names[0] != "manager" || set.Names[1] != "worker" {
		t.Errorf("Expected partitions [manager worker], got %v", set.Names)
	}
}

func TestOptimizerSetStatesRoundTrip(t *testing.T) {
	mod := newFakeModule("w")
	set := BuildOptimizer(mod, "sgd", 0.1)
	for i := range mod.params[0].Grad {
		mod.params[0].Grad[i] = 0.5
	}
	if err := set.Step(); err != nil {
		t.Fatalf("Step failed: %v", err)
	}

	states, err := set.States("model")
	if err != nil {
		t.Fatalf("States failed: %v", err)
	}
	if _, ok := states["model"]; !ok {
		t.Fatalf("Expected state under key %q, got %v", "model", states)
	}

	restored := BuildOptimizer(newFakeModule("w"), "sgd", 0.1)
	if err := restored.LoadStates(states, "model"); err != nil {
		t.Fatalf("LoadStates failed: %v", err)
	}
	if err := restored.LoadStates(states, "missing"); err == nil {
		t.Error("Expected an error for a missing state key")
	}
}

func TestOptimizerSetSplitStateKeys(t *testing.T) {
	gen := &splitGenerator{
		fakeModule: newFakeModule("base"),
		manager:    newFakeModule("manager").params[0],
		worker:     newFakeModule("worker").params[0],
	}
	set := BuildOptimizer(gen, "adam", 0.01)
	states, err := set.States("generator")
	if err != nil {
		t.Fatalf("States failed: %v", err)
	}
	for _, key := range []string{"generator.manager", "generator.worker"} {
		if _, ok := states[key]; !ok {
			t.Errorf("Expected state under key %q", key)
		}
	}
}

func typeName(opt optimizer.Optimizer) string {
	switch opt.(type) {
	case *optimizer.Adam:
		return "*optimizer.Adam"
	case *optimizer.SGD:
		return "*optimizer.SGD"
	case *optimizer.AdaGrad:
		return "*optimizer.AdaGrad"
	case *optimizer.RMSProp:
		return "*optimizer.RMSProp"
	default:
		return "unknown"
	}
}
