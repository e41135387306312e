package training

import (
	"fmt"
	"strings"

	"github.com/tsawler/go-textgen/checkpoints"
	"github.com/tsawler/go-textgen/nn"
	"github.com/tsawler/go-textgen/optimizer"
)

// Recognized learner kinds.
const (
	LearnerAdam    = "adam"
	LearnerSGD     = "sgd"
	LearnerAdaGrad = "adagrad"
	LearnerRMSProp = "rmsprop"
)

// OptimizerSet binds one optimizer per parameter partition of a module. A
// module without split parameters holds a single unnamed entry; a module
// exposing the parameter-split capability holds one entry per named
// partition, in the order the module reports them. Partitions never overlap,
// so each parameter is updated by exactly one optimizer.
type OptimizerSet struct {
	Names []string
	Opts  []optimizer.Optimizer
}

// BuildOptimizer builds the optimization processes for a module from a
// learner kind and learning rate. An unrecognized learner kind falls back to
// adam with a warning; it never fails.
func BuildOptimizer(mod nn.Module, learner string, lr float64) *OptimizerSet {
	if splitter, ok := mod.(nn.ParamSplitter); ok {
		groups := splitter.SplitParams()
		set := &OptimizerSet{
			Names: make([]string, 0, len(groups)),
			Opts:  make([]optimizer.Optimizer, 0, len(groups)),
		}
		for _, g := range groups {
			set.Names = append(set.Names, g.Name)
			set.Opts = append(set.Opts, buildOne(g.Params, learner, lr))
		}
		return set
	}
	return &OptimizerSet{
		Names: []string{""},
		Opts:  []optimizer.Optimizer{buildOne(mod.Parameters(), learner, lr)},
	}
}

func buildOne(params []*nn.Parameter, learner string, lr float64) optimizer.Optimizer {
	switch strings.ToLower(learner) {
	case LearnerAdam:
		return optimizer.NewDefaultAdam(params, lr)
	case LearnerSGD:
		return optimizer.NewSGD(params, lr, 0, 0, 0, false)
	case LearnerAdaGrad:
		return optimizer.NewAdaGrad(params, lr, 1e-10, 0)
	case LearnerRMSProp:
		return optimizer.NewRMSProp(params, lr, 0.99, 1e-8, 0, 0)
	default:
		fmt.Printf("Received unrecognized optimizer %q, set default Adam optimizer\n", learner)
		return optimizer.NewDefaultAdam(params, lr)
	}
}

// Split reports whether the set drives more than one parameter partition.
func (s *OptimizerSet) Split() bool {
	return len(s.Opts) > 1
}

// ZeroGrad resets gradients across all partitions.
func (s *OptimizerSet) ZeroGrad() {
	for _, opt := range s.Opts {
		opt.ZeroGrad()
	}
}

// Step steps every partition's optimizer in order.
func (s *OptimizerSet) Step() error {
	for i, opt := range s.Opts {
		if err := opt.Step(); err != nil {
			return fmt.Errorf("optimizer step failed for partition %q: %v", s.Names[i], err)
		}
	}
	return nil
}

// SetLR sets the learning rate on every partition's optimizer.
func (s *OptimizerSet) SetLR(lr float64) {
	for _, opt := range s.Opts {
		opt.SetLR(lr)
	}
}

// States captures all optimizer states for checkpointing, keyed by prefix
// for an unnamed single partition or "prefix.partition" otherwise.
func (s *OptimizerSet) States(prefix string) (map[string]*checkpoints.OptimizerState, error) {
	states := make(map[string]*checkpoints.OptimizerState, len(s.Opts))
	for i, opt := range s.Opts {
		st, err := opt.GetState()
		if err != nil {
			return nil, fmt.Errorf("failed to capture optimizer state for %q: %v", s.key(prefix, i), err)
		}
		states[s.key(prefix, i)] = st
	}
	return states, nil
}

// LoadStates restores optimizer states captured by States. Entries for other
// prefixes are ignored; a missing entry for this set is an error.
func (s *OptimizerSet) LoadStates(states map[string]*checkpoints.OptimizerState, prefix string) error {
	for i, opt := range s.Opts {
		key := s.key(prefix, i)
		st, ok := states[key]
		if !ok {
			return fmt.Errorf("checkpoint has no optimizer state for %q", key)
		}
		if err := opt.LoadState(st); err != nil {
			return fmt.Errorf("failed to restore optimizer state for %q: %v", key, err)
		}
	}
	return nil
}

func (s *OptimizerSet) key(prefix string, i int) string {
	if s.Names[i] == "" {
		return prefix
	}
	return prefix + "." + s.Names[i]
}
