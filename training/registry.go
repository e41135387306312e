package training

import (
	"fmt"
	"strings"

	"github.com/tsawler/go-textgen/evaluator"
	"github.com/tsawler/go-textgen/nn"
)

// FitEvaluator is the contract shared by all trainers: run a full training
// schedule, then score generated text.
type FitEvaluator interface {
	Fit(train, valid nn.DataLoader) (float64, evaluator.Result, error)
	Evaluate(evalData nn.DataLoader, loadBest bool, modelFile string) (evaluator.Result, error)
}

// trainerBuilder constructs the trainer for one model kind.
type trainerBuilder func(cfg *Config, model nn.GenerativeModel) (FitEvaluator, error)

// trainerRegistry maps model kind tags to their trainer construction. The
// set is closed: adding a kind means adding an entry here.
var trainerRegistry = map[string]trainerBuilder{
	"rnn":         buildSupervised,
	"lstm":        buildSupervised,
	"gru":         buildSupervised,
	"transformer": buildSupervised,
	"conditional": buildSupervised,
	"seqgan":      buildAdversarial(StandardStrategy{}),
	"leakgan":     buildAdversarial(StandardStrategy{}),
	"rankgan":     buildAdversarial(ReferenceStrategy{}),
	"textgan":     buildAdversarial(RealOnlyStrategy{}),
	"maskgan":     buildAdversarial(InterleavedStrategy{}),
}

// NewTrainerFor resolves the trainer for the configured model kind. An
// unknown kind is a configuration error, not a fallback.
func NewTrainerFor(cfg *Config, model nn.GenerativeModel) (FitEvaluator, error) {
	build, ok := trainerRegistry[strings.ToLower(cfg.Model)]
	if !ok {
		return nil, fmt.Errorf("no trainer registered for model kind %q", cfg.Model)
	}
	return build(cfg, model)
}

// RegisteredKinds returns the model kind tags the registry resolves.
func RegisteredKinds() []string {
	kinds := make([]string, 0, len(trainerRegistry))
	for k := range trainerRegistry {
		kinds = append(kinds, k)
	}
	return kinds
}

func buildSupervised(cfg *Config, model nn.GenerativeModel) (FitEvaluator, error) {
	return NewTrainer(cfg, model), nil
}

func buildAdversarial(strategy GANStrategy) trainerBuilder {
	return func(cfg *Config, model nn.GenerativeModel) (FitEvaluator, error) {
		adv, ok := model.(nn.AdversarialModel)
		if !ok {
			return nil, fmt.Errorf("model kind %q requires a generator/discriminator model", cfg.Model)
		}
		if _, interleaved := strategy.(InterleavedStrategy); interleaved {
			if _, ok := model.(nn.CriticModel); !ok {
				return nil, fmt.Errorf("model kind %q requires a critic", cfg.Model)
			}
		}
		return NewGANTrainer(cfg, adv, strategy), nil
	}
}
