// Package training drives the optimization of text generation models: a
// base trainer for supervised models and an adversarial trainer family for
// generator/discriminator models, with epoch-level checkpointing, validation
// and early stopping.
package training

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/tsawler/go-textgen/checkpoints"
	"github.com/tsawler/go-textgen/evaluator"
	"github.com/tsawler/go-textgen/nn"
)

// Sentinel best scores used before any validation has run, chosen so that
// the first real validation always counts as an improvement.
const (
	worstSmallerBetter = 1e8
	worstBiggerBetter  = -1e8
)

// EpochMetrics records the outcome of one training epoch for later
// inspection (loss curves, plateau diagnosis).
type EpochMetrics struct {
	Epoch      int
	TrainLoss  []float64
	TrainPPL   float64
	ValidScore float64 // NaN when the epoch had no validation
	Duration   time.Duration
}

// Trainer runs the supervised fit/evaluate loop for a generative model. It
// owns the optimizer, the validation policy and the checkpoint files of one
// training run.
type Trainer struct {
	config    *Config
	model     nn.GenerativeModel
	optimizer *OptimizerSet
	evaluator evaluator.Evaluator
	saver     *checkpoints.Saver
	scheduler LRScheduler

	savedModelFile string
	baseLR         float64

	startEpoch     int
	curStep        int
	bestValidScore float64
	bestValidResult evaluator.Result

	metrics []EpochMetrics
}

// NewTrainer creates a trainer for a generative model. The config must have
// been validated.
func NewTrainer(cfg *Config, model nn.GenerativeModel) *Trainer {
	best := worstSmallerBetter
	if cfg.ValidMetricBigger {
		best = worstBiggerBetter
	}
	return &Trainer{
		config:         cfg,
		model:          model,
		optimizer:      BuildOptimizer(model, cfg.Learner, cfg.LearningRate),
		evaluator:      evaluator.NewNgramEvaluator(),
		saver:          checkpoints.NewSaver(cfg.CheckpointFormat),
		scheduler:      cfg.scheduler(),
		savedModelFile: checkpoints.SavePath(cfg.CheckpointDir, model.Name(), time.Now(), cfg.CheckpointFormat),
		baseLR:         cfg.LearningRate,
		bestValidScore: best,
	}
}

// SavedModelFile returns the checkpoint path of this run.
func (t *Trainer) SavedModelFile() string {
	return t.savedModelFile
}

// Metrics returns the per-epoch training history recorded so far.
func (t *Trainer) Metrics() []EpochMetrics {
	return t.metrics
}

// Fit trains the model over the configured number of epochs, validating
// every EvalStep epochs when valid is non-nil, and returns the best
// validation score with its full metric result. Without any validation the
// returned score is the untouched sentinel and the result is nil.
//
// A non-finite training loss aborts the run with a *DivergedError.
func (t *Trainer) Fit(train, valid nn.DataLoader) (float64, evaluator.Result, error) {
	for epoch := t.startEpoch; epoch < t.config.Epochs; epoch++ {
		if t.scheduler != nil {
			t.optimizer.SetLR(t.scheduler.GetLR(epoch, 0, t.baseLR))
		}

		start := time.Now()
		trainLoss, err := t.trainEpoch(train, epoch)
		if err != nil {
			return 0, nil, err
		}
		elapsed := time.Since(start)

		m := EpochMetrics{
			Epoch:      epoch,
			TrainLoss:  trainLoss,
			TrainPPL:   Perplexity(combinedLoss(trainLoss)),
			ValidScore: math.NaN(),
			Duration:   elapsed,
		}

		fmt.Printf("epoch %d training [time: %.2fs, %s]\n",
			epoch, elapsed.Seconds(), formatLoss("train loss", trainLoss))

		if err := t.saveCheckpoint(epoch, t.savedModelFile); err != nil {
			return 0, nil, err
		}

		if valid != nil && t.config.EvalStep > 0 && (epoch+1)%t.config.EvalStep == 0 {
			vStart := time.Now()
			validScore, validResult, err := t.validEpoch(valid, epoch)
			if err != nil {
				return 0, nil, err
			}
			m.ValidScore = validScore

			var stop, improved bool
			t.bestValidScore, t.curStep, stop, improved = EarlyStopping(
				validScore, t.bestValidScore, t.curStep,
				t.config.StoppingStep, t.config.ValidMetricBigger)

			fmt.Printf("epoch %d evaluating [time: %.2fs, valid_score: %f]\n",
				epoch, time.Since(vStart).Seconds(), validScore)
			fmt.Printf("valid result: %s\n", formatResult(validResult))

			if improved {
				t.bestValidResult = validResult
				if err := t.saveCheckpoint(epoch, t.savedModelFile); err != nil {
					return 0, nil, err
				}
				fmt.Printf("Saving current best: %s\n", t.savedModelFile)
			}
			t.metrics = append(t.metrics, m)
			if stop {
				fmt.Printf("Finished training, best eval result in epoch %d\n",
					epoch-t.config.StoppingStep*t.config.EvalStep+1)
				break
			}
			continue
		}
		t.metrics = append(t.metrics, m)
	}
	return t.bestValidScore, t.bestValidResult, nil
}

// trainEpoch runs one full pass over the training data and returns the mean
// loss components.
func (t *Trainer) trainEpoch(train nn.DataLoader, epoch int) ([]float64, error) {
	t.model.Train()
	train.Reset()
	acc := NewLossAccumulator("train", epoch)

	for {
		batch, ok := train.Next()
		if !ok {
			break
		}
		t.optimizer.ZeroGrad()
		res, err := t.model.CalculateLoss(batch, epoch)
		if err != nil {
			return nil, fmt.Errorf("loss calculation failed at epoch %d: %v", epoch, err)
		}
		if err := acc.Add(res.Loss); err != nil {
			return nil, err
		}
		if err := runBackward(res.Backward); err != nil {
			return nil, fmt.Errorf("backward pass failed at epoch %d: %v", epoch, err)
		}
		if t.config.GradClip > 0 {
			nn.ClipGradNorm(t.model.Parameters(), t.config.GradClip)
		}
		if err := t.optimizer.Step(); err != nil {
			return nil, err
		}
	}
	return acc.Mean(), nil
}

// validEpoch computes the validation loss in evaluation mode and derives the
// validation score (perplexity of the mean loss). No gradients flow.
func (t *Trainer) validEpoch(valid nn.DataLoader, epoch int) (float64, evaluator.Result, error) {
	t.model.Eval()
	defer t.model.Train()
	valid.Reset()
	acc := NewLossAccumulator("valid", epoch)

	for {
		batch, ok := valid.Next()
		if !ok {
			break
		}
		res, err := t.model.CalculateLoss(batch, epoch)
		if err != nil {
			return 0, nil, fmt.Errorf("validation loss failed at epoch %d: %v", epoch, err)
		}
		if err := acc.Add(res.Loss); err != nil {
			return 0, nil, err
		}
	}

	meanLoss := acc.MeanScalar()
	ppl := Perplexity(meanLoss)
	return ppl, evaluator.Result{"loss": meanLoss, "ppl": ppl}, nil
}

// Evaluate scores the model's generated text on the evaluation data. With
// loadBest it first restores weights from modelFile, or from this run's own
// checkpoint when modelFile is empty.
func (t *Trainer) Evaluate(evalData nn.DataLoader, loadBest bool, modelFile string) (evaluator.Result, error) {
	if loadBest {
		path := modelFile
		if path == "" {
			path = t.savedModelFile
		}
		ckpt, err := t.saver.Load(path)
		if err != nil {
			return nil, err
		}
		if err := t.model.LoadStateDict(ckpt.StateDict()); err != nil {
			return nil, fmt.Errorf("failed to restore model weights from %s: %v", path, err)
		}
		fmt.Printf("Loading model structure and parameters from %s\n", path)
	}

	t.model.Eval()
	defer t.model.Train()

	generated, err := t.model.Generate(evalData)
	if err != nil {
		return nil, fmt.Errorf("generation failed: %v", err)
	}

	provider, ok := evalData.(nn.ReferenceProvider)
	if !ok {
		return nil, fmt.Errorf("evaluation data loader does not expose a reference corpus")
	}
	result, err := t.evaluator.Evaluate(generated, provider.GetReference())
	if err != nil {
		return nil, fmt.Errorf("evaluation failed: %v", err)
	}
	return result, nil
}

// ResumeCheckpoint restores a full training snapshot: model weights,
// optimizer state and the trainer's counters. Training resumes at the epoch
// after the checkpointed one. A checkpoint written for a different model
// kind only produces a warning; its weights are still loaded if compatible.
func (t *Trainer) ResumeCheckpoint(path string) error {
	ckpt, err := t.saver.Load(path)
	if err != nil {
		return err
	}
	if ckpt.ModelName != t.model.Name() {
		fmt.Printf("Architecture configuration given in config file is different from that of checkpoint. This may yield an exception while state_dict is being loaded.\n")
	}
	if err := t.model.LoadStateDict(ckpt.StateDict()); err != nil {
		return fmt.Errorf("failed to restore model weights from %s: %v", path, err)
	}
	if len(ckpt.OptimizerStates) > 0 {
		if err := t.optimizer.LoadStates(ckpt.OptimizerStates, "model"); err != nil {
			return err
		}
	}
	t.startEpoch = ckpt.Epoch + 1
	t.curStep = ckpt.CurStep
	t.bestValidScore = ckpt.BestValidScore
	fmt.Printf("Checkpoint loaded. Resume training from epoch %d\n", t.startEpoch)
	return nil
}

// saveCheckpoint writes a complete training snapshot for the given epoch.
func (t *Trainer) saveCheckpoint(epoch int, path string) error {
	cfgSnapshot, err := json.Marshal(t.config)
	if err != nil {
		return fmt.Errorf("failed to snapshot config: %v", err)
	}
	states, err := t.optimizer.States("model")
	if err != nil {
		return err
	}
	ckpt := &checkpoints.Checkpoint{
		Config:          cfgSnapshot,
		ModelName:       t.model.Name(),
		Epoch:           epoch,
		CurStep:         t.curStep,
		BestValidScore:  t.bestValidScore,
		Weights:         checkpoints.FromStateDict(t.model.StateDict()),
		OptimizerStates: states,
	}
	if err := t.saver.Save(ckpt, path); err != nil {
		return fmt.Errorf("failed to save checkpoint at epoch %d: %v", epoch, err)
	}
	return nil
}

// runBackward executes a step's backward passes, retaining the forward
// state for every pass except the last.
func runBackward(passes []nn.Backward) error {
	for i, backward := range passes {
		if err := backward(i < len(passes)-1); err != nil {
			return err
		}
	}
	return nil
}

// combinedLoss collapses a mean loss tuple into its combined scalar.
func combinedLoss(components []float64) float64 {
	var sum float64
	for _, v := range components {
		sum += v
	}
	return sum
}

// formatLoss renders a scalar loss as "label: 0.1234" and a tuple loss with
// numbered labels.
func formatLoss(label string, components []float64) string {
	if len(components) == 1 {
		return fmt.Sprintf("%s: %.4f", label, components[0])
	}
	parts := make([]string, 0, len(components))
	for i, v := range components {
		parts = append(parts, fmt.Sprintf("%s%d: %.4f", label, i+1, v))
	}
	return strings.Join(parts, ", ")
}

func formatResult(result evaluator.Result) string {
	keys := make([]string, 0, len(result))
	for k := range result {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %f", k, result[k]))
	}
	return strings.Join(parts, ", ")
}
