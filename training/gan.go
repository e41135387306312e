package training

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/tsawler/go-textgen/checkpoints"
	"github.com/tsawler/go-textgen/evaluator"
	"github.com/tsawler/go-textgen/nn"
)

// GANTrainer drives the three-phase adversarial schedule: generator
// pretraining, discriminator pretraining, then adversarial rounds. The
// variant-specific sampling and stepping structure lives in the strategy;
// the trainer owns the optimizers, the phase loop and the terminal
// checkpoint.
type GANTrainer struct {
	config    *Config
	model     nn.AdversarialModel
	strategy  GANStrategy
	gOpt      *OptimizerSet
	dOpt      *OptimizerSet
	evaluator evaluator.Evaluator
	saver     *checkpoints.Saver
	rng       *rand.Rand

	savedModelFile string

	// maxLength is the padded sequence length for re-batched real data:
	// the configured maximum plus begin/end markers.
	maxLength int

	// Combined-scalar loss history per phase epoch.
	gPretrainLoss []float64
	dPretrainLoss []float64
	advLoss       []float64
}

// NewGANTrainer creates an adversarial trainer. Generator and discriminator
// get independent optimizers of the same learner kind; a split-parameter
// generator gets one optimizer per partition.
func NewGANTrainer(cfg *Config, model nn.AdversarialModel, strategy GANStrategy) *GANTrainer {
	return &GANTrainer{
		config:         cfg,
		model:          model,
		strategy:       strategy,
		gOpt:           BuildOptimizer(model.Generator(), cfg.Learner, cfg.LearningRate),
		dOpt:           BuildOptimizer(model.Discriminator(), cfg.Learner, cfg.LearningRate),
		evaluator:      evaluator.NewNgramEvaluator(),
		saver:          checkpoints.NewSaver(cfg.CheckpointFormat),
		rng:            rand.New(rand.NewSource(cfg.Seed)),
		savedModelFile: checkpoints.SavePath(cfg.CheckpointDir, model.Name(), time.Now(), cfg.CheckpointFormat),
		maxLength:      cfg.MaxSeqLength + 2,
	}
}

// SavedModelFile returns the checkpoint path of this run.
func (t *GANTrainer) SavedModelFile() string {
	return t.savedModelFile
}

// Fit runs the adversarial training schedule. Validation-based model
// selection does not apply to adversarial training: the valid loader is
// ignored, a single checkpoint is written after the last adversarial round,
// and the returned score is always -1 with a nil result.
func (t *GANTrainer) Fit(train, valid nn.DataLoader) (float64, evaluator.Result, error) {
	_ = valid

	fmt.Printf("Start generator pretraining...\n")
	for epoch := 0; epoch < t.config.GPretrainingEpochs; epoch++ {
		start := time.Now()
		loss, err := t.gTrainEpoch(train, epoch)
		if err != nil {
			return 0, nil, err
		}
		t.gPretrainLoss = append(t.gPretrainLoss, combinedLoss(loss))
		fmt.Printf("epoch %d generator pretraining [time: %.2fs, %s]\n",
			epoch, time.Since(start).Seconds(), formatLoss("train loss", loss))
	}
	fmt.Printf("End generator pretraining...\n")

	fmt.Printf("Start discriminator pretraining...\n")
	for epoch := 0; epoch < t.config.DPretrainingEpochs; epoch++ {
		start := time.Now()
		loss, err := t.strategy.DiscriminatorEpoch(t, train, epoch, false)
		if err != nil {
			return 0, nil, err
		}
		t.dPretrainLoss = append(t.dPretrainLoss, combinedLoss(loss))
		fmt.Printf("epoch %d discriminator pretraining [time: %.2fs, %s]\n",
			epoch, time.Since(start).Seconds(), formatLoss("train loss", loss))
	}
	fmt.Printf("End discriminator pretraining...\n")

	fmt.Printf("Start adversarial training...\n")
	for round := 0; round < t.config.AdversarialTrainingEpochs; round++ {
		start := time.Now()
		loss, err := t.strategy.AdversarialRound(t, train, round)
		if err != nil {
			return 0, nil, err
		}
		t.advLoss = append(t.advLoss, combinedLoss(loss))
		fmt.Printf("epoch %d adversarial training [time: %.2fs, %s]\n",
			round, time.Since(start).Seconds(), formatLoss("train loss", loss))
	}
	fmt.Printf("End adversarial training...\n")

	if err := t.saveCheckpoint(t.config.AdversarialTrainingEpochs); err != nil {
		return 0, nil, err
	}
	return -1, nil, nil
}

// Evaluate scores the model's generated text on the evaluation data, exactly
// like the supervised trainer's evaluation.
func (t *GANTrainer) Evaluate(evalData nn.DataLoader, loadBest bool, modelFile string) (evaluator.Result, error) {
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

// gTrainEpoch runs one supervised pretraining epoch over the generator.
func (t *GANTrainer) gTrainEpoch(train nn.DataLoader, epoch int) ([]float64, error) {
	t.model.Generator().Train()
	train.Reset()
	acc := NewLossAccumulator("generator pretrain", epoch)

	for {
		batch, ok := train.Next()
		if !ok {
			break
		}
		res, err := t.model.CalculateGTrainLoss(batch, epoch)
		if err != nil {
			return nil, fmt.Errorf("generator loss failed at epoch %d: %v", epoch, err)
		}
		if err := t.optimizeStep(res, t.model.Generator(), t.gOpt, acc, false); err != nil {
			return nil, err
		}
	}
	return acc.Mean(), nil
}

// optimizeStep folds one step's loss into the accumulator and applies the
// update. A split-parameter module with one backward pass per partition
// takes the per-partition path: each partition is zeroed, differentiated and
// stepped in order, retaining the forward state for all but the last pass,
// with no gradient clipping. Every other module takes the ordinary
// zero/backward/clip/step path, where retainLast keeps the forward state
// alive for a follow-up pass over the same forward computation.
//
// The accumulator runs first so a diverged loss aborts before any update.
func (t *GANTrainer) optimizeStep(res nn.StepResult, mod nn.Module, opts *OptimizerSet, acc *LossAccumulator, retainLast bool) error {
	if err := acc.Add(res.Loss); err != nil {
		return err
	}

	if opts.Split() && len(res.Backward) == len(opts.Opts) {
		for i, backward := range res.Backward {
			opts.Opts[i].ZeroGrad()
			if err := backward(i < len(res.Backward)-1); err != nil {
				return fmt.Errorf("backward pass failed for partition %q: %v", opts.Names[i], err)
			}
			if err := opts.Opts[i].Step(); err != nil {
				return fmt.Errorf("optimizer step failed for partition %q: %v", opts.Names[i], err)
			}
		}
		return nil
	}

	opts.ZeroGrad()
	if len(res.Backward) > 0 {
		if err := res.Backward[0](retainLast); err != nil {
			return fmt.Errorf("backward pass failed: %v", err)
		}
	}
	if t.config.GradClip > 0 {
		nn.ClipGradNorm(mod.Parameters(), t.config.GradClip)
	}
	return opts.Step()
}

// realRows collects the full epoch of real target sequences, padded to the
// trainer's fixed length.
func (t *GANTrainer) realRows(train nn.DataLoader) [][]int {
	return collectRealData(train, t.maxLength, t.model.PadIdx())
}

// saveCheckpoint writes the single terminal snapshot of an adversarial run,
// carrying both optimizers' states under their module prefixes.
func (t *GANTrainer) saveCheckpoint(epoch int) error {
	cfgSnapshot, err := json.Marshal(t.config)
	if err != nil {
		return fmt.Errorf("failed to snapshot config: %v", err)
	}
	states, err := t.gOpt.States("generator")
	if err != nil {
		return err
	}
	dStates, err := t.dOpt.States("discriminator")
	if err != nil {
		return err
	}
	for k, v := range dStates {
		states[k] = v
	}

	best := worstSmallerBetter
	if t.config.ValidMetricBigger {
		best = worstBiggerBetter
	}
	ckpt := &checkpoints.Checkpoint{
		Config:          cfgSnapshot,
		ModelName:       t.model.Name(),
		Epoch:           epoch,
		CurStep:         0,
		BestValidScore:  best,
		Weights:         checkpoints.FromStateDict(t.model.StateDict()),
		OptimizerStates: states,
	}
	if err := t.saver.Save(ckpt, t.savedModelFile); err != nil {
		return fmt.Errorf("failed to save checkpoint: %v", err)
	}
	return nil
}
