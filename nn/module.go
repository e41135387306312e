package nn

import "github.com/tsawler/go-textgen/evaluator"

// Batch is one mini-batch of token-id sequences. TargetIdx always holds the
// sequences being modeled; SourceIdx is set only for conditional
// (sequence-to-sequence) batches.
type Batch struct {
	SourceIdx [][]int
	TargetIdx [][]int
}

// Size returns the number of examples in the batch.
func (b *Batch) Size() int {
	return len(b.TargetIdx)
}

// DataLoader is the batch source contract consumed by trainers and models.
// Batches are issued strictly sequentially; Reset restarts iteration from
// the beginning so a loader can be re-iterated any number of times.
type DataLoader interface {
	Len() int // number of batches in one epoch
	Reset()
	Next() (*Batch, bool)
}

// ReferenceProvider is implemented by evaluation loaders that can hand back
// the reference corpus their batches were built from.
type ReferenceProvider interface {
	GetReference() evaluator.Corpus
}

// Module is the minimal contract of a trainable network or sub-network.
type Module interface {
	Parameters() []*Parameter // trainable parameters, updated in place
	Train()                   // sets training mode
	Eval()                    // sets evaluation mode
	IsTraining() bool
}

// GenerativeModel is the model contract consumed by the base trainer: a
// single-objective text generation model trained on a supervised loss.
type GenerativeModel interface {
	Module

	// Name identifies the model kind; it is recorded in checkpoints and
	// compared on resume.
	Name() string

	StateDict() StateDict
	LoadStateDict(sd StateDict) error

	// CalculateLoss computes the loss for one batch. The epoch index is
	// passed through for schedules that depend on it (teacher forcing
	// ratios and the like).
	CalculateLoss(batch *Batch, epochIdx int) (StepResult, error)

	// Generate produces a generated corpus over the evaluation dataset.
	Generate(data DataLoader) (evaluator.Corpus, error)
}

// AdversarialModel is the contract for generator/discriminator models driven
// by the adversarial trainer family.
type AdversarialModel interface {
	GenerativeModel

	Generator() Module
	Discriminator() Module

	BatchSize() int
	PadIdx() int

	// Sample draws n sequences from the generator.
	Sample(n int) (*Batch, error)

	// CalculateGTrainLoss computes the generator's supervised pretraining
	// loss for one batch.
	CalculateGTrainLoss(batch *Batch, epochIdx int) (StepResult, error)

	// CalculateDTrainLoss computes the discriminator loss. Ref is non-nil
	// only for reference-sampling training; Aux carries auxiliary sampling
	// output (e.g. the generator noise) when the strategy provides one.
	CalculateDTrainLoss(args DLossArgs) (StepResult, error)

	// CalculateGAdvLoss computes the generator's adversarial loss. Batch
	// and Ref are nil unless the selected training strategy supplies them.
	CalculateGAdvLoss(args GLossArgs) (StepResult, error)
}

// DLossArgs carries the inputs of one discriminator training step.
type DLossArgs struct {
	Real        *Batch
	Fake        *Batch
	Ref         *Batch
	Aux         *Batch
	EpochIdx    int
	Adversarial bool
}

// GLossArgs carries the inputs of one generator adversarial step.
type GLossArgs struct {
	Batch    *Batch
	Ref      *Batch
	EpochIdx int
}

// ParamGroup is a named partition of a module's parameters.
type ParamGroup struct {
	Name   string
	Params []*Parameter
}

// ParamSplitter is the capability of a module whose parameters are logically
// partitioned (e.g. a hierarchical policy with manager and worker parts).
// The returned partitions must not overlap: each parameter belongs to
// exactly one group, and each group is driven by its own optimizer.
type ParamSplitter interface {
	SplitParams() []ParamGroup
}

// ReferenceSizer is the capability of models whose discriminator ranks
// candidates against a fixed-size reference set drawn from the real data.
type ReferenceSizer interface {
	RefSize() int
}

// NoiseSampler is the capability of a generator that samples one fresh fake
// batch per discriminator step, together with the auxiliary sampling output
// its loss contract consumes.
type NoiseSampler interface {
	SampleWithNoise() (fake *Batch, aux *Batch, err error)
}

// CriticModel is the capability of a three-network model (generator,
// discriminator, critic) trained with interleaved micro-steps. The generator
// and critic results share one forward computation: the caller must run the
// generator backward with retain=true before the critic backward.
type CriticModel interface {
	Critic() Module

	// CalculateGCAdvLoss computes paired generator and critic losses from
	// one generator-side batch.
	CalculateGCAdvLoss(batch *Batch, epochIdx int) (gen StepResult, critic StepResult, err error)
}
