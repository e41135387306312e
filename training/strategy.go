package training

import (
	"fmt"

	"github.com/tsawler/go-textgen/nn"
)

// GANStrategy is the variant-specific structure of adversarial training: how
// discriminator training batches are sourced and how one adversarial round
// alternates the networks. The trainer owns the phase loop and the
// optimizers; strategies drive them through the trainer's helpers.
type GANStrategy interface {
	Name() string

	// DiscriminatorEpoch runs one discriminator training epoch and returns
	// its mean loss components.
	DiscriminatorEpoch(t *GANTrainer, train nn.DataLoader, epochIdx int, adversarial bool) ([]float64, error)

	// AdversarialRound runs one adversarial round (generator update plus
	// follow-up discriminator epochs) and returns its mean loss components.
	AdversarialRound(t *GANTrainer, train nn.DataLoader, roundIdx int) ([]float64, error)
}

// StandardStrategy pairs re-batched real data with a fixed pool of sampled
// fake data for the discriminator, and updates the generator with one
// policy-style adversarial step per round.
type StandardStrategy struct{}

func (StandardStrategy) Name() string { return "standard" }

func (s StandardStrategy) DiscriminatorEpoch(t *GANTrainer, train nn.DataLoader, epochIdx int, adversarial bool) ([]float64, error) {
	return pairedDiscriminatorEpoch(t, train, epochIdx, adversarial, nil)
}

func (s StandardStrategy) AdversarialRound(t *GANTrainer, train nn.DataLoader, roundIdx int) ([]float64, error) {
	t.model.Generator().Train()
	acc := NewLossAccumulator("adversarial", roundIdx)

	res, err := t.model.CalculateGAdvLoss(nn.GLossArgs{EpochIdx: roundIdx})
	if err != nil {
		return nil, fmt.Errorf("generator adversarial loss failed at round %d: %v", roundIdx, err)
	}
	if err := t.optimizeStep(res, t.model.Generator(), t.gOpt, acc, false); err != nil {
		return nil, err
	}

	for epoch := 0; epoch < t.config.AdversarialDEpochs; epoch++ {
		if _, err := s.DiscriminatorEpoch(t, train, epoch, true); err != nil {
			return nil, err
		}
	}
	return acc.Mean(), nil
}

// ReferenceStrategy extends the standard pairing with a fixed-size reference
// subset drawn uniformly (with replacement) from the real data before each
// discriminator phase; the same kind of subset also feeds the generator's
// adversarial loss.
type ReferenceStrategy struct{}

func (ReferenceStrategy) Name() string { return "reference" }

func (s ReferenceStrategy) DiscriminatorEpoch(t *GANTrainer, train nn.DataLoader, epochIdx int, adversarial bool) ([]float64, error) {
	rows := t.realRows(train)
	if len(rows) == 0 {
		return nil, fmt.Errorf("discriminator training requires real data")
	}
	ref := sampleReference(rows, refSize(t.model), t.rng)
	return pairedDiscriminatorEpochRows(t, rows, epochIdx, adversarial, ref)
}

func (s ReferenceStrategy) AdversarialRound(t *GANTrainer, train nn.DataLoader, roundIdx int) ([]float64, error) {
	t.model.Generator().Train()
	acc := NewLossAccumulator("adversarial", roundIdx)

	rows := t.realRows(train)
	if len(rows) == 0 {
		return nil, fmt.Errorf("adversarial training requires real data")
	}
	ref := sampleReference(rows, refSize(t.model), t.rng)

	res, err := t.model.CalculateGAdvLoss(nn.GLossArgs{Ref: ref, EpochIdx: roundIdx})
	if err != nil {
		return nil, fmt.Errorf("generator adversarial loss failed at round %d: %v", roundIdx, err)
	}
	if err := t.optimizeStep(res, t.model.Generator(), t.gOpt, acc, false); err != nil {
		return nil, err
	}

	for epoch := 0; epoch < t.config.AdversarialDEpochs; epoch++ {
		if _, err := s.DiscriminatorEpoch(t, train, epoch, true); err != nil {
			return nil, err
		}
	}
	return acc.Mean(), nil
}

// RealOnlyStrategy iterates the real data only, drawing one fresh fake batch
// (with its sampling noise) from the generator per real batch instead of
// pre-sampling a fake pool; the generator's adversarial loss likewise
// consumes each real batch.
type RealOnlyStrategy struct{}

func (RealOnlyStrategy) Name() string { return "real-only" }

func (s RealOnlyStrategy) DiscriminatorEpoch(t *GANTrainer, train nn.DataLoader, epochIdx int, adversarial bool) ([]float64, error) {
	sampler, ok := t.model.(nn.NoiseSampler)
	if !ok {
		return nil, fmt.Errorf("model %s does not support per-batch noise sampling", t.model.Name())
	}

	t.model.Discriminator().Train()
	rows := t.realRows(train)
	loader := newRowLoader(rows, t.model.BatchSize(), t.rng)
	acc := NewLossAccumulator("discriminator", epochIdx)

	for e := 0; e < t.config.DSampleTrainingEpochs; e++ {
		loader.Reset()
		for {
			real, ok := loader.Next()
			if !ok {
				break
			}
			fake, aux, err := sampler.SampleWithNoise()
			if err != nil {
				return nil, fmt.Errorf("generator sampling failed at epoch %d: %v", epochIdx, err)
			}
			res, err := t.model.CalculateDTrainLoss(nn.DLossArgs{
				Real:        real,
				Fake:        fake,
				Aux:         aux,
				EpochIdx:    epochIdx,
				Adversarial: adversarial,
			})
			if err != nil {
				return nil, fmt.Errorf("discriminator loss failed at epoch %d: %v", epochIdx, err)
			}
			if err := t.optimizeStep(res, t.model.Discriminator(), t.dOpt, acc, false); err != nil {
				return nil, err
			}
		}
	}
	return acc.MeanOver(float64(loader.Len() * t.config.DSampleTrainingEpochs)), nil
}

func (s RealOnlyStrategy) AdversarialRound(t *GANTrainer, train nn.DataLoader, roundIdx int) ([]float64, error) {
	t.model.Generator().Train()
	rows := t.realRows(train)
	loader := newRowLoader(rows, t.model.BatchSize(), t.rng)
	acc := NewLossAccumulator("adversarial", roundIdx)

	for {
		batch, ok := loader.Next()
		if !ok {
			break
		}
		res, err := t.model.CalculateGAdvLoss(nn.GLossArgs{Batch: batch, EpochIdx: roundIdx})
		if err != nil {
			return nil, fmt.Errorf("generator adversarial loss failed at round %d: %v", roundIdx, err)
		}
		if err := t.optimizeStep(res, t.model.Generator(), t.gOpt, acc, false); err != nil {
			return nil, err
		}
	}

	for epoch := 0; epoch < t.config.AdversarialDEpochs; epoch++ {
		if _, err := s.DiscriminatorEpoch(t, train, epoch, true); err != nil {
			return nil, err
		}
	}
	return acc.MeanOver(float64(loader.Len())), nil
}

// InterleavedStrategy trains in micro-steps for three-network models with a
// critic: each generator step is preceded by a fixed number of
// discriminator micro-steps drawn from an independently shuffled stream
// that wraps around on exhaustion, and followed by a critic update sharing
// the generator's forward computation.
type InterleavedStrategy struct{}

func (InterleavedStrategy) Name() string { return "interleaved" }

// DiscriminatorEpoch is a plain pass over the training data: the model
// draws its own fake continuations internally, so no fake pool is sampled.
func (s InterleavedStrategy) DiscriminatorEpoch(t *GANTrainer, train nn.DataLoader, epochIdx int, adversarial bool) ([]float64, error) {
	t.model.Discriminator().Train()
	train.Reset()
	acc := NewLossAccumulator("discriminator", epochIdx)

	for {
		batch, ok := train.Next()
		if !ok {
			break
		}
		res, err := t.model.CalculateDTrainLoss(nn.DLossArgs{
			Real:        batch,
			EpochIdx:    epochIdx,
			Adversarial: adversarial,
		})
		if err != nil {
			return nil, fmt.Errorf("discriminator loss failed at epoch %d: %v", epochIdx, err)
		}
		if err := t.optimizeStep(res, t.model.Discriminator(), t.dOpt, acc, false); err != nil {
			return nil, err
		}
	}
	return acc.Mean(), nil
}

// AdversarialRound interleaves discriminator micro-steps with paired
// generator/critic updates. The generator and discriminator streams iterate
// the same real data independently; the discriminator stream wraps around
// when it runs out mid-round. The generator backward runs with the forward
// state retained, then the critic backward consumes the same computation.
func (s InterleavedStrategy) AdversarialRound(t *GANTrainer, train nn.DataLoader, roundIdx int) ([]float64, error) {
	critic, ok := t.model.(nn.CriticModel)
	if !ok {
		return nil, fmt.Errorf("model %s does not expose a critic", t.model.Name())
	}

	rows := t.realRows(train)
	gLoader := newRowLoader(rows, t.model.BatchSize(), t.rng)
	dStream := newCyclicLoader(newRowLoader(rows, t.model.BatchSize(), t.rng))
	if _, err := dStream.Next(); err != nil {
		return nil, err
	}

	dAcc := NewLossAccumulator("adversarial discriminator", roundIdx)
	gAcc := NewLossAccumulator("adversarial generator", roundIdx)
	cAcc := NewLossAccumulator("adversarial critic", roundIdx)
	gSteps, dSteps := 0, 0

	for {
		gBatch, ok := gLoader.Next()
		if !ok {
			break
		}
		gSteps++

		for m := 0; m < t.config.AdversarialDEpochs; m++ {
			dBatch, err := dStream.Next()
			if err != nil {
				return nil, err
			}
			dSteps++
			res, err := t.model.CalculateDTrainLoss(nn.DLossArgs{
				Real:        dBatch,
				EpochIdx:    m,
				Adversarial: true,
			})
			if err != nil {
				return nil, fmt.Errorf("discriminator loss failed at round %d: %v", roundIdx, err)
			}
			if err := t.optimizeStep(res, t.model.Discriminator(), t.dOpt, dAcc, false); err != nil {
				return nil, err
			}
		}

		genRes, criticRes, err := critic.CalculateGCAdvLoss(gBatch, gSteps)
		if err != nil {
			return nil, fmt.Errorf("generator/critic loss failed at round %d: %v", roundIdx, err)
		}
		if err := t.optimizeStep(genRes, t.model.Generator(), t.gOpt, gAcc, true); err != nil {
			return nil, err
		}
		if err := t.optimizeStep(criticRes, t.model.Discriminator(), t.dOpt, cAcc, false); err != nil {
			return nil, err
		}
	}

	if gSteps == 0 {
		return nil, fmt.Errorf("adversarial round %d had no generator batches", roundIdx)
	}
	return []float64{
		combinedOver(dAcc, dSteps),
		combinedOver(gAcc, gSteps),
		combinedOver(cAcc, gSteps),
	}, nil
}

// pairedDiscriminatorEpoch is the shared real/fake pairing pass: the real
// data is re-batched, a fixed fake pool is sampled once, and the two are
// zipped batch-for-batch for a configured number of sweeps. The mean is
// taken over paired steps, so a size mismatch between the pools never
// skews it.
func pairedDiscriminatorEpoch(t *GANTrainer, train nn.DataLoader, epochIdx int, adversarial bool, ref *nn.Batch) ([]float64, error) {
	return pairedDiscriminatorEpochRows(t, t.realRows(train), epochIdx, adversarial, ref)
}

func pairedDiscriminatorEpochRows(t *GANTrainer, rows [][]int, epochIdx int, adversarial bool, ref *nn.Batch) ([]float64, error) {
	t.model.Discriminator().Train()

	fakeBatch, err := t.model.Sample(t.config.DSampleNum)
	if err != nil {
		return nil, fmt.Errorf("fake data sampling failed at epoch %d: %v", epochIdx, err)
	}
	fakeRows := batchRows(fakeBatch, t.maxLength, t.model.PadIdx())

	realLoader := newRowLoader(rows, t.model.BatchSize(), t.rng)
	fakeLoader := newRowLoader(fakeRows, t.model.BatchSize(), t.rng)
	pairs := min(realLoader.Len(), fakeLoader.Len())
	acc := NewLossAccumulator("discriminator", epochIdx)

	for e := 0; e < t.config.DSampleTrainingEpochs; e++ {
		realLoader.Reset()
		fakeLoader.Reset()
		for i := 0; i < pairs; i++ {
			real, _ := realLoader.Next()
			fake, _ := fakeLoader.Next()
			res, err := t.model.CalculateDTrainLoss(nn.DLossArgs{
				Real:        real,
				Fake:        fake,
				Ref:         ref,
				EpochIdx:    epochIdx,
				Adversarial: adversarial,
			})
			if err != nil {
				return nil, fmt.Errorf("discriminator loss failed at epoch %d: %v", epochIdx, err)
			}
			if err := t.optimizeStep(res, t.model.Discriminator(), t.dOpt, acc, false); err != nil {
				return nil, err
			}
		}
	}
	return acc.MeanOver(float64(pairs * t.config.DSampleTrainingEpochs)), nil
}

// refSize resolves the model's reference subset size, defaulting to its
// batch size.
func refSize(model nn.AdversarialModel) int {
	if sizer, ok := model.(nn.ReferenceSizer); ok {
		return sizer.RefSize()
	}
	return model.BatchSize()
}

func combinedOver(acc *LossAccumulator, n int) float64 {
	return combinedLoss(acc.MeanOver(float64(n)))
}
