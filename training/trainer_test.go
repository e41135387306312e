package training

import (
	"errors"
	"math"
	"os"
	"testing"

	"github.com/tsawler/go-textgen/checkpoints"
	"github.com/tsawler/go-textgen/evaluator"
	"github.com/tsawler/go-textgen/nn"
)

// fakeLoader serves a fixed set of batches and a reference corpus.
type fakeLoader struct {
	batches []*nn.Batch
	pos     int
	ref     evaluator.Corpus
}

func newFakeLoader(nBatches, batchSize int) *fakeLoader {
	l := &fakeLoader{}
	for i := 0; i < nBatches; i++ {
		batch := &nn.Batch{}
		for j := 0; j < batchSize; j++ {
			batch.TargetIdx = append(batch.TargetIdx, []int{1, 2, 3})
			l.ref = append(l.ref, []string{"the", "dog"})
		}
		l.batches = append(l.batches, batch)
	}
	return l
}

func (l *fakeLoader) Len() int { return len(l.batches) }
func (l *fakeLoader) Reset()   { l.pos = 0 }

func (l *fakeLoader) Next() (*nn.Batch, bool) {
	if l.pos >= len(l.batches) {
		return nil, false
	}
	b := l.batches[l.pos]
	l.pos++
	return b, true
}

func (l *fakeLoader) GetReference() evaluator.Corpus { return l.ref }

// fakeModel is a scripted generative model: constant training loss, a
// scripted sequence of validation losses, and a counting backward pass.
type fakeModel struct {
	name       string
	param      *nn.Parameter
	training   bool
	trainLoss  float64
	validLoss  []float64
	trainCalls int
	validCalls int
	backwards  int
	nanAtCall  int // 1-based training call that returns NaN (0 = never)
}

func newFakeModel(name string) *fakeModel {
	return &fakeModel{
		name:      name,
		param:     nn.NewParameter("w", 4),
		training:  true,
		trainLoss: 1.0,
	}
}

func (m *fakeModel) Name() string                { return m.name }
func (m *fakeModel) Parameters() []*nn.Parameter { return []*nn.Parameter{m.param} }
func (m *fakeModel) Train()                      { m.training = true }
func (m *fakeModel) Eval()                       { m.training = false }
func (m *fakeModel) IsTraining() bool            { return m.training }
func (m *fakeModel) StateDict() nn.StateDict     { return nn.StateDictOf(m.Parameters()) }

func (m *fakeModel) LoadStateDict(sd nn.StateDict) error {
	return nn.LoadStateDict(m.Parameters(), sd)
}

func (m *fakeModel) CalculateLoss(batch *nn.Batch, epochIdx int) (nn.StepResult, error) {
	if !m.training {
		idx := m.validCalls
		m.validCalls++
		if idx >= len(m.validLoss) {
			idx = len(m.validLoss) - 1
		}
		return nn.StepResult{Loss: nn.ScalarLoss(m.validLoss[idx])}, nil
	}
	m.trainCalls++
	loss := m.trainLoss
	if m.nanAtCall == m.trainCalls {
		loss = math.NaN()
	}
	backward := func(retain bool) error {
		m.backwards++
		for i := range m.param.Grad {
			m.param.Grad[i] += 0.1
		}
		return nil
	}
	return nn.Step(nn.ScalarLoss(loss), backward), nil
}

func (m *fakeModel) Generate(data nn.DataLoader) (evaluator.Corpus, error) {
	var corpus evaluator.Corpus
	data.Reset()
	for {
		batch, ok := data.Next()
		if !ok {
			break
		}
		for range batch.TargetIdx {
			corpus = append(corpus, []string{"the", "dog"})
		}
	}
	return corpus, nil
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := &Config{
		Model:         "rnn",
		Learner:       "adam",
		LearningRate:  0.01,
		Epochs:        10,
		CheckpointDir: t.TempDir(),
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Config validation failed: %v", err)
	}
	return cfg
}

func TestFitEarlyStopping(t *testing.T) {
	cfg := testConfig(t)
	cfg.EvalStep = 2
	cfg.StoppingStep = 2

	model := newFakeModel("rnn")
	model.validLoss = []float64{1.0, 2.0, 2.0}
	trainer := NewTrainer(cfg, model)

	train := newFakeLoader(3, 2)
	valid := newFakeLoader(1, 2)

	score, result, err := trainer.Fit(train, valid)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	// Validations run at epochs 1, 3, 5; the first improves, the next two
	// do not, so training halts after the third.
	if model.validCalls != 3 {
		t.Errorf("Expected 3 validation passes, got %d", model.validCalls)
	}
	if len(trainer.Metrics()) != 6 {
		t.Errorf("Expected 6 trained epochs, got %d", len(trainer.Metrics()))
	}

	wantScore := math.Exp(1.0)
	if math.Abs(score-wantScore) > 1e-9 {
		t.Errorf("Expected best score %f, got %f", wantScore, score)
	}
	if result == nil {
		t.Fatal("Expected a best valid result")
	}
	if math.Abs(result["ppl"]-wantScore) > 1e-9 {
		t.Errorf("Expected best ppl %f, got %f", wantScore, result["ppl"])
	}
	if trainer.curStep != 2 {
		t.Errorf("Expected patience counter 2, got %d", trainer.curStep)
	}
}

func TestFitWithoutValidation(t *testing.T) {
	cfg := testConfig(t)
	cfg.Epochs = 2

	model := newFakeModel("rnn")
	trainer := NewTrainer(cfg, model)

	score, result, err := trainer.Fit(newFakeLoader(2, 2), nil)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	if score != worstSmallerBetter {
		t.Errorf("Expected untouched sentinel score %v, got %v", worstSmallerBetter, score)
	}
	if result != nil {
		t.Errorf("Expected nil result without validation, got %v", result)
	}
	if len(trainer.Metrics()) != 2 {
		t.Errorf("Expected 2 trained epochs, got %d", len(trainer.Metrics()))
	}
	if _, err := os.Stat(trainer.SavedModelFile()); err != nil {
		t.Errorf("Expected a checkpoint at %s: %v", trainer.SavedModelFile(), err)
	}
}

func TestFitBiggerBetterSentinel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Epochs = 1
	cfg.ValidMetricBigger = true

	trainer := NewTrainer(cfg, newFakeModel("rnn"))
	score, _, err := trainer.Fit(newFakeLoader(1, 1), nil)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	if score != worstBiggerBetter {
		t.Errorf("Expected sentinel %v for bigger-is-better metric, got %v", worstBiggerBetter, score)
	}
}

func TestFitDiverged(t *testing.T) {
	cfg := testConfig(t)
	cfg.Epochs = 3

	model := newFakeModel("rnn")
	model.nanAtCall = 2
	trainer := NewTrainer(cfg, model)

	_, _, err := trainer.Fit(newFakeLoader(3, 2), nil)
	var diverged *DivergedError
	if !errors.As(err, &diverged) {
		t.Fatalf("Expected DivergedError, got %v", err)
	}
	if diverged.Phase != "train" || diverged.Epoch != 0 {
		t.Errorf("Expected train epoch 0 divergence, got %s epoch %d", diverged.Phase, diverged.Epoch)
	}
	// The NaN is caught before the backward pass of the offending step.
	if model.backwards != 1 {
		t.Errorf("Expected 1 backward pass before abort, got %d", model.backwards)
	}
}

func TestResumeCheckpoint(t *testing.T) {
	cfg := testConfig(t)
	cfg.Epochs = 2

	model := newFakeModel("rnn")
	trainer := NewTrainer(cfg, model)
	if _, _, err := trainer.Fit(newFakeLoader(2, 2), nil); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	restored := newFakeModel("rnn")
	resumed := NewTrainer(cfg, restored)
	if err := resumed.ResumeCheckpoint(trainer.SavedModelFile()); err != nil {
		t.Fatalf("ResumeCheckpoint failed: %v", err)
	}
	if resumed.startEpoch != 2 {
		t.Errorf("Expected resume at epoch 2, got %d", resumed.startEpoch)
	}
	for i, v := range restored.param.Data {
		if v != model.param.Data[i] {
			t.Fatalf("Restored weights differ at %d: %v vs %v", i, v, model.param.Data[i])
		}
	}
}

func TestResumeCheckpointMissingFile(t *testing.T) {
	cfg := testConfig(t)
	trainer := NewTrainer(cfg, newFakeModel("rnn"))

	err := trainer.ResumeCheckpoint(cfg.CheckpointDir + "/does-not-exist.json")
	var loadErr *checkpoints.LoadError
	if !errors.As(err, &loadErr) {
		t.Errorf("Expected LoadError, got %v", err)
	}
}

func TestEvaluate(t *testing.T) {
	cfg := testConfig(t)
	cfg.Epochs = 1

	model := newFakeModel("rnn")
	trainer := NewTrainer(cfg, model)
	if _, _, err := trainer.Fit(newFakeLoader(1, 2), nil); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	result, err := trainer.Evaluate(newFakeLoader(2, 2), true, "")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	// Generated text matches the reference exactly.
	if math.Abs(result["bleu-1"]-1.0) > 1e-9 {
		t.Errorf("Expected bleu-1 of 1.0, got %f", result["bleu-1"])
	}
	if model.IsTraining() != true {
		t.Error("Expected model back in training mode after evaluation")
	}
}
