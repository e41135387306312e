package training

import (
	"fmt"

	"github.com/tsawler/go-textgen/checkpoints"
)

// Config holds the configuration for training and evaluation. It is consumed
// read-only by the trainers; a JSON snapshot of it is embedded in every
// checkpoint.
type Config struct {
	Model        string  `json:"model"`   // model kind tag, resolved against the trainer registry
	Learner      string  `json:"learner"` // adam | sgd | adagrad | rmsprop
	LearningRate float64 `json:"learning_rate"`
	Epochs       int     `json:"epochs"`

	EvalStep          int    `json:"eval_step"`     // validate every N epochs (0 = no validation)
	StoppingStep      int    `json:"stopping_step"` // patience in validation checks (0 = never stop early)
	ValidMetric       string `json:"valid_metric"`
	ValidMetricBigger bool   `json:"valid_metric_bigger"`
	EvalBatchSize     int    `json:"eval_batch_size"`

	Device           string             `json:"device"`
	CheckpointDir    string             `json:"checkpoint_dir"`
	CheckpointFormat checkpoints.Format `json:"checkpoint_format"`

	GradClip float64 `json:"grad_clip"`

	// Adversarial phase schedule
	GPretrainingEpochs        int `json:"g_pretraining_epochs"`
	DPretrainingEpochs        int `json:"d_pretraining_epochs"`
	DSampleNum                int `json:"d_sample_num"`
	DSampleTrainingEpochs     int `json:"d_sample_training_epochs"`
	AdversarialTrainingEpochs int `json:"adversarial_training_epochs"`
	AdversarialDEpochs        int `json:"adversarial_d_epochs"`
	AdversarialCEpochs        int `json:"adversarial_c_epochs"`

	MaxSeqLength int `json:"max_seq_length"`

	// Optional learning-rate schedule applied at epoch boundaries
	Scheduler string  `json:"scheduler,omitempty"` // "", "step", "exponential", "cosine"
	StepSize  int     `json:"step_size,omitempty"`
	Gamma     float64 `json:"gamma,omitempty"`

	Seed    int64 `json:"seed"`
	Verbose bool  `json:"verbose"`
}

// Validate fills in defaults and rejects configurations the trainers cannot
// run with.
func (c *Config) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("config: model kind is required")
	}
	if c.Learner == "" {
		c.Learner = "adam"
	}
	if c.LearningRate <= 0 {
		c.LearningRate = 0.001
	}
	if c.Epochs < 0 {
		return fmt.Errorf("config: epochs must not be negative, got %d", c.Epochs)
	}
	if c.EvalStep > c.Epochs {
		c.EvalStep = c.Epochs
	}
	if c.ValidMetric == "" {
		c.ValidMetric = "loss"
	}
	if c.EvalBatchSize <= 0 {
		c.EvalBatchSize = 64
	}
	if c.CheckpointDir == "" {
		c.CheckpointDir = "saved"
	}
	if c.DSampleTrainingEpochs <= 0 {
		c.DSampleTrainingEpochs = 1
	}
	if c.Seed == 0 {
		c.Seed = 1
	}
	return nil
}

// scheduler resolves the configured learning-rate schedule, or nil when none
// is configured.
func (c *Config) scheduler() LRScheduler {
	switch c.Scheduler {
	case "step":
		return NewStepLRScheduler(c.StepSize, c.Gamma)
	case "exponential":
		return NewExponentialLRScheduler(c.Gamma)
	case "cosine":
		return NewCosineAnnealingLRScheduler(c.Epochs, 0)
	default:
		return nil
	}
}
