// Package checkpoints persists and restores complete training state: model
// weights, optimizer state, and the trainer's bookkeeping fields.
package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Format defines the serialization format
type Format int

const (
	FormatJSON Format = iota
	FormatBinary
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "JSON"
	case FormatBinary:
		return "Binary"
	default:
		return "Unknown"
	}
}

// Checkpoint represents a complete training snapshot: a config snapshot, the
// trainer's counters and best-score tracking, model weights, and one
// optimizer state per parameter partition. A checkpoint is immutable once
// written.
type Checkpoint struct {
	// Config snapshot of the run that produced this checkpoint
	Config json.RawMessage `json:"config,omitempty"`

	// Trainer bookkeeping
	ModelName      string  `json:"model_name"`
	Epoch          int     `json:"epoch"`
	CurStep        int     `json:"cur_step"`
	BestValidScore float64 `json:"best_valid_score"`

	// Model weights
	Weights []WeightTensor `json:"weights"`

	// Optimizer state keyed by partition name; a single-optimizer model
	// uses one entry under its module name
	OptimizerStates map[string]*OptimizerState `json:"optimizer_states,omitempty"`

	// Metadata
	Metadata Metadata `json:"metadata"`
}

// WeightTensor represents one model parameter vector with its data
type WeightTensor struct {
	Name string    `json:"name"`
	Data []float64 `json:"data"`
}

// OptimizerState captures optimizer-specific state (moments, accumulators)
type OptimizerState struct {
	Type       string                 `json:"type"` // "SGD", "Adam", etc.
	Parameters map[string]interface{} `json:"parameters"`
	StateData  []OptimizerTensor      `json:"state_data"`
}

// OptimizerTensor represents one optimizer state vector
type OptimizerTensor struct {
	Name      string    `json:"name"`
	Data      []float64 `json:"data"`
	StateType string    `json:"state_type"` // "momentum", "m", "v", etc.
}

// Metadata contains checkpoint metadata
type Metadata struct {
	Version   string    `json:"version"`
	Framework string    `json:"framework"`
	CreatedAt time.Time `json:"created_at"`
}

// LoadError reports malformed or incompatible checkpoint content. A model
// name mismatch alone is not a LoadError; it only produces a warning at
// restore time.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("checkpoint load %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// SavePath derives the deterministic checkpoint path for a run: the model
// kind and the run's creation time under dir.
func SavePath(dir, modelName string, createdAt time.Time, format Format) string {
	ext := ".json"
	if format == FormatBinary {
		ext = ".ckpt"
	}
	name := fmt.Sprintf("%s-%s%s", modelName, createdAt.Format("2006-Jan-02_15-04-05"), ext)
	return filepath.Join(dir, name)
}

// FromStateDict converts a flat name->weights map into weight tensors with a
// deterministic serialization order.
func FromStateDict(sd map[string][]float64) []WeightTensor {
	weights := make([]WeightTensor, 0, len(sd))
	for name, data := range sd {
		out := make([]float64, len(data))
		copy(out, data)
		weights = append(weights, WeightTensor{Name: name, Data: out})
	}
	sortWeights(weights)
	return weights
}

// StateDict returns the checkpoint's weights as a flat name->weights map.
func (c *Checkpoint) StateDict() map[string][]float64 {
	sd := make(map[string][]float64, len(c.Weights))
	for _, w := range c.Weights {
		data := make([]float64, len(w.Data))
		copy(data, w.Data)
		sd[w.Name] = data
	}
	return sd
}

func sortWeights(weights []WeightTensor) {
	for i := 1; i < len(weights); i++ {
		for j := i; j > 0 && weights[j].Name < weights[j-1].Name; j-- {
			weights[j], weights[j-1] = weights[j-1], weights[j]
		}
	}
}

// Saver handles saving and loading checkpoints in a chosen format.
type Saver struct {
	format Format
}

// NewSaver creates a checkpoint saver for the specified format.
func NewSaver(format Format) *Saver {
	return &Saver{format: format}
}

// Save writes the checkpoint to path atomically: the snapshot is written to
// a temporary file in the same directory and renamed into place, so a
// concurrent resume only ever observes the last completed write.
func (s *Saver) Save(checkpoint *Checkpoint, path string) error {
	if checkpoint.Metadata.Framework == "" {
		checkpoint.Metadata.Framework = "go-textgen"
		checkpoint.Metadata.Version = "1.0.0"
		checkpoint.Metadata.CreatedAt = time.Now()
	}

	var data []byte
	var err error
	switch s.format {
	case FormatJSON:
		data, err = json.MarshalIndent(checkpoint, "", "  ")
	case FormatBinary:
		data, err = marshalBinary(checkpoint)
	default:
		return fmt.Errorf("unsupported checkpoint format: %s", s.format.String())
	}
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %v", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create checkpoint temp file: %v", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write checkpoint: %v", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync checkpoint: %v", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close checkpoint temp file: %v", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to finalize checkpoint: %v", err)
	}
	return nil
}

// Load reads a checkpoint from path. Malformed content surfaces as a
// *LoadError.
func (s *Saver) Load(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}

	var checkpoint Checkpoint
	switch s.format {
	case FormatJSON:
		if err := json.Unmarshal(data, &checkpoint); err != nil {
			return nil, &LoadError{Path: path, Err: err}
		}
	case FormatBinary:
		if err := unmarshalBinary(data, &checkpoint); err != nil {
			return nil, &LoadError{Path: path, Err: err}
		}
	default:
		return nil, fmt.Errorf("unsupported checkpoint format: %s", s.format.String())
	}
	return &checkpoint, nil
}
