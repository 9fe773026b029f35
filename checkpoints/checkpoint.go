package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/alswlsghd320/semisupervised-learnings/model"
)

// ErrCheckpointMissing reports that a round's best-checkpoint file is absent
// when it is needed for teacher promotion. The round trainer writes a
// checkpoint on every strict validation improvement, and the first epoch
// always improves on the initial sentinel, so hitting this during a normal
// run indicates a corrupted save directory.
var ErrCheckpointMissing = errors.New("checkpoint missing")

// Checkpoint represents a round's best model state: weights plus the
// optimizer and scheduler state needed to reconstruct the training position.
// The file must be loadable independently of the process that wrote it.
type Checkpoint struct {
	Epoch   int            `json:"epoch"`
	Weights []WeightTensor `json:"weights"`

	OptimizerState *OptimizerState `json:"optimizer_state,omitempty"`
	SchedulerState *SchedulerState `json:"scheduler_state,omitempty"`

	Metadata CheckpointMetadata `json:"metadata"`
}

// WeightTensor represents a model parameter tensor with its data
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// OptimizerState captures optimizer-specific state (momentum, variance, etc.)
type OptimizerState struct {
	Type       string                 `json:"type"` // "SGD", "AdamW", etc.
	Parameters map[string]interface{} `json:"parameters"`
	StateData  []OptimizerTensor      `json:"state_data"`
}

// OptimizerTensor represents optimizer state tensors (momentum, variance, etc.)
type OptimizerTensor struct {
	Name      string    `json:"name"`
	Shape     []int     `json:"shape"`
	Data      []float32 `json:"data"`
	StateType string    `json:"state_type"` // "momentum", "m", "v", etc.
}

// SchedulerState captures the learning-rate schedule position
type SchedulerState struct {
	Name  string `json:"name"`
	Epoch int    `json:"epoch"`
	Step  int    `json:"step"`
}

// CheckpointMetadata contains checkpoint metadata
type CheckpointMetadata struct {
	Version   string    `json:"version"`
	Framework string    `json:"framework"`
	Round     int       `json:"round"`
	CreatedAt time.Time `json:"created_at"`
}

// PathForRound returns the deterministic checkpoint file name for a
// self-training round
func PathForRound(dir string, round int) string {
	return filepath.Join(dir, fmt.Sprintf("best_model_%d.json", round))
}

// Save writes a checkpoint to path, creating the directory if needed and
// overwriting any prior checkpoint at the same path
func Save(path string, checkpoint *Checkpoint) error {
	if checkpoint.Metadata.Framework == "" {
		checkpoint.Metadata.Framework = "semisupervised-learnings"
		checkpoint.Metadata.Version = "1.0.0"
	}
	checkpoint.Metadata.CreatedAt = time.Now()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "failed to create checkpoint directory")
	}

	file, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "failed to create checkpoint file")
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(checkpoint); err != nil {
		return errors.Wrap(err, "failed to encode checkpoint")
	}
	return nil
}

// Load reads a checkpoint from path. A missing file reports
// ErrCheckpointMissing.
func Load(path string) (*Checkpoint, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(ErrCheckpointMissing, path)
		}
		return nil, errors.Wrap(err, "failed to open checkpoint file")
	}
	defer file.Close()

	var checkpoint Checkpoint
	if err := json.NewDecoder(file).Decode(&checkpoint); err != nil {
		return nil, errors.Wrap(err, "failed to decode checkpoint")
	}
	return &checkpoint, nil
}

// ExtractWeights snapshots model parameters into serializable weight tensors
func ExtractWeights(params []*model.Parameter) []WeightTensor {
	weights := make([]WeightTensor, 0, len(params))
	for _, p := range params {
		data := make([]float32, len(p.Data))
		copy(data, p.Data)
		shape := make([]int, len(p.Shape))
		copy(shape, p.Shape)
		weights = append(weights, WeightTensor{
			Name:  p.Name,
			Shape: shape,
			Data:  data,
		})
	}
	return weights
}

// LoadWeights loads weight data back into model parameters, matching by name
func LoadWeights(weights []WeightTensor, params []*model.Parameter) error {
	weightMap := make(map[string]WeightTensor, len(weights))
	for _, weight := range weights {
		weightMap[weight.Name] = weight
	}

	for _, p := range params {
		weight, ok := weightMap[p.Name]
		if !ok {
			return errors.Errorf("checkpoint has no weight for parameter %s", p.Name)
		}
		if len(weight.Shape) != len(p.Shape) {
			return errors.Errorf("shape mismatch for weight %s: checkpoint %v vs model %v",
				weight.Name, weight.Shape, p.Shape)
		}
		for j, dim := range weight.Shape {
			if dim != p.Shape[j] {
				return errors.Errorf("dimension mismatch for weight %s at index %d: checkpoint %d vs model %d",
					weight.Name, j, dim, p.Shape[j])
			}
		}
		if len(weight.Data) != len(p.Data) {
			return errors.Errorf("data size mismatch for weight %s: checkpoint %d vs model %d",
				weight.Name, len(weight.Data), len(p.Data))
		}
		copy(p.Data, weight.Data)
	}
	return nil
}
