package selftrain

import (
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"github.com/alswlsghd320/semisupervised-learnings/dataset"
	"github.com/alswlsghd320/semisupervised-learnings/model"
	"github.com/alswlsghd320/semisupervised-learnings/training"
)

// PseudoLabel pairs an unlabeled-pool index with the teacher's predicted
// class and its confidence. Produced fresh each round, never mutated.
type PseudoLabel struct {
	Index      int
	Label      int
	Confidence float64
}

// PseudoLabeler scores every example in an unlabeled pool with a teacher
// model and keeps those whose top-class confidence strictly exceeds the
// threshold. The pass is read-only: the teacher runs in evaluation mode and
// no parameter state is touched.
type PseudoLabeler struct {
	threshold float64
	batchSize int
	logger    hclog.Logger
}

// NewPseudoLabeler creates a pseudo-labeler with the given confidence
// threshold in [0, 1]
func NewPseudoLabeler(threshold float64, batchSize int, logger hclog.Logger) (*PseudoLabeler, error) {
	if threshold < 0 || threshold > 1 {
		return nil, errors.Errorf("confidence threshold must be in [0, 1]: got %f", threshold)
	}
	if batchSize <= 0 {
		batchSize = 1
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &PseudoLabeler{
		threshold: threshold,
		batchSize: batchSize,
		logger:    logger.Named("pseudo-labeler"),
	}, nil
}

// Label runs the teacher over the whole pool and returns the accepted
// pseudo-labels ordered by pool index. Confidence exactly equal to the
// threshold is rejected.
func (pl *PseudoLabeler) Label(teacher model.Classifier, pool dataset.UnlabeledPool) ([]PseudoLabel, error) {
	teacher.Eval()

	var accepted []PseudoLabel
	poolLen := pool.Len()
	for offset := 0; offset < poolLen; offset += pl.batchSize {
		end := offset + pl.batchSize
		if end > poolLen {
			end = poolLen
		}

		inputs := make([][]float32, 0, end-offset)
		for idx := offset; idx < end; idx++ {
			input, err := pool.Input(idx)
			if err != nil {
				return nil, errors.Wrapf(err, "reading pool example %d", idx)
			}
			inputs = append(inputs, input)
		}

		logits, err := teacher.Forward(inputs)
		if err != nil {
			return nil, errors.Wrap(err, "teacher inference failed")
		}
		if len(logits) != len(inputs) {
			return nil, errors.Errorf("teacher returned %d logit rows for %d inputs", len(logits), len(inputs))
		}

		for i, row := range logits {
			probs := training.Softmax(row)
			class := floats.MaxIdx(probs)
			confidence := probs[class]
			if confidence > pl.threshold {
				accepted = append(accepted, PseudoLabel{
					Index:      offset + i,
					Label:      class,
					Confidence: confidence,
				})
			}
		}
	}

	pl.logger.Info("pseudo-labeling pass complete",
		"pool_size", poolLen, "accepted", len(accepted), "threshold", pl.threshold)
	return accepted, nil
}

// Materialize turns accepted pseudo-labels into a labeled dataset drawn from
// the pool's raw inputs
func Materialize(pool dataset.UnlabeledPool, accepted []PseudoLabel, transform dataset.Transform) (*dataset.PseudoDataset, error) {
	indices := make([]int, len(accepted))
	labels := make([]int, len(accepted))
	for i, p := range accepted {
		indices[i] = p.Index
		labels[i] = p.Label
	}
	return dataset.NewPseudoDataset(pool, indices, labels, transform)
}
