package training

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Loss interface defines methods that all loss functions must implement.
// Forward returns the scalar loss averaged over the batch; Backward returns
// the loss gradient with respect to the logits.
type Loss interface {
	Forward(logits [][]float32, targets []int) (float64, error)
	Backward(logits [][]float32, targets []int) ([][]float32, error)
}

// CrossEntropyLoss implements softmax cross-entropy with optional label
// smoothing. With smoothing s over K classes the target distribution is
// q_j = s/K + (1-s)*1[j==y].
type CrossEntropyLoss struct {
	smoothing float64
}

// NewCrossEntropyLoss creates a cross-entropy loss with the given label
// smoothing factor in [0, 1)
func NewCrossEntropyLoss(labelSmoothing float64) (*CrossEntropyLoss, error) {
	if labelSmoothing < 0 || labelSmoothing >= 1 {
		return nil, fmt.Errorf("label smoothing must be in [0, 1): got %f", labelSmoothing)
	}
	return &CrossEntropyLoss{smoothing: labelSmoothing}, nil
}

// Forward computes the batch-averaged smoothed cross-entropy
func (ce *CrossEntropyLoss) Forward(logits [][]float32, targets []int) (float64, error) {
	if len(logits) != len(targets) {
		return 0, fmt.Errorf("logits and targets must have the same length: got %d and %d", len(logits), len(targets))
	}
	if len(logits) == 0 {
		return 0, fmt.Errorf("empty batch")
	}

	var total float64
	for i, row := range logits {
		target := targets[i]
		numClasses := len(row)
		if target < 0 || target >= numClasses {
			return 0, fmt.Errorf("target %d out of range [0, %d)", target, numClasses)
		}

		logProbs := logSoftmax(row)
		uniform := ce.smoothing / float64(numClasses)
		var sampleLoss float64
		for j, lp := range logProbs {
			q := uniform
			if j == target {
				q += 1 - ce.smoothing
			}
			sampleLoss -= q * lp
		}
		total += sampleLoss
	}
	return total / float64(len(logits)), nil
}

// Backward computes dL/dlogits = (softmax(logits) - q) / batchSize
func (ce *CrossEntropyLoss) Backward(logits [][]float32, targets []int) ([][]float32, error) {
	if len(logits) != len(targets) {
		return nil, fmt.Errorf("logits and targets must have the same length: got %d and %d", len(logits), len(targets))
	}
	if len(logits) == 0 {
		return nil, fmt.Errorf("empty batch")
	}

	batchSize := float64(len(logits))
	grads := make([][]float32, len(logits))
	for i, row := range logits {
		target := targets[i]
		numClasses := len(row)
		if target < 0 || target >= numClasses {
			return nil, fmt.Errorf("target %d out of range [0, %d)", target, numClasses)
		}

		probs := Softmax(row)
		uniform := ce.smoothing / float64(numClasses)
		grad := make([]float32, numClasses)
		for j, p := range probs {
			q := uniform
			if j == target {
				q += 1 - ce.smoothing
			}
			grad[j] = float32((p - q) / batchSize)
		}
		grads[i] = grad
	}
	return grads, nil
}

// Softmax converts a logit row into a class-probability distribution
func Softmax(logits []float32) []float64 {
	probs := make([]float64, len(logits))
	for i, v := range logits {
		probs[i] = float64(v)
	}
	max := floats.Max(probs)
	for i := range probs {
		probs[i] = math.Exp(probs[i] - max)
	}
	floats.Scale(1/floats.Sum(probs), probs)
	return probs
}

// logSoftmax computes log(softmax(logits)) with max-shift stabilization
func logSoftmax(logits []float32) []float64 {
	shifted := make([]float64, len(logits))
	for i, v := range logits {
		shifted[i] = float64(v)
	}
	max := floats.Max(shifted)
	var sum float64
	for i := range shifted {
		shifted[i] -= max
		sum += math.Exp(shifted[i])
	}
	logSum := math.Log(sum)
	for i := range shifted {
		shifted[i] -= logSum
	}
	return shifted
}
