package model

import (
	"fmt"
	"math"
)

// Linear implements a fully connected softmax classifier head: logits = xW + b.
// It is the reference Classifier used by the demo driver and the test suite;
// real deployments plug in their own architecture behind the Classifier
// interface.
type Linear struct {
	weight   *Parameter
	bias     *Parameter
	inputs   int
	classes  int
	training bool
}

// NewLinear creates a new Linear classifier for the given input width and
// class count
func NewLinear(inputSize, numClasses int) (*Linear, error) {
	if inputSize <= 0 || numClasses <= 0 {
		return nil, fmt.Errorf("invalid linear dimensions: %dx%d", inputSize, numClasses)
	}

	// Xavier/Glorot uniform initialization
	// W ~ U(-sqrt(6/(fan_in + fan_out)), sqrt(6/(fan_in + fan_out)))
	bound := math.Sqrt(6.0 / float64(inputSize+numClasses))

	weight := NewParameter("linear.weight", []int{inputSize, numClasses})
	for i := range weight.Data {
		weight.Data[i] = float32((globalRng.Float64()*2.0 - 1.0) * bound)
	}
	bias := NewParameter("linear.bias", []int{numClasses})

	return &Linear{
		weight:   weight,
		bias:     bias,
		inputs:   inputSize,
		classes:  numClasses,
		training: true,
	}, nil
}

// Forward computes logits for a batch of inputs
func (l *Linear) Forward(inputs [][]float32) ([][]float32, error) {
	logits := make([][]float32, len(inputs))
	for i, x := range inputs {
		if len(x) != l.inputs {
			return nil, fmt.Errorf("input size mismatch: expected %d, got %d", l.inputs, len(x))
		}
		row := make([]float32, l.classes)
		copy(row, l.bias.Data)
		for j, xv := range x {
			if xv == 0 {
				continue
			}
			wRow := l.weight.Data[j*l.classes : (j+1)*l.classes]
			for k, wv := range wRow {
				row[k] += xv * wv
			}
		}
		logits[i] = row
	}
	return logits, nil
}

// Backward accumulates dL/dW = x^T * dL/dlogits and dL/db = sum(dL/dlogits)
func (l *Linear) Backward(inputs [][]float32, gradLogits [][]float32) error {
	if len(inputs) != len(gradLogits) {
		return fmt.Errorf("batch size mismatch: %d inputs, %d gradient rows", len(inputs), len(gradLogits))
	}
	for i, x := range inputs {
		g := gradLogits[i]
		if len(g) != l.classes {
			return fmt.Errorf("gradient width mismatch: expected %d, got %d", l.classes, len(g))
		}
		for j, xv := range x {
			if xv == 0 {
				continue
			}
			gRow := l.weight.Grad[j*l.classes : (j+1)*l.classes]
			for k, gv := range g {
				gRow[k] += xv * gv
			}
		}
		for k, gv := range g {
			l.bias.Grad[k] += gv
		}
	}
	return nil
}

// Parameters returns the weight and bias parameters
func (l *Linear) Parameters() []*Parameter {
	return []*Parameter{l.weight, l.bias}
}

// Train sets the classifier to training mode
func (l *Linear) Train() {
	l.training = true
}

// Eval sets the classifier to evaluation mode
func (l *Linear) Eval() {
	l.training = false
}

// IsTraining returns true if in training mode
func (l *Linear) IsTraining() bool {
	return l.training
}
