package model

import "math/rand"

// Global random source for deterministic initialization
var globalRng *rand.Rand = rand.New(rand.NewSource(1))

// SetRandomSeed sets the global random seed for deterministic weight initialization
func SetRandomSeed(seed int64) {
	globalRng = rand.New(rand.NewSource(seed))
}

// Parameter is a named, flat-stored trainable tensor with its gradient buffer.
// Data and Grad always have the same length (the product of Shape).
type Parameter struct {
	Name  string
	Shape []int
	Data  []float32
	Grad  []float32
}

// NewParameter creates a zero-initialized parameter with the given shape
func NewParameter(name string, shape []int) *Parameter {
	size := 1
	for _, dim := range shape {
		size *= dim
	}
	return &Parameter{
		Name:  name,
		Shape: shape,
		Data:  make([]float32, size),
		Grad:  make([]float32, size),
	}
}

// NumElems returns the number of elements in the parameter
func (p *Parameter) NumElems() int {
	return len(p.Data)
}

// ZeroGrad clears the gradient buffer
func (p *Parameter) ZeroGrad() {
	for i := range p.Grad {
		p.Grad[i] = 0
	}
}

// Classifier is the contract the self-training loop requires from a model:
// batch forward inference producing one logit row per input, gradient
// accumulation for training, a training/eval mode switch, and access to the
// parameter set for optimization and state save/restore.
type Classifier interface {
	// Forward computes logits for a batch of inputs, one row per input
	Forward(inputs [][]float32) ([][]float32, error)

	// Backward accumulates parameter gradients given the inputs of the last
	// forward pass and the loss gradient with respect to the logits
	Backward(inputs [][]float32, gradLogits [][]float32) error

	Parameters() []*Parameter // Returns trainable parameters
	Train()                   // Sets model to training mode
	Eval()                    // Sets model to evaluation mode
	IsTraining() bool         // Returns true if in training mode
}

// Factory constructs a freshly initialized model instance. The self-training
// loop builds a new student from scratch every round, so the factory must not
// share parameter storage between calls.
type Factory func() (Classifier, error)
