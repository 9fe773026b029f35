package dataset

import "fmt"

// Example is a single labeled sample: a flat input vector and its class index.
// Examples are immutable once created.
type Example struct {
	Input []float32
	Label int
}

// Transform mutates a copy of an input vector on the way out of a dataset.
// Augmentation policy lives behind this hook; a nil Transform is identity.
type Transform func([]float32) []float32

// Dataset interface defines methods that all labeled datasets must implement
type Dataset interface {
	Len() int                      // Total number of samples
	Get(idx int) (Example, error)  // Returns a single sample
}

// UnlabeledPool exposes raw inputs with no labels; the source of candidate
// pseudo-labels.
type UnlabeledPool interface {
	Len() int
	Input(idx int) ([]float32, error)
}

// InMemoryDataset holds labeled examples in memory
type InMemoryDataset struct {
	inputs    [][]float32
	labels    []int
	transform Transform
}

// NewInMemoryDataset creates a dataset from parallel input and label slices
func NewInMemoryDataset(inputs [][]float32, labels []int, transform Transform) (*InMemoryDataset, error) {
	if len(inputs) != len(labels) {
		return nil, fmt.Errorf("inputs and labels must have the same length: got %d and %d", len(inputs), len(labels))
	}
	return &InMemoryDataset{
		inputs:    inputs,
		labels:    labels,
		transform: transform,
	}, nil
}

// Len returns the number of samples in the dataset
func (ds *InMemoryDataset) Len() int {
	return len(ds.inputs)
}

// Get returns a sample at the given index
func (ds *InMemoryDataset) Get(idx int) (Example, error) {
	if idx < 0 || idx >= len(ds.inputs) {
		return Example{}, fmt.Errorf("index %d out of range [0, %d)", idx, len(ds.inputs))
	}
	return Example{
		Input: applyTransform(ds.transform, ds.inputs[idx]),
		Label: ds.labels[idx],
	}, nil
}

// InMemoryPool holds unlabeled inputs in memory
type InMemoryPool struct {
	inputs [][]float32
}

// NewInMemoryPool creates an unlabeled pool from raw input vectors
func NewInMemoryPool(inputs [][]float32) *InMemoryPool {
	return &InMemoryPool{inputs: inputs}
}

// Len returns the number of inputs in the pool
func (p *InMemoryPool) Len() int {
	return len(p.inputs)
}

// Input returns the raw input at the given index
func (p *InMemoryPool) Input(idx int) ([]float32, error) {
	if idx < 0 || idx >= len(p.inputs) {
		return nil, fmt.Errorf("index %d out of range [0, %d)", idx, len(p.inputs))
	}
	return p.inputs[idx], nil
}

// ConcatDataset exposes the union of two labeled datasets, first followed by
// second. The underlying datasets are not copied.
type ConcatDataset struct {
	first  Dataset
	second Dataset
}

// Concat returns the union of two labeled datasets
func Concat(first, second Dataset) *ConcatDataset {
	return &ConcatDataset{first: first, second: second}
}

// Len returns the combined sample count
func (cd *ConcatDataset) Len() int {
	return cd.first.Len() + cd.second.Len()
}

// Get routes the index into the first or second dataset
func (cd *ConcatDataset) Get(idx int) (Example, error) {
	if idx < 0 || idx >= cd.Len() {
		return Example{}, fmt.Errorf("index %d out of range [0, %d)", idx, cd.Len())
	}
	if idx < cd.first.Len() {
		return cd.first.Get(idx)
	}
	return cd.second.Get(idx - cd.first.Len())
}

// PseudoDataset materializes a labeled dataset from an unlabeled pool by
// pairing selected pool indices with assigned labels. The raw inputs stay in
// the pool; only the index mapping and labels are stored.
type PseudoDataset struct {
	pool      UnlabeledPool
	indices   []int
	labels    []int
	transform Transform
}

// NewPseudoDataset creates a pseudo-labeled dataset from pool indices and
// their assigned labels
func NewPseudoDataset(pool UnlabeledPool, indices []int, labels []int, transform Transform) (*PseudoDataset, error) {
	if len(indices) != len(labels) {
		return nil, fmt.Errorf("indices and labels must have the same length: got %d and %d", len(indices), len(labels))
	}
	for _, idx := range indices {
		if idx < 0 || idx >= pool.Len() {
			return nil, fmt.Errorf("pool index %d out of range [0, %d)", idx, pool.Len())
		}
	}
	return &PseudoDataset{
		pool:      pool,
		indices:   indices,
		labels:    labels,
		transform: transform,
	}, nil
}

// Len returns the number of pseudo-labeled samples
func (pd *PseudoDataset) Len() int {
	return len(pd.indices)
}

// Get returns the pool input at the mapped index paired with its assigned label
func (pd *PseudoDataset) Get(idx int) (Example, error) {
	if idx < 0 || idx >= len(pd.indices) {
		return Example{}, fmt.Errorf("index %d out of range [0, %d)", idx, len(pd.indices))
	}
	input, err := pd.pool.Input(pd.indices[idx])
	if err != nil {
		return Example{}, err
	}
	return Example{
		Input: applyTransform(pd.transform, input),
		Label: pd.labels[idx],
	}, nil
}

// SubsetDataset allows training on a limited number of samples from an
// underlying dataset.
type SubsetDataset struct {
	originalDataset Dataset
	limit           int
}

// NewSubsetDataset creates a new SubsetDataset that wraps an existing dataset
// and limits the number of samples it exposes.
func NewSubsetDataset(original Dataset, limit int) (*SubsetDataset, error) {
	if limit < 0 {
		return nil, fmt.Errorf("limit cannot be negative")
	}
	if limit > original.Len() {
		limit = original.Len()
	}
	return &SubsetDataset{
		originalDataset: original,
		limit:           limit,
	}, nil
}

// Len returns the number of samples in the subset
func (sd *SubsetDataset) Len() int {
	return sd.limit
}

// Get returns a sample at the given index from the original dataset
func (sd *SubsetDataset) Get(idx int) (Example, error) {
	if idx < 0 || idx >= sd.limit {
		return Example{}, fmt.Errorf("index out of bounds for subset: %d (limit: %d)", idx, sd.limit)
	}
	return sd.originalDataset.Get(idx)
}

func applyTransform(t Transform, input []float32) []float32 {
	if t == nil {
		return input
	}
	out := make([]float32, len(input))
	copy(out, input)
	return t(out)
}
