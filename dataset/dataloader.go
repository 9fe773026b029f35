package dataset

import (
	"fmt"
	"math/rand"
	"sync"
)

// Shuffle order is drawn from a package-level seeded source so two runs with
// the same seed batch identically
var (
	rngMutex sync.Mutex
	rng      = rand.New(rand.NewSource(1))
)

// SetRandomSeed seeds the source behind batch shuffling
func SetRandomSeed(seed int64) {
	rngMutex.Lock()
	rng = rand.New(rand.NewSource(seed))
	rngMutex.Unlock()
}

// Batch represents a batch of inputs and labels
type Batch struct {
	Inputs [][]float32
	Labels []int
}

// DataLoader provides batching, shuffling, and prefetched data loading over a
// Dataset. Prefetch depth follows the worker count; batches within an epoch
// arrive in index order.
type DataLoader struct {
	dataset    Dataset
	batchSize  int
	shuffle    bool
	numWorkers int
	indices    []int
	position   int
	mutex      sync.Mutex
}

// NewDataLoader creates a new DataLoader
func NewDataLoader(dataset Dataset, batchSize int, shuffle bool, numWorkers int) *DataLoader {
	if batchSize <= 0 {
		batchSize = 1
	}
	if numWorkers <= 0 {
		numWorkers = 1
	}

	datasetLen := dataset.Len()
	indices := make([]int, datasetLen)
	for i := range indices {
		indices[i] = i
	}

	return &DataLoader{
		dataset:    dataset,
		batchSize:  batchSize,
		shuffle:    shuffle,
		numWorkers: numWorkers,
		indices:    indices,
		position:   0,
	}
}

// Len returns the number of batches in an epoch
func (dl *DataLoader) Len() int {
	return (dl.dataset.Len() + dl.batchSize - 1) / dl.batchSize
}

// Reset resets the data loader for a new epoch
func (dl *DataLoader) Reset() {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	dl.position = 0

	if dl.shuffle {
		// Shuffle indices for new epoch
		rngMutex.Lock()
		for i := len(dl.indices) - 1; i > 0; i-- {
			j := rng.Intn(i + 1)
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		}
		rngMutex.Unlock()
	}
}

// Next returns the next batch or nil if the epoch is complete
func (dl *DataLoader) Next() (*Batch, error) {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	if dl.position >= len(dl.indices) {
		return nil, nil // End of epoch
	}

	batchEnd := dl.position + dl.batchSize
	if batchEnd > len(dl.indices) {
		batchEnd = len(dl.indices)
	}

	batchIndices := dl.indices[dl.position:batchEnd]
	dl.position = batchEnd

	batch, err := dl.loadBatch(batchIndices)
	if err != nil {
		return nil, fmt.Errorf("failed to load batch: %v", err)
	}
	return batch, nil
}

// HasNext returns true if there are more batches in the current epoch
func (dl *DataLoader) HasNext() bool {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()
	return dl.position < len(dl.indices)
}

// loadBatch loads a batch of samples
func (dl *DataLoader) loadBatch(indices []int) (*Batch, error) {
	if len(indices) == 0 {
		return nil, fmt.Errorf("empty batch indices")
	}

	inputs := make([][]float32, len(indices))
	labels := make([]int, len(indices))
	for i, idx := range indices {
		example, err := dl.dataset.Get(idx)
		if err != nil {
			return nil, fmt.Errorf("failed to load sample %d: %v", idx, err)
		}
		inputs[i] = example.Input
		labels[i] = example.Label
	}

	return &Batch{Inputs: inputs, Labels: labels}, nil
}

// Iterator returns a channel-based iterator for use in training loops. The
// channel is buffered to the worker count so batch loading overlaps the
// consumer's compute.
func (dl *DataLoader) Iterator() (<-chan *Batch, <-chan error) {
	batchChan := make(chan *Batch, dl.numWorkers)
	errChan := make(chan error, 1)

	go func() {
		defer close(batchChan)
		defer close(errChan)

		dl.Reset()

		for dl.HasNext() {
			batch, err := dl.Next()
			if err != nil {
				errChan <- err
				return
			}
			if batch == nil {
				break
			}
			batchChan <- batch
		}
	}()

	return batchChan, errChan
}
