package dataset

import (
	"testing"
)

func TestDataLoaderBatchShapes(t *testing.T) {
	ds := labeledSet(t, 10, 0)
	loader := NewDataLoader(ds, 4, false, 1)

	if loader.Len() != 3 {
		t.Errorf("expected 3 batches, got %d", loader.Len())
	}

	var sizes []int
	batches, errs := loader.Iterator()
	for batch := range batches {
		if len(batch.Inputs) != len(batch.Labels) {
			t.Errorf("inputs and labels length mismatch: %d vs %d", len(batch.Inputs), len(batch.Labels))
		}
		sizes = append(sizes, len(batch.Inputs))
	}
	if err := <-errs; err != nil {
		t.Fatalf("iterator failed: %v", err)
	}

	// Final batch carries the remainder
	expected := []int{4, 4, 2}
	if len(sizes) != len(expected) {
		t.Fatalf("expected %d batches, got %d", len(expected), len(sizes))
	}
	for i, size := range sizes {
		if size != expected[i] {
			t.Errorf("batch %d: expected size %d, got %d", i, expected[i], size)
		}
	}
}

func TestDataLoaderPreservesOrderWithoutShuffle(t *testing.T) {
	ds := labeledSet(t, 6, 0)
	loader := NewDataLoader(ds, 2, false, 1)

	next := 0
	batches, errs := loader.Iterator()
	for batch := range batches {
		for _, label := range batch.Labels {
			if label != next {
				t.Errorf("expected label %d, got %d", next, label)
			}
			next++
		}
	}
	if err := <-errs; err != nil {
		t.Fatalf("iterator failed: %v", err)
	}
	if next != 6 {
		t.Errorf("expected 6 samples, got %d", next)
	}
}

func TestDataLoaderShuffleCoversAllSamples(t *testing.T) {
	ds := labeledSet(t, 20, 0)
	loader := NewDataLoader(ds, 7, true, 2)

	seen := make(map[int]bool)
	batches, errs := loader.Iterator()
	for batch := range batches {
		for _, label := range batch.Labels {
			if seen[label] {
				t.Errorf("label %d seen twice in one epoch", label)
			}
			seen[label] = true
		}
	}
	if err := <-errs; err != nil {
		t.Fatalf("iterator failed: %v", err)
	}
	if len(seen) != 20 {
		t.Errorf("expected all 20 samples, got %d", len(seen))
	}
}

func TestDataLoaderShuffleIsSeeded(t *testing.T) {
	ds := labeledSet(t, 32, 0)

	collect := func() []int {
		loader := NewDataLoader(ds, 4, true, 1)
		var labels []int
		batches, errs := loader.Iterator()
		for batch := range batches {
			labels = append(labels, batch.Labels...)
		}
		if err := <-errs; err != nil {
			t.Fatalf("iterator failed: %v", err)
		}
		return labels
	}

	SetRandomSeed(7)
	first := collect()
	SetRandomSeed(7)
	second := collect()

	if len(first) != 32 || len(second) != 32 {
		t.Fatalf("expected 32 samples per epoch, got %d and %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("position %d: same seed produced different orders: %d vs %d", i, first[i], second[i])
		}
	}
}

func TestDataLoaderResetStartsNewEpoch(t *testing.T) {
	ds := labeledSet(t, 4, 0)
	loader := NewDataLoader(ds, 2, false, 1)

	for i := 0; i < 2; i++ {
		count := 0
		batches, errs := loader.Iterator()
		for range batches {
			count++
		}
		if err := <-errs; err != nil {
			t.Fatalf("epoch %d: iterator failed: %v", i, err)
		}
		if count != 2 {
			t.Errorf("epoch %d: expected 2 batches, got %d", i, count)
		}
	}
}

func TestDataLoaderNextAndHasNext(t *testing.T) {
	ds := labeledSet(t, 3, 0)
	loader := NewDataLoader(ds, 2, false, 1)

	if !loader.HasNext() {
		t.Fatal("expected batches available")
	}
	batch, err := loader.Next()
	if err != nil {
		t.Fatalf("next failed: %v", err)
	}
	if len(batch.Inputs) != 2 {
		t.Errorf("expected batch size 2, got %d", len(batch.Inputs))
	}

	batch, err = loader.Next()
	if err != nil {
		t.Fatalf("next failed: %v", err)
	}
	if len(batch.Inputs) != 1 {
		t.Errorf("expected final batch size 1, got %d", len(batch.Inputs))
	}

	if loader.HasNext() {
		t.Error("expected epoch exhausted")
	}
	batch, err = loader.Next()
	if err != nil {
		t.Fatalf("next failed: %v", err)
	}
	if batch != nil {
		t.Error("expected nil batch at end of epoch")
	}
}

func TestDataLoaderDefaultsInvalidArguments(t *testing.T) {
	ds := labeledSet(t, 3, 0)
	loader := NewDataLoader(ds, 0, false, -1)

	// Batch size and worker count fall back to 1
	if loader.Len() != 3 {
		t.Errorf("expected 3 single-sample batches, got %d", loader.Len())
	}
}
