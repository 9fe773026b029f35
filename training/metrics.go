package training

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// TopKAccuracy returns the fraction of rows whose true label is among the k
// highest-scored classes
func TopKAccuracy(logits [][]float32, targets []int, k int) (float64, error) {
	if len(logits) != len(targets) {
		return 0, fmt.Errorf("logits and targets must have the same length: got %d and %d", len(logits), len(targets))
	}
	if len(logits) == 0 {
		return 0, fmt.Errorf("empty batch")
	}
	if k <= 0 {
		return 0, fmt.Errorf("k must be positive: got %d", k)
	}

	correct := 0
	for i, row := range logits {
		if topKContains(row, targets[i], k) {
			correct++
		}
	}
	return float64(correct) / float64(len(logits)), nil
}

// topKContains reports whether target is among the k highest-scored classes.
// Ties are broken by class index, matching a stable descending sort.
func topKContains(row []float32, target int, k int) bool {
	if target < 0 || target >= len(row) {
		return false
	}
	if k >= len(row) {
		return true
	}

	order := make([]int, len(row))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return row[order[a]] > row[order[b]]
	})
	for _, idx := range order[:k] {
		if idx == target {
			return true
		}
	}
	return false
}

// epochMeter accumulates per-batch loss and accuracy values and reports their
// epoch averages, mirroring batch-averaged running metrics.
type epochMeter struct {
	losses []float64
	top1s  []float64
	top5s  []float64
}

func (m *epochMeter) add(loss, top1, top5 float64) {
	m.losses = append(m.losses, loss)
	m.top1s = append(m.top1s, top1)
	m.top5s = append(m.top5s, top5)
}

func (m *epochMeter) batches() int {
	return len(m.losses)
}

func (m *epochMeter) averages() (loss, top1, top5 float64) {
	if len(m.losses) == 0 {
		return 0, 0, 0
	}
	return stat.Mean(m.losses, nil), stat.Mean(m.top1s, nil), stat.Mean(m.top5s, nil)
}
