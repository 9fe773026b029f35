package training

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"testing"
	"time"

	"github.com/alswlsghd320/semisupervised-learnings/checkpoints"
	"github.com/alswlsghd320/semisupervised-learnings/dataset"
	"github.com/alswlsghd320/semisupervised-learnings/model"
)

const (
	scriptClasses = 10
	scriptValSize = 100
)

// scriptedModel is a fake classifier with a predetermined per-epoch validation
// accuracy. Each input encodes its true label in input[0] and its dataset
// index in input[1]; in eval mode the model answers correctly for exactly the
// first script[epoch]*valSize indices. The epoch is inferred by counting
// Train() calls, which the round trainer makes once per epoch.
type scriptedModel struct {
	param    *model.Parameter
	script   []float64
	epoch    int
	training bool
}

func newScriptedModel(script []float64) *scriptedModel {
	return &scriptedModel{
		param:  model.NewParameter("w", []int{2}),
		script: script,
		epoch:  -1,
	}
}

func (m *scriptedModel) Forward(inputs [][]float32) ([][]float32, error) {
	logits := make([][]float32, len(inputs))
	for i, input := range inputs {
		label := int(input[0])
		predicted := label
		if !m.training {
			frac := 0.0
			if m.epoch >= 0 && m.epoch < len(m.script) {
				frac = m.script[m.epoch]
			}
			if idx := int(input[1]); float64(idx) >= frac*scriptValSize {
				predicted = (label + 1) % scriptClasses
			}
		}
		row := make([]float32, scriptClasses)
		row[predicted] = 10
		logits[i] = row
	}
	return logits, nil
}

func (m *scriptedModel) Backward(inputs, gradLogits [][]float32) error { return nil }

func (m *scriptedModel) Parameters() []*model.Parameter { return []*model.Parameter{m.param} }

func (m *scriptedModel) Train() {
	m.training = true
	m.epoch++
}

func (m *scriptedModel) Eval() { m.training = false }

func (m *scriptedModel) IsTraining() bool { return m.training }

// scriptedDatasets builds a small training set and a validation set whose
// inputs carry (label, index) pairs for the scripted model
func scriptedDatasets(t *testing.T) (dataset.Dataset, dataset.Dataset) {
	t.Helper()
	encode := func(n int) ([][]float32, []int) {
		inputs := make([][]float32, n)
		labels := make([]int, n)
		for i := 0; i < n; i++ {
			labels[i] = i % scriptClasses
			inputs[i] = []float32{float32(labels[i]), float32(i)}
		}
		return inputs, labels
	}

	trainInputs, trainLabels := encode(20)
	trainSet, err := dataset.NewInMemoryDataset(trainInputs, trainLabels, nil)
	if err != nil {
		t.Fatalf("failed to build training set: %v", err)
	}
	valInputs, valLabels := encode(scriptValSize)
	valSet, err := dataset.NewInMemoryDataset(valInputs, valLabels, nil)
	if err != nil {
		t.Fatalf("failed to build validation set: %v", err)
	}
	return trainSet, valSet
}

func newScriptedTrainer(t *testing.T, script []float64, epochs, patience int, dir string) *RoundTrainer {
	t.Helper()

	var mdl *scriptedModel
	newModel := func() (model.Classifier, error) {
		mdl = newScriptedModel(script)
		return mdl, nil
	}
	newOptimizer := func(params []*model.Parameter) (Optimizer, error) {
		return NewSGD(params, SGDConfig{LearningRate: 0.1})
	}

	trainer, err := NewRoundTrainer(newModel, newOptimizer, RoundConfig{
		Epochs:     epochs,
		Patience:   patience,
		BatchSize:  scriptValSize / 2, // Two full validation batches
		NumWorkers: 1,
		BaseLR:     0.1,
		Scheduler:  SchedulerConfig{Policy: PolicyStep, Gamma: 0.1},
		SavePath:   dir,
	}, nil, nil)
	if err != nil {
		t.Fatalf("failed to create trainer: %v", err)
	}
	return trainer
}

func TestTrainRoundEarlyStopsAfterPatience(t *testing.T) {
	// Best at epoch 1; epochs 2 and 3 fail to improve, so with patience 2 the
	// round halts after epoch 3 without touching epoch 4
	script := []float64{0.5, 0.6, 0.55, 0.58, 0.4}
	trainer := newScriptedTrainer(t, script, 10, 2, t.TempDir())
	trainSet, valSet := scriptedDatasets(t)

	result, err := trainer.TrainRound(0, trainSet, valSet)
	if err != nil {
		t.Fatalf("train round failed: %v", err)
	}

	if result.EpochsRun != 4 {
		t.Errorf("expected 4 epochs run, got %d", result.EpochsRun)
	}
	if result.BestEpoch != 1 {
		t.Errorf("expected best epoch 1, got %d", result.BestEpoch)
	}
	if math.Abs(result.BestTop1-0.6) > 1e-9 {
		t.Errorf("expected best top1 0.6, got %f", result.BestTop1)
	}
}

func TestTrainRoundTiesDoNotResetPatience(t *testing.T) {
	// Equal accuracy is not an improvement: only epoch 0 checkpoints, and the
	// two ties exhaust the patience budget
	script := []float64{0.5, 0.5, 0.5, 0.5}
	trainer := newScriptedTrainer(t, script, 10, 2, t.TempDir())
	trainSet, valSet := scriptedDatasets(t)

	result, err := trainer.TrainRound(0, trainSet, valSet)
	if err != nil {
		t.Fatalf("train round failed: %v", err)
	}

	if result.EpochsRun != 3 {
		t.Errorf("expected 3 epochs run, got %d", result.EpochsRun)
	}
	if result.BestEpoch != 0 {
		t.Errorf("expected best epoch 0, got %d", result.BestEpoch)
	}
}

func TestTrainRoundExhaustsBudgetWhenImproving(t *testing.T) {
	script := []float64{0.1, 0.2, 0.3}
	trainer := newScriptedTrainer(t, script, 3, 5, t.TempDir())
	trainSet, valSet := scriptedDatasets(t)

	result, err := trainer.TrainRound(0, trainSet, valSet)
	if err != nil {
		t.Fatalf("train round failed: %v", err)
	}

	if result.EpochsRun != 3 {
		t.Errorf("expected full 3 epochs, got %d", result.EpochsRun)
	}
	if result.BestEpoch != 2 {
		t.Errorf("expected best epoch 2, got %d", result.BestEpoch)
	}
	if math.Abs(result.BestTop1-0.3) > 1e-9 {
		t.Errorf("expected best top1 0.3, got %f", result.BestTop1)
	}
}

func TestTrainRoundAlwaysWritesCheckpoint(t *testing.T) {
	// Even a student that never answers correctly improves on the initial
	// sentinel at epoch 0, so every round leaves a checkpoint behind
	script := []float64{0, 0, 0}
	dir := t.TempDir()
	trainer := newScriptedTrainer(t, script, 10, 2, dir)
	trainSet, valSet := scriptedDatasets(t)

	result, err := trainer.TrainRound(3, trainSet, valSet)
	if err != nil {
		t.Fatalf("train round failed: %v", err)
	}

	if result.BestTop1 != 0 {
		t.Errorf("expected best top1 0, got %f", result.BestTop1)
	}
	if result.CheckpointPath != checkpoints.PathForRound(dir, 3) {
		t.Errorf("unexpected checkpoint path: %s", result.CheckpointPath)
	}
	if _, err := os.Stat(result.CheckpointPath); err != nil {
		t.Errorf("checkpoint file not written: %v", err)
	}
}

func TestTrainRoundCheckpointMatchesBestEpoch(t *testing.T) {
	script := []float64{0.5, 0.6, 0.55, 0.58, 0.4}
	dir := t.TempDir()
	trainer := newScriptedTrainer(t, script, 10, 2, dir)
	trainSet, valSet := scriptedDatasets(t)

	result, err := trainer.TrainRound(1, trainSet, valSet)
	if err != nil {
		t.Fatalf("train round failed: %v", err)
	}

	checkpoint, err := checkpoints.Load(result.CheckpointPath)
	if err != nil {
		t.Fatalf("failed to load checkpoint: %v", err)
	}
	if checkpoint.Epoch != result.BestEpoch {
		t.Errorf("checkpoint epoch %d does not match best epoch %d", checkpoint.Epoch, result.BestEpoch)
	}
	if checkpoint.Metadata.Round != 1 {
		t.Errorf("expected round 1 in metadata, got %d", checkpoint.Metadata.Round)
	}
	if len(checkpoint.Weights) != 1 {
		t.Errorf("expected 1 weight tensor, got %d", len(checkpoint.Weights))
	}
	if checkpoint.OptimizerState == nil || checkpoint.OptimizerState.Type != "SGD" {
		t.Error("expected SGD optimizer state in checkpoint")
	}
}

func TestEvaluateUsesInferenceMode(t *testing.T) {
	// After one training epoch the scripted model is at epoch 0 with 50%
	// accuracy; Evaluate must switch it to eval mode and report that
	script := []float64{0.5}
	trainer := newScriptedTrainer(t, script, 1, 1, t.TempDir())
	trainSet, valSet := scriptedDatasets(t)

	if _, err := trainer.TrainRound(0, trainSet, valSet); err != nil {
		t.Fatalf("train round failed: %v", err)
	}

	mdl := newScriptedModel(script)
	mdl.Train() // epoch 0
	_, top1, _, err := trainer.Evaluate(mdl, valSet)
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if mdl.IsTraining() {
		t.Error("expected model left in eval mode")
	}
	if math.Abs(top1-0.5) > 1e-9 {
		t.Errorf("expected top1 0.5, got %f", top1)
	}
}

// brokenModel fails every forward pass
type brokenModel struct {
	param    *model.Parameter
	training bool
}

func (m *brokenModel) Forward(inputs [][]float32) ([][]float32, error) {
	return nil, fmt.Errorf("forward pass exploded")
}
func (m *brokenModel) Backward(inputs, gradLogits [][]float32) error { return nil }
func (m *brokenModel) Parameters() []*model.Parameter                { return []*model.Parameter{m.param} }
func (m *brokenModel) Train()                                        { m.training = true }
func (m *brokenModel) Eval()                                         { m.training = false }
func (m *brokenModel) IsTraining() bool                              { return m.training }

func TestTrainRoundDrainsLoaderOnFailure(t *testing.T) {
	newModel := func() (model.Classifier, error) {
		return &brokenModel{param: model.NewParameter("w", []int{2})}, nil
	}
	newOptimizer := func(params []*model.Parameter) (Optimizer, error) {
		return NewSGD(params, SGDConfig{LearningRate: 0.1})
	}
	// Many more batches than the prefetch depth: without draining, the loader
	// goroutine would stay blocked on its channel after the early return
	trainer, err := NewRoundTrainer(newModel, newOptimizer, RoundConfig{
		Epochs:     3,
		Patience:   2,
		BatchSize:  2,
		NumWorkers: 1,
		BaseLR:     0.1,
		Scheduler:  SchedulerConfig{Policy: PolicyStep, Gamma: 0.1},
		SavePath:   t.TempDir(),
	}, nil, nil)
	if err != nil {
		t.Fatalf("failed to create trainer: %v", err)
	}
	trainSet, valSet := scriptedDatasets(t)

	before := runtime.NumGoroutine()
	if _, err := trainer.TrainRound(0, trainSet, valSet); err == nil {
		t.Fatal("expected training failure")
	}

	deadline := time.Now().Add(2 * time.Second)
	for runtime.NumGoroutine() > before && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if leaked := runtime.NumGoroutine() - before; leaked > 0 {
		t.Errorf("%d goroutines leaked after failed round", leaked)
	}
}

func TestNewRoundTrainerRejectsBadConfig(t *testing.T) {
	newModel := func() (model.Classifier, error) { return newScriptedModel(nil), nil }
	newOptimizer := func(params []*model.Parameter) (Optimizer, error) {
		return NewSGD(params, DefaultSGDConfig())
	}
	valid := RoundConfig{
		Epochs:    5,
		Patience:  2,
		BatchSize: 16,
		BaseLR:    0.1,
		Scheduler: SchedulerConfig{Policy: PolicyStep},
		SavePath:  t.TempDir(),
	}

	tests := []struct {
		name   string
		mutate func(cfg *RoundConfig)
	}{
		{"zero epochs", func(cfg *RoundConfig) { cfg.Epochs = 0 }},
		{"zero patience", func(cfg *RoundConfig) { cfg.Patience = 0 }},
		{"zero batch size", func(cfg *RoundConfig) { cfg.BatchSize = 0 }},
		{"empty save path", func(cfg *RoundConfig) { cfg.SavePath = "" }},
		{"invalid smoothing", func(cfg *RoundConfig) { cfg.LabelSmoothing = 1.5 }},
	}

	for _, tt := range tests {
		cfg := valid
		tt.mutate(&cfg)
		if _, err := NewRoundTrainer(newModel, newOptimizer, cfg, nil, nil); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}

	if _, err := NewRoundTrainer(nil, newOptimizer, valid, nil, nil); err == nil {
		t.Error("expected error for nil model factory")
	}
}
