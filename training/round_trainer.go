package training

import (
	"math"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"

	"github.com/alswlsghd320/semisupervised-learnings/checkpoints"
	"github.com/alswlsghd320/semisupervised-learnings/dataset"
	"github.com/alswlsghd320/semisupervised-learnings/model"
	"github.com/alswlsghd320/semisupervised-learnings/tracking"
)

// RoundConfig holds the per-round training budget and hyperparameters
type RoundConfig struct {
	Epochs         int     // Epoch budget per round
	Patience       int     // Non-improving epochs tolerated before early stop
	BatchSize      int
	NumWorkers     int     // Prefetch depth for data loading
	BaseLR         float64
	LabelSmoothing float64
	Scheduler      SchedulerConfig
	SavePath       string // Directory for per-round checkpoint files
}

// TrainingState tracks the best validation metrics within one round. It is
// reset at the start of every round and discarded when the round ends.
type TrainingState struct {
	BestLoss  float64
	BestTop1  float64
	BestTop5  float64
	BestEpoch int

	earlyStop int
}

// RoundResult reports the outcome of one training round
type RoundResult struct {
	Round          int
	BestEpoch      int
	BestLoss       float64
	BestTop1       float64
	BestTop5       float64
	EpochsRun      int
	CheckpointPath string
	Elapsed        time.Duration
}

// roundContext owns the live model, optimizer and scheduler for exactly one
// round. A fresh context is built per round; nothing in it survives the round.
type roundContext struct {
	student   model.Classifier
	optimizer Optimizer
	scheduler LRScheduler
	state     TrainingState
}

// RoundTrainer runs one supervised training loop per invocation: a freshly
// constructed student is trained on the given dataset snapshot until the
// epoch budget is exhausted or early stopping triggers, and the best
// checkpoint by validation top-1 is persisted for the round.
type RoundTrainer struct {
	newModel     model.Factory
	newOptimizer OptimizerFactory
	cfg          RoundConfig
	criterion    Loss
	logger       hclog.Logger
	sink         tracking.Sink
}

// NewRoundTrainer creates a round trainer. The model and optimizer factories
// are invoked once per round so every round starts from scratch.
func NewRoundTrainer(newModel model.Factory, newOptimizer OptimizerFactory, cfg RoundConfig,
	logger hclog.Logger, sink tracking.Sink) (*RoundTrainer, error) {
	if newModel == nil || newOptimizer == nil {
		return nil, errors.New("model and optimizer factories are required")
	}
	if cfg.Epochs <= 0 {
		return nil, errors.Errorf("epoch budget must be positive: got %d", cfg.Epochs)
	}
	if cfg.Patience <= 0 {
		return nil, errors.Errorf("patience must be positive: got %d", cfg.Patience)
	}
	if cfg.BatchSize <= 0 {
		return nil, errors.Errorf("batch size must be positive: got %d", cfg.BatchSize)
	}
	if cfg.SavePath == "" {
		return nil, errors.New("checkpoint save path is required")
	}

	criterion, err := NewCrossEntropyLoss(cfg.LabelSmoothing)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if sink == nil {
		sink = tracking.NopSink{}
	}

	return &RoundTrainer{
		newModel:     newModel,
		newOptimizer: newOptimizer,
		cfg:          cfg,
		criterion:    criterion,
		logger:       logger.Named("round-trainer"),
		sink:         sink,
	}, nil
}

// TrainRound trains a fresh student on the given snapshot and persists the
// round's best checkpoint. The checkpoint file is written on every strict
// validation top-1 improvement; the initial best is a -Inf sentinel, so the
// first epoch always produces a checkpoint.
func (rt *RoundTrainer) TrainRound(round int, trainSet, valSet dataset.Dataset) (*RoundResult, error) {
	start := time.Now()

	student, err := rt.newModel()
	if err != nil {
		return nil, errors.Wrap(err, "constructing student model")
	}
	optimizer, err := rt.newOptimizer(student.Parameters())
	if err != nil {
		return nil, errors.Wrap(err, "constructing optimizer")
	}

	trainLoader := dataset.NewDataLoader(trainSet, rt.cfg.BatchSize, true, rt.cfg.NumWorkers)
	valLoader := dataset.NewDataLoader(valSet, rt.cfg.BatchSize, false, rt.cfg.NumWorkers)

	scheduler, err := NewScheduler(rt.cfg.Scheduler, rt.cfg.Epochs, trainLoader.Len())
	if err != nil {
		return nil, errors.Wrap(err, "constructing scheduler")
	}

	ctx := &roundContext{
		student:   student,
		optimizer: optimizer,
		scheduler: scheduler,
		state: TrainingState{
			BestLoss: math.Inf(1),
			BestTop1: math.Inf(-1),
		},
	}

	checkpointPath := checkpoints.PathForRound(rt.cfg.SavePath, round)
	rt.logger.Info("starting round", "round", round,
		"train_examples", trainSet.Len(), "val_examples", valSet.Len(),
		"epochs", rt.cfg.Epochs, "scheduler", scheduler.GetName())

	epochsRun := 0
	for epoch := 0; epoch < rt.cfg.Epochs; epoch++ {
		epochsRun++

		trainLoss, trainTop1, trainTop5, err := rt.trainEpoch(ctx, trainLoader, epoch)
		if err != nil {
			return nil, errors.Wrapf(err, "training epoch %d of round %d", epoch, round)
		}
		valLoss, valTop1, valTop5, err := rt.validate(ctx.student, valLoader)
		if err != nil {
			return nil, errors.Wrapf(err, "validation epoch %d of round %d", epoch, round)
		}

		rt.sink.Record(round, tracking.SplitTrain, "loss", epoch, trainLoss)
		rt.sink.Record(round, tracking.SplitTrain, "top1", epoch, trainTop1)
		rt.sink.Record(round, tracking.SplitTrain, "top5", epoch, trainTop5)
		rt.sink.Record(round, tracking.SplitTrain, "lr", epoch, ctx.optimizer.LearningRate())
		rt.sink.Record(round, tracking.SplitVal, "loss", epoch, valLoss)
		rt.sink.Record(round, tracking.SplitVal, "top1", epoch, valTop1)
		rt.sink.Record(round, tracking.SplitVal, "top5", epoch, valTop5)

		rt.logger.Info("epoch complete", "round", round, "epoch", epoch,
			"train_loss", trainLoss, "train_top1", trainTop1, "train_top5", trainTop5,
			"val_loss", valLoss, "val_top1", valTop1, "val_top5", valTop5,
			"lr", ctx.optimizer.LearningRate())

		if valTop1 > ctx.state.BestTop1 {
			ctx.state.earlyStop = 0
			ctx.state.BestEpoch = epoch
			ctx.state.BestLoss = valLoss
			ctx.state.BestTop1 = valTop1
			ctx.state.BestTop5 = valTop5

			if err := rt.saveCheckpoint(ctx, round, epoch, checkpointPath); err != nil {
				return nil, errors.Wrapf(err, "saving checkpoint for round %d", round)
			}
		} else {
			ctx.state.earlyStop++
		}

		rt.sink.Record(round, tracking.SplitBest, "loss", epoch, ctx.state.BestLoss)
		rt.sink.Record(round, tracking.SplitBest, "top1", epoch, ctx.state.BestTop1)
		rt.sink.Record(round, tracking.SplitBest, "top5", epoch, ctx.state.BestTop5)

		if ctx.state.earlyStop == rt.cfg.Patience {
			rt.logger.Info("early stopping", "round", round, "epoch", epoch,
				"best_epoch", ctx.state.BestEpoch, "patience", rt.cfg.Patience)
			break
		}
	}

	elapsed := time.Since(start)
	rt.logger.Info("round complete", "round", round,
		"best_epoch", ctx.state.BestEpoch, "best_loss", ctx.state.BestLoss,
		"best_top1", ctx.state.BestTop1, "best_top5", ctx.state.BestTop5,
		"epochs_run", epochsRun, "elapsed_minutes", elapsed.Minutes())

	return &RoundResult{
		Round:          round,
		BestEpoch:      ctx.state.BestEpoch,
		BestLoss:       ctx.state.BestLoss,
		BestTop1:       ctx.state.BestTop1,
		BestTop5:       ctx.state.BestTop5,
		EpochsRun:      epochsRun,
		CheckpointPath: checkpointPath,
		Elapsed:        elapsed,
	}, nil
}

// trainEpoch runs one full gradient pass over the training set
func (rt *RoundTrainer) trainEpoch(ctx *roundContext, loader *dataset.DataLoader, epoch int) (float64, float64, float64, error) {
	ctx.student.Train()

	meter := &epochMeter{}
	step := 0
	var loopErr error
	batches, errs := loader.Iterator()
	for batch := range batches {
		if loopErr != nil {
			// Keep draining so the loader's producer goroutine can exit
			continue
		}

		ctx.optimizer.SetLearningRate(ctx.scheduler.GetLR(epoch, step, rt.cfg.BaseLR))
		ctx.optimizer.ZeroGrad()

		logits, err := ctx.student.Forward(batch.Inputs)
		if err != nil {
			loopErr = errors.Wrap(err, "forward pass failed")
			continue
		}
		loss, err := rt.criterion.Forward(logits, batch.Labels)
		if err != nil {
			loopErr = errors.Wrap(err, "loss computation failed")
			continue
		}
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			loopErr = errors.Errorf("non-finite training loss at epoch %d step %d", epoch, step)
			continue
		}

		gradLogits, err := rt.criterion.Backward(logits, batch.Labels)
		if err != nil {
			loopErr = errors.Wrap(err, "loss gradient failed")
			continue
		}
		if err := ctx.student.Backward(batch.Inputs, gradLogits); err != nil {
			loopErr = errors.Wrap(err, "backward pass failed")
			continue
		}
		if err := ctx.optimizer.Step(); err != nil {
			loopErr = errors.Wrap(err, "optimizer step failed")
			continue
		}

		top1, err := TopKAccuracy(logits, batch.Labels, 1)
		if err != nil {
			loopErr = err
			continue
		}
		top5, err := TopKAccuracy(logits, batch.Labels, 5)
		if err != nil {
			loopErr = err
			continue
		}
		meter.add(loss, top1, top5)
		step++
	}
	if loopErr != nil {
		return 0, 0, 0, loopErr
	}
	if err := <-errs; err != nil {
		return 0, 0, 0, errors.Wrap(err, "loading training batch")
	}
	if meter.batches() == 0 {
		return 0, 0, 0, errors.New("training set produced no batches")
	}

	loss, top1, top5 := meter.averages()
	return loss, top1, top5, nil
}

// validate runs one full pass over the validation set in inference mode
func (rt *RoundTrainer) validate(student model.Classifier, loader *dataset.DataLoader) (float64, float64, float64, error) {
	student.Eval()

	meter := &epochMeter{}
	var loopErr error
	batches, errs := loader.Iterator()
	for batch := range batches {
		if loopErr != nil {
			continue
		}

		logits, err := student.Forward(batch.Inputs)
		if err != nil {
			loopErr = errors.Wrap(err, "validation forward pass failed")
			continue
		}
		loss, err := rt.criterion.Forward(logits, batch.Labels)
		if err != nil {
			loopErr = errors.Wrap(err, "validation loss computation failed")
			continue
		}

		top1, err := TopKAccuracy(logits, batch.Labels, 1)
		if err != nil {
			loopErr = err
			continue
		}
		top5, err := TopKAccuracy(logits, batch.Labels, 5)
		if err != nil {
			loopErr = err
			continue
		}
		meter.add(loss, top1, top5)
	}
	if loopErr != nil {
		return 0, 0, 0, loopErr
	}
	if err := <-errs; err != nil {
		return 0, 0, 0, errors.Wrap(err, "loading validation batch")
	}
	if meter.batches() == 0 {
		return 0, 0, 0, errors.New("validation set produced no batches")
	}

	loss, top1, top5 := meter.averages()
	return loss, top1, top5, nil
}

// Evaluate runs a trained model over a dataset in inference mode and returns
// averaged loss, top-1 and top-5
func (rt *RoundTrainer) Evaluate(student model.Classifier, ds dataset.Dataset) (float64, float64, float64, error) {
	loader := dataset.NewDataLoader(ds, rt.cfg.BatchSize, false, rt.cfg.NumWorkers)
	return rt.validate(student, loader)
}

// saveCheckpoint persists the round's best state, overwriting the round file
func (rt *RoundTrainer) saveCheckpoint(ctx *roundContext, round, epoch int, path string) error {
	optState, err := ctx.optimizer.GetState()
	if err != nil {
		return errors.Wrap(err, "extracting optimizer state")
	}
	checkpoint := &checkpoints.Checkpoint{
		Epoch:          epoch,
		Weights:        checkpoints.ExtractWeights(ctx.student.Parameters()),
		OptimizerState: optState,
		SchedulerState: &checkpoints.SchedulerState{
			Name:  ctx.scheduler.GetName(),
			Epoch: epoch,
			Step:  int(ctx.optimizer.GetStepCount()),
		},
		Metadata: checkpoints.CheckpointMetadata{Round: round},
	}
	return checkpoints.Save(path, checkpoint)
}
