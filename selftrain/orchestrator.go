package selftrain

import (
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"

	"github.com/alswlsghd320/semisupervised-learnings/checkpoints"
	"github.com/alswlsghd320/semisupervised-learnings/dataset"
	"github.com/alswlsghd320/semisupervised-learnings/model"
	"github.com/alswlsghd320/semisupervised-learnings/training"
	"github.com/alswlsghd320/semisupervised-learnings/tracking"
)

// RoundTrainer runs one supervised round to its best checkpoint. Satisfied by
// *training.RoundTrainer.
type RoundTrainer interface {
	TrainRound(round int, trainSet, valSet dataset.Dataset) (*training.RoundResult, error)
	Evaluate(student model.Classifier, ds dataset.Dataset) (float64, float64, float64, error)
}

// Partitions are the initial dataset splits the orchestrator runs over
type Partitions struct {
	Train dataset.Dataset
	Pool  dataset.UnlabeledPool
	Val   dataset.Dataset
	Test  dataset.Dataset
}

// Orchestrator owns the round counter and the growing training set across
// self-training rounds. Each round it trains a fresh student, promotes its
// best checkpoint to teacher, pseudo-labels the unlabeled pool, and expands
// the training set with the accepted labels. Rounds run strictly
// sequentially.
type Orchestrator struct {
	rounds    int
	savePath  string
	transform dataset.Transform

	trainer  RoundTrainer
	labeler  *PseudoLabeler
	newModel model.Factory

	logger hclog.Logger
	sink   tracking.Sink
	runID  string

	mutex    sync.RWMutex
	round    int
	snapshot dataset.Dataset // Current union of labeled + accepted pseudo-labeled sets
	parts    Partitions

	results []*training.RoundResult
}

// NewOrchestrator creates a self-training orchestrator for the given round
// count. transform is applied to pseudo-labeled examples on the way out of
// the expanded set (the original labeled partitions carry their own).
func NewOrchestrator(rounds int, savePath string, parts Partitions, trainer RoundTrainer,
	labeler *PseudoLabeler, newModel model.Factory, transform dataset.Transform,
	logger hclog.Logger, sink tracking.Sink) (*Orchestrator, error) {
	if rounds <= 0 {
		return nil, errors.Errorf("round count must be positive: got %d", rounds)
	}
	if savePath == "" {
		return nil, errors.New("checkpoint save path is required")
	}
	if parts.Train == nil || parts.Pool == nil || parts.Val == nil {
		return nil, errors.New("train, pool and val partitions are required")
	}
	if trainer == nil || labeler == nil || newModel == nil {
		return nil, errors.New("trainer, labeler and model factory are required")
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if sink == nil {
		sink = tracking.NopSink{}
	}

	return &Orchestrator{
		rounds:    rounds,
		savePath:  savePath,
		transform: transform,
		trainer:   trainer,
		labeler:   labeler,
		newModel:  newModel,
		logger:    logger.Named("orchestrator"),
		sink:      sink,
		runID:     uuid.New().String(),
		snapshot:  parts.Train,
		parts:     parts,
	}, nil
}

// RunID returns the unique identifier of this run
func (o *Orchestrator) RunID() string {
	return o.runID
}

// Round returns the current round index
func (o *Orchestrator) Round() int {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	return o.round
}

// SnapshotSize returns the example count of the current training set
func (o *Orchestrator) SnapshotSize() int {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	return o.snapshot.Len()
}

// TotalRounds returns the configured round count, excluding the final pass
func (o *Orchestrator) TotalRounds() int {
	return o.rounds
}

// Status reports the run position for the monitoring endpoint
func (o *Orchestrator) Status() tracking.Status {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	return tracking.Status{
		RunID:        o.runID,
		Round:        o.round,
		TotalRounds:  o.rounds,
		SnapshotSize: o.snapshot.Len(),
	}
}

// Run executes the full self-training loop: R rounds of train → promote
// teacher → pseudo-label → expand, then one final training pass on the fully
// expanded set with no further pseudo-labeling. Any failure aborts the whole
// run; there is no per-round skip or resume.
func (o *Orchestrator) Run() ([]*training.RoundResult, error) {
	o.logger.Info("starting self-training run", "run_id", o.runID,
		"rounds", o.rounds, "labeled", o.snapshot.Len(), "unlabeled", o.parts.Pool.Len())

	for r := 0; r < o.rounds; r++ {
		o.setRound(r)

		result, err := o.trainer.TrainRound(r, o.currentSnapshot(), o.parts.Val)
		if err != nil {
			return o.results, errors.Wrapf(err, "round %d training failed", r)
		}
		o.results = append(o.results, result)

		teacher, err := o.promoteTeacher(r)
		if err != nil {
			return o.results, errors.Wrapf(err, "round %d teacher promotion failed", r)
		}

		accepted, err := o.labeler.Label(teacher, o.parts.Pool)
		if err != nil {
			return o.results, errors.Wrapf(err, "round %d pseudo-labeling failed", r)
		}
		o.sink.Record(r, tracking.SplitTrain, "pseudo_labels_accepted", 0, float64(len(accepted)))

		if len(accepted) == 0 {
			// Not an error: the next round trains on an unchanged set
			o.logger.Warn("no pseudo-labels cleared the confidence threshold",
				"round", r, "pool_size", o.parts.Pool.Len())
			continue
		}

		pseudo, err := Materialize(o.parts.Pool, accepted, o.transform)
		if err != nil {
			return o.results, errors.Wrapf(err, "round %d pseudo dataset construction failed", r)
		}
		o.expandSnapshot(pseudo)
		o.logger.Info("training set expanded", "round", r,
			"accepted", len(accepted), "snapshot_size", o.SnapshotSize())
	}

	// Final training pass on the fully expanded set; no pseudo-labeling follows
	o.setRound(o.rounds)
	result, err := o.trainer.TrainRound(o.rounds, o.currentSnapshot(), o.parts.Val)
	if err != nil {
		return o.results, errors.Wrapf(err, "final round %d training failed", o.rounds)
	}
	o.results = append(o.results, result)

	o.logger.Info("self-training run complete", "run_id", o.runID,
		"rounds_trained", len(o.results), "final_snapshot_size", o.SnapshotSize(),
		"final_best_top1", result.BestTop1)
	return o.results, nil
}

// EvaluateTest loads the final round's best checkpoint and evaluates it on
// the test partition
func (o *Orchestrator) EvaluateTest() (loss, top1, top5 float64, err error) {
	if o.parts.Test == nil {
		return 0, 0, 0, errors.New("no test partition configured")
	}
	student, err := o.promoteTeacher(o.rounds)
	if err != nil {
		return 0, 0, 0, errors.Wrap(err, "loading final checkpoint")
	}
	return o.trainer.Evaluate(student, o.parts.Test)
}

// promoteTeacher reconstructs a model from the round's best checkpoint. The
// handoff deliberately goes through the serialized file rather than an
// in-memory copy so a teacher is always reconstructable after the fact.
func (o *Orchestrator) promoteTeacher(round int) (model.Classifier, error) {
	path := checkpoints.PathForRound(o.savePath, round)
	checkpoint, err := checkpoints.Load(path)
	if err != nil {
		return nil, err
	}

	teacher, err := o.newModel()
	if err != nil {
		return nil, errors.Wrap(err, "constructing teacher model")
	}
	if err := checkpoints.LoadWeights(checkpoint.Weights, teacher.Parameters()); err != nil {
		return nil, errors.Wrapf(err, "restoring teacher weights from %s", path)
	}

	o.logger.Info("teacher promoted", "round", round,
		"checkpoint", path, "best_epoch", checkpoint.Epoch)
	return teacher, nil
}

func (o *Orchestrator) setRound(r int) {
	o.mutex.Lock()
	o.round = r
	o.mutex.Unlock()
}

func (o *Orchestrator) currentSnapshot() dataset.Dataset {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	return o.snapshot
}

// expandSnapshot replaces the snapshot with its union with the new
// pseudo-labeled partition. The snapshot only ever grows: previously accepted
// pseudo-labels are never re-filtered by later teachers.
func (o *Orchestrator) expandSnapshot(pseudo dataset.Dataset) {
	o.mutex.Lock()
	o.snapshot = dataset.Concat(o.snapshot, pseudo)
	o.mutex.Unlock()
}
