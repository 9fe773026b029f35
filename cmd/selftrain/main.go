package main

import (
	"fmt"
	"math/rand"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/alswlsghd320/semisupervised-learnings/config"
	"github.com/alswlsghd320/semisupervised-learnings/dataset"
	"github.com/alswlsghd320/semisupervised-learnings/model"
	"github.com/alswlsghd320/semisupervised-learnings/selftrain"
	"github.com/alswlsghd320/semisupervised-learnings/training"
	"github.com/alswlsghd320/semisupervised-learnings/tracking"
)

// Synthetic demo problem: Gaussian clusters in featureDim dimensions, one per
// class. Real deployments swap in their own dataset provider and classifier.
const (
	featureDim   = 16
	numClasses   = 10
	labeledSize  = 500
	poolSize     = 2000
	valSize      = 200
	testSize     = 200
	clusterNoise = 0.6
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "selftrain",
		Short: "Iterative noisy-student self-training on a synthetic classification task",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "selftrain",
		Level: hclog.Info,
	})

	model.SetRandomSeed(cfg.Seed)
	dataset.SetRandomSeed(cfg.Seed)
	parts := buildSyntheticPartitions(rand.New(rand.NewSource(cfg.Seed)))

	if cfg.LabeledLimit > 0 {
		limited, err := dataset.NewSubsetDataset(parts.Train, cfg.LabeledLimit)
		if err != nil {
			return err
		}
		logger.Info("limiting labeled training set",
			"available", parts.Train.Len(), "limit", cfg.LabeledLimit)
		parts.Train = limited
	}

	newModel := func() (model.Classifier, error) {
		return model.NewLinear(featureDim, numClasses)
	}
	newOptimizer, err := cfg.OptimizerFactory()
	if err != nil {
		return err
	}
	roundCfg, err := cfg.RoundConfig()
	if err != nil {
		return err
	}

	var sink tracking.Sink = tracking.NewLogSink(logger)
	var history *tracking.HistorySink
	if cfg.Tracking {
		history = tracking.NewHistorySink()
		sink = tracking.Multi(sink, history)
	}

	trainer, err := training.NewRoundTrainer(newModel, newOptimizer, roundCfg, logger, sink)
	if err != nil {
		return err
	}
	labeler, err := selftrain.NewPseudoLabeler(cfg.Threshold, cfg.BatchSize, logger)
	if err != nil {
		return err
	}
	orch, err := selftrain.NewOrchestrator(cfg.Rounds, cfg.SavePath, parts, trainer, labeler,
		newModel, nil, logger, sink)
	if err != nil {
		return err
	}

	if cfg.Tracking {
		server := tracking.NewServer(logger, cfg.TrackingAddr, history, orch.Status)
		server.Start()
		defer func() {
			if err := server.Shutdown(); err != nil {
				logger.Error("shutting down monitoring server", "error", err)
			}
		}()
	}

	return execute(orch, logger)
}

func execute(orch *selftrain.Orchestrator, logger hclog.Logger) error {
	results, err := orch.Run()
	if err != nil {
		return err
	}
	for _, r := range results {
		logger.Info("round summary", "round", r.Round, "best_epoch", r.BestEpoch,
			"best_top1", r.BestTop1, "epochs_run", r.EpochsRun, "elapsed", r.Elapsed)
	}

	loss, top1, top5, err := orch.EvaluateTest()
	if err != nil {
		return err
	}
	logger.Info("test evaluation", "loss", loss, "top1", top1, "top5", top5)
	return nil
}

// buildSyntheticPartitions samples Gaussian clusters around one center per
// class and splits them into the four partitions
func buildSyntheticPartitions(rng *rand.Rand) selftrain.Partitions {
	centers := make([][]float32, numClasses)
	for c := range centers {
		center := make([]float32, featureDim)
		for d := range center {
			center[d] = float32(rng.NormFloat64()) * 2
		}
		centers[c] = center
	}

	sample := func(n int) ([][]float32, []int) {
		inputs := make([][]float32, n)
		labels := make([]int, n)
		for i := 0; i < n; i++ {
			class := rng.Intn(numClasses)
			input := make([]float32, featureDim)
			for d := range input {
				input[d] = centers[class][d] + float32(rng.NormFloat64())*clusterNoise
			}
			inputs[i] = input
			labels[i] = class
		}
		return inputs, labels
	}

	trainInputs, trainLabels := sample(labeledSize)
	poolInputs, _ := sample(poolSize)
	valInputs, valLabels := sample(valSize)
	testInputs, testLabels := sample(testSize)

	trainSet, _ := dataset.NewInMemoryDataset(trainInputs, trainLabels, nil)
	valSet, _ := dataset.NewInMemoryDataset(valInputs, valLabels, nil)
	testSet, _ := dataset.NewInMemoryDataset(testInputs, testLabels, nil)

	return selftrain.Partitions{
		Train: trainSet,
		Pool:  dataset.NewInMemoryPool(poolInputs),
		Val:   valSet,
		Test:  testSet,
	}
}
