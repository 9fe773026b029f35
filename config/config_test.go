package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alswlsghd320/semisupervised-learnings/model"
	"github.com/alswlsghd320/semisupervised-learnings/training"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte("rounds: 5\nthreshold: 0.95\noptimizer: sgd\nscheduler: step\nlabeled_limit: 100\n")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Rounds)
	assert.Equal(t, 0.95, cfg.Threshold)
	assert.Equal(t, "sgd", cfg.Optimizer)
	assert.Equal(t, "step", cfg.Scheduler)
	assert.Equal(t, 100, cfg.LabeledLimit)
	// Untouched fields keep their defaults
	assert.Equal(t, Default().Epochs, cfg.Epochs)
	assert.Equal(t, Default().SavePath, cfg.SavePath)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("threshold: 1.5\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *Config)
	}{
		{"zero rounds", func(cfg *Config) { cfg.Rounds = 0 }},
		{"threshold above one", func(cfg *Config) { cfg.Threshold = 1.5 }},
		{"negative threshold", func(cfg *Config) { cfg.Threshold = -0.1 }},
		{"zero epochs", func(cfg *Config) { cfg.Epochs = 0 }},
		{"zero patience", func(cfg *Config) { cfg.Patience = 0 }},
		{"zero batch size", func(cfg *Config) { cfg.BatchSize = 0 }},
		{"zero learning rate", func(cfg *Config) { cfg.LR = 0 }},
		{"smoothing of one", func(cfg *Config) { cfg.LabelSmoothing = 1 }},
		{"unknown optimizer", func(cfg *Config) { cfg.Optimizer = "rmsprop" }},
		{"unknown scheduler", func(cfg *Config) { cfg.Scheduler = "plateau" }},
		{"empty save path", func(cfg *Config) { cfg.SavePath = "" }},
		{"negative labeled limit", func(cfg *Config) { cfg.LabeledLimit = -1 }},
		{"pct_start of one", func(cfg *Config) { cfg.PctStart = 1 }},
		{"zero final_div_factor", func(cfg *Config) { cfg.FinalDivFactor = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSchedulerConfigMapping(t *testing.T) {
	cfg := Default()
	cfg.Scheduler = "step"
	cfg.Milestones = []int{10, 20}
	cfg.LRFactor = 0.5

	sched, err := cfg.SchedulerConfig()
	require.NoError(t, err)
	assert.Equal(t, training.PolicyStep, sched.Policy)
	assert.Equal(t, []int{10, 20}, sched.Milestones)
	assert.Equal(t, 0.5, sched.Gamma)

	cfg.Scheduler = "cos"
	cfg.TMax = 40
	cfg.WarmEpochs = 3
	sched, err = cfg.SchedulerConfig()
	require.NoError(t, err)
	assert.Equal(t, training.PolicyCosine, sched.Policy)
	assert.Equal(t, 40, sched.TMax)
	assert.Equal(t, 3, sched.WarmEpochs)

	cfg.Scheduler = "cycle"
	cfg.MaxLR = 0.2
	cfg.PctStart = 0.25
	cfg.FinalDivFactor = 50
	sched, err = cfg.SchedulerConfig()
	require.NoError(t, err)
	assert.Equal(t, training.PolicyOneCycle, sched.Policy)
	assert.Equal(t, 0.2, sched.MaxLR)
	assert.Equal(t, 0.25, sched.PctStart)
	assert.Equal(t, 50.0, sched.FinalDivFactor)

	cfg.Scheduler = "const"
	sched, err = cfg.SchedulerConfig()
	require.NoError(t, err)
	assert.Equal(t, training.PolicyConstant, sched.Policy)
}

func TestRoundConfigMapping(t *testing.T) {
	cfg := Default()
	cfg.Epochs = 30
	cfg.Patience = 4
	cfg.LR = 0.05

	round, err := cfg.RoundConfig()
	require.NoError(t, err)
	assert.Equal(t, 30, round.Epochs)
	assert.Equal(t, 4, round.Patience)
	assert.Equal(t, cfg.BatchSize, round.BatchSize)
	assert.Equal(t, 0.05, round.BaseLR)
	assert.Equal(t, cfg.LabelSmoothing, round.LabelSmoothing)
	assert.Equal(t, cfg.SavePath, round.SavePath)
}

func TestOptimizerFactory(t *testing.T) {
	params := []*model.Parameter{model.NewParameter("w", []int{2})}

	cfg := Default()
	cfg.Optimizer = "sgd"
	factory, err := cfg.OptimizerFactory()
	require.NoError(t, err)
	opt, err := factory(params)
	require.NoError(t, err)
	assert.IsType(t, &training.SGD{}, opt)
	assert.Equal(t, cfg.LR, opt.LearningRate())

	cfg.Optimizer = "adamw"
	factory, err = cfg.OptimizerFactory()
	require.NoError(t, err)
	opt, err = factory(params)
	require.NoError(t, err)
	assert.IsType(t, &training.AdamW{}, opt)

	cfg.Optimizer = "rmsprop"
	_, err = cfg.OptimizerFactory()
	assert.Error(t, err)
}
