package config

import (
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/alswlsghd320/semisupervised-learnings/model"
	"github.com/alswlsghd320/semisupervised-learnings/training"
)

// Config is the full configuration surface of a self-training run
type Config struct {
	Seed       int64  `mapstructure:"seed"`
	Device     string `mapstructure:"device"`
	BatchSize  int    `mapstructure:"batch_size"`
	NumWorkers int    `mapstructure:"num_workers"`

	Rounds       int     `mapstructure:"rounds"`
	Threshold    float64 `mapstructure:"threshold"`
	LabeledLimit int     `mapstructure:"labeled_limit"` // 0 means the full labeled set

	Epochs         int     `mapstructure:"epochs"`
	Patience       int     `mapstructure:"patience"`
	LR             float64 `mapstructure:"lr"`
	WeightDecay    float64 `mapstructure:"weight_decay"`
	LabelSmoothing float64 `mapstructure:"label_smoothing"`
	Optimizer      string  `mapstructure:"optimizer"` // "sgd" or "adamw"
	Momentum       float64 `mapstructure:"momentum"`

	Scheduler      string  `mapstructure:"scheduler"` // "step", "cos", "cycle" or "const"
	Milestones     []int   `mapstructure:"milestones"`
	LRFactor       float64 `mapstructure:"lr_factor"`
	TMax           int     `mapstructure:"tmax"`
	MinLR          float64 `mapstructure:"min_lr"`
	WarmEpochs     int     `mapstructure:"warm_epochs"`
	MaxLR          float64 `mapstructure:"max_lr"`
	PctStart       float64 `mapstructure:"pct_start"`
	FinalDivFactor float64 `mapstructure:"final_div_factor"`

	SavePath string `mapstructure:"save_path"`

	Tracking     bool   `mapstructure:"tracking"`
	TrackingAddr string `mapstructure:"tracking_addr"`
}

// Default returns the baseline configuration
func Default() *Config {
	return &Config{
		Seed:           42,
		Device:         "cpu",
		BatchSize:      128,
		NumWorkers:     4,
		Rounds:         3,
		Threshold:      0.9,
		LabeledLimit:   0,
		Epochs:         100,
		Patience:       10,
		LR:             1e-3,
		WeightDecay:    0.01,
		LabelSmoothing: 0.1,
		Optimizer:      "adamw",
		Momentum:       0.9,
		Scheduler:      "cos",
		Milestones:     []int{30, 60, 90},
		LRFactor:       0.1,
		TMax:           50,
		MinLR:          1e-6,
		WarmEpochs:     5,
		MaxLR:          1e-2,
		PctStart:       0.3,
		FinalDivFactor: 1e4,
		SavePath:       "results",
		Tracking:       false,
		TrackingAddr:   ":8080",
	}
}

// Load reads configuration from the given file (any viper-supported format)
// over the defaults, with SELFTRAIN_* environment overrides
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SELFTRAIN")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "reading config file %s", path)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshaling config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("seed", d.Seed)
	v.SetDefault("device", d.Device)
	v.SetDefault("batch_size", d.BatchSize)
	v.SetDefault("num_workers", d.NumWorkers)
	v.SetDefault("rounds", d.Rounds)
	v.SetDefault("threshold", d.Threshold)
	v.SetDefault("labeled_limit", d.LabeledLimit)
	v.SetDefault("epochs", d.Epochs)
	v.SetDefault("patience", d.Patience)
	v.SetDefault("lr", d.LR)
	v.SetDefault("weight_decay", d.WeightDecay)
	v.SetDefault("label_smoothing", d.LabelSmoothing)
	v.SetDefault("optimizer", d.Optimizer)
	v.SetDefault("momentum", d.Momentum)
	v.SetDefault("scheduler", d.Scheduler)
	v.SetDefault("milestones", d.Milestones)
	v.SetDefault("lr_factor", d.LRFactor)
	v.SetDefault("tmax", d.TMax)
	v.SetDefault("min_lr", d.MinLR)
	v.SetDefault("warm_epochs", d.WarmEpochs)
	v.SetDefault("max_lr", d.MaxLR)
	v.SetDefault("pct_start", d.PctStart)
	v.SetDefault("final_div_factor", d.FinalDivFactor)
	v.SetDefault("save_path", d.SavePath)
	v.SetDefault("tracking", d.Tracking)
	v.SetDefault("tracking_addr", d.TrackingAddr)
}

// Validate checks field ranges
func (c *Config) Validate() error {
	if c.Rounds <= 0 {
		return errors.Errorf("rounds must be positive: got %d", c.Rounds)
	}
	if c.Threshold < 0 || c.Threshold > 1 {
		return errors.Errorf("threshold must be in [0, 1]: got %f", c.Threshold)
	}
	if c.LabeledLimit < 0 {
		return errors.Errorf("labeled_limit cannot be negative: got %d", c.LabeledLimit)
	}
	if c.Epochs <= 0 {
		return errors.Errorf("epochs must be positive: got %d", c.Epochs)
	}
	if c.Patience <= 0 {
		return errors.Errorf("patience must be positive: got %d", c.Patience)
	}
	if c.BatchSize <= 0 {
		return errors.Errorf("batch_size must be positive: got %d", c.BatchSize)
	}
	if c.LR <= 0 {
		return errors.Errorf("lr must be positive: got %f", c.LR)
	}
	if c.LabelSmoothing < 0 || c.LabelSmoothing >= 1 {
		return errors.Errorf("label_smoothing must be in [0, 1): got %f", c.LabelSmoothing)
	}
	if c.Optimizer != "sgd" && c.Optimizer != "adamw" {
		return errors.Errorf("invalid optimizer: %s", c.Optimizer)
	}
	if c.PctStart <= 0 || c.PctStart >= 1 {
		return errors.Errorf("pct_start must be in (0, 1): got %f", c.PctStart)
	}
	if c.FinalDivFactor <= 0 {
		return errors.Errorf("final_div_factor must be positive: got %f", c.FinalDivFactor)
	}
	if _, err := training.ParseSchedulerPolicy(c.Scheduler); err != nil {
		return err
	}
	if c.SavePath == "" {
		return errors.New("save_path is required")
	}
	return nil
}

// SchedulerConfig maps the flat configuration fields onto the tagged
// scheduler variant
func (c *Config) SchedulerConfig() (training.SchedulerConfig, error) {
	policy, err := training.ParseSchedulerPolicy(c.Scheduler)
	if err != nil {
		return training.SchedulerConfig{}, err
	}
	return training.SchedulerConfig{
		Policy:         policy,
		Milestones:     c.Milestones,
		Gamma:          c.LRFactor,
		TMax:           c.TMax,
		EtaMin:         c.MinLR,
		WarmEpochs:     c.WarmEpochs,
		MaxLR:          c.MaxLR,
		PctStart:       c.PctStart,
		FinalDivFactor: c.FinalDivFactor,
	}, nil
}

// RoundConfig builds the per-round trainer configuration
func (c *Config) RoundConfig() (training.RoundConfig, error) {
	scheduler, err := c.SchedulerConfig()
	if err != nil {
		return training.RoundConfig{}, err
	}
	return training.RoundConfig{
		Epochs:         c.Epochs,
		Patience:       c.Patience,
		BatchSize:      c.BatchSize,
		NumWorkers:     c.NumWorkers,
		BaseLR:         c.LR,
		LabelSmoothing: c.LabelSmoothing,
		Scheduler:      scheduler,
		SavePath:       c.SavePath,
	}, nil
}

// OptimizerFactory builds the optimizer factory selected by the config
func (c *Config) OptimizerFactory() (training.OptimizerFactory, error) {
	switch c.Optimizer {
	case "sgd":
		sgdCfg := training.SGDConfig{
			LearningRate: c.LR,
			Momentum:     c.Momentum,
			WeightDecay:  c.WeightDecay,
		}
		return func(params []*model.Parameter) (training.Optimizer, error) {
			return training.NewSGD(params, sgdCfg)
		}, nil
	case "adamw":
		adamCfg := training.DefaultAdamWConfig()
		adamCfg.LearningRate = c.LR
		adamCfg.WeightDecay = c.WeightDecay
		return func(params []*model.Parameter) (training.Optimizer, error) {
			return training.NewAdamW(params, adamCfg)
		}, nil
	default:
		return nil, errors.Errorf("invalid optimizer: %s", c.Optimizer)
	}
}
