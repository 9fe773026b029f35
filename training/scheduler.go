package training

import (
	"fmt"
	"math"
	"sort"
)

// SchedulerPolicy selects a learning-rate schedule. Each policy has its own
// configuration payload in SchedulerConfig.
type SchedulerPolicy int

const (
	// PolicyStep decays the learning rate by a factor at fixed milestone epochs
	PolicyStep SchedulerPolicy = iota
	// PolicyCosine anneals the learning rate on a half-cosine after a warm-up
	// epoch count has elapsed
	PolicyCosine
	// PolicyOneCycle ramps up to a peak learning rate and anneals down over
	// the whole step budget
	PolicyOneCycle
	// PolicyConstant holds the base learning rate for the whole round
	PolicyConstant
)

func (p SchedulerPolicy) String() string {
	switch p {
	case PolicyStep:
		return "step"
	case PolicyCosine:
		return "cos"
	case PolicyOneCycle:
		return "cycle"
	case PolicyConstant:
		return "const"
	default:
		return fmt.Sprintf("unknown(%d)", int(p))
	}
}

// ParseSchedulerPolicy converts a configuration string into a policy
func ParseSchedulerPolicy(name string) (SchedulerPolicy, error) {
	switch name {
	case "step":
		return PolicyStep, nil
	case "cos":
		return PolicyCosine, nil
	case "cycle":
		return PolicyOneCycle, nil
	case "const":
		return PolicyConstant, nil
	default:
		return 0, fmt.Errorf("invalid scheduler policy: %s", name)
	}
}

// SchedulerConfig is a tagged variant: Policy selects which payload fields
// apply.
type SchedulerConfig struct {
	Policy SchedulerPolicy

	// PolicyStep
	Milestones []int   // Epochs at which the LR is multiplied by Gamma
	Gamma      float64 // Multiplicative factor of LR decay

	// PolicyCosine
	TMax       int     // Half-cycle length in epochs
	EtaMin     float64 // Minimum learning rate
	WarmEpochs int     // Epochs to hold the base LR before annealing starts

	// PolicyOneCycle
	MaxLR          float64 // Peak learning rate
	PctStart       float64 // Fraction of the step budget spent ramping up
	FinalDivFactor float64 // Final LR = MaxLR / FinalDivFactor
}

// LRScheduler defines the interface for learning rate scheduling strategies.
// All schedulers are stateless pure functions of the training position.
type LRScheduler interface {
	// GetLR returns the learning rate for the current epoch/step
	GetLR(epoch int, step int, baseLR float64) float64

	// GetName returns the scheduler name for logging and checkpoints
	GetName() string
}

// NewScheduler builds the scheduler selected by the config. epochs and
// stepsPerEpoch size the one-cycle step budget.
func NewScheduler(cfg SchedulerConfig, epochs, stepsPerEpoch int) (LRScheduler, error) {
	switch cfg.Policy {
	case PolicyStep:
		return NewMultiStepLRScheduler(cfg.Milestones, cfg.Gamma)
	case PolicyCosine:
		return NewCosineAnnealingLRScheduler(cfg.TMax, cfg.EtaMin, cfg.WarmEpochs)
	case PolicyOneCycle:
		s, err := NewOneCycleLRScheduler(cfg.MaxLR, epochs*stepsPerEpoch, cfg.PctStart, cfg.FinalDivFactor)
		if err != nil {
			return nil, err
		}
		s.SetStepsPerEpoch(stepsPerEpoch)
		return s, nil
	case PolicyConstant:
		return &NoOpScheduler{}, nil
	default:
		return nil, fmt.Errorf("invalid scheduler policy: %s", cfg.Policy)
	}
}

// MultiStepLRScheduler reduces the learning rate by gamma at each milestone
// epoch
type MultiStepLRScheduler struct {
	Milestones []int
	Gamma      float64
}

// NewMultiStepLRScheduler creates a milestone-based step scheduler
func NewMultiStepLRScheduler(milestones []int, gamma float64) (*MultiStepLRScheduler, error) {
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.1 // Default: reduce by 10x
	}
	sorted := make([]int, len(milestones))
	copy(sorted, milestones)
	sort.Ints(sorted)
	for _, m := range sorted {
		if m <= 0 {
			return nil, fmt.Errorf("milestones must be positive epochs: got %d", m)
		}
	}
	return &MultiStepLRScheduler{
		Milestones: sorted,
		Gamma:      gamma,
	}, nil
}

func (s *MultiStepLRScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	times := 0
	for _, m := range s.Milestones {
		if epoch >= m {
			times++
		}
	}
	return baseLR * math.Pow(s.Gamma, float64(times))
}

func (s *MultiStepLRScheduler) GetName() string {
	return "MultiStepLR"
}

// CosineAnnealingLRScheduler anneals the learning rate on a half-cosine from
// the base LR down to EtaMin. The schedule only starts advancing once
// WarmEpochs have elapsed; before that the base LR is held.
type CosineAnnealingLRScheduler struct {
	TMax       int
	EtaMin     float64
	WarmEpochs int
}

// NewCosineAnnealingLRScheduler creates a cosine annealing scheduler with a
// warm-up epoch gate
func NewCosineAnnealingLRScheduler(tMax int, etaMin float64, warmEpochs int) (*CosineAnnealingLRScheduler, error) {
	if tMax <= 0 {
		return nil, fmt.Errorf("tMax must be positive: got %d", tMax)
	}
	if etaMin < 0 {
		etaMin = 0
	}
	if warmEpochs < 0 {
		warmEpochs = 0
	}
	return &CosineAnnealingLRScheduler{
		TMax:       tMax,
		EtaMin:     etaMin,
		WarmEpochs: warmEpochs,
	}, nil
}

func (s *CosineAnnealingLRScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	if epoch <= s.WarmEpochs {
		return baseLR
	}
	annealed := epoch - s.WarmEpochs
	if annealed >= s.TMax {
		return s.EtaMin
	}
	return s.EtaMin + (baseLR-s.EtaMin)*(1+math.Cos(math.Pi*float64(annealed)/float64(s.TMax)))/2
}

func (s *CosineAnnealingLRScheduler) GetName() string {
	return "CosineAnnealingLR"
}

// OneCycleLRScheduler ramps linearly from the base LR up to MaxLR over the
// first PctStart fraction of the step budget, then cosine-anneals down to
// MaxLR/FinalDivFactor. It advances per batch step, not per epoch.
type OneCycleLRScheduler struct {
	MaxLR          float64
	TotalSteps     int
	PctStart       float64
	FinalDivFactor float64

	stepsPerEpoch int
}

// NewOneCycleLRScheduler creates a one-cycle scheduler over the given step
// budget
func NewOneCycleLRScheduler(maxLR float64, totalSteps int, pctStart, finalDivFactor float64) (*OneCycleLRScheduler, error) {
	if maxLR <= 0 {
		return nil, fmt.Errorf("maxLR must be positive: got %f", maxLR)
	}
	if totalSteps <= 0 {
		return nil, fmt.Errorf("totalSteps must be positive: got %d", totalSteps)
	}
	if pctStart <= 0 || pctStart >= 1 {
		pctStart = 0.3 // Default warm-up fraction
	}
	if finalDivFactor <= 0 {
		finalDivFactor = 1e4
	}
	return &OneCycleLRScheduler{
		MaxLR:          maxLR,
		TotalSteps:     totalSteps,
		PctStart:       pctStart,
		FinalDivFactor: finalDivFactor,
	}, nil
}

// SetStepsPerEpoch fixes how (epoch, step) pairs map onto the global step
// counter
func (s *OneCycleLRScheduler) SetStepsPerEpoch(steps int) {
	if steps > 0 {
		s.stepsPerEpoch = steps
	}
}

func (s *OneCycleLRScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	globalStep := step
	if s.stepsPerEpoch > 0 {
		globalStep = epoch*s.stepsPerEpoch + step
	}
	if globalStep >= s.TotalSteps {
		return s.MaxLR / s.FinalDivFactor
	}

	warmSteps := float64(s.TotalSteps) * s.PctStart
	if float64(globalStep) < warmSteps {
		frac := float64(globalStep) / warmSteps
		return baseLR + (s.MaxLR-baseLR)*frac
	}

	finalLR := s.MaxLR / s.FinalDivFactor
	frac := (float64(globalStep) - warmSteps) / (float64(s.TotalSteps) - warmSteps)
	return finalLR + (s.MaxLR-finalLR)*(1+math.Cos(math.Pi*frac))/2
}

func (s *OneCycleLRScheduler) GetName() string {
	return "OneCycleLR"
}

// NoOpScheduler maintains a constant learning rate
type NoOpScheduler struct{}

func (s *NoOpScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	return baseLR
}

func (s *NoOpScheduler) GetName() string {
	return "ConstantLR"
}
