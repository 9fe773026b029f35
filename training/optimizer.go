package training

import (
	"fmt"
	"math"

	"github.com/alswlsghd320/semisupervised-learnings/checkpoints"
	"github.com/alswlsghd320/semisupervised-learnings/model"
)

// Optimizer defines the common interface for all optimizers. State
// save/restore enables checkpoint round-tripping of the training position.
type Optimizer interface {
	// Step applies one update using the gradients accumulated on the
	// parameters
	Step() error

	// ZeroGrad clears all parameter gradients
	ZeroGrad()

	// SetLearningRate updates the learning rate (driven by the scheduler)
	SetLearningRate(lr float64)

	// LearningRate returns the current learning rate
	LearningRate() float64

	// GetState extracts optimizer state for checkpointing
	GetState() (*checkpoints.OptimizerState, error)

	// LoadState restores optimizer state from a checkpoint
	LoadState(state *checkpoints.OptimizerState) error

	// GetStepCount returns the current optimization step number
	GetStepCount() uint64
}

// OptimizerFactory builds an optimizer bound to a fresh parameter set. One is
// constructed per round alongside the round's student model.
type OptimizerFactory func(params []*model.Parameter) (Optimizer, error)

// validateStateType ensures the state type matches the optimizer
func validateStateType(optimizerType string, state *checkpoints.OptimizerState) error {
	if state.Type != optimizerType {
		return fmt.Errorf("state type mismatch: expected %s, got %s", optimizerType, state.Type)
	}
	return nil
}

// SGDConfig holds configuration for the SGD optimizer
type SGDConfig struct {
	LearningRate float64
	Momentum     float64
	WeightDecay  float64
	Nesterov     bool
}

// DefaultSGDConfig returns default SGD optimizer configuration
func DefaultSGDConfig() SGDConfig {
	return SGDConfig{
		LearningRate: 0.01,
		Momentum:     0.0,
		WeightDecay:  0.0,
		Nesterov:     false,
	}
}

// SGD implements stochastic gradient descent with optional momentum, L2
// weight decay and Nesterov acceleration
type SGD struct {
	params []*model.Parameter
	config SGDConfig

	momentumBuffers [][]float32 // One per parameter, lazily used when momentum > 0
	stepCount       uint64
}

// NewSGD creates an SGD optimizer over the given parameters
func NewSGD(params []*model.Parameter, config SGDConfig) (*SGD, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("no parameters to optimize")
	}
	if config.LearningRate <= 0 {
		return nil, fmt.Errorf("learning rate must be positive: got %f", config.LearningRate)
	}
	if config.Nesterov && config.Momentum == 0 {
		return nil, fmt.Errorf("nesterov momentum requires momentum > 0")
	}

	buffers := make([][]float32, len(params))
	for i, p := range params {
		buffers[i] = make([]float32, p.NumElems())
	}

	return &SGD{
		params:          params,
		config:          config,
		momentumBuffers: buffers,
	}, nil
}

// Step applies one SGD update
func (o *SGD) Step() error {
	lr := float32(o.config.LearningRate)
	momentum := float32(o.config.Momentum)
	decay := float32(o.config.WeightDecay)

	for i, p := range o.params {
		buf := o.momentumBuffers[i]
		for j := range p.Data {
			g := p.Grad[j]
			if decay != 0 {
				g += decay * p.Data[j]
			}
			if momentum != 0 {
				buf[j] = momentum*buf[j] + g
				if o.config.Nesterov {
					g += momentum * buf[j]
				} else {
					g = buf[j]
				}
			}
			p.Data[j] -= lr * g
		}
	}
	o.stepCount++
	return nil
}

// ZeroGrad clears all parameter gradients
func (o *SGD) ZeroGrad() {
	for _, p := range o.params {
		p.ZeroGrad()
	}
}

// SetLearningRate updates the learning rate
func (o *SGD) SetLearningRate(lr float64) {
	o.config.LearningRate = lr
}

// LearningRate returns the current learning rate
func (o *SGD) LearningRate() float64 {
	return o.config.LearningRate
}

// GetStepCount returns the current optimization step number
func (o *SGD) GetStepCount() uint64 {
	return o.stepCount
}

// GetState extracts SGD state for checkpointing
func (o *SGD) GetState() (*checkpoints.OptimizerState, error) {
	state := &checkpoints.OptimizerState{
		Type: "SGD",
		Parameters: map[string]interface{}{
			"learning_rate": o.config.LearningRate,
			"momentum":      o.config.Momentum,
			"weight_decay":  o.config.WeightDecay,
			"nesterov":      o.config.Nesterov,
			"step_count":    float64(o.stepCount),
		},
	}
	if o.config.Momentum != 0 {
		for i, buf := range o.momentumBuffers {
			data := make([]float32, len(buf))
			copy(data, buf)
			state.StateData = append(state.StateData, checkpoints.OptimizerTensor{
				Name:      fmt.Sprintf("momentum_%d", i),
				Shape:     o.params[i].Shape,
				Data:      data,
				StateType: "momentum",
			})
		}
	}
	return state, nil
}

// LoadState restores SGD state from a checkpoint
func (o *SGD) LoadState(state *checkpoints.OptimizerState) error {
	if err := validateStateType("SGD", state); err != nil {
		return err
	}
	if v, ok := state.Parameters["step_count"].(float64); ok {
		o.stepCount = uint64(v)
	}
	for _, tensor := range state.StateData {
		if tensor.StateType != "momentum" {
			continue
		}
		var idx int
		if n, err := fmt.Sscanf(tensor.Name, "momentum_%d", &idx); n != 1 || err != nil {
			return fmt.Errorf("malformed state tensor name: %s", tensor.Name)
		}
		if idx < 0 || idx >= len(o.momentumBuffers) {
			return fmt.Errorf("state tensor index out of range: %s", tensor.Name)
		}
		if len(tensor.Data) != len(o.momentumBuffers[idx]) {
			return fmt.Errorf("state tensor size mismatch for %s: %d vs %d",
				tensor.Name, len(tensor.Data), len(o.momentumBuffers[idx]))
		}
		copy(o.momentumBuffers[idx], tensor.Data)
	}
	return nil
}

// AdamWConfig holds configuration for the AdamW optimizer
type AdamWConfig struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	WeightDecay  float64
}

// DefaultAdamWConfig returns default AdamW optimizer configuration
func DefaultAdamWConfig() AdamWConfig {
	return AdamWConfig{
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  0.01,
	}
}

// AdamW implements Adam with decoupled weight decay
type AdamW struct {
	params []*model.Parameter
	config AdamWConfig

	m [][]float32 // First moment estimates
	v [][]float32 // Second moment estimates

	stepCount uint64
}

// NewAdamW creates an AdamW optimizer over the given parameters
func NewAdamW(params []*model.Parameter, config AdamWConfig) (*AdamW, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("no parameters to optimize")
	}
	if config.LearningRate <= 0 {
		return nil, fmt.Errorf("learning rate must be positive: got %f", config.LearningRate)
	}
	if config.Beta1 < 0 || config.Beta1 >= 1 || config.Beta2 < 0 || config.Beta2 >= 1 {
		return nil, fmt.Errorf("betas must be in [0, 1): got %f, %f", config.Beta1, config.Beta2)
	}
	if config.Epsilon <= 0 {
		config.Epsilon = 1e-8
	}

	m := make([][]float32, len(params))
	v := make([][]float32, len(params))
	for i, p := range params {
		m[i] = make([]float32, p.NumElems())
		v[i] = make([]float32, p.NumElems())
	}

	return &AdamW{
		params: params,
		config: config,
		m:      m,
		v:      v,
	}, nil
}

// Step applies one AdamW update
func (o *AdamW) Step() error {
	o.stepCount++
	t := float64(o.stepCount)
	beta1 := o.config.Beta1
	beta2 := o.config.Beta2
	biasCorr1 := 1 - math.Pow(beta1, t)
	biasCorr2 := 1 - math.Pow(beta2, t)
	lr := o.config.LearningRate
	decay := float32(o.config.WeightDecay * o.config.LearningRate)

	for i, p := range o.params {
		mBuf := o.m[i]
		vBuf := o.v[i]
		for j := range p.Data {
			g := float64(p.Grad[j])
			mBuf[j] = float32(beta1*float64(mBuf[j]) + (1-beta1)*g)
			vBuf[j] = float32(beta2*float64(vBuf[j]) + (1-beta2)*g*g)

			mHat := float64(mBuf[j]) / biasCorr1
			vHat := float64(vBuf[j]) / biasCorr2

			// Decoupled weight decay: applied directly to the weights,
			// not folded into the gradient
			p.Data[j] -= decay * p.Data[j]
			p.Data[j] -= float32(lr * mHat / (math.Sqrt(vHat) + o.config.Epsilon))
		}
	}
	return nil
}

// ZeroGrad clears all parameter gradients
func (o *AdamW) ZeroGrad() {
	for _, p := range o.params {
		p.ZeroGrad()
	}
}

// SetLearningRate updates the learning rate
func (o *AdamW) SetLearningRate(lr float64) {
	o.config.LearningRate = lr
}

// LearningRate returns the current learning rate
func (o *AdamW) LearningRate() float64 {
	return o.config.LearningRate
}

// GetStepCount returns the current optimization step number
func (o *AdamW) GetStepCount() uint64 {
	return o.stepCount
}

// GetState extracts AdamW state for checkpointing
func (o *AdamW) GetState() (*checkpoints.OptimizerState, error) {
	state := &checkpoints.OptimizerState{
		Type: "AdamW",
		Parameters: map[string]interface{}{
			"learning_rate": o.config.LearningRate,
			"beta1":         o.config.Beta1,
			"beta2":         o.config.Beta2,
			"epsilon":       o.config.Epsilon,
			"weight_decay":  o.config.WeightDecay,
			"step_count":    float64(o.stepCount),
		},
	}
	for i := range o.params {
		mData := make([]float32, len(o.m[i]))
		copy(mData, o.m[i])
		vData := make([]float32, len(o.v[i]))
		copy(vData, o.v[i])
		state.StateData = append(state.StateData,
			checkpoints.OptimizerTensor{
				Name:      fmt.Sprintf("m_%d", i),
				Shape:     o.params[i].Shape,
				Data:      mData,
				StateType: "m",
			},
			checkpoints.OptimizerTensor{
				Name:      fmt.Sprintf("v_%d", i),
				Shape:     o.params[i].Shape,
				Data:      vData,
				StateType: "v",
			})
	}
	return state, nil
}

// LoadState restores AdamW state from a checkpoint
func (o *AdamW) LoadState(state *checkpoints.OptimizerState) error {
	if err := validateStateType("AdamW", state); err != nil {
		return err
	}
	if v, ok := state.Parameters["step_count"].(float64); ok {
		o.stepCount = uint64(v)
	}
	for _, tensor := range state.StateData {
		var buffers [][]float32
		var idx int
		var n int
		var err error
		switch tensor.StateType {
		case "m":
			buffers = o.m
			n, err = fmt.Sscanf(tensor.Name, "m_%d", &idx)
		case "v":
			buffers = o.v
			n, err = fmt.Sscanf(tensor.Name, "v_%d", &idx)
		default:
			continue
		}
		if n != 1 || err != nil {
			return fmt.Errorf("malformed state tensor name: %s", tensor.Name)
		}
		if idx < 0 || idx >= len(buffers) {
			return fmt.Errorf("state tensor index out of range: %s", tensor.Name)
		}
		if len(tensor.Data) != len(buffers[idx]) {
			return fmt.Errorf("state tensor size mismatch for %s: %d vs %d",
				tensor.Name, len(tensor.Data), len(buffers[idx]))
		}
		copy(buffers[idx], tensor.Data)
	}
	return nil
}
