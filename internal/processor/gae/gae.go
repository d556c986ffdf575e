// Package gae implements a trajectory processor that computes
// generalized advantage estimates, optionally scaling rewards by the running
// standard deviation of discounted returns.
package gae

import (
	"github.com/m-mizutani/goerr/v2"

	"ppo-experience-buffer/internal/processor"
	"ppo-experience-buffer/internal/rollout"
	"ppo-experience-buffer/internal/tensor"
)

const (
	DefaultGamma                       = 0.99
	DefaultLambda                      = 0.95
	DefaultMaxReturnsPerStatsIncrement = 150
)

// Summary is reported once per Process call.
type Summary struct {
	AverageUndiscountedEpisodicReturn float64 `json:"average_undiscounted_episodic_return"`
	Trajectories                      int     `json:"trajectories"`
	Steps                             int     `json:"steps"`
}

type Processor[ID, Obs, Act any] struct {
	gamma                       float64
	lambda                      float64
	standardizeReturns          bool
	maxReturnsPerStatsIncrement int

	returnStats runningStat
	dtype       tensor.DType
	device      tensor.Device
}

var _ processor.Processor[string, []float64, int, Summary] = (*Processor[string, []float64, int])(nil)

// New builds a processor from args: gamma, lambda, standardize_returns and
// max_returns_per_stats_increment. Missing keys take the package defaults.
func New[ID, Obs, Act any](args map[string]any) (*Processor[ID, Obs, Act], error) {
	gamma, err := processor.Float(args, "gamma", DefaultGamma)
	if err != nil {
		return nil, err
	}
	lambda, err := processor.Float(args, "lambda", DefaultLambda)
	if err != nil {
		return nil, err
	}
	standardize, err := processor.Bool(args, "standardize_returns", true)
	if err != nil {
		return nil, err
	}
	maxReturns, err := processor.Int(args, "max_returns_per_stats_increment", DefaultMaxReturnsPerStatsIncrement)
	if err != nil {
		return nil, err
	}

	if gamma < 0 || gamma > 1 {
		return nil, goerr.Wrap(processor.ErrInvalidArgs, "gamma must be in [0, 1]", goerr.V("gamma", gamma))
	}
	if lambda < 0 || lambda > 1 {
		return nil, goerr.Wrap(processor.ErrInvalidArgs, "lambda must be in [0, 1]", goerr.V("lambda", lambda))
	}
	if maxReturns < 0 {
		return nil, goerr.Wrap(processor.ErrInvalidArgs, "max_returns_per_stats_increment must be >= 0", goerr.V("value", maxReturns))
	}

	return &Processor[ID, Obs, Act]{
		gamma:                       gamma,
		lambda:                      lambda,
		standardizeReturns:          standardize,
		maxReturnsPerStatsIncrement: maxReturns,
		dtype:                       tensor.Float32,
		device:                      tensor.CPU,
	}, nil
}

// NewFactory adapts New to processor.Factory.
func NewFactory[ID, Obs, Act any]() processor.Factory[ID, Obs, Act, Summary] {
	return func(args map[string]any) (processor.Processor[ID, Obs, Act, Summary], error) {
		p, err := New[ID, Obs, Act](args)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

func (p *Processor[ID, Obs, Act]) Configure(dtype tensor.DType, device tensor.Device) error {
	if device == nil {
		return goerr.Wrap(processor.ErrInvalidArgs, "device is nil")
	}
	p.dtype = dtype
	p.device = device
	return nil
}

func (p *Processor[ID, Obs, Act]) Process(trajectories []rollout.Trajectory[ID, Obs, Act]) (rollout.Samples[ID, Obs, Act], Summary, error) {
	total := 0
	for _, tr := range trajectories {
		total += tr.Len()
	}

	ids := make([]ID, 0, total)
	observations := make([]Obs, 0, total)
	actions := make([]Act, 0, total)
	logProbs := make([]float64, 0, total)
	values := make([]float64, 0, total)
	advantages := make([]float64, 0, total)

	rewardScale := 1.0
	if p.standardizeReturns {
		rewardScale = p.returnStats.std()
	}

	var (
		summary    Summary
		returnSum  float64
		newReturns []float64
	)
	for _, tr := range trajectories {
		n := tr.Len()
		if n == 0 {
			continue
		}

		adv := make([]float64, n)
		returns := make([]float64, n)
		next := tr.Bootstrap()
		var lastGAE, ret float64
		for t := n - 1; t >= 0; t-- {
			step := tr.Steps[t]
			delta := step.Reward/rewardScale + p.gamma*next - step.Value
			lastGAE = delta + p.gamma*p.lambda*lastGAE
			adv[t] = lastGAE
			next = step.Value

			ret = step.Reward + p.gamma*ret
			returns[t] = ret
		}

		for t, step := range tr.Steps {
			ids = append(ids, step.AgentID)
			observations = append(observations, step.Obs)
			actions = append(actions, step.Action)
			logProbs = append(logProbs, step.LogProb)
			values = append(values, step.Value)
			advantages = append(advantages, adv[t])
		}

		newReturns = append(newReturns, returns...)
		returnSum += tr.EpisodeReward()
		summary.Trajectories++
		summary.Steps += n
	}

	if summary.Trajectories > 0 {
		summary.AverageUndiscountedEpisodicReturn = returnSum / float64(summary.Trajectories)
	}
	if p.standardizeReturns {
		for i, r := range newReturns {
			if i >= p.maxReturnsPerStatsIncrement {
				break
			}
			p.returnStats.update(r)
		}
	}

	samples := rollout.Samples[ID, Obs, Act]{
		AgentIDs:     ids,
		Observations: observations,
		Actions:      actions,
		LogProbs:     tensor.New(p.dtype, p.device, logProbs),
		Values:       tensor.New(p.dtype, p.device, values),
		Advantages:   tensor.New(p.dtype, p.device, advantages),
	}
	return samples, summary, nil
}

func (p *Processor[ID, Obs, Act]) StateDict() (map[string]any, error) {
	return map[string]any{
		"return_stats": p.returnStats.stateDict(),
	}, nil
}

// LoadStateDict validates the whole snapshot before touching any state.
func (p *Processor[ID, Obs, Act]) LoadStateDict(state map[string]any) error {
	section, err := processor.Section(state, "return_stats")
	if err != nil {
		return err
	}
	stats, err := parseRunningStat(section)
	if err != nil {
		return err
	}
	p.returnStats = stats
	return nil
}
