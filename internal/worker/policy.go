package worker

import (
	"math"
	"math/rand"

	"github.com/m-mizutani/goerr/v2"

	"ppo-experience-buffer/internal/cartpole"
)

// PolicyWeights is a linear actor-critic: logits = W·obs + B and
// value = VW·obs + VB.
type PolicyWeights struct {
	W  [][]float64 `json:"w"`  // shape: [actions][obs]
	B  []float64   `json:"b"`  // shape: [actions]
	VW []float64   `json:"vw"` // shape: [obs]
	VB float64     `json:"vb"`
}

func DefaultWeights() PolicyWeights {
	return PolicyWeights{
		W: [][]float64{
			{0.01, 0.01, 0.01, 0.01},
			{-0.01, -0.01, -0.01, -0.01},
		},
		B:  []float64{0, 0},
		VW: []float64{0, 0, 0, 0},
		VB: 0,
	}
}

// Validate checks the weight shapes against the cart-pole observation and
// action sizes.
func (w PolicyWeights) Validate() error {
	if len(w.W) != cartpole.NumActions || len(w.B) != cartpole.NumActions {
		return goerr.New("policy must have one row per action", goerr.V("rows", len(w.W)), goerr.V("bias", len(w.B)))
	}
	for i, row := range w.W {
		if len(row) != cartpole.ObservationSize {
			return goerr.New("policy row has wrong width", goerr.V("row", i), goerr.V("width", len(row)))
		}
	}
	if len(w.VW) != cartpole.ObservationSize {
		return goerr.New("value weights have wrong width", goerr.V("width", len(w.VW)))
	}
	return nil
}

type Policy struct {
	Weights PolicyWeights
}

func NewPolicy(weights PolicyWeights) (*Policy, error) {
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	return &Policy{Weights: weights}, nil
}

// Action samples an action and returns it with its log-probability and the
// value estimate of obs.
func (p *Policy) Action(obs []float64, rng *rand.Rand) (action int, logProb, value float64) {
	logits := make([]float64, len(p.Weights.B))
	for i := range logits {
		logits[i] = p.Weights.B[i]
		for j, x := range obs {
			logits[i] += p.Weights.W[i][j] * x
		}
	}
	probs := softmax(logits)
	action = sampleCategorical(probs, rng)
	return action, math.Log(probs[action] + 1e-8), p.Value(obs)
}

func (p *Policy) Value(obs []float64) float64 {
	value := p.Weights.VB
	for j, x := range obs {
		value += p.Weights.VW[j] * x
	}
	return value
}

func softmax(logits []float64) []float64 {
	maxLogit := logits[0]
	for _, v := range logits[1:] {
		if v > maxLogit {
			maxLogit = v
		}
	}
	values := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		values[i] = math.Exp(v - maxLogit)
		sum += values[i]
	}
	for i := range values {
		values[i] /= sum
	}
	return values
}

func sampleCategorical(probs []float64, rng *rand.Rand) int {
	threshold := rng.Float64()
	var cumulative float64
	for i, prob := range probs {
		cumulative += prob
		if threshold <= cumulative {
			return i
		}
	}
	return len(probs) - 1
}
