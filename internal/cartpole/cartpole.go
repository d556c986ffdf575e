// Package cartpole simulates the classic cart-pole balancing task used to
// produce rollouts for the experience buffer.
package cartpole

import (
	"math"
	"math/rand"
)

const (
	gravity        = 9.81
	massCart       = 1.0
	massPole       = 0.1
	halfPoleLength = 0.5
	totalMass      = massCart + massPole
	poleMassLength = massPole * halfPoleLength
	forceMag       = 10.0
	tau            = 0.02

	xThreshold     = 2.4
	thetaThreshold = 12.0 * math.Pi / 180.0

	DefaultMaxSteps = 500
	ObservationSize = 4
	NumActions      = 2
)

type State struct {
	X        float64 `json:"x"`
	XDot     float64 `json:"x_dot"`
	Theta    float64 `json:"theta"`
	ThetaDot float64 `json:"theta_dot"`
}

// Observation flattens s in the order x, x_dot, theta, theta_dot.
func (s State) Observation() []float64 {
	return []float64{s.X, s.XDot, s.Theta, s.ThetaDot}
}

func (s State) outOfBounds() bool {
	return s.X < -xThreshold || s.X > xThreshold || s.Theta < -thetaThreshold || s.Theta > thetaThreshold
}

// Env is one cart-pole episode at a time. Episodes end either by the pole
// falling or the cart leaving the track (terminated) or by reaching
// MaxSteps (truncated).
type Env struct {
	State    State
	Steps    int
	MaxSteps int
	Rand     *rand.Rand
}

func NewEnv(rng *rand.Rand) *Env {
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	env := &Env{Rand: rng, MaxSteps: DefaultMaxSteps}
	env.Reset()
	return env
}

func (e *Env) Reset() State {
	e.State = State{
		X:        e.uniform(),
		XDot:     e.uniform(),
		Theta:    e.uniform(),
		ThetaDot: e.uniform(),
	}
	e.Steps = 0
	return e.State
}

func (e *Env) uniform() float64 {
	return e.Rand.Float64()*0.1 - 0.05
}

// Step pushes the cart left (action 0) or right (any other action) for one
// tick. The failing step of a terminated episode earns no reward.
func (e *Env) Step(action int) (next State, reward float64, terminated, truncated bool) {
	force := forceMag
	if action == 0 {
		force = -forceMag
	}

	s := e.State
	cosTheta := math.Cos(s.Theta)
	sinTheta := math.Sin(s.Theta)

	temp := (force + poleMassLength*s.ThetaDot*s.ThetaDot*sinTheta) / totalMass
	thetaAcc := (gravity*sinTheta - cosTheta*temp) / (halfPoleLength * (4.0/3.0 - massPole*cosTheta*cosTheta/totalMass))
	xAcc := temp - poleMassLength*thetaAcc*cosTheta/totalMass

	e.State = State{
		X:        s.X + tau*s.XDot,
		XDot:     s.XDot + tau*xAcc,
		Theta:    s.Theta + tau*s.ThetaDot,
		ThetaDot: s.ThetaDot + tau*thetaAcc,
	}
	e.Steps++

	terminated = e.State.outOfBounds()
	truncated = !terminated && e.MaxSteps > 0 && e.Steps >= e.MaxSteps
	reward = 1.0
	if terminated {
		reward = 0.0
	}
	return e.State, reward, terminated, truncated
}
