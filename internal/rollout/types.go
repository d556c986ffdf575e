package rollout

import "ppo-experience-buffer/internal/tensor"

type Step[ID, Obs, Act any] struct {
	AgentID    ID      `json:"agent_id"`
	Obs        Obs     `json:"obs"`
	Action     Act     `json:"action"`
	LogProb    float64 `json:"log_prob"`
	Reward     float64 `json:"reward"`
	Terminated bool    `json:"terminated"`
	Truncated  bool    `json:"truncated"`
	Value      float64 `json:"value"`
}

// Trajectory is one agent's ordered steps across one episode segment.
// FinalValue estimates the state reached after the last step and only
// matters when the segment was truncated rather than terminated.
type Trajectory[ID, Obs, Act any] struct {
	AgentID    ID                   `json:"agent_id"`
	EpisodeID  int                  `json:"episode_id"`
	Steps      []Step[ID, Obs, Act] `json:"steps"`
	FinalValue float64              `json:"final_value"`
}

func (t Trajectory[ID, Obs, Act]) Len() int {
	return len(t.Steps)
}

// EpisodeReward is the undiscounted sum of rewards.
func (t Trajectory[ID, Obs, Act]) EpisodeReward() float64 {
	var total float64
	for _, s := range t.Steps {
		total += s.Reward
	}
	return total
}

// Bootstrap returns the value the segment continues from: FinalValue when
// the last step was truncated, zero when it terminated or the segment is empty.
func (t Trajectory[ID, Obs, Act]) Bootstrap() float64 {
	if len(t.Steps) == 0 {
		return 0
	}
	last := t.Steps[len(t.Steps)-1]
	if last.Terminated || !last.Truncated {
		return 0
	}
	return t.FinalValue
}

// Samples holds the six index-aligned containers of step-level experience.
// Position i in every container describes the same (agent, state, action).
type Samples[ID, Obs, Act any] struct {
	AgentIDs     []ID          `json:"agent_ids"`
	Observations []Obs         `json:"observations"`
	Actions      []Act         `json:"actions"`
	LogProbs     tensor.Tensor `json:"log_probs"`
	Values       tensor.Tensor `json:"values"`
	Advantages   tensor.Tensor `json:"advantages"`
}

func EmptySamples[ID, Obs, Act any](dtype tensor.DType, device tensor.Device) Samples[ID, Obs, Act] {
	return Samples[ID, Obs, Act]{
		AgentIDs:     []ID{},
		Observations: []Obs{},
		Actions:      []Act{},
		LogProbs:     tensor.Empty(dtype, device),
		Values:       tensor.Empty(dtype, device),
		Advantages:   tensor.Empty(dtype, device),
	}
}

// Lengths returns the length of each container in field order.
func (s Samples[ID, Obs, Act]) Lengths() [6]int {
	return [6]int{
		len(s.AgentIDs),
		len(s.Observations),
		len(s.Actions),
		s.LogProbs.Len(),
		s.Values.Len(),
		s.Advantages.Len(),
	}
}

// Aligned reports whether all six containers have the same length.
func (s Samples[ID, Obs, Act]) Aligned() bool {
	l := s.Lengths()
	for _, n := range l[1:] {
		if n != l[0] {
			return false
		}
	}
	return true
}

func (s Samples[ID, Obs, Act]) Len() int {
	return len(s.AgentIDs)
}

// Gather copies the samples at indices into a new Samples.
func (s Samples[ID, Obs, Act]) Gather(indices []int) Samples[ID, Obs, Act] {
	out := Samples[ID, Obs, Act]{
		AgentIDs:     make([]ID, len(indices)),
		Observations: make([]Obs, len(indices)),
		Actions:      make([]Act, len(indices)),
		LogProbs:     s.LogProbs.Gather(indices),
		Values:       s.Values.Gather(indices),
		Advantages:   s.Advantages.Gather(indices),
	}
	for i, idx := range indices {
		out.AgentIDs[i] = s.AgentIDs[idx]
		out.Observations[i] = s.Observations[idx]
		out.Actions[i] = s.Actions[idx]
	}
	return out
}

// Batch is the wire payload a rollout worker posts to the buffer service.
type Batch[ID, Obs, Act any] struct {
	BatchSentAtMs int64                      `json:"batch_sent_at_ms"`
	Trajectories  []Trajectory[ID, Obs, Act] `json:"trajectories"`
}
