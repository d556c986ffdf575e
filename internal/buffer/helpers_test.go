package buffer_test

import (
	"errors"
	"testing"

	"github.com/m-mizutani/gt"

	"ppo-experience-buffer/internal/buffer"
	"ppo-experience-buffer/internal/processor"
	"ppo-experience-buffer/internal/rollout"
	"ppo-experience-buffer/internal/tensor"
)

type (
	traj    = rollout.Trajectory[string, []float64, int]
	step    = rollout.Step[string, []float64, int]
	samples = rollout.Samples[string, []float64, int]
)

// stubProcessor flattens trajectories so that every container at index i is
// derived from one integer: obs [i], action i, log prob -i, value i,
// advantage i. The summary is the number of steps processed.
type stubProcessor struct {
	dtype  tensor.DType
	device tensor.Device
	args   map[string]any

	processed float64
	err       error
	loadErr   error
	misalign  bool
}

func (p *stubProcessor) Configure(dtype tensor.DType, device tensor.Device) error {
	p.dtype = dtype
	p.device = device
	return nil
}

func (p *stubProcessor) Process(trs []traj) (samples, int, error) {
	if p.err != nil {
		return samples{}, 0, p.err
	}
	var (
		ids                   []string
		obs                   [][]float64
		actions               []int
		logProbs, values, adv []float64
	)
	for _, tr := range trs {
		for _, s := range tr.Steps {
			ids = append(ids, s.AgentID)
			obs = append(obs, s.Obs)
			actions = append(actions, s.Action)
			logProbs = append(logProbs, s.LogProb)
			values = append(values, s.Value)
			adv = append(adv, s.Reward)
		}
	}
	if p.misalign && len(actions) > 0 {
		actions = actions[1:]
	}
	p.processed += float64(len(ids))
	return samples{
		AgentIDs:     ids,
		Observations: obs,
		Actions:      actions,
		LogProbs:     tensor.New(p.dtype, p.device, logProbs),
		Values:       tensor.New(p.dtype, p.device, values),
		Advantages:   tensor.New(p.dtype, p.device, adv),
	}, len(ids), nil
}

func (p *stubProcessor) StateDict() (map[string]any, error) {
	return map[string]any{"processed": p.processed}, nil
}

func (p *stubProcessor) LoadStateDict(state map[string]any) error {
	if p.loadErr != nil {
		return p.loadErr
	}
	v, ok := state["processed"].(float64)
	if !ok {
		return errors.New("processed missing")
	}
	p.processed = v
	return nil
}

func stubFactory(p *stubProcessor) processor.Factory[string, []float64, int, int] {
	return func(args map[string]any) (processor.Processor[string, []float64, int, int], error) {
		p.args = args
		return p, nil
	}
}

func newStubBuffer(t *testing.T, cfg buffer.Config) (*buffer.ExperienceBuffer[string, []float64, int, int], *stubProcessor) {
	t.Helper()
	p := &stubProcessor{}
	b, err := buffer.New(stubFactory(p), cfg, buffer.Codec[string, []float64, int]{})
	gt.NoError(t, err).Required()
	return b, p
}

func testConfig(maxSize int) buffer.Config {
	cfg := buffer.DefaultConfig()
	cfg.MaxSize = maxSize
	cfg.Seed = 7
	cfg.DType = "float64"
	return cfg
}

// trajOf builds one trajectory whose steps are numbered ids[0], ids[1], ...
func trajOf(agent string, ids ...int) traj {
	tr := traj{AgentID: agent}
	for _, i := range ids {
		f := float64(i)
		tr.Steps = append(tr.Steps, step{
			AgentID: agent,
			Obs:     []float64{f},
			Action:  i,
			LogProb: -f,
			Value:   f,
			Reward:  f,
		})
	}
	return tr
}

func numbered(from, to int) []int {
	out := make([]int, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, i)
	}
	return out
}

// sampleNumbers checks that s is aligned and returns the integer each
// position was derived from.
func sampleNumbers(t *testing.T, s samples) []int {
	t.Helper()
	gt.True(t, s.Aligned())
	out := make([]int, s.Len())
	for i := range out {
		n := s.Actions[i]
		gt.Equal(t, s.Observations[i], []float64{float64(n)})
		gt.Equal(t, s.LogProbs.At(i), -float64(n))
		gt.Equal(t, s.Values.At(i), float64(n))
		gt.Equal(t, s.Advantages.At(i), float64(n))
		out[i] = n
	}
	return out
}
