package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"time"

	logs "github.com/danmuck/smplog"
	"github.com/m-mizutani/goerr/v2"

	"ppo-experience-buffer/internal/cartpole"
	"ppo-experience-buffer/internal/rollout"
)

type (
	Trajectory = rollout.Trajectory[string, []float64, int]
	Step       = rollout.Step[string, []float64, int]
	Batch      = rollout.Batch[string, []float64, int]
)

var ErrBufferRejected = errors.New("buffer rejected batch")

// Runner plays cart-pole episodes with a fixed linear policy and submits
// them to the replay-buffer service in batches of BatchEpisodes.
type Runner struct {
	WorkerID      string
	BufferURL     string
	BatchEpisodes int
	Seed          int64
	Backoff       time.Duration
	Weights       *PolicyWeights
	Client        *http.Client

	// MaxBatches stops Run after that many accepted batches; zero runs until
	// the context is done.
	MaxBatches int
}

func (r *Runner) Run(ctx context.Context) error {
	if r.BatchEpisodes <= 0 {
		return goerr.New("batch episodes must be > 0", goerr.V("batch_episodes", r.BatchEpisodes))
	}
	if r.Backoff <= 0 {
		r.Backoff = 500 * time.Millisecond
	}
	client := r.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	weights := DefaultWeights()
	if r.Weights != nil {
		weights = *r.Weights
	}
	policy, err := NewPolicy(weights)
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(r.Seed))
	env := cartpole.NewEnv(rng)
	var episodeID, sent int

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch := Batch{Trajectories: make([]Trajectory, 0, r.BatchEpisodes)}
		for i := 0; i < r.BatchEpisodes; i++ {
			episodeID++
			batch.Trajectories = append(batch.Trajectories, r.Episode(env, policy, rng, episodeID))
		}
		batch.BatchSentAtMs = time.Now().UnixMilli()

		if err := r.submit(ctx, client, batch); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logs.Warnf("worker %s: submit failed: %v", r.WorkerID, err)
			if err := sleep(ctx, r.Backoff); err != nil {
				return err
			}
			continue
		}

		sent++
		logs.Debugf("worker %s: submitted batch %d (%d episodes)", r.WorkerID, sent, len(batch.Trajectories))
		if r.MaxBatches > 0 && sent >= r.MaxBatches {
			return nil
		}
	}
}

// Episode plays one episode from a fresh reset. A truncated episode carries
// the value estimate of its final state for bootstrapping.
func (r *Runner) Episode(env *cartpole.Env, policy *Policy, rng *rand.Rand, episodeID int) Trajectory {
	state := env.Reset()
	tr := Trajectory{
		AgentID:   r.WorkerID,
		EpisodeID: episodeID,
		Steps:     make([]Step, 0, env.MaxSteps),
	}

	for {
		obs := state.Observation()
		action, logProb, value := policy.Action(obs, rng)
		next, reward, terminated, truncated := env.Step(action)

		tr.Steps = append(tr.Steps, Step{
			AgentID:    r.WorkerID,
			Obs:        obs,
			Action:     action,
			LogProb:    logProb,
			Reward:     reward,
			Terminated: terminated,
			Truncated:  truncated,
			Value:      value,
		})

		state = next
		if terminated || truncated {
			if truncated {
				tr.FinalValue = policy.Value(state.Observation())
			}
			return tr
		}
	}
}

func (r *Runner) submit(ctx context.Context, client *http.Client, batch Batch) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return goerr.Wrap(err, "failed to encode batch")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.BufferURL+"/submit", bytes.NewReader(body))
	if err != nil {
		return goerr.Wrap(err, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return goerr.Wrap(err, "failed to post batch", goerr.V("url", r.BufferURL))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return goerr.Wrap(ErrBufferRejected, "unexpected status", goerr.V("status", resp.StatusCode))
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
