package gae

import (
	"math"

	"github.com/m-mizutani/goerr/v2"

	"ppo-experience-buffer/internal/processor"
)

// runningStat tracks mean and variance with Welford's update.
type runningStat struct {
	count int
	mean  float64
	m2    float64
}

func (s *runningStat) update(x float64) {
	s.count++
	d := x - s.mean
	s.mean += d / float64(s.count)
	s.m2 += d * (x - s.mean)
}

// std returns the sample standard deviation, or 1 while it is undefined or
// zero so callers can divide by it unconditionally.
func (s *runningStat) std() float64 {
	if s.count < 2 {
		return 1
	}
	std := math.Sqrt(s.m2 / float64(s.count-1))
	if std == 0 || math.IsNaN(std) {
		return 1
	}
	return std
}

func (s *runningStat) stateDict() map[string]any {
	return map[string]any{
		"count": s.count,
		"mean":  s.mean,
		"m2":    s.m2,
	}
}

func parseRunningStat(state map[string]any) (runningStat, error) {
	count, err := processor.Required(state, "count")
	if err != nil {
		return runningStat{}, err
	}
	if count < 0 || count != math.Trunc(count) {
		return runningStat{}, goerr.Wrap(processor.ErrInvalidArgs, "count must be a non-negative integer", goerr.V("count", count))
	}
	mean, err := processor.Required(state, "mean")
	if err != nil {
		return runningStat{}, err
	}
	m2, err := processor.Required(state, "m2")
	if err != nil {
		return runningStat{}, err
	}
	return runningStat{count: int(count), mean: mean, m2: m2}, nil
}
