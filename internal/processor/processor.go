// Package processor defines the contract between the experience buffer and
// the pluggable component that turns raw trajectories into flat, step-aligned
// samples.
package processor

import (
	"ppo-experience-buffer/internal/rollout"
	"ppo-experience-buffer/internal/tensor"
)

// Processor converts trajectories into index-aligned samples plus a summary
// statistic S for reporting. Implementations must emit numeric tensors in the
// dtype and on the device bound by Configure.
type Processor[ID, Obs, Act, S any] interface {
	Process(trajectories []rollout.Trajectory[ID, Obs, Act]) (rollout.Samples[ID, Obs, Act], S, error)

	// StateDict returns a JSON-encodable snapshot of the processor state.
	StateDict() (map[string]any, error)
	// LoadStateDict restores a snapshot produced by StateDict. The map may
	// come from a JSON round trip, so numbers arrive as float64.
	LoadStateDict(state map[string]any) error

	Configure(dtype tensor.DType, device tensor.Device) error
}

// Factory builds a processor from named arguments taken verbatim from config.
type Factory[ID, Obs, Act, S any] func(args map[string]any) (Processor[ID, Obs, Act, S], error)
