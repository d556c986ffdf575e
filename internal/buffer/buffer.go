package buffer

import (
	"math/rand"
	"slices"

	logs "github.com/danmuck/smplog"
	"github.com/m-mizutani/goerr/v2"

	"ppo-experience-buffer/internal/processor"
	"ppo-experience-buffer/internal/rollout"
	"ppo-experience-buffer/internal/serde"
	"ppo-experience-buffer/internal/tensor"
)

// Codec encodes the opaque payload containers for checkpoints. Nil members
// fall back to JSON.
type Codec[ID, Obs, Act any] struct {
	AgentIDs     serde.Serde[ID]
	Observations serde.Serde[Obs]
	Actions      serde.Serde[Act]
}

func (c Codec[ID, Obs, Act]) withDefaults() Codec[ID, Obs, Act] {
	if c.AgentIDs == nil {
		c.AgentIDs = serde.JSON[ID]()
	}
	if c.Observations == nil {
		c.Observations = serde.JSON[Obs]()
	}
	if c.Actions == nil {
		c.Actions = serde.JSON[Act]()
	}
	return c
}

// ExperienceBuffer holds the most recent step-level experience up to a fixed
// capacity and serves it back in shuffled batches. Contents are evicted
// oldest first.
//
// It is not safe for concurrent use; callers must serialize ingestion,
// iteration and checkpointing.
type ExperienceBuffer[ID, Obs, Act, S any] struct {
	config    Config
	dtype     tensor.DType
	device    tensor.Device
	rng       *rand.Rand
	codec     Codec[ID, Obs, Act]
	processor processor.Processor[ID, Obs, Act, S]
	samples   rollout.Samples[ID, Obs, Act]
}

// New builds the processor through factory, binds it to the configured
// dtype and device, and restores cfg.CheckpointLoadFolder when set.
func New[ID, Obs, Act, S any](factory processor.Factory[ID, Obs, Act, S], cfg Config, codec Codec[ID, Obs, Act]) (*ExperienceBuffer[ID, Obs, Act, S], error) {
	if factory == nil {
		return nil, goerr.Wrap(ErrInvalidArgument, "processor factory is nil")
	}
	if cfg.MaxSize < 0 {
		return nil, goerr.Wrap(ErrInvalidArgument, "max size must be >= 0", goerr.V("max_size", cfg.MaxSize))
	}
	dtype, err := tensor.ParseDType(cfg.DType)
	if err != nil {
		return nil, goerr.Wrap(tag(ErrInvalidArgument, err), "failed to parse dtype")
	}
	device, err := tensor.ParseDevice(cfg.Device)
	if err != nil {
		return nil, goerr.Wrap(tag(ErrInvalidArgument, err), "failed to parse device")
	}

	args := cfg.TrajectoryProcessorArgs
	if args == nil {
		args = map[string]any{}
	}
	proc, err := factory(args)
	if err != nil {
		return nil, err
	}
	if err := proc.Configure(dtype, device); err != nil {
		return nil, err
	}

	b := &ExperienceBuffer[ID, Obs, Act, S]{
		config:    cfg,
		dtype:     dtype,
		device:    device,
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		codec:     codec.withDefaults(),
		processor: proc,
		samples:   rollout.EmptySamples[ID, Obs, Act](dtype, device),
	}

	if cfg.CheckpointLoadFolder != "" {
		if err := b.LoadCheckpoint(cfg.CheckpointLoadFolder); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// SubmitExperience runs trajectories through the processor and appends the
// resulting samples, trimming the oldest so the buffer never exceeds its
// capacity. Input larger than the capacity is trimmed without error. The
// processor's summary is returned unchanged.
func (b *ExperienceBuffer[ID, Obs, Act, S]) SubmitExperience(trajectories []rollout.Trajectory[ID, Obs, Act]) (S, error) {
	var zero S

	incoming, summary, err := b.processor.Process(trajectories)
	if err != nil {
		return zero, err
	}
	if err := b.checkIncoming(incoming); err != nil {
		return zero, err
	}
	if err := b.synchronize(); err != nil {
		return zero, err
	}

	merged, err := mergeBounded(b.samples, incoming, b.config.MaxSize)
	if err != nil {
		return zero, err
	}
	b.samples = merged

	logs.Debugf("experience submitted: trajectories=%d steps=%d size=%d/%d",
		len(trajectories), incoming.Len(), b.Len(), b.config.MaxSize)
	return summary, nil
}

func (b *ExperienceBuffer[ID, Obs, Act, S]) checkIncoming(s rollout.Samples[ID, Obs, Act]) error {
	if !s.Aligned() {
		return goerr.Wrap(ErrInvalidArgument, "processor returned misaligned containers", goerr.V("lengths", s.Lengths()))
	}
	numeric := []struct {
		name string
		t    tensor.Tensor
	}{
		{"log_probs", s.LogProbs},
		{"values", s.Values},
		{"advantages", s.Advantages},
	}
	for _, c := range numeric {
		name, t := c.name, c.t
		if t.DType() != b.dtype {
			return goerr.Wrap(ErrInvalidArgument, "processor returned unexpected dtype",
				goerr.V("container", name), goerr.V("dtype", t.DType().String()), goerr.V("want", b.dtype.String()))
		}
		if t.Device().Name() != b.device.Name() {
			return goerr.Wrap(ErrInvalidArgument, "processor returned tensor on unexpected device",
				goerr.V("container", name), goerr.V("device", t.Device().Name()), goerr.V("want", b.device.Name()))
		}
	}
	return nil
}

// synchronize fences the compute device so that index-based reads observe
// every pending write to the numeric containers.
func (b *ExperienceBuffer[ID, Obs, Act, S]) synchronize() error {
	if err := b.device.Synchronize(); err != nil {
		return goerr.Wrap(err, "failed to synchronize device", goerr.V("device", b.device.Name()))
	}
	return nil
}

// Clear drops every stored sample. Processor state is kept.
func (b *ExperienceBuffer[ID, Obs, Act, S]) Clear() {
	b.samples = rollout.EmptySamples[ID, Obs, Act](b.dtype, b.device)
}

func (b *ExperienceBuffer[ID, Obs, Act, S]) Len() int {
	return b.samples.Len()
}

func (b *ExperienceBuffer[ID, Obs, Act, S]) Capacity() int {
	return b.config.MaxSize
}

func (b *ExperienceBuffer[ID, Obs, Act, S]) DType() tensor.DType {
	return b.dtype
}

func (b *ExperienceBuffer[ID, Obs, Act, S]) Device() tensor.Device {
	return b.device
}

func (b *ExperienceBuffer[ID, Obs, Act, S]) Processor() processor.Processor[ID, Obs, Act, S] {
	return b.processor
}

// Snapshot returns a copy of all six containers.
func (b *ExperienceBuffer[ID, Obs, Act, S]) Snapshot() rollout.Samples[ID, Obs, Act] {
	return rollout.Samples[ID, Obs, Act]{
		AgentIDs:     slices.Clone(b.samples.AgentIDs),
		Observations: slices.Clone(b.samples.Observations),
		Actions:      slices.Clone(b.samples.Actions),
		LogProbs:     b.samples.LogProbs.Clone(),
		Values:       b.samples.Values.Clone(),
		Advantages:   b.samples.Advantages.Clone(),
	}
}
