package buffer

import (
	"iter"

	"github.com/m-mizutani/goerr/v2"

	"ppo-experience-buffer/internal/rollout"
)

// ShuffledBatches draws one permutation of the stored samples and returns a
// single-pass sequence of batchSize-sized batches taken from it in order.
// A trailing partial batch is dropped, so a batchSize larger than Len yields
// no batches. Ranging over the sequence a second time yields nothing; call
// ShuffledBatches again for a fresh permutation.
func (b *ExperienceBuffer[ID, Obs, Act, S]) ShuffledBatches(batchSize int) (iter.Seq[rollout.Samples[ID, Obs, Act]], error) {
	if batchSize <= 0 {
		return nil, goerr.Wrap(ErrInvalidArgument, "batch size must be positive", goerr.V("batch_size", batchSize))
	}
	if err := b.synchronize(); err != nil {
		return nil, err
	}

	// Ingestion replaces containers instead of writing into them, so this
	// view stays valid even if the buffer is appended to mid-iteration.
	samples := b.samples
	total := samples.Values.Len()
	indices := b.rng.Perm(total)

	consumed := false
	return func(yield func(rollout.Samples[ID, Obs, Act]) bool) {
		if consumed {
			return
		}
		consumed = true
		for start := 0; start+batchSize <= total; start += batchSize {
			if !yield(samples.Gather(indices[start : start+batchSize])) {
				return
			}
		}
	}, nil
}
