package buffer

import (
	"slices"

	"github.com/m-mizutani/goerr/v2"

	"ppo-experience-buffer/internal/rollout"
	"ppo-experience-buffer/internal/tensor"
)

// appendBounded merges next onto cur, evicting the oldest elements so the
// result holds at most size elements:
//
//   - next alone exceeds size: only the trailing size elements of next survive
//   - next is exactly size: next replaces cur
//   - together they exceed size: the tail of cur that still fits, then next
//   - otherwise: cur followed by next
func appendBounded[T any](cur, next []T, size int) []T {
	n := len(next)
	switch {
	case n > size:
		return slices.Clone(next[n-size:])
	case n == size:
		return next
	case len(cur)+n > size:
		keep := size - n
		return slices.Concat(cur[len(cur)-keep:], next)
	default:
		return slices.Concat(cur, next)
	}
}

// appendBoundedTensor is appendBounded for numeric tensors. It must take the
// same branch as appendBounded for equal lengths so indices stay aligned.
func appendBoundedTensor(cur, next tensor.Tensor, size int) (tensor.Tensor, error) {
	n := next.Len()
	switch {
	case n > size:
		return next.Slice(n-size, n).Clone(), nil
	case n == size:
		return next, nil
	case cur.Len()+n > size:
		keep := size - n
		return tensor.Cat(cur.Slice(cur.Len()-keep, cur.Len()), next)
	default:
		return tensor.Cat(cur, next)
	}
}

// mergeBounded applies the bounded append to all six containers. cur is left
// untouched if any container fails to merge.
func mergeBounded[ID, Obs, Act any](cur, next rollout.Samples[ID, Obs, Act], size int) (rollout.Samples[ID, Obs, Act], error) {
	var (
		out rollout.Samples[ID, Obs, Act]
		err error
	)
	out.AgentIDs = appendBounded(cur.AgentIDs, next.AgentIDs, size)
	out.Observations = appendBounded(cur.Observations, next.Observations, size)
	out.Actions = appendBounded(cur.Actions, next.Actions, size)

	if out.LogProbs, err = appendBoundedTensor(cur.LogProbs, next.LogProbs, size); err != nil {
		return cur, goerr.Wrap(tag(ErrInvalidArgument, err), "failed to merge log probs")
	}
	if out.Values, err = appendBoundedTensor(cur.Values, next.Values, size); err != nil {
		return cur, goerr.Wrap(tag(ErrInvalidArgument, err), "failed to merge values")
	}
	if out.Advantages, err = appendBoundedTensor(cur.Advantages, next.Advantages, size); err != nil {
		return cur, goerr.Wrap(tag(ErrInvalidArgument, err), "failed to merge advantages")
	}
	return out, nil
}
