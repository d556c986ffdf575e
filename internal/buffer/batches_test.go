package buffer_test

import (
	"errors"
	"iter"
	"testing"

	"github.com/m-mizutani/gt"

	"ppo-experience-buffer/internal/buffer"
)

func collect(t *testing.T, batches iter.Seq[samples]) [][]int {
	t.Helper()
	var out [][]int
	for batch := range batches {
		out = append(out, sampleNumbers(t, batch))
	}
	return out
}

func TestShuffleIsDeterministicForSeed(t *testing.T) {
	run := func() [][]int {
		b, _ := newStubBuffer(t, testConfig(100))
		_, err := b.SubmitExperience([]traj{trajOf("a", numbered(0, 40)...)})
		gt.NoError(t, err)

		var all [][]int
		for range 3 {
			batches, err := b.ShuffledBatches(8)
			gt.NoError(t, err)
			all = append(all, collect(t, batches)...)
		}
		return all
	}

	first, second := run(), run()
	gt.Equal(t, len(first), 15)
	gt.Equal(t, first, second)
}

func TestFreshPermutationPerCall(t *testing.T) {
	b, _ := newStubBuffer(t, testConfig(100))
	_, err := b.SubmitExperience([]traj{trajOf("a", numbered(0, 50)...)})
	gt.NoError(t, err)

	a, err := b.ShuffledBatches(50)
	gt.NoError(t, err)
	c, err := b.ShuffledBatches(50)
	gt.NoError(t, err)
	gt.NotEqual(t, collect(t, a), collect(t, c))
}

func TestBatchCompleteness(t *testing.T) {
	b, _ := newStubBuffer(t, testConfig(100))
	_, err := b.SubmitExperience([]traj{trajOf("a", numbered(0, 23)...), trajOf("b", numbered(23, 30)...)})
	gt.NoError(t, err)

	batches, err := b.ShuffledBatches(7)
	gt.NoError(t, err)
	got := collect(t, batches)

	gt.Equal(t, len(got), 30/7)
	seen := map[int]bool{}
	for _, batch := range got {
		gt.Equal(t, len(batch), 7)
		for _, n := range batch {
			gt.False(t, seen[n])
			gt.True(t, n >= 0 && n < 30)
			seen[n] = true
		}
	}
	gt.Equal(t, len(seen), 28)
}

func TestBatchesKeepAgentIDsAligned(t *testing.T) {
	b, _ := newStubBuffer(t, testConfig(100))
	_, err := b.SubmitExperience([]traj{trajOf("a", numbered(0, 10)...), trajOf("b", numbered(10, 20)...)})
	gt.NoError(t, err)

	batches, err := b.ShuffledBatches(4)
	gt.NoError(t, err)
	for batch := range batches {
		for i, n := range batch.Actions {
			want := "a"
			if n >= 10 {
				want = "b"
			}
			gt.Equal(t, batch.AgentIDs[i], want)
		}
	}
}

func TestBatchSizeLargerThanBufferYieldsNothing(t *testing.T) {
	b, _ := newStubBuffer(t, testConfig(100))
	_, err := b.SubmitExperience([]traj{trajOf("a", 1, 2, 3)})
	gt.NoError(t, err)

	batches, err := b.ShuffledBatches(4)
	gt.NoError(t, err)
	gt.Equal(t, len(collect(t, batches)), 0)
}

func TestEmptyBufferYieldsNothing(t *testing.T) {
	b, _ := newStubBuffer(t, testConfig(100))
	batches, err := b.ShuffledBatches(1)
	gt.NoError(t, err)
	gt.Equal(t, len(collect(t, batches)), 0)
}

func TestInvalidBatchSize(t *testing.T) {
	b, _ := newStubBuffer(t, testConfig(100))
	_, err := b.SubmitExperience([]traj{trajOf("a", 1, 2, 3)})
	gt.NoError(t, err)

	for _, size := range []int{0, -1} {
		batches, err := b.ShuffledBatches(size)
		gt.True(t, errors.Is(err, buffer.ErrInvalidArgument))
		gt.True(t, batches == nil)
	}
}

func TestBatchSequenceIsSinglePass(t *testing.T) {
	b, _ := newStubBuffer(t, testConfig(100))
	_, err := b.SubmitExperience([]traj{trajOf("a", numbered(0, 10)...)})
	gt.NoError(t, err)

	batches, err := b.ShuffledBatches(2)
	gt.NoError(t, err)
	gt.Equal(t, len(collect(t, batches)), 5)
	gt.Equal(t, len(collect(t, batches)), 0)
}

func TestStoppingEarlyLeavesBufferIntact(t *testing.T) {
	b, _ := newStubBuffer(t, testConfig(100))
	_, err := b.SubmitExperience([]traj{trajOf("a", numbered(0, 10)...)})
	gt.NoError(t, err)

	batches, err := b.ShuffledBatches(2)
	gt.NoError(t, err)
	for range batches {
		break
	}
	gt.Equal(t, sampleNumbers(t, b.Snapshot()), numbered(0, 10))
}

func TestIngestionDuringIterationDoesNotDisturbBatches(t *testing.T) {
	b, _ := newStubBuffer(t, testConfig(10))
	_, err := b.SubmitExperience([]traj{trajOf("a", numbered(0, 10)...)})
	gt.NoError(t, err)

	batches, err := b.ShuffledBatches(5)
	gt.NoError(t, err)
	count := 0
	for batch := range batches {
		for _, n := range sampleNumbers(t, batch) {
			gt.True(t, n < 10)
		}
		_, err := b.SubmitExperience([]traj{trajOf("a", numbered(100, 105)...)})
		gt.NoError(t, err)
		count++
	}
	gt.Equal(t, count, 2)
}
