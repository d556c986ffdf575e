package serde_test

import (
	"errors"
	"math"
	"testing"

	"github.com/m-mizutani/gt"

	"ppo-experience-buffer/internal/serde"
)

func TestFloat64sBitExact(t *testing.T) {
	s := serde.Float64s()
	in := []float64{0, math.Copysign(0, -1), 1.0 / 3, math.Inf(-1), math.SmallestNonzeroFloat64}

	raw, err := s.Encode(in)
	gt.NoError(t, err)
	gt.Equal(t, len(raw), 8*len(in))

	out, err := s.Decode(raw)
	gt.NoError(t, err)
	gt.Equal(t, len(out), len(in))
	for i := range in {
		gt.Equal(t, math.Float64bits(out[i]), math.Float64bits(in[i]))
	}

	_, err = s.Decode(raw[:7])
	gt.True(t, errors.Is(err, serde.ErrMalformed))
}

func TestInt(t *testing.T) {
	s := serde.Int()
	for _, v := range []int{0, 1, -1, math.MaxInt32, math.MinInt64} {
		raw, err := s.Encode(v)
		gt.NoError(t, err)
		got, err := s.Decode(raw)
		gt.NoError(t, err)
		gt.Equal(t, got, v)
	}

	_, err := s.Decode(nil)
	gt.True(t, errors.Is(err, serde.ErrMalformed))
	_, err = s.Decode([]byte{0x02, 0x00})
	gt.True(t, errors.Is(err, serde.ErrMalformed))
}

func TestJSON(t *testing.T) {
	type obs struct {
		Pos []float64 `json:"pos"`
		Tag string    `json:"tag"`
	}
	s := serde.JSON[obs]()
	raw, err := s.Encode(obs{Pos: []float64{1, 2}, Tag: "x"})
	gt.NoError(t, err)
	got, err := s.Decode(raw)
	gt.NoError(t, err)
	gt.Equal(t, got, obs{Pos: []float64{1, 2}, Tag: "x"})

	_, err = s.Decode([]byte("{"))
	gt.True(t, errors.Is(err, serde.ErrMalformed))
}

func TestString(t *testing.T) {
	raw, err := serde.String().Encode("agent-7")
	gt.NoError(t, err)
	got, err := serde.String().Decode(raw)
	gt.NoError(t, err)
	gt.Equal(t, got, "agent-7")
}
