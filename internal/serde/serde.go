// Package serde encodes the opaque payloads the experience buffer stores
// (agent ids, observations, actions) for checkpoints.
package serde

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

var ErrMalformed = errors.New("malformed payload")

type Serde[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(data []byte) (T, error)
}

type jsonSerde[T any] struct{}

// JSON encodes any JSON-encodable payload.
func JSON[T any]() Serde[T] { return jsonSerde[T]{} }

func (jsonSerde[T]) Encode(v T) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonSerde[T]) Decode(data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return v, nil
}

type stringSerde struct{}

func String() Serde[string] { return stringSerde{} }

func (stringSerde) Encode(v string) ([]byte, error)    { return []byte(v), nil }
func (stringSerde) Decode(data []byte) (string, error) { return string(data), nil }

type intSerde struct{}

// Int encodes as a zigzag varint.
func Int() Serde[int] { return intSerde{} }

func (intSerde) Encode(v int) ([]byte, error) {
	return protowire.AppendVarint(nil, protowire.EncodeZigZag(int64(v))), nil
}

func (intSerde) Decode(data []byte) (int, error) {
	v, n := protowire.ConsumeVarint(data)
	if n < 0 {
		return 0, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
	}
	if n != len(data) {
		return 0, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(data)-n)
	}
	return int(protowire.DecodeZigZag(v)), nil
}

type float64sSerde struct{}

// Float64s encodes a vector as packed fixed64 values, bit exact.
func Float64s() Serde[[]float64] { return float64sSerde{} }

func (float64sSerde) Encode(v []float64) ([]byte, error) {
	out := make([]byte, 0, 8*len(v))
	for _, f := range v {
		out = protowire.AppendFixed64(out, math.Float64bits(f))
	}
	return out, nil
}

func (float64sSerde) Decode(data []byte) ([]float64, error) {
	if len(data)%8 != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of 8", ErrMalformed, len(data))
	}
	out := make([]float64, 0, len(data)/8)
	for len(data) > 0 {
		bits, n := protowire.ConsumeFixed64(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		out = append(out, math.Float64frombits(bits))
		data = data[n:]
	}
	return out, nil
}
