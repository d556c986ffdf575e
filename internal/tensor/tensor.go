package tensor

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

var (
	ErrDTypeMismatch  = errors.New("dtype mismatch")
	ErrDeviceMismatch = errors.New("device mismatch")
)

// Tensor is a one-dimensional numeric vector. Exactly one of f32/f64 backs
// it, selected by dtype. The zero value is an empty float32 tensor on the CPU.
type Tensor struct {
	dtype  DType
	device Device
	f32    []float32
	f64    []float64
}

// New converts values into a tensor of the given dtype on device.
func New(dtype DType, device Device, values []float64) Tensor {
	t := Tensor{dtype: dtype, device: device}
	switch dtype {
	case Float64:
		t.f64 = append([]float64(nil), values...)
	default:
		t.f32 = make([]float32, len(values))
		for i, v := range values {
			t.f32[i] = float32(v)
		}
	}
	return t
}

func Empty(dtype DType, device Device) Tensor {
	return Tensor{dtype: dtype, device: device}
}

// FromFloat32 wraps values without copying.
func FromFloat32(device Device, values []float32) Tensor {
	return Tensor{dtype: Float32, device: device, f32: values}
}

// FromFloat64 wraps values without copying.
func FromFloat64(device Device, values []float64) Tensor {
	return Tensor{dtype: Float64, device: device, f64: values}
}

func (t Tensor) DType() DType { return t.dtype }

func (t Tensor) Device() Device {
	if t.device == nil {
		return CPU
	}
	return t.device
}

func (t Tensor) Len() int {
	if t.dtype == Float64 {
		return len(t.f64)
	}
	return len(t.f32)
}

func (t Tensor) At(i int) float64 {
	if t.dtype == Float64 {
		return t.f64[i]
	}
	return float64(t.f32[i])
}

// Float64s copies the contents out as float64 values.
func (t Tensor) Float64s() []float64 {
	out := make([]float64, t.Len())
	for i := range out {
		out[i] = t.At(i)
	}
	return out
}

// Float32s returns the backing slice of a float32 tensor, nil otherwise.
func (t Tensor) Float32s() []float32 {
	if t.dtype != Float32 {
		return nil
	}
	return t.f32
}

// Raw64 returns the backing slice of a float64 tensor, nil otherwise.
func (t Tensor) Raw64() []float64 {
	if t.dtype != Float64 {
		return nil
	}
	return t.f64
}

// Slice returns a view of [start, end). The view shares storage with t.
func (t Tensor) Slice(start, end int) Tensor {
	out := Tensor{dtype: t.dtype, device: t.device}
	if t.dtype == Float64 {
		out.f64 = t.f64[start:end]
	} else {
		out.f32 = t.f32[start:end]
	}
	return out
}

// Clone returns a copy with its own storage.
func (t Tensor) Clone() Tensor {
	out := Tensor{dtype: t.dtype, device: t.device}
	if t.dtype == Float64 {
		out.f64 = append([]float64(nil), t.f64...)
	} else {
		out.f32 = append([]float32(nil), t.f32...)
	}
	return out
}

// Gather returns a new tensor holding t[indices[0]], t[indices[1]], ...
func (t Tensor) Gather(indices []int) Tensor {
	out := Tensor{dtype: t.dtype, device: t.device}
	if t.dtype == Float64 {
		out.f64 = make([]float64, len(indices))
		for i, idx := range indices {
			out.f64[i] = t.f64[idx]
		}
	} else {
		out.f32 = make([]float32, len(indices))
		for i, idx := range indices {
			out.f32[i] = t.f32[idx]
		}
	}
	return out
}

// To returns t placed on device. Storage is host memory for every device
// this package knows about, so the data is shared.
func (t Tensor) To(device Device) Tensor {
	t.device = device
	return t
}

// Cat concatenates a and b into freshly allocated storage.
func Cat(a, b Tensor) (Tensor, error) {
	if a.dtype != b.dtype {
		return Tensor{}, fmt.Errorf("%w: %s vs %s", ErrDTypeMismatch, a.dtype, b.dtype)
	}
	if a.Device().Name() != b.Device().Name() {
		return Tensor{}, fmt.Errorf("%w: %s vs %s", ErrDeviceMismatch, a.Device().Name(), b.Device().Name())
	}
	out := Tensor{dtype: a.dtype, device: a.device}
	if a.dtype == Float64 {
		out.f64 = make([]float64, 0, len(a.f64)+len(b.f64))
		out.f64 = append(append(out.f64, a.f64...), b.f64...)
	} else {
		out.f32 = make([]float32, 0, len(a.f32)+len(b.f32))
		out.f32 = append(append(out.f32, a.f32...), b.f32...)
	}
	return out, nil
}

// BitEqual reports whether a and b share dtype and length and hold the same
// bit patterns element by element.
func BitEqual(a, b Tensor) bool {
	if a.dtype != b.dtype || a.Len() != b.Len() {
		return false
	}
	if a.dtype == Float64 {
		for i := range a.f64 {
			if math.Float64bits(a.f64[i]) != math.Float64bits(b.f64[i]) {
				return false
			}
		}
		return true
	}
	for i := range a.f32 {
		if math.Float32bits(a.f32[i]) != math.Float32bits(b.f32[i]) {
			return false
		}
	}
	return true
}

func (t Tensor) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Float64s())
}

// UnmarshalJSON decodes a JSON number array. The dtype already set on t is
// kept, so decode into a tensor built with Empty to pick float64.
func (t *Tensor) UnmarshalJSON(data []byte) error {
	var values []float64
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	*t = New(t.dtype, t.device, values)
	return nil
}
