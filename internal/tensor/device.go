package tensor

import (
	"errors"
	"fmt"
	"sync"
)

// Device is the compute target numeric tensors live on. Synchronize blocks
// until every pending write issued on the device has landed.
type Device interface {
	Name() string
	Synchronize() error
}

type cpuDevice struct{}

func (cpuDevice) Name() string       { return "cpu" }
func (cpuDevice) Synchronize() error { return nil }

// CPU executes synchronously, so its fence is a no-op.
var CPU Device = cpuDevice{}

var (
	ErrUnknownDevice = errors.New("unknown device")
	ErrUnknownDType  = errors.New("unknown dtype")
)

var (
	devicesMu sync.RWMutex
	devices   = map[string]Device{"cpu": CPU}
)

// RegisterDevice makes a device available to ParseDevice under its name.
func RegisterDevice(d Device) {
	devicesMu.Lock()
	defer devicesMu.Unlock()
	devices[d.Name()] = d
}

func ParseDevice(name string) (Device, error) {
	if name == "" {
		return CPU, nil
	}
	devicesMu.RLock()
	defer devicesMu.RUnlock()
	d, ok := devices[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDevice, name)
	}
	return d, nil
}

type DType int

const (
	Float32 DType = iota
	Float64
)

func (d DType) String() string {
	switch d {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	default:
		return fmt.Sprintf("dtype(%d)", int(d))
	}
}

// Size returns the width in bytes of one element.
func (d DType) Size() int {
	if d == Float64 {
		return 8
	}
	return 4
}

func ParseDType(name string) (DType, error) {
	switch name {
	case "", "float32", "float":
		return Float32, nil
	case "float64", "double":
		return Float64, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownDType, name)
	}
}
