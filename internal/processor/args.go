package processor

import (
	"errors"

	"github.com/m-mizutani/goerr/v2"
)

var ErrInvalidArgs = errors.New("invalid processor arguments")

// Float reads a numeric argument. Config decoders hand numbers over as int,
// int64 or float64 depending on format, so all three are accepted.
func Float(args map[string]any, key string, fallback float64) (float64, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return fallback, nil
	}
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	default:
		return 0, goerr.Wrap(ErrInvalidArgs, "argument is not a number", goerr.V("key", key), goerr.V("value", raw))
	}
}

// Int reads an integral argument; float values must have no fraction.
func Int(args map[string]any, key string, fallback int) (int, error) {
	f, err := Float(args, key, float64(fallback))
	if err != nil {
		return 0, err
	}
	if f != float64(int(f)) {
		return 0, goerr.Wrap(ErrInvalidArgs, "argument is not an integer", goerr.V("key", key), goerr.V("value", f))
	}
	return int(f), nil
}

func Bool(args map[string]any, key string, fallback bool) (bool, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return fallback, nil
	}
	v, ok := raw.(bool)
	if !ok {
		return false, goerr.Wrap(ErrInvalidArgs, "argument is not a bool", goerr.V("key", key), goerr.V("value", raw))
	}
	return v, nil
}

// Section reads a nested mapping, as found in state dicts.
func Section(state map[string]any, key string) (map[string]any, error) {
	raw, ok := state[key]
	if !ok {
		return nil, goerr.Wrap(ErrInvalidArgs, "missing section", goerr.V("key", key))
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, goerr.Wrap(ErrInvalidArgs, "section is not a mapping", goerr.V("key", key))
	}
	return m, nil
}

// Required is Float without a fallback.
func Required(state map[string]any, key string) (float64, error) {
	if _, ok := state[key]; !ok {
		return 0, goerr.Wrap(ErrInvalidArgs, "missing value", goerr.V("key", key))
	}
	return Float(state, key, 0)
}
