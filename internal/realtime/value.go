package realtime

import (
	"bytes"
	"fmt"
	"math"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	serverValueKey   = ".sv"
	serverValueStamp = "timestamp"
)

// ServerTimestamp returns a placeholder that the database replaces with its own
// clock (Unix milliseconds) at the moment the write is applied.
func ServerTimestamp() map[string]any {
	return map[string]any{serverValueKey: serverValueStamp}
}

// Normalize converts an arbitrary Go value (structs with msgpack tags, maps,
// scalars) into the plain representation stored in the tree: map[string]any,
// []any, string, bool, int64, float64. Server value placeholders are kept.
func Normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode value: %w", err)
	}
	return DecodeLoose(data)
}

// DecodeLoose decodes msgpack data into the plain tree representation.
func DecodeLoose(data []byte) (any, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	v, err := dec.DecodeInterfaceLoose()
	if err != nil {
		return nil, fmt.Errorf("failed to decode value: %w", err)
	}
	return v, nil
}

// resolve replaces server values, converts unsigned integers, validates map
// keys and collapses empty maps and nil children.
func resolve(v any, now int64) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		if len(t) == 1 {
			if sv, ok := t[serverValueKey]; ok {
				if sv != serverValueStamp {
					return nil, fmt.Errorf("unknown server value %v", sv)
				}
				return now, nil
			}
		}
		out := make(map[string]any, len(t))
		for k, child := range t {
			if err := ValidateKey(k); err != nil {
				return nil, err
			}
			r, err := resolve(child, now)
			if err != nil {
				return nil, err
			}
			if r != nil {
				out[k] = r
			}
		}
		if len(out) == 0 {
			return nil, nil
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			r, err := resolve(child, now)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	case uint64:
		if t > math.MaxInt64 {
			return float64(t), nil
		}
		return int64(t), nil
	case float32:
		return float64(t), nil
	default:
		return v, nil
	}
}

func clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			out[k] = clone(child)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = clone(child)
		}
		return out
	default:
		return v
	}
}

// Decode converts a plain tree value into v, which is usually a pointer to a
// struct with msgpack tags or to a map.
func Decode(value any, v any) error {
	data, err := msgpack.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode value: %w", err)
	}
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode value: %w", err)
	}
	return nil
}

// Plain converts a value decoded from the wire into the tree representation:
// unsigned and single precision numbers are widened, everything else is kept.
// Server value placeholders are not resolved.
func Plain(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			out[k] = Plain(child)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = Plain(child)
		}
		return out
	case uint64:
		if t > math.MaxInt64 {
			return float64(t)
		}
		return int64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}
