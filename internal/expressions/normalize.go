package expressions

import (
	"bytes"
	"encoding/json"
	"reflect"
)

// Normalize converts v into the JSON-native shapes the resolver traverses:
// map[string]any, []any, string, bool, int, float64 and nil. Integers stay
// integers so that a mapped 42 is still 42. Anything else (structs, typed
// maps and slices) goes through a JSON round trip. The result never aliases
// v's maps or slices.
func Normalize(v any) any {
	switch val := v.(type) {
	case nil, string, bool, int, float64:
		return val
	case int8:
		return int(val)
	case int16:
		return int(val)
	case int32:
		return int(val)
	case int64:
		return int(val)
	case uint8:
		return int(val)
	case uint16:
		return int(val)
	case uint32:
		return int(val)
	case uint64:
		return int(val)
	case uint:
		return int(val)
	case float32:
		return float64(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = Normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Normalize(item)
		}
		return out
	case json.RawMessage:
		if len(val) == 0 {
			return nil
		}
		return decodeJSON(val)
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return int(i)
		}
		f, _ := val.Float64()
		return f
	}

	rv := reflect.ValueOf(v)
	if (rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Map || rv.Kind() == reflect.Slice) && rv.IsNil() {
		return nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	return decodeJSON(data)
}

// decodeJSON decodes preserving integral numbers as int.
func decodeJSON(data []byte) any {
	var out any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil
	}
	return Normalize(out)
}

// DeepCopy returns a structural copy of a normalized value.
func DeepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return DeepCopyMap(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = DeepCopy(item)
		}
		return cp
	default:
		return v
	}
}

// DeepCopyMap creates a deep copy of a map[string]any.
func DeepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = DeepCopy(v)
	}
	return cp
}
