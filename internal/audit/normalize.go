package audit

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
)

// Normalize converts v into plain JSON values: nil, bool, string, float64,
// int64, []any and map[string]any. Builtin numbers are widened and
// non-finite floats become nil. Any other type goes through its JSON
// encoding. Normalize never fails; values that cannot be encoded are
// rendered with fmt.
func Normalize(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case bool, string, int64:
		return x
	case float64:
		return finite(x)
	case float32:
		return finite(float64(x))
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint:
		return unsigned(uint64(x))
	case uint64:
		return unsigned(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case time.Duration:
		return x.String()
	case error:
		return x.Error()
	case domain.FeatureSet:
		out := make(map[string]any, len(x))
		for k, f := range x {
			out[k] = finite(f)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = Normalize(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = Normalize(e)
		}
		return out
	case []string:
		if x == nil {
			return nil
		}
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = e
		}
		return out
	case []float64:
		if x == nil {
			return nil
		}
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = finite(e)
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = e
		}
		return out
	case json.RawMessage:
		return decodeJSON(x, v)
	}

	return viaJSON(v)
}

// viaJSON round-trips v through its JSON encoding, then normalizes the result
// so numbers decoded as float64 stay plain.
func viaJSON(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return decodeJSON(data, v)
}

func decodeJSON(data []byte, orig any) any {
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Sprint(orig)
	}
	return Normalize(out)
}

func finite(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}

func unsigned(u uint64) any {
	if u <= math.MaxInt64 {
		return int64(u)
	}
	return float64(u)
}

// NormalizeMap applies Normalize to every value of data.
func NormalizeMap(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = Normalize(v)
	}
	return out
}
