package core

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/xhit/go-str2duration/v2"
)

// OptionSet is an immutable mapping of option keys to values scoped to one
// tool. Values are snapshotted on construction; getters never expose the
// internal storage.
type OptionSet struct {
	values map[string]any
}

// NewOptionSet snapshots m into a new OptionSet.
func NewOptionSet(m map[string]any) OptionSet {
	if len(m) == 0 {
		return OptionSet{}
	}
	values := make(map[string]any, len(m))
	for k, v := range m {
		values[k] = cloneValue(v)
	}
	return OptionSet{values: values}
}

// Clone returns an independent copy of the set.
func (o OptionSet) Clone() OptionSet {
	return NewOptionSet(o.values)
}

// With returns a new set with key set to value. The receiver is unchanged.
func (o OptionSet) With(key string, value any) OptionSet {
	values := make(map[string]any, len(o.values)+1)
	for k, v := range o.values {
		values[k] = v
	}
	values[key] = value
	return NewOptionSet(values)
}

// Defaults returns a new set where keys missing from o are taken from defaults.
func (o OptionSet) Defaults(defaults map[string]any) OptionSet {
	values := make(map[string]any, len(o.values)+len(defaults))
	for k, v := range defaults {
		values[k] = v
	}
	for k, v := range o.values {
		values[k] = v
	}
	return NewOptionSet(values)
}

// Len returns the number of options.
func (o OptionSet) Len() int {
	return len(o.values)
}

// Has reports whether key is set.
func (o OptionSet) Has(key string) bool {
	_, ok := o.values[key]
	return ok
}

// Keys returns the option keys, sorted.
func (o OptionSet) Keys() []string {
	return sortedKeys(o.values)
}

// Raw returns a deep copy of the underlying values.
func (o OptionSet) Raw() map[string]any {
	out := make(map[string]any, len(o.values))
	for k, v := range o.values {
		out[k] = cloneValue(v)
	}
	return out
}

// Get returns a copy of the raw value for key.
func (o OptionSet) Get(key string) (any, bool) {
	v, ok := o.values[key]
	if !ok {
		return nil, false
	}
	return cloneValue(v), true
}

// String returns the value for key rendered as a string, or fallback when
// the key is absent or nil.
func (o OptionSet) String(key, fallback string) string {
	v, ok := o.values[key]
	if !ok || v == nil {
		return fallback
	}
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}

// Strings returns the value for key as a list. A scalar value is returned as
// a single-element list.
func (o OptionSet) Strings(key string) []string {
	v, ok := o.values[key]
	if !ok || v == nil {
		return nil
	}
	switch val := v.(type) {
	case []string:
		return append([]string(nil), val...)
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if item == nil {
				continue
			}
			out = append(out, fmt.Sprint(item))
		}
		return out
	case string:
		if val == "" {
			return nil
		}
		return []string{val}
	default:
		return []string{fmt.Sprint(val)}
	}
}

// Bool returns the boolean value for key, or fallback when absent. String
// values are parsed with strconv.ParseBool.
func (o OptionSet) Bool(key string, fallback bool) bool {
	v, ok := o.values[key]
	if !ok || v == nil {
		return fallback
	}
	switch val := v.(type) {
	case bool:
		return val
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(val))
		if err != nil {
			return fallback
		}
		return b
	default:
		return fallback
	}
}

// Int returns the integer value for key, or fallback when absent or not numeric.
func (o OptionSet) Int(key string, fallback int) int {
	v, ok := o.values[key]
	if !ok || v == nil {
		return fallback
	}
	switch val := v.(type) {
	case int:
		return val
	case int64:
		return int(val)
	case float64:
		if val != math.Trunc(val) {
			return fallback
		}
		return int(val)
	case json.Number:
		n, err := val.Int64()
		if err != nil {
			return fallback
		}
		return int(n)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			return fallback
		}
		return n
	default:
		return fallback
	}
}

// Duration returns the duration value for key. Strings accept the extended
// unit set ("500ms", "1d2h"); bare numbers are read as milliseconds.
func (o OptionSet) Duration(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := o.values[key]
	if !ok || v == nil {
		return fallback, nil
	}
	switch val := v.(type) {
	case time.Duration:
		return val, nil
	case float64:
		return time.Duration(val * float64(time.Millisecond)), nil
	case int:
		return time.Duration(val) * time.Millisecond, nil
	case string:
		d, err := str2duration.ParseDuration(strings.TrimSpace(val))
		if err != nil {
			return 0, fmt.Errorf("option %q: invalid duration %q: %w", key, val, err)
		}
		return d, nil
	default:
		return 0, fmt.Errorf("option %q: unsupported duration value %v", key, v)
	}
}

// Map returns the nested mapping for key with values rendered as strings.
func (o OptionSet) Map(key string) map[string]string {
	v, ok := o.values[key]
	if !ok || v == nil {
		return nil
	}
	if m, ok := v.(map[string]string); ok {
		out := make(map[string]string, len(m))
		for k, item := range m {
			out[k] = item
		}
		return out
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, item := range m {
		out[k] = fmt.Sprint(item)
	}
	return out
}

// MarshalJSON encodes the set as a plain JSON object.
func (o OptionSet) MarshalJSON() ([]byte, error) {
	if o.values == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(o.values)
}

// UnmarshalJSON decodes a JSON object into the set.
func (o *OptionSet) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*o = NewOptionSet(m)
	return nil
}

// GoString renders the set as sorted key=value pairs.
func (o OptionSet) GoString() string {
	keys := o.Keys()
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, o.values[k]))
	}
	return "OptionSet{" + strings.Join(parts, ", ") + "}"
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	case map[string]string:
		out := make(map[string]string, len(val))
		for k, item := range val {
			out[k] = item
		}
		return out
	default:
		return v
	}
}
