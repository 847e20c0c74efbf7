package variable

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
)

// Stringify renders an output value for substitution into text. Strings are
// inserted as-is, numbers and booleans in their shortest canonical form, and
// nil, objects and arrays as compact JSON.
func Stringify(v any) (s string) {
	defer func() {
		if r := recover(); r != nil {
			s = fallback(v)
		}
	}()

	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case []byte:
		return string(val)
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int8, int16, int32, int64:
		return fmt.Sprintf("%d", val)
	case uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", val)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	case fmt.Stringer:
		return val.String()
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fallback(v)
	}
	return string(data)
}

// fallback renders values encoding/json rejects. Containers are not printed
// with %v because a self-referencing map would recurse without bound.
func fallback(v any) string {
	switch reflect.ValueOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct, reflect.Pointer, reflect.Interface:
		return fmt.Sprintf("<%T>", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
