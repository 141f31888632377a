package storage

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// EncodeValue converts a value to its stored text form. Structured values
// (maps, slices, structs) become JSON; scalars are stringified as-is.
func EncodeValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	}

	switch reflect.TypeOf(value).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct, reflect.Ptr:
		data, err := json.Marshal(value)
		if err != nil {
			// Fall back to the string form rather than dropping the write;
			// this layer is best-effort coordination, not a system of record.
			return fmt.Sprint(value)
		}
		return string(data)
	default:
		return fmt.Sprint(value)
	}
}

// DecodeValue reverses EncodeValue: payloads that look like JSON objects or
// arrays are decoded back into map[string]interface{} / []interface{};
// everything else is returned as the raw string.
func DecodeValue(raw string) interface{} {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) >= 2 &&
		((strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}")) ||
			(strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]"))) {
		var decoded interface{}
		if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
			return decoded
		}
	}
	return raw
}

// DecodeAll applies DecodeValue across a list of stored values.
func DecodeAll(raw []string) []interface{} {
	values := make([]interface{}, len(raw))
	for i, r := range raw {
		values[i] = DecodeValue(r)
	}
	return values
}
