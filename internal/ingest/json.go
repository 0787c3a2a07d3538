package ingest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"attendguard/internal/normalize"
)

func ParseJSONBytes(data []byte) (*normalize.SwipeFields, error) {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	return ParseJSONMap(obj), nil
}

func ParseJSONMap(obj map[string]any) *normalize.SwipeFields {
	fields := &normalize.SwipeFields{Extras: map[string]string{}}
	for key, val := range obj {
		if val == nil {
			continue
		}
		fields.Extras[strings.ToLower(key)] = stringify(val)
	}
	fields.Timestamp = firstNonEmpty(fields.Extras, timestampKeys...)
	fields.ReaderID = firstNonEmpty(fields.Extras, readerKeys...)
	fields.Credential = firstNonEmpty(fields.Extras, credentialKeys...)
	fields.Intent = firstNonEmpty(fields.Extras, intentKeys...)
	return fields
}

// stringify keeps unix timestamps decoded as float64 out of exponent form.
func stringify(v any) string {
	if f, ok := v.(float64); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}
