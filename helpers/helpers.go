package helpers

import "encoding/json"

// MarshalLine renders v as one newline-terminated JSON document, the unit of
// the NDJSON sink format.
func MarshalLine(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
