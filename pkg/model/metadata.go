package model

import (
	"bytes"
	"encoding/json"

	"github.com/m-mizutani/goerr/v2"
)

// MaxMetadataSize is the upper bound of the JSON encoded metadata in bytes
const MaxMetadataSize = 64 * 1024

// Metadata is an open mapping from string keys to JSON-like values: string,
// number, bool, nil, []any and map[string]any. Its shape is never validated.
type Metadata map[string]any

// Validate checks that metadata is serializable and within the size limit
func (x Metadata) Validate() error {
	for key, v := range x {
		if !isJSONValue(v) {
			return NewValidationError("metadata", "metadata values must be JSON values",
				goerr.V("key", key))
		}
	}

	// Size is measured without HTML escaping
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(x); err != nil {
		return NewValidationError("metadata", "metadata must be JSON serializable",
			goerr.V("error", err.Error()))
	}
	size := len(bytes.TrimRight(buf.Bytes(), "\n"))
	if size > MaxMetadataSize {
		return NewValidationError("metadata", "metadata is too large",
			goerr.V("size", size),
			goerr.V("max", MaxMetadataSize))
	}

	return nil
}

func (x Metadata) orEmpty() Metadata {
	if x == nil {
		return Metadata{}
	}
	return x
}

// isJSONValue reports whether v is a value that round-trips through JSON
func isJSONValue(v any) bool {
	switch t := v.(type) {
	case nil, string, bool,
		float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, json.Number:
		return true
	case []any:
		for _, e := range t {
			if !isJSONValue(e) {
				return false
			}
		}
		return true
	case map[string]any:
		for _, e := range t {
			if !isJSONValue(e) {
				return false
			}
		}
		return true
	case Metadata:
		return isJSONValue(map[string]any(t))
	default:
		return false
	}
}
