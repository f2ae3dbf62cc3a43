package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"vigil/core"
)

const (
	// Maximum size for JSON columns read back from the database
	maxJSONFieldSize = 1 << 20

	// timeLayout is fixed width so lexical order equals chronological order
	// and substr(ts, 1, 13) is the hour bucket.
	timeLayout = "2006-01-02T15:04:05.000000000Z"
)

// safeUnmarshalJSON unmarshals JSON with size validation
func safeUnmarshalJSON(data string, v interface{}) error {
	if len(data) > maxJSONFieldSize {
		return fmt.Errorf("JSON field exceeds maximum size (%d > %d bytes)", len(data), maxJSONFieldSize)
	}
	if data == "" || data == "null" {
		return nil
	}
	return json.Unmarshal([]byte(data), v)
}

// encodeColumn marshals v for a JSON column. A value that safeUnmarshalJSON
// could not read back is rejected with a ValidationError before any write.
func encodeColumn(op, field string, v interface{}) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", storageErr(op, fmt.Errorf("failed to marshal %s: %w", field, err))
	}
	data := strings.TrimSuffix(buf.String(), "\n")
	if len(data) > maxJSONFieldSize {
		return "", core.NewValidationError(field, "encoded %s is %d bytes, limit is %d", field, len(data), maxJSONFieldSize)
	}
	return data, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := parseTime(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
