package adapter

import (
	"bytes"
	"encoding/json"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/TobiSchelling/MotionWatch/internal/apperrors"
)

var odataDate = regexp.MustCompile(`^/Date\((-?\d+)([+-]\d{4})?\)/$`)

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseODataDate accepts "/Date(ms)/", "/Date(ms+hhmm)/", RFC 3339 and the
// offset-less ISO forms registries emit. Offset-less values are read as UTC.
func ParseODataDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if m := odataDate.FindStringSubmatch(s); m != nil {
		ms, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return time.Time{}, false
		}
		// The offset suffix is informational; the millis are already UTC.
		return time.UnixMilli(ms).UTC(), true
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

type row map[string]any

// decodeRows unwraps the OData v2 ({"d":{"results":[...]}} or {"d":[...]})
// and v4 ({"value":[...]}) envelopes.
func decodeRows(body []byte) ([]row, error) {
	var envelope struct {
		D     json.RawMessage `json:"d"`
		Value []row           `json:"value"`
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&envelope); err != nil {
		return nil, apperrors.Parse("odata envelope", err)
	}
	if envelope.Value != nil {
		return envelope.Value, nil
	}
	if len(envelope.D) == 0 {
		return nil, apperrors.Parse("odata envelope", errMissingRows)
	}

	inner := json.NewDecoder(bytes.NewReader(envelope.D))
	inner.UseNumber()
	if bytes.HasPrefix(bytes.TrimSpace(envelope.D), []byte("[")) {
		var rows []row
		if err := inner.Decode(&rows); err != nil {
			return nil, apperrors.Parse("odata d array", err)
		}
		return rows, nil
	}
	var wrapped struct {
		Results []row `json:"results"`
	}
	if err := inner.Decode(&wrapped); err != nil {
		return nil, apperrors.Parse("odata d.results", err)
	}
	if wrapped.Results == nil {
		return nil, apperrors.Parse("odata envelope", errMissingRows)
	}
	return wrapped.Results, nil
}

var errMissingRows = errors.New("no rows in response")

func (r row) str(key string) string {
	v, ok := r[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return ""
}
