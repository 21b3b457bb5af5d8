package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Row is a decoded table record, keyed by column name.
type Row map[string]any

// Marker bytes that begin every encoded table row.
const (
	MarkerLive    byte = '+'
	MarkerEscaped byte = '*'
	MarkerTomb    byte = '-'
)

// ErrTombstoned is returned by DecodeRow for a row whose marker is
// MarkerTomb. Tombstoned rows are never handed to user predicates.
var ErrTombstoned = errors.New("codec: row is tombstoned")

// EncodeRow renders row according to schema, returning the marker
// byte chosen ('+' or '*') and the full encoded line (without a
// trailing newline). Any string or object cell containing '|', '\r'
// or '\n' forces marker '*' and is percent-escaped.
func EncodeRow(row Row, schema Schema) (marker byte, line []byte, err error) {
	cells := make([]string, len(schema.Columns))
	escaped := false
	for i, col := range schema.Columns {
		v, ok := row[col.Name]
		if !ok || v == nil {
			cells[i] = ""
			continue
		}
		cell, needsEsc, err := encodeCell(v, col)
		if err != nil {
			return 0, nil, fmt.Errorf("codec: column %q: %w", col.Name, err)
		}
		if needsEsc {
			cell = percentEscape(cell)
			escaped = true
		}
		cells[i] = cell
	}
	marker = MarkerLive
	if escaped {
		marker = MarkerEscaped
	}
	var buf bytes.Buffer
	buf.WriteByte(marker)
	for _, c := range cells {
		buf.WriteByte('|')
		buf.WriteString(c)
	}
	return marker, buf.Bytes(), nil
}

func encodeCell(v any, col Column) (cell string, needsEscape bool, err error) {
	switch col.Type {
	case TypeString:
		s, ok := v.(string)
		if !ok {
			return "", false, fmt.Errorf("expected string, got %T", v)
		}
		return s, mustEscape(s), nil
	case TypeNumber:
		f, ok := toFloat64(v)
		if !ok {
			return "", false, fmt.Errorf("expected number, got %T", v)
		}
		return strconv.FormatFloat(f, 'f', -1, 64), false, nil
	case TypeBoolean:
		b, ok := v.(bool)
		if !ok {
			return "", false, fmt.Errorf("expected boolean, got %T", v)
		}
		if b {
			return "1", false, nil
		}
		return "0", false, nil
	case TypeDate:
		t, ok := asTime(v)
		if !ok {
			return "", false, fmt.Errorf("expected date, got %T", v)
		}
		return strconv.FormatInt(t.UnixMilli(), 10), false, nil
	case TypeObject:
		buf, err := json.Marshal(v)
		if err != nil {
			return "", false, err
		}
		s := string(buf)
		return s, mustEscape(s), nil
	default:
		return "", false, fmt.Errorf("unknown column type %d", col.Type)
	}
}

// DecodeRow parses an encoded line back into a Row. keys, if
// non-empty, restricts the decode to that subset of schema columns
// (the partial projection path); fields outside the subset are
// skipped entirely rather than decoded and discarded.
func DecodeRow(line []byte, schema Schema, keys []string) (Row, error) {
	if len(line) == 0 {
		return nil, fmt.Errorf("codec: empty row")
	}
	parts := strings.Split(string(line), "|")
	marker := parts[0]
	if marker == string(MarkerTomb) {
		return nil, ErrTombstoned
	}
	escaped := marker == string(MarkerEscaped)
	values := parts[1:]

	var want map[string]bool
	if len(keys) > 0 {
		want = make(map[string]bool, len(keys))
		for _, k := range keys {
			want[k] = true
		}
	}

	row := make(Row, len(schema.Columns))
	for _, col := range schema.Columns {
		if want != nil && !want[col.Name] {
			continue
		}
		idx := col.Position - 1
		if idx < 0 || idx >= len(values) {
			continue
		}
		raw := values[idx]
		if raw == "" {
			continue
		}
		if escaped && (col.Type == TypeString || col.Type == TypeObject) {
			raw = percentUnescape(raw)
		}
		v, err := decodeCell(raw, col.Type)
		if err != nil {
			return nil, fmt.Errorf("codec: column %q: %w", col.Name, err)
		}
		row[col.Name] = v
	}
	return row, nil
}

func decodeCell(raw string, t ColumnType) (any, error) {
	switch t {
	case TypeString:
		return raw, nil
	case TypeNumber:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, err
		}
		return f, nil
	case TypeBoolean:
		return raw == "1", nil
	case TypeDate:
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, err
		}
		return time.UnixMilli(ms).UTC(), nil
	case TypeObject:
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown column type %d", t)
	}
}

func mustEscape(s string) bool {
	return strings.ContainsAny(s, "|\r\n")
}

func percentEscape(s string) string {
	if !mustEscape(s) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '|':
			b.WriteString("%7C")
		case '\r':
			b.WriteString("%0D")
		case '\n':
			b.WriteString("%0A")
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func percentUnescape(s string) string {
	s = strings.ReplaceAll(s, "%7C", "|")
	s = strings.ReplaceAll(s, "%0D", "\r")
	s = strings.ReplaceAll(s, "%0A", "\n")
	return s
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed, true
		}
	case int64:
		return time.UnixMilli(t).UTC(), true
	case float64:
		return time.UnixMilli(int64(t)).UTC(), true
	}
	return time.Time{}, false
}
