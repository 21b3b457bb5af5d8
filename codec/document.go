// Package codec implements the two on-disk record formats used by
// docbase: free-form JSON documents (one object per line) and
// fixed-schema pipe-delimited table rows. Both round-trip through
// Encode/Decode pairs; the JSON codec additionally applies a
// byte-length-preserving rewrite to boolean fields so that toggling a
// boolean never changes a line's length, which is what lets the
// engine overwrite such a line in place instead of tombstoning it.
package codec

import (
	"regexp"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// Document is a free-form JSON object, decoded into Go's natural
// dynamic representation (map/slice/string/float64/bool/nil), with
// ISO-8601 date strings reconstructed into time.Time on Decode.
type Document map[string]any

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// boolPad matches a boolean object field immediately followed by the
// delimiter that closes its enclosing object or array element, and
// inserts a single space between "true" and that delimiter. "false"
// is already one byte longer than "true"; the padding makes both
// encodings occupy the same number of bytes so flipping the value in
// place never changes the line's length. The trailing whitespace is
// ordinary JSON whitespace and is ignored by any compliant decoder.
var boolPad = regexp.MustCompile(`:true([,}\]])`)

// EncodeDocument marshals doc to its on-disk line form (without a
// trailing newline; the caller joins lines with '\n').
func EncodeDocument(doc Document) ([]byte, error) {
	buf, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return boolPad.ReplaceAll(buf, []byte(":true $1")), nil
}

// DecodeDocument parses one line into a Document, reconstructing
// ISO-8601 date strings into time.Time values throughout the
// document tree. A malformed line returns the unmarshal error; the
// engine's scans skip such lines rather than aborting.
func DecodeDocument(line []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(line, &doc); err != nil {
		return nil, err
	}
	reviveDates(doc)
	return doc, nil
}

func reviveDates(v any) any {
	switch x := v.(type) {
	case Document:
		for k, child := range x {
			x[k] = reviveDates(child)
		}
		return x
	case map[string]any:
		for k, child := range x {
			x[k] = reviveDates(child)
		}
		return x
	case []any:
		for i, child := range x {
			x[i] = reviveDates(child)
		}
		return x
	case string:
		if t, ok := parseISODate(x); ok {
			return t
		}
		return x
	default:
		return v
	}
}

var isoDatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:\d{2})$`)

func parseISODate(s string) (time.Time, bool) {
	if !isoDatePattern.MatchString(s) {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
