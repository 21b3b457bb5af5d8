package codec

import (
	"testing"
	"time"
)

func TestDocumentRoundTrip(t *testing.T) {
	doc := Document{"id": "A", "n": float64(1), "active": true}
	line, err := EncodeDocument(doc)
	if err != nil {
		t.Fatalf("EncodeDocument: %v", err)
	}
	got, err := DecodeDocument(line)
	if err != nil {
		t.Fatalf("DecodeDocument: %v", err)
	}
	if got["id"] != "A" || got["n"] != float64(1) || got["active"] != true {
		t.Fatalf("round trip mismatch: %#v", got)
	}
}

func TestDocumentBooleanTogglePreservesLength(t *testing.T) {
	docTrue := Document{"active": true}
	docFalse := Document{"active": false}
	lt, err := EncodeDocument(docTrue)
	if err != nil {
		t.Fatalf("encode true: %v", err)
	}
	lf, err := EncodeDocument(docFalse)
	if err != nil {
		t.Fatalf("encode false: %v", err)
	}
	if len(lt) != len(lf) {
		t.Fatalf("boolean toggle changed length: %d (true) vs %d (false); %q vs %q", len(lt), len(lf), lt, lf)
	}
}

func TestDocumentDateRevival(t *testing.T) {
	doc := Document{"created": "2024-01-02T03:04:05Z"}
	line, err := EncodeDocument(doc)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeDocument(line)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	ts, ok := got["created"].(time.Time)
	if !ok {
		t.Fatalf("expected time.Time, got %T", got["created"])
	}
	if !ts.Equal(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Fatalf("unexpected date: %v", ts)
	}
}

func tableSchema() Schema {
	s, err := ParseHeader("id:1|name:1|dt:4|meta:5")
	if err != nil {
		panic(err)
	}
	return s
}

func TestSchemaHeaderRoundTrip(t *testing.T) {
	s := tableSchema()
	header := s.EncodeHeader()
	got, err := ParseHeader(header)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if len(got.Columns) != len(s.Columns) {
		t.Fatalf("column count mismatch")
	}
	for i := range s.Columns {
		if got.Columns[i] != s.Columns[i] {
			t.Fatalf("column %d mismatch: %+v != %+v", i, got.Columns[i], s.Columns[i])
		}
	}
}

func TestRowRoundTripEscaped(t *testing.T) {
	schema := tableSchema()
	now := time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)
	row := Row{
		"id":   "1",
		"name": "a|b",
		"dt":   now,
		"meta": map[string]any{"x": "y\n"},
	}
	marker, line, err := EncodeRow(row, schema)
	if err != nil {
		t.Fatalf("EncodeRow: %v", err)
	}
	if marker != MarkerEscaped {
		t.Fatalf("expected escaped marker, got %q", marker)
	}
	got, err := DecodeRow(line, schema, nil)
	if err != nil {
		t.Fatalf("DecodeRow: %v", err)
	}
	if got["name"] != "a|b" {
		t.Fatalf("name mismatch: %v", got["name"])
	}
	gotMeta, ok := got["meta"].(map[string]any)
	if !ok || gotMeta["x"] != "y\n" {
		t.Fatalf("meta mismatch: %#v", got["meta"])
	}
	gotDt, ok := got["dt"].(time.Time)
	if !ok || !gotDt.Equal(now) {
		t.Fatalf("date mismatch: %v", got["dt"])
	}
}

func TestRowRoundTripUnescaped(t *testing.T) {
	schema := tableSchema()
	row := Row{"id": "1", "name": "plain"}
	marker, line, err := EncodeRow(row, schema)
	if err != nil {
		t.Fatalf("EncodeRow: %v", err)
	}
	if marker != MarkerLive {
		t.Fatalf("expected live marker, got %q", marker)
	}
	got, err := DecodeRow(line, schema, nil)
	if err != nil {
		t.Fatalf("DecodeRow: %v", err)
	}
	if got["name"] != "plain" {
		t.Fatalf("name mismatch: %v", got["name"])
	}
}

func TestDecodeRowTombstoned(t *testing.T) {
	schema := tableSchema()
	_, line, err := EncodeRow(Row{"id": "1"}, schema)
	if err != nil {
		t.Fatalf("EncodeRow: %v", err)
	}
	line[0] = MarkerTomb
	_, err = DecodeRow(line, schema, nil)
	if err != ErrTombstoned {
		t.Fatalf("expected ErrTombstoned, got %v", err)
	}
}

func TestDecodeRowPartialProjection(t *testing.T) {
	schema := tableSchema()
	_, line, err := EncodeRow(Row{"id": "1", "name": "n"}, schema)
	if err != nil {
		t.Fatalf("EncodeRow: %v", err)
	}
	got, err := DecodeRow(line, schema, []string{"id"})
	if err != nil {
		t.Fatalf("DecodeRow: %v", err)
	}
	if _, ok := got["name"]; ok {
		t.Fatalf("expected name to be skipped by projection")
	}
	if got["id"] != "1" {
		t.Fatalf("expected id to be decoded")
	}
}
