package engine

import (
	"testing"

	"docbase/codec"
)

func schemaFor(t *testing.T) codec.Schema {
	t.Helper()
	s, err := codec.ParseHeader("id:1|name:1|score:2")
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	return s
}

func TestOpenTableWritesHeaderWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	table, err := OpenTable(dir, "people", schemaFor(t))
	if err != nil {
		t.Fatalf("OpenTable: %v", err)
	}
	if len(table.Schema().Columns) != 3 {
		t.Fatalf("expected 3 columns, got %d", len(table.Schema().Columns))
	}
}

func TestInsertRowAndReadBack(t *testing.T) {
	dir := t.TempDir()
	table, err := OpenTable(dir, "people", schemaFor(t))
	if err != nil {
		t.Fatalf("OpenTable: %v", err)
	}
	table.InsertRow(codec.Row{"id": "1", "name": "a|b", "score": float64(9)}, nil)

	rows, err := table.Rows(nil)
	if err != nil {
		t.Fatalf("Rows: %v", err)
	}
	if len(rows) != 1 || rows[0]["name"] != "a|b" {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}

func TestOpenTableReloadsExistingSchema(t *testing.T) {
	dir := t.TempDir()
	first, err := OpenTable(dir, "people", schemaFor(t))
	if err != nil {
		t.Fatalf("OpenTable: %v", err)
	}
	first.InsertRow(codec.Row{"id": "1", "name": "x", "score": float64(1)}, nil)

	second, err := OpenTable(dir, "people", codec.Schema{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if len(second.Schema().Columns) != 3 {
		t.Fatalf("expected reloaded schema to carry 3 columns, got %d", len(second.Schema().Columns))
	}
	rows, err := second.Rows(nil)
	if err != nil {
		t.Fatalf("Rows: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row after reopen, got %d", len(rows))
	}
}

func TestExtendAddsColumnWithoutLosingRows(t *testing.T) {
	dir := t.TempDir()
	table, err := OpenTable(dir, "people", schemaFor(t))
	if err != nil {
		t.Fatalf("OpenTable: %v", err)
	}
	table.InsertRow(codec.Row{"id": "1", "name": "x", "score": float64(1)}, nil)

	if err := table.Extend(codec.Column{Name: "active", Type: codec.TypeBoolean}); err != nil {
		t.Fatalf("Extend: %v", err)
	}
	if len(table.Schema().Columns) != 4 {
		t.Fatalf("expected 4 columns after extend, got %d", len(table.Schema().Columns))
	}

	rows, err := table.Rows(nil)
	if err != nil {
		t.Fatalf("Rows: %v", err)
	}
	if len(rows) != 1 || rows[0]["id"] != "1" {
		t.Fatalf("expected migrated row to survive, got %+v", rows)
	}
}
