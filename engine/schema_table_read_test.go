package engine

import (
	"testing"

	"docbase/codec"
	"docbase/query"
)

func findRowSync(t *testing.T, table *SchemaTable, qb *query.QueryBuilder) (any, int) {
	t.Helper()
	type out struct {
		res   any
		count int
		err   error
	}
	done := make(chan out, 1)
	table.Find(qb, func(err error, res any, count int) { done <- out{res, count, err} })
	o := <-done
	if o.err != nil {
		t.Fatalf("Find: %v", o.err)
	}
	return o.res, o.count
}

func TestFindRowMatchesPredicate(t *testing.T) {
	dir := t.TempDir()
	table, err := OpenTable(dir, "people", schemaFor(t))
	if err != nil {
		t.Fatalf("OpenTable: %v", err)
	}
	insertRowSync(t, table, codec.Row{"id": "1", "name": "a", "score": float64(1)})
	insertRowSync(t, table, codec.Row{"id": "2", "name": "b", "score": float64(2)})

	res, count := findRowSync(t, table, query.New().Where("score", ">", float64(1)))
	if count != 1 {
		t.Fatalf("expected 1 match, got %d", count)
	}
	docs := res.([]Document)
	if docs[0]["id"] != "2" {
		t.Fatalf("expected row 2, got %v", docs[0])
	}
}

func TestFindRowScalarSum(t *testing.T) {
	dir := t.TempDir()
	table, err := OpenTable(dir, "people", schemaFor(t))
	if err != nil {
		t.Fatalf("OpenTable: %v", err)
	}
	insertRowSync(t, table, codec.Row{"id": "1", "name": "a", "score": float64(1)})
	insertRowSync(t, table, codec.Row{"id": "2", "name": "b", "score": float64(2)})

	res, _ := findRowSync(t, table, query.New().Scalar(query.ScalarSum, "score"))
	if res.(float64) != 3 {
		t.Fatalf("expected sum 3, got %v", res)
	}
}

func TestFindReverseRowReturnsLastMatchFirst(t *testing.T) {
	dir := t.TempDir()
	table, err := OpenTable(dir, "people", schemaFor(t))
	if err != nil {
		t.Fatalf("OpenTable: %v", err)
	}
	insertRowSync(t, table, codec.Row{"id": "1", "name": "a", "score": float64(1)})
	insertRowSync(t, table, codec.Row{"id": "2", "name": "b", "score": float64(1)})

	type out struct {
		res   any
		count int
		err   error
	}
	done := make(chan out, 1)
	table.FindReverse(query.New().Where("score", "==", float64(1)).First(), func(err error, res any, count int) {
		done <- out{res, count, err}
	})
	o := <-done
	if o.err != nil {
		t.Fatalf("FindReverse: %v", o.err)
	}
	doc, ok := o.res.(Document)
	if !ok {
		t.Fatalf("expected a single Document result, got %T", o.res)
	}
	if doc["id"] != "2" {
		t.Fatalf("expected last-written row id 2 first, got %v", doc["id"])
	}
}

func TestFindRowSkipsTombstonedRows(t *testing.T) {
	dir := t.TempDir()
	table, err := OpenTable(dir, "people", schemaFor(t))
	if err != nil {
		t.Fatalf("OpenTable: %v", err)
	}
	insertRowSync(t, table, codec.Row{"id": "keep", "name": "a", "score": float64(1)})
	insertRowSync(t, table, codec.Row{"id": "drop", "name": "b", "score": float64(2)})

	removeDone := make(chan error, 1)
	table.RemoveRow(query.New().Where("id", "==", "drop"), func(err error, count int) { removeDone <- err })
	if err := <-removeDone; err != nil {
		t.Fatalf("RemoveRow: %v", err)
	}

	res, count := findRowSync(t, table, query.New())
	if count != 1 {
		t.Fatalf("expected 1 live row, got %d", count)
	}
	docs := res.([]Document)
	if docs[0]["id"] != "keep" {
		t.Fatalf("expected the surviving row, got %v", docs[0])
	}
}
