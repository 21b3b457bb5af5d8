package engine

import (
	"os"
	"sync"
	"testing"

	"docbase/query"
)

func TestWithJSONBufferOverridesDefault(t *testing.T) {
	e, err := Open(t.TempDir(), "test", WithJSONBuffer(5))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if e.jsonBuffer != 5 {
		t.Fatalf("expected jsonBuffer 5, got %d", e.jsonBuffer)
	}
}

func TestWithJSONBufferIgnoresNonPositive(t *testing.T) {
	e, err := Open(t.TempDir(), "test", WithJSONBuffer(0))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if e.jsonBuffer != JSONBufferDefault {
		t.Fatalf("expected default jsonBuffer, got %d", e.jsonBuffer)
	}
}

func statSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func mustOpen(t *testing.T) *DocumentEngine {
	t.Helper()
	e, err := Open(t.TempDir(), "test")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return e
}

func insertSync(t *testing.T, e *DocumentEngine, doc Document) {
	t.Helper()
	done := make(chan error, 1)
	e.Insert(doc, func(err error, count int) { done <- err })
	if err := <-done; err != nil {
		t.Fatalf("Insert: %v", err)
	}
}

func findSync(t *testing.T, e *DocumentEngine, qb *query.QueryBuilder) (any, int) {
	t.Helper()
	type out struct {
		res   any
		count int
		err   error
	}
	done := make(chan out, 1)
	e.Find(qb, func(err error, res any, count int) { done <- out{res, count, err} })
	o := <-done
	if o.err != nil {
		t.Fatalf("Find: %v", o.err)
	}
	return o.res, o.count
}

func TestInsertAndWhereQuery(t *testing.T) {
	e := mustOpen(t)
	insertSync(t, e, Document{"id": "A", "n": float64(1)})
	insertSync(t, e, Document{"id": "B", "n": float64(2)})

	res, count := findSync(t, e, query.New().Where("n", ">", float64(1)))
	if count != 1 {
		t.Fatalf("expected 1 match, got %d", count)
	}
	docs := res.([]Document)
	if docs[0]["id"] != "B" {
		t.Fatalf("expected B, got %v", docs[0])
	}
}

func TestCountAndSumScalars(t *testing.T) {
	e := mustOpen(t)
	insertSync(t, e, Document{"id": "A", "n": float64(1)})
	insertSync(t, e, Document{"id": "B", "n": float64(2)})

	res, _ := findSync(t, e, query.New().Scalar(query.ScalarCount, ""))
	if res.(float64) != 2 {
		t.Fatalf("expected count 2, got %v", res)
	}

	res, _ = findSync(t, e, query.New().Scalar(query.ScalarSum, "n"))
	if res.(float64) != 3 {
		t.Fatalf("expected sum 3, got %v", res)
	}
}

func TestUpdateInPlacePreservesByteLength(t *testing.T) {
	e := mustOpen(t)
	insertSync(t, e, Document{"id": "X", "active": true})

	before, err := statSize(e.dataPath)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}

	done := make(chan error, 1)
	e.Update(query.New().Where("id", "==", "X"), Mutation{Patch: Document{"active": false}}, func(err error, count int) {
		done <- err
	})
	if err := <-done; err != nil {
		t.Fatalf("Update: %v", err)
	}

	after, err := statSize(e.dataPath)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if before != after {
		t.Fatalf("expected byte length to be preserved, got %d -> %d", before, after)
	}

	res, _ := findSync(t, e, query.New().Where("id", "==", "X"))
	docs := res.([]Document)
	if len(docs) != 1 || docs[0]["active"] != false {
		t.Fatalf("expected active=false, got %+v", docs)
	}
}

func TestUpdateGrowingFieldAppendsTombstonedTail(t *testing.T) {
	e := mustOpen(t)
	insertSync(t, e, Document{"id": "X", "active": false})

	done := make(chan error, 1)
	e.Update(query.New().Where("id", "==", "X"), Mutation{Patch: Document{"n": float64(5)}}, func(err error, count int) {
		done <- err
	})
	if err := <-done; err != nil {
		t.Fatalf("Update: %v", err)
	}

	res, count := findSync(t, e, query.New().Where("id", "==", "X"))
	if count != 1 {
		t.Fatalf("expected exactly one live record for id X, got %d", count)
	}
	docs := res.([]Document)
	if docs[0]["n"] != float64(5) {
		t.Fatalf("expected n=5, got %+v", docs[0])
	}
}

func TestConcurrentAppendsAllPersist(t *testing.T) {
	e := mustOpen(t)
	const n = 10
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			done := make(chan error, 1)
			e.Insert(Document{"i": float64(i)}, func(err error, count int) { done <- err })
			<-done
		}(i)
	}
	wg.Wait()

	_, count := findSync(t, e, query.New())
	if count != n {
		t.Fatalf("expected %d documents, got %d", n, count)
	}
}

func TestRemoveThenCleanDropsTombstones(t *testing.T) {
	e := mustOpen(t)
	insertSync(t, e, Document{"id": "keep", "del": false})
	insertSync(t, e, Document{"id": "drop", "del": true})

	done := make(chan error, 1)
	e.Remove(query.New().Where("del", "==", true), func(err error, count int) { done <- err })
	if err := <-done; err != nil {
		t.Fatalf("Remove: %v", err)
	}

	_, count := findSync(t, e, query.New())
	if count != 1 {
		t.Fatalf("expected 1 live document after remove, got %d", count)
	}

	cleanDone := make(chan error, 1)
	e.Clean(func(err error) { cleanDone <- err })
	if err := <-cleanDone; err != nil {
		t.Fatalf("Clean: %v", err)
	}

	_, count = findSync(t, e, query.New())
	if count != 1 {
		t.Fatalf("expected 1 live document after clean, got %d", count)
	}
}

func TestFirstQueryReturnsAtMostOne(t *testing.T) {
	e := mustOpen(t)
	insertSync(t, e, Document{"id": "A", "n": float64(1)})
	insertSync(t, e, Document{"id": "B", "n": float64(1)})

	res, count := findSync(t, e, query.New().Where("n", "==", float64(1)).First())
	if count != 1 {
		t.Fatalf("expected count 1, got %d", count)
	}
	if _, ok := res.(Document); !ok {
		t.Fatalf("expected a single Document result, got %T", res)
	}
}

func TestEmptyCallbackSurfacesError(t *testing.T) {
	e := mustOpen(t)
	type out struct {
		err error
	}
	done := make(chan out, 1)
	e.Find(query.New().Where("id", "==", "nope").Callback("no match"), func(err error, res any, count int) {
		done <- out{err}
	})
	o := <-done
	if o.err == nil {
		t.Fatalf("expected EmptyResult error")
	}
}

func TestReadOnlyRejectsWrites(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, "ro", WithReadOnly())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	done := make(chan error, 1)
	e.Insert(Document{"id": "x"}, func(err error, count int) { done <- err })
	if err := <-done; err != ErrReadOnly {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
}
