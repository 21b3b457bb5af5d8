package engine

import (
	"fmt"
	"time"

	"docbase/codec"
	"docbase/query"
	"docbase/scheduler"
	"docbase/stream"

	"golang.org/x/sync/errgroup"
)

// Find compiles qb and evaluates it against every live row, mirroring
// DocumentEngine.Find's compiled-predicate scan. Matched rows are
// delivered as Document values: Row and Document share an identical
// underlying map[string]any representation, so every scalar/listing/
// first/sort option Find supports for JSON documents works unchanged
// here. Multiple Find/FindReverse calls submitted before the
// scheduler drains share a single pass over the table.
func (t *SchemaTable) Find(qb *query.QueryBuilder, cb ReaderCallback) {
	job := newReaderJob(qb, t.compiler.Compile(qb), cb)
	t.enqueueReader(job, scheduler.KindReader, &t.forwardState)
}

// FindReverse is identical to Find except it scans from EOF to BOF, so
// a first() query returns the last-written matching row.
func (t *SchemaTable) FindReverse(qb *query.QueryBuilder, cb ReaderCallback) {
	job := newReaderJob(qb, t.compiler.Compile(qb), cb)
	t.enqueueReader(job, scheduler.KindReaderReverse, &t.reverseState)
}

func (t *SchemaTable) enqueueReader(job *readerJob, kind scheduler.Kind, state *readState) {
	state.mu.Lock()
	state.pending = append(state.pending, job)
	alreadyQueued := state.queued
	state.queued = true
	state.mu.Unlock()

	if alreadyQueued {
		return
	}

	sj := scheduler.NewJob(kind, nil)
	sj.Run = func() {
		t.drainReaders(state, kind == scheduler.KindReaderReverse)
	}
	t.sched.Enqueue(sj)
}

func (t *SchemaTable) drainReaders(state *readState, reverse bool) {
	state.mu.Lock()
	batch := state.pending
	state.pending = nil
	state.queued = false
	state.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	schema := t.schema
	ctx := &query.Context{Now: time.Now()}
	index := 0
	visit := func(rec stream.LineRecord) (bool, error) {
		if rec.Position == 0 {
			return true, nil
		}
		if len(rec.Text) == 0 || rec.Text[0] == codec.MarkerTomb {
			return true, nil
		}
		row, err := codec.DecodeRow(rec.Text, schema, nil)
		if err == codec.ErrTombstoned || err != nil {
			return true, nil
		}
		index++
		doc := query.Document(row)

		allDone := true
		for _, job := range batch {
			if job.done {
				continue
			}
			if projected, ok := job.predicate(doc, ctx, index); ok {
				job.accept(projected)
			}
			if job.satisfied() {
				job.done = true
			} else {
				allDone = false
			}
		}
		return !allDone, nil
	}

	var scanErr error
	if reverse {
		scanErr = stream.ScanReverse(t.dataPath, visit)
	} else {
		scanErr = stream.ScanForward(t.dataPath, visit)
	}

	if scanErr != nil {
		wrapped := fmt.Errorf("engine: table read pass: %w", scanErr)
		for _, job := range batch {
			deliver(job.cb, wrapped, nil, 0)
		}
		return
	}

	var g errgroup.Group
	for _, job := range batch {
		job := job
		g.Go(func() error {
			finalizeReaderJob(job)
			return nil
		})
	}
	g.Wait()
}
