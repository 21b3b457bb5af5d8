package engine

import (
	"fmt"
	"sync"
	"time"

	"docbase/codec"
	"docbase/query"
	"docbase/scheduler"
	"docbase/stream"
)

type tableUpdateJob struct {
	predicate  query.Predicate
	opts       query.Options
	mutation   Mutation
	cb         UpdateCallback
	matchCount int
	firstDone  bool
	tombstone  bool // true for RemoveRow jobs: on match, tombstone only
}

type tableMutateState struct {
	mu      sync.Mutex
	pending []*tableUpdateJob
	queued  bool
}

// UpdateRow enqueues a job that applies mutation to every live row
// matching qb, in a single forward pass shared with every other
// UpdateRow/RemoveRow job submitted before the scheduler drains. A
// re-encoded row whose length matches the original is written in
// place; otherwise the original is tombstoned and the new encoding is
// appended, exactly as DocumentEngine.Update does for documents.
func (t *SchemaTable) UpdateRow(qb *query.QueryBuilder, mutation Mutation, cb UpdateCallback) {
	if t.readOnly {
		if cb != nil {
			cb(ErrReadOnly, 0)
		}
		return
	}
	job := &tableUpdateJob{
		predicate: t.compiler.Compile(qb),
		opts:      qb.Options(),
		mutation:  mutation,
		cb:        cb,
	}
	t.enqueueMutate(job)
}

// RemoveRow enqueues a job that tombstones every live row matching qb
// by flipping its marker byte to '-', preserving the line's length.
func (t *SchemaTable) RemoveRow(qb *query.QueryBuilder, cb UpdateCallback) {
	if t.readOnly {
		if cb != nil {
			cb(ErrReadOnly, 0)
		}
		return
	}
	job := &tableUpdateJob{
		predicate: t.compiler.Compile(qb),
		opts:      qb.Options(),
		cb:        cb,
		tombstone: true,
	}
	t.enqueueMutate(job)
}

func (t *SchemaTable) enqueueMutate(job *tableUpdateJob) {
	t.mutateState.mu.Lock()
	t.mutateState.pending = append(t.mutateState.pending, job)
	alreadyQueued := t.mutateState.queued
	t.mutateState.queued = true
	t.mutateState.mu.Unlock()

	if alreadyQueued {
		return
	}

	kind := scheduler.KindUpdate
	if job.tombstone {
		kind = scheduler.KindRemove
	}
	sj := scheduler.NewJob(kind, nil)
	sj.Run = func() { t.drainMutations() }
	t.sched.Enqueue(sj)
}

func (t *SchemaTable) drainMutations() {
	t.mutateState.mu.Lock()
	batch := t.mutateState.pending
	t.mutateState.pending = nil
	t.mutateState.queued = false
	t.mutateState.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	sess, err := stream.OpenUpdate(t.dataPath)
	if err != nil {
		failTableMutateBatch(batch, fmt.Errorf("engine: open table: %w", err))
		return
	}

	schema := t.schema
	ctx := &query.Context{Now: time.Now()}
	index := 0
	scanErr := sess.Scan(func(rec stream.LineRecord) (bool, error) {
		if rec.Position == 0 {
			return true, nil
		}
		if len(rec.Text) == 0 || rec.Text[0] == codec.MarkerTomb {
			return true, nil
		}
		row, err := codec.DecodeRow(rec.Text, schema, nil)
		if err == codec.ErrTombstoned || err != nil {
			// Tombstoned or malformed: skipped silently (§7 ParseError).
			return true, nil
		}
		index++

		current := query.Document(row)
		mutated := false
		removed := false
		for _, job := range batch {
			if job.firstDone {
				continue
			}
			matchedDoc, ok := job.predicate(current, ctx, index)
			if !ok {
				continue
			}
			_ = matchedDoc
			job.matchCount++
			if job.opts.First {
				job.firstDone = true
			}
			if job.tombstone {
				removed = true
				break
			}
			current = applyMutation(current, job.mutation)
			mutated = true
		}

		if removed {
			if err := sess.WriteAt([]byte{codec.MarkerTomb}, rec.Position); err != nil {
				return false, err
			}
			return true, nil
		}
		if !mutated {
			return true, nil
		}

		_, newLine, err := codec.EncodeRow(codec.Row(current), schema)
		if err != nil {
			return true, nil
		}
		if len(newLine) == rec.Length {
			if err := sess.WriteAt(newLine, rec.Position); err != nil {
				return false, err
			}
			return true, nil
		}
		if err := sess.WriteAt([]byte{codec.MarkerTomb}, rec.Position); err != nil {
			return false, err
		}
		if err := sess.Append(append(newLine, '\n')); err != nil {
			return false, err
		}
		return true, nil
	})

	closeErr := sess.Close()
	if scanErr == nil {
		scanErr = closeErr
	}
	if scanErr != nil {
		failTableMutateBatch(batch, fmt.Errorf("engine: table update pass: %w", scanErr))
		return
	}

	for _, job := range batch {
		if job.cb != nil {
			job.cb(nil, job.matchCount)
		}
	}
}

func failTableMutateBatch(batch []*tableUpdateJob, err error) {
	for _, job := range batch {
		if job.cb != nil {
			job.cb(err, 0)
		}
	}
}
