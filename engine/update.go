package engine

import (
	"fmt"
	"sync"
	"time"

	"docbase/codec"
	"docbase/events"
	"docbase/query"
	"docbase/scheduler"
	"docbase/stream"
)

// UpdateCallback receives the outcome of an Update/Remove call: err
// set on failure, count is the number of documents matched.
type UpdateCallback func(err error, count int)

// Mutation describes how a matched document is changed. Exactly one
// of Fn or Patch is normally set; Insert, if non-nil, is appended as
// a new document when the update's builder matched nothing.
type Mutation struct {
	// Fn, if set, replaces the document outright with its return
	// value.
	Fn func(doc Document) Document
	// Patch merges fields into the document. A key prefixed with one
	// of '+', '-', '*', '/' applies that arithmetic operator to the
	// existing numeric field (stripping the prefix to find the real
	// field name) instead of overwriting it.
	Patch Document
	// Insert is inserted as a new document if the update matched
	// nothing.
	Insert Document
}

func applyMutation(doc Document, m Mutation) Document {
	if m.Fn != nil {
		return m.Fn(doc)
	}
	out := make(Document, len(doc)+len(m.Patch))
	for k, v := range doc {
		out[k] = v
	}
	for k, v := range m.Patch {
		if len(k) > 1 && isArithOp(k[0]) {
			field := k[1:]
			delta, ok := v.(float64)
			if !ok {
				out[field] = v
				continue
			}
			cur, _ := out[field].(float64)
			out[field] = applyArith(cur, k[0], delta)
			continue
		}
		out[k] = v
	}
	return out
}

func isArithOp(b byte) bool {
	switch b {
	case '+', '-', '*', '/':
		return true
	}
	return false
}

func applyArith(cur float64, op byte, delta float64) float64 {
	switch op {
	case '+':
		return cur + delta
	case '-':
		return cur - delta
	case '*':
		return cur * delta
	case '/':
		if delta == 0 {
			return cur
		}
		return cur / delta
	}
	return cur
}

type updateJob struct {
	predicate  query.Predicate
	opts       query.Options
	mutation   Mutation
	cb         UpdateCallback
	matchCount int
	firstDone  bool
	tombstone  bool // true for Remove jobs: on match, tombstone only
}

type mutateState struct {
	mu      sync.Mutex
	pending []*updateJob
	queued  bool
}

// Update enqueues a job that applies mutation to every live document
// matching qb, in a single forward pass shared with every other
// Update/Remove job submitted before the scheduler drains.
func (e *DocumentEngine) Update(qb *query.QueryBuilder, mutation Mutation, cb UpdateCallback) {
	if e.readOnly {
		if cb != nil {
			cb(ErrReadOnly, 0)
		}
		return
	}
	job := &updateJob{
		predicate: e.compiler.Compile(qb),
		opts:      qb.Options(),
		mutation:  mutation,
		cb:        cb,
	}
	e.enqueueMutate(job)
}

// Remove enqueues a job that tombstones every live document matching
// qb. When EnableBackup has been called, the original line is
// appended to the backup sidecar before being tombstoned.
func (e *DocumentEngine) Remove(qb *query.QueryBuilder, cb UpdateCallback) {
	if e.readOnly {
		if cb != nil {
			cb(ErrReadOnly, 0)
		}
		return
	}
	job := &updateJob{
		predicate: e.compiler.Compile(qb),
		opts:      qb.Options(),
		cb:        cb,
		tombstone: true,
	}
	e.enqueueMutate(job)
}

func (e *DocumentEngine) enqueueMutate(job *updateJob) {
	e.mutateState.mu.Lock()
	e.mutateState.pending = append(e.mutateState.pending, job)
	alreadyQueued := e.mutateState.queued
	e.mutateState.queued = true
	e.mutateState.mu.Unlock()

	if alreadyQueued {
		return
	}

	kind := scheduler.KindUpdate
	if job.tombstone {
		kind = scheduler.KindRemove
	}
	sj := scheduler.NewJob(kind, nil)
	sj.Run = func() { e.drainMutations() }
	e.sched.Enqueue(sj)
}

func (e *DocumentEngine) drainMutations() {
	e.mutateState.mu.Lock()
	batch := e.mutateState.pending
	e.mutateState.pending = nil
	e.mutateState.queued = false
	e.mutateState.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	sess, err := e.openUpdateSession()
	if err != nil {
		failMutateBatch(batch, err)
		return
	}

	ctx := &query.Context{Now: time.Now()}
	index := 0
	scanErr := sess.Scan(func(rec stream.LineRecord) (bool, error) {
		if len(rec.Text) == 0 || rec.Text[0] == '-' {
			return true, nil
		}
		doc, err := codec.DecodeDocument(rec.Text)
		if err != nil {
			// ParseError: malformed line is skipped silently (§7).
			return true, nil
		}
		index++

		current := doc
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
				e.bus.Emit(events.Event{Kind: events.Remove, Document: current})
				break
			}
			previous := current
			current = applyMutation(current, job.mutation)
			mutated = true
			e.bus.Emit(events.Event{Kind: events.Update, Document: current, Previous: previous})
			e.bus.Emit(events.Event{Kind: events.Modify, Document: current, Previous: previous})
		}

		if removed {
			e.writeBackup("system", rec.Text)
			if err := sess.WriteAt([]byte{'-'}, rec.Position); err != nil {
				return false, err
			}
			return true, nil
		}
		if !mutated {
			return true, nil
		}

		newLine, err := codec.EncodeDocument(current)
		if err != nil {
			return true, nil
		}
		if len(newLine) == rec.Length {
			if err := sess.WriteAt(newLine, rec.Position); err != nil {
				return false, err
			}
			return true, nil
		}
		if err := sess.WriteAt([]byte{'-'}, rec.Position); err != nil {
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
		failMutateBatch(batch, fmt.Errorf("engine: update pass: %w", scanErr))
		return
	}

	for _, job := range batch {
		if job.cb != nil {
			job.cb(nil, job.matchCount)
		}
		if job.matchCount == 0 && job.mutation.Insert != nil {
			e.Insert(job.mutation.Insert, nil)
		}
	}
}

func failMutateBatch(batch []*updateJob, err error) {
	for _, job := range batch {
		if job.cb != nil {
			job.cb(err, 0)
		}
	}
}
