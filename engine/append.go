package engine

import (
	"fmt"
	"sync"

	"docbase/codec"
	"docbase/events"
	"docbase/scheduler"
)

// AppendCallback receives the outcome of an Insert/Append call: err
// set on failure, count is always 1 on success.
type AppendCallback func(err error, count int)

type appendRequest struct {
	doc  Document
	line []byte
	cb   AppendCallback
}

// appendState coordinates concurrent Insert calls into shared
// batches: every Insert arriving before the scheduler drains the
// current batch joins it, so N concurrent inserts produce exactly one
// append_file call (§8 property 5).
type appendState struct {
	mu      sync.Mutex
	pending []appendRequest
	queued  bool
}

// Insert queues doc for insertion. Jobs submitted concurrently before
// the scheduler runs are coalesced into batches of up to the
// engine's JSONBUFFER size and written with a single append_file
// call per batch.
func (e *DocumentEngine) Insert(doc Document, cb AppendCallback) {
	if e.readOnly {
		if cb != nil {
			cb(ErrReadOnly, 0)
		}
		return
	}
	line, err := codec.EncodeDocument(doc)
	if err != nil {
		if cb != nil {
			cb(fmt.Errorf("engine: encode document: %w", err), 0)
		}
		return
	}

	e.appendState.mu.Lock()
	e.appendState.pending = append(e.appendState.pending, appendRequest{doc: doc, line: line, cb: cb})
	alreadyQueued := e.appendState.queued
	e.appendState.queued = true
	e.appendState.mu.Unlock()

	if alreadyQueued {
		return
	}

	job := scheduler.NewJob(scheduler.KindAppend, nil)
	job.Run = func() { e.drainAppends() }
	e.sched.Enqueue(job)
}

// Append is an alias for Insert kept for call sites that read more
// naturally describing the operation as an append.
func (e *DocumentEngine) Append(doc Document, cb AppendCallback) {
	e.Insert(doc, cb)
}

func (e *DocumentEngine) drainAppends() {
	e.appendState.mu.Lock()
	batch := e.appendState.pending
	e.appendState.pending = nil
	e.appendState.queued = false
	e.appendState.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	for start := 0; start < len(batch); start += e.jsonBuffer {
		end := start + e.jsonBuffer
		if end > len(batch) {
			end = len(batch)
		}
		e.writeAppendBatch(batch[start:end])
	}
}

func (e *DocumentEngine) writeAppendBatch(batch []appendRequest) {
	sess, err := e.openUpdateSession()
	if err != nil {
		failAppendBatch(batch, err)
		return
	}
	defer sess.Close()

	for _, req := range batch {
		if err := sess.Append(append(append([]byte{}, req.line...), '\n')); err != nil {
			failAppendBatch(batch, fmt.Errorf("engine: append: %w", err))
			return
		}
	}

	for _, req := range batch {
		e.bus.Emit(events.Event{Kind: events.Insert, Document: req.doc})
		if req.cb != nil {
			req.cb(nil, 1)
		}
	}
}

func failAppendBatch(batch []appendRequest, err error) {
	for _, req := range batch {
		if req.cb != nil {
			req.cb(err, 0)
		}
	}
}
