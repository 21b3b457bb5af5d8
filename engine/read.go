package engine

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"docbase/codec"
	"docbase/query"
	"docbase/scheduler"
	"docbase/stream"

	"golang.org/x/sync/errgroup"
)

// ReaderCallback receives a query's outcome. result is one of:
// []Document (plain or listing-less match list), a single Document
// (or nil when nothing matched) for a First() query, a *ListingResult,
// or a scalar (float64 for count/sum/min/max/avg, map[string]int for
// group).
type ReaderCallback func(err error, result any, count int)

// ListingResult is the paginated shape returned when a builder
// called Listing().
type ListingResult struct {
	Page  int
	Pages int
	Limit int
	Count int
	Items []Document
}

type scalarState struct {
	count     int
	sum       float64
	min       float64
	max       float64
	hasMinMax bool
	group     map[string]int
}

func (s *scalarState) observe(doc Document, field string) {
	s.count++
	v, ok := doc[field].(float64)
	switch {
	case field == "":
		// count-only scalar, nothing further to track.
	case !ok:
		// non-numeric field: only group mode can make sense of it,
		// handled by the caller via fmt.Sprint.
	default:
		s.sum += v
		if !s.hasMinMax || v < s.min {
			s.min = v
		}
		if !s.hasMinMax || v > s.max {
			s.max = v
		}
		s.hasMinMax = true
	}
}

func (s *scalarState) result(t query.ScalarType) any {
	switch t {
	case query.ScalarCount:
		return float64(s.count)
	case query.ScalarSum:
		return s.sum
	case query.ScalarMin:
		return s.min
	case query.ScalarMax:
		return s.max
	case query.ScalarAvg:
		if s.count == 0 {
			return float64(0)
		}
		return s.sum / float64(s.count)
	case query.ScalarGroup:
		return s.group
	}
	return nil
}

type readerJob struct {
	predicate query.Predicate
	opts      query.Options
	cb        ReaderCallback

	buffer  []Document
	scalar  *scalarState
	matched int
	done    bool
}

func newReaderJob(qb *query.QueryBuilder, compiled query.Predicate, cb ReaderCallback) *readerJob {
	opts := qb.Options()
	j := &readerJob{predicate: compiled, opts: opts, cb: cb}
	if opts.ScalarType != query.ScalarNone {
		j.scalar = &scalarState{group: make(map[string]int)}
	}
	return j
}

func (j *readerJob) boundedCapacity() int {
	if j.opts.Take <= 0 {
		return 0
	}
	return j.opts.Take + j.opts.Skip
}

func (j *readerJob) accept(doc Document) {
	j.matched++
	if j.scalar != nil {
		j.scalar.observe(doc, j.opts.ScalarField)
		if j.opts.ScalarType == query.ScalarGroup {
			j.scalar.group[fmt.Sprint(doc[j.opts.ScalarField])]++
		}
		return
	}

	if j.opts.SortField != "" && !j.opts.SortNone && j.boundedCapacity() > 0 {
		insertSortedDoc(&j.buffer, j.boundedCapacity(), doc, j.opts.SortField, j.opts.SortAsc)
		return
	}
	j.buffer = append(j.buffer, doc)
}

// satisfied reports whether this job needs no further lines: either
// it is a first() query that already matched, or it is a non-scalar
// SortRandom() query whose bounded take has filled.
func (j *readerJob) satisfied() bool {
	if j.done {
		return true
	}
	if j.opts.First && j.matched > 0 {
		return true
	}
	if j.scalar == nil && j.opts.SortNone && j.boundedCapacity() > 0 && len(j.buffer) >= j.boundedCapacity() {
		return true
	}
	return false
}

func insertSortedDoc(buf *[]Document, capacity int, doc Document, field string, asc bool) {
	pos := len(*buf)
	for i, existing := range *buf {
		less := lessByField(doc, existing, field, asc)
		if less {
			pos = i
			break
		}
	}
	if pos >= capacity {
		return
	}
	*buf = append(*buf, nil)
	copy((*buf)[pos+1:], (*buf)[pos:len(*buf)-1])
	(*buf)[pos] = doc
	if len(*buf) > capacity {
		*buf = (*buf)[:capacity]
	}
}

func lessByField(a, b Document, field string, asc bool) bool {
	av, bv := a[field], b[field]
	switch x := av.(type) {
	case float64:
		y, ok := bv.(float64)
		if !ok {
			return false
		}
		if asc {
			return x < y
		}
		return x > y
	case string:
		y, ok := bv.(string)
		if !ok {
			return false
		}
		if asc {
			return x < y
		}
		return x > y
	case time.Time:
		y, ok := bv.(time.Time)
		if !ok {
			return false
		}
		if asc {
			return x.Before(y)
		}
		return x.After(y)
	}
	return false
}

func sortBuffer(job *readerJob) {
	if job.opts.SortFunc != nil {
		sort.SliceStable(job.buffer, func(i, j int) bool { return job.opts.SortFunc(job.buffer[i], job.buffer[j]) })
		return
	}
	if job.opts.SortField != "" && !job.opts.SortNone {
		sort.SliceStable(job.buffer, func(i, j int) bool {
			return lessByField(job.buffer[i], job.buffer[j], job.opts.SortField, job.opts.SortAsc)
		})
	}
}

func sliceForOptions(buf []Document, opts query.Options) []Document {
	start := opts.Skip
	if start > len(buf) {
		start = len(buf)
	}
	buf = buf[start:]
	if opts.Take > 0 && opts.Take < len(buf) {
		buf = buf[:opts.Take]
	}
	return buf
}

func finalizeReaderJob(job *readerJob) {
	if job.scalar != nil {
		deliverScalar(job)
		return
	}

	wasInlineSorted := job.opts.SortField != "" && !job.opts.SortNone && job.boundedCapacity() > 0
	if !wasInlineSorted {
		sortBuffer(job)
		job.buffer = sliceForOptions(job.buffer, job.opts)
	} else if job.opts.Skip > 0 {
		if job.opts.Skip < len(job.buffer) {
			job.buffer = job.buffer[job.opts.Skip:]
		} else {
			job.buffer = nil
		}
	}

	if job.matched == 0 && job.opts.EmptyErr != "" {
		deliver(job.cb, &ErrEmptyResult{Message: job.opts.EmptyErr}, nil, 0)
		return
	}

	if job.opts.Listing {
		limit := job.opts.Take
		if limit <= 0 {
			limit = len(job.buffer)
		}
		pages := 1
		if limit > 0 {
			pages = (job.matched + limit - 1) / limit
			if pages < 1 {
				pages = 1
			}
		}
		page := 1
		if limit > 0 {
			page = job.opts.Skip/limit + 1
		}
		deliver(job.cb, nil, &ListingResult{Page: page, Pages: pages, Limit: limit, Count: job.matched, Items: job.buffer}, job.matched)
		return
	}

	if job.opts.First {
		if len(job.buffer) == 0 {
			deliver(job.cb, nil, nil, 0)
			return
		}
		deliver(job.cb, nil, job.buffer[0], 1)
		return
	}

	deliver(job.cb, nil, job.buffer, job.matched)
}

func deliverScalar(job *readerJob) {
	if job.matched == 0 && job.opts.EmptyErr != "" {
		deliver(job.cb, &ErrEmptyResult{Message: job.opts.EmptyErr}, nil, 0)
		return
	}
	deliver(job.cb, nil, job.scalar.result(job.opts.ScalarType), job.matched)
}

func deliver(cb ReaderCallback, err error, result any, count int) {
	if cb != nil {
		cb(err, result, count)
	}
}

type readState struct {
	mu      sync.Mutex
	pending []*readerJob
	queued  bool
}

// Find enqueues a forward scan matching qb against every live
// document. Multiple Find/FindReverse calls submitted before the
// scheduler drains share a single pass.
func (e *DocumentEngine) Find(qb *query.QueryBuilder, cb ReaderCallback) {
	job := newReaderJob(qb, e.compiler.Compile(qb), cb)
	e.enqueueReader(job, scheduler.KindReader, &e.forwardState)
}

// FindReverse is identical to Find except it scans from EOF to BOF,
// so a first() query returns the last-written matching record (§8
// property 8).
func (e *DocumentEngine) FindReverse(qb *query.QueryBuilder, cb ReaderCallback) {
	job := newReaderJob(qb, e.compiler.Compile(qb), cb)
	e.enqueueReader(job, scheduler.KindReaderReverse, &e.reverseState)
}

func (e *DocumentEngine) enqueueReader(job *readerJob, kind scheduler.Kind, state *readState) {
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
		if kind == scheduler.KindReaderReverse {
			e.drainReaders(state, true)
		} else {
			e.drainReaders(state, false)
		}
	}
	e.sched.Enqueue(sj)
}

func (e *DocumentEngine) drainReaders(state *readState, reverse bool) {
	state.mu.Lock()
	batch := state.pending
	state.pending = nil
	state.queued = false
	state.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	ctx := &query.Context{Now: time.Now()}
	index := 0
	visit := func(rec stream.LineRecord) (bool, error) {
		if len(rec.Text) == 0 || rec.Text[0] == '-' {
			return true, nil
		}
		doc, err := codec.DecodeDocument(rec.Text)
		if err != nil {
			return true, nil
		}
		index++

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
		scanErr = stream.ScanReverse(e.dataPath, visit)
	} else {
		scanErr = stream.ScanForward(e.dataPath, visit)
	}

	if scanErr != nil {
		wrapped := fmt.Errorf("engine: read pass: %w", scanErr)
		for _, job := range batch {
			deliver(job.cb, wrapped, nil, 0)
		}
		return
	}

	// Sorting and projecting each job's buffer is independent work;
	// a batch only gets wider than one job when several Find/FindReverse
	// calls land in the same drain window, so fan them out.
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
