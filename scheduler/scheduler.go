// Package scheduler implements the single-threaded cooperative
// operation scheduler every database instance runs its jobs through.
// At most one writing phase and one reading phase run at a time, and
// a blocking operation (clear/clean/drop/lock) excludes both; no
// mutex guards the data file itself because the scheduler is the
// lock.
package scheduler

import (
	"sync"

	"github.com/google/uuid"
)

// Kind identifies which queue a Job belongs to.
type Kind int

const (
	KindAppend Kind = iota
	KindUpdate
	KindRemove
	KindReader
	KindReaderReverse
	KindStream
	KindDrop
	KindClear
	KindClean
	KindLock
)

// blocking reports whether jobs of this kind belong to the NEXTWAIT
// set: drop, clear, clean and lock each exclude every other queue
// while they run.
func (k Kind) blocking() bool {
	switch k {
	case KindDrop, KindClear, KindClean, KindLock:
		return true
	}
	return false
}

func (k Kind) writing() bool {
	switch k {
	case KindAppend, KindUpdate, KindRemove:
		return true
	}
	return false
}

func (k Kind) reading() bool {
	switch k {
	case KindReader, KindReaderReverse, KindStream:
		return true
	}
	return false
}

// Job is one unit of scheduled work. Run is invoked once the
// scheduler has decided it is this job's turn; the scheduler marks the
// job finished and releases the phase it occupies once Run returns.
type Job struct {
	ID   string
	Kind Kind
	Run  func()

	done chan struct{}
}

// NewJob allocates a Job with a fresh ID and its completion channel
// wired up.
func NewJob(kind Kind, run func()) *Job {
	return &Job{ID: uuid.NewString(), Kind: kind, Run: run, done: make(chan struct{})}
}

// Wait blocks until the job's phase has finished.
func (j *Job) Wait() {
	<-j.done
}

func (j *Job) finish() {
	close(j.done)
}

// Scheduler owns the pending queues for a single database instance
// and enforces §5's concurrency rules: a blocking phase excludes
// everything; a writing phase and a reading phase may run
// concurrently with each other but never with a second instance of
// their own kind.
type Scheduler struct {
	mu sync.Mutex

	writing  bool
	reading  bool
	blocking bool

	pendingAppend []*Job
	pendingUpdate []*Job
	pendingRemove []*Job

	pendingReader        []*Job
	pendingReaderReverse []*Job
	pendingStream        []*Job

	pendingBlocking []*Job
}

// New returns an idle Scheduler.
func New() *Scheduler {
	return &Scheduler{}
}

// Enqueue places job on its queue and attempts to start scheduling
// immediately. It does not block; call job.Wait to observe
// completion.
func (s *Scheduler) Enqueue(job *Job) {
	s.mu.Lock()
	switch {
	case job.Kind.blocking():
		s.pendingBlocking = append(s.pendingBlocking, job)
	case job.Kind == KindAppend:
		s.pendingAppend = append(s.pendingAppend, job)
	case job.Kind == KindUpdate:
		s.pendingUpdate = append(s.pendingUpdate, job)
	case job.Kind == KindRemove:
		s.pendingRemove = append(s.pendingRemove, job)
	case job.Kind == KindReader:
		s.pendingReader = append(s.pendingReader, job)
	case job.Kind == KindReaderReverse:
		s.pendingReaderReverse = append(s.pendingReaderReverse, job)
	case job.Kind == KindStream:
		s.pendingStream = append(s.pendingStream, job)
	}
	s.mu.Unlock()
	s.tick()
}

// tick evaluates the priority order once: blocking, then writing,
// then reading. Each branch either starts a phase (and returns) or
// falls through to the next.
func (s *Scheduler) tick() {
	if s.tryStartBlocking() {
		return
	}
	if s.tryStartWrite() {
		return
	}
	s.tryStartRead()
}

func (s *Scheduler) tryStartBlocking() bool {
	s.mu.Lock()
	if s.blocking || s.writing || s.reading || len(s.pendingBlocking) == 0 {
		s.mu.Unlock()
		return false
	}
	job := s.pendingBlocking[0]
	s.pendingBlocking = s.pendingBlocking[1:]
	s.blocking = true
	s.mu.Unlock()

	go s.runBlocking(job)
	return true
}

func (s *Scheduler) runBlocking(job *Job) {
	job.Run()
	job.finish()

	s.mu.Lock()
	s.blocking = false
	s.mu.Unlock()
	s.tick()
}

// tryStartWrite drains, in priority order, the first non-empty write
// queue (append, then update, then remove) as a single batch, and
// runs it as one phase: §4.4 batching is "splice out the whole
// pending list, run it in one streaming pass".
func (s *Scheduler) tryStartWrite() bool {
	s.mu.Lock()
	if s.blocking || s.writing {
		s.mu.Unlock()
		return false
	}
	var batch []*Job
	switch {
	case len(s.pendingAppend) > 0:
		batch, s.pendingAppend = s.pendingAppend, nil
	case len(s.pendingUpdate) > 0:
		batch, s.pendingUpdate = s.pendingUpdate, nil
	case len(s.pendingRemove) > 0:
		batch, s.pendingRemove = s.pendingRemove, nil
	default:
		s.mu.Unlock()
		return false
	}
	s.writing = true
	s.mu.Unlock()

	go s.runWrite(batch)
	return true
}

func (s *Scheduler) runWrite(batch []*Job) {
	for _, job := range batch {
		job.Run()
	}
	for _, job := range batch {
		job.finish()
	}

	s.mu.Lock()
	s.writing = false
	s.mu.Unlock()
	s.tick()
}

// tryStartRead mirrors tryStartWrite for reader, reader-reverse and
// stream queues. A reading phase may run alongside a writing phase
// but never alongside another reading phase, matching §5.
func (s *Scheduler) tryStartRead() bool {
	s.mu.Lock()
	if s.blocking || s.reading {
		s.mu.Unlock()
		return false
	}
	var batch []*Job
	switch {
	case len(s.pendingReader) > 0:
		batch, s.pendingReader = s.pendingReader, nil
	case len(s.pendingReaderReverse) > 0:
		batch, s.pendingReaderReverse = s.pendingReaderReverse, nil
	case len(s.pendingStream) > 0:
		batch, s.pendingStream = s.pendingStream, nil
	default:
		s.mu.Unlock()
		return false
	}
	s.reading = true
	s.mu.Unlock()

	go s.runRead(batch)
	return true
}

func (s *Scheduler) runRead(batch []*Job) {
	for _, job := range batch {
		job.Run()
	}
	for _, job := range batch {
		job.finish()
	}

	s.mu.Lock()
	s.reading = false
	s.mu.Unlock()
	s.tick()
}

// Lock runs fn with the scheduler halted: it is enqueued as a
// blocking job like clear/clean/drop, so no other phase starts until
// fn returns.
func (s *Scheduler) Lock(fn func()) {
	job := NewJob(KindLock, fn)
	s.Enqueue(job)
	job.Wait()
}
