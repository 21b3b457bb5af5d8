package scheduler

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestConcurrentAppendSubmissionsEachRunOnce(t *testing.T) {
	s := New()
	var passes int32
	var wg sync.WaitGroup
	const n = 20
	wg.Add(n)
	for i := 0; i < n; i++ {
		job := NewJob(KindAppend, func() {
			atomic.AddInt32(&passes, 1)
			time.Sleep(time.Millisecond)
		})
		go func() {
			defer wg.Done()
			s.Enqueue(job)
			job.Wait()
		}()
	}
	wg.Wait()
	if passes != n {
		t.Fatalf("expected every append job to run exactly once, got %d runs", passes)
	}
}

func TestWriteAndReadCanOverlap(t *testing.T) {
	s := New()
	writeStarted := make(chan struct{})
	release := make(chan struct{})
	var readRanWhileWriting int32

	writeJob := NewJob(KindUpdate, func() {
		close(writeStarted)
		<-release
	})
	s.Enqueue(writeJob)

	<-writeStarted

	readJob := NewJob(KindReader, func() {
		atomic.StoreInt32(&readRanWhileWriting, 1)
	})
	s.Enqueue(readJob)
	readJob.Wait()

	close(release)
	writeJob.Wait()

	if atomic.LoadInt32(&readRanWhileWriting) != 1 {
		t.Fatalf("expected read phase to run concurrently with an in-flight write phase")
	}
}

func TestBlockingExcludesEverything(t *testing.T) {
	s := New()
	blockStarted := make(chan struct{})
	release := make(chan struct{})

	blockJob := NewJob(KindClean, func() {
		close(blockStarted)
		<-release
	})
	s.Enqueue(blockJob)
	<-blockStarted

	var ran int32
	readJob := NewJob(KindReader, func() {
		atomic.StoreInt32(&ran, 1)
	})
	s.Enqueue(readJob)

	select {
	case <-readJob.done:
		t.Fatalf("reader should not run while a blocking phase is active")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	blockJob.Wait()
	readJob.Wait()
	if atomic.LoadInt32(&ran) != 1 {
		t.Fatalf("expected reader to run after the blocking phase released")
	}
}

func TestLockRunsExclusively(t *testing.T) {
	s := New()
	var order []string
	var mu sync.Mutex
	record := func(name string) {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
	}

	appendJob := NewJob(KindAppend, func() { record("append") })
	s.Enqueue(appendJob)
	appendJob.Wait()

	s.Lock(func() { record("lock") })

	readJob := NewJob(KindReader, func() { record("reader") })
	s.Enqueue(readJob)
	readJob.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[1] != "lock" {
		t.Fatalf("unexpected execution order: %v", order)
	}
}
