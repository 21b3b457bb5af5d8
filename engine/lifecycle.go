package engine

import (
	"fmt"
	"os"

	"docbase/events"
	"docbase/scheduler"
	"docbase/stream"
)

// LifecycleCallback receives the outcome of Clear/Clean/Drop.
type LifecycleCallback func(err error)

// Clear deletes the data file. Tables re-emit their schema header
// immediately afterward (see SchemaTable.Clear).
func (e *DocumentEngine) Clear(cb LifecycleCallback) {
	if e.readOnly {
		if cb != nil {
			cb(ErrReadOnly)
		}
		return
	}
	job := scheduler.NewJob(scheduler.KindClear, nil)
	job.Run = func() {
		err := removeIfExists(e.dataPath)
		if err == nil {
			e.bus.Emit(events.Event{Kind: events.Clear})
		}
		if cb != nil {
			cb(err)
		}
	}
	e.sched.Enqueue(job)
	job.Wait()
}

// Clean compacts the data file: every live line streams to a temp
// file, tombstoned lines are dropped, then the temp file replaces the
// original by rename. It is the only compaction path (§3).
func (e *DocumentEngine) Clean(cb LifecycleCallback) {
	if e.readOnly {
		if cb != nil {
			cb(ErrReadOnly)
		}
		return
	}
	job := scheduler.NewJob(scheduler.KindClean, nil)
	job.Run = func() {
		err := e.runClean()
		if err == nil {
			e.bus.Emit(events.Event{Kind: events.Clean})
		}
		if cb != nil {
			cb(err)
		}
	}
	e.sched.Enqueue(job)
	job.Wait()
}

func (e *DocumentEngine) runClean() error {
	tmp, err := os.Create(e.tmpPath)
	if err != nil {
		return fmt.Errorf("engine: create clean temp file: %w", err)
	}

	scanErr := stream.ScanForward(e.dataPath, func(rec stream.LineRecord) (bool, error) {
		if len(rec.Text) == 0 || rec.Text[0] == '-' {
			return true, nil
		}
		if _, err := tmp.Write(rec.Text); err != nil {
			return false, err
		}
		if _, err := tmp.Write([]byte{'\n'}); err != nil {
			return false, err
		}
		return true, nil
	})
	if scanErr != nil {
		tmp.Close()
		os.Remove(e.tmpPath)
		return fmt.Errorf("engine: clean scan: %w", scanErr)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("engine: close clean temp file: %w", err)
	}
	if err := os.Rename(e.tmpPath, e.dataPath); err != nil {
		return fmt.Errorf("engine: rename clean temp file: %w", err)
	}
	return nil
}

// Drop deletes the data file, meta sidecar and counter file, and
// detaches every event listener. The instance should not be used
// again after Drop returns.
func (e *DocumentEngine) Drop(cb LifecycleCallback) {
	job := scheduler.NewJob(scheduler.KindDrop, nil)
	job.Run = func() {
		var firstErr error
		for _, p := range []string{e.dataPath, e.metaPath, e.counterPath, e.logPath, e.backupPath, e.tmpPath} {
			if err := removeIfExists(p); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		e.counterEng.Close()
		e.bus.Detach()
		if cb != nil {
			cb(firstErr)
		}
	}
	e.sched.Enqueue(job)
	job.Wait()
}

// Lock runs fn with the scheduler halted, so fn can perform a
// multi-step sequence atomically with respect to every other queued
// operation.
func (e *DocumentEngine) Lock(fn func()) {
	e.sched.Lock(fn)
}

func removeIfExists(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
