package engine

import (
	"fmt"
	"os"

	"docbase/codec"
	"docbase/query"
	"docbase/scheduler"
	"docbase/stream"
)

// ErrSchemaMissing is returned by every write path on a table opened
// without a schema header and no configuration-supplied schema.
var ErrSchemaMissing = fmt.Errorf("engine: table has no schema")

// SchemaTable is the fixed-schema specialization of DocumentEngine:
// rows live in a `.table` file whose first line is the schema header,
// and every row decodes through the table codec instead of the JSON
// codec.
type SchemaTable struct {
	name string
	dir  string

	dataPath string
	tmpPath  string

	schema   codec.Schema
	hasData  bool
	sched    *scheduler.Scheduler
	compiler *query.Compiler
	readOnly bool

	mutateState  tableMutateState
	forwardState readState
	reverseState readState
}

// OpenTable returns a SchemaTable rooted at filepath.Join(root,
// name)+".table". If the file exists, its first line supplies the
// schema; otherwise fallback is used and written as the header.
func OpenTable(root, name string, fallback codec.Schema) (*SchemaTable, error) {
	base := root + string(os.PathSeparator) + name
	t := &SchemaTable{
		name:     name,
		dir:      root,
		dataPath: base + ".table",
		tmpPath:  base + ".table-tmp",
		sched:    scheduler.New(),
		compiler: query.NewCompiler(),
	}

	header, err := readFirstLine(t.dataPath)
	if err != nil {
		return nil, fmt.Errorf("engine: read table header: %w", err)
	}
	if header != "" {
		schema, err := codec.ParseHeader(header)
		if err != nil {
			return nil, fmt.Errorf("engine: parse table header: %w", err)
		}
		t.schema = schema
		t.hasData = true
		return t, nil
	}

	t.schema = fallback
	if len(fallback.Columns) > 0 {
		if err := t.writeHeader(); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func readFirstLine(path string) (string, error) {
	var line string
	err := stream.ScanForward(path, func(rec stream.LineRecord) (bool, error) {
		line = string(rec.Text)
		return false, nil
	})
	return line, err
}

func (t *SchemaTable) writeHeader() error {
	f, err := os.OpenFile(t.dataPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("engine: create table file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(t.schema.EncodeHeader() + "\n"); err != nil {
		return fmt.Errorf("engine: write table header: %w", err)
	}
	return nil
}

// Schema returns the table's current column list.
func (t *SchemaTable) Schema() codec.Schema { return t.schema }

// InsertRow appends row, encoded through the table codec, after the
// header line.
func (t *SchemaTable) InsertRow(row codec.Row, cb AppendCallback) {
	if t.readOnly {
		if cb != nil {
			cb(ErrReadOnly, 0)
		}
		return
	}
	if len(t.schema.Columns) == 0 {
		if cb != nil {
			cb(ErrSchemaMissing, 0)
		}
		return
	}
	_, line, err := codec.EncodeRow(row, t.schema)
	if err != nil {
		if cb != nil {
			cb(fmt.Errorf("engine: encode row: %w", err), 0)
		}
		return
	}

	job := scheduler.NewJob(scheduler.KindAppend, nil)
	job.Run = func() {
		sess, err := stream.OpenUpdate(t.dataPath)
		if err != nil {
			if cb != nil {
				cb(fmt.Errorf("engine: open table: %w", err), 0)
			}
			return
		}
		defer sess.Close()
		if err := sess.Append(append(line, '\n')); err != nil {
			if cb != nil {
				cb(fmt.Errorf("engine: append row: %w", err), 0)
			}
			return
		}
		if cb != nil {
			cb(nil, 1)
		}
	}
	t.sched.Enqueue(job)
	job.Wait()
}

// Rows decodes every live row into a slice, skipping the header and
// tombstoned lines. keys, if non-empty, restricts decoding to that
// column subset.
func (t *SchemaTable) Rows(keys []string) ([]codec.Row, error) {
	var rows []codec.Row
	first := true
	err := stream.ScanForward(t.dataPath, func(rec stream.LineRecord) (bool, error) {
		if first {
			first = false
			return true, nil
		}
		if len(rec.Text) == 0 {
			return true, nil
		}
		row, err := codec.DecodeRow(rec.Text, t.schema, keys)
		if err == codec.ErrTombstoned {
			return true, nil
		}
		if err != nil {
			return true, nil
		}
		rows = append(rows, row)
		return true, nil
	})
	return rows, err
}

// Extend grows the schema with added columns, running inside a Lock
// so no other operation can observe a half-migrated file: every row
// streams through the old codec and back out through the new one
// into a temp file, which then replaces the original.
func (t *SchemaTable) Extend(added ...codec.Column) error {
	if t.readOnly {
		return ErrReadOnly
	}
	var migrateErr error
	job := scheduler.NewJob(scheduler.KindLock, nil)
	job.Run = func() {
		newSchema := t.schema.Extend(added...)
		migrateErr = t.migrate(newSchema)
		if migrateErr == nil {
			t.schema = newSchema
		}
	}
	t.sched.Enqueue(job)
	job.Wait()
	return migrateErr
}

// Retype replaces the schema outright, including dropping columns
// (schema tightening), then migrates every row the same way Extend
// does.
func (t *SchemaTable) Retype(newSchema codec.Schema) error {
	if t.readOnly {
		return ErrReadOnly
	}
	var migrateErr error
	job := scheduler.NewJob(scheduler.KindLock, nil)
	job.Run = func() {
		migrateErr = t.migrate(newSchema)
		if migrateErr == nil {
			t.schema = newSchema
		}
	}
	t.sched.Enqueue(job)
	job.Wait()
	return migrateErr
}

func (t *SchemaTable) migrate(newSchema codec.Schema) error {
	oldSchema := t.schema
	tmp, err := os.Create(t.tmpPath)
	if err != nil {
		return fmt.Errorf("engine: create migration temp file: %w", err)
	}
	if _, err := tmp.WriteString(newSchema.EncodeHeader() + "\n"); err != nil {
		tmp.Close()
		return fmt.Errorf("engine: write migrated header: %w", err)
	}

	first := true
	scanErr := stream.ScanForward(t.dataPath, func(rec stream.LineRecord) (bool, error) {
		if first {
			first = false
			return true, nil
		}
		if len(rec.Text) == 0 {
			return true, nil
		}
		row, err := codec.DecodeRow(rec.Text, oldSchema, nil)
		if err == codec.ErrTombstoned {
			return true, nil
		}
		if err != nil {
			return true, nil
		}
		_, line, err := codec.EncodeRow(row, newSchema)
		if err != nil {
			return false, err
		}
		if _, err := tmp.Write(line); err != nil {
			return false, err
		}
		if _, err := tmp.Write([]byte{'\n'}); err != nil {
			return false, err
		}
		return true, nil
	})
	if scanErr != nil {
		tmp.Close()
		os.Remove(t.tmpPath)
		return fmt.Errorf("engine: migration scan: %w", scanErr)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("engine: close migration temp file: %w", err)
	}
	if err := os.Rename(t.tmpPath, t.dataPath); err != nil {
		return fmt.Errorf("engine: rename migration temp file: %w", err)
	}
	return nil
}

// Clear truncates the table back to just its schema header.
func (t *SchemaTable) Clear() error {
	if t.readOnly {
		return ErrReadOnly
	}
	var runErr error
	job := scheduler.NewJob(scheduler.KindClear, nil)
	job.Run = func() { runErr = t.writeHeader() }
	t.sched.Enqueue(job)
	job.Wait()
	return runErr
}
