// Package engine implements DocumentEngine, the facade that owns a
// database instance's data file and dispatches queued operations
// through the streaming file engine, the codec, the query compiler,
// the scheduler and the counter/events subsystems.
package engine

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"docbase/codec"
	"docbase/counter"
	"docbase/events"
	"docbase/query"
	"docbase/scheduler"

	"github.com/google/uuid"
)

// Document is the record type the engine stores and queries.
type Document = codec.Document

// ErrReadOnly is returned by every write path on a database opened
// read-only.
var ErrReadOnly = fmt.Errorf("engine: database is read-only")

// ErrEmptyResult is returned by a query whose builder opted into
// treating zero matches as an error via Callback.
type ErrEmptyResult struct {
	Message string
}

func (e *ErrEmptyResult) Error() string { return e.Message }

// JSONBufferDefault is the default batch size for append_file calls
// outside worker mode.
const JSONBufferDefault = 20

// JSONBufferWorker is the batch size used when WithWorkerMode is set.
const JSONBufferWorker = 40

// Option configures a DocumentEngine at Open time.
type Option func(*DocumentEngine)

// WithReadOnly opens the database without write access; every write
// path returns ErrReadOnly.
func WithReadOnly() Option {
	return func(e *DocumentEngine) { e.readOnly = true }
}

// WithWorkerMode raises the append batch size to JSONBufferWorker, as
// used when the engine is hosted behind the worker RPC surface.
func WithWorkerMode() Option {
	return func(e *DocumentEngine) { e.jsonBuffer = JSONBufferWorker }
}

// WithJSONBuffer overrides how many documents a drained append batch
// writes per append_file call. Update and remove passes do not use
// it. n <= 0 is ignored.
func WithJSONBuffer(n int) Option {
	return func(e *DocumentEngine) {
		if n > 0 {
			e.jsonBuffer = n
		}
	}
}

// WithLogger routes the engine's diagnostic lines (backup write
// failures) to a caller-supplied logger instead of the default stderr
// logger.
func WithLogger(l *log.Logger) Option {
	return func(e *DocumentEngine) { e.log = l }
}

// WithFlushInterval overrides the counter's debounce period.
func WithFlushInterval(opt counter.Option) Option {
	return func(e *DocumentEngine) { e.counterOpts = append(e.counterOpts, opt) }
}

// DocumentEngine owns one `<name>.nosql` file and every sidecar next
// to it: meta, counter, backup and operation log.
type DocumentEngine struct {
	name string
	dir  string

	dataPath    string
	tmpPath     string
	metaPath    string
	counterPath string
	logPath     string
	backupPath  string

	readOnly      bool
	jsonBuffer    int
	backupEnabled bool

	sched      *scheduler.Scheduler
	compiler   *query.Compiler
	counterEng *counter.Engine
	bus        *events.Bus
	log        *log.Logger

	counterOpts []counter.Option
	appendState appendState
	mutateState mutateState
	forwardState readState
	reverseState readState
}

// Open returns a DocumentEngine rooted at filepath.Join(root, name).
// The data file is created lazily on first write; Open never fails
// because a data file is absent.
func Open(root, name string, opts ...Option) (*DocumentEngine, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("engine: create root directory: %w", err)
	}
	base := filepath.Join(root, name)
	e := &DocumentEngine{
		name:        name,
		dir:         root,
		dataPath:    base + ".nosql",
		tmpPath:     base + ".nosql-tmp",
		metaPath:    base + ".meta",
		counterPath: base + ".nosql-counter2",
		logPath:     base + ".nosql-log",
		backupPath:  base + ".nosql-backup",
		jsonBuffer:  JSONBufferDefault,
		sched:       scheduler.New(),
		compiler:    query.NewCompiler(),
		bus:         events.New(),
		log:         log.New(os.Stderr, "", log.LstdFlags),
	}
	for _, o := range opts {
		o(e)
	}
	e.counterEng = counter.New(e.counterPath, e.counterOpts...)
	return e, nil
}

// Events returns the event bus the document write paths publish to.
func (e *DocumentEngine) Events() *events.Bus { return e.bus }

// Counter returns the counter subsystem backing this instance's
// `.nosql-counter2` file.
func (e *DocumentEngine) Counter() *counter.Engine { return e.counterEng }

// DataPath returns the path of the underlying `.nosql` file.
func (e *DocumentEngine) DataPath() string { return e.dataPath }

// JSONBuffer returns the batch size currently in effect for a single
// drained write phase, after WithJSONBuffer/WithWorkerMode.
func (e *DocumentEngine) JSONBuffer() int { return e.jsonBuffer }

func (e *DocumentEngine) logf(format string, args ...any) {
	if e.log != nil {
		e.log.Printf(format, args...)
	}
}

func newJobID() string { return uuid.NewString() }
