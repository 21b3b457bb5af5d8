// Package counter implements the compact per-id counter/time-series
// engine: hit/min/max/remove mutate an in-RAM pending cache keyed by
// <type><year><id>, flushed to disk on a debounce timer by merging
// into the existing file's head aggregates and daily MMdd buckets.
package counter

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// Kind selects which reduction a counter id tracks.
type Kind int

const (
	// KindSum accumulates a running integer total.
	KindSum Kind = iota
	// KindMinMax tracks a [min,max] pair.
	KindMinMax
)

func (k Kind) prefix() string {
	if k == KindMinMax {
		return "mma"
	}
	return "sum"
}

// dayDelta accumulates one day's pending change for one id.
type dayDelta struct {
	sum    int64
	hasSum bool
	min    int64
	max    int64
	hasMin bool
	hasMax bool
}

// pendingEntry is the in-RAM state for one <kind, year, id> key,
// not yet merged into the on-disk file.
type pendingEntry struct {
	kind    Kind
	id      string
	year    string
	days    map[string]*dayDelta
	removed bool
}

func (p *pendingEntry) day(d string) *dayDelta {
	dd, ok := p.days[d]
	if !ok {
		dd = &dayDelta{}
		p.days[d] = dd
	}
	return dd
}

// Engine is the counter subsystem for one database instance. It owns
// a single on-disk file and debounces writes against it.
type Engine struct {
	path          string
	flushInterval time.Duration

	mu      sync.Mutex
	pending map[string]*pendingEntry

	flushMu  sync.Mutex
	timer    *time.Timer
	stopOnce sync.Once
	stopped  chan struct{}

	onLog func(format string, args ...any)
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithFlushInterval overrides the default 30s debounce period.
func WithFlushInterval(d time.Duration) Option {
	return func(e *Engine) { e.flushInterval = d }
}

// WithLogger routes flush diagnostics through a caller-supplied
// logging function instead of discarding them.
func WithLogger(fn func(format string, args ...any)) Option {
	return func(e *Engine) { e.onLog = fn }
}

// New returns an Engine backed by path, which need not exist yet.
func New(path string, opts ...Option) *Engine {
	e := &Engine{
		path:          path,
		flushInterval: 30 * time.Second,
		pending:       make(map[string]*pendingEntry),
		stopped:       make(chan struct{}),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func pendingKey(kind Kind, year, id string) string {
	return kind.prefix() + year + id
}

func (e *Engine) entry(kind Kind, id string, now time.Time) *pendingEntry {
	year := strconv.Itoa(now.Year())
	key := pendingKey(kind, year, id)
	ent, ok := e.pending[key]
	if !ok {
		ent = &pendingEntry{kind: kind, id: id, year: year, days: make(map[string]*dayDelta)}
		e.pending[key] = ent
	}
	return ent
}

func dayBucket(now time.Time) string {
	return fmt.Sprintf("%02d%02d", now.Month(), now.Day())
}

// Hit adds n (default 1 when n == 0) to id's running sum for today.
func (e *Engine) Hit(id string, n int64) {
	if n == 0 {
		n = 1
	}
	now := time.Now()
	e.mu.Lock()
	ent := e.entry(KindSum, id, now)
	ent.removed = false
	d := ent.day(dayBucket(now))
	d.sum += n
	d.hasSum = true
	e.mu.Unlock()
	e.scheduleFlush()
}

// Min records n as a candidate minimum for id today.
func (e *Engine) Min(id string, n int64) {
	now := time.Now()
	e.mu.Lock()
	ent := e.entry(KindMinMax, id, now)
	ent.removed = false
	d := ent.day(dayBucket(now))
	if !d.hasMin || n < d.min {
		d.min = n
		d.hasMin = true
	}
	e.mu.Unlock()
	e.scheduleFlush()
}

// Max records n as a candidate maximum for id today.
func (e *Engine) Max(id string, n int64) {
	now := time.Now()
	e.mu.Lock()
	ent := e.entry(KindMinMax, id, now)
	ent.removed = false
	d := ent.day(dayBucket(now))
	if !d.hasMax || n > d.max {
		d.max = n
		d.hasMax = true
	}
	e.mu.Unlock()
	e.scheduleFlush()
}

// Remove marks every pending-or-on-disk key for id for deletion on
// the next flush.
func (e *Engine) Remove(id string) {
	now := time.Now()
	e.mu.Lock()
	for _, kind := range []Kind{KindSum, KindMinMax} {
		ent := e.entry(kind, id, now)
		ent.removed = true
		ent.days = make(map[string]*dayDelta)
	}
	e.mu.Unlock()
	e.scheduleFlush()
}

func (e *Engine) scheduleFlush() {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()
	if e.timer != nil {
		return
	}
	e.timer = time.AfterFunc(e.flushInterval, func() {
		e.flushMu.Lock()
		e.timer = nil
		e.flushMu.Unlock()
		if err := e.Flush(); err != nil {
			e.logf("counter: flush %s failed: %v", e.path, err)
		}
	})
}

// Close stops any pending debounce timer and performs a final flush.
func (e *Engine) Close() error {
	e.stopOnce.Do(func() { close(e.stopped) })
	e.flushMu.Lock()
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.flushMu.Unlock()
	return e.Flush()
}

func (e *Engine) logf(format string, args ...any) {
	if e.onLog != nil {
		e.onLog(format, args...)
	}
}

type onDiskLine struct {
	key     string
	kind    Kind
	year    string
	id      string
	head    string
	buckets map[string]string
	order   []string
}

func parseLine(line string) (onDiskLine, bool) {
	eq := strings.IndexByte(line, '=')
	if eq < 0 {
		return onDiskLine{}, false
	}
	key := line[:eq]
	rest := line[eq+1:]
	parts := strings.Split(rest, ";")
	if len(parts) == 0 {
		return onDiskLine{}, false
	}
	kind := KindSum
	prefixLen := 3
	if strings.HasPrefix(key, "mma") {
		kind = KindMinMax
	} else if !strings.HasPrefix(key, "sum") {
		return onDiskLine{}, false
	}
	rest2 := key[prefixLen:]
	if len(rest2) < 4 {
		return onDiskLine{}, false
	}
	year := rest2[:4]
	id := rest2[4:]

	out := onDiskLine{key: key, kind: kind, year: year, id: id, head: parts[0], buckets: make(map[string]string)}
	for _, b := range parts[1:] {
		kv := strings.SplitN(b, "=", 2)
		if len(kv) != 2 || kv[0] == "" {
			continue
		}
		out.buckets[kv[0]] = kv[1]
		out.order = append(out.order, kv[0])
	}
	return out, true
}

func (l onDiskLine) render() string {
	var b strings.Builder
	b.WriteString(l.key)
	b.WriteByte('=')
	b.WriteString(l.head)
	days := make([]string, 0, len(l.buckets))
	for d := range l.buckets {
		days = append(days, d)
	}
	sort.Strings(days)
	for _, d := range days {
		b.WriteByte(';')
		b.WriteString(d)
		b.WriteByte('=')
		b.WriteString(l.buckets[d])
	}
	return b.String()
}

func parseMMA(s string) (min, max int64, ok bool) {
	parts := strings.SplitN(s, "X", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	mn, err1 := strconv.ParseInt(parts[0], 10, 64)
	mx, err2 := strconv.ParseInt(parts[1], 10, 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return mn, mx, true
}

func formatMMA(min, max int64) string {
	return fmt.Sprintf("%dX%d", min, max)
}

func mergeDelta(l *onDiskLine, day string, d *dayDelta, kind Kind) {
	switch kind {
	case KindSum:
		existing := l.head
		if existing == "" {
			existing = "0"
		}
		headVal, _ := strconv.ParseInt(existing, 10, 64)
		headVal += d.sum
		l.head = strconv.FormatInt(headVal, 10)

		bucketVal := d.sum
		if prev, ok := l.buckets[day]; ok {
			if pv, err := strconv.ParseInt(prev, 10, 64); err == nil {
				bucketVal += pv
			}
		}
		l.buckets[day] = strconv.FormatInt(bucketVal, 10)
	case KindMinMax:
		headMin, headMax, ok := parseMMA(l.head)
		if !ok {
			headMin, headMax = d.min, d.max
		}
		if d.hasMin && (!ok || d.min < headMin) {
			headMin = d.min
		}
		if d.hasMax && (!ok || d.max > headMax) {
			headMax = d.max
		}
		l.head = formatMMA(headMin, headMax)

		bMin, bMax := d.min, d.max
		if prev, ok := l.buckets[day]; ok {
			if pMin, pMax, ok2 := parseMMA(prev); ok2 {
				if !d.hasMin || pMin < bMin {
					bMin = pMin
				}
				if !d.hasMax || pMax > bMax {
					bMax = pMax
				}
			}
		}
		l.buckets[day] = formatMMA(bMin, bMax)
	}
}

func newLineFromPending(ent *pendingEntry) onDiskLine {
	l := onDiskLine{
		key:     pendingKey(ent.kind, ent.year, ent.id),
		kind:    ent.kind,
		year:    ent.year,
		id:      ent.id,
		buckets: make(map[string]string),
	}
	days := make([]string, 0, len(ent.days))
	for d := range ent.days {
		days = append(days, d)
	}
	sort.Strings(days)
	for _, d := range days {
		mergeDelta(&l, d, ent.days[d], ent.kind)
	}
	return l
}

// Flush performs one read-merge-rename cycle: every existing line
// without a pending change streams through unmodified, lines with a
// pending change get it merged into their head and day bucket, and
// pending keys absent from the file are appended. Removed keys are
// dropped entirely.
func (e *Engine) Flush() error {
	e.mu.Lock()
	pending := e.pending
	e.pending = make(map[string]*pendingEntry)
	e.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(pending))

	tmp := e.path + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("counter: create temp file: %w", err)
	}
	w := bufio.NewWriter(out)

	existing, err := os.Open(e.path)
	if err == nil {
		sc := bufio.NewScanner(existing)
		sc.Buffer(make([]byte, 64*1024), 1<<20)
		for sc.Scan() {
			line := sc.Text()
			if line == "" {
				continue
			}
			parsed, ok := parseLine(line)
			if !ok {
				fmt.Fprintln(w, line)
				continue
			}
			ent, isPending := pending[parsed.key]
			if !isPending {
				fmt.Fprintln(w, line)
				continue
			}
			seen[parsed.key] = true
			if ent.removed {
				continue
			}
			days := make([]string, 0, len(ent.days))
			for d := range ent.days {
				days = append(days, d)
			}
			sort.Strings(days)
			for _, d := range days {
				mergeDelta(&parsed, d, ent.days[d], ent.kind)
			}
			fmt.Fprintln(w, parsed.render())
		}
		existing.Close()
		if err := sc.Err(); err != nil {
			w.Flush()
			out.Close()
			return fmt.Errorf("counter: scan existing file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		w.Flush()
		out.Close()
		return fmt.Errorf("counter: open existing file: %w", err)
	}

	keys := make([]string, 0, len(pending))
	for k := range pending {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if seen[k] {
			continue
		}
		ent := pending[k]
		if ent.removed {
			continue
		}
		line := newLineFromPending(ent)
		fmt.Fprintln(w, line.render())
	}

	if err := w.Flush(); err != nil {
		out.Close()
		return fmt.Errorf("counter: flush temp file: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("counter: close temp file: %w", err)
	}
	if err := os.Rename(tmp, e.path); err != nil {
		return fmt.Errorf("counter: rename temp file: %w", err)
	}
	e.logf("counter: flushed %s (%s)", filepath.Base(e.path), humanize.Comma(int64(len(pending))))
	return nil
}
