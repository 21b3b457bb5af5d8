package query

import (
	"regexp"
	"time"

	"docbase/codec"
)

// Document is the record type predicates and projections operate
// over; it is the same shape the codec package produces.
type Document = codec.Document

// Context carries the evaluation-time state a compiled predicate may
// need beyond the document itself (currently just the clock; joins
// resolve through the engine package after the fact, see JoinSpec).
type Context struct {
	Now time.Time
}

// ScalarType selects the reduction a builder's Scalar option asks for.
type ScalarType int

const (
	ScalarNone ScalarType = iota
	ScalarCount
	ScalarSum
	ScalarMin
	ScalarMax
	ScalarAvg
	ScalarGroup
)

// JoinSpec describes a post-query join against a sibling database.
// The builder only records the configuration; resolving it against
// another table is the engine package's job, since it requires a
// handle to that sibling.
type JoinSpec struct {
	Field       string
	Table       string
	OnLocal     string
	OnForeign   string
	First       bool
	ScalarType  ScalarType
	ScalarField string
}

// Options are the non-predicate knobs accumulated on a QueryBuilder.
type Options struct {
	Take        int
	Skip        int
	First       bool
	SortField   string
	SortAsc     bool
	SortNone    bool
	SortFunc    func(a, b Document) bool
	Fields      []string
	FieldsDrop  []string
	ScalarType  ScalarType
	ScalarField string
	Listing     bool
	ID          string
	Join        *JoinSpec
	EmptyErr    string
}

// QueryBuilder accumulates predicate nodes and options. It is created
// by a single call site, mutated only by that caller, and consumed
// exactly once by a scheduler drain.
type QueryBuilder struct {
	root  *node
	stack []*node
	opts  Options
}

// New returns an empty builder whose root scope is an implicit AND
// group.
func New() *QueryBuilder {
	root := &node{kind: nodeGroupAnd}
	return &QueryBuilder{root: root, stack: []*node{root}}
}

func (b *QueryBuilder) current() *node {
	return b.stack[len(b.stack)-1]
}

func (b *QueryBuilder) push(n *node) *QueryBuilder {
	cur := b.current()
	cur.children = append(cur.children, n)
	return b
}

// Or opens a new disjunctive scope: predicates added until the
// matching End are folded with OR instead of AND.
func (b *QueryBuilder) Or() *QueryBuilder {
	g := &node{kind: nodeGroupOr}
	b.push(g)
	b.stack = append(b.stack, g)
	return b
}

// And opens a new conjunctive scope, nested inside the current one.
func (b *QueryBuilder) And() *QueryBuilder {
	g := &node{kind: nodeGroupAnd}
	b.push(g)
	b.stack = append(b.stack, g)
	return b
}

// End closes the innermost Or/And scope opened on this builder.
func (b *QueryBuilder) End() *QueryBuilder {
	if len(b.stack) > 1 {
		b.stack = b.stack[:len(b.stack)-1]
	}
	return b
}

// Where adds a comparison predicate: op is one of
// "==", "!=", "<", "<=", ">", ">=".
func (b *QueryBuilder) Where(field, op string, value any) *QueryBuilder {
	return b.push(&node{kind: nodeWhere, field: field, op: op, value: value})
}

// In matches when field equals (or intersects, if field is itself an
// array) any element of values.
func (b *QueryBuilder) In(field string, values any) *QueryBuilder {
	return b.push(&node{kind: nodeIn, field: field, value: values})
}

// NotIn is the negation of In.
func (b *QueryBuilder) NotIn(field string, values any) *QueryBuilder {
	return b.push(&node{kind: nodeNotIn, field: field, value: values})
}

// Between matches when field is within [lo, hi] inclusive.
func (b *QueryBuilder) Between(field string, lo, hi any) *QueryBuilder {
	return b.push(&node{kind: nodeBetween, field: field, value: [2]any{lo, hi}})
}

// Like does a case-insensitive substring/prefix/suffix match. value
// may be a string or a list, in which case list elements are joined
// with a space before matching.
func (b *QueryBuilder) Like(field string, value any, where LikeWhere) *QueryBuilder {
	return b.push(&node{kind: nodeLike, field: field, value: value, where: where})
}

// Fulltext requires ceil(len(tokens)*weight/100) tokens of value to
// be present in field, case-insensitively, with CJK text tokenized
// per-character. weight <= 0 defaults to 100 (every token required).
func (b *QueryBuilder) Fulltext(field string, value string, weight int) *QueryBuilder {
	return b.push(&node{kind: nodeFulltext, field: field, value: value, weight: weight})
}

// Fuzzy is a supplemented option: it matches when field is within
// maxDistance Levenshtein edits of value.
func (b *QueryBuilder) Fuzzy(field string, value string, maxDistance int) *QueryBuilder {
	return b.push(&node{kind: nodeFuzzy, field: field, value: value, distance: maxDistance})
}

// Regexp matches field against a compiled regular expression.
func (b *QueryBuilder) Regexp(field string, pattern string) *QueryBuilder {
	re, err := regexp.Compile(pattern)
	n := &node{kind: nodeRegexp, field: field, pattern: pattern}
	if err == nil {
		n.compiled = re
	}
	return b.push(n)
}

// Contains matches when field (array or string) contains value.
func (b *QueryBuilder) Contains(field string, value any) *QueryBuilder {
	return b.push(&node{kind: nodeContains, field: field, value: value})
}

// Empty matches when field is absent, nil, "", the number 0, or a
// zero-length array/object.
func (b *QueryBuilder) Empty(field string) *QueryBuilder {
	return b.push(&node{kind: nodeEmpty, field: field})
}

// Month matches when field, coerced to a date, has the given month
// (1-12).
func (b *QueryBuilder) Month(field string, month int) *QueryBuilder {
	return b.push(&node{kind: nodeMonth, field: field, value: month})
}

// Day matches when field, coerced to a date, has the given
// day-of-month.
func (b *QueryBuilder) Day(field string, day int) *QueryBuilder {
	return b.push(&node{kind: nodeDay, field: field, value: day})
}

// Year matches when field, coerced to a date, has the given year.
func (b *QueryBuilder) Year(field string, year int) *QueryBuilder {
	return b.push(&node{kind: nodeYear, field: field, value: year})
}

// Query adds a raw user predicate function, evaluated with the same
// fold semantics (AND/OR) as every other node in the current scope.
func (b *QueryBuilder) Query(fn RawFunc) *QueryBuilder {
	return b.push(&node{kind: nodeRaw, raw: fn})
}

// Prepare is an alias for Query kept for readability at call sites
// that build a reusable predicate ahead of time.
func (b *QueryBuilder) Prepare(fn RawFunc) *QueryBuilder {
	return b.Query(fn)
}

// Take limits the result set to at most n documents.
func (b *QueryBuilder) Take(n int) *QueryBuilder {
	b.opts.Take = n
	return b
}

// Skip discards the first n matches. Skip never touches Take; in the
// engine this historically aliased the take option by mistake (see
// spec.md §9), which this port deliberately does not replicate.
func (b *QueryBuilder) Skip(n int) *QueryBuilder {
	b.opts.Skip = n
	return b
}

// First stops the scan at the first match and yields at most one
// document.
func (b *QueryBuilder) First() *QueryBuilder {
	b.opts.First = true
	b.opts.Take = 1
	return b
}

// Sort orders results by field, ascending if asc is true.
func (b *QueryBuilder) Sort(field string, asc bool) *QueryBuilder {
	b.opts.SortField = field
	b.opts.SortAsc = asc
	b.opts.SortNone = false
	b.opts.SortFunc = nil
	return b
}

// SortRandom disables ordering entirely (matches are returned in scan
// order, which is unspecified from the caller's point of view).
func (b *QueryBuilder) SortRandom() *QueryBuilder {
	b.opts.SortNone = true
	b.opts.SortField = ""
	b.opts.SortFunc = nil
	return b
}

// SortFunc orders results with a user comparator.
func (b *QueryBuilder) SortFunc(less func(a, b Document) bool) *QueryBuilder {
	b.opts.SortFunc = less
	b.opts.SortField = ""
	b.opts.SortNone = false
	return b
}

// Fields restricts the projection to a keep-list. The sort key, if
// any, is always retained regardless of this list.
func (b *QueryBuilder) Fields(names ...string) *QueryBuilder {
	b.opts.Fields = names
	b.opts.FieldsDrop = nil
	return b
}

// FieldsDrop restricts the projection to everything except a
// drop-set. The sort key is never dropped even if named here.
func (b *QueryBuilder) FieldsDrop(names ...string) *QueryBuilder {
	b.opts.FieldsDrop = names
	b.opts.Fields = nil
	return b
}

// Scalar turns the query into a single-value reduction instead of a
// document list.
func (b *QueryBuilder) Scalar(t ScalarType, field string) *QueryBuilder {
	b.opts.ScalarType = t
	b.opts.ScalarField = field
	return b
}

// Listing requests a paginated {page, pages, limit, count, items}
// result shape instead of a bare list.
func (b *QueryBuilder) Listing() *QueryBuilder {
	b.opts.Listing = true
	return b
}

// ID sets an explicit compiled-predicate cache key, scoped to the
// owning database. Without an ID, the compiler derives a key from a
// deterministic dump of the predicate tree.
func (b *QueryBuilder) ID(id string) *QueryBuilder {
	b.opts.ID = id
	return b
}

// Join records a post-query join against a sibling table.
func (b *QueryBuilder) Join(field, table string) *JoinBuilder {
	js := &JoinSpec{Field: field, Table: table}
	b.opts.Join = js
	return &JoinBuilder{spec: js}
}

// Callback registers the message surfaced when the query matches
// nothing and the caller opted into treating that as an error (§7
// EmptyResult).
func (b *QueryBuilder) Callback(emptyErrorMessage string) *QueryBuilder {
	b.opts.EmptyErr = emptyErrorMessage
	return b
}

// Options returns the accumulated options, for use by the engine
// package when dispatching a drained job.
func (b *QueryBuilder) Options() Options {
	return b.opts
}

// JoinBuilder configures a JoinSpec fluently.
type JoinBuilder struct {
	spec *JoinSpec
}

// On sets the local/foreign key pair the join matches on.
func (j *JoinBuilder) On(localField, foreignField string) *JoinBuilder {
	j.spec.OnLocal = localField
	j.spec.OnForeign = foreignField
	return j
}

// First restricts the joined side to its first match.
func (j *JoinBuilder) First() *JoinBuilder {
	j.spec.First = true
	return j
}

// Scalar reduces the joined side to a single value instead of
// attaching full documents.
func (j *JoinBuilder) Scalar(t ScalarType, field string) *JoinBuilder {
	j.spec.ScalarType = t
	j.spec.ScalarField = field
	return j
}
