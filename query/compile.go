package query

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/agnivade/levenshtein"
	"golang.org/x/exp/slices"
)

// Predicate is the compiled form of a QueryBuilder: it tests doc and,
// on a match, returns the projected document.
type Predicate func(doc Document, ctx *Context, index int) (Document, bool)

type leafFunc func(doc Document, ctx *Context, index int) bool

func compileNode(n *node) leafFunc {
	switch n.kind {
	case nodeGroupAnd:
		children := compileChildren(n.children)
		return func(doc Document, ctx *Context, index int) bool {
			for _, c := range children {
				if !c(doc, ctx, index) {
					return false
				}
			}
			return true
		}
	case nodeGroupOr:
		children := compileChildren(n.children)
		return func(doc Document, ctx *Context, index int) bool {
			if len(children) == 0 {
				return true
			}
			for _, c := range children {
				if c(doc, ctx, index) {
					return true
				}
			}
			return false
		}
	default:
		return compileLeaf(n)
	}
}

func compileChildren(nodes []*node) []leafFunc {
	out := make([]leafFunc, len(nodes))
	for i, c := range nodes {
		out[i] = compileNode(c)
	}
	return out
}

func compileLeaf(n *node) leafFunc {
	switch n.kind {
	case nodeWhere:
		field, op, value := n.field, n.op, n.value
		return func(doc Document, ctx *Context, index int) bool {
			return whereMatch(doc[field], op, value)
		}
	case nodeIn:
		field, value := n.field, n.value
		return func(doc Document, ctx *Context, index int) bool {
			return inMatch(doc[field], value)
		}
	case nodeNotIn:
		field, value := n.field, n.value
		return func(doc Document, ctx *Context, index int) bool {
			return !inMatch(doc[field], value)
		}
	case nodeBetween:
		field := n.field
		bounds := n.value.([2]any)
		return func(doc Document, ctx *Context, index int) bool {
			return betweenMatch(doc[field], bounds[0], bounds[1])
		}
	case nodeLike:
		field, value, where := n.field, n.value, n.where
		return func(doc Document, ctx *Context, index int) bool {
			target, ok := doc[field].(string)
			if !ok {
				return false
			}
			return likeMatch(target, value, where)
		}
	case nodeFulltext:
		field, value, weight := n.field, n.value.(string), n.weight
		return func(doc Document, ctx *Context, index int) bool {
			target, ok := doc[field].(string)
			if !ok {
				return false
			}
			return fulltextMatch(target, value, weight)
		}
	case nodeFuzzy:
		field, value, dist := n.field, n.value.(string), n.distance
		return func(doc Document, ctx *Context, index int) bool {
			target, ok := doc[field].(string)
			if !ok {
				return false
			}
			return levenshtein.ComputeDistance(strings.ToLower(target), strings.ToLower(value)) <= dist
		}
	case nodeRegexp:
		field := n.field
		re := n.compiled
		return func(doc Document, ctx *Context, index int) bool {
			if re == nil {
				return false
			}
			target, ok := doc[field].(string)
			if !ok {
				return false
			}
			return re.MatchString(target)
		}
	case nodeContains:
		field, value := n.field, n.value
		return func(doc Document, ctx *Context, index int) bool {
			return containsMatch(doc[field], value)
		}
	case nodeEmpty:
		field := n.field
		return func(doc Document, ctx *Context, index int) bool {
			return isEmpty(doc[field])
		}
	case nodeMonth:
		field, want := n.field, n.value.(int)
		return func(doc Document, ctx *Context, index int) bool {
			t, ok := asDate(doc[field])
			return ok && int(t.Month()) == want
		}
	case nodeDay:
		field, want := n.field, n.value.(int)
		return func(doc Document, ctx *Context, index int) bool {
			t, ok := asDate(doc[field])
			return ok && t.Day() == want
		}
	case nodeYear:
		field, want := n.field, n.value.(int)
		return func(doc Document, ctx *Context, index int) bool {
			t, ok := asDate(doc[field])
			return ok && t.Year() == want
		}
	case nodeRaw:
		fn := n.raw
		return func(doc Document, ctx *Context, index int) bool {
			if fn == nil {
				return true
			}
			return fn(doc, ctx, index)
		}
	default:
		return func(doc Document, ctx *Context, index int) bool { return true }
	}
}

func whereMatch(fv any, op string, rv any) bool {
	if fd, ok := asDate(fv); ok {
		if rd, ok2 := asDate(rv); ok2 {
			return compareFloat(float64(fd.UnixMilli()), op, float64(rd.UnixMilli()))
		}
	}
	switch a := fv.(type) {
	case float64:
		if b, ok := toFloat(rv); ok {
			return compareFloat(a, op, b)
		}
	case string:
		if b, ok := rv.(string); ok {
			return compareString(a, op, b)
		}
	case bool:
		if b, ok := rv.(bool); ok {
			return compareBool(a, op, b)
		}
	case nil:
		return op == "==" && rv == nil
	}
	return false
}

func compareFloat(a float64, op string, b float64) bool {
	switch op {
	case "==":
		return a == b
	case "!=":
		return a != b
	case "<":
		return a < b
	case "<=":
		return a <= b
	case ">":
		return a > b
	case ">=":
		return a >= b
	}
	return false
}

func compareString(a string, op string, b string) bool {
	switch op {
	case "==":
		return a == b
	case "!=":
		return a != b
	case "<":
		return a < b
	case "<=":
		return a <= b
	case ">":
		return a > b
	case ">=":
		return a >= b
	}
	return false
}

func compareBool(a bool, op string, b bool) bool {
	switch op {
	case "==":
		return a == b
	case "!=":
		return a != b
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func asDate(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

func toSlice(v any) []any {
	switch s := v.(type) {
	case []any:
		return s
	case []string:
		out := make([]any, len(s))
		for i, x := range s {
			out[i] = x
		}
		return out
	case []float64:
		out := make([]any, len(s))
		for i, x := range s {
			out[i] = x
		}
		return out
	default:
		return nil
	}
}

func looseEqual(a, b any) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func inMatch(fieldVal, listVal any) bool {
	list := toSlice(listVal)
	if list == nil {
		list = []any{listVal}
	}
	if fvs := toSlice(fieldVal); fvs != nil {
		for _, fv := range fvs {
			for _, item := range list {
				if looseEqual(fv, item) {
					return true
				}
			}
		}
		return false
	}
	for _, item := range list {
		if looseEqual(fieldVal, item) {
			return true
		}
	}
	return false
}

func betweenMatch(fv, lo, hi any) bool {
	if fd, ok := asDate(fv); ok {
		ld, ok1 := asDate(lo)
		hd, ok2 := asDate(hi)
		if ok1 && ok2 {
			ms := float64(fd.UnixMilli())
			return ms >= float64(ld.UnixMilli()) && ms <= float64(hd.UnixMilli())
		}
	}
	f, ok := toFloat(fv)
	if !ok {
		return false
	}
	lf, ok1 := toFloat(lo)
	hf, ok2 := toFloat(hi)
	if !ok1 || !ok2 {
		return false
	}
	return f >= lf && f <= hf
}

func likeValue(value any) string {
	switch v := value.(type) {
	case []string:
		return strings.Join(v, " ")
	case []any:
		parts := make([]string, len(v))
		for i, x := range v {
			parts[i] = fmt.Sprint(x)
		}
		return strings.Join(parts, " ")
	default:
		return fmt.Sprint(v)
	}
}

func likeMatch(target string, value any, where LikeWhere) bool {
	needle := strings.ToLower(likeValue(value))
	t := strings.ToLower(target)
	switch where {
	case LikeBeg:
		return strings.HasPrefix(t, needle)
	case LikeEnd:
		return strings.HasSuffix(t, needle)
	default:
		return strings.Contains(t, needle)
	}
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r)
}

func tokenize(s string) []string {
	var out []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	for _, r := range s {
		switch {
		case isCJK(r):
			flush()
			out = append(out, string(r))
		case unicode.IsSpace(r) || unicode.IsPunct(r):
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return out
}

func fulltextMatch(target, query string, weight int) bool {
	if weight <= 0 {
		weight = 100
	}
	qTokens := tokenize(strings.ToLower(query))
	if len(qTokens) == 0 {
		return false
	}
	targetSet := make(map[string]bool)
	for _, tok := range tokenize(strings.ToLower(target)) {
		targetSet[tok] = true
	}
	need := int(math.Ceil(float64(len(qTokens)) * float64(weight) / 100))
	if need < 1 {
		need = 1
	}
	count := 0
	for _, tok := range qTokens {
		if targetSet[tok] {
			count++
		}
	}
	return count >= need
}

func containsMatch(fieldVal, value any) bool {
	if arr := toSlice(fieldVal); arr != nil {
		for _, item := range arr {
			if looseEqual(item, value) {
				return true
			}
		}
		return false
	}
	if s, ok := fieldVal.(string); ok {
		if sv, ok := value.(string); ok {
			return strings.Contains(s, sv)
		}
	}
	return false
}

func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case []any:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	case float64:
		return x == 0
	}
	return false
}

// Compiler caches compiled predicates across calls so repeated queries
// built with the same shape (or the same explicit ID) don't re-walk
// and re-compile the node tree on every scan.
type Compiler struct {
	mu    sync.Mutex
	cache map[string]Predicate
}

// NewCompiler returns an empty, ready-to-use Compiler.
func NewCompiler() *Compiler {
	return &Compiler{cache: make(map[string]Predicate)}
}

// Compile returns the predicate for b, reusing a cached one when b's
// ID (or, absent one, a structural dump of its tree) has been seen
// before.
func (c *Compiler) Compile(b *QueryBuilder) Predicate {
	key := cacheKey(b)
	c.mu.Lock()
	if p, ok := c.cache[key]; ok {
		c.mu.Unlock()
		return p
	}
	c.mu.Unlock()

	p := build(b)

	c.mu.Lock()
	c.cache[key] = p
	c.mu.Unlock()
	return p
}

func cacheKey(b *QueryBuilder) string {
	if b.opts.ID != "" {
		return b.opts.ID
	}
	return dumpNode(b.root) + "|" + dumpOptions(b.opts)
}

func dumpNode(n *node) string {
	if n == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "(%d f=%s op=%s v=%v w=%d wt=%d d=%d p=%s", n.kind, n.field, n.op, n.value, n.where, n.weight, n.distance, n.pattern)
	for _, c := range n.children {
		b.WriteString(dumpNode(c))
	}
	b.WriteByte(')')
	return b.String()
}

func dumpOptions(o Options) string {
	return fmt.Sprintf("take=%d skip=%d first=%t sf=%s sa=%t sn=%t fields=%v drop=%v scalar=%d sfield=%s listing=%t",
		o.Take, o.Skip, o.First, o.SortField, o.SortAsc, o.SortNone, o.Fields, o.FieldsDrop, o.ScalarType, o.ScalarField, o.Listing)
}

// build turns a builder's accumulated tree and options into a single
// Predicate: test, then project on a match.
func build(b *QueryBuilder) Predicate {
	test := compileNode(b.root)
	opts := b.opts
	return func(doc Document, ctx *Context, index int) (Document, bool) {
		if !test(doc, ctx, index) {
			return nil, false
		}
		return project(doc, opts), true
	}
}

// project applies a Fields keep-list or FieldsDrop drop-set to doc,
// always retaining the sort key so downstream ordering still works.
func project(doc Document, opts Options) Document {
	if len(opts.Fields) == 0 && len(opts.FieldsDrop) == 0 {
		return doc
	}
	out := make(Document, len(doc))
	if len(opts.Fields) > 0 {
		keep := opts.Fields
		if opts.SortField != "" && !slices.Contains(keep, opts.SortField) {
			keep = append(append([]string{}, keep...), opts.SortField)
		}
		for k, v := range doc {
			if slices.Contains(keep, k) {
				out[k] = v
			}
		}
		return out
	}
	drop := opts.FieldsDrop
	if opts.SortField != "" && slices.Contains(drop, opts.SortField) {
		drop = slices.DeleteFunc(append([]string{}, drop...), func(f string) bool { return f == opts.SortField })
	}
	for k, v := range doc {
		if !slices.Contains(drop, k) {
			out[k] = v
		}
	}
	return out
}
