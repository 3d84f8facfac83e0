package store

import (
	"fmt"
	"strings"
)

// whereBuilder accumulates WHERE conditions with positional args. Each expr
// carries one %d verb for the arg position.
type whereBuilder struct {
	conds []string
	args  []any
}

// newWhere seeds the builder with already-bound args so condition positions
// continue after them.
func newWhere(bound ...any) *whereBuilder {
	return &whereBuilder{args: bound}
}

func (w *whereBuilder) add(expr string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, fmt.Sprintf(expr, len(w.args)))
}

// addLiteral appends a condition with no argument.
func (w *whereBuilder) addLiteral(expr string) {
	w.conds = append(w.conds, expr)
}

// bind appends an arg without a condition and returns its position.
func (w *whereBuilder) bind(arg any) int {
	w.args = append(w.args, arg)
	return len(w.args)
}

// clause renders " WHERE a AND b" or "" when no conditions were added.
func (w *whereBuilder) clause() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// likePattern escapes LIKE wildcards in s. The result is meant to be wrapped
// or suffixed with literal wildcards by the caller.
func likePattern(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

// prefixPatterns turns path prefixes into LIKE patterns for path scoping.
func prefixPatterns(prefixes []string) []string {
	out := make([]string, len(prefixes))
	for i, p := range prefixes {
		out[i] = likePattern(p) + "%"
	}
	return out
}

// orEmpty maps nil slices to empty ones so array columns never receive NULL.
func orEmpty(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
