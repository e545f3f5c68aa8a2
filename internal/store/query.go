package store

import (
	"strconv"
	"strings"
)

// querySpecials are the characters RediSearch treats as syntax inside filter
// expressions. Escape is the single place values get escaped; query
// constructors never do their own.
const querySpecials = ",.<>{}[]\"':;!@#$%^&*()-+=~|/\\ "

// Escape backslash-escapes every special character in a filter value.
func Escape(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	for _, r := range value {
		if strings.ContainsRune(querySpecials, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Query assembles a structured search filter and serializes it to the store's
// wire syntax only at String time. An empty query matches everything.
type Query struct {
	clauses []string
}

// NewQuery returns an empty filter.
func NewQuery() *Query {
	return &Query{}
}

// Range adds an inclusive numeric range clause on a field.
func (q *Query) Range(field string, min, max int64) *Query {
	q.clauses = append(q.clauses,
		"@"+field+":["+strconv.FormatInt(min, 10)+" "+strconv.FormatInt(max, 10)+"]")
	return q
}

// Since adds a half-open numeric range clause from min to infinity.
func (q *Query) Since(field string, min int64) *Query {
	q.clauses = append(q.clauses, "@"+field+":["+strconv.FormatInt(min, 10)+" inf]")
	return q
}

// Tag adds an exact-match clause on a TAG field.
func (q *Query) Tag(field, value string) *Query {
	q.clauses = append(q.clauses, "@"+field+":{"+Escape(value)+"}")
	return q
}

// Text adds a full-text match clause on a TEXT field.
func (q *Query) Text(field, value string) *Query {
	q.clauses = append(q.clauses, "@"+field+":"+Escape(value))
	return q
}

// Contains adds an infix wildcard clause on a field.
func (q *Query) Contains(field, needle string) *Query {
	q.clauses = append(q.clauses, "@"+field+":*"+Escape(needle)+"*")
	return q
}

// String serializes the filter. No clauses yields the match-all filter;
// multiple clauses are AND-combined.
func (q *Query) String() string {
	switch len(q.clauses) {
	case 0:
		return "*"
	case 1:
		return q.clauses[0]
	default:
		return "(" + strings.Join(q.clauses, " ") + ")"
	}
}
