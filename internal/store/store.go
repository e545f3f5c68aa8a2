// Package store implements the indexed record store backing the metrics
// layer: hash records with TTL, a declared secondary index, and search and
// group-by aggregation primitives.
package store

import "context"

// Document is one stored record projected to field-value pairs.
type Document map[string]string

// SearchResult holds a filtered search's total match count and the requested
// page of documents.
type SearchResult struct {
	Total int64
	Docs  []Document
}

// SearchOptions shape one search call. A zero Limit returns no documents,
// only the total count.
type SearchOptions struct {
	Offset int
	Limit  int
	SortBy string
	Desc   bool
	Return []string
}

// ReduceOp is a group-by reducer operation.
type ReduceOp string

const (
	ReduceSum   ReduceOp = "SUM"
	ReduceCount ReduceOp = "COUNT"
	ReduceMax   ReduceOp = "MAX"
)

// Reducer declares one reduction over a grouped field.
type Reducer struct {
	Op    ReduceOp
	Field string // source field; unused for COUNT
	As    string
}

// Apply declares a computed expression evaluated per record before grouping.
type Apply struct {
	Expr string
	As   string
}

// AggregateOptions shape one aggregation pipeline call.
type AggregateOptions struct {
	Load     []string
	Apply    []Apply
	GroupBy  string
	Reducers []Reducer
	SortBy   string
	Desc     bool
	Offset   int
	Limit    int
}

// Row is one grouped aggregation result row. Values arrive as strings and are
// decoded by the caller at the boundary.
type Row map[string]string

// AggregateResult holds grouped rows plus the total group count.
type AggregateResult struct {
	Total int64
	Rows  []Row
}

// Index is the query surface the metrics layer consumes.
type Index interface {
	Count(ctx context.Context, query string) (int64, error)
	Search(ctx context.Context, query string, opts SearchOptions) (*SearchResult, error)
	Aggregate(ctx context.Context, query string, opts AggregateOptions) (*AggregateResult, error)
}
