package store

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/francyfox/sqstat/internal/parser"
)

const (
	defaultIndexName = "log_idx"
	defaultKeyPrefix = "log:"

	positionKeyPrefix = "sqstat:position:"

	connectTimeout = 2 * time.Second
)

// Config holds connection and schema settings for the log store.
type Config struct {
	Addr      string
	Password  string
	DB        int
	IndexName string
	KeyPrefix string
	Retention time.Duration // 0 = keep records forever
}

// LogStore is the RediSearch-backed record store. It satisfies Index.
type LogStore struct {
	client    *redis.Client
	log       *slog.Logger
	index     string
	prefix    string
	retention time.Duration
}

// Open connects to Redis and verifies the connection with a ping.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*LogStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	index := cfg.IndexName
	if index == "" {
		index = defaultIndexName
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}

	return &LogStore{
		client:    client,
		log:       logger,
		index:     index,
		prefix:    prefix,
		retention: cfg.Retention,
	}, nil
}

// Close releases the underlying connection pool.
func (s *LogStore) Close() error {
	return s.client.Close()
}

// EnsureIndex (re)creates the secondary index from the declared schema.
// Existing records are reindexed in the background by the server.
func (s *LogStore) EnsureIndex(ctx context.Context, decls []parser.FieldDecl) error {
	// A stale index from a previous format would shadow the new schema.
	if err := s.client.FTDropIndex(ctx, s.index).Err(); err != nil {
		s.log.Debug("no existing index to drop", "index", s.index, "error", err)
	}

	schema := make([]*redis.FieldSchema, 0, len(decls))
	for _, d := range decls {
		fs := &redis.FieldSchema{FieldName: d.Name, Sortable: d.Sortable}
		switch d.Type {
		case parser.Numeric:
			fs.FieldType = redis.SearchFieldTypeNumeric
		case parser.Tag:
			fs.FieldType = redis.SearchFieldTypeTag
		default:
			fs.FieldType = redis.SearchFieldTypeText
		}
		schema = append(schema, fs)
	}

	opts := &redis.FTCreateOptions{
		OnHash: true,
		Prefix: []interface{}{s.prefix},
	}
	if err := s.client.FTCreate(ctx, s.index, opts, schema...).Err(); err != nil {
		return fmt.Errorf("create index %s: %w", s.index, err)
	}
	return nil
}

// recordKey derives the storage key for a parsed record. The millisecond
// timestamp is the record identity: rewriting the same key is idempotent.
func (s *LogStore) recordKey(rec parser.Record) string {
	ts := rec["timestamp"]
	if ts == "" || ts == "0" {
		ts = strconv.FormatInt(time.Now().UnixMilli(), 10)
	}
	return s.prefix + ts
}

// Put writes one parsed record as a hash, applying the retention TTL.
func (s *LogStore) Put(ctx context.Context, rec parser.Record) error {
	key := s.recordKey(rec)
	if err := s.client.HSet(ctx, key, map[string]string(rec)).Err(); err != nil {
		return fmt.Errorf("write record %s: %w", key, err)
	}
	if s.retention > 0 {
		if err := s.client.Expire(ctx, key, s.retention).Err(); err != nil {
			return fmt.Errorf("set ttl on %s: %w", key, err)
		}
	}
	return nil
}

// Has reports whether a record with the same identity is already stored.
func (s *LogStore) Has(ctx context.Context, rec parser.Record) (bool, error) {
	n, err := s.client.Exists(ctx, s.recordKey(rec)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Count returns the number of records matching the filter.
func (s *LogStore) Count(ctx context.Context, query string) (int64, error) {
	res, err := s.client.FTSearchWithArgs(ctx, s.index, query, &redis.FTSearchOptions{
		NoContent:   true,
		LimitOffset: 0,
		Limit:       1,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("count %q: %w", query, err)
	}
	return int64(res.Total), nil
}

// Search runs a filtered, sorted, paginated search. A zero opts.Limit returns
// only the total count.
func (s *LogStore) Search(ctx context.Context, query string, opts SearchOptions) (*SearchResult, error) {
	o := &redis.FTSearchOptions{
		LimitOffset: opts.Offset,
		Limit:       opts.Limit,
	}
	if opts.Limit == 0 {
		o.NoContent = true
		o.LimitOffset = 0
		o.Limit = 1
	}
	if opts.SortBy != "" {
		sb := redis.FTSearchSortBy{FieldName: opts.SortBy}
		if opts.Desc {
			sb.Desc = true
		} else {
			sb.Asc = true
		}
		o.SortBy = []redis.FTSearchSortBy{sb}
	}
	for _, f := range opts.Return {
		o.Return = append(o.Return, redis.FTSearchReturn{FieldName: f})
	}

	res, err := s.client.FTSearchWithArgs(ctx, s.index, query, o).Result()
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}

	out := &SearchResult{Total: int64(res.Total)}
	if opts.Limit > 0 {
		out.Docs = make([]Document, 0, len(res.Docs))
		for _, doc := range res.Docs {
			out.Docs = append(out.Docs, Document(doc.Fields))
		}
	}
	return out, nil
}

// Aggregate runs a group-by pipeline with the declared reducers.
func (s *LogStore) Aggregate(ctx context.Context, query string, opts AggregateOptions) (*AggregateResult, error) {
	o := &redis.FTAggregateOptions{}
	for _, l := range opts.Load {
		o.Load = append(o.Load, redis.FTAggregateLoad{Field: "@" + l})
	}
	for _, a := range opts.Apply {
		o.Apply = append(o.Apply, redis.FTAggregateApply{Field: a.Expr, As: a.As})
	}
	if opts.GroupBy != "" {
		group := redis.FTAggregateGroupBy{Fields: []interface{}{"@" + opts.GroupBy}}
		for _, r := range opts.Reducers {
			reducer := redis.FTAggregateReducer{As: r.As}
			switch r.Op {
			case ReduceCount:
				reducer.Reducer = redis.SearchCount
			case ReduceSum:
				reducer.Reducer = redis.SearchSum
				reducer.Args = []interface{}{"@" + r.Field}
			case ReduceMax:
				reducer.Reducer = redis.SearchMax
				reducer.Args = []interface{}{"@" + r.Field}
			default:
				return nil, fmt.Errorf("unsupported reducer %q", r.Op)
			}
			group.Reduce = append(group.Reduce, reducer)
		}
		o.GroupBy = []redis.FTAggregateGroupBy{group}
	}
	if opts.SortBy != "" {
		sb := redis.FTAggregateSortBy{FieldName: "@" + opts.SortBy}
		if opts.Desc {
			sb.Desc = true
		} else {
			sb.Asc = true
		}
		o.SortBy = []redis.FTAggregateSortBy{sb}
	}
	if opts.Limit > 0 {
		o.LimitOffset = opts.Offset
		o.Limit = opts.Limit
	}

	res, err := s.client.FTAggregateWithArgs(ctx, s.index, query, o).Result()
	if err != nil {
		return nil, fmt.Errorf("aggregate %q: %w", query, err)
	}

	out := &AggregateResult{Total: int64(res.Total), Rows: make([]Row, 0, len(res.Rows))}
	for _, r := range res.Rows {
		row := make(Row, len(r.Fields))
		for k, v := range r.Fields {
			row[k] = stringify(v)
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

// LoadPosition retrieves the saved tail position for a log file. Missing
// positions return zeros so tailing starts from the beginning.
func (s *LogStore) LoadPosition(ctx context.Context, file string) (offset, inode, size int64, err error) {
	fields, err := s.client.HGetAll(ctx, positionKeyPrefix+file).Result()
	if err != nil {
		return 0, 0, 0, fmt.Errorf("load position for %s: %w", file, err)
	}
	offset, _ = strconv.ParseInt(fields["offset"], 10, 64)
	inode, _ = strconv.ParseInt(fields["inode"], 10, 64)
	size, _ = strconv.ParseInt(fields["size"], 10, 64)
	return offset, inode, size, nil
}

// SavePosition persists the current tail position for a log file.
func (s *LogStore) SavePosition(ctx context.Context, file string, offset, inode, size int64) error {
	err := s.client.HSet(ctx, positionKeyPrefix+file, map[string]string{
		"offset": strconv.FormatInt(offset, 10),
		"inode":  strconv.FormatInt(inode, 10),
		"size":   strconv.FormatInt(size, 10),
	}).Err()
	if err != nil {
		return fmt.Errorf("save position for %s: %w", file, err)
	}
	return nil
}

func stringify(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	case nil:
		return ""
	default:
		return fmt.Sprint(val)
	}
}
