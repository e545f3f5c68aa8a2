// Package metrics assembles aggregation queries against the indexed log
// store and post-processes the grouped rows into dashboard figures. Every
// rate and ratio treats a zero denominator as 0: an idle proxy is a valid
// steady state, not an error.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"sort"
	"strconv"
	"time"

	"github.com/oschwald/geoip2-golang/v2"
	"golang.org/x/sync/errgroup"

	"github.com/francyfox/sqstat/internal/store"
)

const (
	// freshWindow bounds "current" figures: per-client speeds and the
	// fresh variant of TotalSum.
	freshWindow = time.Minute

	// defaultRateWindow is the trailing window for the Overview rps figure
	// when no explicit range is given.
	defaultRateWindow = time.Hour

	defaultGroupLimit = 100
	defaultPageLimit  = 10
)

// Service is the aggregation layer over the indexed store.
type Service struct {
	index store.Index
	geo   *geoip2.Reader
	log   *slog.Logger
	now   func() time.Time
}

// New creates the aggregation service. geoDBPath is optional; when empty or
// unreadable, country lookup is disabled.
func New(index store.Index, logger *slog.Logger, geoDBPath string) *Service {
	var geo *geoip2.Reader
	if geoDBPath != "" {
		var err error
		geo, err = geoip2.Open(geoDBPath)
		if err != nil {
			logger.Warn("geoip database unavailable, country lookup disabled",
				"path", geoDBPath, "error", err)
			geo = nil
		}
	}
	return &Service{index: index, geo: geo, log: logger, now: time.Now}
}

// Close releases the GeoIP reader if one was opened.
func (s *Service) Close() error {
	if s.geo != nil {
		return s.geo.Close()
	}
	return nil
}

func rangeQuery(tr TimeRange) *store.Query {
	q := store.NewQuery()
	if tr.StartTime > 0 && tr.EndTime > 0 {
		q.Range("timestamp", tr.StartTime, tr.EndTime)
	}
	return q
}

// TotalSum groups traffic by client and sums bytes and duration. Explicit
// bounds win; otherwise Fresh restricts to the trailing fresh window.
func (s *Service) TotalSum(ctx context.Context, opts TotalSumOptions) (*TotalSumResult, error) {
	q := store.NewQuery()
	switch {
	case opts.StartTime > 0 && opts.EndTime > 0:
		q.Range("timestamp", opts.StartTime, opts.EndTime)
	case opts.Fresh:
		q.Since("timestamp", s.now().Add(-freshWindow).UnixMilli())
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultGroupLimit
	}

	res, err := s.index.Aggregate(ctx, q.String(), store.AggregateOptions{
		GroupBy: "clientIP",
		Reducers: []store.Reducer{
			{Op: store.ReduceSum, Field: "bytes", As: "totalBytes"},
			{Op: store.ReduceSum, Field: "duration", As: "totalDuration"},
		},
		SortBy: "totalBytes",
		Desc:   true,
		Limit:  limit,
	})
	if err != nil {
		return nil, fmt.Errorf("total sum: %w", err)
	}

	out := &TotalSumResult{Count: res.Total, Items: make([]ClientTotal, 0, len(res.Rows))}
	for _, row := range res.Rows {
		out.Items = append(out.Items, ClientTotal{
			ClientIP:      rowString(row, "clientIP"),
			TotalBytes:    rowInt(row, "totalBytes"),
			TotalDuration: rowInt(row, "totalDuration"),
		})
	}
	return out, nil
}

// TotalRequestsByTime counts records in the range, unrestricted when no
// bounds are given.
func (s *Service) TotalRequestsByTime(ctx context.Context, tr TimeRange) (int64, error) {
	return s.index.Count(ctx, rangeQuery(tr).String())
}

// TotalStatusesByTime buckets records by status class and returns the
// histogram in ascending bucket order.
func (s *Service) TotalStatusesByTime(ctx context.Context, tr TimeRange) ([]StatusBucket, error) {
	res, err := s.index.Aggregate(ctx, rangeQuery(tr).String(), store.AggregateOptions{
		Load:    []string{"resultStatus"},
		Apply:   []store.Apply{{Expr: "floor(@resultStatus/100)", As: "bucket"}},
		GroupBy: "bucket",
		Reducers: []store.Reducer{
			{Op: store.ReduceCount, As: "count"},
		},
		Limit: defaultGroupLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("status histogram: %w", err)
	}

	buckets := make([]StatusBucket, 0, len(res.Rows))
	for _, row := range res.Rows {
		n := rowInt(row, "bucket")
		buckets = append(buckets, StatusBucket{
			Status: fmt.Sprintf("%dXX", n),
			Count:  rowInt(row, "count"),
		})
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Status < buckets[j].Status })
	return buckets, nil
}

// HitRatio is the percentage of cache-hit results in the range.
func (s *Service) HitRatio(ctx context.Context, tr TimeRange) (float64, error) {
	total, err := s.index.Count(ctx, rangeQuery(tr).String())
	if err != nil {
		return 0, fmt.Errorf("hit ratio total: %w", err)
	}
	if total == 0 {
		return 0, nil
	}
	hits, err := s.index.Count(ctx, rangeQuery(tr).Contains("resultType", "HIT").String())
	if err != nil {
		return 0, fmt.Errorf("hit ratio hits: %w", err)
	}
	return 100 * float64(hits) / float64(total), nil
}

// SuccessRate is the percentage of 2xx responses in the range.
func (s *Service) SuccessRate(ctx context.Context, tr TimeRange) (float64, error) {
	total, err := s.index.Count(ctx, rangeQuery(tr).String())
	if err != nil {
		return 0, fmt.Errorf("success rate total: %w", err)
	}
	if total == 0 {
		return 0, nil
	}
	ok, err := s.index.Count(ctx, rangeQuery(tr).Range("resultStatus", 200, 299).String())
	if err != nil {
		return 0, fmt.Errorf("success rate 2xx: %w", err)
	}
	return 100 * float64(ok) / float64(total), nil
}

// Bandwidth is bytes per second over the window. Missing bounds or a
// zero-width window yield 0.
func Bandwidth(totalBytes, startTime, endTime int64) float64 {
	if startTime == 0 || endTime == 0 || startTime >= endTime {
		return 0
	}
	return float64(totalBytes) / (float64(endTime-startTime) / 1000)
}

// ContentTypeStats groups traffic by content type with a per-type hit rate.
// A failed per-type hit lookup degrades that type to hitCount 0.
func (s *Service) ContentTypeStats(ctx context.Context, tr TimeRange) ([]ContentTypeStat, error) {
	res, err := s.index.Aggregate(ctx, rangeQuery(tr).String(), store.AggregateOptions{
		GroupBy: "contentType",
		Reducers: []store.Reducer{
			{Op: store.ReduceCount, As: "requestCount"},
			{Op: store.ReduceSum, Field: "bytes", As: "totalBytes"},
		},
		SortBy: "requestCount",
		Desc:   true,
		Limit:  defaultGroupLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("content type stats: %w", err)
	}

	stats := make([]ContentTypeStat, 0, len(res.Rows))
	for _, row := range res.Rows {
		ct := ContentTypeStat{
			ContentType:  rowString(row, "contentType"),
			RequestCount: rowInt(row, "requestCount"),
			TotalBytes:   rowInt(row, "totalBytes"),
		}
		hitQuery := rangeQuery(tr).
			Text("contentType", ct.ContentType).
			Contains("resultType", "HIT")
		hits, err := s.index.Count(ctx, hitQuery.String())
		if err != nil {
			s.log.Warn("content type hit lookup failed",
				"contentType", ct.ContentType, "error", err)
			hits = 0
		}
		ct.HitCount = hits
		if ct.RequestCount > 0 {
			ct.HitRate = 100 * float64(ct.HitCount) / float64(ct.RequestCount)
		}
		stats = append(stats, ct)
	}
	return stats, nil
}

// Overview combines lifetime rollups with trailing-window figures. The
// sub-queries are independent and run concurrently; a failed sub-query
// degrades its figure to zero instead of failing the response.
func (s *Service) Overview(ctx context.Context, items []ClientTotal, tr TimeRange) (*OverviewResult, error) {
	var totalBytes, totalDuration int64
	for _, it := range items {
		totalBytes += it.TotalBytes
		totalDuration += it.TotalDuration
	}

	window := tr
	if window.StartTime == 0 || window.EndTime == 0 {
		now := s.now()
		window = TimeRange{
			StartTime: now.Add(-defaultRateWindow).UnixMilli(),
			EndTime:   now.UnixMilli(),
		}
	}

	out := &OverviewResult{
		GlobalStates: GlobalStates{
			TotalBytes:    totalBytes,
			TotalDuration: totalDuration,
			Bandwidth:     Bandwidth(totalBytes, tr.StartTime, tr.EndTime),
		},
	}

	degrade := func(name string, err error) error {
		if err != nil {
			s.log.Warn("overview sub-query failed", "metric", name, "error", err)
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := s.TotalRequestsByTime(gctx, tr)
		out.GlobalStates.TotalRequests = n
		return degrade("totalRequests", err)
	})
	g.Go(func() error {
		buckets, err := s.TotalStatusesByTime(gctx, tr)
		out.GlobalStates.Statuses = buckets
		return degrade("statuses", err)
	})
	g.Go(func() error {
		ratio, err := s.HitRatio(gctx, tr)
		out.GlobalStates.HitRatio = ratio
		return degrade("hitRatio", err)
	})
	g.Go(func() error {
		rate, err := s.SuccessRate(gctx, tr)
		out.GlobalStates.SuccessRate = rate
		return degrade("successRate", err)
	})
	g.Go(func() error {
		stats, err := s.ContentTypeStats(gctx, tr)
		out.GlobalStates.ContentTypes = stats
		return degrade("contentTypes", err)
	})
	g.Go(func() error {
		n, err := s.TotalRequestsByTime(gctx, window)
		if err == nil {
			seconds := float64(window.EndTime-window.StartTime) / 1000
			if seconds > 0 {
				out.CurrentStates.RequestsPerSecond = float64(n) / seconds
			}
		}
		return degrade("rps", err)
	})
	g.Go(func() error {
		buckets, err := s.TotalStatusesByTime(gctx, window)
		out.CurrentStates.Statuses = buckets
		return degrade("currentStatuses", err)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// UsersInfo enriches per-client totals with lifetime and current speeds and
// the client's most recent request attributes. Unattributed traffic (the "-"
// client) is skipped.
func (s *Service) UsersInfo(ctx context.Context, items []ClientTotal) ([]UserInfo, error) {
	freshSince := s.now().Add(-freshWindow).UnixMilli()

	users := make([]UserInfo, 0, len(items))
	for _, it := range items {
		if it.ClientIP == "-" || it.ClientIP == "" {
			continue
		}

		u := UserInfo{
			ClientIP:      it.ClientIP,
			TotalBytes:    it.TotalBytes,
			TotalDuration: it.TotalDuration,
		}

		durationMs := it.TotalDuration
		if durationMs < 1 {
			durationMs = 1
		}
		u.Speed = float64(it.TotalBytes) * 1000 / float64(durationMs)

		freshQuery := store.NewQuery().
			Since("timestamp", freshSince).
			Tag("clientIP", it.ClientIP)
		fresh, err := s.index.Aggregate(ctx, freshQuery.String(), store.AggregateOptions{
			GroupBy: "clientIP",
			Reducers: []store.Reducer{
				{Op: store.ReduceSum, Field: "bytes", As: "freshBytes"},
				{Op: store.ReduceSum, Field: "duration", As: "freshDuration"},
			},
			Limit: 1,
		})
		if err != nil {
			s.log.Warn("fresh window lookup failed", "clientIP", it.ClientIP, "error", err)
		} else if len(fresh.Rows) > 0 {
			fb := rowInt(fresh.Rows[0], "freshBytes")
			fd := rowInt(fresh.Rows[0], "freshDuration")
			if fd > 0 {
				u.CurrentSpeed = float64(fb) * 1000 / float64(fd)
			}
		}

		lastQuery := store.NewQuery().Tag("clientIP", it.ClientIP)
		last, err := s.index.Search(ctx, lastQuery.String(), store.SearchOptions{
			Limit:  1,
			SortBy: "timestamp",
			Desc:   true,
			Return: []string{"user", "url", "timestamp"},
		})
		if err != nil {
			s.log.Warn("last activity lookup failed", "clientIP", it.ClientIP, "error", err)
		} else if len(last.Docs) > 0 {
			doc := last.Docs[0]
			u.User = doc["user"]
			u.LastURL = doc["url"]
			u.LastActivity, _ = strconv.ParseInt(doc["timestamp"], 10, 64)
		}

		u.Country = s.lookupCountry(it.ClientIP)
		users = append(users, u)
	}
	return users, nil
}

// domainSortKeys are the columns the store can sort groups by directly.
// Percentage-derived keys fall back to errorsCount.
var domainSortKeys = map[string]string{
	"requestCount":  "requestCount",
	"totalBytes":    "totalBytes",
	"totalDuration": "totalDuration",
	"lastActivity":  "lastActivity",
	"errorsCount":   "errorsCount",
	"errorsRate":    "errorsCount",
}

// DomainsInfo groups traffic by domain with error and blocked figures,
// filtered, sorted, and paginated.
func (s *Service) DomainsInfo(ctx context.Context, opts DomainsOptions) (*DomainsResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultPageLimit
	}
	page := opts.Page
	if page <= 0 {
		page = 1
	}

	sortBy, ok := domainSortKeys[opts.SortBy]
	if !ok {
		sortBy = "requestCount"
	}
	desc := opts.SortOrder != "asc"

	q := rangeQuery(TimeRange{StartTime: opts.StartTime, EndTime: opts.EndTime})
	if opts.Search != "" {
		q.Text("url", opts.Search)
	}

	res, err := s.index.Aggregate(ctx, q.String(), store.AggregateOptions{
		Load: []string{"resultStatus", "resultType"},
		Apply: []store.Apply{
			{Expr: "@resultStatus >= 400", As: "is_error"},
			{Expr: `contains(@resultType, "DENIED")`, As: "is_blocked"},
		},
		GroupBy: "domain",
		Reducers: []store.Reducer{
			{Op: store.ReduceCount, As: "requestCount"},
			{Op: store.ReduceSum, Field: "bytes", As: "totalBytes"},
			{Op: store.ReduceSum, Field: "duration", As: "totalDuration"},
			{Op: store.ReduceMax, Field: "timestamp", As: "lastActivity"},
			{Op: store.ReduceSum, Field: "is_error", As: "errorsCount"},
			{Op: store.ReduceMax, Field: "is_blocked", As: "blockedMax"},
		},
		SortBy: sortBy,
		Desc:   desc,
		Offset: (page - 1) * limit,
		Limit:  limit,
	})
	if err != nil {
		return nil, fmt.Errorf("domains info: %w", err)
	}

	out := &DomainsResult{Total: res.Total, Page: page, Items: make([]DomainInfo, 0, len(res.Rows))}
	for _, row := range res.Rows {
		d := DomainInfo{
			Domain:        rowString(row, "domain"),
			RequestCount:  rowInt(row, "requestCount"),
			TotalBytes:    rowInt(row, "totalBytes"),
			TotalDuration: rowInt(row, "totalDuration"),
			LastActivity:  rowInt(row, "lastActivity"),
			ErrorsCount:   rowInt(row, "errorsCount"),
			HasBlocked:    rowInt(row, "blockedMax") > 0,
		}
		if d.RequestCount > 0 {
			d.ErrorsRate = 100 * float64(d.ErrorsCount) / float64(d.RequestCount)
		}
		out.Items = append(out.Items, d)
	}
	return out, nil
}

func (s *Service) lookupCountry(ipStr string) string {
	if s.geo == nil {
		return ""
	}
	addr, err := netip.ParseAddr(ipStr)
	if err != nil {
		return ""
	}
	record, err := s.geo.Country(addr)
	if err != nil {
		return ""
	}
	return record.Country.ISOCode
}

// Aggregation rows arrive stringly typed; sums come back as integers or
// decimals depending on the reducer. Decode leniently at this boundary.
func rowInt(row store.Row, key string) int64 {
	f, err := strconv.ParseFloat(row[key], 64)
	if err != nil {
		return 0
	}
	return int64(f)
}

func rowString(row store.Row, key string) string {
	return row[key]
}
