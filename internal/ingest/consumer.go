package ingest

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/francyfox/sqstat/internal/parser"
)

// RecordStore is the write surface the ingestion pipeline needs.
type RecordStore interface {
	Put(ctx context.Context, rec parser.Record) error
	Has(ctx context.Context, rec parser.Record) (bool, error)
}

// Event is one batch change notification for feed subscribers.
type Event struct {
	ChangedLinesCount int       `json:"changedLinesCount"`
	Time              time.Time `json:"time"`
	Path              string    `json:"path"`
}

// Consumer drains the shared line channel: each line is parsed and written
// as a record. Malformed lines are counted and skipped, never fatal. Writes
// are batched into periodic change notifications.
type Consumer struct {
	store  RecordStore
	format string
	path   string
	log    *slog.Logger
	notify func(Event)

	flushInterval time.Duration
	skipped       atomic.Uint64
}

// NewConsumer creates a consumer. notify may be nil when no subscriber feed
// is wired; path labels the notifications.
func NewConsumer(store RecordStore, format, path string, logger *slog.Logger, notify func(Event)) *Consumer {
	return &Consumer{
		store:         store,
		format:        format,
		path:          path,
		log:           logger,
		notify:        notify,
		flushInterval: time.Second,
	}
}

// Skipped reports how many lines were dropped as unparseable so far.
func (c *Consumer) Skipped() uint64 {
	return c.skipped.Load()
}

// Run processes lines until ctx is cancelled or the channel closes.
func (c *Consumer) Run(ctx context.Context, lines <-chan string) error {
	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	pending := 0
	flush := func() {
		if pending == 0 {
			return
		}
		if c.notify != nil {
			c.notify(Event{ChangedLinesCount: pending, Time: time.Now(), Path: c.path})
		}
		pending = 0
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				flush()
				return nil
			}
			rec, err := parser.ParseFormat(line, c.format)
			if err != nil {
				c.skipped.Add(1)
				c.log.Debug("skipping unparseable line", "error", err)
				continue
			}
			if err := c.store.Put(ctx, rec); err != nil {
				c.log.Warn("record write failed", "error", err)
				continue
			}
			pending++
		case <-ticker.C:
			flush()
		}
	}
}
