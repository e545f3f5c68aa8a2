package ingest

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/francyfox/sqstat/internal/parser"
)

// Backfill seeds the store from the last maxLines lines of an existing log
// file, so the dashboard has history immediately after a restart. Records
// already present are left alone; unparseable lines are skipped. A maxLines
// of zero or less disables backfill.
func Backfill(ctx context.Context, store RecordStore, path, format string, maxLines int, logger *slog.Logger) (int, error) {
	if maxLines <= 0 {
		return 0, nil
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info("no log file to backfill from", "path", path)
			return 0, nil
		}
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	// Ring buffer of the tail of the file.
	tail := make([]string, 0, maxLines)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if len(tail) == maxLines {
			copy(tail, tail[1:])
			tail[len(tail)-1] = line
		} else {
			tail = append(tail, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scan %s: %w", path, err)
	}

	written := 0
	for _, line := range tail {
		if ctx.Err() != nil {
			return written, ctx.Err()
		}
		rec, err := parser.ParseFormat(line, format)
		if err != nil {
			continue
		}
		exists, err := store.Has(ctx, rec)
		if err != nil {
			return written, fmt.Errorf("existence check: %w", err)
		}
		if exists {
			continue
		}
		if err := store.Put(ctx, rec); err != nil {
			return written, fmt.Errorf("seed record: %w", err)
		}
		written++
	}

	logger.Info("backfill complete", "path", path, "scanned", len(tail), "written", written)
	return written, nil
}
