// Package ingest feeds access-log lines into the store: a poll-based file
// tailer, an optional UDP listener, and the consumer that parses lines and
// writes records.
package ingest

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"syscall"
	"time"
)

// PositionStore persists the tail position of a log file across restarts.
type PositionStore interface {
	LoadPosition(ctx context.Context, file string) (offset, inode, size int64, err error)
	SavePosition(ctx context.Context, file string, offset, inode, size int64) error
}

// Tailer is a poll-based log file tailer with position tracking, rotation
// handling via inode checks, and copytruncate detection.
type Tailer struct {
	path      string
	positions PositionStore
	log       *slog.Logger
	interval  time.Duration
}

// NewTailer creates a tailer for the given log file path. Default polling
// interval is 1 second.
func NewTailer(path string, positions PositionStore, logger *slog.Logger) *Tailer {
	return &Tailer{
		path:      path,
		positions: positions,
		log:       logger,
		interval:  time.Second,
	}
}

// Run starts the tailer loop. It polls the log file at regular intervals,
// detects rotations and truncations, and sends complete lines to the channel.
// Blocks until ctx is cancelled.
func (t *Tailer) Run(ctx context.Context, lines chan<- string) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	offset, inode, size, err := t.positions.LoadPosition(ctx, t.path)
	if err != nil {
		return fmt.Errorf("load position: %w", err)
	}
	t.log.Info("tailer starting", "path", t.path, "offset", offset, "inode", inode, "size", size)

	for {
		select {
		case <-ctx.Done():
			t.log.Info("tailer stopping")
			return ctx.Err()
		case <-ticker.C:
			newOffset, newInode, _, err := t.processTick(ctx, lines, offset, inode)
			if err != nil {
				// File missing or transient read failure: retry next tick.
				t.log.Debug("tailer tick", "error", err)
				continue
			}
			offset, inode = newOffset, newInode
		}
	}
}

// processTick handles a single poll iteration and returns the new position.
func (t *Tailer) processTick(ctx context.Context, lines chan<- string, savedOffset, savedInode int64) (int64, int64, int64, error) {
	stat, err := os.Stat(t.path)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("stat %s: %w", t.path, err)
	}

	sys, ok := stat.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0, 0, fmt.Errorf("no inode information for %s", t.path)
	}
	currentInode := int64(sys.Ino)
	currentSize := stat.Size()

	var startOffset int64
	switch {
	case currentInode != savedInode:
		t.log.Info("rotation detected", "oldInode", savedInode, "newInode", currentInode)
		startOffset = 0
	case currentSize < savedOffset:
		t.log.Info("copytruncate detected", "size", currentSize, "offset", savedOffset)
		startOffset = 0
	default:
		startOffset = savedOffset
	}

	if startOffset >= currentSize {
		return startOffset, currentInode, currentSize, nil
	}

	f, err := os.Open(t.path)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("open %s: %w", t.path, err)
	}
	defer f.Close()

	if _, err := f.Seek(startOffset, 0); err != nil {
		return 0, 0, 0, fmt.Errorf("seek to %d: %w", startOffset, err)
	}

	scanner := bufio.NewScanner(f)
	lineCount := 0
	newOffset := startOffset

	for scanner.Scan() {
		line := scanner.Text()
		// Offset advances past the line regardless; the trailing newline is
		// not part of scanner.Bytes().
		newOffset += int64(len(scanner.Bytes())) + 1
		if line == "" {
			continue
		}

		select {
		case lines <- line:
			lineCount++
		case <-ctx.Done():
			return 0, 0, 0, ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, 0, 0, fmt.Errorf("scan: %w", err)
	}

	if lineCount > 0 {
		t.log.Debug("tailed lines", "count", lineCount, "offset", newOffset)
		if err := t.positions.SavePosition(ctx, t.path, newOffset, currentInode, currentSize); err != nil {
			return 0, 0, 0, fmt.Errorf("save position: %w", err)
		}
	}
	return newOffset, currentInode, currentSize, nil
}
