// Package source reads the job log as an ordered sequence of fixed-size
// chunks. In follow mode it keeps tailing the file as the job appends to
// it, using filesystem notifications.
package source

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/wang-zerui/acme-failure-diagnosis-system/internal/model"
)

// Reader yields chunks of log lines from a file, in order.
type Reader struct {
	path      string
	chunkSize int
	follow    bool
	log       *zap.Logger
}

// NewReader creates a Reader over the given file. With follow enabled the
// reader waits for new writes after reaching EOF instead of stopping.
func NewReader(path string, chunkSize int, follow bool, log *zap.Logger) *Reader {
	return &Reader{path: path, chunkSize: chunkSize, follow: follow, log: log.Named("source")}
}

// ChunkFunc consumes one chunk. Returning stop=true halts the stream
// without error.
type ChunkFunc func(chunk []model.Line) (stop bool, err error)

// Stream reads the file and invokes fn once per chunk, sequentially and
// in order. A trailing partial chunk is delivered before returning; in
// follow mode the stream ends only via fn stopping it or context
// cancellation.
func (r *Reader) Stream(ctx context.Context, fn ChunkFunc) error {
	f, err := os.Open(r.path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer f.Close()

	var watcher *fsnotify.Watcher
	if r.follow {
		watcher, err = fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("failed to create watcher: %w", err)
		}
		defer watcher.Close()
		if err := watcher.Add(r.path); err != nil {
			return fmt.Errorf("cannot watch %s: %w", r.path, err)
		}
	}

	reader := bufio.NewReader(f)
	var chunk []model.Line
	var pending string // partial line carried across EOF in follow mode

	flush := func() (bool, error) {
		if len(chunk) == 0 {
			return false, nil
		}
		stop, err := fn(chunk)
		chunk = nil
		return stop, err
	}

	appendLine := func(text string) {
		chunk = append(chunk, model.Line{Text: strings.TrimRight(text, "\r\n"), Ordinal: len(chunk)})
	}

	for {
		line, err := reader.ReadString('\n')
		switch {
		case err == nil:
			appendLine(pending + line)
			pending = ""
			if len(chunk) == r.chunkSize {
				stop, ferr := flush()
				if ferr != nil {
					return ferr
				}
				if stop {
					return nil
				}
			}
		case err == io.EOF:
			pending += line
			if !r.follow {
				if pending != "" {
					appendLine(pending)
				}
				_, ferr := flush()
				return ferr
			}
			// The reader resumes from the same offset once the file
			// grows, so waiting for a write is all that is needed.
			if werr := r.awaitWrite(ctx, watcher); werr != nil {
				if pending != "" {
					appendLine(pending)
				}
				_, ferr := flush()
				return ferr
			}
		default:
			return fmt.Errorf("failed to read log file: %w", err)
		}
	}
}

// awaitWrite blocks until the watched file is written to or the context
// is cancelled. Context cancellation is reported as the error.
func (r *Reader) awaitWrite(ctx context.Context, watcher *fsnotify.Watcher) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher closed")
			}
			if ev.Op.Has(fsnotify.Write) {
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher closed")
			}
			r.log.Warn("watch error", zap.Error(err))
		}
	}
}
