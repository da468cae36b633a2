// Package journal appends a session's events to a zstd-compressed JSONL file.
package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/talgya/campaign/internal/session"
)

// Writer is one open journal file.
type Writer struct {
	path string

	mu  sync.Mutex
	f   *os.File
	enc *zstd.Encoder
	w   *bufio.Writer
	n   int
}

// Path returns the journal file for a session inside dir.
func Path(dir, sessionID string) string {
	return filepath.Join(dir, fmt.Sprintf("session-%s.jsonl.zst", sessionID))
}

// Create opens a fresh journal for sessionID under dir.
func Create(dir, sessionID string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	path := Path(dir, sessionID)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("zstd writer: %w", err)
	}
	return &Writer{
		path: path,
		f:    f,
		enc:  enc,
		w:    bufio.NewWriterSize(enc, 64*1024),
	}, nil
}

// Path returns the file being written.
func (w *Writer) Path() string { return w.path }

// Count returns the number of events written.
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.n
}

// Write appends one event as a JSON line.
func (w *Writer) Write(e session.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.w == nil {
		return fmt.Errorf("journal %s is closed", w.path)
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	w.n++
	return w.w.Flush()
}

// Close flushes the compressor and closes the file. It is safe to call twice.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var err error
	if w.w != nil {
		err = w.w.Flush()
		w.w = nil
	}
	if w.enc != nil {
		if cerr := w.enc.Close(); err == nil {
			err = cerr
		}
		w.enc = nil
	}
	if w.f != nil {
		if cerr := w.f.Close(); err == nil {
			err = cerr
		}
		w.f = nil
	}
	return err
}

// Drain writes events from ch until it closes or ctx is done, then closes
// the journal. Write failures are logged and the event is dropped.
func (w *Writer) Drain(ctx context.Context, ch <-chan session.Event) error {
	for {
		select {
		case <-ctx.Done():
			return w.Close()
		case e, ok := <-ch:
			if !ok {
				slog.Info("journal closed", "path", w.path, "events", w.Count())
				return w.Close()
			}
			if err := w.Write(e); err != nil {
				slog.Warn("journal write failed", "path", w.path, "seq", e.Seq, "error", err)
			}
		}
	}
}

// Read decodes every event in a journal file.
func Read(path string) ([]session.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	defer dec.Close()

	var out []session.Event
	jd := json.NewDecoder(dec)
	for {
		var e session.Event
		if err := jd.Decode(&e); err == io.EOF {
			break
		} else if err != nil {
			return out, fmt.Errorf("decode event %d: %w", len(out)+1, err)
		}
		out = append(out, e)
	}
	return out, nil
}
