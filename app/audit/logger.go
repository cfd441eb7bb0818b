package audit

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/tateisu/mastodonInboxFilter/app/database"
)

// Logger drains a multi-producer queue of records and writes each to the
// record directory, three files per record: a header/metadata text blob and
// raw-byte blobs for the request and response bodies (only when non-empty).
// Enqueue never blocks the proxy path; a failure to write one record is
// logged and the consumer moves on.
type Logger struct {
	dir  string
	repo database.MessageRepository

	ch   chan *Record
	done chan struct{}
}

// NewLogger creates a Logger writing under dir. repo may be nil, in which
// case no audit index rows are written.
func NewLogger(dir string, repo database.MessageRepository, buffer int) *Logger {
	return &Logger{
		dir:  dir,
		repo: repo,
		ch:   make(chan *Record, buffer),
		done: make(chan struct{}),
	}
}

// Start launches the single consumer goroutine.
func (l *Logger) Start() {
	go l.run()
}

// Enqueue hands a record to the consumer. It never blocks: when the queue
// is full the record is dropped and an error returned for the caller to log.
func (l *Logger) Enqueue(rec *Record) error {
	select {
	case l.ch <- rec:
		return nil
	default:
		return fmt.Errorf("audit queue is full")
	}
}

// Close stops the producer side and waits until the consumer has drained
// every remaining record.
func (l *Logger) Close() {
	close(l.ch)
	<-l.done
}

func (l *Logger) run() {
	defer close(l.done)
	idx := 0
	for rec := range l.ch {
		idx++
		name := fmt.Sprintf("%s-%d", rec.Time, idx)
		if err := l.save(name, rec); err != nil {
			slog.Error("Failed to save audit record", "name", name, "error", err)
		}
	}
}

func (l *Logger) save(name string, rec *Record) error {
	slog.Info("Saving audit record", "name", name)

	var b strings.Builder
	for _, h := range rec.Extra {
		fmt.Fprintf(&b, "%s: %s\n", h.Name, h.Value)
	}
	b.WriteString("#####################\n# Request\n")
	for _, h := range rec.RequestHeaders {
		fmt.Fprintf(&b, "%s: %s\n", h.Name, h.Value)
	}
	b.WriteString("#####################\n# Response\n")
	for _, h := range rec.ResponseHeaders {
		fmt.Fprintf(&b, "%s: %s\n", h.Name, h.Value)
	}

	if err := os.WriteFile(filepath.Join(l.dir, name+".headers"), []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write headers: %w", err)
	}
	if len(rec.RequestBody) > 0 {
		if err := os.WriteFile(filepath.Join(l.dir, name+".request.body"), rec.RequestBody, 0o644); err != nil {
			return fmt.Errorf("failed to write request body: %w", err)
		}
	}
	if len(rec.ResponseBody) > 0 {
		if err := os.WriteFile(filepath.Join(l.dir, name+".response.body"), rec.ResponseBody, 0o644); err != nil {
			return fmt.Errorf("failed to write response body: %w", err)
		}
	}

	if l.repo != nil {
		err := l.repo.Insert(&database.Message{
			TimeKey:      name,
			Method:       rec.Method,
			URI:          rec.URI,
			Status:       rec.Status,
			Blocked:      rec.Blocked,
			RequestSize:  len(rec.RequestBody),
			ResponseSize: len(rec.ResponseBody),
		})
		if err != nil {
			return fmt.Errorf("failed to index record: %w", err)
		}
	}
	return nil
}
