package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/opensource-finance/heron/internal/domain"
)

// Sink stores audit events.
type Sink interface {
	Write(ctx context.Context, event *domain.AuditEvent) error
	Close() error
}

// fileEntry is the on-disk line layout.
type fileEntry struct {
	Timestamp string           `json:"timestamp"`
	EventType domain.EventType `json:"event_type"`
	Data      map[string]any   `json:"data"`
}

// FileSink appends one JSON object per line to a file.
type FileSink struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// OpenFile opens (or creates) the audit log at path in append mode.
func OpenFile(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	return &FileSink{file: f, path: path}, nil
}

// Path returns the log file location.
func (s *FileSink) Path() string {
	return s.path
}

// Write appends the event as a single line with a single write call.
func (s *FileSink) Write(_ context.Context, event *domain.AuditEvent) error {
	line, err := json.Marshal(fileEntry{
		Timestamp: event.Timestamp,
		EventType: event.EventType,
		Data:      event.Data,
	})
	if err != nil {
		return fmt.Errorf("encoding audit event: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return fmt.Errorf("audit log %s is closed", s.path)
	}
	if _, err := s.file.Write(line); err != nil {
		return fmt.Errorf("appending audit event: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// RepositorySink mirrors events into a SQL repository.
type RepositorySink struct {
	repo domain.Repository
}

// NewRepositorySink wraps repo as a Sink.
func NewRepositorySink(repo domain.Repository) *RepositorySink {
	return &RepositorySink{repo: repo}
}

// Write stores the event, assigning an ID when absent.
func (s *RepositorySink) Write(ctx context.Context, event *domain.AuditEvent) error {
	e := *event
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	return s.repo.SaveEvent(ctx, &e)
}

// Close is a no-op; the repository is owned by the caller.
func (s *RepositorySink) Close() error {
	return nil
}

// ReadLog parses a JSON-lines audit log. Blank lines are skipped.
func ReadLog(r io.Reader) ([]domain.AuditEvent, error) {
	var events []domain.AuditEvent
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)

	n := 0
	for sc.Scan() {
		n++
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e domain.AuditEvent
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		events = append(events, e)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// ReadFile parses the audit log at path.
func ReadFile(path string) ([]domain.AuditEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadLog(f)
}
