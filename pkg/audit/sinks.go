package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/openleash/openleash/pkg/contracts"
)

// Page is one page of the audit log. NextCursor is nil on the last page.
type Page struct {
	Items      []contracts.AuditEvent `json:"items"`
	NextCursor *string                `json:"next_cursor"`
}

// Reader pages through the audit log in append order.
type Reader interface {
	Read(ctx context.Context, offset, limit int) (*Page, error)
}

// JSONLSink appends one JSON object per line.
type JSONLSink struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewJSONLSink creates a sink writing to w.
func NewJSONLSink(w io.Writer) *JSONLSink {
	return &JSONLSink{writer: w}
}

func (s *JSONLSink) Append(_ context.Context, ev contracts.AuditEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.writer.Write(append(b, '\n'))
	return err
}

// FileLog is a JSONL audit log on disk. It is both a Sink and a Reader.
type FileLog struct {
	*JSONLSink
	path string
	file *os.File
}

// OpenFileLog opens (creating if needed) the log at path for appending.
func OpenFileLog(path string) (*FileLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	return &FileLog{JSONLSink: NewJSONLSink(f), path: path, file: f}, nil
}

// Close closes the underlying file.
func (l *FileLog) Close() error { return l.file.Close() }

// Read returns lines [offset, offset+limit). Blank lines count toward the
// cursor but yield no item.
func (l *FileLog) Read(_ context.Context, offset, limit int) (*Page, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return &Page{Items: []contracts.AuditEvent{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("audit: read %s: %w", l.path, err)
	}
	defer func() { _ = f.Close() }()

	page := &Page{Items: []contracts.AuditEvent{}}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		if line >= offset+limit {
			next := fmt.Sprint(line)
			page.NextCursor = &next
			break
		}
		if line >= offset && len(sc.Bytes()) > 0 {
			var ev contracts.AuditEvent
			if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
				return nil, fmt.Errorf("audit: line %d: %w", line+1, err)
			}
			page.Items = append(page.Items, ev)
		}
		line++
	}
	return page, sc.Err()
}

// SQLStore is the subset of the state store used for audit persistence.
type SQLStore interface {
	AppendAudit(ctx context.Context, ev contracts.AuditEvent) error
	ReadAudit(ctx context.Context, offset, limit int) ([]contracts.AuditEvent, bool, error)
}

// StoreSink persists events in the state store's audit table.
type StoreSink struct {
	store SQLStore
}

// NewStoreSink creates a sink over store.
func NewStoreSink(store SQLStore) *StoreSink {
	return &StoreSink{store: store}
}

func (s *StoreSink) Append(ctx context.Context, ev contracts.AuditEvent) error {
	if s.store == nil {
		return errors.New("audit: store not configured")
	}
	return s.store.AppendAudit(ctx, ev)
}

func (s *StoreSink) Read(ctx context.Context, offset, limit int) (*Page, error) {
	items, more, err := s.store.ReadAudit(ctx, offset, limit)
	if err != nil {
		return nil, err
	}
	page := &Page{Items: items}
	if more {
		next := fmt.Sprint(offset + len(items))
		page.NextCursor = &next
	}
	return page, nil
}

// Multi fans an event out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Append(ctx context.Context, ev contracts.AuditEvent) error {
	var errs []error
	for _, s := range m {
		if err := s.Append(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
