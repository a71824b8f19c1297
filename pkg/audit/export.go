package audit

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/openleash/openleash/pkg/contracts"
)

var (
	// ErrInvalidTimeRange is returned when start time is after end time.
	ErrInvalidTimeRange = errors.New("audit: start_time must be before end_time")
	// ErrReaderNotConfigured is returned when export is invoked without a backing reader.
	ErrReaderNotConfigured = errors.New("audit: reader not configured (fail-closed)")
)

// ExportRequest selects the events to export. Zero times are open bounds.
type ExportRequest struct {
	StartTime  time.Time                  `json:"start_time"`
	EndTime    time.Time                  `json:"end_time"`
	EventTypes []contracts.AuditEventType `json:"event_types,omitempty"`
}

// Exporter bundles audit events into a zip evidence pack.
type Exporter struct {
	reader   Reader
	pageSize int
	now      func() time.Time
}

func NewExporter(r Reader) *Exporter {
	return &Exporter{reader: r, pageSize: 500, now: time.Now}
}

// GeneratePack creates a zip holding events.json, manifest.json and a
// README, and returns it with its SHA-256 checksum.
func (e *Exporter) GeneratePack(ctx context.Context, req ExportRequest) ([]byte, string, error) {
	if !req.StartTime.IsZero() && !req.EndTime.IsZero() && req.StartTime.After(req.EndTime) {
		return nil, "", ErrInvalidTimeRange
	}
	if e.reader == nil {
		return nil, "", ErrReaderNotConfigured
	}

	events, err := e.collect(ctx, req)
	if err != nil {
		return nil, "", err
	}

	eventsJSON, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return nil, "", err
	}

	generatedAt := e.now().UTC()
	manifest := map[string]any{
		"generated_at": generatedAt,
		"event_count":  len(events),
		"period": map[string]any{
			"start": req.StartTime,
			"end":   req.EndTime,
		},
	}
	if len(req.EventTypes) > 0 {
		manifest["event_types"] = req.EventTypes
	}
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("audit: failed to marshal manifest: %w", err)
	}

	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)

	files := []struct {
		name string
		body []byte
	}{
		{"events.json", eventsJSON},
		{"manifest.json", manifestJSON},
		{"README.txt", []byte(fmt.Sprintf("openleash audit evidence pack\nGenerated at %s\nEvents: %d\n", generatedAt.Format(time.RFC3339), len(events)))},
	}
	for _, f := range files {
		fw, err := w.Create(f.name)
		if err != nil {
			return nil, "", err
		}
		if _, err := fw.Write(f.body); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}

	zipBytes := buf.Bytes()
	hash := sha256.Sum256(zipBytes)
	return zipBytes, hex.EncodeToString(hash[:]), nil
}

func (e *Exporter) collect(ctx context.Context, req ExportRequest) ([]contracts.AuditEvent, error) {
	want := map[contracts.AuditEventType]bool{}
	for _, t := range req.EventTypes {
		want[t] = true
	}

	events := []contracts.AuditEvent{}
	offset := 0
	for {
		page, err := e.reader.Read(ctx, offset, e.pageSize)
		if err != nil {
			return nil, fmt.Errorf("audit: export read: %w", err)
		}
		for _, ev := range page.Items {
			if len(want) > 0 && !want[ev.EventType] {
				continue
			}
			if !inRange(ev.Timestamp, req.StartTime, req.EndTime) {
				continue
			}
			events = append(events, ev)
		}
		if page.NextCursor == nil {
			return events, nil
		}
		if _, err := fmt.Sscan(*page.NextCursor, &offset); err != nil {
			return nil, fmt.Errorf("audit: bad cursor %q: %w", *page.NextCursor, err)
		}
	}
}

func inRange(ts string, start, end time.Time) bool {
	if start.IsZero() && end.IsZero() {
		return true
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return false
	}
	if !start.IsZero() && t.Before(start) {
		return false
	}
	if !end.IsZero() && t.After(end) {
		return false
	}
	return true
}
