package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/openleash/openleash/pkg/contracts"
)

// AppendAudit appends one audit event.
func (s *SQLStore) AppendAudit(ctx context.Context, ev contracts.AuditEvent) error {
	meta := ev.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("store: marshal audit metadata: %w", err)
	}
	_, err = s.exec(ctx, s.db, `INSERT INTO audit_events (event_id, timestamp, event_type, principal_id, action_id, decision_id, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.EventID, ev.Timestamp, string(ev.EventType), nullString(ev.PrincipalID), nullString(ev.ActionID), nullString(ev.DecisionID), string(raw))
	if err != nil {
		return fmt.Errorf("store: insert audit event: %w", err)
	}
	return nil
}

// ReadAudit returns up to limit events starting at offset, in append order,
// and whether more remain.
func (s *SQLStore) ReadAudit(ctx context.Context, offset, limit int) ([]contracts.AuditEvent, bool, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT event_id, timestamp, event_type, principal_id, action_id, decision_id, metadata
		FROM audit_events ORDER BY seq LIMIT ? OFFSET ?`), limit+1, offset)
	if err != nil {
		return nil, false, fmt.Errorf("store: read audit: %w", err)
	}
	defer func() { _ = rows.Close() }()

	events := []contracts.AuditEvent{}
	for rows.Next() {
		var (
			ev                                contracts.AuditEvent
			evType, meta                      string
			principalID, actionID, decisionID sql.NullString
		)
		if err := rows.Scan(&ev.EventID, &ev.Timestamp, &evType, &principalID, &actionID, &decisionID, &meta); err != nil {
			return nil, false, err
		}
		ev.EventType = contracts.AuditEventType(evType)
		ev.PrincipalID = stringPtr(principalID)
		ev.ActionID = stringPtr(actionID)
		ev.DecisionID = stringPtr(decisionID)
		ev.Metadata = decodeAttributes(meta)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	more := len(events) > limit
	if more {
		events = events[:limit]
	}
	return events, more, nil
}
