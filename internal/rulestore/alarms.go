package rulestore

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/nugget/integration-hub/internal/huberrors"
)

// RecordAlarmTrigger appends an alarm_history row for a rule firing and
// returns the created entry. Entries start in AlarmActive status.
func (s *Store) RecordAlarmTrigger(ruleID, eventType, eventSource, eventData string) (*AlarmHistoryEntry, error) {
	entry := AlarmHistoryEntry{
		ID:          NewID(),
		RuleID:      ruleID,
		EventType:   eventType,
		EventSource: eventSource,
		EventData:   eventData,
		TriggeredAt: time.Now().UTC(),
		Status:      AlarmActive,
	}
	_, err := s.db.Exec(`
		INSERT INTO alarm_history (id, rule_id, event_type, event_source, event_data, triggered_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.RuleID, entry.EventType, entry.EventSource, entry.EventData, formatTime(entry.TriggeredAt), entry.Status)
	if err != nil {
		return nil, fmt.Errorf("rulestore: record alarm trigger: %w", err)
	}
	return &entry, nil
}

// AcknowledgeAlarm records an acknowledgment row and marks the alarm
// acknowledged, unless it is already resolved.
func (s *Store) AcknowledgeAlarm(alarmID, userID, notes string) (*Acknowledgment, error) {
	ack := Acknowledgment{
		ID:             NewID(),
		AlarmID:        alarmID,
		UserID:         userID,
		AcknowledgedAt: time.Now().UTC(),
		Notes:          notes,
	}
	err := s.withTx(func(tx *sql.Tx) error {
		var status string
		if err := tx.QueryRow(`SELECT status FROM alarm_history WHERE id = ?`, alarmID).Scan(&status); err != nil {
			if err == sql.ErrNoRows {
				return huberrors.Store("acknowledgeAlarm", alarmID, fmt.Errorf("alarm not found"))
			}
			return err
		}
		if _, err := tx.Exec(`
			INSERT INTO alarm_acknowledgments (id, alarm_id, user_id, acknowledged_at, notes)
			VALUES (?, ?, ?, ?, ?)`,
			ack.ID, ack.AlarmID, ack.UserID, formatTime(ack.AcknowledgedAt), ack.Notes); err != nil {
			return err
		}
		if AlarmStatus(status) == AlarmResolved {
			return nil
		}
		_, err := tx.Exec(`UPDATE alarm_history SET status = ? WHERE id = ?`, AlarmAcknowledged, alarmID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &ack, nil
}

// ResolveAlarm marks an alarm resolved and stamps resolved_at.
func (s *Store) ResolveAlarm(alarmID string) error {
	now := formatTime(time.Now().UTC())
	res, err := s.db.Exec(`UPDATE alarm_history SET status = ?, resolved_at = ? WHERE id = ?`, AlarmResolved, now, alarmID)
	if err != nil {
		return fmt.Errorf("rulestore: resolve alarm: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return huberrors.Store("resolveAlarm", alarmID, fmt.Errorf("alarm not found"))
	}
	return nil
}

// GetAlarmHistory returns alarm_history rows matching filter, newest
// first, paginated by limit/offset.
func (s *Store) GetAlarmHistory(filter HistoryFilter, limit, offset int) ([]*AlarmHistoryEntry, error) {
	query := `SELECT id, rule_id, event_type, event_source, event_data, triggered_at, resolved_at, status FROM alarm_history WHERE 1=1`
	var args []any
	if filter.RuleID != "" {
		query += ` AND rule_id = ?`
		args = append(args, filter.RuleID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	query += ` ORDER BY triggered_at DESC`
	if limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("rulestore: query alarm history: %w", err)
	}
	defer rows.Close()

	var out []*AlarmHistoryEntry
	for rows.Next() {
		e, err := scanAlarmHistoryRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanAlarmHistoryRow(rows *sql.Rows) (*AlarmHistoryEntry, error) {
	var e AlarmHistoryEntry
	var triggered string
	var resolved sql.NullString
	var status string
	if err := rows.Scan(&e.ID, &e.RuleID, &e.EventType, &e.EventSource, &e.EventData, &triggered, &resolved, &status); err != nil {
		return nil, fmt.Errorf("rulestore: scan alarm history: %w", err)
	}
	e.Status = AlarmStatus(status)
	var err error
	if e.TriggeredAt, err = parseTime(triggered); err != nil {
		return nil, err
	}
	if resolved.Valid {
		t, err := parseTime(resolved.String)
		if err != nil {
			return nil, err
		}
		e.ResolvedAt = &t
	}
	return &e, nil
}
