package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/jinkaiteo/edms/internal/application/port"
	"github.com/jinkaiteo/edms/internal/domain/entity"
)

// AuditRepository implements port.AuditRepository on the append-only
// transition_records table and the separate rejected_attempts table.
type AuditRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *sql.DB, logger *zap.Logger) *AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

// Record appends a transition record
func (r *AuditRepository) Record(ctx context.Context, record *entity.TransitionRecord) error {
	payload := record.Payload
	if payload == nil {
		payload = map[string]interface{}{}
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	result, err := executor(ctx, r.db).ExecContext(ctx, `
		INSERT INTO transition_records (
			workflow_id, document_id, from_state, to_state, action, actor_id, timestamp, comment, payload
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.WorkflowID, record.DocumentID, record.FromState, record.ToState,
		record.Action, record.ActorID, formatTime(record.Timestamp), record.Comment, string(encoded),
	)
	if err != nil {
		r.logger.Error("Failed to create transition record",
			zap.String("document_id", record.DocumentID), zap.Error(err))
		return fmt.Errorf("failed to create transition record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	record.ID = id
	return nil
}

// History retrieves the transition trail of a document in insertion order
func (r *AuditRepository) History(ctx context.Context, documentID string) ([]*entity.TransitionRecord, error) {
	rows, err := executor(ctx, r.db).QueryContext(ctx, `
		SELECT id, workflow_id, document_id, from_state, to_state, action, actor_id, timestamp, comment, payload
		FROM transition_records
		WHERE document_id = ?
		ORDER BY id ASC`, documentID)
	if err != nil {
		r.logger.Error("Failed to get history", zap.String("document_id", documentID), zap.Error(err))
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	defer rows.Close()

	var records []*entity.TransitionRecord
	for rows.Next() {
		var (
			record     entity.TransitionRecord
			ts, stored string
		)
		err := rows.Scan(
			&record.ID,
			&record.WorkflowID,
			&record.DocumentID,
			&record.FromState,
			&record.ToState,
			&record.Action,
			&record.ActorID,
			&ts,
			&record.Comment,
			&stored,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transition record: %w", err)
		}
		if record.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(stored), &record.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode payload of record %d: %w", record.ID, err)
		}
		records = append(records, &record)
	}

	return records, rows.Err()
}

// RecordRejection stores a refused transition attempt
func (r *AuditRepository) RecordRejection(ctx context.Context, attempt *entity.RejectedAttempt) error {
	result, err := executor(ctx, r.db).ExecContext(ctx, `
		INSERT INTO rejected_attempts (
			document_id, from_state, target_state, actor_id, error_code, reason, comment, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		attempt.DocumentID, attempt.FromState, attempt.TargetState, attempt.ActorID,
		attempt.ErrorCode, attempt.Reason, attempt.Comment, formatTime(attempt.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("failed to record rejected attempt: %w", err)
	}
	if attempt.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	return nil
}

// Rejections returns the refused attempts recorded for a document
func (r *AuditRepository) Rejections(ctx context.Context, documentID string) ([]*entity.RejectedAttempt, error) {
	rows, err := executor(ctx, r.db).QueryContext(ctx, `
		SELECT id, document_id, from_state, target_state, actor_id, error_code, reason, comment, timestamp
		FROM rejected_attempts
		WHERE document_id = ?
		ORDER BY id ASC`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get rejected attempts: %w", err)
	}
	defer rows.Close()

	var out []*entity.RejectedAttempt
	for rows.Next() {
		var (
			a  entity.RejectedAttempt
			ts string
		)
		if err := rows.Scan(&a.ID, &a.DocumentID, &a.FromState, &a.TargetState, &a.ActorID,
			&a.ErrorCode, &a.Reason, &a.Comment, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan rejected attempt: %w", err)
		}
		if a.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// Verify interface compliance
var _ port.AuditRepository = (*AuditRepository)(nil)
