package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jinkaiteo/edms/internal/application/port"
	"github.com/jinkaiteo/edms/internal/domain/entity"
	"github.com/jinkaiteo/edms/internal/domain/workflow"
)

const snapshotColumns = `
	d.id, d.number, d.title, d.major_version, d.minor_version, d.status,
	d.author_id, d.reviewer_id, d.approver_id,
	d.effective_date, d.obsolete_date, d.approval_date, d.created_at, d.updated_at,
	w.id, w.current_state, w.version_stamp, w.current_assignee, w.state_entered_at, w.updated_at
`

const snapshotFrom = `FROM documents d JOIN workflows w ON w.document_id = d.id`

// DocumentRepository implements port.DocumentStore
type DocumentRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDocumentRepository creates a new document repository
func NewDocumentRepository(db *sql.DB, logger *zap.Logger) *DocumentRepository {
	return &DocumentRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a document and its workflow in one transaction-scoped write
func (r *DocumentRepository) Create(ctx context.Context, doc *entity.Document, wf *entity.Workflow) error {
	exec := executor(ctx, r.db)

	_, err := exec.ExecContext(ctx, `
		INSERT INTO documents (
			id, number, title, major_version, minor_version, status,
			author_id, reviewer_id, approver_id,
			effective_date, obsolete_date, approval_date, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Number, doc.Title, doc.MajorVersion, doc.MinorVersion, doc.Status,
		doc.AuthorID, doc.ReviewerID, doc.ApproverID,
		formatDate(doc.EffectiveDate), formatDate(doc.ObsoleteDate), formatDate(doc.ApprovalDate),
		formatTime(doc.CreatedAt), formatTime(doc.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create %s: %w", doc.Label(), port.ErrDuplicateVersion)
		}
		r.logger.Error("Failed to create document", zap.String("document", doc.Label()), zap.Error(err))
		return fmt.Errorf("failed to create document: %w", err)
	}

	_, err = exec.ExecContext(ctx, `
		INSERT INTO workflows (
			id, document_id, current_state, version_stamp, current_assignee, state_entered_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		wf.ID, doc.ID, wf.CurrentState, wf.VersionStamp, wf.CurrentAssignee,
		formatTime(wf.StateEnteredAt), formatTime(wf.UpdatedAt),
	)
	if err != nil {
		r.logger.Error("Failed to create workflow", zap.String("document_id", doc.ID), zap.Error(err))
		return fmt.Errorf("failed to create workflow: %w", err)
	}
	return nil
}

// Load returns a document with its workflow
func (r *DocumentRepository) Load(ctx context.Context, id string) (*entity.Document, *entity.Workflow, error) {
	row := executor(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+snapshotColumns+snapshotFrom+` WHERE d.id = ?`, id)

	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("document %s: %w", id, port.ErrNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load document: %w", err)
	}
	return snap.Document, snap.Workflow, nil
}

// CompareAndSwap applies change when the stored stamp equals expectedStamp
func (r *DocumentRepository) CompareAndSwap(ctx context.Context, id string, expectedStamp int64, change entity.StateChange) (bool, error) {
	exec := executor(ctx, r.db)
	changedAt := formatTime(change.ChangedAt)

	res, err := exec.ExecContext(ctx, `
		UPDATE workflows SET
			state_entered_at = CASE WHEN current_state = ? THEN state_entered_at ELSE ? END,
			current_state = ?,
			current_assignee = ?,
			version_stamp = version_stamp + 1,
			updated_at = ?
		WHERE document_id = ? AND version_stamp = ?`,
		change.ToState, changedAt, change.ToState, change.Assignee, changedAt, id, expectedStamp,
	)
	if err != nil {
		r.logger.Error("Failed to update workflow", zap.String("document_id", id), zap.Error(err))
		return false, fmt.Errorf("failed to update workflow: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return false, r.ensureExists(ctx, id)
	}

	_, err = exec.ExecContext(ctx, `
		UPDATE documents SET
			status = ?,
			effective_date = COALESCE(?, effective_date),
			obsolete_date = COALESCE(?, obsolete_date),
			approval_date = COALESCE(?, approval_date),
			updated_at = ?
		WHERE id = ?`,
		change.ToState,
		formatDate(change.EffectiveDate), formatDate(change.ObsoleteDate), formatDate(change.ApprovalDate),
		changedAt, id,
	)
	if err != nil {
		r.logger.Error("Failed to update document", zap.String("document_id", id), zap.Error(err))
		return false, fmt.Errorf("failed to update document: %w", err)
	}
	return true, nil
}

// UpdateAssignments sets reviewer and approver under the stamp check
func (r *DocumentRepository) UpdateAssignments(ctx context.Context, id string, expectedStamp int64, reviewerID, approverID string, now time.Time) (bool, error) {
	exec := executor(ctx, r.db)

	res, err := exec.ExecContext(ctx, `
		UPDATE workflows SET version_stamp = version_stamp + 1, updated_at = ?
		WHERE document_id = ? AND version_stamp = ?`,
		formatTime(now), id, expectedStamp)
	if err != nil {
		return false, fmt.Errorf("failed to bump workflow stamp: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return false, r.ensureExists(ctx, id)
	}

	_, err = exec.ExecContext(ctx,
		`UPDATE documents SET reviewer_id = ?, approver_id = ?, updated_at = ? WHERE id = ?`,
		reviewerID, approverID, formatTime(now), id)
	if err != nil {
		return false, fmt.Errorf("failed to update assignments: %w", err)
	}
	return true, nil
}

// ensureExists turns a zero-row stamp update on a missing document into ErrNotFound
func (r *DocumentRepository) ensureExists(ctx context.Context, id string) error {
	var one int
	err := executor(ctx, r.db).QueryRowContext(ctx, `SELECT 1 FROM workflows WHERE document_id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("document %s: %w", id, port.ErrNotFound)
	}
	return err
}

// ListFamily returns every version of a document number, oldest first
func (r *DocumentRepository) ListFamily(ctx context.Context, number string) ([]*entity.Snapshot, error) {
	return r.list(ctx, `WHERE d.number = ?`, number)
}

// ListDue returns documents in state whose governing date is on or before asOf
func (r *DocumentRepository) ListDue(ctx context.Context, state string, asOf time.Time) ([]*entity.Snapshot, error) {
	var column string
	switch workflow.State(state) {
	case workflow.StateApprovedPendingEffective:
		column = "d.effective_date"
	case workflow.StateScheduledForObsolescence:
		column = "d.obsolete_date"
	default:
		return nil, nil
	}
	return r.list(ctx,
		`WHERE w.current_state = ? AND `+column+` IS NOT NULL AND `+column+` <= ?`,
		state, entity.DateOf(asOf).Format(entity.DateLayout))
}

// ListEnteredBefore returns documents in state that entered it before cutoff
func (r *DocumentRepository) ListEnteredBefore(ctx context.Context, state string, cutoff time.Time) ([]*entity.Snapshot, error) {
	return r.list(ctx, `WHERE w.current_state = ? AND w.state_entered_at < ?`, state, formatTime(cutoff))
}

// MaxFamilySequence returns the highest DOC-<year>-<seq> sequence used
func (r *DocumentRepository) MaxFamilySequence(ctx context.Context, year int) (int, error) {
	prefix := fmt.Sprintf("%s-%d-", entity.DocumentNumberPrefix, year)
	var seq sql.NullInt64
	err := executor(ctx, r.db).QueryRowContext(ctx,
		`SELECT MAX(CAST(substr(number, ?) AS INTEGER)) FROM documents WHERE number LIKE ?`,
		len(prefix)+1, prefix+"%").Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to read family sequence: %w", err)
	}
	return int(seq.Int64), nil
}

func (r *DocumentRepository) list(ctx context.Context, where string, args ...interface{}) ([]*entity.Snapshot, error) {
	query := `SELECT ` + snapshotColumns + snapshotFrom + ` ` + where +
		` ORDER BY d.number, d.major_version, d.minor_version`

	rows, err := executor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list documents", zap.Error(err))
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var out []*entity.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSnapshot(s scanner) (*entity.Snapshot, error) {
	var (
		doc                                  entity.Document
		wf                                   entity.Workflow
		effective, obsolete, approval        sql.NullString
		created, updated, entered, wfUpdated string
	)
	err := s.Scan(
		&doc.ID, &doc.Number, &doc.Title, &doc.MajorVersion, &doc.MinorVersion, &doc.Status,
		&doc.AuthorID, &doc.ReviewerID, &doc.ApproverID,
		&effective, &obsolete, &approval, &created, &updated,
		&wf.ID, &wf.CurrentState, &wf.VersionStamp, &wf.CurrentAssignee, &entered, &wfUpdated,
	)
	if err != nil {
		return nil, err
	}
	wf.DocumentID = doc.ID

	if doc.EffectiveDate, err = parseDate(effective); err != nil {
		return nil, err
	}
	if doc.ObsoleteDate, err = parseDate(obsolete); err != nil {
		return nil, err
	}
	if doc.ApprovalDate, err = parseDate(approval); err != nil {
		return nil, err
	}
	for _, f := range []struct {
		dst *time.Time
		src string
	}{
		{&doc.CreatedAt, created},
		{&doc.UpdatedAt, updated},
		{&wf.StateEnteredAt, entered},
		{&wf.UpdatedAt, wfUpdated},
	} {
		if *f.dst, err = parseTime(f.src); err != nil {
			return nil, err
		}
	}
	return &entity.Snapshot{Document: &doc, Workflow: &wf}, nil
}

// Verify interface compliance
var _ port.DocumentStore = (*DocumentRepository)(nil)
