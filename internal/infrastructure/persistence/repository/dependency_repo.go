package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/jinkaiteo/edms/internal/application/port"
	"github.com/jinkaiteo/edms/internal/domain/entity"
)

// DependencyRepository implements port.DependencyRepository
type DependencyRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDependencyRepository creates a new dependency repository
func NewDependencyRepository(db *sql.DB, logger *zap.Logger) *DependencyRepository {
	return &DependencyRepository{
		db:     db,
		logger: logger,
	}
}

// Add stores a dependency edge
func (r *DependencyRepository) Add(ctx context.Context, dep *entity.Dependency) error {
	_, err := executor(ctx, r.db).ExecContext(ctx,
		`INSERT INTO dependencies (document_id, depends_on_id, created_at) VALUES (?, ?, ?)`,
		dep.DocumentID, dep.DependsOnID, formatTime(dep.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("dependency %s -> %s: %w", dep.DocumentID, dep.DependsOnID, port.ErrDuplicateDependency)
		}
		r.logger.Error("Failed to add dependency", zap.Error(err))
		return fmt.Errorf("failed to add dependency: %w", err)
	}
	return nil
}

// Remove deletes a dependency edge
func (r *DependencyRepository) Remove(ctx context.Context, documentID, dependsOnID string) error {
	res, err := executor(ctx, r.db).ExecContext(ctx,
		`DELETE FROM dependencies WHERE document_id = ? AND depends_on_id = ?`, documentID, dependsOnID)
	if err != nil {
		return fmt.Errorf("failed to remove dependency: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("dependency %s -> %s: %w", documentID, dependsOnID, port.ErrNotFound)
	}
	return nil
}

// DependentsOf returns ids of documents that depend on documentID
func (r *DependencyRepository) DependentsOf(ctx context.Context, documentID string) ([]string, error) {
	return r.ids(ctx,
		`SELECT document_id FROM dependencies WHERE depends_on_id = ? ORDER BY document_id`, documentID)
}

// DependenciesOf returns ids of documents that documentID depends on
func (r *DependencyRepository) DependenciesOf(ctx context.Context, documentID string) ([]string, error) {
	return r.ids(ctx,
		`SELECT depends_on_id FROM dependencies WHERE document_id = ? ORDER BY depends_on_id`, documentID)
}

func (r *DependencyRepository) ids(ctx context.Context, query, documentID string) ([]string, error) {
	rows, err := executor(ctx, r.db).QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list dependencies: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Verify interface compliance
var _ port.DependencyRepository = (*DependencyRepository)(nil)
