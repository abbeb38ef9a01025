package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/jinkaiteo/edms/internal/application/port"
	"github.com/jinkaiteo/edms/internal/domain/entity"
)

// RoleRepository implements port.RoleRepository
type RoleRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRoleRepository creates a new role repository
func NewRoleRepository(db *sql.DB, logger *zap.Logger) *RoleRepository {
	return &RoleRepository{
		db:     db,
		logger: logger,
	}
}

// RolesOf returns the global roles granted to an actor
func (r *RoleRepository) RolesOf(ctx context.Context, actorID string) ([]string, error) {
	rows, err := executor(ctx, r.db).QueryContext(ctx,
		`SELECT role FROM role_assignments WHERE actor_id = ? ORDER BY role`, actorID)
	if err != nil {
		return nil, fmt.Errorf("failed to get roles: %w", err)
	}
	defer rows.Close()

	var roles []string
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// Grant assigns a role to an actor; granting twice is a no-op
func (r *RoleRepository) Grant(ctx context.Context, a *entity.RoleAssignment) error {
	if !entity.IsValidRole(a.Role) {
		return fmt.Errorf("unknown role %q", a.Role)
	}
	_, err := executor(ctx, r.db).ExecContext(ctx,
		`INSERT INTO role_assignments (actor_id, role, granted_at) VALUES (?, ?, ?)
		 ON CONFLICT (actor_id, role) DO NOTHING`,
		a.ActorID, a.Role, formatTime(a.GrantedAt))
	if err != nil {
		r.logger.Error("Failed to grant role", zap.String("actor_id", a.ActorID), zap.String("role", a.Role), zap.Error(err))
		return fmt.Errorf("failed to grant role: %w", err)
	}
	return nil
}

// Revoke removes a role from an actor
func (r *RoleRepository) Revoke(ctx context.Context, actorID, role string) error {
	_, err := executor(ctx, r.db).ExecContext(ctx,
		`DELETE FROM role_assignments WHERE actor_id = ? AND role = ?`, actorID, role)
	if err != nil {
		return fmt.Errorf("failed to revoke role: %w", err)
	}
	return nil
}

// List returns every role assignment ordered by actor then role
func (r *RoleRepository) List(ctx context.Context) ([]*entity.RoleAssignment, error) {
	rows, err := executor(ctx, r.db).QueryContext(ctx,
		`SELECT actor_id, role, granted_at FROM role_assignments ORDER BY actor_id, role`)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var out []*entity.RoleAssignment
	for rows.Next() {
		var (
			a  entity.RoleAssignment
			ts string
		)
		if err := rows.Scan(&a.ActorID, &a.Role, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan role assignment: %w", err)
		}
		if a.GrantedAt, err = parseTime(ts); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// Verify interface compliance
var _ port.RoleRepository = (*RoleRepository)(nil)
