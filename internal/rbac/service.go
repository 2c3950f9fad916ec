package rbac

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/expedio-erp/expedio/internal/shared"
)

// ErrNotFound indicates that the requested record does not exist.
var ErrNotFound = errors.New("rbac: not found")

// Service orchestrates RBAC operations.
type Service struct {
	pool *pgxpool.Pool
}

// NewService constructs a Service backed by the provided pool.
func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

// EffectivePermissions resolves the union of permissions granted to the user
// through role membership.
func (s *Service) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT p.name
FROM permissions p
JOIN role_permissions rp ON rp.permission_id = p.id
JOIN user_roles ur ON ur.role_id = rp.role_id
WHERE ur.user_id = $1
ORDER BY p.name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		perms = append(perms, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}

// GetActor loads the operator identity plus effective permissions.
func (s *Service) GetActor(ctx context.Context, userID int64) (shared.Actor, error) {
	var actor shared.Actor
	err := s.pool.QueryRow(ctx, `SELECT id, org_id, email FROM users WHERE id = $1 AND is_active`, userID).
		Scan(&actor.ID, &actor.OrgID, &actor.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return shared.Actor{}, ErrNotFound
		}
		return shared.Actor{}, err
	}
	actor.Email = strings.ToLower(strings.TrimSpace(actor.Email))
	perms, err := s.EffectivePermissions(ctx, userID)
	if err != nil {
		return shared.Actor{}, err
	}
	actor.Permissions = perms
	return actor, nil
}

// ListRoles returns all roles ordered by name.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, description, created_at, updated_at FROM roles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

// EnsurePermission upserts a permission ensuring description is stored.
func (s *Service) EnsurePermission(ctx context.Context, name, description string) (Permission, error) {
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" {
		return Permission{}, errors.New("rbac: permission name required")
	}
	var perm Permission
	err := s.pool.QueryRow(ctx, `INSERT INTO permissions (name, description)
VALUES ($1, $2)
ON CONFLICT (name) DO UPDATE SET description = EXCLUDED.description
RETURNING id, name, description`, name, description).Scan(&perm.ID, &perm.Name, &perm.Description)
	if err != nil {
		return Permission{}, err
	}
	return perm, nil
}
