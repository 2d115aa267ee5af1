package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"kpi/internal/domain/auth"
	"kpi/internal/platform/querier"
)

// Seed makes sure the default tenant with its settings row, the permission
// catalogue and the built-in roles exist. It is safe to run on every start.
func Seed(ctx context.Context, db querier.Querier, tenantName string) error {
	tenantID, err := ensureTenant(ctx, db, tenantName)
	if err != nil {
		return err
	}
	if _, err := db.Exec(ctx, `
    INSERT INTO tenant_settings (tenant_id) VALUES ($1)
    ON CONFLICT (tenant_id) DO NOTHING
  `, tenantID); err != nil {
		return eris.Wrap(err, "db: seed tenant settings")
	}
	if err := ensurePermissions(ctx, db); err != nil {
		return err
	}
	roleIDs, err := ensureRoles(ctx, db, tenantID)
	if err != nil {
		return err
	}
	return ensureRolePermissions(ctx, db, roleIDs)
}

func ensureTenant(ctx context.Context, db querier.Querier, name string) (string, error) {
	var id string
	err := db.QueryRow(ctx, "SELECT id FROM tenants WHERE name = $1", name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", eris.Wrap(err, "db: find tenant")
	}

	err = db.QueryRow(ctx, "INSERT INTO tenants (name) VALUES ($1) RETURNING id", name).Scan(&id)
	if err != nil {
		return "", eris.Wrap(err, "db: create tenant")
	}
	return id, nil
}

func ensurePermissions(ctx context.Context, db querier.Querier) error {
	for _, perm := range auth.DefaultPermissions {
		_, err := db.Exec(ctx, "INSERT INTO permissions (key) VALUES ($1) ON CONFLICT (key) DO NOTHING", perm)
		if err != nil {
			return eris.Wrapf(err, "db: seed permission %s", perm)
		}
	}
	return nil
}

func ensureRoles(ctx context.Context, db querier.Querier, tenantID string) (map[string]string, error) {
	roleIDs := map[string]string{}
	for _, roleName := range roleNames() {
		var id string
		err := db.QueryRow(ctx, "SELECT id FROM roles WHERE tenant_id = $1 AND name = $2", tenantID, roleName).Scan(&id)
		if err == nil {
			roleIDs[roleName] = id
			continue
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(err, "db: find role %s", roleName)
		}

		err = db.QueryRow(ctx, "INSERT INTO roles (tenant_id, name) VALUES ($1, $2) RETURNING id", tenantID, roleName).Scan(&id)
		if err != nil {
			return nil, eris.Wrapf(err, "db: create role %s", roleName)
		}
		roleIDs[roleName] = id
	}
	return roleIDs, nil
}

func ensureRolePermissions(ctx context.Context, db querier.Querier, roleIDs map[string]string) error {
	permMap := map[string]string{}
	rows, err := db.Query(ctx, "SELECT id, key FROM permissions")
	if err != nil {
		return eris.Wrap(err, "db: list permissions")
	}
	for rows.Next() {
		var id, key string
		if err := rows.Scan(&id, &key); err != nil {
			rows.Close()
			return eris.Wrap(err, "db: scan permission")
		}
		permMap[key] = id
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return eris.Wrap(err, "db: list permissions")
	}

	for _, roleName := range roleNames() {
		roleID := roleIDs[roleName]
		for _, permKey := range auth.RolePermissions[roleName] {
			permID, ok := permMap[permKey]
			if !ok {
				return eris.New("db: permission not found: " + permKey)
			}
			_, err := db.Exec(ctx, "INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2) ON CONFLICT DO NOTHING", roleID, permID)
			if err != nil {
				return eris.Wrapf(err, "db: grant %s to %s", permKey, roleName)
			}
		}
	}
	return nil
}

// roleNames fixes an order over RolePermissions so seeding issues the same
// statements on every run.
func roleNames() []string {
	return []string{auth.RoleEmployee, auth.RoleManager, auth.RoleHR, auth.RoleSystemAdmin}
}
