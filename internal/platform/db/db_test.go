package db

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kpi/internal/domain/auth"
)

func writeMigrations(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "archive"), 0o700))
	return dir
}

func TestMigrateSkipsAppliedFiles(t *testing.T) {
	dir := writeMigrations(t, map[string]string{
		"0001_init.sql": "CREATE TABLE tenants (id UUID);",
		"0002_demo.sql": "CREATE TABLE demo (id INT);",
		"README.md":     "not a migration",
	})

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery(`SELECT COUNT\(1\) FROM schema_migrations`).WithArgs("0001_init").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`SELECT COUNT\(1\) FROM schema_migrations`).WithArgs("0002_demo").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectBeginTx(pgx.TxOptions{})
	mock.ExpectExec(`CREATE TABLE demo`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`INSERT INTO schema_migrations`).WithArgs("0002_demo").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, Migrate(context.Background(), mock, dir))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateRollsBackFailedFile(t *testing.T) {
	dir := writeMigrations(t, map[string]string{"0001_init.sql": "CREATE TABLE broken"})

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery(`SELECT COUNT\(1\) FROM schema_migrations`).WithArgs("0001_init").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectBeginTx(pgx.TxOptions{})
	mock.ExpectExec(`CREATE TABLE broken`).WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err = Migrate(context.Background(), mock, dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0001_init")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSeedCreatesTenantAndGrants(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT id FROM tenants WHERE name = \$1`).WithArgs("Acme").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`INSERT INTO tenants`).WithArgs("Acme").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("tenant-1"))
	mock.ExpectExec(`INSERT INTO tenant_settings`).WithArgs("tenant-1").WillReturnResult(pgxmock.NewResult("INSERT", 1))

	for _, perm := range auth.DefaultPermissions {
		mock.ExpectExec(`INSERT INTO permissions`).WithArgs(perm).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}

	for _, role := range roleNames() {
		mock.ExpectQuery(`SELECT id FROM roles`).WithArgs("tenant-1", role).
			WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("role-" + role))
	}

	permRows := pgxmock.NewRows([]string{"id", "key"})
	for _, perm := range auth.DefaultPermissions {
		permRows.AddRow("perm-"+perm, perm)
	}
	mock.ExpectQuery(`SELECT id, key FROM permissions`).WillReturnRows(permRows)

	for _, role := range roleNames() {
		for _, perm := range auth.RolePermissions[role] {
			mock.ExpectExec(`INSERT INTO role_permissions`).WithArgs("role-"+role, "perm-"+perm).
				WillReturnResult(pgxmock.NewResult("INSERT", 1))
		}
	}

	require.NoError(t, Seed(context.Background(), mock, "Acme"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSeedFailsOnUnknownPermission(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT id FROM tenants`).WithArgs("Acme").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("tenant-1"))
	mock.ExpectExec(`INSERT INTO tenant_settings`).WithArgs("tenant-1").WillReturnResult(pgxmock.NewResult("INSERT", 0))
	for _, perm := range auth.DefaultPermissions {
		mock.ExpectExec(`INSERT INTO permissions`).WithArgs(perm).WillReturnResult(pgxmock.NewResult("INSERT", 0))
	}
	for _, role := range roleNames() {
		mock.ExpectQuery(`SELECT id FROM roles`).WithArgs("tenant-1", role).
			WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("role-" + role))
	}
	mock.ExpectQuery(`SELECT id, key FROM permissions`).WillReturnRows(pgxmock.NewRows([]string{"id", "key"}))

	err = Seed(context.Background(), mock, "Acme")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}
