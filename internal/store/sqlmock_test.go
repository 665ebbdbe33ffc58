// ABOUTME: Failure-path tests for SQLiteStore using go-sqlmock
// ABOUTME: Verifies driver errors are wrapped and transactions roll back

package store

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockedStore(t *testing.T) (*SQLiteStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &SQLiteStore{db: db, logger: slog.Default()}, mock
}

func TestSQLiteStore_FindIdentityDriverError(t *testing.T) {
	s, mock := newMockedStore(t)
	driverErr := errors.New("disk I/O error")

	mock.ExpectQuery("SELECT .* FROM identities WHERE identity_id").
		WithArgs("abc").
		WillReturnError(driverErr)

	_, err := s.FindIdentityByID(context.Background(), "abc")
	require.Error(t, err)
	assert.ErrorIs(t, err, driverErr)
	assert.NotErrorIs(t, err, ErrIdentityNotFound)
	assert.Contains(t, err.Error(), "finding identity")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_FindIdentityNoRows(t *testing.T) {
	s, mock := newMockedStore(t)

	mock.ExpectQuery("SELECT .* FROM identities WHERE login_key").
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	_, err := s.FindIdentityByLoginKey(context.Background(), " Ghost ")
	assert.ErrorIs(t, err, ErrIdentityNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_FindRolesPermissionQueryFails(t *testing.T) {
	s, mock := newMockedStore(t)

	mock.ExpectQuery("SELECT name, description, created_at, updated_at FROM roles WHERE name IN").
		WithArgs("editor").
		WillReturnRows(sqlmock.NewRows([]string{"name", "description", "created_at", "updated_at"}).
			AddRow("editor", "", "2025-01-01T00:00:00Z", "2025-01-01T00:00:00Z"))
	mock.ExpectQuery("SELECT role_name, permission FROM role_permissions").
		WithArgs("editor").
		WillReturnError(errors.New("connection reset"))

	_, err := s.FindRolesByNames(context.Background(), []RoleName{"editor"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "querying role permissions")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_CreateRoleRollsBack(t *testing.T) {
	s, mock := newMockedStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO roles").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO role_permissions").WillReturnError(errors.New("database is locked"))
	mock.ExpectRollback()

	err := s.CreateRole(context.Background(), &Role{Name: "editor", Permissions: []string{"write"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inserting permission")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_DeleteRoleForeignKeyViolation(t *testing.T) {
	s, mock := newMockedStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM identity_roles").
		WithArgs("editor").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec("DELETE FROM roles").
		WithArgs("editor").
		WillReturnError(errors.New("FOREIGN KEY constraint failed"))
	mock.ExpectRollback()

	err := s.DeleteRole(context.Background(), "editor")
	assert.ErrorIs(t, err, ErrRoleInUse)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_UpdateRoleRenameRollsBack(t *testing.T) {
	s, mock := newMockedStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM identity_roles").
		WithArgs("draft").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec("UPDATE roles SET name").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE roles SET description").WillReturnError(errors.New("database is locked"))
	mock.ExpectRollback()

	err := s.UpdateRole(context.Background(), "draft", &Role{Name: "writer", Permissions: []string{"write"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "updating role")
	require.NoError(t, mock.ExpectationsWereMet())
}
