package repository

import (
	"context"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internaldb "tvault-control/internal/db"
	"tvault-control/internal/domain"
)

func setupAuditRepo(t *testing.T) *AuditRepo {
	t.Helper()
	writeDB, readDB := internaldb.OpenTestSQLite(t)
	return NewAuditRepo(writeDB, readDB)
}

func auditEntry(principal, action, account, status string) *domain.AuditEntry {
	return &domain.AuditEntry{
		PrincipalName: principal,
		Action:        action,
		Account:       account,
		Status:        status,
		Detail:        "detail for " + action,
	}
}

func TestAuditRepo_InsertAndList(t *testing.T) {
	repo := setupAuditRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, auditEntry("normaluser", "onboard_account", "1234567_testaccount", "ok")))
	require.NoError(t, repo.Insert(ctx, auditEntry("ops1", "offboard_account", "7654321_other", "ok")))

	entries, err := repo.List(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	for _, e := range entries {
		assert.NotEmpty(t, e.ID)
		assert.False(t, e.CreatedAt.IsZero())
	}
}

func TestAuditRepo_FilterByAccount(t *testing.T) {
	repo := setupAuditRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, auditEntry("normaluser", "onboard_account", "1234567_testaccount", "ok")))
	require.NoError(t, repo.Insert(ctx, auditEntry("normaluser", "rotate_key", "1234567_testaccount", "ok")))
	require.NoError(t, repo.Insert(ctx, auditEntry("ops1", "onboard_account", "7654321_other", "ok")))

	entries, err := repo.List(ctx, "1234567_testaccount", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, "1234567_testaccount", e.Account)
	}
}

func TestAuditRepo_NewestFirstAndLimit(t *testing.T) {
	repo := setupAuditRepo(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for i := 0; i < 5; i++ {
		e := auditEntry("normaluser", "rotate_key", "1234567_testaccount", "ok")
		e.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, repo.Insert(ctx, e))
	}

	entries, err := repo.List(ctx, "", 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, base.Add(4*time.Minute), entries[0].CreatedAt.UTC())
	assert.True(t, entries[0].CreatedAt.After(entries[2].CreatedAt))
}

func TestAuditRepo_PreservesProvidedID(t *testing.T) {
	repo := setupAuditRepo(t)
	ctx := context.Background()

	e := auditEntry("normaluser", "activate_account", "1234567_testaccount", "ok")
	e.ID = "fixed-id"
	require.NoError(t, repo.Insert(ctx, e))

	entries, err := repo.List(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "fixed-id", entries[0].ID)
}
