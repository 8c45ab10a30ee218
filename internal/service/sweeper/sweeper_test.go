package sweeper

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tvault-control/internal/domain"
	"tvault-control/internal/memstore"
	"tvault-control/internal/repository"
)

type fakeAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (f *fakeAudit) Insert(ctx context.Context, e *domain.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, *e)
	return nil
}

func (f *fakeAudit) List(ctx context.Context, account string, limit int) ([]domain.AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.AuditEntry(nil), f.entries...), nil
}

var sweepEpoch = time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*Sweeper, *memstore.Store, *fakeAudit) {
	t.Helper()
	store := memstore.New()
	audit := &fakeAudit{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewSweeper(repository.NewAccountRepo(store), audit, logger, "0 2 * * *", 7*24*time.Hour)
	s.now = func() time.Time { return sweepEpoch }
	return s, store, audit
}

func seedAccount(t *testing.T, store *memstore.Store, accountID, name string, state domain.AccountState, keys ...domain.AccessKeyRef) {
	t.Helper()
	repo := repository.NewAccountRepo(store)
	err := repo.WriteMetadata(context.Background(), &domain.Metadata{
		AccountID:  accountID,
		Name:       name,
		State:      state,
		AccessKeys: keys,
	})
	require.NoError(t, err)
}

func TestSweep_FlagsExpiringAndExpired(t *testing.T) {
	s, store, audit := setup(t)

	seedAccount(t, store, "1234567", "testaccount", domain.StateActivated,
		domain.AccessKeyRef{AccessKeyID: "AKIAEXPIRED", Expiry: sweepEpoch.Add(-time.Hour).UnixMilli()},
		domain.AccessKeyRef{AccessKeyID: "AKIASOON", Expiry: sweepEpoch.Add(48 * time.Hour).UnixMilli()},
	)

	findings, err := s.Sweep(context.Background())
	require.NoError(t, err)
	require.Len(t, findings, 2)

	assert.Equal(t, "AKIAEXPIRED", findings[0].AccessKeyID)
	assert.True(t, findings[0].Expired)
	assert.Equal(t, "AKIASOON", findings[1].AccessKeyID)
	assert.False(t, findings[1].Expired)

	entries, _ := audit.List(context.Background(), "", 0)
	require.Len(t, entries, 2)
	assert.Equal(t, "system:sweeper", entries[0].PrincipalName)
	assert.Equal(t, "expiry_sweep", entries[0].Action)
	assert.Equal(t, "expired", entries[0].Status)
	assert.Equal(t, "1234567_testaccount", entries[0].Account)
	assert.Equal(t, "expiring", entries[1].Status)
}

func TestSweep_IgnoresKeysOutsideWindow(t *testing.T) {
	s, store, audit := setup(t)

	seedAccount(t, store, "1234567", "testaccount", domain.StateActivated,
		domain.AccessKeyRef{AccessKeyID: "AKIAFAR", Expiry: sweepEpoch.Add(30 * 24 * time.Hour).UnixMilli()},
		domain.AccessKeyRef{AccessKeyID: "AKIANOEXP"},
	)

	findings, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Empty(t, findings)

	entries, _ := audit.List(context.Background(), "", 0)
	assert.Empty(t, entries)
}

func TestSweep_SkipsPendingAccounts(t *testing.T) {
	s, store, _ := setup(t)

	seedAccount(t, store, "1234567", "testaccount", domain.StatePending,
		domain.AccessKeyRef{AccessKeyID: "AKIAEXPIRED", Expiry: sweepEpoch.Add(-time.Hour).UnixMilli()},
	)

	findings, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestSweep_SkipsUnreadableMetadata(t *testing.T) {
	s, store, _ := setup(t)

	seedAccount(t, store, "1234567", "testaccount", domain.StateActivated,
		domain.AccessKeyRef{AccessKeyID: "AKIASOON", Expiry: sweepEpoch.Add(time.Hour).UnixMilli()},
	)
	seedAccount(t, store, "7654321", "broken", domain.StateActivated,
		domain.AccessKeyRef{AccessKeyID: "AKIAOTHER", Expiry: sweepEpoch.Add(time.Hour).UnixMilli()},
	)
	store.FailWith("read", domain.MetadataPath("7654321", "broken"), 500)

	findings, err := s.Sweep(context.Background())
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "1234567_testaccount", findings[0].Account)
}

func TestSweep_EmptyStore(t *testing.T) {
	s, _, _ := setup(t)

	findings, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestSweeper_RejectsBadSchedule(t *testing.T) {
	store := memstore.New()
	s := NewSweeper(repository.NewAccountRepo(store), &fakeAudit{}, slog.New(slog.NewTextHandler(io.Discard, nil)), "not a schedule", time.Hour)

	err := s.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid sweep schedule")
}

func TestSweeper_StartStop(t *testing.T) {
	store := memstore.New()
	s := NewSweeper(repository.NewAccountRepo(store), &fakeAudit{}, slog.New(slog.NewTextHandler(io.Discard, nil)), "@daily", time.Hour)

	require.NoError(t, s.Start())
	s.Stop()
}
