package credential

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"tvault-control/internal/domain"
)

// fakeCloudIAM mints predictable key ids AKIAGEN1, AKIAGEN2, ...
type fakeCloudIAM struct {
	mu      sync.Mutex
	seq     int
	stable  bool // keep key id on rotate, portal-style
	failOp  string
	deleted []string
}

func (f *fakeCloudIAM) CreateKey(ctx context.Context, accountID, name string) (domain.AccessKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOp == "create" {
		return domain.AccessKey{}, errors.New("iam backend unavailable")
	}
	f.seq++
	return domain.AccessKey{
		AccessKeyID: "AKIAGEN" + strconv.Itoa(f.seq),
		SecretKey:   "secret-" + strconv.Itoa(f.seq),
		Expiry:      1893456000000 + int64(f.seq),
		Status:      "Active",
	}, nil
}

func (f *fakeCloudIAM) RotateKey(ctx context.Context, accountID, name, keyID string) (domain.AccessKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOp == "rotate" {
		return domain.AccessKey{}, errors.New("iam backend unavailable")
	}
	f.seq++
	id := keyID
	if !f.stable {
		id = "AKIAGEN" + strconv.Itoa(f.seq)
	}
	return domain.AccessKey{
		AccessKeyID: id,
		SecretKey:   "rotated-" + strconv.Itoa(f.seq),
		Expiry:      1893456000000 + int64(f.seq),
		Status:      "Active",
	}, nil
}

func (f *fakeCloudIAM) DeleteKey(ctx context.Context, accountID, name, keyID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOp == "delete" {
		return false, errors.New("iam backend unavailable")
	}
	f.deleted = append(f.deleted, keyID)
	return true, nil
}

func (f *fakeCloudIAM) ReadRole(ctx context.Context, role string) (int, []string, domain.RoleAuthType, error) {
	return 200, nil, domain.AuthTypeIAM, nil
}

func (f *fakeCloudIAM) ConfigureRole(ctx context.Context, role string, policies []string, authType domain.RoleAuthType) (int, error) {
	return 204, nil
}

// fakeAudit collects audit entries in memory.
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
