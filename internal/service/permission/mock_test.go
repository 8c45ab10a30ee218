package permission

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"tvault-control/internal/domain"
)

// fakeCloudIAM holds cloud-IAM roles and their attached policies. Key
// operations are unused by this package.
type fakeCloudIAM struct {
	mu     sync.Mutex
	roles  map[string][]string
	failOp string
}

func newFakeCloudIAM() *fakeCloudIAM {
	return &fakeCloudIAM{roles: map[string][]string{}}
}

func (f *fakeCloudIAM) CreateKey(ctx context.Context, accountID, name string) (domain.AccessKey, error) {
	return domain.AccessKey{}, errors.New("not supported")
}

func (f *fakeCloudIAM) RotateKey(ctx context.Context, accountID, name, keyID string) (domain.AccessKey, error) {
	return domain.AccessKey{}, errors.New("not supported")
}

func (f *fakeCloudIAM) DeleteKey(ctx context.Context, accountID, name, keyID string) (bool, error) {
	return false, errors.New("not supported")
}

func (f *fakeCloudIAM) ReadRole(ctx context.Context, role string) (int, []string, domain.RoleAuthType, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOp == "read" {
		return 0, nil, "", errors.New("iam backend unavailable")
	}
	policies, ok := f.roles[role]
	if !ok {
		return http.StatusNotFound, nil, "", nil
	}
	return http.StatusOK, append([]string(nil), policies...), domain.AuthTypeIAM, nil
}

func (f *fakeCloudIAM) ConfigureRole(ctx context.Context, role string, policies []string, authType domain.RoleAuthType) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOp == "configure" {
		return http.StatusInternalServerError, nil
	}
	f.roles[role] = append([]string(nil), policies...)
	return http.StatusNoContent, nil
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
