package lifecycle

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"tvault-control/internal/domain"
)

type fakeRole struct {
	policies []string
	authType domain.RoleAuthType
}

// fakeCloudIAM mints predictable key ids AKIAGEN1, AKIAGEN2, ... and holds
// an in-memory role table.
type fakeCloudIAM struct {
	mu     sync.Mutex
	seq    int
	failOp string
	roles  map[string]*fakeRole
}

func newFakeCloudIAM() *fakeCloudIAM {
	return &fakeCloudIAM{roles: make(map[string]*fakeRole)}
}

func (f *fakeCloudIAM) seedRole(name string, authType domain.RoleAuthType, policies ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roles[name] = &fakeRole{policies: policies, authType: authType}
}

func (f *fakeCloudIAM) rolePolicies(name string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.roles[name]; ok {
		return append([]string(nil), r.policies...)
	}
	return nil
}

func (f *fakeCloudIAM) nextKey() domain.AccessKey {
	f.seq++
	return domain.AccessKey{
		AccessKeyID: "AKIAGEN" + strconv.Itoa(f.seq),
		SecretKey:   "secret-" + strconv.Itoa(f.seq),
		Expiry:      1893456000000 + int64(f.seq),
		Status:      "Active",
	}
}

func (f *fakeCloudIAM) CreateKey(ctx context.Context, accountID, name string) (domain.AccessKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOp == "create" {
		return domain.AccessKey{}, errors.New("iam backend unavailable")
	}
	return f.nextKey(), nil
}

func (f *fakeCloudIAM) RotateKey(ctx context.Context, accountID, name, keyID string) (domain.AccessKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOp == "rotate" {
		return domain.AccessKey{}, errors.New("iam backend unavailable")
	}
	return f.nextKey(), nil
}

func (f *fakeCloudIAM) DeleteKey(ctx context.Context, accountID, name, keyID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOp == "delete" {
		return false, errors.New("iam backend unavailable")
	}
	return true, nil
}

func (f *fakeCloudIAM) ReadRole(ctx context.Context, role string) (int, []string, domain.RoleAuthType, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.roles[role]
	if !ok {
		return http.StatusNotFound, nil, "", nil
	}
	return http.StatusOK, append([]string(nil), r.policies...), r.authType, nil
}

func (f *fakeCloudIAM) ConfigureRole(ctx context.Context, role string, policies []string, authType domain.RoleAuthType) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOp == "configure-role" {
		return http.StatusServiceUnavailable, nil
	}
	f.roles[role] = &fakeRole{policies: append([]string(nil), policies...), authType: authType}
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
