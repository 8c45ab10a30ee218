package api

import (
	"context"
	"net/http"
	"strconv"
	"sync"

	"tvault-control/internal/domain"
)

// fakeCloudIAM mints predictable key ids AKIAGEN1, AKIAGEN2, ... and holds
// cloud-IAM roles with their attached policies.
type fakeCloudIAM struct {
	mu    sync.Mutex
	seq   int
	roles map[string][]string
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
	return f.nextKey(), nil
}

func (f *fakeCloudIAM) RotateKey(ctx context.Context, accountID, name, keyID string) (domain.AccessKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nextKey(), nil
}

func (f *fakeCloudIAM) DeleteKey(ctx context.Context, accountID, name, keyID string) (bool, error) {
	return true, nil
}

func (f *fakeCloudIAM) ReadRole(ctx context.Context, role string) (int, []string, domain.RoleAuthType, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	policies, ok := f.roles[role]
	if !ok {
		return http.StatusNotFound, nil, "", nil
	}
	return http.StatusOK, append([]string(nil), policies...), domain.AuthTypeIAM, nil
}

func (f *fakeCloudIAM) ConfigureRole(ctx context.Context, role string, policies []string, authType domain.RoleAuthType) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.roles == nil {
		f.roles = map[string][]string{}
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
	out := make([]domain.AuditEntry, 0, len(f.entries))
	for _, e := range f.entries {
		if account != "" && e.Account != account {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
