// Package repository provides persistence-facing repositories: account
// metadata and secret leaves over the secret store, and the audit trail
// over SQLite.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"tvault-control/internal/domain"
)

// AccountRepo reads and writes service-account metadata documents and
// secret leaves in the secret store.
type AccountRepo struct {
	store domain.SecretStore
}

// NewAccountRepo creates an AccountRepo over the given secret store.
func NewAccountRepo(store domain.SecretStore) *AccountRepo {
	return &AccountRepo{store: store}
}

func success(status int) bool {
	return status == http.StatusOK || status == http.StatusNoContent
}

// GetMetadata fetches the account's metadata document. An absent document
// yields a NotFoundError.
func (r *AccountRepo) GetMetadata(ctx context.Context, accountID, name string) (*domain.Metadata, error) {
	path := domain.MetadataPath(accountID, name)
	resp, err := r.store.Read(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("read metadata %s: %w", path, err)
	}
	if resp.Status == http.StatusNotFound {
		return nil, domain.ErrNotFound("no IAM service account %s", domain.UniqueName(accountID, name))
	}
	if resp.Status != http.StatusOK {
		return nil, domain.ErrExternal("read metadata %s: status %d", path, resp.Status)
	}
	var m domain.Metadata
	if err := json.Unmarshal(resp.Data, &m); err != nil {
		return nil, fmt.Errorf("decode metadata %s: %w", path, err)
	}
	return &m, nil
}

// WriteMetadata stores the account's metadata document.
func (r *AccountRepo) WriteMetadata(ctx context.Context, m *domain.Metadata) error {
	path := domain.MetadataPath(m.AccountID, m.Name)
	status, err := r.store.Write(ctx, path, m)
	if err != nil {
		return fmt.Errorf("write metadata %s: %w", path, err)
	}
	if !success(status) {
		return domain.ErrExternal("write metadata %s: status %d", path, status)
	}
	return nil
}

// DeleteMetadata removes the account's metadata document.
func (r *AccountRepo) DeleteMetadata(ctx context.Context, accountID, name string) error {
	path := domain.MetadataPath(accountID, name)
	status, err := r.store.Delete(ctx, path)
	if err != nil {
		return fmt.Errorf("delete metadata %s: %w", path, err)
	}
	if !success(status) && status != http.StatusNotFound {
		return domain.ErrExternal("delete metadata %s: status %d", path, status)
	}
	return nil
}

// ListOnboarded returns the identities of every onboarded account.
func (r *AccountRepo) ListOnboarded(ctx context.Context) ([]string, error) {
	status, keys, err := r.store.List(ctx, strings.TrimRight(domain.MetadataMount, "/"))
	if err != nil {
		return nil, fmt.Errorf("list onboarded accounts: %w", err)
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, domain.ErrExternal("list onboarded accounts: status %d", status)
	}
	return keys, nil
}

// WriteSecret stores an access key in the account's n-th secret leaf.
func (r *AccountRepo) WriteSecret(ctx context.Context, accountID, name string, n int, key domain.AccessKey) error {
	path := domain.SecretPath(accountID, name, n)
	status, err := r.store.Write(ctx, path, key)
	if err != nil {
		return fmt.Errorf("write secret %s: %w", path, err)
	}
	if !success(status) {
		return domain.ErrExternal("write secret %s: status %d", path, status)
	}
	return nil
}

// ReadSecret fetches the access key stored in the n-th secret leaf. An
// absent leaf yields a NotFoundError.
func (r *AccountRepo) ReadSecret(ctx context.Context, accountID, name string, n int) (domain.AccessKey, error) {
	path := domain.SecretPath(accountID, name, n)
	resp, err := r.store.Read(ctx, path)
	if err != nil {
		return domain.AccessKey{}, fmt.Errorf("read secret %s: %w", path, err)
	}
	if resp.Status == http.StatusNotFound {
		return domain.AccessKey{}, domain.ErrNotFound("secret leaf %s not found", path)
	}
	if resp.Status != http.StatusOK {
		return domain.AccessKey{}, domain.ErrExternal("read secret %s: status %d", path, resp.Status)
	}
	var key domain.AccessKey
	if err := json.Unmarshal(resp.Data, &key); err != nil {
		return domain.AccessKey{}, fmt.Errorf("decode secret %s: %w", path, err)
	}
	return key, nil
}

// DeleteSecret removes the n-th secret leaf. Deleting an absent leaf
// succeeds.
func (r *AccountRepo) DeleteSecret(ctx context.Context, accountID, name string, n int) error {
	path := domain.SecretPath(accountID, name, n)
	status, err := r.store.Delete(ctx, path)
	if err != nil {
		return fmt.Errorf("delete secret %s: %w", path, err)
	}
	if !success(status) && status != http.StatusNotFound {
		return domain.ErrExternal("delete secret %s: status %d", path, status)
	}
	return nil
}

// FindSecretLeaf scans the account's secret leaves for the one holding the
// given access key id and returns its index and content.
func (r *AccountRepo) FindSecretLeaf(ctx context.Context, accountID, name, keyID string) (int, domain.AccessKey, error) {
	for n := 1; n <= domain.MaxAccessKeys; n++ {
		key, err := r.ReadSecret(ctx, accountID, name, n)
		if err != nil {
			var notFound *domain.NotFoundError
			if errors.As(err, &notFound) {
				continue
			}
			return 0, domain.AccessKey{}, err
		}
		if key.AccessKeyID == keyID {
			return n, key, nil
		}
	}
	return 0, domain.AccessKey{}, domain.ErrNotFound("no secret leaf holds access key %s", keyID)
}

// NextFreeLeaf returns the lowest secret-leaf index not yet in use.
func (r *AccountRepo) NextFreeLeaf(ctx context.Context, accountID, name string) (int, error) {
	for n := 1; n <= domain.MaxAccessKeys; n++ {
		_, err := r.ReadSecret(ctx, accountID, name, n)
		if err == nil {
			continue
		}
		var notFound *domain.NotFoundError
		if errors.As(err, &notFound) {
			return n, nil
		}
		return 0, err
	}
	return 0, domain.ErrConflict("all secret leaves in use for %s", domain.UniqueName(accountID, name))
}
