// Package credential enforces access-key quota and rotation invariants and
// drives create/rotate/delete of a single access key end-to-end.
package credential

import (
	"context"
	"errors"
	"log/slog"

	"tvault-control/internal/domain"
	"tvault-control/internal/locks"
	"tvault-control/internal/repository"
	"tvault-control/internal/service/access"
)

// KeyService is the credential quota manager. Every mutating call follows
// read-then-validate-then-write under the account's advisory lock.
type KeyService struct {
	accounts *repository.AccountRepo
	cloud    domain.CloudIAM
	eval     *access.Evaluator
	locks    *locks.Keyed
	audit    domain.AuditRepository
	logger   *slog.Logger
}

// NewKeyService creates a KeyService.
func NewKeyService(accounts *repository.AccountRepo, cloud domain.CloudIAM, eval *access.Evaluator, keyed *locks.Keyed, audit domain.AuditRepository, logger *slog.Logger) *KeyService {
	return &KeyService{
		accounts: accounts,
		cloud:    cloud,
		eval:     eval,
		locks:    keyed,
		audit:    audit,
		logger:   logger.With("component", "credential"),
	}
}

// authorize gates the operation on the caller's token set. Returns a
// Forbidden outcome when the caller lacks the required level.
func (s *KeyService) authorize(ctx context.Context, accountID, name string, required domain.Level, deniedMsg string) (domain.ContextPrincipal, *domain.SagaOutcome) {
	caller, ok := domain.PrincipalFromContext(ctx)
	if !ok {
		out := domain.OutcomeError(domain.StatusForbidden, deniedMsg)
		return domain.ContextPrincipal{}, &out
	}
	granted, _ := s.eval.Authorize(caller.Tokens, accountID, name, required)
	if !granted {
		out := domain.OutcomeError(domain.StatusForbidden, deniedMsg)
		return caller, &out
	}
	return caller, nil
}

func isNotFound(err error) bool {
	var notFound *domain.NotFoundError
	return errors.As(err, &notFound)
}

func (s *KeyService) record(ctx context.Context, caller, action, account string, out domain.SagaOutcome) {
	detail := ""
	if len(out.Messages) > 0 {
		detail = out.Messages[0]
	} else if len(out.Errors) > 0 {
		detail = out.Errors[0]
	}
	_ = s.audit.Insert(ctx, &domain.AuditEntry{
		PrincipalName: caller,
		Action:        action,
		Account:       account,
		Status:        out.Status.String(),
		Detail:        detail,
	})
}

// CreateAccessKey mints a new access key for the account, writes its secret
// material to the next free secret leaf, and indexes it in metadata.
func (s *KeyService) CreateAccessKey(ctx context.Context, accountID, name string) (domain.AccessKey, domain.SagaOutcome) {
	caller, denied := s.authorize(ctx, accountID, name, domain.LevelWrite,
		"Access denied: No permission to create secrets for this IAM service account.")
	if denied != nil {
		return domain.AccessKey{}, *denied
	}

	unlock := s.locks.Lock(domain.UniqueName(accountID, name))
	defer unlock()

	out := s.createLocked(ctx, accountID, name)
	s.record(ctx, caller.Name, "create_access_key", domain.UniqueName(accountID, name), out.outcome)
	return out.key, out.outcome
}

type createResult struct {
	key     domain.AccessKey
	outcome domain.SagaOutcome
}

func (s *KeyService) createLocked(ctx context.Context, accountID, name string) createResult {
	meta, err := s.accounts.GetMetadata(ctx, accountID, name)
	if err != nil {
		var notFound *domain.NotFoundError
		if errors.As(err, &notFound) {
			return createResult{outcome: domain.OutcomeError(domain.StatusBadRequest,
				"Failed to read metadata for this IAM Service account")}
		}
		return createResult{outcome: domain.OutcomeError(domain.StatusInternalError, err.Error())}
	}

	if len(meta.AccessKeys) >= domain.MaxAccessKeys {
		return createResult{outcome: domain.OutcomeError(domain.StatusBadRequest,
			"Failed to create access key secrets for IAM service account. Two AccessKeyIds already available for this IAM Service Account.")}
	}

	key, err := s.cloud.CreateKey(ctx, accountID, name)
	if err != nil {
		s.logger.Error("mint access key failed", "account", domain.UniqueName(accountID, name), "error", err)
		return createResult{outcome: domain.OutcomeError(domain.StatusInternalError,
			"Failed to create access key secrets for IAM Service Account")}
	}

	n, err := s.accounts.NextFreeLeaf(ctx, accountID, name)
	if err != nil {
		return createResult{outcome: domain.OutcomeError(domain.StatusInternalError, err.Error())}
	}
	if err := s.accounts.WriteSecret(ctx, accountID, name, n, key); err != nil {
		return createResult{outcome: domain.OutcomeError(domain.StatusInternalError,
			"Failed to create access key secrets for IAM Service Account")}
	}

	meta.AccessKeys = append(meta.AccessKeys, domain.AccessKeyRef{AccessKeyID: key.AccessKeyID, Expiry: key.Expiry})
	if err := s.accounts.WriteMetadata(ctx, meta); err != nil {
		// The secret leaf exists but is not indexed. Surface the partial
		// state instead of silently losing the key.
		s.logger.Error("metadata update failed after secret write", "account", domain.UniqueName(accountID, name), "accessKeyId", key.AccessKeyID)
		return createResult{key: key, outcome: domain.OutcomeError(domain.StatusPartialFailure,
			"Failed to add IAM Service account accesskey. Metadata update failed.")}
	}

	return createResult{key: key, outcome: domain.OutcomeOK("Successfully created access key secrets for IAM Service Account")}
}

// RotateAccessKey replaces the secret material of an existing key in place:
// the same secret leaf is overwritten and the metadata entry is updated
// without changing its position.
func (s *KeyService) RotateAccessKey(ctx context.Context, accountID, name, keyID string) domain.SagaOutcome {
	caller, denied := s.authorize(ctx, accountID, name, domain.LevelWrite,
		"Access denied: No permission to rotate secret for IAM service account.")
	if denied != nil {
		return *denied
	}

	unlock := s.locks.Lock(domain.UniqueName(accountID, name))
	defer unlock()

	out := s.rotateLocked(ctx, accountID, name, keyID)
	s.record(ctx, caller.Name, "rotate_access_key", domain.UniqueName(accountID, name), out)
	return out
}

func (s *KeyService) rotateLocked(ctx context.Context, accountID, name, keyID string) domain.SagaOutcome {
	meta, err := s.accounts.GetMetadata(ctx, accountID, name)
	if err != nil {
		return domain.OutcomeError(domain.StatusBadRequest,
			"Failed to rotate secret for IAM Service account. Invalid metadata.")
	}
	pos, ok := meta.HasKey(keyID)
	if !ok {
		return domain.OutcomeError(domain.StatusBadRequest,
			"AccessKey information not found in metadata for this IAM Service account")
	}

	leaf, _, err := s.accounts.FindSecretLeaf(ctx, accountID, name, keyID)
	if err != nil {
		return domain.OutcomeError(domain.StatusInternalError,
			"Failed to rotate secret for IAM Service account Access Key Id")
	}

	rotated, err := s.cloud.RotateKey(ctx, accountID, name, keyID)
	if err != nil {
		s.logger.Error("rotate access key failed", "account", domain.UniqueName(accountID, name), "accessKeyId", keyID, "error", err)
		return domain.OutcomeError(domain.StatusInternalError,
			"Failed to rotate secret for IAM Service account Access Key Id")
	}

	// Same leaf path the old key occupied.
	if err := s.accounts.WriteSecret(ctx, accountID, name, leaf, rotated); err != nil {
		return domain.OutcomeError(domain.StatusInternalError,
			"Failed to rotate secret for IAM Service account Access Key Id")
	}

	// Update the metadata entry in place. Backends that re-secret a key
	// pair keep the id stable; if the backend superseded the id, the new
	// id replaces the old one in the same slot.
	meta.AccessKeys[pos-1] = domain.AccessKeyRef{AccessKeyID: rotated.AccessKeyID, Expiry: rotated.Expiry}
	if err := s.accounts.WriteMetadata(ctx, meta); err != nil {
		return domain.OutcomeError(domain.StatusPartialFailure,
			"Failed to add IAM Service account accesskey. Metadata update failed.")
	}

	return domain.OutcomeOK("IAM Service account secret rotated successfully")
}

// DeleteAccessKey deactivates the key at the cloud IAM backend, deletes its
// secret leaf, and removes the metadata entry last.
func (s *KeyService) DeleteAccessKey(ctx context.Context, accountID, name, keyID string) domain.SagaOutcome {
	caller, denied := s.authorize(ctx, accountID, name, domain.LevelWrite,
		"Access denied: No permission to delete this IAM service account access key")
	if denied != nil {
		return *denied
	}

	unlock := s.locks.Lock(domain.UniqueName(accountID, name))
	defer unlock()

	out := s.deleteLocked(ctx, accountID, name, keyID)
	s.record(ctx, caller.Name, "delete_access_key", domain.UniqueName(accountID, name), out)
	return out
}

func (s *KeyService) deleteLocked(ctx context.Context, accountID, name, keyID string) domain.SagaOutcome {
	meta, err := s.accounts.GetMetadata(ctx, accountID, name)
	if err != nil {
		return domain.OutcomeError(domain.StatusBadRequest,
			"Failed to delete IAM Service account access key. Invalid metadata.")
	}
	pos, ok := meta.HasKey(keyID)
	if !ok {
		return domain.OutcomeError(domain.StatusBadRequest,
			"Failed to delete IAM Service account accesskey. The given accesKey is not available in T-Vault with given IAM service account.")
	}

	// Metadata is intentionally not rolled back when the backend delete
	// fails: the caller retries the delete idempotently.
	deleted, err := s.cloud.DeleteKey(ctx, accountID, name, keyID)
	if err != nil || !deleted {
		s.logger.Error("cloud delete access key failed", "account", domain.UniqueName(accountID, name), "accessKeyId", keyID, "error", err)
		return domain.OutcomeError(domain.StatusBadRequest,
			"Failed to delete IAM Service account access key from IAM.")
	}

	leaf, _, err := s.accounts.FindSecretLeaf(ctx, accountID, name, keyID)
	switch {
	case err == nil:
		if err := s.accounts.DeleteSecret(ctx, accountID, name, leaf); err != nil {
			return domain.OutcomeError(domain.StatusInternalError, err.Error())
		}
	case isNotFound(err):
		// No leaf holds this key id; nothing to delete.
	default:
		s.logger.Error("secret leaf lookup failed", "account", domain.UniqueName(accountID, name), "accessKeyId", keyID, "error", err)
		return domain.OutcomeError(domain.StatusPartialFailure,
			"Failed to delete IAM Service account accesskey. Secret deletion failed.")
	}

	// Metadata entry removal is last, after the secret leaf is gone.
	meta.AccessKeys = append(meta.AccessKeys[:pos-1], meta.AccessKeys[pos:]...)
	if err := s.accounts.WriteMetadata(ctx, meta); err != nil {
		return domain.OutcomeError(domain.StatusPartialFailure,
			"Failed to delete IAM Service account accesskey. Metadata update failed.")
	}

	return domain.OutcomeOK("IAM Service account access key deleted successfully")
}
