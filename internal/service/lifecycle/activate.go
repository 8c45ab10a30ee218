package lifecycle

import (
	"context"

	"tvault-control/internal/domain"
)

// Activate performs the first rotation of every access key the account was
// onboarded with and moves it from pending to activated. Rotation happens
// before the state change: an account is never marked activated while any
// of its onboarding-time secrets are still live.
func (s *Service) Activate(ctx context.Context, accountID, name string) domain.SagaOutcome {
	caller, ok := domain.PrincipalFromContext(ctx)
	if !ok {
		return domain.OutcomeError(domain.StatusForbidden,
			"Access denied: No permission to activate this IAM service account")
	}
	if granted, _ := s.eval.Authorize(caller.Tokens, accountID, name, domain.LevelOwner); !granted {
		return domain.OutcomeError(domain.StatusForbidden,
			"Access denied: No permission to activate this IAM service account")
	}

	unique := domain.UniqueName(accountID, name)
	unlock := s.locks.Lock(unique)
	defer unlock()

	out := s.activateLocked(ctx, accountID, name)
	s.record(ctx, caller.Name, "activate_account", unique, out)
	return out
}

func (s *Service) activateLocked(ctx context.Context, accountID, name string) domain.SagaOutcome {
	unique := domain.UniqueName(accountID, name)

	meta, err := s.accounts.GetMetadata(ctx, accountID, name)
	if err != nil {
		return domain.OutcomeError(domain.StatusBadRequest,
			"Failed to activate IAM Service account. Invalid metadata.")
	}
	if meta.State == domain.StateActivated {
		return domain.OutcomeError(domain.StatusBadRequest,
			"Service Account is already activated. You can now grant permissions from Permissions menu")
	}
	if !meta.State.CanTransition(domain.StateActivated) || len(meta.AccessKeys) == 0 {
		return domain.OutcomeError(domain.StatusBadRequest,
			"Failed to activate IAM Service account. Invalid metadata.")
	}

	// Rotate every key, attempting all before judging the result.
	rotated := 0
	for i, ref := range meta.AccessKeys {
		key, err := s.cloud.RotateKey(ctx, accountID, name, ref.AccessKeyID)
		if err != nil {
			s.logger.Error("activation rotate failed", "account", unique, "accessKeyId", ref.AccessKeyID, "error", err)
			continue
		}
		if err := s.accounts.WriteSecret(ctx, accountID, name, i+1, key); err != nil {
			s.logger.Error("activation secret write failed", "account", unique, "accessKeyId", key.AccessKeyID, "error", err)
			continue
		}
		meta.AccessKeys[i] = domain.AccessKeyRef{AccessKeyID: key.AccessKeyID, Expiry: key.Expiry}
		rotated++
	}
	if rotated != len(meta.AccessKeys) {
		return domain.OutcomeError(domain.StatusInternalError,
			"Failed to activate IAM Service account. Failed to rotate secrets for one or more AccessKeyIds.")
	}

	meta.State = domain.StateActivated
	if err := s.accounts.WriteMetadata(ctx, meta); err != nil {
		return domain.OutcomeError(domain.StatusInternalError,
			"Failed to activate IAM Service account. IAM secrets are rotated and saved in T-Vault. However metadata update failed.")
	}

	// Re-assert the owner's directory binding now that the account is live.
	status, current, err := s.dir.GetPrincipalPolicies(ctx, domain.KindUser, meta.OwnerNTID)
	if err != nil || (!dirOK(status) && status != 404) {
		return domain.OutcomeError(domain.StatusInternalError,
			"Failed to activate IAM Service account. IAM secrets are rotated and saved in T-Vault. However owner permission update failed.")
	}
	merged := domain.ReplaceAccountPolicy(current, domain.LevelOwner, accountID, name)
	if status, err := s.dir.SetPrincipalPolicies(ctx, domain.KindUser, meta.OwnerNTID, merged); err != nil || !dirOK(status) {
		return domain.OutcomeError(domain.StatusInternalError,
			"Failed to activate IAM Service account. IAM secrets are rotated and saved in T-Vault. However owner permission update failed.")
	}

	return domain.OutcomeOK("IAM Service account activated successfully")
}
