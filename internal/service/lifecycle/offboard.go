package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"

	"tvault-control/internal/domain"
)

// unbindParallelism bounds the directory fan-out while unwinding principal
// bindings. Unbindings are independent of each other; failures are
// collected, never shortcut.
const unbindParallelism = 4

// Offboard destroys a service account: every principal binding is unwound,
// then policies, secret leaves and metadata are deleted. Binding and
// deletion sub-failures are collected and reported as a partial failure
// after everything has been attempted; only policy deletion aborts the
// offboarding outright.
func (s *Service) Offboard(ctx context.Context, accountID, name string) domain.SagaOutcome {
	caller, ok := domain.PrincipalFromContext(ctx)
	if !ok || !caller.IsAdmin() {
		return domain.OutcomeError(domain.StatusForbidden,
			"Access denied. Not authorized to perform offboarding of IAM service accounts.")
	}

	unique := domain.UniqueName(accountID, name)
	unlock := s.locks.Lock(unique)
	defer unlock()

	out := s.offboardLocked(ctx, accountID, name)
	s.record(ctx, caller.Name, "offboard_account", unique, out)
	return out
}

func (s *Service) offboardLocked(ctx context.Context, accountID, name string) domain.SagaOutcome {
	unique := domain.UniqueName(accountID, name)

	meta, err := s.accounts.GetMetadata(ctx, accountID, name)
	if err != nil {
		var notFound *domain.NotFoundError
		if errors.As(err, &notFound) {
			return domain.OutcomeOK("Successfully offboarded IAM service account (if existed) from T-Vault")
		}
		return domain.OutcomeError(domain.StatusInternalError,
			"Failed to Offboard IAM service account. Error Fetching metadata for iam service account")
	}

	subFailures := s.unbindPrincipals(ctx, accountID, name, meta)

	// Policy deletion is the one fatal, non-partial step.
	for _, policy := range domain.AccountPolicyNames(accountID, name) {
		if status, err := s.policies.DeletePolicy(ctx, policy); err != nil || !dirOK(status) {
			s.logger.Error("policy delete failed", "account", unique, "policy", policy, "status", status, "error", err)
			return domain.OutcomeError(domain.StatusInternalError,
				"Failed to Offboard IAM service account. Policy deletion failed.")
		}
	}

	for n := 1; n <= domain.MaxAccessKeys; n++ {
		if err := s.accounts.DeleteSecret(ctx, accountID, name, n); err != nil {
			subFailures = append(subFailures, fmt.Sprintf("failed to delete secret leaf %d: %v", n, err))
		}
	}
	if err := s.accounts.DeleteMetadata(ctx, accountID, name); err != nil {
		subFailures = append(subFailures, fmt.Sprintf("failed to delete metadata: %v", err))
	}

	if len(subFailures) > 0 {
		out := domain.OutcomeError(domain.StatusPartialFailure,
			"Failed to offboard IAM service account from TVault")
		out.Errors = append(out.Errors, subFailures...)
		return out
	}
	return domain.OutcomeOK("Successfully offboarded IAM service account (if existed) from T-Vault")
}

// unbindPrincipals strips this account's tokens from every bound principal:
// users (the owner always included), groups, app-roles and cloud-IAM roles.
// All unbindings are attempted; failures come back as messages.
func (s *Service) unbindPrincipals(ctx context.Context, accountID, name string, meta *domain.Metadata) []string {
	var mu sync.Mutex
	var failures []string
	report := func(msg string) {
		mu.Lock()
		failures = append(failures, msg)
		mu.Unlock()
	}

	users := map[string]string{}
	for user, level := range meta.Users {
		users[user] = level
	}
	if meta.OwnerNTID != "" {
		users[meta.OwnerNTID] = domain.AccessSudo
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(unbindParallelism)
	for user := range users {
		user := user
		g.Go(func() error {
			if err := s.stripDirectoryPrincipal(gctx, domain.KindUser, user, accountID, name); err != nil {
				report(fmt.Sprintf("failed to remove user %s: %v", user, err))
			}
			return nil
		})
	}
	for group := range meta.Groups {
		group := group
		g.Go(func() error {
			if err := s.stripDirectoryPrincipal(gctx, domain.KindGroup, group, accountID, name); err != nil {
				report(fmt.Sprintf("failed to remove group %s: %v", group, err))
			}
			return nil
		})
	}
	for role := range meta.AppRoles {
		role := role
		g.Go(func() error {
			if err := s.stripDirectoryPrincipal(gctx, domain.KindAppRole, role, accountID, name); err != nil {
				report(fmt.Sprintf("failed to remove approle %s: %v", role, err))
			}
			return nil
		})
	}
	for role := range meta.AWSRoles {
		role := role
		g.Go(func() error {
			if err := s.stripCloudRole(gctx, role, accountID, name); err != nil {
				report(fmt.Sprintf("failed to remove aws role %s: %v", role, err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return failures
}

func (s *Service) stripDirectoryPrincipal(ctx context.Context, kind domain.PrincipalKind, id, accountID, name string) error {
	status, current, err := s.dir.GetPrincipalPolicies(ctx, kind, id)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return nil
	}
	if !dirOK(status) {
		return domain.ErrExternal("read %s %s policies: status %d", kind, id, status)
	}
	kept, changed := domain.RemoveAccountPolicies(current, accountID, name)
	if !changed {
		return nil
	}
	status, err = s.dir.SetPrincipalPolicies(ctx, kind, id, kept)
	if err != nil {
		return err
	}
	if !dirOK(status) {
		return domain.ErrExternal("write %s %s policies: status %d", kind, id, status)
	}
	return nil
}

// stripCloudRole rewrites a cloud-IAM role's attached policy set without
// this account's tokens, preserving the role's recorded auth mechanism.
func (s *Service) stripCloudRole(ctx context.Context, role, accountID, name string) error {
	status, current, authType, err := s.cloud.ReadRole(ctx, role)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return nil
	}
	if status != http.StatusOK {
		return domain.ErrExternal("read aws role %s: status %d", role, status)
	}
	kept, changed := domain.RemoveAccountPolicies(current, accountID, name)
	if !changed {
		return nil
	}
	status, err = s.cloud.ConfigureRole(ctx, role, kept, authType)
	if err != nil {
		return err
	}
	if !dirOK(status) {
		return domain.ErrExternal("configure aws role %s: status %d", role, status)
	}
	return nil
}
