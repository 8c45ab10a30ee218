// Package permission manages user, group, approle and cloud-IAM role
// permissions on onboarded service accounts: the principal's policy set in
// the directory (or the role's attached policies at the cloud backend) and
// the binding maps in account metadata, kept consistent with a
// read-merge-write cycle and a revert on metadata failure.
package permission

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"tvault-control/internal/domain"
	"tvault-control/internal/locks"
	"tvault-control/internal/repository"
	"tvault-control/internal/service/access"
)

const invalidAccessMsg = "Invalid value specified for access. Valid values are read, write, deny"

// UserRequest binds or unbinds one user on a service account.
type UserRequest struct {
	AccountID string `json:"awsAccountId"`
	Name      string `json:"iamSvcAccName"`
	Username  string `json:"username"`
	Access    string `json:"access"`
}

// GroupRequest binds or unbinds one directory group on a service account.
type GroupRequest struct {
	AccountID string `json:"awsAccountId"`
	Name      string `json:"iamSvcAccName"`
	GroupName string `json:"groupname"`
	Access    string `json:"access"`
}

// Service adds and removes principal permissions. Directory updates are
// full replacements, so every change reads the current policy set, edits
// only this account's tokens, and writes the merged set back.
type Service struct {
	accounts *repository.AccountRepo
	dir      domain.Directory
	cloud    domain.CloudIAM
	eval     *access.Evaluator
	locks    *locks.Keyed
	audit    domain.AuditRepository
	logger   *slog.Logger
}

// NewService creates a permission Service.
func NewService(accounts *repository.AccountRepo, dir domain.Directory, cloud domain.CloudIAM, eval *access.Evaluator, keyed *locks.Keyed, audit domain.AuditRepository, logger *slog.Logger) *Service {
	return &Service{
		accounts: accounts,
		dir:      dir,
		cloud:    cloud,
		eval:     eval,
		locks:    keyed,
		audit:    audit,
		logger:   logger.With("component", "permission"),
	}
}

func dirOK(status int) bool {
	return status == http.StatusOK || status == http.StatusNoContent
}

func (s *Service) authorizeOwner(ctx context.Context, accountID, name, deniedMsg string) (domain.ContextPrincipal, *domain.SagaOutcome) {
	caller, ok := domain.PrincipalFromContext(ctx)
	if !ok {
		out := domain.OutcomeError(domain.StatusForbidden, deniedMsg)
		return domain.ContextPrincipal{}, &out
	}
	granted, _ := s.eval.Authorize(caller.Tokens, accountID, name, domain.LevelOwner)
	if !granted {
		out := domain.OutcomeError(domain.StatusForbidden, deniedMsg)
		return caller, &out
	}
	return caller, nil
}

func (s *Service) record(ctx context.Context, caller, action, account string, out domain.SagaOutcome) {
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

// AddUser grants a user read, write or deny on the account, replacing any
// permission the user already held on it.
func (s *Service) AddUser(ctx context.Context, req UserRequest) domain.SagaOutcome {
	caller, denied := s.authorizeOwner(ctx, req.AccountID, req.Name,
		"Access denied: No permission to add users to this IAM service account")
	if denied != nil {
		return *denied
	}

	unlock := s.locks.Lock(domain.UniqueName(req.AccountID, req.Name))
	defer unlock()

	out := s.addUserLocked(ctx, req)
	s.record(ctx, caller.Name, "add_user_permission", domain.UniqueName(req.AccountID, req.Name), out)
	return out
}

func (s *Service) addUserLocked(ctx context.Context, req UserRequest) domain.SagaOutcome {
	level, ok := externalLevel(req.Access)
	if !ok {
		return domain.OutcomeError(domain.StatusBadRequest, invalidAccessMsg)
	}

	meta, err := s.accounts.GetMetadata(ctx, req.AccountID, req.Name)
	if err != nil {
		return domain.OutcomeError(domain.StatusBadRequest, err.Error())
	}
	if req.Username == meta.OwnerNTID {
		return domain.OutcomeError(domain.StatusBadRequest,
			"Failed to add user permission to IAM Service account. Owner permission cannot be changed.")
	}
	if meta.State != domain.StateActivated {
		return domain.OutcomeError(domain.StatusBadRequest,
			fmt.Sprintf("Failed to add user permission to IAM Service account. [%s] is not activated.",
				domain.UniqueName(req.AccountID, req.Name)))
	}

	revert, fail := s.replacePrincipalPolicy(ctx, domain.KindUser, req.Username, level, req.AccountID, req.Name,
		"User configuration failed. Try again")
	if fail != nil {
		return *fail
	}

	if meta.Users == nil {
		meta.Users = map[string]string{}
	}
	meta.Users[req.Username] = strings.ToLower(req.Access)
	if err := s.accounts.WriteMetadata(ctx, meta); err != nil {
		revert(ctx)
		return domain.OutcomeError(domain.StatusInternalError,
			"Failed to add user to the Service Account. Metadata update failed")
	}

	return domain.OutcomeOK("Successfully added user to the IAM Service Account")
}

// RemoveUser strips the user's permission on the account from both the
// directory and metadata.
func (s *Service) RemoveUser(ctx context.Context, req UserRequest) domain.SagaOutcome {
	caller, denied := s.authorizeOwner(ctx, req.AccountID, req.Name,
		"Access denied: No permission to remove user from this IAM service account")
	if denied != nil {
		return *denied
	}

	unlock := s.locks.Lock(domain.UniqueName(req.AccountID, req.Name))
	defer unlock()

	out := s.removeUserLocked(ctx, req)
	s.record(ctx, caller.Name, "remove_user_permission", domain.UniqueName(req.AccountID, req.Name), out)
	return out
}

func (s *Service) removeUserLocked(ctx context.Context, req UserRequest) domain.SagaOutcome {
	meta, err := s.accounts.GetMetadata(ctx, req.AccountID, req.Name)
	if err != nil {
		return domain.OutcomeError(domain.StatusBadRequest, err.Error())
	}
	if req.Username == meta.OwnerNTID {
		return domain.OutcomeError(domain.StatusBadRequest,
			"Failed to remove user permission from IAM Service account. Owner permission cannot be changed.")
	}

	revert, fail := s.stripPrincipalPolicies(ctx, domain.KindUser, req.Username, req.AccountID, req.Name,
		"User configuration failed. Try again")
	if fail != nil {
		return *fail
	}

	delete(meta.Users, req.Username)
	if err := s.accounts.WriteMetadata(ctx, meta); err != nil {
		revert(ctx)
		return domain.OutcomeError(domain.StatusInternalError,
			"Failed to remove the user from the IAM Service Account. Metadata update failed")
	}

	return domain.OutcomeOK("Successfully removed user from the IAM Service Account")
}

// AddGroup grants a directory group a permission on the account. During
// onboarding only rotate is allowed, the caller is already admin-gated, the
// account is still pending and the caller holds the account lock, so the
// usual checks are skipped.
func (s *Service) AddGroup(ctx context.Context, req GroupRequest, partOfOnboard bool) domain.SagaOutcome {
	if partOfOnboard {
		if !strings.EqualFold(req.Access, domain.AccessRotate) {
			return domain.OutcomeError(domain.StatusBadRequest,
				"Failed to add group permission to IAM Service account. Only Rotate permissions can be added to the self support group as part of Onboard.")
		}
		return s.addGroupLocked(ctx, req, true)
	}

	caller, denied := s.authorizeOwner(ctx, req.AccountID, req.Name,
		"Access denied: No permission to add groups to this IAM service account")
	if denied != nil {
		return *denied
	}

	unlock := s.locks.Lock(domain.UniqueName(req.AccountID, req.Name))
	defer unlock()

	out := s.addGroupLocked(ctx, req, false)
	s.record(ctx, caller.Name, "add_group_permission", domain.UniqueName(req.AccountID, req.Name), out)
	return out
}

func (s *Service) addGroupLocked(ctx context.Context, req GroupRequest, partOfOnboard bool) domain.SagaOutcome {
	level, ok := externalLevel(req.Access)
	if !ok {
		return domain.OutcomeError(domain.StatusBadRequest, invalidAccessMsg)
	}

	meta, err := s.accounts.GetMetadata(ctx, req.AccountID, req.Name)
	if err != nil {
		return domain.OutcomeError(domain.StatusBadRequest, err.Error())
	}
	if !partOfOnboard && meta.State != domain.StateActivated {
		return domain.OutcomeError(domain.StatusBadRequest,
			fmt.Sprintf("Failed to add group permission to IAM Service account. [%s] is not activated.",
				domain.UniqueName(req.AccountID, req.Name)))
	}

	revert, fail := s.replacePrincipalPolicy(ctx, domain.KindGroup, req.GroupName, level, req.AccountID, req.Name,
		"Group configuration failed. Try again")
	if fail != nil {
		return *fail
	}

	if meta.Groups == nil {
		meta.Groups = map[string]string{}
	}
	meta.Groups[req.GroupName] = strings.ToLower(req.Access)
	if err := s.accounts.WriteMetadata(ctx, meta); err != nil {
		revert(ctx)
		return domain.OutcomeError(domain.StatusInternalError,
			"Failed to add group to the IAM Service Account. Metadata update failed")
	}

	return domain.OutcomeOK("Group is successfully associated with IAM Service Account")
}

// RemoveGroup strips the group's permission on the account.
func (s *Service) RemoveGroup(ctx context.Context, req GroupRequest) domain.SagaOutcome {
	caller, denied := s.authorizeOwner(ctx, req.AccountID, req.Name,
		"Access denied: No permission to remove groups from this IAM service account")
	if denied != nil {
		return *denied
	}

	unlock := s.locks.Lock(domain.UniqueName(req.AccountID, req.Name))
	defer unlock()

	out := s.removeGroupLocked(ctx, req)
	s.record(ctx, caller.Name, "remove_group_permission", domain.UniqueName(req.AccountID, req.Name), out)
	return out
}

func (s *Service) removeGroupLocked(ctx context.Context, req GroupRequest) domain.SagaOutcome {
	meta, err := s.accounts.GetMetadata(ctx, req.AccountID, req.Name)
	if err != nil {
		return domain.OutcomeError(domain.StatusBadRequest, err.Error())
	}
	if _, bound := meta.Groups[req.GroupName]; !bound {
		return domain.OutcomeError(domain.StatusBadRequest,
			"Failed to remove group from IAM service account. Group association to IAM service account not found")
	}

	revert, fail := s.stripPrincipalPolicies(ctx, domain.KindGroup, req.GroupName, req.AccountID, req.Name,
		"Group configuration failed. Try again")
	if fail != nil {
		return *fail
	}

	delete(meta.Groups, req.GroupName)
	if err := s.accounts.WriteMetadata(ctx, meta); err != nil {
		revert(ctx)
		return domain.OutcomeError(domain.StatusInternalError,
			"Failed to remove the group from the IAM Service Account. Metadata update failed")
	}

	return domain.OutcomeOK("Group is successfully removed from IAM Service Account")
}

// externalLevel maps request access strings to token levels. Rotate is
// accepted for groups as the self-support alias of write; sudo is reserved
// for the owner binding and never accepted here.
func externalLevel(access string) (domain.Level, bool) {
	if strings.EqualFold(access, domain.AccessSudo) {
		return "", false
	}
	return domain.LevelForAccess(access)
}

// replacePrincipalPolicy swaps the principal's token for this account with
// one at the given level and returns a revert that restores the previous
// set. An unknown principal starts from an empty set.
func (s *Service) replacePrincipalPolicy(ctx context.Context, kind domain.PrincipalKind, id string, level domain.Level, accountID, name, failMsg string) (func(context.Context), *domain.SagaOutcome) {
	status, current, err := s.dir.GetPrincipalPolicies(ctx, kind, id)
	if err != nil || (!dirOK(status) && status != http.StatusNotFound) {
		s.logger.Error("read principal policies failed", "kind", kind, "principal", id, "status", status, "error", err)
		out := domain.OutcomeError(domain.StatusInternalError, failMsg)
		return nil, &out
	}

	merged := domain.ReplaceAccountPolicy(current, level, accountID, name)
	if status, err := s.dir.SetPrincipalPolicies(ctx, kind, id, merged); err != nil || !dirOK(status) {
		s.logger.Error("write principal policies failed", "kind", kind, "principal", id, "status", status, "error", err)
		out := domain.OutcomeError(domain.StatusInternalError, failMsg)
		return nil, &out
	}

	revert := func(ctx context.Context) {
		if status, err := s.dir.SetPrincipalPolicies(ctx, kind, id, current); err != nil || !dirOK(status) {
			s.logger.Error("revert principal policies failed", "kind", kind, "principal", id, "status", status, "error", err)
		}
	}
	return revert, nil
}

// stripPrincipalPolicies removes every token for this account from the
// principal's policy set and returns a revert that restores the previous
// set. A principal with no matching token is a no-op.
func (s *Service) stripPrincipalPolicies(ctx context.Context, kind domain.PrincipalKind, id string, accountID, name, failMsg string) (func(context.Context), *domain.SagaOutcome) {
	status, current, err := s.dir.GetPrincipalPolicies(ctx, kind, id)
	if err != nil || (!dirOK(status) && status != http.StatusNotFound) {
		s.logger.Error("read principal policies failed", "kind", kind, "principal", id, "status", status, "error", err)
		out := domain.OutcomeError(domain.StatusInternalError, failMsg)
		return nil, &out
	}

	kept, changed := domain.RemoveAccountPolicies(current, accountID, name)
	if changed {
		if status, err := s.dir.SetPrincipalPolicies(ctx, kind, id, kept); err != nil || !dirOK(status) {
			s.logger.Error("write principal policies failed", "kind", kind, "principal", id, "status", status, "error", err)
			out := domain.OutcomeError(domain.StatusInternalError, failMsg)
			return nil, &out
		}
	}

	revert := func(ctx context.Context) {
		if !changed {
			return
		}
		if status, err := s.dir.SetPrincipalPolicies(ctx, kind, id, current); err != nil || !dirOK(status) {
			s.logger.Error("revert principal policies failed", "kind", kind, "principal", id, "status", status, "error", err)
		}
	}
	return revert, nil
}
