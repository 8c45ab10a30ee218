package permission

import (
	"context"
	"net/http"
	"strings"

	"tvault-control/internal/domain"
)

// AppRoleRequest binds or unbinds one approle on a service account.
type AppRoleRequest struct {
	AccountID   string `json:"awsAccountId"`
	Name        string `json:"iamSvcAccName"`
	AppRoleName string `json:"approlename"`
	Access      string `json:"access"`
}

// AWSRoleRequest binds or unbinds one cloud-IAM role on a service account.
type AWSRoleRequest struct {
	AccountID string `json:"awsAccountId"`
	Name      string `json:"iamSvcAccName"`
	RoleName  string `json:"rolename"`
	Access    string `json:"access"`
}

// Platform admin approles cannot be bound to individual accounts.
var reservedAppRoles = map[string]bool{
	"selfservicesupportrole":  true,
	"iamportal_admin_approle": true,
}

// AddAppRole grants an approle read, write or deny on the account.
func (s *Service) AddAppRole(ctx context.Context, req AppRoleRequest) domain.SagaOutcome {
	caller, denied := s.authorizeOwner(ctx, req.AccountID, req.Name,
		"Access denied: No permission to add Approle to this iam service account")
	if denied != nil {
		return *denied
	}

	unlock := s.locks.Lock(domain.UniqueName(req.AccountID, req.Name))
	defer unlock()

	out := s.addAppRoleLocked(ctx, req)
	s.record(ctx, caller.Name, "add_approle_permission", domain.UniqueName(req.AccountID, req.Name), out)
	return out
}

func (s *Service) addAppRoleLocked(ctx context.Context, req AppRoleRequest) domain.SagaOutcome {
	level, ok := externalLevel(req.Access)
	if !ok {
		return domain.OutcomeError(domain.StatusBadRequest, invalidAccessMsg)
	}
	if reservedAppRoles[strings.ToLower(req.AppRoleName)] {
		return domain.OutcomeError(domain.StatusForbidden,
			"Access denied: no permission to associate this AppRole to any IAM Service Account")
	}

	meta, err := s.accounts.GetMetadata(ctx, req.AccountID, req.Name)
	if err != nil {
		return domain.OutcomeError(domain.StatusBadRequest, err.Error())
	}

	revert, fail := s.replacePrincipalPolicy(ctx, domain.KindAppRole, req.AppRoleName, level, req.AccountID, req.Name,
		"Approle configuration failed. Please try again")
	if fail != nil {
		return *fail
	}

	if meta.AppRoles == nil {
		meta.AppRoles = map[string]string{}
	}
	meta.AppRoles[req.AppRoleName] = strings.ToLower(req.Access)
	if err := s.accounts.WriteMetadata(ctx, meta); err != nil {
		revert(ctx)
		return domain.OutcomeError(domain.StatusInternalError,
			"Failed to add Approle to the IAM Service Account")
	}

	return domain.OutcomeOK("Approle successfully associated with IAM Service Account")
}

// RemoveAppRole strips the approle's permission on the account. An approle
// with no binding is removed as a no-op.
func (s *Service) RemoveAppRole(ctx context.Context, req AppRoleRequest) domain.SagaOutcome {
	caller, denied := s.authorizeOwner(ctx, req.AccountID, req.Name,
		"Access denied: No permission to remove approle from Service Account")
	if denied != nil {
		return *denied
	}

	unlock := s.locks.Lock(domain.UniqueName(req.AccountID, req.Name))
	defer unlock()

	out := s.removeAppRoleLocked(ctx, req)
	s.record(ctx, caller.Name, "remove_approle_permission", domain.UniqueName(req.AccountID, req.Name), out)
	return out
}

func (s *Service) removeAppRoleLocked(ctx context.Context, req AppRoleRequest) domain.SagaOutcome {
	if reservedAppRoles[strings.ToLower(req.AppRoleName)] {
		return domain.OutcomeError(domain.StatusForbidden,
			"Access denied: no permission to remove this AppRole to any Service Account")
	}

	meta, err := s.accounts.GetMetadata(ctx, req.AccountID, req.Name)
	if err != nil {
		return domain.OutcomeError(domain.StatusBadRequest, err.Error())
	}

	revert, fail := s.stripPrincipalPolicies(ctx, domain.KindAppRole, req.AppRoleName, req.AccountID, req.Name,
		"Approle configuration failed. Please try again")
	if fail != nil {
		return *fail
	}

	delete(meta.AppRoles, req.AppRoleName)
	if err := s.accounts.WriteMetadata(ctx, meta); err != nil {
		revert(ctx)
		return domain.OutcomeError(domain.StatusInternalError,
			"Failed to remove approle from the Service Account")
	}

	return domain.OutcomeOK("Approle is successfully removed(if existed) from IAM Service Account")
}

// AddAWSRole attaches the account's capability policy to a cloud-IAM role.
func (s *Service) AddAWSRole(ctx context.Context, req AWSRoleRequest) domain.SagaOutcome {
	caller, denied := s.authorizeOwner(ctx, req.AccountID, req.Name,
		"Access denied: No permission to add AWS Role to this IAM service account")
	if denied != nil {
		return *denied
	}

	unlock := s.locks.Lock(domain.UniqueName(req.AccountID, req.Name))
	defer unlock()

	out := s.addAWSRoleLocked(ctx, req)
	s.record(ctx, caller.Name, "add_aws_role_permission", domain.UniqueName(req.AccountID, req.Name), out)
	return out
}

func (s *Service) addAWSRoleLocked(ctx context.Context, req AWSRoleRequest) domain.SagaOutcome {
	level, ok := externalLevel(req.Access)
	if !ok {
		return domain.OutcomeError(domain.StatusBadRequest, invalidAccessMsg)
	}

	meta, err := s.accounts.GetMetadata(ctx, req.AccountID, req.Name)
	if err != nil {
		return domain.OutcomeError(domain.StatusBadRequest, err.Error())
	}

	role := strings.ToLower(req.RoleName)
	revert, fail := s.replaceCloudRolePolicy(ctx, role, level, req.AccountID, req.Name)
	if fail != nil {
		return *fail
	}

	if meta.AWSRoles == nil {
		meta.AWSRoles = map[string]string{}
	}
	meta.AWSRoles[role] = strings.ToLower(req.Access)
	if err := s.accounts.WriteMetadata(ctx, meta); err != nil {
		revert(ctx)
		return domain.OutcomeError(domain.StatusInternalError,
			"AWS Role configuration failed. Please try again")
	}

	return domain.OutcomeOK("AWS Role successfully associated with IAM Service Account")
}

// RemoveAWSRole detaches the account's capability policy from a cloud-IAM
// role.
func (s *Service) RemoveAWSRole(ctx context.Context, req AWSRoleRequest) domain.SagaOutcome {
	caller, denied := s.authorizeOwner(ctx, req.AccountID, req.Name,
		"Access denied: No permission to remove AWS Role from IAM Service Account")
	if denied != nil {
		return *denied
	}

	unlock := s.locks.Lock(domain.UniqueName(req.AccountID, req.Name))
	defer unlock()

	out := s.removeAWSRoleLocked(ctx, req)
	s.record(ctx, caller.Name, "remove_aws_role_permission", domain.UniqueName(req.AccountID, req.Name), out)
	return out
}

func (s *Service) removeAWSRoleLocked(ctx context.Context, req AWSRoleRequest) domain.SagaOutcome {
	meta, err := s.accounts.GetMetadata(ctx, req.AccountID, req.Name)
	if err != nil {
		return domain.OutcomeError(domain.StatusBadRequest, err.Error())
	}

	role := strings.ToLower(req.RoleName)
	status, current, authType, err := s.cloud.ReadRole(ctx, role)
	if err != nil || status == http.StatusNotFound {
		return domain.OutcomeError(domain.StatusBadRequest,
			"Either AWS role doesn't exist or you don't have enough permission to remove this AWS role from IAM Service account")
	}
	if status != http.StatusOK {
		s.logger.Error("read aws role failed", "role", role, "status", status)
		return domain.OutcomeError(domain.StatusInternalError,
			"AWS Role configuration failed. Please try again")
	}

	kept, changed := domain.RemoveAccountPolicies(current, req.AccountID, req.Name)
	if changed {
		if status, err := s.cloud.ConfigureRole(ctx, role, kept, authType); err != nil || !dirOK(status) {
			s.logger.Error("configure aws role failed", "role", role, "status", status, "error", err)
			return domain.OutcomeError(domain.StatusInternalError,
				"AWS Role configuration failed. Please try again")
		}
	}

	delete(meta.AWSRoles, role)
	if err := s.accounts.WriteMetadata(ctx, meta); err != nil {
		if changed {
			if status, err := s.cloud.ConfigureRole(ctx, role, current, authType); err != nil || !dirOK(status) {
				s.logger.Error("revert aws role failed", "role", role, "status", status, "error", err)
			}
		}
		return domain.OutcomeError(domain.StatusInternalError,
			"Failed to remove AWS Role from the IAM Service Account")
	}

	return domain.OutcomeOK("AWS Role is successfully removed from IAM Service Account")
}

// replaceCloudRolePolicy swaps the role's attached token for this account
// with one at the given level, preserving the role's recorded auth
// mechanism, and returns a revert that restores the previous set.
func (s *Service) replaceCloudRolePolicy(ctx context.Context, role string, level domain.Level, accountID, name string) (func(context.Context), *domain.SagaOutcome) {
	status, current, authType, err := s.cloud.ReadRole(ctx, role)
	if err != nil || status == http.StatusNotFound {
		out := domain.OutcomeError(domain.StatusBadRequest,
			"AWS role doesn't exist you don't have enough permission to add this AWS role to IAM Service account!")
		return nil, &out
	}
	if status != http.StatusOK {
		s.logger.Error("read aws role failed", "role", role, "status", status)
		out := domain.OutcomeError(domain.StatusInternalError,
			"AWS Role configuration failed. Please try again")
		return nil, &out
	}

	merged := domain.ReplaceAccountPolicy(current, level, accountID, name)
	if status, err := s.cloud.ConfigureRole(ctx, role, merged, authType); err != nil || !dirOK(status) {
		s.logger.Error("configure aws role failed", "role", role, "status", status, "error", err)
		out := domain.OutcomeError(domain.StatusInternalError,
			"AWS Role configuration failed. Please try again")
		return nil, &out
	}

	revert := func(ctx context.Context) {
		if status, err := s.cloud.ConfigureRole(ctx, role, current, authType); err != nil || !dirOK(status) {
			s.logger.Error("revert aws role failed", "role", role, "status", status, "error", err)
		}
	}
	return revert, nil
}
