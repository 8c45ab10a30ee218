package lifecycle

import (
	"context"
	"slices"
	"strings"
	"time"

	"tvault-control/internal/domain"
	"tvault-control/internal/service/permission"
)

// Onboard registers a new service account: metadata document, the four
// capability policies, the owner's directory binding and, optionally, a
// rotate-only self-support group binding. Once the full metadata write has
// succeeded, any fatal failure deletes both the metadata and every policy
// already created, so a failed onboarding never leaves a half-registered
// account behind.
func (s *Service) Onboard(ctx context.Context, req domain.ServiceAccount) domain.SagaOutcome {
	// Rejected before anything else runs, including authorization.
	if req.SelfSupportGroup != "" && !strings.EqualFold(req.GroupAccess, domain.AccessRotate) {
		return domain.OutcomeError(domain.StatusBadRequest,
			"Failed to add group permission to IAM Service account. Only Rotate permissions can be added to the self support group as part of Onboard.")
	}

	caller, ok := domain.PrincipalFromContext(ctx)
	if !ok || !caller.IsAdmin() {
		return domain.OutcomeError(domain.StatusForbidden,
			"Access denied. Not authorized to perform onboarding for IAM service accounts.")
	}

	unique := req.UniqueName()
	unlock := s.locks.Lock(unique)
	defer unlock()

	out := s.onboardLocked(ctx, req)
	s.record(ctx, caller.Name, "onboard_account", unique, out)
	return out
}

func (s *Service) onboardLocked(ctx context.Context, req domain.ServiceAccount) domain.SagaOutcome {
	unique := req.UniqueName()

	var createdPolicies []string
	var ownerPoliciesBefore []string

	run := &saga{logger: s.logger, steps: []step{
		{
			name: "check uniqueness",
			run: func(ctx context.Context) *failure {
				onboarded, err := s.accounts.ListOnboarded(ctx)
				if err != nil {
					return fail(domain.StatusInternalError, err.Error())
				}
				if slices.Contains(onboarded, unique) {
					return fail(domain.StatusConflict,
						"Failed to onboard IAM Service Account. IAM Service account is already onboarded")
				}
				return nil
			},
		},
		{
			name: "validate secret payload",
			run: func(ctx context.Context) *failure {
				if !validKeyRefs(req.AccessKeys) {
					return fail(domain.StatusBadRequest,
						"Failed to onboard IAM service account. Invalid secret data in request.")
				}
				return nil
			},
		},
		{
			name: "write placeholder metadata",
			run: func(ctx context.Context) *failure {
				placeholder := &domain.Metadata{Name: strings.ToLower(req.Name), AccountID: req.AccountID}
				if err := s.accounts.WriteMetadata(ctx, placeholder); err != nil {
					return fail(domain.StatusInternalError, err.Error())
				}
				return nil
			},
			compensate: func(ctx context.Context) {
				if err := s.accounts.DeleteMetadata(ctx, req.AccountID, req.Name); err != nil {
					s.logger.Error("rollback metadata delete failed", "account", unique, "error", err)
				}
			},
		},
		{
			name: "write metadata",
			run: func(ctx context.Context) *failure {
				meta := &domain.Metadata{
					Name:           strings.ToLower(req.Name),
					AccountID:      req.AccountID,
					CreatedAtEpoch: time.Now().UnixMilli(),
					OwnerNTID:      req.Owner.NTID,
					OwnerEmail:     req.Owner.Email,
					ApplicationID:  req.Application.ID,
					AppName:        req.Application.Name,
					AppTag:         req.Application.Tag,
					State:          domain.StatePending,
					AccessKeys:     req.AccessKeys,
					Users:          map[string]string{req.Owner.NTID: domain.AccessSudo},
				}
				if err := s.accounts.WriteMetadata(ctx, meta); err != nil {
					return fail(domain.StatusInternalError, err.Error())
				}
				return nil
			},
		},
		{
			name: "create policies",
			run: func(ctx context.Context) *failure {
				for _, level := range []domain.Level{domain.LevelRead, domain.LevelWrite, domain.LevelDeny, domain.LevelOwner} {
					token := domain.AccountToken(level, req.AccountID, req.Name)
					status, err := s.policies.CreatePolicy(ctx, token.String(), policyRules(level, req.AccountID, req.Name))
					if err != nil || !dirOK(status) {
						s.logger.Error("policy creation failed", "policy", token.String(), "status", status, "error", err)
						return fail(domain.StatusInternalError,
							"Failed to onboard IAM service account. Policy creation failed.")
					}
					createdPolicies = append(createdPolicies, token.String())
				}
				return nil
			},
			compensate: func(ctx context.Context) {
				s.deletePoliciesQuietly(ctx, createdPolicies)
			},
		},
		{
			name: "bind owner",
			run: func(ctx context.Context) *failure {
				status, current, err := s.dir.GetPrincipalPolicies(ctx, domain.KindUser, req.Owner.NTID)
				if err != nil || (!dirOK(status) && status != 404) {
					return fail(domain.StatusInternalError,
						"Failed to onboard IAM service account. Association of owner permission failed")
				}
				ownerPoliciesBefore = current
				merged := domain.ReplaceAccountPolicy(current, domain.LevelOwner, req.AccountID, req.Name)
				if status, err := s.dir.SetPrincipalPolicies(ctx, domain.KindUser, req.Owner.NTID, merged); err != nil || !dirOK(status) {
					return fail(domain.StatusInternalError,
						"Failed to onboard IAM service account. Association of owner permission failed")
				}
				return nil
			},
			compensate: func(ctx context.Context) {
				if status, err := s.dir.SetPrincipalPolicies(ctx, domain.KindUser, req.Owner.NTID, ownerPoliciesBefore); err != nil || !dirOK(status) {
					s.logger.Error("rollback owner policies failed", "owner", req.Owner.NTID, "status", status, "error", err)
				}
			},
		},
		{
			name:              "bind self-support group",
			continueOnFailure: true,
			run: func(ctx context.Context) *failure {
				if req.SelfSupportGroup == "" {
					return nil
				}
				out := s.perms.AddGroup(ctx, permission.GroupRequest{
					AccountID: req.AccountID,
					Name:      req.Name,
					GroupName: req.SelfSupportGroup,
					Access:    domain.AccessRotate,
				}, true)
				if !out.Succeeded() {
					return fail(domain.StatusOK,
						"Successfully completed onboarding of IAM service account. But failed to add write permission to "+req.SelfSupportGroup)
				}
				return nil
			},
		},
	}}

	warnings, f := run.execute(ctx)
	if f != nil {
		return domain.OutcomeError(f.status, f.message)
	}
	if len(warnings) > 0 {
		return domain.SagaOutcome{Status: domain.StatusOK, Messages: warnings}
	}
	return domain.OutcomeOK("Successfully completed onboarding of IAM service account")
}

// validKeyRefs accepts a non-empty list of at most MaxAccessKeys refs with
// unique, non-empty key ids and non-zero expiries.
func validKeyRefs(refs []domain.AccessKeyRef) bool {
	if len(refs) == 0 || len(refs) > domain.MaxAccessKeys {
		return false
	}
	seen := map[string]bool{}
	for _, ref := range refs {
		if ref.AccessKeyID == "" || ref.Expiry == 0 || seen[ref.AccessKeyID] {
			return false
		}
		seen[ref.AccessKeyID] = true
	}
	return true
}

func (s *Service) deletePoliciesQuietly(ctx context.Context, names []string) {
	for _, name := range names {
		if status, err := s.policies.DeletePolicy(ctx, name); err != nil || !dirOK(status) {
			s.logger.Error("rollback policy delete failed", "policy", name, "status", status, "error", err)
		}
	}
}
