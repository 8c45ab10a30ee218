package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"tvault-control/internal/domain"
	"tvault-control/internal/locks"
	"tvault-control/internal/repository"
	"tvault-control/internal/service/access"
	"tvault-control/internal/service/permission"
)

// Service orchestrates onboarding, activation and offboarding of service
// accounts across the secret store, policy store, directory and cloud IAM.
type Service struct {
	accounts *repository.AccountRepo
	policies domain.PolicyStore
	dir      domain.Directory
	cloud    domain.CloudIAM
	perms    *permission.Service
	eval     *access.Evaluator
	locks    *locks.Keyed
	audit    domain.AuditRepository
	logger   *slog.Logger
}

// NewService creates a lifecycle Service.
func NewService(accounts *repository.AccountRepo, policies domain.PolicyStore, dir domain.Directory, cloud domain.CloudIAM, perms *permission.Service, eval *access.Evaluator, keyed *locks.Keyed, audit domain.AuditRepository, logger *slog.Logger) *Service {
	return &Service{
		accounts: accounts,
		policies: policies,
		dir:      dir,
		cloud:    cloud,
		perms:    perms,
		eval:     eval,
		locks:    keyed,
		audit:    audit,
		logger:   logger.With("component", "lifecycle"),
	}
}

func dirOK(status int) bool {
	return status == http.StatusOK || status == http.StatusNoContent
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

// policyRules renders the store-side ACL rules for one capability policy.
// Read, write and deny act on the account's secret leaves; owner also
// covers the metadata document.
func policyRules(level domain.Level, accountID, name string) string {
	secrets := domain.SecretMount + domain.UniqueName(accountID, name) + "/*"
	metadata := domain.MetadataPath(accountID, name)
	switch level {
	case domain.LevelRead:
		return fmt.Sprintf("path %q { capabilities = [\"read\"] }", secrets)
	case domain.LevelWrite:
		return fmt.Sprintf("path %q { capabilities = [\"read\", \"create\", \"update\", \"delete\"] }", secrets)
	case domain.LevelDeny:
		return fmt.Sprintf("path %q { capabilities = [\"deny\"] }", secrets)
	default:
		return fmt.Sprintf("path %q { capabilities = [\"read\", \"create\", \"update\", \"delete\", \"sudo\"] }\npath %q { capabilities = [\"read\", \"update\"] }", secrets, metadata)
	}
}
