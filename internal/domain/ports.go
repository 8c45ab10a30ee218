package domain

import (
	"context"
	"encoding/json"
	"time"
)

// SecretResponse is the result of a secret-store read: a status code plus
// the optional JSON body.
type SecretResponse struct {
	Status int
	Data   json.RawMessage
}

// SecretStore is the key/value backend holding secret leaves and metadata
// documents. Status values follow HTTP conventions (200/204 success, 404
// absent, 5xx backend failure).
type SecretStore interface {
	Read(ctx context.Context, path string) (SecretResponse, error)
	Write(ctx context.Context, path string, payload any) (int, error)
	Delete(ctx context.Context, path string) (int, error)
	List(ctx context.Context, path string) (int, []string, error)
}

// PrincipalKind selects the directory namespace a principal lives in.
type PrincipalKind string

const (
	KindUser    PrincipalKind = "user"
	KindGroup   PrincipalKind = "group"
	KindAppRole PrincipalKind = "approle"
)

// Directory abstracts the identity backend (LDAP- or OIDC-style) that holds
// each principal's policy set. Policies are raw policy names: a principal's
// set mixes account tokens with unrelated policies that must be preserved
// on update.
type Directory interface {
	GetPrincipalPolicies(ctx context.Context, kind PrincipalKind, id string) (int, []string, error)
	SetPrincipalPolicies(ctx context.Context, kind PrincipalKind, id string, policies []string) (int, error)
}

// RoleAuthType is the auth mechanism recorded for a bound cloud-IAM role.
type RoleAuthType string

const (
	AuthTypeIAM RoleAuthType = "iam"
	AuthTypeEC2 RoleAuthType = "ec2"
)

// CloudIAM mints, rotates and deletes cloud access keys for a service
// account, and reads/reconfigures the policy set attached to a cloud-IAM
// role.
type CloudIAM interface {
	CreateKey(ctx context.Context, accountID, name string) (AccessKey, error)
	// RotateKey returns replacement secret material for an existing key.
	// Backends that can re-secret a key pair keep the key id stable.
	RotateKey(ctx context.Context, accountID, name, keyID string) (AccessKey, error)
	DeleteKey(ctx context.Context, accountID, name, keyID string) (bool, error)
	ReadRole(ctx context.Context, role string) (int, []string, RoleAuthType, error)
	ConfigureRole(ctx context.Context, role string, policies []string, authType RoleAuthType) (int, error)
}

// PolicyStore creates and deletes named capability policies.
type PolicyStore interface {
	CreatePolicy(ctx context.Context, name string, rules string) (int, error)
	DeletePolicy(ctx context.Context, name string) (int, error)
}

// AuditEntry records one control-plane operation outcome.
type AuditEntry struct {
	ID            string
	PrincipalName string
	Action        string
	Account       string
	Status        string
	Detail        string
	CreatedAt     time.Time
}

// AuditRepository persists the audit trail.
type AuditRepository interface {
	Insert(ctx context.Context, e *AuditEntry) error
	List(ctx context.Context, account string, limit int) ([]AuditEntry, error)
}
