package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"tvault-control/internal/domain"
)

// UserBackend selects which auth backend holds human users' policy sets.
type UserBackend string

const (
	// BackendLDAP is the directory-server style backend; groups always
	// live here.
	BackendLDAP UserBackend = "ldap"
	// BackendUserpass is the local OIDC-style backend.
	BackendUserpass UserBackend = "userpass"
)

// Directory reads and writes principal policy sets through the store's auth
// backends. Updates are full replacements: callers are expected to
// read-merge-write so unrelated policies survive.
type Directory struct {
	client  *Client
	backend UserBackend
}

// NewDirectory creates a Directory over the given client. backend selects
// where user principals live; groups and approles have fixed mounts.
func NewDirectory(client *Client, backend UserBackend) (*Directory, error) {
	switch backend {
	case BackendLDAP, BackendUserpass:
		return &Directory{client: client, backend: backend}, nil
	}
	return nil, fmt.Errorf("unknown user auth backend %q", backend)
}

func (d *Directory) path(kind domain.PrincipalKind, id string) (string, error) {
	switch kind {
	case domain.KindUser:
		if d.backend == BackendUserpass {
			return "auth/userpass/users/" + id, nil
		}
		return "auth/ldap/users/" + id, nil
	case domain.KindGroup:
		return "auth/ldap/groups/" + id, nil
	case domain.KindAppRole:
		return "auth/approle/role/" + id, nil
	}
	return "", fmt.Errorf("unknown principal kind %q", kind)
}

type principalDoc struct {
	Policies      flexiblePolicies `json:"policies"`
	TokenPolicies flexiblePolicies `json:"token_policies"`
}

// flexiblePolicies accepts both the list and the comma-separated string
// form the auth backends return.
type flexiblePolicies []string

func (p *flexiblePolicies) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*p = list
		return nil
	}
	var joined string
	if err := json.Unmarshal(data, &joined); err != nil {
		return err
	}
	if joined == "" {
		*p = nil
		return nil
	}
	parts := strings.Split(joined, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	*p = parts
	return nil
}

// GetPrincipalPolicies returns the principal's current policy names. An
// unknown principal yields 404 with no policies.
func (d *Directory) GetPrincipalPolicies(ctx context.Context, kind domain.PrincipalKind, id string) (int, []string, error) {
	path, err := d.path(kind, id)
	if err != nil {
		return 0, nil, err
	}
	status, body, err := d.client.do(ctx, http.MethodGet, path, nil)
	if err != nil || status != http.StatusOK {
		return status, nil, err
	}
	var env struct {
		Data principalDoc `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return status, nil, fmt.Errorf("decode %s %s policies: %w", kind, id, err)
	}
	policies := env.Data.Policies
	if kind == domain.KindAppRole {
		policies = env.Data.TokenPolicies
	}
	return status, policies, nil
}

// SetPrincipalPolicies replaces the principal's policy set.
func (d *Directory) SetPrincipalPolicies(ctx context.Context, kind domain.PrincipalKind, id string, policies []string) (int, error) {
	path, err := d.path(kind, id)
	if err != nil {
		return 0, err
	}
	field := "policies"
	if kind == domain.KindAppRole {
		field = "token_policies"
	}
	payload := map[string]string{field: strings.Join(policies, ",")}
	status, _, err := d.client.do(ctx, http.MethodPost, path, payload)
	return status, err
}
