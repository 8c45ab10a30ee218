package vault

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"tvault-control/internal/domain"
)

// awsRolePath is the auth mount holding cloud-IAM role bindings.
const awsRolePath = "auth/aws/role/"

// ReadAWSRole returns the policies and recorded auth mechanism of a bound
// cloud-IAM role.
func (c *Client) ReadAWSRole(ctx context.Context, role string) (int, []string, domain.RoleAuthType, error) {
	status, body, err := c.do(ctx, http.MethodGet, awsRolePath+role, nil)
	if err != nil || status != http.StatusOK {
		return status, nil, "", err
	}
	var env struct {
		Data struct {
			AuthType string           `json:"auth_type"`
			Policies flexiblePolicies `json:"policies"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return status, nil, "", err
	}
	return status, env.Data.Policies, domain.RoleAuthType(env.Data.AuthType), nil
}

// ConfigureAWSRole replaces the policy set attached to a cloud-IAM role,
// preserving its recorded auth mechanism.
func (c *Client) ConfigureAWSRole(ctx context.Context, role string, policies []string, authType domain.RoleAuthType) (int, error) {
	payload := map[string]string{
		"auth_type": string(authType),
		"policies":  strings.Join(policies, ","),
	}
	status, _, err := c.do(ctx, http.MethodPost, awsRolePath+role, payload)
	return status, err
}
