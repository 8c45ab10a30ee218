package vault

import (
	"context"
	"encoding/json"
	"net/http"

	"tvault-control/internal/domain"
)

// Read fetches one secret or metadata path. A missing path yields status
// 404 with no body, not an error.
func (c *Client) Read(ctx context.Context, path string) (domain.SecretResponse, error) {
	status, body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return domain.SecretResponse{}, err
	}
	resp := domain.SecretResponse{Status: status}
	if status == http.StatusOK {
		var env kvEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			return domain.SecretResponse{}, err
		}
		resp.Data = env.Data
	}
	return resp, nil
}

// Write stores a JSON document at path.
func (c *Client) Write(ctx context.Context, path string, payload any) (int, error) {
	status, _, err := c.do(ctx, http.MethodPost, path, payload)
	return status, err
}

// Delete removes the document at path.
func (c *Client) Delete(ctx context.Context, path string) (int, error) {
	status, _, err := c.do(ctx, http.MethodDelete, path, nil)
	return status, err
}

// List returns the keys directly under path.
func (c *Client) List(ctx context.Context, path string) (int, []string, error) {
	status, body, err := c.do(ctx, "LIST", path, nil)
	if err != nil {
		return status, nil, err
	}
	if status != http.StatusOK {
		return status, nil, nil
	}
	var env listEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return status, nil, err
	}
	return status, env.Data.Keys, nil
}

// CreatePolicy writes a named capability policy.
func (c *Client) CreatePolicy(ctx context.Context, name string, rules string) (int, error) {
	status, _, err := c.do(ctx, http.MethodPut, "sys/policies/acl/"+name, map[string]string{"policy": rules})
	return status, err
}

// DeletePolicy removes a named capability policy. Deleting an absent policy
// is a success at the store.
func (c *Client) DeletePolicy(ctx context.Context, name string) (int, error) {
	status, _, err := c.do(ctx, http.MethodDelete, "sys/policies/acl/"+name, nil)
	return status, err
}
