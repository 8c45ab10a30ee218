// Package vault is the HTTP client for the secret-store backend. It
// implements the SecretStore and PolicyStore ports, and (in directory.go)
// the Directory port over the store's auth backends.
package vault

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Client talks to a single secret-store server. All requests carry the
// client token and apply the configured timeout; no retries are performed.
type Client struct {
	addr      string
	token     string
	namespace string
	http      *http.Client
	logger    *slog.Logger
}

// New creates a Client for the given server address and client token.
func New(addr, token string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		addr:   strings.TrimRight(addr, "/"),
		token:  token,
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// WithNamespace scopes every request to the given namespace via the
// X-Vault-Namespace header. An empty namespace leaves requests unscoped.
func (c *Client) WithNamespace(ns string) *Client {
	c.namespace = ns
	return c
}

// kvEnvelope is the store's response envelope for key/value reads.
type kvEnvelope struct {
	Data json.RawMessage `json:"data"`
}

type listEnvelope struct {
	Data struct {
		Keys []string `json:"keys"`
	} `json:"data"`
}

// do performs one request against the store's v1 API and returns the status
// code plus the raw response body.
func (c *Client) do(ctx context.Context, method, path string, payload any) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal %s %s payload: %w", method, path, err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.addr+"/v1/"+strings.TrimLeft(path, "/"), body)
	if err != nil {
		return 0, nil, fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("X-Vault-Token", c.token)
	if c.namespace != "" {
		req.Header.Set("X-Vault-Namespace", c.namespace)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read %s %s response: %w", method, path, err)
	}

	c.logger.Debug("secret store call", "method", method, "path", path, "status", resp.StatusCode)
	return resp.StatusCode, respBody, nil
}
