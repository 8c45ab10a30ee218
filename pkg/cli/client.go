package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// APIError carries the HTTP status and the server's error strings.
type APIError struct {
	HTTPStatus int
	Errors     []string
}

func (e *APIError) Error() string {
	if len(e.Errors) > 0 {
		return strings.Join(e.Errors, "; ")
	}
	return fmt.Sprintf("request failed with status %d", e.HTTPStatus)
}

// Client is a thin HTTP client for the control-plane API.
type Client struct {
	host  string
	token string
	http  *http.Client
}

// NewClient creates a Client for the given host and bearer token.
func NewClient(host, token string) *Client {
	return &Client{
		host:  strings.TrimRight(host, "/"),
		token: token,
		http:  &http.Client{Timeout: 60 * time.Second},
	}
}

// outcome mirrors the server's operation result body.
type outcome struct {
	Messages []string `json:"messages"`
	Errors   []string `json:"errors"`
}

// do sends one request and decodes the JSON response into out (when out is
// non-nil). Statuses outside 2xx and 207 become an APIError.
func (c *Client) do(method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, c.host+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300 || resp.StatusCode == http.StatusMultiStatus
	if !ok {
		apiErr := &APIError{HTTPStatus: resp.StatusCode}
		var o outcome
		if json.Unmarshal(raw, &o) == nil {
			apiErr.Errors = o.Errors
		}
		return apiErr
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
