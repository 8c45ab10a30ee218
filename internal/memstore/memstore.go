// Package memstore is an in-memory secret-store backend implementing the
// SecretStore, PolicyStore and Directory ports. It backs local development
// and tests; failure statuses can be injected per operation and path.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"tvault-control/internal/domain"
)

// Store is an in-memory SecretStore and PolicyStore.
type Store struct {
	mu       sync.Mutex
	docs     map[string]json.RawMessage
	policies map[string]string
	fail     map[string]int

	// Calls records every operation in "OP path" form, in order.
	Calls []string
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		docs:     make(map[string]json.RawMessage),
		policies: make(map[string]string),
		fail:     make(map[string]int),
	}
}

// FailWith makes the given operation ("read", "write", "delete", "list",
// "policy-create", "policy-delete") on path return the status instead of
// succeeding.
func (s *Store) FailWith(op, path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[op+" "+path] = status
}

func (s *Store) record(op, path string) (int, bool) {
	s.Calls = append(s.Calls, op+" "+path)
	status, ok := s.fail[op+" "+path]
	return status, ok
}

// Read returns the stored document at path, or 404.
func (s *Store) Read(ctx context.Context, path string) (domain.SecretResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status, ok := s.record("read", path); ok {
		return domain.SecretResponse{Status: status}, nil
	}
	doc, ok := s.docs[path]
	if !ok {
		return domain.SecretResponse{Status: http.StatusNotFound}, nil
	}
	return domain.SecretResponse{Status: http.StatusOK, Data: doc}, nil
}

// Write stores the JSON encoding of payload at path.
func (s *Store) Write(ctx context.Context, path string, payload any) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status, ok := s.record("write", path); ok {
		return status, nil
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal %s: %w", path, err)
	}
	s.docs[path] = buf
	return http.StatusNoContent, nil
}

// Delete removes the document at path; deleting an absent path still
// succeeds, as the real backend does.
func (s *Store) Delete(ctx context.Context, path string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status, ok := s.record("delete", path); ok {
		return status, nil
	}
	delete(s.docs, path)
	return http.StatusNoContent, nil
}

// List returns the keys directly under path.
func (s *Store) List(ctx context.Context, path string) (int, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status, ok := s.record("list", path); ok {
		return status, nil, nil
	}
	prefix := strings.TrimRight(path, "/") + "/"
	seen := map[string]bool{}
	for p := range s.docs {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := strings.TrimPrefix(p, prefix)
		if i := strings.Index(rest, "/"); i >= 0 {
			rest = rest[:i] + "/"
		}
		seen[rest] = true
	}
	if len(seen) == 0 {
		return http.StatusNotFound, nil, nil
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return http.StatusOK, keys, nil
}

// CreatePolicy stores a named policy.
func (s *Store) CreatePolicy(ctx context.Context, name string, rules string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status, ok := s.record("policy-create", name); ok {
		return status, nil
	}
	s.policies[name] = rules
	return http.StatusNoContent, nil
}

// DeletePolicy removes a named policy; absent policies delete cleanly.
func (s *Store) DeletePolicy(ctx context.Context, name string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status, ok := s.record("policy-delete", name); ok {
		return status, nil
	}
	delete(s.policies, name)
	return http.StatusNoContent, nil
}

// HasPolicy reports whether a named policy exists.
func (s *Store) HasPolicy(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.policies[name]
	return ok
}

// Doc returns the raw stored document at path, if present.
func (s *Store) Doc(path string) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[path]
	return doc, ok
}

// Directory is an in-memory Directory implementation.
type Directory struct {
	mu       sync.Mutex
	policies map[string][]string
	fail     map[string]int
}

// NewDirectory creates an empty Directory.
func NewDirectory() *Directory {
	return &Directory{
		policies: make(map[string][]string),
		fail:     make(map[string]int),
	}
}

func dirKey(kind domain.PrincipalKind, id string) string {
	return string(kind) + "/" + id
}

// Seed sets a principal's policy set.
func (d *Directory) Seed(kind domain.PrincipalKind, id string, policies ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.policies[dirKey(kind, id)] = policies
}

// FailWith makes the given operation ("get" or "set") on the principal
// return the status.
func (d *Directory) FailWith(op string, kind domain.PrincipalKind, id string, status int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail[op+" "+dirKey(kind, id)] = status
}

// Policies returns the principal's current policy set.
func (d *Directory) Policies(kind domain.PrincipalKind, id string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.policies[dirKey(kind, id)]...)
}

// GetPrincipalPolicies implements domain.Directory.
func (d *Directory) GetPrincipalPolicies(ctx context.Context, kind domain.PrincipalKind, id string) (int, []string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if status, ok := d.fail["get "+dirKey(kind, id)]; ok {
		return status, nil, nil
	}
	policies, ok := d.policies[dirKey(kind, id)]
	if !ok {
		return http.StatusNotFound, nil, nil
	}
	return http.StatusOK, append([]string(nil), policies...), nil
}

// SetPrincipalPolicies implements domain.Directory.
func (d *Directory) SetPrincipalPolicies(ctx context.Context, kind domain.PrincipalKind, id string, policies []string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if status, ok := d.fail["set "+dirKey(kind, id)]; ok {
		return status, nil
	}
	d.policies[dirKey(kind, id)] = append([]string(nil), policies...)
	return http.StatusNoContent, nil
}
