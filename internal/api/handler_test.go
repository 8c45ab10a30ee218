package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tvault-control/internal/domain"
	"tvault-control/internal/locks"
	"tvault-control/internal/memstore"
	"tvault-control/internal/middleware"
	"tvault-control/internal/repository"
	"tvault-control/internal/service/access"
	"tvault-control/internal/service/credential"
	"tvault-control/internal/service/lifecycle"
	"tvault-control/internal/service/permission"
)

const apiTestSecret = "api-test-secret-32-bytes-xxxxxx"

type testEnv struct {
	server *httptest.Server
	store  *memstore.Store
	dir    *memstore.Directory
	cloud  *fakeCloudIAM
	audit  *fakeAudit
}

func setupServer(t *testing.T) *testEnv {
	t.Helper()

	store := memstore.New()
	dir := memstore.NewDirectory()
	repo := repository.NewAccountRepo(store)
	eval := access.NewEvaluator()
	keyed := locks.NewKeyed()
	audit := &fakeAudit{}
	cloud := &fakeCloudIAM{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	perms := permission.NewService(repo, dir, cloud, eval, keyed, audit, logger)
	lc := lifecycle.NewService(repo, store, dir, cloud, perms, eval, keyed, audit, logger)
	keys := credential.NewKeyService(repo, cloud, eval, keyed, audit, logger)

	h := NewHandler(lc, keys, perms, repo, audit, logger)

	validator, err := middleware.NewHS256Validator(apiTestSecret)
	require.NoError(t, err)

	server := httptest.NewServer(NewRouter(h, RouterConfig{Validator: validator}))
	t.Cleanup(server.Close)

	return &testEnv{server: server, store: store, dir: dir, cloud: cloud, audit: audit}
}

// mintToken builds an HS256 JWT for the given user carrying the policy set.
func mintToken(t *testing.T, sub string, policies ...string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":      sub,
		"policies": policies,
		"exp":      time.Now().Add(time.Hour).Unix(),
	})
	signed, err := tok.SignedString([]byte(apiTestSecret))
	require.NoError(t, err)
	return signed
}

func adminToken(t *testing.T) string {
	return mintToken(t, "ops1", "o_iamportal_admin")
}

// do sends a JSON request with the given bearer token and decodes the body.
func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) (int, map[string]interface{}) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded), "body: %s", raw)
	}
	return resp.StatusCode, decoded
}

func onboardBody() domain.ServiceAccount {
	return domain.ServiceAccount{
		AccountID: "1234567",
		Name:      "testaccount",
		Owner:     domain.Owner{NTID: "normaluser", Email: "normaluser@example.com"},
		AccessKeys: []domain.AccessKeyRef{
			{AccessKeyID: "AKIAINIT1", Expiry: 1893456000000},
		},
	}
}

func (e *testEnv) onboard(t *testing.T) {
	t.Helper()
	status, body := e.do(t, http.MethodPost, "/v2/iamserviceaccounts/onboard", adminToken(t), onboardBody())
	require.Equal(t, http.StatusOK, status, "onboard: %v", body)
}

func messages(body map[string]interface{}) []interface{} {
	msgs, _ := body["messages"].([]interface{})
	return msgs
}

func errorsOf(body map[string]interface{}) []interface{} {
	errs, _ := body["errors"].([]interface{})
	return errs
}

func TestHealth_NoAuth(t *testing.T) {
	env := setupServer(t)

	resp, err := http.Get(env.server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPI_RequiresToken(t *testing.T) {
	env := setupServer(t)

	status, _ := env.do(t, http.MethodGet, "/v2/iamserviceaccounts/", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestOnboardAndList(t *testing.T) {
	env := setupServer(t)
	env.onboard(t)

	status, body := env.do(t, http.MethodGet, "/v2/iamserviceaccounts/", adminToken(t), nil)
	require.Equal(t, http.StatusOK, status)
	keys, ok := body["keys"].([]interface{})
	require.True(t, ok)
	assert.Contains(t, keys, "1234567_testaccount")
}

func TestOnboard_Forbidden(t *testing.T) {
	env := setupServer(t)

	status, body := env.do(t, http.MethodPost, "/v2/iamserviceaccounts/onboard",
		mintToken(t, "normaluser", "default"), onboardBody())

	require.Equal(t, http.StatusForbidden, status)
	assert.Contains(t, errorsOf(body), "Access denied. Not authorized to perform onboarding for IAM service accounts.")
}

func TestOnboard_Duplicate(t *testing.T) {
	env := setupServer(t)
	env.onboard(t)

	status, _ := env.do(t, http.MethodPost, "/v2/iamserviceaccounts/onboard", adminToken(t), onboardBody())
	assert.Equal(t, http.StatusConflict, status)
}

func TestOnboard_MalformedBody(t *testing.T) {
	env := setupServer(t)

	req, err := http.NewRequest(http.MethodPost, env.server.URL+"/v2/iamserviceaccounts/onboard",
		bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+adminToken(t))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestActivateAndKeys(t *testing.T) {
	env := setupServer(t)
	env.onboard(t)

	ref := map[string]string{"awsAccountId": "1234567", "iamSvcAccName": "testaccount"}
	status, body := env.do(t, http.MethodPost, "/v2/iamserviceaccounts/activate", adminToken(t), ref)
	require.Equal(t, http.StatusOK, status, "activate: %v", body)
	assert.Contains(t, messages(body), "IAM Service account activated successfully")

	// Second key slot is free after onboarding with one key.
	status, body = env.do(t, http.MethodPost, "/v2/iamserviceaccounts/1234567/testaccount/keys", adminToken(t), nil)
	require.Equal(t, http.StatusOK, status, "create key: %v", body)
	created, ok := body["accessKey"].(map[string]interface{})
	require.True(t, ok)
	keyID, _ := created["accessKeyId"].(string)
	require.NotEmpty(t, keyID)

	// Both slots taken now.
	status, _ = env.do(t, http.MethodPost, "/v2/iamserviceaccounts/1234567/testaccount/keys", adminToken(t), nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = env.do(t, http.MethodPut, "/v2/iamserviceaccounts/1234567/testaccount/keys/"+keyID, adminToken(t), nil)
	require.Equal(t, http.StatusOK, status, "rotate: %v", body)
	assert.Contains(t, messages(body), "IAM Service account secret rotated successfully")

	// Activation rotated the onboarding key into AKIAGEN1; free its slot.
	status, body = env.do(t, http.MethodDelete, "/v2/iamserviceaccounts/1234567/testaccount/keys/AKIAGEN1", adminToken(t), nil)
	require.Equal(t, http.StatusOK, status, "delete: %v", body)
	assert.Contains(t, messages(body), "IAM Service account access key deleted successfully")
}

func TestPermissionEndpoints(t *testing.T) {
	env := setupServer(t)
	env.onboard(t)

	ref := map[string]string{"awsAccountId": "1234567", "iamSvcAccName": "testaccount"}
	status, _ := env.do(t, http.MethodPost, "/v2/iamserviceaccounts/activate", adminToken(t), ref)
	require.Equal(t, http.StatusOK, status)

	ownerTok := mintToken(t, "normaluser", "o_iamsvcacc_1234567_testaccount")
	userReq := map[string]string{
		"awsAccountId":  "1234567",
		"iamSvcAccName": "testaccount",
		"username":      "readuser",
		"access":        "read",
	}
	status, body := env.do(t, http.MethodPost, "/v2/iamserviceaccounts/user", ownerTok, userReq)
	require.Equal(t, http.StatusOK, status, "add user: %v", body)
	assert.Contains(t, messages(body), "Successfully added user to the IAM Service Account")
	assert.Contains(t, env.dir.Policies(domain.KindUser, "readuser"), "r_iamsvcacc_1234567_testaccount")

	status, body = env.do(t, http.MethodDelete, "/v2/iamserviceaccounts/user", ownerTok, userReq)
	require.Equal(t, http.StatusOK, status, "remove user: %v", body)

	groupReq := map[string]string{
		"awsAccountId":  "1234567",
		"iamSvcAccName": "testaccount",
		"groupname":     "group1",
		"access":        "write",
	}
	status, body = env.do(t, http.MethodPost, "/v2/iamserviceaccounts/group", ownerTok, groupReq)
	require.Equal(t, http.StatusOK, status, "add group: %v", body)

	status, _ = env.do(t, http.MethodDelete, "/v2/iamserviceaccounts/group", ownerTok, groupReq)
	require.Equal(t, http.StatusOK, status)
}

func TestRolePermissionEndpoints(t *testing.T) {
	env := setupServer(t)
	env.onboard(t)

	ref := map[string]string{"awsAccountId": "1234567", "iamSvcAccName": "testaccount"}
	status, _ := env.do(t, http.MethodPost, "/v2/iamserviceaccounts/activate", adminToken(t), ref)
	require.Equal(t, http.StatusOK, status)

	ownerTok := mintToken(t, "normaluser", "o_iamsvcacc_1234567_testaccount")

	appRoleReq := map[string]string{
		"awsAccountId":  "1234567",
		"iamSvcAccName": "testaccount",
		"approlename":   "deployer",
		"access":        "read",
	}
	status, body := env.do(t, http.MethodPost, "/v2/iamserviceaccounts/approle", ownerTok, appRoleReq)
	require.Equal(t, http.StatusOK, status, "add approle: %v", body)
	assert.Contains(t, messages(body), "Approle successfully associated with IAM Service Account")
	assert.Contains(t, env.dir.Policies(domain.KindAppRole, "deployer"), "r_iamsvcacc_1234567_testaccount")

	status, _ = env.do(t, http.MethodDelete, "/v2/iamserviceaccounts/approle", ownerTok, appRoleReq)
	require.Equal(t, http.StatusOK, status)

	env.cloud.roles = map[string][]string{"deployrole": {"unrelated_policy"}}
	awsRoleReq := map[string]string{
		"awsAccountId":  "1234567",
		"iamSvcAccName": "testaccount",
		"rolename":      "deployrole",
		"access":        "write",
	}
	status, body = env.do(t, http.MethodPost, "/v2/iamserviceaccounts/awsrole", ownerTok, awsRoleReq)
	require.Equal(t, http.StatusOK, status, "add aws role: %v", body)
	assert.Contains(t, env.cloud.roles["deployrole"], "w_iamsvcacc_1234567_testaccount")

	status, _ = env.do(t, http.MethodDelete, "/v2/iamserviceaccounts/awsrole", ownerTok, awsRoleReq)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []string{"unrelated_policy"}, env.cloud.roles["deployrole"])

	// An unknown cloud role is rejected before any metadata change.
	awsRoleReq["rolename"] = "ghostrole"
	status, _ = env.do(t, http.MethodPost, "/v2/iamserviceaccounts/awsrole", ownerTok, awsRoleReq)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestPermission_ForbiddenForReader(t *testing.T) {
	env := setupServer(t)
	env.onboard(t)

	ref := map[string]string{"awsAccountId": "1234567", "iamSvcAccName": "testaccount"}
	status, _ := env.do(t, http.MethodPost, "/v2/iamserviceaccounts/activate", adminToken(t), ref)
	require.Equal(t, http.StatusOK, status)

	readerTok := mintToken(t, "reader", "r_iamsvcacc_1234567_testaccount")
	userReq := map[string]string{
		"awsAccountId":  "1234567",
		"iamSvcAccName": "testaccount",
		"username":      "other",
		"access":        "read",
	}
	status, body := env.do(t, http.MethodPost, "/v2/iamserviceaccounts/user", readerTok, userReq)
	require.Equal(t, http.StatusForbidden, status)
	assert.Contains(t, errorsOf(body), "Access denied: No permission to add users to this IAM service account")
}

func TestOffboard(t *testing.T) {
	env := setupServer(t)
	env.onboard(t)

	ref := map[string]string{"awsAccountId": "1234567", "iamSvcAccName": "testaccount"}
	status, body := env.do(t, http.MethodPost, "/v2/iamserviceaccounts/offboard", adminToken(t), ref)
	require.Equal(t, http.StatusOK, status, "offboard: %v", body)

	status, listBody := env.do(t, http.MethodGet, "/v2/iamserviceaccounts/", adminToken(t), nil)
	require.Equal(t, http.StatusOK, status)
	assert.NotContains(t, listBody["keys"], "1234567_testaccount")
}

func TestAudit_AdminOnly(t *testing.T) {
	env := setupServer(t)
	env.onboard(t)

	status, _ := env.do(t, http.MethodGet, "/v2/iamserviceaccounts/audit", mintToken(t, "normaluser", "default"), nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, body := env.do(t, http.MethodGet, "/v2/iamserviceaccounts/audit?account=1234567_testaccount", adminToken(t), nil)
	require.Equal(t, http.StatusOK, status)
	entries, ok := body["entries"].([]interface{})
	require.True(t, ok)
	require.NotEmpty(t, entries)

	status, _ = env.do(t, http.MethodGet, "/v2/iamserviceaccounts/audit?limit=bogus", adminToken(t), nil)
	assert.Equal(t, http.StatusBadRequest, status)
}
