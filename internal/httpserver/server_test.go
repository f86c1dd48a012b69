package httpserver_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apitize/version-service/internal/config"
	"github.com/apitize/version-service/internal/deploy"
	"github.com/apitize/version-service/internal/httpserver"
	"github.com/apitize/version-service/internal/models"
	"github.com/apitize/version-service/internal/service"
	"github.com/apitize/version-service/internal/specstore"
	"github.com/apitize/version-service/internal/store"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	svc := service.New(store.NewMemoryStore(), specstore.NewMemorySpecStore(), deploy.NoopClient{})
	srv := httpserver.New(config.Config{AllowTenantHeader: true}, svc)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func doRequest(t *testing.T, ts *httptest.Server, method, path string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", "tenant-1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func createVersionBody(version string, status models.VersionStatus) map[string]interface{} {
	return map[string]interface{}{
		"version": version,
		"status":  status,
		"spec": json.RawMessage(
			`{"openapi":"3.0.3","info":{"title":"orders","version":"1"},"paths":{}}`),
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRequestsWithoutTenantAreRejected(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/v1/apis/orders-api/versions")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreateVersionEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, body := doRequest(t, ts, http.MethodPost, "/v1/apis/orders-api/versions",
		createVersionBody("1.0.0", models.StatusDraft))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "1.0.0", body["version"])
	assert.Equal(t, "draft", body["status"])
	assert.Equal(t, "tenant-1", body["tenantId"])

	resp, _ = doRequest(t, ts, http.MethodPost, "/v1/apis/orders-api/versions",
		createVersionBody("1.0.0", models.StatusDraft))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = doRequest(t, ts, http.MethodPost, "/v1/apis/orders-api/versions",
		createVersionBody("v1.0.0", models.StatusDraft))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doRequest(t, ts, http.MethodPost, "/v1/apis/orders-api/versions",
		createVersionBody("2.0.0", models.StatusRetired))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestVersionLifecycleEndpoints(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := doRequest(t, ts, http.MethodPost, "/v1/apis/orders-api/versions",
		createVersionBody("1.0.0", models.StatusDraft))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// A draft cannot be retired.
	resp, _ = doRequest(t, ts, http.MethodPost, "/v1/apis/orders-api/versions/1.0.0/retire", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body := doRequest(t, ts, http.MethodPost, "/v1/apis/orders-api/versions/1.0.0/publish", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "published", body["status"])

	resp, body = doRequest(t, ts, http.MethodPost, "/v1/apis/orders-api/versions/1.0.0/deprecate",
		map[string]interface{}{"reason": "superseded", "replacementVersion": "2.0.0"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "deprecated", body["status"])

	resp, body = doRequest(t, ts, http.MethodPost, "/v1/apis/orders-api/versions/1.0.0/retire", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "retired", body["status"])

	resp, _ = doRequest(t, ts, http.MethodGet, "/v1/apis/orders-api/versions/9.9.9", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListAndLatestEndpoints(t *testing.T) {
	ts := newTestServer(t)

	for _, v := range []string{"1.0.0", "1.1.0", "2.0.0"} {
		resp, _ := doRequest(t, ts, http.MethodPost, "/v1/apis/orders-api/versions",
			createVersionBody(v, models.StatusPublished))
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp, body := doRequest(t, ts, http.MethodGet, "/v1/apis/orders-api/versions?status=published", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["versions"], 3)

	resp, _ = doRequest(t, ts, http.MethodGet, "/v1/apis/orders-api/versions?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = doRequest(t, ts, http.MethodGet, "/v1/apis/orders-api/versions/latest", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "2.0.0", body["version"])
}

func TestCompatibilityEndpoint(t *testing.T) {
	ts := newTestServer(t)

	withOrders := map[string]interface{}{
		"version": "1.0.0",
		"spec": json.RawMessage(`{"openapi":"3.0.3","info":{"title":"orders","version":"1"},
			"paths":{"/orders":{"get":{"responses":{"200":{"description":"ok"}}}}}}`),
	}
	resp, _ := doRequest(t, ts, http.MethodPost, "/v1/apis/orders-api/versions", withOrders)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, _ = doRequest(t, ts, http.MethodPost, "/v1/apis/orders-api/versions",
		createVersionBody("2.0.0", models.StatusDraft))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := doRequest(t, ts, http.MethodGet, "/v1/apis/orders-api/compatibility?from=1.0.0&to=2.0.0", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["compatible"])
	assert.Equal(t, float64(75), body["score"])

	resp, _ = doRequest(t, ts, http.MethodGet, "/v1/apis/orders-api/compatibility?from=1.0.0", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMigrationPlanEndpoints(t *testing.T) {
	ts := newTestServer(t)

	for _, v := range []string{"1.0.0", "1.1.0"} {
		resp, _ := doRequest(t, ts, http.MethodPost, "/v1/apis/orders-api/versions",
			createVersionBody(v, models.StatusPublished))
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp, body := doRequest(t, ts, http.MethodPost, "/v1/apis/orders-api/migrations",
		map[string]interface{}{"fromVersion": "1.0.0", "toVersion": "1.1.0", "strategy": "canary"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	planID, _ := body["id"].(string)
	require.NotEmpty(t, planID)
	assert.Equal(t, "planned", body["status"])

	resp, body = doRequest(t, ts, http.MethodGet, fmt.Sprintf("/v1/apis/orders-api/migrations/%s", planID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, planID, body["id"])

	// The plan is only addressable under the api it belongs to.
	resp, _ = doRequest(t, ts, http.MethodGet, fmt.Sprintf("/v1/apis/payments-api/migrations/%s", planID), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = doRequest(t, ts, http.MethodPost, fmt.Sprintf("/v1/apis/payments-api/migrations/%s/status", planID),
		map[string]interface{}{"status": "in-progress"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = doRequest(t, ts, http.MethodPost, fmt.Sprintf("/v1/apis/orders-api/migrations/%s/status", planID),
		map[string]interface{}{"status": "in-progress"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "in-progress", body["status"])

	// in-progress is only reachable from planned.
	resp, _ = doRequest(t, ts, http.MethodPost, fmt.Sprintf("/v1/apis/orders-api/migrations/%s/status", planID),
		map[string]interface{}{"status": "in-progress"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = doRequest(t, ts, http.MethodPost, "/v1/apis/orders-api/migrations",
		map[string]interface{}{"fromVersion": "1.0.0", "toVersion": "1.1.0", "strategy": "big-bang"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPolicyEndpoints(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := doRequest(t, ts, http.MethodGet, "/v1/apis/orders-api/policy", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body := doRequest(t, ts, http.MethodPut, "/v1/apis/orders-api/policy",
		map[string]interface{}{"maxVersions": 5, "supportPeriodDays": 90})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(5), body["maxVersions"])
	assert.Equal(t, float64(90), body["supportPeriodDays"])
	assert.Equal(t, "major", body["allowedBreaking"])

	resp, body = doRequest(t, ts, http.MethodGet, "/v1/apis/orders-api/policy", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(5), body["maxVersions"])

	resp, _ = doRequest(t, ts, http.MethodPut, "/v1/apis/orders-api/policy",
		map[string]interface{}{"maxVersions": 0, "supportPeriodDays": 90})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
