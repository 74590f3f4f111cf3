package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walnut-ops/walnut/pkg/policy"
)

func testClient(url string) *Client {
	cfg := DefaultConfig()
	cfg.BaseURL = url
	cfg.Token = "test-token"
	cfg.MaxRetries = 2
	cfg.RetryDelay = time.Millisecond
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return New(cfg, logger)
}

func writeEnvelope(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{"success": status < 400, "data": data})
}

func TestValidatePolicy_ParsesIssueList(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/policies/validate", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		var spec policy.PolicySpec
		require.NoError(t, json.NewDecoder(r.Body).Decode(&spec))
		assert.Equal(t, "bad one", spec.Name)

		// Invalid specs still answer 200; issues ride in the result.
		writeEnvelope(w, http.StatusOK, policy.ValidationResult{
			OK:      false,
			Schema:  []policy.ValidationIssue{{Path: "priority", Message: "priority 999 out of range 0-255"}},
			Compile: []policy.ValidationIssue{},
		})
	}))
	defer server.Close()

	spec := policy.DefaultPolicy()
	spec.Name = "bad one"
	result, err := testClient(server.URL).ValidatePolicy(context.Background(), spec)

	require.NoError(t, err)
	assert.False(t, result.OK)
	require.Len(t, result.Schema, 1)
	assert.Equal(t, "priority", result.Schema[0].Path)
}

func TestCreatePolicy_ReturnsRecordAndVerdict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/policies", r.URL.Path)
		writeEnvelope(w, http.StatusCreated, saveResponse{
			Record:     Policy{ID: "p1", Name: "shutdown-on-battery", Status: "valid"},
			Validation: &policy.ValidationResult{OK: true},
		})
	}))
	defer server.Close()

	spec := policy.DefaultPolicy()
	spec.Name = "shutdown-on-battery"
	record, verdict, err := testClient(server.URL).CreatePolicy(context.Background(), spec)

	require.NoError(t, err)
	assert.Equal(t, "p1", record.ID)
	assert.True(t, verdict.OK)
}

func TestDoRequestWithRetry_RetriesServerErrors(t *testing.T) {
	var calls int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&calls, 1) < 3 {
			writeEnvelope(w, http.StatusInternalServerError, nil)
			return
		}
		writeEnvelope(w, http.StatusOK, []Policy{{ID: "p1"}})
	}))
	defer server.Close()

	policies, err := testClient(server.URL).ListPolicies(context.Background())

	require.NoError(t, err)
	assert.Len(t, policies, 1)
	assert.Equal(t, int64(3), atomic.LoadInt64(&calls))
}

func TestDoRequestWithRetry_ClientErrorsAreFinal(t *testing.T) {
	var calls int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]interface{}{"success": false, "error": "policy not found"})
	}))
	defer server.Close()

	_, err := testClient(server.URL).DryRunPolicy(context.Background(), "missing")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "policy not found")
	assert.Contains(t, err.Error(), "404")
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls), "4xx must not be retried")
}

func TestHostInventory_RefreshFlag(t *testing.T) {
	var sawRefresh string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/hosts/h1/inventory", r.URL.Path)
		sawRefresh = r.URL.Query().Get("refresh")
		writeEnvelope(w, http.StatusOK, []InventoryItem{{HostID: "h1", ExternalID: "101", Type: "vm"}})
	}))
	defer server.Close()

	c := testClient(server.URL)
	items, err := c.HostInventory(context.Background(), "h1", true)
	require.NoError(t, err)
	assert.Equal(t, "true", sawRefresh)
	require.Len(t, items, 1)
	assert.Equal(t, "101", items[0].ExternalID)

	_, err = c.HostInventory(context.Background(), "h1", false)
	require.NoError(t, err)
	assert.Empty(t, sawRefresh)
}

func TestHealthCheck_UnhealthyStatusIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, HealthResponse{Status: "degraded"})
	}))
	defer server.Close()

	err := testClient(server.URL).HealthCheck(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "degraded")
}

func TestWizardBackend_SaveCreatesThenUpdates(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		writeEnvelope(w, http.StatusOK, saveResponse{Record: Policy{ID: "p9"}})
	}))
	defer server.Close()

	backend := testClient(server.URL).WizardBackend()

	id, err := backend.Save(context.Background(), "", policy.DefaultPolicy())
	require.NoError(t, err)
	assert.Equal(t, "p9", id)

	id, err = backend.Save(context.Background(), "p9", policy.DefaultPolicy())
	require.NoError(t, err)
	assert.Equal(t, "p9", id)

	assert.Equal(t, []string{"POST /api/v1/policies", "PUT /api/v1/policies/p9"}, paths)
}

func TestIntegrationInstances_TypeFilter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/integrations/instances", r.URL.Path)
		assert.Equal(t, "proxmox-ve", r.URL.Query().Get("type"))
		writeEnvelope(w, http.StatusOK, []IntegrationInstance{{ID: "inst-1", TypeName: "proxmox-ve"}})
	}))
	defer server.Close()

	instances, err := testClient(server.URL).IntegrationInstances(context.Background(), "proxmox-ve")

	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, "inst-1", instances[0].ID)
}
