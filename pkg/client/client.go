package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/walnut-ops/walnut/pkg/policy"
)

// Client is the walNUT HTTP API client used by the CLI and by external
// dashboards.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *logrus.Logger
	config     *Config
}

func New(config *Config, logger *logrus.Logger) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &Client{
		baseURL: config.BaseURL,
		token:   config.Token,
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
		config: config,
	}
}

// statusError preserves the HTTP status so retry logic can tell client
// mistakes from server trouble.
type statusError struct {
	Status  int
	Message string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("API error [%d]: %s", e.Status, e.Message)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

func (c *Client) createRequest(ctx context.Context, method, endpoint string, body interface{}) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("User-Agent", "walNUT-Client/1.0")

	return req, nil
}

func (c *Client) doRequest(req *http.Request, result interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	c.logger.Debugf("walNUT API request: %s %s -> %d", req.Method, req.URL.String(), resp.StatusCode)

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		if resp.StatusCode >= 400 {
			return &statusError{Status: resp.StatusCode, Message: string(body)}
		}
		return fmt.Errorf("decode response: %w", err)
	}

	if resp.StatusCode >= 400 {
		msg := env.Error
		if msg == "" {
			msg = env.Message
		}
		return &statusError{Status: resp.StatusCode, Message: msg}
	}

	if result != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, result); err != nil {
			return fmt.Errorf("decode response data: %w", err)
		}
	}
	return nil
}

func (c *Client) doRequestWithRetry(ctx context.Context, method, endpoint string, body interface{}, result interface{}) error {
	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.config.RetryDelay * time.Duration(attempt)):
			}
			c.logger.Warnf("walNUT API retry attempt %d/%d for %s %s", attempt, c.config.MaxRetries, method, endpoint)
		}

		req, err := c.createRequest(ctx, method, endpoint, body)
		if err != nil {
			lastErr = err
			continue
		}

		if err := c.doRequest(req, result); err != nil {
			lastErr = err
			if attempt < c.config.MaxRetries && shouldRetry(err) {
				continue
			}
			break
		}
		return nil
	}

	return lastErr
}

// shouldRetry: network failures and 5xx are transient, 4xx are not.
func shouldRetry(err error) bool {
	if se, ok := err.(*statusError); ok {
		return se.Status >= 500
	}
	return true
}

// saveResponse is the save endpoint payload: the stored record plus the
// validation verdict it was saved under.
type saveResponse struct {
	Record     Policy                   `json:"record"`
	Validation *policy.ValidationResult `json:"validation"`
}

// policyDetail is the detail payload: the record plus its decoded spec.
type policyDetail struct {
	Record Policy            `json:"record"`
	Spec   policy.PolicySpec `json:"spec"`
}

// ListPolicies returns all stored policies ordered by priority.
func (c *Client) ListPolicies(ctx context.Context) ([]Policy, error) {
	var policies []Policy
	if err := c.doRequestWithRetry(ctx, "GET", "/api/v1/policies", nil, &policies); err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	return policies, nil
}

// GetPolicy loads one policy and its spec.
func (c *Client) GetPolicy(ctx context.Context, id string) (*Policy, policy.PolicySpec, error) {
	if id == "" {
		return nil, policy.PolicySpec{}, fmt.Errorf("policy id is required")
	}
	var detail policyDetail
	if err := c.doRequestWithRetry(ctx, "GET", "/api/v1/policies/"+id, nil, &detail); err != nil {
		return nil, policy.PolicySpec{}, fmt.Errorf("get policy: %w", err)
	}
	return &detail.Record, detail.Spec, nil
}

// CreatePolicy saves a new policy and returns the stored record with its
// validation verdict.
func (c *Client) CreatePolicy(ctx context.Context, spec policy.PolicySpec) (*Policy, *policy.ValidationResult, error) {
	var resp saveResponse
	if err := c.doRequestWithRetry(ctx, "POST", "/api/v1/policies", spec, &resp); err != nil {
		return nil, nil, fmt.Errorf("create policy: %w", err)
	}
	return &resp.Record, resp.Validation, nil
}

// UpdatePolicy replaces a stored policy.
func (c *Client) UpdatePolicy(ctx context.Context, id string, spec policy.PolicySpec) (*Policy, *policy.ValidationResult, error) {
	if id == "" {
		return nil, nil, fmt.Errorf("policy id is required")
	}
	var resp saveResponse
	if err := c.doRequestWithRetry(ctx, "PUT", "/api/v1/policies/"+id, spec, &resp); err != nil {
		return nil, nil, fmt.Errorf("update policy: %w", err)
	}
	return &resp.Record, resp.Validation, nil
}

// DeletePolicy removes a policy.
func (c *Client) DeletePolicy(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("policy id is required")
	}
	if err := c.doRequestWithRetry(ctx, "DELETE", "/api/v1/policies/"+id, nil, nil); err != nil {
		return fmt.Errorf("delete policy: %w", err)
	}
	return nil
}

// ValidatePolicy validates a spec without persisting it. The endpoint
// answers 200 whether or not the spec is clean; issues live in the result.
func (c *Client) ValidatePolicy(ctx context.Context, spec policy.PolicySpec) (*policy.ValidationResult, error) {
	var result policy.ValidationResult
	if err := c.doRequestWithRetry(ctx, "POST", "/api/v1/policies/validate", spec, &result); err != nil {
		return nil, fmt.Errorf("validate policy: %w", err)
	}
	return &result, nil
}

// TestPolicy compiles a spec and returns the plan preview.
func (c *Client) TestPolicy(ctx context.Context, spec policy.PolicySpec) (*policy.TestResult, error) {
	var result policy.TestResult
	if err := c.doRequestWithRetry(ctx, "POST", "/api/v1/policies/test", spec, &result); err != nil {
		return nil, fmt.Errorf("test policy: %w", err)
	}
	return &result, nil
}

// DryRunPolicy previews a saved policy by id.
func (c *Client) DryRunPolicy(ctx context.Context, id string) (*policy.DryRunResult, error) {
	if id == "" {
		return nil, fmt.Errorf("policy id is required")
	}
	var result policy.DryRunResult
	if err := c.doRequestWithRetry(ctx, "POST", "/api/v1/policies/"+id+"/dry-run", nil, &result); err != nil {
		return nil, fmt.Errorf("dry run policy: %w", err)
	}
	return &result, nil
}

// DryRunSpec previews an unsaved spec, used while editing.
func (c *Client) DryRunSpec(ctx context.Context, spec policy.PolicySpec) (*policy.DryRunResult, error) {
	var result policy.DryRunResult
	if err := c.doRequestWithRetry(ctx, "POST", "/api/v1/policies/dry-run", spec, &result); err != nil {
		return nil, fmt.Errorf("dry run spec: %w", err)
	}
	return &result, nil
}

// InversePolicy derives the reverse policy for a saved one. The result is
// returned unsaved for review.
func (c *Client) InversePolicy(ctx context.Context, id string) (policy.PolicySpec, error) {
	if id == "" {
		return policy.PolicySpec{}, fmt.Errorf("policy id is required")
	}
	var spec policy.PolicySpec
	if err := c.doRequestWithRetry(ctx, "POST", "/api/v1/policies/"+id+"/inverse", nil, &spec); err != nil {
		return policy.PolicySpec{}, fmt.Errorf("inverse policy: %w", err)
	}
	return spec, nil
}

// SetPolicyEnabled flips only the enabled flag.
func (c *Client) SetPolicyEnabled(ctx context.Context, id string, enabled bool) (*Policy, error) {
	if id == "" {
		return nil, fmt.Errorf("policy id is required")
	}
	body := map[string]bool{"enabled": enabled}
	var record Policy
	if err := c.doRequestWithRetry(ctx, "POST", "/api/v1/policies/"+id+"/enable", body, &record); err != nil {
		return nil, fmt.Errorf("toggle policy: %w", err)
	}
	return &record, nil
}

// PolicyRuns lists the audit trail for one policy, newest first.
func (c *Client) PolicyRuns(ctx context.Context, id string) ([]Run, error) {
	if id == "" {
		return nil, fmt.Errorf("policy id is required")
	}
	var runs []Run
	if err := c.doRequestWithRetry(ctx, "GET", "/api/v1/policies/"+id+"/runs", nil, &runs); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// Hosts returns the managed hosts.
func (c *Client) Hosts(ctx context.Context) ([]Host, error) {
	var hosts []Host
	if err := c.doRequestWithRetry(ctx, "GET", "/api/v1/hosts", nil, &hosts); err != nil {
		return nil, fmt.Errorf("list hosts: %w", err)
	}
	return hosts, nil
}

// HostCapabilities returns the merged capability list for one host.
func (c *Client) HostCapabilities(ctx context.Context, hostID string) ([]Capability, error) {
	if hostID == "" {
		return nil, fmt.Errorf("host id is required")
	}
	var caps []Capability
	if err := c.doRequestWithRetry(ctx, "GET", "/api/v1/hosts/"+hostID+"/capabilities", nil, &caps); err != nil {
		return nil, fmt.Errorf("host capabilities: %w", err)
	}
	return caps, nil
}

// HostInventory returns targetable items for a host. refresh forces a
// re-poll of the host's drivers instead of serving the cache.
func (c *Client) HostInventory(ctx context.Context, hostID string, refresh bool) ([]InventoryItem, error) {
	if hostID == "" {
		return nil, fmt.Errorf("host id is required")
	}
	endpoint := "/api/v1/hosts/" + hostID + "/inventory"
	if refresh {
		endpoint += "?refresh=true"
	}
	var items []InventoryItem
	if err := c.doRequestWithRetry(ctx, "GET", endpoint, nil, &items); err != nil {
		return nil, fmt.Errorf("host inventory: %w", err)
	}
	return items, nil
}

// IntegrationTypes returns the integration catalog.
func (c *Client) IntegrationTypes(ctx context.Context) ([]IntegrationType, error) {
	var types []IntegrationType
	if err := c.doRequestWithRetry(ctx, "GET", "/api/v1/integrations/types", nil, &types); err != nil {
		return nil, fmt.Errorf("list integration types: %w", err)
	}
	return types, nil
}

// IntegrationInstances returns configured instances, optionally filtered by
// type.
func (c *Client) IntegrationInstances(ctx context.Context, typeName string) ([]IntegrationInstance, error) {
	endpoint := "/api/v1/integrations/instances"
	if typeName != "" {
		endpoint += "?type=" + url.QueryEscape(typeName)
	}
	var instances []IntegrationInstance
	if err := c.doRequestWithRetry(ctx, "GET", endpoint, nil, &instances); err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	return instances, nil
}

// HealthCheck verifies the server answers.
func (c *Client) HealthCheck(ctx context.Context) error {
	var resp HealthResponse
	if err := c.doRequestWithRetry(ctx, "GET", "/api/v1/health", nil, &resp); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.Status != "healthy" && resp.Status != "ok" {
		return fmt.Errorf("service unhealthy: %s", resp.Status)
	}
	return nil
}

// GetStats exposes client settings for diagnostics output.
func (c *Client) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"base_url":    c.baseURL,
		"timeout":     c.config.Timeout,
		"max_retries": c.config.MaxRetries,
	}
}
