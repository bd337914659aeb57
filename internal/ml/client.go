// Package ml implements the two-stage risk model and the combiner. Each
// scorer is polymorphic over a remote inference endpoint and a local
// heuristic fallback selected by health check, so pipeline availability
// never depends on a single inference provider.
package ml

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"urlrisk/pkg/serrors"
)

// healthCacheTTL bounds how often the health endpoint is probed.
const healthCacheTTL = 30 * time.Second

// InferenceClient talks to a remote model-serving endpoint. Safe for
// concurrent use.
type InferenceClient struct {
	httpClient *http.Client
	endpoint   string

	mu          sync.Mutex
	healthyAt   time.Time
	lastHealthy bool
}

// NewInferenceClient creates a client for the given base endpoint. An empty
// endpoint returns nil, which selects the local heuristics everywhere.
func NewInferenceClient(httpClient *http.Client, endpoint string) *InferenceClient {
	if endpoint == "" {
		return nil
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &InferenceClient{
		httpClient: httpClient,
		endpoint:   strings.TrimSuffix(endpoint, "/"),
	}
}

// Healthy probes the endpoint's health route, caching the answer briefly so
// concurrent scans do not stampede it.
func (c *InferenceClient) Healthy(ctx context.Context) bool {
	c.mu.Lock()
	if time.Since(c.healthyAt) < healthCacheTTL {
		healthy := c.lastHealthy
		c.mu.Unlock()

		return healthy
	}
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	healthy := err == nil && resp.StatusCode == http.StatusOK
	if resp != nil {
		_ = resp.Body.Close()
	}

	c.mu.Lock()
	c.healthyAt = time.Now()
	c.lastHealthy = healthy
	c.mu.Unlock()

	return healthy
}

// Predict sends the payload to the named model and returns its probability.
func (c *InferenceClient) Predict(ctx context.Context, model string, payload any) (float64, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("could not marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.endpoint+"/v1/predict/"+model, strings.NewReader(string(body)))
	if err != nil {
		return 0, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, serrors.Wrap(serrors.ErrUnavailable, err, "could not reach inference endpoint")
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("could not read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, serrors.With(serrors.ErrUnavailable,
			"inference failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var out struct {
		Probability float64 `json:"probability"`
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return 0, fmt.Errorf("could not decode response: %w", err)
	}
	if out.Probability < 0 || out.Probability > 1 {
		return 0, fmt.Errorf("inference returned probability %f outside [0,1]", out.Probability)
	}

	return out.Probability, nil
}
