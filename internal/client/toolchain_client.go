package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/qasim313/Unbrandit/internal/config"
	"github.com/qasim313/Unbrandit/internal/logging"
	"github.com/qasim313/Unbrandit/internal/model"
	gobreaker "github.com/sony/gobreaker/v2"
)

// Toolchain defines the operations of the external build worker
type Toolchain interface {
	Build(ctx context.Context, job *model.BuildJobPayload) (*BuildResult, error)
	Decompile(ctx context.Context, job *model.DecompileJobPayload) (*DecompileResult, error)
	HealthCheck(ctx context.Context) error
}

// BuildResult is the worker's synchronous answer to /build
type BuildResult struct {
	Status      string            `json:"status"`
	DownloadURL string            `json:"downloadUrl"`
	URLs        map[string]string `json:"urls"`
}

// DecompileResult is the worker's synchronous answer to /decompile
type DecompileResult struct {
	Status   string                `json:"status"`
	Metadata model.ProjectMetadata `json:"metadata"`
}

// Succeeded reports whether the worker finished the build and named the
// artifact. The worker answers "ok"; outcome names are accepted as well.
func (r *BuildResult) Succeeded() bool {
	return r != nil && r.DownloadURL != "" && okStatus(r.Status, "SUCCESS")
}

func (r *DecompileResult) Succeeded() bool {
	return r != nil && okStatus(r.Status, "READY")
}

func okStatus(status, outcome string) bool {
	return strings.EqualFold(status, "ok") || strings.EqualFold(status, outcome)
}

// StatusError means the worker answered with a non-2xx status. The worker is
// reachable, so this does not count against the circuit breaker.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("toolchain error (status %d): %s", e.StatusCode, e.Body)
}

// ToolchainClient implements Toolchain for the HTTP worker service
type ToolchainClient struct {
	httpClient *http.Client
	baseURL    string
	cb         *gobreaker.CircuitBreaker[[]byte]
}

// NewToolchainClient creates a new worker client guarded by a circuit breaker
func NewToolchainClient(cfg *config.ToolchainConfig) *ToolchainClient {
	threshold := uint32(cfg.FailureThreshold)
	if threshold == 0 {
		threshold = 5
	}

	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "toolchain",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			var se *StatusError
			return err == nil || errors.As(err, &se)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	})

	return &ToolchainClient{
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
		baseURL: cfg.ServiceURL,
		cb:      cb,
	}
}

// Build runs a full build on the worker. The call returns when the build ends.
func (c *ToolchainClient) Build(ctx context.Context, job *model.BuildJobPayload) (*BuildResult, error) {
	var result BuildResult
	if err := c.post(ctx, "/build", job, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Decompile asks the worker to unpack a base APK and report its metadata
func (c *ToolchainClient) Decompile(ctx context.Context, job *model.DecompileJobPayload) (*DecompileResult, error) {
	var result DecompileResult
	if err := c.post(ctx, "/decompile", job, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// HealthCheck checks if the worker is available
func (c *ToolchainClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("toolchain unhealthy: status %d", resp.StatusCode)
	}

	return nil
}

// post sends a POST request with JSON body and parses the response
func (c *ToolchainClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	respBody, err := c.cb.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to send request: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(data)}
		}
		return data, nil
	})
	if err != nil {
		return err
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}

// IsConfigured reports whether a worker URL was configured.
func (c *ToolchainClient) IsConfigured() bool {
	return c.baseURL != ""
}
