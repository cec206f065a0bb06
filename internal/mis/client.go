package mis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"miszen/internal/config"
)

const (
	defaultRateLimit = 5
	rateBurst        = 10

	// Retry configuration
	maxRetries   = 3
	initialDelay = 500 * time.Millisecond
	maxDelay     = 8 * time.Second
)

// Config points the client at a MIS deployment.
type Config struct {
	BaseURL                string
	KnowledgeGraphEndpoint string
	MemoryBankEndpoint     string
	APIToken               string
	RateLimit              float64 // requests per second
	Timeout                time.Duration
	Logger                 *slog.Logger
}

// ConfigFrom maps the service configuration onto Config.
func ConfigFrom(cfg *config.Config, logger *slog.Logger) Config {
	return Config{
		BaseURL:                cfg.MISAPIURL,
		KnowledgeGraphEndpoint: cfg.MISKnowledgeGraphEndpoint,
		MemoryBankEndpoint:     cfg.MISMemoryBankEndpoint,
		APIToken:               cfg.MISAPIToken,
		RateLimit:              cfg.MISRateLimit,
		Timeout:                cfg.MISTimeout,
		Logger:                 logger,
	}
}

// StatusError is returned for non-2xx responses that are not retried.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Client talks to the MIS knowledge graph and memory bank over HTTP with
// rate limiting and retries.
type Client struct {
	baseURL      string
	kgEndpoint   string
	mbEndpoint   string
	apiToken     string
	httpClient   *http.Client
	rateLimiter  *rate.Limiter
	logger       *slog.Logger
	initialDelay time.Duration
}

// NewClient creates a new MIS API client
func NewClient(cfg Config) *Client {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		kgEndpoint:   cfg.KnowledgeGraphEndpoint,
		mbEndpoint:   cfg.MemoryBankEndpoint,
		apiToken:     cfg.APIToken,
		rateLimiter:  rate.NewLimiter(rate.Limit(cfg.RateLimit), rateBurst),
		logger:       cfg.Logger,
		initialDelay: initialDelay,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Knowledge graph

func (c *Client) CreateEntities(ctx context.Context, entities []Entity) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.doRequest(ctx, http.MethodPost, c.kgEndpoint+"/entities", nil, entitiesRequest{Entities: entities}, &out); err != nil {
		return nil, fmt.Errorf("failed to create entities: %w", err)
	}
	c.logger.Info("mis_entities_created", "count", len(entities))
	return out, nil
}

func (c *Client) CreateRelations(ctx context.Context, relations []Relation) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.doRequest(ctx, http.MethodPost, c.kgEndpoint+"/relations", nil, relationsRequest{Relations: relations}, &out); err != nil {
		return nil, fmt.Errorf("failed to create relations: %w", err)
	}
	c.logger.Info("mis_relations_created", "count", len(relations))
	return out, nil
}

// SearchKnowledge queries the graph. mode is "exact" or "fuzzy".
func (c *Client) SearchKnowledge(ctx context.Context, query, mode string) (*SearchResult, error) {
	if mode == "" {
		mode = "exact"
	}
	params := url.Values{}
	params.Set("query", query)
	params.Set("searchMode", mode)

	var out SearchResult
	if err := c.doRequest(ctx, http.MethodGet, c.kgEndpoint+"/search", params, nil, &out); err != nil {
		return nil, fmt.Errorf("failed to search knowledge: %w", err)
	}
	return &out, nil
}

func (c *Client) AddObservations(ctx context.Context, entityName string, observations []string) (json.RawMessage, error) {
	body := observationsRequest{Observations: []Observation{{EntityName: entityName, Observations: observations}}}

	var out json.RawMessage
	if err := c.doRequest(ctx, http.MethodPost, c.kgEndpoint+"/observations", nil, body, &out); err != nil {
		return nil, fmt.Errorf("failed to add observations: %w", err)
	}
	c.logger.Info("mis_observations_added", "entity", entityName, "count", len(observations))
	return out, nil
}

// Memory bank

func (c *Client) CreateMemory(ctx context.Context, key string, value any, tags []string) (json.RawMessage, error) {
	if tags == nil {
		tags = []string{}
	}
	body := createMemoryRequest{
		Key:       key,
		Value:     value,
		Tags:      tags,
		Timestamp: time.Now().Format(time.RFC3339Nano),
	}

	var out json.RawMessage
	if err := c.doRequest(ctx, http.MethodPost, c.mbEndpoint+"/memories", nil, body, &out); err != nil {
		return nil, fmt.Errorf("failed to create memory: %w", err)
	}
	c.logger.Info("mis_memory_created", "key", key)
	return out, nil
}

// GetMemory returns nil, nil when the key does not exist.
func (c *Client) GetMemory(ctx context.Context, key string) (*Memory, error) {
	var out Memory
	err := c.doRequest(ctx, http.MethodGet, c.mbEndpoint+"/memories/"+url.PathEscape(key), nil, nil, &out)
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get memory: %w", err)
	}
	return &out, nil
}

func (c *Client) SearchMemories(ctx context.Context, query string, tags []string) ([]Memory, error) {
	params := url.Values{}
	params.Set("query", query)
	if len(tags) > 0 {
		params.Set("tags", strings.Join(tags, ","))
	}

	var out memorySearchResponse
	if err := c.doRequest(ctx, http.MethodGet, c.mbEndpoint+"/search", params, nil, &out); err != nil {
		return nil, fmt.Errorf("failed to search memories: %w", err)
	}
	return out.Memories, nil
}

// doRequest performs an HTTP request with rate limiting and retry logic
func (c *Client) doRequest(ctx context.Context, method, endpoint string, params url.Values, body, result any) error {
	fullURL := c.baseURL + endpoint
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	var lastErr error
	delay := c.initialDelay

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay = minDuration(delay*2, maxDelay)
		}

		if err := c.rateLimiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter error: %w", err)
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("User-Agent", "miszen/0.1")
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.apiToken != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiToken)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("mis_request_failed",
				"method", method,
				"endpoint", endpoint,
				"attempt", attempt+1,
				"error", err,
			)
			continue
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = fmt.Errorf("failed to read response: %w", readErr)
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			statusErr := &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
			if shouldRetry(resp.StatusCode) {
				lastErr = statusErr
				c.logger.Warn("mis_request_retry",
					"method", method,
					"endpoint", endpoint,
					"status", resp.StatusCode,
					"attempt", attempt+1,
				)
				continue
			}
			return statusErr
		}

		if result == nil || len(bytes.TrimSpace(respBody)) == 0 {
			return nil
		}
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
		return nil
	}

	return fmt.Errorf("request failed after %d attempts: %w", maxRetries+1, lastErr)
}

// shouldRetry determines if an HTTP status code warrants a retry
func shouldRetry(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || statusCode >= 500
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
