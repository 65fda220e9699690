// Package resolver is the mapper's HTTP client for the model service. It
// answers the two questions the data plane ever asks the control plane:
// which mappings match a tag-set (cache-miss resolution) and which mappings
// changed recently (refresher polling).
//
// The client never retries. A failed resolution is reported to the caller,
// which treats the lookup as unresolved; retry policy belongs to the
// pipelines that emit the metrics, not to this layer.
package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lfelipe/argus/internal/detector"
	"github.com/lfelipe/argus/internal/validation"
)

const (
	searchPath  = "/api/v1/mappings/search"
	updatedPath = "/api/v1/mappings/updated"
)

// Config carries the connection settings for the model service.
type Config struct {
	// BaseURL is the model service root, e.g. "http://argus-model:8080".
	BaseURL string

	// Timeout bounds a single request end to end, including body read.
	Timeout time.Duration
}

// Client is a thin JSON client over the model service mapping endpoints.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// New validates the base URL and builds a client with the given timeout.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	validation.AssertNotNil(logger, "logger")

	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse resolver base URL %q: %w", cfg.BaseURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("resolver base URL %q must use http or https", cfg.BaseURL)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("resolver base URL %q has no host", cfg.BaseURL)
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
	}, nil
}

// searchRequest is the wire body for the search endpoint.
type searchRequest struct {
	Tags map[string]string `json:"tags"`
}

// mappingsResponse is the wire envelope both endpoints answer with.
type mappingsResponse struct {
	Mappings []detector.Mapping `json:"mappings"`
}

// FindMatching returns every enabled mapping whose expression matches the
// given tags. An empty slice with a nil error means the tag-set genuinely
// maps to no detectors and is safe to cache as such.
func (c *Client) FindMatching(ctx context.Context, tags map[string]string) ([]detector.Mapping, error) {
	body, err := json.Marshal(searchRequest{Tags: tags})
	if err != nil {
		return nil, fmt.Errorf("failed to encode search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+searchPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	return c.doMappings(req)
}

// ListUpdatedSince returns every mapping whose detector or expression was
// updated within the given lookback window. Sub-second remainders round the
// window up, never down.
func (c *Client) ListUpdatedSince(ctx context.Context, lookback time.Duration) ([]detector.Mapping, error) {
	secs := int64(lookback / time.Second)
	if lookback%time.Second != 0 {
		secs++
	}

	q := url.Values{}
	q.Set("intervalSecs", strconv.FormatInt(secs, 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+updatedPath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build updated-mappings request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	return c.doMappings(req)
}

// doMappings executes the request and decodes the shared response envelope.
func (c *Client) doMappings(req *http.Request) ([]detector.Mapping, error) {
	started := time.Now()

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("model service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("model service returned HTTP %d from %s", resp.StatusCode, req.URL.Path)
	}

	var envelope mappingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("failed to decode model service response: %w", err)
	}

	c.logger.Debug("resolved mappings from model service",
		"path", req.URL.Path,
		"mappings", len(envelope.Mappings),
		"duration", time.Since(started))
	return envelope.Mappings, nil
}
