// Package remote syncs a local cache against a shared cache server. The
// server speaks JSON over HTTP: a diff endpoint comparing key sets and a
// bulk-create endpoint accepting entries.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/recall-ai/recall/pkg/config"
	"github.com/recall-ai/recall/pkg/models"
)

var retry = 5

// Client is the server surface a sync session needs.
type Client interface {
	// Diff reports how the given key set relates to the server's.
	Diff(ctx context.Context, keys []string) (*DiffResult, error)
	// CreateMany uploads entries the server does not have yet. The
	// description labels the uploaded batch on the server.
	CreateMany(ctx context.Context, entries []*models.CacheEntry, description string) error
}

// DiffResult splits a comparison both ways: entries the server holds that
// the client lacks, and keys the client holds that the server lacks.
type DiffResult struct {
	ClientMissingEntries []*models.CacheEntry
	ServerMissingKeys    []string
}

// Error reports a failed server request.
type Error struct {
	URL    string
	Method string
	Status int
	Body   string
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Method, e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the request is worth repeating later: the
// failure was transport-level, a timeout, throttling, or a server fault.
func (e *Error) Retryable() bool {
	if e.Status == 0 {
		return true
	}
	switch e.Status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return e.Status >= 500
}

// HTTPClient talks to a cache server over HTTP with bearer auth and
// exponential backoff on transient failures.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	visibility string
	client     *http.Client
	logger     zerolog.Logger
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient builds a client from remote configuration.
func NewHTTPClient(cfg config.RemoteConfig, logger zerolog.Logger) *HTTPClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	visibility := cfg.Visibility
	if visibility == "" {
		visibility = "private"
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		visibility: visibility,
		client:     &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type diffRequest struct {
	Keys []string `json:"keys"`
}

type diffResponse struct {
	ClientMissingEntries []map[string]any `json:"client_missing_entries"`
	ServerMissingKeys    []string         `json:"server_missing_keys"`
}

type createRequest struct {
	Entries     []*models.CacheEntry `json:"entries"`
	Visibility  string               `json:"visibility,omitempty"`
	Description string               `json:"description,omitempty"`
}

func (c *HTTPClient) Diff(ctx context.Context, keys []string) (*DiffResult, error) {
	if keys == nil {
		keys = []string{}
	}
	var resp diffResponse
	if err := c.do(ctx, http.MethodPost, "/api/v0/cache/diff", diffRequest{Keys: keys}, &resp); err != nil {
		return nil, fmt.Errorf("diff cache keys: %w", err)
	}

	out := &DiffResult{ServerMissingKeys: resp.ServerMissingKeys}
	for i, em := range resp.ClientMissingEntries {
		entry, err := models.EntryFromMap(em)
		if err != nil {
			return nil, fmt.Errorf("server entry %d: %w", i, err)
		}
		out.ClientMissingEntries = append(out.ClientMissingEntries, entry)
	}
	return out, nil
}

func (c *HTTPClient) CreateMany(ctx context.Context, entries []*models.CacheEntry, description string) error {
	if len(entries) == 0 {
		return nil
	}
	payload := createRequest{Entries: entries, Visibility: c.visibility, Description: description}
	if err := c.do(ctx, http.MethodPost, "/api/v0/cache/entries", payload, nil); err != nil {
		return fmt.Errorf("upload cache entries: %w", err)
	}
	return nil
}

func shouldRetry(resp *http.Response, err error) bool {
	if err != nil {
		if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
			return true
		}
		if strings.Contains(err.Error(), "EOF") {
			return true
		}
	}
	if resp != nil {
		switch resp.StatusCode {
		case http.StatusRequestTimeout, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout, http.StatusTooManyRequests:
			return true
		}
	}
	return false
}

func (c *HTTPClient) do(ctx context.Context, method, path string, payload, response any) error {
	u := c.baseURL + path

	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return &Error{URL: u, Method: method, Err: fmt.Errorf("marshal payload: %w", err)}
		}
	}

	var resp *http.Response
	for i := 0; i < retry; i++ {
		req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(body))
		if err != nil {
			return &Error{URL: u, Method: method, Err: fmt.Errorf("create request: %w", err)}
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err = c.client.Do(req)
		if shouldRetry(resp, err) && i < retry-1 {
			if resp != nil {
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
			}
			backoff := time.Duration(150*math.Pow(2, float64(i))) * time.Millisecond
			c.logger.Debug().Str("url", u).Int("attempt", i+1).Dur("backoff", backoff).Msg("retrying request")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			continue
		}
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return &Error{URL: u, Method: method, Err: fmt.Errorf("send request: %w", err)}
		}
		break
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{URL: u, Method: method, Status: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode > 299 {
		return &Error{
			URL:    u,
			Method: method,
			Status: resp.StatusCode,
			Body:   string(respBody),
			Err:    fmt.Errorf("request failed with status %s", resp.Status),
		}
	}
	if response != nil {
		if err := json.Unmarshal(respBody, response); err != nil {
			return &Error{URL: u, Method: method, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return nil
}
