// Package workflow provides the client for the external content
// processing webhook. A single Submit call sends the user's photo plus
// their decor/style/angle choices and returns the enhanced media
// reference, caption, and tags produced by the hosted pipeline.
//
// The client owns the retry policy: up to three total attempts, retrying
// only transient failures (network error, per-attempt timeout, upstream
// 5xx), with exponential backoff between attempts. Upstream 4xx and
// malformed responses fail immediately. The client never touches session
// state; the orchestrator applies the returned result.
package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/crowdmagic/platebot/internal/caption"
	"github.com/crowdmagic/platebot/internal/session"
)

const (
	// defaultMaxAttempts is the total attempt budget per Submit call,
	// first try included.
	defaultMaxAttempts = 3

	// defaultBackoffBase is the delay before the second attempt. It
	// doubles for each subsequent attempt: 2s, 4s.
	defaultBackoffBase = 2 * time.Second

	// defaultAttemptTimeout bounds a single round trip. Exceeding it
	// counts as a timeout failure subject to retry. The hosted pipeline
	// runs vision analysis plus image generation, so this is generous.
	defaultAttemptTimeout = 90 * time.Second

	// maxResponseSize caps the response body read (1 MB).
	maxResponseSize = 1 << 20
)

// Client submits processing requests to the workflow webhook.
type Client struct {
	httpClient     *http.Client
	endpoint       string
	authToken      string
	maxAttempts    int
	backoffBase    time.Duration
	attemptTimeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithAuthToken sets a bearer token attached to every request.
func WithAuthToken(token string) Option {
	return func(c *Client) { c.authToken = token }
}

// WithMaxAttempts overrides the total attempt budget.
func WithMaxAttempts(n int) Option {
	return func(c *Client) { c.maxAttempts = n }
}

// WithBackoffBase overrides the delay before the second attempt.
func WithBackoffBase(d time.Duration) Option {
	return func(c *Client) { c.backoffBase = d }
}

// WithAttemptTimeout overrides the per-attempt timeout.
func WithAttemptTimeout(d time.Duration) Option {
	return func(c *Client) { c.attemptTimeout = d }
}

// NewClient creates a workflow client for the given webhook endpoint.
func NewClient(endpoint string, opts ...Option) *Client {
	c := &Client{
		httpClient:     &http.Client{},
		endpoint:       endpoint,
		maxAttempts:    defaultMaxAttempts,
		backoffBase:    defaultBackoffBase,
		attemptTimeout: defaultAttemptTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SubmitRequest is the outbound webhook payload. Exactly one of
// ImageURL or ImageBase64 is set, depending on the deployment mode.
type SubmitRequest struct {
	ImageURL    string `json:"imageUrl,omitempty"`
	ImageBase64 string `json:"image,omitempty"`

	UserID         string `json:"userId"`
	ChatID         string `json:"chatId"`
	RestaurantName string `json:"restaurantName,omitempty"`

	Theme             string   `json:"theme,omitempty"`
	Angle             string   `json:"angle"`
	DecorPhotos       []string `json:"decorPhotos"`
	HasDecorReference bool     `json:"hasDecorReference"`

	Variation     bool `json:"variation,omitempty"`
	AttemptNumber int  `json:"attemptNumber"`

	// CorrelationID is sent as the X-Correlation-Id header, never in
	// the body. It is the session id.
	CorrelationID string `json:"-"`
}

// submitResponse covers both observed webhook response shapes: the full
// pipeline shape with a data envelope, and the CrowdMagic variant that
// returns a bare imageUrl.
type submitResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`

	Data *struct {
		EnhancedURL string   `json:"enhancedUrl"`
		Caption     string   `json:"caption"`
		Hashtags    []string `json:"hashtags"`
		Analysis    string   `json:"analysis"`
	} `json:"data,omitempty"`

	// CrowdMagic variant.
	ImageURL string `json:"imageUrl,omitempty"`
	Status   string `json:"status,omitempty"`
}

// Submit sends one processing request, retrying transient failures with
// exponential backoff. On success the returned result always carries a
// caption: a missing upstream caption is replaced by the deterministic
// local fallback, and a missing enhanced media reference degrades to the
// original photo with Fallback set.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (*session.Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal workflow request: %w", err)
	}

	backoff := c.backoffBase
	var lastErr *Error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			log.Debug().
				Str("correlationId", req.CorrelationID).
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Msg("Retrying workflow call after backoff")
			select {
			case <-ctx.Done():
				lastErr.Attempts = attempt - 1
				return nil, lastErr
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		result, callErr := c.doAttempt(ctx, req, body, attempt)
		if callErr == nil {
			log.Info().
				Str("correlationId", req.CorrelationID).
				Int("attempt", attempt).
				Bool("fallback", result.Fallback).
				Msg("Workflow call succeeded")
			return result, nil
		}

		lastErr = callErr
		if !callErr.Kind.Transient() {
			callErr.Attempts = attempt
			log.Warn().
				Str("correlationId", req.CorrelationID).
				Str("kind", string(callErr.Kind)).
				Int("status", callErr.Status).
				Msg("Workflow call failed permanently")
			return nil, callErr
		}

		log.Warn().
			Str("correlationId", req.CorrelationID).
			Str("kind", string(callErr.Kind)).
			Int("attempt", attempt).
			Err(callErr.Err).
			Msg("Workflow call attempt failed")
	}

	lastErr.Attempts = c.maxAttempts
	return nil, lastErr
}

// doAttempt performs one round trip and classifies any failure.
func (c *Client) doAttempt(ctx context.Context, req SubmitRequest, body []byte, attempt int) (*session.Result, *Error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: FailureMalformed, Err: fmt.Errorf("build request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Correlation-Id", req.CorrelationID)
	if c.authToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		kind := FailureNetwork
		if errors.Is(err, context.DeadlineExceeded) || attemptCtx.Err() == context.DeadlineExceeded {
			kind = FailureTimeout
		}
		return nil, &Error{Kind: kind, Err: err}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, &Error{Kind: FailureNetwork, Err: fmt.Errorf("read response: %w", err)}
	}

	log.Debug().
		Str("correlationId", req.CorrelationID).
		Int("attempt", attempt).
		Int("statusCode", httpResp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Workflow webhook response")

	switch {
	case httpResp.StatusCode >= 500:
		return nil, &Error{Kind: FailureUpstream5xx, Status: httpResp.StatusCode, Err: fmt.Errorf("upstream error: %s", truncate(respBody))}
	case httpResp.StatusCode >= 400:
		return nil, &Error{Kind: FailureUpstream4xx, Status: httpResp.StatusCode, Err: fmt.Errorf("upstream rejected request: %s", truncate(respBody))}
	}

	var resp submitResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, &Error{Kind: FailureMalformed, Status: httpResp.StatusCode, Err: fmt.Errorf("parse response: %w", err)}
	}
	if !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = "upstream reported failure without detail"
		}
		return nil, &Error{Kind: FailureUpstream5xx, Status: httpResp.StatusCode, Err: fmt.Errorf("upstream failure: %s", msg)}
	}

	return c.buildResult(req, resp), nil
}

// buildResult normalizes both response shapes into a session.Result and
// applies the degradation rules: enhancement may fall back to the
// original photo, caption text never goes missing.
func (c *Client) buildResult(req SubmitRequest, resp submitResponse) *session.Result {
	result := &session.Result{}
	if resp.Data != nil {
		result.EnhancedMediaRef = resp.Data.EnhancedURL
		result.Caption = resp.Data.Caption
		result.Hashtags = resp.Data.Hashtags
		result.Analysis = resp.Data.Analysis
	} else {
		result.EnhancedMediaRef = resp.ImageURL
	}

	if result.EnhancedMediaRef == "" {
		result.EnhancedMediaRef = req.ImageURL
		result.Fallback = true
		log.Warn().
			Str("correlationId", req.CorrelationID).
			Msg("Workflow response had no enhanced media — falling back to original photo")
	}
	if result.Caption == "" {
		style, _ := session.ParseStyle(req.Theme)
		result.Caption = caption.Fallback(style, req.RestaurantName)
		log.Warn().
			Str("correlationId", req.CorrelationID).
			Msg("Workflow response had no caption — using local fallback caption")
	}
	return result
}

// truncate keeps error messages readable when the upstream returns a
// large body.
func truncate(b []byte) string {
	const max = 300
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
