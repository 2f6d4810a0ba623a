// OpenAI-compatible Responses API client.
//
// DESIGN: Request bodies are built with sjson and responses picked apart
// with gjson, so the adapter survives the several shapes the Responses API
// and its clones emit for output text. A per-process semaphore bounds
// in-flight requests even when distributed concurrency caps are
// misconfigured. Transient failures (timeout, connect, 429, 5xx) get one
// jittered retry; auth and config problems surface immediately.
package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/nardology/ai-gateway/internal/config"
)

const (
	userAgent     = "ai-gateway/1.0"
	retryAttempts = 2 // initial + 1 retry
	maxErrBody    = 800
)

// HTTPClient implements Client against an OpenAI-compatible endpoint.
type HTTPClient struct {
	cfg  config.ProviderConfig
	http *http.Client
	sem  chan struct{}
}

// NewHTTPClient builds a client. The http.Client carries no global timeout;
// each call is bounded by its own context deadline.
func NewHTTPClient(cfg config.ProviderConfig) *HTTPClient {
	limit := cfg.ProcessConcurrency
	if limit < 1 {
		limit = config.DefaultProcessConcurrency
	}
	return &HTTPClient{
		cfg: cfg,
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        50,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		sem: make(chan struct{}, limit),
	}
}

// Generate implements Client.
func (c *HTTPClient) Generate(ctx context.Context, req Request) (*Result, error) {
	key := strings.TrimSpace(c.cfg.APIKey)
	if key == "" {
		return nil, newError(KindConfig, "provider API key is missing", nil)
	}
	if strings.TrimSpace(req.UserPrompt) == "" {
		return nil, newError(KindGeneric, "missing user prompt text", nil)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.cfg.Timeout.Std()
	}

	body, err := buildBody(req)
	if err != nil {
		return nil, newError(KindGeneric, "request encoding failed", err)
	}

	var lastErr error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		res, retryable, err := c.doOnce(ctx, body, timeout)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !retryable || attempt == retryAttempts {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, newError(KindTimeout, "request canceled", ctx.Err())
		case <-time.After(jitter(600 * time.Millisecond)):
		}
	}
	return nil, lastErr
}

// doOnce performs a single attempt and reports whether a retry makes sense.
func (c *HTTPClient) doOnce(ctx context.Context, body []byte, timeout time.Duration) (*Result, bool, error) {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, false, newError(KindTimeout, "request canceled before dispatch", ctx.Err())
	}
	defer func() { <-c.sem }()

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/responses"
	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, false, newError(KindGeneric, "building request failed", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+strings.TrimSpace(c.cfg.APIKey))
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() != nil {
			return nil, true, newError(KindTimeout, "AI request timed out", err)
		}
		return nil, true, newError(KindConnection, "failed to reach AI service", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, true, newError(KindConnection, "reading response failed", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, false, newError(KindAuth, "AI authentication failed (check API key / permissions)", nil)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, true, newError(KindRateLimit, "AI is rate-limited right now (429)", nil)
	case resp.StatusCode >= 500 && resp.StatusCode < 600:
		return nil, true, &Error{Kind: KindStatus, StatusCode: resp.StatusCode,
			Message: fmt.Sprintf("AI service error (%d)", resp.StatusCode)}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, false, &Error{Kind: KindStatus, StatusCode: resp.StatusCode,
			Message: fmt.Sprintf("AI request failed (%d): %s", resp.StatusCode, errorMessage(raw))}
	}

	return parseResult(raw), false, nil
}

// buildBody assembles the Responses API payload.
func buildBody(req Request) ([]byte, error) {
	body := "{}"
	var err error
	if body, err = sjson.Set(body, "model", req.Model); err != nil {
		return nil, err
	}
	if body, err = sjson.Set(body, "temperature", req.Temperature); err != nil {
		return nil, err
	}
	if body, err = sjson.Set(body, "max_output_tokens", req.MaxOutputTokens); err != nil {
		return nil, err
	}
	if body, err = sjson.Set(body, "input.0.role", "system"); err != nil {
		return nil, err
	}
	if body, err = sjson.Set(body, "input.0.content", req.System); err != nil {
		return nil, err
	}
	if body, err = sjson.Set(body, "input.1.role", "user"); err != nil {
		return nil, err
	}
	if body, err = sjson.Set(body, "input.1.content", req.UserPrompt); err != nil {
		return nil, err
	}
	return []byte(body), nil
}

// parseResult extracts text and token usage from the known response shapes.
func parseResult(raw []byte) *Result {
	root := gjson.ParseBytes(raw)

	var parts []string
	root.Get("output").ForEach(func(_, item gjson.Result) bool {
		item.Get("content").ForEach(func(_, c gjson.Result) bool {
			switch c.Get("type").String() {
			case "output_text":
				if t := c.Get("text").String(); t != "" {
					parts = append(parts, t)
				}
			case "text":
				// Some adapters emit {"text":"..."} or {"text":{"value":"..."}}.
				if t := c.Get("text").String(); t != "" && c.Get("text").Type == gjson.String {
					parts = append(parts, t)
				} else if v := c.Get("text.value").String(); v != "" {
					parts = append(parts, v)
				}
			}
			return true
		})
		return true
	})

	text := strings.TrimSpace(strings.Join(parts, ""))
	if text == "" {
		text = strings.TrimSpace(root.Get("output_text").String())
	}
	if text == "" {
		text = strings.TrimSpace(root.Get("response").String())
	}

	in := int(root.Get("usage.input_tokens").Int())
	out := int(root.Get("usage.output_tokens").Int())
	total := int(root.Get("usage.total_tokens").Int())
	if in < 0 {
		in = 0
	}
	if out < 0 {
		out = 0
	}
	if total <= 0 {
		total = in + out
	}

	return &Result{Text: text, InputTokens: in, OutputTokens: out, TotalTokens: total}
}

// errorMessage pulls a human-readable message out of an error body.
func errorMessage(raw []byte) string {
	root := gjson.ParseBytes(raw)
	if m := root.Get("error.message").String(); m != "" {
		return clip(m)
	}
	if m := root.Get("message").String(); m != "" {
		return clip(m)
	}
	return clip(string(raw))
}

func clip(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxErrBody {
		return s[:maxErrBody]
	}
	return s
}

// jitter spreads retries within ±40% of base.
func jitter(base time.Duration) time.Duration {
	f := 0.6 + rand.Float64()*0.8
	d := time.Duration(float64(base) * f)
	if d < 50*time.Millisecond {
		d = 50 * time.Millisecond
	}
	return d
}
