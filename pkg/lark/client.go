// Package lark is a minimal Lark OpenAPI client covering the Bitable surface
// the MCP tools need. Every outbound call is routed through the tiered
// admission limiter before it touches the network; a denied call surfaces a
// typed rate-limited error and no HTTP request is fired.
package lark

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/larkmcp/lark-mcp-server/pkg/limiter"
	"go.uber.org/zap"
)

// DefaultBaseURL is the global Lark OpenAPI endpoint. Feishu tenants use
// https://open.feishu.cn, Lark Suite tenants https://open.larksuite.com.
const DefaultBaseURL = "https://open.feishu.cn"

// codeTooManyRequests is the platform's business code for server-side
// throttling. The client does not retry on it; retry policy belongs to the
// caller.
const codeTooManyRequests = 99991400

// tokenExpirySkew is subtracted from the advertised token lifetime so we
// refresh before the platform starts rejecting the token.
const tokenExpirySkew = 5 * time.Minute

// APIError is a non-zero business code returned by the platform.
type APIError struct {
	Code   int
	Msg    string
	Method string
	Path   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("lark: %s %s failed with code %d: %s", e.Method, e.Path, e.Code, e.Msg)
}

// Throttled reports whether the platform itself rejected the call for
// exceeding its quota. Seeing this in practice means the limiter's
// configuration is more permissive than the tenant's actual quota.
func (e *APIError) Throttled() bool {
	return e.Code == codeTooManyRequests
}

// Client talks to the Lark OpenAPI. All methods are safe for concurrent use.
type Client struct {
	baseURL   string
	appID     string
	appSecret string
	http      *http.Client
	lim       *limiter.TieredLimiter
	logger    *zap.Logger

	mu          sync.Mutex
	tenantToken string
	tokenExpiry time.Time
}

// Option adjusts client construction.
type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = baseURL }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a Client with the given tenant credentials. lim gates every
// outbound call and must not be nil.
func New(appID, appSecret string, lim *limiter.TieredLimiter, opts ...Option) *Client {
	c := &Client{
		baseURL:   DefaultBaseURL,
		appID:     appID,
		appSecret: appSecret,
		http:      &http.Client{Timeout: 30 * time.Second},
		lim:       lim,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Limiter exposes the admission limiter for observability surfaces.
func (c *Client) Limiter() *limiter.TieredLimiter {
	return c.lim
}

type baseResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// admit consults the limiter for the call. On denial it returns a
// *limiter.RateLimitedError carrying the estimated wait; permanent
// conditions (invalid cost, unknown tier) pass through unchanged.
func (c *Client) admit(method, path string) error {
	tier := limiter.Classify(method, path)
	ok, err := c.lim.Consume(tier)
	if err != nil {
		return err
	}
	if !ok {
		wait, werr := c.lim.EstimateWait(tier, 1)
		if werr != nil {
			wait = 0
		}
		return &limiter.RateLimitedError{Tier: tier, RetryAfter: wait}
	}
	return nil
}

// call performs one admitted API request. body may be nil; out receives the
// decoded response envelope and may be nil when the caller only cares about
// the business code. authed controls the Authorization header; the token
// endpoint itself is the only unauthed call.
func (c *Client) call(ctx context.Context, method, path string, query string, body, out any, authed bool) error {
	if err := c.admit(method, path); err != nil {
		return err
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("lark: encode %s %s: %w", method, path, err)
		}
		reqBody = bytes.NewReader(data)
	}

	u := c.baseURL + path
	if query != "" {
		u += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	if authed {
		token, err := c.tenantAccessToken(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var base baseResponse
	if err := json.Unmarshal(data, &base); err != nil {
		return fmt.Errorf("lark: decode %s %s (HTTP %d): %w", method, path, resp.StatusCode, err)
	}
	if base.Code != 0 {
		return &APIError{Code: base.Code, Msg: base.Msg, Method: method, Path: path}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("lark: decode %s %s: %w", method, path, err)
		}
	}
	return nil
}

type tenantTokenRequest struct {
	AppID     string `json:"app_id"`
	AppSecret string `json:"app_secret"`
}

type tenantTokenResponse struct {
	baseResponse
	TenantAccessToken string `json:"tenant_access_token"`
	Expire            int    `json:"expire"`
}

// tenantAccessToken returns a cached tenant access token, fetching a fresh
// one when the cached token is missing or close to expiry.
func (c *Client) tenantAccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tenantToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.tenantToken, nil
	}

	var res tenantTokenResponse
	err := c.call(ctx, http.MethodPost, "/open-apis/auth/v3/tenant_access_token/internal", "",
		tenantTokenRequest{AppID: c.appID, AppSecret: c.appSecret}, &res, false)
	if err != nil {
		return "", fmt.Errorf("lark: tenant access token: %w", err)
	}

	c.tenantToken = res.TenantAccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(res.Expire)*time.Second - tokenExpirySkew)

	c.logger.Debug("Refreshed tenant access token",
		zap.Time("expiry", c.tokenExpiry),
	)
	return c.tenantToken, nil
}
