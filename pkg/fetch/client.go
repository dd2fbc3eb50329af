// Package fetch implements the outbound HTTP client every provider
// integration goes through. A request is checked against the host allowlist,
// admitted by the target's rate limiter, guarded by its circuit breaker and
// retried with exponential backoff.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"golang.org/x/net/proxy"

	fetcherrors "Wayfarer/pkg/errors"
	"Wayfarer/pkg/metrics"
	"Wayfarer/pkg/resilience"
)

const (
	// DefaultTimeout 单次请求超时
	DefaultTimeout = 10 * time.Second

	// DefaultRetries 默认重试次数（总尝试次数 = Retries + 1）
	DefaultRetries = 2

	// UserAgent Wayfarer 的 User-Agent
	UserAgent = "Wayfarer/1.0"

	maxBodyBytes = 4 << 20
)

// Config holds client wide settings.
type Config struct {
	Timeout             time.Duration
	Retries             int
	BaseDelay           time.Duration
	MaxDelay            time.Duration
	Multiplier          float64
	RandomizationFactor float64
	// MaxRetryAfter is the longest Retry-After the client is willing to wait.
	// Longer hints end the retry loop with the provider's error.
	MaxRetryAfter time.Duration
	// ProxyURL optionally routes all traffic through socks5, http or https proxies.
	ProxyURL string
}

// DefaultConfig returns the default client settings.
func DefaultConfig() Config {
	return Config{
		Timeout:             DefaultTimeout,
		Retries:             DefaultRetries,
		BaseDelay:           200 * time.Millisecond,
		MaxDelay:            10 * time.Second,
		Multiplier:          1.5,
		RandomizationFactor: 0.5,
		MaxRetryAfter:       30 * time.Second,
	}
}

// Options tunes a single FetchResource call. Zero values fall back to the client config,
// except Retries where zero means a single attempt; use Client.Options for defaults.
type Options struct {
	Timeout time.Duration
	Retries int
	// Target keys the circuit breaker and rate limiter. Defaults to the URL host.
	Target string
	Method string
	Header http.Header
	Body   []byte
}

// Response is a successful provider reply. Body is guaranteed to be valid JSON.
type Response struct {
	Status int
	Header http.Header
	Body   json.RawMessage
}

// Observer receives per-attempt observations. *metrics.Metrics implements it.
type Observer interface {
	ObserveFetch(target, outcome string, d time.Duration)
	ObserveLimiterRejection(target, limitType string)
}

type nopObserver struct{}

func (nopObserver) ObserveFetch(string, string, time.Duration) {}
func (nopObserver) ObserveLimiterRejection(string, string)     {}

// Client is the resilient outbound HTTP client.
type Client struct {
	config   Config
	allow    *Allowlist
	registry *resilience.Registry
	http     *http.Client
	observer Observer
	log      *log.Helper

	now   func() time.Time
	rand  func() float64
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a client. observer may be nil.
func NewClient(config Config, allow *Allowlist, registry *resilience.Registry, observer Observer, logger log.Logger) (*Client, error) {
	def := DefaultConfig()
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.Retries < 0 {
		config.Retries = 0
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = def.BaseDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = def.MaxDelay
	}
	if config.Multiplier < 1 {
		config.Multiplier = def.Multiplier
	}
	if config.MaxRetryAfter <= 0 {
		config.MaxRetryAfter = def.MaxRetryAfter
	}
	if allow == nil {
		allow = NewAllowlist(nil)
	}
	if observer == nil {
		observer = nopObserver{}
	}

	httpClient, err := newHTTPClient(config.ProxyURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}

	return &Client{
		config:   config,
		allow:    allow,
		registry: registry,
		http:     httpClient,
		observer: observer,
		log:      log.NewHelper(logger),
		now:      time.Now,
		rand:     rand.Float64,
		sleep:    sleepContext,
	}, nil
}

// Options returns call options populated from the client defaults.
func (c *Client) Options() Options {
	return Options{Timeout: c.config.Timeout, Retries: c.config.Retries}
}

// Allowlist returns the allowlist enforced by the client.
func (c *Client) Allowlist() *Allowlist {
	return c.allow
}

// FetchResource performs a JSON request against rawURL.
//
// Hosts outside the allowlist fail before any I/O. Rate limiter rejections,
// timeouts, network errors, invalid JSON and HTTP 429/5xx are retried up to
// opts.Retries times; other 4xx statuses and open circuits fail immediately.
// When the budget is exhausted the last error is returned.
func (c *Client) FetchResource(ctx context.Context, rawURL string, opts Options) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return nil, fetcherrors.NewNetworkError(rawURL, "invalid url", err)
	}

	host := u.Hostname()
	if !c.allow.Allowed(host) {
		c.log.Warnw("msg", "outbound request blocked by allowlist", "host", host, "type", "security")
		return nil, fetcherrors.NewHostNotAllowedError(host)
	}

	target := opts.Target
	if target == "" {
		target = host
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.config.Timeout
	}
	retries := opts.Retries
	if retries < 0 {
		retries = 0
	}

	guard := Chain(
		WithRateLimiter(c.registry.LimiterFor(target, host)),
		WithCircuitBreaker(c.registry.Breaker(target)),
	)
	bo := c.newBackOff()

	var lastErr error
	var hint time.Duration
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			delay := bo.NextBackOff()
			if hint > 0 {
				// the provider's Retry-After replaces the computed backoff
				delay = jitter(hint, retryAfterJitter, c.rand)
			}
			c.log.Debugw("msg", "retrying outbound request",
				"target", target,
				"attempt", attempt+1,
				"delay", delay.String(),
				"error", lastErr.Error(),
				"type", "fetch")
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		// the breaker may abandon a timed out call, so results travel over a
		// buffered channel instead of shared variables
		results := make(chan attemptResult, 1)
		call := func(ctx context.Context) error {
			r, retryAfter, err := c.do(ctx, rawURL, target, timeout, opts)
			results <- attemptResult{resp: r, retryAfter: retryAfter}
			return err
		}

		guardErr := guard(call)(ctx)
		var res attemptResult
		select {
		case res = <-results:
		default:
		}
		hint = res.retryAfter

		err := c.classify(target, guardErr, &hint)
		if err == nil {
			return res.resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err
		if !fetcherrors.IsRetryable(err) {
			c.log.Warnw("msg", "outbound request failed", "target", target, "attempt", attempt+1, "error", err.Error(), "type", "fetch")
			return nil, err
		}
		if hint > c.config.MaxRetryAfter {
			c.log.Warnw("msg", "provider asked to back off longer than allowed", "target", target, "retry_after", hint.String(), "type", "fetch")
			return nil, err
		}
	}

	c.log.Warnw("msg", "outbound request retries exhausted", "target", target, "attempts", retries+1, "error", lastErr.Error(), "type", "fetch")
	return nil, fmt.Errorf("all %d attempts exhausted: %w", retries+1, lastErr)
}

type attemptResult struct {
	resp       *Response
	retryAfter time.Duration
}

// classify converts resilience rejections into fetch errors, picking up the
// limiter's retry hint.
func (c *Client) classify(target string, err error, hint *time.Duration) error {
	if err == nil {
		return nil
	}

	var fe *fetcherrors.FetchError
	var rlErr *resilience.RateLimitExceededError
	switch {
	case errors.As(err, &fe):
		return err
	case errors.As(err, &rlErr):
		c.observer.ObserveLimiterRejection(target, rlErr.LimitType)
		*hint = rlErr.RetryAfter
		return fetcherrors.NewRateLimitedError(target, err)
	case resilience.IsCircuitOpen(err):
		return fetcherrors.NewCircuitOpenError(target, err)
	case errors.Is(err, resilience.ErrBreakerTimeout):
		c.observer.ObserveFetch(target, metrics.OutcomeTimeout, c.config.Timeout)
		return fetcherrors.NewTimeoutError(target, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fetcherrors.NewNetworkError(target, "request failed", err)
	}
}

// do performs one network round trip and records its observation.
func (c *Client) do(ctx context.Context, rawURL, target string, timeout time.Duration, opts Options) (*Response, time.Duration, error) {
	start := c.now()
	resp, retryAfter, err := c.roundTrip(ctx, rawURL, target, timeout, opts)
	if ctx.Err() == nil {
		c.observer.ObserveFetch(target, outcomeOf(resp, err), c.now().Sub(start))
	}
	return resp, retryAfter, err
}

func (c *Client) roundTrip(parent context.Context, rawURL, target string, timeout time.Duration, opts Options) (*Response, time.Duration, error) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if opts.Body != nil {
		body = bytes.NewReader(opts.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, 0, fetcherrors.NewNetworkError(target, "failed to create request", err)
	}
	for k, vs := range opts.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("User-Agent", UserAgent)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, transportError(parent, ctx, target, err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, 0, transportError(parent, ctx, target, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"), c.now())
		return nil, retryAfter, fetcherrors.NewHTTPError(target, resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	if !json.Valid(payload) {
		return nil, 0, fetcherrors.NewNetworkError(target, "invalid JSON response", nil)
	}

	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: payload}, 0, nil
}

func transportError(parent, attempt context.Context, target string, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(attempt.Err(), context.DeadlineExceeded) {
		return fetcherrors.NewTimeoutError(target, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fetcherrors.NewTimeoutError(target, err)
	}
	return fetcherrors.NewNetworkError(target, "request failed", err)
}

func outcomeOf(resp *Response, err error) string {
	if err == nil {
		return metrics.StatusOutcome(resp.Status)
	}
	switch fetcherrors.KindOf(err) {
	case fetcherrors.KindHTTP:
		return metrics.StatusOutcome(fetcherrors.StatusOf(err))
	case fetcherrors.KindTimeout:
		return metrics.OutcomeTimeout
	default:
		return metrics.OutcomeNetwork
	}
}

// IsProviderFailure decides which errors count toward a breaker's failure
// threshold: client errors other than 429 say nothing about provider health.
func IsProviderFailure(err error) bool {
	if fetcherrors.KindOf(err) == fetcherrors.KindHTTP {
		return fetcherrors.IsRetryable(err)
	}
	return true
}

// FetchJSON fetches rawURL and decodes the body into T.
func FetchJSON[T any](ctx context.Context, c *Client, rawURL string, opts Options) (T, error) {
	var out T
	resp, err := c.FetchResource(ctx, rawURL, opts)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return out, fetcherrors.NewNetworkError(opts.Target, "failed to decode response", err)
	}
	return out, nil
}

// newHTTPClient 创建 HTTP 客户端（支持代理）
func newHTTPClient(proxyURL string) (*http.Client, error) {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	if proxyURL != "" {
		parsed, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}

		switch parsed.Scheme {
		case "socks5", "socks5h":
			dialer, err := newSOCKS5Dialer(parsed)
			if err != nil {
				return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
			}
			if cd, ok := dialer.(proxy.ContextDialer); ok {
				transport.DialContext = cd.DialContext
			} else {
				transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
					return dialer.Dial(network, addr)
				}
			}

		case "http", "https":
			transport.Proxy = http.ProxyURL(parsed)

		default:
			return nil, fmt.Errorf("unsupported proxy scheme: %s (supported: socks5, http, https)", parsed.Scheme)
		}
	}

	// per-attempt deadlines come from the request context
	return &http.Client{Transport: transport}, nil
}

// newSOCKS5Dialer 创建 SOCKS5 代理 dialer
func newSOCKS5Dialer(parsed *url.URL) (proxy.Dialer, error) {
	var auth *proxy.Auth
	if parsed.User != nil {
		password, _ := parsed.User.Password()
		auth = &proxy.Auth{
			User:     parsed.User.Username(),
			Password: password,
		}
	}

	host := parsed.Host
	if parsed.Port() == "" {
		host += ":1080" // SOCKS5 默认端口
	}

	return proxy.SOCKS5("tcp", host, auth, proxy.Direct)
}
