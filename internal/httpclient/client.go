package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	mathrand "math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/net/html/charset"

	"ybenali/salespipeline/internal/observability"
	"ybenali/salespipeline/logger"
	apperr "ybenali/salespipeline/pkg/errors"
	"ybenali/salespipeline/services/cache"
)

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/14.0.3 Safari/605.1.15",
}

// Options configures a Client
type Options struct {
	Timeout        time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	CooldownTime   time.Duration
	Limiter        *RateLimiter
	Cache          cache.Service
}

// Client wraps a single long-lived http.Client with browser headers,
// bounded retries with exponential backoff, and a shared rate limit
type Client struct {
	http           *http.Client
	limiter        *RateLimiter
	cache          cache.Service
	maxRetries     int
	retryBaseDelay time.Duration
	cooldownTime   time.Duration
	log            *logger.Logger
}

// New creates a Client. The underlying http.Client owns one connection
// pool for the whole process lifetime.
func New(opts Options) *Client {
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 3
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = 2 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.CooldownTime <= 0 {
		opts.CooldownTime = 5 * time.Minute
	}

	return &Client{
		http: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter:        opts.Limiter,
		cache:          opts.Cache,
		maxRetries:     opts.MaxRetries,
		retryBaseDelay: opts.RetryBaseDelay,
		cooldownTime:   opts.CooldownTime,
		log:            logger.ForHTTP(),
	}
}

// Fetch retrieves rawURL and returns the body as UTF-8 bytes.
// Transient failures (connection errors, timeouts, 429, 5xx) are retried
// up to MaxRetries with exponential backoff; 404 and other client errors
// surface immediately.
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, apperr.NewTerminal("", fmt.Sprintf("malformed url %q", rawURL), err)
	}

	if err := c.checkCooldown(parsed.Host); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if attempt > 1 {
			if err := c.backoff(ctx, attempt-1); err != nil {
				return nil, err
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		body, err := c.fetchOnce(ctx, rawURL)
		if err == nil {
			return body, nil
		}
		if !apperr.Retryable(err) {
			return nil, err
		}

		lastErr = err
		observability.FetchRetriesTotal.WithLabelValues(parsed.Host).Inc()
		c.log.Warn().
			Str("url", rawURL).
			Int("attempt", attempt).
			Int("max_retries", c.maxRetries).
			Err(err).
			Msg("Fetch attempt failed")

		if apperr.TypeOf(err) == apperr.ErrorTypeRateLimit {
			c.setCooldown(parsed.Host)
		}
	}

	return nil, apperr.NewNetwork("", fmt.Sprintf("fetch failed after %d attempts: %s", c.maxRetries, rawURL), lastErr)
}

// fetchOnce performs a single request without retry bookkeeping
func (c *Client) fetchOnce(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, apperr.NewTerminal("", "failed to create request", err)
	}
	setBrowserHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperr.NewNetwork("", "request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// Fall through to body handling
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := cooldownFromHeader(resp.Header.Get("Retry-After"), c.cooldownTime)
		return nil, apperr.NewRateLimit(req.URL.Host, retryAfter)
	case resp.StatusCode >= 500:
		return nil, apperr.NewNetwork("", fmt.Sprintf("server error %d for %s", resp.StatusCode, rawURL), nil)
	default:
		return nil, apperr.NewTerminal("", fmt.Sprintf("unexpected status code %d for %s", resp.StatusCode, rawURL), nil)
	}

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.NewNetwork("", "failed to read response body", err)
	}

	return toUTF8(bodyBytes, resp.Header.Get("Content-Type"))
}

// backoff sleeps for retryBaseDelay doubled per elapsed attempt, with jitter
func (c *Client) backoff(ctx context.Context, attempt int) error {
	delay := c.retryBaseDelay << (attempt - 1)
	jitter := time.Duration(mathrand.Int63n(int64(delay)/4 + 1))
	timer := time.NewTimer(delay + jitter)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) checkCooldown(host string) error {
	if c.cache == nil {
		return nil
	}
	if v, err := c.cache.Get(cooldownKey(host)); err == nil {
		secs, _ := strconv.Atoi(string(v))
		return apperr.NewRateLimit(host, time.Duration(secs)*time.Second)
	}
	return nil
}

func (c *Client) setCooldown(host string) {
	if c.cache == nil {
		return
	}
	secs := int(c.cooldownTime / time.Second)
	if err := c.cache.Set(cooldownKey(host), []byte(strconv.Itoa(secs)), c.cooldownTime); err != nil {
		c.log.Debug().Str("host", host).Err(err).Msg("Failed to set cooldown")
	}
}

func cooldownKey(host string) string {
	return "cooldown:" + host
}

func cooldownFromHeader(retryAfter string, fallback time.Duration) time.Duration {
	if secs, err := strconv.Atoi(retryAfter); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

// setBrowserHeaders applies the fixed browser-identifying header set.
// Several of the target sites reject clients without them.
func setBrowserHeaders(req *http.Request) {
	rnd := mathrand.New(mathrand.NewSource(time.Now().UnixNano()))
	req.Header.Set("User-Agent", userAgents[rnd.Intn(len(userAgents))])
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "fr-FR,fr;q=0.9,en-US;q=0.8,en;q=0.7")
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
}

// toUTF8 converts body to UTF-8 based on the Content-Type header and content sniffing
func toUTF8(body []byte, contentType string) ([]byte, error) {
	encoding, name, _ := charset.DetermineEncoding(body, contentType)
	if name == "utf-8" || name == "UTF-8" {
		return body, nil
	}

	utf8Reader := encoding.NewDecoder().Reader(bytes.NewReader(body))
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, utf8Reader); err != nil {
		return nil, apperr.NewParsing("", "failed to convert body to UTF-8", err)
	}
	return buf.Bytes(), nil
}
