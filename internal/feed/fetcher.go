package feed

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"feedsync/internal/domain"
	"feedsync/internal/ratelimiter"
)

const (
	userAgent = "feedsync/1.0"

	defaultFetchTimeout = 20 * time.Second
	maxFeedBodyBytes    = 10 << 20
)

type Fetcher struct {
	client  *http.Client
	parser  *Parser
	limiter *ratelimiter.RateLimiter
	timeout time.Duration
	log     *slog.Logger
}

func NewFetcher(
	timeout time.Duration,
	limiter *ratelimiter.RateLimiter,
	log *slog.Logger,
) *Fetcher {
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}

	return &Fetcher{
		client:  newHTTPClient(timeout),
		parser:  NewParser(),
		limiter: limiter,
		timeout: timeout,
		log:     log,
	}
}

// Fetch downloads and parses one feed. Transport problems are reported as
// domain.ErrFetch and unparsable bodies as domain.ErrParse.
func (f *Fetcher) Fetch(ctx context.Context, feedURL string) (domain.RawFeed, error) {
	feedURL = strings.TrimSpace(feedURL)

	if err := validateFeedURL(feedURL); err != nil {
		return domain.RawFeed{}, fmt.Errorf("%w: %w", domain.ErrFetch, err)
	}

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, feedURL); err != nil {
			return domain.RawFeed{}, fmt.Errorf("%w: %w", domain.ErrFetch, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	start := time.Now()

	body, err := f.download(ctx, feedURL)
	if err != nil {
		return domain.RawFeed{}, fmt.Errorf("%w: %w", domain.ErrFetch, err)
	}

	raw, err := f.parser.Parse(body)
	if err != nil {
		return domain.RawFeed{}, fmt.Errorf("%w: %s: %w", domain.ErrParse, feedURL, err)
	}

	f.log.DebugContext(ctx, "Feed is fetched",
		"feedURL", feedURL,
		"itemCount", len(raw.Items),
		"bodyBytes", len(body),
		"elapsed", time.Since(start))

	return raw, nil
}

func (f *Fetcher) download(ctx context.Context, feedURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/feed+json, application/xml;q=0.9, */*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer func() {
		if err = resp.Body.Close(); err != nil {
			f.log.ErrorContext(ctx, "Failed to close response body",
				"error", err,
				"feedURL", feedURL)
		}
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("unexpected status (URL = %s): %s", feedURL, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if len(body) > maxFeedBodyBytes {
		return nil, fmt.Errorf("body exceeds %d bytes (URL = %s)", maxFeedBodyBytes, feedURL)
	}

	return body, nil
}

func validateFeedURL(feedURL string) error {
	if feedURL == "" {
		return errors.New("feed URL is empty")
	}

	u, err := url.Parse(feedURL)
	if err != nil {
		return fmt.Errorf("parse URL: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme %q (must be http or https)", u.Scheme)
	}

	if u.Host == "" {
		return errors.New("missing host in URL")
	}

	return nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

var _ domain.Fetcher = (*Fetcher)(nil)
