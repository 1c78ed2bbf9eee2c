// Package fetch downloads receipt images over HTTP.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

type Config struct {
	HeadTimeout time.Duration
	GetTimeout  time.Duration
	Cookie      string // sent verbatim when set, for hosts behind a login session
	UserAgent   string
}

// Client probes and streams receipt image URLs.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if cfg.HeadTimeout <= 0 {
		cfg.HeadTimeout = 10 * time.Second
	}
	if cfg.GetTimeout <= 0 {
		cfg.GetTimeout = 30 * time.Second
	}
	return &Client{cfg: cfg, http: httpClient, logger: logger}
}

// ContentType issues a HEAD request and returns the Content-Type header.
func (c *Client) ContentType(ctx context.Context, rawURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.HeadTimeout)
	defer cancel()

	resp, err := c.do(ctx, http.MethodHead, rawURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	return resp.Header.Get("Content-Type"), nil
}

// Fetch issues a GET and returns the streaming body. The GET timeout covers
// reading the body too, so it is released when the body is closed.
func (c *Client) Fetch(ctx context.Context, rawURL string) (io.ReadCloser, string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.GetTimeout)
	resp, err := c.do(ctx, http.MethodGet, rawURL)
	if err != nil {
		cancel()
		return nil, "", err
	}
	return &cancelBody{ReadCloser: resp.Body, cancel: cancel}, resp.Header.Get("Content-Type"), nil
}

func (c *Client) do(ctx context.Context, method, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", method, err)
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	if c.cfg.Cookie != "" {
		req.Header.Set("Cookie", c.cfg.Cookie)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("http request failed", "method", method, "url", rawURL, "error", err)
		return nil, fmt.Errorf("%s %s: %w", method, rawURL, err)
	}
	c.logger.Debug("http request done",
		"method", method,
		"url", rawURL,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%s %s: unexpected status %d", method, rawURL, resp.StatusCode)
	}
	return resp, nil
}

type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
