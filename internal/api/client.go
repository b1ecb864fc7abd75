package api

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"stock-analysis-fetcher/internal/logger"
)

// Client is the HTTP transport for the fetcher. Responses with status below
// 500 are returned as values; 5xx responses and transport failures are errors.
type Client struct {
	httpClient         *http.Client
	maxRedirects       int
	insecureSkipVerify bool
	useLogging         bool
}

// logDebug logs debug messages using the global logger
func (c *Client) logDebug(ctx context.Context, msg string, args ...any) {
	if c.useLogging {
		logger.Debug(ctx, msg, args...)
	}
}

// logWarn logs warning messages using the global logger
func (c *Client) logWarn(ctx context.Context, msg string, args ...any) {
	if c.useLogging {
		logger.Warn(ctx, msg, args...)
	}
}

// logError logs error messages using the global logger
func (c *Client) logError(ctx context.Context, msg string, args ...any) {
	if c.useLogging {
		logger.Error(ctx, msg, args...)
	}
}

// ClientOption configures the API client
type ClientOption func(*Client)

// WithTimeout sets the per-attempt timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithMaxRedirects caps the redirect chain; 0 returns the 3xx response as is
func WithMaxRedirects(n int) ClientOption {
	return func(c *Client) {
		c.maxRedirects = n
	}
}

// WithInsecureSkipVerify disables TLS certificate verification
func WithInsecureSkipVerify(skip bool) ClientOption {
	return func(c *Client) {
		c.insecureSkipVerify = skip
	}
}

// WithLogging enables logging for the API client
func WithLogging(enabled bool) ClientOption {
	return func(c *Client) {
		c.useLogging = enabled
	}
}

// NewClient creates a new API client with the given options
func NewClient(opts ...ClientOption) *Client {
	client := &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		maxRedirects:       5,
		insecureSkipVerify: true,
		useLogging:         false,
	}

	for _, opt := range opts {
		opt(client)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: client.insecureSkipVerify} //nolint:gosec
	client.httpClient.Transport = transport
	client.httpClient.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if client.maxRedirects == 0 {
			return http.ErrUseLastResponse
		}
		if len(via) > client.maxRedirects {
			return fmt.Errorf("stopped after %d redirects", client.maxRedirects)
		}
		return nil
	}

	return client
}

// Response represents an HTTP response with a decoded body
type Response struct {
	StatusCode  int
	Body        []byte
	Headers     http.Header
	ContentType string
	FinalURL    string
}

// String returns the response body as a string
func (r *Response) String() string {
	return string(r.Body)
}

// Send performs a GET against rawURL with header and query merged into the URL.
// A "Host" entry in header overrides the request host.
func (c *Client) Send(ctx context.Context, rawURL string, header http.Header, query url.Values) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &NetworkError{URL: rawURL, Err: fmt.Errorf("invalid url: %w", err)}
	}
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	target := u.String()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		c.logError(ctx, "Failed to create HTTP request", "error", err)
		return nil, &NetworkError{URL: target, Err: err}
	}
	for k, vs := range header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if host := header.Get("Host"); host != "" {
		httpReq.Host = host
	}

	c.logDebug(ctx, "HTTP Request", "method", http.MethodGet, "url", target)

	startTime := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logWarn(ctx, "HTTP request failed", "url", target, "error", err)
		if isTimeout(err) {
			return nil, &TimeoutError{URL: target, Timeout: c.httpClient.Timeout, Err: err}
		}
		return nil, &NetworkError{URL: target, Err: err}
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		if isTimeout(err) {
			return nil, &TimeoutError{URL: target, Timeout: c.httpClient.Timeout, Err: err}
		}
		return nil, &NetworkError{URL: target, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	body, err := decodeBody(httpResp.Header.Get("Content-Encoding"), raw)
	if err != nil {
		c.logWarn(ctx, "Failed to decode response body, using raw bytes",
			"encoding", httpResp.Header.Get("Content-Encoding"), "error", err)
		body = raw
	}

	finalURL := target
	if httpResp.Request != nil && httpResp.Request.URL != nil {
		finalURL = httpResp.Request.URL.String()
	}

	c.logDebug(ctx, "HTTP Response",
		"url", finalURL,
		"status", httpResp.StatusCode,
		"duration", time.Since(startTime),
		"bodySize", len(body))

	resp := &Response{
		StatusCode:  httpResp.StatusCode,
		Body:        body,
		Headers:     httpResp.Header,
		ContentType: httpResp.Header.Get("Content-Type"),
		FinalURL:    finalURL,
	}

	if httpResp.StatusCode >= 500 {
		return nil, &ServerError{URL: finalURL, StatusCode: httpResp.StatusCode, Response: resp}
	}
	return resp, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// decodeBody undoes Content-Encoding. Accept-Encoding is set by the caller,
// so net/http leaves compressed bodies untouched.
func decodeBody(encoding string, raw []byte) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return raw, nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	case "deflate":
		// Servers disagree on whether deflate means zlib-wrapped or raw.
		if zr, err := zlib.NewReader(bytes.NewReader(raw)); err == nil {
			defer zr.Close()
			if out, err := io.ReadAll(zr); err == nil {
				return out, nil
			}
		}
		fr := flate.NewReader(bytes.NewReader(raw))
		defer fr.Close()
		return io.ReadAll(fr)
	case "br":
		return io.ReadAll(brotli.NewReader(bytes.NewReader(raw)))
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}
}
