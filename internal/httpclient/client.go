// Package httpclient is the short-lived GET/POST helper used to fetch device
// descriptions and post SOAP actions. It never retries; retry is the
// media controller's concern.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

const userAgent = "UPnPCast/1.0"

var cacheableContentTypes = map[string]bool{
	"text/xml":        true,
	"application/xml": true,
	"text/html":       true,
	"text/plain":      true,
}

// Config configures timeouts and the optional response cache.
type Config struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	CacheTTL       time.Duration
	Log            *logrus.Entry
}

// DefaultConfig returns the default timeouts (connect 8s, read 15s) and a 1-hour
// cache TTL.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 8 * time.Second,
		ReadTimeout:    15 * time.Second,
		CacheTTL:       time.Hour,
	}
}

// Result is a successful GET or POST response.
type Result struct {
	Body    []byte
	Headers http.Header
	Status  int
}

// Client is a short-lived-connection HTTP helper with an optional description cache.
type Client struct {
	http  *http.Client
	cache *cache.Cache
	log   *logrus.Entry
}

// New builds a Client from cfg. The cache is always created; callers that never set
// useCache simply never populate it.
func New(cfg Config) *Client {
	log := cfg.Log
	if log == nil {
		log = logrus.WithField("component", "httpclient")
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultConfig().CacheTTL
	}
	return &Client{
		http: &http.Client{
			Timeout: cfg.ConnectTimeout + cfg.ReadTimeout,
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
				DisableKeepAlives:   true,
				TLSHandshakeTimeout: cfg.ConnectTimeout,
			},
		},
		cache: cache.New(cfg.CacheTTL, cfg.CacheTTL/2),
		log:   log,
	}
}

// Get performs an HTTP GET, optionally consulting/populating the response cache keyed by
// the exact URL. Only responses whose Content-Type matches one of the cacheable types are
// stored.
func (c *Client) Get(ctx context.Context, url string, useCache bool) (Result, error) {
	if useCache {
		if cached, ok := c.cache.Get(url); ok {
			c.log.WithField("url", url).Debug("description cache hit")
			return cached.(Result), nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{}, fmt.Errorf("httpclient: build GET request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Connection", "close")

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, &NetworkError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, &NetworkError{URL: url, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, &NetworkError{URL: url, Status: resp.StatusCode}
	}

	result := Result{Body: body, Headers: resp.Header, Status: resp.StatusCode}

	if useCache && cacheableContentType(resp.Header.Get("Content-Type")) {
		c.cache.SetDefault(url, result)
	}
	return result, nil
}

// Post performs a SOAP POST: Content-Type text/xml, SOAPAction carrying the quoted
// action string the caller supplies.
func (c *Client) Post(ctx context.Context, url, soapAction string, body string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("httpclient: build POST request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", soapAction)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Connection", "close")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &NetworkError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{URL: url, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return respBody, &NetworkError{URL: url, Status: resp.StatusCode, Body: respBody}
	}
	return respBody, nil
}

// Close clears the in-process response cache. Safe to call more than once.
func (c *Client) Close() {
	c.cache.Flush()
}

func cacheableContentType(header string) bool {
	mediaType := header
	if idx := strings.IndexByte(header, ';'); idx != -1 {
		mediaType = header[:idx]
	}
	return cacheableContentTypes[strings.TrimSpace(strings.ToLower(mediaType))]
}
