// Package session binds an HTTP client to a single proxy and keeps the
// cookie jar for the lifetime of one proxy attempt.
package session

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/proxy"

	errs "domainscraper/pkg/errors"
	"domainscraper/pkg/logger"
	"domainscraper/pkg/models"
)

const defaultMaxBodyBytes int64 = 5 << 20

// Response is a successful (HTTP 200) response
type Response struct {
	StatusCode int
	Body       string
	// FinalURL is the URL after redirects were followed
	FinalURL string
	Header   http.Header
}

// Session performs requests through one proxy. The cookie jar is a plain
// name/value map that is only updated from HTTP 200 responses, last write
// wins, and is never shared with another Session.
type Session struct {
	proxy   models.ProxyAddress
	client  *http.Client
	headers map[string]string
	host    string
	origin  string
	maxBody int64
	logger  logger.Logger

	mu      sync.Mutex
	cookies map[string]string
}

// Option configures a Session
type Option func(*Session)

// WithHeaders sets the base headers sent on every request
func WithHeaders(headers map[string]string) Option {
	return func(s *Session) {
		for k, v := range headers {
			s.headers[k] = v
		}
	}
}

// WithTarget sets the Host and Origin values used on form posts
func WithTarget(host, origin string) Option {
	return func(s *Session) {
		s.host = host
		s.origin = origin
	}
}

// WithMaxBodyBytes caps how much of a response body is read
func WithMaxBodyBytes(n int64) Option {
	return func(s *Session) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

// WithLogger sets the session logger
func WithLogger(l logger.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTransport replaces the proxy transport, for tests
func WithTransport(rt http.RoundTripper) Option {
	return func(s *Session) {
		s.client.Transport = rt
	}
}

// New creates a Session bound to p. An empty proxy address connects directly.
func New(p models.ProxyAddress, timeout time.Duration, opts ...Option) (*Session, error) {
	transport, err := newTransport(p, timeout)
	if err != nil {
		return nil, err
	}

	s := &Session{
		proxy: p,
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		headers: make(map[string]string),
		maxBody: defaultMaxBodyBytes,
		logger:  logger.GetLogger(),
		cookies: make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithField("proxy", p.String())
	return s, nil
}

// newTransport builds a transport that routes through p
func newTransport(p models.ProxyAddress, timeout time.Duration) (*http.Transport, error) {
	dialer := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		IdleConnTimeout:       timeout,
		ExpectContinueTimeout: time.Second,
	}
	if p == "" {
		return transport, nil
	}

	proxyURL, err := p.URL()
	if err != nil {
		return nil, fmt.Errorf("invalid proxy address %q: %w", p, err)
	}

	if !p.IsSOCKS5() {
		transport.Proxy = http.ProxyURL(proxyURL)
		return transport, nil
	}

	var auth *proxy.Auth
	if proxyURL.User != nil {
		password, _ := proxyURL.User.Password()
		auth = &proxy.Auth{User: proxyURL.User.Username(), Password: password}
	}
	socks, err := proxy.SOCKS5("tcp", proxyURL.Host, auth, dialer)
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}
	contextDialer, ok := socks.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("SOCKS5 dialer for %s does not support contexts", p)
	}
	transport.DialContext = contextDialer.DialContext
	return transport, nil
}

// Get performs a GET request
func (s *Session) Get(ctx context.Context, rawURL string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errs.Transport(rawURL, s.proxy.String(), 0, err)
	}
	return s.do(req)
}

// Post submits form as application/x-www-form-urlencoded with the target's
// Host and Origin and the request URL as Referer
func (s *Session) Post(ctx context.Context, rawURL string, form url.Values) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errs.Transport(rawURL, s.proxy.String(), 0, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Referer", rawURL)
	if s.origin != "" {
		req.Header.Set("Origin", s.origin)
	}
	if s.host != "" {
		req.Host = s.host
	}
	return s.do(req)
}

// do sends req with the base headers and the jar's cookies
func (s *Session) do(req *http.Request) (*Response, error) {
	for key, value := range s.headers {
		if req.Header.Get(key) == "" {
			req.Header.Set(key, value)
		}
	}
	if cookie := s.cookieHeader(); cookie != "" {
		req.Header.Set("Cookie", cookie)
	}

	target := req.URL.String()
	start := time.Now()
	s.logger.DebugWithFields("sending HTTP request", map[string]interface{}{
		"method":  req.Method,
		"url":     target,
		"cookies": s.cookieNames(),
	})

	resp, err := s.client.Do(req)
	duration := time.Since(start)
	if err != nil {
		s.logger.WarnWithFields("HTTP request failed", map[string]interface{}{
			"method":   req.Method,
			"url":      target,
			"error":    err.Error(),
			"duration": duration,
		})
		return nil, errs.Transport(target, s.proxy.String(), 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, s.maxBody))
		logger.LogRequest(s.logger, req.Method, target, s.proxy.String(), resp.StatusCode, duration)
		return nil, errs.Transport(target, s.proxy.String(), resp.StatusCode, nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBody))
	if err != nil {
		s.logger.WarnWithFields("failed to read response body", map[string]interface{}{
			"url":   target,
			"error": err.Error(),
		})
		return nil, errs.Transport(target, s.proxy.String(), 0, err)
	}

	updated := s.mergeCookies(resp.Cookies())
	s.logger.DebugWithFields("HTTP request completed", map[string]interface{}{
		"method":          req.Method,
		"url":             target,
		"status":          resp.StatusCode,
		"duration":        duration,
		"bytes":           len(body),
		"cookies_updated": updated,
	})

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       string(body),
		FinalURL:   resp.Request.URL.String(),
		Header:     resp.Header.Clone(),
	}, nil
}

func (s *Session) mergeCookies(cookies []*http.Cookie) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(cookies))
	for _, c := range cookies {
		s.cookies[c.Name] = c.Value
		names = append(names, c.Name)
	}
	return names
}

func (s *Session) cookieHeader() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.cookies) == 0 {
		return ""
	}
	names := make([]string, 0, len(s.cookies))
	for name := range s.cookies {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, (&http.Cookie{Name: name, Value: s.cookies[name]}).String())
	}
	return strings.Join(pairs, "; ")
}

func (s *Session) cookieNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.cookies))
	for name := range s.cookies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Cookie returns a single cookie value from the jar
func (s *Session) Cookie(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.cookies[name]
	return v, ok
}

// Close releases idle connections held by the session's transport
func (s *Session) Close() {
	s.client.CloseIdleConnections()
}
