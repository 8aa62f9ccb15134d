// Package proxypool holds the candidate proxies for a run, hands them out in
// random order and records a verdict for every one that gets verified.
package proxypool

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"domainscraper/pkg/config"
	errs "domainscraper/pkg/errors"
	"domainscraper/pkg/logger"
	"domainscraper/pkg/models"
	"domainscraper/pkg/session"
)

// Pool is safe for concurrent use
type Pool struct {
	mu         sync.Mutex
	candidates []models.ProxyAddress
	good       []models.ProxyAddress
	bad        []models.ProxyAddress
	rng        *rand.Rand

	echoURL       string
	verifyTimeout time.Duration
	headers       map[string]string
	logger        logger.Logger
}

// Option configures a Pool
type Option func(*Pool)

// WithRand sets the random source used by PickNext
func WithRand(r *rand.Rand) Option {
	return func(p *Pool) { p.rng = r }
}

// WithLogger sets the pool logger
func WithLogger(l logger.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithHeaders sets headers sent with the verification request
func WithHeaders(h map[string]string) Option {
	return func(p *Pool) { p.headers = h }
}

// New creates an empty pool verifying against cfg.IPEchoURL
func New(cfg config.ProxyConfig, opts ...Option) *Pool {
	p := &Pool{
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
		echoURL:       cfg.IPEchoURL,
		verifyTimeout: cfg.VerifyTimeout,
		logger:        logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.WithField("component", "proxypool")
	return p
}

// LoadCandidates replaces the candidate list with the source's contents.
// An empty list is a SourceUnavailable error.
func (p *Pool) LoadCandidates(src Source) (int, error) {
	raw, err := src.Load()
	if err != nil {
		return 0, err
	}
	if len(raw) == 0 {
		return 0, errs.SourceUnavailable("proxy list is empty", nil)
	}

	candidates := make([]models.ProxyAddress, 0, len(raw))
	for _, r := range raw {
		candidates = append(candidates, models.ProxyAddress(r))
	}

	p.mu.Lock()
	p.candidates = candidates
	p.mu.Unlock()

	p.logger.InfoWithFields("Proxy candidates loaded", map[string]interface{}{
		"count": len(candidates),
	})
	return len(candidates), nil
}

// PickNext removes and returns a uniformly random candidate. It returns
// false once every candidate has been drawn.
func (p *Pool) PickNext() (models.ProxyAddress, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.candidates)
	if n == 0 {
		return "", false
	}
	i := p.rng.Intn(n)
	picked := p.candidates[i]
	p.candidates[i] = p.candidates[n-1]
	p.candidates = p.candidates[:n-1]
	return picked, true
}

// Drain removes and returns every remaining candidate
func (p *Pool) Drain() []models.ProxyAddress {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := p.candidates
	p.candidates = nil
	return out
}

// Remaining returns the number of candidates not yet drawn
func (p *Pool) Remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.candidates)
}

// Verify fetches the IP echo page through addr. The proxy is good only if
// the echoed IP appears in the proxy address. Every call records exactly
// one verdict.
func (p *Pool) Verify(ctx context.Context, addr models.ProxyAddress) bool {
	echoed, err := p.echo(ctx, addr)
	good := err == nil && echoed != "" && strings.Contains(addr.String(), echoed)

	if err != nil {
		p.logger.WarnWithFields("Proxy verification request failed", map[string]interface{}{
			"proxy": addr.String(),
			"error": err.Error(),
		})
	}
	logger.LogProxyVerdict(p.logger, addr.String(), echoed, good)

	p.record(addr, good)
	return good
}

func (p *Pool) echo(ctx context.Context, addr models.ProxyAddress) (string, error) {
	s, err := session.New(addr, p.verifyTimeout,
		session.WithHeaders(p.headers),
		session.WithLogger(p.logger),
	)
	if err != nil {
		return "", err
	}
	defer s.Close()

	resp, err := s.Get(ctx, p.echoURL)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Body), nil
}

func (p *Pool) record(addr models.ProxyAddress, good bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if good {
		p.good = append(p.good, addr)
	} else {
		p.bad = append(p.bad, addr)
	}
}

// Verdicts returns copies of the good and bad lists in verification order
func (p *Pool) Verdicts() (good, bad []models.ProxyAddress) {
	p.mu.Lock()
	defer p.mu.Unlock()
	good = append([]models.ProxyAddress(nil), p.good...)
	bad = append([]models.ProxyAddress(nil), p.bad...)
	return good, bad
}
