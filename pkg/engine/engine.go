// Package engine runs the per-proxy crawl loop: fetch a listing page, lift a
// bot challenge if one is shown, harvest the records and decide whether to
// move on, switch proxy or stop.
package engine

import (
	"context"
	"fmt"
	"net/url"

	"domainscraper/pkg/config"
	errs "domainscraper/pkg/errors"
	"domainscraper/pkg/logger"
	"domainscraper/pkg/models"
	"domainscraper/pkg/oracle"
	"domainscraper/pkg/parser"
	"domainscraper/pkg/retry"
	"domainscraper/pkg/session"
)

// Reason says why a Run ended
type Reason string

const (
	ReasonExhausted           Reason = "exhausted"
	ReasonIndeterminate       Reason = "indeterminate"
	ReasonTransportFailure    Reason = "transport_failure"
	ReasonChallengeUnsolvable Reason = "challenge_unsolvable"
	ReasonRejectedSolution    Reason = "rejected_solution"
	ReasonMissingResults      Reason = "missing_results"
	ReasonBudgetSpent         Reason = "budget_spent"
)

// Outcome is the result of one Run. Done means the listing needs no further
// crawling; otherwise the caller should continue from Cursor with another
// proxy.
type Outcome struct {
	Cursor       int
	Done         bool
	Reason       Reason
	PagesFetched int
	NewRecords   int
}

// Session is the subset of session.Session the engine drives
type Session interface {
	Get(ctx context.Context, rawURL string) (*session.Response, error)
	Post(ctx context.Context, rawURL string, form url.Values) (*session.Response, error)
	Cookie(name string) (string, bool)
	Close()
}

// SessionFactory opens a fresh session bound to a proxy
type SessionFactory func(proxy models.ProxyAddress) (Session, error)

// Sink persists newly seen records
type Sink interface {
	Append(records []string) (int, error)
}

// Engine crawls with one proxy at a time. It is not safe for concurrent use.
type Engine struct {
	cfg        *config.Config
	newSession SessionFactory
	solver     oracle.Solver
	sink       Sink
	records    *models.RecordSet
	onAdvance  func(cursor int)
	logger     logger.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the engine logger
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// OnAdvance registers a callback invoked each time the cursor moves forward
func OnAdvance(fn func(cursor int)) Option {
	return func(e *Engine) { e.onAdvance = fn }
}

// New creates an Engine. records is the run-wide record set; it is only
// ever written by the engine.
func New(cfg *config.Config, newSession SessionFactory, solver oracle.Solver, sink Sink, records *models.RecordSet, opts ...Option) *Engine {
	e := &Engine{
		cfg:        cfg,
		newSession: newSession,
		solver:     solver,
		sink:       sink,
		records:    records,
		logger:     logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.WithField("component", "engine")
	return e
}

// SessionFactoryFor builds sessions from the target and crawl configuration
func SessionFactoryFor(cfg *config.Config, l logger.Logger) SessionFactory {
	return func(proxy models.ProxyAddress) (Session, error) {
		s, err := session.New(proxy, cfg.Crawl.PageTimeout,
			session.WithHeaders(cfg.Target.Headers),
			session.WithTarget(cfg.Target.Host, cfg.Target.Origin),
			session.WithMaxBodyBytes(cfg.Crawl.MaxBodyBytes),
			session.WithLogger(l),
		)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// Run crawls from cursor through proxy until the listing ends, the proxy
// fails or its request budget is spent. A non-nil error is not tied to the
// proxy and means the run must stop; the returned Outcome is still valid.
func (e *Engine) Run(ctx context.Context, proxy models.ProxyAddress, cursor int) (Outcome, error) {
	out := Outcome{Cursor: cursor}
	log := e.logger.WithField("proxy", proxy.String())

	s, err := e.newSession(proxy)
	if err != nil {
		log.WithError(err).Warn("Cannot open session")
		out.Reason = ReasonTransportFailure
		return out, nil
	}
	defer s.Close()

	for {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		pageURL := e.cfg.PageURL(out.Cursor)
		log.InfoWithFields("Fetching page", map[string]interface{}{
			"page": out.Cursor,
			"url":  pageURL,
		})

		resp, err := s.Get(ctx, pageURL)
		out.PagesFetched++
		if err != nil {
			return e.rotate(ctx, log, out, ReasonTransportFailure, err)
		}

		if parser.DetectChallenge(resp.Body) {
			var reason Reason
			resp, reason, err = e.passChallenge(ctx, log, s, pageURL, resp.Body, &out)
			if err != nil {
				return e.rotate(ctx, log, out, reason, err)
			}
		}

		html := resp.Body
		page := parser.ParsePage(html)
		if !page.HasTable {
			log.WarnWithFields("Results table not found", map[string]interface{}{
				"page":      out.Cursor,
				"final_url": resp.FinalURL,
				"preview":   preview(html, e.cfg.Crawl.DiagnosticPreview),
			})
			out.Reason = ReasonMissingResults
			return out, nil
		}

		outcome := page.Outcome()
		added, err := e.persist(outcome.Records)
		if err != nil {
			return out, err
		}
		out.NewRecords += added
		logger.LogCrawlProgress(log, out.Cursor, page.Progress.End, page.Progress.Total, added)

		if err := retry.Wait(ctx, e.cfg.Crawl.PageDelay); err != nil {
			return out, err
		}

		switch outcome.Pagination {
		case models.PaginationExhausted:
			log.InfoWithFields("Listing exhausted", map[string]interface{}{"page": out.Cursor})
			out.Done = true
			out.Reason = ReasonExhausted
			return out, nil
		case models.PaginationHasMore:
			out.Cursor++
			if e.onAdvance != nil {
				e.onAdvance(out.Cursor)
			}
			if out.PagesFetched >= e.cfg.Crawl.RequestsPerProxy {
				log.InfoWithFields("Request budget spent", map[string]interface{}{
					"pages_fetched": out.PagesFetched,
					"next_page":     out.Cursor,
				})
				out.Reason = ReasonBudgetSpent
				return out, nil
			}
		default:
			anomaly := errs.StructuralAnomaly(pageURL, "pagination counter missing or unreadable")
			log.WarnWithFields("Cannot tell whether more pages exist, stopping", anomaly.Fields())
			out.Done = true
			out.Reason = ReasonIndeterminate
			return out, nil
		}
	}
}

// passChallenge solves the challenge on pageURL, posts the solution and
// re-fetches the page. It returns the unchallenged page.
func (e *Engine) passChallenge(ctx context.Context, log logger.Logger, s Session, pageURL, html string, out *Outcome) (*session.Response, Reason, error) {
	log.InfoWithFields("Challenge detected", map[string]interface{}{"page": out.Cursor})

	challenge, ok := parser.ExtractChallengeParams(html)
	if !ok {
		return nil, ReasonChallengeUnsolvable, errs.ChallengeUnsolvable("challenge parameters not found", nil)
	}
	submission, ok := parser.ExtractSubmissionToken(html)
	if !ok {
		return nil, ReasonChallengeUnsolvable, errs.ChallengeUnsolvable("submission token not found", nil)
	}

	token, err := e.solver.Solve(ctx, pageURL, challenge)
	if err != nil {
		return nil, ReasonChallengeUnsolvable, err
	}
	solution := models.ChallengeSolution{SolutionToken: token, SubmissionToken: submission}

	resp, err := s.Post(ctx, pageURL, url.Values{
		"g_recaptcha_loaded":   {"yes"},
		"captcha_token":        {solution.SubmissionToken},
		"g_recaptcha_response": {solution.SolutionToken},
	})
	if err != nil {
		return nil, ReasonTransportFailure, err
	}
	if !e.accepted(s, resp.Body) {
		return nil, ReasonRejectedSolution, errs.ChallengeUnsolvable("solution rejected", nil)
	}
	log.Info("Challenge solution accepted")

	resp, err = s.Get(ctx, pageURL)
	out.PagesFetched++
	if err != nil {
		return nil, ReasonTransportFailure, err
	}
	if parser.DetectChallenge(resp.Body) {
		return nil, ReasonChallengeUnsolvable, errs.ChallengeUnsolvable("challenge still present after solving", nil)
	}
	return resp, "", nil
}

// accepted reports whether the target took the solution: the body must be
// the exact reload script and the clearance cookie must be set
func (e *Engine) accepted(s Session, body string) bool {
	if body != e.cfg.Target.AcceptanceBody {
		return false
	}
	_, ok := s.Cookie(e.cfg.Target.AcceptanceCookie)
	return ok
}

// persist writes the records the run has not seen yet and only then adds
// them to the record set
func (e *Engine) persist(records []string) (int, error) {
	fresh := e.records.Unseen(records)
	if len(fresh) == 0 {
		return 0, nil
	}
	if _, err := e.sink.Append(fresh); err != nil {
		return 0, fmt.Errorf("failed to persist records: %w", err)
	}
	return len(e.records.Merge(fresh)), nil
}

// rotate ends the run for this proxy. Cancellation and failures that are not
// scoped to the proxy are returned as errors rather than blamed on it.
func (e *Engine) rotate(ctx context.Context, log logger.Logger, out Outcome, reason Reason, cause error) (Outcome, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return out, ctxErr
	}
	if errs.ScopeOf(cause) == errs.ScopeRun {
		return out, cause
	}
	fields := map[string]interface{}{
		"page":   out.Cursor,
		"reason": string(reason),
		"error":  cause.Error(),
	}
	log.WarnWithFields("Abandoning proxy", fields)
	out.Reason = reason
	return out, nil
}

func preview(body string, n int) string {
	if n <= 0 || len(body) <= n {
		return body
	}
	return body[:n]
}
