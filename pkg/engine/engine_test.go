package engine

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"domainscraper/internal/testsite"
	"domainscraper/pkg/config"
	errs "domainscraper/pkg/errors"
	"domainscraper/pkg/logger"
	"domainscraper/pkg/models"
	"domainscraper/pkg/session"
)

// fakeSession replays scripted responses
type fakeSession struct {
	get     func(n int, rawURL string) (*session.Response, error)
	post    func(s *fakeSession, form url.Values) (*session.Response, error)
	cookies map[string]string
	gets    []string
	posts   []url.Values
	closed  bool
}

func (f *fakeSession) Get(ctx context.Context, rawURL string) (*session.Response, error) {
	f.gets = append(f.gets, rawURL)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.get(len(f.gets), rawURL)
}

func (f *fakeSession) Post(ctx context.Context, rawURL string, form url.Values) (*session.Response, error) {
	f.posts = append(f.posts, form)
	return f.post(f, form)
}

func (f *fakeSession) Cookie(name string) (string, bool) {
	v, ok := f.cookies[name]
	return v, ok
}

func (f *fakeSession) Close() { f.closed = true }

type fakeSolver struct {
	calls int
	token string
	err   error
}

func (f *fakeSolver) Solve(ctx context.Context, pageURL string, c models.Challenge) (string, error) {
	f.calls++
	return f.token, f.err
}

type fakeSink struct {
	lines []string
	err   error
}

func (f *fakeSink) Append(records []string) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.lines = append(f.lines, records...)
	return len(records), nil
}

func ok(body string) (*session.Response, error) {
	return &session.Response{StatusCode: 200, Body: body, FinalURL: "http://listing.test/"}, nil
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Target.ListingURLTemplate = "http://listing.test/browse/sites/{page}"
	cfg.Crawl.PageDelay = 0
	return cfg
}

type harness struct {
	cfg      *config.Config
	session  *fakeSession
	solver   *fakeSolver
	sink     *fakeSink
	records  *models.RecordSet
	advances []int
	log      *logger.TestLogger
}

func newHarness(s *fakeSession) *harness {
	if s.cookies == nil {
		s.cookies = map[string]string{}
	}
	return &harness{
		cfg:     testConfig(),
		session: s,
		solver:  &fakeSolver{token: testsite.SolutionToken},
		sink:    &fakeSink{},
		records: models.NewRecordSet(),
		log:     logger.NewTestLogger(),
	}
}

func (h *harness) engine() *Engine {
	factory := func(models.ProxyAddress) (Session, error) { return h.session, nil }
	return New(h.cfg, factory, h.solver, h.sink, h.records,
		WithLogger(h.log),
		OnAdvance(func(c int) { h.advances = append(h.advances, c) }),
	)
}

// pagedListing serves n pages of two records each, starting at page 1
func pagedListing(n int) func(int, string) (*session.Response, error) {
	return func(_ int, rawURL string) (*session.Response, error) {
		var page int
		for p := 1; p <= n; p++ {
			if rawURL == testConfig().PageURL(p) {
				page = p
			}
		}
		if page == 0 {
			return ok(testsite.LimitPage())
		}
		recs := testsite.Records("p"+string(rune('a'+page-1)), 2)
		return ok(testsite.ListingPage(recs, page*2, n*2))
	}
}

func TestRunUntilExhausted(t *testing.T) {
	h := newHarness(&fakeSession{get: pagedListing(3)})

	out, err := h.engine().Run(context.Background(), "1.2.3.4:80", 1)
	require.NoError(t, err)
	assert.True(t, out.Done)
	assert.Equal(t, ReasonExhausted, out.Reason)
	assert.Equal(t, 3, out.Cursor)
	assert.Equal(t, 3, out.PagesFetched)
	assert.Equal(t, 6, out.NewRecords)
	assert.Equal(t, []int{2, 3}, h.advances)
	assert.Equal(t, 6, h.records.Len())
	assert.ElementsMatch(t, h.records.Sorted(), h.sink.lines)
	assert.True(t, h.session.closed)
}

func TestRunSpendsExactBudget(t *testing.T) {
	h := newHarness(&fakeSession{get: func(n int, _ string) (*session.Response, error) {
		recs := testsite.Records("r"+string(rune('a'+n%26))+string(rune('a'+n/26)), 1)
		return ok(testsite.ListingPage(recs, n, 1_000_000))
	}})

	out, err := h.engine().Run(context.Background(), "1.2.3.4:80", 5)
	require.NoError(t, err)
	assert.False(t, out.Done)
	assert.Equal(t, ReasonBudgetSpent, out.Reason)
	assert.Equal(t, 20, out.PagesFetched)
	assert.Len(t, h.session.gets, 20)
	assert.Equal(t, 25, out.Cursor)
	assert.Len(t, h.advances, 20)
}

func TestRunIndeterminateStops(t *testing.T) {
	h := newHarness(&fakeSession{get: func(int, string) (*session.Response, error) {
		return ok(testsite.ListingPageWithoutCounter([]string{"x.com"}))
	}})

	out, err := h.engine().Run(context.Background(), "1.2.3.4:80", 1)
	require.NoError(t, err)
	assert.True(t, out.Done)
	assert.Equal(t, ReasonIndeterminate, out.Reason)
	assert.Equal(t, 1, out.Cursor)
	assert.Equal(t, []string{"x.com"}, h.sink.lines)
	assert.True(t, h.log.HasMessageContaining("Cannot tell whether more pages exist"))
}

func TestRunMissingTableRotates(t *testing.T) {
	h := newHarness(&fakeSession{get: func(int, string) (*session.Response, error) {
		return ok(testsite.LimitPage())
	}})

	out, err := h.engine().Run(context.Background(), "1.2.3.4:80", 7)
	require.NoError(t, err)
	assert.False(t, out.Done)
	assert.Equal(t, ReasonMissingResults, out.Reason)
	assert.Equal(t, 7, out.Cursor)
	assert.Empty(t, h.sink.lines)
	assert.True(t, h.log.HasMessage("Results table not found"))
}

func TestRunTransportFailureRotates(t *testing.T) {
	h := newHarness(&fakeSession{get: func(int, string) (*session.Response, error) {
		return nil, errs.Transport("http://listing.test/", "1.2.3.4:80", 503, nil)
	}})

	out, err := h.engine().Run(context.Background(), "1.2.3.4:80", 3)
	require.NoError(t, err)
	assert.False(t, out.Done)
	assert.Equal(t, ReasonTransportFailure, out.Reason)
	assert.Equal(t, 3, out.Cursor)
	assert.Equal(t, 1, out.PagesFetched)
}

func TestRunSessionFactoryFailure(t *testing.T) {
	h := newHarness(&fakeSession{})
	e := New(h.cfg, func(models.ProxyAddress) (Session, error) {
		return nil, errors.New("bad proxy")
	}, h.solver, h.sink, h.records, WithLogger(h.log))

	out, err := e.Run(context.Background(), "::bad", 2)
	require.NoError(t, err)
	assert.Equal(t, ReasonTransportFailure, out.Reason)
	assert.Equal(t, 2, out.Cursor)
	assert.Zero(t, out.PagesFetched)
}

// challengeThenListing shows the challenge until the clearance cookie is set
func challengeThenListing(s *fakeSession) func(int, string) (*session.Response, error) {
	return func(int, string) (*session.Response, error) {
		if _, cleared := s.cookies["s2_uGoo"]; !cleared {
			return ok(testsite.ChallengePage())
		}
		return ok(testsite.ListingPage([]string{"solved.com"}, 1, 1))
	}
}

func acceptingPost(s *fakeSession, form url.Values) (*session.Response, error) {
	s.cookies["s2_uGoo"] = "1"
	return ok(testConfig().Target.AcceptanceBody)
}

func TestRunSolvesChallenge(t *testing.T) {
	s := &fakeSession{cookies: map[string]string{}, post: acceptingPost}
	s.get = challengeThenListing(s)
	h := newHarness(s)

	out, err := h.engine().Run(context.Background(), "1.2.3.4:80", 1)
	require.NoError(t, err)
	assert.True(t, out.Done)
	assert.Equal(t, ReasonExhausted, out.Reason)
	assert.Equal(t, 2, out.PagesFetched, "the re-fetch counts against the budget")
	assert.Equal(t, 1, h.solver.calls)
	assert.Equal(t, []string{"solved.com"}, h.sink.lines)

	require.Len(t, s.posts, 1)
	form := s.posts[0]
	assert.Equal(t, "yes", form.Get("g_recaptcha_loaded"))
	assert.Equal(t, testsite.SubmissionToken, form.Get("captcha_token"))
	assert.Equal(t, testsite.SolutionToken, form.Get("g_recaptcha_response"))
}

func TestRunChallengeWithoutParamsSkipsOracle(t *testing.T) {
	h := newHarness(&fakeSession{get: func(int, string) (*session.Response, error) {
		return ok("<html>Human Verification required</html>")
	}})

	out, err := h.engine().Run(context.Background(), "1.2.3.4:80", 4)
	require.NoError(t, err)
	assert.Equal(t, ReasonChallengeUnsolvable, out.Reason)
	assert.Equal(t, 4, out.Cursor)
	assert.Zero(t, h.solver.calls)
}

func TestRunSolverFailureRotates(t *testing.T) {
	s := &fakeSession{cookies: map[string]string{}, post: acceptingPost}
	s.get = challengeThenListing(s)
	h := newHarness(s)
	h.solver.err = errs.ChallengeUnsolvable("no solution", nil)

	out, err := h.engine().Run(context.Background(), "1.2.3.4:80", 4)
	require.NoError(t, err)
	assert.Equal(t, ReasonChallengeUnsolvable, out.Reason)
	assert.Empty(t, s.posts)
}

func TestRunUnclassifiedSolverFailureEndsRun(t *testing.T) {
	s := &fakeSession{cookies: map[string]string{}, post: acceptingPost}
	s.get = challengeThenListing(s)
	h := newHarness(s)
	h.solver.err = errors.New("oracle client misconfigured")

	out, err := h.engine().Run(context.Background(), "1.2.3.4:80", 4)
	require.Error(t, err)
	assert.Equal(t, errs.ScopeRun, errs.ScopeOf(err))
	assert.Equal(t, 4, out.Cursor)
	assert.Empty(t, out.Reason)
	assert.False(t, h.log.HasMessage("Abandoning proxy"))
}

func TestRunAcceptanceNeedsBodyAndCookie(t *testing.T) {
	tests := []struct {
		name string
		post func(s *fakeSession, form url.Values) (*session.Response, error)
	}{
		{"cookie without body", func(s *fakeSession, _ url.Values) (*session.Response, error) {
			s.cookies["s2_uGoo"] = "1"
			return ok("<html>try again</html>")
		}},
		{"body without cookie", func(s *fakeSession, _ url.Values) (*session.Response, error) {
			return ok(testConfig().Target.AcceptanceBody)
		}},
		{"body with trailing newline", func(s *fakeSession, _ url.Values) (*session.Response, error) {
			s.cookies["s2_uGoo"] = "1"
			return ok(testConfig().Target.AcceptanceBody + "\n")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &fakeSession{cookies: map[string]string{}, post: tt.post}
			s.get = func(int, string) (*session.Response, error) { return ok(testsite.ChallengePage()) }
			h := newHarness(s)

			out, err := h.engine().Run(context.Background(), "1.2.3.4:80", 9)
			require.NoError(t, err)
			assert.False(t, out.Done)
			assert.Equal(t, ReasonRejectedSolution, out.Reason)
			assert.Equal(t, 9, out.Cursor)
			assert.Len(t, s.gets, 1, "no re-fetch after a rejected solution")
		})
	}
}

func TestRunChallengePersists(t *testing.T) {
	s := &fakeSession{cookies: map[string]string{}, post: acceptingPost}
	s.get = func(int, string) (*session.Response, error) { return ok(testsite.ChallengePage()) }
	h := newHarness(s)

	out, err := h.engine().Run(context.Background(), "1.2.3.4:80", 1)
	require.NoError(t, err)
	assert.Equal(t, ReasonChallengeUnsolvable, out.Reason)
	assert.Equal(t, 2, out.PagesFetched)
}

func TestRunSinkFailureIsRunTerminal(t *testing.T) {
	h := newHarness(&fakeSession{get: pagedListing(3)})
	h.sink.err = errors.New("disk full")

	out, err := h.engine().Run(context.Background(), "1.2.3.4:80", 1)
	require.Error(t, err)
	assert.Equal(t, errs.ScopeRun, errs.ScopeOf(err))
	assert.Equal(t, 1, out.Cursor, "cursor does not advance past an unpersisted page")
	assert.Zero(t, h.records.Len())
	assert.Empty(t, h.advances)
}

func TestRunReprocessingDoesNotDuplicate(t *testing.T) {
	h := newHarness(&fakeSession{get: pagedListing(1)})
	e := h.engine()

	_, err := e.Run(context.Background(), "1.2.3.4:80", 1)
	require.NoError(t, err)
	out, err := e.Run(context.Background(), "5.6.7.8:80", 1)
	require.NoError(t, err)

	assert.Zero(t, out.NewRecords)
	assert.Len(t, h.sink.lines, 2)
}

func TestRunCancelled(t *testing.T) {
	h := newHarness(&fakeSession{get: pagedListing(3)})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := h.engine().Run(ctx, "1.2.3.4:80", 2)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, out.Cursor)
}
