package driver

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"domainscraper/internal/testsite"
	"domainscraper/pkg/checkpoint"
	"domainscraper/pkg/config"
	"domainscraper/pkg/engine"
	errs "domainscraper/pkg/errors"
	"domainscraper/pkg/logger"
	"domainscraper/pkg/models"
	"domainscraper/pkg/oracle"
	"domainscraper/pkg/proxypool"
	"domainscraper/pkg/storage"
)

type stack struct {
	cfg     *config.Config
	pool    *proxypool.Pool
	records *models.RecordSet
	sink    *storage.Manager
	driver  *Driver
}

// newStack wires the real components the way the crawl command does
func newStack(t *testing.T, site *testsite.Site, proxies []string, tune func(*config.Config)) *stack {
	t.Helper()
	nop := logger.NewNopLogger()
	cfg := site.Config(filepath.Join(t.TempDir(), "results", "found_domains.txt"))
	if tune != nil {
		tune(cfg)
	}

	pool := proxypool.New(cfg.Proxy, proxypool.WithRand(rand.New(rand.NewSource(7))), proxypool.WithLogger(nop))
	_, err := pool.LoadCandidates(proxypool.StaticSource(proxies))
	require.NoError(t, err)

	sink, err := storage.NewManager(cfg.Output.ResultsFile)
	require.NoError(t, err)

	records := models.NewRecordSet()
	solver := oracle.NewClient(cfg.Oracle, oracle.WithLogger(nop))

	s := &stack{cfg: cfg, pool: pool, records: records, sink: sink}
	eng := engine.New(cfg, engine.SessionFactoryFor(cfg, nop), solver, sink, records,
		engine.WithLogger(nop),
		engine.OnAdvance(func(c int) { s.driver.Advance(c) }),
	)
	s.driver = New(pool, eng, records, cfg.Crawl.ProxySwitchDelay, WithLogger(nop))
	return s
}

func threePages() [][]string {
	return [][]string{
		testsite.Records("a", 3),
		testsite.Records("b", 3),
		testsite.Records("c", 2),
	}
}

func TestRunCompletesThroughChallenge(t *testing.T) {
	site := testsite.NewSite(threePages())
	defer site.Close()
	site.Challenge = true

	st := newStack(t, site, []string{string(site.Proxy())}, nil)
	res, err := st.driver.Run(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, 3, res.Cursor)
	assert.Equal(t, []models.ProxyAddress{site.Proxy()}, res.Good)
	assert.Empty(t, res.Bad)
	assert.Len(t, res.Records, 8)
	assert.Equal(t, 8, res.NewRecords)
	assert.Equal(t, 1, res.ProxiesTried)
	assert.Equal(t, 4, res.PagesFetched, "three pages plus the post-challenge re-fetch")
	assert.Equal(t, 1, site.Tasks())
	assert.Equal(t, 1, site.Posts())

	content, err := os.ReadFile(st.cfg.Output.ResultsFile)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	assert.ElementsMatch(t, res.Records, lines)
}

func TestRunBadProxiesExhaustPool(t *testing.T) {
	site := testsite.NewSite(threePages())
	defer site.Close()
	site.EchoIP = "203.0.113.7"

	st := newStack(t, site, []string{string(site.Proxy()), "127.0.0.1:1"}, nil)
	res, err := st.driver.Run(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, OutcomeProxiesExhausted, res.Outcome)
	assert.Empty(t, res.Good)
	assert.ElementsMatch(t, []models.ProxyAddress{site.Proxy(), "127.0.0.1:1"}, res.Bad)
	assert.Equal(t, 2, res.ProxiesTried)
	assert.Zero(t, site.ListingGets(), "unverified proxies never reach the engine")
	assert.Equal(t, 1, res.Cursor)
}

func TestRunRotatesWithCursorPreserved(t *testing.T) {
	sites := make([]*testsite.Site, 2)
	proxies := make([]string, 2)
	for i := range sites {
		sites[i] = testsite.NewSite(threePages())
		sites[i].MissingTableOn[2] = true
		defer sites[i].Close()
		proxies[i] = string(sites[i].Proxy())
	}

	st := newStack(t, sites[0], proxies, nil)
	res, err := st.driver.Run(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, OutcomeProxiesExhausted, res.Outcome)
	assert.Equal(t, 2, res.Cursor)
	assert.Len(t, res.Good, 2)
	assert.Equal(t, testsite.Records("a", 3), res.Records)
	assert.Equal(t, 3, sites[0].ListingGets()+sites[1].ListingGets())
}

func TestRunBudgetRotation(t *testing.T) {
	pages := [][]string{
		testsite.Records("a", 1), testsite.Records("b", 1), testsite.Records("c", 1),
		testsite.Records("d", 1), testsite.Records("e", 1),
	}
	var proxies []string
	for i := 0; i < 3; i++ {
		site := testsite.NewSite(pages)
		defer site.Close()
		proxies = append(proxies, string(site.Proxy()))
	}
	site := testsite.NewSite(pages)
	defer site.Close()

	st := newStack(t, site, proxies, func(cfg *config.Config) { cfg.Crawl.RequestsPerProxy = 2 })
	res, err := st.driver.Run(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, 5, res.Cursor)
	assert.Equal(t, 3, res.ProxiesTried)
	assert.Len(t, res.Records, 5)
}

type fakePool struct {
	proxies []models.ProxyAddress
	good    []models.ProxyAddress
}

func (p *fakePool) PickNext() (models.ProxyAddress, bool) {
	if len(p.proxies) == 0 {
		return "", false
	}
	next := p.proxies[0]
	p.proxies = p.proxies[1:]
	return next, true
}

func (p *fakePool) Remaining() int {
	return len(p.proxies)
}

func (p *fakePool) Verify(ctx context.Context, addr models.ProxyAddress) bool {
	p.good = append(p.good, addr)
	return true
}

func (p *fakePool) Verdicts() ([]models.ProxyAddress, []models.ProxyAddress) {
	return p.good, nil
}

type scriptedCrawler struct {
	outcomes []engine.Outcome
	errs     []error
	calls    []int
}

func (c *scriptedCrawler) Run(ctx context.Context, proxy models.ProxyAddress, cursor int) (engine.Outcome, error) {
	i := len(c.calls)
	c.calls = append(c.calls, cursor)
	return c.outcomes[i], c.errs[i]
}

type fakeCheckpoints struct {
	cursors []int
	deleted bool
}

func (f *fakeCheckpoints) UpdateProgress(cp *checkpoint.Checkpoint, cursor, pagesFetched, records, proxiesTried int) error {
	f.cursors = append(f.cursors, cursor)
	cp.Cursor = cursor
	return nil
}

func (f *fakeCheckpoints) Delete() error {
	f.deleted = true
	return nil
}

func TestRunAbortReturnsResult(t *testing.T) {
	pool := &fakePool{proxies: []models.ProxyAddress{"a:1", "b:2", "c:3"}}
	crawler := &scriptedCrawler{
		outcomes: []engine.Outcome{
			{Cursor: 4, Reason: engine.ReasonBudgetSpent, PagesFetched: 3},
			{Cursor: 6, PagesFetched: 2},
		},
		errs: []error{nil, errors.New("disk full")},
	}
	cps := &fakeCheckpoints{}
	d := New(pool, crawler, models.NewRecordSet("x.com"), 0,
		WithLogger(logger.NewNopLogger()),
		WithCheckpoint(cps, &checkpoint.Checkpoint{}),
	)

	res, err := d.Run(context.Background(), 1)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, OutcomeAborted, res.Outcome)
	assert.Equal(t, "disk full", res.Error)
	assert.Equal(t, 6, res.Cursor)
	assert.Equal(t, 5, res.PagesFetched)
	assert.Equal(t, []int{1, 4}, crawler.calls, "the next proxy resumes from the previous cursor")
	assert.Equal(t, []string{"x.com"}, res.Records)
	assert.Equal(t, []int{6}, cps.cursors)
	assert.False(t, cps.deleted)
}

func TestRunCompletedDeletesCheckpoint(t *testing.T) {
	pool := &fakePool{proxies: []models.ProxyAddress{"a:1"}}
	crawler := &scriptedCrawler{
		outcomes: []engine.Outcome{{Cursor: 9, Done: true, Reason: engine.ReasonExhausted}},
		errs:     []error{nil},
	}
	cps := &fakeCheckpoints{}
	d := New(pool, crawler, models.NewRecordSet(), 0,
		WithLogger(logger.NewNopLogger()),
		WithCheckpoint(cps, &checkpoint.Checkpoint{}),
	)
	d.Advance(5)

	res, err := d.Run(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.True(t, cps.deleted)
	assert.Equal(t, []int{5}, cps.cursors)
}

func TestRunIndeterminateKeepsCheckpoint(t *testing.T) {
	pool := &fakePool{proxies: []models.ProxyAddress{"a:1", "b:2"}}
	crawler := &scriptedCrawler{
		outcomes: []engine.Outcome{{Cursor: 42, Done: true, Reason: engine.ReasonIndeterminate, PagesFetched: 1}},
		errs:     []error{nil},
	}
	cps := &fakeCheckpoints{}
	d := New(pool, crawler, models.NewRecordSet(), 0,
		WithLogger(logger.NewNopLogger()),
		WithCheckpoint(cps, &checkpoint.Checkpoint{}),
	)

	res, err := d.Run(context.Background(), 40)
	require.NoError(t, err)
	assert.Equal(t, OutcomeStopped, res.Outcome)
	assert.Equal(t, 42, res.Cursor)
	assert.False(t, cps.deleted, "a stopped run can be resumed")
	assert.Equal(t, []int{42}, cps.cursors)
	assert.Len(t, crawler.calls, 1, "no further proxy is tried")
}

func TestRunProxyScopedErrorSwitchesProxy(t *testing.T) {
	pool := &fakePool{proxies: []models.ProxyAddress{"a:1", "b:2"}}
	crawler := &scriptedCrawler{
		outcomes: []engine.Outcome{
			{Cursor: 3, PagesFetched: 1},
			{Cursor: 5, Done: true, Reason: engine.ReasonExhausted, PagesFetched: 2},
		},
		errs: []error{errs.Transport("http://listing.test/3", "a:1", 503, nil), nil},
	}
	log := logger.NewTestLogger()
	d := New(pool, crawler, models.NewRecordSet(), 0, WithLogger(log))

	res, err := d.Run(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, []int{3, 3}, crawler.calls)
	assert.Equal(t, 3, res.PagesFetched)

	var switched bool
	for _, m := range log.GetMessages() {
		if m.Message == "Switching proxy" {
			switched = true
			assert.Equal(t, string(errs.ErrorTypeTransport), m.Fields["reason"])
		}
	}
	assert.True(t, switched)
}

func TestRunLogsToGivenLogger(t *testing.T) {
	global := logger.NewTestLogger()
	logger.SetLogger(global)
	defer logger.SetLogger(nil)

	own := logger.NewTestLogger()
	pool := &fakePool{proxies: []models.ProxyAddress{"a:1", "b:2"}}
	crawler := &scriptedCrawler{
		outcomes: []engine.Outcome{{Cursor: 2, Done: true, Reason: engine.ReasonExhausted}},
		errs:     []error{nil},
	}
	_, err := New(pool, crawler, models.NewRecordSet(), 0, WithLogger(own)).Run(context.Background(), 1)
	require.NoError(t, err)

	assert.Empty(t, global.GetMessages())
	assert.True(t, own.HasMessage("Component started"))
	assert.True(t, own.HasMessage("Component stopped"))
	for _, m := range own.GetMessages() {
		if m.Message == "Crawling with proxy" {
			assert.Equal(t, 1, m.Fields["remaining"])
		}
	}
}

func TestRunCancelled(t *testing.T) {
	pool := &fakePool{proxies: []models.ProxyAddress{"a:1"}}
	d := New(pool, &scriptedCrawler{}, models.NewRecordSet(), 0, WithLogger(logger.NewNopLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := d.Run(ctx, 3)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, OutcomeAborted, res.Outcome)
	assert.Equal(t, 3, res.Cursor)
}

func TestWriteReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "run.json")
	res := &Result{
		Outcome: OutcomeCompleted,
		Good:    []models.ProxyAddress{"1.2.3.4:80"},
		Records: []string{"a.com"},
		Cursor:  3,
	}
	require.NoError(t, WriteReport(path, res))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "completed", decoded["outcome"])
	assert.Equal(t, float64(3), decoded["final_cursor"])
	assert.Equal(t, []interface{}{"1.2.3.4:80"}, decoded["good_proxies"])
}

func TestWriteReportMarkdown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.md")
	res := &Result{
		Outcome:      OutcomeProxiesExhausted,
		Good:         []models.ProxyAddress{"1.2.3.4:80"},
		Bad:          []models.ProxyAddress{"5.6.7.8:3128"},
		Records:      []string{"a.com", "b.com"},
		Cursor:       9,
		ProxiesTried: 2,
	}
	require.NoError(t, WriteReport(path, res))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, "# Crawl Report")
	assert.Contains(t, out, "proxies_exhausted")
	assert.Contains(t, out, "Resume from page 9")
	assert.Contains(t, out, "`5.6.7.8:3128`")
	assert.Contains(t, out, "a.com\nb.com")
}
