// Package driver walks the proxy pool, verifying each candidate and handing
// verified proxies to the crawl engine until the listing is done or the pool
// runs dry.
package driver

import (
	"context"
	"time"

	"domainscraper/pkg/checkpoint"
	"domainscraper/pkg/engine"
	errs "domainscraper/pkg/errors"
	"domainscraper/pkg/logger"
	"domainscraper/pkg/models"
	"domainscraper/pkg/retry"
)

// Outcome is how a run ended
type Outcome string

const (
	// OutcomeCompleted means the listing was crawled to its end.
	OutcomeCompleted Outcome = "completed"
	// OutcomeProxiesExhausted means every candidate was used up first.
	OutcomeProxiesExhausted Outcome = "proxies_exhausted"
	// OutcomeStopped means a page could not tell whether more pages exist.
	// The checkpoint is kept so the run can be resumed.
	OutcomeStopped Outcome = "structural_anomaly"
	// OutcomeAborted means a run-scoped failure or cancellation ended the run.
	OutcomeAborted Outcome = "aborted"
)

// Result summarises a run
type Result struct {
	Outcome      Outcome               `json:"outcome"`
	Good         []models.ProxyAddress `json:"good_proxies"`
	Bad          []models.ProxyAddress `json:"bad_proxies"`
	Records      []string              `json:"records"`
	Cursor       int                   `json:"final_cursor"`
	ProxiesTried int                   `json:"proxies_tried"`
	PagesFetched int                   `json:"pages_fetched"`
	NewRecords   int                   `json:"new_records"`
	Error        string                `json:"error,omitempty"`
	StartedAt    time.Time             `json:"started_at"`
	FinishedAt   time.Time             `json:"finished_at"`
}

// Pool is the proxy source the driver draws from
type Pool interface {
	PickNext() (models.ProxyAddress, bool)
	Remaining() int
	Verify(ctx context.Context, addr models.ProxyAddress) bool
	Verdicts() (good, bad []models.ProxyAddress)
}

// Crawler runs the engine for one proxy
type Crawler interface {
	Run(ctx context.Context, proxy models.ProxyAddress, cursor int) (engine.Outcome, error)
}

// CheckpointStore persists the cursor between runs
type CheckpointStore interface {
	UpdateProgress(cp *checkpoint.Checkpoint, cursor, pagesFetched, records, proxiesTried int) error
	Delete() error
}

// Driver coordinates one run
type Driver struct {
	pool        Pool
	crawler     Crawler
	records     *models.RecordSet
	switchDelay time.Duration
	logger      logger.Logger

	checkpoints CheckpointStore
	checkpoint  *checkpoint.Checkpoint

	pagesFetched int
	proxiesTried int
}

// Option configures a Driver
type Option func(*Driver)

// WithLogger sets the driver logger
func WithLogger(l logger.Logger) Option {
	return func(d *Driver) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithCheckpoint saves progress to cp through store as the cursor advances
// and deletes it when the listing completes
func WithCheckpoint(store CheckpointStore, cp *checkpoint.Checkpoint) Option {
	return func(d *Driver) {
		d.checkpoints = store
		d.checkpoint = cp
	}
}

// New creates a Driver. switchDelay is waited before moving on from a proxy
// the engine gave up on.
func New(pool Pool, crawler Crawler, records *models.RecordSet, switchDelay time.Duration, opts ...Option) *Driver {
	d := &Driver{
		pool:        pool,
		crawler:     crawler,
		records:     records,
		switchDelay: switchDelay,
		logger:      logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.WithField("component", "driver")
	return d
}

// Advance records that the cursor moved forward. The engine calls it
// through its OnAdvance hook.
func (d *Driver) Advance(cursor int) {
	d.saveCheckpoint(cursor)
}

// Run crawls from startCursor. The Result is always returned, also when the
// run ends on an error.
func (d *Driver) Run(ctx context.Context, startCursor int) (*Result, error) {
	res := &Result{Cursor: startCursor, StartedAt: time.Now()}
	logger.LogComponentStart(d.logger, "driver", map[string]interface{}{"start_page": startCursor})

	err := d.loop(ctx, res)
	if err != nil {
		res.Outcome = OutcomeAborted
		res.Error = err.Error()
	}
	d.finish(res)
	logger.LogComponentStop(d.logger, "driver", string(res.Outcome))
	return res, err
}

func (d *Driver) loop(ctx context.Context, res *Result) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		addr, ok := d.pool.PickNext()
		if !ok {
			d.logger.Warn("No proxies left")
			res.Outcome = OutcomeProxiesExhausted
			return nil
		}
		res.ProxiesTried++
		d.proxiesTried = res.ProxiesTried

		if !d.pool.Verify(ctx, addr) {
			if err := ctx.Err(); err != nil {
				return err
			}
			continue
		}

		d.logger.InfoWithFields("Crawling with proxy", map[string]interface{}{
			"proxy":     addr.String(),
			"page":      res.Cursor,
			"remaining": d.pool.Remaining(),
		})
		out, err := d.crawler.Run(ctx, addr, res.Cursor)
		res.Cursor = out.Cursor
		res.PagesFetched += out.PagesFetched
		res.NewRecords += out.NewRecords
		d.pagesFetched = res.PagesFetched
		reason := string(out.Reason)
		if err != nil {
			if ctx.Err() != nil || errs.ScopeOf(err) == errs.ScopeRun {
				return err
			}
			reason = string(errs.TypeOf(err))
		} else if out.Done {
			if out.Reason == engine.ReasonIndeterminate {
				d.logger.WarnWithFields("Stopping on a page without a readable counter", map[string]interface{}{
					"page": out.Cursor,
				})
				res.Outcome = OutcomeStopped
				return nil
			}
			d.logger.InfoWithFields("Listing complete", map[string]interface{}{
				"reason": reason,
				"page":   out.Cursor,
			})
			res.Outcome = OutcomeCompleted
			return nil
		}

		d.logger.InfoWithFields("Switching proxy", map[string]interface{}{
			"proxy":  addr.String(),
			"reason": reason,
			"page":   out.Cursor,
		})
		if err := retry.Wait(ctx, d.switchDelay); err != nil {
			return err
		}
	}
}

func (d *Driver) finish(res *Result) {
	res.Good, res.Bad = d.pool.Verdicts()
	res.Records = d.records.Sorted()
	res.FinishedAt = time.Now()

	if d.checkpoints == nil {
		return
	}
	if res.Outcome == OutcomeCompleted {
		if err := d.checkpoints.Delete(); err != nil {
			d.logger.WithError(err).Warn("Failed to delete checkpoint")
		}
		return
	}
	d.saveCheckpoint(res.Cursor)
}

// saveCheckpoint failures are logged; the crawl itself can continue
func (d *Driver) saveCheckpoint(cursor int) {
	if d.checkpoints == nil || d.checkpoint == nil {
		return
	}
	err := d.checkpoints.UpdateProgress(d.checkpoint, cursor, d.pagesFetched, d.records.Len(), d.proxiesTried)
	if err != nil {
		d.logger.WithError(err).Warn("Failed to save checkpoint")
	}
}
