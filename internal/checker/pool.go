// Package checker verifies many proxy candidates concurrently ahead of a
// crawl.
package checker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"domainscraper/pkg/logger"
	"domainscraper/pkg/models"
)

// CheckJob is a single proxy to verify
type CheckJob struct {
	Proxy models.ProxyAddress
}

// CheckResult is the verdict for one job
type CheckResult struct {
	Job      CheckJob
	Good     bool
	Duration time.Duration
}

// Verifier decides whether a proxy is usable
type Verifier interface {
	Verify(ctx context.Context, addr models.ProxyAddress) bool
}

// WorkerPool runs verifications on a fixed number of workers
type WorkerPool struct {
	numWorkers  int
	jobQueue    chan CheckJob
	resultQueue chan CheckResult
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	verifier    Verifier
	logger      logger.Logger
}

// NewWorkerPool creates a worker pool bound to ctx
func NewWorkerPool(ctx context.Context, numWorkers int, verifier Verifier, log logger.Logger) *WorkerPool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	if log == nil {
		log = logger.GetLogger()
	}
	ctx, cancel := context.WithCancel(ctx)

	return &WorkerPool{
		numWorkers:  numWorkers,
		jobQueue:    make(chan CheckJob, numWorkers*2),
		resultQueue: make(chan CheckResult, numWorkers),
		ctx:         ctx,
		cancel:      cancel,
		verifier:    verifier,
		logger:      log,
	}
}

// Start starts all workers
func (wp *WorkerPool) Start() {
	wp.logger.InfoWithFields("Starting proxy check workers", map[string]interface{}{
		"num_workers": wp.numWorkers,
	})

	for i := 0; i < wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop closes the job queue, waits for in-flight checks and closes the
// result channel
func (wp *WorkerPool) Stop() {
	close(wp.jobQueue)
	wp.wg.Wait()
	close(wp.resultQueue)
	wp.cancel()
	wp.logger.Debug("Proxy check workers stopped")
}

// Submit queues a job
func (wp *WorkerPool) Submit(job CheckJob) error {
	if wp.ctx.Err() != nil {
		return fmt.Errorf("worker pool is shutting down")
	}
	select {
	case wp.jobQueue <- job:
		return nil
	case <-wp.ctx.Done():
		return fmt.Errorf("worker pool is shutting down")
	}
}

// Results returns the result channel
func (wp *WorkerPool) Results() <-chan CheckResult {
	return wp.resultQueue
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for job := range wp.jobQueue {
		select {
		case <-wp.ctx.Done():
			return
		default:
		}

		start := time.Now()
		result := CheckResult{
			Job:  job,
			Good: wp.verifier.Verify(wp.ctx, job.Proxy),
		}
		result.Duration = time.Since(start)

		wp.logger.DebugWithFields("Proxy checked", map[string]interface{}{
			"worker_id": id,
			"proxy":     job.Proxy.String(),
			"good":      result.Good,
			"duration":  result.Duration,
		})

		select {
		case wp.resultQueue <- result:
		case <-wp.ctx.Done():
			return
		}
	}
}

// Summary is the outcome of checking a batch
type Summary struct {
	Good []models.ProxyAddress
	Bad  []models.ProxyAddress
}

// Check verifies every proxy with numWorkers workers. Results are in
// completion order. Proxies not checked before ctx ends are left out.
// Each observer sees every result as it arrives, on the calling goroutine.
func Check(ctx context.Context, proxies []models.ProxyAddress, numWorkers int, verifier Verifier, log logger.Logger, observers ...func(CheckResult)) Summary {
	wp := NewWorkerPool(ctx, numWorkers, verifier, log)
	wp.Start()

	go func() {
		defer wp.Stop()
		for _, p := range proxies {
			if err := wp.Submit(CheckJob{Proxy: p}); err != nil {
				return
			}
		}
	}()

	var summary Summary
	for result := range wp.Results() {
		for _, observe := range observers {
			observe(result)
		}
		if result.Good {
			summary.Good = append(summary.Good, result.Job.Proxy)
		} else {
			summary.Bad = append(summary.Bad, result.Job.Proxy)
		}
	}
	return summary
}

// WriteList writes proxies one per line, ready to be used as a proxy list
func WriteList(path string, proxies []models.ProxyAddress) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	var b strings.Builder
	for _, p := range proxies {
		b.WriteString(p.String())
		b.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to write proxy list: %w", err)
	}
	return nil
}
