// Package oracle talks to an Anti-Captcha compatible solving service.
//
// A solve is two calls: createTask submits the challenge and returns a task
// id, then getTaskResult is polled a bounded number of times until the
// service reports the task ready.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"domainscraper/pkg/config"
	errs "domainscraper/pkg/errors"
	"domainscraper/pkg/logger"
	"domainscraper/pkg/models"
	"domainscraper/pkg/ratelimit"
	"domainscraper/pkg/retry"
)

// TaskType is the task kind submitted for score-based challenges
const TaskType = "RecaptchaV3TaskProxyless"

const (
	statusReady      = "ready"
	statusProcessing = "processing"
)

var errNotReady = errors.New("task still processing")

// Solver turns a challenge on a page into a solution token
type Solver interface {
	Solve(ctx context.Context, pageURL string, challenge models.Challenge) (string, error)
}

type task struct {
	Type         string  `json:"type"`
	WebsiteURL   string  `json:"websiteURL"`
	WebsiteKey   string  `json:"websiteKey"`
	MinScore     float64 `json:"minScore"`
	PageAction   string  `json:"pageAction"`
	IsEnterprise bool    `json:"isEnterprise"`
}

type createTaskRequest struct {
	ClientKey string `json:"clientKey"`
	Task      task   `json:"task"`
	SoftID    int    `json:"softId"`
}

type createTaskResponse struct {
	ErrorID          int    `json:"errorId"`
	ErrorCode        string `json:"errorCode"`
	ErrorDescription string `json:"errorDescription"`
	TaskID           int64  `json:"taskId"`
}

type taskResultRequest struct {
	ClientKey string `json:"clientKey"`
	TaskID    int64  `json:"taskId"`
}

type taskResultResponse struct {
	ErrorID          int    `json:"errorId"`
	ErrorCode        string `json:"errorCode"`
	ErrorDescription string `json:"errorDescription"`
	Status           string `json:"status"`
	Solution         struct {
		GRecaptchaResponse string `json:"gRecaptchaResponse"`
	} `json:"solution"`
}

// Client is an oracle API client
type Client struct {
	http      *resty.Client
	clientKey string
	minScore  float64
	pollDelay time.Duration
	maxPolls  int
	limiter   ratelimit.Limiter
	logger    logger.Logger
}

// Option configures a Client
type Option func(*Client)

// WithLimiter gates task creation through l
func WithLimiter(l ratelimit.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithLogger sets the client logger
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a client from the oracle configuration. When
// MaxSolvesPerHour is positive task creation is capped to that many per hour.
func NewClient(cfg config.OracleConfig, opts ...Option) *Client {
	c := &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
			SetTimeout(cfg.RequestTimeout).
			SetHeader("Accept", "application/json").
			SetHeader("Content-Type", "application/json"),
		clientKey: cfg.ClientKey,
		minScore:  cfg.MinScore,
		pollDelay: cfg.PollDelay,
		maxPolls:  cfg.MaxPolls,
		logger:    logger.GetLogger(),
	}
	if cfg.MaxSolvesPerHour > 0 {
		c.limiter = ratelimit.NewSlidingWindow(cfg.MaxSolvesPerHour, time.Hour)
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxPolls <= 0 {
		c.maxPolls = 1
	}
	c.logger = c.logger.WithField("component", "oracle")
	return c
}

// CreateTask submits a challenge and returns the task id
func (c *Client) CreateTask(ctx context.Context, pageURL, siteKey, action string) (int64, error) {
	var out createTaskResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(createTaskRequest{
			ClientKey: c.clientKey,
			Task: task{
				Type:       TaskType,
				WebsiteURL: pageURL,
				WebsiteKey: siteKey,
				MinScore:   c.minScore,
				PageAction: action,
			},
		}).
		SetResult(&out).
		Post("/createTask")
	if err != nil {
		return 0, errs.ChallengeUnsolvable("createTask request failed", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return 0, errs.ChallengeUnsolvable(fmt.Sprintf("createTask returned status %d", resp.StatusCode()), nil)
	}
	if out.ErrorID != 0 {
		return 0, errs.ChallengeUnsolvable(
			fmt.Sprintf("createTask error %d %s: %s", out.ErrorID, out.ErrorCode, out.ErrorDescription), nil)
	}
	if out.TaskID == 0 {
		return 0, errs.ChallengeUnsolvable("createTask returned no task id", nil)
	}

	c.logger.InfoWithFields("Oracle task created", map[string]interface{}{
		"task_id": out.TaskID,
		"url":     pageURL,
		"action":  action,
	})
	return out.TaskID, nil
}

// PollSolution polls the task up to the configured number of times, waiting
// the poll delay before each attempt
func (c *Client) PollSolution(ctx context.Context, taskID int64) (string, error) {
	token, err := retry.DoWithResult(func() (string, error) {
		return c.pollOnce(ctx, taskID)
	}, &retry.Config{
		MaxAttempts: c.maxPolls,
		Backoff:     &retry.ConstantBackoff{Delay: c.pollDelay},
		DelayFirst:  true,
		Context:     ctx,
		Logger:      c.logger,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			c.logger.DebugWithFields("Oracle task not ready", map[string]interface{}{
				"task_id": taskID,
				"attempt": attempt,
				"reason":  err.Error(),
			})
		},
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", errs.ChallengeUnsolvable(fmt.Sprintf("no solution for task %d", taskID), err)
	}
	return token, nil
}

func (c *Client) pollOnce(ctx context.Context, taskID int64) (string, error) {
	var out taskResultResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(taskResultRequest{ClientKey: c.clientKey, TaskID: taskID}).
		SetResult(&out).
		Post("/getTaskResult")
	if err != nil {
		return "", err
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("getTaskResult returned status %d", resp.StatusCode())
	}
	if out.ErrorID != 0 {
		return "", fmt.Errorf("getTaskResult error %d %s: %s", out.ErrorID, out.ErrorCode, out.ErrorDescription)
	}
	switch out.Status {
	case statusReady:
		if out.Solution.GRecaptchaResponse == "" {
			return "", errors.New("task ready without a solution")
		}
		return out.Solution.GRecaptchaResponse, nil
	case statusProcessing:
		return "", errNotReady
	default:
		return "", fmt.Errorf("unexpected task status %q", out.Status)
	}
}

// Solve creates a task for the challenge and waits for its solution
func (c *Client) Solve(ctx context.Context, pageURL string, challenge models.Challenge) (string, error) {
	if c.limiter != nil && !c.limiter.Allow() {
		c.logger.Warn("Oracle solve limit reached, waiting for the window to slide")
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	start := time.Now()
	taskID, err := c.CreateTask(ctx, pageURL, challenge.SiteKey, challenge.Action)
	if err != nil {
		return "", err
	}
	token, err := c.PollSolution(ctx, taskID)
	if err != nil {
		return "", err
	}

	fields := map[string]interface{}{
		"task_id":  taskID,
		"duration": time.Since(start),
	}
	if c.limiter != nil {
		fields["solves_left"] = c.limiter.Remaining()
	}
	c.logger.InfoWithFields("Challenge solved", fields)
	return token, nil
}
