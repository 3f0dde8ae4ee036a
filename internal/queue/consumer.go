// Package queue implements the single-claim job consumer.
//
// Each ProcessNext call handles at most one job. Concurrent callers rely on
// the conditional claim in the job repository; no in-process state is shared
// between invocations.
package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"creativehub/internal/aggregate"
	"creativehub/internal/domain"
	"creativehub/internal/providers/image"
)

// DefaultGenerationTimeout bounds one provider call.
const DefaultGenerationTimeout = 30 * time.Second

const bookkeepingTimeout = 10 * time.Second

// loadTries bounds the attempts to read a claimed job's creative.
const loadTries = 3

// Outcome is the structured result of one invocation. Processed is false when
// the queue was empty or another consumer won the claim.
type Outcome struct {
	Processed bool   `json:"processed"`
	JobID     string `json:"job_id,omitempty"`
	Err       error  `json:"-"`
}

// Recomputer triggers parent status aggregation.
type Recomputer interface {
	Recompute(ctx context.Context, requestID string) (aggregate.Result, error)
}

// RequestMarker moves a parent request to processing once a child is claimed.
type RequestMarker interface {
	MarkProcessing(ctx context.Context, requestID string) (bool, error)
}

// BlobStore persists generated bytes and maps keys to public URLs.
type BlobStore interface {
	Write(ctx context.Context, key string, data []byte) (string, error)
	PublicURL(key string) string
}

// Deps are the collaborators of a Consumer.
type Deps struct {
	Jobs       domain.JobRepository
	Creatives  domain.CreativeRepository
	Requests   RequestMarker
	Aggregator Recomputer
	Generator  image.Generator
	Store      BlobStore
}

// Options tune a Consumer. Zero values fall back to defaults.
type Options struct {
	Timeout time.Duration
	Limiter *rate.Limiter
	Retry   *RetryPolicy
	Now     func() time.Time
}

// Consumer claims and processes generation jobs.
type Consumer struct {
	deps    Deps
	timeout time.Duration
	limiter *rate.Limiter
	retry   *RetryPolicy
	now     func() time.Time
	logger  zerolog.Logger
}

// NewConsumer builds a Consumer.
func NewConsumer(deps Deps, opts Options, logger zerolog.Logger) *Consumer {
	c := &Consumer{
		deps:    deps,
		timeout: opts.Timeout,
		limiter: opts.Limiter,
		retry:   opts.Retry,
		now:     opts.Now,
		logger:  logger,
	}
	if c.timeout <= 0 {
		c.timeout = DefaultGenerationTimeout
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// ProcessNext claims the oldest pending job and drives it to a terminal state.
func (c *Consumer) ProcessNext(ctx context.Context) Outcome {
	job, err := c.deps.Jobs.NextPending(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNoPendingJob) {
			return Outcome{}
		}
		return Outcome{Err: fmt.Errorf("select pending job: %w", err)}
	}

	log := c.logger.With().Str("job_id", job.ID).Str("creative_id", job.CreativeID).Logger()

	attempts := job.NextAttempts()
	claimed, err := c.deps.Jobs.Claim(ctx, job.ID, attempts)
	if err != nil {
		return Outcome{JobID: job.ID, Err: fmt.Errorf("claim job %s: %w", job.ID, err)}
	}
	if !claimed {
		log.Debug().Msg("queue: claim lost to another consumer")
		return Outcome{JobID: job.ID}
	}
	job.Attempts = attempts
	job.Status = domain.JobStatusProcessing
	log.Info().Int("attempt", attempts).Msg("queue: job claimed")

	// Bookkeeping must land even when the caller's context ends mid-job.
	bctx := context.WithoutCancel(ctx)

	creative, err := c.loadCreative(ctx, job.CreativeID)
	if err != nil {
		msg := fmt.Sprintf("load creative: %v", err)
		log.Error().Err(err).Msg("queue: creative unavailable after claim")
		c.bookkeep(bctx, log, "fail creative", func(ctx context.Context) error {
			return c.deps.Creatives.Fail(ctx, job.CreativeID, msg)
		})
		c.bookkeep(bctx, log, "fail job", func(ctx context.Context) error { return c.deps.Jobs.Fail(ctx, job.ID, msg) })
		c.settleOrphan(bctx, log, job.CreativeID)
		return Outcome{Processed: true, JobID: job.ID, Err: fmt.Errorf("job %s: %w", job.ID, err)}
	}

	var requestID string
	if creative.RequestID != nil {
		requestID = *creative.RequestID
		log = log.With().Str("request_id", requestID).Logger()
	}
	defer c.aggregate(bctx, log, requestID)

	c.bookkeep(bctx, log, "mark creative processing", func(ctx context.Context) error {
		return c.deps.Creatives.MarkProcessing(ctx, creative.ID)
	})
	if requestID != "" && c.deps.Requests != nil {
		c.bookkeep(bctx, log, "mark request processing", func(ctx context.Context) error {
			_, err := c.deps.Requests.MarkProcessing(ctx, requestID)
			return err
		})
	}

	resultURL, genErr := c.generate(ctx, creative)
	if genErr == nil {
		processedAt := c.now().UTC()
		c.bookkeep(bctx, log, "complete creative", func(ctx context.Context) error {
			return c.deps.Creatives.Complete(ctx, creative.ID, resultURL, processedAt)
		})
		c.bookkeep(bctx, log, "complete job", func(ctx context.Context) error {
			return c.deps.Jobs.Complete(ctx, job.ID)
		})
		log.Info().Str("result_url", resultURL).Msg("queue: job completed")
		return Outcome{Processed: true, JobID: job.ID}
	}

	msg := genErr.Error()
	log.Warn().Err(genErr).Msg("queue: generation failed")
	c.bookkeep(bctx, log, "fail creative", func(ctx context.Context) error {
		return c.deps.Creatives.Fail(ctx, creative.ID, msg)
	})
	c.bookkeep(bctx, log, "fail job", func(ctx context.Context) error {
		return c.deps.Jobs.Fail(ctx, job.ID, msg)
	})
	c.maybeRetry(bctx, log, *job, creative.ID)

	return Outcome{Processed: true, JobID: job.ID, Err: genErr}
}

// generate calls the provider under the timeout, persists the asset and
// returns its public URL. Panics and timeouts come back as errors wrapping
// domain.ErrGenerationFailure.
func (c *Consumer) generate(ctx context.Context, creative *domain.Creative) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("%w: throttle: %v", domain.ErrGenerationFailure, err)
		}
	}

	gctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type result struct {
		asset *image.Asset
		err   error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error().Str("creative_id", creative.ID).Bytes("stack", debug.Stack()).Msg("queue: provider panic")
				done <- result{err: fmt.Errorf("provider panic: %v", r)}
			}
		}()
		req := image.GenerateRequest{CreativeID: creative.ID, Params: creative.Params}
		if creative.RequestID != nil {
			req.RequestID = *creative.RequestID
		}
		asset, err := c.deps.Generator.Generate(gctx, req)
		done <- result{asset: asset, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-gctx.Done():
		res.err = gctx.Err()
	}

	if res.err != nil {
		if errors.Is(gctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %w after %s", domain.ErrGenerationFailure, domain.ErrGenerationTimeout, c.timeout)
		}
		return "", fmt.Errorf("%w: %v", domain.ErrGenerationFailure, res.err)
	}
	if res.asset == nil || len(res.asset.Data) == 0 {
		return "", fmt.Errorf("%w: provider returned no asset", domain.ErrGenerationFailure)
	}

	key, err := c.deps.Store.Write(context.WithoutCancel(ctx), storageKey(creative, *res.asset), res.asset.Data)
	if err != nil {
		return "", fmt.Errorf("%w: store asset: %v", domain.ErrGenerationFailure, err)
	}
	return c.deps.Store.PublicURL(key), nil
}

// loadCreative reads the claimed creative, retrying transient errors. A
// missing creative is not retried.
func (c *Consumer) loadCreative(ctx context.Context, creativeID string) (*domain.Creative, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	return backoff.Retry(ctx, func() (*domain.Creative, error) {
		creative, err := c.deps.Creatives.GetByID(ctx, creativeID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, backoff.Permanent(err)
		}
		return creative, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(loadTries))
}

// settleOrphan aggregates the parent of a creative that was failed without
// being loaded, when the parent can still be found.
func (c *Consumer) settleOrphan(ctx context.Context, log zerolog.Logger, creativeID string) {
	lctx, cancel := context.WithTimeout(ctx, bookkeepingTimeout)
	creative, err := c.deps.Creatives.GetByID(lctx, creativeID)
	cancel()
	if err != nil {
		log.Warn().Err(err).Msg("queue: parent unknown; left to the reconciler")
		return
	}
	if creative.RequestID != nil {
		c.aggregate(ctx, log, *creative.RequestID)
	}
}

func (c *Consumer) maybeRetry(ctx context.Context, log zerolog.Logger, job domain.Job, creativeID string) {
	if !c.retry.ShouldRetry(job) {
		return
	}
	delay := c.retry.Delay(job.Attempts)
	availableAt := c.now().Add(delay)

	ctx, cancel := context.WithTimeout(ctx, bookkeepingTimeout)
	defer cancel()

	requeued, err := c.deps.Jobs.Requeue(ctx, job.ID, availableAt)
	if err != nil {
		log.Error().Err(err).Msg("queue: requeue failed")
		return
	}
	if !requeued {
		return
	}
	if err := c.deps.Creatives.MarkQueued(ctx, creativeID); err != nil {
		log.Error().Err(err).Msg("queue: requeue creative failed")
	}
	log.Info().Dur("delay", delay).Int("attempt", job.Attempts).Msg("queue: job requeued")
}

func (c *Consumer) aggregate(ctx context.Context, log zerolog.Logger, requestID string) {
	if requestID == "" || c.deps.Aggregator == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, bookkeepingTimeout)
	defer cancel()

	if _, err := c.deps.Aggregator.Recompute(ctx, requestID); err != nil {
		if errors.Is(err, domain.ErrAggregationSkip) {
			log.Debug().Err(err).Msg("queue: aggregation skipped")
			return
		}
		log.Error().Err(err).Msg("queue: aggregation failed")
	}
}

// bookkeep runs a status write and logs its failure instead of returning it.
func (c *Consumer) bookkeep(ctx context.Context, log zerolog.Logger, what string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(ctx, bookkeepingTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		log.Error().Err(err).Msgf("queue: %s failed", what)
	}
}

func storageKey(creative *domain.Creative, asset image.Asset) string {
	group := "single"
	if creative.RequestID != nil && *creative.RequestID != "" {
		group = *creative.RequestID
	}
	return fmt.Sprintf("creatives/%s/%s%s", group, creative.ID, asset.Extension())
}
