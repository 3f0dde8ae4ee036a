package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"creativehub/internal/adapter/memory"
	"creativehub/internal/aggregate"
	"creativehub/internal/domain"
	"creativehub/internal/domain/jsoncfg"
	"creativehub/internal/providers/image"
)

type memBlob struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (b *memBlob) Write(ctx context.Context, key string, data []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.data == nil {
		b.data = map[string][]byte{}
	}
	b.data[key] = data
	return key, nil
}

func (b *memBlob) PublicURL(key string) string { return "https://cdn.test/" + key }

type recordingAggregator struct {
	inner *aggregate.Aggregator
	calls atomic.Int32
}

func (r *recordingAggregator) Recompute(ctx context.Context, requestID string) (aggregate.Result, error) {
	r.calls.Add(1)
	return r.inner.Recompute(ctx, requestID)
}

type fixture struct {
	store *memory.Store
	agg   *recordingAggregator
	blob  *memBlob
}

func newFixture(t *testing.T, formats ...string) (*fixture, string) {
	t.Helper()
	store := memory.New()
	reqID := "req-1"
	req := &domain.CreativeRequest{ID: reqID, OwnerID: "owner-1", Formats: formats}
	var creatives []domain.Creative
	var jobs []domain.Job
	for i, f := range formats {
		rid := reqID
		creatives = append(creatives, domain.Creative{
			ID:        "creative-" + f,
			RequestID: &rid,
			OwnerID:   "owner-1",
			Params:    jsoncfg.CreativeParams{Format: f, Headline: "Hello"},
		})
		jobs = append(jobs, domain.Job{ID: "job-" + f, Priority: i, MaxAttempts: 3})
	}
	require.NoError(t, store.Requests().Create(context.Background(), req, creatives, jobs))
	return &fixture{
		store: store,
		agg:   &recordingAggregator{inner: aggregate.New(store.Requests(), zerolog.Nop())},
		blob:  &memBlob{},
	}, reqID
}

func (f *fixture) consumer(gen image.Generator, opts Options) *Consumer {
	return NewConsumer(Deps{
		Jobs:       f.store.Jobs(),
		Creatives:  f.store.Creatives(),
		Requests:   f.store.Requests(),
		Aggregator: f.agg,
		Generator:  gen,
		Store:      f.blob,
	}, opts, zerolog.Nop())
}

func okGenerator() image.Generator {
	return image.GeneratorFunc(func(ctx context.Context, req image.GenerateRequest) (*image.Asset, error) {
		return &image.Asset{Format: "image/png", Width: 1, Height: 1, Data: []byte("png")}, nil
	})
}

func TestProcessNextEmptyQueue(t *testing.T) {
	f := &fixture{store: memory.New(), blob: &memBlob{}}
	f.agg = &recordingAggregator{inner: aggregate.New(f.store.Requests(), zerolog.Nop())}

	out := f.consumer(okGenerator(), Options{}).ProcessNext(context.Background())
	require.False(t, out.Processed)
	require.Empty(t, out.JobID)
	require.NoError(t, out.Err)
}

func TestProcessNextSuccess(t *testing.T) {
	f, reqID := newFixture(t, "square")
	ctx := context.Background()

	out := f.consumer(okGenerator(), Options{}).ProcessNext(ctx)
	require.True(t, out.Processed)
	require.Equal(t, "job-square", out.JobID)
	require.NoError(t, out.Err)

	creative, err := f.store.Creatives().GetByID(ctx, "creative-square")
	require.NoError(t, err)
	require.Equal(t, domain.CreativeStatusCompleted, creative.Status)
	require.NotNil(t, creative.ResultURL)
	require.Equal(t, "https://cdn.test/creatives/req-1/creative-square.png", *creative.ResultURL)
	require.NotNil(t, creative.ProcessedAt)

	job, err := f.store.Jobs().GetByID(ctx, "job-square")
	require.NoError(t, err)
	require.Equal(t, domain.JobStatusCompleted, job.Status)
	require.Equal(t, 1, job.Attempts)

	req, err := f.store.Requests().GetByID(ctx, reqID)
	require.NoError(t, err)
	require.Equal(t, domain.RequestStatusCompleted, req.Status)
	require.EqualValues(t, 1, f.agg.calls.Load())
}

func TestProcessNextOldestFirstAndParentProcessing(t *testing.T) {
	f, reqID := newFixture(t, "square", "story")
	ctx := context.Background()

	out := f.consumer(okGenerator(), Options{}).ProcessNext(ctx)
	require.Equal(t, "job-square", out.JobID, "ties on created_at are broken by insertion order")

	req, err := f.store.Requests().GetByID(ctx, reqID)
	require.NoError(t, err)
	require.Equal(t, domain.RequestStatusProcessing, req.Status, "one child still queued")

	out = f.consumer(okGenerator(), Options{}).ProcessNext(ctx)
	require.Equal(t, "job-story", out.JobID)
	req, err = f.store.Requests().GetByID(ctx, reqID)
	require.NoError(t, err)
	require.Equal(t, domain.RequestStatusCompleted, req.Status)
}

func TestProcessNextAtMostOnceUnderConcurrency(t *testing.T) {
	f, _ := newFixture(t, "square")

	var generated atomic.Int32
	gen := image.GeneratorFunc(func(ctx context.Context, req image.GenerateRequest) (*image.Asset, error) {
		generated.Add(1)
		return &image.Asset{Format: "image/png", Data: []byte("png")}, nil
	})

	const workers = 16
	var (
		wg        sync.WaitGroup
		processed atomic.Int32
		start     = make(chan struct{})
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if out := f.consumer(gen, Options{}).ProcessNext(context.Background()); out.Processed {
				processed.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	require.EqualValues(t, 1, processed.Load())
	require.EqualValues(t, 1, generated.Load())
}

// losingClaimJobs always reports a lost race.
type losingClaimJobs struct{ domain.JobRepository }

func (losingClaimJobs) Claim(ctx context.Context, jobID string, attempts int) (bool, error) {
	return false, nil
}

func TestProcessNextClaimConflictIsNotAnError(t *testing.T) {
	f, _ := newFixture(t, "square")
	c := f.consumer(okGenerator(), Options{})
	c.deps.Jobs = losingClaimJobs{f.store.Jobs()}

	out := c.ProcessNext(context.Background())
	require.False(t, out.Processed)
	require.Equal(t, "job-square", out.JobID)
	require.NoError(t, out.Err)
}

func TestProcessNextProviderFailure(t *testing.T) {
	f, reqID := newFixture(t, "square")
	ctx := context.Background()
	gen := image.GeneratorFunc(func(ctx context.Context, req image.GenerateRequest) (*image.Asset, error) {
		return nil, errors.New("quota exhausted")
	})

	out := f.consumer(gen, Options{}).ProcessNext(ctx)
	require.True(t, out.Processed)
	require.ErrorIs(t, out.Err, domain.ErrGenerationFailure)

	creative, err := f.store.Creatives().GetByID(ctx, "creative-square")
	require.NoError(t, err)
	require.Equal(t, domain.CreativeStatusFailed, creative.Status)
	require.Nil(t, creative.ResultURL)
	require.NotNil(t, creative.ErrorMessage)
	require.Contains(t, *creative.ErrorMessage, "quota exhausted")

	job, err := f.store.Jobs().GetByID(ctx, "job-square")
	require.NoError(t, err)
	require.Equal(t, domain.JobStatusFailed, job.Status, "no automatic requeue without a retry policy")

	req, err := f.store.Requests().GetByID(ctx, reqID)
	require.NoError(t, err)
	require.Equal(t, domain.RequestStatusFailed, req.Status)
}

func TestProcessNextPanicBecomesFailure(t *testing.T) {
	f, _ := newFixture(t, "square")
	gen := image.GeneratorFunc(func(ctx context.Context, req image.GenerateRequest) (*image.Asset, error) {
		panic("boom")
	})

	out := f.consumer(gen, Options{}).ProcessNext(context.Background())
	require.True(t, out.Processed)
	require.ErrorIs(t, out.Err, domain.ErrGenerationFailure)
	require.ErrorContains(t, out.Err, "boom")
	require.EqualValues(t, 1, f.agg.calls.Load())
}

func TestProcessNextTimeout(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		f, _ := newFixture(t, "square")
		gen := image.GeneratorFunc(func(ctx context.Context, req image.GenerateRequest) (*image.Asset, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})

		start := time.Now()
		out := f.consumer(gen, Options{Timeout: 30 * time.Second}).ProcessNext(context.Background())
		require.Equal(t, 30*time.Second, time.Since(start))
		require.ErrorIs(t, out.Err, domain.ErrGenerationFailure)
		require.ErrorIs(t, out.Err, domain.ErrGenerationTimeout)

		creative, err := f.store.Creatives().GetByID(context.Background(), "creative-square")
		require.NoError(t, err)
		require.Equal(t, domain.CreativeStatusFailed, creative.Status)
	})
}

// brokenCreatives fails every completion write.
type brokenCreatives struct{ domain.CreativeRepository }

func (brokenCreatives) Complete(ctx context.Context, id, url string, at time.Time) error {
	return errors.New("connection reset")
}

func TestProcessNextBookkeepingFailureDoesNotCrash(t *testing.T) {
	f, _ := newFixture(t, "square")
	c := f.consumer(okGenerator(), Options{})
	c.deps.Creatives = brokenCreatives{f.store.Creatives()}

	out := c.ProcessNext(context.Background())
	require.True(t, out.Processed)
	require.NoError(t, out.Err)
	require.EqualValues(t, 1, f.agg.calls.Load())
}

func TestProcessNextRetryPolicyRequeues(t *testing.T) {
	f, reqID := newFixture(t, "square")
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	f.store.SetClock(func() time.Time { return now })

	policy := NewRetryPolicy(3)
	policy.RandomizationFactor = 0
	fail := image.GeneratorFunc(func(ctx context.Context, req image.GenerateRequest) (*image.Asset, error) {
		return nil, errors.New("transient")
	})
	c := f.consumer(fail, Options{Retry: policy, Now: func() time.Time { return now }})

	out := c.ProcessNext(ctx)
	require.True(t, out.Processed)

	job, err := f.store.Jobs().GetByID(ctx, "job-square")
	require.NoError(t, err)
	require.Equal(t, domain.JobStatusPending, job.Status)
	require.Equal(t, now.Add(5*time.Second), job.AvailableAt)

	creative, err := f.store.Creatives().GetByID(ctx, "creative-square")
	require.NoError(t, err)
	require.Equal(t, domain.CreativeStatusQueued, creative.Status)

	req, err := f.store.Requests().GetByID(ctx, reqID)
	require.NoError(t, err)
	require.Equal(t, domain.RequestStatusProcessing, req.Status, "aggregation skips while a child is queued")

	// Not yet available.
	require.False(t, c.ProcessNext(ctx).Processed)

	now = now.Add(5 * time.Second)
	c.ProcessNext(ctx)
	now = now.Add(time.Minute)
	c.ProcessNext(ctx)

	job, err = f.store.Jobs().GetByID(ctx, "job-square")
	require.NoError(t, err)
	require.Equal(t, domain.JobStatusFailed, job.Status)
	require.Equal(t, 3, job.Attempts)
	require.False(t, c.ProcessNext(ctx).Processed)
}

// flakyCreatives fails the first `failures` reads.
type flakyCreatives struct {
	domain.CreativeRepository
	failures int32
	reads    atomic.Int32
}

func (f *flakyCreatives) GetByID(ctx context.Context, id string) (*domain.Creative, error) {
	if f.reads.Add(1) <= f.failures {
		return nil, errors.New("read timeout")
	}
	return f.CreativeRepository.GetByID(ctx, id)
}

func TestProcessNextRetriesTransientCreativeLoad(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		f, reqID := newFixture(t, "square")
		ctx := context.Background()
		c := f.consumer(okGenerator(), Options{})
		flaky := &flakyCreatives{CreativeRepository: f.store.Creatives(), failures: 1}
		c.deps.Creatives = flaky

		out := c.ProcessNext(ctx)
		require.True(t, out.Processed)
		require.NoError(t, out.Err)
		require.EqualValues(t, 2, flaky.reads.Load())

		req, err := f.store.Requests().GetByID(ctx, reqID)
		require.NoError(t, err)
		require.Equal(t, domain.RequestStatusCompleted, req.Status)
	})
}

func TestProcessNextUnreadableCreativeIsSettled(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		f, reqID := newFixture(t, "square")
		ctx := context.Background()
		c := f.consumer(okGenerator(), Options{})
		c.deps.Creatives = &flakyCreatives{CreativeRepository: f.store.Creatives(), failures: loadTries}

		out := c.ProcessNext(ctx)
		require.True(t, out.Processed)
		require.ErrorContains(t, out.Err, "read timeout")

		creative, err := f.store.Creatives().GetByID(ctx, "creative-square")
		require.NoError(t, err)
		require.Equal(t, domain.CreativeStatusFailed, creative.Status)
		require.NotNil(t, creative.ErrorMessage)
		require.Contains(t, *creative.ErrorMessage, "load creative")

		job, err := f.store.Jobs().GetByID(ctx, "job-square")
		require.NoError(t, err)
		require.Equal(t, domain.JobStatusFailed, job.Status)

		req, err := f.store.Requests().GetByID(ctx, reqID)
		require.NoError(t, err)
		require.Equal(t, domain.RequestStatusFailed, req.Status)

		require.False(t, c.ProcessNext(ctx).Processed, "nothing left to claim")
	})
}

func TestProcessNextUnreachableParentLeftTerminal(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		f, _ := newFixture(t, "square")
		ctx := context.Background()
		c := f.consumer(okGenerator(), Options{})
		c.deps.Creatives = &flakyCreatives{CreativeRepository: f.store.Creatives(), failures: 100}

		out := c.ProcessNext(ctx)
		require.True(t, out.Processed)
		require.Error(t, out.Err)
		require.Zero(t, f.agg.calls.Load())

		creative, err := f.store.Creatives().GetByID(ctx, "creative-square")
		require.NoError(t, err)
		require.Equal(t, domain.CreativeStatusFailed, creative.Status, "terminal children let the reconciler settle the parent")
	})
}
