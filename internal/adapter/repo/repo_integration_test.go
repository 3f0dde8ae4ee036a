//go:build integration

package repo

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"creativehub/internal/aggregate"
	"creativehub/internal/domain"
	"creativehub/internal/domain/jsoncfg"
	"creativehub/internal/infra"
	"creativehub/internal/providers/image"
	"creativehub/internal/queue"
	"creativehub/internal/realtime"
	"creativehub/internal/reconcile"
	"creativehub/internal/storage"
)

func setupPostgres(t *testing.T, ctx context.Context) (*infra.SQLRunner, string) {
	t.Helper()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "test",
				"POSTGRES_PASSWORD": "test",
				"POSTGRES_DB":       "creativehub",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)
	dsn := fmt.Sprintf("postgres://test:test@%s:%s/creativehub?sslmode=disable", host, port.Port())

	pool, err := infra.NewDBPool(ctx, &infra.Config{DatabaseURL: dsn, DBMaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, infra.Migrate(ctx, pool, zerolog.Nop()))
	return infra.NewSQLRunner(pool, zerolog.Nop()), dsn
}

type changeSink struct {
	mu      sync.Mutex
	changes []realtime.Change
}

func (s *changeSink) add(c realtime.Change) {
	s.mu.Lock()
	s.changes = append(s.changes, c)
	s.mu.Unlock()
}

// has matches on status, or on the owner for profile changes.
func (s *changeSink) has(resource realtime.Resource, status string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.changes {
		switch v := c.(type) {
		case realtime.RequestChange:
			if resource == realtime.ResourceRequests && string(v.Status) == status {
				return true
			}
		case realtime.CreativeChange:
			if resource == realtime.ResourceCreatives && string(v.Status) == status {
				return true
			}
		case realtime.ProfileChange:
			if resource == realtime.ResourceProfiles && v.OwnerID == status {
				return true
			}
		}
	}
	return false
}

func TestIntegration_PipelineConverges(t *testing.T) {
	ctx := context.Background()
	sql, dsn := setupPostgres(t, ctx)

	jobs := NewJobRepository(sql)
	creatives := NewCreativeRepository(sql)
	requests := NewRequestRepository(sql)
	profiles := NewProfileRepository(sql)
	files, err := storage.NewFileStore(t.TempDir(), "http://files.test/files")
	require.NoError(t, err)

	sink := &changeSink{}
	listenCtx, stopListen := context.WithCancel(ctx)
	defer stopListen()
	go func() { _ = realtime.NewPGListener(dsn, realtime.NotifyChannel, zerolog.Nop(), sink.add).Run(listenCtx) }()
	time.Sleep(500 * time.Millisecond)

	owner := uuid.NewString()
	req := &domain.CreativeRequest{ID: uuid.NewString(), OwnerID: owner, Formats: []string{"square", "story", "banner"}}
	var cs []domain.Creative
	var js []domain.Job
	for _, f := range req.Formats {
		rid := req.ID
		cs = append(cs, domain.Creative{
			ID:        uuid.NewString(),
			RequestID: &rid,
			OwnerID:   owner,
			Params:    jsoncfg.CreativeParams{Format: f, Headline: "Promo"},
		})
		js = append(js, domain.Job{ID: uuid.NewString(), MaxAttempts: 3})
	}
	require.NoError(t, requests.Create(ctx, req, cs, js))

	agg := aggregate.New(requests, zerolog.Nop())
	gen := image.GeneratorFunc(func(ctx context.Context, r image.GenerateRequest) (*image.Asset, error) {
		if r.Params.Format == "banner" {
			return nil, fmt.Errorf("provider rejected banner")
		}
		return &image.Asset{Format: "image/png", Data: []byte("png")}, nil
	})
	newConsumer := func() *queue.Consumer {
		return queue.NewConsumer(queue.Deps{
			Jobs:       jobs,
			Creatives:  creatives,
			Requests:   requests,
			Aggregator: agg,
			Generator:  gen,
			Store:      files,
		}, queue.Options{Timeout: 5 * time.Second}, zerolog.Nop())
	}

	// Two consumers race over three jobs; every job is processed exactly once.
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		processed = map[string]int{}
	)
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := newConsumer()
			for range 4 {
				out := c.ProcessNext(ctx)
				if out.Processed {
					mu.Lock()
					processed[out.JobID]++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	require.Len(t, processed, 3)
	for id, n := range processed {
		require.Equal(t, 1, n, id)
	}

	got, err := requests.GetByID(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RequestStatusPartial, got.Status)

	for _, j := range js {
		job, err := jobs.GetByID(ctx, j.ID)
		require.NoError(t, err)
		require.True(t, job.Status.Terminal())
		require.Equal(t, 1, job.Attempts)
	}

	// Drift the parent and let the reconciler fix it.
	_, err = sql.Exec(ctx, "--sql 6b1f0b9c-2f53-4d55-9d0e-8f3c1a7e2b10\nUPDATE creative_requests SET status = 'processing' WHERE id = $1", req.ID)
	require.NoError(t, err)
	report := reconcile.New(requests, agg, 1, zerolog.Nop()).Reconcile(ctx)
	require.NoError(t, report.Err)
	require.Equal(t, 1, report.CorrectedCount)
	report = reconcile.New(requests, agg, 1, zerolog.Nop()).Reconcile(ctx)
	require.Zero(t, report.CorrectedCount)

	list, err := requests.ListByOwner(ctx, owner, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)

	p, err := profiles.Update(ctx, owner, domain.ProfilePatch{DisplayName: ptr("Sari")})
	require.NoError(t, err)
	require.Equal(t, "Sari", p.DisplayName)

	require.Eventually(t, func() bool {
		return sink.has(realtime.ResourceCreatives, string(domain.CreativeStatusCompleted)) &&
			sink.has(realtime.ResourceRequests, string(domain.RequestStatusPartial)) &&
			sink.has(realtime.ResourceProfiles, owner)
	}, 5*time.Second, 50*time.Millisecond)
}

func ptr[T any](v T) *T { return &v }
