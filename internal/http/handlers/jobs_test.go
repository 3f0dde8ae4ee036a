package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"creativehub/internal/queue"
)

type ctxRecordingProcessor struct {
	err error
}

func (p *ctxRecordingProcessor) ProcessNext(ctx context.Context) queue.Outcome {
	p.err = ctx.Err()
	return queue.Outcome{Processed: true, JobID: "job-1"}
}

func TestProcessNextOutlivesCaller(t *testing.T) {
	proc := &ctxRecordingProcessor{}
	app := NewApp(Deps{Logger: zerolog.Nop(), Jobs: proc})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/process-next", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	app.ProcessNext(rec, req)

	require.NoError(t, proc.err, "a disconnected caller must not cancel the claimed job")
	require.Equal(t, http.StatusOK, rec.Code)
	var body processNextResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.True(t, body.Processed)
	require.Equal(t, "job-1", body.JobID)
}
