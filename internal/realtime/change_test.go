package realtime

import (
	"testing"

	"github.com/stretchr/testify/require"

	"creativehub/internal/domain"
	"creativehub/internal/storage"
)

func TestParseChangeVariants(t *testing.T) {
	job, err := ParseChange([]byte(`{"resource":"jobs","id":"j1","owner_id":"u1","status":"processing","creative_id":"c1","request_id":"r1"}`))
	require.NoError(t, err)
	require.IsType(t, JobChange{}, job)
	reqID, ok := RequestIDOf(job)
	require.True(t, ok)
	require.Equal(t, "r1", reqID)

	creative, err := ParseChange([]byte(`{"resource":"creatives","id":"c1","owner_id":"u1","status":"completed","request_id":null,"result_url":"http://localhost:8080/files/c1.png"}`))
	require.NoError(t, err)
	require.Equal(t, ResourceCreatives, creative.Resource())
	_, ok = RequestIDOf(creative)
	require.False(t, ok)

	request, err := ParseChange([]byte(`{"resource":"creative_requests","id":"r1","owner_id":"u1","status":"partial"}`))
	require.NoError(t, err)
	require.Equal(t, domain.RequestStatusPartial, request.(RequestChange).Status)

	profile, err := ParseChange([]byte(`{"resource":"profiles","id":"u1","owner_id":"u1","updated_at":"2024-06-01T12:00:00.123456+00:00"}`))
	require.NoError(t, err)
	require.Equal(t, ResourceProfiles, profile.Resource())
	require.Equal(t, "u1", profile.Owner())
	_, ok = RequestIDOf(profile)
	require.False(t, ok)
}

func TestParseChangeAcceptsStoreURLs(t *testing.T) {
	for name, baseURL := range map[string]string{
		"absolute": "http://localhost:8080/files",
		"path":     "/files",
		"empty":    "",
	} {
		t.Run(name, func(t *testing.T) {
			store, err := storage.NewFileStore(t.TempDir(), baseURL)
			require.NoError(t, err)
			url := store.PublicURL("creatives/r1/c1.png")

			body, err := EncodeChange(CreativeChange{ID: "c1", OwnerID: "u1", Status: domain.CreativeStatusCompleted, ResultURL: &url})
			require.NoError(t, err)
			change, err := ParseChange(body)
			require.NoError(t, err)
			require.Equal(t, url, *change.(CreativeChange).ResultURL)
		})
	}
}

func TestParseChangeRejectsInvalidPayloads(t *testing.T) {
	cases := map[string]string{
		"not json":         `{`,
		"unknown resource": `{"resource":"users","id":"u1","owner_id":"u1"}`,
		"missing owner":    `{"resource":"creative_requests","id":"r1","status":"pending"}`,
		"bad status":       `{"resource":"creatives","id":"c1","owner_id":"u1","status":"exploded"}`,
		"bad result url":   `{"resource":"creatives","id":"c1","owner_id":"u1","status":"completed","result_url":"::"}`,
		"foreign profile":  `{"resource":"profiles","id":"u1","owner_id":"u2"}`,
		"bare word url":    `{"resource":"creatives","id":"c1","owner_id":"u1","status":"completed","result_url":"c1.png"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseChange([]byte(raw))
			require.ErrorIs(t, err, ErrInvalidChange)
		})
	}
}

func TestEncodeChangeIsParseable(t *testing.T) {
	reqID := "r1"
	in := JobChange{ID: "j1", OwnerID: "u1", Status: domain.JobStatusFailed, CreativeID: "c1", RequestID: &reqID}
	raw, err := EncodeChange(in)
	require.NoError(t, err)

	out, err := ParseChange(raw)
	require.NoError(t, err)
	require.Equal(t, in, out)
}
