package infra

import (
	"errors"
	"testing"
)

func TestExtractMarker(t *testing.T) {
	query := "--sql 4f55a9b7-4e9f-4e45-a3b3-5a532d21d9db\nselect 1;\n"
	marker, body, err := extractMarker(query)
	if err != nil {
		t.Fatalf("extractMarker: %v", err)
	}
	if marker != "4f55a9b7-4e9f-4e45-a3b3-5a532d21d9db" {
		t.Fatalf("marker = %q", marker)
	}
	if body != "select 1;" {
		t.Fatalf("body = %q", body)
	}
}

func TestExtractMarkerRejectsUnmarkedQueries(t *testing.T) {
	for _, q := range []string{"select 1", "--sql not-a-uuid\nselect 1", "-- sql 4f55a9b7-4e9f-4e45-a3b3-5a532d21d9db\nselect 1"} {
		if _, _, err := extractMarker(q); !errors.Is(err, ErrMissingMarker) {
			t.Fatalf("expected ErrMissingMarker for %q, got %v", q, err)
		}
	}
	if _, _, err := extractMarker("   "); err == nil {
		t.Fatal("expected error for empty query")
	}
}
