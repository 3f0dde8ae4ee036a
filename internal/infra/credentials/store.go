// Package credentials keeps provider API keys in the integration_tokens
// table so operators can rotate them without redeploying.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"creativehub/internal/infra"
	"creativehub/internal/sqlinline"
)

const (
	ProviderGemini = "gemini"
)

// ErrEmptyToken is returned when asked to store a blank key.
var ErrEmptyToken = errors.New("credentials: token is required")

type Store struct {
	sql infra.SQLExecutor
	now func() time.Time
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql, now: time.Now}
}

// GeminiAPIKey returns the configured key if set, otherwise the stored one.
func (s *Store) GeminiAPIKey(ctx context.Context, configured string) (string, error) {
	if key := strings.TrimSpace(configured); key != "" {
		return key, nil
	}
	return s.Token(ctx, ProviderGemini)
}

// Token returns the stored token for provider, or "" when none is stored.
func (s *Store) Token(ctx context.Context, provider string) (string, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QIntegrationTokenGet, provider)
	var token string
	if err := row.Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", fmt.Errorf("load %s token: %w", provider, err)
	}
	return strings.TrimSpace(token), nil
}

// SetToken stores token for provider along with a rotation timestamp and a
// short fingerprint for audit.
func (s *Store) SetToken(ctx context.Context, provider, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrEmptyToken
	}
	raw, err := json.Marshal(map[string]any{
		"rotated_at":  s.now().UTC().Format(time.RFC3339),
		"fingerprint": fingerprint(token),
	})
	if err != nil {
		return err
	}
	if _, err := s.sql.Exec(ctx, sqlinline.QIntegrationTokenUpsert, provider, token, raw); err != nil {
		return fmt.Errorf("store %s token: %w", provider, err)
	}
	return nil
}

// DeleteToken removes the stored token for provider.
func (s *Store) DeleteToken(ctx context.Context, provider string) error {
	if _, err := s.sql.Exec(ctx, sqlinline.QIntegrationTokenDelete, provider); err != nil {
		return fmt.Errorf("delete %s token: %w", provider, err)
	}
	return nil
}

func fingerprint(token string) string {
	if len(token) <= 4 {
		return "****"
	}
	return "****" + token[len(token)-4:]
}
