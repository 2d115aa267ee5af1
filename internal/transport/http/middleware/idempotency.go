package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"kpi/internal/platform/querier"
)

var ErrIdempotencyConflict = errors.New("idempotency key conflicts with existing request")

// IdempotencyStore replays the stored response of a retried mutation. A key is
// scoped to tenant, user and endpoint, and is forgotten once it is older than
// the TTL. A zero TTL keeps keys forever.
type IdempotencyStore struct {
	db  querier.Querier
	ttl time.Duration
}

func NewIdempotencyStore(db querier.Querier, ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{db: db, ttl: ttl}
}

// RequestHash fingerprints everything that makes two requests "the same".
func RequestHash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func (s *IdempotencyStore) ttlSeconds() float64 {
	return s.ttl.Seconds()
}

func (s *IdempotencyStore) Check(ctx context.Context, tenantID, userID, endpoint, key, requestHash string) (json.RawMessage, bool, error) {
	if s == nil || s.db == nil || key == "" {
		return nil, false, nil
	}
	var (
		storedHash string
		stored     json.RawMessage
	)
	err := s.db.QueryRow(ctx, `
    SELECT request_hash, response_json
    FROM idempotency_keys
    WHERE tenant_id = $1 AND user_id = $2 AND endpoint = $3 AND key = $4
      AND ($5::float8 = 0 OR created_at > now() - make_interval(secs => $5::float8))
  `, tenantID, userID, endpoint, key, s.ttlSeconds()).Scan(&storedHash, &stored)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, false, nil
	case err != nil:
		return nil, false, eris.Wrapf(err, "idempotency: check %s", endpoint)
	case storedHash != requestHash:
		return nil, false, ErrIdempotencyConflict
	}
	return stored, true, nil
}

// Save records the response for key. An expired row is replaced outright; a
// live row is only refreshed when the request hash matches.
func (s *IdempotencyStore) Save(ctx context.Context, tenantID, userID, endpoint, key, requestHash string, response json.RawMessage) error {
	if s == nil || s.db == nil || key == "" {
		return nil
	}
	tag, err := s.db.Exec(ctx, `
    INSERT INTO idempotency_keys (tenant_id, user_id, endpoint, key, request_hash, response_json)
    VALUES ($1, $2, $3, $4, $5, $6)
    ON CONFLICT (tenant_id, user_id, key, endpoint)
    DO UPDATE SET request_hash = EXCLUDED.request_hash,
                  response_json = EXCLUDED.response_json,
                  created_at = now()
    WHERE idempotency_keys.request_hash = EXCLUDED.request_hash
       OR ($7::float8 > 0 AND idempotency_keys.created_at <= now() - make_interval(secs => $7::float8))
  `, tenantID, userID, endpoint, key, requestHash, response, s.ttlSeconds())
	if err != nil {
		return eris.Wrapf(err, "idempotency: save %s", endpoint)
	}
	if tag.RowsAffected() == 0 {
		return ErrIdempotencyConflict
	}
	return nil
}

// Purge deletes keys past the TTL and reports how many went.
func (s *IdempotencyStore) Purge(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil || s.ttl <= 0 {
		return 0, nil
	}
	tag, err := s.db.Exec(ctx, `
    DELETE FROM idempotency_keys
    WHERE created_at <= now() - make_interval(secs => $1::float8)
  `, s.ttlSeconds())
	if err != nil {
		return 0, eris.Wrap(err, "idempotency: purge")
	}
	return tag.RowsAffected(), nil
}
