package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// RevokeToken records a tombstone for the token id. Revoking the same id
// twice is a no-op.
func (s *Store) RevokeToken(ctx context.Context, jti string, expiresAt, revokedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		insert into %s (jti, expires_at, revoked_at)
		values ($1, $2, $3)
		on conflict (jti) do nothing
	`, s.t.revoked), jti, expiresAt.UTC(), revokedAt.UTC())
	return mapErr(err)
}

func (s *Store) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		select 1 from %s where jti = $1
	`, s.t.revoked), jti).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, mapErr(err)
	}
	return true, nil
}

// PurgeRevokedTokens drops tombstones for tokens already past expiry, which
// validation rejects regardless of revocation state.
func (s *Store) PurgeRevokedTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		delete from %s where expires_at <= $1
	`, s.t.revoked), now.UTC())
	if err != nil {
		return 0, mapErr(err)
	}
	return res.RowsAffected()
}
