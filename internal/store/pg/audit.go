package pg

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"medgate.org/internal/audit"
)

var _ audit.Store = (*Store)(nil)

// Append inserts an audit row. The timestamp comes from the database clock.
func (s *Store) Append(ctx context.Context, entry *audit.Entry) error {
	if s.db == nil {
		return errNoDB
	}
	detail := []byte("{}")
	if len(entry.Detail) > 0 {
		raw, err := json.Marshal(entry.Detail)
		if err != nil {
			return fmt.Errorf("marshal audit detail: %w", err)
		}
		detail = raw
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var occurred time.Time
	err := s.db.QueryRowContext(ctx, `
		insert into audit_log (id, actor_id, action, target_type, target_id, detail, request_id)
		values ($1, $2, $3, $4, $5, $6, $7)
		returning occurred_at
	`, entry.ID, nullIfEmpty(entry.ActorID), entry.Action, entry.TargetType, entry.TargetID,
		detail, nullIfEmpty(entry.RequestID)).Scan(&occurred)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	entry.OccurredAt = occurred.UTC()
	return nil
}

// RevokeToken remembers jti until expiresAt.
func (s *Store) RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error {
	if s.db == nil {
		return errNoDB
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	_, err := s.db.ExecContext(ctx, `
		insert into revoked_tokens (jti, expires_at) values ($1, $2)
		on conflict (jti) do nothing
	`, jti, expiresAt.UTC())
	return err
}

// IsTokenRevoked reports whether jti was revoked and has not yet expired.
func (s *Store) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	if s.db == nil {
		return false, errNoDB
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	var revoked bool
	err := s.db.QueryRowContext(ctx,
		`select exists(select 1 from revoked_tokens where jti = $1 and expires_at > now())`, jti,
	).Scan(&revoked)
	return revoked, err
}

// PurgeRevokedTokens drops revocations whose token has expired anyway.
func (s *Store) PurgeRevokedTokens(ctx context.Context) (int64, error) {
	if s.db == nil {
		return 0, errNoDB
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx, `delete from revoked_tokens where expires_at <= now()`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
