package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/porthorian/opengrant/pkg/storage"
)

const (
	putAccessTokenQuery = `
INSERT INTO opengrant.access_tokens (
  id, client_id, subject, scopes, issued_at, expires_at, revoked_at
) VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE
SET
  client_id = EXCLUDED.client_id,
  subject = EXCLUDED.subject,
  scopes = EXCLUDED.scopes,
  issued_at = EXCLUDED.issued_at,
  expires_at = EXCLUDED.expires_at,
  revoked_at = EXCLUDED.revoked_at
`

	getAccessTokenQuery = `
SELECT
  id, client_id, subject, scopes, issued_at, expires_at, revoked_at
FROM opengrant.access_tokens
WHERE id = $1
`

	revokeAccessTokenQuery = `
UPDATE opengrant.access_tokens
SET revoked_at = $2
WHERE id = $1 AND revoked_at IS NULL
`
)

func (a *Adapter) PersistAccessToken(ctx context.Context, record storage.AccessTokenRecord) error {
	if err := a.requirePreparedStatements(); err != nil {
		return err
	}

	issuedAt := record.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = time.Now().UTC()
	}

	var revokedAt sql.NullTime
	if record.RevokedAt != nil {
		revokedAt = sql.NullTime{Time: *record.RevokedAt, Valid: true}
	}

	_, err := a.stmts.putAccessToken.ExecContext(ctx,
		record.ID,
		record.ClientID,
		record.Subject,
		strings.Join(record.Scopes, " "),
		issuedAt,
		record.ExpiresAt,
		revokedAt,
	)
	return err
}

func (a *Adapter) GetAccessToken(ctx context.Context, id string) (storage.AccessTokenRecord, error) {
	if err := a.requirePreparedStatements(); err != nil {
		return storage.AccessTokenRecord{}, err
	}

	var record storage.AccessTokenRecord
	var scopes string
	var revokedAt sql.NullTime

	err := a.stmts.getAccessToken.QueryRowContext(ctx, id).Scan(
		&record.ID,
		&record.ClientID,
		&record.Subject,
		&scopes,
		&record.IssuedAt,
		&record.ExpiresAt,
		&revokedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.AccessTokenRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.AccessTokenRecord{}, err
	}

	record.Scopes = strings.Fields(scopes)
	if revokedAt.Valid {
		revoked := revokedAt.Time
		record.RevokedAt = &revoked
	}

	return record, nil
}

func (a *Adapter) RevokeAccessToken(ctx context.Context, id string) error {
	if err := a.requirePreparedStatements(); err != nil {
		return err
	}

	result, err := a.stmts.revokeAccessToken.ExecContext(ctx, id, time.Now().UTC())
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Either unknown or already revoked; distinguish for the caller.
		if _, err := a.GetAccessToken(ctx, id); err != nil {
			return err
		}
	}

	return nil
}

func (a *Adapter) IsAccessTokenRevoked(ctx context.Context, id string) (bool, error) {
	record, err := a.GetAccessToken(ctx, id)
	if err != nil {
		return false, err
	}
	return record.Revoked(), nil
}
