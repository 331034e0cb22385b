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
	putClientQuery = `
INSERT INTO opengrant.clients (
  id, date_added, name, secret_hash, redirect_uris, confidential
) VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE
SET
  name = EXCLUDED.name,
  secret_hash = EXCLUDED.secret_hash,
  redirect_uris = EXCLUDED.redirect_uris,
  confidential = EXCLUDED.confidential
`

	getClientQuery = `
SELECT
  id, date_added, name, secret_hash, redirect_uris, confidential
FROM opengrant.clients
WHERE id = $1
`
)

// PutClient upserts a client registration. The secret must already be
// hashed; use HashClientSecret for that.
func (a *Adapter) PutClient(ctx context.Context, record storage.ClientRecord) error {
	if err := a.requirePreparedStatements(); err != nil {
		return err
	}

	dateAdded := record.DateAdded
	if dateAdded.IsZero() {
		dateAdded = time.Now().UTC()
	}

	_, err := a.stmts.putClient.ExecContext(ctx,
		record.ID,
		dateAdded,
		record.Name,
		record.SecretHash,
		strings.Join(record.RedirectURIs, " "),
		record.Confidential,
	)
	return err
}

func (a *Adapter) GetClient(ctx context.Context, id string) (storage.ClientRecord, error) {
	if err := a.requirePreparedStatements(); err != nil {
		return storage.ClientRecord{}, err
	}

	var record storage.ClientRecord
	var redirectURIs string

	err := a.stmts.getClient.QueryRowContext(ctx, id).Scan(
		&record.ID,
		&record.DateAdded,
		&record.Name,
		&record.SecretHash,
		&redirectURIs,
		&record.Confidential,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ClientRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.ClientRecord{}, err
	}

	record.RedirectURIs = strings.Fields(redirectURIs)
	return record, nil
}

// ValidateClient verifies the presented credentials. Unknown clients and
// mismatched secrets both report false without error; errors are reserved
// for storage failures.
func (a *Adapter) ValidateClient(ctx context.Context, id string, secret string, grantType string) (bool, error) {
	record, err := a.GetClient(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if !record.Confidential {
		return secret == "", nil
	}
	if secret == "" || record.SecretHash == "" {
		return false, nil
	}

	ok, err := a.hasher.Verify(secret, record.SecretHash)
	if err != nil {
		return false, nil
	}
	return ok, nil
}

// HashClientSecret hashes a plaintext client secret with the adapter's
// hasher for storage in a ClientRecord.
func (a *Adapter) HashClientSecret(secret string) (string, error) {
	return a.hasher.Hash(secret)
}
