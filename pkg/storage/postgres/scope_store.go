package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	oerrors "github.com/porthorian/opengrant/pkg/errors"
	"github.com/porthorian/opengrant/pkg/storage"
)

const (
	putScopeQuery = `
INSERT INTO opengrant.scopes (
  id, date_added, description
) VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE
SET
  description = EXCLUDED.description
`

	getScopeQuery = `
SELECT
  id, date_added, description
FROM opengrant.scopes
WHERE id = $1
`
)

func (a *Adapter) PutScope(ctx context.Context, record storage.ScopeRecord) error {
	if err := a.requirePreparedStatements(); err != nil {
		return err
	}

	dateAdded := record.DateAdded
	if dateAdded.IsZero() {
		dateAdded = time.Now().UTC()
	}

	_, err := a.stmts.putScope.ExecContext(ctx,
		record.ID,
		dateAdded,
		record.Description,
	)
	return err
}

func (a *Adapter) GetScope(ctx context.Context, id string) (storage.ScopeRecord, error) {
	if err := a.requirePreparedStatements(); err != nil {
		return storage.ScopeRecord{}, err
	}

	var record storage.ScopeRecord

	err := a.stmts.getScope.QueryRowContext(ctx, id).Scan(
		&record.ID,
		&record.DateAdded,
		&record.Description,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ScopeRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.ScopeRecord{}, err
	}

	return record, nil
}

// FinalizeScopes grants exactly the requested scopes that exist in the
// scope table; an unknown scope rejects the whole request with
// invalid_scope.
func (a *Adapter) FinalizeScopes(ctx context.Context, scopes []string, grantType string, client storage.ClientRecord, subject string) ([]string, error) {
	finalized := make([]string, 0, len(scopes))

	for _, scope := range scopes {
		record, err := a.GetScope(ctx, scope)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, oerrors.InvalidScope("the requested scope " + scope + " is not known")
		}
		if err != nil {
			return nil, err
		}
		finalized = append(finalized, record.ID)
	}

	return finalized, nil
}
