package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/porthorian/opengrant/pkg/crypto"
	"github.com/porthorian/opengrant/pkg/storage"
)

type Adapter struct {
	db     *sql.DB
	hasher crypto.Hasher

	stmts preparedStatements
}

var _ storage.ClientRepository = (*Adapter)(nil)
var _ storage.AccessTokenRepository = (*Adapter)(nil)
var _ storage.ScopeRepository = (*Adapter)(nil)

type preparedStatements struct {
	putClient *sql.Stmt
	getClient *sql.Stmt

	putAccessToken    *sql.Stmt
	getAccessToken    *sql.Stmt
	revokeAccessToken *sql.Stmt

	putScope *sql.Stmt
	getScope *sql.Stmt
}

type prepareStatementSpec struct {
	label  string
	query  string
	assign func(*preparedStatements, *sql.Stmt)
}

var prepareStatementSpecs = []prepareStatementSpec{
	{
		label: "put client",
		query: putClientQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.putClient = stmt
		},
	},
	{
		label: "get client",
		query: getClientQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.getClient = stmt
		},
	},
	{
		label: "put access token",
		query: putAccessTokenQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.putAccessToken = stmt
		},
	},
	{
		label: "get access token",
		query: getAccessTokenQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.getAccessToken = stmt
		},
	},
	{
		label: "revoke access token",
		query: revokeAccessTokenQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.revokeAccessToken = stmt
		},
	},
	{
		label: "put scope",
		query: putScopeQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.putScope = stmt
		},
	},
	{
		label: "get scope",
		query: getScopeQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.getScope = stmt
		},
	},
}

// NewAdapter prepares all statements against db. A nil hasher falls back to
// the default argon2id parameters.
func NewAdapter(db *sql.DB, hasher crypto.Hasher) (*Adapter, error) {
	if db == nil {
		return nil, errors.New("postgres adapter: db is required")
	}
	if hasher == nil {
		hasher = crypto.NewArgon2idHasher(crypto.DefaultArgon2idOptions())
	}

	adapter := &Adapter{
		db:     db,
		hasher: hasher,
	}

	prepared := make([]*sql.Stmt, 0, len(prepareStatementSpecs))
	closePrepared := func() {
		for _, stmt := range prepared {
			_ = stmt.Close()
		}
	}

	for _, spec := range prepareStatementSpecs {
		stmt, err := db.Prepare(spec.query)
		if err != nil {
			closePrepared()
			return nil, fmt.Errorf("postgres adapter: prepare %s statement: %w", spec.label, err)
		}
		prepared = append(prepared, stmt)
		spec.assign(&adapter.stmts, stmt)
	}

	return adapter, nil
}

func (a *Adapter) Close() error {
	var errs []error

	for _, stmt := range []*sql.Stmt{
		a.stmts.putClient,
		a.stmts.getClient,
		a.stmts.putAccessToken,
		a.stmts.getAccessToken,
		a.stmts.revokeAccessToken,
		a.stmts.putScope,
		a.stmts.getScope,
	} {
		if stmt == nil {
			continue
		}
		if err := stmt.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (a *Adapter) requirePreparedStatements() error {
	if a == nil || a.stmts.getClient == nil {
		return errors.New("postgres adapter: not initialized")
	}
	return nil
}
