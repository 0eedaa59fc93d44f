// Package testmock provides in-memory test doubles for the interfaces the
// sync engine depends on: a relational.DB backed by sqlmock, a
// controlplane-compatible HTTP transport, and a SecretResolver.
package testmock

import (
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/datasnap-cloud/bridge/internal/extract/relational"
)

// DB wraps a sqlmock-backed *sqlx.DB so package relational's tests can
// script exact query/row expectations without a real database.
type DB struct {
	*sqlx.DB
	Mock sqlmock.Sqlmock
}

// NewDB opens a sqlmock connection and wraps it in sqlx, matching queries
// by the regexp mode the driver name already requires for sqlx.In/Rebind
// compatibility.
func NewDB() (*DB, error) {
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		return nil, err
	}
	return &DB{DB: sqlx.NewDb(sqlDB, "sqlmock"), Mock: mock}, nil
}

var _ relational.DB = (*DB)(nil)
