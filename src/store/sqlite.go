package store

import (
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

var sqliteDialect = dialect{
	name:     "sqlite",
	driver:   "sqlite3",
	blobType: "BLOB",
	placeholder: func(int) string {
		return "?"
	},
}

// NewSQLiteStore creates a SQLite store for single-node deployments and tests.
// dsn is a file path or ":memory:".
func NewSQLiteStore(dsn string) (*SQLStore, error) {
	s, err := openSQLStore(sqliteDialect, dsn)
	if err != nil {
		return nil, err
	}

	// SQLite serialises writers; one connection also keeps ":memory:" databases shared.
	s.db.SetMaxOpenConns(1)
	return s, nil
}
