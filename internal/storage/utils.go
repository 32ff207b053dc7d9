package storage

import "github.com/pkg/errors"

// InitStore opens the Postgres store behind the configured connection string.
func InitStore(dbConnStr string) (*PostgresStore, error) {
	if dbConnStr == "" {
		return nil, errors.New("database url is required")
	}
	store, err := NewPostgresStore(dbConnStr)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres store")
	}
	return store, nil
}
