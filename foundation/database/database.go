// Package database provides support for access the database.
package database

import (
	"context"
	"fmt"
	"net/url"

	_ "github.com/jackc/pgx/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

// Config is the required properties to use the database.
type Config struct {
	User         string
	Password     string
	Host         string
	Name         string
	DisableTLS   bool
	MaxOpenConns int
}

// Open knows how to open a database connection based on the configuration.
func Open(cfg Config) (*sqlx.DB, error) {
	sslMode := "require"
	if cfg.DisableTLS {
		sslMode = "disable"
	}

	q := make(url.Values)
	q.Set("sslmode", sslMode)
	q.Set("timezone", "utc")

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     cfg.Host,
		Path:     cfg.Name,
		RawQuery: q.Encode(),
	}
	db, err := sqlx.Open("pgx", u.String())
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	return db, nil
}

// StatusCheck returns nil if it can successfully talk to the database.
func StatusCheck(ctx context.Context, db *sqlx.DB) error {
	var tmp bool
	return db.QueryRowContext(ctx, "select true").Scan(&tmp)
}

// Transact runs txFunc inside a transaction, committing when txFunc returns nil and rolling back otherwise.
// A panic inside txFunc rolls back and is re-raised.
func Transact(ctx context.Context, log *zerolog.Logger, db *sqlx.DB, txFunc func(*sqlx.Tx) error) (err error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("unable to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			rollback(log, tx)
			panic(p)
		}
		if err != nil {
			rollback(log, tx)
			return
		}
		err = tx.Commit()
	}()
	err = txFunc(tx)
	return err
}

func rollback(log *zerolog.Logger, tx *sqlx.Tx) {
	if rbErr := tx.Rollback(); rbErr != nil {
		log.Error().Err(rbErr).Msg("failed to rollback transaction")
	}
}

// PrepareNamedQueryFromMap wraps boilerplate sqlx to prepare named query from map of ddl parameters
// returns rebound query string and arguments slice
func PrepareNamedQueryFromMap(
	statementString string,
	binder sqlx.ExtContext,
	sqlArgMap map[string]interface{}) (string, []interface{}, error) {

	query, args, err := sqlx.Named(statementString, sqlArgMap)
	if err != nil {
		return query, nil, err
	}
	query, args, err = sqlx.In(query, args...)
	if err != nil {
		return query, nil, err
	}
	query = binder.Rebind(query)
	return query, args, nil
}

// SelectNamed runs a named query built with PrepareNamedQueryFromMap and scans all rows into dest.
func SelectNamed(
	ctx context.Context,
	ext sqlx.ExtContext,
	dest interface{},
	statementString string,
	sqlArgMap map[string]interface{}) error {

	query, args, err := PrepareNamedQueryFromMap(statementString, ext, sqlArgMap)
	if err != nil {
		return err
	}
	return sqlx.SelectContext(ctx, ext, dest, query, args...)
}
