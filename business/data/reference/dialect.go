package reference

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Dialect produces the DDL needed to stage and promote reference tables on a given database.
type Dialect interface {
	// PrepareNamespace makes sure the staging schema exists.
	PrepareNamespace(ctx context.Context, db sqlx.ExecerContext, ns Namespace) error
	// CloneEmpty returns statements recreating t's staging table empty, with production's columns.
	CloneEmpty(t Table) []string
	// Swap returns statements replacing t's production table with its staging table.
	Swap(t Table, ns Namespace) []string
	// Lock serializes promotions of one dataset for the lifetime of tx.
	Lock(ctx context.Context, tx *sqlx.Tx, dataset string) error
}

// Postgres is the Dialect used in production.
type Postgres struct{}

// PrepareNamespace creates the staging schema.
func (Postgres) PrepareNamespace(ctx context.Context, db sqlx.ExecerContext, ns Namespace) error {
	_, err := db.ExecContext(ctx, "create schema if not exists "+ns.Staging)
	return err
}

// CloneEmpty uses "like ... including all" so indexes and defaults follow the table.
func (Postgres) CloneEmpty(t Table) []string {
	return []string{
		fmt.Sprintf("drop table if exists %s", t.Staging),
		fmt.Sprintf("create table %s (like %s including all)", t.Staging, t.Production),
	}
}

// Swap renames production away and drops it before moving staging into the production schema.
// Index names are schema wide and the staging clone carries the production index names, so the
// old table and its indexes have to be gone before staging lands next to them.
func (Postgres) Swap(t Table, ns Namespace) []string {
	return []string{
		fmt.Sprintf("alter table %s rename to %s", t.Production, t.Backup),
		fmt.Sprintf("drop table %s.%s", ns.Production, t.Backup),
		fmt.Sprintf("alter table %s set schema %s", t.Staging, ns.Production),
		fmt.Sprintf("drop table if exists %s", t.Staging),
	}
}

// Lock takes a transaction scoped advisory lock keyed by the dataset name.
func (Postgres) Lock(ctx context.Context, tx *sqlx.Tx, dataset string) error {
	_, err := tx.ExecContext(ctx, "select pg_advisory_xact_lock(hashtext($1))", dataset)
	return err
}

// SQLite runs against a database with the staging schema attached. Used for local runs and tests.
type SQLite struct{}

// PrepareNamespace does nothing, attached databases are set up by the caller.
func (SQLite) PrepareNamespace(context.Context, sqlx.ExecerContext, Namespace) error {
	return nil
}

// CloneEmpty copies the column layout of production without rows.
func (SQLite) CloneEmpty(t Table) []string {
	return []string{
		fmt.Sprintf("drop table if exists %s", t.Staging),
		fmt.Sprintf("create table %s as select * from %s where 0", t.Staging, t.Production),
	}
}

// Swap copies staging into a fresh production table since tables cannot move between attached databases.
func (SQLite) Swap(t Table, ns Namespace) []string {
	return []string{
		fmt.Sprintf("alter table %s rename to %s", t.Production, t.Backup),
		fmt.Sprintf("create table %s as select * from %s", t.Production, t.Staging),
		fmt.Sprintf("drop table %s.%s", ns.Production, t.Backup),
		fmt.Sprintf("drop table if exists %s", t.Staging),
	}
}

// Lock is a no-op, sqlite serializes writers.
func (SQLite) Lock(context.Context, *sqlx.Tx, string) error {
	return nil
}
