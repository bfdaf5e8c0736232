// Package dbtest contains supporting code for running tests that hit the database.
package dbtest

import (
	"context"
	_ "embed"
	"strings"
	"testing"

	"github.com/OpenTransitTools/transitdelay/business/data/schema"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// Production and Staging are the schema names of an in memory test database.
const (
	Production = "main"
	Staging    = "staging"
)

//go:embed network.sql
var networkDoc string

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// NewSQLite opens a private in memory database with the staging schema attached and all
// production tables created.
func NewSQLite(t *testing.T) *sqlx.DB {
	t.Helper()

	db, err := sqlx.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("opening sqlite: %v", err)
	}
	// an in memory database lives and dies with its connection
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	t.Cleanup(func() {
		_ = db.Close()
	})

	ctx := context.Background()
	if _, err = db.ExecContext(ctx, "attach database ':memory:' as "+Staging); err != nil {
		t.Fatalf("attaching staging schema: %v", err)
	}
	if err = schema.Migrate(ctx, db); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	return db
}

// Logger returns a logger discarding all output.
func Logger() *zerolog.Logger {
	log := zerolog.Nop()
	return &log
}

// Exec runs statements and fails the test on the first error.
func Exec(t *testing.T, db *sqlx.DB, statements ...string) {
	t.Helper()
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("exec %q: %v", stmt, err)
		}
	}
}

// SeedNetwork loads a small tram, bus and rail network into the production tables.
//
// Service "weekday" runs Monday to Friday, "thursday" on Thursdays and "both_ways" is added and
// removed on 2024-03-01. Trip 9_night departs at 25:10:00. Trips S1_2745 and S7_2745 are two
// scheduled halves of train 2745.
func SeedNetwork(t *testing.T, db *sqlx.DB) {
	t.Helper()
	var statements []string
	for _, stmt := range strings.Split(networkDoc, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			statements = append(statements, stmt)
		}
	}
	Exec(t, db, statements...)
}
