package dbtest

import (
	"context"
	"net/url"
	"os"
	"strings"
	"testing"

	"github.com/OpenTransitTools/transitdelay/business/data/schema"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/stdlib"
	"github.com/jmoiron/sqlx"
)

// PostgresURLEnv names the environment variable holding the url of a scratch postgres database.
// Tests needing postgres are skipped when it is unset.
const PostgresURLEnv = "TRANSITDELAY_TEST_POSTGRES_URL"

// NewPostgres creates a private production and staging schema pair in the database named by
// PostgresURLEnv, both dropped when the test ends. The returned connection uses the production
// schema as its search path and has all production tables created.
func NewPostgres(t *testing.T) (db *sqlx.DB, production string, staging string) {
	t.Helper()

	raw := os.Getenv(PostgresURLEnv)
	if raw == "" {
		t.Skipf("%s not set, skipping postgres test", PostgresURLEnv)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parsing %s: %v", PostgresURLEnv, err)
	}

	admin, err := sqlx.Open("pgx", raw)
	if err != nil {
		t.Fatalf("opening postgres: %v", err)
	}
	t.Cleanup(func() {
		_ = admin.Close()
	})

	production = "td_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	staging = production + "_staging"
	Exec(t, admin, "create schema "+production)
	t.Cleanup(func() {
		for _, name := range []string{staging, production} {
			if _, err := admin.Exec("drop schema if exists " + name + " cascade"); err != nil {
				t.Logf("dropping schema %s: %v", name, err)
			}
		}
	})

	q := u.Query()
	q.Set("search_path", production)
	u.RawQuery = q.Encode()
	db, err = sqlx.Open("pgx", u.String())
	if err != nil {
		t.Fatalf("opening postgres: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	if err = schema.Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	return db, production, staging
}
