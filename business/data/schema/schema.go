// Package schema creates the tables used by the importer and the delay monitor.
package schema

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

//go:embed schema.sql
var schemaDoc string

// Statements returns the individual DDL statements of the schema.
func Statements() []string {
	var statements []string
	for _, stmt := range strings.Split(schemaDoc, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt != "" {
			statements = append(statements, stmt)
		}
	}
	return statements
}

// Migrate creates any missing production table. It is safe to run repeatedly.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range Statements() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("unable to apply schema statement %q: %w", stmt, err)
		}
	}
	return nil
}
