package reference

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// Row is one staged record keyed by column name.
type Row map[string]interface{}

// PrepareStaging recreates empty staging tables for every table in tables.
func PrepareStaging(ctx context.Context, tx *sqlx.Tx, dialect Dialect, tables []Table) error {
	for _, t := range tables {
		for _, stmt := range dialect.CloneEmpty(t) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("unable to prepare staging table %s. statement:%s error: %w", t.Staging, stmt, err)
			}
		}
	}
	return nil
}

// insertStatement builds the named insert for t's staging table.
func insertStatement(t Table) string {
	return "insert into " + t.Staging + " (" + strings.Join(t.Columns, ", ") + ") values (:" +
		strings.Join(t.Columns, ", :") + ")"
}

// InsertStaged writes rows into t's staging table and returns the number written. Columns not in the
// catalogue are rejected, missing columns are written as null.
func InsertStaged(ctx context.Context, tx *sqlx.Tx, t Table, rows []Row) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	known := make(map[string]bool, len(t.Columns))
	for _, col := range t.Columns {
		known[col] = true
	}

	stmt, err := tx.PrepareNamedContext(ctx, insertStatement(t))
	if err != nil {
		return 0, fmt.Errorf("unable to prepare insert into %s: %w", t.Staging, err)
	}
	defer stmt.Close()

	var written int64
	for i, row := range rows {
		args := make(map[string]interface{}, len(t.Columns))
		for col, value := range row {
			if !known[col] {
				return written, fmt.Errorf("row %d of %s has unknown column %q", i, t.Name, col)
			}
			args[col] = normalizeValue(value)
		}
		for _, col := range t.Columns {
			if _, present := args[col]; !present {
				args[col] = nil
			}
		}
		if _, err = stmt.ExecContext(ctx, args); err != nil {
			return written, fmt.Errorf("unable to insert row %d into %s: %w", i, t.Staging, err)
		}
		written++
	}
	return written, nil
}

// normalizeValue turns json.Number values decoded from task payloads into int64 or float64.
func normalizeValue(value interface{}) interface{} {
	n, ok := value.(json.Number)
	if !ok {
		return value
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

// CountStaged returns the number of rows in t's staging table.
func CountStaged(ctx context.Context, q sqlx.QueryerContext, t Table) (int64, error) {
	var count int64
	query := "select count(*) from " + t.Staging
	if err := sqlx.GetContext(ctx, q, &count, query); err != nil {
		return 0, fmt.Errorf("unable to count staged rows. query:%s error: %w", query, err)
	}
	return count, nil
}

// CountProduction returns the number of rows in t's production table.
func CountProduction(ctx context.Context, q sqlx.QueryerContext, t Table) (int64, error) {
	var count int64
	query := "select count(*) from " + t.Production
	if err := sqlx.GetContext(ctx, q, &count, query); err != nil {
		return 0, fmt.Errorf("unable to count production rows. query:%s error: %w", query, err)
	}
	return count, nil
}
