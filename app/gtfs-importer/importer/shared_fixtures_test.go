package importer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/OpenTransitTools/transitdelay/business/data/dbtest"
	"github.com/OpenTransitTools/transitdelay/business/data/reference"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	firstExport  = time.Date(2024, 3, 1, 4, 0, 0, 0, time.UTC)
	secondExport = time.Date(2024, 3, 2, 4, 0, 0, 0, time.UTC)
	importTime   = time.Date(2024, 3, 2, 6, 30, 0, 0, time.UTC)
)

// failingSwap breaks the promotion of one table.
type failingSwap struct {
	reference.Dialect
	table string
}

func (d failingSwap) Swap(t reference.Table, ns reference.Namespace) []string {
	if t.Name == d.table {
		return []string{"insert into no_such_table values (1)"}
	}
	return d.Dialect.Swap(t, ns)
}

func makeTestImporter(t *testing.T, db *sqlx.DB, dialect reference.Dialect) *Importer {
	t.Helper()
	return newTestImporter(t, db, dialect, reference.Namespace{Production: dbtest.Production, Staging: dbtest.Staging})
}

func newTestImporter(t *testing.T, db *sqlx.DB, dialect reference.Dialect, ns reference.Namespace) *Importer {
	t.Helper()
	registry, err := reference.LoadRegistry(ns)
	if err != nil {
		t.Fatalf("loading registry: %v", err)
	}
	im := NewImporter(dbtest.Logger(), db, registry, dialect, NewMetrics(prometheus.NewRegistry()))
	im.now = func() time.Time {
		return importTime
	}
	return im
}

func platformRow(cisId int, aswId string, platformCode string, stopId string) reference.Row {
	return reference.Row{"cis_id": cisId, "asw_id": aswId, "platform_code": platformCode, "stop_id": stopId}
}

// handle sends s through the queue entry point so payload decoding is exercised as well.
func handle(t *testing.T, im *Importer, s Section) error {
	t.Helper()
	payload, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshaling section: %v", err)
	}
	return im.Handle(context.Background(), string(payload))
}

func productionCount(t *testing.T, im *Importer, dataset string, table string) int64 {
	t.Helper()
	tbl, err := im.registry.Table(dataset, table)
	if err != nil {
		t.Fatalf("table %s: %v", table, err)
	}
	count, err := reference.CountProduction(context.Background(), im.db, tbl)
	if err != nil {
		t.Fatalf("counting %s: %v", table, err)
	}
	return count
}

func stagedCount(t *testing.T, im *Importer, dataset string, table string) int64 {
	t.Helper()
	tbl, err := im.registry.Table(dataset, table)
	if err != nil {
		t.Fatalf("table %s: %v", table, err)
	}
	count, err := reference.CountStaged(context.Background(), im.db, tbl)
	if err != nil {
		t.Fatalf("counting staged %s: %v", table, err)
	}
	return count
}
