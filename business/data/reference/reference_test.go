package reference

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/OpenTransitTools/transitdelay/business/data/dbtest"
	"github.com/OpenTransitTools/transitdelay/foundation/database"
	"github.com/jmoiron/sqlx"
	"github.com/matryer/is"
)

var testNamespace = Namespace{Production: dbtest.Production, Staging: dbtest.Staging}

func TestLoadRegistry(t *testing.T) {
	is := is.New(t)
	r, err := LoadRegistry(DefaultNamespace)
	is.NoErr(err)
	is.Equal(r.Datasets(), []string{"gtfs", "stop_registry"})

	names, err := r.TableNames("gtfs")
	is.NoErr(err)
	is.Equal(names, []string{"route", "trip", "stop_time", "shape", "stop", "calendar", "calendar_date"})

	trip, err := r.Table("gtfs", "trip")
	is.NoErr(err)
	is.Equal(trip.Production, "public.trip")
	is.Equal(trip.Staging, "staging.trip")
	is.Equal(trip.Backup, "trip_backup")

	_, err = r.Table("gtfs", "station_platform")
	is.True(err != nil) // belongs to another dataset
	_, err = r.Tables("unknown")
	is.True(err != nil)
}

func TestParseRegistry_rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		ns   Namespace
	}{
		{
			name: "table name not an identifier",
			doc:  "datasets:\n  - name: a\n    tables:\n      - name: \"x; drop table y\"\n        columns: [c]\n",
			ns:   DefaultNamespace,
		},
		{
			name: "column name not an identifier",
			doc:  "datasets:\n  - name: a\n    tables:\n      - name: x\n        columns: [\"c)\"]\n",
			ns:   DefaultNamespace,
		},
		{
			name: "duplicate table",
			doc:  "datasets:\n  - name: a\n    tables:\n      - name: x\n        columns: [c]\n      - name: x\n        columns: [c]\n",
			ns:   DefaultNamespace,
		},
		{
			name: "dataset without tables",
			doc:  "datasets:\n  - name: a\n",
			ns:   DefaultNamespace,
		},
		{
			name: "same namespace twice",
			doc:  "datasets:\n  - name: a\n    tables:\n      - name: x\n        columns: [c]\n",
			ns:   Namespace{Production: "public", Staging: "public"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRegistry([]byte(tt.doc), tt.ns)
			if err == nil {
				t.Errorf("ParseRegistry() expected error")
			}
		})
	}
}

func TestPostgres_Swap(t *testing.T) {
	is := is.New(t)
	r, err := LoadRegistry(DefaultNamespace)
	is.NoErr(err)
	route, err := r.Table("gtfs", "route")
	is.NoErr(err)

	is.Equal(Postgres{}.Swap(route, DefaultNamespace), []string{
		"alter table public.route rename to route_backup",
		"drop table public.route_backup",
		"alter table staging.route set schema public",
		"drop table if exists staging.route",
	})
	is.Equal(Postgres{}.CloneEmpty(route), []string{
		"drop table if exists staging.route",
		"create table staging.route (like public.route including all)",
	})
}

func TestInsertStaged(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	db := dbtest.NewSQLite(t)
	log := dbtest.Logger()

	r, err := LoadRegistry(testNamespace)
	is.NoErr(err)
	tables, err := r.Tables("gtfs")
	is.NoErr(err)
	stopTime, err := r.Table("gtfs", "stop_time")
	is.NoErr(err)

	var rows []Row
	decoder := json.NewDecoder(strings.NewReader(`[
		{"trip_id": "t1", "stop_sequence": 1, "stop_id": "s1", "arrival_time": 36000, "departure_time": 36000, "shape_dist_traveled": 0},
		{"trip_id": "t1", "stop_sequence": 2, "stop_id": "s2", "arrival_time": 36600, "departure_time": 36630}
	]`))
	decoder.UseNumber()
	is.NoErr(decoder.Decode(&rows))

	err = database.Transact(ctx, log, db, func(tx *sqlx.Tx) error {
		if err := PrepareStaging(ctx, tx, SQLite{}, tables); err != nil {
			return err
		}
		written, err := InsertStaged(ctx, tx, stopTime, rows)
		is.Equal(written, int64(2))
		return err
	})
	is.NoErr(err)

	count, err := CountStaged(ctx, db, stopTime)
	is.NoErr(err)
	is.Equal(count, int64(2))

	var departure int
	is.NoErr(db.Get(&departure, "select departure_time from staging.stop_time where stop_sequence = 2"))
	is.Equal(departure, 36630)

	var dist *float64
	is.NoErr(db.Get(&dist, "select shape_dist_traveled from staging.stop_time where stop_sequence = 2"))
	is.True(dist == nil) // missing column stored as null

	prodCount, err := CountProduction(ctx, db, stopTime)
	is.NoErr(err)
	is.Equal(prodCount, int64(0))
}

func TestInsertStaged_unknownColumn(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	db := dbtest.NewSQLite(t)

	r, err := LoadRegistry(testNamespace)
	is.NoErr(err)
	route, err := r.Table("gtfs", "route")
	is.NoErr(err)

	err = database.Transact(ctx, dbtest.Logger(), db, func(tx *sqlx.Tx) error {
		if err := PrepareStaging(ctx, tx, SQLite{}, []Table{route}); err != nil {
			return err
		}
		_, err := InsertStaged(ctx, tx, route, []Row{{"route_id": "r1", "route_short_name": "9", "route_type": 3, "evil": "x"}})
		return err
	})
	is.True(err != nil)
}
