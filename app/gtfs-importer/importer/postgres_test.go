package importer

import (
	"context"
	"testing"
	"time"

	"github.com/OpenTransitTools/transitdelay/business/data/dbtest"
	"github.com/OpenTransitTools/transitdelay/business/data/ledger"
	"github.com/OpenTransitTools/transitdelay/business/data/reference"
	"github.com/OpenTransitTools/transitdelay/business/failure"
	"github.com/matryer/is"
)

// routeRow fills every route column, postgres rejects the nulls written for missing ones.
func routeRow(routeId string, shortName string) reference.Row {
	return reference.Row{
		"route_id":         routeId,
		"agency_id":        "",
		"route_short_name": shortName,
		"route_long_name":  "",
		"route_type":       0,
	}
}

// promoteRoutes sends one export of the gtfs dataset holding only routes.
func promoteRoutes(ctx context.Context, im *Importer, lastModified time.Time, routes ...reference.Row) error {
	err := im.HandleSection(ctx, Section{Dataset: "gtfs", LastModified: lastModified, Table: "route", Rows: routes})
	if err != nil {
		return err
	}
	names, err := im.registry.TableNames("gtfs")
	if err != nil {
		return err
	}
	for _, s := range finalSections(Section{Dataset: "gtfs", LastModified: lastModified}, names) {
		if err = im.HandleSection(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func TestImporter_Promote_postgres(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	db, production, staging := dbtest.NewPostgres(t)
	ns := reference.Namespace{Production: production, Staging: staging}
	im := newTestImporter(t, db, reference.Postgres{}, ns)

	is.NoErr(promoteRoutes(ctx, im, firstExport, routeRow("r1", "1")))
	is.Equal(ledger.CurrentVersion(ctx, im.log, db, "gtfs").Version, 1)
	is.Equal(productionCount(t, im, "gtfs", "route"), int64(1))

	// the promoted table kept its primary key
	_, err := db.Exec("insert into route (route_id, route_short_name, route_type) values ('r1', 'x', 0)")
	is.True(err != nil)

	// a second swap meets the index names the first one moved into production
	is.NoErr(promoteRoutes(ctx, im, secondExport, routeRow("r2", "2"), routeRow("r3", "3")))
	is.Equal(ledger.CurrentVersion(ctx, im.log, db, "gtfs").Version, 2)
	is.Equal(productionCount(t, im, "gtfs", "route"), int64(2))

	failing := newTestImporter(t, db, failingSwap{Dialect: reference.Postgres{}, table: "trip"}, ns)
	err = promoteRoutes(ctx, failing, secondExport.Add(24*time.Hour), routeRow("r4", "4"))
	is.True(err != nil)
	kind, code := failure.Classify(err)
	is.Equal(kind, failure.Integrity)
	is.Equal(code, failure.CodePromotion)

	is.Equal(ledger.CurrentVersion(ctx, im.log, db, "gtfs").Version, 2)
	is.Equal(productionCount(t, im, "gtfs", "route"), int64(2))
	failed, err := ledger.IsFailed(ctx, db, "gtfs", 3)
	is.NoErr(err)
	is.True(failed)
}
