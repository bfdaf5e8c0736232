package importer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/OpenTransitTools/transitdelay/business/data/dbtest"
	"github.com/OpenTransitTools/transitdelay/business/data/reference"
	"github.com/gorilla/mux"
	"github.com/matryer/is"
)

func TestDatasetHandler(t *testing.T) {
	is := is.New(t)
	db := dbtest.NewSQLite(t)
	im := makeTestImporter(t, db, reference.SQLite{})
	is.NoErr(im.HandleSection(context.Background(), Section{
		Dataset:      "stop_registry",
		LastModified: firstExport,
		Table:        "station_platform",
		Final:        true,
	}))
	router := mux.NewRouter()
	im.RegisterRoutes(router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/datasets/stop_registry", nil))
	is.Equal(rec.Code, http.StatusOK)
	var status datasetStatus
	is.NoErr(json.Unmarshal(rec.Body.Bytes(), &status))
	is.Equal(status.Current.Version, 1)
	is.Equal(status.Tables, []string{"station_platform"})
	is.True(len(status.Records) > 0)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/datasets/unknown", nil))
	is.Equal(rec.Code, http.StatusNotFound)
}
