package importer

import (
	"net/http"

	"github.com/OpenTransitTools/transitdelay/business/data/ledger"
	"github.com/OpenTransitTools/transitdelay/foundation/web"
	"github.com/gorilla/mux"
)

// datasetStatus is the body of the dataset endpoint.
type datasetStatus struct {
	Dataset string          `json:"dataset"`
	Current ledger.Version  `json:"current"`
	Tables  []string        `json:"tables"`
	Records []ledger.Record `json:"records"`
}

// datasetHandler reports the promoted version and the ledger records of one dataset.
type datasetHandler struct {
	im *Importer
}

func (h *datasetHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	dataset := mux.Vars(r)["dataset"]
	tables, err := h.im.registry.TableNames(dataset)
	if err != nil {
		web.WriteJSON(h.im.log, w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	records, err := ledger.History(r.Context(), h.im.db, dataset)
	if err != nil {
		h.im.log.Error().Err(err).Str("dataset", dataset).Msg("unable to read dataset history")
		web.WriteJSON(h.im.log, w, http.StatusInternalServerError, map[string]string{"error": "unable to read ledger"})
		return
	}
	web.WriteJSON(h.im.log, w, http.StatusOK, datasetStatus{
		Dataset: dataset,
		Current: ledger.CurrentVersion(r.Context(), h.im.log, h.im.db, dataset),
		Tables:  tables,
		Records: records,
	})
}

// RegisterRoutes adds the dataset endpoint to router.
func (im *Importer) RegisterRoutes(router *mux.Router) {
	router.Handle("/datasets/{dataset}", &datasetHandler{im: im}).Methods(http.MethodGet)
}
