package episodes

import (
	"encoding/csv"
	"net/http"

	"github.com/samber/lo"
)

const exportLimit = 10000

var exportHeader = []string{"Id", "NHSNumber", "PatientName", "AdmissionDate", "DischargeDate", "Specialty", "Status"}

// exportCSVHandler godoc
// @Summary Exportar episodios (CSV)
// @Tags export
// @Produce text/csv
// @Param status query string false "Draft|Submitted|Approved|Rejected"
// @Success 200 {string} string "CSV"
// @Failure 401 {string} string "unauthorized"
// @Router /export/episodes.csv [get]
func exportCSVHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, ok := exportItems(w, r, svc)
		if !ok {
			return
		}

		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="episodes.csv"`)
		w.WriteHeader(http.StatusOK)

		cw := csv.NewWriter(w)
		_ = cw.Write(exportHeader)
		for _, ep := range items {
			discharge := ""
			if ep.DischargeDate != nil {
				discharge = ep.DischargeDate.Format("2006-01-02")
			}
			_ = cw.Write([]string{
				ep.ID,
				ep.NHSNumber,
				ep.PatientName,
				ep.AdmissionDate.Format("2006-01-02"),
				discharge,
				ep.Specialty,
				string(ep.Status),
			})
		}
		cw.Flush()
	}
}

// exportJSONHandler godoc
// @Summary Exportar episodios (JSON)
// @Tags export
// @Produce json
// @Param status query string false "Draft|Submitted|Approved|Rejected"
// @Success 200 {array} episodeResponse
// @Failure 401 {string} string "unauthorized"
// @Router /export/episodes.json [get]
func exportJSONHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, ok := exportItems(w, r, svc)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, lo.Map(items, func(ep Episode, _ int) episodeResponse {
			return toEpisodeResponse(ep)
		}))
	}
}

func exportItems(w http.ResponseWriter, r *http.Request, svc *Service) ([]Episode, bool) {
	if !authenticated(w, r) {
		return nil, false
	}

	filter, err := parseListFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}
	filter.Limit = exportLimit

	items, err := svc.List(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return items, true
}
