package api

import (
	"net/http"

	"github.com/MikeSquared-Agency/Tailgate/internal/analytics"
)

type AnalyticsHandler struct {
	agg *analytics.Aggregator
}

func NewAnalyticsHandler(agg *analytics.Aggregator) *AnalyticsHandler {
	return &AnalyticsHandler{agg: agg}
}

func (h *AnalyticsHandler) Get(w http.ResponseWriter, r *http.Request) {
	challengeID, err := optionalUUIDQuery(r, "challenge_id")
	if err != nil {
		writeError(w, err)
		return
	}
	tr, err := analytics.ParseTimeRange(r.URL.Query().Get("time_range"))
	if err != nil {
		writeError(w, err)
		return
	}
	rep, err := h.agg.Report(r.Context(), challengeID, tr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"analytics": rep})
}
