package api

import (
	"net/http"

	"github.com/MikeSquared-Agency/Tailgate/internal/analytics"
	"github.com/MikeSquared-Agency/Tailgate/internal/challenges"
	"github.com/MikeSquared-Agency/Tailgate/internal/store"
	"github.com/MikeSquared-Agency/Tailgate/internal/tails"
)

// AdminHandler exposes the maintenance jobs the sweeper and CLI also run.
type AdminHandler struct {
	store    store.Store
	svc      *challenges.Service
	recorder *tails.Recorder
	agg      *analytics.Aggregator
}

func NewAdminHandler(s store.Store, svc *challenges.Service, rec *tails.Recorder, agg *analytics.Aggregator) *AdminHandler {
	return &AdminHandler{store: s, svc: svc, recorder: rec, agg: agg}
}

func (h *AdminHandler) CloseExpired(w http.ResponseWriter, r *http.Request) {
	closed, err := h.svc.CloseExpiredBets(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"closed": len(closed), "bets": closed})
}

func (h *AdminHandler) Rerank(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	c, err := h.store.GetChallenge(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if c == nil {
		writeError(w, challenges.ErrChallengeNotFound)
		return
	}
	standings, err := h.recorder.RecalculateRanks(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"standings": standings})
}

func (h *AdminHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	challengeID, err := optionalUUIDQuery(r, "challenge_id")
	if err != nil {
		writeError(w, err)
		return
	}
	entries, err := h.agg.Snapshot(r.Context(), challengeID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}
