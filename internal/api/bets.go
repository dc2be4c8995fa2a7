package api

import (
	"net/http"

	"github.com/MikeSquared-Agency/Tailgate/internal/apperr"
	"github.com/MikeSquared-Agency/Tailgate/internal/challenges"
)

type BetsHandler struct {
	svc *challenges.Service
}

func NewBetsHandler(svc *challenges.Service) *BetsHandler {
	return &BetsHandler{svc: svc}
}

// List needs either ?challenge_id=... (optionally with active=true) or ?all=true.
func (h *BetsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	challengeID, err := optionalUUIDQuery(r, "challenge_id")
	if err != nil {
		writeError(w, err)
		return
	}

	var out []*challenges.BetView
	switch {
	case challengeID != nil && q.Get("active") == "true":
		out, err = h.svc.ListActiveBets(r.Context(), *challengeID)
	case challengeID != nil:
		out, err = h.svc.ListBets(r.Context(), *challengeID)
	case q.Get("all") == "true":
		out, err = h.svc.ListAllBets(r.Context())
	default:
		err = apperr.Validation("Challenge ID required")
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"bets": out})
}

func (h *BetsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	b, err := h.svc.GetBet(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"bet": b})
}

func (h *BetsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req challenges.CreateBetInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	b, err := h.svc.CreateBet(r.Context(), UserFromContext(r.Context()).ID, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"bet": b})
}

type UpdateBetRequest struct {
	Status string `json:"status"`
}

func (h *BetsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req UpdateBetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	b, err := h.svc.UpdateBetStatus(r.Context(), id, UserFromContext(r.Context()), req.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"bet": b})
}
