package api

import (
	"net/http"

	"github.com/MikeSquared-Agency/Tailgate/internal/apperr"
	"github.com/MikeSquared-Agency/Tailgate/internal/challenges"
	"github.com/MikeSquared-Agency/Tailgate/internal/store"
)

type ChallengesHandler struct {
	svc *challenges.Service
}

func NewChallengesHandler(svc *challenges.Service) *ChallengesHandler {
	return &ChallengesHandler{svc: svc}
}

// List serves ?type=active (default) or ?type=draft, the caller's own drafts.
func (h *ChallengesHandler) List(w http.ResponseWriter, r *http.Request) {
	var (
		out []*store.Challenge
		err error
	)
	switch r.URL.Query().Get("type") {
	case "", "active":
		out, err = h.svc.ListActive(r.Context())
	case "draft":
		out, err = h.svc.ListDrafts(r.Context(), UserFromContext(r.Context()).ID)
	default:
		err = apperr.Validation("type must be active or draft")
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"challenges": out})
}

func (h *ChallengesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req challenges.CreateChallengeInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	c, err := h.svc.CreateChallenge(r.Context(), UserFromContext(r.Context()).ID, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"challenge": c})
}

func (h *ChallengesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	c, err := h.svc.GetChallenge(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"challenge": c})
}

type UpdateChallengeRequest struct {
	Action string `json:"action"`
}

// Update applies a start or end action.
func (h *ChallengesHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req UpdateChallengeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	user := UserFromContext(r.Context())

	switch req.Action {
	case "start":
		c, err := h.svc.StartChallenge(r.Context(), id, user.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"challenge": c})
	case "end":
		c, payouts, err := h.svc.EndChallenge(r.Context(), id, user.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"challenge": c, "payouts": payouts})
	default:
		writeError(w, apperr.Validation("Invalid action"))
	}
}

func (h *ChallengesHandler) Payouts(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	payouts, err := h.svc.Payouts(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"payouts": payouts})
}
