package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/Tailgate/internal/apperr"
	"github.com/MikeSquared-Agency/Tailgate/internal/tails"
)

type TailsHandler struct {
	recorder *tails.Recorder
}

func NewTailsHandler(rec *tails.Recorder) *TailsHandler {
	return &TailsHandler{recorder: rec}
}

type RecordTailRequest struct {
	BetID string `json:"bet_id"`
}

type RecordTailResponse struct {
	Success bool `json:"success"`
	*tails.Result
}

func (h *TailsHandler) Record(w http.ResponseWriter, r *http.Request) {
	var req RecordTailRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.BetID == "" {
		writeError(w, apperr.Validation("Bet ID required"))
		return
	}
	betID, err := uuid.Parse(req.BetID)
	if err != nil {
		writeError(w, apperr.Validation("Invalid bet_id"))
		return
	}

	res, err := h.recorder.Record(r.Context(), tails.RecordRequest{
		BetID:     betID,
		UserID:    UserFromContext(r.Context()).ID,
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RecordTailResponse{Success: true, Result: res})
}

// List returns the caller's tails, optionally for one challenge.
func (h *TailsHandler) List(w http.ResponseWriter, r *http.Request) {
	challengeID, err := optionalUUIDQuery(r, "challenge_id")
	if err != nil {
		writeError(w, err)
		return
	}
	out, err := h.recorder.UserTails(r.Context(), UserFromContext(r.Context()).ID, challengeID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tails": out})
}

func (h *TailsHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	challengeID, err := uuidParam(r, "challengeID")
	if err != nil {
		writeError(w, err)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err = parsePositiveInt(raw); err != nil {
			writeError(w, apperr.Validation("limit must be a positive integer"))
			return
		}
	}
	entries, err := h.recorder.Leaderboard(r.Context(), challengeID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"leaderboard": entries})
}

// MyStanding reports the caller's points, tail counts and rank in a challenge.
func (h *TailsHandler) MyStanding(w http.ResponseWriter, r *http.Request) {
	challengeID, err := uuidParam(r, "challengeID")
	if err != nil {
		writeError(w, err)
		return
	}
	stats, err := h.recorder.UserStats(r.Context(), UserFromContext(r.Context()).ID, challengeID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"stats": stats})
}
