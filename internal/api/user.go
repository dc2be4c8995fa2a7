package api

import (
	"net/http"

	"github.com/MikeSquared-Agency/Tailgate/internal/notify"
)

type UserHandler struct {
	notifier *notify.Notifier
}

func NewUserHandler(n *notify.Notifier) *UserHandler {
	return &UserHandler{notifier: n}
}

func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"user": UserFromContext(r.Context())})
}

func (h *UserHandler) Notifications(w http.ResponseWriter, r *http.Request) {
	unread := r.URL.Query().Get("unread") == "true"
	out, err := h.notifier.List(r.Context(), UserFromContext(r.Context()).ID, unread)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"notifications": out})
}

func (h *UserHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.notifier.MarkRead(r.Context(), UserFromContext(r.Context()).ID, id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
