package httpapi

import (
	"net/http"
	"strings"

	"github.com/safar/go-storefront/internal/store"
)

type createUserRequest struct {
	Email        string `json:"email"`
	Name         string `json:"name"`
	BonusBalance int64  `json:"bonusBalance"`
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	if !strings.Contains(req.Email, "@") || strings.TrimSpace(req.Name) == "" {
		h.respondError(w, r, invalid("email and name are required"))
		return
	}
	if req.BonusBalance < 0 {
		h.respondError(w, r, invalid("bonus balance cannot be negative"))
		return
	}

	user, err := store.CreateUser(r.Context(), h.db, req.Email, req.Name, req.BonusBalance)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, user)
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userID")
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	user, err := store.GetUser(r.Context(), h.db, userID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, user)
}
