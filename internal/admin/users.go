package admin

import (
	"net/http"
	"strconv"
)

const recentUsersLimit = 10

type creditsInput struct {
	Amount int `json:"amount" validate:"ne=0"`
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	total, vip, err := s.deps.Store.CountUsers(ctx)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	recent, err := s.deps.Store.RecentUsers(ctx, recentUsersLimit)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total_users":  total,
		"vip_users":    vip,
		"recent_users": recent,
	})
}

// userMessages returns a user's conversation, oldest first.
func (s *Server) userMessages(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	msgs, err := s.deps.Store.GetRecentMessages(r.Context(), pathID(r), limit)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) addCredits(w http.ResponseWriter, r *http.Request) {
	var in creditsInput
	if !s.decode(w, r, &in) {
		return
	}
	user, err := s.deps.Store.AddCredits(r.Context(), pathID(r), in.Amount)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
