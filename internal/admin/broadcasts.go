package admin

import (
	"errors"
	"net/http"

	"github.com/edgard/personabot/internal/broadcast"
	"github.com/edgard/personabot/internal/database"
)

type broadcastInput struct {
	Text     string  `json:"text"`
	MediaID  int64   `json:"media_id"  validate:"gte=0"`
	Audience string  `json:"audience"  validate:"omitempty,oneof=all vip free"`
	UserIDs  []int64 `json:"user_ids"`
}

func (s *Server) launchBroadcast(w http.ResponseWriter, r *http.Request) {
	var in broadcastInput
	if !s.decode(w, r, &in) {
		return
	}
	id, err := s.deps.Broadcasts.Launch(r.Context(), broadcast.Campaign{
		Text:     in.Text,
		MediaID:  in.MediaID,
		Audience: in.Audience,
		UserIDs:  in.UserIDs,
	})
	switch {
	case errors.Is(err, broadcast.ErrEmptyCampaign):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"id": id, "status": database.BroadcastProcessing})
}

func (s *Server) getBroadcast(w http.ResponseWriter, r *http.Request) {
	b, err := s.deps.Store.GetBroadcast(r.Context(), pathID(r))
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}
