package admin

import (
	"net/http"

	"github.com/edgard/personabot/internal/database"
	"github.com/edgard/personabot/internal/payments"
)

type mediaInput struct {
	Tag        string `json:"tag"         validate:"required,max=64"`
	Name       string `json:"name"        validate:"required"`
	ContentRef string `json:"content_ref" validate:"required"`
	Kind       string `json:"kind"        validate:"oneof=photo video"`
	Price      int    `json:"price"       validate:"gt=0"`
}

type quoteInput struct {
	ContentRef string `json:"content_ref" validate:"required"`
	Kind       string `json:"kind"        validate:"oneof=photo video"`
	Price      int    `json:"price"       validate:"gt=0"`
}

func (s *Server) listMedia(w http.ResponseWriter, r *http.Request) {
	items, err := s.deps.Store.ListMedia(r.Context())
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) createMedia(w http.ResponseWriter, r *http.Request) {
	var in mediaInput
	if !s.decode(w, r, &in) {
		return
	}
	m := &database.MediaContent{Tag: in.Tag, Name: in.Name, ContentRef: in.ContentRef, Kind: in.Kind, Price: in.Price}
	if err := s.deps.Store.CreateMedia(r.Context(), m); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) deleteMedia(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.DeleteMedia(r.Context(), pathID(r)); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listCustomRequests(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	switch status {
	case "", database.RequestPending, database.RequestFulfilled, database.RequestRejected:
	default:
		writeError(w, http.StatusBadRequest, "unknown status")
		return
	}
	reqs, err := s.deps.Store.ListCustomRequests(r.Context(), status)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reqs)
}

// quoteCustomRequest stores the fulfillment for a pending request and sends
// the buyer its invoice through the live identity, if there is one.
func (s *Server) quoteCustomRequest(w http.ResponseWriter, r *http.Request) {
	var in quoteInput
	if !s.decode(w, r, &in) {
		return
	}
	ctx := r.Context()
	id := pathID(r)

	if err := s.deps.Store.QuoteCustomRequest(ctx, id, in.ContentRef, in.Kind, in.Price); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	req, err := s.deps.Store.GetCustomRequest(ctx, id)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	sent := false
	if h := s.deps.Identity.Current(); h == nil {
		s.logger.WarnContext(ctx, "Custom request quoted but no live identity to send the invoice", "request_id", id)
	} else if _, err := h.Sender.SendInvoice(ctx, payments.NewInvoices(s.deps.Chat).CustomInvoice(req.UserID, req)); err != nil {
		s.logger.WarnContext(ctx, "Failed to send custom request invoice", "request_id", id, "user_id", req.UserID, "error", err)
	} else {
		sent = true
	}

	writeJSON(w, http.StatusOK, map[string]any{"request": req, "invoice_sent": sent})
}

func (s *Server) rejectCustomRequest(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.SetCustomRequestStatus(r.Context(), pathID(r), database.RequestRejected); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
