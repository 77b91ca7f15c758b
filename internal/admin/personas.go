package admin

import (
	"net/http"

	"github.com/edgard/personabot/internal/database"
)

// personaInput carries the writable persona fields, secrets included.
// Empty tokens on update keep the stored ones.
type personaInput struct {
	Name          string `json:"name"           validate:"required,max=100"`
	SystemPrompt  string `json:"system_prompt"  validate:"required"`
	TelegramToken string `json:"telegram_token"`
	AIProvider    string `json:"ai_provider"    validate:"omitempty,oneof=openai gemini anthropic"`
	AIToken       string `json:"ai_token"`
	AIModel       string `json:"ai_model"`
}

func (in personaInput) apply(p *database.Persona) {
	p.Name, p.SystemPrompt, p.AIProvider, p.AIModel = in.Name, in.SystemPrompt, in.AIProvider, in.AIModel
	if in.TelegramToken != "" {
		p.TelegramToken = in.TelegramToken
	}
	if in.AIToken != "" {
		p.AIToken = in.AIToken
	}
}

func (s *Server) listPersonas(w http.ResponseWriter, r *http.Request) {
	personas, err := s.deps.Store.ListPersonas(r.Context())
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, personas)
}

func (s *Server) createPersona(w http.ResponseWriter, r *http.Request) {
	var in personaInput
	if !s.decode(w, r, &in) {
		return
	}
	p := &database.Persona{}
	in.apply(p)
	if err := s.deps.Store.CreatePersona(r.Context(), p); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) updatePersona(w http.ResponseWriter, r *http.Request) {
	var in personaInput
	if !s.decode(w, r, &in) {
		return
	}
	p, err := s.deps.Store.GetPersona(r.Context(), pathID(r))
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	in.apply(p)
	if err := s.deps.Store.UpdatePersona(r.Context(), p); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	// The live session holds the old token and script; rebuild it.
	if p.IsActive {
		s.activateAsync("active persona updated")
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) deletePersona(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.DeletePersona(r.Context(), pathID(r)); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) activatePersona(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	if err := s.deps.Store.ActivatePersona(r.Context(), id); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.activateAsync("persona activated")
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "activating", "persona_id": id})
}

func (s *Server) deactivatePersonas(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.DeactivatePersonas(r.Context()); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.activateAsync("personas deactivated")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "deactivating"})
}
