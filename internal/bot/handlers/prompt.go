package handlers

import (
	"strings"

	"github.com/edgard/personabot/internal/config"
	"github.com/edgard/personabot/internal/database"
	"github.com/edgard/personabot/internal/llm"
)

// buildSystemPrompt assembles the persona script, the tag instructions, the
// offerable catalog and what is known about the user.
func buildSystemPrompt(persona *database.Persona, msgs config.MessagesConfig, catalog []database.MediaContent, facts database.Facts) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(persona.SystemPrompt))

	if msgs.MemoryInstructions != "" {
		b.WriteString("\n\n")
		b.WriteString(msgs.MemoryInstructions)
	}

	if len(catalog) > 0 {
		b.WriteString("\n\n")
		b.WriteString(msgs.CatalogHeader)
		for _, m := range catalog {
			b.WriteString("\n- [PPV: ")
			b.WriteString(m.Tag)
			b.WriteString("] ")
			b.WriteString(m.Name)
		}
	}

	b.WriteString("\n\nKnown facts: ")
	b.WriteString(facts.String())
	return b.String()
}

// historyTurns maps stored messages, oldest first, onto generation turns.
func historyTurns(history []database.Message) []llm.Turn {
	turns := make([]llm.Turn, 0, len(history))
	for _, m := range history {
		role := llm.RoleUser
		if m.Role == database.RoleAssistant {
			role = llm.RoleAssistant
		}
		turns = append(turns, llm.Turn{Role: role, Content: m.Content})
	}
	return turns
}
