// Package tasks implements the scheduled maintenance jobs of PersonaBot.
package tasks

import (
	"log/slog"
	"time"

	"github.com/edgard/personabot/internal/database"
)

// TaskDeps contains the dependencies required by scheduled tasks.
type TaskDeps struct {
	Logger *slog.Logger
	Store  database.Store
	// Now is the clock used by time-based tasks. Nil means time.Now.
	Now func() time.Time
}

func (d TaskDeps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}
