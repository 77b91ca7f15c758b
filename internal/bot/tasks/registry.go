package tasks

import (
	"context"
)

// ScheduledTaskFunc defines the signature of all scheduled tasks.
// The context provided by the scheduler should be respected for cancellation.
type ScheduledTaskFunc func(ctx context.Context) error

// Task names, as used in the scheduler.tasks configuration section.
const (
	SQLMaintenance = "sql_maintenance"
	VIPExpiry      = "vip_expiry"
)

// RegisterAllTasks initializes and returns a map of all registered scheduled tasks.
// The keys match the task names in the configuration.
func RegisterAllTasks(deps TaskDeps) map[string]ScheduledTaskFunc {
	tasks := map[string]ScheduledTaskFunc{
		SQLMaintenance: newSQLMaintenanceTask(deps),
		VIPExpiry:      newVIPExpiryTask(deps),
	}

	deps.Logger.Info("Initialized scheduled tasks", "count", len(tasks))
	return tasks
}
