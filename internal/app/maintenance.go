package app

import (
	"context"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/technoprod/backend-gestion/internal/queue"
	"github.com/technoprod/backend-gestion/internal/store"
)

// Periodic maintenance task types executed by the asynq worker.
const (
	TaskPurgeSessions = "maintenance:purge_sessions"
	TaskDLQMetrics    = "maintenance:dlq_metrics"
)

// Maintenance owns the recurring housekeeping jobs: purging long-expired
// sessions and keeping the DLQ size gauges fresh.
type Maintenance struct {
	Queries *store.Queries
	DLQ     queue.Store
	Log     zerolog.Logger
}

// Register attaches the maintenance handlers to an asynq mux.
func (m *Maintenance) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskPurgeSessions, m.purgeSessions)
	mux.HandleFunc(TaskDLQMetrics, m.refreshDLQMetrics)
}

// Schedule registers the periodic entries on an asynq scheduler.
func (m *Maintenance) Schedule(s *asynq.Scheduler) error {
	if _, err := s.Register("@every 1h", asynq.NewTask(TaskPurgeSessions, nil)); err != nil {
		return err
	}
	if _, err := s.Register("@every 1m", asynq.NewTask(TaskDLQMetrics, nil)); err != nil {
		return err
	}
	return nil
}

func (m *Maintenance) purgeSessions(ctx context.Context, _ *asynq.Task) error {
	if m.Queries == nil {
		return nil
	}
	n, err := m.Queries.DeleteExpiredSessions(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		m.Log.Info().Int64("purged", n).Msg("expired sessions removed")
	}
	return nil
}

func (m *Maintenance) refreshDLQMetrics(ctx context.Context, _ *asynq.Task) error {
	if m.DLQ == nil {
		return nil
	}
	sizes, err := m.DLQ.QueueDlqSizeByKind(ctx)
	if err != nil {
		return err
	}
	for kind, total := range sizes {
		queue.ReportDLQSize(kind, total)
	}
	return nil
}
