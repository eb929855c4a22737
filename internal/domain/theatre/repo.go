package theatre

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ScheduleStore is everything the generator needs from persistence.
type ScheduleStore interface {
	LoadConsultants(ctx context.Context) ([]ConsultantRecord, error)
	LoadPendingProcedures(ctx context.Context) ([]ProcedureRecord, error)
	ClearSessionsForMonth(ctx context.Context, year int, month time.Month) (int, error)
	// WriteSessions writes one batch atomically. Sessions are upserted by ID
	// so a batch can be retried.
	WriteSessions(ctx context.Context, sessions []*TheatreSession) error
}

type SessionReader interface {
	ListSessionsForMonth(ctx context.Context, year int, month time.Month, limit, offset int) ([]*TheatreSession, int, error)
	GetSession(ctx context.Context, id uuid.UUID) (*TheatreSession, error)
}

// FixtureImporter loads input records, used by the seed command.
type FixtureImporter interface {
	UpsertConsultants(ctx context.Context, records []ConsultantRecord) error
	UpsertProcedures(ctx context.Context, records []ProcedureRecord) error
}

// Store is implemented by PGStore and SQLiteStore.
type Store interface {
	ScheduleStore
	SessionReader
	FixtureImporter
}

func monthRange(year int, month time.Month) (time.Time, time.Time) {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return first, first.AddDate(0, 1, 0)
}
