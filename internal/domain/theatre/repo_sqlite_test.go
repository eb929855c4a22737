package theatre

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_Inputs(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	f, err := LoadFixtures("testdata/fixtures.yaml")
	require.NoError(t, err)
	require.NoError(t, f.Import(ctx, s))
	// importing twice upserts
	require.NoError(t, f.Import(ctx, s))

	consultants, err := s.LoadConsultants(ctx)
	require.NoError(t, err)
	require.Len(t, consultants, 3)
	assert.Equal(t, "C001", consultants[0].SurgeonID)
	require.NotNil(t, consultants[0].Subspecialty)
	assert.Equal(t, "Upper GI", *consultants[0].Subspecialty)
	require.NotNil(t, consultants[0].MaxSessionsPerWeek)
	assert.Equal(t, 2, *consultants[0].MaxSessionsPerWeek)
	assert.Nil(t, consultants[1].MinSessionsPerWeek)
	assert.Equal(t, f.Consultants[1].ClinicDays, consultants[1].ClinicDays)

	procedures, err := s.LoadPendingProcedures(ctx)
	require.NoError(t, err)
	require.Len(t, procedures, 5)
	assert.Equal(t, f.WaitingList[0].ID, procedures[0].ID)
	require.NotNil(t, procedures[0].TargetDate)
	assert.True(t, procedures[0].TargetDate.Equal(time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)))
}

func TestSQLiteStore_Sessions(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	sub := "Upper GI"
	now := time.Date(2025, 2, 20, 9, 0, 0, 0, time.UTC)
	mk := func(date, consultant string) *TheatreSession {
		return &TheatreSession{
			ID: sessionID(date, consultant), Date: date, DayOfWeek: "Monday", SessionType: SessionAM,
			ConsultantID: consultant, Theatre: "Theatre 1", Status: StatusScheduled, Subspecialty: &sub,
			StartTime: "08:00", EndTime: "13:00", TotalDuration: 300, Utilization: 20,
			Patients:  []ScheduledProcedure{{PatientID: "P1", ProcedureName: "hernia repair", Priority: PriorityUrgent, EstimatedDuration: 60}},
			CreatedAt: now, UpdatedAt: now,
		}
	}
	march := []*TheatreSession{mk("2025-03-03", "C002"), mk("2025-03-03", "C001"), mk("2025-03-10", "C001")}
	april := mk("2025-04-07", "C001")
	require.NoError(t, s.WriteSessions(ctx, append(march, april)))
	// rewriting the same ids is an upsert
	require.NoError(t, s.WriteSessions(ctx, march[:1]))

	page, total, err := s.ListSessionsForMonth(ctx, 2025, time.March, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 2)
	assert.Equal(t, "C001", page[0].ConsultantID)
	assert.Equal(t, "C002", page[1].ConsultantID)

	got, err := s.GetSession(ctx, march[2].ID)
	require.NoError(t, err)
	assert.Equal(t, "2025-03-10", got.Date)
	assert.Equal(t, SessionAM, got.SessionType)
	require.NotNil(t, got.Subspecialty)
	assert.Equal(t, sub, *got.Subspecialty)
	require.Len(t, got.Patients, 1)
	assert.Equal(t, PriorityUrgent, got.Patients[0].Priority)
	assert.True(t, got.CreatedAt.Equal(now))

	_, err = s.GetSession(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrSessionNotFound)

	cleared, err := s.ClearSessionsForMonth(ctx, 2025, time.March)
	require.NoError(t, err)
	assert.Equal(t, 3, cleared)

	_, total, err = s.ListSessionsForMonth(ctx, 2025, time.April, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestSQLiteStore_GenerateRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "db", "theatre.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	f, err := LoadFixtures("testdata/fixtures.yaml")
	require.NoError(t, err)
	require.NoError(t, f.Import(ctx, s))

	gen := NewGenerator(s, DefaultCatalog(), testOptions(), zerolog.Nop(), nil)
	first, err := gen.Run(ctx, 2025, time.March)
	require.NoError(t, err)
	require.NotZero(t, first.SessionsCreated)
	assert.Equal(t, first.SessionsCreated, first.Written)

	second, err := gen.Run(ctx, 2025, time.March)
	require.NoError(t, err)
	assert.Equal(t, first.SessionsCreated, second.Cleared)

	stored, total, err := s.ListSessionsForMonth(ctx, 2025, time.March, 500, 0)
	require.NoError(t, err)
	assert.Equal(t, second.SessionsCreated, total)
	for _, ts := range stored {
		assert.LessOrEqual(t, ts.ScheduledMinutes(), ts.TotalDuration)
	}
}
