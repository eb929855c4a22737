package theatre

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/theatreops/theatre/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// PGStore is the PostgreSQL Store.
type PGStore struct{ pool *pgxpool.Pool }

func NewPGStore(pool *pgxpool.Pool) *PGStore { return &PGStore{pool: pool} }

func (s *PGStore) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return s.pool
}

// Ping satisfies db.Pinger.
func (s *PGStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// =========== Inputs ===========

const consultantCols = `surgeon_id, surgeon_name, specialty, subspecialty,
	preferred_theatre_days, preferred_session_types, min_sessions_per_week, max_sessions_per_week,
	weekend_availability, unavailable_days, clinic_days`

func scanConsultant(row pgx.Row) (ConsultantRecord, error) {
	var r ConsultantRecord
	err := row.Scan(&r.SurgeonID, &r.SurgeonName, &r.Specialty, &r.Subspecialty,
		&r.PreferredTheatreDays, &r.PreferredSessionTypes, &r.MinSessionsPerWeek, &r.MaxSessionsPerWeek,
		&r.WeekendAvailability, &r.UnavailableDays, &r.ClinicDays)
	return r, err
}

func (s *PGStore) LoadConsultants(ctx context.Context) ([]ConsultantRecord, error) {
	rows, err := s.conn(ctx).Query(ctx, `SELECT `+consultantCols+` FROM consultant_preference ORDER BY surgeon_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ConsultantRecord
	for rows.Next() {
		r, err := scanConsultant(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

const procedureCols = `id, first_name, last_name, hospital_number, procedure_name, procedure_code,
	priority, specialty_name, consultant_id, consultant_name, referral_date, waiting_days, target_date`

func scanProcedure(row pgx.Row) (ProcedureRecord, error) {
	var r ProcedureRecord
	err := row.Scan(&r.ID, &r.FirstName, &r.LastName, &r.HospitalNumber, &r.ProcedureName, &r.ProcedureCode,
		&r.Priority, &r.SpecialtyName, &r.ConsultantID, &r.ConsultantName, &r.ReferralDate, &r.WaitingDays, &r.TargetDate)
	return r, err
}

// LoadPendingProcedures returns waiting-list entries still marked pending, in
// insertion order so prioritization ties are stable across runs.
func (s *PGStore) LoadPendingProcedures(ctx context.Context) ([]ProcedureRecord, error) {
	rows, err := s.conn(ctx).Query(ctx, `SELECT `+procedureCols+` FROM waiting_list
		WHERE status = 'pending' ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ProcedureRecord
	for rows.Next() {
		r, err := scanProcedure(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

func (s *PGStore) UpsertConsultants(ctx context.Context, records []ConsultantRecord) error {
	b := &pgx.Batch{}
	for _, r := range records {
		b.Queue(`
			INSERT INTO consultant_preference (`+consultantCols+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
			ON CONFLICT (surgeon_id) DO UPDATE SET
				surgeon_name=EXCLUDED.surgeon_name, specialty=EXCLUDED.specialty,
				subspecialty=EXCLUDED.subspecialty, preferred_theatre_days=EXCLUDED.preferred_theatre_days,
				preferred_session_types=EXCLUDED.preferred_session_types,
				min_sessions_per_week=EXCLUDED.min_sessions_per_week,
				max_sessions_per_week=EXCLUDED.max_sessions_per_week,
				weekend_availability=EXCLUDED.weekend_availability,
				unavailable_days=EXCLUDED.unavailable_days, clinic_days=EXCLUDED.clinic_days,
				updated_at=NOW()`,
			r.SurgeonID, r.SurgeonName, r.Specialty, r.Subspecialty,
			nonNil(r.PreferredTheatreDays), nonNil(r.PreferredSessionTypes), r.MinSessionsPerWeek, r.MaxSessionsPerWeek,
			r.WeekendAvailability, nonNil(r.UnavailableDays), nonNil(r.ClinicDays))
	}
	return s.sendBatch(ctx, b)
}

func (s *PGStore) UpsertProcedures(ctx context.Context, records []ProcedureRecord) error {
	b := &pgx.Batch{}
	for _, r := range records {
		b.Queue(`
			INSERT INTO waiting_list (`+procedureCols+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
			ON CONFLICT (id) DO UPDATE SET
				first_name=EXCLUDED.first_name, last_name=EXCLUDED.last_name,
				hospital_number=EXCLUDED.hospital_number, procedure_name=EXCLUDED.procedure_name,
				procedure_code=EXCLUDED.procedure_code, priority=EXCLUDED.priority,
				specialty_name=EXCLUDED.specialty_name, consultant_id=EXCLUDED.consultant_id,
				consultant_name=EXCLUDED.consultant_name, referral_date=EXCLUDED.referral_date,
				waiting_days=EXCLUDED.waiting_days, target_date=EXCLUDED.target_date,
				status='pending', updated_at=NOW()`,
			r.ID, r.FirstName, r.LastName, r.HospitalNumber, r.ProcedureName, r.ProcedureCode,
			r.Priority, r.SpecialtyName, r.ConsultantID, r.ConsultantName, r.ReferralDate, r.WaitingDays, r.TargetDate)
	}
	return s.sendBatch(ctx, b)
}

// =========== Sessions ===========

const sessionCols = `id, to_char(session_date, 'YYYY-MM-DD'), day_of_week, session_type,
	consultant_id, consultant_name, specialty, subspecialty, theatre, status, patients,
	start_time, end_time, total_duration, utilization, created_at, updated_at`

func scanSession(row pgx.Row) (*TheatreSession, error) {
	var s TheatreSession
	var patients []byte
	err := row.Scan(&s.ID, &s.Date, &s.DayOfWeek, &s.SessionType,
		&s.ConsultantID, &s.ConsultantName, &s.Specialty, &s.Subspecialty, &s.Theatre, &s.Status, &patients,
		&s.StartTime, &s.EndTime, &s.TotalDuration, &s.Utilization, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(patients, &s.Patients); err != nil {
		return nil, fmt.Errorf("decode patients of session %s: %w", s.ID, err)
	}
	return &s, nil
}

func (s *PGStore) ClearSessionsForMonth(ctx context.Context, year int, month time.Month) (int, error) {
	from, to := monthRange(year, month)
	tag, err := s.conn(ctx).Exec(ctx,
		`DELETE FROM theatre_session WHERE session_date >= $1 AND session_date < $2`, from, to)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PGStore) WriteSessions(ctx context.Context, sessions []*TheatreSession) error {
	if len(sessions) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, ts := range sessions {
		day, err := ts.Day()
		if err != nil {
			return fmt.Errorf("session %s: %w", ts.ID, err)
		}
		patients, err := json.Marshal(ts.Patients)
		if err != nil {
			return fmt.Errorf("encode patients of session %s: %w", ts.ID, err)
		}
		b.Queue(`
			INSERT INTO theatre_session (id, session_date, day_of_week, session_type,
				consultant_id, consultant_name, specialty, subspecialty, theatre, status, patients,
				start_time, end_time, total_duration, utilization, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11::jsonb,$12,$13,$14,$15,$16,$17)
			ON CONFLICT (id) DO UPDATE SET
				session_type=EXCLUDED.session_type, consultant_name=EXCLUDED.consultant_name,
				specialty=EXCLUDED.specialty, subspecialty=EXCLUDED.subspecialty,
				theatre=EXCLUDED.theatre, status=EXCLUDED.status, patients=EXCLUDED.patients,
				start_time=EXCLUDED.start_time, end_time=EXCLUDED.end_time,
				total_duration=EXCLUDED.total_duration, utilization=EXCLUDED.utilization,
				updated_at=EXCLUDED.updated_at`,
			ts.ID, day, ts.DayOfWeek, string(ts.SessionType),
			ts.ConsultantID, ts.ConsultantName, ts.Specialty, ts.Subspecialty, ts.Theatre, ts.Status, string(patients),
			ts.StartTime, ts.EndTime, ts.TotalDuration, ts.Utilization, ts.CreatedAt, ts.UpdatedAt)
	}
	return s.sendBatch(ctx, b)
}

func (s *PGStore) ListSessionsForMonth(ctx context.Context, year int, month time.Month, limit, offset int) ([]*TheatreSession, int, error) {
	from, to := monthRange(year, month)
	var total int
	if err := s.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM theatre_session WHERE session_date >= $1 AND session_date < $2`, from, to).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.conn(ctx).Query(ctx, `SELECT `+sessionCols+` FROM theatre_session
		WHERE session_date >= $1 AND session_date < $2
		ORDER BY session_date, consultant_id LIMIT $3 OFFSET $4`, from, to, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*TheatreSession
	for rows.Next() {
		ts, err := scanSession(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, ts)
	}
	return items, total, rows.Err()
}

func (s *PGStore) GetSession(ctx context.Context, id uuid.UUID) (*TheatreSession, error) {
	ts, err := scanSession(s.conn(ctx).QueryRow(ctx, `SELECT `+sessionCols+` FROM theatre_session WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	return ts, err
}

// sendBatch runs b in a transaction so a batch is all-or-nothing.
func (s *PGStore) sendBatch(ctx context.Context, b *pgx.Batch) error {
	if b.Len() == 0 {
		return nil
	}
	return db.WithTx(ctx, s.pool, func(ctx context.Context) error {
		return s.conn(ctx).SendBatch(ctx, b).Close()
	})
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
