package theatre

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

// SQLiteStore is a single-file Store for local runs and offline planning.
// List columns are stored as JSON text, dates as YYYY-MM-DD text.
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewSQLiteStore opens (creating if needed) the database at path. Use
// ":memory:" for a throwaway store.
func NewSQLiteStore(path string, logger zerolog.Logger) (*SQLiteStore, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on"
	}

	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(4)
		conn.SetMaxIdleConns(2)
		conn.SetConnMaxLifetime(time.Hour)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLiteStore{db: conn, logger: logger}
	if err := s.createTables(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("sqlite store initialized")
	return s, nil
}

func (s *SQLiteStore) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS consultant_preference (
			surgeon_id TEXT PRIMARY KEY,
			surgeon_name TEXT NOT NULL DEFAULT '',
			specialty TEXT NOT NULL DEFAULT '',
			subspecialty TEXT,
			preferred_theatre_days TEXT NOT NULL DEFAULT '[]',
			preferred_session_types TEXT NOT NULL DEFAULT '[]',
			min_sessions_per_week INTEGER,
			max_sessions_per_week INTEGER,
			weekend_availability BOOLEAN NOT NULL DEFAULT 0,
			unavailable_days TEXT NOT NULL DEFAULT '[]',
			clinic_days TEXT NOT NULL DEFAULT '[]',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS waiting_list (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT UNIQUE NOT NULL,
			first_name TEXT NOT NULL DEFAULT '',
			last_name TEXT NOT NULL DEFAULT '',
			hospital_number TEXT NOT NULL DEFAULT '',
			procedure_name TEXT NOT NULL DEFAULT '',
			procedure_code TEXT NOT NULL DEFAULT '',
			priority TEXT NOT NULL DEFAULT 'Routine',
			specialty_name TEXT NOT NULL DEFAULT '',
			consultant_id TEXT NOT NULL,
			consultant_name TEXT NOT NULL DEFAULT '',
			referral_date TEXT,
			waiting_days INTEGER NOT NULL DEFAULT 0,
			target_date TEXT,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_waiting_list_status ON waiting_list(status)`,
		`CREATE TABLE IF NOT EXISTS theatre_session (
			id TEXT PRIMARY KEY,
			session_date TEXT NOT NULL,
			day_of_week TEXT NOT NULL,
			session_type TEXT NOT NULL,
			consultant_id TEXT NOT NULL,
			consultant_name TEXT NOT NULL DEFAULT '',
			specialty TEXT NOT NULL DEFAULT '',
			subspecialty TEXT,
			theatre TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'scheduled',
			patients TEXT NOT NULL DEFAULT '[]',
			start_time TEXT NOT NULL,
			end_time TEXT NOT NULL,
			total_duration INTEGER NOT NULL,
			utilization INTEGER NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_theatre_session_date ON theatre_session(session_date)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_theatre_session_consultant_day ON theatre_session(session_date, consultant_id)`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// Ping satisfies db.Pinger.
func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// =========== Inputs ===========

func (s *SQLiteStore) LoadConsultants(ctx context.Context) ([]ConsultantRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+consultantCols+` FROM consultant_preference ORDER BY surgeon_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []ConsultantRecord
	for rows.Next() {
		var r ConsultantRecord
		var sub sql.NullString
		var minS, maxS sql.NullInt64
		var days, sessions, unavailable, clinic string
		if err := rows.Scan(&r.SurgeonID, &r.SurgeonName, &r.Specialty, &sub,
			&days, &sessions, &minS, &maxS,
			&r.WeekendAvailability, &unavailable, &clinic); err != nil {
			return nil, err
		}
		if sub.Valid {
			r.Subspecialty = &sub.String
		}
		r.MinSessionsPerWeek = nullInt(minS)
		r.MaxSessionsPerWeek = nullInt(maxS)
		for _, col := range []struct {
			raw string
			dst *[]string
		}{
			{days, &r.PreferredTheatreDays},
			{sessions, &r.PreferredSessionTypes},
			{unavailable, &r.UnavailableDays},
			{clinic, &r.ClinicDays},
		} {
			if err := json.Unmarshal([]byte(col.raw), col.dst); err != nil {
				return nil, fmt.Errorf("consultant %s: decode list column: %w", r.SurgeonID, err)
			}
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

func (s *SQLiteStore) LoadPendingProcedures(ctx context.Context) ([]ProcedureRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+procedureCols+` FROM waiting_list
		WHERE status = 'pending' ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []ProcedureRecord
	for rows.Next() {
		var r ProcedureRecord
		var referral, target sql.NullString
		if err := rows.Scan(&r.ID, &r.FirstName, &r.LastName, &r.HospitalNumber, &r.ProcedureName, &r.ProcedureCode,
			&r.Priority, &r.SpecialtyName, &r.ConsultantID, &r.ConsultantName, &referral, &r.WaitingDays, &target); err != nil {
			return nil, err
		}
		if r.ReferralDate, err = nullDate(referral); err != nil {
			s.logger.Warn().Str("patient_id", r.ID).Str("referral_date", referral.String).Msg("unparseable referral date ignored")
		}
		if r.TargetDate, err = nullDate(target); err != nil {
			s.logger.Warn().Str("patient_id", r.ID).Str("target_date", target.String).Msg("unparseable target date ignored")
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

func (s *SQLiteStore) UpsertConsultants(ctx context.Context, records []ConsultantRecord) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, r := range records {
			lists := make([]string, 0, 4)
			for _, v := range [][]string{r.PreferredTheatreDays, r.PreferredSessionTypes, r.UnavailableDays, r.ClinicDays} {
				data, err := json.Marshal(nonNil(v))
				if err != nil {
					return err
				}
				lists = append(lists, string(data))
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO consultant_preference (`+consultantCols+`)
				VALUES (?,?,?,?,?,?,?,?,?,?,?)
				ON CONFLICT(surgeon_id) DO UPDATE SET
					surgeon_name=excluded.surgeon_name, specialty=excluded.specialty,
					subspecialty=excluded.subspecialty, preferred_theatre_days=excluded.preferred_theatre_days,
					preferred_session_types=excluded.preferred_session_types,
					min_sessions_per_week=excluded.min_sessions_per_week,
					max_sessions_per_week=excluded.max_sessions_per_week,
					weekend_availability=excluded.weekend_availability,
					unavailable_days=excluded.unavailable_days, clinic_days=excluded.clinic_days,
					updated_at=CURRENT_TIMESTAMP`,
				r.SurgeonID, r.SurgeonName, r.Specialty, r.Subspecialty,
				lists[0], lists[1], r.MinSessionsPerWeek, r.MaxSessionsPerWeek,
				r.WeekendAvailability, lists[2], lists[3])
			if err != nil {
				return fmt.Errorf("upsert consultant %s: %w", r.SurgeonID, err)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) UpsertProcedures(ctx context.Context, records []ProcedureRecord) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, r := range records {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO waiting_list (`+procedureCols+`)
				VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
				ON CONFLICT(id) DO UPDATE SET
					first_name=excluded.first_name, last_name=excluded.last_name,
					hospital_number=excluded.hospital_number, procedure_name=excluded.procedure_name,
					procedure_code=excluded.procedure_code, priority=excluded.priority,
					specialty_name=excluded.specialty_name, consultant_id=excluded.consultant_id,
					consultant_name=excluded.consultant_name, referral_date=excluded.referral_date,
					waiting_days=excluded.waiting_days, target_date=excluded.target_date,
					status='pending', updated_at=CURRENT_TIMESTAMP`,
				r.ID, r.FirstName, r.LastName, r.HospitalNumber, r.ProcedureName, r.ProcedureCode,
				r.Priority, r.SpecialtyName, r.ConsultantID, r.ConsultantName,
				dateText(r.ReferralDate), r.WaitingDays, dateText(r.TargetDate))
			if err != nil {
				return fmt.Errorf("upsert waiting-list entry %s: %w", r.ID, err)
			}
		}
		return nil
	})
}

// =========== Sessions ===========

const sqliteSessionCols = `id, session_date, day_of_week, session_type,
	consultant_id, consultant_name, specialty, subspecialty, theatre, status, patients,
	start_time, end_time, total_duration, utilization, created_at, updated_at`

func scanSQLiteSession(row interface{ Scan(...any) error }) (*TheatreSession, error) {
	var ts TheatreSession
	var id, patients string
	var sub sql.NullString
	err := row.Scan(&id, &ts.Date, &ts.DayOfWeek, &ts.SessionType,
		&ts.ConsultantID, &ts.ConsultantName, &ts.Specialty, &sub, &ts.Theatre, &ts.Status, &patients,
		&ts.StartTime, &ts.EndTime, &ts.TotalDuration, &ts.Utilization, &ts.CreatedAt, &ts.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if ts.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("session id %q: %w", id, err)
	}
	if sub.Valid {
		ts.Subspecialty = &sub.String
	}
	if err := json.Unmarshal([]byte(patients), &ts.Patients); err != nil {
		return nil, fmt.Errorf("decode patients of session %s: %w", id, err)
	}
	return &ts, nil
}

func (s *SQLiteStore) ClearSessionsForMonth(ctx context.Context, year int, month time.Month) (int, error) {
	from, to := monthRange(year, month)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM theatre_session WHERE session_date >= ? AND session_date < ?`,
		from.Format(dateLayout), to.Format(dateLayout))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLiteStore) WriteSessions(ctx context.Context, sessions []*TheatreSession) error {
	if len(sessions) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO theatre_session (`+sqliteSessionCols+`)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT(id) DO UPDATE SET
				session_type=excluded.session_type, consultant_name=excluded.consultant_name,
				specialty=excluded.specialty, subspecialty=excluded.subspecialty,
				theatre=excluded.theatre, status=excluded.status, patients=excluded.patients,
				start_time=excluded.start_time, end_time=excluded.end_time,
				total_duration=excluded.total_duration, utilization=excluded.utilization,
				updated_at=excluded.updated_at`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, ts := range sessions {
			if _, err := ts.Day(); err != nil {
				return fmt.Errorf("session %s: %w", ts.ID, err)
			}
			patients, err := json.Marshal(ts.Patients)
			if err != nil {
				return fmt.Errorf("encode patients of session %s: %w", ts.ID, err)
			}
			if _, err := stmt.ExecContext(ctx,
				ts.ID.String(), ts.Date, ts.DayOfWeek, string(ts.SessionType),
				ts.ConsultantID, ts.ConsultantName, ts.Specialty, ts.Subspecialty, ts.Theatre, ts.Status, string(patients),
				ts.StartTime, ts.EndTime, ts.TotalDuration, ts.Utilization, ts.CreatedAt.UTC(), ts.UpdatedAt.UTC()); err != nil {
				return fmt.Errorf("write session %s: %w", ts.ID, err)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) ListSessionsForMonth(ctx context.Context, year int, month time.Month, limit, offset int) ([]*TheatreSession, int, error) {
	from, to := monthRange(year, month)
	fromText, toText := from.Format(dateLayout), to.Format(dateLayout)

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM theatre_session WHERE session_date >= ? AND session_date < ?`,
		fromText, toText).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteSessionCols+` FROM theatre_session
		WHERE session_date >= ? AND session_date < ?
		ORDER BY session_date, consultant_id LIMIT ? OFFSET ?`, fromText, toText, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*TheatreSession
	for rows.Next() {
		ts, err := scanSQLiteSession(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, ts)
	}
	return items, total, rows.Err()
}

func (s *SQLiteStore) GetSession(ctx context.Context, id uuid.UUID) (*TheatreSession, error) {
	ts, err := scanSQLiteSession(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteSessionCols+` FROM theatre_session WHERE id = ?`, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	return ts, err
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func nullDate(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func dateText(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Format(dateLayout)
}
