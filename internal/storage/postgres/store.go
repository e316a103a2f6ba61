// Package postgres implements storage.Store backed by PostgreSQL for
// deployments where several hosts share one configuration set: one
// *sql.DB, $N placeholders, idempotent migration, JSON columns for the
// nested shapes.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/forgefleet/orchestrator/internal/domain/keypool"
	"github.com/forgefleet/orchestrator/internal/domain/schedule"
	"github.com/forgefleet/orchestrator/internal/domain/subject"
	"github.com/forgefleet/orchestrator/internal/storage"
)

// Store implements storage.Store backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// Open opens a connection pool against dsn and runs the embedded migration.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return s, nil
}

// New wraps an already-configured *sql.DB without running migrations,
// for callers that manage schema separately.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS orchestrator_subjects (
			name             TEXT PRIMARY KEY,
			ord              INTEGER NOT NULL,
			group_name       TEXT NOT NULL DEFAULT '',
			executable       TEXT NOT NULL DEFAULT '',
			arguments        JSONB NOT NULL DEFAULT '[]',
			key_pool_name    TEXT NOT NULL DEFAULT '',
			schedule_name    TEXT NOT NULL DEFAULT '',
			schedule_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			window_position  JSONB,
			visible          BOOLEAN NOT NULL DEFAULT FALSE,
			counters         JSONB NOT NULL DEFAULT '{}',
			created_at       TIMESTAMPTZ NOT NULL,
			updated_at       TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS orchestrator_key_pools (
			name        TEXT PRIMARY KEY,
			credentials JSONB NOT NULL DEFAULT '[]',
			cursor      INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS orchestrator_schedules (
			name    TEXT PRIMARY KEY,
			periods JSONB NOT NULL DEFAULT '[]'
		)`,
		`CREATE TABLE IF NOT EXISTS orchestrator_settings (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

// --- SubjectStore ------------------------------------------------------

func (s *Store) ListSubjects(ctx context.Context) ([]subject.Subject, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, group_name, executable, arguments, key_pool_name, schedule_name,
		       schedule_enabled, window_position, visible, counters, created_at, updated_at
		  FROM orchestrator_subjects ORDER BY ord ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []subject.Subject
	for rows.Next() {
		sub, err := scanSubject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *Store) GetSubject(ctx context.Context, name string) (subject.Subject, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, group_name, executable, arguments, key_pool_name, schedule_name,
		       schedule_enabled, window_position, visible, counters, created_at, updated_at
		  FROM orchestrator_subjects WHERE name = $1`, name)
	sub, err := scanSubject(row)
	if err == sql.ErrNoRows {
		return subject.Subject{}, storage.ErrNotFound
	}
	return sub, err
}

func (s *Store) CreateSubject(ctx context.Context, sub subject.Subject) (subject.Subject, error) {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	sub.UpdatedAt = sub.CreatedAt

	var maxOrd sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(ord) FROM orchestrator_subjects`).Scan(&maxOrd); err != nil {
		return subject.Subject{}, err
	}
	ord := int64(0)
	if maxOrd.Valid {
		ord = maxOrd.Int64 + 1
	}

	args, windowPos, counters, err := encodeSubject(sub)
	if err != nil {
		return subject.Subject{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO orchestrator_subjects (name, ord, group_name, executable, arguments, key_pool_name,
		                                    schedule_name, schedule_enabled, window_position, visible,
		                                    counters, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		sub.Name, ord, sub.Group, sub.Executable, args, sub.KeyPoolName, sub.ScheduleName,
		sub.ScheduleEnabled, windowPos, sub.Visible, counters, sub.CreatedAt, sub.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return subject.Subject{}, storage.ErrAlreadyExists
		}
		return subject.Subject{}, err
	}
	return sub, nil
}

func (s *Store) UpdateSubject(ctx context.Context, sub subject.Subject) (subject.Subject, error) {
	sub.UpdatedAt = time.Now().UTC()
	args, windowPos, counters, err := encodeSubject(sub)
	if err != nil {
		return subject.Subject{}, err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE orchestrator_subjects SET group_name = $2, executable = $3, arguments = $4,
		       key_pool_name = $5, schedule_name = $6, schedule_enabled = $7, window_position = $8,
		       visible = $9, counters = $10, updated_at = $11
		 WHERE name = $1`,
		sub.Name, sub.Group, sub.Executable, args, sub.KeyPoolName, sub.ScheduleName,
		sub.ScheduleEnabled, windowPos, sub.Visible, counters, sub.UpdatedAt)
	if err != nil {
		return subject.Subject{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return subject.Subject{}, storage.ErrNotFound
	}
	return sub, nil
}

func (s *Store) DeleteSubject(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM orchestrator_subjects WHERE name = $1`, name)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) RenameSubject(ctx context.Context, oldName, newName string) error {
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orchestrator_subjects WHERE name = $1`, newName).Scan(&exists); err != nil {
		return err
	}
	if exists > 0 {
		return storage.ErrAlreadyExists
	}
	result, err := s.db.ExecContext(ctx, `UPDATE orchestrator_subjects SET name = $1 WHERE name = $2`, newName, oldName)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) MoveSubjectToIndex(ctx context.Context, name string, index int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT name FROM orchestrator_subjects ORDER BY ord ASC`)
	if err != nil {
		return err
	}
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			rows.Close()
			return err
		}
		names = append(names, n)
	}
	rows.Close()

	found := -1
	for i, n := range names {
		if n == name {
			found = i
			break
		}
	}
	if found < 0 {
		return storage.ErrNotFound
	}
	names = append(names[:found], names[found+1:]...)
	if index < 0 {
		index = 0
	}
	if index > len(names) {
		index = len(names)
	}
	names = append(names[:index], append([]string{name}, names[index:]...)...)

	for i, n := range names {
		if _, err := tx.ExecContext(ctx, `UPDATE orchestrator_subjects SET ord = $1 WHERE name = $2`, i, n); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) ReloadSubjects(context.Context) error { return nil }

// --- KeyPoolStore --------------------------------------------------------

func (s *Store) ListPools(ctx context.Context) ([]keypool.Pool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, credentials, cursor FROM orchestrator_key_pools ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []keypool.Pool
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) GetPool(ctx context.Context, name string) (keypool.Pool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT name, credentials, cursor FROM orchestrator_key_pools WHERE name = $1`, name)
	p, err := scanPool(row)
	if err == sql.ErrNoRows {
		return keypool.Pool{}, storage.ErrNotFound
	}
	return p, err
}

func (s *Store) CreatePool(ctx context.Context, p keypool.Pool) (keypool.Pool, error) {
	creds, err := json.Marshal(p.Credentials)
	if err != nil {
		return keypool.Pool{}, err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO orchestrator_key_pools (name, credentials, cursor) VALUES ($1, $2, $3)`,
		p.Name, creds, p.Cursor)
	if err != nil {
		if isUniqueViolation(err) {
			return keypool.Pool{}, storage.ErrAlreadyExists
		}
		return keypool.Pool{}, err
	}
	return p, nil
}

func (s *Store) UpdatePool(ctx context.Context, p keypool.Pool) (keypool.Pool, error) {
	creds, err := json.Marshal(p.Credentials)
	if err != nil {
		return keypool.Pool{}, err
	}
	result, err := s.db.ExecContext(ctx, `UPDATE orchestrator_key_pools SET credentials = $2, cursor = $3 WHERE name = $1`,
		p.Name, creds, p.Cursor)
	if err != nil {
		return keypool.Pool{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return keypool.Pool{}, storage.ErrNotFound
	}
	return p, nil
}

func (s *Store) DeletePool(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM orchestrator_key_pools WHERE name = $1`, name)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) ReloadPools(context.Context) error { return nil }

// --- ScheduleStore ---------------------------------------------------------

func (s *Store) ListSchedules(ctx context.Context) ([]schedule.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, periods FROM orchestrator_schedules ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []schedule.Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *Store) GetSchedule(ctx context.Context, name string) (schedule.Schedule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT name, periods FROM orchestrator_schedules WHERE name = $1`, name)
	sc, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return schedule.Schedule{}, storage.ErrNotFound
	}
	return sc, err
}

func (s *Store) CreateSchedule(ctx context.Context, sc schedule.Schedule) (schedule.Schedule, error) {
	periods, err := json.Marshal(sc.Periods)
	if err != nil {
		return schedule.Schedule{}, err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO orchestrator_schedules (name, periods) VALUES ($1, $2)`, sc.Name, periods)
	if err != nil {
		if isUniqueViolation(err) {
			return schedule.Schedule{}, storage.ErrAlreadyExists
		}
		return schedule.Schedule{}, err
	}
	return sc, nil
}

func (s *Store) UpdateSchedule(ctx context.Context, sc schedule.Schedule) (schedule.Schedule, error) {
	periods, err := json.Marshal(sc.Periods)
	if err != nil {
		return schedule.Schedule{}, err
	}
	result, err := s.db.ExecContext(ctx, `UPDATE orchestrator_schedules SET periods = $2 WHERE name = $1`, sc.Name, periods)
	if err != nil {
		return schedule.Schedule{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return schedule.Schedule{}, storage.ErrNotFound
	}
	return sc, nil
}

func (s *Store) DeleteSchedule(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM orchestrator_schedules WHERE name = $1`, name)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) ReloadSchedules(context.Context) error { return nil }

// --- SettingsStore ---------------------------------------------------------

func (s *Store) GetSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM orchestrator_settings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (s *Store) PutSettings(ctx context.Context, settings map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM orchestrator_settings`); err != nil {
		return err
	}
	for k, v := range settings {
		if _, err := tx.ExecContext(ctx, `INSERT INTO orchestrator_settings (key, value) VALUES ($1, $2)`, k, v); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) ReloadSettings(context.Context) error { return nil }

// --- scan / encode helpers -----------------------------------------------

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubject(scanner rowScanner) (subject.Subject, error) {
	var sub subject.Subject
	var argsRaw, countersRaw []byte
	var windowPosRaw []byte

	err := scanner.Scan(&sub.Name, &sub.Group, &sub.Executable, &argsRaw, &sub.KeyPoolName, &sub.ScheduleName,
		&sub.ScheduleEnabled, &windowPosRaw, &sub.Visible, &countersRaw, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return subject.Subject{}, err
	}

	if len(argsRaw) > 0 {
		if err := json.Unmarshal(argsRaw, &sub.Arguments); err != nil {
			return subject.Subject{}, fmt.Errorf("decode arguments: %w", err)
		}
	}
	if len(countersRaw) > 0 {
		if err := json.Unmarshal(countersRaw, &sub.Counters); err != nil {
			return subject.Subject{}, fmt.Errorf("decode counters: %w", err)
		}
	}
	if len(windowPosRaw) > 0 {
		var pos subject.WindowPosition
		if err := json.Unmarshal(windowPosRaw, &pos); err != nil {
			return subject.Subject{}, fmt.Errorf("decode window position: %w", err)
		}
		sub.WindowPosition = &pos
	}
	sub.CreatedAt = sub.CreatedAt.UTC()
	sub.UpdatedAt = sub.UpdatedAt.UTC()
	return sub, nil
}

func encodeSubject(sub subject.Subject) (args []byte, windowPos []byte, counters []byte, err error) {
	args, err = json.Marshal(sub.Arguments)
	if err != nil {
		return nil, nil, nil, err
	}
	counters, err = json.Marshal(sub.Counters)
	if err != nil {
		return nil, nil, nil, err
	}
	if sub.WindowPosition != nil {
		windowPos, err = json.Marshal(sub.WindowPosition)
		if err != nil {
			return nil, nil, nil, err
		}
	}
	return args, windowPos, counters, nil
}

func scanPool(scanner rowScanner) (keypool.Pool, error) {
	var p keypool.Pool
	var credsRaw []byte
	if err := scanner.Scan(&p.Name, &credsRaw, &p.Cursor); err != nil {
		return keypool.Pool{}, err
	}
	if len(credsRaw) > 0 {
		if err := json.Unmarshal(credsRaw, &p.Credentials); err != nil {
			return keypool.Pool{}, fmt.Errorf("decode credentials: %w", err)
		}
	}
	return p, nil
}

func scanSchedule(scanner rowScanner) (schedule.Schedule, error) {
	var sc schedule.Schedule
	var periodsRaw []byte
	if err := scanner.Scan(&sc.Name, &periodsRaw); err != nil {
		return schedule.Schedule{}, err
	}
	if len(periodsRaw) > 0 {
		if err := json.Unmarshal(periodsRaw, &sc.Periods); err != nil {
			return schedule.Schedule{}, fmt.Errorf("decode periods: %w", err)
		}
	}
	return sc, nil
}

// isUniqueViolation reports whether err is a unique_violation from lib/pq
// (SQLSTATE 23505), matched on the message to avoid importing pq's error
// type directly into the scan helpers above.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "23505") || strings.Contains(strings.ToLower(err.Error()), "duplicate key")
}
