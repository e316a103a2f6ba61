// Package sqlite is the default single-host persistence backend: pure
// Go, no cgo, via modernc.org/sqlite. One *sql.DB in WAL mode with a
// single writer connection, laying out tables for Subjects, KeyPools,
// Schedules, and Settings.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/forgefleet/orchestrator/internal/domain/keypool"
	"github.com/forgefleet/orchestrator/internal/domain/schedule"
	"github.com/forgefleet/orchestrator/internal/domain/subject"
	"github.com/forgefleet/orchestrator/internal/storage"
)

// Store implements storage.Store on top of a SQLite database.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// Open opens (or creates) the database at path, applies pragmas tuned for
// a single-writer workload, and runs the embedded migration.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite serialises writes; avoid SQLITE_BUSY

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS subjects (
			name             TEXT PRIMARY KEY,
			ord              INTEGER NOT NULL,
			group_name       TEXT NOT NULL DEFAULT '',
			executable       TEXT NOT NULL DEFAULT '',
			arguments        TEXT NOT NULL DEFAULT '[]',
			key_pool_name    TEXT NOT NULL DEFAULT '',
			schedule_name    TEXT NOT NULL DEFAULT '',
			schedule_enabled INTEGER NOT NULL DEFAULT 0,
			window_position  TEXT,
			visible          INTEGER NOT NULL DEFAULT 0,
			counters         TEXT NOT NULL DEFAULT '{}',
			created_at       TEXT NOT NULL,
			updated_at       TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS key_pools (
			name        TEXT PRIMARY KEY,
			credentials TEXT NOT NULL DEFAULT '[]',
			cursor      INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS schedules (
			name    TEXT PRIMARY KEY,
			periods TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
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

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// --- SubjectStore ------------------------------------------------------

func (s *Store) ListSubjects(ctx context.Context) ([]subject.Subject, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, group_name, executable, arguments, key_pool_name, schedule_name,
		       schedule_enabled, window_position, visible, counters, created_at, updated_at
		  FROM subjects ORDER BY ord ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []subject.Subject
	for rows.Next() {
		sub, err := scanSubject(rows.Scan)
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
		  FROM subjects WHERE name = ?`, name)
	sub, err := scanSubject(row.Scan)
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
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(ord) FROM subjects`).Scan(&maxOrd); err != nil {
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
		INSERT INTO subjects (name, ord, group_name, executable, arguments, key_pool_name,
		                       schedule_name, schedule_enabled, window_position, visible,
		                       counters, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.Name, ord, sub.Group, sub.Executable, args, sub.KeyPoolName, sub.ScheduleName,
		boolToInt(sub.ScheduleEnabled), windowPos, boolToInt(sub.Visible), counters,
		sub.CreatedAt.Format(time.RFC3339Nano), sub.UpdatedAt.Format(time.RFC3339Nano))
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
	res, err := s.db.ExecContext(ctx, `
		UPDATE subjects SET group_name = ?, executable = ?, arguments = ?, key_pool_name = ?,
		       schedule_name = ?, schedule_enabled = ?, window_position = ?, visible = ?,
		       counters = ?, updated_at = ?
		 WHERE name = ?`,
		sub.Group, sub.Executable, args, sub.KeyPoolName, sub.ScheduleName,
		boolToInt(sub.ScheduleEnabled), windowPos, boolToInt(sub.Visible), counters,
		sub.UpdatedAt.Format(time.RFC3339Nano), sub.Name)
	if err != nil {
		return subject.Subject{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return subject.Subject{}, err
	}
	if n == 0 {
		return subject.Subject{}, storage.ErrNotFound
	}
	return sub, nil
}

func (s *Store) DeleteSubject(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM subjects WHERE name = ?`, name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) RenameSubject(ctx context.Context, oldName, newName string) error {
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM subjects WHERE name = ?`, newName).Scan(&exists); err != nil {
		return err
	}
	if exists > 0 {
		return storage.ErrAlreadyExists
	}
	res, err := s.db.ExecContext(ctx, `UPDATE subjects SET name = ? WHERE name = ?`, newName, oldName)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
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

	rows, err := tx.QueryContext(ctx, `SELECT name FROM subjects ORDER BY ord ASC`)
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
		if _, err := tx.ExecContext(ctx, `UPDATE subjects SET ord = ? WHERE name = ?`, i, n); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) ReloadSubjects(context.Context) error { return nil }

// --- KeyPoolStore --------------------------------------------------------

func (s *Store) ListPools(ctx context.Context) ([]keypool.Pool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, credentials, cursor FROM key_pools ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []keypool.Pool
	for rows.Next() {
		p, err := scanPool(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) GetPool(ctx context.Context, name string) (keypool.Pool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT name, credentials, cursor FROM key_pools WHERE name = ?`, name)
	p, err := scanPool(row.Scan)
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
	_, err = s.db.ExecContext(ctx, `INSERT INTO key_pools (name, credentials, cursor) VALUES (?, ?, ?)`,
		p.Name, string(creds), p.Cursor)
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
	res, err := s.db.ExecContext(ctx, `UPDATE key_pools SET credentials = ?, cursor = ? WHERE name = ?`,
		string(creds), p.Cursor, p.Name)
	if err != nil {
		return keypool.Pool{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return keypool.Pool{}, err
	}
	if n == 0 {
		return keypool.Pool{}, storage.ErrNotFound
	}
	return p, nil
}

func (s *Store) DeletePool(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM key_pools WHERE name = ?`, name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) ReloadPools(context.Context) error { return nil }

// --- ScheduleStore ---------------------------------------------------------

func (s *Store) ListSchedules(ctx context.Context) ([]schedule.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, periods FROM schedules ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []schedule.Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *Store) GetSchedule(ctx context.Context, name string) (schedule.Schedule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT name, periods FROM schedules WHERE name = ?`, name)
	sc, err := scanSchedule(row.Scan)
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
	_, err = s.db.ExecContext(ctx, `INSERT INTO schedules (name, periods) VALUES (?, ?)`, sc.Name, string(periods))
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
	res, err := s.db.ExecContext(ctx, `UPDATE schedules SET periods = ? WHERE name = ?`, string(periods), sc.Name)
	if err != nil {
		return schedule.Schedule{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return schedule.Schedule{}, err
	}
	if n == 0 {
		return schedule.Schedule{}, storage.ErrNotFound
	}
	return sc, nil
}

func (s *Store) DeleteSchedule(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE name = ?`, name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) ReloadSchedules(context.Context) error { return nil }

// --- SettingsStore ---------------------------------------------------------

func (s *Store) GetSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
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

	if _, err := tx.ExecContext(ctx, `DELETE FROM settings`); err != nil {
		return err
	}
	for k, v := range settings {
		if _, err := tx.ExecContext(ctx, `INSERT INTO settings (key, value) VALUES (?, ?)`, k, v); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) ReloadSettings(context.Context) error { return nil }

// --- scan / encode helpers -----------------------------------------------

type scanFn func(dest ...any) error

func scanSubject(scan scanFn) (subject.Subject, error) {
	var sub subject.Subject
	var argsJSON, countersJSON string
	var windowPosJSON sql.NullString
	var scheduleEnabled, visible int
	var createdAt, updatedAt string

	err := scan(&sub.Name, &sub.Group, &sub.Executable, &argsJSON, &sub.KeyPoolName, &sub.ScheduleName,
		&scheduleEnabled, &windowPosJSON, &visible, &countersJSON, &createdAt, &updatedAt)
	if err != nil {
		return subject.Subject{}, err
	}

	if err := json.Unmarshal([]byte(argsJSON), &sub.Arguments); err != nil {
		return subject.Subject{}, fmt.Errorf("decode arguments: %w", err)
	}
	if err := json.Unmarshal([]byte(countersJSON), &sub.Counters); err != nil {
		return subject.Subject{}, fmt.Errorf("decode counters: %w", err)
	}
	if windowPosJSON.Valid && windowPosJSON.String != "" {
		var pos subject.WindowPosition
		if err := json.Unmarshal([]byte(windowPosJSON.String), &pos); err != nil {
			return subject.Subject{}, fmt.Errorf("decode window position: %w", err)
		}
		sub.WindowPosition = &pos
	}
	sub.ScheduleEnabled = scheduleEnabled != 0
	sub.Visible = visible != 0
	sub.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	sub.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return sub, nil
}

func encodeSubject(sub subject.Subject) (args string, windowPos sql.NullString, counters string, err error) {
	argsBytes, err := json.Marshal(sub.Arguments)
	if err != nil {
		return "", sql.NullString{}, "", err
	}
	countersBytes, err := json.Marshal(sub.Counters)
	if err != nil {
		return "", sql.NullString{}, "", err
	}
	if sub.WindowPosition != nil {
		posBytes, err := json.Marshal(sub.WindowPosition)
		if err != nil {
			return "", sql.NullString{}, "", err
		}
		return string(argsBytes), sql.NullString{String: string(posBytes), Valid: true}, string(countersBytes), nil
	}
	return string(argsBytes), sql.NullString{}, string(countersBytes), nil
}

func scanPool(scan scanFn) (keypool.Pool, error) {
	var p keypool.Pool
	var credsJSON string
	if err := scan(&p.Name, &credsJSON, &p.Cursor); err != nil {
		return keypool.Pool{}, err
	}
	if err := json.Unmarshal([]byte(credsJSON), &p.Credentials); err != nil {
		return keypool.Pool{}, fmt.Errorf("decode credentials: %w", err)
	}
	return p, nil
}

func scanSchedule(scan scanFn) (schedule.Schedule, error) {
	var sc schedule.Schedule
	var periodsJSON string
	if err := scan(&sc.Name, &periodsJSON); err != nil {
		return schedule.Schedule{}, err
	}
	if err := json.Unmarshal([]byte(periodsJSON), &sc.Periods); err != nil {
		return schedule.Schedule{}, fmt.Errorf("decode periods: %w", err)
	}
	return sc, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueViolation reports whether err looks like a UNIQUE constraint
// failure from modernc.org/sqlite. The driver returns a *sqlite.Error whose
// message contains "UNIQUE constraint failed"; matching on the message
// avoids an import on the driver's internal error type.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return containsFold(err.Error(), "unique constraint")
}

func containsFold(s, substr string) bool {
	ls, lsub := []rune(s), []rune(substr)
	n, m := len(ls), len(lsub)
	if m == 0 || m > n {
		return m == 0
	}
outer:
	for i := 0; i+m <= n; i++ {
		for j := 0; j < m; j++ {
			a, b := ls[i+j], lsub[j]
			if a >= 'A' && a <= 'Z' {
				a += 'a' - 'A'
			}
			if b >= 'A' && b <= 'Z' {
				b += 'a' - 'A'
			}
			if a != b {
				continue outer
			}
		}
		return true
	}
	return false
}
