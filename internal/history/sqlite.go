package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
	CREATE TABLE IF NOT EXISTS records (
		id TEXT PRIMARY KEY,
		seq INTEGER NOT NULL,
		question TEXT NOT NULL,
		answer TEXT,
		createdAt REAL NOT NULL,
		answeredAt REAL
	);
	CREATE INDEX IF NOT EXISTS records_seq ON records(seq);
`

// SQLiteStore persists records so history survives restarts.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the history database at path.
// ":memory:" gives a private in-memory database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// one connection keeps :memory: databases shared and serialises writers
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Append implements Store.
func (s *SQLiteStore) Append(ctx context.Context, question string) (Record, error) {
	rec := Record{
		ID:        uuid.New(),
		Question:  question,
		CreatedAt: time.Now(),
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO records (id, seq, question, createdAt)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM records), ?, ?)
		RETURNING seq
	`, rec.ID.String(), rec.Question, unixFromTime(rec.CreatedAt))
	if err := row.Scan(&rec.Seq); err != nil {
		return Record{}, fmt.Errorf("insert record: %w", err)
	}
	return rec, nil
}

// SetAnswer implements Store.
func (s *SQLiteStore) SetAnswer(ctx context.Context, id uuid.UUID, answer string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE records SET answer = ?, answeredAt = ? WHERE id = ?
	`, answer, unixFromTime(time.Now()), id.String())
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, question, answer, createdAt, answeredAt
		FROM records
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, id uuid.UUID) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, seq, question, answer, createdAt, answeredAt
		FROM records
		WHERE id = ?
	`, id.String())

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

// Clear implements Store.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM records`); err != nil {
		return fmt.Errorf("clear records: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (Record, error) {
	var rec Record
	var id string
	var createdAt float64
	var answer sql.NullString
	var answeredAt sql.NullFloat64

	if err := sc.Scan(&id, &rec.Seq, &rec.Question, &answer, &createdAt, &answeredAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("scan record: %w", err)
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return Record{}, fmt.Errorf("parse record id: %w", err)
	}
	rec.ID = parsed
	rec.CreatedAt = timeFromUnix(createdAt)
	if answer.Valid {
		a := answer.String
		rec.Answer = &a
	}
	if answeredAt.Valid {
		t := timeFromUnix(answeredAt.Float64)
		rec.AnsweredAt = &t
	}
	return rec, nil
}

func unixFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func timeFromUnix(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}
