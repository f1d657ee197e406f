package note

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const SQLiteFileName = "notesync.sqlite3"

// SQLiteStore keeps every accepted write as a revision. The newest revision is the note.
type SQLiteStore struct {
	database  *sql.DB
	retention int
	logger    *slog.Logger
}

// OpenSQLiteStore opens (or creates) the database at path. Retention is the number of
// revisions to keep; zero or less keeps all of them.
func OpenSQLiteStore(path string, retention int, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single writer avoids SQLITE_BUSY between the network loop and history readers
	db.SetMaxOpenConns(1)
	s := &SQLiteStore{database: db, retention: retention, logger: logger}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	if _, err := s.database.Exec(
		`CREATE TABLE IF NOT EXISTS revisions (
		id integer not null primary key autoincrement,
		content text not null,
		ts real not null,
		origin text not null,
		recorded_at integer not null
		)`,
	); err != nil {
		return fmt.Errorf("failed to create revisions table: %w", err)
	}
	s.logger.Debug("ensured revisions table exists")
	return nil
}

func (s *SQLiteStore) Current(ctx context.Context) (Note, error) {
	var n Note
	if err := s.database.QueryRowContext(
		ctx,
		`SELECT content, ts FROM revisions ORDER BY id DESC LIMIT 1`,
	).Scan(&n.Text, &n.Timestamp); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Note{}, nil
		}
		return Note{}, fmt.Errorf("failed to query current revision: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Save(ctx context.Context, n Note, origin Origin) error {
	tx, err := s.database.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to start tx: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			s.logger.Error("failed to rollback", "err", err)
		}
	}()

	res, err := tx.ExecContext(
		ctx,
		`INSERT INTO revisions(content, ts, origin, recorded_at) VALUES (?, ?, ?, ?)`,
		n.Text, n.Timestamp, string(origin), time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to persist revision: %w", err)
	} else if r, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to count rows affected by revision insert: %w", err)
	} else if r == 0 {
		return errors.New("no rows inserted by revision insert")
	}

	if s.retention > 0 {
		if _, err := tx.ExecContext(
			ctx,
			`DELETE FROM revisions WHERE id <= (SELECT MAX(id) FROM revisions) - ?`,
			s.retention,
		); err != nil {
			return fmt.Errorf("failed to prune revisions: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// History returns up to limit of the newest revisions, oldest first. A limit of zero or
// less returns everything retained.
func (s *SQLiteStore) History(ctx context.Context, limit int) ([]Revision, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.database.QueryContext(
		ctx,
		`SELECT id, content, ts, origin, recorded_at FROM (
			SELECT * FROM revisions ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query revisions: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			s.logger.Error("failed to close rows", "err", err)
		}
	}(rows)

	out := make([]Revision, 0)
	for rows.Next() {
		var r Revision
		var origin string
		var recordedAt int64
		if err := rows.Scan(&r.ID, &r.Note.Text, &r.Note.Timestamp, &origin, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan: %w", err)
		}
		r.Origin = Origin(origin)
		r.RecordedAt = time.Unix(0, recordedAt)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate revisions: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Close() error {
	return s.database.Close()
}

var _ Historian = (*SQLiteStore)(nil)
