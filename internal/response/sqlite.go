package response

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	herrors "github.com/Iron-Ham/hotlabel/internal/errors"
	"github.com/Iron-Ham/hotlabel/internal/sqlitedb"
)

const responseColumns = `id, task_id, session_id, track_id, payload, latency_ms, metadata, status,
	quality_score, quality_level, reason, created_at, evaluated_at`

// SQLiteRepository stores responses in the shared SQLite database. The
// UNIQUE(task_id, session_id) constraint backs the exactly-once guarantee
// across restarts.
type SQLiteRepository struct {
	conn   *sql.DB
	closed atomic.Bool
}

// NewSQLiteRepository creates a repository on an opened database. Close
// does not close the database.
func NewSQLiteRepository(db *sqlitedb.DB) *SQLiteRepository {
	return &SQLiteRepository{conn: db.Conn()}
}

func (s *SQLiteRepository) fail(op string, err error) error {
	if herrors.IsCanceled(err) {
		return herrors.Canceled(err)
	}
	return herrors.NewStoreError(op, err)
}

func (s *SQLiteRepository) check(ctx context.Context, op string) error {
	if s.closed.Load() {
		return herrors.NewStoreError(op, errors.New("sqlite repository closed"))
	}
	return herrors.Canceled(ctx.Err())
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResponse(row rowScanner) (*Response, error) {
	var (
		r           Response
		payload     string
		metadata    sql.NullString
		status      string
		score       sql.NullFloat64
		level       sql.NullString
		reason      sql.NullString
		createdAt   int64
		evaluatedAt sql.NullInt64
	)
	err := row.Scan(&r.ID, &r.TaskID, &r.SessionID, &r.TrackID, &payload, &r.LatencyMS, &metadata, &status,
		&score, &level, &reason, &createdAt, &evaluatedAt)
	if err != nil {
		return nil, err
	}

	r.Payload = json.RawMessage(payload)
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &r.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata %s: %w", r.ID, err)
		}
	}
	r.Status = Status(status)
	if score.Valid {
		v := score.Float64
		r.QualityScore = &v
	}
	r.QualityLevel = QualityLevel(level.String)
	r.Reason = reason.String
	r.CreatedAt = time.Unix(0, createdAt)
	if evaluatedAt.Valid {
		at := time.Unix(0, evaluatedAt.Int64)
		r.EvaluatedAt = &at
	}
	return &r, nil
}

// Insert implements Repository.
func (s *SQLiteRepository) Insert(ctx context.Context, r *Response) error {
	if err := s.check(ctx, "insert_response"); err != nil {
		return err
	}

	var metadata any
	if len(r.Metadata) > 0 {
		b, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		metadata = string(b)
	}

	res, err := s.conn.ExecContext(ctx, `
INSERT INTO responses (id, task_id, session_id, track_id, payload, latency_ms, metadata, status, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT DO NOTHING`,
		r.ID, r.TaskID, r.SessionID, r.TrackID, string(r.Payload), r.LatencyMS, metadata, string(r.Status),
		r.CreatedAt.UnixNano())
	if err != nil {
		return s.fail("insert_response", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return s.fail("insert_response", err)
	}
	if n == 0 {
		return alreadySubmitted(r.TaskID, r.SessionID)
	}
	return nil
}

// Get implements Repository.
func (s *SQLiteRepository) Get(ctx context.Context, id string) (*Response, error) {
	if err := s.check(ctx, "get_response"); err != nil {
		return nil, err
	}
	row := s.conn.QueryRowContext(ctx, `SELECT `+responseColumns+` FROM responses WHERE id = ?`, id)
	r, err := scanResponse(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, s.fail("get_response", err)
	}
	return r, nil
}

// FindByKey implements Repository.
func (s *SQLiteRepository) FindByKey(ctx context.Context, taskID, sessionID string) (*Response, error) {
	if err := s.check(ctx, "find_response"); err != nil {
		return nil, err
	}
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+responseColumns+` FROM responses WHERE task_id = ? AND session_id = ?`, taskID, sessionID)
	r, err := scanResponse(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(taskID + "/" + sessionID)
	}
	if err != nil {
		return nil, s.fail("find_response", err)
	}
	return r, nil
}

// Pending implements Repository.
func (s *SQLiteRepository) Pending(ctx context.Context, limit int) ([]*Response, error) {
	if err := s.check(ctx, "pending_responses"); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+responseColumns+` FROM responses WHERE status = ? ORDER BY seq ASC LIMIT ?`,
		string(StatusPending), limit)
	if err != nil {
		return nil, s.fail("pending_responses", err)
	}
	defer rows.Close()

	var out []*Response
	for rows.Next() {
		r, err := scanResponse(rows)
		if err != nil {
			return nil, s.fail("pending_responses", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("pending_responses", err)
	}
	return out, nil
}

// SetEvaluation implements Repository.
func (s *SQLiteRepository) SetEvaluation(ctx context.Context, id string, ev Evaluation) error {
	if err := s.check(ctx, "set_evaluation"); err != nil {
		return err
	}
	res, err := s.conn.ExecContext(ctx, `
UPDATE responses SET status = ?, quality_score = ?, quality_level = ?, reason = ?, evaluated_at = ?
WHERE id = ?`,
		string(ev.Status), ev.Score, string(ev.Level), ev.Reason, ev.EvaluatedAt.UnixNano(), id)
	if err != nil {
		return s.fail("set_evaluation", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return s.fail("set_evaluation", err)
	}
	if n == 0 {
		return notFound(id)
	}
	return nil
}

// Counts implements Repository.
func (s *SQLiteRepository) Counts(ctx context.Context) (Counts, error) {
	if err := s.check(ctx, "count_responses"); err != nil {
		return Counts{}, err
	}
	rows, err := s.conn.QueryContext(ctx,
		`SELECT status, COALESCE(quality_level, ''), COUNT(*) FROM responses GROUP BY status, quality_level`)
	if err != nil {
		return Counts{}, s.fail("count_responses", err)
	}
	defer rows.Close()

	c := newCounts()
	for rows.Next() {
		var (
			status, level string
			n             int
		)
		if err := rows.Scan(&status, &level, &n); err != nil {
			return Counts{}, s.fail("count_responses", err)
		}
		c.Total += n
		c.ByStatus[Status(status)] += n
		if level != "" {
			c.ByLevel[QualityLevel(level)] += n
		}
	}
	if err := rows.Err(); err != nil {
		return Counts{}, s.fail("count_responses", err)
	}
	return c, nil
}

// Close implements Repository.
func (s *SQLiteRepository) Close() error {
	s.closed.Store(true)
	return nil
}
