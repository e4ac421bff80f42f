package taskstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	herrors "github.com/Iron-Ham/hotlabel/internal/errors"
	"github.com/Iron-Ham/hotlabel/internal/sqlitedb"
)

const taskColumns = `id, track_id, language, category, type, topic, complexity, body,
	state, assigned_to, assigned_at, expires_at, created_at, updated_at`

// taskBody holds the fields stored as a single JSON column.
type taskBody struct {
	Content      Content         `json:"content"`
	Question     Question        `json:"task"`
	Requirements *Requirements   `json:"requirements,omitempty"`
	KnownAnswer  json.RawMessage `json:"known_answer,omitempty"`
}

// SQLiteStore is a Store backed by SQLite. Every transition is a single
// conditional UPDATE whose affected row decides the outcome, so the
// database serializes competing transitions on the same task.
type SQLiteStore struct {
	conn   *sql.DB
	closed atomic.Bool
	now    func() time.Time
}

// SQLiteOption configures a SQLiteStore.
type SQLiteOption func(*SQLiteStore)

// WithSQLiteClock overrides the store's time source.
func WithSQLiteClock(now func() time.Time) SQLiteOption {
	return func(s *SQLiteStore) {
		s.now = now
	}
}

// NewSQLiteStore creates a store on an opened database. The database is
// shared with other repositories, so Close does not close it.
func NewSQLiteStore(db *sqlitedb.DB, opts ...SQLiteOption) *SQLiteStore {
	s := &SQLiteStore{conn: db.Conn(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// fail converts driver errors into StoreErrors. Context errors pass through
// so callers can tell cancellation from an outage.
func (s *SQLiteStore) fail(op string, err error) error {
	if herrors.IsCanceled(err) {
		return herrors.Canceled(err)
	}
	return herrors.NewStoreError(op, err)
}

func (s *SQLiteStore) check(ctx context.Context, op string) error {
	if s.closed.Load() {
		return herrors.NewStoreError(op, errors.New("sqlite store closed"))
	}
	return herrors.Canceled(ctx.Err())
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var (
		t          Task
		body       string
		assignedTo sql.NullString
		assignedAt sql.NullInt64
		expiresAt  sql.NullInt64
		createdAt  int64
		updatedAt  int64
	)
	err := row.Scan(&t.ID, &t.TrackID, &t.Language, &t.Category, &t.Type, &t.Topic, &t.Complexity, &body,
		&t.State, &assignedTo, &assignedAt, &expiresAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	var b taskBody
	if err := json.Unmarshal([]byte(body), &b); err != nil {
		return nil, fmt.Errorf("decode task body %s: %w", t.ID, err)
	}
	t.Content = b.Content
	t.Question = b.Question
	t.Requirements = b.Requirements
	t.KnownAnswer = b.KnownAnswer

	t.AssignedTo = assignedTo.String
	if assignedAt.Valid {
		at := time.Unix(0, assignedAt.Int64)
		t.AssignedAt = &at
	}
	if expiresAt.Valid {
		exp := time.Unix(0, expiresAt.Int64)
		t.ExpiresAt = &exp
	}
	t.CreatedAt = time.Unix(0, createdAt)
	t.UpdatedAt = time.Unix(0, updatedAt)
	return &t, nil
}

// CreateTask implements Store.
func (s *SQLiteStore) CreateTask(ctx context.Context, task *Task) (*Task, error) {
	if err := s.check(ctx, "create_task"); err != nil {
		return nil, err
	}
	t, err := prepareNew(task, s.now())
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(taskBody{
		Content:      t.Content,
		Question:     t.Question,
		Requirements: t.Requirements,
		KnownAnswer:  t.KnownAnswer,
	})
	if err != nil {
		return nil, fmt.Errorf("encode task body: %w", err)
	}

	res, err := s.conn.ExecContext(ctx, `
INSERT INTO tasks (id, track_id, language, lang_base, category, type, topic, complexity, body,
	state, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING`,
		t.ID, t.TrackID, t.Language, BaseLanguage(t.Language), string(t.Category), string(t.Type), t.Topic,
		t.Complexity, string(body), string(t.State), t.CreatedAt.UnixNano(), t.UpdatedAt.UnixNano())
	if err != nil {
		return nil, s.fail("create_task", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, s.fail("create_task", err)
	}
	if n == 0 {
		return nil, duplicate(t.ID)
	}
	return t, nil
}

// CreateBatch implements Store.
func (s *SQLiteStore) CreateBatch(ctx context.Context, tasks []*Task) []BatchItemResult {
	return createBatch(ctx, s, tasks)
}

// GetTask implements Store.
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*Task, error) {
	if err := s.check(ctx, "get_task"); err != nil {
		return nil, err
	}
	t, err := scanTask(s.conn.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, s.fail("get_task", err)
	}
	return t, nil
}

// ListTasks implements Store.
func (s *SQLiteStore) ListTasks(ctx context.Context, filter Filter, limit int, cursor string) (Page, error) {
	if err := s.check(ctx, "list_tasks"); err != nil {
		return Page{}, err
	}
	limit = clampLimit(limit)

	var (
		where []string
		args  []any
	)
	if filter.Language != "" {
		where = append(where, "lang_base = ?")
		args = append(args, BaseLanguage(filter.Language))
	}
	if filter.Category != "" {
		where = append(where, "category = ?")
		args = append(args, string(filter.Category))
	}
	if filter.State != "" {
		where = append(where, "state = ?")
		args = append(args, string(filter.State))
	}
	if cursor != "" {
		after, err := decodeCursor(cursor)
		if err != nil {
			return Page{}, err
		}
		where = append(where, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, after.created.UnixNano(), after.created.UnixNano(), after.id)
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit+1)

	tasks, err := s.queryTasks(ctx, "list_tasks", query, args...)
	if err != nil {
		return Page{}, err
	}

	page := Page{Tasks: tasks}
	if len(tasks) > limit {
		page.Tasks = tasks[:limit]
		page.NextCursor = encodeCursor(keyOf(page.Tasks[limit-1]))
	}
	if page.Tasks == nil {
		page.Tasks = []*Task{}
	}
	return page, nil
}

func (s *SQLiteStore) queryTasks(ctx context.Context, op, query string, args ...any) ([]*Task, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.fail(op, err)
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, s.fail(op, err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail(op, err)
	}
	return out, nil
}

// Candidates implements Store.
func (s *SQLiteStore) Candidates(ctx context.Context, language string) ([]*Task, error) {
	if err := s.check(ctx, "candidates"); err != nil {
		return nil, err
	}
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE state = ?`
	args := []any{string(StatePending)}
	if base := BaseLanguage(language); base != "" {
		query += ` AND lang_base = ?`
		args = append(args, base)
	}
	query += ` ORDER BY created_at ASC, id ASC`
	return s.queryTasks(ctx, "candidates", query, args...)
}

// TryAssign implements Store.
func (s *SQLiteStore) TryAssign(ctx context.Context, id, sessionID string, ttl time.Duration) (*Task, error) {
	if sessionID == "" {
		return nil, herrors.NewValidationError("session id is required").WithField("session_id")
	}
	if err := s.check(ctx, "try_assign"); err != nil {
		return nil, err
	}

	now := s.now()
	t, err := scanTask(s.conn.QueryRowContext(ctx, `
UPDATE tasks
SET state = ?, assigned_to = ?, assigned_at = ?, expires_at = ?, updated_at = ?
WHERE id = ? AND state = ?
RETURNING `+taskColumns,
		string(StateAssigned), sessionID, now.UnixNano(), now.Add(ttl).UnixNano(), now.UnixNano(),
		id, string(StatePending)))
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, s.fail("try_assign", err)
	}

	current, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, conflict(id, sessionID, current.State, current.AssignedTo)
}

// Reclaim implements Store.
func (s *SQLiteStore) Reclaim(ctx context.Context, id string, now time.Time) (bool, error) {
	if err := s.check(ctx, "reclaim"); err != nil {
		return false, err
	}

	res, err := s.conn.ExecContext(ctx, `
UPDATE tasks
SET state = ?, assigned_to = NULL, assigned_at = NULL, expires_at = NULL, updated_at = ?
WHERE id = ? AND state = ? AND expires_at < ?`,
		string(StatePending), s.now().UnixNano(), id, string(StateAssigned), now.UnixNano())
	if err != nil {
		return false, s.fail("reclaim", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, s.fail("reclaim", err)
	}
	if n > 0 {
		return true, nil
	}

	if _, err := s.GetTask(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// Expired implements Store.
func (s *SQLiteStore) Expired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	if err := s.check(ctx, "expired"); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	rows, err := s.conn.QueryContext(ctx, `
SELECT id FROM tasks WHERE state = ? AND expires_at < ? ORDER BY expires_at ASC LIMIT ?`,
		string(StateAssigned), now.UnixNano(), limit)
	if err != nil {
		return nil, s.fail("expired", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, s.fail("expired", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("expired", err)
	}
	return ids, nil
}

// Finalize implements Store.
func (s *SQLiteStore) Finalize(ctx context.Context, id, sessionID string) (*Task, error) {
	if err := s.check(ctx, "finalize"); err != nil {
		return nil, err
	}

	t, err := scanTask(s.conn.QueryRowContext(ctx, `
UPDATE tasks SET state = ?, updated_at = ?
WHERE id = ? AND state = ? AND assigned_to = ?
RETURNING `+taskColumns,
		string(StateCompleted), s.now().UnixNano(), id, string(StateAssigned), sessionID))
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, s.fail("finalize", err)
	}

	current, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, mismatch(id, sessionID, current.State, current.AssignedTo)
}

// Retire implements Store.
func (s *SQLiteStore) Retire(ctx context.Context, id string) (*Task, error) {
	if err := s.check(ctx, "retire"); err != nil {
		return nil, err
	}

	t, err := scanTask(s.conn.QueryRowContext(ctx, `
UPDATE tasks
SET state = ?, assigned_to = NULL, assigned_at = NULL, expires_at = NULL, updated_at = ?
WHERE id = ?
RETURNING `+taskColumns,
		string(StateRetired), s.now().UnixNano(), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, s.fail("retire", err)
	}
	return t, nil
}

// Counts implements Store.
func (s *SQLiteStore) Counts(ctx context.Context) (Counts, error) {
	if err := s.check(ctx, "counts"); err != nil {
		return Counts{}, err
	}

	rows, err := s.conn.QueryContext(ctx, `SELECT state, COUNT(*) FROM tasks GROUP BY state`)
	if err != nil {
		return Counts{}, s.fail("counts", err)
	}
	defer rows.Close()

	var c Counts
	for rows.Next() {
		var (
			state string
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return Counts{}, s.fail("counts", err)
		}
		c.add(State(state), n)
	}
	if err := rows.Err(); err != nil {
		return Counts{}, s.fail("counts", err)
	}
	return c, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.closed.Store(true)
	return nil
}
