package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"outpass/internal/leave"
)

// Repository persists leave requests and students in Postgres or SQLite.
type Repository struct {
	db  *sqlx.DB
	now func() time.Time
}

var _ leave.Store = (*Repository)(nil)

// NewRepository creates a repo.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db.Client, now: time.Now}
}

const requestColumns = `id, student_id, kind, reason, window_start, window_end, expires_at,
	current_level, decision, is_expired, approval_log, issued_by, issued_time,
	rejected_by, rejected_time, message, in_time, created_at, updated_at`

const studentColumns = `id, name, email, parent_email, is_present_in_campus,
	is_application_pending, created_at, updated_at`

type requestRow struct {
	ID           string       `db:"id"`
	StudentID    string       `db:"student_id"`
	Kind         string       `db:"kind"`
	Reason       string       `db:"reason"`
	WindowStart  time.Time    `db:"window_start"`
	WindowEnd    time.Time    `db:"window_end"`
	ExpiresAt    time.Time    `db:"expires_at"`
	CurrentLevel string       `db:"current_level"`
	Decision     string       `db:"decision"`
	IsExpired    bool         `db:"is_expired"`
	ApprovalLog  string       `db:"approval_log"`
	IssuedBy     string       `db:"issued_by"`
	IssuedTime   sql.NullTime `db:"issued_time"`
	RejectedBy   string       `db:"rejected_by"`
	RejectedTime sql.NullTime `db:"rejected_time"`
	Message      string       `db:"message"`
	InTime       sql.NullTime `db:"in_time"`
	CreatedAt    time.Time    `db:"created_at"`
	UpdatedAt    time.Time    `db:"updated_at"`
}

type studentRow struct {
	ID                   string    `db:"id"`
	Name                 string    `db:"name"`
	Email                string    `db:"email"`
	ParentEmail          string    `db:"parent_email"`
	IsPresentInCampus    bool      `db:"is_present_in_campus"`
	IsApplicationPending bool      `db:"is_application_pending"`
	CreatedAt            time.Time `db:"created_at"`
	UpdatedAt            time.Time `db:"updated_at"`
}

func toRow(r leave.Request) (requestRow, error) {
	log := r.ApprovalLog
	if log == nil {
		log = []leave.ApprovalEntry{}
	}
	raw, err := json.Marshal(log)
	if err != nil {
		return requestRow{}, fmt.Errorf("encode approval log: %w", err)
	}
	return requestRow{
		ID:           r.ID,
		StudentID:    r.StudentID,
		Kind:         string(r.Kind),
		Reason:       r.Reason,
		WindowStart:  r.Window.Start.UTC(),
		WindowEnd:    r.Window.End.UTC(),
		ExpiresAt:    r.ExpiresAt.UTC(),
		CurrentLevel: string(r.CurrentLevel),
		Decision:     string(r.Decision),
		IsExpired:    r.IsExpired,
		ApprovalLog:  string(raw),
		IssuedBy:     r.IssuedBy,
		IssuedTime:   nullTime(r.IssuedTime),
		RejectedBy:   r.RejectedBy,
		RejectedTime: nullTime(r.RejectedTime),
		Message:      r.Message,
		InTime:       nullTime(r.InTime),
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}, nil
}

func (row requestRow) toRequest() (leave.Request, error) {
	var entries []leave.ApprovalEntry
	if err := json.Unmarshal([]byte(row.ApprovalLog), &entries); err != nil {
		return leave.Request{}, fmt.Errorf("decode approval log of %s: %w", row.ID, err)
	}
	return leave.Request{
		ID:           row.ID,
		StudentID:    row.StudentID,
		Kind:         leave.Kind(row.Kind),
		Reason:       row.Reason,
		Window:       leave.Window{Start: row.WindowStart, End: row.WindowEnd},
		ExpiresAt:    row.ExpiresAt,
		CurrentLevel: leave.Level(row.CurrentLevel),
		Decision:     leave.Decision(row.Decision),
		IsExpired:    row.IsExpired,
		ApprovalLog:  entries,
		IssuedBy:     row.IssuedBy,
		IssuedTime:   timePtr(row.IssuedTime),
		RejectedBy:   row.RejectedBy,
		RejectedTime: timePtr(row.RejectedTime),
		Message:      row.Message,
		InTime:       timePtr(row.InTime),
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
	}, nil
}

func (row studentRow) toStudent() leave.Student {
	return leave.Student{
		ID:                   row.ID,
		Name:                 row.Name,
		Email:                row.Email,
		ParentEmail:          row.ParentEmail,
		IsPresentInCampus:    row.IsPresentInCampus,
		IsApplicationPending: row.IsApplicationPending,
		CreatedAt:            row.CreatedAt,
		UpdatedAt:            row.UpdatedAt,
	}
}

// queryer is satisfied by both *sqlx.DB and *sqlx.Tx.
type queryer interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

func getRequest(ctx context.Context, q queryer, id string) (leave.Request, error) {
	var row requestRow
	err := q.GetContext(ctx, &row, q.Rebind(`SELECT `+requestColumns+` FROM leave_requests WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return leave.Request{}, leave.RequestNotFound(id)
		}
		return leave.Request{}, err
	}
	return row.toRequest()
}

func getStudent(ctx context.Context, q queryer, id string) (leave.Student, error) {
	var row studentRow
	err := q.GetContext(ctx, &row, q.Rebind(`SELECT `+studentColumns+` FROM students WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return leave.Student{}, leave.StudentNotFound(id)
		}
		return leave.Student{}, err
	}
	return row.toStudent(), nil
}

func selectRequests(ctx context.Context, q queryer, query string, args ...any) ([]leave.Request, error) {
	var rows []requestRow
	if err := q.SelectContext(ctx, &rows, q.Rebind(query), args...); err != nil {
		return nil, err
	}
	out := make([]leave.Request, 0, len(rows))
	for _, row := range rows {
		r, err := row.toRequest()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// GetRequest returns a single request by id.
func (r *Repository) GetRequest(ctx context.Context, id string) (leave.Request, error) {
	return getRequest(ctx, r.db, id)
}

// GetStudent returns a single student by id.
func (r *Repository) GetStudent(ctx context.Context, id string) (leave.Student, error) {
	return getStudent(ctx, r.db, id)
}

// WithTx runs fn in a database transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(leave.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&repoTx{tx: tx, now: r.now}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ListPendingExpired returns pending requests whose window lapsed before now.
func (r *Repository) ListPendingExpired(ctx context.Context, now time.Time, limit int) ([]leave.Request, error) {
	return selectRequests(ctx, r.db, `
		SELECT `+requestColumns+` FROM leave_requests
		WHERE decision = 'pending' AND expires_at < ?
		ORDER BY expires_at
		LIMIT ?
	`, now.UTC(), limit)
}

// ListByStudent returns a student's requests, newest first.
func (r *Repository) ListByStudent(ctx context.Context, studentID string) ([]leave.Request, error) {
	return selectRequests(ctx, r.db, `
		SELECT `+requestColumns+` FROM leave_requests
		WHERE student_id = ?
		ORDER BY created_at DESC
	`, studentID)
}

// ListPendingAtLevel returns the approval queue for level, oldest first.
func (r *Repository) ListPendingAtLevel(ctx context.Context, level leave.Level, limit int) ([]leave.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM leave_requests WHERE decision = 'pending'`
	args := []any{}
	if level != "" {
		query += ` AND current_level = ?`
		args = append(args, string(level))
	}
	query += ` ORDER BY created_at LIMIT ?`
	args = append(args, limit)
	return selectRequests(ctx, r.db, query, args...)
}

// UpsertStudent creates a student or updates contact details, keeping the flags.
func (r *Repository) UpsertStudent(ctx context.Context, s leave.Student) (leave.Student, error) {
	now := r.now().UTC()
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO students (id, name, email, parent_email, is_present_in_campus, is_application_pending, created_at, updated_at)
		VALUES (?, ?, ?, ?, TRUE, FALSE, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			parent_email = excluded.parent_email,
			updated_at = excluded.updated_at
	`), s.ID, s.Name, s.Email, s.ParentEmail, now, now)
	if err != nil {
		return leave.Student{}, fmt.Errorf("upsert student %s: %w", s.ID, err)
	}
	return getStudent(ctx, r.db, s.ID)
}

type repoTx struct {
	tx  *sqlx.Tx
	now func() time.Time
}

func (t *repoTx) GetRequest(ctx context.Context, id string) (leave.Request, error) {
	return getRequest(ctx, t.tx, id)
}

func (t *repoTx) GetStudent(ctx context.Context, id string) (leave.Student, error) {
	return getStudent(ctx, t.tx, id)
}

func (t *repoTx) CreateRequest(ctx context.Context, req leave.Request) error {
	row, err := toRow(req)
	if err != nil {
		return err
	}
	_, err = t.tx.NamedExecContext(ctx, `
		INSERT INTO leave_requests (`+requestColumns+`)
		VALUES (:id, :student_id, :kind, :reason, :window_start, :window_end, :expires_at,
			:current_level, :decision, :is_expired, :approval_log, :issued_by, :issued_time,
			:rejected_by, :rejected_time, :message, :in_time, :created_at, :updated_at)
	`, row)
	if isOnePendingViolation(err) {
		return leave.AlreadyPending(req.StudentID)
	}
	return err
}

func (t *repoTx) UpdateRequestIf(ctx context.Context, expect leave.Expect, next leave.Request) (bool, error) {
	row, err := toRow(next)
	if err != nil {
		return false, err
	}
	query := `
		UPDATE leave_requests SET
			current_level = ?, decision = ?, is_expired = ?, approval_log = ?,
			issued_by = ?, issued_time = ?, rejected_by = ?, rejected_time = ?,
			message = ?, in_time = ?, updated_at = ?
		WHERE id = ? AND current_level = ? AND decision = ?`
	if expect.NotCheckedIn {
		query += ` AND in_time IS NULL`
	}
	res, err := t.tx.ExecContext(ctx, t.tx.Rebind(query),
		row.CurrentLevel, row.Decision, row.IsExpired, row.ApprovalLog,
		row.IssuedBy, row.IssuedTime, row.RejectedBy, row.RejectedTime,
		row.Message, row.InTime, row.UpdatedAt,
		row.ID, string(expect.Level), string(expect.Decision))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	if _, err := getRequest(ctx, t.tx, next.ID); err != nil {
		return false, err
	}
	return false, nil
}

func (t *repoTx) UpdateStudentFlags(ctx context.Context, studentID string, guard, patch leave.Flags) (bool, error) {
	sets := []string{"updated_at = ?"}
	args := []any{t.now().UTC()}
	if patch.Present != nil {
		sets = append(sets, "is_present_in_campus = ?")
		args = append(args, *patch.Present)
	}
	if patch.Pending != nil {
		sets = append(sets, "is_application_pending = ?")
		args = append(args, *patch.Pending)
	}

	where := []string{"id = ?"}
	args = append(args, studentID)
	if guard.Present != nil {
		where = append(where, "is_present_in_campus = ?")
		args = append(args, *guard.Present)
	}
	if guard.Pending != nil {
		where = append(where, "is_application_pending = ?")
		args = append(args, *guard.Pending)
	}

	query := "UPDATE students SET " + strings.Join(sets, ", ") + " WHERE " + strings.Join(where, " AND ")
	res, err := t.tx.ExecContext(ctx, t.tx.Rebind(query), args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// isOnePendingViolation reports whether err comes from the one-pending-per-student index.
func isOnePendingViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && pgErr.ConstraintName == "uq_leave_requests_one_pending"
	}
	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) {
		return sqErr.ExtendedCode == sqlite3.ErrConstraintUnique && strings.Contains(sqErr.Error(), "leave_requests.student_id")
	}
	return false
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
