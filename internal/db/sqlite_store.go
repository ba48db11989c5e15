package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/soaringjerry/surveyledger/internal/api"
)

// SQLStore implements api.Store over database/sql. Conditional writes run in
// a transaction and compare the row version inside the UPDATE itself.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

// NewSQLiteStore wraps an open SQLite handle and applies connection pragmas.
func NewSQLiteStore(db *sql.DB, logger *slog.Logger) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New("nil db")
	}
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("apply sqlite pragma %q: %w", stmt, err)
		}
	}
	return newSQLStore(db, DialectSQLite, logger), nil
}

func NewPostgresStore(db *sql.DB, logger *slog.Logger) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New("nil db")
	}
	return newSQLStore(db, DialectPostgres, logger), nil
}

func newSQLStore(db *sql.DB, d Dialect, logger *slog.Logger) *SQLStore {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &SQLStore{db: db, dialect: d, logger: logger}
}

var _ api.Store = (*SQLStore)(nil)

// NewStore opens target, applies pending migrations and returns the store.
// The store owns the connection.
func NewStore(ctx context.Context, d Dialect, target, migrationsDir string, logger *slog.Logger) (*SQLStore, error) {
	conn, err := Open(ctx, d, target)
	if err != nil {
		return nil, err
	}
	if _, err := RunMigrations(ctx, conn, d, migrationsDir, logger); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	var st *SQLStore
	if d == DialectPostgres {
		st, err = NewPostgresStore(conn, logger)
	} else {
		st, err = NewSQLiteStore(conn, logger)
	}
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return st, nil
}

func (s *SQLStore) logErr(prefix string, err error) {
	if err != nil {
		s.logger.Error("sql store: "+prefix, "component", "db", "dialect", s.dialect.String(), "error", err)
	}
}

func (s *SQLStore) exec(ctx context.Context, q execer, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, s.dialect.rebind(query), args...)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// withTx runs fn in a transaction and rolls back on any error.
func (s *SQLStore) withTx(ctx context.Context, name string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.logErr(name+" begin", err)
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logErr(name+" rollback", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		s.logErr(name+" commit", err)
		return err
	}
	return nil
}

func (s *SQLStore) exists(ctx context.Context, q execer, table, column, id string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, s.dialect.rebind("SELECT 1 FROM "+table+" WHERE "+column+" = ?"), id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// conditionalMiss explains why a versioned UPDATE touched no row.
func (s *SQLStore) conditionalMiss(ctx context.Context, q execer, table, column, id string) error {
	ok, err := s.exists(ctx, q, table, column, id)
	if err != nil {
		return err
	}
	if !ok {
		return api.ErrNotFound
	}
	return api.ErrVersionConflict
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func boolToInt64(v bool) int64 {
	if v {
		return 1
	}
	return 0
}

// --- Surveys ---

func (s *SQLStore) AddSurvey(ctx context.Context, sv *api.Survey) error {
	created := sv.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	res, err := s.exec(ctx, s.db, `INSERT INTO surveys (id, creator_id, type, min_respondents, max_respondents, reward_amount, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT (id) DO NOTHING`,
		sv.ID, sv.CreatorID, sv.Type, sv.MinRespondents, sv.MaxRespondents, orZero(sv.RewardAmount), sv.Status, created)
	if err != nil {
		s.logErr("AddSurvey", err)
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		s.logErr("AddSurvey", err)
		return err
	}
	if n == 0 {
		return api.ErrAlreadyExists
	}
	return nil
}

func orZero(v string) string {
	if v == "" {
		return "0"
	}
	return v
}

func (s *SQLStore) GetSurvey(ctx context.Context, id string) (*api.Survey, error) {
	var sv api.Survey
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(`SELECT id, creator_id, type, min_respondents, max_respondents, reward_amount, status, created_at
		FROM surveys WHERE id = ?`), id).
		Scan(&sv.ID, &sv.CreatorID, &sv.Type, &sv.MinRespondents, &sv.MaxRespondents, &sv.RewardAmount, &sv.Status, &sv.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, api.ErrNotFound
	}
	if err != nil {
		s.logErr("GetSurvey", err)
		return nil, err
	}
	return &sv, nil
}

// --- Responses ---

const responseColumns = `id, survey_id, respondent_id, started_at, completed_at, is_complete, status,
	rejection_reason, reviewed_by, reviewed_at, version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResponse(row rowScanner) (*api.Response, error) {
	var (
		r                   api.Response
		completed, reviewed sql.NullTime
		reason, reviewer    sql.NullString
		isComplete          int64
	)
	if err := row.Scan(&r.ID, &r.SurveyID, &r.RespondentID, &r.StartedAt, &completed, &isComplete, &r.Status,
		&reason, &reviewer, &reviewed, &r.Version); err != nil {
		return nil, err
	}
	r.StartedAt = r.StartedAt.UTC()
	r.CompletedAt = timePtr(completed)
	r.ReviewedAt = timePtr(reviewed)
	r.IsComplete = isComplete != 0
	r.RejectionReason = reason.String
	r.ReviewedBy = reviewer.String
	return &r, nil
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

func (s *SQLStore) AddResponse(ctx context.Context, r *api.Response) error {
	if r.Version == 0 {
		r.Version = 1
	}
	_, err := s.exec(ctx, s.db, `INSERT INTO responses (`+responseColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SurveyID, r.RespondentID, r.StartedAt.UTC(), nullTime(r.CompletedAt), boolToInt64(r.IsComplete), r.Status,
		nullString(r.RejectionReason), nullString(r.ReviewedBy), nullTime(r.ReviewedAt), r.Version)
	s.logErr("AddResponse", err)
	return err
}

func (s *SQLStore) GetResponse(ctx context.Context, id string) (*api.Response, error) {
	r, err := scanResponse(s.db.QueryRowContext(ctx, s.dialect.rebind(`SELECT `+responseColumns+` FROM responses WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, api.ErrNotFound
	}
	if err != nil {
		s.logErr("GetResponse", err)
		return nil, err
	}
	return r, nil
}

func (s *SQLStore) ListResponsesBySurvey(ctx context.Context, surveyID, status string) ([]*api.Response, error) {
	query := `SELECT ` + responseColumns + ` FROM responses WHERE survey_id = ?`
	args := []any{surveyID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY started_at, id`
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		s.logErr("ListResponsesBySurvey", err)
		return nil, err
	}
	defer rows.Close()
	out := []*api.Response{}
	for rows.Next() {
		r, err := scanResponse(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLStore) UpdateResponse(ctx context.Context, r *api.Response, expectedVersion int64, delta api.CounterDelta) error {
	err := s.withTx(ctx, "UpdateResponse", func(tx *sql.Tx) error {
		res, err := s.exec(ctx, tx, `UPDATE responses SET completed_at = ?, is_complete = ?, status = ?,
			rejection_reason = ?, reviewed_by = ?, reviewed_at = ?, version = version + 1
			WHERE id = ? AND version = ?`,
			nullTime(r.CompletedAt), boolToInt64(r.IsComplete), r.Status,
			nullString(r.RejectionReason), nullString(r.ReviewedBy), nullTime(r.ReviewedAt),
			r.ID, expectedVersion)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return s.conditionalMiss(ctx, tx, "responses", "id", r.ID)
		}
		if delta.IsZero() {
			return nil
		}
		if err := s.ensureAccount(ctx, tx, r.RespondentID); err != nil {
			return err
		}
		_, err = s.exec(ctx, tx, `UPDATE accounts SET
			responses_accepted = CASE WHEN responses_accepted + ? < 0 THEN 0 ELSE responses_accepted + ? END,
			responses_rejected = CASE WHEN responses_rejected + ? < 0 THEN 0 ELSE responses_rejected + ? END,
			surveys_completed = CASE WHEN surveys_completed + ? < 0 THEN 0 ELSE surveys_completed + ? END,
			total_reputation = total_reputation + ?,
			version = version + 1
			WHERE respondent_id = ?`,
			delta.Accepted, delta.Accepted, delta.Rejected, delta.Rejected, delta.Completed, delta.Completed,
			delta.Reputation, r.RespondentID)
		return err
	})
	if err != nil {
		if !errors.Is(err, api.ErrVersionConflict) && !errors.Is(err, api.ErrNotFound) {
			s.logErr("UpdateResponse", err)
		}
		return err
	}
	r.Version = expectedVersion + 1
	return nil
}

// --- Answers ---

// UpsertAnswer touches the response row with a versioned no-op UPDATE first,
// which holds the row lock until the answer is written. A completion that
// bumped the version makes the UPDATE miss.
func (s *SQLStore) UpsertAnswer(ctx context.Context, a *api.Answer, expectedVersion int64) error {
	return s.withTx(ctx, "UpsertAnswer", func(tx *sql.Tx) error {
		res, err := s.exec(ctx, tx, `UPDATE responses SET version = version WHERE id = ? AND version = ?`, a.ResponseID, expectedVersion)
		if err != nil {
			s.logErr("UpsertAnswer", err)
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return s.conditionalMiss(ctx, tx, "responses", "id", a.ResponseID)
		}
		_, err = s.exec(ctx, tx, `INSERT INTO answers (response_id, question_id, value, answered_at) VALUES (?, ?, ?, ?)
			ON CONFLICT (response_id, question_id) DO UPDATE SET value = excluded.value, answered_at = excluded.answered_at`,
			a.ResponseID, a.QuestionID, a.Value, a.AnsweredAt.UTC())
		s.logErr("UpsertAnswer", err)
		return err
	})
}

func (s *SQLStore) ListAnswers(ctx context.Context, responseID string) ([]*api.Answer, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`SELECT response_id, question_id, value, answered_at
		FROM answers WHERE response_id = ? ORDER BY question_id`), responseID)
	if err != nil {
		s.logErr("ListAnswers", err)
		return nil, err
	}
	defer rows.Close()
	out := []*api.Answer{}
	for rows.Next() {
		var a api.Answer
		if err := rows.Scan(&a.ResponseID, &a.QuestionID, &a.Value, &a.AnsweredAt); err != nil {
			return nil, err
		}
		a.AnsweredAt = a.AnsweredAt.UTC()
		out = append(out, &a)
	}
	return out, rows.Err()
}

// --- Accounts ---

const accountColumns = `respondent_id, responses_accepted, responses_rejected, total_reputation, surveys_created,
	surveys_completed, scp_owned, commerce_rewards_earned, commerce_rewards_claimed, version`

func scanAccount(row rowScanner) (*api.Account, error) {
	var a api.Account
	if err := row.Scan(&a.RespondentID, &a.ResponsesAccepted, &a.ResponsesRejected, &a.TotalReputation, &a.SurveysCreated,
		&a.SurveysCompleted, &a.SCPOwned, &a.CommerceRewardsEarned, &a.CommerceRewardsClaimed, &a.Version); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *SQLStore) ensureAccount(ctx context.Context, q execer, respondentID string) error {
	_, err := s.exec(ctx, q, `INSERT INTO accounts (respondent_id) VALUES (?) ON CONFLICT (respondent_id) DO NOTHING`, respondentID)
	return err
}

func (s *SQLStore) EnsureAccount(ctx context.Context, respondentID string) error {
	err := s.ensureAccount(ctx, s.db, respondentID)
	s.logErr("EnsureAccount", err)
	return err
}

func (s *SQLStore) GetAccount(ctx context.Context, respondentID string) (*api.Account, error) {
	a, err := scanAccount(s.db.QueryRowContext(ctx, s.dialect.rebind(`SELECT `+accountColumns+` FROM accounts WHERE respondent_id = ?`), respondentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, api.ErrNotFound
	}
	if err != nil {
		s.logErr("GetAccount", err)
		return nil, err
	}
	return a, nil
}

func (s *SQLStore) ListAccounts(ctx context.Context) ([]*api.Account, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY respondent_id`)
	if err != nil {
		s.logErr("ListAccounts", err)
		return nil, err
	}
	defer rows.Close()
	out := []*api.Account{}
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLStore) CountAccountsAbove(ctx context.Context, reputation int) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(`SELECT COUNT(*) FROM accounts WHERE total_reputation > ?`), reputation).Scan(&n)
	s.logErr("CountAccountsAbove", err)
	return n, err
}

func (s *SQLStore) UpdateAccount(ctx context.Context, a *api.Account, expectedVersion int64, sv *api.Survey) error {
	err := s.withTx(ctx, "UpdateAccount", func(tx *sql.Tx) error {
		res, err := s.exec(ctx, tx, `UPDATE accounts SET responses_accepted = ?, responses_rejected = ?, total_reputation = ?,
			surveys_created = ?, surveys_completed = ?, scp_owned = ?, commerce_rewards_earned = ?, commerce_rewards_claimed = ?,
			version = version + 1
			WHERE respondent_id = ? AND version = ?`,
			a.ResponsesAccepted, a.ResponsesRejected, a.TotalReputation, a.SurveysCreated, a.SurveysCompleted, a.SCPOwned,
			orZero(a.CommerceRewardsEarned), orZero(a.CommerceRewardsClaimed), a.RespondentID, expectedVersion)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return s.conditionalMiss(ctx, tx, "accounts", "respondent_id", a.RespondentID)
		}
		if sv == nil {
			return nil
		}
		res, err = s.exec(ctx, tx, `UPDATE surveys SET status = ?, min_respondents = ?, max_respondents = ?, reward_amount = ? WHERE id = ?`,
			sv.Status, sv.MinRespondents, sv.MaxRespondents, orZero(sv.RewardAmount), sv.ID)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return api.ErrNotFound
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, api.ErrVersionConflict) && !errors.Is(err, api.ErrNotFound) {
			s.logErr("UpdateAccount", err)
		}
		return err
	}
	a.Version = expectedVersion + 1
	return nil
}

// --- Audit ---

func (s *SQLStore) AddAudit(ctx context.Context, e api.AuditEntry) error {
	ts := e.Time
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := s.exec(ctx, s.db, `INSERT INTO audit_log (id, at, actor, action, target, note) VALUES (?, ?, ?, ?, ?, ?)`,
		auditID(), ts.UTC(), e.Actor, e.Action, e.Target, e.Note)
	s.logErr("AddAudit", err)
	return err
}

func (s *SQLStore) ListAudit(ctx context.Context, limit int) ([]api.AuditEntry, error) {
	query := `SELECT at, actor, action, target, note FROM audit_log ORDER BY at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		s.logErr("ListAudit", err)
		return nil, err
	}
	defer rows.Close()
	out := []api.AuditEntry{}
	for rows.Next() {
		var e api.AuditEntry
		if err := rows.Scan(&e.Time, &e.Actor, &e.Action, &e.Target, &e.Note); err != nil {
			return nil, err
		}
		e.Time = e.Time.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// auditID returns a time-ordered id so entries sharing a timestamp keep
// insertion order.
func auditID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
