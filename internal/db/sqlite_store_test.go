package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soaringjerry/surveyledger/internal/api"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	st, err := NewStore(context.Background(), DialectSQLite, filepath.Join(t.TempDir(), "ledger.db"), "", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func seedResponse(t *testing.T, st *SQLStore, id, respondent string) *api.Response {
	t.Helper()
	ctx := context.Background()
	if _, err := st.GetSurvey(ctx, "s1"); err != nil {
		require.NoError(t, st.AddSurvey(ctx, &api.Survey{ID: "s1", CreatorID: "c1", Type: "academia", Status: "active", RewardAmount: "1.50"}))
	}
	r := &api.Response{ID: id, SurveyID: "s1", RespondentID: respondent, StartedAt: time.Now().UTC(), Status: "in_progress"}
	require.NoError(t, st.AddResponse(ctx, r))
	require.Equal(t, int64(1), r.Version)
	return r
}

func TestRebind(t *testing.T) {
	q := "SELECT a FROM t WHERE x = ? AND y = ?"
	assert.Equal(t, q, DialectSQLite.rebind(q))
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", DialectPostgres.rebind(q))
	assert.Equal(t, "SELECT 1", DialectPostgres.rebind("SELECT 1"))
}

func TestRunMigrationsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	conn, err := Open(ctx, DialectSQLite, filepath.Join(t.TempDir(), "m.db"))
	require.NoError(t, err)
	defer conn.Close()

	first, err := RunMigrations(ctx, conn, DialectSQLite, "", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_init.sql"}, first)

	second, err := RunMigrations(ctx, conn, DialectSQLite, "", nil)
	require.NoError(t, err)
	assert.Empty(t, second)
}

func TestSQLStoreSurveyRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.GetSurvey(ctx, "missing")
	assert.ErrorIs(t, err, api.ErrNotFound)

	seedResponse(t, st, "r1", "alice")
	sv, err := st.GetSurvey(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "c1", sv.CreatorID)
	assert.Equal(t, "1.50", sv.RewardAmount)
	assert.False(t, sv.CreatedAt.IsZero())

	err = st.AddSurvey(ctx, &api.Survey{ID: "s1", CreatorID: "mallory", Type: "academia", Status: "draft"})
	assert.ErrorIs(t, err, api.ErrAlreadyExists)
	sv, err = st.GetSurvey(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "c1", sv.CreatorID)
	assert.Equal(t, "active", sv.Status)
}

func TestSQLStoreUpdateResponseAppliesDelta(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	r := seedResponse(t, st, "r1", "alice")

	now := time.Now().UTC()
	r.Status = "pending"
	r.IsComplete = true
	r.CompletedAt = &now
	require.NoError(t, st.UpdateResponse(ctx, r, 1, api.CounterDelta{Completed: 1}))
	assert.Equal(t, int64(2), r.Version)

	r.Status = "accepted"
	r.ReviewedBy = "c1"
	r.ReviewedAt = &now
	require.NoError(t, st.UpdateResponse(ctx, r, 2, api.CounterDelta{Accepted: 1, Reputation: 1}))

	got, err := st.GetResponse(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "accepted", got.Status)
	assert.True(t, got.IsComplete)
	assert.Equal(t, "c1", got.ReviewedBy)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, int64(3), got.Version)

	acct, err := st.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, acct.ResponsesAccepted)
	assert.Equal(t, 1, acct.SurveysCompleted)
	assert.Equal(t, 1, acct.TotalReputation)
	assert.Equal(t, "0", acct.CommerceRewardsEarned)
}

func TestSQLStoreUpdateResponseConflicts(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	r := seedResponse(t, st, "r1", "alice")

	r.Status = "pending"
	require.NoError(t, st.UpdateResponse(ctx, r, 1, api.CounterDelta{Completed: 1}))

	stale := *r
	stale.Status = "accepted"
	err := st.UpdateResponse(ctx, &stale, 1, api.CounterDelta{Accepted: 1, Reputation: 1})
	assert.ErrorIs(t, err, api.ErrVersionConflict)

	acct, err := st.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, acct.ResponsesAccepted, "a rejected write must not touch counters")
	assert.Equal(t, 0, acct.TotalReputation)

	ghost := &api.Response{ID: "nope", RespondentID: "alice"}
	assert.ErrorIs(t, st.UpdateResponse(ctx, ghost, 1, api.CounterDelta{}), api.ErrNotFound)
}

func TestSQLStoreCountersFloorAtZero(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	r := seedResponse(t, st, "r1", "bob")

	r.Status = "rejected"
	require.NoError(t, st.UpdateResponse(ctx, r, 1, api.CounterDelta{Accepted: -1, Rejected: 1, Reputation: -2}))

	acct, err := st.GetAccount(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 0, acct.ResponsesAccepted)
	assert.Equal(t, 1, acct.ResponsesRejected)
	assert.Equal(t, -2, acct.TotalReputation)
}

func TestSQLStoreUpdateAccountWithSurvey(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.AddSurvey(ctx, &api.Survey{ID: "draft1", CreatorID: "carol", Type: "commerce", Status: "draft"}))
	require.NoError(t, st.EnsureAccount(ctx, "carol"))
	require.NoError(t, st.EnsureAccount(ctx, "carol"))

	acct, err := st.GetAccount(ctx, "carol")
	require.NoError(t, err)
	acct.SCPOwned = 0
	acct.SurveysCreated = 1
	sv := &api.Survey{ID: "draft1", CreatorID: "carol", Type: "commerce", Status: "active", RewardAmount: "2.00"}
	require.NoError(t, st.UpdateAccount(ctx, acct, acct.Version, sv))

	got, err := st.GetSurvey(ctx, "draft1")
	require.NoError(t, err)
	assert.Equal(t, "active", got.Status)

	// stale version
	acct.SurveysCreated = 5
	assert.ErrorIs(t, st.UpdateAccount(ctx, acct, 1, nil), api.ErrVersionConflict)

	// missing survey rolls back the account write
	cur, err := st.GetAccount(ctx, "carol")
	require.NoError(t, err)
	cur.SCPOwned = 9
	err = st.UpdateAccount(ctx, cur, cur.Version, &api.Survey{ID: "ghost", Status: "active"})
	assert.ErrorIs(t, err, api.ErrNotFound)
	after, err := st.GetAccount(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, 0, after.SCPOwned)
	assert.Equal(t, cur.Version, after.Version)
}

func TestSQLStoreAccountsAndRank(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	for id, rep := range map[string]int{"a": 9, "b": 5, "c": 5, "d": 1} {
		require.NoError(t, st.EnsureAccount(ctx, id))
		acct, err := st.GetAccount(ctx, id)
		require.NoError(t, err)
		acct.TotalReputation = rep
		require.NoError(t, st.UpdateAccount(ctx, acct, acct.Version, nil))
	}
	all, err := st.ListAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "a", all[0].RespondentID)

	above, err := st.CountAccountsAbove(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, above)

	_, err = st.GetAccount(ctx, "zed")
	assert.ErrorIs(t, err, api.ErrNotFound)
}

func TestSQLStoreAnswersAndListing(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedResponse(t, st, "r1", "alice")
	seedResponse(t, st, "r2", "bob")

	now := time.Now().UTC()
	require.NoError(t, st.UpsertAnswer(ctx, &api.Answer{ResponseID: "r1", QuestionID: "q2", Value: "no", AnsweredAt: now}, 1))
	require.NoError(t, st.UpsertAnswer(ctx, &api.Answer{ResponseID: "r1", QuestionID: "q1", Value: "yes", AnsweredAt: now}, 1))
	require.NoError(t, st.UpsertAnswer(ctx, &api.Answer{ResponseID: "r1", QuestionID: "q2", Value: "maybe", AnsweredAt: now}, 1))
	assert.ErrorIs(t, st.UpsertAnswer(ctx, &api.Answer{ResponseID: "ghost", QuestionID: "q1", AnsweredAt: now}, 1), api.ErrNotFound)

	answers, err := st.ListAnswers(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, answers, 2)
	assert.Equal(t, "q1", answers[0].QuestionID)
	assert.Equal(t, "maybe", answers[1].Value)

	inProgress, err := st.ListResponsesBySurvey(ctx, "s1", "in_progress")
	require.NoError(t, err)
	assert.Len(t, inProgress, 2)
	none, err := st.ListResponsesBySurvey(ctx, "s1", "accepted")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLStoreAuditNewestFirst(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, st.AddAudit(ctx, api.AuditEntry{Time: base, Actor: "c1", Action: "accept", Target: "r1"}))
	require.NoError(t, st.AddAudit(ctx, api.AuditEntry{Time: base.Add(time.Second), Actor: "c1", Action: "reject", Target: "r2", Note: "spam"}))

	entries, err := st.ListAudit(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "reject", entries[0].Action)
	assert.Equal(t, "spam", entries[0].Note)

	one, err := st.ListAudit(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, one, 1)
}

func TestSQLStoreAnswerAfterCompletionConflicts(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	r := seedResponse(t, st, "r1", "alice")
	now := time.Now().UTC()
	require.NoError(t, st.UpsertAnswer(ctx, &api.Answer{ResponseID: "r1", QuestionID: "q1", Value: "yes", AnsweredAt: now}, 1))

	done := *r
	done.IsComplete = true
	done.CompletedAt = &now
	done.Status = "pending"
	require.NoError(t, st.UpdateResponse(ctx, &done, 1, api.CounterDelta{Completed: 1}))

	err := st.UpsertAnswer(ctx, &api.Answer{ResponseID: "r1", QuestionID: "q1", Value: "late", AnsweredAt: now}, 1)
	assert.ErrorIs(t, err, api.ErrVersionConflict)
	answers, err := st.ListAnswers(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.Equal(t, "yes", answers[0].Value)
}

func TestImportSnapshotIntoSQL(t *testing.T) {
	ctx := context.Background()
	mem := api.NewMemoryStore()
	require.NoError(t, mem.AddSurvey(ctx, &api.Survey{ID: "s1", CreatorID: "c1", Type: "academia", Status: "active", RewardAmount: "0"}))
	resp := &api.Response{ID: "r1", SurveyID: "s1", RespondentID: "alice", StartedAt: time.Now().UTC(), Status: "in_progress"}
	require.NoError(t, mem.AddResponse(ctx, resp))
	require.NoError(t, mem.UpsertAnswer(ctx, &api.Answer{ResponseID: "r1", QuestionID: "q1", Value: "3", AnsweredAt: time.Now().UTC()}, resp.Version))
	resp.IsComplete, resp.Status = true, "pending"
	require.NoError(t, mem.UpdateResponse(ctx, resp, resp.Version, api.CounterDelta{}))
	require.NoError(t, mem.EnsureAccount(ctx, "alice"))
	acct, err := mem.GetAccount(ctx, "alice")
	require.NoError(t, err)
	acct.ResponsesAccepted = 120
	acct.TotalReputation = 40
	acct.CommerceRewardsEarned = "3.25"
	require.NoError(t, mem.UpdateAccount(ctx, acct, acct.Version, nil))
	require.NoError(t, mem.AddAudit(ctx, api.AuditEntry{Time: time.Now().UTC(), Actor: "system", Action: "seed", Target: "s1"}))

	st := newTestStore(t)
	require.NoError(t, api.ImportSnapshot(ctx, api.MemoryStoreSnapshot(mem), st))

	got, err := st.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 120, got.ResponsesAccepted)
	assert.Equal(t, 40, got.TotalReputation)
	assert.Equal(t, "3.25", got.CommerceRewardsEarned)

	answers, err := st.ListAnswers(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, answers, 1)
	imported, err := st.GetResponse(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, imported.IsComplete)
	assert.Equal(t, int64(2), imported.Version)

	audit, err := st.ListAudit(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, audit, 1)
}
