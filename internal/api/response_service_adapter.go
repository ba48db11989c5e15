package api

import (
	"context"
	"errors"
	"log/slog"

	"github.com/soaringjerry/surveyledger/internal/services"
)

type responseStoreAdapter struct {
	store  Store
	logger *slog.Logger
}

func newResponseStoreAdapter(store Store, logger *slog.Logger) services.ResponseStore {
	return &responseStoreAdapter{store: store, logger: logger}
}

var _ services.ResponseStore = (*responseStoreAdapter)(nil)

func (a *responseStoreAdapter) GetSurvey(ctx context.Context, id string) (*services.Survey, error) {
	return getSurvey(ctx, a.store, id)
}

func getSurvey(ctx context.Context, store Store, id string) (*services.Survey, error) {
	sv, err := store.GetSurvey(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, serviceErr("get survey", err)
	}
	out, err := toServiceSurvey(sv)
	if err != nil {
		return nil, serviceErr("get survey", err)
	}
	return out, nil
}

func (a *responseStoreAdapter) EnsureAccount(ctx context.Context, respondentID string) error {
	return serviceErr("ensure account", a.store.EnsureAccount(ctx, respondentID))
}

func (a *responseStoreAdapter) InsertResponse(ctx context.Context, r *services.Response) error {
	row := fromServiceResponse(r)
	if err := a.store.AddResponse(ctx, row); err != nil {
		return serviceErr("insert response", err)
	}
	r.Version = row.Version
	return nil
}

func (a *responseStoreAdapter) GetResponse(ctx context.Context, id string) (*services.Response, error) {
	r, err := a.store.GetResponse(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, serviceErr("get response", err)
	}
	out, err := toServiceResponse(r)
	if err != nil {
		return nil, serviceErr("get response", err)
	}
	return out, nil
}

func (a *responseStoreAdapter) ListPendingResponses(ctx context.Context, surveyID string) ([]*services.Response, error) {
	rows, err := a.store.ListResponsesBySurvey(ctx, surveyID, services.StatusPending.String())
	if err != nil {
		return nil, serviceErr("list pending responses", err)
	}
	out := make([]*services.Response, 0, len(rows))
	for _, row := range rows {
		if !row.IsComplete {
			continue
		}
		r, err := toServiceResponse(row)
		if err != nil {
			return nil, serviceErr("list pending responses", err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (a *responseStoreAdapter) UpsertAnswer(ctx context.Context, ans *services.Answer, expectedVersion int64) error {
	return serviceErr("response "+ans.ResponseID, a.store.UpsertAnswer(ctx, &Answer{
		ResponseID: ans.ResponseID,
		QuestionID: ans.QuestionID,
		Value:      ans.Value,
		AnsweredAt: ans.AnsweredAt,
	}, expectedVersion))
}

func (a *responseStoreAdapter) ListAnswers(ctx context.Context, responseID string) ([]*services.Answer, error) {
	rows, err := a.store.ListAnswers(ctx, responseID)
	if err != nil {
		return nil, serviceErr("list answers", err)
	}
	out := make([]*services.Answer, 0, len(rows))
	for _, row := range rows {
		out = append(out, &services.Answer{
			ResponseID: row.ResponseID,
			QuestionID: row.QuestionID,
			Value:      row.Value,
			AnsweredAt: row.AnsweredAt,
		})
	}
	return out, nil
}

func (a *responseStoreAdapter) CommitResponse(ctx context.Context, r *services.Response, expectedVersion int64, delta services.AccountDelta) error {
	row := fromServiceResponse(r)
	if err := a.store.UpdateResponse(ctx, row, expectedVersion, toCounterDelta(delta)); err != nil {
		return serviceErr("response "+r.ID, err)
	}
	r.Version = row.Version
	return nil
}

func (a *responseStoreAdapter) AddAudit(entry services.AuditEntry) {
	addAudit(a.store, a.logger, entry)
}

// addAudit records entry outside the caller's context so a cancelled request
// does not drop the trail of a write that already committed.
func addAudit(store Store, logger *slog.Logger, entry services.AuditEntry) {
	if err := store.AddAudit(context.Background(), toAuditEntry(entry)); err != nil && logger != nil {
		logger.Warn("audit write failed", "component", "api", "action", entry.Action, "target", entry.Target, "error", err)
	}
}
