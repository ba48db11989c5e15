package api

import (
	"context"
	"errors"
	"log/slog"

	"github.com/soaringjerry/surveyledger/internal/services"
)

type economyStoreAdapter struct {
	store  Store
	logger *slog.Logger
}

func newEconomyStoreAdapter(store Store, logger *slog.Logger) services.EconomyStore {
	return &economyStoreAdapter{store: store, logger: logger}
}

var _ services.EconomyStore = (*economyStoreAdapter)(nil)

func (a *economyStoreAdapter) GetAccount(ctx context.Context, respondentID string) (*services.Account, error) {
	return getAccount(ctx, a.store, respondentID)
}

func getAccount(ctx context.Context, store Store, respondentID string) (*services.Account, error) {
	acct, err := store.GetAccount(ctx, respondentID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, serviceErr("get account", err)
	}
	out, err := toServiceAccount(acct)
	if err != nil {
		return nil, serviceErr("get account", err)
	}
	return out, nil
}

func (a *economyStoreAdapter) EnsureAccount(ctx context.Context, respondentID string) error {
	return serviceErr("ensure account", a.store.EnsureAccount(ctx, respondentID))
}

func (a *economyStoreAdapter) CommitAccount(ctx context.Context, m services.AccountMutation) error {
	var sv *Survey
	if m.Survey != nil {
		sv = fromServiceSurvey(m.Survey)
	}
	row := fromServiceAccount(m.Account)
	if err := a.store.UpdateAccount(ctx, row, m.ExpectedVersion, sv); err != nil {
		return serviceErr("account "+m.Account.RespondentID, err)
	}
	m.Account.Version = row.Version
	return nil
}

func (a *economyStoreAdapter) GetSurvey(ctx context.Context, id string) (*services.Survey, error) {
	return getSurvey(ctx, a.store, id)
}

func (a *economyStoreAdapter) InsertSurvey(ctx context.Context, sv *services.Survey) error {
	return serviceErr("insert survey", a.store.AddSurvey(ctx, fromServiceSurvey(sv)))
}

func (a *economyStoreAdapter) AddAudit(entry services.AuditEntry) {
	addAudit(a.store, a.logger, entry)
}
