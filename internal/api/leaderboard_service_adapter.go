package api

import (
	"context"

	"github.com/soaringjerry/surveyledger/internal/services"
)

type leaderboardStoreAdapter struct {
	store Store
}

// NewLeaderboardStore exposes store to the leaderboard service.
func NewLeaderboardStore(store Store) services.LeaderboardStore {
	return &leaderboardStoreAdapter{store: store}
}

var _ services.LeaderboardStore = (*leaderboardStoreAdapter)(nil)

func (a *leaderboardStoreAdapter) GetAccount(ctx context.Context, respondentID string) (*services.Account, error) {
	return getAccount(ctx, a.store, respondentID)
}

func (a *leaderboardStoreAdapter) ListAccounts(ctx context.Context) ([]*services.Account, error) {
	rows, err := a.store.ListAccounts(ctx)
	if err != nil {
		return nil, serviceErr("list accounts", err)
	}
	out := make([]*services.Account, 0, len(rows))
	for _, row := range rows {
		acct, err := toServiceAccount(row)
		if err != nil {
			return nil, serviceErr("list accounts", err)
		}
		out = append(out, acct)
	}
	return out, nil
}

func (a *leaderboardStoreAdapter) CountReputationAbove(ctx context.Context, reputation int) (int, error) {
	n, err := a.store.CountAccountsAbove(ctx, reputation)
	if err != nil {
		return 0, serviceErr("count accounts", err)
	}
	return n, nil
}
