package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyTierBoundaries(t *testing.T) {
	cases := []struct {
		rate float64
		want Tier
	}{
		{100, TierElite},
		{95, TierElite},
		{94.99, TierExpert},
		{85, TierExpert},
		{84.9, TierProficient},
		{75, TierProficient},
		{74.9, TierDeveloping},
		{60, TierDeveloping},
		{59.9, TierNovice},
		{0, TierNovice},
	}
	for _, tc := range cases {
		if got := ClassifyTier(tc.rate); got != tc.want {
			t.Fatalf("ClassifyTier(%v) = %s, want %s", tc.rate, got, tc.want)
		}
	}
}

func TestClassifyTierIsMonotonic(t *testing.T) {
	order := map[Tier]int{TierNovice: 0, TierDeveloping: 1, TierProficient: 2, TierExpert: 3, TierElite: 4}
	prev := ClassifyTier(0)
	for r := 0.0; r <= 100; r += 0.25 {
		cur := ClassifyTier(r)
		if order[cur] < order[prev] {
			t.Fatalf("tier dropped from %s to %s at rate %v", prev, cur, r)
		}
		prev = cur
	}
}

func TestAcceptanceRate(t *testing.T) {
	assert.Equal(t, 0.0, AcceptanceRate(0, 0))
	assert.Equal(t, 75.0, AcceptanceRate(3, 1))
	assert.Equal(t, 0.0, AcceptanceRate(0, 4))
}

func TestRankAccountsTiesShareRank(t *testing.T) {
	entries := RankAccounts([]*Account{
		{RespondentID: "carol", TotalReputation: 5},
		{RespondentID: "bob", TotalReputation: 9, ResponsesAccepted: 9, ResponsesRejected: 1},
		nil,
		{RespondentID: "alice", TotalReputation: 5},
		{RespondentID: "dave", TotalReputation: 1},
	})
	require.Len(t, entries, 4)

	ids := make([]string, len(entries))
	ranks := make([]int, len(entries))
	for i, e := range entries {
		ids[i] = e.RespondentID
		ranks[i] = e.Rank
	}
	assert.Equal(t, []string{"bob", "alice", "carol", "dave"}, ids)
	assert.Equal(t, []int{1, 2, 2, 4}, ranks)
	assert.Equal(t, TierExpert, entries[0].Tier)
	assert.Equal(t, 90.0, entries[0].AcceptanceRate)

	for i := 1; i < len(entries); i++ {
		if entries[i-1].Rank < entries[i].Rank && entries[i-1].TotalReputation < entries[i].TotalReputation {
			t.Fatalf("ordering violated between %s and %s", entries[i-1].RespondentID, entries[i].RespondentID)
		}
	}
}

func TestLeaderboardService(t *testing.T) {
	ctx := context.Background()
	store := newStubLedgerStore()
	for id, rep := range map[string]int{"P1": 3, "P2": 7, "P3": 3, "P4": 0} {
		store.accounts[id] = &Account{RespondentID: id, TotalReputation: rep, ResponsesAccepted: rep, Version: 1}
	}
	svc := NewLeaderboardService(store)

	top, err := svc.GetLeaderboard(ctx, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "P2", top[0].RespondentID)
	assert.Equal(t, "P1", top[1].RespondentID)

	all, err := svc.GetLeaderboard(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	stats, err := svc.GetReputationStats(ctx, "P3")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Rank)
	assert.Equal(t, 3, stats.TotalReputation)
	assert.Equal(t, TierElite, stats.Tier)

	last, err := svc.GetReputationStats(ctx, "P4")
	require.NoError(t, err)
	assert.Equal(t, 4, last.Rank)
	assert.Equal(t, TierNovice, last.Tier)

	_, err = svc.GetReputationStats(ctx, "ghost")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = svc.GetReputationStats(ctx, "")
	assert.True(t, errors.Is(err, ErrInvalid))
}
