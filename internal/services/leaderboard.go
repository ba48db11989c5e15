package services

import (
	"context"
	"sort"
)

type Tier string

const (
	TierElite      Tier = "Elite"
	TierExpert     Tier = "Expert"
	TierProficient Tier = "Proficient"
	TierDeveloping Tier = "Developing"
	TierNovice     Tier = "Novice"
)

// tierFloors is ordered from the highest floor down.
var tierFloors = []struct {
	min  float64
	tier Tier
}{
	{95, TierElite},
	{85, TierExpert},
	{75, TierProficient},
	{60, TierDeveloping},
}

// AcceptanceRate is accepted / (accepted + rejected) as a percentage, 0 when
// nothing has been decided yet.
func AcceptanceRate(accepted, rejected int) float64 {
	total := accepted + rejected
	if total <= 0 {
		return 0
	}
	return float64(accepted) * 100 / float64(total)
}

// ClassifyTier maps an acceptance rate in [0,100] to a performance tier.
func ClassifyTier(rate float64) Tier {
	for _, f := range tierFloors {
		if rate >= f.min {
			return f.tier
		}
	}
	return TierNovice
}

type LeaderboardEntry struct {
	RespondentID      string  `json:"respondent_id"`
	TotalReputation   int     `json:"total_reputation"`
	ResponsesAccepted int     `json:"responses_accepted"`
	ResponsesRejected int     `json:"responses_rejected"`
	SurveysCreated    int     `json:"surveys_created"`
	AcceptanceRate    float64 `json:"acceptance_rate"`
	Tier              Tier    `json:"tier"`
	Rank              int     `json:"rank"`
}

type ReputationStats struct {
	RespondentID    string  `json:"respondent_id"`
	TotalReputation int     `json:"total_reputation"`
	Rank            int     `json:"rank"`
	Accepted        int     `json:"accepted"`
	Rejected        int     `json:"rejected"`
	SurveysCreated  int     `json:"surveys_created"`
	AcceptanceRate  float64 `json:"acceptance_rate"`
	Tier            Tier    `json:"tier"`
}

// RankAccounts orders accounts by reputation, highest first, breaking ties by
// ascending respondent id. Equal reputations share a rank.
func RankAccounts(accounts []*Account) []LeaderboardEntry {
	sorted := make([]*Account, 0, len(accounts))
	for _, a := range accounts {
		if a != nil {
			sorted = append(sorted, a)
		}
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].TotalReputation != sorted[j].TotalReputation {
			return sorted[i].TotalReputation > sorted[j].TotalReputation
		}
		return sorted[i].RespondentID < sorted[j].RespondentID
	})
	out := make([]LeaderboardEntry, len(sorted))
	for i, a := range sorted {
		rank := i + 1
		if i > 0 && a.TotalReputation == sorted[i-1].TotalReputation {
			rank = out[i-1].Rank
		}
		rate := AcceptanceRate(a.ResponsesAccepted, a.ResponsesRejected)
		out[i] = LeaderboardEntry{
			RespondentID:      a.RespondentID,
			TotalReputation:   a.TotalReputation,
			ResponsesAccepted: a.ResponsesAccepted,
			ResponsesRejected: a.ResponsesRejected,
			SurveysCreated:    a.SurveysCreated,
			AcceptanceRate:    rate,
			Tier:              ClassifyTier(rate),
			Rank:              rank,
		}
	}
	return out
}

type LeaderboardStore interface {
	GetAccount(ctx context.Context, respondentID string) (*Account, error)
	ListAccounts(ctx context.Context) ([]*Account, error)
	CountReputationAbove(ctx context.Context, reputation int) (int, error)
}

// LeaderboardService is a read-only projection over respondent accounts.
type LeaderboardService struct {
	store LeaderboardStore
}

func NewLeaderboardService(store LeaderboardStore) *LeaderboardService {
	return &LeaderboardService{store: store}
}

// GetLeaderboard returns the top limit entries; limit <= 0 returns everyone.
func (s *LeaderboardService) GetLeaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	entries := RankAccounts(accounts)
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *LeaderboardService) GetReputationStats(ctx context.Context, respondentID string) (*ReputationStats, error) {
	if respondentID == "" {
		return nil, NewInvalidError("respondent_id required")
	}
	acct, err := s.store.GetAccount(ctx, respondentID)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, NewNotFoundError("respondent not found")
	}
	above, err := s.store.CountReputationAbove(ctx, acct.TotalReputation)
	if err != nil {
		return nil, err
	}
	rate := AcceptanceRate(acct.ResponsesAccepted, acct.ResponsesRejected)
	return &ReputationStats{
		RespondentID:    acct.RespondentID,
		TotalReputation: acct.TotalReputation,
		Rank:            above + 1,
		Accepted:        acct.ResponsesAccepted,
		Rejected:        acct.ResponsesRejected,
		SurveysCreated:  acct.SurveysCreated,
		AcceptanceRate:  rate,
		Tier:            ClassifyTier(rate),
	}, nil
}
