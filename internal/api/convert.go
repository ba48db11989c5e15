package api

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/soaringjerry/surveyledger/internal/services"
)

const statusInProgress = "in_progress"

// serviceErr maps raw store errors onto the service taxonomy.
func serviceErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return services.NewNotFoundError(op + ": not found")
	case errors.Is(err, ErrVersionConflict):
		return services.NewConcurrentModificationError(op, err)
	case errors.Is(err, ErrAlreadyExists):
		return services.NewAlreadyExistsError(op+": already exists", err)
	}
	if _, ok := services.AsServiceError(err); ok {
		return err
	}
	return services.NewStoreUnavailableError(op, err)
}

func parseDecimal(v string) (decimal.Decimal, error) {
	if v == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(v)
}

func toServiceSurvey(sv *Survey) (*services.Survey, error) {
	reward, err := parseDecimal(sv.RewardAmount)
	if err != nil {
		return nil, fmt.Errorf("survey %s reward_amount: %w", sv.ID, err)
	}
	return &services.Survey{
		ID:             sv.ID,
		CreatorID:      sv.CreatorID,
		Type:           services.SurveyType(sv.Type),
		MinRespondents: sv.MinRespondents,
		MaxRespondents: sv.MaxRespondents,
		RewardAmount:   reward,
		Status:         services.SurveyStatus(sv.Status),
	}, nil
}

func fromServiceSurvey(sv *services.Survey) *Survey {
	return &Survey{
		ID:             sv.ID,
		CreatorID:      sv.CreatorID,
		Type:           string(sv.Type),
		MinRespondents: sv.MinRespondents,
		MaxRespondents: sv.MaxRespondents,
		RewardAmount:   sv.RewardAmount.String(),
		Status:         string(sv.Status),
	}
}

func toServiceResponse(r *Response) (*services.Response, error) {
	var st services.Status
	if r.Status != "" && r.Status != statusInProgress {
		parsed, err := services.ParseStatus(r.Status)
		if err != nil {
			return nil, fmt.Errorf("response %s: %w", r.ID, err)
		}
		st = parsed
	}
	return &services.Response{
		ID:              r.ID,
		SurveyID:        r.SurveyID,
		RespondentID:    r.RespondentID,
		StartedAt:       r.StartedAt,
		CompletedAt:     r.CompletedAt,
		IsComplete:      r.IsComplete,
		Status:          st,
		RejectionReason: r.RejectionReason,
		ReviewedBy:      r.ReviewedBy,
		ReviewedAt:      r.ReviewedAt,
		Version:         r.Version,
	}, nil
}

func fromServiceResponse(r *services.Response) *Response {
	return &Response{
		ID:              r.ID,
		SurveyID:        r.SurveyID,
		RespondentID:    r.RespondentID,
		StartedAt:       r.StartedAt,
		CompletedAt:     r.CompletedAt,
		IsComplete:      r.IsComplete,
		Status:          r.Status.String(),
		RejectionReason: r.RejectionReason,
		ReviewedBy:      r.ReviewedBy,
		ReviewedAt:      r.ReviewedAt,
		Version:         r.Version,
	}
}

func toServiceAccount(a *Account) (*services.Account, error) {
	earned, err := parseDecimal(a.CommerceRewardsEarned)
	if err != nil {
		return nil, fmt.Errorf("account %s earned: %w", a.RespondentID, err)
	}
	claimed, err := parseDecimal(a.CommerceRewardsClaimed)
	if err != nil {
		return nil, fmt.Errorf("account %s claimed: %w", a.RespondentID, err)
	}
	return &services.Account{
		RespondentID:           a.RespondentID,
		ResponsesAccepted:      a.ResponsesAccepted,
		ResponsesRejected:      a.ResponsesRejected,
		TotalReputation:        a.TotalReputation,
		SurveysCreated:         a.SurveysCreated,
		SurveysCompleted:       a.SurveysCompleted,
		SCPOwned:               a.SCPOwned,
		CommerceRewardsEarned:  earned,
		CommerceRewardsClaimed: claimed,
		Version:                a.Version,
	}, nil
}

func fromServiceAccount(a *services.Account) *Account {
	return &Account{
		RespondentID:           a.RespondentID,
		ResponsesAccepted:      a.ResponsesAccepted,
		ResponsesRejected:      a.ResponsesRejected,
		TotalReputation:        a.TotalReputation,
		SurveysCreated:         a.SurveysCreated,
		SurveysCompleted:       a.SurveysCompleted,
		SCPOwned:               a.SCPOwned,
		CommerceRewardsEarned:  a.CommerceRewardsEarned.String(),
		CommerceRewardsClaimed: a.CommerceRewardsClaimed.String(),
		Version:                a.Version,
	}
}

func toCounterDelta(d services.AccountDelta) CounterDelta {
	return CounterDelta{
		Accepted:   d.ResponsesAccepted,
		Rejected:   d.ResponsesRejected,
		Reputation: d.TotalReputation,
		Completed:  d.SurveysCompleted,
	}
}

func toAuditEntry(e services.AuditEntry) AuditEntry {
	return AuditEntry{Time: e.Time, Actor: e.Actor, Action: e.Action, Target: e.Target, Note: e.Note}
}
