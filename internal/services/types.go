package services

import (
	"time"

	"github.com/shopspring/decimal"
)

// Response is one respondent's attempt at one survey.
type Response struct {
	ID              string     `json:"id"`
	SurveyID        string     `json:"survey_id"`
	RespondentID    string     `json:"respondent_id"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	IsComplete      bool       `json:"is_complete"`
	Status          Status     `json:"status"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
	ReviewedBy      string     `json:"reviewed_by,omitempty"`
	ReviewedAt      *time.Time `json:"reviewed_at,omitempty"`
	Version         int64      `json:"version"`
}

// Answer is the value given to one question of a response.
type Answer struct {
	ResponseID string    `json:"response_id"`
	QuestionID string    `json:"question_id"`
	Value      string    `json:"value"`
	AnsweredAt time.Time `json:"answered_at"`
}

// Account holds the aggregate counters of a respondent. Only the ledger writes it.
type Account struct {
	RespondentID           string          `json:"respondent_id"`
	ResponsesAccepted      int             `json:"responses_accepted"`
	ResponsesRejected      int             `json:"responses_rejected"`
	TotalReputation        int             `json:"total_reputation"`
	SurveysCreated         int             `json:"surveys_created"`
	SurveysCompleted       int             `json:"surveys_completed"`
	SCPOwned               int             `json:"scp_owned"`
	CommerceRewardsEarned  decimal.Decimal `json:"commerce_rewards_earned"`
	CommerceRewardsClaimed decimal.Decimal `json:"commerce_rewards_claimed"`
	Version                int64           `json:"version"`
}

// AvailableRewards is the unclaimed commerce balance.
func (a *Account) AvailableRewards() decimal.Decimal {
	return a.CommerceRewardsEarned.Sub(a.CommerceRewardsClaimed)
}

type SurveyType string

const (
	SurveyAcademia SurveyType = "academia"
	SurveyCommerce SurveyType = "commerce"
)

type SurveyStatus string

const (
	SurveyDraft  SurveyStatus = "draft"
	SurveyActive SurveyStatus = "active"
	SurveyClosed SurveyStatus = "closed"
)

// Survey carries the fields of an authored survey the ledger needs to read.
type Survey struct {
	ID             string          `json:"id"`
	CreatorID      string          `json:"creator_id"`
	Type           SurveyType      `json:"type"`
	MinRespondents int             `json:"min_respondents"`
	MaxRespondents int             `json:"max_respondents"`
	RewardAmount   decimal.Decimal `json:"reward_amount"`
	Status         SurveyStatus    `json:"status"`
}

type AuditEntry struct {
	Time   time.Time
	Actor  string
	Action string
	Target string
	Note   string
}
