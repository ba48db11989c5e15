package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

const (
	// DefaultPassPrice is the number of accepted responses traded for one pass.
	DefaultPassPrice = 100
)

// DefaultMinCommerceShare is the per-respondent share below which a commerce
// reward estimate carries a warning.
var DefaultMinCommerceShare = decimal.RequireFromString("0.10")

// AccountMutation is a conditional account write. Survey, when set, is stored
// in the same transaction.
type AccountMutation struct {
	Account         *Account
	ExpectedVersion int64
	Survey          *Survey
}

// EconomyStore abstracts persistence operations required by EconomyService.
type EconomyStore interface {
	GetAccount(ctx context.Context, respondentID string) (*Account, error)
	EnsureAccount(ctx context.Context, respondentID string) error
	CommitAccount(ctx context.Context, m AccountMutation) error
	GetSurvey(ctx context.Context, id string) (*Survey, error)
	InsertSurvey(ctx context.Context, sv *Survey) error
	AddAudit(entry AuditEntry)
}

type EconomyOptions struct {
	PassPrice        int
	MinCommerceShare decimal.Decimal
	Retries          int
}

// EconomyService runs the creation-pass exchange and the commerce reward pool.
// Every write is conditioned on the account version read, and lost races are
// retried from a fresh read.
type EconomyService struct {
	store    EconomyStore
	logger   *slog.Logger
	now      func() time.Time
	idGen    func() string
	price    int
	minShare decimal.Decimal
	retries  int
}

func NewEconomyService(store EconomyStore, opts EconomyOptions, logger *slog.Logger) *EconomyService {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if opts.PassPrice <= 0 {
		opts.PassPrice = DefaultPassPrice
	}
	if !opts.MinCommerceShare.IsPositive() {
		opts.MinCommerceShare = DefaultMinCommerceShare
	}
	if opts.Retries <= 0 {
		opts.Retries = defaultConflictRetries
	}
	return &EconomyService{
		store:    store,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		idGen:    defaultResponseID,
		price:    opts.PassPrice,
		minShare: opts.MinCommerceShare,
		retries:  opts.Retries,
	}
}

// PassPrice reports how many accepted responses one pass costs.
func (s *EconomyService) PassPrice() int { return s.price }

type ExchangeResult struct {
	NewPassCount      int `json:"new_pass_count"`
	ResponsesAccepted int `json:"responses_accepted"`
}

// mutateAccount reads the account, lets fn build the next state and commits it
// conditioned on the version read.
func (s *EconomyService) mutateAccount(ctx context.Context, respondentID string, fn func(cur *Account) (*AccountMutation, error)) error {
	if strings.TrimSpace(respondentID) == "" {
		return NewInvalidError("respondent_id required")
	}
	return retryConflicts(ctx, s.retries, func() error {
		cur, err := s.store.GetAccount(ctx, respondentID)
		if err != nil {
			return err
		}
		if cur == nil {
			return NewNotFoundError("respondent not found")
		}
		m, err := fn(cur)
		if err != nil {
			return err
		}
		m.ExpectedVersion = cur.Version
		return s.store.CommitAccount(ctx, *m)
	})
}

func (s *EconomyService) finish(op, respondentID string, err error, note string) {
	economyOpsTotal.WithLabelValues(op, resultLabel(err)).Inc()
	if err != nil {
		s.logger.Debug("economy operation refused", "component", "economy", "operation", op, "respondent_id", respondentID, "error", err)
		return
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: respondentID, Action: op, Target: respondentID, Note: note})
	s.logger.Info("economy operation committed", "component", "economy", "operation", op, "respondent_id", respondentID, "note", note)
}

// ExchangeResponsesForPass trades PassPrice accepted responses for one survey
// creation pass.
func (s *EconomyService) ExchangeResponsesForPass(ctx context.Context, respondentID string) (res *ExchangeResult, err error) {
	ctx, done := startOp(ctx, "exchange_pass", attribute.String("respondent_id", respondentID))
	defer func() {
		s.finish("exchange_pass", respondentID, err, "")
		done(err)
	}()

	err = s.mutateAccount(ctx, respondentID, func(cur *Account) (*AccountMutation, error) {
		if cur.ResponsesAccepted < s.price {
			return nil, NewPreconditionError("economy.insufficient_credits",
				fmt.Sprintf("need at least %d accepted responses", s.price), s.price)
		}
		next := *cur
		next.ResponsesAccepted -= s.price
		next.SCPOwned++
		res = &ExchangeResult{NewPassCount: next.SCPOwned, ResponsesAccepted: next.ResponsesAccepted}
		return &AccountMutation{Account: &next}, nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// SpendPass consumes one pass. Survey publication must not proceed when it fails.
func (s *EconomyService) SpendPass(ctx context.Context, respondentID string) (remaining int, err error) {
	ctx, done := startOp(ctx, "spend_pass", attribute.String("respondent_id", respondentID))
	defer func() {
		s.finish("spend_pass", respondentID, err, "")
		done(err)
	}()

	err = s.mutateAccount(ctx, respondentID, func(cur *Account) (*AccountMutation, error) {
		if cur.SCPOwned < 1 {
			return nil, errNoPass()
		}
		next := *cur
		next.SCPOwned--
		remaining = next.SCPOwned
		return &AccountMutation{Account: &next}, nil
	})
	return remaining, err
}

func errNoPass() error {
	return NewPreconditionError("economy.no_pass", "no survey creation pass available")
}

// RegisterSurvey records a draft survey authored elsewhere so it can later be
// published and estimated.
func (s *EconomyService) RegisterSurvey(ctx context.Context, sv *Survey) (*Survey, error) {
	if sv == nil || strings.TrimSpace(sv.CreatorID) == "" {
		return nil, NewInvalidError("creator_id required")
	}
	switch sv.Type {
	case SurveyAcademia:
	case SurveyCommerce:
		if _, err := EstimateCommerceReward(sv.RewardAmount, sv.MinRespondents, sv.MaxRespondents, s.minShare); err != nil {
			return nil, err
		}
	default:
		return nil, NewInvalidError("survey type must be academia or commerce")
	}
	out := *sv
	if out.ID == "" {
		out.ID = s.idGen()
	}
	out.Status = SurveyDraft
	if err := s.store.EnsureAccount(ctx, out.CreatorID); err != nil {
		return nil, err
	}
	if err := s.store.InsertSurvey(ctx, &out); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return nil, &ServiceError{Code: ErrorAlreadyExists, Message: fmt.Sprintf("survey id %q is already taken", out.ID),
				Key: "survey.id_taken", Args: []any{out.ID}, Err: err}
		}
		return nil, err
	}
	s.logger.Info("survey registered", "component", "economy", "survey_id", out.ID, "creator_id", out.CreatorID, "type", string(out.Type))
	return &out, nil
}

// PublishSurvey spends one of the creator's passes and activates the survey in
// the same write. Without a pass the survey stays a draft.
func (s *EconomyService) PublishSurvey(ctx context.Context, surveyID, creatorID string) (published *Survey, err error) {
	ctx, done := startOp(ctx, "publish_survey", attribute.String("survey_id", surveyID))
	defer func() {
		s.finish("publish_survey", creatorID, err, surveyID)
		done(err)
	}()

	err = s.mutateAccount(ctx, creatorID, func(cur *Account) (*AccountMutation, error) {
		sv, err := s.store.GetSurvey(ctx, surveyID)
		if err != nil {
			return nil, err
		}
		if sv == nil {
			return nil, NewNotFoundError("survey not found")
		}
		if sv.CreatorID != cur.RespondentID {
			return nil, NewForbiddenError("forbidden")
		}
		if sv.Status != SurveyDraft {
			return nil, &ServiceError{Code: ErrorIllegalTransition, Message: "survey is not a draft", Key: "survey.not_draft"}
		}
		if cur.SCPOwned < 1 {
			return nil, errNoPass()
		}
		next := *cur
		next.SCPOwned--
		next.SurveysCreated++
		nextSurvey := *sv
		nextSurvey.Status = SurveyActive
		published = &nextSurvey
		return &AccountMutation{Account: &next, Survey: &nextSurvey}, nil
	})
	if err != nil {
		return nil, err
	}
	return published, nil
}

// CreditCommerceReward records an amount earned by a respondent from a commerce
// pool. The distribution itself is decided outside the ledger.
func (s *EconomyService) CreditCommerceReward(ctx context.Context, respondentID string, amount decimal.Decimal) (acct *Account, err error) {
	ctx, done := startOp(ctx, "credit_reward", attribute.String("respondent_id", respondentID))
	defer func() {
		s.finish("credit_reward", respondentID, err, amount.String())
		done(err)
	}()

	if !amount.IsPositive() {
		return nil, NewInvalidError("amount must be positive")
	}
	err = s.mutateAccount(ctx, respondentID, func(cur *Account) (*AccountMutation, error) {
		next := *cur
		next.CommerceRewardsEarned = cur.CommerceRewardsEarned.Add(amount)
		acct = &next
		return &AccountMutation{Account: &next}, nil
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

// ClaimCommerceRewards claims the whole available balance at once.
func (s *EconomyService) ClaimCommerceRewards(ctx context.Context, respondentID string) (claimed decimal.Decimal, err error) {
	ctx, done := startOp(ctx, "claim_rewards", attribute.String("respondent_id", respondentID))
	defer func() {
		s.finish("claim_rewards", respondentID, err, claimed.String())
		done(err)
	}()

	err = s.mutateAccount(ctx, respondentID, func(cur *Account) (*AccountMutation, error) {
		available := cur.AvailableRewards()
		if !available.IsPositive() {
			return nil, NewPreconditionError("economy.nothing_to_claim", "no commerce rewards available to claim")
		}
		next := *cur
		next.CommerceRewardsClaimed = cur.CommerceRewardsEarned
		claimed = available
		return &AccountMutation{Account: &next}, nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return claimed, nil
}

// GetAccount returns the respondent's account as stored.
func (s *EconomyService) GetAccount(ctx context.Context, respondentID string) (*Account, error) {
	acct, err := s.store.GetAccount(ctx, respondentID)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, NewNotFoundError("respondent not found")
	}
	return acct, nil
}

// RewardEstimate is the advisory per-respondent share of a commerce pool.
type RewardEstimate struct {
	BestCase  decimal.Decimal `json:"best_case"`
	WorstCase decimal.Decimal `json:"worst_case"`
	Warning   bool            `json:"warning"`
}

// EstimateCommerceReward splits reward over the respondent range. It never
// blocks publication; Warning flags a worst case below minShare.
func EstimateCommerceReward(reward decimal.Decimal, minRespondents, maxRespondents int, minShare decimal.Decimal) (*RewardEstimate, error) {
	if !reward.IsPositive() {
		return nil, NewInvalidError("reward_amount must be positive")
	}
	if minRespondents < 1 || maxRespondents < minRespondents {
		return nil, NewInvalidError("respondent range must satisfy 1 <= min <= max")
	}
	best := reward.DivRound(decimal.NewFromInt(int64(minRespondents)), 2)
	worst := reward.DivRound(decimal.NewFromInt(int64(maxRespondents)), 2)
	return &RewardEstimate{
		BestCase:  best,
		WorstCase: worst,
		Warning:   reward.Div(decimal.NewFromInt(int64(maxRespondents))).LessThan(minShare),
	}, nil
}

// Estimate runs EstimateCommerceReward with the configured warning threshold.
func (s *EconomyService) Estimate(reward decimal.Decimal, minRespondents, maxRespondents int) (*RewardEstimate, error) {
	return EstimateCommerceReward(reward, minRespondents, maxRespondents, s.minShare)
}
