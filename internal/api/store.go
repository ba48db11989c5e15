package api

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

type Survey struct {
	ID             string    `json:"id"`
	CreatorID      string    `json:"creator_id"`
	Type           string    `json:"type"`
	MinRespondents int       `json:"min_respondents"`
	MaxRespondents int       `json:"max_respondents"`
	RewardAmount   string    `json:"reward_amount"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

// Response is one response row. Status is "in_progress" until the response
// is completed.
type Response struct {
	ID              string     `json:"id"`
	SurveyID        string     `json:"survey_id"`
	RespondentID    string     `json:"respondent_id"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	IsComplete      bool       `json:"is_complete"`
	Status          string     `json:"status"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
	ReviewedBy      string     `json:"reviewed_by,omitempty"`
	ReviewedAt      *time.Time `json:"reviewed_at,omitempty"`
	Version         int64      `json:"version"`
}

type Answer struct {
	ResponseID string    `json:"response_id"`
	QuestionID string    `json:"question_id"`
	Value      string    `json:"value"`
	AnsweredAt time.Time `json:"answered_at"`
}

// Account is a respondent account row. Reward balances are decimal strings.
type Account struct {
	RespondentID           string `json:"respondent_id"`
	ResponsesAccepted      int    `json:"responses_accepted"`
	ResponsesRejected      int    `json:"responses_rejected"`
	TotalReputation        int    `json:"total_reputation"`
	SurveysCreated         int    `json:"surveys_created"`
	SurveysCompleted       int    `json:"surveys_completed"`
	SCPOwned               int    `json:"scp_owned"`
	CommerceRewardsEarned  string `json:"commerce_rewards_earned"`
	CommerceRewardsClaimed string `json:"commerce_rewards_claimed"`
	Version                int64  `json:"version"`
}

// audit log
type AuditEntry struct {
	Time   time.Time `json:"time"`
	Actor  string    `json:"actor"`
	Action string    `json:"action"`
	Target string    `json:"target"`
	Note   string    `json:"note,omitempty"`
}

type memoryStore struct {
	mu        sync.RWMutex
	surveys   map[string]*Survey
	responses map[string]*Response
	answers   map[string]map[string]*Answer
	accounts  map[string]*Account
	audit     []AuditEntry
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		surveys:   map[string]*Survey{},
		responses: map[string]*Response{},
		answers:   map[string]map[string]*Answer{},
		accounts:  map[string]*Account{},
		audit:     []AuditEntry{},
	}
}

// NewMemoryStore returns an empty in-process Store.
func NewMemoryStore() Store {
	return newMemoryStore()
}

func newAccount(id string) *Account {
	return &Account{RespondentID: id, CommerceRewardsEarned: "0", CommerceRewardsClaimed: "0", Version: 1}
}

func (s *memoryStore) AddSurvey(_ context.Context, sv *Survey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.surveys[sv.ID]; ok {
		return ErrAlreadyExists
	}
	cp := *sv
	s.surveys[sv.ID] = &cp
	return nil
}

func (s *memoryStore) GetSurvey(_ context.Context, id string) (*Survey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sv, ok := s.surveys[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sv
	return &cp, nil
}

func (s *memoryStore) AddResponse(_ context.Context, r *Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	if cp.Version == 0 {
		cp.Version = 1
	}
	r.Version = cp.Version
	s.responses[r.ID] = &cp
	return nil
}

func (s *memoryStore) GetResponse(_ context.Context, id string) (*Response, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.responses[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *memoryStore) ListResponsesBySurvey(_ context.Context, surveyID, status string) ([]*Response, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*Response{}
	for _, r := range s.responses {
		if r.SurveyID != surveyID || (status != "" && r.Status != status) {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *memoryStore) UpdateResponse(_ context.Context, r *Response, expectedVersion int64, delta CounterDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.responses[r.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != expectedVersion {
		return ErrVersionConflict
	}
	if !delta.IsZero() {
		acct, ok := s.accounts[r.RespondentID]
		if !ok {
			acct = newAccount(r.RespondentID)
			s.accounts[r.RespondentID] = acct
		}
		acct.ResponsesAccepted = floorAdd(acct.ResponsesAccepted, delta.Accepted)
		acct.ResponsesRejected = floorAdd(acct.ResponsesRejected, delta.Rejected)
		acct.SurveysCompleted = floorAdd(acct.SurveysCompleted, delta.Completed)
		acct.TotalReputation += delta.Reputation
		acct.Version++
	}
	cp := *r
	cp.Version = expectedVersion + 1
	s.responses[r.ID] = &cp
	r.Version = cp.Version
	return nil
}

func floorAdd(v, d int) int {
	if v+d < 0 {
		return 0
	}
	return v + d
}

func (s *memoryStore) UpsertAnswer(_ context.Context, a *Answer, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.responses[a.ResponseID]
	if !ok {
		return ErrNotFound
	}
	if r.Version != expectedVersion {
		return ErrVersionConflict
	}
	if s.answers[a.ResponseID] == nil {
		s.answers[a.ResponseID] = map[string]*Answer{}
	}
	cp := *a
	s.answers[a.ResponseID][a.QuestionID] = &cp
	return nil
}

func (s *memoryStore) ListAnswers(_ context.Context, responseID string) ([]*Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Answer, 0, len(s.answers[responseID]))
	for _, a := range s.answers[responseID] {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionID < out[j].QuestionID })
	return out, nil
}

func (s *memoryStore) EnsureAccount(_ context.Context, respondentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[respondentID]; !ok {
		s.accounts[respondentID] = newAccount(respondentID)
	}
	return nil
}

func (s *memoryStore) GetAccount(_ context.Context, respondentID string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[respondentID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *memoryStore) ListAccounts(_ context.Context) ([]*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RespondentID < out[j].RespondentID })
	return out, nil
}

func (s *memoryStore) CountAccountsAbove(_ context.Context, reputation int) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, a := range s.accounts {
		if a.TotalReputation > reputation {
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) UpdateAccount(_ context.Context, a *Account, expectedVersion int64, sv *Survey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.accounts[a.RespondentID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != expectedVersion {
		return ErrVersionConflict
	}
	if sv != nil {
		if _, ok := s.surveys[sv.ID]; !ok {
			return ErrNotFound
		}
		svc := *sv
		s.surveys[sv.ID] = &svc
	}
	cp := *a
	cp.Version = expectedVersion + 1
	s.accounts[a.RespondentID] = &cp
	a.Version = cp.Version
	return nil
}

func (s *memoryStore) AddAudit(_ context.Context, e AuditEntry) error {
	s.mu.Lock()
	s.audit = append(s.audit, e)
	s.mu.Unlock()
	return nil
}

// ListAudit returns the newest entries first; limit <= 0 returns all of them.
func (s *memoryStore) ListAudit(_ context.Context, limit int) ([]AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.audit)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]AuditEntry, 0, n)
	for i := len(s.audit) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.audit[i])
	}
	return out, nil
}

func (s *memoryStore) Close() error { return nil }

// normalizeID trims ids coming from request paths and bodies.
func normalizeID(id string) string {
	return strings.TrimSpace(id)
}
