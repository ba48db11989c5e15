package services

import (
	"context"
	"errors"
	"sync"
)

// stubLedgerStore is a versioned in-memory store shared by the service tests.
type stubLedgerStore struct {
	mu        sync.Mutex
	surveys   map[string]*Survey
	responses map[string]*Response
	answers   map[string]map[string]*Answer
	accounts  map[string]*Account
	audit     []AuditEntry

	// commitHook and answerHook run before a response commit or answer write
	// is checked; tests use them to simulate a concurrent writer.
	commitHook func(id string)
	answerHook func(responseID string)
	failGet    map[string]error
	commits    int
}

func newStubLedgerStore() *stubLedgerStore {
	return &stubLedgerStore{
		surveys:   map[string]*Survey{},
		responses: map[string]*Response{},
		answers:   map[string]map[string]*Answer{},
		accounts:  map[string]*Account{},
		failGet:   map[string]error{},
	}
}

func (s *stubLedgerStore) GetSurvey(_ context.Context, id string) (*Survey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sv, ok := s.surveys[id]; ok {
		cp := *sv
		return &cp, nil
	}
	return nil, nil
}

func (s *stubLedgerStore) InsertSurvey(_ context.Context, sv *Survey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.surveys[sv.ID]; ok {
		return NewAlreadyExistsError("insert survey: already exists", nil)
	}
	cp := *sv
	s.surveys[sv.ID] = &cp
	return nil
}

func (s *stubLedgerStore) EnsureAccount(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[id]; !ok {
		s.accounts[id] = &Account{RespondentID: id, Version: 1}
	}
	return nil
}

func (s *stubLedgerStore) InsertResponse(_ context.Context, r *Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	cp.Version = 1
	r.Version = 1
	s.responses[r.ID] = &cp
	return nil
}

func (s *stubLedgerStore) GetResponse(_ context.Context, id string) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failGet[id]; err != nil {
		return nil, err
	}
	if r, ok := s.responses[id]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, nil
}

func (s *stubLedgerStore) ListPendingResponses(_ context.Context, surveyID string) ([]*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Response
	for _, r := range s.responses {
		if r.SurveyID == surveyID && r.IsComplete && r.Status == StatusPending {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *stubLedgerStore) UpsertAnswer(_ context.Context, a *Answer, expected int64) error {
	if s.answerHook != nil {
		s.answerHook(a.ResponseID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.responses[a.ResponseID]
	if !ok {
		return NewNotFoundError("response not found")
	}
	if cur.Version != expected {
		return NewConcurrentModificationError("response "+a.ResponseID, errors.New("version mismatch"))
	}
	if s.answers[a.ResponseID] == nil {
		s.answers[a.ResponseID] = map[string]*Answer{}
	}
	cp := *a
	s.answers[a.ResponseID][a.QuestionID] = &cp
	return nil
}

func (s *stubLedgerStore) ListAnswers(_ context.Context, responseID string) ([]*Answer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*Answer{}
	for _, a := range s.answers[responseID] {
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (s *stubLedgerStore) CommitResponse(_ context.Context, r *Response, expected int64, delta AccountDelta) error {
	if s.commitHook != nil {
		s.commitHook(r.ID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.responses[r.ID]
	if !ok {
		return NewNotFoundError("response not found")
	}
	if cur.Version != expected {
		return NewConcurrentModificationError("response "+r.ID, errors.New("version mismatch"))
	}
	acct, ok := s.accounts[r.RespondentID]
	if !ok {
		acct = &Account{RespondentID: r.RespondentID}
		s.accounts[r.RespondentID] = acct
	}
	delta.Apply(acct)
	acct.Version++
	cp := *r
	cp.Version = expected + 1
	s.responses[r.ID] = &cp
	s.commits++
	return nil
}

func (s *stubLedgerStore) GetAccount(_ context.Context, id string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[id]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, nil
}

func (s *stubLedgerStore) CommitAccount(_ context.Context, m AccountMutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.accounts[m.Account.RespondentID]
	if !ok {
		return NewNotFoundError("respondent not found")
	}
	if cur.Version != m.ExpectedVersion {
		return NewConcurrentModificationError("account "+cur.RespondentID, errors.New("version mismatch"))
	}
	cp := *m.Account
	cp.Version = m.ExpectedVersion + 1
	s.accounts[cp.RespondentID] = &cp
	if m.Survey != nil {
		sv := *m.Survey
		s.surveys[sv.ID] = &sv
	}
	return nil
}

func (s *stubLedgerStore) ListAccounts(_ context.Context) ([]*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (s *stubLedgerStore) CountReputationAbove(_ context.Context, reputation int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.accounts {
		if a.TotalReputation > reputation {
			n++
		}
	}
	return n, nil
}

func (s *stubLedgerStore) AddAudit(entry AuditEntry) {
	s.mu.Lock()
	s.audit = append(s.audit, entry)
	s.mu.Unlock()
}

func (s *stubLedgerStore) account(id string) Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[id]; ok {
		return *a
	}
	return Account{}
}

func (s *stubLedgerStore) response(id string) Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.responses[id]; ok {
		return *r
	}
	return Response{}
}

// seedComplete stores a complete response directly in the given status.
func (s *stubLedgerStore) seedComplete(id, respondentID string, st Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[id] = &Response{ID: id, SurveyID: "S1", RespondentID: respondentID, IsComplete: true, Status: st, Version: 1}
	if _, ok := s.accounts[respondentID]; !ok {
		s.accounts[respondentID] = &Account{RespondentID: respondentID, Version: 1}
	}
}
