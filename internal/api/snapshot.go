package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Snapshot is the JSON form of an in-memory store, used to persist the memory
// backend between runs and to import it into SQL.
type Snapshot struct {
	Surveys   []*Survey    `json:"surveys"`
	Responses []*Response  `json:"responses"`
	Answers   []*Answer    `json:"answers"`
	Accounts  []*Account   `json:"accounts"`
	Audit     []AuditEntry `json:"audit"`
}

// NewMemoryStoreFromPath loads a snapshot written by SaveSnapshot. A missing
// file yields an empty store together with an error wrapping os.ErrNotExist.
func NewMemoryStoreFromPath(path string) (Store, error) {
	s := newMemoryStore()
	if path == "" {
		return s, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	s.load(&snap)
	return s, nil
}

func (s *memoryStore) load(snap *Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sv := range snap.Surveys {
		if sv != nil {
			s.surveys[sv.ID] = sv
		}
	}
	for _, r := range snap.Responses {
		if r != nil {
			s.responses[r.ID] = r
		}
	}
	for _, a := range snap.Answers {
		if a == nil {
			continue
		}
		if s.answers[a.ResponseID] == nil {
			s.answers[a.ResponseID] = map[string]*Answer{}
		}
		s.answers[a.ResponseID][a.QuestionID] = a
	}
	for _, a := range snap.Accounts {
		if a != nil {
			s.accounts[a.RespondentID] = a
		}
	}
	s.audit = append(s.audit, snap.Audit...)
}

func (s *memoryStore) snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := &Snapshot{Audit: append([]AuditEntry(nil), s.audit...)}
	for _, sv := range s.surveys {
		cp := *sv
		snap.Surveys = append(snap.Surveys, &cp)
	}
	for _, r := range s.responses {
		cp := *r
		snap.Responses = append(snap.Responses, &cp)
	}
	for _, byQuestion := range s.answers {
		for _, a := range byQuestion {
			cp := *a
			snap.Answers = append(snap.Answers, &cp)
		}
	}
	for _, a := range s.accounts {
		cp := *a
		snap.Accounts = append(snap.Accounts, &cp)
	}
	sort.Slice(snap.Surveys, func(i, j int) bool { return snap.Surveys[i].ID < snap.Surveys[j].ID })
	sort.Slice(snap.Responses, func(i, j int) bool { return snap.Responses[i].ID < snap.Responses[j].ID })
	sort.Slice(snap.Accounts, func(i, j int) bool { return snap.Accounts[i].RespondentID < snap.Accounts[j].RespondentID })
	sort.Slice(snap.Answers, func(i, j int) bool {
		if snap.Answers[i].ResponseID != snap.Answers[j].ResponseID {
			return snap.Answers[i].ResponseID < snap.Answers[j].ResponseID
		}
		return snap.Answers[i].QuestionID < snap.Answers[j].QuestionID
	})
	return snap
}

// MemoryStoreSnapshot returns the contents of a store created by this package,
// or nil for any other Store.
func MemoryStoreSnapshot(st Store) *Snapshot {
	if ms, ok := st.(*memoryStore); ok {
		return ms.snapshot()
	}
	return nil
}

// SaveSnapshot writes the memory store to path through a temporary file.
func SaveSnapshot(st Store, path string) error {
	snap := MemoryStoreSnapshot(st)
	if snap == nil || path == "" {
		return nil
	}
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ImportSnapshot copies every row of snap into dst, keeping account counters
// and response statuses as recorded.
func ImportSnapshot(ctx context.Context, snap *Snapshot, dst Store) error {
	if snap == nil {
		return errors.New("nil snapshot")
	}
	for _, sv := range snap.Surveys {
		if err := dst.AddSurvey(ctx, sv); err != nil {
			return fmt.Errorf("import survey %s: %w", sv.ID, err)
		}
	}
	for _, a := range snap.Accounts {
		if err := dst.EnsureAccount(ctx, a.RespondentID); err != nil {
			return fmt.Errorf("import account %s: %w", a.RespondentID, err)
		}
		cur, err := dst.GetAccount(ctx, a.RespondentID)
		if err != nil {
			return fmt.Errorf("import account %s: %w", a.RespondentID, err)
		}
		cp := *a
		if err := dst.UpdateAccount(ctx, &cp, cur.Version, nil); err != nil {
			return fmt.Errorf("import account %s: %w", a.RespondentID, err)
		}
	}
	for _, r := range snap.Responses {
		if err := dst.AddResponse(ctx, r); err != nil {
			return fmt.Errorf("import response %s: %w", r.ID, err)
		}
	}
	versions := make(map[string]int64, len(snap.Responses))
	for _, r := range snap.Responses {
		versions[r.ID] = r.Version
	}
	for _, a := range snap.Answers {
		if err := dst.UpsertAnswer(ctx, a, versions[a.ResponseID]); err != nil {
			return fmt.Errorf("import answer %s/%s: %w", a.ResponseID, a.QuestionID, err)
		}
	}
	for _, e := range snap.Audit {
		if err := dst.AddAudit(ctx, e); err != nil {
			return fmt.Errorf("import audit: %w", err)
		}
	}
	return nil
}
