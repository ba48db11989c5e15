package api

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Store lookups and conditional writes when the
	// addressed row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrVersionConflict is returned by conditional writes when the stored
	// version no longer matches the one the caller read.
	ErrVersionConflict = errors.New("version conflict")
	// ErrAlreadyExists is returned by inserts whose key is already taken.
	ErrAlreadyExists = errors.New("record already exists")
)

// CounterDelta is a signed change to an account's aggregate counters. Counters
// other than Reputation never drop below zero.
type CounterDelta struct {
	Accepted   int
	Rejected   int
	Reputation int
	Completed  int
}

func (d CounterDelta) IsZero() bool { return d == CounterDelta{} }

// Store is the raw record store behind the services. Implementations must make
// UpdateResponse and UpdateAccount atomic: either every row they touch is
// written or none is.
type Store interface {
	// AddSurvey inserts sv and never replaces an existing survey.
	AddSurvey(ctx context.Context, sv *Survey) error
	GetSurvey(ctx context.Context, id string) (*Survey, error)

	AddResponse(ctx context.Context, r *Response) error
	GetResponse(ctx context.Context, id string) (*Response, error)
	ListResponsesBySurvey(ctx context.Context, surveyID, status string) ([]*Response, error)
	// UpdateResponse writes r when the stored version equals expectedVersion,
	// bumps the version and applies delta to r.RespondentID's account.
	UpdateResponse(ctx context.Context, r *Response, expectedVersion int64, delta CounterDelta) error

	// UpsertAnswer writes a only while the response is still at
	// expectedVersion, so an answer cannot land after completion.
	UpsertAnswer(ctx context.Context, a *Answer, expectedVersion int64) error
	ListAnswers(ctx context.Context, responseID string) ([]*Answer, error)

	EnsureAccount(ctx context.Context, respondentID string) error
	GetAccount(ctx context.Context, respondentID string) (*Account, error)
	ListAccounts(ctx context.Context) ([]*Account, error)
	CountAccountsAbove(ctx context.Context, reputation int) (int, error)
	// UpdateAccount writes a when the stored version equals expectedVersion.
	// A non-nil sv is written in the same transaction.
	UpdateAccount(ctx context.Context, a *Account, expectedVersion int64, sv *Survey) error

	AddAudit(ctx context.Context, e AuditEntry) error
	ListAudit(ctx context.Context, limit int) ([]AuditEntry, error)

	Close() error
}

var _ Store = (*memoryStore)(nil)
