package services

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// ResponseStore abstracts persistence operations required by ResponseService.
type ResponseStore interface {
	GetSurvey(ctx context.Context, id string) (*Survey, error)
	EnsureAccount(ctx context.Context, respondentID string) error
	InsertResponse(ctx context.Context, r *Response) error
	GetResponse(ctx context.Context, id string) (*Response, error)
	ListPendingResponses(ctx context.Context, surveyID string) ([]*Response, error)
	// UpsertAnswer stores a only if the response still has expectedVersion.
	UpsertAnswer(ctx context.Context, a *Answer, expectedVersion int64) error
	ListAnswers(ctx context.Context, responseID string) ([]*Answer, error)
	// CommitResponse stores r if the stored row still has expectedVersion and
	// applies delta to r.RespondentID's account in the same transaction.
	CommitResponse(ctx context.Context, r *Response, expectedVersion int64, delta AccountDelta) error
	AddAudit(entry AuditEntry)
}

// TransitionRequest asks for one response to move to Target.
type TransitionRequest struct {
	ResponseID string
	Target     Status
	Reason     string
	ReviewerID string
}

// ResponseService hosts the response lifecycle: submission, answers, completion
// and moderation transitions. It is the only path by which transitions reach the
// reputation ledger.
type ResponseService struct {
	store       ResponseStore
	logger      *slog.Logger
	now         func() time.Time
	idGenerator func() string
	retries     int
}

// NewResponseService constructs a service bound to the provided persistence interface.
func NewResponseService(store ResponseStore, logger *slog.Logger) *ResponseService {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &ResponseService{
		store:       store,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
		idGenerator: defaultResponseID,
		retries:     defaultConflictRetries,
	}
}

// WithRetries sets how many times a write lost to a concurrent update is
// attempted before ConcurrentModification is returned.
func (s *ResponseService) WithRetries(n int) *ResponseService {
	if n > 0 {
		s.retries = n
	}
	return s
}

func defaultResponseID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// SubmitResponse opens an in-progress response for respondentID on surveyID.
func (s *ResponseService) SubmitResponse(ctx context.Context, surveyID, respondentID string) (*Response, error) {
	surveyID = strings.TrimSpace(surveyID)
	respondentID = strings.TrimSpace(respondentID)
	if surveyID == "" || respondentID == "" {
		return nil, NewInvalidError("survey_id/respondent_id required")
	}
	sv, err := s.store.GetSurvey(ctx, surveyID)
	if err != nil {
		return nil, err
	}
	if sv == nil {
		return nil, NewNotFoundError("survey not found")
	}
	if sv.Status != SurveyActive {
		return nil, NewPreconditionError("survey.not_active", "survey is not accepting responses")
	}
	if err := s.store.EnsureAccount(ctx, respondentID); err != nil {
		return nil, err
	}
	r := &Response{
		ID:           s.idGenerator(),
		SurveyID:     surveyID,
		RespondentID: respondentID,
		StartedAt:    s.now(),
	}
	if err := s.store.InsertResponse(ctx, r); err != nil {
		return nil, err
	}
	s.logger.Info("response started", "component", "responses", "response_id", r.ID, "survey_id", surveyID, "respondent_id", respondentID)
	return r, nil
}

// RecordAnswer stores or overwrites the answer to questionID. Answers are frozen
// once the response is complete: the write is conditioned on the version read,
// and completion bumps that version.
func (s *ResponseService) RecordAnswer(ctx context.Context, responseID, questionID, value string) error {
	if strings.TrimSpace(responseID) == "" || strings.TrimSpace(questionID) == "" {
		return NewInvalidError("response_id/question_id required")
	}
	return retryConflicts(ctx, s.retries, func() error {
		r, err := s.store.GetResponse(ctx, responseID)
		if err != nil {
			return err
		}
		if r == nil {
			return NewNotFoundError("response not found")
		}
		if r.IsComplete {
			return &ServiceError{Code: ErrorIllegalTransition, Message: "response is already complete", Key: "response.already_complete"}
		}
		return s.store.UpsertAnswer(ctx, &Answer{
			ResponseID: responseID,
			QuestionID: questionID,
			Value:      value,
			AnsweredAt: s.now(),
		}, r.Version)
	})
}

// GetResponse returns one response.
func (s *ResponseService) GetResponse(ctx context.Context, responseID string) (*Response, error) {
	if strings.TrimSpace(responseID) == "" {
		return nil, NewInvalidError("response_id required")
	}
	r, err := s.store.GetResponse(ctx, responseID)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, NewNotFoundError("response not found")
	}
	return r, nil
}

// ListAnswers returns the answers recorded for a response.
func (s *ResponseService) ListAnswers(ctx context.Context, responseID string) ([]*Answer, error) {
	r, err := s.store.GetResponse(ctx, responseID)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, NewNotFoundError("response not found")
	}
	return s.store.ListAnswers(ctx, responseID)
}

// CompleteResponse marks a response complete, putting it in the moderation
// queue as pending. Completing twice is a no-op.
func (s *ResponseService) CompleteResponse(ctx context.Context, responseID string) (resp *Response, err error) {
	ctx, done := startOp(ctx, "complete_response", attribute.String("response_id", responseID))
	defer func() { done(err) }()

	err = retryConflicts(ctx, s.retries, func() error {
		r, err := s.store.GetResponse(ctx, responseID)
		if err != nil {
			return err
		}
		if r == nil {
			return NewNotFoundError("response not found")
		}
		if r.IsComplete {
			resp = r
			return nil
		}
		answers, err := s.store.ListAnswers(ctx, responseID)
		if err != nil {
			return err
		}
		if len(answers) == 0 {
			return NewInvalidError("response has no answers")
		}
		next := *r
		now := s.now()
		next.IsComplete = true
		next.CompletedAt = &now
		next.Status = StatusPending
		if err := s.store.CommitResponse(ctx, &next, r.Version, DeltaFor(0, StatusPending)); err != nil {
			return err
		}
		resp = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("response completed", "component", "responses", "response_id", responseID)
	return resp, nil
}

// ListPending returns the complete responses of surveyID awaiting a decision.
func (s *ResponseService) ListPending(ctx context.Context, surveyID string) ([]*Response, error) {
	if strings.TrimSpace(surveyID) == "" {
		return nil, NewInvalidError("survey_id required")
	}
	return s.store.ListPendingResponses(ctx, surveyID)
}

// validateTransition checks the request shape before anything is read, so a
// malformed rejection is refused as a whole.
func validateTransition(req TransitionRequest) error {
	if !req.Target.Valid() {
		return NewInvalidError("target status must be one of pending, accepted, rejected, deleted")
	}
	if req.Target == StatusRejected {
		if strings.TrimSpace(req.Reason) == "" {
			return &ServiceError{Code: ErrorInvalid, Message: "rejection reason required", Key: "response.reason_required"}
		}
		if strings.TrimSpace(req.ReviewerID) == "" {
			return NewInvalidError("reviewer_id required to reject")
		}
	}
	return nil
}

// Transition moves one response to req.Target and applies the matching ledger
// delta in the same store write. Requesting the current status succeeds without
// changing anything.
func (s *ResponseService) Transition(ctx context.Context, req TransitionRequest) (resp *Response, err error) {
	ctx, done := startOp(ctx, "transition",
		attribute.String("response_id", req.ResponseID),
		attribute.String("target", req.Target.String()))
	defer func() {
		transitionsTotal.WithLabelValues(req.Target.String(), resultLabel(err)).Inc()
		done(err)
	}()

	if strings.TrimSpace(req.ResponseID) == "" {
		return nil, NewInvalidError("response_id required")
	}
	if err := validateTransition(req); err != nil {
		return nil, err
	}

	var (
		from    Status
		applied bool
	)
	err = retryConflicts(ctx, s.retries, func() error {
		r, err := s.store.GetResponse(ctx, req.ResponseID)
		if err != nil {
			return err
		}
		if r == nil {
			return NewNotFoundError("response not found")
		}
		if !r.IsComplete {
			return NewIllegalTransitionError(r.Status, req.Target)
		}
		if r.Status == req.Target {
			resp, applied = r, false
			return nil
		}
		if !CanTransition(r.Status, req.Target) {
			return NewIllegalTransitionError(r.Status, req.Target)
		}
		next := s.nextState(r, req)
		if err := s.store.CommitResponse(ctx, next, r.Version, DeltaFor(r.Status, req.Target)); err != nil {
			return err
		}
		from, resp, applied = r.Status, next, true
		return nil
	})
	if err != nil {
		s.logger.Debug("transition refused", "component", "responses", "response_id", req.ResponseID, "target", req.Target.String(), "error", err)
		return nil, err
	}
	if applied {
		actor := req.ReviewerID
		if actor == "" {
			actor = "system"
		}
		s.store.AddAudit(AuditEntry{Time: s.now(), Actor: actor, Action: "response_" + req.Target.String(), Target: req.ResponseID, Note: req.Reason})
		s.logger.Info("response transitioned", "component", "responses", "response_id", req.ResponseID, "from", from.String(), "to", req.Target.String(), "reviewer", req.ReviewerID)
	}
	return resp, nil
}

// nextState builds the row written for a legal edge. Soft delete and restore
// keep the previous reviewer and reason for auditability.
func (s *ResponseService) nextState(r *Response, req TransitionRequest) *Response {
	next := *r
	next.Status = req.Target
	switch req.Target {
	case StatusAccepted:
		// a reason from an earlier rejection stays in the audit log only
		next.RejectionReason = ""
		if req.ReviewerID != "" {
			now := s.now()
			next.ReviewedBy = req.ReviewerID
			next.ReviewedAt = &now
		}
	case StatusRejected:
		now := s.now()
		next.RejectionReason = strings.TrimSpace(req.Reason)
		next.ReviewedBy = req.ReviewerID
		next.ReviewedAt = &now
	}
	return &next
}
