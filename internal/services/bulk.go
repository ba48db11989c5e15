package services

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

const defaultBulkConcurrency = 8

// Transitioner applies a single-item transition. ResponseService satisfies it.
type Transitioner interface {
	Transition(ctx context.Context, req TransitionRequest) (*Response, error)
}

type BulkTransitionRequest struct {
	ResponseIDs []string
	Target      Status
	Reason      string
	ReviewerID  string
}

// BulkFailure reports one id that did not reach the target status.
type BulkFailure struct {
	ID    string    `json:"id"`
	Code  ErrorCode `json:"code"`
	Error string    `json:"error"`
	err   error
}

// Err returns the underlying error for the failed id.
func (f BulkFailure) Err() error { return f.err }

type BulkResult struct {
	Succeeded []string      `json:"succeeded"`
	Failed    []BulkFailure `json:"failed"`
}

// FailedIDs lists the ids a caller may retry.
func (r *BulkResult) FailedIDs() []string {
	out := make([]string, 0, len(r.Failed))
	for _, f := range r.Failed {
		out = append(out, f.ID)
	}
	return out
}

// BulkModerator fans one administrative action out into independent
// single-response transitions and reports the outcome per id.
type BulkModerator struct {
	responses   Transitioner
	logger      *slog.Logger
	concurrency int
}

func NewBulkModerator(responses Transitioner, concurrency int, logger *slog.Logger) *BulkModerator {
	if concurrency <= 0 {
		concurrency = defaultBulkConcurrency
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &BulkModerator{responses: responses, logger: logger, concurrency: concurrency}
}

// BulkTransition attempts every id. Applied transitions are never rolled back;
// the ids under Failed can be resent as they are idempotent per item. Duplicate
// ids are attempted once so no two workers race on the same response.
func (b *BulkModerator) BulkTransition(ctx context.Context, req BulkTransitionRequest) (result *BulkResult, err error) {
	ctx, done := startOp(ctx, "bulk_transition",
		attribute.String("target", req.Target.String()),
		attribute.Int("ids", len(req.ResponseIDs)))
	defer func() { done(err) }()

	if len(req.ResponseIDs) == 0 {
		return nil, NewInvalidError("response_ids required")
	}
	// reject the whole action up front rather than record a reason on some ids only
	if err := validateTransition(TransitionRequest{Target: req.Target, Reason: req.Reason, ReviewerID: req.ReviewerID}); err != nil {
		return nil, err
	}

	ids := dedupe(req.ResponseIDs)
	errs := make([]error, len(ids))

	var g errgroup.Group
	g.SetLimit(b.concurrency)
	for i, id := range ids {
		if strings.TrimSpace(id) == "" {
			errs[i] = NewInvalidError("empty response id")
			continue
		}
		g.Go(func() error {
			if cerr := ctx.Err(); cerr != nil {
				errs[i] = NewStoreUnavailableError("bulk transition cancelled", cerr)
				return nil
			}
			_, errs[i] = b.responses.Transition(ctx, TransitionRequest{
				ResponseID: id,
				Target:     req.Target,
				Reason:     req.Reason,
				ReviewerID: req.ReviewerID,
			})
			return nil
		})
	}
	_ = g.Wait()

	result = &BulkResult{Succeeded: []string{}, Failed: []BulkFailure{}}
	for i, id := range ids {
		if errs[i] == nil {
			result.Succeeded = append(result.Succeeded, id)
			bulkItemsTotal.WithLabelValues(req.Target.String(), "ok").Inc()
			continue
		}
		code := CodeOf(errs[i])
		result.Failed = append(result.Failed, BulkFailure{ID: id, Code: code, Error: errs[i].Error(), err: errs[i]})
		bulkItemsTotal.WithLabelValues(req.Target.String(), string(code)).Inc()
	}
	b.logger.Info("bulk transition finished", "component", "moderation", "target", req.Target.String(),
		"succeeded", len(result.Succeeded), "failed", len(result.Failed), "reviewer", req.ReviewerID)
	return result, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
