package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/soaringjerry/surveyledger/internal/middleware"
	"github.com/soaringjerry/surveyledger/internal/services"
	"github.com/soaringjerry/surveyledger/internal/utils"
)

// RouterOptions configures the services a Router builds over its store.
type RouterOptions struct {
	Limiter          *middleware.RateLimiter
	Logger           *slog.Logger
	PassPrice        int
	MinCommerceShare decimal.Decimal
	BulkConcurrency  int
	ConflictRetries  int
	Metrics          bool
	Commit           string
}

type Router struct {
	store       Store
	responses   *services.ResponseService
	bulk        *services.BulkModerator
	economy     *services.EconomyService
	leaderboard *services.LeaderboardService
	limiter     *middleware.RateLimiter
	logger      *slog.Logger
	validate    *validator.Validate
	metrics     bool
	commit      string
}

func NewRouter(store Store, opts RouterOptions) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	responses := services.NewResponseService(newResponseStoreAdapter(store, logger), logger).WithRetries(opts.ConflictRetries)
	return &Router{
		store:     store,
		responses: responses,
		bulk:      services.NewBulkModerator(responses, opts.BulkConcurrency, logger),
		economy: services.NewEconomyService(newEconomyStoreAdapter(store, logger), services.EconomyOptions{
			PassPrice:        opts.PassPrice,
			MinCommerceShare: opts.MinCommerceShare,
			Retries:          opts.ConflictRetries,
		}, logger),
		leaderboard: services.NewLeaderboardService(NewLeaderboardStore(store)),
		limiter:     opts.Limiter,
		logger:      logger,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		metrics:     opts.Metrics,
		commit:      opts.Commit,
	}
}

// Register mounts every route on mux. Authentication is expected to run in
// front of mux (see middleware.Auth.WithAuth).
func (rt *Router) Register(mux *http.ServeMux) {
	anyone := []string{middleware.RoleRespondent, middleware.RoleSurveyor, middleware.RoleAdmin}
	moderators := []string{middleware.RoleSurveyor, middleware.RoleAdmin}

	mux.HandleFunc("GET /health", rt.handleHealth)
	if rt.metrics {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	// surveys
	rt.route(mux, "POST /api/surveys", rt.handleRegisterSurvey, anyone...)
	rt.route(mux, "POST /api/surveys/{id}/publish", rt.handlePublishSurvey, anyone...)
	rt.route(mux, "GET /api/surveys/estimate", rt.handleEstimate)
	rt.route(mux, "POST /api/surveys/{id}/responses", rt.handleSubmitResponse, anyone...)
	rt.route(mux, "GET /api/surveys/{id}/pending", rt.handleListPending, moderators...)

	// responses
	rt.route(mux, "GET /api/responses/{id}", rt.handleGetResponse, anyone...)
	rt.route(mux, "PUT /api/responses/{id}/answers/{question}", rt.handleRecordAnswer, anyone...)
	rt.route(mux, "GET /api/responses/{id}/answers", rt.handleListAnswers, anyone...)
	rt.route(mux, "POST /api/responses/{id}/complete", rt.handleCompleteResponse, anyone...)
	rt.route(mux, "POST /api/responses/{id}/transition", rt.handleTransition, moderators...)
	rt.route(mux, "POST /api/responses/bulk", rt.handleBulkTransition, moderators...)

	// economy
	rt.route(mux, "POST /api/economy/exchange", rt.handleExchange, anyone...)
	rt.route(mux, "POST /api/economy/spend", rt.handleSpendPass, anyone...)
	rt.route(mux, "POST /api/economy/claim", rt.handleClaim, anyone...)
	rt.route(mux, "POST /api/economy/credit", rt.handleCredit, middleware.RoleAdmin)

	// reputation
	rt.route(mux, "GET /api/accounts/{id}", rt.handleGetAccount, anyone...)
	rt.route(mux, "GET /api/accounts/{id}/stats", rt.handleStats)
	rt.route(mux, "GET /api/leaderboard", rt.handleLeaderboard)
	rt.route(mux, "GET /api/audit", rt.handleAudit, middleware.RoleAdmin)
}

// route applies rate limiting and, when roles are given, authentication.
func (rt *Router) route(mux *http.ServeMux, pattern string, h http.HandlerFunc, roles ...string) {
	if len(roles) > 0 {
		h = middleware.RequireAuth(h, roles...)
	}
	mux.HandleFunc(pattern, rt.limiter.Limit(h))
}

func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	locale := middleware.LocaleFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"name":   "surveyledger",
		"locale": locale,
		"msg":    utils.T(locale, "health.ok"),
		"commit": rt.commit,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(code services.ErrorCode) int {
	switch code {
	case services.ErrorInvalid:
		return http.StatusBadRequest
	case services.ErrorUnauthorized:
		return http.StatusUnauthorized
	case services.ErrorForbidden:
		return http.StatusForbidden
	case services.ErrorNotFound:
		return http.StatusNotFound
	case services.ErrorIllegalTransition, services.ErrorConcurrentModification, services.ErrorAlreadyExists:
		return http.StatusConflict
	case services.ErrorPreconditionFailed:
		return http.StatusPreconditionFailed
	default:
		return http.StatusServiceUnavailable
	}
}

// writeError renders err as {"error": code, "message": text}, translating the
// message when the error carries an i18n key.
func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := services.CodeOf(err)
	msg := err.Error()
	if se, ok := services.AsServiceError(err); ok && se.Key != "" {
		if text, ok := utils.Tf(middleware.LocaleFromContext(r.Context()), se.Key, se.Args...); ok {
			msg = text
		}
	}
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		rt.logger.Error("request failed", "component", "http", "method", r.Method, "path", r.URL.Path, "error", err)
		if se, ok := services.AsServiceError(err); ok {
			msg = se.Message
		}
	}
	writeJSON(w, status, map[string]string{"error": string(code), "message": msg})
}

// decode reads a JSON body into dst and runs its validate tags.
func (rt *Router) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return services.NewInvalidError("request body required")
		}
		return services.NewInvalidError("invalid JSON: " + err.Error())
	}
	if err := rt.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return services.NewInvalidError(strings.ToLower(fe.Field()) + " failed " + fe.Tag() + " check")
		}
		return services.NewInvalidError(err.Error())
	}
	return nil
}

func subject(r *http.Request) (*middleware.Claims, string) {
	c, _ := middleware.ClaimsFromContext(r.Context())
	if c == nil {
		return nil, ""
	}
	return c, c.UID
}

// ownedResponse loads a response the caller may act on: their own, or any
// response for admins.
func (rt *Router) ownedResponse(r *http.Request) (*services.Response, error) {
	resp, err := rt.responses.GetResponse(r.Context(), normalizeID(r.PathValue("id")))
	if err != nil {
		return nil, err
	}
	c, uid := subject(r)
	if c == nil || (c.Role != middleware.RoleAdmin && resp.RespondentID != uid) {
		return nil, services.NewForbiddenError("forbidden")
	}
	return resp, nil
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, services.NewInvalidError(key + " must be an integer")
	}
	return n, nil
}

// --- surveys ---

type registerSurveyRequest struct {
	ID             string `json:"id" validate:"omitempty,max=64"`
	Type           string `json:"type" validate:"required,oneof=academia commerce"`
	MinRespondents int    `json:"min_respondents" validate:"gte=0"`
	MaxRespondents int    `json:"max_respondents" validate:"gte=0"`
	RewardAmount   string `json:"reward_amount" validate:"omitempty,numeric"`
}

// POST /api/surveys
func (rt *Router) handleRegisterSurvey(w http.ResponseWriter, r *http.Request) {
	var req registerSurveyRequest
	if err := rt.decode(w, r, &req); err != nil {
		rt.writeError(w, r, err)
		return
	}
	reward, err := parseDecimal(req.RewardAmount)
	if err != nil {
		rt.writeError(w, r, services.NewInvalidError("reward_amount must be a decimal"))
		return
	}
	_, uid := subject(r)
	sv, err := rt.economy.RegisterSurvey(r.Context(), &services.Survey{
		ID:             normalizeID(req.ID),
		CreatorID:      uid,
		Type:           services.SurveyType(req.Type),
		MinRespondents: req.MinRespondents,
		MaxRespondents: req.MaxRespondents,
		RewardAmount:   reward,
	})
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sv)
}

// POST /api/surveys/{id}/publish
func (rt *Router) handlePublishSurvey(w http.ResponseWriter, r *http.Request) {
	_, uid := subject(r)
	sv, err := rt.economy.PublishSurvey(r.Context(), normalizeID(r.PathValue("id")), uid)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sv)
}

// GET /api/surveys/estimate?reward=..&min=..&max=..
func (rt *Router) handleEstimate(w http.ResponseWriter, r *http.Request) {
	reward, err := decimal.NewFromString(strings.TrimSpace(r.URL.Query().Get("reward")))
	if err != nil {
		rt.writeError(w, r, services.NewInvalidError("reward must be a decimal"))
		return
	}
	lo, err := queryInt(r, "min", 0)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	hi, err := queryInt(r, "max", 0)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	est, err := rt.economy.Estimate(reward, lo, hi)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, est)
}

// POST /api/surveys/{id}/responses
func (rt *Router) handleSubmitResponse(w http.ResponseWriter, r *http.Request) {
	_, uid := subject(r)
	resp, err := rt.responses.SubmitResponse(r.Context(), normalizeID(r.PathValue("id")), uid)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// GET /api/surveys/{id}/pending
func (rt *Router) handleListPending(w http.ResponseWriter, r *http.Request) {
	list, err := rt.responses.ListPending(r.Context(), normalizeID(r.PathValue("id")))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"responses": list})
}

// --- responses ---

func (rt *Router) handleGetResponse(w http.ResponseWriter, r *http.Request) {
	resp, err := rt.ownedResponse(r)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type answerRequest struct {
	Value string `json:"value" validate:"max=10000"`
}

// PUT /api/responses/{id}/answers/{question}
func (rt *Router) handleRecordAnswer(w http.ResponseWriter, r *http.Request) {
	resp, err := rt.ownedResponse(r)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	var req answerRequest
	if err := rt.decode(w, r, &req); err != nil {
		rt.writeError(w, r, err)
		return
	}
	if err := rt.responses.RecordAnswer(r.Context(), resp.ID, normalizeID(r.PathValue("question")), req.Value); err != nil {
		rt.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) handleListAnswers(w http.ResponseWriter, r *http.Request) {
	resp, err := rt.ownedResponse(r)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	answers, err := rt.responses.ListAnswers(r.Context(), resp.ID)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"answers": answers})
}

func (rt *Router) handleCompleteResponse(w http.ResponseWriter, r *http.Request) {
	resp, err := rt.ownedResponse(r)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	done, err := rt.responses.CompleteResponse(r.Context(), resp.ID)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, done)
}

type transitionRequest struct {
	Status string `json:"status" validate:"required,oneof=pending accepted rejected deleted"`
	Reason string `json:"reason" validate:"max=1000"`
}

// POST /api/responses/{id}/transition
func (rt *Router) handleTransition(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := rt.decode(w, r, &req); err != nil {
		rt.writeError(w, r, err)
		return
	}
	target, err := services.ParseStatus(req.Status)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	_, uid := subject(r)
	resp, err := rt.responses.Transition(r.Context(), services.TransitionRequest{
		ResponseID: normalizeID(r.PathValue("id")),
		Target:     target,
		Reason:     req.Reason,
		ReviewerID: uid,
	})
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type bulkRequest struct {
	ResponseIDs []string `json:"response_ids" validate:"required,min=1,max=1000"`
	Status      string   `json:"status" validate:"required,oneof=pending accepted rejected deleted"`
	Reason      string   `json:"reason" validate:"max=1000"`
}

// POST /api/responses/bulk
// Partial success is reported with 200; failed ids can be resent as is.
func (rt *Router) handleBulkTransition(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := rt.decode(w, r, &req); err != nil {
		rt.writeError(w, r, err)
		return
	}
	target, err := services.ParseStatus(req.Status)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	ids := make([]string, len(req.ResponseIDs))
	for i, id := range req.ResponseIDs {
		ids[i] = normalizeID(id)
	}
	_, uid := subject(r)
	res, err := rt.bulk.BulkTransition(r.Context(), services.BulkTransitionRequest{
		ResponseIDs: ids,
		Target:      target,
		Reason:      req.Reason,
		ReviewerID:  uid,
	})
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- economy ---

func (rt *Router) handleExchange(w http.ResponseWriter, r *http.Request) {
	_, uid := subject(r)
	res, err := rt.economy.ExchangeResponsesForPass(r.Context(), uid)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (rt *Router) handleSpendPass(w http.ResponseWriter, r *http.Request) {
	_, uid := subject(r)
	remaining, err := rt.economy.SpendPass(r.Context(), uid)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"scp_owned": remaining})
}

func (rt *Router) handleClaim(w http.ResponseWriter, r *http.Request) {
	_, uid := subject(r)
	claimed, err := rt.economy.ClaimCommerceRewards(r.Context(), uid)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"claimed": claimed.String()})
}

type creditRequest struct {
	RespondentID string `json:"respondent_id" validate:"required,max=128"`
	Amount       string `json:"amount" validate:"required,numeric"`
}

// POST /api/economy/credit (admin)
func (rt *Router) handleCredit(w http.ResponseWriter, r *http.Request) {
	var req creditRequest
	if err := rt.decode(w, r, &req); err != nil {
		rt.writeError(w, r, err)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		rt.writeError(w, r, services.NewInvalidError("amount must be a decimal"))
		return
	}
	acct, err := rt.economy.CreditCommerceReward(r.Context(), normalizeID(req.RespondentID), amount)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accountView(acct))
}

// --- reputation ---

func accountView(a *services.Account) map[string]any {
	return map[string]any{
		"account":           a,
		"available_rewards": a.AvailableRewards().String(),
	}
}

// GET /api/accounts/{id}; "me" resolves to the caller.
func (rt *Router) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	c, uid := subject(r)
	id := normalizeID(r.PathValue("id"))
	if id == "me" {
		id = uid
	}
	if c.Role != middleware.RoleAdmin && id != uid {
		rt.writeError(w, r, services.NewForbiddenError("forbidden"))
		return
	}
	acct, err := rt.economy.GetAccount(r.Context(), id)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accountView(acct))
}

func (rt *Router) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := rt.leaderboard.GetReputationStats(r.Context(), normalizeID(r.PathValue("id")))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GET /api/leaderboard?limit=N; 0 or absent means everyone.
func (rt *Router) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	entries, err := rt.leaderboard.GetLeaderboard(r.Context(), limit)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (rt *Router) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	entries, err := rt.store.ListAudit(r.Context(), limit)
	if err != nil {
		rt.writeError(w, r, serviceErr("list audit", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
