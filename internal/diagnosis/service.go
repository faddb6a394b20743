// Package diagnosis turns a symptom description into a structured diagnosis:
// it rate limits the caller, assembles context, calls the completion
// provider, extracts the result and records the exchange.
package diagnosis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/carhelperai/carhelper/internal/cache"
	"github.com/carhelperai/carhelper/internal/ratelimit"
	"github.com/carhelperai/carhelper/internal/store"
	"github.com/carhelperai/carhelper/pkg/models"
	"github.com/google/uuid"
)

var (
	ErrUnauthenticated      = errors.New("authentication required")
	ErrInvalidInput         = errors.New("invalid input")
	ErrConversationNotFound = errors.New("conversation not found")
)

const completedMessage = "Diagnosis completed successfully"

// RateLimitedError is returned when the caller's budget is exhausted.
type RateLimitedError struct {
	Decision ratelimit.Decision
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry in %s", e.Decision.RetryAfter.Round(time.Second))
}

// ModelError wraps a failed completion call. It still carries a renderable
// diagnosis and the conversation the user message was recorded in.
type ModelError struct {
	Err            error
	Diagnosis      models.Diagnosis
	ConversationID uuid.UUID
}

func (e *ModelError) Error() string { return "model call failed: " + e.Err.Error() }
func (e *ModelError) Unwrap() error { return e.Err }

// Degradation records a step that failed without failing the request.
type Degradation struct {
	Step   string `json:"step"`
	Reason string `json:"reason"`
}

type Input struct {
	// ClientID identifies the network client for rate limiting.
	ClientID string
	// Caller is nil when the request carried no valid session.
	Caller  *models.User
	Request models.DiagnosisRequest
}

type Result struct {
	Diagnosis      models.Diagnosis
	ConversationID uuid.UUID
	Message        string
	Extraction     ExtractionKind
	TokensUsed     int
	Degradations   []Degradation
}

func (r *Result) degrade(step string, err error, attrs ...any) {
	r.Degradations = append(r.Degradations, Degradation{Step: step, Reason: err.Error()})
	slog.Warn("diagnosis step degraded", append([]any{"step", step, "error", err}, attrs...)...)
}

// Store is the subset of store.Store the orchestrator writes to.
type Store interface {
	GetVehicle(ctx context.Context, id, userID uuid.UUID) (*models.Vehicle, error)
	CreateConversation(ctx context.Context, c *models.Conversation) error
	GetConversation(ctx context.Context, id, userID uuid.UUID) (*models.Conversation, error)
	AppendMessage(ctx context.Context, m *models.Message) error
	CreateDiagnosis(ctx context.Context, d *models.DiagnosisRecord) error
	IncrementUsage(ctx context.Context, userID uuid.UUID, day time.Time, diagnoses, tokens int) error
}

type Limiter interface {
	Allow(ctx context.Context, key string) (ratelimit.Decision, error)
}

type Config struct {
	// Timeout bounds the model call.
	Timeout time.Duration
	// StoreTimeout bounds each group of store writes, before and after the
	// model call.
	StoreTimeout time.Duration
	MaxTokens    int
	Temperature  float64
}

// Service runs the diagnosis pipeline. A nil provider means no model is
// configured and every valid request gets the unavailable placeholder.
type Service struct {
	provider models.CompletionProvider
	store    Store
	limiter  Limiter
	cache    cache.Cache
	cfg      Config
	now      func() time.Time
}

func NewService(provider models.CompletionProvider, st Store, limiter Limiter, cfg Config) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 10 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2000
	}
	return &Service{provider: provider, store: st, limiter: limiter, cfg: cfg, now: time.Now}
}

// WithCache lets the service drop cached usage totals after recording usage.
func (s *Service) WithCache(c cache.Cache) *Service {
	s.cache = c
	return s
}

// Diagnose runs the pipeline. Steps run strictly in order; anything that
// fails before the model call aborts without side effects. Once a request is
// admitted it runs to completion even if the caller goes away: every store
// write and the model call use a context detached from ctx and bounded by
// their own timeouts.
func (s *Service) Diagnose(ctx context.Context, in Input) (*Result, error) {
	if err := s.checkRateLimit(ctx, in.ClientID); err != nil {
		return nil, err
	}
	if in.Caller == nil {
		return nil, ErrUnauthenticated
	}

	req := in.Request
	if strings.TrimSpace(req.Message) == "" {
		return nil, fmt.Errorf("%w: message is required", ErrInvalidInput)
	}
	var convID uuid.UUID
	if req.ConversationID != "" {
		id, err := uuid.Parse(req.ConversationID)
		if err != nil {
			return nil, fmt.Errorf("%w: conversationId is not a valid id", ErrInvalidInput)
		}
		convID = id
	}

	if s.provider == nil {
		return &Result{
			Diagnosis:  UnavailableDiagnosis(),
			Message:    "AI diagnostics are currently unavailable",
			Extraction: Fallback,
		}, nil
	}

	work := context.WithoutCancel(ctx)
	res := &Result{Message: completedMessage}
	caller := in.Caller
	skill := resolveSkill(caller.SkillLevel, req.SkillLevel)

	prepCtx, cancelPrep := context.WithTimeout(work, s.cfg.StoreTimeout)
	defer cancelPrep()
	vehicle := s.resolveVehicle(prepCtx, res, caller.ID, req.VehicleID)

	conv, err := s.bindConversation(prepCtx, caller.ID, convID, req.Message, vehicle)
	if err != nil {
		return nil, err
	}
	res.ConversationID = conv.ID

	userMsg := &models.Message{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		Role:           models.RoleUser,
		Content:        models.MessageContent{Text: req.Message, OBDCode: req.OBDCode, VehicleID: req.VehicleID},
		CreatedAt:      s.now().UTC(),
	}
	userSaved := true
	if err := s.store.AppendMessage(prepCtx, userMsg); err != nil {
		userSaved = false
		res.degrade("user_message", err, "conversation_id", conv.ID)
	}
	cancelPrep()

	completion := models.CompletionRequest{
		SystemPrompt: systemPrompt,
		Turns: BuildTurns(PromptContext{
			SkillLevel: skill,
			Vehicle:    vehicle,
			OBDCode:    req.OBDCode,
			Message:    req.Message,
			History:    req.ConversationHistory,
		}),
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: s.cfg.Temperature,
	}

	callCtx, cancel := context.WithTimeout(work, s.cfg.Timeout)
	defer cancel()
	start := s.now()
	resp, err := s.provider.Complete(callCtx, completion)
	if err != nil {
		slog.Error("completion failed",
			"provider", s.provider.Name(),
			"user_id", caller.ID,
			"conversation_id", conv.ID,
			"duration_ms", s.now().Sub(start).Milliseconds(),
			"error", err,
		)
		return nil, &ModelError{Err: err, Diagnosis: FailedDiagnosis(userSaved), ConversationID: conv.ID}
	}

	ext := Extract(resp.Text)
	res.Diagnosis = ext.Diagnosis
	res.Extraction = ext.Kind
	res.TokensUsed = resp.TokensUsed
	if ext.Kind == Fallback {
		res.degrade("extraction", errors.New(ext.Reason), "conversation_id", conv.ID)
	}

	slog.Info("diagnosis completed",
		"provider", s.provider.Name(),
		"model", resp.Model,
		"user_id", caller.ID,
		"conversation_id", conv.ID,
		"extraction", ext.Kind.String(),
		"severity", res.Diagnosis.Severity,
		"tokens", resp.TokensUsed,
		"duration_ms", s.now().Sub(start).Milliseconds(),
	)

	persistCtx, cancelPersist := context.WithTimeout(work, s.cfg.StoreTimeout)
	defer cancelPersist()
	s.persist(persistCtx, res, caller.ID, conv.ID, req.OBDCode)
	return res, nil
}

func (s *Service) checkRateLimit(ctx context.Context, clientID string) error {
	if s.limiter == nil {
		return nil
	}
	d, err := s.limiter.Allow(ctx, clientID)
	if err != nil {
		// On store error, allow the request (fail open)
		slog.Error("rate limiter unavailable", "client", clientID, "error", err)
		return nil
	}
	if !d.Allowed {
		return &RateLimitedError{Decision: d}
	}
	return nil
}

// resolveSkill prefers the stored profile, then the request, then beginner.
func resolveSkill(stored, requested string) string {
	if models.ValidSkillLevel(stored) {
		return stored
	}
	if models.ValidSkillLevel(requested) {
		return requested
	}
	return models.SkillBeginner
}

func (s *Service) resolveVehicle(ctx context.Context, res *Result, userID uuid.UUID, rawID string) *models.Vehicle {
	if rawID == "" {
		return nil
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		res.degrade("vehicle", fmt.Errorf("malformed vehicle id %q", rawID), "user_id", userID)
		return nil
	}
	v, err := s.store.GetVehicle(ctx, id, userID)
	if errors.Is(err, store.ErrNotFound) {
		res.Degradations = append(res.Degradations, Degradation{Step: "vehicle", Reason: "vehicle not found for caller"})
		slog.Warn("vehicle reference not owned by caller or unknown", "user_id", userID, "vehicle_id", id)
		return nil
	}
	if err != nil {
		res.degrade("vehicle", err, "user_id", userID, "vehicle_id", id)
		return nil
	}
	return v
}

func (s *Service) bindConversation(ctx context.Context, userID, convID uuid.UUID, message string, vehicle *models.Vehicle) (*models.Conversation, error) {
	if convID != uuid.Nil {
		conv, err := s.store.GetConversation(ctx, convID, userID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("load conversation: %w", err)
		}
		return conv, nil
	}

	conv := &models.Conversation{
		ID:        uuid.New(),
		UserID:    userID,
		Title:     conversationTitle(message),
		CreatedAt: s.now().UTC(),
	}
	if vehicle != nil {
		conv.VehicleID = &vehicle.ID
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// persist records the assistant turn, the history row and usage. Each write
// is independent; failures only degrade the result.
func (s *Service) persist(ctx context.Context, res *Result, userID, convID uuid.UUID, obdCode string) {
	now := s.now().UTC()
	d := res.Diagnosis

	assistant := &models.Message{
		ID:             uuid.New(),
		ConversationID: convID,
		Role:           models.RoleAssistant,
		Content:        models.MessageContent{Text: d.Summary, Diagnosis: &d},
		CreatedAt:      now,
	}
	if err := s.store.AppendMessage(ctx, assistant); err != nil {
		res.degrade("assistant_message", err, "conversation_id", convID)
	}

	record := &models.DiagnosisRecord{
		ID:             uuid.New(),
		ConversationID: convID,
		Summary:        d.Summary,
		Severity:       d.Severity,
		Confidence:     d.Confidence,
		Data:           d,
		CreatedAt:      now,
	}
	if code := strings.ToUpper(strings.TrimSpace(obdCode)); code != "" {
		record.OBDCode = &code
	}
	if err := s.store.CreateDiagnosis(ctx, record); err != nil {
		res.degrade("diagnosis_record", err, "conversation_id", convID)
	}

	if err := s.store.IncrementUsage(ctx, userID, now, 1, res.TokensUsed); err != nil {
		res.degrade("usage", err, "user_id", userID)
		return
	}
	if s.cache != nil {
		if err := cache.BumpUsageGeneration(ctx, s.cache, userID); err != nil {
			slog.Warn("usage cache invalidation failed", "user_id", userID, "error", err)
		}
	}
}

// UnavailableDiagnosis is served when no completion provider is configured.
func UnavailableDiagnosis() models.Diagnosis {
	d := emptyDiagnosis()
	d.Summary = "AI diagnostics are currently unavailable. Please check back later or contact support."
	d.Severity = models.SeverityLow
	d.Estimates.Notes = "AI service temporarily unavailable"
	d.WhatToDoNext = []string{"Contact support for assistance"}
	return d
}

// FailedDiagnosis accompanies a failed model call so the client can still
// render a result. saved reports whether the user's message was recorded.
func FailedDiagnosis(saved bool) models.Diagnosis {
	d := emptyDiagnosis()
	d.Summary = "We couldn't complete the diagnosis right now. Please try again in a moment."
	if saved {
		d.Summary = "We couldn't complete the diagnosis right now. Your message was saved; please try again in a moment."
	}
	d.Severity = models.SeverityLow
	d.FollowUpNeeded = true
	d.Estimates.Notes = "AI service temporarily unavailable"
	d.WhatToDoNext = []string{"Try again in a few moments"}
	return d
}
