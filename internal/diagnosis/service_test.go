package diagnosis_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/carhelperai/carhelper/internal/ai"
	"github.com/carhelperai/carhelper/internal/ai/mock"
	"github.com/carhelperai/carhelper/internal/cache"
	"github.com/carhelperai/carhelper/internal/diagnosis"
	"github.com/carhelperai/carhelper/internal/ratelimit"
	"github.com/carhelperai/carhelper/internal/store"
	"github.com/carhelperai/carhelper/pkg/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const modelReply = `The battery is the most likely culprit.
{"summary": "Weak battery", "severity": "medium", "confidence": 80,
 "likelyCauses": [{"cause": "Battery", "probability": 70}, {"cause": "Starter", "probability": 30}],
 "diySteps": [{"step": "Test voltage", "tools": ["Multimeter"], "timeMin": 10, "difficulty": "easy"}],
 "followUpNeeded": false}`

// countingStore wraps the memory store, counts calls and can fail chosen writes.
type countingStore struct {
	*store.MemoryStore
	calls        atomic.Int64
	failDiag     bool
	failUsage    bool
	failAppend   bool
	failCreateCv bool
	// honorCtx rejects calls on a finished context, the way pgx does.
	honorCtx bool
}

func (c *countingStore) enter(ctx context.Context) error {
	c.calls.Add(1)
	if c.honorCtx {
		return ctx.Err()
	}
	return nil
}

func (c *countingStore) GetVehicle(ctx context.Context, id, userID uuid.UUID) (*models.Vehicle, error) {
	if err := c.enter(ctx); err != nil {
		return nil, err
	}
	return c.MemoryStore.GetVehicle(ctx, id, userID)
}

func (c *countingStore) CreateConversation(ctx context.Context, cv *models.Conversation) error {
	if err := c.enter(ctx); err != nil {
		return err
	}
	if c.failCreateCv {
		return errors.New("db down")
	}
	return c.MemoryStore.CreateConversation(ctx, cv)
}

func (c *countingStore) GetConversation(ctx context.Context, id, userID uuid.UUID) (*models.Conversation, error) {
	if err := c.enter(ctx); err != nil {
		return nil, err
	}
	return c.MemoryStore.GetConversation(ctx, id, userID)
}

func (c *countingStore) AppendMessage(ctx context.Context, m *models.Message) error {
	if err := c.enter(ctx); err != nil {
		return err
	}
	if c.failAppend {
		return errors.New("append failed")
	}
	return c.MemoryStore.AppendMessage(ctx, m)
}

func (c *countingStore) CreateDiagnosis(ctx context.Context, d *models.DiagnosisRecord) error {
	if err := c.enter(ctx); err != nil {
		return err
	}
	if c.failDiag {
		return errors.New("insert failed")
	}
	return c.MemoryStore.CreateDiagnosis(ctx, d)
}

func (c *countingStore) IncrementUsage(ctx context.Context, userID uuid.UUID, day time.Time, diagnoses, tokens int) error {
	if err := c.enter(ctx); err != nil {
		return err
	}
	if c.failUsage {
		return errors.New("upsert failed")
	}
	return c.MemoryStore.IncrementUsage(ctx, userID, day, diagnoses, tokens)
}

type fixture struct {
	svc      *diagnosis.Service
	store    *countingStore
	provider *mock.MockProvider
	user     *models.User
}

func newFixture(t *testing.T, provider *mock.MockProvider) *fixture {
	t.Helper()
	mem := store.NewMemoryStore()
	user := &models.User{ID: uuid.New(), Email: "driver@example.com", SkillLevel: models.SkillBeginner,
		CreatedAt: time.Now(), UpdatedAt: time.Now()}
	require.NoError(t, mem.CreateUser(context.Background(), user))

	cs := &countingStore{MemoryStore: mem}
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), ratelimit.Policy{Name: "diagnose", Points: 20, Window: time.Minute})
	var p models.CompletionProvider
	if provider != nil {
		p = provider
	}
	svc := diagnosis.NewService(p, cs, limiter, diagnosis.Config{Timeout: time.Second, MaxTokens: 2000, Temperature: 0.3})
	return &fixture{svc: svc, store: cs, provider: provider, user: user}
}

func (f *fixture) diagnose(req models.DiagnosisRequest) (*diagnosis.Result, error) {
	return f.svc.Diagnose(context.Background(), diagnosis.Input{ClientID: "203.0.113.9", Caller: f.user, Request: req})
}

func (f *fixture) addVehicle(t *testing.T, owner uuid.UUID) *models.Vehicle {
	t.Helper()
	trim := "EX"
	mileage := 85000
	v := &models.Vehicle{ID: uuid.New(), UserID: owner, Year: 2018, Make: "Honda", Model: "Civic",
		Trim: &trim, Mileage: &mileage, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	require.NoError(t, f.store.MemoryStore.CreateVehicle(context.Background(), v))
	return v
}

func hasStep(res *diagnosis.Result, step string) bool {
	for _, d := range res.Degradations {
		if d.Step == step {
			return true
		}
	}
	return false
}

func TestDiagnose_Success(t *testing.T) {
	f := newFixture(t, mock.NewMockProvider(modelReply))

	res, err := f.diagnose(models.DiagnosisRequest{Message: "car won't start", SkillLevel: "beginner"})
	require.NoError(t, err)

	assert.Equal(t, diagnosis.Parsed, res.Extraction)
	assert.Equal(t, "Weak battery", res.Diagnosis.Summary)
	assert.Equal(t, "medium", res.Diagnosis.Severity)
	assert.Equal(t, "Diagnosis completed successfully", res.Message)
	assert.NotEqual(t, uuid.Nil, res.ConversationID)
	assert.Empty(t, res.Degradations)

	req := f.provider.LastRequest()
	assert.Equal(t, diagnosis.SystemPrompt(), req.SystemPrompt)
	assert.InDelta(t, 0.3, req.Temperature, 0.0001)
	assert.Equal(t, 2000, req.MaxTokens)

	conv, err := f.store.MemoryStore.GetConversation(context.Background(), res.ConversationID, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, "car won't start", conv.Title)

	history, err := f.store.MemoryStore.ListDiagnoses(context.Background(), f.user.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].HasRepairGuide)

	usage, err := f.store.SumUsage(context.Background(), f.user.ID, time.Now(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, models.UsageTotals{Diagnoses: 1, TokensUsed: 150}, usage)
}

func TestDiagnose_ConversationReuseGrowsByTwo(t *testing.T) {
	f := newFixture(t, mock.NewMockProvider(modelReply))
	ctx := context.Background()

	first, err := f.diagnose(models.DiagnosisRequest{Message: "car won't start", SkillLevel: "beginner"})
	require.NoError(t, err)
	msgs, err := f.store.ListMessages(ctx, first.ConversationID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, models.RoleAssistant, msgs[1].Role)
	require.NotNil(t, msgs[1].Content.Diagnosis)

	second, err := f.diagnose(models.DiagnosisRequest{
		Message:        "it clicks once",
		ConversationID: first.ConversationID.String(),
	})
	require.NoError(t, err)
	assert.Equal(t, first.ConversationID, second.ConversationID)

	msgs, err = f.store.ListMessages(ctx, first.ConversationID)
	require.NoError(t, err)
	assert.Len(t, msgs, 4)

	usage, err := f.store.SumUsage(ctx, f.user.ID, time.Now(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, usage.Diagnoses)
	assert.Equal(t, 300, usage.TokensUsed)
}

func TestDiagnose_RateLimitedOn21st(t *testing.T) {
	f := newFixture(t, mock.NewMockProvider(modelReply))

	for i := 0; i < 20; i++ {
		_, err := f.diagnose(models.DiagnosisRequest{Message: "noise"})
		require.NoError(t, err, "request %d", i+1)
	}
	storeCalls := f.store.calls.Load()

	_, err := f.diagnose(models.DiagnosisRequest{Message: "noise"})
	var rl *diagnosis.RateLimitedError
	require.ErrorAs(t, err, &rl)
	assert.False(t, rl.Decision.Allowed)
	assert.Greater(t, rl.Decision.RetryAfter, time.Duration(0))
	assert.Equal(t, 20, f.provider.Calls())
	assert.Equal(t, storeCalls, f.store.calls.Load())
}

func TestDiagnose_ConcurrentBurst(t *testing.T) {
	f := newFixture(t, mock.NewMockProvider(modelReply))
	var ok, limited atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.diagnose(models.DiagnosisRequest{Message: "burst"})
			var rl *diagnosis.RateLimitedError
			switch {
			case err == nil:
				ok.Add(1)
			case errors.As(err, &rl):
				limited.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(20), ok.Load())
	assert.Equal(t, int64(30), limited.Load())
	assert.Equal(t, 20, f.provider.Calls())
}

func TestDiagnose_Unauthenticated(t *testing.T) {
	f := newFixture(t, mock.NewMockProvider(modelReply))

	_, err := f.svc.Diagnose(context.Background(), diagnosis.Input{ClientID: "x", Request: models.DiagnosisRequest{Message: "hi"}})
	assert.ErrorIs(t, err, diagnosis.ErrUnauthenticated)
	assert.Zero(t, f.provider.Calls())
	assert.Zero(t, f.store.calls.Load())
}

func TestDiagnose_EmptyMessage(t *testing.T) {
	for _, msg := range []string{"", "   \n\t"} {
		f := newFixture(t, mock.NewMockProvider(modelReply))

		_, err := f.diagnose(models.DiagnosisRequest{Message: msg})
		assert.ErrorIs(t, err, diagnosis.ErrInvalidInput)
		assert.Zero(t, f.provider.Calls())
		assert.Zero(t, f.store.calls.Load())
	}
}

func TestDiagnose_MalformedConversationID(t *testing.T) {
	f := newFixture(t, mock.NewMockProvider(modelReply))

	_, err := f.diagnose(models.DiagnosisRequest{Message: "hi", ConversationID: "not-a-uuid"})
	assert.ErrorIs(t, err, diagnosis.ErrInvalidInput)
	assert.Zero(t, f.provider.Calls())
}

func TestDiagnose_ForeignConversation(t *testing.T) {
	f := newFixture(t, mock.NewMockProvider(modelReply))
	other := uuid.New()
	conv := &models.Conversation{ID: uuid.New(), UserID: other, Title: "theirs", CreatedAt: time.Now()}
	require.NoError(t, f.store.MemoryStore.CreateConversation(context.Background(), conv))

	_, err := f.diagnose(models.DiagnosisRequest{Message: "hi", ConversationID: conv.ID.String()})
	assert.ErrorIs(t, err, diagnosis.ErrConversationNotFound)
	assert.Zero(t, f.provider.Calls())
}

func TestDiagnose_Unconfigured(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.diagnose(models.DiagnosisRequest{Message: "car won't start"})
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, res.ConversationID)
	assert.Contains(t, res.Diagnosis.Summary, "unavailable")
	assert.Equal(t, "low", res.Diagnosis.Severity)
	assert.Equal(t, [2]float64{95, 185}, res.Diagnosis.Estimates.LaborRateRange)
	assert.Zero(t, f.store.calls.Load())
}

func TestDiagnose_OwnedVehicleInPrompt(t *testing.T) {
	f := newFixture(t, mock.NewMockProvider(modelReply))
	v := f.addVehicle(t, f.user.ID)

	res, err := f.diagnose(models.DiagnosisRequest{Message: "rough idle", VehicleID: v.ID.String(), OBDCode: "p0300"})
	require.NoError(t, err)
	assert.Empty(t, res.Degradations)

	prompt := f.provider.LastRequest().Turns[0].Content
	assert.Contains(t, prompt, "Vehicle: 2018 Honda Civic EX")
	assert.Contains(t, prompt, "Mileage: 85000")
	assert.Contains(t, prompt, "OBD Code: p0300")

	conv, err := f.store.MemoryStore.GetConversation(context.Background(), res.ConversationID, f.user.ID)
	require.NoError(t, err)
	require.NotNil(t, conv.VehicleID)
	assert.Equal(t, v.ID, *conv.VehicleID)

	history, err := f.store.MemoryStore.ListDiagnoses(context.Background(), f.user.ID, 10)
	require.NoError(t, err)
	require.NotNil(t, history[0].OBDCode)
	assert.Equal(t, "P0300", *history[0].OBDCode)
	assert.Equal(t, "2018 Honda Civic", history[0].VehicleName)
}

func TestDiagnose_ForeignVehicleIgnored(t *testing.T) {
	f := newFixture(t, mock.NewMockProvider(modelReply))
	theirs := f.addVehicle(t, uuid.New())

	for _, id := range []string{theirs.ID.String(), uuid.NewString(), "garbage"} {
		res, err := f.diagnose(models.DiagnosisRequest{Message: "rough idle", VehicleID: id})
		require.NoError(t, err, id)
		assert.True(t, hasStep(res, "vehicle"), id)
		assert.NotContains(t, f.provider.LastRequest().Turns[0].Content, "Vehicle:")
	}
}

func TestDiagnose_SkillResolution(t *testing.T) {
	f := newFixture(t, mock.NewMockProvider(modelReply))

	f.user.SkillLevel = models.SkillPro
	_, err := f.diagnose(models.DiagnosisRequest{Message: "x", SkillLevel: "beginner"})
	require.NoError(t, err)
	assert.Contains(t, f.provider.LastRequest().Turns[0].Content, "User skill level: pro")

	f.user.SkillLevel = ""
	_, err = f.diagnose(models.DiagnosisRequest{Message: "x", SkillLevel: "diy"})
	require.NoError(t, err)
	assert.Contains(t, f.provider.LastRequest().Turns[0].Content, "User skill level: diy")

	_, err = f.diagnose(models.DiagnosisRequest{Message: "x", SkillLevel: "wizard"})
	require.NoError(t, err)
	assert.Contains(t, f.provider.LastRequest().Turns[0].Content, "User skill level: beginner")
}

func TestDiagnose_HistoryForwarded(t *testing.T) {
	f := newFixture(t, mock.NewMockProvider(modelReply))

	_, err := f.diagnose(models.DiagnosisRequest{
		Message: "still clicking",
		ConversationHistory: []models.ChatTurn{
			{Role: "user", Content: "car won't start"},
			{Role: "assistant", Content: "Check the battery"},
		},
	})
	require.NoError(t, err)

	turns := f.provider.LastRequest().Turns
	require.Len(t, turns, 3)
	assert.Equal(t, "car won't start", turns[1].Content)
	assert.Equal(t, models.RoleAssistant, turns[2].Role)
}

func TestDiagnose_FallbackExtraction(t *testing.T) {
	f := newFixture(t, mock.NewMockProvider("Could you tell me when the noise started?"))

	res, err := f.diagnose(models.DiagnosisRequest{Message: "weird noise"})
	require.NoError(t, err)
	assert.Equal(t, diagnosis.Fallback, res.Extraction)
	assert.Equal(t, "Could you tell me when the noise started?", res.Diagnosis.Summary)
	assert.True(t, hasStep(res, "extraction"))
	assert.Equal(t, 50, res.Diagnosis.Confidence)
}

func TestDiagnose_QuotaExceeded(t *testing.T) {
	f := newFixture(t, mock.NewFailingProvider(ai.ErrQuotaExceeded))

	_, err := f.diagnose(models.DiagnosisRequest{Message: "car won't start"})
	var me *diagnosis.ModelError
	require.ErrorAs(t, err, &me)
	assert.ErrorIs(t, err, ai.ErrQuotaExceeded)
	assert.NotEqual(t, uuid.Nil, me.ConversationID)
	assert.True(t, models.ValidSeverity(me.Diagnosis.Severity))

	msgs, err := f.store.ListMessages(context.Background(), me.ConversationID)
	require.NoError(t, err)
	require.Len(t, msgs, 1, "user message is written before the model call")
	assert.Equal(t, models.RoleUser, msgs[0].Role)
}

func TestDiagnose_ModelTimeout(t *testing.T) {
	f := newFixture(t, mock.NewTimeoutProvider())
	f.svc = diagnosis.NewService(f.provider, f.store,
		ratelimit.NewLimiter(ratelimit.NewMemoryStore(), ratelimit.Policy{Name: "d", Points: 5, Window: time.Minute}),
		diagnosis.Config{Timeout: 20 * time.Millisecond})

	_, err := f.diagnose(models.DiagnosisRequest{Message: "hi"})
	assert.ErrorIs(t, err, ai.ErrInferenceTimeout)
}

func TestDiagnose_CallerCancellationDoesNotAbortModel(t *testing.T) {
	var sawCancelled atomic.Bool
	provider := &mock.MockProvider{Name_: "mock", CompleteFunc: func(ctx context.Context, _ models.CompletionRequest) (models.CompletionResponse, error) {
		if ctx.Err() != nil {
			sawCancelled.Store(true)
		}
		if _, ok := ctx.Deadline(); !ok {
			return models.CompletionResponse{}, errors.New("model call must be bounded")
		}
		return models.CompletionResponse{Text: modelReply, TokensUsed: 10}, nil
	}}
	f := newFixture(t, provider)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := f.svc.Diagnose(ctx, diagnosis.Input{ClientID: "c", Caller: f.user, Request: models.DiagnosisRequest{Message: "hi"}})
	require.NoError(t, err)
	assert.False(t, sawCancelled.Load())
	assert.Equal(t, "Weak battery", res.Diagnosis.Summary)
}

func TestDiagnose_ClientDisconnectStillPersists(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	provider := &mock.MockProvider{Name_: "mock", CompleteFunc: func(context.Context, models.CompletionRequest) (models.CompletionResponse, error) {
		// The client goes away while the model is still working.
		cancel()
		return models.CompletionResponse{Text: modelReply, TokensUsed: 42}, nil
	}}
	f := newFixture(t, provider)
	f.store.honorCtx = true

	res, err := f.svc.Diagnose(ctx, diagnosis.Input{ClientID: "c", Caller: f.user, Request: models.DiagnosisRequest{Message: "car won't start"}})
	require.NoError(t, err)
	require.Error(t, ctx.Err())
	assert.Empty(t, res.Degradations)

	msgs, err := f.store.ListMessages(context.Background(), res.ConversationID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleAssistant, msgs[1].Role)

	usage, err := f.store.SumUsage(context.Background(), f.user.ID, time.Now(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, models.UsageTotals{Diagnoses: 1, TokensUsed: 42}, usage)
}

func TestDiagnose_CancelledBeforeAdmissionStillRuns(t *testing.T) {
	f := newFixture(t, mock.NewMockProvider(modelReply))
	f.store.honorCtx = true

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := f.svc.Diagnose(ctx, diagnosis.Input{ClientID: "c", Caller: f.user, Request: models.DiagnosisRequest{Message: "hi"}})
	require.NoError(t, err)
	assert.Empty(t, res.Degradations)
}

func TestDiagnose_FailedDiagnosisMentionsSavedMessageOnlyWhenSaved(t *testing.T) {
	f := newFixture(t, mock.NewFailingProvider(ai.ErrQuotaExceeded))
	_, err := f.diagnose(models.DiagnosisRequest{Message: "car won't start"})
	var me *diagnosis.ModelError
	require.ErrorAs(t, err, &me)
	assert.Contains(t, me.Diagnosis.Summary, "Your message was saved")

	f = newFixture(t, mock.NewFailingProvider(ai.ErrQuotaExceeded))
	f.store.failAppend = true
	_, err = f.diagnose(models.DiagnosisRequest{Message: "car won't start"})
	require.ErrorAs(t, err, &me)
	assert.NotContains(t, me.Diagnosis.Summary, "saved")
}

func TestDiagnose_PersistenceFailuresDegrade(t *testing.T) {
	f := newFixture(t, mock.NewMockProvider(modelReply))
	f.store.failAppend = true
	f.store.failDiag = true
	f.store.failUsage = true

	res, err := f.diagnose(models.DiagnosisRequest{Message: "car won't start"})
	require.NoError(t, err)
	assert.Equal(t, "Weak battery", res.Diagnosis.Summary)
	for _, step := range []string{"user_message", "assistant_message", "diagnosis_record", "usage"} {
		assert.True(t, hasStep(res, step), step)
	}
}

func TestDiagnose_ConversationCreateFailureIsFatal(t *testing.T) {
	f := newFixture(t, mock.NewMockProvider(modelReply))
	f.store.failCreateCv = true

	_, err := f.diagnose(models.DiagnosisRequest{Message: "car won't start"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create conversation")
	assert.Zero(t, f.provider.Calls())
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, errors.New("redis unreachable")
}

func TestDiagnose_LimiterErrorFailsOpen(t *testing.T) {
	f := newFixture(t, mock.NewMockProvider(modelReply))
	f.svc = diagnosis.NewService(f.provider, f.store, brokenLimiter{}, diagnosis.Config{})

	_, err := f.diagnose(models.DiagnosisRequest{Message: "hi"})
	assert.NoError(t, err)
}

type recordingCache struct {
	cache.Cache
	mu     sync.Mutex
	bumped []string
}

func (r *recordingCache) IncrWithExpiry(_ context.Context, key string, expiry time.Duration) (int64, time.Duration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bumped = append(r.bumped, key)
	return int64(len(r.bumped)), expiry, nil
}

func TestDiagnose_InvalidatesUsageCache(t *testing.T) {
	f := newFixture(t, mock.NewMockProvider(modelReply))
	rc := &recordingCache{}
	f.svc.WithCache(rc)

	_, err := f.diagnose(models.DiagnosisRequest{Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, []string{cache.UsageGenerationKey(f.user.ID)}, rc.bumped)
}

func TestDiagnose_LongMessageTitle(t *testing.T) {
	f := newFixture(t, mock.NewMockProvider(modelReply))
	msg := strings.Repeat("x", 80)

	res, err := f.diagnose(models.DiagnosisRequest{Message: msg})
	require.NoError(t, err)
	conv, err := f.store.MemoryStore.GetConversation(context.Background(), res.ConversationID, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("x", 50)+"...", conv.Title)
}
