package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/kine-assistant/internal/bilan"
	"github.com/wolfman30/kine-assistant/internal/exercises"
	"github.com/wolfman30/kine-assistant/internal/practitioners"
	"github.com/wolfman30/kine-assistant/internal/render"
	"github.com/wolfman30/kine-assistant/internal/structuring"
	"github.com/wolfman30/kine-assistant/internal/transcription"
	"github.com/wolfman30/kine-assistant/pkg/logging"
)

const testSecret = "router-secret"

type unreachableStructurer struct{ calls int }

func (u *unreachableStructurer) Structure(context.Context, structuring.Request) (structuring.Result, error) {
	u.calls++
	return structuring.ServiceError("unexpected call"), nil
}

type unreachableRenderer struct{}

func (unreachableRenderer) RenderBilan(context.Context, render.BilanPayload) (render.Document, error) {
	return render.Document{}, errors.New("not configured")
}

func (unreachableRenderer) RenderProgram(context.Context, render.ProgramPayload) (render.Document, error) {
	return render.Document{}, errors.New("not configured")
}

type unreachableGenerator struct{}

func (unreachableGenerator) Generate(context.Context, exercises.GenerationRequest) (exercises.Generation, error) {
	return exercises.Generation{}, exercises.ErrGeneration
}

type unreachableTranscriber struct{}

func (unreachableTranscriber) Transcribe(context.Context, transcription.Request) (transcription.Result, error) {
	return transcription.Failed("not configured"), nil
}

type testEnv struct {
	handler    http.Handler
	structurer *unreachableStructurer
}

func newTestRouter(t *testing.T) *testEnv {
	t.Helper()
	logger := logging.New("error")
	sessions := practitioners.NewSessions(practitioners.NewInMemoryStore(), practitioners.DefaultFreeCredits)
	structurer := &unreachableStructurer{}

	workflow := bilan.NewWorkflow(bilan.WorkflowConfig{
		Repo:       bilan.NewInMemoryRepository(),
		Structurer: structuring.NewScreeningStructurer(structurer, structuring.NewPIIScreen()),
		Renderer:   unreachableRenderer{},
		Logger:     logger,
	})
	assistant := exercises.NewAssistant(exercises.AssistantConfig{
		Sessions:  exercises.NewMemorySessionStore(),
		Generator: unreachableGenerator{},
		Renderer:  unreachableRenderer{},
		Logger:    logger,
	})

	h := New(&Config{
		Logger:                logger,
		MetricsHandler:        http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("# metrics")) }),
		PractitionerJWTSecret: testSecret,
		RateLimitRPS:          100,
		RateLimitBurst:        100,
		Practitioners:         practitioners.NewHandler(sessions, logger),
		Bilans:                bilan.NewHandler(workflow, sessions, logger),
		Transcriptions:        transcription.NewHandler(unreachableTranscriber{}, nil, logger),
		Exercises:             exercises.NewHandler(assistant, sessions, logger),
	})
	return &testEnv{handler: h, structurer: structurer}
}

func bearer(t *testing.T, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return "Bearer " + signed
}

func (e *testEnv) do(t *testing.T, method, path, body, subject string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if subject != "" {
		req.Header.Set("Authorization", bearer(t, subject))
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func TestRouterHealthEndpoint(t *testing.T) {
	env := newTestRouter(t)

	rr := env.do(t, http.MethodGet, "/health", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}

	var resp map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status 'ok', got %q", resp["status"])
	}
}

func TestRouterMetricsIsPublic(t *testing.T) {
	env := newTestRouter(t)
	rr := env.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "# metrics")
}

func TestRouterRequiresPractitionerToken(t *testing.T) {
	env := newTestRouter(t)
	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/me"},
		{http.MethodPost, "/bilans"},
		{http.MethodGet, "/bilans/abc"},
		{http.MethodPost, "/transcriptions"},
		{http.MethodPost, "/exercise-sessions"},
		{http.MethodPost, "/exercise-sessions/s1/exercises/ex-1/lock"},
		{http.MethodPost, "/exercise-sessions/s1/form/toggle"},
	} {
		rr := env.do(t, route.method, route.path, "{}", "")
		assert.Equal(t, http.StatusUnauthorized, rr.Code, "%s %s", route.method, route.path)
	}
}

func TestRouterMeProvisionsProfile(t *testing.T) {
	env := newTestRouter(t)
	rr := env.do(t, http.MethodGet, "/me", "", "kine-42")
	require.Equal(t, http.StatusOK, rr.Code)

	var me practitioners.MeResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&me))
	assert.Equal(t, practitioners.DefaultFreeCredits, me.RemainingCredits)
	assert.False(t, me.Paywall)
}

func TestRouterBilanRejectsIdentifyingNotes(t *testing.T) {
	env := newTestRouter(t)
	body := `{"notes":"M. Jean Dupont, né le 12/03/1978, lombalgie."}`

	rr := env.do(t, http.MethodPost, "/bilans", body, "kine-42")
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	var resp bilan.SubmitResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "PII_DETECTED", resp.Reason)
	assert.NotEmpty(t, resp.Findings)
	assert.Zero(t, env.structurer.calls)

	rr = env.do(t, http.MethodGet, "/me", "", "kine-42")
	var me practitioners.MeResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&me))
	assert.Equal(t, practitioners.DefaultFreeCredits, me.RemainingCredits)
}

func TestRouterExerciseSessionRoutes(t *testing.T) {
	env := newTestRouter(t)

	rr := env.do(t, http.MethodPost, "/exercise-sessions", "", "kine-42")
	require.Equal(t, http.StatusCreated, rr.Code)
	var s exercises.Session
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&s))
	require.NotEmpty(t, s.ID)

	rr = env.do(t, http.MethodGet, "/exercise-sessions/"+s.ID, "", "kine-42")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(t, http.MethodGet, "/exercise-sessions/"+s.ID, "", "kine-other")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = env.do(t, http.MethodPost, "/exercise-sessions/"+s.ID+"/exercises/ex-1/adapt", `{"type":"easier"}`, "kine-42")
	assert.Equal(t, http.StatusBadRequest, rr.Code, "adapting before any program exists")
}

func TestRouterUnknownRoute(t *testing.T) {
	env := newTestRouter(t)
	rr := env.do(t, http.MethodGet, "/leads", "", "kine-42")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
