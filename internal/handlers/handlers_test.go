package handlers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"floodbuddy/internal/cache"
	"floodbuddy/internal/config"
	"floodbuddy/internal/middleware"
	"floodbuddy/internal/models"
	"floodbuddy/internal/observability"
	"floodbuddy/internal/queue"
	"floodbuddy/internal/realtime"
	"floodbuddy/internal/repository"
	"floodbuddy/internal/security"
	"floodbuddy/internal/service"
)

const testSignatureSecret = "device-signing-secret"

type noopEnqueuer struct{}

func (noopEnqueuer) Enqueue(context.Context, queue.Task) error { return nil }

type testEnv struct {
	engine  *gin.Engine
	reports *repository.MemoryReportRepository
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.AppConfig{
		Environment: "test",
		Security: config.SecurityConfig{
			JWTAccessSecret:  "access-secret",
			JWTAccessTTL:     15 * time.Minute,
			JWTRefreshTTL:    time.Hour,
			SignatureSecret:  testSignatureSecret,
			SignatureMaxSkew: 5 * time.Minute,
			MaxSessions:      5,
		},
	}
	clock := clockwork.NewRealClock()
	log := zerolog.Nop()
	metrics := observability.NewMetricsForTesting()

	reports := repository.NewMemoryReportRepository()
	notifier := realtime.NewLocalNotifier()
	hub := realtime.NewHub(reports, notifier, clock, log, metrics, realtime.HubOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = hub.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	auth := service.NewAuthService(
		repository.NewMemoryUserRepository(clock),
		repository.NewMemorySessionRepository(clock),
		cfg.Security, clock, metrics, log,
	)
	reportSvc := service.NewReportService(reports, notifier, noopEnqueuer{}, clock, metrics, log)

	h := NewHandlerSet(log, Deps{
		Config:   cfg,
		Auth:     auth,
		Reports:  reportSvc,
		Hub:      hub,
		Nonces:   cache.NewMemoryNonceStore(clock),
		Clock:    clock,
		Database: reports,
	})

	engine := gin.New()
	engine.Use(middleware.RequestID(log))
	h.Routes(engine.Group("/api"))
	return &testEnv{engine: engine, reports: reports}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.engine.ServeHTTP(rec, req)
	return rec
}

func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return req
}

type signedIn struct {
	token    string
	deviceID string
}

func (e *testEnv) register(t *testing.T, email string) signedIn {
	t.Helper()
	rec := e.do(jsonRequest(t, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email": email, "password": "hunter22", "deviceId": "phone-1",
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp authResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return signedIn{token: resp.AccessToken, deviceID: resp.DeviceID}
}

func (s signedIn) signed(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)
	require.NoError(t, security.SignRequest(req, testSignatureSecret, s.deviceID, raw, time.Now()))
	return req
}

func (s signedIn) get(path string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Authorization", "Bearer "+s.token)
	return req
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestRegister_EmptyPasswordIsFixedAuthMessage(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(jsonRequest(t, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email": "ann@example.com", "password": "",
	}))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, models.RegisterFailedMessage, errorBody(t, rec)["message"])
}

func TestLogin_UnregisteredIsFixedAuthMessage(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(jsonRequest(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email": "nobody@example.com", "password": "password1",
	}))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	body := errorBody(t, rec)
	assert.Equal(t, "auth_failed", body["error"])
	assert.Equal(t, models.SignInFailedMessage, body["message"])
}

func TestCreateReport_SingaporeRendersRedMarker(t *testing.T) {
	env := newTestEnv(t)
	user := env.register(t, "ann@example.com")

	rec := env.do(user.signed(t, http.MethodPost, "/api/v1/reports", map[string]any{
		"latitude": 1.3521, "longitude": 103.8198, "severity": 3,
	}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	stored, err := env.reports.List(context.Background())
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, 1.3521, stored[0].Latitude)
	assert.Equal(t, 103.8198, stored[0].Longitude)
	assert.Equal(t, models.SeveritySevere, stored[0].Severity)

	rec = env.do(user.get("/api/v1/reports/markers"))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Markers []models.Marker `json:"markers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Markers, 1)
	assert.Equal(t, "red", resp.Markers[0].Color)
	assert.Equal(t, stored[0].ID, resp.Markers[0].ID)
}

func TestCreateReport_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		body   map[string]any
		status int
		code   string
	}{
		{"no location", map[string]any{"severity": 2}, http.StatusUnprocessableEntity, "location_unavailable"},
		{"only latitude", map[string]any{"latitude": 1.0, "severity": 2}, http.StatusUnprocessableEntity, "location_unavailable"},
		{"unknown severity", map[string]any{"latitude": 1.0, "longitude": 2.0, "severity": 9}, http.StatusBadRequest, "invalid_severity"},
		{"latitude out of range", map[string]any{"latitude": 120.0, "longitude": 2.0, "severity": 1}, http.StatusBadRequest, "coordinates_out_of_range"},
	}

	env := newTestEnv(t)
	user := env.register(t, "ann@example.com")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(user.signed(t, http.MethodPost, "/api/v1/reports", tt.body))
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, errorBody(t, rec)["error"])
		})
	}

	stored, _ := env.reports.List(context.Background())
	assert.Empty(t, stored)
}

func TestCreateReport_StoreFailureIs503(t *testing.T) {
	env := newTestEnv(t)
	user := env.register(t, "ann@example.com")
	env.reports.FailWrites(errors.New("permission denied"))

	rec := env.do(user.signed(t, http.MethodPost, "/api/v1/reports", map[string]any{
		"latitude": 1.0, "longitude": 2.0, "severity": 1,
	}))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "store_write_failed", errorBody(t, rec)["error"])
}

func TestCreateReport_RequiresSignatureAndRejectsReplay(t *testing.T) {
	env := newTestEnv(t)
	user := env.register(t, "ann@example.com")

	unsigned := jsonRequest(t, http.MethodPost, "/api/v1/reports", map[string]any{"latitude": 1.0, "longitude": 2.0, "severity": 1})
	unsigned.Header.Set("Authorization", "Bearer "+user.token)
	rec := env.do(unsigned)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "signature_required", errorBody(t, rec)["error"])

	body := map[string]any{"latitude": 1.0, "longitude": 2.0, "severity": 1}
	first := user.signed(t, http.MethodPost, "/api/v1/reports", body)
	replay := jsonRequest(t, http.MethodPost, "/api/v1/reports", body)
	replay.Header = first.Header.Clone()

	require.Equal(t, http.StatusCreated, env.do(first).Code)
	rec = env.do(replay)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "replay_detected", errorBody(t, rec)["error"])
}

func TestReports_RequireBearer(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/v1/reports", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSeverities_ServesTable(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/v1/severities", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Severities   []models.SeverityInfo `json:"severities"`
		DefaultColor string                `json:"defaultColor"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Severities, 3)
	assert.Equal(t, "hazard_icon_red.png", resp.Severities[2].Icon)
	assert.Equal(t, models.DefaultMarkerColor, resp.DefaultColor)
}

func TestMeAndSessions(t *testing.T) {
	env := newTestEnv(t)
	user := env.register(t, "ann@example.com")

	rec := env.do(user.signed(t, http.MethodGet, "/api/v1/auth/me", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "ann@example.com")

	rec = env.do(user.signed(t, http.MethodGet, "/api/v1/auth/sessions", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Sessions []sessionResponse `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Sessions, 1)
	assert.True(t, resp.Sessions[0].Current)

	rec = env.do(user.signed(t, http.MethodDelete, "/api/v1/auth/sessions/"+user.deviceID, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "ok", resp.Database)
	assert.Equal(t, "disabled", resp.Cache)
}

// readSnapshot returns the data of the next "snapshot" event on the stream.
func readSnapshot(t *testing.T, r *bufio.Reader) models.Snapshot {
	t.Helper()
	var event string
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\r\n")
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:") && event == snapshotEvent:
			var snap models.Snapshot
			require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &snap))
			return snap
		}
	}
}

func TestStreamReports_DeliversFullSetAfterCreate(t *testing.T) {
	env := newTestEnv(t)
	user := env.register(t, "ann@example.com")

	srv := httptest.NewServer(env.engine)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/reports/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+user.token)

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	reader := bufio.NewReader(resp.Body)
	first := readSnapshot(t, reader)
	assert.Empty(t, first.Reports)

	rec := env.do(user.signed(t, http.MethodPost, "/api/v1/reports", map[string]any{
		"latitude": 1.3521, "longitude": 103.8198, "severity": 3,
	}))
	require.Equal(t, http.StatusCreated, rec.Code)

	next := readSnapshot(t, reader)
	assert.Greater(t, next.Version, first.Version)
	require.Len(t, next.Reports, 1)
	assert.Equal(t, models.SeveritySevere, next.Reports[0].Severity)
}
