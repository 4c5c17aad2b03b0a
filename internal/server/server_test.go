package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/job-autofill/internal/pipeline"
	"github.com/jonathan/job-autofill/internal/profile"
	"github.com/jonathan/job-autofill/internal/review"
	"github.com/jonathan/job-autofill/internal/server/ratelimit"
	"github.com/jonathan/job-autofill/internal/settings"
	"github.com/jonathan/job-autofill/internal/types"
)

type fakeRunner struct {
	board *review.Board
	err   error

	mu       sync.Mutex
	triggers []types.Trigger
}

func (f *fakeRunner) Run(_ context.Context, trigger types.Trigger) (*types.RunReport, error) {
	f.mu.Lock()
	f.triggers = append(f.triggers, trigger)
	f.mu.Unlock()

	report := &types.RunReport{
		ID:       uuid.New(),
		PageURL:  "https://boards.greenhouse.io/acme/jobs/1",
		Platform: "greenhouse",
		Trigger:  trigger,
		Fields:   2,
		Fill:     &types.FillResult{Total: 2, Filled: 2},
	}
	f.board.Publish(report)
	return report, f.err
}

func (f *fakeRunner) seen() []types.Trigger {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.Trigger(nil), f.triggers...)
}

// draftingRunner adds answer re-drafting to fakeRunner.
type draftingRunner struct {
	*fakeRunner
	err     error
	indexes []int
}

func (d *draftingRunner) Redraft(_ context.Context, index int) (*pipeline.Draft, error) {
	d.indexes = append(d.indexes, index)
	if d.err != nil {
		return nil, d.err
	}
	return &pipeline.Draft{
		Index:    index,
		Question: "Why do you want to work here?",
		Answer:   "I admire the team's focus on reliability.",
		Status:   types.DetailFilled,
	}, nil
}

type fakeProfiles struct {
	p   *profile.Profile
	err error
	at  time.Time
}

func (f *fakeProfiles) Refresh(context.Context) (*profile.Profile, error) {
	return f.p, f.err
}

func (f *fakeProfiles) FetchedAt() time.Time { return f.at }

type testEnv struct {
	server   *Server
	runner   *fakeRunner
	board    *review.Board
	settings *settings.Store
	profiles *fakeProfiles
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	board := review.NewBoard()
	env := &testEnv{
		runner:   &fakeRunner{board: board},
		board:    board,
		settings: settings.NewStore(settings.Defaults()),
		profiles: &fakeProfiles{
			p:  profile.FromValues(map[string]string{"fullName": "Ada Lovelace"}),
			at: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		},
	}
	cfg.Logger = zerolog.Nop()
	env.server = New(cfg, env.runner, board, env.settings, env.profiles)
	t.Cleanup(env.server.Close)
	return env
}

func (e *testEnv) do(method, target, body string, header ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, http.NoBody)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	env := newTestEnv(t, Config{})
	rec := env.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServer_Preflight(t *testing.T) {
	env := newTestEnv(t, Config{})
	rec := env.do(http.MethodOptions, "/settings", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "PUT")
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Authorization")
}

func TestServer_Fill(t *testing.T) {
	env := newTestEnv(t, Config{})

	rec := env.do(http.MethodPost, "/fill", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp FillResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Report)
	assert.Equal(t, types.TriggerManual, resp.Report.Trigger)
	assert.Empty(t, resp.Error)

	rec = env.do(http.MethodPost, "/fill", `{"trigger":"fab"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []types.Trigger{types.TriggerManual, types.TriggerFAB}, env.runner.seen())

	current, ok := env.board.Current()
	require.True(t, ok)
	assert.Equal(t, types.TriggerFAB, current.Trigger)
}

func TestServer_FillRejectsBadRequests(t *testing.T) {
	env := newTestEnv(t, Config{})

	rec := env.do(http.MethodPost, "/fill", `{"trigger":"robot"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, "/fill", `{"trigger":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Empty(t, env.runner.seen())
}

func TestServer_FillRunError(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.runner.err = errors.New("autofill run failed during classify: panic: boom")

	rec := env.do(http.MethodPost, "/fill", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var resp FillResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotNil(t, resp.Report, "partial report is still returned")
	assert.Contains(t, resp.Error, "classify")
}

func TestServer_Review(t *testing.T) {
	env := newTestEnv(t, Config{})

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/review", "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodDelete, "/review", "").Code)

	report, err := env.runner.Run(context.Background(), types.TriggerManual)
	require.NoError(t, err)

	rec := env.do(http.MethodGet, "/review", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got types.RunReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, report.ID, got.ID)

	rec = env.do(http.MethodGet, "/review?format=text", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Contains(t, rec.Body.String(), report.PageURL)

	assert.Equal(t, http.StatusNoContent, env.do(http.MethodDelete, "/review", "").Code)
	_, ok := env.board.Current()
	assert.False(t, ok)
}

func TestServer_Draft(t *testing.T) {
	env := newTestEnv(t, Config{})
	rec := env.do(http.MethodPost, "/review/3/draft", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "runner without drafting")

	drafter := &draftingRunner{fakeRunner: env.runner}
	srv := New(Config{Logger: zerolog.Nop()}, drafter, env.board, env.settings, env.profiles)
	t.Cleanup(srv.Close)
	post := func(target string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, target, http.NoBody))
		return rec
	}

	rec = post("/review/3/draft")
	require.Equal(t, http.StatusOK, rec.Code)
	var draft pipeline.Draft
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &draft))
	assert.Equal(t, 3, draft.Index)
	assert.Equal(t, types.DetailFilled, draft.Status)
	assert.NotEmpty(t, draft.Answer)

	assert.Equal(t, http.StatusBadRequest, post("/review/x/draft").Code)
	assert.Equal(t, http.StatusBadRequest, post("/review/-1/draft").Code)
	assert.Equal(t, []int{3}, drafter.indexes)

	tests := []struct {
		err  error
		want int
	}{
		{err: pipeline.ErrNoGenerator, want: http.StatusServiceUnavailable},
		{err: pipeline.ErrNoRun, want: http.StatusNotFound},
		{err: fmt.Errorf("%w: 9", pipeline.ErrFieldNotFound), want: http.StatusNotFound},
		{err: fmt.Errorf("%w: \"Email\"", pipeline.ErrNotOpenEnded), want: http.StatusBadRequest},
		{err: errors.New("quota exceeded"), want: http.StatusBadGateway},
	}
	for _, tt := range tests {
		drafter.err = tt.err
		assert.Equal(t, tt.want, post("/review/9/draft").Code, tt.err.Error())
	}
}

func TestServer_Settings(t *testing.T) {
	env := newTestEnv(t, Config{})

	rec := env.do(http.MethodGet, "/settings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"fillSpeed":"normal"`)

	rec = env.do(http.MethodPut, "/settings", `{"fillSpeed":"fast","industry":"tech"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	got := env.settings.Get()
	assert.Equal(t, settings.SpeedFast, got.FillSpeed)
	assert.Equal(t, "tech", got.Industry)
	assert.True(t, got.ShowFAB, "omitted options keep their value")
}

func TestServer_SettingsRejected(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "invalid enum", body: `{"fillSpeed":"warp"}`},
		{name: "unknown field", body: `{"bogus":true}`},
		{name: "unknown industry", body: `{"industry":"aerospace"}`},
		{name: "malformed", body: `{"fillSpeed":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, Config{})
			rec := env.do(http.MethodPut, "/settings", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, settings.Defaults(), env.settings.Get())
		})
	}
}

func TestServer_ProfileRefresh(t *testing.T) {
	env := newTestEnv(t, Config{})

	rec := env.do(http.MethodPost, "/profile/refresh", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status ProfileStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "Ada Lovelace, 0 documents", status.Summary)
	assert.Equal(t, env.profiles.at, status.FetchedAt)

	env.profiles.err = errors.New("platform returned 503")
	rec = env.do(http.MethodPost, "/profile/refresh", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "platform returned 503")
}

func TestServer_Profiles(t *testing.T) {
	env := newTestEnv(t, Config{})
	rec := env.do(http.MethodGet, "/profiles", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var profiles []struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &profiles))
	require.NotEmpty(t, profiles)
	assert.Equal(t, "none", profiles[0].ID)
}

func TestServer_Auth(t *testing.T) {
	jwtService, err := NewJWTService(strings.Repeat("s", MinSecretLength), time.Hour)
	require.NoError(t, err)
	env := newTestEnv(t, Config{Validator: jwtService.AsTokenValidator()})

	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/health", "").Code, "health stays public")
	assert.Equal(t, http.StatusUnauthorized, env.do(http.MethodGet, "/settings", "").Code)
	assert.Equal(t, http.StatusUnauthorized,
		env.do(http.MethodGet, "/settings", "", "Authorization", "Bearer nope").Code)

	token, err := jwtService.GenerateToken("cli")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK,
		env.do(http.MethodGet, "/settings", "", "Authorization", "Bearer "+token).Code)
}

func TestServer_RateLimit(t *testing.T) {
	env := newTestEnv(t, Config{RateLimit: &ratelimit.Config{
		Enabled:       true,
		DefaultLimit:  100,
		DefaultWindow: time.Minute,
		EndpointConfigs: []ratelimit.EndpointConfig{
			{Path: "/fill", Method: http.MethodPost, Limit: 1, Window: time.Hour, Burst: 1},
		},
	}})

	rec := env.do(http.MethodPost, "/fill", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))

	rec = env.do(http.MethodPost, "/fill", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "3600", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "rate_limit_exceeded")
	assert.Len(t, env.runner.seen(), 1)

	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/health", "").Code)
}

func TestServer_RunStream(t *testing.T) {
	env := newTestEnv(t, Config{})
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/runs/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	next := func() (string, string) {
		t.Helper()
		var event, data string
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			case line == "" && event != "":
				return event, data
			}
		}
	}

	event, data := next()
	assert.Equal(t, "snapshot", event)
	assert.Equal(t, "null", data)

	env.board.Progress("scan", "Found 2 fields")
	event, data = next()
	assert.Equal(t, "progress", event)
	assert.Contains(t, data, "Found 2 fields")

	report, _ := env.runner.Run(context.Background(), types.TriggerManual)
	event, data = next()
	assert.Equal(t, "published", event)
	assert.Contains(t, data, report.ID.String())

	env.board.Close()
	event, _ = next()
	assert.Equal(t, "closed", event)
}
