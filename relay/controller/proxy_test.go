package controller

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/proxed/gateway/common/client"
	"github.com/proxed/gateway/common/config"
	"github.com/proxed/gateway/model"
	"github.com/proxed/gateway/relay/meta"
	"github.com/proxed/gateway/relay/provider"
)

func init() {
	gin.SetMode(gin.TestMode)
	client.Init()
}

// setupRelay points the OpenAI descriptor at a stub upstream and resets the
// database to an empty in-memory schema.
func setupRelay(t *testing.T, baseURL string, maxRetries int) {
	t.Helper()
	config.OpenAIBaseURL = baseURL
	config.OpenAIMaxRetries = maxRetries
	config.OpenAIRetryBaseDelay = time.Millisecond
	config.OpenAITimeout = 5 * time.Second
	provider.Init()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Project{}, &model.TeamLimits{}, &model.Execution{}))
	model.DB = db
}

type relayFixture struct {
	project *model.Project
	session *meta.Session
}

func newFixture(t *testing.T) *relayFixture {
	t.Helper()
	adapter, err := provider.GetAdapter("openai")
	require.NoError(t, err)

	project := &model.Project{
		Id:                uuid.NewString(),
		TeamId:            uuid.NewString(),
		Name:              "ios app",
		Active:            true,
		ServerKeyFragment: "sk-server-half-",
	}
	require.NoError(t, model.DB.Create(project).Error)
	require.NoError(t, model.DB.Create(&model.TeamLimits{
		TeamId:        project.TeamId,
		Plan:          "pro",
		ApiCallsLimit: 100,
	}).Error)

	return &relayFixture{
		project: project,
		session: &meta.Session{
			ProjectID:  project.Id,
			TeamID:     project.TeamId,
			Provider:   adapter,
			PartialKey: "client-half",
		},
	}
}

func (f *relayFixture) newContext(t *testing.T, path, body string, headers map[string]string) (*httptest.ResponseRecorder, *gin.Context) {
	t.Helper()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost,
		"/v1/openai/"+f.project.Id+path, bytes.NewReader([]byte(body)))
	c.Request.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		c.Request.Header.Set(k, v)
	}
	c.Params = gin.Params{
		{Key: "provider", Value: "openai"},
		{Key: "projectId", Value: f.project.Id},
		{Key: "path", Value: path},
	}
	meta.Store(c, f.session)
	return w, c
}

func (f *relayFixture) waitForExecution(t *testing.T) *model.Execution {
	t.Helper()
	var exec model.Execution
	require.Eventually(t, func() bool {
		err := model.DB.Where("project_id = ?", f.project.Id).First(&exec).Error
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	return &exec
}

func (f *relayFixture) teamUsage(t *testing.T) int64 {
	t.Helper()
	var limits model.TeamLimits
	require.NoError(t, model.DB.Where("team_id = ?", f.project.TeamId).First(&limits).Error)
	return limits.ApiCallsUsed
}

func TestRelayBufferedSuccess(t *testing.T) {
	upstreamBody := `{"id":"chatcmpl-1","model":"gpt-4o","choices":[{"message":{"content":"hi"},"finish_reason":"stop"}],"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`

	var gotAuth string
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(upstreamBody))
	}))
	defer srv.Close()

	setupRelay(t, srv.URL, 2)
	f := newFixture(t)

	w, c := f.newContext(t, "/chat/completions", `{"model":"gpt-4o","messages":[]}`, nil)
	Relay(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, upstreamBody, w.Body.String())
	assert.Equal(t, "0", w.Header().Get("X-Proxed-Retries"))
	assert.Equal(t, "/chat/completions", gotPath)
	assert.Equal(t, "Bearer sk-server-half-client-half", gotAuth)

	exec := f.waitForExecution(t)
	assert.Equal(t, 10, exec.PromptTokens)
	assert.Equal(t, 5, exec.CompletionTokens)
	assert.Equal(t, 15, exec.TotalTokens)
	assert.Equal(t, "stop", exec.FinishReason)
	assert.Equal(t, "gpt-4o", exec.Model)
	assert.Equal(t, http.StatusOK, exec.ResponseCode)
	assert.Equal(t, 0, exec.Retries)
	assert.False(t, exec.Streamed)
	assert.Greater(t, exec.TotalCost, 0.0)
	assert.NotEmpty(t, exec.ClientIP)
	assert.Equal(t, "client-h", exec.KeyId)

	assert.Equal(t, int64(1), f.teamUsage(t))
}

func TestRelayRetriesExhausted(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	setupRelay(t, srv.URL, 2)
	f := newFixture(t)

	w, c := f.newContext(t, "/chat/completions", `{"model":"gpt-4o"}`, nil)
	Relay(c)

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "PROVIDER_ERROR", gjson.Get(w.Body.String(), "error").String())
	assert.Equal(t, int32(3), hits.Load())

	exec := f.waitForExecution(t)
	assert.Equal(t, 2, exec.Retries)
	assert.Equal(t, http.StatusBadGateway, exec.ResponseCode)
	assert.Equal(t, "error", exec.FinishReason)

	// A failed relay must not consume quota.
	assert.Equal(t, int64(0), f.teamUsage(t))
}

func TestRelaySurfacesUpstreamClientError(t *testing.T) {
	upstreamBody := `{"error":{"message":"model not found","type":"invalid_request_error"}}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(upstreamBody))
	}))
	defer srv.Close()

	setupRelay(t, srv.URL, 2)
	f := newFixture(t)

	w, c := f.newContext(t, "/chat/completions", `{"model":"nope"}`, nil)
	Relay(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, upstreamBody, w.Body.String())

	exec := f.waitForExecution(t)
	assert.Equal(t, http.StatusNotFound, exec.ResponseCode)
	assert.Equal(t, "error", exec.FinishReason)
	assert.Contains(t, exec.ErrorMessage, "model not found")
	assert.Equal(t, int64(0), f.teamUsage(t))
}

func TestRelayStreamingSSE(t *testing.T) {
	streamBody := strings.Join([]string{
		`data: {"id":"1","model":"gpt-4o","choices":[{"delta":{"content":"He"},"finish_reason":null}]}`,
		``,
		`data: {"id":"2","model":"gpt-4o","choices":[{"delta":{"content":"llo"},"finish_reason":null}]}`,
		``,
		`data: {"id":"3","model":"gpt-4o","choices":[{"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`,
		``,
		`data: [DONE]`,
		``,
		``,
	}, "\n")

	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(streamBody))
	}))
	defer srv.Close()

	setupRelay(t, srv.URL, 2)
	f := newFixture(t)

	w, c := f.newContext(t, "/chat/completions", `{"model":"gpt-4o","stream":true}`, nil)
	Relay(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, streamBody, w.Body.String(), "stream must reach the client verbatim")
	assert.Contains(t, w.Header().Get("Content-Type"), "text/event-stream")

	// The forwarded body is rewritten to request usage in the final frame.
	assert.True(t, gjson.Get(gotBody, "stream_options.include_usage").Bool())

	exec := f.waitForExecution(t)
	assert.True(t, exec.Streamed)
	assert.Equal(t, 15, exec.TotalTokens)
	assert.Equal(t, "stop", exec.FinishReason)
	assert.Equal(t, "gpt-4o", exec.Model)

	require.Eventually(t, func() bool {
		return f.teamUsage(t) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRequestWantsStream(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/v1/openai/p/chat/completions", nil)

	assert.True(t, requestWantsStream(c, []byte(`{"stream":true}`), "chat/completions"))
	assert.False(t, requestWantsStream(c, []byte(`{"stream":false}`), "chat/completions"))
	assert.False(t, requestWantsStream(c, []byte(`{}`), "chat/completions"))
	assert.True(t, requestWantsStream(c, nil, "models/gemini-2.5-pro:streamGenerateContent"))

	// gin caches the parsed query string per context, so use a fresh context
	// for a request with different query parameters.
	c, _ = gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/v1/google/p/models/g:generateContent?alt=sse", nil)
	assert.True(t, requestWantsStream(c, nil, "models/g:generateContent"))
}

func TestRewriteStreamOptions(t *testing.T) {
	provider.Init()
	openai, err := provider.GetAdapter("openai")
	require.NoError(t, err)
	anthropic, err := provider.GetAdapter("anthropic")
	require.NoError(t, err)

	body := []byte(`{"model":"gpt-4o","stream":true}`)

	out := rewriteStreamOptions(openai, "application/json", body, true)
	assert.True(t, gjson.GetBytes(out, "stream_options.include_usage").Bool())

	// Explicit caller choice wins.
	explicit := []byte(`{"stream":true,"stream_options":{"include_usage":false}}`)
	out = rewriteStreamOptions(openai, "application/json", explicit, true)
	assert.False(t, gjson.GetBytes(out, "stream_options.include_usage").Bool())

	// Non-streaming, non-OpenAI, and non-JSON bodies pass through untouched.
	assert.Equal(t, body, rewriteStreamOptions(openai, "application/json", body, false))
	assert.Equal(t, body, rewriteStreamOptions(anthropic, "application/json", body, true))
	raw := []byte("not json")
	assert.Equal(t, raw, rewriteStreamOptions(openai, "application/json", raw, true))
	assert.Equal(t, body, rewriteStreamOptions(openai, "text/plain", body, true))
}

func TestListExecutions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	setupRelay(t, srv.URL, 0)
	f := newFixture(t)

	for i := 0; i < 3; i++ {
		model.RecordExecution(context.Background(), &model.Execution{
			ProjectId:    f.project.Id,
			TeamId:       f.project.TeamId,
			Provider:     "openai",
			Model:        "gpt-4o",
			ResponseCode: http.StatusOK,
		})
	}

	w, c := f.newContext(t, "/chat/completions", "", nil)
	c.Request = httptest.NewRequest(http.MethodGet,
		"/executions/openai/"+f.project.Id+"?limit=2", nil)
	meta.Store(c, f.session)
	ListExecutions(c)

	require.Equal(t, http.StatusOK, w.Code)
	data := gjson.Get(w.Body.String(), "data")
	assert.Equal(t, 2, int(data.Get("#").Int()))
	assert.Equal(t, "gpt-4o", data.Get("0.model").String())
}
