// Package controller orchestrates one relay: auth session in, upstream call
// out, accounting record persisted.
package controller

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	gmw "github.com/Laisky/gin-middlewares/v6"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/proxed/gateway/common/config"
	"github.com/proxed/gateway/common/ctxkey"
	"github.com/proxed/gateway/common/graceful"
	"github.com/proxed/gateway/common/helper"
	"github.com/proxed/gateway/common/render"
	"github.com/proxed/gateway/model"
	"github.com/proxed/gateway/monitor"
	"github.com/proxed/gateway/relay/forward"
	"github.com/proxed/gateway/relay/meta"
	relaymodel "github.com/proxed/gateway/relay/model"
	"github.com/proxed/gateway/relay/pricing"
	"github.com/proxed/gateway/relay/provider"
	"github.com/proxed/gateway/relay/streaming"
)

// Relay is the pass-through proxy handler for /v1/:provider/:projectId/*path.
func Relay(c *gin.Context) {
	session := meta.FromContext(c)
	if session == nil {
		render.Error(c, relaymodel.NewError(relaymodel.CodeInternalError,
			"no session on relay request"))
		return
	}
	adapter := session.Provider
	desc := adapter.Descriptor()

	project := projectFromContext(c)
	if project == nil {
		var err error
		project, err = model.GetProjectById(session.ProjectID)
		if err != nil {
			render.Error(c, relaymodel.WrapError(relaymodel.CodeDatabaseError,
				"failed to load project key material", err))
			return
		}
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		render.Error(c, relaymodel.WrapError(relaymodel.CodeBadRequest,
			"failed to read request body", err))
		return
	}

	upstreamPath := strings.TrimPrefix(c.Param("path"), "/")
	targetURL := desc.BaseURL + "/" + upstreamPath
	if raw := c.Request.URL.RawQuery; raw != "" {
		targetURL += "?" + raw
	}

	wantsStream := requestWantsStream(c, body, upstreamPath)
	body = rewriteStreamOptions(adapter, c.ContentType(), body, wantsStream)

	// The split key only exists joined inside this header set.
	overrides := http.Header{}
	adapter.SetAuthHeaders(overrides, project.ServerKeyFragment+session.PartialKey)

	// Streamed relays outlive client disconnects so accounting can finish;
	// buffered ones cancel upstream along with the caller.
	fwdCtx := c.Request.Context()
	if wantsStream {
		fwdCtx = gmw.BackgroundCtx(c)
	}

	result, errResp := forward.Do(fwdCtx, c.Request.Method, targetURL, body, forward.Config{
		Headers:        c.Request.Header,
		Overrides:      overrides,
		MaxRetries:     desc.MaxRetries,
		RetryBaseDelay: desc.RetryBaseDelay,
		Timeout:        desc.Timeout,
		Provider:       adapter,
	})
	if errResp != nil {
		recordFailure(c, session, errResp)
		monitor.RecordRelayRequest(string(adapter.Type()), strconv.Itoa(errResp.StatusCode), helper.CalcElapsedTime(session.StartTime))
		render.Error(c, errResp)
		return
	}
	defer result.Response.Body.Close()

	applyResponseHeaders(c, result)

	if result.Streaming {
		relayStream(c, session, result, upstreamPath)
		return
	}
	relayBuffered(c, session, result, upstreamPath)
}

// relayBuffered handles a non-streaming upstream response: extract metrics
// from the full body, account inline, then answer.
func relayBuffered(c *gin.Context, session *meta.Session, result *forward.Result, upstreamPath string) {
	adapter := session.Provider
	respBody, err := io.ReadAll(result.Response.Body)
	if err != nil {
		errResp := relaymodel.ProviderError("failed to read upstream response", result.Retries, "", err)
		recordFailure(c, session, errResp)
		render.Error(c, errResp)
		return
	}

	status := result.Response.StatusCode
	exec := newExecution(c, session)
	exec.ResponseCode = status
	exec.LatencyMs = result.LatencyMs
	exec.Retries = result.Retries

	if status >= 200 && status < 300 {
		usage, _ := adapter.ExtractUsage(respBody)
		usage.BackfillTotal()
		finish := adapter.ExtractFinishReason(respBody)
		modelName := adapter.ExtractModel(respBody, upstreamPath)
		fillAccounting(exec, adapter.Type(), modelName, usage, finish)
	} else {
		// Non-2xx answers pass through verbatim but are accounted as failures.
		exec.FinishReason = string(relaymodel.FinishReasonError)
		exec.ErrorMessage = truncateForRecord(respBody)
	}

	persistExecution(c.Request.Context(), c, exec)
	monitor.RecordRelayRequest(exec.Provider, strconv.Itoa(status), result.LatencyMs)

	contentType := result.Response.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	c.Data(status, contentType, respBody)
}

// relayStream tees the upstream body to the client while the collector
// watches the same chunks, then schedules accounting as a detached task.
func relayStream(c *gin.Context, session *meta.Session, result *forward.Result, upstreamPath string) {
	adapter := session.Provider
	format := streaming.FormatFromContentType(result.Response.Header.Get("Content-Type"))
	if format == streaming.FormatSSE {
		render.SetEventStreamHeaders(c)
	}
	c.Status(result.Response.StatusCode)

	collector := streaming.NewCollector(adapter, format, upstreamPath)
	stats := streaming.Relay(c, result.Response.Body, collector)
	if stats.ClientErr != nil {
		gmw.GetLogger(c).Info("client left during stream",
			zap.Int("chunks_delivered", stats.Chunks),
			zap.Error(stats.ClientErr))
	}

	summary := collector.Finalize()
	exec := newExecution(c, session)
	exec.ResponseCode = result.Response.StatusCode
	exec.LatencyMs = helper.CalcElapsedTime(session.StartTime)
	exec.Retries = result.Retries
	exec.Streamed = true
	fillAccounting(exec, adapter.Type(), summary.Model, summary.Usage, summary.FinishReason)
	if stats.UpstreamErr != nil {
		exec.FinishReason = string(relaymodel.FinishReasonError)
		exec.ErrorMessage = stats.UpstreamErr.Error()
	}

	monitor.RecordRelayRequest(exec.Provider, strconv.Itoa(exec.ResponseCode), exec.LatencyMs)
	monitor.RecordStreamChunks(exec.Provider, stats.Chunks)

	// The client already has its bytes; persistence is best-effort and never
	// holds the response path open.
	graceful.GoCritical(gmw.BackgroundCtx(c), "streamAccounting", func(cctx context.Context) {
		ctx, cancel := context.WithTimeout(cctx, config.AccountingTimeout)
		defer cancel()
		persistExecution(ctx, c, exec)
	})
}

// newExecution seeds an accounting record with request provenance.
func newExecution(c *gin.Context, session *meta.Session) *model.Execution {
	return &model.Execution{
		ProjectId: session.ProjectID,
		TeamId:    session.TeamID,
		Provider:  string(session.Provider.Type()),
		ClientIP:  c.ClientIP(),
		KeyId:     session.KeyID(),
	}
}

// fillAccounting stamps usage, finish reason, and cost onto the record.
func fillAccounting(exec *model.Execution, providerType provider.Type, modelName string, usage relaymodel.Usage, finish relaymodel.FinishReason) {
	exec.Model = modelName
	exec.PromptTokens = usage.PromptTokens
	exec.CompletionTokens = usage.CompletionTokens
	exec.TotalTokens = usage.TotalTokens
	if finish == "" {
		finish = relaymodel.FinishReasonUnknown
	}
	exec.FinishReason = string(finish)

	cost := pricing.Estimate(providerType, modelName, usage)
	exec.PromptCost = cost.Input
	exec.CompletionCost = cost.Output
	exec.TotalCost = cost.Total

	monitor.RecordTokens(string(providerType), modelName, usage.PromptTokens, usage.CompletionTokens)
}

// recordFailure persists a failed-execution record before the error is
// surfaced to the caller.
func recordFailure(c *gin.Context, session *meta.Session, errResp *relaymodel.ErrorWithStatusCode) {
	exec := newExecution(c, session)
	exec.ResponseCode = errResp.StatusCode
	exec.LatencyMs = helper.CalcElapsedTime(session.StartTime)
	exec.FinishReason = string(relaymodel.FinishReasonError)
	exec.ErrorMessage = errResp.Message
	if details, ok := errResp.Details.(map[string]any); ok {
		if retries, ok := details["retries"].(int); ok {
			exec.Retries = retries
		}
	}
	persistExecution(c.Request.Context(), c, exec)
}

// persistExecution writes the record and, for calls the upstream answered
// successfully, bumps the team usage counter.
func persistExecution(ctx context.Context, c *gin.Context, exec *model.Execution) {
	model.RecordExecution(ctx, exec)
	if exec.ResponseCode < 200 || exec.ResponseCode >= 300 {
		return
	}
	if err := model.IncrementTeamUsage(exec.TeamId); err != nil {
		gmw.GetLogger(c).Warn("failed to increment team usage",
			zap.String("team_id", exec.TeamId),
			zap.Error(err))
	}
}

func applyResponseHeaders(c *gin.Context, result *forward.Result) {
	for key, values := range result.Headers {
		for _, v := range values {
			c.Writer.Header().Add(key, v)
		}
	}
	c.Header("X-Proxed-Retries", strconv.Itoa(result.Retries))
	c.Header("X-Proxed-Latency", strconv.FormatInt(result.LatencyMs, 10))
}

// projectFromContext returns the snapshot the auth middleware fetched, so
// the hot path does not query storage twice.
func projectFromContext(c *gin.Context) *model.Project {
	if v, ok := c.Get(ctxkey.Project); ok {
		if p, ok := v.(*model.Project); ok {
			return p
		}
	}
	return nil
}

// requestWantsStream reports whether the caller asked for a streamed
// response: a JSON stream flag, Google's streaming RPC path, or an SSE query
// parameter.
func requestWantsStream(c *gin.Context, body []byte, upstreamPath string) bool {
	if gjson.GetBytes(body, "stream").Bool() {
		return true
	}
	if strings.Contains(upstreamPath, ":streamGenerateContent") {
		return true
	}
	return strings.EqualFold(c.Query("alt"), "sse")
}

// rewriteStreamOptions forces stream_options.include_usage for streamed
// OpenAI calls that did not set it, so the final SSE frame carries usage.
// Non-JSON bodies and other providers pass through untouched.
func rewriteStreamOptions(adapter provider.Adapter, contentType string, body []byte, wantsStream bool) []byte {
	if adapter.Type() != provider.TypeOpenAI || !wantsStream {
		return body
	}
	if !strings.Contains(strings.ToLower(contentType), "application/json") {
		return body
	}
	if !gjson.ValidBytes(body) {
		return body
	}
	if gjson.GetBytes(body, "stream_options.include_usage").Exists() {
		return body
	}
	rewritten, err := sjson.SetBytes(body, "stream_options.include_usage", true)
	if err != nil {
		return body
	}
	return rewritten
}

// truncateForRecord bounds an upstream error body for storage.
func truncateForRecord(body []byte) string {
	const maxLen = 2048
	s := string(body)
	if len(s) > maxLen {
		return s[:maxLen]
	}
	return s
}

// ListExecutions answers GET /executions/:provider/:projectId with the most
// recent accounting records for a project.
func ListExecutions(c *gin.Context) {
	session := meta.FromContext(c)
	if session == nil {
		render.Error(c, relaymodel.NewError(relaymodel.CodeInternalError,
			"no session on request"))
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	executions, err := model.ListExecutions(c.Request.Context(), session.ProjectID, limit)
	if err != nil {
		render.Error(c, relaymodel.WrapError(relaymodel.CodeDatabaseError,
			"failed to list executions", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":      executions,
		"requestId": c.GetString(helper.RequestIdKey),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
