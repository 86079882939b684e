package streaming

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	relaymodel "github.com/proxed/gateway/relay/model"
	"github.com/proxed/gateway/relay/provider"
)

func openAIAdapter(t *testing.T) provider.Adapter {
	t.Helper()
	provider.Init()
	a, err := provider.GetAdapter("openai")
	require.NoError(t, err)
	return a
}

func anthropicAdapter(t *testing.T) provider.Adapter {
	t.Helper()
	provider.Init()
	a, err := provider.GetAdapter("anthropic")
	require.NoError(t, err)
	return a
}

const openAIStream = "data: {\"model\":\"gpt-4o\",\"choices\":[{\"delta\":{\"content\":\"He\"}}]}\n\n" +
	"data: {\"choices\":[{\"delta\":{\"content\":\"llo\"}}]}\n\n" +
	": keepalive\n" +
	"data: {\"choices\":[{\"finish_reason\":\"stop\"}],\"usage\":{\"prompt_tokens\":10,\"completion_tokens\":5,\"total_tokens\":15}}\n\n" +
	"data: [DONE]\n\n"

func TestCollectorSSE(t *testing.T) {
	c := NewCollector(openAIAdapter(t), FormatSSE, "chat/completions")
	c.Feed([]byte(openAIStream))
	summary := c.Finalize()

	assert.Equal(t, relaymodel.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}, summary.Usage)
	assert.Equal(t, relaymodel.FinishReasonStop, summary.FinishReason)
	assert.Equal(t, "gpt-4o", summary.Model)
	assert.Equal(t, 3, summary.Events)
	assert.Zero(t, summary.ParseErrors)
}

func TestCollectorLaterModelWins(t *testing.T) {
	c := NewCollector(openAIAdapter(t), FormatSSE, "chat/completions")
	c.Feed([]byte("data: {\"model\":\"gpt-4o\",\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n\n"))
	c.Feed([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"b\"}}]}\n\n"))
	c.Feed([]byte("data: {\"model\":\"gpt-4o-2024-08-06\",\"choices\":[{\"finish_reason\":\"stop\"}]}\n\n"))

	summary := c.Finalize()
	// The resolved variant from the later event replaces the earlier alias;
	// events without a model leave it untouched.
	assert.Equal(t, "gpt-4o-2024-08-06", summary.Model)
}

// The split point of upstream chunks must never change the collected result.
func TestCollectorChunkBoundaryInvariance(t *testing.T) {
	reference := NewCollector(openAIAdapter(t), FormatSSE, "chat/completions")
	reference.Feed([]byte(openAIStream))
	want := reference.Finalize()

	for _, size := range []int{1, 3, 7, 16, 64} {
		c := NewCollector(openAIAdapter(t), FormatSSE, "chat/completions")
		data := []byte(openAIStream)
		for len(data) > 0 {
			n := size
			if n > len(data) {
				n = len(data)
			}
			c.Feed(data[:n])
			data = data[n:]
		}
		assert.Equal(t, want, c.Finalize(), "chunk size %d", size)
	}
}

func TestCollectorMonotonicAccumulation(t *testing.T) {
	// Anthropic reports input tokens at message_start and output tokens in
	// the final delta; later values must refine, not reset, earlier ones.
	c := NewCollector(anthropicAdapter(t), FormatSSE, "messages")
	c.Feed([]byte("data: {\"type\":\"message_start\",\"message\":{\"model\":\"claude-sonnet-4\",\"usage\":{\"input_tokens\":20,\"output_tokens\":1}}}\n\n"))
	c.Feed([]byte("data: {\"type\":\"content_block_delta\",\"delta\":{\"text\":\"hi\"}}\n\n"))
	c.Feed([]byte("data: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"end_turn\"},\"usage\":{\"output_tokens\":42}}\n\n"))
	summary := c.Finalize()

	assert.Equal(t, 20, summary.Usage.PromptTokens)
	assert.Equal(t, 42, summary.Usage.CompletionTokens)
	assert.Equal(t, 62, summary.Usage.TotalTokens)
	assert.Equal(t, relaymodel.FinishReasonStop, summary.FinishReason)
	assert.Equal(t, "claude-sonnet-4", summary.Model)
}

func TestCollectorNDJSON(t *testing.T) {
	c := NewCollector(openAIAdapter(t), FormatNDJSON, "chat/completions")
	c.Feed([]byte("{\"model\":\"gpt-4o\"}\n{\"usage\":{\"prompt_tokens\":3,\"comp"))
	// The trailing partial line waits for its remainder.
	c.Feed([]byte("letion_tokens\":2}}\n"))
	summary := c.Finalize()

	assert.Equal(t, relaymodel.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5}, summary.Usage)
	assert.Equal(t, 2, summary.Events)
}

func TestCollectorFlushesUnterminatedTrailingLine(t *testing.T) {
	c := NewCollector(openAIAdapter(t), FormatNDJSON, "chat/completions")
	c.Feed([]byte("{\"usage\":{\"prompt_tokens\":3,\"completion_tokens\":2}}"))
	summary := c.Finalize()

	assert.Equal(t, 5, summary.Usage.TotalTokens)
	assert.Equal(t, 1, summary.Events)
}

func TestCollectorSkipsUnparseableFragments(t *testing.T) {
	c := NewCollector(openAIAdapter(t), FormatSSE, "chat/completions")
	c.Feed([]byte("data: not json at all\n\n"))
	c.Feed([]byte("data: {\"usage\":{\"prompt_tokens\":1,\"completion_tokens\":1}}\n\n"))
	summary := c.Finalize()

	assert.Equal(t, 1, summary.ParseErrors)
	assert.Equal(t, 1, summary.Events)
	assert.Equal(t, 2, summary.Usage.TotalTokens)
}

func TestCollectorBackfillsTotal(t *testing.T) {
	c := NewCollector(anthropicAdapter(t), FormatSSE, "messages")
	c.Feed([]byte("data: {\"usage\":{\"input_tokens\":6,\"output_tokens\":4}}\n\n"))
	summary := c.Finalize()
	assert.Equal(t, 10, summary.Usage.TotalTokens)
}

func TestFormatFromContentType(t *testing.T) {
	assert.Equal(t, FormatSSE, FormatFromContentType("text/event-stream; charset=utf-8"))
	assert.Equal(t, FormatNDJSON, FormatFromContentType("application/x-ndjson"))
	assert.Equal(t, FormatNDJSON, FormatFromContentType("application/json"))
}
