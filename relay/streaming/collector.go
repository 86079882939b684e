// Package streaming relays upstream response streams to clients while a
// side collector assembles usage metrics from the same bytes.
package streaming

import (
	"bytes"
	"strings"
	"sync"

	"github.com/Laisky/zap"
	"github.com/tidwall/gjson"

	"github.com/proxed/gateway/common/logger"
	relaymodel "github.com/proxed/gateway/relay/model"
	"github.com/proxed/gateway/relay/provider"
)

// Format identifies the wire shape of a stream.
type Format int

const (
	// FormatSSE is server-sent events: "data:" lines, blank-line delimited.
	FormatSSE Format = iota
	// FormatNDJSON is one JSON document per line.
	FormatNDJSON
)

// FormatFromContentType picks the stream format for a response content type.
// Anything that is not SSE is treated as line-delimited JSON.
func FormatFromContentType(contentType string) Format {
	if strings.Contains(strings.ToLower(contentType), "text/event-stream") {
		return FormatSSE
	}
	return FormatNDJSON
}

// doneSentinel terminates OpenAI-style SSE streams. It is not JSON and must
// not reach the parser.
const doneSentinel = "[DONE]"

// Summary is what a finished stream yields for accounting.
type Summary struct {
	Usage        relaymodel.Usage
	FinishReason relaymodel.FinishReason
	Model        string
	Events       int
	ParseErrors  int
}

// Collector assembles complete stream events from raw chunks, which may split
// anywhere including mid-line, and accumulates usage from each parsed event.
// Feed and Finalize may be called from different goroutines.
type Collector struct {
	adapter     provider.Adapter
	format      Format
	requestPath string

	mu        sync.Mutex
	pending   bytes.Buffer // bytes after the last complete line
	eventData []string     // data lines of the SSE event under assembly
	usage     relaymodel.Usage
	finish    relaymodel.FinishReason
	model     string
	events    int
	parseErrs int
}

// NewCollector builds a collector for one response stream. The request path
// is kept for path-addressed model extraction.
func NewCollector(adapter provider.Adapter, format Format, requestPath string) *Collector {
	return &Collector{
		adapter:     adapter,
		format:      format,
		requestPath: requestPath,
	}
}

// Feed consumes one raw chunk. Complete lines are processed immediately; a
// trailing partial line waits for the next chunk.
func (c *Collector) Feed(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending.Write(chunk)
	for {
		raw := c.pending.Bytes()
		idx := bytes.IndexByte(raw, '\n')
		if idx < 0 {
			return
		}
		line := string(bytes.TrimRight(raw[:idx], "\r"))
		c.pending.Next(idx + 1)
		c.consumeLine(line)
	}
}

// Finalize flushes any buffered partial event and returns the accumulated
// summary. Totals are backfilled when the provider never reported one.
func (c *Collector) Finalize() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	// A stream that ends without a trailing newline still owes us its last
	// line; a stream that ends mid-event still owes us that event.
	if c.pending.Len() > 0 {
		line := strings.TrimRight(c.pending.String(), "\r")
		c.pending.Reset()
		c.consumeLine(line)
	}
	if len(c.eventData) > 0 {
		c.dispatchEvent()
	}

	c.usage.BackfillTotal()
	return Summary{
		Usage:        c.usage,
		FinishReason: c.finish,
		Model:        c.model,
		Events:       c.events,
		ParseErrors:  c.parseErrs,
	}
}

func (c *Collector) consumeLine(line string) {
	switch c.format {
	case FormatSSE:
		c.consumeSSELine(line)
	default:
		if strings.TrimSpace(line) == "" {
			return
		}
		c.consumeDocument(line)
	}
}

func (c *Collector) consumeSSELine(line string) {
	if line == "" {
		// Blank line ends the event.
		if len(c.eventData) > 0 {
			c.dispatchEvent()
		}
		return
	}
	if strings.HasPrefix(line, ":") {
		// Comment, often used as keepalive.
		return
	}
	if payload, ok := strings.CutPrefix(line, "data:"); ok {
		payload = strings.TrimPrefix(payload, " ")
		if payload == doneSentinel {
			return
		}
		c.eventData = append(c.eventData, payload)
	}
	// Other SSE fields (event:, id:, retry:) carry no payload of interest.
}

func (c *Collector) dispatchEvent() {
	doc := strings.Join(c.eventData, "\n")
	c.eventData = c.eventData[:0]
	c.consumeDocument(doc)
}

// consumeDocument folds one complete JSON event into the accumulated state.
// Invalid payloads degrade accounting only; the relay itself is unaffected.
func (c *Collector) consumeDocument(doc string) {
	if !gjson.Valid(doc) {
		c.parseErrs++
		logger.Logger.Debug("skipping unparseable stream event",
			zap.String("provider", string(c.adapter.Type())),
			zap.Int("length", len(doc)))
		return
	}
	c.events++

	body := []byte(doc)
	if usage, ok := c.adapter.ExtractUsage(body); ok {
		c.usage.Add(usage)
	}
	if finish := c.adapter.ExtractFinishReason(body); finish != "" {
		c.finish = finish
	}
	// Later events win, mirroring finish-reason accumulation: providers may
	// only name the resolved model variant near the end of a stream.
	if model := c.adapter.ExtractModel(body, c.requestPath); model != "" {
		c.model = model
	}
}
