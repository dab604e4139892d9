// Package meter implements the C6 streaming meter: a byte-exact SSE
// forwarder running alongside a usage accumulator, driven by one state
// machine per stream. Forwarding and accounting never share mutable state
// beyond the usage value the accumulator produces at the end.
package meter

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/tidwall/gjson"

	gateway "github.com/keystonegw/gateway/internal"
	"github.com/keystonegw/gateway/internal/provider/sseutil"
)

// state names the stream's position, per spec: an event-driven state
// machine rather than a callback chain.
type state int

const (
	awaitingStart state = iota
	inMessage
	inContentBlock
	complete
	errorState
)

func (s state) isComplete() bool { return s == complete }

// Forwarder writes assembled SSE frames to the client verbatim and flushes
// after each one. It holds no usage state.
type Forwarder struct {
	w     io.Writer
	flush func()
}

// NewForwarder returns a Forwarder writing to w, calling flush (if non-nil)
// after every frame.
func NewForwarder(w io.Writer, flush func()) *Forwarder {
	return &Forwarder{w: w, flush: flush}
}

// WriteFrame writes one complete SSE frame (its original lines, rejoined
// with a trailing blank line) and flushes.
func (f *Forwarder) WriteFrame(lines []string) error {
	for _, l := range lines {
		if _, err := io.WriteString(f.w, l+"\n"); err != nil {
			return err
		}
	}
	if _, err := io.WriteString(f.w, "\n"); err != nil {
		return err
	}
	if f.flush != nil {
		f.flush()
	}
	return nil
}

// Accumulator reconstructs Usage from in-band SSE events, with a
// whitespace-word-count fallback when the upstream never reports usage.
type Accumulator struct {
	family   gateway.EndpointFamily
	state    state
	usage    gateway.Usage
	sawUsage bool
	words    int
}

// NewAccumulator returns an Accumulator for the given endpoint family.
func NewAccumulator(family gateway.EndpointFamily) *Accumulator {
	return &Accumulator{family: family, state: awaitingStart}
}

// Observe feeds one SSE event (its type, possibly empty, and its data
// payload) to the accumulator.
func (a *Accumulator) Observe(event, data string) {
	if data == "[DONE]" {
		a.state = complete
		return
	}
	r := gjson.Parse(data)

	switch a.family {
	case gateway.FamilyAnthropicMessages:
		a.observeAnthropic(event, r)
	default:
		a.observeOpenAI(r)
	}
}

func (a *Accumulator) observeOpenAI(r gjson.Result) {
	if a.state == awaitingStart {
		a.state = inMessage
	}
	// openai_chat: choices[].delta.content; openai_responses: delta text
	// events carry their text at "delta".
	if d := r.Get("choices.0.delta.content"); d.Exists() && d.Type == gjson.String {
		a.words += countWords(d.String())
	} else if d := r.Get("delta"); d.Exists() && d.Type == gjson.String {
		a.words += countWords(d.String())
	}

	if u := r.Get("usage"); u.Exists() && u.IsObject() {
		a.applyOpenAIUsage(u)
	}
	if u := r.Get("response.usage"); u.Exists() && u.IsObject() {
		a.applyOpenAIUsage(u)
	}
}

func (a *Accumulator) applyOpenAIUsage(u gjson.Result) {
	in := firstInt(u, "prompt_tokens", "input_tokens")
	out := firstInt(u, "completion_tokens", "output_tokens")
	cacheRead := u.Get("prompt_tokens_details.cached_tokens").Int()
	if cacheRead == 0 {
		cacheRead = u.Get("input_tokens_details.cached_tokens").Int()
	}
	a.usage.InputTokens = in
	a.usage.OutputTokens = out
	a.usage.CacheReadTokens = cacheRead
	a.sawUsage = true
}

func (a *Accumulator) observeAnthropic(event string, r gjson.Result) {
	switch event {
	case "message_start":
		a.state = inMessage
		a.usage.InputTokens = r.Get("message.usage.input_tokens").Int()
		a.usage.CacheReadTokens = r.Get("message.usage.cache_read_input_tokens").Int()
		a.usage.CacheWriteTokens = r.Get("message.usage.cache_creation_input_tokens").Int()
	case "content_block_start":
		a.state = inContentBlock
	case "content_block_delta":
		if text := r.Get("delta.text"); text.Exists() {
			a.words += countWords(text.String())
		}
	case "content_block_stop":
		a.state = inMessage
	case "message_delta":
		a.usage.OutputTokens = r.Get("usage.output_tokens").Int()
		a.sawUsage = true
	case "message_stop":
		a.state = complete
	}
}

// Usage returns the reconstructed usage. If no upstream usage block was
// ever observed, it applies the whitespace-word-count fallback estimate
// and marks the result Estimated.
func (a *Accumulator) Usage() gateway.Usage {
	if !a.sawUsage {
		a.usage.OutputTokens = int64(float64(a.words) * 1.3)
		a.usage.Estimated = true
	}
	return a.usage
}

// Failed reports whether the accumulator ended in the error state.
func (a *Accumulator) Failed() bool { return a.state == errorState }

func firstInt(r gjson.Result, keys ...string) int64 {
	for _, k := range keys {
		if v := r.Get(k); v.Exists() {
			return v.Int()
		}
	}
	return 0
}

func countWords(s string) int {
	return len(strings.Fields(s))
}

// UsageFromBody extracts Usage from a complete (non-streaming) JSON response
// body, used by C5 drivers for ForwardUnary. Unknown shapes yield a zero
// Usage rather than an error -- C7 treats that the same as "no usage".
func UsageFromBody(family gateway.EndpointFamily, body []byte) gateway.Usage {
	u := gjson.GetBytes(body, "usage")
	if !u.Exists() {
		return gateway.Usage{}
	}
	if family == gateway.FamilyAnthropicMessages {
		return gateway.Usage{
			InputTokens:      u.Get("input_tokens").Int(),
			OutputTokens:     u.Get("output_tokens").Int(),
			CacheReadTokens:  u.Get("cache_read_input_tokens").Int(),
			CacheWriteTokens: u.Get("cache_creation_input_tokens").Int(),
		}
	}
	cacheRead := u.Get("prompt_tokens_details.cached_tokens").Int()
	if cacheRead == 0 {
		cacheRead = u.Get("input_tokens_details.cached_tokens").Int()
	}
	return gateway.Usage{
		InputTokens:     firstInt(u, "prompt_tokens", "input_tokens"),
		OutputTokens:    firstInt(u, "completion_tokens", "output_tokens"),
		CacheReadTokens: cacheRead,
	}
}

// Run reads SSE frames from body, forwards each verbatim via f, and feeds
// it to acc, until body is exhausted or ctx is cancelled. One frame is
// buffered at a time, per spec's ordering guarantee. Malformed framing
// (a block with no recognizable data/event lines) is logged and skipped,
// never silently dropped once it has been read off the wire.
func Run(ctx context.Context, body io.Reader, f *Forwarder, acc *Accumulator) error {
	scanner := sseutil.NewScanner(body)

	var lines []string
	var event, data string
	flushFrame := func() error {
		if len(lines) == 0 {
			return nil
		}
		if err := f.WriteFrame(lines); err != nil {
			return err
		}
		acc.Observe(event, data)
		lines, event, data = nil, "", ""
		return nil
	}

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Text()
		if line == "" {
			if err := flushFrame(); err != nil {
				return err
			}
			continue
		}

		ev, d, ok := sseutil.ParseSSELine(line)
		if !ok {
			if !strings.Contains(line, ":") {
				slog.Warn("meter: skipping malformed SSE line", "line", line)
				continue
			}
			// Comments and id:/retry: fields carry no usage but stay in the
			// forwarded frame.
			lines = append(lines, line)
			continue
		}
		lines = append(lines, line)
		if ev != "" {
			event = ev
		}
		if d != "" {
			if data != "" {
				data += "\n" + d
			} else {
				data = d
			}
		}
	}
	if err := flushFrame(); err != nil {
		return err
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("meter: read stream: %w", err)
	}
	return nil
}
