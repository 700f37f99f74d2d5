package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
)

// Tools the client recognizes in tool-call-start frames. Web search and
// browsing cannot be serviced from the current stream and trigger nested
// dispatch.
const (
	ToolWebSearch       = "webSearch"
	ToolBrowser         = "browser"
	ToolCodeInterpreter = "codeInterpreter"
	ToolTerminal        = "terminal"
	ToolImageGen        = "imageGen"
)

// Data frame element types.
const (
	dataTypeImageGenerated = "imageGenerated"
	dataTypeTerminal       = "terminal"
	dataTypeStderr         = "stderr"
	dataTypeRagContext     = "ragContext"
)

// Draft is the mutable accumulator for one assistant turn. It is the single
// writer target: nested dispatch appends to the same draft, never replaces it.
type Draft struct {
	Content       string
	ToolInUse     string
	Images        []string
	RagUsed       bool
	RagId         string
	FirstTokenSet bool
}

func NewDraft() *Draft {
	return &Draft{}
}

// Result is returned when the stream ends or is aborted. Error carries the
// message of the last producer error frame, for turns where the server folded
// a mid-stream failure into the stream instead of an HTTP error.
type Result struct {
	Draft        *Draft
	FinishReason string
	Aborted      bool
	Error        string
}

// Dispatcher issues a nested request for a tool the current stream cannot
// service and merges its output into the draft.
type Dispatcher interface {
	Dispatch(ctx context.Context, tool, targetURL string, draft *Draft) error
}

// Demux consumes a data stream response and routes each event into a Draft.
// A nil dispatcher disables nested dispatch, which is how child streams are
// kept to a single level of recursion.
type Demux struct {
	dispatcher Dispatcher

	// TextSink, when set, receives every piece of text as it is appended to
	// the draft. Interactive consumers use it for progressive rendering.
	TextSink io.Writer
}

func NewDemux(dispatcher Dispatcher) *Demux {
	return &Demux{dispatcher: dispatcher}
}

// Consume reads frames from body until a finish message, EOF, or ctx
// cancellation. Cancellation is cooperative: it is checked between events,
// and a partial draft is returned rather than an error.
func (d *Demux) Consume(ctx context.Context, body io.ReadCloser, draft *Draft) (*Result, error) {
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var trackedToolCallId string
	dispatched := map[string]bool{}
	result := &Result{Draft: draft}

	for scanner.Scan() {
		if ctx.Err() != nil {
			// Client abort: keep whatever was accumulated.
			draft.ToolInUse = ""
			result.Aborted = true
			return result, nil
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		event, err := ParseFrame(line)
		if err != nil {
			// A malformed frame is a no-op, not a turn failure.
			log.Warn().Err(err).Msg("demux: skipping unparseable frame")
			continue
		}
		if event == nil {
			continue
		}

		switch ev := event.(type) {
		case TextEvent:
			d.appendText(draft, ev.Text)
			draft.FirstTokenSet = true

		case ToolCallDeltaEvent:
			// The argument text is the visible content for inline tools,
			// but only for the call we are tracking: duplicate ids across
			// calls must not cross-contaminate.
			if ev.ToolCallId == trackedToolCallId {
				d.appendText(draft, ev.ArgsTextDelta)
			}

		case ToolResultEvent:
			if ev.ToolCallId == trackedToolCallId {
				d.appendText(draft, renderToolResult(ev.Result))
			}

		case DataEvent:
			d.applyData(draft, ev)

		case ToolCallStartEvent:
			trackedToolCallId = ev.ToolCallId
			d.startTool(ctx, draft, ev, dispatched)

		case FinishEvent:
			result.FinishReason = ev.FinishReason
			return result, nil

		case ErrorEvent:
			log.Warn().Str("message", ev.Message).Msg("demux: producer error frame")
			result.Error = ev.Message
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			draft.ToolInUse = ""
			result.Aborted = true
			return result, nil
		}
		return result, err
	}

	return result, nil
}

func (d *Demux) appendText(draft *Draft, s string) {
	if s == "" {
		return
	}
	draft.Content += s
	if d.TextSink != nil {
		io.WriteString(d.TextSink, s)
	}
}

func (d *Demux) startTool(ctx context.Context, draft *Draft, ev ToolCallStartEvent, dispatched map[string]bool) {
	switch ev.ToolName {
	case ToolWebSearch, ToolBrowser, ToolCodeInterpreter, ToolTerminal, ToolImageGen:
		draft.ToolInUse = ev.ToolName
	default:
		return
	}

	if d.dispatcher == nil {
		return
	}

	// One call commonly arrives twice: a streaming-start frame and later the
	// completed-call frame with full args. Dispatch at most once per call id,
	// so the second frame only matters when the first one could not fire (a
	// browse start whose url had not streamed yet).
	if dispatched[ev.ToolCallId] {
		return
	}

	// Nested dispatch runs synchronously: its text must be fully spliced
	// into the draft before any event after this one is processed.
	switch ev.ToolName {
	case ToolWebSearch:
		dispatched[ev.ToolCallId] = true
		if err := d.dispatcher.Dispatch(ctx, ToolWebSearch, "", draft); err != nil {
			log.Warn().Err(err).Msg("demux: web search dispatch failed")
		}
	case ToolBrowser:
		targetURL := extractTargetURL(ev.Args)
		if targetURL == "" {
			log.Debug().Str("tool_call_id", ev.ToolCallId).Msg("demux: browse call without target url")
			return
		}
		dispatched[ev.ToolCallId] = true
		if err := d.dispatcher.Dispatch(ctx, ToolBrowser, targetURL, draft); err != nil {
			log.Warn().Err(err).Msg("demux: browse dispatch failed")
		}
	}
}

func (d *Demux) applyData(draft *Draft, ev DataEvent) {
	if len(ev.Items) == 0 {
		return
	}

	// An image result supersedes any placeholder text for the turn.
	if ev.Items[0].Type == dataTypeImageGenerated {
		var image struct {
			Url    string `json:"url"`
			Prompt string `json:"prompt"`
		}
		if err := json.Unmarshal(ev.Items[0].Content, &image); err != nil {
			log.Warn().Err(err).Msg("demux: malformed image payload")
			return
		}
		draft.Images = append(draft.Images, image.Url)
		draft.Content = image.Prompt
		if d.TextSink != nil {
			io.WriteString(d.TextSink, image.Prompt)
		}
		return
	}

	for _, item := range ev.Items {
		switch item.Type {
		case dataTypeRagContext:
			var rag struct {
				RagUsed bool   `json:"ragUsed"`
				RagId   string `json:"ragId"`
			}
			if err := json.Unmarshal(item.Content, &rag); err != nil {
				log.Warn().Err(err).Msg("demux: malformed rag payload")
				continue
			}
			draft.RagUsed = rag.RagUsed
			draft.RagId = rag.RagId

		case dataTypeTerminal:
			// Terminal frames are already fenced text: render raw.
			var text string
			if err := json.Unmarshal(item.Content, &text); err == nil {
				d.appendText(draft, text)
			}

		case dataTypeStderr:
			var text string
			if err := json.Unmarshal(item.Content, &text); err == nil {
				d.appendText(draft, "<stderr>"+text+"</stderr>")
			}

		default:
			var text string
			if err := json.Unmarshal(item.Content, &text); err == nil {
				d.appendText(draft, text)
			}
		}
	}
}

// renderToolResult wraps a tool result payload for inline display. Results
// and runtime errors get their own tags so the renderer can style them.
func renderToolResult(raw json.RawMessage) string {
	var payload struct {
		Results      string `json:"results"`
		RuntimeError string `json:"runtimeError"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && (payload.Results != "" || payload.RuntimeError != "") {
		var b strings.Builder
		if payload.Results != "" {
			b.WriteString("\n<results>\n" + payload.Results + "\n</results>")
		}
		if payload.RuntimeError != "" {
			b.WriteString("\n<runtimeError>\n" + payload.RuntimeError + "\n</runtimeError>")
		}
		return b.String()
	}

	// A bare string result renders as results text.
	var text string
	if err := json.Unmarshal(raw, &text); err == nil && text != "" {
		return "\n<results>\n" + text + "\n</results>"
	}

	return ""
}

func extractTargetURL(args json.RawMessage) string {
	if len(args) == 0 {
		return ""
	}
	var payload struct {
		Url string `json:"url"`
	}
	if err := json.Unmarshal(args, &payload); err != nil {
		return ""
	}
	return payload.Url
}
