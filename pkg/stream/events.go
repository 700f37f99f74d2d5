package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// The data stream protocol frames heterogeneous events onto one response
// body, one frame per line: a single-character tag, a colon, and a JSON
// payload. This is an external, versioned contract shared with the web
// client; tags must not be repurposed.
const (
	tagText          = '0'
	tagError         = '3'
	tagData          = '2'
	tagToolCall      = '9'
	tagToolResult    = 'a'
	tagToolCallStart = 'b'
	tagToolCallDelta = 'c'
	tagFinishMessage = 'd'
)

// Event is a closed union over the frame types the demultiplexer routes.
// Exactly one concrete type is produced per well-formed frame.
type Event interface {
	isEvent()
}

// TextEvent is a plain text token.
type TextEvent struct {
	Text string
}

// ToolCallStartEvent announces that the model is streaming a tool call.
// Args is present when the producer already knows the call arguments (e.g.
// a browse request carrying its target URL).
type ToolCallStartEvent struct {
	ToolCallId string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Args       json.RawMessage `json:"args,omitempty"`
}

// ToolCallDeltaEvent carries an incremental piece of a tool call's argument
// text. For inline tools the argument text is the visible content.
type ToolCallDeltaEvent struct {
	ToolCallId    string `json:"toolCallId"`
	ArgsTextDelta string `json:"argsTextDelta"`
}

// ToolResultEvent carries the final result of a tool call.
type ToolResultEvent struct {
	ToolCallId string          `json:"toolCallId"`
	Result     json.RawMessage `json:"result"`
}

// DataItem is one element of a data frame payload.
type DataItem struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
}

// DataEvent is an ordered list of typed payload elements.
type DataEvent struct {
	Items []DataItem
}

// FinishEvent terminates the stream with the model's finish reason.
type FinishEvent struct {
	FinishReason string `json:"finishReason"`
}

// ErrorEvent carries a producer-side error message.
type ErrorEvent struct {
	Message string
}

func (TextEvent) isEvent()          {}
func (ToolCallStartEvent) isEvent() {}
func (ToolCallDeltaEvent) isEvent() {}
func (ToolResultEvent) isEvent()    {}
func (DataEvent) isEvent()          {}
func (FinishEvent) isEvent()        {}
func (ErrorEvent) isEvent()         {}

// ParseFrame decodes one protocol line into an Event. Unknown tags return
// (nil, nil) so new producer-side frame types degrade to no-ops.
func ParseFrame(line []byte) (Event, error) {
	line = bytes.TrimRight(line, "\r\n")
	if len(line) < 2 || line[1] != ':' {
		return nil, fmt.Errorf("malformed frame: %q", line)
	}

	tag, payload := line[0], line[2:]
	switch tag {
	case tagText:
		var text string
		if err := json.Unmarshal(payload, &text); err != nil {
			return nil, fmt.Errorf("text frame: %w", err)
		}
		return TextEvent{Text: text}, nil

	case tagToolCallStart:
		var ev ToolCallStartEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("tool call start frame: %w", err)
		}
		return ev, nil

	case tagToolCallDelta:
		var ev ToolCallDeltaEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("tool call delta frame: %w", err)
		}
		return ev, nil

	case tagToolCall:
		// A completed tool call repeats what the start and delta frames
		// already delivered; re-parse it as a start so late-joining args
		// (browse URLs) are still visible.
		var ev ToolCallStartEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("tool call frame: %w", err)
		}
		return ev, nil

	case tagToolResult:
		var ev ToolResultEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("tool result frame: %w", err)
		}
		return ev, nil

	case tagData:
		var items []DataItem
		if err := json.Unmarshal(payload, &items); err != nil {
			return nil, fmt.Errorf("data frame: %w", err)
		}
		return DataEvent{Items: items}, nil

	case tagFinishMessage:
		var ev FinishEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("finish frame: %w", err)
		}
		return ev, nil

	case tagError:
		var msg string
		if err := json.Unmarshal(payload, &msg); err != nil {
			return nil, fmt.Errorf("error frame: %w", err)
		}
		return ErrorEvent{Message: msg}, nil

	default:
		return nil, nil
	}
}

// EncodeTextFrame frames s as a text token line. The producer side of the
// protocol: each chunk is written as 0:<json-encoded-string>\n.
func EncodeTextFrame(s string) []byte {
	encoded, _ := json.Marshal(s)
	frame := make([]byte, 0, len(encoded)+3)
	frame = append(frame, tagText, ':')
	frame = append(frame, encoded...)
	frame = append(frame, '\n')
	return frame
}

// EncodeErrorFrame frames an error message line.
func EncodeErrorFrame(msg string) []byte {
	encoded, _ := json.Marshal(msg)
	frame := make([]byte, 0, len(encoded)+3)
	frame = append(frame, tagError, ':')
	frame = append(frame, encoded...)
	frame = append(frame, '\n')
	return frame
}

// EncodeFinishFrame frames the stream-terminating finish reason.
func EncodeFinishFrame(reason string) []byte {
	payload, _ := json.Marshal(FinishEvent{FinishReason: reason})
	frame := make([]byte, 0, len(payload)+3)
	frame = append(frame, tagFinishMessage, ':')
	frame = append(frame, payload...)
	frame = append(frame, '\n')
	return frame
}
