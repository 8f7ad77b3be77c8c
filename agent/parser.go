package agent

import (
	"bytes"
	"encoding/json"

	"github.com/conductor-dev/conductor/log"
)

// maxCarrySize bounds the carry-over buffer for an unterminated line.
const maxCarrySize = 1024 * 1024

// parser converts raw output chunks into normalized events. Output is
// buffered and split on newlines; an incomplete trailing line is carried
// over to the next chunk. Lines that are not valid JSON events are
// ignored, since the wire format interleaves structured events with
// possible noise.
type parser struct {
	carry []byte

	// model from an early announcement event, back-filled into the
	// result event when the result itself omits it
	model          string
	conversationID string

	// with partial messages enabled the same content arrives twice,
	// once as deltas and once inside the full assistant message
	sawTextDelta bool
	seenTools    map[string]bool
}

func (p *parser) emitTool(name, id string, input map[string]any) []Event {
	if id != "" {
		if p.seenTools == nil {
			p.seenTools = make(map[string]bool)
		}
		if p.seenTools[id] {
			return nil
		}
		p.seenTools[id] = true
	}
	return []Event{{Type: EventTool, ToolName: name, ToolID: id, ToolInput: input}}
}

// feed consumes one raw chunk and returns the events completed by it.
func (p *parser) feed(chunk []byte) []Event {
	p.carry = append(p.carry, chunk...)

	var events []Event
	for {
		idx := bytes.IndexByte(p.carry, '\n')
		if idx < 0 {
			break
		}
		line := p.carry[:idx]
		p.carry = p.carry[idx+1:]
		events = append(events, p.parseLine(line)...)
	}

	if len(p.carry) > maxCarrySize {
		log.Warn().Int("size", len(p.carry)).Msg("discarding oversized unterminated output line")
		p.carry = nil
	}
	return events
}

// flush parses whatever remains in the carry-over buffer, for use once
// the process has exited.
func (p *parser) flush() []Event {
	line := p.carry
	p.carry = nil
	return p.parseLine(line)
}

// wire shapes; unknown fields are ignored

type wireMessage struct {
	Type      string          `json:"type"`
	Subtype   string          `json:"subtype"`
	SessionID string          `json:"session_id"`
	Model     string          `json:"model"`
	Message   json.RawMessage `json:"message"`
	Event     *wireStreamNode `json:"event"`
	Error     string          `json:"error"`

	// result fields
	IsError      bool       `json:"is_error"`
	Result       string     `json:"result"`
	Usage        *wireUsage `json:"usage"`
	TotalCostUSD float64    `json:"total_cost_usd"`
	DurationMs   int64      `json:"duration_ms"`
}

type wireInner struct {
	Model   string          `json:"model"`
	Content json.RawMessage `json:"content"`
}

type wireBlock struct {
	Type  string         `json:"type"`
	Text  string         `json:"text"`
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

type wireStreamNode struct {
	Type         string     `json:"type"`
	Delta        *wireBlock `json:"delta"`
	ContentBlock *wireBlock `json:"content_block"`
	// both casings appear in the wild
	ToolUseID    string `json:"tool_use_id"`
	ToolUseIDAlt string `json:"toolUseId"`
}

type wireUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// parseLine normalizes one wire line into zero or more events.
func (p *parser) parseLine(line []byte) []Event {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil
	}

	var msg wireMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		// malformed lines are expected noise
		log.Debug().Str("line", truncate(string(line), 200)).Msg("ignoring unparseable output line")
		return nil
	}

	switch msg.Type {
	case "system":
		if msg.Subtype == "init" {
			if msg.Model != "" {
				p.model = msg.Model
			}
			if msg.SessionID != "" {
				p.conversationID = msg.SessionID
			}
		}
		return nil

	case "assistant":
		var inner wireInner
		if err := json.Unmarshal(msg.Message, &inner); err != nil {
			return nil
		}
		return p.parseAssistant(&inner)

	case "stream_event":
		return p.parseStreamEvent(msg.Event)

	case "result":
		res := &Result{
			ConversationID: msg.SessionID,
			Model:          msg.Model,
			CostUSD:        msg.TotalCostUSD,
			DurationMs:     msg.DurationMs,
			IsError:        msg.IsError,
			Subtype:        msg.Subtype,
			Text:           msg.Result,
		}
		if msg.Usage != nil {
			res.InputTokens = msg.Usage.InputTokens
			res.OutputTokens = msg.Usage.OutputTokens
		}
		if res.ConversationID == "" {
			res.ConversationID = p.conversationID
		}
		if res.Model == "" {
			res.Model = p.model
		}
		return []Event{{Type: EventResult, Result: res}}

	case "error":
		text := msg.Error
		if text == "" {
			var s string
			json.Unmarshal(msg.Message, &s)
			text = s
		}
		if text == "" {
			text = "unknown agent error"
		}
		return []Event{{Type: EventError, Message: text}}
	}

	return nil
}

// parseAssistant handles a full assistant message: text blocks plus the
// first of the two tool-use encodings.
func (p *parser) parseAssistant(inner *wireInner) []Event {
	if inner == nil {
		return nil
	}
	if inner.Model != "" {
		p.model = inner.Model
	}

	var blocks []wireBlock
	if err := json.Unmarshal(inner.Content, &blocks); err != nil {
		// content may be a plain string in older protocol versions
		var text string
		if json.Unmarshal(inner.Content, &text) == nil && text != "" {
			return []Event{{Type: EventText, Text: text}}
		}
		return nil
	}

	var events []Event
	for _, block := range blocks {
		switch block.Type {
		case "text":
			if block.Text != "" && !p.sawTextDelta {
				events = append(events, Event{Type: EventText, Text: block.Text})
			}
		case "tool_use":
			events = append(events, p.emitTool(block.Name, block.ID, block.Input)...)
		}
	}
	return events
}

// parseStreamEvent handles partial-message events: text deltas plus the
// second tool-use encoding.
func (p *parser) parseStreamEvent(node *wireStreamNode) []Event {
	if node == nil {
		return nil
	}

	switch node.Type {
	case "content_block_delta":
		if node.Delta != nil && node.Delta.Type == "text_delta" && node.Delta.Text != "" {
			p.sawTextDelta = true
			return []Event{{Type: EventText, Text: node.Delta.Text}}
		}
	case "content_block_start":
		if node.ContentBlock != nil && node.ContentBlock.Type == "tool_use" {
			id := node.ContentBlock.ID
			if id == "" {
				id = node.ToolUseID
			}
			if id == "" {
				id = node.ToolUseIDAlt
			}
			return p.emitTool(node.ContentBlock.Name, id, node.ContentBlock.Input)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
