package relay

import (
	"bytes"
	"encoding/json"

	openai "github.com/sashabaranov/go-openai"
	"github.com/tidwall/gjson"
)

// Grammar knows how to turn one complete frame payload from a specific
// provider into normalized events. Parse returns zero events for frames
// that carry no text (role preludes, pings, vendor noise, corrupt bytes):
// a single malformed frame must not kill an otherwise-healthy stream.
type Grammar struct {
	Parse func(data []byte) []Event
}

// openaiDoneSentinel terminates OpenAI-compatible streams.
const openaiDoneSentinel = "[DONE]"

// openaiGrammar parses the OpenAI chat-completions chunk format, shared by
// DeepSeek and Moonshot. The delta rides on choices[0].delta.content and
// the stream ends with a literal [DONE] frame.
func openaiGrammar() Grammar {
	return Grammar{Parse: func(data []byte) []Event {
		if string(bytes.TrimSpace(data)) == openaiDoneSentinel {
			return []Event{Done()}
		}
		var chunk openai.ChatCompletionStreamResponse
		if err := json.Unmarshal(data, &chunk); err != nil {
			return nil
		}
		if len(chunk.Choices) == 0 {
			return nil
		}
		if text := chunk.Choices[0].Delta.Content; text != "" {
			return []Event{Chunk(text)}
		}
		return nil
	}}
}

// anthropicGrammar parses the Anthropic messages event format. Text rides
// on content_block_delta events and message_stop is the sentinel.
func anthropicGrammar() Grammar {
	return Grammar{Parse: func(data []byte) []Event {
		if !gjson.ValidBytes(data) {
			return nil
		}
		switch gjson.GetBytes(data, "type").String() {
		case "message_stop":
			return []Event{Done()}
		case "content_block_delta":
			if text := gjson.GetBytes(data, "delta.text").String(); text != "" {
				return []Event{Chunk(text)}
			}
			return nil
		case "error":
			detail := gjson.GetBytes(data, "error.message").String()
			if detail == "" {
				detail = "upstream error"
			}
			return []Event{ErrorEvent(detail)}
		default:
			// message_start, content_block_start, ping, etc.
			return nil
		}
	}}
}

// geminiGrammar parses the Gemini streamGenerateContent SSE format. There
// is no explicit sentinel; the final chunk carries a finishReason and the
// connection closes.
func geminiGrammar() Grammar {
	return Grammar{Parse: func(data []byte) []Event {
		if !gjson.ValidBytes(data) {
			return nil
		}
		if msg := gjson.GetBytes(data, "error.message"); msg.Exists() {
			return []Event{ErrorEvent(msg.String())}
		}

		var events []Event
		if text := gjson.GetBytes(data, "candidates.0.content.parts.0.text").String(); text != "" {
			events = append(events, Chunk(text))
		}
		if gjson.GetBytes(data, "candidates.0.finishReason").Exists() {
			events = append(events, Done())
		}
		return events
	}}
}
