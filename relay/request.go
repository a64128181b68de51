package relay

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/richinex/atelier/model"
	openai "github.com/sashabaranov/go-openai"
)

// Anthropic requires an explicit completion budget; the other providers
// default one server-side.
const anthropicMaxTokens = 4096

// UpstreamRequest is a fully built provider call, ready to dispatch.
// The body is held as bytes so the caller owns the HTTP round trip and,
// with it, the raw response byte stream.
type UpstreamRequest struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// BuildRequest constructs the upstream call for a descriptor. It fails
// fast, before any network activity, when the provider credential is
// absent. History is truncated to the descriptor's context budget,
// dropping oldest entries first; the new user message is always included.
func BuildRequest(d Descriptor, systemPrompt string, history []model.Message, userMessage string) (*UpstreamRequest, error) {
	key := os.Getenv(d.KeyEnv)
	if key == "" {
		return nil, &ConfigError{Provider: d.Provider, EnvVar: d.KeyEnv}
	}

	history = truncateHistory(history, d.MaxContextMessages)

	body, err := d.buildBody(d, systemPrompt, history, userMessage)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request body: %w", d.Provider, err)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Accept", "text/event-stream")
	switch d.auth {
	case authBearer:
		header.Set("Authorization", "Bearer "+key)
	case authAnthropic:
		header.Set("x-api-key", key)
		header.Set("anthropic-version", anthropicVersion)
	case authGoogle:
		header.Set("x-goog-api-key", key)
	}

	return &UpstreamRequest{
		Method: http.MethodPost,
		URL:    d.URL,
		Header: header,
		Body:   body,
	}, nil
}

// truncateHistory keeps the max most-recent entries.
func truncateHistory(history []model.Message, max int) []model.Message {
	if max <= 0 || len(history) <= max {
		return history
	}
	return history[len(history)-max:]
}

// openaiBody builds the OpenAI-compatible chat-completions envelope, with
// the system prompt as the first message of the array. Shared by DeepSeek
// and Moonshot.
func openaiBody(d Descriptor, systemPrompt string, history []model.Message, userMessage string) ([]byte, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	if systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	for _, msg := range history {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openaiRole(msg.Role),
			Content: msg.Content,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: userMessage,
	})

	return json.Marshal(openai.ChatCompletionRequest{
		Model:    d.Model,
		Messages: messages,
		Stream:   true,
	})
}

func openaiRole(role model.Role) string {
	if role == model.RoleAssistant {
		return openai.ChatMessageRoleAssistant
	}
	return openai.ChatMessageRoleUser
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Stream    bool               `json:"stream"`
	Messages  []anthropicMessage `json:"messages"`
}

// anthropicBody builds the Anthropic messages envelope: the system prompt
// is a top-level field, not an array entry, and max_tokens is mandatory.
func anthropicBody(d Descriptor, systemPrompt string, history []model.Message, userMessage string) ([]byte, error) {
	messages := make([]anthropicMessage, 0, len(history)+1)
	for _, msg := range history {
		messages = append(messages, anthropicMessage{Role: string(msg.Role), Content: msg.Content})
	}
	messages = append(messages, anthropicMessage{Role: string(model.RoleUser), Content: userMessage})

	return json.Marshal(anthropicRequest{
		Model:     d.Model,
		MaxTokens: anthropicMaxTokens,
		System:    systemPrompt,
		Stream:    true,
		Messages:  messages,
	})
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"system_instruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
}

// geminiBody builds the Gemini generateContent envelope. Assistant turns
// use role "model" and the system prompt rides in system_instruction.
func geminiBody(_ Descriptor, systemPrompt string, history []model.Message, userMessage string) ([]byte, error) {
	contents := make([]geminiContent, 0, len(history)+1)
	for _, msg := range history {
		role := "user"
		if msg.Role == model.RoleAssistant {
			role = "model"
		}
		contents = append(contents, geminiContent{Role: role, Parts: []geminiPart{{Text: msg.Content}}})
	}
	contents = append(contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: userMessage}}})

	req := geminiRequest{Contents: contents}
	if systemPrompt != "" {
		req.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: systemPrompt}}}
	}
	return json.Marshal(req)
}
