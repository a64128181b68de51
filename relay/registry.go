package relay

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/richinex/atelier/model"
)

// authScheme selects how the provider credential is attached to requests.
type authScheme int

const (
	authBearer    authScheme = iota // Authorization: Bearer <key>
	authAnthropic                   // x-api-key + anthropic-version headers
	authGoogle                      // x-goog-api-key header
)

const anthropicVersion = "2023-06-01"

// bodyBuilder produces the provider-specific request envelope.
type bodyBuilder func(d Descriptor, systemPrompt string, history []model.Message, userMessage string) ([]byte, error)

// Descriptor is the immutable configuration record for one upstream
// provider, bound to a concrete model. The provider-specific behavior
// (auth shape, body envelope, chunk grammar) is attached here once, at
// registry construction, so nothing downstream dispatches on strings.
type Descriptor struct {
	Provider           string
	Model              string
	URL                string
	KeyEnv             string
	MaxContextMessages int

	auth      authScheme
	buildBody bodyBuilder
	grammar   Grammar
}

// Grammar returns the chunk grammar for this provider's wire format.
func (d Descriptor) Grammar() Grammar {
	return d.grammar
}

// Registry maps logical model names to provider descriptors.
// Read-only after construction; safe for concurrent use.
type Registry struct {
	descriptors map[string]Descriptor
	aliases     map[string]string
}

// NewRegistry builds the static model table. Per-provider base URLs can be
// overridden through <PROVIDER>_BASE_URL environment variables, which is
// how tests point descriptors at local doubles.
func NewRegistry() *Registry {
	r := &Registry{
		descriptors: make(map[string]Descriptor),
		aliases:     make(map[string]string),
	}

	openaiBase := baseURL("OPENAI_BASE_URL", "https://api.openai.com/v1")
	deepseekBase := baseURL("DEEPSEEK_BASE_URL", "https://api.deepseek.com/v1")
	moonshotBase := baseURL("MOONSHOT_BASE_URL", "https://api.moonshot.ai/v1")
	anthropicBase := baseURL("ANTHROPIC_BASE_URL", "https://api.anthropic.com")
	geminiBase := baseURL("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com")

	r.add(Descriptor{
		Provider:           "openai",
		Model:              "gpt-4o",
		URL:                openaiBase + "/chat/completions",
		KeyEnv:             "OPENAI_API_KEY",
		MaxContextMessages: 40,
		auth:               authBearer,
		buildBody:          openaiBody,
		grammar:            openaiGrammar(),
	}, "gpt-4o", "gpt", "openai")

	r.add(Descriptor{
		Provider:           "deepseek",
		Model:              "deepseek-chat",
		URL:                deepseekBase + "/chat/completions",
		KeyEnv:             "DEEPSEEK_API_KEY",
		MaxContextMessages: 40,
		auth:               authBearer,
		buildBody:          openaiBody,
		grammar:            openaiGrammar(),
	}, "deepseek-chat", "deepseek")

	r.add(Descriptor{
		Provider:           "moonshot",
		Model:              "kimi-k2-0711-preview",
		URL:                moonshotBase + "/chat/completions",
		KeyEnv:             "MOONSHOT_API_KEY",
		MaxContextMessages: 40,
		auth:               authBearer,
		buildBody:          openaiBody,
		grammar:            openaiGrammar(),
	}, "kimi-k2", "kimi", "moonshot")

	r.add(Descriptor{
		Provider:           "anthropic",
		Model:              "claude-sonnet-4-20250514",
		URL:                anthropicBase + "/v1/messages",
		KeyEnv:             "ANTHROPIC_API_KEY",
		MaxContextMessages: 30,
		auth:               authAnthropic,
		buildBody:          anthropicBody,
		grammar:            anthropicGrammar(),
	}, "claude-sonnet-4", "claude", "sonnet", "anthropic")

	r.add(Descriptor{
		Provider:           "gemini",
		Model:              "gemini-2.5-flash",
		URL:                geminiBase + "/v1beta/models/gemini-2.5-flash:streamGenerateContent?alt=sse",
		KeyEnv:             "GEMINI_API_KEY",
		MaxContextMessages: 40,
		auth:               authGoogle,
		buildBody:          geminiBody,
		grammar:            geminiGrammar(),
	}, "gemini-2.5-flash", "gemini", "flash")

	return r
}

// add registers a descriptor under its canonical name (the first alias)
// plus any short aliases.
func (r *Registry) add(d Descriptor, names ...string) {
	canonical := names[0]
	r.descriptors[canonical] = d
	for _, name := range names[1:] {
		r.aliases[name] = canonical
	}
}

// Resolve maps a logical model name to its descriptor.
// Unknown names return ErrUnknownModel; there is no fallback provider.
func (r *Registry) Resolve(name string) (Descriptor, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := r.aliases[key]; ok {
		key = canonical
	}
	d, ok := r.descriptors[key]
	if !ok {
		return Descriptor{}, fmt.Errorf("%q: %w", name, ErrUnknownModel)
	}
	return d, nil
}

// Models returns the canonical model names, sorted.
func (r *Registry) Models() []string {
	names := make([]string, 0, len(r.descriptors))
	for name := range r.descriptors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func baseURL(envKey, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return strings.TrimSuffix(val, "/")
	}
	return defaultVal
}
