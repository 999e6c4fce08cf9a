package providers

import "encoding/json"

// Wire types for the OpenRouter chat completions API.

type openRouterRequest struct {
	Model          string                    `json:"model"`
	Messages       []openRouterMessage       `json:"messages"`
	Temperature    *float64                  `json:"temperature,omitempty"`
	MaxTokens      int                       `json:"max_tokens,omitempty"`
	ResponseFormat *openRouterResponseFormat `json:"response_format,omitempty"`

	// Usage.Include asks OpenRouter to report per-request cost.
	Usage *openRouterUsageRequest `json:"usage,omitempty"`
}

type openRouterUsageRequest struct {
	Include bool `json:"include"`
}

// openRouterMessage carries either plain text Content or MultiContent
// parts, never both.
type openRouterMessage struct {
	Role         string                  `json:"role"`
	Content      string                  `json:"-"`
	MultiContent []openRouterContentPart `json:"-"`
}

// MarshalJSON emits content as a string or a part array depending on
// which form is populated.
func (m openRouterMessage) MarshalJSON() ([]byte, error) {
	if len(m.MultiContent) > 0 {
		return json.Marshal(struct {
			Role    string                  `json:"role"`
			Content []openRouterContentPart `json:"content"`
		}{m.Role, m.MultiContent})
	}
	return json.Marshal(struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}{m.Role, m.Content})
}

type openRouterContentPart struct {
	Type     string              `json:"type"`
	Text     string              `json:"text,omitempty"`
	ImageURL *openRouterImageURL `json:"image_url,omitempty"`
}

type openRouterImageURL struct {
	URL string `json:"url"`
}

type openRouterResponseFormat struct {
	Type       string                `json:"type"`
	JSONSchema *openRouterJSONSchema `json:"json_schema,omitempty"`
}

type openRouterJSONSchema struct {
	Name   string         `json:"name"`
	Strict bool           `json:"strict"`
	Schema map[string]any `json:"schema"`
}

type openRouterResponse struct {
	ID      string             `json:"id"`
	Model   string             `json:"model"`
	Choices []openRouterChoice `json:"choices"`
	Usage   *openRouterUsage   `json:"usage,omitempty"`
	Error   *openRouterError   `json:"error,omitempty"`
}

type openRouterChoice struct {
	FinishReason string                  `json:"finish_reason"`
	Message      openRouterChoiceMessage `json:"message"`
}

type openRouterChoiceMessage struct {
	Role        string                 `json:"role"`
	Content     string                 `json:"content"`
	Annotations []openRouterAnnotation `json:"annotations,omitempty"`
}

// openRouterAnnotation carries web search citations when the :online
// plugin is active.
type openRouterAnnotation struct {
	Type        string                 `json:"type"`
	URLCitation *openRouterURLCitation `json:"url_citation,omitempty"`
}

type openRouterURLCitation struct {
	URL     string `json:"url"`
	Title   string `json:"title,omitempty"`
	Content string `json:"content,omitempty"`
}

type openRouterUsage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	Cost             float64 `json:"cost,omitempty"`
}

type openRouterError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
