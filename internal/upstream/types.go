package upstream

// Message is one turn in the ordered message list sent to the provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage is the provider's token metering for one completed call. The provider
// may omit it entirely, in which case the response carries a nil *Usage.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatRequest is the wire request for a chat completion. Streaming is always
// disabled; the whole response is awaited atomically.
type ChatRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"`
	Stream    bool      `json:"stream"`
}

// ChatResponse is the wire response for a chat completion.
type ChatResponse struct {
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage"`
}

// Choice is one candidate completion. Providers return the answer in
// Choices[0].
type Choice struct {
	Message Message `json:"message"`
}

// Text returns the content of the first choice, or "" when the provider
// returned none.
func (r *ChatResponse) Text() string {
	if len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}
