package models

// ChatMessage is one turn of an OpenAI-style conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body of the query server's /api/chat endpoint.
type ChatRequest struct {
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

// LastUserMessage returns the content of the most recent user turn, or "".
func (r *ChatRequest) LastUserMessage() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == "user" {
			return r.Messages[i].Content
		}
	}
	return ""
}

// Citation attributes a passage used in a generated answer to its source.
type Citation struct {
	SourceURI string  `json:"source_uri"`
	Page      int     `json:"page"`
	Score     float64 `json:"score"`
}

// ChatResponse is the query pipeline's answer. Exactly one of three outcomes is
// expressed: an answer with citations, a refusal (Refused true, fixed Answer), or
// an HTTP-level error. Degraded marks answers produced without reranking.
type ChatResponse struct {
	Answer    string                 `json:"answer"`
	Citations []Citation             `json:"citations,omitempty"`
	Refused   bool                   `json:"refused,omitempty"`
	Degraded  bool                   `json:"degraded,omitempty"`
	Usage     map[string]interface{} `json:"usage,omitempty"`
}
