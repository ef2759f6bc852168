// Package inference implements clients for the external inference provider.
package inference

// Message is one transcript entry sent with a consultation request.
type Message struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// ConsultRequest is the phase 1 request body.
type ConsultRequest struct {
	Message  string         `json:"message"`
	Messages []Message      `json:"messages"`
	Context  map[string]any `json:"context"`
}

// GenerationOptions lists the artifact types offered once ready.
type GenerationOptions struct {
	Types []string `json:"types"`
}

// ConsultResponse is the phase 1 response body. Every field except Response
// is optional; a nil field means the provider did not send it.
type ConsultResponse struct {
	Response          *string            `json:"response"`
	Context           map[string]any     `json:"context,omitempty"`
	Stage             *string            `json:"stage,omitempty"`
	ReadyToGenerate   *bool              `json:"readyToGenerate,omitempty"`
	GenerationOptions *GenerationOptions `json:"generationOptions,omitempty"`
}

// GenerateRequest is the phase 2 request body. Context carries the full
// accumulated context plus a conversationSummary entry.
type GenerateRequest struct {
	Type         string         `json:"type"`
	Context      map[string]any `json:"context"`
	Requirements string         `json:"requirements"`
}

// WorkItem is a generated artifact as returned by the provider.
type WorkItem struct {
	Type             string         `json:"type"`
	Title            string         `json:"title"`
	Description      string         `json:"description"`
	GeneratedContent any            `json:"generatedContent"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// GenerateResponse is the phase 2 response body.
type GenerateResponse struct {
	Success  bool      `json:"success"`
	WorkItem *WorkItem `json:"workItem,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// ConversationSummaryKey is the context key carrying the joined transcript.
const ConversationSummaryKey = "conversationSummary"
