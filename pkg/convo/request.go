package convo

// Hints carries caller-declared request attributes the router may use.
// An empty Intent means the router classifies the message itself.
type Hints struct {
	Intent string `json:"intent,omitempty"`
}

/*
CompletionRequest is the single input to the orchestration core,
regardless of transport. CallerClass selects the rate-limit bucket
configuration and defaults to "standard".
*/
type CompletionRequest struct {
	CallerID    string `json:"caller_id"`
	CallerClass string `json:"caller_class,omitempty"`
	SessionID   string `json:"session_id"`
	Message     string `json:"message"`
	Hints       Hints  `json:"hints,omitempty"`
}

/*
CompletionResponse is what callers of the core receive on success.
Degraded marks locally synthesized answers produced when every remote
model failed; ModelUsed is then the "fallback-local" sentinel.
*/
type CompletionResponse struct {
	Text             string `json:"text"`
	ModelUsed        string `json:"model_used"`
	SessionID        string `json:"session_id"`
	Degraded         bool   `json:"degraded,omitempty"`
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`
}

// FallbackLocal is the sentinel model name for degraded responses.
const FallbackLocal = "fallback-local"
