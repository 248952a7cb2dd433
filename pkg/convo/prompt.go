package convo

// Message is one ordered element of an assembled prompt.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

/*
Prompt is the fully assembled, ordered payload handed to a model
provider. EstimatedTokens is the token-equivalent size used for
routing and budget decisions; providers report the real count back.
*/
type Prompt struct {
	Messages        []Message `json:"messages"`
	EstimatedTokens int       `json:"estimated_tokens"`
}

func (prompt *Prompt) Append(role Role, content string) {
	prompt.Messages = append(prompt.Messages, Message{Role: role, Content: content})
	prompt.EstimatedTokens += EstimateTokens(content)
}

/*
EstimateTokens approximates the token count of a text as one token per
four bytes, rounded up. Rough, but it is applied consistently on both
the budget and the routing side, which is what matters.
*/
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}

	return (len(text) + 3) / 4
}
