package llm

// Roles accepted in [Message.Role].
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single message in a completion request.
type Message struct {
	// Role is one of [RoleSystem], [RoleUser] or [RoleAssistant].
	Role string

	// Content is the text content of the message.
	Content string
}
