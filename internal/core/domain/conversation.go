package domain

import "time"

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message of a model conversation.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// HistoryMessage is a caller-supplied prior message. Role "prompt" marks user
// input, anything else is treated as an assistant reply.
type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const HistoryRolePrompt = "prompt"

// PromptRecord is a stored conversation entry.
type PromptRecord struct {
	ID             string    `json:"id"`
	ProjectID      string    `json:"project_id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// TurnFromHistory maps a stored or supplied message role onto a model role.
func TurnFromHistory(role, content string) Turn {
	if role == HistoryRolePrompt {
		return Turn{Role: RoleUser, Content: content}
	}
	return Turn{Role: RoleAssistant, Content: content}
}

func CloneTurns(turns []Turn) []Turn {
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}
