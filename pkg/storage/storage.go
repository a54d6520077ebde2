package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Conversation is one ongoing exchange. LastMessageAt is bumped on every
// turn; Summary is set by the summarizer when trimmed history grows large.
type Conversation struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	AgentID       string    `json:"agent_id,omitempty"`
	Summary       string    `json:"summary,omitempty"`
	LastMessageAt time.Time `json:"last_message_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// Message is one transcript entry. Tool-role messages carry the tool name
// and the id of the call they answer; assistant messages may carry tool-call
// descriptors. Metadata records per-message flags such as a cancelled
// partial stream.
type Message struct {
	ID             string                 `json:"id"`
	ConversationID string                 `json:"conversation_id"`
	Role           string                 `json:"role"`
	Content        string                 `json:"content"`
	ToolName       string                 `json:"tool_name,omitempty"`
	ToolCallID     string                 `json:"tool_call_id,omitempty"`
	ToolCalls      []byte                 `json:"tool_calls,omitempty"`
	TokensUsed     int                    `json:"tokens_used,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

// Pending action statuses.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
	StatusExecuted = "executed"
	StatusFailed   = "failed"
	StatusExpired  = "expired"
)

// PendingAction is a tool invocation proposed by the agent and deferred
// until a human approves or rejects it. DeliveryChannel records where the
// approval prompt was surfaced.
type PendingAction struct {
	ID              string                 `json:"id"`
	ConversationID  string                 `json:"conversation_id"`
	Tool            string                 `json:"tool"`
	Arguments       map[string]interface{} `json:"arguments"`
	Description     string                 `json:"description"`
	DeliveryChannel string                 `json:"delivery_channel,omitempty"`
	Status          string                 `json:"status"`
	Result          string                 `json:"result,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	ExpiresAt       time.Time              `json:"expires_at"`
	ResolvedAt      time.Time              `json:"resolved_at,omitempty"`
}

// Memory is a long-lived fact recalled into the prompt, ranked by
// confidence.
type Memory struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	Category   string    `json:"category,omitempty"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}

type ConversationStore interface {
	SaveConversation(ctx context.Context, c *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversations(ctx context.Context) ([]*Conversation, error)
	TouchConversation(ctx context.Context, id string, at time.Time) error
	SetSummary(ctx context.Context, id, summary string) error
}

type MessageStore interface {
	AppendMessage(ctx context.Context, m *Message) error
	ListMessages(ctx context.Context, conversationID string) ([]*Message, error)
}

type PendingActionStore interface {
	SavePendingAction(ctx context.Context, a *PendingAction) error
	GetPendingAction(ctx context.Context, id string) (*PendingAction, error)
	UpdatePendingAction(ctx context.Context, a *PendingAction) error
	ListPendingActions(ctx context.Context, status string) ([]*PendingAction, error)
}

type MemoryStore interface {
	SaveMemory(ctx context.Context, m *Memory) error
	RecallMemories(ctx context.Context, limit int) ([]*Memory, error)
}

// Store bundles every persistence concern the agent core needs.
type Store interface {
	ConversationStore
	MessageStore
	PendingActionStore
	MemoryStore
	Close() error
}
