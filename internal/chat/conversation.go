package chat

import (
	"sync"
	"time"
)

// Exchange represents a user-assistant conversation turn.
type Exchange struct {
	ID            string    `json:"id"`
	UserText      string    `json:"userText"`
	AssistantText string    `json:"assistantText"`
	Timestamp     time.Time `json:"timestamp"`
}

// ConversationConfig configures the Conversation behavior.
type ConversationConfig struct {
	// MaxExchanges is the maximum number of exchanges to retain (default: 20)
	MaxExchanges int
	// InactivityTimeout expires the history after a quiet period; zero keeps it forever.
	InactivityTimeout time.Duration
}

// DefaultConversationConfig returns sensible defaults for conversation management.
func DefaultConversationConfig() ConversationConfig {
	return ConversationConfig{MaxExchanges: 20}
}

// Conversation keeps the recent exchanges that are replayed to the model.
type Conversation struct {
	mu           sync.RWMutex
	exchanges    []Exchange
	lastActivity time.Time
	config       ConversationConfig
	now          func() time.Time
}

// NewConversation creates a new Conversation with the given config.
func NewConversation(config ConversationConfig) *Conversation {
	if config.MaxExchanges <= 0 {
		config.MaxExchanges = 20
	}
	return &Conversation{
		exchanges:    make([]Exchange, 0, config.MaxExchanges),
		lastActivity: time.Now(),
		config:       config,
		now:          time.Now,
	}
}

// AddExchange records a user/assistant exchange pair.
// It automatically trims old exchanges to stay within MaxExchanges.
func (c *Conversation) AddExchange(id, userText, assistantText string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isExpiredLocked() {
		c.exchanges = c.exchanges[:0]
	}

	now := c.now()
	c.exchanges = append(c.exchanges, Exchange{
		ID:            id,
		UserText:      userText,
		AssistantText: assistantText,
		Timestamp:     now,
	})
	c.lastActivity = now

	if len(c.exchanges) > c.config.MaxExchanges {
		c.exchanges = c.exchanges[len(c.exchanges)-c.config.MaxExchanges:]
	}
}

// Messages returns the history as chat-completion messages, prefixed by
// the system prompt when one is set. The pending user turn is appended last.
func (c *Conversation) Messages(systemPrompt, pending string) []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	msgs := make([]Message, 0, 2*len(c.exchanges)+2)
	if systemPrompt != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: systemPrompt})
	}
	if !c.isExpiredLocked() {
		for _, ex := range c.exchanges {
			msgs = append(msgs,
				Message{Role: RoleUser, Content: ex.UserText},
				Message{Role: RoleAssistant, Content: ex.AssistantText},
			)
		}
	}
	if pending != "" {
		msgs = append(msgs, Message{Role: RoleUser, Content: pending})
	}
	return msgs
}

// ExchangeCount returns the number of exchanges currently stored.
func (c *Conversation) ExchangeCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.exchanges)
}

// Clear removes all stored exchanges.
func (c *Conversation) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exchanges = c.exchanges[:0]
	c.lastActivity = c.now()
}

// IsExpired returns true if the conversation has been inactive too long.
func (c *Conversation) IsExpired() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isExpiredLocked()
}

func (c *Conversation) isExpiredLocked() bool {
	if c.config.InactivityTimeout <= 0 || len(c.exchanges) == 0 {
		return false
	}
	return c.now().Sub(c.lastActivity) > c.config.InactivityTimeout
}

// Exchanges returns a copy of the stored exchanges, oldest first.
func (c *Conversation) Exchanges() []Exchange {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.isExpiredLocked() {
		return nil
	}
	out := make([]Exchange, len(c.exchanges))
	copy(out, c.exchanges)
	return out
}
