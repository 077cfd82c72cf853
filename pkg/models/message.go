package models

import "strings"

// Author indicates who wrote a chat message. The values match the backend's
// wire strings.
type Author string

const (
	AuthorUser      Author = "User"
	AuthorAssistant Author = "LegalCheck"
)

// Message is a single entry in a document conversation.
type Message struct {
	ID             int64     `json:"id"`
	Content        string    `json:"content"`
	ConversationID int64     `json:"conversation_id"`
	Author         Author    `json:"author"`
	CreatedAt      Timestamp `json:"created_at"`
}

// IsProvisional reports whether the id was assigned by the client for an
// optimistic entry. Server ids are always positive.
func (m Message) IsProvisional() bool {
	return m.ID < 0
}

// Conversation is a document-scoped chat thread. Messages are kept in
// insertion order, which is the order they are rendered in.
type Conversation struct {
	ID         int64     `json:"id"`
	DocumentID int64     `json:"document_id"`
	UserID     int64     `json:"user_id"`
	Title      *string   `json:"title"`
	CreatedAt  Timestamp `json:"created_at"`
	UpdatedAt  Timestamp `json:"updated_at"`
	Messages   []Message `json:"messages"`
}

// Clone returns a deep copy so callers can mutate it without affecting
// observers of the original.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	if c.Title != nil {
		title := *c.Title
		out.Title = &title
	}
	out.Messages = make([]Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	return &out
}

// DisplayTitle returns the title, or a fallback when none is set.
func (c *Conversation) DisplayTitle() string {
	if c == nil || c.Title == nil || strings.TrimSpace(*c.Title) == "" {
		return "Untitled conversation"
	}
	return *c.Title
}
