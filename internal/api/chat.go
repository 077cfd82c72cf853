package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/legalcheck/legalcheck-client/pkg/models"
)

// FetchHistory returns the conversation for a document with all messages.
// A document without a conversation yields an error matching ErrNotFound,
// whether the backend answers 404 or 200 with a null or id-less body.
func (c *Client) FetchHistory(ctx context.Context, documentID int64) (*models.Conversation, error) {
	path := fmt.Sprintf("documents/%d/chat", documentID)
	var conversation *models.Conversation
	err := c.doJSON(ctx, request{
		method: http.MethodGet,
		path:   path,
		route:  "documents/{id}/chat",
	}, &conversation)
	if err != nil {
		return nil, err
	}
	if conversation == nil || conversation.ID <= 0 {
		return nil, fmt.Errorf("GET %s: empty conversation: %w", path, ErrNotFound)
	}
	return conversation, nil
}

// SendMessage submits a user message as multipart form data and returns the
// message as stored by the backend. The backend creates the conversation on
// the first message for a document.
func (c *Client) SendMessage(ctx context.Context, documentID int64, content string) (*models.Message, error) {
	var message models.Message
	err := c.doJSON(ctx, request{
		method: http.MethodPost,
		path:   fmt.Sprintf("documents/%d/chat", documentID),
		route:  "documents/{id}/chat",
		form:   map[string]string{"message": content},
	}, &message)
	if err != nil {
		return nil, err
	}
	return &message, nil
}

// UpdateTitle saves the conversation, carrying its new title, and returns
// the stored conversation. The whole conversation is sent as the body.
func (c *Client) UpdateTitle(ctx context.Context, conversation *models.Conversation) (*models.Conversation, error) {
	if conversation == nil {
		return nil, fmt.Errorf("update title: conversation is required")
	}
	var updated models.Conversation
	err := c.doJSON(ctx, request{
		method:   http.MethodPatch,
		path:     fmt.Sprintf("conversations/%d", conversation.ID),
		route:    "conversations/{id}",
		jsonBody: conversation,
	}, &updated)
	if err != nil {
		return nil, err
	}
	return &updated, nil
}
