package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/legalcheck/legalcheck-client/pkg/models"
)

// FetchDocument returns one document's metadata.
func (c *Client) FetchDocument(ctx context.Context, documentID int64) (*models.Document, error) {
	var document models.Document
	err := c.doJSON(ctx, request{
		method: http.MethodGet,
		path:   fmt.Sprintf("documents/%d", documentID),
		route:  "documents/{id}",
	}, &document)
	if err != nil {
		return nil, err
	}
	return &document, nil
}

// ListDocuments returns the documents visible to the logged-in user.
func (c *Client) ListDocuments(ctx context.Context) ([]models.Document, error) {
	var documents []models.Document
	err := c.doJSON(ctx, request{
		method: http.MethodGet,
		path:   "documents",
		route:  "documents",
	}, &documents)
	if err != nil {
		return nil, err
	}
	return documents, nil
}
