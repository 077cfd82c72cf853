// Package models defines the wire types shared by the LegalCheck client.
package models

// Document is an uploaded legal document. The chat screen only reads it for
// its header; upload and processing live elsewhere.
type Document struct {
	ID          int64     `json:"id"`
	Filename    string    `json:"filename"`
	CompanyID   *int64    `json:"company_id"`
	IsProcessed bool      `json:"is_processed"`
	CreatedAt   Timestamp `json:"created_at"`
}
