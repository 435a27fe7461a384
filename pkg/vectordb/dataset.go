// Package vectordb abstracts the remote dataset the skill library is
// synchronized with. Two implementations are provided: a Dify datasets API
// client and a local chromem-go store used when no Dify credentials are
// configured (and in tests).
package vectordb

import "context"

// Document is a named text body stored in a dataset.
type Document struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Text string `json:"text,omitempty"`
}

// Dataset is the CRUD surface the skill manager needs. LocalDataset
// serializes access with a mutex; DifyDataset takes no lock. Concurrent
// writers from multiple processes are unsupported.
type Dataset interface {
	// Ensure resolves or creates the backing dataset.
	Ensure(ctx context.Context) error

	// CreateDocumentByText inserts a document.
	CreateDocumentByText(ctx context.Context, name, text string) error

	// ListDocuments returns documents, optionally filtered by a keyword
	// matched against document names.
	ListDocuments(ctx context.Context, keyword string, page, limit int) ([]Document, error)

	// DeleteDocumentByName removes the document with the given name.
	// Deleting a name that does not exist is not an error.
	DeleteDocumentByName(ctx context.Context, name string) error

	// DocumentCount returns the number of live documents.
	DocumentCount(ctx context.Context) (int, error)
}

// Searcher is implemented by datasets that support semantic similarity
// queries in addition to name matching.
type Searcher interface {
	Search(ctx context.Context, query string, topK int) ([]Document, error)
}
