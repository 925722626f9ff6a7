// Package docstore provides a small document-oriented persistence
// abstraction: JSON documents addressed by (collection, id), with a
// watch capability that pushes every remote change to subscribers.
package docstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates that the requested document does not exist.
// Absence is an expected condition for most callers, not a failure.
var ErrNotFound = errors.New("docstore: not found")

// Document is one stored record.
type Document struct {
	Collection string
	ID         string
	Data       map[string]any
	UpdatedAt  time.Time
	UpdatedBy  string
}

// ChangeFunc receives the document after every change. exists is false
// when the document is absent; that is a valid delivery, not an error.
type ChangeFunc func(doc Document, exists bool)

// ErrorFunc receives watch transport failures.
type ErrorFunc func(err error)

// CancelFunc tears down a watch. Safe to call more than once.
type CancelFunc func()

// Store is the document store consumed by the rest of the application.
type Store interface {
	// Get fetches a document, returning ErrNotFound when absent.
	Get(ctx context.Context, collection, id string) (Document, error)
	// Set writes the full document, creating it when absent.
	Set(ctx context.Context, collection, id string, data map[string]any, updatedBy string) error
	// Watch delivers the current state once immediately after
	// subscribing, then every subsequent change in arrival order.
	Watch(ctx context.Context, collection, id string, onChange ChangeFunc, onError ErrorFunc) (CancelFunc, error)
}

func cloneData(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}
