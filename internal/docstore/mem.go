package docstore

import (
	"context"
	"sync"
	"time"
)

// MemStore is an in-memory Store used by unit tests. Watches are
// delivered synchronously from Set, which makes arrival-order
// assertions deterministic.
type MemStore struct {
	mu        sync.Mutex
	docs      map[string]Document
	watchers  map[string]map[int]*memWatcher
	nextWatch int

	// FailSet, when non-nil, lets tests inject per-document write
	// failures. Returning a non-nil error aborts the Set.
	FailSet func(collection, id string) error
}

type memWatcher struct {
	onChange ChangeFunc
}

// NewMemStore constructs an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		docs:     make(map[string]Document),
		watchers: make(map[string]map[int]*memWatcher),
	}
}

var _ Store = (*MemStore)(nil)

// Get fetches a document.
func (s *MemStore) Get(ctx context.Context, collection, id string) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[memKey(collection, id)]
	if !ok {
		return Document{}, ErrNotFound
	}
	doc.Data = cloneData(doc.Data)
	return doc, nil
}

// Set stores the document and notifies watchers synchronously.
func (s *MemStore) Set(ctx context.Context, collection, id string, data map[string]any, updatedBy string) error {
	s.mu.Lock()
	if s.FailSet != nil {
		if err := s.FailSet(collection, id); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	doc := Document{
		Collection: collection,
		ID:         id,
		Data:       cloneData(data),
		UpdatedAt:  time.Now().UTC(),
		UpdatedBy:  updatedBy,
	}
	s.docs[memKey(collection, id)] = doc
	targets := make([]*memWatcher, 0, len(s.watchers[memKey(collection, id)]))
	for _, w := range s.watchers[memKey(collection, id)] {
		targets = append(targets, w)
	}
	s.mu.Unlock()

	for _, w := range targets {
		snapshot := doc
		snapshot.Data = cloneData(doc.Data)
		w.onChange(snapshot, true)
	}
	return nil
}

// Delete removes a document and notifies watchers of the absence.
func (s *MemStore) Delete(ctx context.Context, collection, id string) error {
	s.mu.Lock()
	delete(s.docs, memKey(collection, id))
	targets := make([]*memWatcher, 0, len(s.watchers[memKey(collection, id)]))
	for _, w := range s.watchers[memKey(collection, id)] {
		targets = append(targets, w)
	}
	s.mu.Unlock()

	for _, w := range targets {
		w.onChange(Document{Collection: collection, ID: id}, false)
	}
	return nil
}

// Watch registers a listener and delivers the current state immediately.
func (s *MemStore) Watch(ctx context.Context, collection, id string, onChange ChangeFunc, onError ErrorFunc) (CancelFunc, error) {
	key := memKey(collection, id)
	s.mu.Lock()
	w := &memWatcher{onChange: onChange}
	if s.watchers[key] == nil {
		s.watchers[key] = make(map[int]*memWatcher)
	}
	handle := s.nextWatch
	s.nextWatch++
	s.watchers[key][handle] = w
	doc, ok := s.docs[key]
	if ok {
		doc.Data = cloneData(doc.Data)
	}
	s.mu.Unlock()

	if ok {
		onChange(doc, true)
	} else {
		onChange(Document{Collection: collection, ID: id}, false)
	}

	return func() {
		s.mu.Lock()
		delete(s.watchers[key], handle)
		s.mu.Unlock()
	}, nil
}

func memKey(collection, id string) string {
	return collection + "/" + id
}
