package payload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	id "signet/pkg/domain"
	"signet/pkg/platform/sentinel"
)

type memoryObject struct {
	data        []byte
	contentType string
}

// InMemoryStore keeps payloads in process memory.
type InMemoryStore struct {
	mu      sync.RWMutex
	objects map[id.StorageID]memoryObject
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{objects: make(map[id.StorageID]memoryObject)}
}

func (s *InMemoryStore) Put(ctx context.Context, ref id.StorageID, body io.Reader, _ int64, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("read payload %s: %w", ref, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[ref] = memoryObject{data: data, contentType: contentType}
	return nil
}

func (s *InMemoryStore) Get(ctx context.Context, ref id.StorageID) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	obj, ok := s.objects[ref]
	s.mu.RUnlock()
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &Object{
		Body:        io.NopCloser(bytes.NewReader(obj.data)),
		Size:        int64(len(obj.data)),
		ContentType: obj.contentType,
	}, nil
}
