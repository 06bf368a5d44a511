// Package storagetest provides an in-memory storage.ObjectStore.
package storagetest

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"morphflux/internal/storage"
)

type Object struct {
	Body        []byte
	ContentType string
	Metadata    map[string]string
}

type Memory struct {
	mu      sync.Mutex
	bucket  string
	objects map[string]Object

	// DeleteErr, when set, is returned by Delete and DeleteMany.
	DeleteErr error
	// PutErr, when set, is returned by Put.
	PutErr error
	// Puts counts Put calls, successful or not.
	Puts int
}

func New(bucket string) *Memory {
	return &Memory{bucket: bucket, objects: map[string]Object{}}
}

func (m *Memory) Bucket() string { return m.bucket }

func (m *Memory) Put(_ context.Context, key string, body io.Reader, _ int64, contentType string, metadata map[string]string) error {
	m.mu.Lock()
	m.Puts++
	putErr := m.PutErr
	m.mu.Unlock()
	if putErr != nil {
		return putErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = Object{Body: data, ContentType: contentType, Metadata: metadata}
	return nil
}

func (m *Memory) Head(_ context.Context, key string) (*storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return &storage.ObjectInfo{
		Key:         key,
		Size:        int64(len(obj.Body)),
		ContentType: obj.ContentType,
		Metadata:    obj.Metadata,
	}, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	delete(m.objects, key)
	return nil
}

func (m *Memory) DeleteMany(ctx context.Context, keys []string) error {
	for _, k := range keys {
		if err := m.Delete(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) PresignPut(_ context.Context, key, _ string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("https://%s.storage.test/%s?op=put&expires=%d", m.bucket, key, int(ttl.Seconds())), nil
}

func (m *Memory) PresignGet(_ context.Context, key string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("https://%s.storage.test/%s?op=get&expires=%d", m.bucket, key, int(ttl.Seconds())), nil
}

// Object returns the stored object and whether it exists.
func (m *Memory) Object(key string) (Object, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	return obj, ok
}

// Seed stores an object directly, as a client uploading via a presigned URL would.
func (m *Memory) Seed(key, contentType string, body []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = Object{Body: body, ContentType: contentType}
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

var _ storage.ObjectStore = (*Memory)(nil)
