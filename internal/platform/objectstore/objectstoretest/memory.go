// Package objectstoretest provides an in-memory objectstore.Store for tests.
package objectstoretest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/animus-labs/gx-hosting/internal/platform/objectstore"
)

type object struct {
	data []byte
	info objectstore.ObjectInfo
}

type MemoryStore struct {
	mu      sync.Mutex
	objects map[objectstore.Ref]object

	// Err, when set, is returned by every call.
	Err  error
	Gets int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[objectstore.Ref]object)}
}

// Put stores data under bucket/key. info.Key and info.Size are filled in.
func (m *MemoryStore) Put(bucket, key string, data []byte, info objectstore.ObjectInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info.Key = key
	info.Size = int64(len(data))
	if info.LastModified.IsZero() {
		info.LastModified = time.Unix(1700000000, 0).UTC()
	}
	m.objects[objectstore.Ref{Bucket: bucket, Key: key}] = object{data: append([]byte(nil), data...), info: info}
}

func (m *MemoryStore) PutString(bucket, key, data string) {
	m.Put(bucket, key, []byte(data), objectstore.ObjectInfo{})
}

func (m *MemoryStore) Get(ctx context.Context, bucket, key string) (io.ReadCloser, objectstore.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Gets++
	if m.Err != nil {
		return nil, objectstore.ObjectInfo{}, m.Err
	}
	obj, ok := m.objects[objectstore.Ref{Bucket: bucket, Key: key}]
	if !ok {
		return nil, objectstore.ObjectInfo{}, fmt.Errorf("%w: %s/%s", objectstore.ErrNotFound, bucket, key)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), obj.info, nil
}

func (m *MemoryStore) Stat(ctx context.Context, bucket, key string) (objectstore.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return objectstore.ObjectInfo{}, m.Err
	}
	obj, ok := m.objects[objectstore.Ref{Bucket: bucket, Key: key}]
	if !ok {
		return objectstore.ObjectInfo{}, fmt.Errorf("%w: %s/%s", objectstore.ErrNotFound, bucket, key)
	}
	return obj.info, nil
}

func (m *MemoryStore) List(ctx context.Context, bucket, prefix string) ([]objectstore.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var out []objectstore.ObjectInfo
	for ref, obj := range m.objects {
		if ref.Bucket == bucket && strings.HasPrefix(ref.Key, prefix) {
			out = append(out, obj.info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
