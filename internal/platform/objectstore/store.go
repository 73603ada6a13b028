package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
	"unicode/utf8"
)

// ErrNotFound is returned (wrapped) when the bucket or key does not exist.
var ErrNotFound = errors.New("object not found")

// Store is read-only access to S3-compatible object storage.
type Store interface {
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, ObjectInfo, error)
	Stat(ctx context.Context, bucket, key string) (ObjectInfo, error)
	List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error)
}

type ObjectInfo struct {
	Key             string
	Size            int64
	ETag            string
	ContentType     string
	ContentEncoding string
	LastModified    time.Time
}

// Ref identifies one object.
type Ref struct {
	Bucket string
	Key    string
}

func (r Ref) String() string {
	return r.Bucket + "/" + r.Key
}

const maxTextBytes = 16 << 20

// ReadText fetches a UTF-8 text object.
func ReadText(ctx context.Context, store Store, ref Ref) (string, error) {
	body, _, err := store.Get(ctx, ref.Bucket, ref.Key)
	if err != nil {
		return "", fmt.Errorf("get %s: %w", ref, err)
	}
	defer body.Close()

	raw, err := io.ReadAll(io.LimitReader(body, maxTextBytes+1))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", ref, err)
	}
	if len(raw) > maxTextBytes {
		return "", fmt.Errorf("read %s: object exceeds %d bytes", ref, maxTextBytes)
	}
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("read %s: content is not valid utf-8", ref)
	}
	return string(raw), nil
}
