package filestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
)

type minioStore struct {
	db       *minio.Client
	bucket   string
	basePath string
}

func NewMinIOStore(client *minio.Client, bucket, basePath string) *minioStore {
	basePath = strings.Trim(basePath, "/")
	if basePath != "" {
		basePath += "/"
	}

	return &minioStore{
		db:       client,
		bucket:   bucket,
		basePath: basePath,
	}
}

func (s *minioStore) Save(
	ctx context.Context,
	reader io.Reader,
	filename string,
	size int64,
) (int64, string, error) {
	select {
	case <-ctx.Done():
		return 0, "", ctx.Err()
	default:
	}

	objectName, err := s.objectName(filename)
	if err != nil {
		return 0, "", err
	}

	hasher := sha256.New()
	hashingReader := io.TeeReader(reader, hasher)

	putSize := size
	if putSize <= 0 {
		putSize = -1
	}

	info, err := s.db.PutObject(ctx, s.bucket, objectName, hashingReader, putSize, minio.PutObjectOptions{})
	if err != nil {
		return 0, "", fmt.Errorf("put object: %w", err)
	}

	hash := hex.EncodeToString(hasher.Sum(nil))
	return info.Size, hash, nil
}

func (s *minioStore) Open(ctx context.Context, filename string) (io.ReadCloser, int64, error) {
	select {
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	default:
	}

	objectName, err := s.objectName(filename)
	if err != nil {
		return nil, 0, err
	}

	obj, err := s.db.GetObject(ctx, s.bucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, fmt.Errorf("get object: %w", err)
	}

	st, err := obj.Stat()
	if err != nil {
		if resp := minio.ToErrorResponse(err); resp.Code == minio.NoSuchKey {
			obj.Close()
			return nil, 0, fmt.Errorf("file not found: %w", err)
		}
		obj.Close()
		return nil, 0, fmt.Errorf("stat object: %w", err)
	}

	return obj, st.Size, nil
}

// Localize downloads the object to a scratch file so that callers
// needing a real filesystem path (the splitter subprocess) can work
// against object storage. The returned cleanup removes the scratch file.
func (s *minioStore) Localize(ctx context.Context, filename string) (string, func(), error) {
	rc, _, err := s.Open(ctx, filename)
	if err != nil {
		return "", nil, err
	}
	defer rc.Close()

	f, err := os.CreateTemp("", "ifcsplit-*"+path.Ext(filename))
	if err != nil {
		return "", nil, fmt.Errorf("create scratch file: %w", err)
	}

	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", nil, fmt.Errorf("download object: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", nil, fmt.Errorf("close scratch file: %w", err)
	}

	name := f.Name()
	return name, func() { _ = os.Remove(name) }, nil
}

func (s *minioStore) Delete(ctx context.Context, filename string) error {
	objectName, err := s.objectName(filename)
	if err != nil {
		return err
	}

	if err := s.db.RemoveObject(ctx, s.bucket, objectName, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object: %w", err)
	}
	return nil
}

func (s *minioStore) CleanupOlderThan(ctx context.Context, maxAge time.Duration) error {
	border := time.Now().Add(-maxAge)

	for obj := range s.db.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.basePath,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return fmt.Errorf("list objects: %w", obj.Err)
		}
		if obj.LastModified.Before(border) {
			if err := s.db.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
				return fmt.Errorf("remove object %s: %w", obj.Key, err)
			}
		}
	}
	return nil
}

func (s *minioStore) objectName(filename string) (string, error) {
	if strings.TrimSpace(filename) == "" {
		return "", fmt.Errorf("empty filename")
	}

	clean := path.Clean(filename)
	if strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("invalid filename: %s", filename)
	}

	clean = strings.TrimLeft(clean, "/")

	return s.basePath + clean, nil
}
