// Package specstore persists immutable specification documents in object
// storage, addressed by (tenantId, apiId, version).
package specstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type SpecStore interface {
	// Key returns the address a Put for the same identity would write to,
	// without touching storage.
	Key(tenantID, apiID, version string) string
	Put(ctx context.Context, tenantID, apiID, version string, doc []byte) (key string, err error)
	Get(ctx context.Context, key string) ([]byte, error)
}

// Key builds the content address for a spec document:
//
//	<prefix>/specs/<tenantId>/<apiId>/<version>.json
func Key(prefix, tenantID, apiID, version string) string {
	return path.Join(prefix, "specs", tenantID, apiID, version+".json")
}

// S3SpecStore uploads spec documents via the SDK's upload manager. Region
// and credentials come from the environment.
type S3SpecStore struct {
	bucket   string
	prefix   string
	client   *s3.Client
	uploader *manager.Uploader
}

func NewS3SpecStore(ctx context.Context, bucket, prefix string) (*S3SpecStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket required")
	}
	cfg, err := awsConfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return &S3SpecStore{
		bucket:   bucket,
		prefix:   prefix,
		client:   client,
		uploader: manager.NewUploader(client),
	}, nil
}

func (s *S3SpecStore) Key(tenantID, apiID, version string) string {
	return Key(s.prefix, tenantID, apiID, version)
}

func (s *S3SpecStore) Put(ctx context.Context, tenantID, apiID, version string, doc []byte) (string, error) {
	key := s.Key(tenantID, apiID, version)
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(s.bucket),
		Key:                  aws.String(key),
		Body:                 bytes.NewReader(doc),
		ContentType:          aws.String("application/json"),
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return "", fmt.Errorf("s3 upload spec: %w", err)
	}
	return key, nil
}

func (s *S3SpecStore) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 get spec: %w", err)
	}
	defer out.Body.Close()
	doc, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 read spec: %w", err)
	}
	return doc, nil
}

// MemorySpecStore backs tests and local development.
type MemorySpecStore struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

func NewMemorySpecStore() *MemorySpecStore {
	return &MemorySpecStore{docs: map[string][]byte{}}
}

func (m *MemorySpecStore) Key(tenantID, apiID, version string) string {
	return Key("", tenantID, apiID, version)
}

func (m *MemorySpecStore) Put(ctx context.Context, tenantID, apiID, version string, doc []byte) (string, error) {
	key := m.Key(tenantID, apiID, version)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[key] = append([]byte(nil), doc...)
	return key, nil
}

func (m *MemorySpecStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[key]
	if !ok {
		return nil, fmt.Errorf("spec %s not found", key)
	}
	return append([]byte(nil), doc...), nil
}
