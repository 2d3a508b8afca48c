package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
)

// OSSStorage implements Storage for Aliyun OSS, so a cache root can be
// shared between machines.
type OSSStorage struct {
	bucket   *oss.Bucket
	endpoint string
	prefix   string
}

// OSSConfig holds OSS configuration
type OSSConfig struct {
	Endpoint  string `yaml:"endpoint" json:"endpoint"` // OSS endpoint (e.g., "oss-cn-hangzhou")
	Bucket    string `yaml:"bucket" json:"bucket"`
	AccessKey string `yaml:"access_key" json:"access_key"`
	SecretKey string `yaml:"secret_key" json:"secret_key"`
	Prefix    string `yaml:"prefix" json:"prefix"` // Object prefix acting as the cache root
	Internal  bool   `yaml:"internal" json:"internal"`
}

// NewOSSStorage creates a new OSS storage instance
func NewOSSStorage(cfg OSSConfig) (*OSSStorage, error) {
	endpoint := cfg.Endpoint
	if cfg.Internal {
		endpoint = endpoint + "-internal"
	}
	if !strings.HasPrefix(endpoint, "http") {
		endpoint = fmt.Sprintf("https://%s.aliyuncs.com", endpoint)
	}

	client, err := oss.New(endpoint, cfg.AccessKey, cfg.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create OSS client: %w", err)
	}
	bucket, err := client.Bucket(cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to get bucket: %w", err)
	}

	return &OSSStorage{
		bucket:   bucket,
		endpoint: endpoint,
		prefix:   strings.Trim(cfg.Prefix, "/"),
	}, nil
}

func (s *OSSStorage) objectKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return path.Join(s.prefix, key)
}

// Put stores data with the given key. OSS object writes are atomic.
func (s *OSSStorage) Put(ctx context.Context, key string, data []byte) error {
	if err := s.bucket.PutObject(s.objectKey(key), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to put object: %w", err)
	}
	return nil
}

// Get retrieves data by key; NoSuchKey maps to ErrNotFound
func (s *OSSStorage) Get(ctx context.Context, key string) ([]byte, error) {
	reader, err := s.bucket.GetObject(s.objectKey(key))
	if err != nil {
		if isOSSNotFound(err) {
			return nil, notFound(key)
		}
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	return data, nil
}

// Delete removes data by key
func (s *OSSStorage) Delete(ctx context.Context, key string) error {
	return s.bucket.DeleteObject(s.objectKey(key))
}

// Exists checks if key exists
func (s *OSSStorage) Exists(ctx context.Context, key string) (bool, error) {
	exists, err := s.bucket.IsObjectExist(s.objectKey(key))
	if err != nil {
		return false, fmt.Errorf("failed to check existence: %w", err)
	}
	return exists, nil
}

// List lists all keys with the given prefix, relative to the configured root
func (s *OSSStorage) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	marker := ""
	root := ""
	if s.prefix != "" {
		root = s.prefix + "/"
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result, err := s.bucket.ListObjects(oss.Prefix(root+prefix), oss.Marker(marker))
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range result.Objects {
			keys = append(keys, strings.TrimPrefix(obj.Key, root))
		}
		if !result.IsTruncated {
			break
		}
		marker = result.NextMarker
	}
	return keys, nil
}

func (s *OSSStorage) Name() string {
	return fmt.Sprintf("oss:%s/%s/%s", s.endpoint, s.bucket.BucketName, s.prefix)
}

func isOSSNotFound(err error) bool {
	var serr oss.ServiceError
	if errors.As(err, &serr) {
		return serr.StatusCode == http.StatusNotFound || serr.Code == "NoSuchKey"
	}
	return false
}
