package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	cserrors "github.com/xtxerr/contentstore/internal/errors"
	"github.com/xtxerr/contentstore/internal/logging"
)

var log = logging.Component("blob")

// S3Config configures an S3-compatible object store.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// S3 stores objects in one bucket of an S3-compatible service. Tags are
// written as object tags, so lifecycle rules can select on them.
type S3 struct {
	client *minio.Client
	bucket string
}

// NewS3 connects to the service and creates the bucket when missing.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if cfg.Endpoint == "" {
		return nil, cserrors.NewMissingField("endpoint")
	}
	if cfg.Bucket == "" {
		return nil, cserrors.NewMissingField("bucket")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			// Another instance may have won the race.
			if code := minio.ToErrorResponse(err).Code; code != "BucketAlreadyOwnedByYou" && code != "BucketAlreadyExists" {
				return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
			}
		}
		log.Info("created bucket", "bucket", cfg.Bucket)
	}

	return &S3{client: client, bucket: cfg.Bucket}, nil
}

// Put uploads the object with its content type and tags.
func (s *S3) Put(ctx context.Context, key string, data []byte, contentType string, tags map[string]string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	clean, err := CleanTags(tags)
	if err != nil {
		return err
	}

	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
		UserTags:    clean,
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

// Get downloads an object and its tags.
func (s *S3) Get(ctx context.Context, key string) (*Object, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.mapErr(err, key, "get object")
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		return nil, s.mapErr(err, key, "stat object")
	}
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.mapErr(err, key, "read object")
	}

	t, err := s.client.GetObjectTagging(ctx, s.bucket, key, minio.GetObjectTaggingOptions{})
	if err != nil {
		return nil, s.mapErr(err, key, "get object tags")
	}

	return &Object{Key: key, Data: data, ContentType: info.ContentType, Tags: t.ToMap()}, nil
}

// List returns the keys under prefix.
func (s *S3) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for info := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if info.Err != nil {
			return nil, fmt.Errorf("list objects: %w", info.Err)
		}
		keys = append(keys, info.Key)
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete removes an object.
func (s *S3) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

// Close is a no-op; the client holds no persistent connections of its own.
func (s *S3) Close() error {
	return nil
}

func (s *S3) mapErr(err error, key, op string) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
		return cserrors.NewNotFound("object", key)
	}
	return fmt.Errorf("%s %s: %w", op, key, err)
}
