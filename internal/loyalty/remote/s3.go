package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/pdavies/carpetloyalty/internal/loyalty/schema"
)

// S3Config configures an S3Store.
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Prefix    string
	PathStyle bool
}

// S3Store keeps each document as the object <prefix>/<collection>/<key>.json.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Store creates a store for an S3 compatible bucket.
// Endpoint may point at MinIO or another S3 compatible service.
func NewS3Store(cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := s3.Options{
		Region:       region,
		UsePathStyle: cfg.PathStyle,
	}
	if cfg.AccessKey != "" {
		opts.Credentials = aws.NewCredentialsCache(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		)
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}

	return NewS3StoreFromClient(s3.New(opts), cfg.Bucket, cfg.Prefix), nil
}

// NewS3StoreFromClient wraps an existing client.
func NewS3StoreFromClient(client *s3.Client, bucket, prefix string) *S3Store {
	return &S3Store{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

func (s *S3Store) collectionPrefix(collection string) string {
	if s.prefix == "" {
		return collection + "/"
	}
	return s.prefix + "/" + collection + "/"
}

func (s *S3Store) objectKey(collection, key string) string {
	return s.collectionPrefix(collection) + url.PathEscape(key) + ".json"
}

// documentKey recovers the document key from an object key, reporting
// false for objects that are not documents of the collection.
func (s *S3Store) documentKey(collection, objectKey string) (string, bool) {
	name, ok := strings.CutPrefix(objectKey, s.collectionPrefix(collection))
	if !ok || strings.Contains(name, "/") || path.Ext(name) != ".json" {
		return "", false
	}
	key, err := url.PathUnescape(strings.TrimSuffix(name, ".json"))
	if err != nil || key == "" {
		return "", false
	}
	return key, true
}

// GetAll implements Store.
func (s *S3Store) GetAll(ctx context.Context, collection string) ([]Document, error) {
	var docs []Document

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.collectionPrefix(collection)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list collection %s: %w", collection, err)
		}
		for _, obj := range page.Contents {
			key, ok := s.documentKey(collection, aws.ToString(obj.Key))
			if !ok {
				continue
			}
			fields, err := s.read(ctx, aws.ToString(obj.Key))
			if err != nil {
				return nil, fmt.Errorf("%s/%s: %w", collection, key, err)
			}
			docs = append(docs, Document{Key: key, Fields: fields})
		}
	}

	sortDocuments(docs)
	return docs, nil
}

// Get implements Store.
func (s *S3Store) Get(ctx context.Context, collection, key string) (Document, error) {
	fields, err := s.read(ctx, s.objectKey(collection, key))
	if err != nil {
		return Document{}, fmt.Errorf("%s/%s: %w", collection, key, err)
	}
	return Document{Key: key, Fields: fields}, nil
}

func (s *S3Store) read(ctx context.Context, objectKey string) (schema.Fields, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	return decodeFields(data)
}

// Set implements Store.
func (s *S3Store) Set(ctx context.Context, collection, key string, fields schema.Fields) error {
	data, err := encodeFields(fields)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(collection, key)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to write document %s/%s: %w", collection, key, err)
	}
	return nil
}

// Close implements Store.
func (s *S3Store) Close() error {
	return nil
}
