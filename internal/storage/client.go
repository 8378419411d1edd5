// Package storage keeps job sources and effect results in an S3-compatible
// bucket. Object layout:
//
//	uploads/<job>/source          original image, never modified
//	<output prefix>/<job>/<name>  encoded result, named by the export scheme
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const DefaultOutputPrefix = "outputs"

var (
	ErrObjectNotFound = errors.New("object not found")
	ErrObjectTooLarge = errors.New("object exceeds size limit")
)

type Config struct {
	Endpoint string
	Access   string
	Secret   string
	Bucket   string
	Region   string
	UseSSL   bool
	// MaxObjectBytes bounds ReadObject. Zero means unbounded.
	MaxObjectBytes int64
}

type ObjectInfo struct {
	Key         string
	Size        int64
	ContentType string
	ModTime     time.Time
}

func SourceKey(jobID string) string {
	return path.Join("uploads", jobID, "source")
}

// OutputKey places a result under <prefix>/<jobID>/<name>.
func OutputKey(prefix, jobID, name string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = DefaultOutputPrefix
	}
	return path.Join(prefix, jobID, name)
}

type Client struct {
	minio    *minio.Client
	bucket   string
	region   string
	maxBytes int64
}

func NewClient(cfg Config) (*Client, error) {
	switch {
	case strings.TrimSpace(cfg.Endpoint) == "":
		return nil, errors.New("storage endpoint is required")
	case strings.TrimSpace(cfg.Bucket) == "":
		return nil, errors.New("storage bucket is required")
	case cfg.MaxObjectBytes < 0:
		return nil, errors.New("storage max object bytes must not be negative")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Access, cfg.Secret, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &Client{
		minio:    mc,
		bucket:   cfg.Bucket,
		region:   cfg.Region,
		maxBytes: cfg.MaxObjectBytes,
	}, nil
}

func (c *Client) Bucket() string {
	return c.bucket
}

// EnsureBucket creates the bucket on first start. Losing a creation race to
// another replica is not an error.
func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.minio.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", c.bucket, err)
	}
	if exists {
		return nil
	}

	if err := c.minio.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{Region: c.region}); err != nil {
		if code := minio.ToErrorResponse(err).Code; code == "BucketAlreadyOwnedByYou" || code == "BucketAlreadyExists" {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", c.bucket, err)
	}
	return nil
}

func (c *Client) PresignedPutURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error) {
	u, err := c.minio.PresignedPutObject(ctx, c.bucket, objectKey, expiry)
	if err != nil {
		return "", fmt.Errorf("presign put %s: %w", objectKey, err)
	}
	return u.String(), nil
}

// PresignedGetURL lets a client download an export directly under its export
// file name.
func (c *Client) PresignedGetURL(ctx context.Context, objectKey, name string, expiry time.Duration) (string, error) {
	params := url.Values{}
	if name != "" {
		params.Set("response-content-disposition", attachment(name))
	}
	u, err := c.minio.PresignedGetObject(ctx, c.bucket, objectKey, expiry, params)
	if err != nil {
		return "", fmt.Errorf("presign get %s: %w", objectKey, err)
	}
	return u.String(), nil
}

// StatObject returns ErrObjectNotFound when nothing was uploaded at objectKey.
func (c *Client) StatObject(ctx context.Context, objectKey string) (ObjectInfo, error) {
	info, err := c.minio.StatObject(ctx, c.bucket, objectKey, minio.StatObjectOptions{})
	if err != nil {
		return ObjectInfo{}, c.wrap("stat", objectKey, err)
	}
	return ObjectInfo{
		Key:         info.Key,
		Size:        info.Size,
		ContentType: info.ContentType,
		ModTime:     info.LastModified,
	}, nil
}

// ReadObject fetches a whole object, refusing anything above the configured
// size bound.
func (c *Client) ReadObject(ctx context.Context, objectKey string) ([]byte, error) {
	obj, err := c.minio.GetObject(ctx, c.bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, c.wrap("get", objectKey, err)
	}
	defer obj.Close()

	data, err := readLimited(obj, c.maxBytes)
	if err != nil {
		return nil, c.wrap("read", objectKey, err)
	}
	return data, nil
}

// WriteObject stores data with a download disposition named after the key's
// last element.
func (c *Client) WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error {
	_, err := c.minio.PutObject(ctx, c.bucket, objectKey, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:        contentType,
		ContentDisposition: attachment(path.Base(objectKey)),
	})
	if err != nil {
		return c.wrap("put", objectKey, err)
	}
	return nil
}

func (c *Client) wrap(op, objectKey string, err error) error {
	if code := minio.ToErrorResponse(err).Code; code == "NoSuchKey" || code == "NoSuchObject" {
		return fmt.Errorf("%s %s: %w", op, objectKey, ErrObjectNotFound)
	}
	return fmt.Errorf("%s %s: %w", op, objectKey, err)
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w of %d bytes", ErrObjectTooLarge, limit)
	}
	return data, nil
}

func attachment(name string) string {
	return mime.FormatMediaType("attachment", map[string]string{"filename": name})
}
