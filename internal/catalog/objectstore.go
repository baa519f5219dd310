package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"tableqa/internal/errs"
)

// ObjectStoreConfig reaches an S3-compatible endpoint.
type ObjectStoreConfig struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
}

var errNoSuchObject = errors.New("no such object")

type minioStore struct {
	client *minio.Client
}

// NewObjectStore returns an ObjectGetter backed by minio-go. Empty
// credentials make anonymous requests, which is what public buckets need.
func NewObjectStore(cfg ObjectStoreConfig) (ObjectGetter, error) {
	endpoint, secure, err := parseEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: strings.TrimSpace(cfg.Region),
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return &minioStore{client: client}, nil
}

func (m *minioStore) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, err := m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapMinioErr(bucket, key, err)
	}
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, mapMinioErr(bucket, key, err)
	}
	return obj, nil
}

func mapMinioErr(bucket, key string, err error) error {
	var response minio.ErrorResponse
	if errors.As(err, &response) {
		switch response.Code {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return errs.Wrap(errs.NotFound, "s3", "s3://"+bucket+"/"+key, errNoSuchObject)
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return errs.Wrap(errs.Transport, "s3", "access denied to s3://"+bucket+"/"+key, err)
		}
	}
	return errs.Wrap(errs.Transport, "s3", "get s3://"+bucket+"/"+key, err)
}

func parseEndpoint(raw string, useSSL bool) (string, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, errs.New(errs.Config, "s3", "endpoint is required")
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		parsed, err := url.Parse(raw)
		if err != nil {
			return "", false, fmt.Errorf("parse endpoint URL: %w", err)
		}
		if parsed.Host == "" {
			return "", false, errs.New(errs.Config, "s3", "endpoint host is required")
		}
		return parsed.Host, parsed.Scheme == "https", nil
	}
	return raw, useSSL, nil
}
