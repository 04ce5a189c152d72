// Package s3archive guarda en S3 los payloads de dead-letters en cuarentena.
package s3archive

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// API es el subconjunto de *s3.Client que usamos.
type API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type Archive struct {
	api    API
	bucket string
	prefix string
}

func New(api API, bucket, prefix string) *Archive {
	return &Archive{api: api, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// NewClient usa la config default de AWS. Path-style para que funcione con
// localstack/minio.
func NewClient(ctx context.Context, endpoint string) (*s3.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	baseEndpoint := cfg.BaseEndpoint
	if endpoint != "" {
		baseEndpoint = aws.String(endpoint)
	}

	return s3.New(s3.Options{
		Region:       cfg.Region,
		Credentials:  cfg.Credentials,
		HTTPClient:   cfg.HTTPClient,
		BaseEndpoint: baseEndpoint,
		UsePathStyle: true,
	}), nil
}

func (a *Archive) Archive(ctx context.Context, key string, body []byte) error {
	if a.prefix != "" {
		key = path.Join(a.prefix, key)
	}
	_, err := a.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		ACL:         types.ObjectCannedACLPrivate,
	})
	if err != nil {
		return fmt.Errorf("s3 put %s: %w", key, err)
	}
	return nil
}
