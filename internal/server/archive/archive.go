// Package archive keeps a raw copy of every received payment notification
// in S3-compatible object storage.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// Archiver stores raw notification payloads.
type Archiver interface {
	Put(ctx context.Context, key string, payload []byte) error
}

// Nop drops everything. Used when no bucket is configured.
type Nop struct{}

func (Nop) Put(context.Context, string, []byte) error { return nil }

// Settings are the S3 connection parameters.
type Settings struct {
	Region       string
	BaseEndpoint string
	AccessKey    string
	SecretKey    string
	Bucket       string
}

type putObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archive writes payloads as JSON objects.
type S3Archive struct {
	bucket string
	client putObjectAPI
}

func NewS3Archive(ctx context.Context, s Settings) (*S3Archive, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(s.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s.AccessKey,
			s.SecretKey,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("load s3 config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if s.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(s.BaseEndpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Archive{bucket: s.Bucket, client: client}, nil
}

func (a *S3Archive) Put(ctx context.Context, key string, payload []byte) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("archive put %s: %w", key, err)
	}
	return nil
}

// Key builds the object key for one notification, partitioned by day.
func Key(at time.Time, txnID, paymentStatus string) string {
	at = at.UTC()
	if txnID == "" {
		txnID = "none"
	}
	return fmt.Sprintf("notifications/%d/%02d/%02d/%s-%s-%v.json",
		at.Year(), at.Month(), at.Day(), txnID, paymentStatus, uuid.New())
}
