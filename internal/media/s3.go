/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config describes an S3-compatible endpoint.
type S3Config struct {
	Region       string
	Endpoint     string // empty means AWS
	AccessKeyID  string // empty means the default credential chain
	SecretKey    string
	UsePathStyle bool
	TTL          time.Duration
}

// S3Presigner presigns GetObject requests.
type S3Presigner struct {
	client *s3.PresignClient
	ttl    time.Duration
}

// NewS3Presigner builds a presigner from cfg. Presigning is local, so no request is made
// until the engine fetches the URL.
func NewS3Presigner(ctx context.Context, cfg S3Config) (*S3Presigner, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &S3Presigner{client: s3.NewPresignClient(client), ttl: ttl}, nil
}

// Presign implements Presigner.
func (p *S3Presigner) Presign(ctx context.Context, bucket, key string) (string, error) {
	req, err := p.client.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(p.ttl))
	if err != nil {
		return "", err
	}
	return req.URL, nil
}
