/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package media turns user supplied media references into something the engine can
// open: environment and home expansion, local existence checks and s3:// presigning.
package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
)

// ErrS3Unconfigured is returned for s3:// references when no presigner is configured.
var ErrS3Unconfigured = errors.New("s3 media requested but no S3 endpoint is configured")

var percentVar = regexp.MustCompile(`%([A-Za-z_][A-Za-z0-9_]*)%`)

// Expand replaces a leading ~ with the home directory and substitutes $VAR, ${VAR}
// and %VAR% from the environment. Unset %VAR% references are left untouched.
func Expand(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "~" || strings.HasPrefix(ref, "~/") || strings.HasPrefix(ref, `~\`) {
		if home, err := os.UserHomeDir(); err == nil {
			ref = home + ref[1:]
		}
	}
	ref = percentVar.ReplaceAllStringFunc(ref, func(m string) string {
		if v, ok := os.LookupEnv(m[1 : len(m)-1]); ok {
			return v
		}
		return m
	})
	return os.ExpandEnv(ref)
}

// LocalPath strips a file:// scheme.
func LocalPath(ref string) string {
	if p, ok := strings.CutPrefix(ref, "file://"); ok {
		return filepath.FromSlash(p)
	}
	return ref
}

// CheckLocal verifies that a local reference can be opened for reading.
func CheckLocal(ref string) error {
	f, err := os.Open(LocalPath(ref))
	if err != nil {
		return fmt.Errorf("open media: %w", err)
	}
	return f.Close()
}

// Presigner turns an object reference into a time limited HTTPS URL.
type Presigner interface {
	Presign(ctx context.Context, bucket, key string) (string, error)
}

// Resolver expands references and presigns s3:// objects.
type Resolver struct {
	presigner Presigner
	logger    zerolog.Logger
}

// NewResolver returns a resolver. presigner may be nil.
func NewResolver(presigner Presigner, logger zerolog.Logger) *Resolver {
	return &Resolver{presigner: presigner, logger: logger.With().Str("component", "media").Logger()}
}

// Resolve returns the engine-ready URL for ref.
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	expanded := Expand(ref)
	bucket, key, ok := ParseS3(expanded)
	if !ok {
		return expanded, nil
	}
	if r.presigner == nil {
		return "", ErrS3Unconfigured
	}
	url, err := r.presigner.Presign(ctx, bucket, key)
	if err != nil {
		return "", fmt.Errorf("presign s3://%s/%s: %w", bucket, key, err)
	}
	r.logger.Debug().Str("bucket", bucket).Str("key", key).Msg("presigned s3 media")
	return url, nil
}

// ParseS3 splits s3://bucket/key. ok is false for anything else or an empty key.
func ParseS3(ref string) (bucket, key string, ok bool) {
	if len(ref) < 5 || !strings.EqualFold(ref[:5], "s3://") {
		return "", "", false
	}
	bucket, key, found := strings.Cut(ref[5:], "/")
	if !found || bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}
