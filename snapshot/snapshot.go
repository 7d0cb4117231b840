// Package snapshot archives page bodies captured at pause and failure
// points, so humans resolving interventions see what the engine saw.
package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/justapithecus/ferret/config"
)

// Archiver stores one page body and returns a stable reference to it.
type Archiver interface {
	Archive(ctx context.Context, runID uuid.UUID, attempt int, body string) (string, error)
}

// New builds the archiver named by configuration.
func New(ctx context.Context, cfg config.SnapshotConfig) (Archiver, error) {
	switch cfg.Backend {
	case "", "dir":
		path := cfg.Path
		if path == "" {
			path = ".ferret/snapshots"
		}
		return NewDirArchiver(path), nil
	case "s3":
		return NewS3Archiver(ctx, cfg.Bucket, cfg.Region, cfg.Prefix)
	default:
		return nil, fmt.Errorf("snapshot: unknown backend %q", cfg.Backend)
	}
}

// DirArchiver writes snapshots under a local directory tree.
type DirArchiver struct {
	root string
}

// NewDirArchiver builds a directory-backed archiver rooted at root.
func NewDirArchiver(root string) *DirArchiver {
	return &DirArchiver{root: root}
}

// Archive writes the body to <root>/<run>/attempt-<n>.html atomically
// and returns a file:// reference.
func (a *DirArchiver) Archive(ctx context.Context, runID uuid.UUID, attempt int, body string) (string, error) {
	dir := filepath.Join(a.root, runID.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("snapshot: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("attempt-%d.html", attempt))
	tmp, err := os.CreateTemp(dir, ".snapshot-*")
	if err != nil {
		return "", fmt.Errorf("snapshot: %w", err)
	}
	if _, err := tmp.WriteString(body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("snapshot: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return "file://" + abs, nil
}

// s3PutAPI is the slice of the S3 client the archiver needs.
type s3PutAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes snapshots to an S3 bucket.
type S3Archiver struct {
	client s3PutAPI
	bucket string
	prefix string
}

// NewS3Archiver builds an S3-backed archiver using ambient credentials.
func NewS3Archiver(ctx context.Context, bucket, region, prefix string) (*S3Archiver, error) {
	if bucket == "" {
		return nil, fmt.Errorf("snapshot: s3 backend requires a bucket")
	}
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("snapshot: load aws config: %w", err)
	}
	return &S3Archiver{
		client: s3.NewFromConfig(awsCfg),
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}, nil
}

// Archive uploads the body and returns an s3:// reference.
func (a *S3Archiver) Archive(ctx context.Context, runID uuid.UUID, attempt int, body string) (string, error) {
	key := fmt.Sprintf("%s/attempt-%d.html", runID, attempt)
	if a.prefix != "" {
		key = a.prefix + "/" + key
	}

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        strings.NewReader(body),
		ContentType: aws.String("text/html; charset=utf-8"),
	})
	if err != nil {
		return "", fmt.Errorf("snapshot: put s3 object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", a.bucket, key), nil
}
