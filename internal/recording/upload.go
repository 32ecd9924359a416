package recording

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/oszuidwest/rdio-vox/internal/types"
	"github.com/oszuidwest/rdio-vox/internal/util"
)

// Archiver copies delivered recordings to S3-compatible storage.
// The client is rebuilt when the archive settings change. It is safe for concurrent use.
type Archiver struct {
	mu     sync.Mutex
	client *s3.Client
	cfg    types.S3Config
}

// NewArchiver returns an Archiver without a client; one is created on first use.
func NewArchiver() *Archiver {
	return &Archiver{}
}

// createS3Client creates an S3 client with the given configuration.
func createS3Client(cfg types.S3Config) *s3.Client {
	creds := credentials.NewStaticCredentialsProvider(
		cfg.AccessKeyID,
		cfg.SecretAccessKey,
		"",
	)

	options := []func(*s3.Options){
		func(o *s3.Options) {
			o.Credentials = creds
			o.Region = cmp.Or(cfg.Region, "auto")
		},
	}

	if cfg.Endpoint != "" {
		options = append(options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return s3.New(s3.Options{}, options...)
}

// clientFor returns a cached client, recreating it when cfg differs from the last one.
func (a *Archiver) clientFor(cfg types.S3Config) *s3.Client {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.client == nil || a.cfg != cfg {
		a.client = createS3Client(cfg)
		a.cfg = cfg
	}
	return a.client
}

// archivePrefix returns the key prefix all archived recordings share.
func archivePrefix(cfg types.S3Config) string {
	return strings.Trim(cmp.Or(cfg.Prefix, "recordings"), "/")
}

// ObjectKey returns the archive key for a job: <prefix>/<system>/<talkgroup>/YYYY/MM/DD/<file>.
func ObjectKey(cfg types.S3Config, job Job) string {
	return path.Join(
		archivePrefix(cfg),
		cmp.Or(job.Metadata.System, "unknown"),
		cmp.Or(job.Metadata.Talkgroup, "unknown"),
		job.StartedAt.Format("2006/01/02"),
		job.Name,
	)
}

// Put uploads the job's file and returns the object key.
func (a *Archiver) Put(ctx context.Context, cfg types.S3Config, job Job) (string, error) {
	if !cfg.IsConfigured() {
		return "", fmt.Errorf("S3 archive is not configured")
	}

	file, err := os.Open(job.Path)
	if err != nil {
		return "", util.WrapError("open recording for archive", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Warn("failed to close file after archive upload", "path", job.Path, "error", err)
		}
	}()

	info, err := file.Stat()
	if err != nil {
		return "", util.WrapError("stat recording", err)
	}

	key := ObjectKey(cfg, job)
	_, err = a.clientFor(cfg).PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(cfg.Bucket),
		Key:           aws.String(key),
		Body:          file,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String("audio/wav"),
		Metadata: map[string]string{
			"system":    job.Metadata.System,
			"talkgroup": job.Metadata.Talkgroup,
			"frequency": job.Metadata.Frequency,
		},
	})
	if err != nil {
		return "", util.WrapError("upload to S3", err)
	}

	return key, nil
}

// TestS3Connection tests connectivity to an S3 bucket by uploading and deleting a test file.
func TestS3Connection(ctx context.Context, cfg types.S3Config) error {
	if !cfg.IsConfigured() {
		return fmt.Errorf("S3 archive: %w", ErrNotConfigured)
	}

	client := createS3Client(cfg)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	testKey := path.Join(archivePrefix(cfg), fmt.Sprintf("test-connection-%d.txt", time.Now().UnixNano()))
	testContent := []byte("rdio-vox archive connection test")

	_, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(cfg.Bucket),
		Key:           aws.String(testKey),
		Body:          bytes.NewReader(testContent),
		ContentLength: aws.Int64(int64(len(testContent))),
	})
	if err != nil {
		return fmt.Errorf("upload test file: %w", err)
	}

	_, err = client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(cfg.Bucket),
		Key:    aws.String(testKey),
	})
	if err != nil {
		slog.Warn("failed to delete test file", "key", testKey, "error", err)
	}

	return nil
}
