package recording

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/oszuidwest/rdio-vox/internal/util"
)

// artifactPrefix and artifactSuffix identify files written by the dispatcher.
const (
	artifactPrefix = "vox-"
	artifactSuffix = ".wav"
)

// startCleanupScheduler runs retention cleanup every day at 03:00 until Close.
func (d *Dispatcher) startCleanupScheduler() {
	go func() {
		for {
			now := time.Now()
			next := time.Date(now.Year(), now.Month(), now.Day(), 3, 0, 0, 0, now.Location())
			if now.After(next) {
				next = next.Add(24 * time.Hour)
			}

			slog.Debug("cleanup scheduler: next run scheduled", "at", next.Format(time.DateTime))

			select {
			case <-time.After(next.Sub(now)):
				d.runCleanup()
			case <-d.cleanupStopCh:
				return
			}
		}
	}()
}

// runCleanup removes retained recordings and archived objects past retention.
func (d *Dispatcher) runCleanup() {
	set := d.settings()
	if set.RetentionDays <= 0 {
		return
	}

	cutoff := time.Now().AddDate(0, 0, -set.RetentionDays)

	deleted, err := CleanupLocal(set.Dir, cutoff)
	if err != nil {
		slog.Warn("cleanup: failed to clean recordings directory", "path", set.Dir, "error", err)
	} else if deleted > 0 {
		slog.Info("cleanup: deleted retained recordings", "count", deleted)
	}

	var archived int
	if set.Archive.IsConfigured() {
		archived = d.cleanupArchive(set, cutoff)
	}

	if d.opts.OnCleanup != nil {
		d.opts.OnCleanup(deleted, archived)
	}
}

// CleanupLocal deletes recordings in dir whose filename date is before cutoff.
// Files that do not look like dispatcher artifacts are left alone.
func CleanupLocal(dir string, cutoff time.Time) (int, error) {
	if dir == "" {
		return 0, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}

	var deleted int
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, artifactPrefix) || !strings.HasSuffix(name, artifactSuffix) {
			continue
		}

		fileDate, ok := util.ExtractDateFromFilename(name)
		if !ok || !fileDate.Before(cutoff) {
			continue
		}

		filePath := filepath.Join(dir, name)
		if err := os.Remove(filePath); err != nil {
			slog.Warn("cleanup: failed to delete recording", "path", filePath, "error", err)
			continue
		}
		deleted++
		slog.Debug("cleanup: deleted recording", "file", name)
	}

	return deleted, nil
}

// cleanupArchive removes archived objects older than cutoff and returns how many were deleted.
func (d *Dispatcher) cleanupArchive(set Settings, cutoff time.Time) int {
	client := d.archive.clientFor(set.Archive)
	prefix := archivePrefix(set.Archive) + "/"

	ctx, cancel := context.WithTimeoutCause(d.ctx, 5*time.Minute, errors.New("s3 cleanup timeout"))
	defer cancel()

	var deleted int
	var continuationToken *string

	for {
		input := &s3.ListObjectsV2Input{
			Bucket:            aws.String(set.Archive.Bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: continuationToken,
		}

		output, err := client.ListObjectsV2(ctx, input)
		if err != nil {
			slog.Warn("cleanup: failed to list S3 objects", "bucket", set.Archive.Bucket, "error", err)
			return deleted
		}

		for _, obj := range output.Contents {
			key := aws.ToString(obj.Key)
			fileDate, ok := util.ExtractDateFromFilename(path.Base(key))
			if !ok || !fileDate.Before(cutoff) {
				continue
			}

			_, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(set.Archive.Bucket),
				Key:    obj.Key,
			})
			if err != nil {
				slog.Warn("cleanup: failed to delete S3 object", "key", key, "error", err)
				continue
			}
			deleted++
		}

		if !aws.ToBool(output.IsTruncated) {
			break
		}
		continuationToken = output.NextContinuationToken
	}

	if deleted > 0 {
		slog.Info("cleanup: deleted archived recordings", "count", deleted)
	}
	return deleted
}
