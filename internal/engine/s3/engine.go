// Package s3 implements the transfer engine over an S3-compatible object
// store using the AWS SDK. One Engine instance serves one queue manager
// and owns the event channel that manager's bridge consumes.
package s3

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dustin/go-humanize"
	"github.com/objectdeck/objectdeck/internal/engine"
	"github.com/objectdeck/objectdeck/internal/engine/progress"
	"github.com/objectdeck/objectdeck/internal/logctx"
	"golang.org/x/sync/errgroup"
)

const (
	dirPerm = 0755

	// progressInterval throttles progress events to one per chunk of
	// bytes moved.
	progressInterval = 1 * 1024 * 1024

	// aggregateParallel bounds concurrent object fetches inside one
	// prefix download. This is per item, unrelated to the queue budget.
	aggregateParallel = 4

	listPageSize = 1000
)

// Engine moves bytes between the local filesystem and an S3 bucket.
type Engine struct {
	client   *awss3.Client
	uploader *manager.Uploader
	events   chan engine.Event
}

// NewEngine creates an engine over the given S3 client.
func NewEngine(client *awss3.Client) *Engine {
	return &Engine{
		client:   client,
		uploader: manager.NewUploader(client),
		events:   make(chan engine.Event, 64),
	}
}

// Events returns the engine's notification channel.
func (e *Engine) Events() <-chan engine.Event {
	return e.events
}

// Begin validates the request and runs the transfer, blocking until it is
// over. Validation errors are returned directly with no events emitted;
// once the transfer is underway the outcome goes through the event channel
// only.
func (e *Engine) Begin(ctx context.Context, req engine.Request) error {
	switch req.Direction {
	case engine.DirectionUpload:
		return e.upload(ctx, req)
	case engine.DirectionDownload:
		if req.Aggregate {
			return e.downloadPrefix(ctx, req)
		}

		return e.download(ctx, req)
	default:
		return fmt.Errorf("unknown transfer direction: %q", req.Direction)
	}
}

func (e *Engine) upload(ctx context.Context, req engine.Request) error {
	if req.Bucket == "" || req.DestinationKey == "" || req.LocalPath == "" {
		return fmt.Errorf("upload %s: bucket, destination key and local path are required", req.ID)
	}

	file, err := os.Open(req.LocalPath)
	if err != nil {
		return fmt.Errorf("failed to open local file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat local file: %w", err)
	}

	logger := logctx.LoggerFromContext(ctx)
	logger.Debug("uploading object",
		"key", req.DestinationKey, "size", humanize.Bytes(uint64(info.Size())))

	body := progress.NewReader(file, info.Size(), progressInterval, func(written, total int64) {
		e.emit(ctx, engine.Event{
			ID:               req.ID,
			Kind:             engine.EventProgress,
			BytesTransferred: written,
			TotalBytes:       total,
		})
	})

	_, err = e.uploader.Upload(ctx, &awss3.PutObjectInput{
		Bucket: aws.String(req.Bucket),
		Key:    aws.String(req.DestinationKey),
		Body:   body,
	})
	if err != nil {
		e.emit(ctx, engine.Event{ID: req.ID, Kind: engine.EventFailed, Err: err})

		return nil
	}

	e.emit(ctx, engine.Event{
		ID:               req.ID,
		Kind:             engine.EventCompleted,
		BytesTransferred: info.Size(),
		TotalBytes:       info.Size(),
	})

	return nil
}

func (e *Engine) download(ctx context.Context, req engine.Request) error {
	if req.Bucket == "" || req.RemoteKey == "" || req.DestinationPath == "" {
		return fmt.Errorf("download %s: bucket, remote key and destination path are required", req.ID)
	}

	targetPath := filepath.Join(req.DestinationPath, path.Base(req.RemoteKey))

	written, total, err := e.fetchObject(ctx, req.Bucket, req.RemoteKey, targetPath, func(written, total int64) {
		e.emit(ctx, engine.Event{
			ID:               req.ID,
			Kind:             engine.EventProgress,
			BytesTransferred: written,
			TotalBytes:       total,
		})
	})
	if err != nil {
		e.emit(ctx, engine.Event{ID: req.ID, Kind: engine.EventFailed, Err: err})

		return nil
	}

	e.emit(ctx, engine.Event{
		ID:               req.ID,
		Kind:             engine.EventCompleted,
		BytesTransferred: written,
		TotalBytes:       total,
	})

	return nil
}

// downloadPrefix fetches every object under a prefix into the destination
// directory, preserving the key hierarchy. Only a terminal event is
// emitted; byte-level progress is not reported for aggregates.
func (e *Engine) downloadPrefix(ctx context.Context, req engine.Request) error {
	if req.Bucket == "" || req.RemoteKey == "" || req.DestinationPath == "" {
		return fmt.Errorf("download %s: bucket, prefix and destination path are required", req.ID)
	}

	prefix := req.RemoteKey
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	keys, err := e.listKeys(ctx, req.Bucket, prefix)
	if err != nil {
		e.emit(ctx, engine.Event{ID: req.ID, Kind: engine.EventFailed, Err: err})

		return nil
	}

	wg, grpCtx := errgroup.WithContext(ctx)
	wg.SetLimit(aggregateParallel)

	for _, key := range keys {
		wg.Go(func() error {
			rel := strings.TrimPrefix(key, prefix)
			target := filepath.Join(req.DestinationPath, filepath.FromSlash(rel))

			if _, _, err := e.fetchObject(grpCtx, req.Bucket, key, target, nil); err != nil {
				return fmt.Errorf("failed to fetch %s: %w", key, err)
			}

			return nil
		})
	}

	if err := wg.Wait(); err != nil {
		e.emit(ctx, engine.Event{ID: req.ID, Kind: engine.EventFailed, Err: err})

		return nil
	}

	e.emit(ctx, engine.Event{ID: req.ID, Kind: engine.EventCompleted})

	return nil
}

// fetchObject streams one object to a local file, reporting progress when
// a callback is supplied.
func (e *Engine) fetchObject(
	ctx context.Context,
	bucket, key, targetPath string,
	onProgress func(written, total int64),
) (int64, int64, error) {
	resp, err := e.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get object: %w", err)
	}
	defer resp.Body.Close()

	total := aws.ToInt64(resp.ContentLength)

	if err := os.MkdirAll(filepath.Dir(targetPath), dirPerm); err != nil {
		return 0, total, fmt.Errorf("failed to create target directory: %w", err)
	}

	out, err := os.Create(targetPath)
	if err != nil {
		return 0, total, fmt.Errorf("failed to create target file: %w", err)
	}
	defer out.Close()

	var reader io.Reader = resp.Body
	if onProgress != nil {
		reader = progress.NewReader(resp.Body, total, progressInterval, onProgress)
	}

	written, err := io.Copy(out, reader)
	if err != nil {
		return written, total, fmt.Errorf("failed to write target file: %w", err)
	}

	return written, total, nil
}

// listKeys collects all object keys under a prefix, skipping zero-byte
// folder placeholders.
func (e *Engine) listKeys(ctx context.Context, bucket, prefix string) ([]string, error) {
	var (
		keys  []string
		token *string
	)

	for {
		resp, err := e.client.ListObjectsV2(ctx, &awss3.ListObjectsV2Input{
			Bucket:            aws.String(bucket),
			Prefix:            aws.String(prefix),
			MaxKeys:           aws.Int32(listPageSize),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}

		for _, obj := range resp.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/") && aws.ToInt64(obj.Size) == 0 {
				continue
			}

			keys = append(keys, key)
		}

		token = resp.NextContinuationToken
		if token == nil || *token == "" {
			break
		}
	}

	if len(keys) == 0 {
		return nil, fmt.Errorf("no objects under prefix %s", prefix)
	}

	return keys, nil
}

// emit delivers an event unless the transfer context is already gone, in
// which case the consumer no longer cares about this id.
func (e *Engine) emit(ctx context.Context, ev engine.Event) {
	select {
	case e.events <- ev:
	case <-ctx.Done():
	}
}
