package minio

import (
	"context"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"

	"github.com/turtacn/KeyIP-MMP/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyIP-MMP/pkg/errors"
)

var (
	ErrObjectNotFound = errors.New(errors.ErrCodeNotFound, "object not found")
	ErrUploadFailed   = errors.New(errors.ErrCodeStorageError, "upload failed")
	ErrInvalidRequest = errors.New(errors.ErrCodeValidation, "invalid request")
)

const (
	tagRunID = "run-id"
	tagKind  = "kind"
)

// Artifact kinds stored per run.
const (
	KindRecords  = "records.csv"
	KindFailures = "failures.csv"
	KindSummary  = "summary.json"
)

// ArchiveRepository stores run artifacts under <prefix><run id>/<kind>.
type ArchiveRepository interface {
	Put(ctx context.Context, req *PutRequest) (*ArtifactInfo, error)
	Open(ctx context.Context, runID uuid.UUID, kind string) (io.ReadCloser, error)
	Stat(ctx context.Context, runID uuid.UUID, kind string) (*ArtifactInfo, error)
	ListRun(ctx context.Context, runID uuid.UUID) ([]*ArtifactInfo, error)
	ListRuns(ctx context.Context) ([]uuid.UUID, error)
	DeleteRun(ctx context.Context, runID uuid.UUID) error
	PresignedURL(ctx context.Context, runID uuid.UUID, kind string, expiry time.Duration) (string, error)
}

// PutRequest uploads one artifact.  Size -1 streams with multipart upload.
type PutRequest struct {
	RunID       uuid.UUID
	Kind        string
	Reader      io.Reader
	Size        int64
	ContentType string
	Metadata    map[string]string
}

// ArtifactInfo describes a stored artifact.
type ArtifactInfo struct {
	RunID        uuid.UUID
	Kind         string
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
}

type archiveRepository struct {
	client *MinIOClient
	logger logging.Logger
}

// NewArchiveRepository builds the repository on client.
func NewArchiveRepository(client *MinIOClient, log logging.Logger) ArchiveRepository {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &archiveRepository{client: client, logger: log.Named("archive")}
}

// ObjectKey is the key of kind for runID.
func ObjectKey(prefix string, runID uuid.UUID, kind string) string {
	return prefix + runID.String() + "/" + kind
}

func (r *archiveRepository) key(runID uuid.UUID, kind string) string {
	return ObjectKey(r.client.Prefix(), runID, kind)
}

func (r *archiveRepository) Put(ctx context.Context, req *PutRequest) (*ArtifactInfo, error) {
	if err := r.client.checkOpen(); err != nil {
		return nil, err
	}
	if req == nil || req.RunID == uuid.Nil || req.Kind == "" || req.Reader == nil {
		return nil, ErrInvalidRequest.WithDetail("run id, kind and reader are required")
	}
	if req.ContentType == "" {
		req.ContentType = contentTypeFor(req.Kind)
	}
	opts := minio.PutObjectOptions{
		ContentType:  req.ContentType,
		UserMetadata: req.Metadata,
		UserTags:     map[string]string{tagRunID: req.RunID.String(), tagKind: req.Kind},
	}
	if req.Size < 0 {
		opts.PartSize = uint64(r.client.config.PartSize)
	}

	key := r.key(req.RunID, req.Kind)
	info, err := r.client.GetClient().PutObject(ctx, r.client.Bucket(), key, req.Reader, req.Size, opts)
	if err != nil {
		return nil, ErrUploadFailed.WithDetail(key).WithCause(err)
	}
	r.logger.Debug("artifact stored", logging.String("key", key), logging.Int64("size", info.Size))
	return &ArtifactInfo{
		RunID:        req.RunID,
		Kind:         req.Kind,
		Key:          key,
		Size:         info.Size,
		ETag:         info.ETag,
		ContentType:  req.ContentType,
		LastModified: info.LastModified,
	}, nil
}

func (r *archiveRepository) Open(ctx context.Context, runID uuid.UUID, kind string) (io.ReadCloser, error) {
	if err := r.client.checkOpen(); err != nil {
		return nil, err
	}
	key := r.key(runID, kind)
	obj, err := r.client.GetClient().GetObject(ctx, r.client.Bucket(), key, minio.GetObjectOptions{})
	if err != nil {
		return nil, translate(err, key)
	}
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, translate(err, key)
	}
	return obj, nil
}

func (r *archiveRepository) Stat(ctx context.Context, runID uuid.UUID, kind string) (*ArtifactInfo, error) {
	if err := r.client.checkOpen(); err != nil {
		return nil, err
	}
	key := r.key(runID, kind)
	info, err := r.client.GetClient().StatObject(ctx, r.client.Bucket(), key, minio.StatObjectOptions{})
	if err != nil {
		return nil, translate(err, key)
	}
	return &ArtifactInfo{
		RunID:        runID,
		Kind:         kind,
		Key:          key,
		Size:         info.Size,
		ETag:         info.ETag,
		ContentType:  info.ContentType,
		LastModified: info.LastModified,
	}, nil
}

func (r *archiveRepository) ListRun(ctx context.Context, runID uuid.UUID) ([]*ArtifactInfo, error) {
	if err := r.client.checkOpen(); err != nil {
		return nil, err
	}
	prefix := r.key(runID, "")
	var out []*ArtifactInfo
	for obj := range r.client.GetClient().ListObjects(ctx, r.client.Bucket(), minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, errors.Wrap(obj.Err, errors.ErrCodeStorageError, "list objects failed")
		}
		out = append(out, &ArtifactInfo{
			RunID:        runID,
			Kind:         strings.TrimPrefix(obj.Key, prefix),
			Key:          obj.Key,
			Size:         obj.Size,
			ETag:         obj.ETag,
			ContentType:  obj.ContentType,
			LastModified: obj.LastModified,
		})
	}
	return out, nil
}

// ListRuns returns the archived run ids in ascending order.  Keys under the
// prefix that are not run directories are skipped.
func (r *archiveRepository) ListRuns(ctx context.Context) ([]uuid.UUID, error) {
	if err := r.client.checkOpen(); err != nil {
		return nil, err
	}
	prefix := r.client.Prefix()
	var runs []uuid.UUID
	for obj := range r.client.GetClient().ListObjects(ctx, r.client.Bucket(), minio.ListObjectsOptions{Prefix: prefix}) {
		if obj.Err != nil {
			return nil, errors.Wrap(obj.Err, errors.ErrCodeStorageError, "list objects failed")
		}
		dir := strings.TrimSuffix(strings.TrimPrefix(obj.Key, prefix), "/")
		id, err := uuid.Parse(path.Base(dir))
		if err != nil {
			continue
		}
		runs = append(runs, id)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].String() < runs[j].String() })
	return runs, nil
}

func (r *archiveRepository) DeleteRun(ctx context.Context, runID uuid.UUID) error {
	arts, err := r.ListRun(ctx, runID)
	if err != nil {
		return err
	}
	objectsCh := make(chan minio.ObjectInfo, len(arts))
	for _, a := range arts {
		objectsCh <- minio.ObjectInfo{Key: a.Key}
	}
	close(objectsCh)

	var failed []string
	for rerr := range r.client.GetClient().RemoveObjects(ctx, r.client.Bucket(), objectsCh, minio.RemoveObjectsOptions{}) {
		failed = append(failed, rerr.ObjectName)
		r.logger.Warn("failed to remove artifact", logging.String("key", rerr.ObjectName), logging.Err(rerr.Err))
	}
	if len(failed) > 0 {
		return errors.New(errors.ErrCodeStorageError, "failed to remove artifacts").WithDetail(strings.Join(failed, ","))
	}
	return nil
}

func (r *archiveRepository) PresignedURL(ctx context.Context, runID uuid.UUID, kind string, expiry time.Duration) (string, error) {
	if err := r.client.checkOpen(); err != nil {
		return "", err
	}
	return r.client.GeneratePresignedGetURL(ctx, r.key(runID, kind), expiry)
}

// RunTags returns the tags stored with an artifact.
func RunTags(ctx context.Context, c *MinIOClient, runID uuid.UUID, kind string) (map[string]string, error) {
	key := ObjectKey(c.Prefix(), runID, kind)
	t, err := c.GetClient().GetObjectTagging(ctx, c.Bucket(), key, minio.GetObjectTaggingOptions{})
	if err != nil {
		return nil, translate(err, key)
	}
	return t.ToMap(), nil
}

func contentTypeFor(kind string) string {
	switch path.Ext(kind) {
	case ".csv":
		return "text/csv"
	case ".json":
		return "application/json"
	}
	return "application/octet-stream"
}

func translate(err error, key string) error {
	if code := minio.ToErrorResponse(err).Code; code == "NoSuchKey" || code == "NoSuchObject" {
		return ErrObjectNotFound.WithDetail(key)
	}
	return errors.Wrap(err, errors.ErrCodeStorageError, "object operation failed on "+key)
}
