// Package archive exports aggregate snapshots to S3-compatible object
// storage using MinIO.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	dto "github.com/prometheus/client_model/go"

	"github.com/pulse/pulse/pkg/log"
	"github.com/pulse/pulse/pkg/metrics"
)

// snapshotPrefix is the object key prefix for archived snapshots.
const snapshotPrefix = "snapshots"

// pathTimeFormat renders a snapshot timestamp into its object key.
const pathTimeFormat = "20060102T150405Z"

// Document is an archived snapshot of one aggregate group.
type Document struct {
	ID      string    `json:"id"`
	Group   string    `json:"group"`
	TakenAt time.Time `json:"taken_at"`
	Series  []Series  `json:"series"`
}

// Series is one flattened sample inside a snapshot document. Histogram
// and summary families carry no single value and are not archived.
type Series struct {
	Family string            `json:"family"`
	Type   string            `json:"type"`
	Labels map[string]string `json:"labels,omitempty"`
	Value  float64           `json:"value"`
}

// NewDocument flattens a group snapshot into an archive document.
func NewDocument(group string, takenAt time.Time, families []*dto.MetricFamily) Document {
	doc := Document{
		ID:      uuid.New().String(),
		Group:   group,
		TakenAt: takenAt.UTC(),
	}
	for _, fam := range families {
		name := fam.GetName()
		if name == "" {
			continue
		}
		for _, m := range fam.Metric {
			value, ok := seriesValue(fam.GetType(), m)
			if !ok {
				continue
			}
			doc.Series = append(doc.Series, Series{
				Family: name,
				Type:   strings.ToLower(fam.GetType().String()),
				Labels: labelMap(m.Label),
				Value:  value,
			})
		}
	}
	return doc
}

func seriesValue(t dto.MetricType, m *dto.Metric) (float64, bool) {
	switch t {
	case dto.MetricType_COUNTER:
		return m.Counter.GetValue(), true
	case dto.MetricType_GAUGE:
		return m.Gauge.GetValue(), true
	case dto.MetricType_UNTYPED:
		return m.Untyped.GetValue(), true
	default:
		return 0, false
	}
}

func labelMap(labels []*dto.LabelPair) map[string]string {
	if len(labels) == 0 {
		return nil
	}
	out := make(map[string]string, len(labels))
	for _, l := range labels {
		out[l.GetName()] = l.GetValue()
	}
	return out
}

// Entry describes one archived snapshot object.
type Entry struct {
	Path         string    `json:"path"`
	Group        string    `json:"group"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// StorageConfig holds configuration for the snapshot archive.
type StorageConfig struct {
	Endpoint        string
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
}

// Storage reads and writes snapshot documents in a single bucket.
type Storage struct {
	client  *minio.Client
	bucket  string
	logger  log.Logger
	metrics *metrics.CoordinatorMetrics
}

// NewStorage creates a snapshot archive backed by MinIO/S3. A nil cm
// disables archive metrics.
func NewStorage(cfg StorageConfig, logger log.Logger, cm *metrics.CoordinatorMetrics) (*Storage, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "s3.amazonaws.com"
	}
	endpoint = strings.TrimPrefix(endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return &Storage{
		client:  client,
		bucket:  cfg.Bucket,
		logger:  logger.With("component", "archive"),
		metrics: cm,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		err = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
		s.logger.Info().Str("bucket", s.bucket).Msg("Created archive bucket")
	}

	return nil
}

// Put stores a snapshot document and returns its object path.
func (s *Storage) Put(ctx context.Context, doc Document) (string, error) {
	objectPath := objectPath(doc)

	payload, err := json.Marshal(doc)
	if err != nil {
		s.recordOp("put", "error")
		return "", fmt.Errorf("failed to encode snapshot document: %w", err)
	}

	_, err = s.client.PutObject(ctx, s.bucket, objectPath,
		bytes.NewReader(payload), int64(len(payload)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		s.recordOp("put", "error")
		return "", fmt.Errorf("failed to store snapshot: %w", err)
	}

	s.recordOp("put", "ok")
	s.logger.Debug().
		Str("group", doc.Group).
		Str("path", objectPath).
		Int("series", len(doc.Series)).
		Msg("Archived snapshot")

	return objectPath, nil
}

// Get retrieves a snapshot document by its object path.
func (s *Storage) Get(ctx context.Context, objectPath string) (Document, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, objectPath, minio.GetObjectOptions{})
	if err != nil {
		s.recordOp("get", "error")
		return Document{}, fmt.Errorf("failed to get snapshot: %w", err)
	}
	defer obj.Close()

	if _, err := obj.Stat(); err != nil {
		s.recordOp("get", "error")
		return Document{}, fmt.Errorf("snapshot not found: %w", err)
	}

	var doc Document
	if err := json.NewDecoder(obj).Decode(&doc); err != nil {
		s.recordOp("get", "error")
		return Document{}, fmt.Errorf("failed to decode snapshot document: %w", err)
	}

	s.recordOp("get", "ok")
	return doc, nil
}

// List returns archived snapshots for a group, oldest first. An empty
// group lists the whole archive.
func (s *Storage) List(ctx context.Context, group string) ([]Entry, error) {
	prefix := snapshotPrefix + "/"
	if group != "" {
		prefix += group + "/"
	}

	var entries []Entry
	objects := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})
	for object := range objects {
		if object.Err != nil {
			s.recordOp("list", "error")
			return nil, fmt.Errorf("error listing snapshots: %w", object.Err)
		}
		entries = append(entries, Entry{
			Path:         object.Key,
			Group:        groupFromPath(object.Key),
			Size:         object.Size,
			LastModified: object.LastModified,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Path < entries[j].Path
	})

	s.recordOp("list", "ok")
	return entries, nil
}

// Delete removes one archived snapshot.
func (s *Storage) Delete(ctx context.Context, objectPath string) error {
	err := s.client.RemoveObject(ctx, s.bucket, objectPath, minio.RemoveObjectOptions{})
	if err != nil {
		s.recordOp("delete", "error")
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}

	s.recordOp("delete", "ok")
	s.logger.Debug().Str("path", objectPath).Msg("Deleted archived snapshot")
	return nil
}

// DeleteOlderThan removes up to limit snapshots last modified before
// cutoff and reports how many were removed.
func (s *Storage) DeleteOlderThan(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	entries, err := s.List(ctx, "")
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, entry := range entries {
		if limit > 0 && deleted >= limit {
			break
		}
		if !entry.LastModified.Before(cutoff) {
			continue
		}
		if err := s.Delete(ctx, entry.Path); err != nil {
			return deleted, err
		}
		deleted++
	}

	return deleted, nil
}

// HealthCheck checks if the archive backend is reachable.
func (s *Storage) HealthCheck(ctx context.Context) error {
	if _, err := s.client.BucketExists(ctx, s.bucket); err != nil {
		return fmt.Errorf("archive health check failed: %w", err)
	}
	return nil
}

func (s *Storage) recordOp(operation, status string) {
	if s.metrics != nil {
		s.metrics.RecordArchiveOp(operation, status)
	}
}

// objectPath generates the object key for a snapshot document:
// snapshots/<group>/<ts>_<id>.
func objectPath(doc Document) string {
	id := doc.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("%s/%s/%s_%s",
		snapshotPrefix, doc.Group, doc.TakenAt.UTC().Format(pathTimeFormat), id)
}

// groupFromPath extracts the group segment from an object key.
func groupFromPath(objectPath string) string {
	rest := strings.TrimPrefix(objectPath, snapshotPrefix+"/")
	if rest == objectPath {
		return ""
	}
	dir := path.Dir(rest)
	if dir == "." {
		return ""
	}
	return dir
}
