// Package objectstore implements the Object-Store Adapter: a thin MinIO
// wrapper for persisting the source PDF, the normalized chunk manifest,
// and rasterized page images for a single job prefix. It is the direct
// descendant of the teacher's internal/storage/minio.go, generalized from
// a single configured bucket to per-request credentials and bucket names
// as the submit-task facade's contract requires.
package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/tiangong-mineru/orchestrator/internal/chunk"
	"github.com/tiangong-mineru/orchestrator/internal/pdfrender"
	"github.com/tiangong-mineru/orchestrator/pkg/logger"
	"github.com/tiangong-mineru/orchestrator/pkg/metrics"
)

// Credentials identifies one caller-supplied MinIO endpoint.
type Credentials struct {
	Address   string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// PageImage records one uploaded page-render object.
type PageImage struct {
	PageNumber int    `json:"page_number"`
	ObjectName string `json:"object_name"`
}

// AssetRecord is returned on a successful upload_bundle call.
type AssetRecord struct {
	Bucket      string      `json:"bucket"`
	Prefix      string      `json:"prefix"`
	PDFObject   string      `json:"pdf_object"`
	JSONObject  string      `json:"json_object"`
	PageImages  []PageImage `json:"page_images"`
	MetaObject  *string     `json:"meta_object,omitempty"`
}

// ErrNotFound is returned by PrepareDownload when the object does not exist.
var ErrNotFound = errors.New("objectstore: object not found")

// Store is a per-request MinIO client.
type Store struct {
	client *minio.Client
}

// New dials a MinIO endpoint with the given credentials. It does not touch
// any bucket until EnsureBucket is called.
func New(creds Credentials) (*Store, error) {
	if creds.Address == "" {
		return nil, fmt.Errorf("objectstore: address is required")
	}
	mc, err := minio.New(creds.Address, &minio.Options{
		Creds:  credentials.NewStaticV4(creds.AccessKey, creds.SecretKey, ""),
		Secure: creds.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("objectstore: new client: %w", err)
	}
	return &Store{client: mc}, nil
}

// EnsureBucket idempotently creates bucket, tolerating race-creation errors
// from a concurrent caller doing the same thing.
func (s *Store) EnsureBucket(ctx context.Context, bucket string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("objectstore: bucket exists check: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		exists, existsErr := s.client.BucketExists(ctx, bucket)
		if existsErr != nil || !exists {
			return fmt.Errorf("objectstore: make bucket: %w", err)
		}
	}
	return nil
}

// ClearPrefix lists and deletes every object under prefix. It refuses an
// empty prefix to avoid accidentally clearing an entire bucket.
func (s *Store) ClearPrefix(ctx context.Context, bucket, prefix string) error {
	if prefix == "" {
		return fmt.Errorf("objectstore: refusing to clear an empty prefix")
	}

	objectsCh := s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:    prefix + "/",
		Recursive: true,
	})

	removeCh := make(chan minio.ObjectInfo)
	errCh := s.client.RemoveObjects(ctx, bucket, removeCh, minio.RemoveObjectsOptions{})

	go func() {
		defer close(removeCh)
		for obj := range objectsCh {
			if obj.Err != nil {
				continue
			}
			removeCh <- obj
		}
	}()

	for rmErr := range errCh {
		if rmErr.Err != nil {
			return fmt.Errorf("objectstore: clear prefix %s: %w", prefix, rmErr.Err)
		}
	}
	return nil
}

// UploadBundle uploads prefix/source.pdf, prefix/parsed.json, and
// prefix/pages/page_NNNN.jpg for every page rendered at dpi.
func (s *Store) UploadBundle(ctx context.Context, bucket, prefix, pdfPath string, chunks []chunk.Chunk, dpi int, scratchDir string) (*AssetRecord, error) {
	start := time.Now()
	defer func() {
		metrics.ObjectStoreUploadDuration.WithLabelValues("bundle").Observe(time.Since(start).Seconds())
	}()

	pdfObject := prefix + "/source.pdf"
	if err := s.uploadFile(ctx, bucket, pdfObject, pdfPath, "application/pdf"); err != nil {
		return nil, fmt.Errorf("objectstore: upload pdf: %w", err)
	}

	payload, err := json.Marshal(chunks)
	if err != nil {
		return nil, fmt.Errorf("objectstore: marshal parsed.json: %w", err)
	}
	jsonObject := prefix + "/parsed.json"
	if _, err := s.client.PutObject(ctx, bucket, jsonObject, bytes.NewReader(payload), int64(len(payload)),
		minio.PutObjectOptions{ContentType: "application/json"}); err != nil {
		return nil, fmt.Errorf("objectstore: upload parsed.json: %w", err)
	}

	pages, err := pdfrender.Render(ctx, pdfPath, scratchDir, dpi)
	if err != nil {
		return nil, fmt.Errorf("objectstore: render pages: %w", err)
	}

	images := make([]PageImage, 0, len(pages))
	for _, p := range pages {
		objectName := fmt.Sprintf("%s/pages/page_%04d.jpg", prefix, p.PageNumber)
		if _, err := s.client.PutObject(ctx, bucket, objectName, bytes.NewReader(p.JPEG), int64(len(p.JPEG)),
			minio.PutObjectOptions{ContentType: "image/jpeg"}); err != nil {
			return nil, fmt.Errorf("objectstore: upload page %d: %w", p.PageNumber, err)
		}
		images = append(images, PageImage{PageNumber: p.PageNumber, ObjectName: objectName})
	}

	logger.Infof("objectstore: uploaded bundle bucket=%s prefix=%s pages=%d", bucket, prefix, len(images))

	return &AssetRecord{
		Bucket:     bucket,
		Prefix:     prefix,
		PDFObject:  pdfObject,
		JSONObject: jsonObject,
		PageImages: images,
	}, nil
}

// UploadText uploads a small UTF-8 sidecar object, e.g. meta.txt.
func (s *Store) UploadText(ctx context.Context, bucket, prefix, name, content string) (string, error) {
	objectName := prefix + "/" + name
	data := []byte(content)
	if _, err := s.client.PutObject(ctx, bucket, objectName, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "text/plain; charset=utf-8"}); err != nil {
		return "", fmt.Errorf("objectstore: upload %s: %w", name, err)
	}
	return objectName, nil
}

// DownloadInfo describes a downloadable object's metadata.
type DownloadInfo struct {
	Size        int64
	ContentType string
	ETag        string
}

// PrepareDownload opens a stream for object, returning ErrNotFound when it
// does not exist.
func (s *Store) PrepareDownload(ctx context.Context, bucket, object string) (io.ReadCloser, DownloadInfo, error) {
	obj, err := s.client.GetObject(ctx, bucket, object, minio.GetObjectOptions{})
	if err != nil {
		return nil, DownloadInfo{}, fmt.Errorf("objectstore: get object: %w", err)
	}
	stat, err := obj.Stat()
	if err != nil {
		obj.Close()
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" {
			return nil, DownloadInfo{}, ErrNotFound
		}
		return nil, DownloadInfo{}, fmt.Errorf("objectstore: stat object: %w", err)
	}
	return obj, DownloadInfo{Size: stat.Size, ContentType: stat.ContentType, ETag: stat.ETag}, nil
}

func (s *Store) uploadFile(ctx context.Context, bucket, object, path, contentType string) error {
	_, err := s.client.FPutObject(ctx, bucket, object, path, minio.PutObjectOptions{ContentType: contentType})
	return err
}
