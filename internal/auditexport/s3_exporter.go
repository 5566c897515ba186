package auditexport

import (
	"bytes"
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"

	"github.com/procdash-labs/procdash-go/internal/domain"
)

// S3Exporter buffers NDJSON lines and uploads the batch as a single object
// under audit/<uuid>.ndjson.
type S3Exporter struct {
	client *minio.Client
	bucket string

	buf   bytes.Buffer
	inner *NDJSONExporter
}

func NewS3Exporter(client *minio.Client, bucket string) *S3Exporter {
	e := &S3Exporter{client: client, bucket: bucket}
	e.inner = NewNDJSONExporter(&e.buf)
	return e
}

func (e *S3Exporter) Export(ctx context.Context, event domain.AuditEvent) error {
	return e.inner.Export(ctx, event)
}

// Flush uploads everything exported so far and returns the object key.
func (e *S3Exporter) Flush(ctx context.Context) (string, error) {
	key := fmt.Sprintf("audit/%s.ndjson", uuid.NewString())
	reader := bytes.NewReader(e.buf.Bytes())
	_, err := e.client.PutObject(ctx, e.bucket, key, reader, int64(reader.Len()), minio.PutObjectOptions{
		ContentType: "application/x-ndjson",
	})
	if err != nil {
		return "", fmt.Errorf("upload audit export: %w", err)
	}
	e.buf.Reset()
	return key, nil
}
