package monitoring

import (
	"bytes"
	"context"
	"errors"
	"io"

	"cloud.google.com/go/storage"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
)

// GCSArchiver writes rollup documents to a Cloud Storage bucket. Objects
// are created only if absent, so a re-run for the same day keeps the
// first archive.
type GCSArchiver struct {
	bucket *storage.BucketHandle
}

// NewGCSArchiver archives into bucket.
func NewGCSArchiver(client *storage.Client, bucket string) *GCSArchiver {
	return &GCSArchiver{bucket: client.Bucket(bucket)}
}

// Archive implements Archiver.
func (g *GCSArchiver) Archive(ctx context.Context, name string, data []byte) error {
	w := g.bucket.Object(name).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = "application/json"

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		if isPrecondition(err) {
			return nil
		}
		return eris.Wrapf(err, "monitoring: write gcs object %s", name)
	}
	if err := w.Close(); err != nil {
		if isPrecondition(err) {
			zap.L().Info("monitoring: rollup already archived", zap.String("object", name))
			return nil
		}
		return eris.Wrapf(err, "monitoring: finalize gcs object %s", name)
	}
	return nil
}

func isPrecondition(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == 412
}
