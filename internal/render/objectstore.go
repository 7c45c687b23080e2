package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/signalsfoundry/terrain-visibility/model"
)

type objectPutter interface {
	PutObject(ctx context.Context, bucket, object string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// ObjectStoreConfig locates the bucket layers are archived in.
type ObjectStoreConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// ObjectStoreSink archives each layer as a GeoJSON object named
// <prefix><scan id>.geojson.
type ObjectStoreSink struct {
	client objectPutter
	bucket string
	prefix string
}

// NewObjectStoreSink connects to an S3-compatible store and creates the
// bucket if it does not exist.
func NewObjectStoreSink(ctx context.Context, cfg ObjectStoreConfig) (*ObjectStoreSink, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}
	return &ObjectStoreSink{client: client, bucket: cfg.Bucket, prefix: "scans/"}, nil
}

// ObjectName is the key a layer is stored under.
func (s *ObjectStoreSink) ObjectName(layer model.Layer) string {
	return s.prefix + string(layer.Kind) + "-" + layer.ScanID + ".geojson"
}

func (s *ObjectStoreSink) Publish(ctx context.Context, layer model.Layer) error {
	body, err := json.Marshal(GeoJSON(layer))
	if err != nil {
		return fmt.Errorf("marshal geojson: %w", err)
	}
	name := s.ObjectName(layer)
	_, err = s.client.PutObject(ctx, s.bucket, name, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/geo+json",
	})
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", s.bucket, name, err)
	}
	return nil
}

func (s *ObjectStoreSink) Close() error { return nil }
