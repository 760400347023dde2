package storage

import (
	"context"
	"fmt"
	"io"

	"lesionlog/internal/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// minioAPI 是 *minio.Client 的子集，便于测试替换。
type minioAPI interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Minio 把对象写入 MinIO bucket。
type Minio struct {
	api    minioAPI
	bucket string
}

// NewMinio 连接 MinIO 并确保 bucket 存在。
func NewMinio(ctx context.Context, cfg config.StorageConfig) (*Minio, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return NewMinioWithAPI(ctx, client, cfg.MinioBucket)
}

// NewMinioWithAPI 使用注入的 API 创建（测试用）。
func NewMinioWithAPI(ctx context.Context, api minioAPI, bucket string) (*Minio, error) {
	m := &Minio{api: api, bucket: bucket}
	if err := m.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Minio) ensureBucket(ctx context.Context) error {
	exists, err := m.api.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", m.bucket, err)
	}
	if exists {
		return nil
	}
	if err := m.api.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", m.bucket, err)
	}
	return nil
}

func (m *Minio) Driver() string { return "minio" }

func (m *Minio) Save(ctx context.Context, key string, r io.Reader, size int64, contentType string) (Object, error) {
	if !validKey(key) {
		return Object{}, ErrInvalidKey
	}
	info, err := m.api.PutObject(ctx, m.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return Object{}, fmt.Errorf("put object: %w", err)
	}
	n := info.Size
	if n == 0 {
		n = size
	}
	return Object{Key: key, Size: n, ContentType: contentType, Location: m.bucket + "/" + key}, nil
}
