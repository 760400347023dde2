// Package storage 保存上传的图片，支持本地目录与 MinIO 两种后端。
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"lesionlog/internal/config"

	"github.com/google/uuid"
)

// ErrInvalidKey 对象名为空或包含路径分隔符。
var ErrInvalidKey = errors.New("invalid object key")

// Object 是已保存对象的描述。
type Object struct {
	Key         string
	Size        int64
	ContentType string
	Location    string // 本地为相对路径，MinIO 为 bucket/key
}

// Store 是图片存储后端。
type Store interface {
	Save(ctx context.Context, key string, r io.Reader, size int64, contentType string) (Object, error)
	Driver() string
}

// NewKey 生成 "<uuid><ext>" 形式的对象名，ext 取自原始文件名并转小写。
func NewKey(originalName string) string {
	return uuid.NewString() + strings.ToLower(filepath.Ext(originalName))
}

func validKey(key string) bool {
	return key != "" && key != "." && key != ".." && !strings.ContainsAny(key, `/\`)
}

// New 根据配置创建存储后端。
func New(ctx context.Context, cfg config.StorageConfig, uploadDir string) (Store, error) {
	switch cfg.Driver {
	case "", "local":
		return NewLocal(uploadDir)
	case "minio":
		return NewMinio(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
