package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Local 把对象写入本地目录。
type Local struct {
	dir string
}

// NewLocal 创建本地存储，目录不存在时自动创建。
func NewLocal(dir string) (*Local, error) {
	if dir == "" {
		dir = "uploads"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Local{dir: dir}, nil
}

func (l *Local) Driver() string { return "local" }

func (l *Local) Save(ctx context.Context, key string, r io.Reader, _ int64, contentType string) (Object, error) {
	if !validKey(key) {
		return Object{}, ErrInvalidKey
	}
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}

	path := filepath.Join(l.dir, key)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return Object{}, fmt.Errorf("create object: %w", err)
	}
	n, err := io.Copy(f, r)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return Object{}, fmt.Errorf("write object: %w", err)
	}
	return Object{Key: key, Size: n, ContentType: contentType, Location: filepath.ToSlash(path)}, nil
}
