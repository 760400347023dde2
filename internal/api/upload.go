package api

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"lesionlog/internal/pkg/apperr"
	"lesionlog/internal/pkg/metrics"
	"lesionlog/internal/storage"

	"github.com/gin-gonic/gin"
)

// multipartOverhead 允许 multipart 边界与表单头超出文件大小上限的余量。
const multipartOverhead = 64 << 10

type fileData struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Mimetype string `json:"mimetype"`
}

// handleUploadImage 接收 multipart 字段 image，校验类型与大小后存储。
//
// POST /upload/image
func (s *Server) handleUploadImage(c *gin.Context) {
	driver := s.uploads.Driver()
	maxBytes := s.cfg.App.MaxUploadBytes
	fail := func(err error) {
		metrics.UploadsTotal.WithLabelValues(driver, "rejected").Inc()
		s.errs.Error(c, err)
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes+multipartOverhead)
	fh, err := c.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			fail(apperr.Validation("File too large. Maximum size is 5MB"))
			return
		}
		fail(apperr.Validation("No file uploaded"))
		return
	}
	if fh.Size > maxBytes {
		fail(apperr.Validation("File too large. Maximum size is 5MB"))
		return
	}
	declared := fh.Header.Get("Content-Type")
	if !strings.HasPrefix(declared, "image/") {
		fail(apperr.Validation("Only image files are allowed"))
		return
	}

	f, err := fh.Open()
	if err != nil {
		fail(apperr.Internal("Failed to read upload", err))
		return
	}
	defer f.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		fail(apperr.Internal("Failed to read upload", err))
		return
	}
	head = head[:n]
	if !strings.HasPrefix(http.DetectContentType(head), "image/") {
		fail(apperr.Validation("Only image files are allowed"))
		return
	}

	key := storage.NewKey(fh.Filename)
	obj, err := s.uploads.Save(c.Request.Context(), key, io.MultiReader(bytes.NewReader(head), f), fh.Size, declared)
	if err != nil {
		metrics.UploadsTotal.WithLabelValues(driver, "error").Inc()
		s.errs.Error(c, apperr.Internal("Failed to store image", err))
		return
	}
	metrics.UploadsTotal.WithLabelValues(driver, "ok").Inc()
	s.logger.Info("image uploaded",
		slog.String("key", obj.Key),
		slog.Int64("size", obj.Size),
		slog.Uint64("user_id", uint64(principal(c).UserID)),
	)

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"message": "Image uploaded successfully",
		"fileData": fileData{
			Filename: obj.Key,
			Path:     obj.Location,
			Size:     obj.Size,
			Mimetype: declared,
		},
	})
}
