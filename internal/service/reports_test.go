package service

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"lesionlog/internal/model"
	"lesionlog/internal/pkg/apperr"
	"lesionlog/internal/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reportRows(n int) []model.Result {
	rows := make([]model.Result, 0, n)
	for i := 0; i < n; i++ {
		r := model.Result{ID: uint(i + 1), Confidence: 80, Prediction: "Nevus", UserID: 1, CreatedAt: fixedNow}
		if i%2 == 0 {
			r.User = &model.User{ID: 1, Username: "alice"}
		}
		rows = append(rows, r)
	}
	return rows
}

func newReportService(t *testing.T, results *fakeResults, mailer *fakeMailer) *ReportService {
	t.Helper()
	users := NewUserService(newMemUsers(
		model.User{Username: "root", Role: model.RoleAdmin},
		model.User{Username: "alice", Role: model.RoleUser},
	), logger.NewNop())
	s := NewReportService(results, users, mailer, ReportConfig{TempDir: t.TempDir()}, logger.NewNop())
	s.now = func() time.Time { return fixedNow }
	return s
}

func TestReportDownload(t *testing.T) {
	results := &fakeResults{rows: reportRows(3)}
	s := newReportService(t, results, &fakeMailer{})

	doc, err := s.Download(context.Background(), "2024-06-01", "2024-06-15")
	require.NoError(t, err)
	assert.Equal(t, "prediction-report-2024-06-01-to-2024-06-15.pdf", doc.Filename)
	assert.True(t, bytes.HasPrefix(doc.Body, []byte("%PDF-")))
	assert.Equal(t, 1000, results.recentLimit)
}

func TestReportDownload_Errors(t *testing.T) {
	s := newReportService(t, &fakeResults{}, &fakeMailer{})
	ctx := context.Background()

	_, err := s.Download(ctx, "", "2024-06-15")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = s.Download(ctx, "June", "")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = s.Download(ctx, "2024-06-01", "2024-06-15")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestReportEmail_AttachesClosedFileThenRemovesIt(t *testing.T) {
	mailer := &fakeMailer{}
	s := newReportService(t, &fakeResults{rows: reportRows(120)}, mailer)

	filename, err := s.Email(context.Background(), "2024-06-01", "", "admin@example.com")
	require.NoError(t, err)
	assert.Equal(t, "prediction-report-2024-06-01-to-2024-06-01.pdf", filename)

	require.Len(t, mailer.sent, 1)
	sent := mailer.sent[0]
	assert.Equal(t, "admin@example.com", sent.to)
	assert.Equal(t, filename, sent.filename)
	assert.True(t, sent.existed, "attachment must be complete when the mail is sent")

	_, statErr := os.Stat(sent.body)
	assert.True(t, os.IsNotExist(statErr), "temp file is removed after sending")
}

func TestReportEmail_SendFailure(t *testing.T) {
	mailer := &fakeMailer{err: errBoom}
	s := newReportService(t, &fakeResults{rows: reportRows(2)}, mailer)

	_, err := s.Email(context.Background(), "2024-06-01", "2024-06-02", "admin@example.com")
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
	require.Len(t, mailer.sent, 1)
	_, statErr := os.Stat(mailer.sent[0].body)
	assert.True(t, os.IsNotExist(statErr))
}
