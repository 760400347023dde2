package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"lesionlog/internal/api/auth"
	"lesionlog/internal/api/respond"
	"lesionlog/internal/config"
	"lesionlog/internal/model"
	"lesionlog/internal/pkg/apperr"
	"lesionlog/internal/pkg/logger"
	"lesionlog/internal/pkg/ratelimit"
	"lesionlog/internal/pkg/token"
	"lesionlog/internal/service"
	"lesionlog/internal/storage"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type mockResults struct {
	createFunc  func(ctx context.Context, ownerID uint, in service.CreateResultInput) (model.Result, error)
	pageFunc    func() (service.ResultPage, error)
	forUserFunc func(ctx context.Context, userID uint) ([]model.Result, error)
	lastOwner   uint
	lastPage    model.Page
	lastText    string
	lastStart   string
	lastEnd     string
}

func (m *mockResults) Create(ctx context.Context, ownerID uint, in service.CreateResultInput) (model.Result, error) {
	m.lastOwner = ownerID
	return m.createFunc(ctx, ownerID, in)
}

func (m *mockResults) page(p model.Page) (service.ResultPage, error) {
	m.lastPage = p
	if m.pageFunc != nil {
		return m.pageFunc()
	}
	return service.ResultPage{Results: []model.Result{}, Pagination: model.NewPagination(p, 0)}, nil
}

func (m *mockResults) ListMine(_ context.Context, ownerID uint, p model.Page) (service.ResultPage, error) {
	m.lastOwner = ownerID
	return m.page(p)
}

func (m *mockResults) ListAll(_ context.Context, p model.Page) (service.ResultPage, error) {
	return m.page(p)
}

func (m *mockResults) ListForUser(ctx context.Context, userID uint) ([]model.Result, error) {
	return m.forUserFunc(ctx, userID)
}

func (m *mockResults) SearchByPrediction(_ context.Context, text string, p model.Page) (service.ResultPage, error) {
	m.lastText = text
	return m.page(p)
}

func (m *mockResults) ListByDateRange(_ context.Context, start, end string, p model.Page) (service.ResultPage, error) {
	m.lastStart, m.lastEnd = start, end
	return m.page(p)
}

func (m *mockResults) Statistics(_ context.Context, start, end string) (service.Statistics, error) {
	m.lastStart, m.lastEnd = start, end
	return service.Statistics{TopUsers: []service.TopUser{}}, nil
}

func (m *mockResults) PeriodStatistics(_ context.Context, period string) (service.PeriodStatistics, error) {
	if period != "daily" {
		return service.PeriodStatistics{}, apperr.Validation("Invalid period")
	}
	return service.PeriodStatistics{}, nil
}

type mockUsers struct {
	listRole string
	allCalls int
}

func (m *mockUsers) ListAll(context.Context) ([]model.Profile, error) {
	m.allCalls++
	return []model.Profile{{ID: 1, Username: "root", Role: model.RoleAdmin}}, nil
}

func (m *mockUsers) ListByRole(_ context.Context, role string) ([]model.Profile, error) {
	m.listRole = role
	if _, err := model.ParseRole(role); err != nil {
		return nil, apperr.Validation("Invalid role")
	}
	return []model.Profile{}, nil
}

func (m *mockUsers) Profile(_ context.Context, id uint) (model.Profile, error) {
	if id == 404 {
		return model.Profile{}, apperr.NotFound("User not found")
	}
	return model.Profile{ID: id, Username: "alice"}, nil
}

func (m *mockUsers) RoleCounts(context.Context) (service.RoleCounts, error) {
	return service.RoleCounts{TotalUsers: 2, AdminCount: 1, UserCount: 1, AdminPercentage: 50, UserPercentage: 50}, nil
}

type mockReports struct {
	emailTo string
	err     error
}

func (m *mockReports) Download(_ context.Context, start, end string) (service.Document, error) {
	if m.err != nil {
		return service.Document{}, m.err
	}
	return service.Document{Filename: "prediction-report-2024-01-01-to-2024-01-02.pdf", Body: []byte("%PDF-1.3 test")}, nil
}

func (m *mockReports) Email(_ context.Context, start, end string, to string) (string, error) {
	m.emailTo = to
	return "prediction-report.pdf", m.err
}

type mockAuth struct {
	registered service.RegisterInput
}

func (m *mockAuth) Register(_ context.Context, in service.RegisterInput) (model.Profile, error) {
	m.registered = in
	return model.Profile{ID: 1, Username: in.Username, Email: in.Email, Role: model.RoleUser}, nil
}

func (m *mockAuth) Login(_ context.Context, email, password string) (service.LoginResult, error) {
	return service.LoginResult{}, apperr.Auth("Invalid credentials")
}

func (m *mockAuth) RequestPasswordReset(context.Context, string) error {
	return apperr.TooManyRequests("A reset link was sent recently")
}

func (m *mockAuth) ResetPassword(context.Context, service.ResetInput) error { return nil }

type testEnv struct {
	server  *Server
	tokens  *token.Manager
	results *mockResults
	users   *mockUsers
	reports *mockReports
	auth    *mockAuth
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logger.NewNop()

	uploads, err := storage.NewLocal(filepath.Join(t.TempDir(), "uploads"))
	if err != nil {
		t.Fatalf("local storage: %v", err)
	}

	env := &testEnv{
		tokens: token.NewManager("test-secret", time.Hour, 15*time.Minute),
		results: &mockResults{
			createFunc: func(_ context.Context, ownerID uint, in service.CreateResultInput) (model.Result, error) {
				return model.Result{ID: 1, Confidence: *in.Confidence, Prediction: in.Prediction, UserID: ownerID}, nil
			},
			forUserFunc: func(_ context.Context, userID uint) ([]model.Result, error) {
				if userID == 99 {
					return nil, apperr.NotFound("User not found")
				}
				return []model.Result{{ID: 1, UserID: userID, Prediction: "Nevus"}}, nil
			},
		},
		users:   &mockUsers{},
		reports: &mockReports{},
		auth:    &mockAuth{},
	}

	router, err := newRouter(nil)
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	errs := respond.Errors{Logger: log}
	env.server = &Server{
		cfg:     &config.Config{App: config.AppConfig{MaxUploadBytes: 5 << 20}},
		logger:  log,
		router:  router,
		errs:    errs,
		auth:    auth.NewHandler(env.auth, errs, log),
		tokens:  env.tokens,
		results: env.results,
		users:   env.users,
		reports: env.reports,
		uploads: uploads,
	}
	env.server.registerRoutes()
	return env
}

func (e *testEnv) bearer(t *testing.T, id uint, role model.Role) string {
	t.Helper()
	tok, err := e.tokens.IssueSession(token.Principal{UserID: id, Email: "u" + string(role) + "@example.com", Role: string(role)})
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}
	return "Bearer " + tok
}

func (e *testEnv) do(method, path, auth string, body []byte, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	e.server.Router().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return out
}

func TestNoRoute(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(http.MethodGet, "/nope", "", nil, "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	body := decode(t, w)
	if body["success"] != false || body["message"] != "Route not found" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestCreateResult(t *testing.T) {
	env := newTestEnv(t)
	payload := []byte(`{"confidence": 87.5, "prediction": "Melanoma"}`)

	if w := env.do(http.MethodPost, "/results", "", payload, "application/json"); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	w := env.do(http.MethodPost, "/results", env.bearer(t, 7, model.RoleUser), payload, "application/json")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if env.results.lastOwner != 7 {
		t.Fatalf("expected owner 7, got %d", env.results.lastOwner)
	}
	data := decode(t, w)["data"].(map[string]any)
	if data["prediction"] != "Melanoma" || data["user"] != nil {
		t.Fatalf("unexpected data: %v", data)
	}

	if w := env.do(http.MethodPost, "/results", env.bearer(t, 7, model.RoleUser), []byte(`{bad`), "application/json"); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed json, got %d", w.Code)
	}
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	env := newTestEnv(t)
	user := env.bearer(t, 1, model.RoleUser)
	admin := env.bearer(t, 2, model.RoleAdmin)

	paths := []string{"/results", "/results/stats", "/results/user/1", "/users/all", "/users/stats", "/results/download-report?startDate=2024-01-01"}
	for _, p := range paths {
		if w := env.do(http.MethodGet, p, user, nil, ""); w.Code != http.StatusForbidden {
			t.Fatalf("%s: expected 403 for user, got %d", p, w.Code)
		}
		if w := env.do(http.MethodGet, p, admin, nil, ""); w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200 for admin, got %d: %s", p, w.Code, w.Body.String())
		}
	}
}

func TestListResults_PaginationDefaults(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(http.MethodGet, "/results?page=abc&limit=500", env.bearer(t, 2, model.RoleAdmin), nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if env.results.lastPage != (model.Page{Number: 1, Size: model.MaxPageSize}) {
		t.Fatalf("unexpected page: %+v", env.results.lastPage)
	}
	body := decode(t, w)
	if data, ok := body["data"].([]any); !ok || len(data) != 0 {
		t.Fatalf("expected empty data array, got %v", body["data"])
	}
	if _, ok := body["pagination"].(map[string]any); !ok {
		t.Fatalf("expected pagination block, got %v", body)
	}
}

func TestMyResultsUsesPrincipal(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(http.MethodGet, "/results/my-results?page=2&limit=5", env.bearer(t, 11, model.RoleUser), nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if env.results.lastOwner != 11 || env.results.lastPage != (model.Page{Number: 2, Size: 5}) {
		t.Fatalf("unexpected call: owner=%d page=%+v", env.results.lastOwner, env.results.lastPage)
	}
}

func TestUserResults(t *testing.T) {
	env := newTestEnv(t)
	admin := env.bearer(t, 2, model.RoleAdmin)

	if w := env.do(http.MethodGet, "/results/user/abc", admin, nil, ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", w.Code)
	}
	w := env.do(http.MethodGet, "/results/user/99", admin, nil, "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown user, got %d", w.Code)
	}
	if msg := decode(t, w)["message"]; msg != "User not found" {
		t.Fatalf("unexpected message: %v", msg)
	}
	w = env.do(http.MethodGet, "/results/user/5", admin, nil, "")
	if body := decode(t, w); body["count"] != float64(1) {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestPeriodStatsAndSearch(t *testing.T) {
	env := newTestEnv(t)
	admin := env.bearer(t, 2, model.RoleAdmin)

	if w := env.do(http.MethodGet, "/results/stats/hourly", admin, nil, ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if w := env.do(http.MethodGet, "/results/stats/daily", admin, nil, ""); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w := env.do(http.MethodGet, "/results/prediction/mel", admin, nil, ""); w.Code != http.StatusOK || env.results.lastText != "mel" {
		t.Fatalf("unexpected search: code=%d text=%q", w.Code, env.results.lastText)
	}
	env.do(http.MethodGet, "/results/date?startDate=2024-01-01&endDate=2024-01-31", admin, nil, "")
	if env.results.lastStart != "2024-01-01" || env.results.lastEnd != "2024-01-31" {
		t.Fatalf("unexpected range: %q %q", env.results.lastStart, env.results.lastEnd)
	}
}

func TestDownloadReport(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(http.MethodGet, "/results/download-report?startDate=2024-01-01&endDate=2024-01-02", env.bearer(t, 2, model.RoleAdmin), nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Fatalf("unexpected content type %q", ct)
	}
	want := `attachment; filename="prediction-report-2024-01-01-to-2024-01-02.pdf"`
	if cd := w.Header().Get("Content-Disposition"); cd != want {
		t.Fatalf("unexpected disposition %q", cd)
	}

	env.reports.err = apperr.NotFound("No results found for the selected date range")
	if w := env.do(http.MethodGet, "/results/download-report?startDate=2024-01-01", env.bearer(t, 2, model.RoleAdmin), nil, ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestEmailReportGoesToPrincipal(t *testing.T) {
	env := newTestEnv(t)
	body := []byte(`{"startDate":"2024-01-01","endDate":"2024-01-31"}`)
	w := env.do(http.MethodPost, "/results/email-report", env.bearer(t, 2, model.RoleAdmin), body, "application/json")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if env.reports.emailTo != "uadmin@example.com" {
		t.Fatalf("unexpected recipient %q", env.reports.emailTo)
	}

	env.reports.err = apperr.Internal("Failed to send report email", errors.New("smtp: 535"))
	w = env.do(http.MethodPost, "/results/email-report", env.bearer(t, 2, model.RoleAdmin), body, "application/json")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	resp := decode(t, w)
	if resp["message"] != "Failed to send report email" {
		t.Fatalf("unexpected message %v", resp["message"])
	}
	if _, ok := resp["error"]; ok {
		t.Fatalf("internal details must not leak outside development")
	}
}

func TestUsersRoutes(t *testing.T) {
	env := newTestEnv(t)
	admin := env.bearer(t, 2, model.RoleAdmin)

	if w := env.do(http.MethodGet, "/users?role=Admin", admin, nil, ""); w.Code != http.StatusOK || env.users.listRole != "Admin" {
		t.Fatalf("unexpected role query: code=%d role=%q", w.Code, env.users.listRole)
	}
	if w := env.do(http.MethodGet, "/users", admin, nil, ""); w.Code != http.StatusOK || env.users.allCalls != 1 {
		t.Fatalf("expected ListAll for missing role, code=%d calls=%d", w.Code, env.users.allCalls)
	}
	if w := env.do(http.MethodGet, "/users/role/guest", admin, nil, ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	w := env.do(http.MethodGet, "/users/role/user", admin, nil, "")
	if body := decode(t, w); body["count"] != float64(0) {
		t.Fatalf("expected empty list, got %v", body)
	}
}

func TestProfile(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(http.MethodGet, "/users/profile", env.bearer(t, 3, model.RoleUser), nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w := env.do(http.MethodGet, "/users/profile", env.bearer(t, 404, model.RoleUser), nil, ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestAuthRoutes(t *testing.T) {
	env := newTestEnv(t)
	body := []byte(`{"username":"alice","email":"alice@example.com","password":"Secret1!","confirmPassword":"Secret1!"}`)
	w := env.do(http.MethodPost, "/auth/signup", "", body, "application/json")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	if env.auth.registered.ConfirmPassword != "Secret1!" {
		t.Fatalf("confirmPassword not bound: %+v", env.auth.registered)
	}

	if w := env.do(http.MethodPost, "/auth/signin", "", []byte(`{"email":"a@example.com","password":"x"}`), "application/json"); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if w := env.do(http.MethodPost, "/auth/forgot-password", "", []byte(`{"email":"a@example.com"}`), "application/json"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w := env.do(http.MethodPost, "/auth/reset-password", "", []byte(`{}`), "application/json"); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func multipartBody(t *testing.T, field, filename, contentType string, content []byte) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return buf.Bytes(), mw.FormDataContentType()
}

func TestUploadImage(t *testing.T) {
	env := newTestEnv(t)
	user := env.bearer(t, 3, model.RoleUser)
	png := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 64)...)

	body, ct := multipartBody(t, "image", "lesion.PNG", "image/png", png)
	w := env.do(http.MethodPost, "/upload/image", user, body, ct)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	fd := decode(t, w)["fileData"].(map[string]any)
	if name, _ := fd["filename"].(string); filepath.Ext(name) != ".png" || len(name) != 40 {
		t.Fatalf("unexpected filename %v", fd["filename"])
	}
	if fd["size"] != float64(len(png)) || fd["mimetype"] != "image/png" {
		t.Fatalf("unexpected file data %v", fd)
	}

	body, ct = multipartBody(t, "image", "notes.txt", "text/plain", []byte("hello"))
	if w := env.do(http.MethodPost, "/upload/image", user, body, ct); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for text upload, got %d", w.Code)
	}

	body, ct = multipartBody(t, "image", "fake.png", "image/png", []byte("not really an image"))
	if w := env.do(http.MethodPost, "/upload/image", user, body, ct); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for spoofed mime, got %d", w.Code)
	}

	body, ct = multipartBody(t, "other", "lesion.png", "image/png", png)
	if w := env.do(http.MethodPost, "/upload/image", user, body, ct); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 when field missing, got %d", w.Code)
	}

	env.server.cfg.App.MaxUploadBytes = 16
	body, ct = multipartBody(t, "image", "lesion.png", "image/png", png)
	if w := env.do(http.MethodPost, "/upload/image", user, body, ct); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized file, got %d", w.Code)
	}
}

func TestPanicRecovery(t *testing.T) {
	env := newTestEnv(t)
	env.server.router.GET("/boom", func(c *gin.Context) { panic("boom") })
	w := env.do(http.MethodGet, "/boom", "", nil, "")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

type mockSeeder struct {
	calls int
	email string
}

func (m *mockSeeder) EnsureAdmin(_ context.Context, _, email, _ string) (bool, error) {
	m.calls++
	m.email = email
	return true, nil
}

func TestSeedAdmin(t *testing.T) {
	env := newTestEnv(t)
	seeder := &mockSeeder{}
	env.server.seeder = seeder

	if err := env.server.SeedAdmin(context.Background()); err != nil {
		t.Fatalf("seed without config: %v", err)
	}
	if seeder.calls != 0 {
		t.Fatalf("expected no call without admin email, got %d", seeder.calls)
	}

	env.server.cfg.Admin = config.AdminConfig{Email: "root@example.com", Password: "Secret1!x"}
	if err := env.server.SeedAdmin(context.Background()); err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	if seeder.calls != 1 || seeder.email != "root@example.com" {
		t.Fatalf("unexpected seeder call: %+v", seeder)
	}
}

func TestSigninRateLimitIgnoresSpoofedForwardedFor(t *testing.T) {
	env := newTestEnv(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	router, err := newRouter(nil)
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	env.server.router = router
	env.server.limiter = ratelimit.NewLimiter(rdb, "test:ratelimit", 0.001, 1)
	env.server.registerRoutes()

	body := []byte(`{"email":"a@example.com","password":"x"}`)
	var limited int
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodPost, "/auth/signin", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", "198.51.100."+strconv.Itoa(i+1))
		req.RemoteAddr = "203.0.113.7:40000"
		w := httptest.NewRecorder()
		env.server.Router().ServeHTTP(w, req)
		if w.Code == http.StatusTooManyRequests {
			limited++
		}
	}
	if limited != 4 {
		t.Fatalf("expected 4 of 5 requests limited from one remote addr, got %d", limited)
	}
}

func TestNewRouterRejectsBadProxy(t *testing.T) {
	if _, err := newRouter([]string{"not-an-ip"}); err == nil {
		t.Fatalf("expected error for invalid trusted proxy")
	}
}
