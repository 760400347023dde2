package service

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"time"

	"lesionlog/internal/model"
	"lesionlog/internal/pkg/outbox"
	"lesionlog/internal/stats"
	"lesionlog/internal/store"
)

type memUsers struct {
	mu        sync.Mutex
	users     map[uint]*model.User
	nextID    uint
	createErr error
}

func newMemUsers(users ...model.User) *memUsers {
	m := &memUsers{users: make(map[uint]*model.User)}
	for i := range users {
		u := users[i]
		if u.ID == 0 {
			m.nextID++
			u.ID = m.nextID
		} else if u.ID > m.nextID {
			m.nextID = u.ID
		}
		m.users[u.ID] = &u
	}
	return m
}

func (m *memUsers) Create(_ context.Context, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.nextID++
	u.ID = m.nextID
	u.CreatedAt = time.Now().UTC()
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memUsers) FindByEmail(_ context.Context, email string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memUsers) FindByID(_ context.Context, id uint) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) FindByIDs(ctx context.Context, ids []uint) ([]model.User, error) {
	out := []model.User{}
	for _, id := range ids {
		if u, err := m.FindByID(ctx, id); err == nil {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (m *memUsers) ExistsByUsernameOrEmail(_ context.Context, username, email string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username || u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (m *memUsers) UpdatePassword(_ context.Context, id uint, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return store.ErrNotFound
	}
	u.Password = hash
	return nil
}

func (m *memUsers) List(_ context.Context, role model.Role) ([]model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.User{}
	for id := uint(1); id <= m.nextID; id++ {
		if u, ok := m.users[id]; ok && (role == "" || u.Role == role) {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (m *memUsers) CountByRole(_ context.Context) (map[model.Role]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[model.Role]int64{}
	for _, u := range m.users {
		out[u.Role]++
	}
	return out, nil
}

type sentMail struct {
	kind     string
	to       string
	body     string
	filename string
	existed  bool
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (f *fakeMailer) record(m sentMail) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, m)
	return nil
}

func (f *fakeMailer) SendWelcome(_ context.Context, to, username string) error {
	return f.record(sentMail{kind: "welcome", to: to, body: username})
}

func (f *fakeMailer) SendPasswordReset(_ context.Context, to, link string) error {
	return f.record(sentMail{kind: "reset", to: to, body: link})
}

func (f *fakeMailer) SendReport(_ context.Context, to, path, filename, rangeLabel string) error {
	b, err := os.ReadFile(path)
	existed := err == nil && strings.HasPrefix(string(b), "%PDF-")
	f.mu.Lock()
	f.sent = append(f.sent, sentMail{kind: "report", to: to, body: path, filename: filename, existed: existed})
	f.mu.Unlock()
	return f.err
}

func (f *fakeMailer) count(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.sent {
		if m.kind == kind {
			n++
		}
	}
	return n
}

// syncSubmitter 同步执行任务，便于断言。
type syncSubmitter struct {
	names []string
	err   error
}

func (s *syncSubmitter) Submit(name string, job outbox.Job) error {
	if s.err != nil {
		return s.err
	}
	s.names = append(s.names, name)
	return job(context.Background())
}

type memCooldown struct {
	held     map[string]bool
	released int
}

func (c *memCooldown) Acquire(_ context.Context, key string) (bool, error) {
	if c.held == nil {
		c.held = map[string]bool{}
	}
	if c.held[key] {
		return false, nil
	}
	c.held[key] = true
	return true, nil
}

func (c *memCooldown) Release(_ context.Context, key string) error {
	delete(c.held, key)
	c.released++
	return nil
}

type fakeResults struct {
	created     []model.Result
	rows        []model.Result
	total       int64
	lastFilter  store.ResultFilter
	lastPage    model.Page
	samples     []stats.Sample
	sampleFrom  time.Time
	sampleTo    time.Time
	recentLimit int
	err         error
}

func (f *fakeResults) Create(_ context.Context, r *model.Result) error {
	if f.err != nil {
		return f.err
	}
	r.ID = uint(len(f.created) + 1)
	f.created = append(f.created, *r)
	return nil
}

func (f *fakeResults) List(_ context.Context, filter store.ResultFilter, page model.Page) ([]model.Result, int64, error) {
	f.lastFilter = filter
	f.lastPage = page
	if f.err != nil {
		return nil, 0, f.err
	}
	return f.rows, f.total, nil
}

func (f *fakeResults) ListByOwner(_ context.Context, ownerID uint) ([]model.Result, error) {
	f.lastFilter = store.ResultFilter{OwnerID: ownerID}
	return f.rows, f.err
}

func (f *fakeResults) Recent(_ context.Context, r model.DateRange, limit int) ([]model.Result, error) {
	f.lastFilter = store.ResultFilter{Range: &r}
	f.recentLimit = limit
	return f.rows, f.err
}

func (f *fakeResults) Samples(_ context.Context, from, to time.Time) ([]stats.Sample, error) {
	f.sampleFrom = from
	f.sampleTo = to
	return f.samples, f.err
}

var errBoom = errors.New("boom")
