package auth

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"contactbook/internal/model"
	"contactbook/internal/pkg/password"
	"contactbook/internal/pkg/queue"
	"contactbook/internal/pkg/token"
	"contactbook/internal/store"

	"golang.org/x/crypto/bcrypt"
)

type memUsers struct {
	mu      sync.Mutex
	byEmail map[string]*model.User
	nextID  uint
	findErr error
	// insertConflict 模拟并发注册时存储层的唯一约束冲突。
	insertConflict bool
	refreshWrites  int
}

func newMemUsers() *memUsers {
	return &memUsers{byEmail: map[string]*model.User{}}
}

func (m *memUsers) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	u, ok := m.byEmail[email]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) Insert(ctx context.Context, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[u.Email]; ok || m.insertConflict {
		return store.ErrConflict
	}
	m.nextID++
	u.ID = m.nextID
	u.CreatedAt = time.Now()
	cp := *u
	m.byEmail[u.Email] = &cp
	return nil
}

func (m *memUsers) UpdateRefreshToken(ctx context.Context, userID uint, tok *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshWrites++
	for _, u := range m.byEmail {
		if u.ID == userID {
			u.RefreshToken = tok
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *memUsers) SetEmailVerified(ctx context.Context, userID uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byEmail {
		if u.ID == userID {
			u.EmailVerified = true
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *memUsers) get(email string) *model.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byEmail[email]
}

type sentMail struct {
	to, token, baseURL string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (f *fakeMailer) SendVerificationEmail(ctx context.Context, to, tok, baseURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMail{to: to, token: tok, baseURL: baseURL})
	return nil
}

func (f *fakeMailer) last() sentMail {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

func (f *fakeMailer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// inlineDispatcher 在 Submit 时同步执行任务，便于断言。
type inlineDispatcher struct {
	reject bool
	names  []string
	errs   []error
}

func (d *inlineDispatcher) Submit(name string, task queue.Task) bool {
	if d.reject {
		return false
	}
	d.names = append(d.names, name)
	d.errs = append(d.errs, task(context.Background()))
	return true
}

type fakeCooldown struct {
	claimed  map[string]bool
	released []string
}

func (f *fakeCooldown) Claim(ctx context.Context, key string) (bool, error) {
	if f.claimed == nil {
		f.claimed = map[string]bool{}
	}
	if f.claimed[key] {
		return false, nil
	}
	f.claimed[key] = true
	return true, nil
}

func (f *fakeCooldown) Release(ctx context.Context, key string) error {
	delete(f.claimed, key)
	f.released = append(f.released, key)
	return nil
}

func (f *fakeCooldown) Remaining(ctx context.Context, key string) (time.Duration, error) {
	return time.Minute, nil
}

type fixture struct {
	svc        *Service
	users      *memUsers
	mailer     *fakeMailer
	dispatcher *inlineDispatcher
	codec      *token.Codec
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	codec, err := token.NewCodec(token.Options{
		Secret:          "test-secret",
		Algorithm:       "HS256",
		AccessTTL:       15 * time.Minute,
		RefreshTTL:      7 * 24 * time.Hour,
		VerificationTTL: 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	f := &fixture{
		users:      newMemUsers(),
		mailer:     &fakeMailer{},
		dispatcher: &inlineDispatcher{},
		codec:      codec,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc = NewService(f.users, password.NewHasher(bcrypt.MinCost), codec, f.mailer, f.dispatcher, logger, opts)
	return f
}

// signupVerified 注册并确认邮箱。
func (f *fixture) signupVerified(t *testing.T, email, pass string) *model.User {
	t.Helper()
	u, err := f.svc.Signup(context.Background(), email, pass, "http://localhost")
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	if _, err := f.svc.ConfirmEmail(context.Background(), f.mailer.last().token); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	return u
}
