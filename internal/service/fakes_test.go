package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/stazh-ux/lavendel-ask-resolve/internal/apperror"
	"github.com/stazh-ux/lavendel-ask-resolve/internal/auth"
	"github.com/stazh-ux/lavendel-ask-resolve/internal/authstate"
	"github.com/stazh-ux/lavendel-ask-resolve/internal/model"
	"github.com/stazh-ux/lavendel-ask-resolve/internal/storage"
)

// =========================================================================
// FAKE STORE
// =========================================================================
//
// fakeStore keeps every table in maps and satisfies all repository
// interfaces at once, like *sqlite.DB does. The *Err fields inject
// failures; calls counts store calls so tests can assert "nothing was
// written".

type fakeStore struct {
	mu    sync.Mutex
	seq   int
	clock time.Time
	calls int

	identities    map[string]*model.Identity
	profiles      map[string]*model.Profile
	roles         map[string]bool
	problems      map[string]*model.Problem
	attachments   []model.Attachment
	ratings       map[string]*model.Rating
	notifications []*model.Notification

	createProfileErr    error
	deleteIdentityErr   error
	createAttachmentErr error
	createNotifyErr     error
	hasRoleErr          error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		clock:      time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
		identities: map[string]*model.Identity{},
		profiles:   map[string]*model.Profile{},
		roles:      map[string]bool{},
		problems:   map[string]*model.Problem{},
		ratings:    map[string]*model.Rating{},
	}
}

func (f *fakeStore) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%03d", prefix, f.seq)
}

func (f *fakeStore) tick() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func (f *fakeStore) CreateIdentity(_ context.Context, identity *model.Identity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	for _, existing := range f.identities {
		if existing.Email == identity.Email {
			return apperror.Conflict("identity", identity.Email)
		}
	}
	identity.ID = f.nextID("user")
	identity.CreatedAt = f.tick()
	stored := *identity
	f.identities[identity.ID] = &stored
	return nil
}

func (f *fakeStore) DeleteIdentity(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.deleteIdentityErr != nil {
		return f.deleteIdentityErr
	}
	if _, ok := f.identities[id]; !ok {
		return apperror.NotFound("identity", id)
	}
	delete(f.identities, id)
	delete(f.profiles, id)
	return nil
}

func (f *fakeStore) GetIdentityByEmail(_ context.Context, email string) (*model.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, i := range f.identities {
		if i.Email == email {
			c := *i
			return &c, nil
		}
	}
	return nil, apperror.NotFound("identity", email)
}

func (f *fakeStore) GetIdentityByGitHubID(_ context.Context, githubID int64) (*model.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, i := range f.identities {
		if i.GitHubID != nil && *i.GitHubID == githubID {
			c := *i
			return &c, nil
		}
	}
	return nil, apperror.NotFound("identity", fmt.Sprint(githubID))
}

func (f *fakeStore) CreateProfile(_ context.Context, p *model.Profile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.createProfileErr != nil {
		return f.createProfileErr
	}
	p.CreatedAt = f.tick()
	stored := *p
	f.profiles[p.UserID] = &stored
	return nil
}

func (f *fakeStore) GetProfile(_ context.Context, userID string) (*model.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[userID]
	if !ok {
		return nil, apperror.NotFound("profile", userID)
	}
	c := *p
	return &c, nil
}

func (f *fakeStore) GetProfileByEmail(_ context.Context, email string) (*model.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.profiles {
		if p.Email == email {
			c := *p
			return &c, nil
		}
	}
	return nil, apperror.NotFound("profile", email)
}

func (f *fakeStore) HasRole(_ context.Context, userID string, role model.Role) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hasRoleErr != nil {
		return false, f.hasRoleErr
	}
	return f.roles[userID+"/"+string(role)], nil
}

func (f *fakeStore) GrantRole(_ context.Context, userID string, role model.Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roles[userID+"/"+string(role)] = true
	return nil
}

func (f *fakeStore) CreateProblem(_ context.Context, p *model.Problem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	p.ID = f.nextID("problem")
	p.Status = model.StatusPending
	p.AdminResponse = nil
	p.CreatedAt = f.tick()
	p.UpdatedAt = p.CreatedAt
	p.Attachments = []model.Attachment{}
	stored := *p
	f.problems[p.ID] = &stored
	return nil
}

func (f *fakeStore) problemWithAttachments(p *model.Problem) model.Problem {
	c := *p
	c.Attachments = []model.Attachment{}
	for _, a := range f.attachments {
		if a.ProblemID == p.ID {
			c.Attachments = append(c.Attachments, a)
		}
	}
	return c
}

func (f *fakeStore) GetProblem(_ context.Context, id string) (*model.Problem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.problems[id]
	if !ok {
		return nil, apperror.NotFound("problem", id)
	}
	c := f.problemWithAttachments(p)
	return &c, nil
}

func (f *fakeStore) ListProblems(_ context.Context) ([]model.Problem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Problem, 0, len(f.problems))
	for _, p := range f.problems {
		out = append(out, f.problemWithAttachments(p))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (f *fakeStore) UpdateProblemResponse(_ context.Context, id string, response *string, status model.ProblemStatus) (*model.Problem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	p, ok := f.problems[id]
	if !ok {
		return nil, apperror.NotFound("problem", id)
	}
	if response != nil {
		r := *response
		p.AdminResponse = &r
	} else {
		p.AdminResponse = nil
	}
	p.Status = status
	p.UpdatedAt = f.tick()
	c := f.problemWithAttachments(p)
	return &c, nil
}

func (f *fakeStore) CreateAttachment(_ context.Context, a *model.Attachment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.createAttachmentErr != nil {
		return f.createAttachmentErr
	}
	a.ID = f.nextID("att")
	a.CreatedAt = f.tick()
	f.attachments = append(f.attachments, *a)
	return nil
}

func (f *fakeStore) UpsertRating(_ context.Context, r *model.Rating) (*model.Rating, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	now := f.tick()
	if existing, ok := f.ratings[r.UserID]; ok {
		existing.Rating = r.Rating
		existing.Comment = r.Comment
		existing.UpdatedAt = now
		c := *existing
		return &c, nil
	}
	stored := *r
	stored.ID = f.nextID("rating")
	stored.CreatedAt = now
	stored.UpdatedAt = now
	f.ratings[r.UserID] = &stored
	c := stored
	return &c, nil
}

func (f *fakeStore) GetRatingByUser(_ context.Context, userID string) (*model.Rating, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.ratings[userID]
	if !ok {
		return nil, apperror.NotFound("rating", userID)
	}
	c := *r
	return &c, nil
}

func (f *fakeStore) ListRatings(_ context.Context) ([]model.Rating, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Rating, 0, len(f.ratings))
	for _, r := range f.ratings {
		out = append(out, *r)
	}
	return out, nil
}

func (f *fakeStore) CreateNotification(_ context.Context, n *model.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.createNotifyErr != nil {
		return f.createNotifyErr
	}
	n.ID = f.nextID("note")
	n.CreatedAt = f.tick()
	stored := *n
	f.notifications = append(f.notifications, &stored)
	return nil
}

func (f *fakeStore) ListUnread(_ context.Context, userID string) ([]model.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Notification, 0)
	for i := len(f.notifications) - 1; i >= 0; i-- {
		n := f.notifications[i]
		if n.UserID == userID && !n.Read {
			out = append(out, *n)
		}
	}
	return out, nil
}

func (f *fakeStore) MarkRead(_ context.Context, userID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range f.notifications {
		if n.ID == id && n.UserID == userID {
			n.Read = true
			return nil
		}
	}
	return apperror.NotFound("notification", id)
}

func (f *fakeStore) MarkAllRead(_ context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, n := range f.notifications {
		if n.UserID == userID && !n.Read {
			n.Read = true
			count++
		}
	}
	return count, nil
}

// =========================================================================
// FAKE BLOB STORE
// =========================================================================

type fakeBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	putErr  error
	delErr  error
}

var _ storage.BlobStore = (*fakeBlobs)(nil)

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: map[string][]byte{}, types: map[string]string{}}
}

func (b *fakeBlobs) Put(_ context.Context, path string, r io.Reader, size int64, contentType string) error {
	if b.putErr != nil {
		return b.putErr
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if int64(len(body)) != size {
		return errors.New("size mismatch")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[path] = body
	b.types[path] = contentType
	return nil
}

func (b *fakeBlobs) Get(_ context.Context, path string) (io.ReadCloser, *storage.ObjectInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	body, ok := b.objects[path]
	if !ok {
		return nil, nil, storage.ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(body)), &storage.ObjectInfo{Path: path, ContentType: b.types[path], Size: int64(len(body))}, nil
}

func (b *fakeBlobs) Delete(_ context.Context, path string) error {
	if b.delErr != nil {
		return b.delErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.objects[path]; !ok {
		return storage.ErrNotExist
	}
	delete(b.objects, path)
	return nil
}

func (b *fakeBlobs) PublicURL(path string) string {
	return "https://files.test/" + path
}

// =========================================================================
// WIRING
// =========================================================================

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testEnv struct {
	store         *fakeStore
	blobs         *fakeBlobs
	broker        *authstate.Broker
	tokens        *auth.TokenService
	auth          *AuthService
	problems      *ProblemService
	ratings       *RatingService
	notifications *NotificationService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := newFakeStore()
	blobs := newFakeBlobs()
	logger := testLogger()
	broker := authstate.NewBroker(logger)

	tokens, err := auth.NewTokenService("test-secret-at-least-16-chars!!", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}

	authSvc := NewAuthService(store, tokens, auth.NewPasswordService(bcrypt.MinCost), auth.NewMemoryDenylist(), broker, logger)
	notifications := NewNotificationService(store, store, logger)

	return &testEnv{
		store:         store,
		blobs:         blobs,
		broker:        broker,
		tokens:        tokens,
		auth:          authSvc,
		problems:      NewProblemService(store, blobs, authSvc, notifications, logger),
		ratings:       NewRatingService(store, logger),
		notifications: notifications,
	}
}

// signUp registers a student and returns the session.
func (e *testEnv) signUp(t *testing.T, email string) *model.Session {
	t.Helper()
	s, err := e.auth.SignUp(context.Background(), email, "password123", "Test", "User")
	if err != nil {
		t.Fatalf("SignUp(%s): %v", email, err)
	}
	return s
}

// admin registers a user and grants the admin role.
func (e *testEnv) admin(t *testing.T, email string) *model.Session {
	t.Helper()
	s := e.signUp(t, email)
	if _, err := e.auth.GrantAdmin(context.Background(), email); err != nil {
		t.Fatalf("GrantAdmin(%s): %v", email, err)
	}
	return s
}
