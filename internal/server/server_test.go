package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stazh-ux/lavendel-ask-resolve/internal/config"
	"github.com/stazh-ux/lavendel-ask-resolve/internal/model"
)

const adminEmail = "admin@example.com"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	cfg := config.Default()
	cfg.Database.Path = ":memory:"
	cfg.JWT.Secret = "test-secret-0123456789"
	cfg.Storage.BoltPath = filepath.Join(t.TempDir(), "blobs.db")
	cfg.Admin.BootstrapEmails = []string{adminEmail}
	cfg.Notifications.PollInterval = 50 * time.Millisecond

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := New(context.Background(), cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.notifications.CloseStreams()
		ts.Close()
	})
	return ts
}

func call(t *testing.T, ts *httptest.Server, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, ts.URL+path, r)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

func signUp(t *testing.T, ts *httptest.Server, email string) string {
	t.Helper()
	resp, body := call(t, ts, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"email": email, "password": "password123", "firstName": "Test", "lastName": "User",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var s model.Session
	require.NoError(t, json.Unmarshal(body, &s))
	require.NotEmpty(t, s.AccessToken)
	return s.AccessToken
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var e struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(body, &e), string(body))
	return e.Error
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	resp, body := call(t, ts, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestAPI_SignUpSignInAndMe(t *testing.T) {
	ts := newTestServer(t)
	token := signUp(t, ts, "ada@example.com")

	resp, body := call(t, ts, http.MethodGet, "/api/me", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var me struct {
		Email   string `json:"email"`
		IsAdmin bool   `json:"isAdmin"`
	}
	require.NoError(t, json.Unmarshal(body, &me))
	assert.Equal(t, "ada@example.com", me.Email)
	assert.False(t, me.IsAdmin)

	resp, _ = call(t, ts, http.MethodGet, "/api/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body = call(t, ts, http.MethodPost, "/api/auth/signin", "", map[string]string{
		"email": "ada@example.com", "password": "nope-nope",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "unauthorized", errorCode(t, body))

	resp, body = call(t, ts, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"email": "ADA@example.com", "password": "password123", "firstName": "A", "lastName": "B",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "conflict", errorCode(t, body))
}

func TestAPI_SignOutRevokesToken(t *testing.T) {
	ts := newTestServer(t)
	token := signUp(t, ts, "ada@example.com")

	resp, _ := call(t, ts, http.MethodPost, "/api/auth/signout", token, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = call(t, ts, http.MethodGet, "/api/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = call(t, ts, http.MethodGet, "/api/auth/session", token, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAPI_RefreshIssuesNewToken(t *testing.T) {
	ts := newTestServer(t)
	token := signUp(t, ts, "ada@example.com")

	resp, body := call(t, ts, http.MethodPost, "/api/auth/refresh", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var s model.Session
	require.NoError(t, json.Unmarshal(body, &s))

	resp, _ = call(t, ts, http.MethodGet, "/api/me", s.AccessToken, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = call(t, ts, http.MethodGet, "/api/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAPI_ProblemLifecycle(t *testing.T) {
	ts := newTestServer(t)
	student := signUp(t, ts, "student@example.com")
	admin := signUp(t, ts, adminEmail)

	resp, body := call(t, ts, http.MethodPost, "/api/problems", student, map[string]string{
		"title": "", "description": "The projector in room 4 is broken",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation_error", errorCode(t, body))

	resp, body = call(t, ts, http.MethodPost, "/api/problems", student, map[string]string{
		"title": "Projector", "description": "The projector in room 4 is broken",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var p model.Problem
	require.NoError(t, json.Unmarshal(body, &p))
	assert.Equal(t, model.StatusPending, p.Status)

	resp, _ = call(t, ts, http.MethodPatch, "/api/admin/problems/"+p.ID, student, map[string]string{
		"adminResponse": "fixed", "status": "resolved",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body = call(t, ts, http.MethodPatch, "/api/admin/problems/"+p.ID, admin, map[string]string{
		"adminResponse": "  ", "status": "resolved",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, string(body))

	resp, body = call(t, ts, http.MethodPatch, "/api/admin/problems/"+p.ID, admin, map[string]string{
		"adminResponse": "A technician is on the way.", "status": "resolved",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	require.NoError(t, json.Unmarshal(body, &p))
	assert.Equal(t, model.StatusResolved, p.Status)
	require.NotNil(t, p.AdminResponse)
	assert.Equal(t, "A technician is on the way.", *p.AdminResponse)

	resp, body = call(t, ts, http.MethodGet, "/api/problems", student, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var all []model.Problem
	require.NoError(t, json.Unmarshal(body, &all))
	require.Len(t, all, 1)
	assert.Equal(t, model.StatusResolved, all[0].Status)

	resp, _ = call(t, ts, http.MethodGet, "/api/problems/missing", student, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// the owner was notified
	resp, body = call(t, ts, http.MethodGet, "/api/notifications", student, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var unread []model.Notification
	require.NoError(t, json.Unmarshal(body, &unread))
	require.Len(t, unread, 1)
	assert.Contains(t, unread[0].Message, "Projector")

	resp, _ = call(t, ts, http.MethodPost, "/api/notifications/"+unread[0].ID+"/read", admin, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "other users cannot mark it")
	resp, _ = call(t, ts, http.MethodPost, "/api/notifications/"+unread[0].ID+"/read", student, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, body = call(t, ts, http.MethodGet, "/api/notifications", student, nil)
	assert.JSONEq(t, `[]`, string(body))
}

func upload(t *testing.T, ts *httptest.Server, token, problemID, name string, content []byte) (*http.Response, []byte) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("files", name)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/problems/"+problemID+"/attachments", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestAPI_UploadAndDownloadAttachment(t *testing.T) {
	ts := newTestServer(t)
	student := signUp(t, ts, "student@example.com")
	other := signUp(t, ts, "other@example.com")

	_, body := call(t, ts, http.MethodPost, "/api/problems", student, map[string]string{
		"title": "Leaky roof", "description": "Water drips onto the library desks",
	})
	var p model.Problem
	require.NoError(t, json.Unmarshal(body, &p))

	png := []byte("\x89PNG\r\n\x1a\nnot really an image")
	resp, body := upload(t, ts, student, p.ID, "photo.PNG", png)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var attachments []model.Attachment
	require.NoError(t, json.Unmarshal(body, &attachments))
	require.Len(t, attachments, 1)
	a := attachments[0]
	assert.Equal(t, "photo.PNG", a.FileName)
	assert.Equal(t, "image/png", a.MimeType)
	assert.True(t, strings.HasPrefix(a.FilePath, p.ID+"/"))
	assert.Equal(t, "/files/"+a.FilePath, a.URL)

	dl, err := ts.Client().Get(ts.URL + a.URL)
	require.NoError(t, err)
	defer dl.Body.Close()
	got, err := io.ReadAll(dl.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, dl.StatusCode)
	assert.Equal(t, "image/png", dl.Header.Get("Content-Type"))
	assert.Equal(t, png, got)

	resp, _ = upload(t, ts, student, p.ID, "virus.exe", []byte("MZ"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = upload(t, ts, other, p.ID, "mine.pdf", []byte("%PDF-1.4"))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	missing, err := ts.Client().Get(ts.URL + "/files/" + p.ID + "/nope.png")
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestAPI_Ratings(t *testing.T) {
	ts := newTestServer(t)
	student := signUp(t, ts, "student@example.com")
	admin := signUp(t, ts, adminEmail)

	resp, _ := call(t, ts, http.MethodGet, "/api/ratings/me", student, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = call(t, ts, http.MethodPut, "/api/ratings/me", student, map[string]any{"rating": 6})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	for _, stars := range []int{2, 4} {
		resp, body := call(t, ts, http.MethodPut, "/api/ratings/me", student, map[string]any{"rating": stars, "comment": "ok"})
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	}

	_, body := call(t, ts, http.MethodGet, "/api/ratings/me", student, nil)
	var mine model.Rating
	require.NoError(t, json.Unmarshal(body, &mine))
	assert.Equal(t, 4, mine.Rating)

	resp, _ = call(t, ts, http.MethodGet, "/api/admin/ratings/stats", student, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body = call(t, ts, http.MethodGet, "/api/admin/ratings/stats", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats model.RatingStats
	require.NoError(t, json.Unmarshal(body, &stats))
	assert.Equal(t, 1, stats.Total)
	assert.InDelta(t, 4.0, stats.Average, 1e-9)
	assert.Equal(t, 1, stats.CountFor(4))
	assert.Equal(t, "4 Stars", stats.Distribution[3].Name)
}

func TestNotificationStream_EndsOnSignOut(t *testing.T) {
	ts := newTestServer(t)
	token := signUp(t, ts, "ada@example.com")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/notifications/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	next := func() string {
		for lines.Scan() {
			if strings.HasPrefix(lines.Text(), "event: ") {
				return strings.TrimPrefix(lines.Text(), "event: ")
			}
		}
		return ""
	}

	require.Equal(t, "notifications", next())

	r, _ := call(t, ts, http.MethodPost, "/api/auth/signout", token, nil)
	require.Equal(t, http.StatusNoContent, r.StatusCode)

	for {
		ev := next()
		if ev == "notifications" {
			continue
		}
		assert.Equal(t, "signed_out", ev)
		break
	}
	assert.Empty(t, next(), "stream must end after sign-out")
}

// =========================================================================
// PAGES
// =========================================================================

func browser(t *testing.T, ts *httptest.Server) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
		Transport: ts.Client().Transport,
	}
}

func get(t *testing.T, c *http.Client, u string) (*http.Response, string) {
	t.Helper()
	resp, err := c.Get(u)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func postForm(t *testing.T, c *http.Client, u string, form url.Values) *http.Response {
	t.Helper()
	resp, err := c.PostForm(u, form)
	require.NoError(t, err)
	resp.Body.Close()
	return resp
}

func pageSignUp(t *testing.T, ts *httptest.Server, c *http.Client, email string) {
	t.Helper()
	resp := postForm(t, c, ts.URL+"/auth/signup", url.Values{
		"email": {email}, "password": {"password123"}, "firstName": {"Grace"}, "lastName": {"Hopper"},
	})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(t, "/dashboard", resp.Header.Get("Location"))
}

func TestPages_LandingAndAuthGate(t *testing.T) {
	ts := newTestServer(t)
	c := browser(t, ts)

	resp, body := get(t, c, ts.URL+"/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Get started")

	resp, _ = get(t, c, ts.URL+"/dashboard")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/auth", resp.Header.Get("Location"))

	resp, body = get(t, c, ts.URL+"/auth?mode=signup")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Create your account")
	assert.NotContains(t, body, "/auth/github/login", "GitHub is not configured")
}

func TestPages_StudentDashboard(t *testing.T) {
	ts := newTestServer(t)
	c := browser(t, ts)
	pageSignUp(t, ts, c, "grace@example.com")

	resp, body := get(t, c, ts.URL+"/dashboard")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Welcome, Grace!")
	assert.Contains(t, body, "Submit Problem")
	assert.Contains(t, body, "Notifications")

	// the flash is shown once
	_, body = get(t, c, ts.URL+"/dashboard")
	assert.NotContains(t, body, "Welcome, Grace!")

	// an unavailable tab falls back to the feed
	_, body = get(t, c, ts.URL+"/dashboard?tab=admin")
	assert.NotContains(t, body, "Admin Panel")
	assert.Contains(t, body, "Problem feed")

	resp = postForm(t, c, ts.URL+"/dashboard/problems", url.Values{
		"title": {"Wi-Fi"}, "description": {"short"},
	})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	_, body = get(t, c, ts.URL+resp.Header.Get("Location"))
	assert.Contains(t, body, "toast-error")

	resp = postForm(t, c, ts.URL+"/dashboard/problems", url.Values{
		"title": {"Wi-Fi"}, "description": {"The dorm Wi-Fi drops every evening"},
	})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	_, body = get(t, c, ts.URL+resp.Header.Get("Location"))
	assert.Contains(t, body, "Problem submitted successfully!")
	assert.Contains(t, body, "The dorm Wi-Fi drops every evening")

	resp = postForm(t, c, ts.URL+"/dashboard/ratings", url.Values{"rating": {"5"}, "comment": {"Great"}})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	_, body = get(t, c, ts.URL+resp.Header.Get("Location"))
	assert.Contains(t, body, "Thank you for your feedback!")
	assert.Contains(t, body, "Update rating")

	resp = postForm(t, c, ts.URL+"/auth/signout", nil)
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	resp, _ = get(t, c, ts.URL+"/dashboard")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
}

func TestPages_AdminResponds(t *testing.T) {
	ts := newTestServer(t)
	student := signUp(t, ts, "student@example.com")
	_, body := call(t, ts, http.MethodPost, "/api/problems", student, map[string]string{
		"title": "Heating", "description": "Lecture hall B is freezing cold",
	})
	var p model.Problem
	require.NoError(t, json.Unmarshal(body, &p))

	c := browser(t, ts)
	pageSignUp(t, ts, c, adminEmail)

	resp, page := get(t, c, ts.URL+"/dashboard?tab=admin")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, page, "Admin Panel")
	assert.Contains(t, page, "Respond &amp; Resolve")
	assert.NotContains(t, page, "Submit Problem")

	resp = postForm(t, c, ts.URL+"/dashboard/problems/"+p.ID+"/respond", url.Values{
		"adminResponse": {"Maintenance has been called."}, "status": {"resolved"},
	})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	_, page = get(t, c, ts.URL+resp.Header.Get("Location"))
	assert.Contains(t, page, "Response sent and problem resolved.")
	assert.Contains(t, page, "Mark as Pending")
}
