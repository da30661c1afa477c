package handler

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stazh-ux/lavendel-ask-resolve/internal/apperror"
	"github.com/stazh-ux/lavendel-ask-resolve/internal/auth"
	"github.com/stazh-ux/lavendel-ask-resolve/internal/model"
	"github.com/stazh-ux/lavendel-ask-resolve/internal/service"
	"github.com/stazh-ux/lavendel-ask-resolve/internal/view"
)

const siteTitle = "Student Support Portal"

// PageOptions are the server settings the pages render.
type PageOptions struct {
	GitHubEnabled bool
	PollInterval  time.Duration
}

// PageHandler renders the HTML pages and handles their form posts. Every
// form redirects back with a flash message.
type PageHandler struct {
	pages         map[string]*template.Template
	auth          *service.AuthService
	problems      *service.ProblemService
	ratings       *service.RatingService
	notifications *service.NotificationService
	opts          PageOptions
	logger        *slog.Logger
}

// NewPageHandler parses each page together with the shared layout.
// fsys must contain templates/base.html and one file per page.
func NewPageHandler(
	fsys fs.FS,
	authService *service.AuthService,
	problems *service.ProblemService,
	ratings *service.RatingService,
	notifications *service.NotificationService,
	opts PageOptions,
	logger *slog.Logger,
) (*PageHandler, error) {
	pages := make(map[string]*template.Template)
	for _, name := range []string{"landing", "auth", "dashboard"} {
		t, err := template.New(name).Funcs(templateFuncs).ParseFS(fsys, "templates/base.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("handler: parsing %s template: %w", name, err)
		}
		pages[name] = t
	}

	return &PageHandler{
		pages:         pages,
		auth:          authService,
		problems:      problems,
		ratings:       ratings,
		notifications: notifications,
		opts:          opts,
		logger:        logger,
	}, nil
}

var templateFuncs = template.FuncMap{
	"date": func(t time.Time) string { return t.Local().Format("Jan 2, 2006 15:04") },
	"stars": func(n int) string {
		if n < 0 {
			n = 0
		}
		if n > 5 {
			n = 5
		}
		return strings.Repeat("★", n) + strings.Repeat("☆", 5-n)
	},
	"percent": func(count, total int) int {
		if total == 0 {
			return 0
		}
		return count * 100 / total
	},
	"kb": func(size int64) string { return fmt.Sprintf("%.1f KB", float64(size)/1024) },
	"seq": func(from, to int) []int {
		out := make([]int, 0, to-from+1)
		for i := from; i <= to; i++ {
			out = append(out, i)
		}
		return out
	},
}

type pageData struct {
	Title         string
	User          *model.Profile
	Flash         *Flash
	GitHubEnabled bool
}

type authPageData struct {
	pageData
	SignUp bool
}

type dashboardData struct {
	pageData
	IsAdmin       bool
	Tab           view.Tab
	Tabs          []view.TabInfo
	Problems      []model.Problem
	MyRating      *model.Rating
	Stats         *model.RatingStats
	Ratings       []model.Rating
	Unread        []model.Notification
	PollSeconds   int
	MaxUploadMB   int
	AcceptedFiles string
}

// HandleLanding renders the public landing page.
//
// HTTP: GET /
func (h *PageHandler) HandleLanding(w http.ResponseWriter, r *http.Request) {
	data := pageData{Title: siteTitle}
	if userID, ok := auth.UserIDFromContext(r.Context()); ok {
		data.User, _ = h.auth.GetCurrentUser(r.Context(), userID)
	}
	h.render(w, "landing", data)
}

// HandleAuthPage renders the sign-in form, or the sign-up form when
// mode=signup. Signed-in users go straight to the dashboard.
//
// HTTP: GET /auth
func (h *PageHandler) HandleAuthPage(w http.ResponseWriter, r *http.Request) {
	if _, ok := auth.UserIDFromContext(r.Context()); ok {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}
	h.render(w, "auth", authPageData{
		pageData: pageData{
			Title:         "Sign in · " + siteTitle,
			Flash:         popFlash(w, r),
			GitHubEnabled: h.opts.GitHubEnabled,
		},
		SignUp: r.URL.Query().Get("mode") == "signup",
	})
}

// HandleSignInForm handles POST /auth/signin.
func (h *PageHandler) HandleSignInForm(w http.ResponseWriter, r *http.Request) {
	session, err := h.auth.SignIn(r.Context(), r.PostFormValue("email"), r.PostFormValue("password"))
	if err != nil {
		h.failRedirect(w, r, "/auth", "sign in form failed", err)
		return
	}
	setSessionCookie(w, session)
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

// HandleSignUpForm handles POST /auth/signup.
func (h *PageHandler) HandleSignUpForm(w http.ResponseWriter, r *http.Request) {
	session, err := h.auth.SignUp(r.Context(),
		r.PostFormValue("email"),
		r.PostFormValue("password"),
		r.PostFormValue("firstName"),
		r.PostFormValue("lastName"),
	)
	if err != nil {
		h.failRedirect(w, r, "/auth?mode=signup", "sign up form failed", err)
		return
	}
	setSessionCookie(w, session)
	setFlash(w, flashSuccess, "Welcome, "+session.User.FirstName+"!")
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

// HandleSignOutForm handles POST /auth/signout.
func (h *PageHandler) HandleSignOutForm(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.SignOut(r.Context(), auth.TokenFromRequest(r)); err != nil {
		h.logger.Error("sign out form failed", slog.String("error", err.Error()))
	}
	clearSessionCookie(w)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// HandleDashboard renders the tabbed dashboard. Only the data for the
// selected tab is loaded, plus the bell for non-admins.
//
// HTTP: GET /dashboard?tab=feed|submit|ratings|admin
func (h *PageHandler) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := auth.UserIDFromContext(ctx)
	if !ok {
		http.Redirect(w, r, "/auth", http.StatusSeeOther)
		return
	}

	profile, err := h.auth.GetCurrentUser(ctx, userID)
	if err != nil {
		// token outlived its account
		if errors.Is(err, apperror.ErrNotFound) {
			clearSessionCookie(w)
			http.Redirect(w, r, "/auth", http.StatusSeeOther)
			return
		}
		h.serverError(w, "loading profile failed", err)
		return
	}
	isAdmin, err := h.auth.IsAdmin(ctx, userID)
	if err != nil {
		h.serverError(w, "role check failed", err)
		return
	}

	nav := view.NewNavigator(isAdmin)
	tab := nav.Select(view.Tab(r.URL.Query().Get("tab")))

	data := dashboardData{
		pageData: pageData{
			Title: siteTitle,
			User:  profile,
			Flash: popFlash(w, r),
		},
		IsAdmin:       isAdmin,
		Tab:           tab,
		Tabs:          nav.Tabs(),
		PollSeconds:   int(h.opts.PollInterval / time.Second),
		MaxUploadMB:   service.MaxAttachmentSize >> 20,
		AcceptedFiles: ".pdf,.jpg,.jpeg,.png",
	}

	switch tab {
	case view.TabFeed, view.TabAdmin:
		if data.Problems, err = h.problems.List(ctx); err != nil {
			h.serverError(w, "listing problems failed", err)
			return
		}
	case view.TabRatings:
		data.MyRating, err = h.ratings.Get(ctx, userID)
		if err != nil && !errors.Is(err, apperror.ErrNotFound) {
			h.serverError(w, "loading rating failed", err)
			return
		}
	}
	if tab == view.TabAdmin {
		if data.Stats, err = h.ratings.Analytics(ctx); err != nil {
			h.serverError(w, "rating analytics failed", err)
			return
		}
		if data.Ratings, err = h.ratings.All(ctx); err != nil {
			h.serverError(w, "listing ratings failed", err)
			return
		}
	}
	if !isAdmin {
		if data.Unread, err = h.notifications.Unread(ctx, userID); err != nil {
			h.serverError(w, "listing notifications failed", err)
			return
		}
	}

	h.render(w, "dashboard", data)
}

// HandleSubmitProblem handles the submit tab's multipart form. The
// problem is created first; a failed attachment leaves the problem in
// place and reports which file failed.
//
// HTTP: POST /dashboard/problems
func (h *PageHandler) HandleSubmitProblem(w http.ResponseWriter, r *http.Request) {
	const back = "/dashboard?tab=submit"
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, "/auth", http.StatusSeeOther)
		return
	}

	files, err := multipartFiles(w, r)
	if err != nil {
		h.failRedirect(w, r, back, "problem form rejected", err)
		return
	}

	problem, err := h.problems.Create(r.Context(), r.FormValue("title"), r.FormValue("description"), userID)
	if err != nil {
		h.failRedirect(w, r, back, "creating problem failed", err)
		return
	}

	for _, fh := range files {
		if fh.Filename == "" {
			continue
		}
		if _, err := uploadFile(r, h.problems, userID, problem.ID, fh); err != nil {
			logIfInternal(h.logger, "uploading attachment failed", err)
			setFlash(w, flashError, fmt.Sprintf("Problem submitted, but %s was not attached: %s", fh.Filename, flashMessage(err)))
			http.Redirect(w, r, "/dashboard?tab=feed", http.StatusSeeOther)
			return
		}
	}

	setFlash(w, flashSuccess, "Problem submitted successfully!")
	http.Redirect(w, r, "/dashboard?tab=feed", http.StatusSeeOther)
}

// HandleRespond handles the admin panel's respond and status buttons.
//
// HTTP: POST /dashboard/problems/{id}/respond
func (h *PageHandler) HandleRespond(w http.ResponseWriter, r *http.Request) {
	const back = "/dashboard?tab=admin"
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, "/auth", http.StatusSeeOther)
		return
	}

	status := model.ProblemStatus(r.PostFormValue("status"))
	problem, err := h.problems.Update(r.Context(), userID, chi.URLParam(r, "id"), r.PostFormValue("adminResponse"), status)
	if err != nil {
		h.failRedirect(w, r, back, "responding to problem failed", err)
		return
	}

	msg := "Problem marked as pending."
	if problem.Resolved() {
		msg = "Response sent and problem resolved."
	}
	setFlash(w, flashSuccess, msg)
	http.Redirect(w, r, back, http.StatusSeeOther)
}

// HandleRate handles the ratings tab form.
//
// HTTP: POST /dashboard/ratings
func (h *PageHandler) HandleRate(w http.ResponseWriter, r *http.Request) {
	const back = "/dashboard?tab=ratings"
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, "/auth", http.StatusSeeOther)
		return
	}

	stars, err := strconv.Atoi(r.PostFormValue("rating"))
	if err != nil {
		h.failRedirect(w, r, back, "rating form rejected", apperror.ValidationFailed("rating", "Please select a rating"))
		return
	}
	if _, err := h.ratings.Submit(r.Context(), stars, r.PostFormValue("comment"), userID); err != nil {
		h.failRedirect(w, r, back, "submitting rating failed", err)
		return
	}

	setFlash(w, flashSuccess, "Thank you for your feedback!")
	http.Redirect(w, r, back, http.StatusSeeOther)
}

// HandleMarkRead handles POST /dashboard/notifications/{id}/read.
func (h *PageHandler) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, "/auth", http.StatusSeeOther)
		return
	}
	if err := h.notifications.MarkAsRead(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		h.failRedirect(w, r, dashboardReturn(r), "marking notification read failed", err)
		return
	}
	http.Redirect(w, r, dashboardReturn(r), http.StatusSeeOther)
}

// HandleMarkAllRead handles POST /dashboard/notifications/read-all.
func (h *PageHandler) HandleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, "/auth", http.StatusSeeOther)
		return
	}
	if _, err := h.notifications.MarkAllAsRead(r.Context(), userID); err != nil {
		h.failRedirect(w, r, dashboardReturn(r), "marking notifications read failed", err)
		return
	}
	http.Redirect(w, r, dashboardReturn(r), http.StatusSeeOther)
}

// dashboardReturn sends the user back to the tab the form was posted from.
func dashboardReturn(r *http.Request) string {
	tab := r.PostFormValue("tab")
	if tab == "" {
		return "/dashboard"
	}
	return "/dashboard?tab=" + url.QueryEscape(tab)
}

func (h *PageHandler) failRedirect(w http.ResponseWriter, r *http.Request, to, msg string, err error) {
	logIfInternal(h.logger, msg, err)
	setFlash(w, flashError, flashMessage(err))
	http.Redirect(w, r, to, http.StatusSeeOther)
}

func (h *PageHandler) serverError(w http.ResponseWriter, msg string, err error) {
	h.logger.Error(msg, slog.String("error", err.Error()))
	http.Error(w, "Internal Server Error", http.StatusInternalServerError)
}

// render executes into a buffer first so a template error still yields a
// clean 500 instead of half a page.
func (h *PageHandler) render(w http.ResponseWriter, page string, data any) {
	var buf bytes.Buffer
	if err := h.pages[page].ExecuteTemplate(&buf, "base", data); err != nil {
		h.serverError(w, "rendering "+page+" failed", err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	buf.WriteTo(w)
}
