package handler

import (
	"encoding/base64"
	"net/http"
	"strings"
)

const flashCookieName = "flash"

type flashKind string

const (
	flashSuccess flashKind = "success"
	flashError   flashKind = "error"
)

// Flash is a one-shot message shown after a form post redirects.
type Flash struct {
	Kind    flashKind
	Message string
}

func (f *Flash) IsError() bool { return f != nil && f.Kind == flashError }

func setFlash(w http.ResponseWriter, kind flashKind, message string) {
	value := base64.RawURLEncoding.EncodeToString([]byte(string(kind) + "|" + message))
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   60,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// popFlash reads and clears the flash cookie. A missing or mangled cookie
// yields nil.
func popFlash(w http.ResponseWriter, r *http.Request) *Flash {
	c, err := r.Cookie(flashCookieName)
	if err != nil {
		return nil
	}
	http.SetCookie(w, &http.Cookie{Name: flashCookieName, Value: "", Path: "/", MaxAge: -1})

	raw, err := base64.RawURLEncoding.DecodeString(c.Value)
	if err != nil {
		return nil
	}
	kind, message, ok := strings.Cut(string(raw), "|")
	if !ok || message == "" {
		return nil
	}
	switch flashKind(kind) {
	case flashSuccess, flashError:
		return &Flash{Kind: flashKind(kind), Message: message}
	}
	return nil
}

const genericFlash = "Something went wrong. Please try again."

// flashMessage shows domain messages as they are and hides internal ones.
func flashMessage(err error) string {
	status, _, message := errorStatus(err)
	if status == http.StatusInternalServerError {
		return genericFlash
	}
	return message
}
