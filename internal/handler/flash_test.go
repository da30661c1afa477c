package handler

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stazh-ux/lavendel-ask-resolve/internal/apperror"
)

// roundTrip sets a flash on one response and reads it from the next request.
func roundTrip(t *testing.T, kind flashKind, msg string) (*Flash, *httptest.ResponseRecorder) {
	t.Helper()

	set := httptest.NewRecorder()
	setFlash(set, kind, msg)
	cookies := set.Result().Cookies()
	require.Len(t, cookies, 1)

	r := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	r.AddCookie(cookies[0])
	rr := httptest.NewRecorder()
	return popFlash(rr, r), rr
}

func TestFlash_RoundTrip(t *testing.T) {
	f, rr := roundTrip(t, flashError, "Title | must be set; 100% sure")
	require.NotNil(t, f)
	assert.True(t, f.IsError())
	assert.Equal(t, "Title | must be set; 100% sure", f.Message)

	cleared := rr.Result().Cookies()
	require.Len(t, cleared, 1)
	assert.Equal(t, flashCookieName, cleared[0].Name)
	assert.Negative(t, cleared[0].MaxAge)

	f, _ = roundTrip(t, flashSuccess, "Saved")
	require.NotNil(t, f)
	assert.False(t, f.IsError())
}

func TestPopFlash_IgnoresGarbage(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Nil(t, popFlash(httptest.NewRecorder(), r))

	r.AddCookie(&http.Cookie{Name: flashCookieName, Value: "!!not-base64!!"})
	assert.Nil(t, popFlash(httptest.NewRecorder(), r))
}

func TestFlashMessage(t *testing.T) {
	assert.Equal(t, "Title is required", flashMessage(apperror.ValidationFailed("title", "Title is required")))
	assert.Equal(t, genericFlash, flashMessage(errors.New("disk I/O error")))
}
