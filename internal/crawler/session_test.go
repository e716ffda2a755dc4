package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const loginPage = `<html><body>
<form action="/session" method="post">
  <input type="hidden" name="csrf" value="tok-1">
  <input type="text" name="company">
  <input type="email" name="email">
  <input type="password" name="password">
  <button type="submit">Sign in</button>
</form></body></html>`

func newMembersSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, loginPage)
	})
	mux.HandleFunc("/session", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.ParseForm() != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if r.PostForm.Get("csrf") != "tok-1" || r.PostForm.Get("email") != "owner@example.com" || r.PostForm.Get("password") != "s3cret" {
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, loginPage)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "ok", Path: "/"})
		http.Redirect(w, r, "/account", http.StatusSeeOther)
	})
	mux.HandleFunc("/account", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if cookie, err := r.Cookie("sid"); err != nil || cookie.Value != "ok" {
			fmt.Fprint(w, loginPage)
			return
		}
		fmt.Fprint(w, `<html><body><h1>Your orders</h1></body></html>`)
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func TestFindLoginForm(t *testing.T) {
	form, err := FindLoginForm("https://example.com/login", []byte(loginPage))
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/session", form.Action)
	assert.Equal(t, "POST", form.Method)
	assert.Equal(t, "email", form.UsernameField, "a field named like a username beats the first text input")
	assert.Equal(t, "password", form.PasswordField)
	assert.Equal(t, map[string]string{"csrf": "tok-1"}, form.Hidden)

	_, err = FindLoginForm("https://example.com/", []byte(`<form><input name="q"></form>`))
	assert.ErrorIs(t, err, ErrLoginFailed)
}

func TestLoginKeepsSessionCookies(t *testing.T) {
	ts := newMembersSite(t)
	c := New(testConfig())
	session := NewSession()

	require.NoError(t, c.Login(context.Background(), session, ts.URL+"/login", "owner@example.com", "s3cret"))
	assert.True(t, session.Authenticated)

	res, err := c.Fetch(context.Background(), ts.URL+"/account", session)
	require.NoError(t, err)
	assert.False(t, res.Analysis.LoginForm)

	anonymous, err := c.Fetch(context.Background(), ts.URL+"/account", NewSession())
	require.NoError(t, err)
	assert.True(t, anonymous.Analysis.LoginForm)
}

func TestLoginWrongPassword(t *testing.T) {
	ts := newMembersSite(t)
	c := New(testConfig())
	session := NewSession()

	err := c.Login(context.Background(), session, ts.URL+"/login", "owner@example.com", "wrong")
	assert.ErrorIs(t, err, ErrLoginFailed)
	assert.False(t, session.Authenticated)
}
