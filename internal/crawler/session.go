package crawler

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"github.com/rs/zerolog/log"
)

// LoginForm is a parsed password form ready to be submitted
type LoginForm struct {
	Action        string
	Method        string
	UsernameField string
	PasswordField string
	Hidden        map[string]string
}

// FindLoginForm locates the first form with a password input on the page
func FindLoginForm(pageURL string, body []byte) (*LoginForm, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}

	form := doc.Find("form").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.Find(`input[type="password"]`).Length() > 0
	}).First()
	if form.Length() == 0 {
		return nil, fmt.Errorf("%w: no password form on %s", ErrLoginFailed, pageURL)
	}

	lf := &LoginForm{
		Method: strings.ToUpper(form.AttrOr("method", "POST")),
		Hidden: make(map[string]string),
	}
	action := base
	if raw := strings.TrimSpace(form.AttrOr("action", "")); raw != "" {
		ref, err := url.Parse(raw)
		if err != nil {
			return nil, err
		}
		action = base.ResolveReference(ref)
	}
	lf.Action = action.String()

	lf.PasswordField = form.Find(`input[type="password"]`).First().AttrOr("name", "")
	form.Find("input[name]").Each(func(_ int, s *goquery.Selection) {
		name := s.AttrOr("name", "")
		typ := strings.ToLower(s.AttrOr("type", "text"))
		switch typ {
		case "hidden":
			lf.Hidden[name] = s.AttrOr("value", "")
		case "email", "text":
			// prefer a field that is named like a username over the first text input
			if lf.UsernameField == "" || (!looksLikeUsername(lf.UsernameField) && looksLikeUsername(name)) {
				lf.UsernameField = name
			}
		}
	})
	if lf.PasswordField == "" || lf.UsernameField == "" {
		return nil, fmt.Errorf("%w: login form on %s has no named username or password input", ErrLoginFailed, pageURL)
	}
	return lf, nil
}

func looksLikeUsername(name string) bool {
	return containsAny(strings.ToLower(name), "user", "email", "login")
}

// Login fetches the login page, submits the credentials and keeps the resulting cookies
// on the session. Success means the response no longer shows a password form.
func (c *Crawler) Login(ctx context.Context, session *Session, loginURL, username, password string) error {
	if session == nil {
		return fmt.Errorf("login requires a session")
	}
	page, err := c.Fetch(ctx, loginURL, session)
	if err != nil {
		return fmt.Errorf("failed to load login page: %w", err)
	}
	pageURL := page.FinalURL
	if pageURL == "" {
		pageURL = loginURL
	}
	form, err := FindLoginForm(pageURL, page.Body)
	if err != nil {
		return err
	}

	values := make(map[string]string, len(form.Hidden)+2)
	for k, v := range form.Hidden {
		values[k] = v
	}
	values[form.UsernameField] = username
	values[form.PasswordField] = password

	res, err := c.do(ctx, form.Action, session, func(col *colly.Collector) error {
		if form.Method == "GET" {
			q := url.Values{}
			for k, v := range values {
				q.Set(k, v)
			}
			target, err := url.Parse(form.Action)
			if err != nil {
				return err
			}
			target.RawQuery = q.Encode()
			return col.Visit(target.String())
		}
		return col.Post(form.Action, values)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLoginFailed, err)
	}
	if res.Analysis != nil && res.Analysis.LoginForm {
		return fmt.Errorf("%w: still on a login form after submitting credentials", ErrLoginFailed)
	}

	session.Authenticated = true
	log.Info().Str("login_url", loginURL).Msg("Site login succeeded")
	return nil
}
