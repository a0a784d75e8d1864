// Package cas implements the campus single-sign-on flow: a credential
// login that yields a ticket-granting cookie (TGC), and per-service
// ticket redemption that turns the TGC into an authenticated session
// for a downstream portal without re-submitting credentials.
package cas

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	appLog "github.com/whiteki08/SUSTechReptile/internal/log"
)

const requestTimeout = 15 * time.Second

// tgcCookieName is the CAS ticket-granting cookie.
const tgcCookieName = "TGC"

var (
	// ErrNotLoggedIn is returned by Redeem when no TGC is held.
	ErrNotLoggedIn = errors.New("cas: not logged in (no TGC)")
	// ErrMissingFormField is returned when the login page lacks one of
	// the hidden form tokens the identity provider requires.
	ErrMissingFormField = errors.New("cas: login form field not found")
	// ErrLoginRejected is returned when the credential POST did not
	// produce a TGC (bad credentials or CAS rejected the form).
	ErrLoginRejected = errors.New("cas: login rejected")
)

// Session is one authenticated CAS context. It owns an HTTP client with
// a cookie jar and holds the TGC after a successful Login. Sessions are
// created per fetch cycle and never persisted.
type Session struct {
	client   *http.Client
	loginURL string
	tgc      string
}

// NewSession constructs a Session against the given CAS login endpoint.
func NewSession(loginURL string) (*Session, error) {
	if loginURL == "" {
		return nil, errors.New("cas: login URL is empty")
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &Session{
		client: &http.Client{
			Timeout: requestTimeout,
			Jar:     jar,
		},
		loginURL: loginURL,
	}, nil
}

// TGC returns the held ticket-granting cookie value, empty when not
// logged in. The value must never be logged or written to the cache.
func (s *Session) TGC() string {
	return s.tgc
}

// Login performs the credential login against the CAS endpoint:
//
//  1. GET the login page and extract the hidden "execution" and
//     "_eventId" form tokens.
//  2. POST username/password plus those tokens back to the same URL.
//  3. On HTTP success, capture the TGC cookie from the response.
//
// Missing credentials are a configuration error reported before any
// request. No retry is attempted here; the caller owns retry policy.
func (s *Session) Login(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return errors.New("cas: username or password is empty")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.loginURL, nil)
	if err != nil {
		return err
	}
	applyDefaultHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("cas: login page returned %s", resp.Status)
	}

	execution, eventID, err := extractFormTokens(resp)
	if err != nil {
		return err
	}

	form := url.Values{
		"username":    {username},
		"password":    {password},
		"execution":   {execution},
		"_eventId":    {eventID},
		"geolocation": {""},
	}

	postReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.loginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	applyDefaultHeaders(postReq)
	postReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	postResp, err := s.client.Do(postReq)
	if err != nil {
		return err
	}
	defer postResp.Body.Close()

	if postResp.StatusCode < 200 || postResp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %s", ErrLoginRejected, postResp.Status)
	}

	tgc := s.findTGC(postResp)
	if tgc == "" {
		return fmt.Errorf("%w: no TGC cookie in response", ErrLoginRejected)
	}
	s.tgc = tgc

	appLog.Info("cas login succeeded", "url", redactURL(s.loginURL))
	return nil
}

// findTGC looks for the TGC cookie first on the final response, then in
// the session jar (the cookie may have been set on an intermediate
// redirect response).
func (s *Session) findTGC(resp *http.Response) string {
	for _, c := range resp.Cookies() {
		if c.Name == tgcCookieName && c.Value != "" {
			return c.Value
		}
	}
	if u, err := url.Parse(s.loginURL); err == nil && s.client.Jar != nil {
		for _, c := range s.client.Jar.Cookies(u) {
			if c.Name == tgcCookieName && c.Value != "" {
				return c.Value
			}
		}
	}
	return ""
}

// extractFormTokens scrapes the hidden execution/_eventId inputs from
// the CAS login form.
func extractFormTokens(resp *http.Response) (execution, eventID string, err error) {
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", "", err
	}

	execution, ok := doc.Find(`input[name="execution"]`).First().Attr("value")
	if !ok || execution == "" {
		return "", "", fmt.Errorf("%w: execution", ErrMissingFormField)
	}
	eventID, ok = doc.Find(`input[name="_eventId"]`).First().Attr("value")
	if !ok || eventID == "" {
		return "", "", fmt.Errorf("%w: _eventId", ErrMissingFormField)
	}
	return execution, eventID, nil
}

// applyDefaultHeaders sets the browser-like header set the portals
// expect on every request.
func applyDefaultHeaders(req *http.Request) {
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9")
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("User-Agent",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/142.0.0.0 Safari/537.36")
}

// redactURL hides the path/query of a URL for logging purposes.
func redactURL(u string) string {
	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return "...(redacted)"
	}
	return parsed.Scheme + "://" + parsed.Host + "/...(redacted)"
}
