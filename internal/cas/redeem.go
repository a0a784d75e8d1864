package cas

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	appLog "github.com/whiteki08/SUSTechReptile/internal/log"
)

var (
	// ErrBadStatus is returned when the CAS ticket request did not
	// answer with a 302 redirect. This usually means the TGC is
	// invalid/expired or the service URL is not registered.
	ErrBadStatus = errors.New("cas: ticket request did not return 302")
	// ErrMissingLocation is returned when the 302 carried no ticket URL.
	ErrMissingLocation = errors.New("cas: ticket response has no Location header")
	// ErrNotVerified is returned when the post-redirect page does not
	// carry the expected authenticated markers. A 200 status can still
	// be a login wall.
	ErrNotVerified = errors.New("cas: authenticated page verification failed")
)

// PageCheck verifies that a service session really is authenticated by
// inspecting a known page's <title>. Markers is a list of groups; the
// title must contain at least one substring from every group (e.g. one
// group of localized welcome strings and one platform-name group).
type PageCheck struct {
	URL     string
	Markers [][]string
}

// ServiceSession is the derived authenticated state for one downstream
// service. It owns a fresh cookie jar; it is valid only as long as the
// portal-side session it was redeemed for, and is re-derivable at any
// time from a live TGC.
type ServiceSession struct {
	client *http.Client
}

// NewServiceSession wraps an HTTP client as a ServiceSession. A nil
// client gets a fresh jar-backed client with the default timeout. This
// is primarily useful for tests that bypass the CAS flow.
func NewServiceSession(client *http.Client) *ServiceSession {
	if client == nil {
		jar, _ := cookiejar.New(nil)
		client = &http.Client{Timeout: requestTimeout, Jar: jar}
	}
	return &ServiceSession{client: client}
}

// Get issues a GET with the default header set plus any extra headers.
func (ss *ServiceSession) Get(ctx context.Context, rawURL string, extra http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	applyDefaultHeaders(req)
	mergeHeaders(req, extra)
	return ss.client.Do(req)
}

// PostForm issues an application/x-www-form-urlencoded POST with the
// default header set plus any extra headers.
func (ss *ServiceSession) PostForm(ctx context.Context, rawURL string, form url.Values, extra http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	applyDefaultHeaders(req)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	mergeHeaders(req, extra)
	return ss.client.Do(req)
}

func mergeHeaders(req *http.Request, extra http.Header) {
	for k, vs := range extra {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}
}

// Redeem exchanges the held TGC for an authenticated session with one
// downstream service:
//
//  1. GET the CAS login endpoint with "service" set and the TGC cookie
//     attached, redirect-following disabled.
//  2. Require a 302 and read the one-time service-ticket URL from the
//     Location header.
//  3. GET the ticket URL with redirects enabled on a fresh jar-backed
//     client, establishing the service's own session cookies.
//  4. If check is non-nil, verify a known authenticated page's title.
//
// Redemptions are independent per service and idempotent per call; the
// caller re-runs Redeem when it believes the service session expired.
func (s *Session) Redeem(ctx context.Context, serviceURL string, check *PageCheck) (*ServiceSession, error) {
	if s.tgc == "" {
		return nil, ErrNotLoggedIn
	}
	if serviceURL == "" {
		return nil, errors.New("cas: service URL is empty")
	}

	ticketReq, err := http.NewRequestWithContext(ctx, http.MethodGet, s.loginURL, nil)
	if err != nil {
		return nil, err
	}
	q := ticketReq.URL.Query()
	q.Set("service", serviceURL)
	ticketReq.URL.RawQuery = q.Encode()
	applyDefaultHeaders(ticketReq)
	ticketReq.AddCookie(&http.Cookie{Name: tgcCookieName, Value: s.tgc})

	// Redirect-following must stay disabled here: the 302 Location is
	// the one-time ticket URL and belongs to the service client below.
	noRedirect := &http.Client{
		Timeout: requestTimeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := noRedirect.Do(ticketReq)
	if err != nil {
		return nil, err
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusFound {
		return nil, fmt.Errorf("%w: got %s for service %s", ErrBadStatus, resp.Status, redactURL(serviceURL))
	}

	ticketURL := resp.Header.Get("Location")
	if ticketURL == "" {
		return nil, ErrMissingLocation
	}

	svc := NewServiceSession(nil)

	confirm, err := svc.Get(ctx, ticketURL, nil)
	if err != nil {
		return nil, err
	}
	confirm.Body.Close()

	if confirm.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cas: ticket confirmation returned %s for service %s", confirm.Status, redactURL(serviceURL))
	}

	if check != nil {
		if err := svc.verifyPage(ctx, check); err != nil {
			return nil, err
		}
	}

	appLog.Info("cas ticket redeemed", "service", redactURL(serviceURL))
	return svc, nil
}

// verifyPage fetches check.URL and requires every marker group to match
// the page <title>.
func (ss *ServiceSession) verifyPage(ctx context.Context, check *PageCheck) error {
	resp, err := ss.Get(ctx, check.URL, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: verification page returned %s", ErrNotVerified, resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return err
	}

	title := doc.Find("title").First().Text()
	for _, group := range check.Markers {
		if !containsAny(title, group) {
			return fmt.Errorf("%w: title %q lacks marker %v", ErrNotVerified, title, group)
		}
	}
	return nil
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
