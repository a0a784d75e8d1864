package refresh

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	ical "github.com/arran4/golang-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whiteki08/SUSTechReptile/internal/cache"
	"github.com/whiteki08/SUSTechReptile/internal/config"
)

// campusServer fakes CAS plus both portals on one listener. Tests can
// degrade individual endpoints by overriding the status fields.
type campusServer struct {
	*httptest.Server
	calendarStatus int
}

func newCampusServer(t *testing.T) *campusServer {
	t.Helper()

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cs := &campusServer{Server: srv, calendarStatus: http.StatusOK}

	mux.HandleFunc("/cas/login", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("service") != "" {
			c, err := r.Cookie("TGC")
			if err != nil || c.Value != "tgt-ok" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Header().Set("Location", srv.URL+"/ticket?ticket=ST-1")
			w.WriteHeader(http.StatusFound)
			return
		}
		switch r.Method {
		case http.MethodGet:
			_, _ = fmt.Fprint(w, `<form><input name="execution" value="e1"/><input name="_eventId" value="submit"/></form>`)
		case http.MethodPost:
			require.NoError(t, r.ParseForm())
			if r.PostForm.Get("password") != "secret" {
				_, _ = fmt.Fprint(w, `<form><input name="execution" value="e1"/><input name="_eventId" value="submit"/></form>`)
				return
			}
			http.SetCookie(w, &http.Cookie{Name: "TGC", Value: "tgt-ok", Path: "/"})
		}
	})

	mux.HandleFunc("/ticket", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/webapps/portal/execute/tabs/tabAction", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, `<html><head><title>欢迎，张三 – Blackboard Learn</title></head></html>`)
	})

	mux.HandleFunc("/component/queryrcxxlist", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		date := r.PostForm.Get("rcrq")
		_, _ = fmt.Fprintf(w,
			`[{"KSJC": 1, "KCMC": "线性代数", "SJ": %q, "NR": "一教101", "BT": "线性代数:张三1-16周"}]`, date)
	})

	mux.HandleFunc("/webapps/calendar/calendarData/selectedCalendarEvents", func(w http.ResponseWriter, _ *http.Request) {
		if cs.calendarStatus != http.StatusOK {
			w.WriteHeader(cs.calendarStatus)
			return
		}
		_, _ = fmt.Fprint(w, `[{"title": "HW1", "startDate": "2025-01-10T08:00:00Z", "endDate": "2025-01-10T08:00:00Z", "calendarName": "CS101", "eventType": "Assignment"}]`)
	})

	return cs
}

func campusConfig(srv *campusServer) *config.Config {
	cfg := config.DefaultConfig()
	cfg.CAS = config.CASConfig{
		BaseURL:  srv.URL + "/cas/login",
		Username: "12012345",
		Password: "secret",
	}
	cfg.TIS = config.ServiceConfig{ServiceURL: srv.URL + "/tis-service", BaseURL: srv.URL}
	cfg.BB = config.ServiceConfig{ServiceURL: srv.URL + "/bb-service", BaseURL: srv.URL}
	cfg.PastDays = 1
	cfg.FutureDays = 1
	return cfg
}

func TestRunAllSources(t *testing.T) {
	srv := newCampusServer(t)
	store := cache.NewMemoryStore()

	r := New(campusConfig(srv), store)
	results := r.Run(context.Background(), "all")

	assert.Equal(t, "success", results[config.SourceTIS])
	assert.Equal(t, "success", results[config.SourceBB])

	ctx := context.Background()

	tisDoc, _, err := store.Get(ctx, CacheKey(config.SourceTIS))
	require.NoError(t, err)
	tisCal, err := ical.ParseCalendar(strings.NewReader(string(tisDoc)))
	require.NoError(t, err)
	// PastDays=1 and FutureDays=1 make a 3-day window with one meeting per day.
	assert.Len(t, tisCal.Events(), 3)

	bbDoc, _, err := store.Get(ctx, CacheKey(config.SourceBB))
	require.NoError(t, err)
	bbCal, err := ical.ParseCalendar(strings.NewReader(string(bbDoc)))
	require.NoError(t, err)
	require.Len(t, bbCal.Events(), 1)
	summary := bbCal.Events()[0].GetProperty(ical.ComponentPropertySummary)
	require.NotNil(t, summary)
	assert.Contains(t, summary.Value, "CS101")
}

func TestRunBlackboardCalendarUnavailableCachesEmptyDocument(t *testing.T) {
	srv := newCampusServer(t)
	srv.calendarStatus = http.StatusBadGateway
	store := cache.NewMemoryStore()

	r := New(campusConfig(srv), store)
	results := r.Run(context.Background(), config.SourceBB)

	assert.Equal(t, "success", results[config.SourceBB],
		"an unavailable calendar means no events, not a cycle failure")

	doc, _, err := store.Get(context.Background(), CacheKey(config.SourceBB))
	require.NoError(t, err)
	cal, err := ical.ParseCalendar(strings.NewReader(string(doc)))
	require.NoError(t, err)
	assert.Empty(t, cal.Events())
}

func TestRunBadCredentialsIsStatusNotPanic(t *testing.T) {
	srv := newCampusServer(t)
	cfg := campusConfig(srv)
	cfg.CAS.Password = "wrong"

	r := New(cfg, cache.NewMemoryStore())
	results := r.Run(context.Background(), "all")

	assert.Contains(t, results[config.SourceTIS], "failed:")
	assert.Contains(t, results[config.SourceBB], "failed:")
}

func TestRunMissingCredentials(t *testing.T) {
	srv := newCampusServer(t)
	cfg := campusConfig(srv)
	cfg.CAS.Username = ""

	store := cache.NewMemoryStore()
	r := New(cfg, store)
	results := r.Run(context.Background(), config.SourceTIS)

	assert.Contains(t, results[config.SourceTIS], "failed:")
	_, _, err := store.Get(context.Background(), CacheKey(config.SourceTIS))
	assert.ErrorIs(t, err, cache.ErrNotFound, "failed cycle must not write the cache")
}

func TestRunSingleSource(t *testing.T) {
	srv := newCampusServer(t)
	store := cache.NewMemoryStore()

	r := New(campusConfig(srv), store)
	results := r.Run(context.Background(), config.SourceBB)

	assert.NotContains(t, results, config.SourceTIS)
	assert.Equal(t, "success", results[config.SourceBB])
}

func TestValidSource(t *testing.T) {
	assert.True(t, ValidSource("tis"))
	assert.True(t, ValidSource("bb"))
	assert.True(t, ValidSource("all"))
	assert.False(t, ValidSource("moodle"))
	assert.False(t, ValidSource(""))
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "tis_schedule", CacheKey("tis"))
	assert.Equal(t, "bb_schedule", CacheKey("bb"))
}
