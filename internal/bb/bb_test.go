package bb

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whiteki08/SUSTechReptile/internal/cas"
)

func TestQueryCalendar(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/webapps/calendar/calendarData/selectedCalendarEvents", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, strconv.FormatInt(start.UnixMilli(), 10), q.Get("start"))
		assert.Equal(t, strconv.FormatInt(end.UnixMilli(), 10), q.Get("end"))
		assert.Equal(t, "personal", q.Get("mode"))
		assert.Equal(t, "XMLHttpRequest", r.Header.Get("X-Requested-With"))

		_, _ = fmt.Fprint(w, `[
			{"title": "HW1", "startDate": "2025-01-10T08:00:00Z", "endDate": "2025-01-10T08:00:00Z", "calendarName": "CS101", "eventType": "Assignment"},
			{"title": "Lecture", "startDate": "2025-01-11T01:00:00Z", "endDate": "2025-01-11T03:00:00Z", "calendarName": "CS101", "eventType": "Course"}
		]`)
	}))
	defer srv.Close()

	c := New(cas.NewServiceSession(nil), srv.URL)
	events, err := c.QueryCalendar(context.Background(), start, end)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "HW1", events[0].Title)
	assert.Equal(t, "Assignment", events[0].EventType)
}

func TestQueryCalendarNonOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(cas.NewServiceSession(nil), srv.URL)
	events, err := c.QueryCalendar(context.Background(), time.Now(), time.Now())
	require.Error(t, err)
	assert.Nil(t, events)
}

func TestQueryCalendarBadBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, `<html>login wall</html>`)
	}))
	defer srv.Close()

	c := New(cas.NewServiceSession(nil), srv.URL)
	_, err := c.QueryCalendar(context.Background(), time.Now(), time.Now())
	require.Error(t, err)
}
