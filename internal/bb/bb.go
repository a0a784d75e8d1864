// Package bb fetches personal calendar events (deadlines, course
// events) from the learning portal using an authenticated CAS service
// session.
package bb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/whiteki08/SUSTechReptile/internal/cas"
	appLog "github.com/whiteki08/SUSTechReptile/internal/log"
	"github.com/whiteki08/SUSTechReptile/internal/model"
)

// Client queries the learning portal's calendar endpoint.
type Client struct {
	ss      *cas.ServiceSession
	baseURL string
}

// New constructs a Client on top of a redeemed service session.
// baseURL is the portal origin, e.g. "https://bb.sustech.edu.cn".
func New(ss *cas.ServiceSession, baseURL string) *Client {
	return &Client{ss: ss, baseURL: baseURL}
}

// QueryCalendar fetches all personal calendar events between start and
// end in a single call. The portal expects the range as millisecond
// epoch timestamps. On any failure the caller gets a nil list and an
// error; the serve layer treats that as "no events available" rather
// than a hard error.
func (c *Client) QueryCalendar(ctx context.Context, start, end time.Time) ([]model.CalendarEvent, error) {
	endpoint := c.baseURL + "/webapps/calendar/calendarData/selectedCalendarEvents"

	q := url.Values{}
	q.Set("start", strconv.FormatInt(start.UnixMilli(), 10))
	q.Set("end", strconv.FormatInt(end.UnixMilli(), 10))
	q.Set("course_id", "")
	q.Set("mode", "personal")

	extra := http.Header{}
	extra.Set("Accept", "*/*")
	extra.Set("X-Requested-With", "XMLHttpRequest")
	extra.Set("Referer", c.baseURL+"/webapps/calendar/viewPersonal")

	resp, err := c.ss.Get(ctx, endpoint+"?"+q.Encode(), extra)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bb: calendar query returned %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var events []model.CalendarEvent
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, fmt.Errorf("bb: calendar response is not an event array: %w", err)
	}

	appLog.Info("bb calendar fetch completed", "events", len(events))
	return events, nil
}
