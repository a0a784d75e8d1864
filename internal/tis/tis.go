// Package tis fetches per-day class schedules from the academic portal
// using an authenticated CAS service session.
package tis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/whiteki08/SUSTechReptile/internal/cas"
	appLog "github.com/whiteki08/SUSTechReptile/internal/log"
	"github.com/whiteki08/SUSTechReptile/internal/model"
)

// DateFormat is the wire format for schedule dates.
const DateFormat = "2006-01-02"

// maxParallelDays caps concurrent per-day requests so a long range does
// not open one connection per date.
const maxParallelDays = 10

// Client queries the academic portal's schedule endpoints.
type Client struct {
	ss      *cas.ServiceSession
	baseURL string
}

// New constructs a Client on top of a redeemed service session.
// baseURL is the portal origin, e.g. "https://tis.sustech.edu.cn".
func New(ss *cas.ServiceSession, baseURL string) *Client {
	return &Client{ss: ss, baseURL: baseURL}
}

// QueryDay fetches the raw class-meeting records for one date
// (YYYY-MM-DD). A day with no meetings yields an empty, non-nil slice.
func (c *Client) QueryDay(ctx context.Context, date string) ([]model.ScheduleRecord, error) {
	form := url.Values{"rcrq": {date}}

	extra := http.Header{}
	extra.Set("Accept", "*/*")
	extra.Set("X-Requested-With", "XMLHttpRequest")
	extra.Set("Origin", c.baseURL)
	extra.Set("Referer", c.baseURL+"/authentication/main")

	resp, err := c.ss.PostForm(ctx, c.baseURL+"/component/queryrcxxlist", form, extra)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tis: schedule query for %s returned %s", date, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var records []model.ScheduleRecord
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("tis: schedule response for %s is not a record array: %w", date, err)
	}
	if records == nil {
		records = []model.ScheduleRecord{}
	}
	return records, nil
}

// QueryRange fetches every calendar date from start to end inclusive,
// at most maxParallelDays in flight at a time.
//
// Per-day independence is the core property here: a failed day is
// logged and recorded as an empty record list, and never aborts or
// fails its siblings. The result always contains every requested date,
// in chronological order.
func (c *Client) QueryRange(ctx context.Context, start, end time.Time) ([]model.ScheduleDay, error) {
	startDay := truncateToDay(start)
	endDay := truncateToDay(end)
	if endDay.Before(startDay) {
		return nil, errors.New("tis: range end is before range start")
	}

	dates := make([]string, 0)
	for d := startDay; !d.After(endDay); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d.Format(DateFormat))
	}

	days := make([]model.ScheduleDay, len(dates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelDays)

	for i, date := range dates {
		i, date := i, date
		g.Go(func() error {
			records, err := c.QueryDay(gctx, date)
			if err != nil {
				// Partial failure: keep the date with empty records.
				appLog.Error("tis day fetch failed", err, "date", date)
				records = []model.ScheduleRecord{}
			}
			days[i] = model.ScheduleDay{Date: date, Records: records}
			// Never propagate: one day must not cancel the group.
			return nil
		})
	}

	// Workers only return nil; Wait is for completion, not errors.
	_ = g.Wait()

	appLog.Info("tis range fetch completed",
		"start", dates[0],
		"end", dates[len(dates)-1],
		"days", len(days),
	)
	return days, nil
}

func truncateToDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
