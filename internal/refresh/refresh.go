// Package refresh runs the full authenticate → redeem → fetch →
// convert → cache cycle for each calendar source. Every fatal error in
// a cycle is caught here and reported as a status string, so one
// source's failure never prevents the other source's cycle.
package refresh

import (
	"context"
	"fmt"
	"time"

	"github.com/whiteki08/SUSTechReptile/internal/bb"
	"github.com/whiteki08/SUSTechReptile/internal/cache"
	"github.com/whiteki08/SUSTechReptile/internal/cas"
	"github.com/whiteki08/SUSTechReptile/internal/config"
	"github.com/whiteki08/SUSTechReptile/internal/convert"
	appLog "github.com/whiteki08/SUSTechReptile/internal/log"
	"github.com/whiteki08/SUSTechReptile/internal/tis"
)

// CacheKey returns the store key for a source. The file backend appends
// ".ics", so keys deliberately match the served attachment names.
func CacheKey(source string) string {
	return source + "_schedule"
}

// ValidSource reports whether source names a known calendar source or
// the "all" selector.
func ValidSource(source string) bool {
	switch source {
	case config.SourceTIS, config.SourceBB, "all":
		return true
	}
	return false
}

// Refresher owns the per-source fetch-and-cache cycles.
type Refresher struct {
	cfg   *config.Config
	store cache.Store
}

func New(cfg *config.Config, store cache.Store) *Refresher {
	return &Refresher{cfg: cfg, store: store}
}

// Run executes the cycles selected by source ("tis", "bb" or "all") and
// returns a per-source status map: "success" or "failed: <reason>".
func (r *Refresher) Run(ctx context.Context, source string) map[string]string {
	results := make(map[string]string)

	if source == config.SourceTIS || source == "all" {
		if err := r.RefreshTIS(ctx); err != nil {
			appLog.Error("tis refresh cycle failed", err)
			results[config.SourceTIS] = "failed: " + err.Error()
		} else {
			results[config.SourceTIS] = "success"
		}
	}

	if source == config.SourceBB || source == "all" {
		if err := r.RefreshBlackboard(ctx); err != nil {
			appLog.Error("bb refresh cycle failed", err)
			results[config.SourceBB] = "failed: " + err.Error()
		} else {
			results[config.SourceBB] = "success"
		}
	}

	return results
}

// RefreshSource runs a single source's cycle. Used by the serve layer
// for on-demand fetches.
func (r *Refresher) RefreshSource(ctx context.Context, source string) error {
	switch source {
	case config.SourceTIS:
		return r.RefreshTIS(ctx)
	case config.SourceBB:
		return r.RefreshBlackboard(ctx)
	}
	return fmt.Errorf("refresh: unknown source %q", source)
}

// window returns the fetch range relative to now.
func (r *Refresher) window() (start, end time.Time) {
	now := time.Now()
	return now.AddDate(0, 0, -r.cfg.PastDays), now.AddDate(0, 0, r.cfg.FutureDays)
}

// login performs the CAS credential login for one cycle. Each cycle
// gets a fresh session; nothing is shared across cycles.
func (r *Refresher) login(ctx context.Context) (*cas.Session, error) {
	if err := r.cfg.Validate(); err != nil {
		return nil, err
	}
	session, err := cas.NewSession(r.cfg.CAS.BaseURL)
	if err != nil {
		return nil, err
	}
	if err := session.Login(ctx, r.cfg.CAS.Username, r.cfg.CAS.Password); err != nil {
		return nil, err
	}
	return session, nil
}

// RefreshTIS fetches the class schedule, converts it and stores the
// document. The cache is written only after a successful convert.
func (r *Refresher) RefreshTIS(ctx context.Context) error {
	session, err := r.login(ctx)
	if err != nil {
		return err
	}

	svc, err := session.Redeem(ctx, r.cfg.TIS.ServiceURL, nil)
	if err != nil {
		return err
	}

	start, end := r.window()
	days, err := tis.New(svc, r.cfg.TIS.BaseURL).QueryRange(ctx, start, end)
	if err != nil {
		return err
	}

	doc := convert.Schedule(days, r.convertOptions())
	if err := r.store.Set(ctx, CacheKey(config.SourceTIS), []byte(doc)); err != nil {
		return err
	}

	appLog.Info("tis cache updated", "days", len(days))
	return nil
}

// RefreshBlackboard fetches the learning-portal calendar, converts it
// and stores the document. Redemption is verified against the portal
// home page title, since a 200 there can still be a login wall.
func (r *Refresher) RefreshBlackboard(ctx context.Context) error {
	session, err := r.login(ctx)
	if err != nil {
		return err
	}

	check := &cas.PageCheck{
		URL: r.cfg.BB.BaseURL + "/webapps/portal/execute/tabs/tabAction?tab_tab_group_id=_1_1",
		Markers: [][]string{
			{"欢迎，", "Welcome,"},
			{"Blackboard Learn"},
		},
	}

	svc, err := session.Redeem(ctx, r.cfg.BB.ServiceURL, check)
	if err != nil {
		return err
	}

	start, end := r.window()
	events, err := bb.New(svc, r.cfg.BB.BaseURL).QueryCalendar(ctx, start, end)
	if err != nil {
		// An absent event list means "no events available", not a cycle
		// failure: the empty-but-valid document still gets cached.
		appLog.Error("bb calendar fetch failed, treating as no events", err)
		events = nil
	}

	doc := convert.Deadlines(events, r.convertOptions())
	if err := r.store.Set(ctx, CacheKey(config.SourceBB), []byte(doc)); err != nil {
		return err
	}

	appLog.Info("bb cache updated", "events", len(events))
	return nil
}

func (r *Refresher) convertOptions() convert.Options {
	loc, err := time.LoadLocation(r.cfg.Timezone)
	if err != nil {
		appLog.Error("invalid timezone, using Asia/Shanghai table offset", err, "timezone", r.cfg.Timezone)
		loc = nil
	}
	return convert.Options{
		Location:       loc,
		Keywords:       r.cfg.CourseFilter,
		FilterMode:     r.cfg.FilterMode,
		LocationPrefix: r.cfg.LocationPrefix,
		RoomNames:      r.cfg.RoomNames,
	}
}
