// Package convert maps raw portal records into iCalendar documents.
// Conversion is pure: no network and no cache access. Records missing
// required fields are skipped, never surfaced as errors, and an empty
// surviving set still yields a complete, parseable document.
package convert

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"github.com/whiteki08/SUSTechReptile/internal/model"
)

// FilterMode controls the polarity of the course keyword filter.
const (
	FilterAllow = "allow" // keep a record only if its title has a keyword
	FilterBlock = "block" // drop a record if its title has a keyword
)

// Options are the recognized conversion options.
type Options struct {
	// Location is the timezone the class period table is interpreted
	// in. Nil means Asia/Shanghai.
	Location *time.Location

	// Keywords with FilterMode implement the course filter. An empty
	// list keeps every record regardless of mode.
	Keywords   []string
	FilterMode string

	// LocationPrefix is prepended to each rewritten room string.
	LocationPrefix string
	// RoomNames maps abbreviated building names to full names; the
	// first matching abbreviation is replaced.
	RoomNames map[string]string
}

// classPeriods maps the portal's class-slot index to its fixed
// time-of-day window. Only the odd slots are real meeting starts; a
// record with any other index carries no usable time and is skipped.
var classPeriods = map[int][2]string{
	1:  {"08:00", "09:50"},
	3:  {"10:20", "12:10"},
	5:  {"14:00", "15:50"},
	7:  {"16:20", "18:10"},
	9:  {"19:00", "20:50"},
	11: {"21:00", "21:50"},
}

// leadingNonDigits captures the teacher-name run in a title payload.
var leadingNonDigits = regexp.MustCompile(`^[^\d]*`)

// event is the variant-independent shape both mappers produce before
// the shared builder emits the document.
type event struct {
	begin       time.Time
	end         time.Time
	summary     string
	location    string
	description string
}

// Schedule converts per-day class-meeting records into an iCalendar
// document. Records with an unmapped period index, a missing course
// name or an unparseable date are skipped.
func Schedule(days []model.ScheduleDay, opts Options) string {
	loc := opts.Location
	if loc == nil {
		loc = defaultLocation()
	}

	events := make([]event, 0)
	for _, day := range days {
		for _, rec := range day.Records {
			if rec.Course == "" || int(rec.Period) == 0 {
				continue
			}
			window, ok := classPeriods[int(rec.Period)]
			if !ok {
				continue
			}
			if !keepTitle(rec.Course, opts) {
				continue
			}

			begin, err := time.ParseInLocation("2006-01-02 15:04", rec.Date+" "+window[0], loc)
			if err != nil {
				continue
			}
			end, err := time.ParseInLocation("2006-01-02 15:04", rec.Date+" "+window[1], loc)
			if err != nil {
				continue
			}

			events = append(events, event{
				begin:       begin,
				end:         end,
				summary:     rec.Course,
				location:    rewriteRoom(rec.Room, opts),
				description: scheduleDescription(rec.Title),
			})
		}
	}

	return build(events)
}

// Deadlines converts learning-portal calendar events into an iCalendar
// document. Records missing title, start, end or course name are
// skipped. Begin and end are taken verbatim; zero-duration events
// (deadlines) are valid.
func Deadlines(items []model.CalendarEvent, opts Options) string {
	events := make([]event, 0)
	for _, item := range items {
		if item.Title == "" || item.StartDate == "" || item.EndDate == "" || item.CalendarName == "" {
			continue
		}

		begin, err := parseISOTime(item.StartDate)
		if err != nil {
			continue
		}
		end, err := parseISOTime(item.EndDate)
		if err != nil {
			continue
		}

		events = append(events, event{
			begin:       begin,
			end:         end,
			summary:     deadlineSummary(item),
			description: fmt.Sprintf("Course: %s\nDescription: Deadline from Blackboard", item.CalendarName),
		})
	}

	return build(events)
}

// build emits the shared iCalendar document for either variant.
func build(events []event) string {
	cal := ical.NewCalendar()
	now := time.Now().UTC()

	for _, ev := range events {
		ve := cal.AddEvent(uuid.NewString())
		ve.SetDtStampTime(now)
		ve.SetStartAt(ev.begin)
		ve.SetEndAt(ev.end)
		ve.SetSummary(ev.summary)
		if ev.location != "" {
			ve.SetLocation(ev.location)
		}
		if ev.description != "" {
			ve.SetDescription(ev.description)
		}
	}

	return cal.Serialize()
}

// keepTitle applies the keyword filter in the configured polarity.
func keepTitle(title string, opts Options) bool {
	if len(opts.Keywords) == 0 {
		return true
	}
	matched := false
	for _, kw := range opts.Keywords {
		if kw != "" && strings.Contains(title, kw) {
			matched = true
			break
		}
	}
	if opts.FilterMode == FilterBlock {
		return !matched
	}
	return matched
}

// rewriteRoom replaces the first matching abbreviated building name
// with its full name and prepends the configured prefix. An empty room
// stays empty (no prefix-only locations).
func rewriteRoom(room string, opts Options) string {
	if room == "" {
		return ""
	}

	// Deterministic order: map iteration order must not decide which
	// abbreviation wins when several match.
	shorts := make([]string, 0, len(opts.RoomNames))
	for short := range opts.RoomNames {
		shorts = append(shorts, short)
	}
	sort.Strings(shorts)

	for _, short := range shorts {
		if strings.Contains(room, short) {
			room = strings.Replace(room, short, opts.RoomNames[short], 1)
			break
		}
	}
	return opts.LocationPrefix + room
}

// scheduleDescription extracts the teacher name from the composite
// title payload: the run of non-digit characters after the first colon,
// "N/A" when there is no colon.
func scheduleDescription(title string) string {
	teacher := "N/A"
	if idx := strings.Index(title, ":"); idx >= 0 {
		teacher = leadingNonDigits.FindString(title[idx+1:])
	}
	return fmt.Sprintf("教师: %s\n课程标题: %s", teacher, title)
}

// deadlineSummary prefixes the title with the submission-deadline
// marker for assignments, a plain course bracket otherwise.
func deadlineSummary(item model.CalendarEvent) string {
	switch item.EventType {
	case "Assignment", "作业":
		return fmt.Sprintf("「%s」 %s", item.CalendarName, item.Title)
	default:
		return fmt.Sprintf("[%s] %s", item.CalendarName, item.Title)
	}
}

// parseISOTime parses an ISO-8601 timestamp, normalizing a trailing
// "Z" to an explicit UTC offset first.
func parseISOTime(v string) (time.Time, error) {
	if strings.HasSuffix(v, "Z") {
		v = strings.TrimSuffix(v, "Z") + "+00:00"
	}
	return time.Parse("2006-01-02T15:04:05-07:00", v)
}

func defaultLocation() *time.Location {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		return time.FixedZone("CST", 8*60*60)
	}
	return loc
}
