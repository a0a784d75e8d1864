package model

import (
	"bytes"
	"strconv"
)

// FlexInt decodes a JSON value that the portal serves inconsistently as
// either a number or a quoted string ("5" vs 5). A null or empty value
// decodes to zero.
type FlexInt int

func (f *FlexInt) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(string(data))
	if err != nil {
		return err
	}
	*f = FlexInt(n)
	return nil
}

// ScheduleRecord is one raw class-meeting record as returned by the
// academic portal's per-day schedule endpoint. Field tags follow the
// portal's own (pinyin-abbreviated) JSON keys.
type ScheduleRecord struct {
	// Period is the class-slot index within the day (KSJC). Only odd
	// slots 1..11 correspond to actual meeting times.
	Period FlexInt `json:"KSJC"`
	// Course is the course name (KCMC).
	Course string `json:"KCMC"`
	// Date is the meeting date in YYYY-MM-DD form (SJ).
	Date string `json:"SJ"`
	// Room is the (abbreviated) room/location string (NR).
	Room string `json:"NR"`
	// Title is the portal's composite title payload (BT); the teacher
	// name is embedded after the first colon.
	Title string `json:"BT"`
}

// ScheduleDay pairs a date with whatever records were obtained for it.
// Records is empty (never nil for a successful decode) when the day has
// no meetings or its fetch failed.
type ScheduleDay struct {
	Date    string
	Records []ScheduleRecord
}

// CalendarEvent is one raw event from the learning portal's calendar
// endpoint: a deadline or a scheduled course event.
type CalendarEvent struct {
	Title        string `json:"title"`
	StartDate    string `json:"startDate"`
	EndDate      string `json:"endDate"`
	CalendarName string `json:"calendarName"`
	EventType    string `json:"eventType"`
}
