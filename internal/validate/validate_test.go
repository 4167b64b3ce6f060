package validate

import (
	"errors"
	"strings"
	"testing"

	ical "github.com/arran4/golang-ical"

	"calimport/internal/model"
)

func object(t *testing.T, typ model.ComponentType, key string, body ...string) *model.Object {
	t.Helper()
	text := "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//calimport//test//EN\r\n" +
		strings.Join(body, "\r\n") + "\r\nEND:VCALENDAR\r\n"
	cal, err := ical.ParseCalendar(strings.NewReader(text))
	if err != nil {
		t.Fatal(err)
	}
	return &model.Object{Type: typ, Key: key, Calendar: cal}
}

func TestObjectValid(t *testing.T) {
	tests := []struct {
		name string
		obj  *model.Object
	}{
		{
			name: "recurring event",
			obj: object(t, model.ComponentEvent, "a",
				"BEGIN:VEVENT",
				"UID:a",
				"DTSTART;TZID=Europe/Berlin:20250106T100000",
				"RRULE:FREQ=WEEKLY;BYDAY=MO,WE;COUNT=10",
				"EXDATE;TZID=Europe/Berlin:20250108T100000,20250113T100000",
				"END:VEVENT",
				"BEGIN:VEVENT",
				"UID:a",
				"RECURRENCE-ID;TZID=Europe/Berlin:20250107T100000",
				"DTSTART:20250107T110000Z",
				"END:VEVENT",
			),
		},
		{
			name: "all-day event",
			obj: object(t, model.ComponentEvent, "b",
				"BEGIN:VEVENT", "UID:b", "DTSTART;VALUE=DATE:20250101", "DTEND;VALUE=DATE:20250102", "END:VEVENT"),
		},
		{
			name: "todo without dates",
			obj:  object(t, model.ComponentTodo, "c", "BEGIN:VTODO", "UID:c", "SUMMARY:x", "END:VTODO"),
		},
		{
			name: "period rdate",
			obj: object(t, model.ComponentEvent, "d",
				"BEGIN:VEVENT", "UID:d", "DTSTART:20250101T100000Z", "RDATE;VALUE=PERIOD:20250102T100000Z/PT1H", "END:VEVENT"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Object(tt.obj); err != nil {
				t.Errorf("Object: %v", err)
			}
		})
	}
}

func TestObjectInvalid(t *testing.T) {
	tests := []struct {
		name string
		obj  *model.Object
		want string
	}{
		{
			name: "event without start",
			obj:  object(t, model.ComponentEvent, "a", "BEGIN:VEVENT", "UID:a", "SUMMARY:x", "END:VEVENT"),
			want: "VEVENT without DTSTART",
		},
		{
			name: "bad rrule",
			obj: object(t, model.ComponentEvent, "a",
				"BEGIN:VEVENT", "UID:a", "DTSTART:20250101T100000Z", "RRULE:FREQ=SOMETIMES", "END:VEVENT"),
			want: "RRULE",
		},
		{
			name: "bad date",
			obj: object(t, model.ComponentEvent, "a",
				"BEGIN:VEVENT", "UID:a", "DTSTART:2025-01-01", "END:VEVENT"),
			want: "DTSTART",
		},
		{
			name: "mixed component types",
			obj: object(t, model.ComponentEvent, "a",
				"BEGIN:VEVENT", "UID:a", "DTSTART:20250101T100000Z", "END:VEVENT",
				"BEGIN:VTODO", "UID:a", "END:VTODO"),
			want: "conflicting component types",
		},
		{
			name: "mixed uids",
			obj: object(t, model.ComponentEvent, "a",
				"BEGIN:VEVENT", "UID:a", "DTSTART:20250101T100000Z", "END:VEVENT",
				"BEGIN:VEVENT", "UID:b", "DTSTART:20250101T100000Z", "END:VEVENT"),
			want: "conflicting UID values",
		},
		{
			name: "only a time zone",
			obj: object(t, model.ComponentEvent, "a",
				"BEGIN:VTIMEZONE", "TZID:Europe/Berlin",
				"BEGIN:STANDARD", "DTSTART:19701025T030000", "TZOFFSETFROM:+0200", "TZOFFSETTO:+0100", "END:STANDARD",
				"END:VTIMEZONE"),
			want: "no calendar component",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Object(tt.obj)
			var verr *Error
			if !errors.As(err, &verr) {
				t.Fatalf("err=%v, want *Error", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err=%v, want mention of %q", err, tt.want)
			}
			if len(verr.ProblemList()) == 0 {
				t.Error("no problems listed")
			}
		})
	}
}

func TestParseICSTime(t *testing.T) {
	for _, v := range []string{"20250101T090000Z", "20250101T090000", "20250101", " 20250101 "} {
		if _, err := parseICSTime(v); err != nil {
			t.Errorf("parseICSTime(%q): %v", v, err)
		}
	}
	for _, v := range []string{"", "2025-01-01", "20250101T0900", "tomorrow"} {
		if _, err := parseICSTime(v); err == nil {
			t.Errorf("parseICSTime(%q) succeeded", v)
		}
	}
}
