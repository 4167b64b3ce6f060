package ics

import (
	"errors"
	"strings"
	"testing"

	ical "github.com/arran4/golang-ical"

	"calimport/internal/model"
)

// lines joins content lines with CRLF, terminating the last one too.
func lines(ls ...string) string {
	return strings.Join(ls, "\r\n") + "\r\n"
}

var berlinTimezone = []string{
	"BEGIN:VTIMEZONE",
	"TZID:Europe/Berlin",
	"BEGIN:STANDARD",
	"DTSTART:19701025T030000",
	"TZOFFSETFROM:+0200",
	"TZOFFSETTO:+0100",
	"END:STANDARD",
	"END:VTIMEZONE",
}

// berlinDoc is a recurring event with one overridden instance, both
// referencing a time zone defined in the same file.
var berlinDoc = lines(append(append([]string{
	"BEGIN:VCALENDAR",
	"VERSION:2.0",
	"PRODID:-//calimport//test//EN",
}, berlinTimezone...),
	"BEGIN:VEVENT",
	"UID:standup",
	"DTSTART;TZID=Europe/Berlin:20250106T100000",
	"RRULE:FREQ=DAILY;COUNT=5",
	"SUMMARY:Standup",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:standup",
	"RECURRENCE-ID;TZID=Europe/Berlin:20250107T100000",
	"DTSTART;TZID=Europe/Berlin:20250107T110000",
	"SUMMARY:Standup (moved)",
	"END:VEVENT",
	"END:VCALENDAR",
)...)

const berlinXCal = `<?xml version="1.0" encoding="UTF-8"?>
<icalendar xmlns="urn:ietf:params:xml:ns:icalendar-2.0">
 <vcalendar>
  <properties>
   <prodid><text>-//calimport//test//EN</text></prodid>
   <version><text>2.0</text></version>
  </properties>
  <components>
   <vtimezone>
    <properties><tzid><text>Europe/Berlin</text></tzid></properties>
    <components>
     <standard>
      <properties>
       <dtstart><date-time>1970-10-25T03:00:00</date-time></dtstart>
       <tzoffsetfrom><utc-offset>+02:00</utc-offset></tzoffsetfrom>
       <tzoffsetto><utc-offset>+01:00</utc-offset></tzoffsetto>
      </properties>
     </standard>
    </components>
   </vtimezone>
   <vevent>
    <properties>
     <uid><text>standup</text></uid>
     <dtstart>
      <parameters><tzid><text>Europe/Berlin</text></tzid></parameters>
      <date-time>2025-01-06T10:00:00</date-time>
     </dtstart>
     <rrule><recur><freq>DAILY</freq><count>5</count></recur></rrule>
     <summary><text>Standup</text></summary>
    </properties>
   </vevent>
   <vevent>
    <properties>
     <uid><text>standup</text></uid>
     <recurrence-id>
      <parameters><tzid><text>Europe/Berlin</text></tzid></parameters>
      <date-time>2025-01-07T10:00:00</date-time>
     </recurrence-id>
     <dtstart>
      <parameters><tzid><text>Europe/Berlin</text></tzid></parameters>
      <date-time>2025-01-07T11:00:00</date-time>
     </dtstart>
     <summary><text>Standup (moved)</text></summary>
    </properties>
   </vevent>
  </components>
 </vcalendar>
</icalendar>
`

const berlinJCal = `["vcalendar",
  [["version", {}, "text", "2.0"], ["prodid", {}, "text", "-//calimport//test//EN"]],
  [
    ["vtimezone", [["tzid", {}, "text", "Europe/Berlin"]], [
      ["standard", [
        ["dtstart", {}, "date-time", "1970-10-25T03:00:00"],
        ["tzoffsetfrom", {}, "utc-offset", "+02:00"],
        ["tzoffsetto", {}, "utc-offset", "+01:00"]
      ], []]
    ]],
    ["vevent", [
      ["uid", {}, "text", "standup"],
      ["dtstart", {"tzid": "Europe/Berlin"}, "date-time", "2025-01-06T10:00:00"],
      ["rrule", {}, "recur", {"freq": "DAILY", "count": 5}],
      ["summary", {}, "text", "Standup"]
    ], []],
    ["vevent", [
      ["uid", {}, "text", "standup"],
      ["recurrence-id", {"tzid": "Europe/Berlin"}, "date-time", "2025-01-07T10:00:00"],
      ["dtstart", {"tzid": "Europe/Berlin"}, "date-time", "2025-01-07T11:00:00"],
      ["summary", {}, "text", "Standup (moved)"]
    ], []],
    ["vtodo", [["summary", {}, "text", "No UID"]], []]
  ]
]`

// collect drains an object sequence.
func collect(seq func(yield func(*model.Object, error) bool)) (objs []*model.Object, errs []error) {
	for obj, err := range seq {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		objs = append(objs, obj)
	}
	return objs, errs
}

// countComponents returns the number of events and time zones in cal.
func countComponents(cal *ical.Calendar) (events, timezones int) {
	for _, c := range cal.Components {
		switch c.(type) {
		case *ical.VEvent:
			events++
		case *ical.VTimezone:
			timezones++
		}
	}
	return events, timezones
}

func textEngine(t *testing.T, doc string, policy model.ErrorPolicy) *Engine {
	t.Helper()
	idx, err := ScanText(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("ScanText: %v", err)
	}
	return &Engine{
		Index:     idx,
		Extractor: NewExtractor(strings.NewReader(doc)),
		Envelope:  TextEnvelope(idx),
		Parser:    TextParser,
		Errors:    policy,
	}
}

var errBroken = errors.New("broken source")

// errReader fails every read.
type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errBroken }

// badSeeker reads fine but cannot seek.
type badSeeker struct{ *strings.Reader }

func (badSeeker) Seek(int64, int) (int64, error) { return 0, errBroken }
