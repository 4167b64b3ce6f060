package ics

import (
	"errors"
	"slices"
	"strings"

	ical "github.com/arran4/golang-ical"
)

// Properties whose TZID parameter pulls a VTIMEZONE into an object.
var timezoneBearingProperties = []string{"DTSTART", "DTEND", "DUE", "RDATE", "EXDATE"}

// referencedTimezones collects the TZID parameters of date/time properties
// on the top-level event-like components of cal, deduplicated, in the order
// first seen.
func referencedTimezones(cal *ical.Calendar) []string {
	var out []string
	for _, c := range cal.Components {
		props, _, ok := componentProperties(c)
		if !ok {
			continue
		}
		for _, p := range props {
			if !slices.Contains(timezoneBearingProperties, strings.ToUpper(p.IANAToken)) {
				continue
			}
			for name, values := range p.ICalParameters {
				if !strings.EqualFold(name, "TZID") {
					continue
				}
				for _, v := range values {
					v = strings.Trim(strings.TrimSpace(v), `"`)
					if v != "" && !slices.Contains(out, v) {
						out = append(out, v)
					}
				}
			}
		}
	}
	return out
}

func timezoneID(tz *ical.VTimezone) string {
	return propertyValue(tz.Properties, "TZID")
}

func firstTimezone(cal *ical.Calendar) *ical.VTimezone {
	for _, c := range cal.Components {
		if tz, ok := c.(*ical.VTimezone); ok {
			return tz
		}
	}
	return nil
}

func hasTimezone(cal *ical.Calendar, tzid string) bool {
	for _, c := range cal.Components {
		if tz, ok := c.(*ical.VTimezone); ok && timezoneID(tz) == tzid {
			return true
		}
	}
	return false
}

// cloneTimezone returns a deep copy of tz that shares no state with it.
func cloneTimezone(tz *ical.VTimezone) (*ical.VTimezone, error) {
	doc := (&ical.Calendar{Components: []ical.Component{tz}}).Serialize()
	cal, err := ical.ParseCalendar(strings.NewReader(doc))
	if err != nil {
		return nil, err
	}
	clone := firstTimezone(cal)
	if clone == nil {
		return nil, errors.New("time zone lost in copy")
	}
	return clone, nil
}

// attachTimezones prepends a copy of every known time zone referenced by
// cal and returns the attached TZIDs. Unknown references are ignored, as
// are time zones cal already carries.
func attachTimezones(cal *ical.Calendar, known map[string]*ical.VTimezone) ([]string, error) {
	var (
		attached []string
		clones   []ical.Component
	)
	for _, tzid := range referencedTimezones(cal) {
		tz, ok := known[tzid]
		if !ok || hasTimezone(cal, tzid) {
			continue
		}
		clone, err := cloneTimezone(tz)
		if err != nil {
			return nil, err
		}
		clones = append(clones, clone)
		attached = append(attached, tzid)
	}
	if len(clones) > 0 {
		cal.Components = append(clones, cal.Components...)
	}
	return attached, nil
}
