// Package validate checks reassembled objects against the rules a
// calendar collection imposes on its resources (RFC 4791 section 4.1) and
// a few value-level checks.
package validate

import (
	"errors"
	"fmt"
	"strings"
	"time"

	goical "github.com/emersion/go-ical"
	"github.com/teambition/rrule-go"

	"calimport/internal/model"
)

// Error lists every problem found in one object.
type Error struct {
	Type     model.ComponentType
	Key      string
	Problems []string
}

func (e *Error) Error() string {
	key := e.Key
	if key == "" {
		key = "anonymous"
	}
	return fmt.Sprintf("validate: %s %q: %s", e.Type, key, strings.Join(e.Problems, "; "))
}

// ProblemList returns the individual findings.
func (e *Error) ProblemList() []string {
	return e.Problems
}

var dateProperties = []string{"DTSTART", "DTEND", "DUE", "RECURRENCE-ID", "EXDATE", "RDATE"}

// Object validates obj. The serialized object is decoded again by an
// independent parser, so anything that only one parser tolerates is
// caught here. It returns nil or an *Error.
func Object(obj *model.Object) error {
	if obj == nil || obj.Calendar == nil {
		return errors.New("validate: nil object")
	}
	e := &Error{Type: obj.Type, Key: obj.Key}

	cal, err := goical.NewDecoder(strings.NewReader(obj.Calendar.Serialize())).Decode()
	if err != nil {
		e.Problems = append(e.Problems, fmt.Sprintf("decode: %v", err))
		return e
	}

	var (
		compType string
		uid      string
		count    int
	)
	for _, comp := range cal.Children {
		if comp.Name == goical.CompTimezone {
			if comp.Props.Get(goical.PropTimezoneID) == nil {
				e.Problems = append(e.Problems, "VTIMEZONE without TZID")
			}
			continue
		}
		count++
		if compType == "" {
			compType = comp.Name
		} else if comp.Name != compType {
			e.Problems = append(e.Problems, fmt.Sprintf("conflicting component types: %s, %s", compType, comp.Name))
		}

		compUID, err := comp.Props.Text(goical.PropUID)
		if err != nil {
			e.Problems = append(e.Problems, fmt.Sprintf("UID: %v", err))
		}
		switch {
		case uid == "":
			uid = compUID
		case compUID != "" && compUID != uid:
			e.Problems = append(e.Problems, fmt.Sprintf("conflicting UID values: %s, %s", uid, compUID))
		}

		e.Problems = append(e.Problems, checkComponent(comp)...)
	}
	if count == 0 {
		e.Problems = append(e.Problems, "no calendar component")
	}

	if len(e.Problems) > 0 {
		return e
	}
	return nil
}

func checkComponent(comp *goical.Component) []string {
	var problems []string
	if comp.Name == goical.CompEvent && comp.Props.Get(goical.PropDateTimeStart) == nil {
		problems = append(problems, "VEVENT without DTSTART")
	}

	for _, name := range dateProperties {
		for _, p := range comp.Props.Values(name) {
			if strings.EqualFold(p.Params.Get(goical.ParamValue), "PERIOD") {
				continue
			}
			for _, v := range strings.Split(p.Value, ",") {
				if _, err := parseICSTime(v); err != nil {
					problems = append(problems, fmt.Sprintf("%s %q: %v", name, v, err))
				}
			}
		}
	}

	for _, p := range comp.Props.Values(goical.PropRecurrenceRule) {
		if _, err := rrule.StrToRRule(p.Value); err != nil {
			problems = append(problems, fmt.Sprintf("RRULE %q: %v", p.Value, err))
		}
	}
	return problems
}

// parseICSTime parses the DATE and DATE-TIME forms of iCalendar values.
// Floating and TZID-qualified times are read as local time; only the
// syntax matters here.
func parseICSTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}

	// 20250101T090000Z
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}
	// 20250101T090000
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, time.Local)
	}
	// 20250101
	return time.ParseInLocation("20060102", v, time.Local)
}
