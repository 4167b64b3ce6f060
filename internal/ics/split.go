package ics

import (
	"iter"
	"slices"

	ical "github.com/arran4/golang-ical"

	appLog "calimport/internal/log"
	"calimport/internal/model"
)

// SplitCalendar splits an already parsed calendar into standalone objects
// the way Engine.Objects splits a scanned source: components sharing a UID
// are merged, each object carries the calendar-level properties and copies
// of the time zones it references, and the order is VEVENT, VTODO,
// VJOURNAL with keyed objects before anonymous ones.
func SplitCalendar(cal *ical.Calendar) iter.Seq2[*model.Object, error] {
	return func(yield func(*model.Object, error) bool) {
		zones := make(map[string]*ical.VTimezone)
		type group struct {
			keys      []string
			byKey     map[string][]ical.Component
			anonymous []ical.Component
		}
		groups := make(map[model.ComponentType]*group)

		for _, c := range cal.Components {
			if tz, ok := c.(*ical.VTimezone); ok {
				if tzid := timezoneID(tz); tzid != "" {
					if _, seen := zones[tzid]; !seen {
						zones[tzid] = tz
					}
				}
				continue
			}
			props, t, ok := componentProperties(c)
			if !ok {
				continue
			}
			g, ok := groups[t]
			if !ok {
				g = &group{byKey: make(map[string][]ical.Component)}
				groups[t] = g
			}
			uid := propertyValue(props, "UID")
			if uid == "" {
				g.anonymous = append(g.anonymous, c)
				continue
			}
			if _, ok := g.byKey[uid]; !ok {
				g.keys = append(g.keys, uid)
			}
			g.byKey[uid] = append(g.byKey[uid], c)
		}

		build := func(t model.ComponentType, key string, comps []ical.Component) (*model.Object, error) {
			out := &ical.Calendar{
				CalendarProperties: cloneCalendarProperties(cal.CalendarProperties),
				Components:         slices.Clone(comps),
			}
			attached, err := attachTimezones(out, zones)
			if err != nil {
				return nil, &ObjectError{Type: t, Key: key, Err: newError("attach", ErrStructure, -1, err)}
			}
			return &model.Object{
				Type:      t,
				Key:       key,
				Fragments: len(comps),
				Calendar:  out,
				Timezones: attached,
			}, nil
		}

		n := 0
		for _, t := range model.ObjectComponentTypes {
			g := groups[t]
			if g == nil {
				continue
			}
			for _, key := range g.keys {
				obj, err := build(t, key, g.byKey[key])
				if !yield(obj, err) {
					return
				}
				n++
			}
			for _, c := range g.anonymous {
				obj, err := build(t, "", []ical.Component{c})
				if !yield(obj, err) {
					return
				}
				n++
			}
		}
		appLog.Debug("ics calendar split", "objects", n, "timezones", len(zones))
	}
}

// cloneCalendarProperties copies props including their parameter maps, so
// split objects share no mutable state.
func cloneCalendarProperties(props []ical.CalendarProperty) []ical.CalendarProperty {
	out := make([]ical.CalendarProperty, len(props))
	for i, p := range props {
		out[i] = p
		if p.ICalParameters == nil {
			continue
		}
		params := make(map[string][]string, len(p.ICalParameters))
		for k, v := range p.ICalParameters {
			params[k] = slices.Clone(v)
		}
		out[i].ICalParameters = params
	}
	return out
}
