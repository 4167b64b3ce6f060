package model

import (
	"fmt"
	"strings"

	ical "github.com/arran4/golang-ical"
)

// ComponentType names one of the calendar component types tracked by the
// structural scanners.
type ComponentType string

const (
	ComponentCalendar ComponentType = "VCALENDAR"
	ComponentEvent    ComponentType = "VEVENT"
	ComponentTodo     ComponentType = "VTODO"
	ComponentJournal  ComponentType = "VJOURNAL"
	ComponentTimezone ComponentType = "VTIMEZONE"
)

// ObjectComponentTypes are the event-like component types that become
// standalone calendar objects, in reassembly order.
var ObjectComponentTypes = []ComponentType{
	ComponentEvent,
	ComponentTodo,
	ComponentJournal,
}

// ParseComponentType recognizes the four component type names. The match is
// case-insensitive; VCALENDAR is not a component and is not recognized.
func ParseComponentType(name string) (ComponentType, bool) {
	switch t := ComponentType(strings.ToUpper(strings.TrimSpace(name))); t {
	case ComponentEvent, ComponentTodo, ComponentJournal, ComponentTimezone:
		return t, true
	default:
		return "", false
	}
}

// IdentifyingProperty returns the property whose value keys a component:
// TZID for time zones, UID for everything else.
func IdentifyingProperty(t ComponentType) string {
	if t == ComponentTimezone {
		return "TZID"
	}
	return "UID"
}

// Object is one reassembled calendar object: all fragments sharing a key
// (or a single anonymous fragment), parsed, with the time zones it
// references attached.
type Object struct {
	Type ComponentType
	// Key is the UID (or TZID) shared by the fragments. Empty for anonymous
	// fragments.
	Key string
	// Fragments is the number of source fragments merged into Calendar.
	Fragments int

	Calendar *ical.Calendar

	// Timezones lists the TZIDs attached during reassembly.
	Timezones []string
}

// Anonymous reports whether the object came from a fragment without an
// identifying property.
func (o *Object) Anonymous() bool {
	return o.Key == ""
}

func (o *Object) String() string {
	if o.Anonymous() {
		return fmt.Sprintf("%s(anonymous)", o.Type)
	}
	return fmt.Sprintf("%s(%s)", o.Type, o.Key)
}
