package model

import (
	"slices"
	"testing"
)

func TestIndexGroups(t *testing.T) {
	x := NewIndex()
	x.Add(FragmentSpan{Type: ComponentEvent, Key: "b", Start: 0, End: 10})
	x.Add(FragmentSpan{Type: ComponentEvent, Key: "a", Start: 10, End: 20})
	x.Add(FragmentSpan{Type: ComponentEvent, Start: 20, End: 25})
	x.Add(FragmentSpan{Type: ComponentEvent, Key: "b", Start: 25, End: 40})
	x.Add(FragmentSpan{Type: ComponentTimezone, Key: "Europe/Berlin", Start: 40, End: 60})

	g := x.Group(ComponentEvent)
	if g == nil {
		t.Fatal("no VEVENT group")
	}
	if want := []string{"b", "a"}; !slices.Equal(g.Keys(), want) {
		t.Errorf("Keys()=%v, want %v", g.Keys(), want)
	}
	if spans := g.Spans("b"); len(spans) != 2 || spans[0].Start != 0 || spans[1].Start != 25 {
		t.Errorf("Spans(b)=%+v", spans)
	}
	if len(g.Anonymous()) != 1 || g.Len() != 4 {
		t.Errorf("Anonymous=%d Len=%d", len(g.Anonymous()), g.Len())
	}
	if x.Group(ComponentTodo) != nil {
		t.Error("unexpected VTODO group")
	}
	if x.Count() != 5 {
		t.Errorf("Count()=%d, want 5", x.Count())
	}
	if n := g.Spans("b")[1].Len(); n != 15 {
		t.Errorf("Len()=%d, want 15", n)
	}
}

func TestParseComponentType(t *testing.T) {
	tests := []struct {
		in   string
		want ComponentType
		ok   bool
	}{
		{"VEVENT", ComponentEvent, true},
		{"vtodo", ComponentTodo, true},
		{" VJournal ", ComponentJournal, true},
		{"VTIMEZONE", ComponentTimezone, true},
		{"VCALENDAR", "", false},
		{"VALARM", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseComponentType(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseComponentType(%q)=%q,%v want %q,%v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
	if IdentifyingProperty(ComponentTimezone) != "TZID" || IdentifyingProperty(ComponentEvent) != "UID" {
		t.Error("IdentifyingProperty mismatch")
	}
}

func TestParseOptions(t *testing.T) {
	if f, err := ParseFormat("application/calendar+xml"); err != nil || f != FormatXCal {
		t.Errorf("ParseFormat xml=%q,%v", f, err)
	}
	if _, err := ParseFormat("vcard"); err == nil {
		t.Error("ParseFormat accepted vcard")
	}
	if p, err := ParseErrorPolicy(""); err != nil || p != ErrorsFail {
		t.Errorf("ParseErrorPolicy default=%v,%v", p, err)
	}
	if m, err := ParseValidationMode("FAIL"); err != nil || m != ValidateFail {
		t.Errorf("ParseValidationMode=%v,%v", m, err)
	}

	r := &Result{Objects: []ObjectResult{
		{Outcome: OutcomeCreated}, {Outcome: OutcomeCreated}, {Outcome: OutcomeInvalid},
	}}
	if r.Count(OutcomeCreated) != 2 || r.Count(OutcomeExists) != 0 {
		t.Errorf("Count mismatch: %+v", r)
	}
}
