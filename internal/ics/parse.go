package ics

import (
	"bytes"
	"encoding/xml"
	"strings"

	ical "github.com/arran4/golang-ical"

	"calimport/internal/model"
)

// Parser turns one self-contained calendar document into a calendar
// object. It is the full-grammar parser the reassembly engine delegates
// to.
type Parser interface {
	Parse(doc []byte) (*ical.Calendar, error)
}

// ParserFunc adapts a function to the Parser interface.
type ParserFunc func(doc []byte) (*ical.Calendar, error)

func (f ParserFunc) Parse(doc []byte) (*ical.Calendar, error) {
	return f(doc)
}

var (
	// TextParser parses iCalendar text.
	TextParser Parser = ParserFunc(parseText)
	// XCalParser parses xCal documents.
	XCalParser Parser = ParserFunc(parseXCal)
)

func parseText(doc []byte) (*ical.Calendar, error) {
	return ical.ParseCalendar(bytes.NewReader(doc))
}

func parseXCal(doc []byte) (*ical.Calendar, error) {
	text, err := TranscodeXCal(bytes.NewReader(doc))
	if err != nil {
		return nil, err
	}
	return parseText(text)
}

// Envelope is the constant prefix and suffix that make an extracted
// fragment a standalone document.
type Envelope struct {
	Prefix []byte
	Suffix []byte
}

// Wrap returns prefix + body + suffix.
func (e Envelope) Wrap(body []byte) []byte {
	doc := make([]byte, 0, len(e.Prefix)+len(body)+len(e.Suffix))
	doc = append(doc, e.Prefix...)
	doc = append(doc, body...)
	return append(doc, e.Suffix...)
}

const xcalNamespace = "urn:ietf:params:xml:ns:icalendar-2.0"

// TextEnvelope builds the iCalendar envelope, carrying the calendar-level
// lines captured by the text scanner.
func TextEnvelope(idx *model.Index) Envelope {
	var b bytes.Buffer
	b.WriteString("BEGIN:VCALENDAR\r\n")
	for _, line := range idx.RootLines() {
		b.WriteString(line)
		if !strings.HasSuffix(line, "\n") {
			b.WriteString("\r\n")
		}
	}
	return Envelope{
		Prefix: b.Bytes(),
		Suffix: []byte("END:VCALENDAR\r\n"),
	}
}

// XMLEnvelope builds the xCal envelope. Calendar-level properties recorded
// by the XML scanner are pulled from the source with x.
func XMLEnvelope(idx *model.Index, x *Extractor) (Envelope, error) {
	root, err := x.ExtractSpans(idx.RootSpans())
	if err != nil {
		return Envelope{}, err
	}

	var b bytes.Buffer
	b.WriteString(xml.Header)
	b.WriteString(`<icalendar xmlns="` + xcalNamespace + `"><vcalendar>`)
	b.Write(root)
	b.WriteString("<components>")

	return Envelope{
		Prefix: b.Bytes(),
		Suffix: []byte("</components></vcalendar></icalendar>\n"),
	}, nil
}

// propertyValue returns the value of the first property called name.
func propertyValue(props []ical.IANAProperty, name string) string {
	for _, p := range props {
		if strings.EqualFold(p.IANAToken, name) {
			return strings.TrimSpace(p.Value)
		}
	}
	return ""
}

// componentProperties returns the properties and type of an event-like
// component. ok is false for time zones and anything unrecognized.
func componentProperties(c ical.Component) (props []ical.IANAProperty, t model.ComponentType, ok bool) {
	switch v := c.(type) {
	case *ical.VEvent:
		return v.Properties, model.ComponentEvent, true
	case *ical.VTodo:
		return v.Properties, model.ComponentTodo, true
	case *ical.VJournal:
		return v.Properties, model.ComponentJournal, true
	default:
		return nil, "", false
	}
}
