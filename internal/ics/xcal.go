package ics

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// xnode is a generic xCal element.
type xnode struct {
	XMLName  xml.Name
	Children []xnode `xml:",any"`
	Text     string  `xml:",chardata"`
}

func (n xnode) name() string {
	return strings.ToLower(n.XMLName.Local)
}

// TranscodeXCal converts an xCal document (RFC 6321) into iCalendar text.
func TranscodeXCal(r io.Reader) ([]byte, error) {
	var root xnode
	if err := xml.NewDecoder(r).Decode(&root); err != nil {
		return nil, fmt.Errorf("xcal: %w", err)
	}
	if root.name() != "icalendar" {
		return nil, fmt.Errorf("xcal: root element is <%s>, want <icalendar>", root.XMLName.Local)
	}

	w := &contentWriter{}
	found := false
	for _, c := range root.Children {
		if c.name() == "vcalendar" {
			w.xcalComponent(c)
			found = true
		}
	}
	if !found {
		return nil, fmt.Errorf("xcal: no <vcalendar> element")
	}
	return w.Bytes(), nil
}

func (w *contentWriter) xcalComponent(n xnode) {
	name := strings.ToUpper(n.XMLName.Local)
	w.line("BEGIN:" + name)
	for _, c := range n.Children {
		switch c.name() {
		case "properties":
			for _, p := range c.Children {
				w.xcalProperty(p)
			}
		case "components":
			for _, sub := range c.Children {
				w.xcalComponent(sub)
			}
		}
	}
	w.line("END:" + name)
}

func (w *contentWriter) xcalProperty(p xnode) {
	var (
		params []string
		values []string
	)
	structured := structuredProperty(p.name())
	for _, c := range p.Children {
		switch {
		case c.name() == "parameters":
			for _, prm := range c.Children {
				params = append(params, xcalParameter(prm))
			}
		case structured:
			values = append(values, structuredPart(c))
		default:
			values = append(values, xcalValue(c))
		}
	}
	sep := ","
	if structured {
		sep = ";"
	}
	if len(values) == 0 {
		values = append(values, escapeText(strings.TrimSpace(p.Text)))
	}
	w.property(strings.ToUpper(p.XMLName.Local), params, strings.Join(values, sep))
}

// structuredProperty reports whether the property's value parts are direct
// children of the property element (<geo><latitude>, <request-status><code>)
// and join with ';' instead of ','.
func structuredProperty(name string) bool {
	return name == "geo" || name == "request-status"
}

func structuredPart(c xnode) string {
	switch c.name() {
	case "latitude", "longitude", "code":
		return strings.TrimSpace(c.Text)
	default:
		return escapeText(c.Text)
	}
}

func xcalParameter(prm xnode) string {
	var values []string
	for _, v := range prm.Children {
		values = append(values, quoteParam(strings.TrimSpace(v.Text)))
	}
	if len(values) == 0 {
		values = append(values, quoteParam(strings.TrimSpace(prm.Text)))
	}
	return strings.ToUpper(prm.XMLName.Local) + "=" + strings.Join(values, ",")
}

func xcalValue(v xnode) string {
	text := strings.TrimSpace(v.Text)
	switch v.name() {
	case "text":
		return escapeText(v.Text)
	case "date-time", "date", "time", "utc-offset":
		return compactDateTime(text)
	case "boolean":
		return strings.ToUpper(text)
	case "recur":
		return xcalRecur(v)
	case "period":
		var start, rest string
		for _, c := range v.Children {
			switch c.name() {
			case "start":
				start = compactDateTime(strings.TrimSpace(c.Text))
			case "end":
				rest = compactDateTime(strings.TrimSpace(c.Text))
			case "duration":
				rest = strings.TrimSpace(c.Text)
			}
		}
		return start + "/" + rest
	default:
		return text
	}
}

func xcalRecur(v xnode) string {
	var (
		order []string
		parts = make(map[string][]string)
	)
	for _, c := range v.Children {
		key := strings.ToUpper(c.XMLName.Local)
		val := strings.TrimSpace(c.Text)
		if key == "UNTIL" {
			val = compactDateTime(val)
		}
		if _, ok := parts[key]; !ok {
			order = append(order, key)
		}
		parts[key] = append(parts[key], val)
	}
	return joinRecur(order, parts)
}

// joinRecur renders recur parts with FREQ first.
func joinRecur(order []string, parts map[string][]string) string {
	var b strings.Builder
	if f, ok := parts["FREQ"]; ok {
		b.WriteString("FREQ=" + strings.Join(f, ","))
	}
	for _, key := range order {
		if key == "FREQ" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(";")
		}
		b.WriteString(key + "=" + strings.Join(parts[key], ","))
	}
	return b.String()
}

// contentWriter accumulates iCalendar content lines.
type contentWriter struct {
	buf bytes.Buffer
}

func (w *contentWriter) line(s string) {
	w.buf.WriteString(s)
	w.buf.WriteString("\r\n")
}

func (w *contentWriter) property(name string, params []string, value string) {
	var b strings.Builder
	b.WriteString(name)
	for _, p := range params {
		b.WriteString(";")
		b.WriteString(p)
	}
	b.WriteString(":")
	b.WriteString(value)
	w.line(b.String())
}

func (w *contentWriter) Bytes() []byte {
	return w.buf.Bytes()
}

// compactDateTime turns the extended ISO 8601 forms used by xCal and jCal
// (2025-01-01T10:00:00Z, -05:00) into the basic forms of iCalendar text.
func compactDateTime(s string) string {
	sign := ""
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		sign, s = s[:1], s[1:]
	}
	return sign + dateTimeCompactor.Replace(s)
}

var dateTimeCompactor = strings.NewReplacer("-", "", ":", "")

var textEscaper = strings.NewReplacer(
	`\`, `\\`,
	";", `\;`,
	",", `\,`,
	"\r\n", `\n`,
	"\n", `\n`,
)

func escapeText(s string) string {
	return textEscaper.Replace(s)
}

func quoteParam(s string) string {
	if strings.ContainsAny(s, ":;,") {
		return `"` + strings.ReplaceAll(s, `"`, "'") + `"`
	}
	return s
}
