package ics

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	ical "github.com/arran4/golang-ical"
)

// ParseJCal parses a whole jCal document (RFC 7265). jCal has no
// structural scan: the document is decoded in one go and split in memory
// with SplitCalendar.
func ParseJCal(r io.Reader) (*ical.Calendar, error) {
	if r == nil {
		return nil, newError("parse", ErrInvalidArgument, -1, errors.New("nil source"))
	}
	rec := &readErrRecorder{r: r}
	text, err := TranscodeJCal(rec)
	if err != nil {
		if rec.err != nil {
			return nil, newError("parse", ErrIO, -1, rec.err)
		}
		return nil, newError("parse", ErrStructure, -1, err)
	}
	cal, err := parseText(text)
	if err != nil {
		return nil, newError("parse", ErrStructure, -1, err)
	}
	return cal, nil
}

// TranscodeJCal converts a jCal document into iCalendar text.
func TranscodeJCal(r io.Reader) ([]byte, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var doc []any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("jcal: %w", err)
	}
	if len(doc) == 0 || !strings.EqualFold(fmt.Sprint(doc[0]), "vcalendar") {
		return nil, errors.New("jcal: document is not a vcalendar")
	}

	w := &contentWriter{}
	if err := w.jcalComponent(doc); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func (w *contentWriter) jcalComponent(c []any) error {
	if len(c) != 3 {
		return fmt.Errorf("jcal: component has %d members, want 3", len(c))
	}
	name, ok := c[0].(string)
	if !ok {
		return errors.New("jcal: component name is not a string")
	}
	props, ok := c[1].([]any)
	if !ok {
		return fmt.Errorf("jcal: %s: properties are not an array", name)
	}
	subs, ok := c[2].([]any)
	if !ok {
		return fmt.Errorf("jcal: %s: components are not an array", name)
	}

	name = strings.ToUpper(name)
	w.line("BEGIN:" + name)
	for _, p := range props {
		arr, ok := p.([]any)
		if !ok {
			return fmt.Errorf("jcal: %s: property is not an array", name)
		}
		if err := w.jcalProperty(arr); err != nil {
			return err
		}
	}
	for _, s := range subs {
		arr, ok := s.([]any)
		if !ok {
			return fmt.Errorf("jcal: %s: subcomponent is not an array", name)
		}
		if err := w.jcalComponent(arr); err != nil {
			return err
		}
	}
	w.line("END:" + name)
	return nil
}

func (w *contentWriter) jcalProperty(p []any) error {
	if len(p) < 4 {
		return fmt.Errorf("jcal: property has %d members, want at least 4", len(p))
	}
	name, ok := p[0].(string)
	if !ok {
		return errors.New("jcal: property name is not a string")
	}
	rawParams, ok := p[1].(map[string]any)
	if !ok {
		return fmt.Errorf("jcal: %s: parameters are not an object", name)
	}
	typ, _ := p[2].(string)

	keys := make([]string, 0, len(rawParams))
	for k := range rawParams {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	params := make([]string, 0, len(keys))
	for _, k := range keys {
		var values []string
		switch v := rawParams[k].(type) {
		case []any:
			for _, item := range v {
				values = append(values, quoteParam(fmt.Sprint(item)))
			}
		default:
			values = append(values, quoteParam(fmt.Sprint(v)))
		}
		params = append(params, strings.ToUpper(k)+"="+strings.Join(values, ","))
	}

	values := make([]string, 0, len(p)-3)
	for _, v := range p[3:] {
		values = append(values, jcalValue(strings.ToLower(typ), v))
	}
	w.property(strings.ToUpper(name), params, strings.Join(values, ","))
	return nil
}

func jcalValue(typ string, v any) string {
	switch val := v.(type) {
	case string:
		switch typ {
		case "text":
			return escapeText(val)
		case "date-time", "date", "time", "utc-offset":
			return compactDateTime(val)
		case "period":
			start, rest, _ := strings.Cut(val, "/")
			if strings.HasPrefix(rest, "P") || strings.HasPrefix(rest, "-P") || strings.HasPrefix(rest, "+P") {
				return compactDateTime(start) + "/" + rest
			}
			return compactDateTime(start) + "/" + compactDateTime(rest)
		}
		return val
	case json.Number:
		return val.String()
	case bool:
		return strings.ToUpper(fmt.Sprint(val))
	case map[string]any:
		return jcalRecur(val)
	case []any:
		// Structured values (geo, request-status) and period arrays.
		if typ == "period" {
			parts := make([]string, 0, len(val))
			for _, item := range val {
				parts = append(parts, jcalValue("date-time", item))
			}
			return strings.Join(parts, "/")
		}
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, jcalValue(typ, item))
		}
		return strings.Join(parts, ";")
	case nil:
		return ""
	default:
		return fmt.Sprint(val)
	}
}

func jcalRecur(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var (
		order []string
		parts = make(map[string][]string, len(m))
	)
	for _, k := range keys {
		key := strings.ToUpper(k)
		order = append(order, key)
		var items []any
		if arr, ok := m[k].([]any); ok {
			items = arr
		} else {
			items = []any{m[k]}
		}
		for _, item := range items {
			s := jcalValue("", item)
			if key == "UNTIL" {
				s = compactDateTime(s)
			}
			parts[key] = append(parts[key], s)
		}
	}
	return joinRecur(order, parts)
}
