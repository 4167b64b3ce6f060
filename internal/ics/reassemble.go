package ics

import (
	"errors"
	"iter"

	ical "github.com/arran4/golang-ical"

	appLog "calimport/internal/log"
	"calimport/internal/model"
)

// Engine reassembles calendar objects from a structural index. All spans
// under one key are pulled from the source, concatenated in source order,
// wrapped in the envelope and parsed; referenced time zones are then
// attached by copy.
type Engine struct {
	Index     *model.Index
	Extractor *Extractor
	Envelope  Envelope
	Parser    Parser
	// Errors decides whether a fragment the parser rejects ends the
	// sequence (ErrorsFail) or is reported and skipped (ErrorsContinue).
	Errors model.ErrorPolicy
}

// Objects returns the lazy sequence of reassembled objects. Time zones are
// resolved first; then VEVENT, VTODO and VJOURNAL groups follow in that
// order, keyed groups in first-seen order before anonymous fragments.
//
// A per-object failure is yielded as an *ObjectError. I/O and extraction
// failures are yielded and end the sequence regardless of the policy.
// The sequence is single-use and must not be consumed concurrently with
// other reads of the same source.
func (e *Engine) Objects() iter.Seq2[*model.Object, error] {
	return func(yield func(*model.Object, error) bool) {
		zones := make(map[string]*ical.VTimezone)

		if g := e.Index.Group(model.ComponentTimezone); g != nil {
			for _, key := range g.Keys() {
				cal, err := e.parse(model.ComponentTimezone, key, g.Spans(key))
				if err != nil {
					if !e.emit(yield, nil, err) {
						return
					}
					continue
				}
				tz := firstTimezone(cal)
				if tz == nil {
					appLog.Debug("ics time zone fragment without VTIMEZONE", "tzid", key)
					continue
				}
				zones[key] = tz
			}
			if n := len(g.Anonymous()); n > 0 {
				appLog.Debug("ics skipping time zones without TZID", "count", n)
			}
		}

		for _, t := range model.ObjectComponentTypes {
			g := e.Index.Group(t)
			if g == nil {
				continue
			}
			for _, key := range g.Keys() {
				obj, err := e.assemble(t, key, g.Spans(key), zones)
				if !e.emit(yield, obj, err) {
					return
				}
			}
			for _, span := range g.Anonymous() {
				obj, err := e.assemble(t, "", []model.FragmentSpan{span}, zones)
				if !e.emit(yield, obj, err) {
					return
				}
			}
		}
	}
}

// emit hands one result to the consumer and reports whether to go on.
func (e *Engine) emit(yield func(*model.Object, error) bool, obj *model.Object, err error) bool {
	if err == nil {
		return yield(obj, nil)
	}

	var oe *ObjectError
	if !errors.As(err, &oe) {
		yield(nil, err)
		return false
	}
	appLog.Error("ics reassembly failed", err, "type", oe.Type, "key", oe.Key, "policy", e.Errors)
	if !yield(nil, err) {
		return false
	}
	return e.Errors == model.ErrorsContinue
}

func (e *Engine) parse(t model.ComponentType, key string, spans []model.FragmentSpan) (*ical.Calendar, error) {
	body, err := e.Extractor.ExtractSpans(spans)
	if err != nil {
		return nil, err
	}
	cal, err := e.Parser.Parse(e.Envelope.Wrap(body))
	if err != nil {
		return nil, &ObjectError{Type: t, Key: key, Err: newError("parse", ErrStructure, spans[0].Start, err)}
	}
	return cal, nil
}

func (e *Engine) assemble(t model.ComponentType, key string, spans []model.FragmentSpan, zones map[string]*ical.VTimezone) (*model.Object, error) {
	cal, err := e.parse(t, key, spans)
	if err != nil {
		return nil, err
	}
	attached, err := attachTimezones(cal, zones)
	if err != nil {
		return nil, &ObjectError{Type: t, Key: key, Err: newError("attach", ErrStructure, spans[0].Start, err)}
	}

	appLog.Debug("ics object reassembled",
		"type", t,
		"key", key,
		"fragments", len(spans),
		"timezones", len(attached),
	)
	return &model.Object{
		Type:      t,
		Key:       key,
		Fragments: len(spans),
		Calendar:  cal,
		Timezones: attached,
	}, nil
}
