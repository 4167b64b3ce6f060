package model

import (
	"fmt"
	"strings"
)

// Format identifies the serialization of an import source.
type Format string

const (
	FormatICal Format = "ical"
	FormatXCal Format = "xcal"
	FormatJCal Format = "jcal"
)

// ParseFormat accepts the three format identifiers plus a few common
// aliases (file extensions and media type suffixes).
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ical", "ics", "text", "text/calendar":
		return FormatICal, nil
	case "xcal", "xml", "application/calendar+xml":
		return FormatXCal, nil
	case "jcal", "json", "application/calendar+json":
		return FormatJCal, nil
	default:
		return "", fmt.Errorf("unknown import format %q", s)
	}
}

// ErrorPolicy decides what happens when one object fails to reassemble or
// store.
type ErrorPolicy int

const (
	// ErrorsFail aborts the import on the first failed object.
	ErrorsFail ErrorPolicy = iota
	// ErrorsContinue records the failure and moves on.
	ErrorsContinue
)

func (p ErrorPolicy) String() string {
	switch p {
	case ErrorsFail:
		return "fail"
	case ErrorsContinue:
		return "continue"
	default:
		return fmt.Sprintf("ErrorPolicy(%d)", int(p))
	}
}

// ParseErrorPolicy parses "fail" or "continue".
func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fail", "":
		return ErrorsFail, nil
	case "continue", "skip":
		return ErrorsContinue, nil
	default:
		return 0, fmt.Errorf("unknown error policy %q", s)
	}
}

// ValidationMode decides whether reassembled objects are validated before
// they are stored.
type ValidationMode int

const (
	ValidateNone ValidationMode = iota
	// ValidateSkip drops invalid objects and records them as invalid.
	ValidateSkip
	// ValidateFail aborts the import on the first invalid object.
	ValidateFail
)

func (m ValidationMode) String() string {
	switch m {
	case ValidateNone:
		return "none"
	case ValidateSkip:
		return "skip"
	case ValidateFail:
		return "fail"
	default:
		return fmt.Sprintf("ValidationMode(%d)", int(m))
	}
}

// ParseValidationMode parses "none", "skip" or "fail".
func ParseValidationMode(s string) (ValidationMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "":
		return ValidateNone, nil
	case "skip":
		return ValidateSkip, nil
	case "fail":
		return ValidateFail, nil
	default:
		return 0, fmt.Errorf("unknown validation mode %q", s)
	}
}

// ImportOptions is handed to the destination together with the object
// sequence.
type ImportOptions struct {
	Format Format
	// Calendar names the destination calendar collection.
	Calendar string
	// Supersede replaces objects whose UID already exists instead of
	// reporting them as existing.
	Supersede  bool
	Errors     ErrorPolicy
	Validation ValidationMode
}

// Outcome is what happened to one object.
type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomeUpdated Outcome = "updated"
	OutcomeExists  Outcome = "exists"
	OutcomeInvalid Outcome = "invalid"
	OutcomeError   Outcome = "error"
)

// ObjectResult reports the outcome for one object.
type ObjectResult struct {
	Type    ComponentType `json:"type,omitempty"`
	Key     string        `json:"key,omitempty"`
	URI     string        `json:"uri,omitempty"`
	Outcome Outcome       `json:"outcome"`
	Errors  []string      `json:"errors,omitempty"`
}

// Result is the per-object report of one import.
type Result struct {
	Objects []ObjectResult `json:"objects"`
}

// Count returns how many objects ended with outcome o.
func (r *Result) Count(o Outcome) int {
	n := 0
	for _, obj := range r.Objects {
		if obj.Outcome == o {
			n++
		}
	}
	return n
}
