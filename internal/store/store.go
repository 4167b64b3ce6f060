// Package store holds calendar objects imported into named calendars.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"iter"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"calimport/internal/ics"
	appLog "calimport/internal/log"
	"calimport/internal/model"
)

// CalendarObject is one stored calendar object resource.
type CalendarObject struct {
	Calendar      string
	URI           string
	UID           string
	ComponentType model.ComponentType
	Data          string
	ETag          string
	LastModified  time.Time
}

// Summary is the listing view of a stored object.
type Summary struct {
	URI           string              `json:"uri"`
	UID           string              `json:"uid"`
	ComponentType model.ComponentType `json:"component_type"`
	ETag          string              `json:"etag"`
	LastModified  time.Time           `json:"last_modified"`
}

// Backend persists calendar objects.
type Backend interface {
	// Lookup returns the URI stored for uid in calendar.
	Lookup(ctx context.Context, calendar, uid string) (uri string, found bool, err error)
	// Put inserts or replaces the object at obj.URI.
	Put(ctx context.Context, obj CalendarObject) error
	// Get returns the object stored at uri.
	Get(ctx context.Context, calendar, uri string) (CalendarObject, bool, error)
	List(ctx context.Context, calendar string) ([]Summary, error)
	Close() error
}

// Validator checks one object before it is stored.
type Validator func(obj *model.Object) error

// Store is an import destination on top of a Backend.
type Store struct {
	Backend  Backend
	Validate Validator

	now func() time.Time
}

// New returns a Store writing to b.
func New(b Backend, v Validator) *Store {
	return &Store{Backend: b, Validate: v, now: time.Now}
}

// ProblemLister is implemented by errors that carry several findings.
type ProblemLister interface {
	ProblemList() []string
}

// Import consumes objects and stores them in opts.Calendar. Per-object
// outcomes are reported in the result. Under ErrorsFail the first failed
// object ends the import with its error; ValidateFail does the same for
// the first invalid object. Reassembly errors that are not scoped to one
// object always end the import.
func (s *Store) Import(ctx context.Context, opts model.ImportOptions, objects func() iter.Seq2[*model.Object, error]) (*model.Result, error) {
	res := &model.Result{Objects: []model.ObjectResult{}}
	if opts.Calendar == "" {
		return res, errors.New("store: no destination calendar")
	}

	for obj, err := range objects() {
		if cerr := ctx.Err(); cerr != nil {
			return res, cerr
		}
		if err != nil {
			var oe *ics.ObjectError
			if !errors.As(err, &oe) {
				return res, err
			}
			res.Objects = append(res.Objects, model.ObjectResult{
				Type:    oe.Type,
				Key:     oe.Key,
				Outcome: model.OutcomeError,
				Errors:  []string{err.Error()},
			})
			if opts.Errors == model.ErrorsFail {
				return res, err
			}
			continue
		}

		if opts.Validation != model.ValidateNone && s.Validate != nil {
			if verr := s.Validate(obj); verr != nil {
				res.Objects = append(res.Objects, model.ObjectResult{
					Type:    obj.Type,
					Key:     obj.Key,
					Outcome: model.OutcomeInvalid,
					Errors:  problems(verr),
				})
				appLog.Info("store skipping invalid object", "object", obj, "err", verr)
				if opts.Validation == model.ValidateFail {
					return res, verr
				}
				continue
			}
		}

		r, err := s.put(ctx, opts, obj)
		if err != nil {
			appLog.Error("store write failed", err, "object", obj, "calendar", opts.Calendar)
			res.Objects = append(res.Objects, model.ObjectResult{
				Type:    obj.Type,
				Key:     obj.Key,
				URI:     r.URI,
				Outcome: model.OutcomeError,
				Errors:  []string{err.Error()},
			})
			if opts.Errors == model.ErrorsFail {
				return res, err
			}
			continue
		}
		res.Objects = append(res.Objects, r)
	}

	appLog.Info("import finished",
		"calendar", opts.Calendar,
		"created", res.Count(model.OutcomeCreated),
		"updated", res.Count(model.OutcomeUpdated),
		"exists", res.Count(model.OutcomeExists),
		"invalid", res.Count(model.OutcomeInvalid),
		"error", res.Count(model.OutcomeError),
	)
	return res, nil
}

func (s *Store) put(ctx context.Context, opts model.ImportOptions, obj *model.Object) (model.ObjectResult, error) {
	r := model.ObjectResult{Type: obj.Type, Key: obj.Key}

	uid := obj.Key
	if obj.Anonymous() {
		uid = uuid.NewString()
		setUID(obj.Calendar, uid)
		r.URI = uuid.NewString() + ".ics"
	} else {
		r.URI = ObjectURI(opts.Calendar, uid)
	}

	outcome := model.OutcomeCreated
	if !obj.Anonymous() {
		uri, found, err := s.Backend.Lookup(ctx, opts.Calendar, uid)
		if err != nil {
			return r, err
		}
		if found {
			r.URI = uri
			if !opts.Supersede {
				r.Outcome = model.OutcomeExists
				return r, nil
			}
			outcome = model.OutcomeUpdated
		}
	}

	data := obj.Calendar.Serialize()
	sum := sha256.Sum256([]byte(data))
	err := s.Backend.Put(ctx, CalendarObject{
		Calendar:      opts.Calendar,
		URI:           r.URI,
		UID:           uid,
		ComponentType: obj.Type,
		Data:          data,
		ETag:          `"` + hex.EncodeToString(sum[:16]) + `"`,
		LastModified:  s.now().UTC(),
	})
	if err != nil {
		return r, err
	}
	r.Outcome = outcome
	return r, nil
}

// ObjectURI is the resource name of the object with uid in calendar. It is
// stable across imports so that re-importing a feed finds the same rows.
func ObjectURI(calendar, uid string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(calendar+"/"+uid)).String() + ".ics"
}

type propertySetter interface {
	SetProperty(property ical.ComponentProperty, value string, params ...ical.PropertyParameter)
}

// setUID gives every event-like component of cal the given UID.
func setUID(cal *ical.Calendar, uid string) {
	for _, c := range cal.Components {
		if _, ok := c.(*ical.VTimezone); ok {
			continue
		}
		if ps, ok := c.(propertySetter); ok {
			ps.SetProperty(ical.ComponentPropertyUniqueId, uid)
		}
	}
}

func problems(err error) []string {
	var pl ProblemLister
	if errors.As(err, &pl) {
		return pl.ProblemList()
	}
	return []string{err.Error()}
}
