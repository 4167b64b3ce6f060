package store

import (
	"context"
	"sort"
	"sync"
)

// Memory is a Backend kept in process memory. It is used for dry runs and
// tests.
type Memory struct {
	mu        sync.Mutex
	calendars map[string]map[string]CalendarObject // calendar -> URI -> object
}

// NewMemory returns an empty Memory backend.
func NewMemory() *Memory {
	return &Memory{calendars: make(map[string]map[string]CalendarObject)}
}

func (m *Memory) Lookup(ctx context.Context, calendar, uid string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for uri, obj := range m.calendars[calendar] {
		if obj.UID == uid {
			return uri, true, nil
		}
	}
	return "", false, nil
}

func (m *Memory) Put(ctx context.Context, obj CalendarObject) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	objs, ok := m.calendars[obj.Calendar]
	if !ok {
		objs = make(map[string]CalendarObject)
		m.calendars[obj.Calendar] = objs
	}
	objs[obj.URI] = obj
	return nil
}

func (m *Memory) Get(ctx context.Context, calendar, uri string) (CalendarObject, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.calendars[calendar][uri]
	return obj, ok, nil
}

// List returns the objects of calendar ordered by URI.
func (m *Memory) List(ctx context.Context, calendar string) ([]Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Summary, 0, len(m.calendars[calendar]))
	for _, obj := range m.calendars[calendar] {
		out = append(out, summaryOf(obj))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out, nil
}

func (m *Memory) Close() error { return nil }

func summaryOf(obj CalendarObject) Summary {
	return Summary{
		URI:           obj.URI,
		UID:           obj.UID,
		ComponentType: obj.ComponentType,
		ETag:          obj.ETag,
		LastModified:  obj.LastModified,
	}
}
