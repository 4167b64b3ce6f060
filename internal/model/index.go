package model

// FragmentSpan is the byte range of one component instance in the source,
// from the first byte of its opening marker up to (not including) the first
// byte after its closing marker.
type FragmentSpan struct {
	Type  ComponentType
	Key   string
	Start int64
	End   int64
	// Path is the slash-joined XML element chain at the point the component
	// closed. Empty for text sources.
	Path string
}

// Len returns the number of bytes covered by the span.
func (s FragmentSpan) Len() int64 {
	return s.End - s.Start
}

// ComponentGroup holds the spans of one component type, grouped by key.
type ComponentGroup struct {
	keys      []string
	spans     map[string][]FragmentSpan
	anonymous []FragmentSpan
}

// Keys returns the keys in the order they were first seen.
func (g *ComponentGroup) Keys() []string {
	return g.keys
}

// Spans returns the spans recorded under key, in source order.
func (g *ComponentGroup) Spans(key string) []FragmentSpan {
	return g.spans[key]
}

// Anonymous returns spans that carried no identifying property.
func (g *ComponentGroup) Anonymous() []FragmentSpan {
	return g.anonymous
}

// Len returns the total number of spans in the group.
func (g *ComponentGroup) Len() int {
	n := len(g.anonymous)
	for _, s := range g.spans {
		n += len(s)
	}
	return n
}

func (g *ComponentGroup) add(span FragmentSpan) {
	if span.Key == "" {
		g.anonymous = append(g.anonymous, span)
		return
	}
	if _, ok := g.spans[span.Key]; !ok {
		g.keys = append(g.keys, span.Key)
	}
	g.spans[span.Key] = append(g.spans[span.Key], span)
}

// Index is the structural index produced by a single scan of a calendar
// document. Its size is proportional to the number of components, not to
// the size of the document. Scanners build it; after the scan it is only
// read.
type Index struct {
	groups map[ComponentType]*ComponentGroup

	rootLines []string
	rootSpans []FragmentSpan
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{groups: make(map[ComponentType]*ComponentGroup)}
}

// Add records a closed component span.
func (x *Index) Add(span FragmentSpan) {
	g, ok := x.groups[span.Type]
	if !ok {
		g = &ComponentGroup{spans: make(map[string][]FragmentSpan)}
		x.groups[span.Type] = g
	}
	g.add(span)
}

// Group returns the group for t, or nil if no component of that type was
// seen.
func (x *Index) Group(t ComponentType) *ComponentGroup {
	return x.groups[t]
}

// AddRootLine records a raw calendar-level line (text sources).
func (x *Index) AddRootLine(line string) {
	x.rootLines = append(x.rootLines, line)
}

// RootLines returns raw calendar-level lines in source order.
func (x *Index) RootLines() []string {
	return x.rootLines
}

// AddRootSpan records the span of calendar-level properties (XML sources).
func (x *Index) AddRootSpan(span FragmentSpan) {
	x.rootSpans = append(x.rootSpans, span)
}

// RootSpans returns spans of calendar-level properties in source order.
func (x *Index) RootSpans() []FragmentSpan {
	return x.rootSpans
}

// Count returns the total number of component fragments recorded.
func (x *Index) Count() int {
	n := 0
	for _, g := range x.groups {
		n += g.Len()
	}
	return n
}
