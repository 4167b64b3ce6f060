package ics

import (
	"bufio"
	"encoding/xml"
	"errors"
	"io"
	"strings"

	appLog "calimport/internal/log"
	"calimport/internal/model"
)

// DefaultChunkSize is the read size used when feeding XML sources to the
// parser.
const DefaultChunkSize = 64 * 1024

// xmlScanner is the state machine behind ScanXML. It sees only element
// open/close events carrying byte offsets and character data, so any
// streaming XML event source can drive it.
type xmlScanner struct {
	index *model.Index
	depth int
	path  []string

	open      model.ComponentType
	openStart int64
	openDepth int
	inKey     bool
	key       strings.Builder

	// Calendar-level <properties> element directly under <vcalendar>.
	rootStart int64
	rootDepth int
}

func newXMLScanner() *xmlScanner {
	return &xmlScanner{index: model.NewIndex()}
}

// onOpen handles an opening tag whose '<' is at offset.
func (s *xmlScanner) onOpen(name string, offset int64) {
	s.depth++
	s.path = append(s.path, name)

	if s.open == "" {
		if t, ok := model.ParseComponentType(name); ok {
			s.open = t
			s.openStart = offset
			s.openDepth = s.depth
			s.inKey = false
			s.key.Reset()
			return
		}
		if s.rootDepth == 0 && strings.EqualFold(name, "properties") && s.parentIs("vcalendar") {
			s.rootStart = offset
			s.rootDepth = s.depth
		}
		return
	}

	// <vevent><properties><uid>: the identifying property sits exactly two
	// levels below the component element.
	if s.depth == s.openDepth+2 && strings.EqualFold(name, model.IdentifyingProperty(s.open)) {
		s.inKey = true
		s.key.Reset()
	}
}

// onText handles character data. One text node may arrive in several calls.
func (s *xmlScanner) onText(text []byte) {
	if s.inKey {
		s.key.Write(text)
	}
}

// onClose handles a closing tag ending right before offset.
func (s *xmlScanner) onClose(name string, offset int64) {
	switch {
	case s.open != "" && s.inKey && s.depth == s.openDepth+2 && strings.EqualFold(name, model.IdentifyingProperty(s.open)):
		s.inKey = false
	case s.open != "" && s.depth == s.openDepth && strings.EqualFold(name, string(s.open)):
		s.index.Add(model.FragmentSpan{
			Type:  s.open,
			Key:   strings.TrimSpace(s.key.String()),
			Start: s.openStart,
			End:   offset,
			Path:  strings.Join(s.path, "/"),
		})
		s.open = ""
		s.inKey = false
	case s.rootDepth != 0 && s.depth == s.rootDepth:
		s.index.AddRootSpan(model.FragmentSpan{
			Type:  model.ComponentCalendar,
			Start: s.rootStart,
			End:   offset,
			Path:  strings.Join(s.path, "/"),
		})
		s.rootDepth = 0
	}

	s.path = s.path[:len(s.path)-1]
	s.depth--
}

func (s *xmlScanner) parentIs(name string) bool {
	return len(s.path) >= 2 && strings.EqualFold(s.path[len(s.path)-2], name)
}

// readErrRecorder remembers the last failure of the underlying reader so
// that decoder errors can be told apart from I/O errors.
type readErrRecorder struct {
	r   io.Reader
	err error
}

func (rr *readErrRecorder) Read(p []byte) (int, error) {
	n, err := rr.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		rr.err = err
	}
	return n, err
}

// ScanXML makes a single pass over an xCal document and returns its
// structural index. The source is read in chunkSize pieces; chunkSize <= 0
// selects DefaultChunkSize. Malformed markup aborts the scan with
// ErrStructure and no index.
func ScanXML(r io.Reader, chunkSize int) (*model.Index, error) {
	if r == nil {
		return nil, newError("scan", ErrInvalidArgument, -1, errors.New("nil source"))
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	rec := &readErrRecorder{r: r}
	dec := xml.NewDecoder(bufio.NewReaderSize(rec, chunkSize))
	s := newXMLScanner()

	for {
		offset := dec.InputOffset()
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) && rec.err == nil {
			break
		}
		if err != nil {
			if rec.err != nil {
				return nil, newError("scan", ErrIO, dec.InputOffset(), rec.err)
			}
			return nil, newError("scan", ErrStructure, dec.InputOffset(), err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			s.onOpen(t.Name.Local, offset)
		case xml.EndElement:
			s.onClose(t.Name.Local, dec.InputOffset())
		case xml.CharData:
			s.onText(t)
		}
	}

	if s.depth != 0 {
		return nil, structuralf("scan", dec.InputOffset(), "%d elements left open", s.depth)
	}

	appLog.Debug("ics xml scan completed",
		"fragments", s.index.Count(),
		"bytes", dec.InputOffset(),
	)
	return s.index, nil
}
