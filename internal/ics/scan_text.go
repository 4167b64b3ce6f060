package ics

import (
	"bufio"
	"errors"
	"io"
	"strings"

	appLog "calimport/internal/log"
	"calimport/internal/model"
)

const textReadBufferSize = 64 * 1024

// textScanState is the state of one forward pass over an iCalendar text
// stream. A fresh value is used for every scan.
type textScanState struct {
	index  *model.Index
	offset int64 // offset of the first byte of the current line

	// Component currently open, if any.
	open      model.ComponentType
	openStart int64
	key       string
	// BEGIN blocks nested inside the open component (VALARM, STANDARD, ...).
	nested []string

	// Depth inside an unrecognized top-level block such as VFREEBUSY.
	skipDepth int

	// What the current logical line is, so continuation lines know where
	// they belong.
	keyLine  bool
	rootLine bool
}

// ScanText makes a single forward pass over an iCalendar text stream and
// returns the structural index of the components it contains. The reader
// is consumed to EOF; offsets are relative to its position at the call.
//
// A mismatched END marker or a component left open at EOF is a structural
// error and no index is returned.
func ScanText(r io.Reader) (*model.Index, error) {
	if r == nil {
		return nil, newError("scan", ErrInvalidArgument, -1, errors.New("nil source"))
	}

	st := &textScanState{index: model.NewIndex()}
	br := bufio.NewReaderSize(r, textReadBufferSize)

	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			if serr := st.line(line); serr != nil {
				return nil, serr
			}
			st.offset += int64(len(line))
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, newError("scan", ErrIO, st.offset, err)
		}
	}

	if st.open != "" {
		return nil, structuralf("scan", st.openStart, "%s not closed before end of input", st.open)
	}

	appLog.Debug("ics text scan completed",
		"fragments", st.index.Count(),
		"root_lines", len(st.index.RootLines()),
		"bytes", st.offset,
	)
	return st.index, nil
}

func (st *textScanState) line(raw string) error {
	text := strings.TrimRight(raw, "\r\n")
	if st.offset == 0 {
		text = strings.TrimPrefix(text, "\ufeff")
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}

	// Folded continuation of the previous logical line.
	if text[0] == ' ' || text[0] == '\t' {
		if st.rootLine {
			st.index.AddRootLine(raw)
		}
		if st.keyLine {
			st.key += strings.TrimSpace(text)
		}
		return nil
	}

	st.keyLine, st.rootLine = false, false

	tag, value, ok := splitContentLine(text)
	if !ok {
		return nil
	}

	switch tag {
	case "BEGIN":
		st.begin(strings.ToUpper(strings.TrimSpace(value)))
		return nil
	case "END":
		return st.end(strings.ToUpper(strings.TrimSpace(value)), raw)
	}

	switch {
	case st.open != "":
		if len(st.nested) == 0 && tag == model.IdentifyingProperty(st.open) {
			st.key = strings.TrimSpace(value)
			st.keyLine = true
		}
	case st.skipDepth == 0:
		st.index.AddRootLine(raw)
		st.rootLine = true
	}
	return nil
}

func (st *textScanState) begin(name string) {
	switch {
	case st.open != "":
		st.nested = append(st.nested, name)
	case st.skipDepth > 0:
		st.skipDepth++
	case name == string(model.ComponentCalendar):
		// The document envelope itself.
	default:
		t, ok := model.ParseComponentType(name)
		if !ok {
			st.skipDepth = 1
			return
		}
		st.open = t
		st.openStart = st.offset
		st.key = ""
		st.nested = st.nested[:0]
	}
}

func (st *textScanState) end(name, raw string) error {
	switch {
	case st.open != "":
		if n := len(st.nested); n > 0 {
			if st.nested[n-1] != name {
				return structuralf("scan", st.offset, "END:%s does not match BEGIN:%s", name, st.nested[n-1])
			}
			st.nested = st.nested[:n-1]
			return nil
		}
		if name != string(st.open) {
			return structuralf("scan", st.offset, "END:%s does not match BEGIN:%s", name, st.open)
		}
		st.index.Add(model.FragmentSpan{
			Type:  st.open,
			Key:   st.key,
			Start: st.openStart,
			End:   st.offset + int64(len(raw)),
		})
		st.open = ""
		st.key = ""
	case st.skipDepth > 0:
		st.skipDepth--
	}
	return nil
}

// splitContentLine splits a logical line into its uppercased name and its
// value. The name ends at the first ':' or ';'. When parameters follow the
// name the value starts after the first ':' outside double quotes.
func splitContentLine(text string) (tag, value string, ok bool) {
	i := strings.IndexAny(text, ":;")
	if i <= 0 {
		return "", "", false
	}
	tag = strings.ToUpper(text[:i])
	rest := text[i+1:]
	if text[i] == ':' {
		return tag, rest, true
	}

	quoted := false
	for j := 0; j < len(rest); j++ {
		switch rest[j] {
		case '"':
			quoted = !quoted
		case ':':
			if !quoted {
				return tag, rest[j+1:], true
			}
		}
	}
	return tag, "", true
}
