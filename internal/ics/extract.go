package ics

import (
	"bytes"
	"errors"
	"io"

	"calimport/internal/model"
)

// Extractor pulls byte ranges out of a seekable source. It moves the
// source's read cursor; callers must not rely on its position between
// calls and must not share one source between concurrent extractions.
type Extractor struct {
	src io.ReadSeeker
}

// NewExtractor returns an Extractor reading from src.
func NewExtractor(src io.ReadSeeker) *Extractor {
	return &Extractor{src: src}
}

// Extract returns the bytes in [start, end).
func (x *Extractor) Extract(start, end int64) ([]byte, error) {
	if start < 0 || end < start {
		return nil, newError("extract", ErrInvalidArgument, start, errors.New("bad byte range"))
	}
	buf := make([]byte, end-start)
	if err := x.readAt(buf, start); err != nil {
		return nil, err
	}
	return buf, nil
}

// ExtractSpans concatenates the given spans in order. A fragment that does
// not end with a line break gets one, so a fragment taken from the very end
// of a file cannot run into the next.
func (x *Extractor) ExtractSpans(spans []model.FragmentSpan) ([]byte, error) {
	var b bytes.Buffer
	for _, s := range spans {
		chunk, err := x.Extract(s.Start, s.End)
		if err != nil {
			return nil, err
		}
		if len(chunk) == 0 {
			continue
		}
		b.Write(chunk)
		if chunk[len(chunk)-1] != '\n' {
			b.WriteString("\r\n")
		}
	}
	return b.Bytes(), nil
}

func (x *Extractor) readAt(buf []byte, off int64) error {
	if _, err := x.src.Seek(off, io.SeekStart); err != nil {
		return newError("extract", ErrIO, off, err)
	}
	n, err := io.ReadFull(x.src, buf)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return structuralf("extract", off+int64(n), "source truncated: read %d of %d bytes", n, len(buf))
	default:
		return newError("extract", ErrIO, off+int64(n), err)
	}
}
