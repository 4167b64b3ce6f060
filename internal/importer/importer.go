// Package importer drives one bulk import: it scans the source once,
// then hands the destination a lazy sequence of reassembled objects.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"

	"crawshaw.io/iox"

	"calimport/internal/ics"
	appLog "calimport/internal/log"
	"calimport/internal/model"
)

// Destination receives the reassembled objects. objects returns the
// sequence to consume; it is single-use.
type Destination interface {
	Import(ctx context.Context, opts model.ImportOptions, objects func() iter.Seq2[*model.Object, error]) (*model.Result, error)
}

// Importer wires a source to a destination.
type Importer struct {
	// Filer spools non-seekable sources. Without one such sources are
	// rejected.
	Filer *iox.Filer
	// SpoolMemBytes is the in-memory size of a spool buffer before it
	// spills to disk; zero uses the iox default.
	SpoolMemBytes int
	// ChunkSize is the read size for XML sources.
	ChunkSize int
}

// Import scans src in opts.Format and feeds the objects to dst. A scan
// failure is returned before dst is called.
func (im *Importer) Import(ctx context.Context, src io.Reader, dst Destination, opts model.ImportOptions) (*model.Result, error) {
	if src == nil {
		return nil, fmt.Errorf("importer: %w: nil source", ics.ErrInvalidArgument)
	}
	if dst == nil {
		return nil, fmt.Errorf("importer: %w: nil destination", ics.ErrInvalidArgument)
	}
	format, err := model.ParseFormat(string(opts.Format))
	if err != nil {
		return nil, fmt.Errorf("importer: %w: %v", ics.ErrInvalidArgument, err)
	}
	opts.Format = format

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if format == model.FormatJCal {
		// Parsed whole; no need to seek.
		cal, err := ics.ParseJCal(src)
		if err != nil {
			return nil, err
		}
		appLog.Info("import start", "format", format, "calendar", opts.Calendar, "components", len(cal.Components))
		return dst.Import(ctx, opts, func() iter.Seq2[*model.Object, error] {
			return ics.SplitCalendar(cal)
		})
	}

	rs, cleanup, err := im.seekable(src)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	engine, err := im.engine(rs, format, opts.Errors)
	if err != nil {
		return nil, err
	}

	appLog.Info("import start", "format", format, "calendar", opts.Calendar, "fragments", engine.Index.Count())
	return dst.Import(ctx, opts, engine.Objects)
}

// engine runs the structural scan over rs and sets up reassembly.
func (im *Importer) engine(rs io.ReadSeeker, format model.Format, policy model.ErrorPolicy) (*ics.Engine, error) {
	start, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fmt.Errorf("importer: %w: %v", ics.ErrIO, err)
	}
	// Offsets from the scan are relative to start.
	base := &offsetSeeker{rs: rs, base: start}

	var idx *model.Index
	switch format {
	case model.FormatICal:
		idx, err = ics.ScanText(rs)
	case model.FormatXCal:
		idx, err = ics.ScanXML(rs, im.ChunkSize)
	}
	if err != nil {
		return nil, err
	}

	x := ics.NewExtractor(base)
	e := &ics.Engine{
		Index:     idx,
		Extractor: x,
		Errors:    policy,
	}
	switch format {
	case model.FormatICal:
		e.Envelope = ics.TextEnvelope(idx)
		e.Parser = ics.TextParser
	case model.FormatXCal:
		env, err := ics.XMLEnvelope(idx, x)
		if err != nil {
			return nil, err
		}
		e.Envelope = env
		e.Parser = ics.XCalParser
	}
	return e, nil
}

// seekable returns src as a ReadSeeker, spooling it through the Filer when
// it cannot seek. Pipes and terminals pass as *os.File but fail to seek, so
// the seek is tried rather than trusted.
func (im *Importer) seekable(src io.Reader) (io.ReadSeeker, func(), error) {
	if rs, ok := src.(io.ReadSeeker); ok {
		if _, err := rs.Seek(0, io.SeekCurrent); err == nil {
			return rs, func() {}, nil
		}
	}
	if im.Filer == nil {
		return nil, nil, fmt.Errorf("importer: %w: source is not seekable", ics.ErrInvalidArgument)
	}

	buf := im.Filer.BufferFile(im.SpoolMemBytes)
	n, err := io.Copy(buf, src)
	if err != nil {
		buf.Close()
		return nil, nil, fmt.Errorf("importer: %w: spool: %v", ics.ErrIO, err)
	}
	if _, err := buf.Seek(0, io.SeekStart); err != nil {
		buf.Close()
		return nil, nil, fmt.Errorf("importer: %w: spool: %v", ics.ErrIO, err)
	}
	appLog.Debug("import source spooled", "bytes", n)
	return buf, func() { buf.Close() }, nil
}

// offsetSeeker shifts absolute seeks by base so scan offsets stay valid
// for sources that did not start at position zero.
type offsetSeeker struct {
	rs   io.ReadSeeker
	base int64
}

func (o *offsetSeeker) Read(p []byte) (int, error) {
	return o.rs.Read(p)
}

func (o *offsetSeeker) Seek(offset int64, whence int) (int64, error) {
	if whence != io.SeekStart {
		return 0, errors.New("importer: only absolute seeks are supported")
	}
	n, err := o.rs.Seek(o.base+offset, io.SeekStart)
	return n - o.base, err
}
