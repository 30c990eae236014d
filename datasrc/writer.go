package datasrc

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"jabberwocky238/jw238memmgr/internal/types"
	"jabberwocky238/jw238memmgr/segment"
)

var errWriterClosed = errors.New("zone writer already cleaned up")

// segmentWriter copies a zone from a source iterator into a staging
// ZoneData and installs it into a writable segment.
type segmentWriter struct {
	seg     *segment.Mapped
	iter    RRIterator
	staging *segment.ZoneData
	step    int
	done    bool
	closed  bool
}

func newSegmentWriter(seg *segment.Mapped, zone string, iter RRIterator, step int) *segmentWriter {
	if step <= 0 {
		step = DefaultLoadStep
	}
	return &segmentWriter{
		seg:     seg,
		iter:    iter,
		staging: segment.NewZoneData(zone),
		step:    step,
	}
}

// Load copies up to step records.
func (w *segmentWriter) Load() (bool, error) {
	if w.closed {
		return false, errWriterClosed
	}
	if w.done {
		return true, nil
	}
	for i := 0; i < w.step; i++ {
		rr, err := w.iter.Next()
		if errors.Is(err, io.EOF) {
			w.done = true
			return true, nil
		}
		if err != nil {
			return false, fmt.Errorf("zone %s: %w", w.staging.Origin, err)
		}
		if err := w.staging.Add(rr); err != nil {
			return false, err
		}
	}
	return false, nil
}

// Install replaces the zone in the segment with the loaded copy.
func (w *segmentWriter) Install() error {
	if w.closed {
		return errWriterClosed
	}
	if !w.done {
		return fmt.Errorf("zone %s: %w", w.staging.Origin, types.ErrLoadIncomplete)
	}
	if w.staging.SOA() == nil {
		return fmt.Errorf("zone %s has no SOA record", w.staging.Origin)
	}
	return w.seg.Install(w.staging)
}

// Cleanup closes the source iterator and drops the staging data.
func (w *segmentWriter) Cleanup() {
	if w.closed {
		return
	}
	w.closed = true
	if err := w.iter.Close(); err != nil {
		slog.Warn("close zone iterator", "zone", w.staging.Origin, "error", err)
	}
	w.staging = segment.NewZoneData(w.staging.Origin)
}
