package builder

import (
	"errors"
	"fmt"
	"log/slog"

	"jabberwocky238/jw238memmgr/datasrc"
	"jabberwocky238/jw238memmgr/internal/types"
	"jabberwocky238/jw238memmgr/segment"
)

var errCancelled = errors.New("load cancelled")

// handleLoad resets the writable segment and loads the requested zones into
// it. The second result is false when the load was interrupted by a
// pending Cancel or Shutdown; no response is produced then. A panic from
// the segment context or the client list fails the load.
func (b *Builder) handleLoad(cmd Load) (out Response, respond bool) {
	resp := LoadCompleted{
		Context:    cmd.Context,
		Class:      cmd.Class,
		DataSource: cmd.DataSource,
	}
	log := b.log.With(
		"class", types.ClassString(cmd.Class),
		"datasrc", cmd.DataSource,
	)
	defer func() {
		if r := recover(); r != nil {
			log.Error("segment load panicked", "panic", r)
			out, respond = resp, true
		}
	}()
	if cmd.Context == nil {
		log.Error("load without segment context")
		return resp, true
	}
	log = log.With("generation", cmd.Context.GenerationID())

	clist, err := cmd.Context.ClientList(cmd.Class)
	if err != nil {
		log.Error("no client list for load", "error", err)
		return resp, true
	}
	params, err := cmd.Context.WriterParams(cmd.Class, cmd.DataSource)
	if err != nil {
		log.Error("no segment parameters for load", "error", err)
		return resp, true
	}

	if !b.resetSegment(log, clist, cmd.DataSource, params) {
		return resp, true
	}

	succeeded := true
	zones := []string{cmd.Zone}
	if cmd.Zone == "" {
		zones, err = zoneTable(clist, cmd.DataSource)
		if err != nil {
			log.Error("failed to list zones of data source", "error", err)
			succeeded = false
			zones = nil
		}
	}

	cancelled := false
	for _, zone := range zones {
		err := b.loadZone(log, clist, cmd, zone)
		if errors.Is(err, errCancelled) {
			log.Info("zone load cancelled", "zone", zone)
			cancelled = true
			break
		}
		if err != nil {
			log.Warn("failed to load zone", "zone", zone, "error", err)
			if cmd.Zone != "" {
				succeeded = false
			}
			continue
		}
		log.Info("zone loaded", "zone", zone)
	}

	// Release the writable mapping; the manager keeps the segment read-only.
	// The zones are installed already, so a failure here does not fail the
	// load.
	if err := resetMode(clist, cmd.DataSource, segment.ReadOnly, params); err != nil {
		log.Error("failed to reset segment read-only", "error", err)
	}

	if cancelled {
		return nil, false
	}
	resp.OK = succeeded
	return resp, true
}

// resetSegment makes the writable segment usable: it is reopened
// read-write, and if that fails a new one is created. It reports whether
// either attempt succeeded.
func (b *Builder) resetSegment(log *slog.Logger, clist ClientList, dataSource string, params segment.Params) bool {
	err := resetMode(clist, dataSource, segment.ReadWrite, params)
	if err == nil {
		return true
	}
	log.Warn("failed to open segment read-write, creating a new one",
		"file", params.MappedFile,
		"error", err,
	)

	if err := resetMode(clist, dataSource, segment.Create, params); err != nil {
		log.Error("failed to create segment, giving up",
			"file", params.MappedFile,
			"error", err,
		)
		return false
	}
	return true
}

// resetMode resets the segment, reporting a panic as an error.
func resetMode(clist ClientList, dataSource string, mode segment.Mode, params segment.Params) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reset %s: panic: %v", mode, r)
		}
	}()
	return clist.ResetMemorySegment(dataSource, mode, params)
}

// zoneTable lists the zones of dataSource, reporting a panic as an error.
func zoneTable(clist ClientList, dataSource string) (zones []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("zone table: panic: %v", r)
		}
	}()
	return clist.ZoneTable(dataSource)
}

// loadZone drives a writer for zone through bounded load steps, checking
// for a pending Cancel or Shutdown between steps, and installs the result.
// The writer is cleaned up on every path.
func (b *Builder) loadZone(log *slog.Logger, clist ClientList, cmd Load, zone string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("zone %s: panic: %v", zone, r)
		}
	}()

	writer, err := clist.GetCachedWriter(zone, cmd.DataSource)
	if err != nil {
		return fmt.Errorf("get writer: %w", err)
	}
	defer cleanup(log, writer)

	for {
		done, err := writer.Load()
		if err != nil {
			return fmt.Errorf("load: %w", err)
		}
		if done {
			break
		}
		if b.queue.interrupted(cmd.Context) {
			return errCancelled
		}
	}

	if err := writer.Install(); err != nil {
		return fmt.Errorf("install: %w", err)
	}
	return nil
}

func cleanup(log *slog.Logger, w datasrc.ZoneWriter) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("zone writer cleanup panicked", "panic", r)
		}
	}()
	w.Cleanup()
}
