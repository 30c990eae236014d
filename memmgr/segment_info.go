package memmgr

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"jabberwocky238/jw238memmgr/builder"
	"jabberwocky238/jw238memmgr/internal/types"
	"jabberwocky238/jw238memmgr/segment"
)

// State is the update state of one memory segment pair.
//
//	INIT --StartValidate--> R_VALIDATING --CompleteValidate--> V_SYNCHRONIZING
//	V_SYNCHRONIZING --no old readers--> W_VALIDATING --CompleteValidate--> UPDATING
//	UPDATING --CompleteUpdate--> SYNCHRONIZING --no old readers--> COPYING
//	COPYING --CompleteUpdate--> READY --StartUpdate--> UPDATING
type State int

const (
	StateInit State = iota
	StateRValidating
	StateVSynchronizing
	StateWValidating
	StateUpdating
	StateSynchronizing
	StateCopying
	StateReady
)

var stateNames = [...]string{
	StateInit:           "INIT",
	StateRValidating:    "R_VALIDATING",
	StateVSynchronizing: "V_SYNCHRONIZING",
	StateWValidating:    "W_VALIDATING",
	StateUpdating:       "UPDATING",
	StateSynchronizing:  "SYNCHRONIZING",
	StateCopying:        "COPYING",
	StateReady:          "READY",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// UserType selects whose view of the segment pair is wanted.
type UserType int

const (
	Reader UserType = iota
	Writer
)

// Event is a pending update of a segment. An empty Zone reloads the whole
// data source.
type Event struct {
	Zone string
}

// SegmentInfo tracks one mapped segment pair: the version readers use, the
// version the builder writes, the readers on either side of a switch, and
// the update events waiting for the pair.
//
// The state machine is not safe for concurrent use; the Manager serialises
// it. Only the reset parameters may be read from other goroutines.
type SegmentInfo struct {
	class      uint16
	dataSource string
	log        *slog.Logger

	state      State
	readers    map[string]struct{}
	oldReaders map[string]struct{}
	events     []Event

	base      string
	versFile  string
	rvalidate builder.ValidateFunc
	wvalidate builder.ValidateFunc

	mu              sync.Mutex
	readerVer       int
	writerVer       int
	readerValidated bool
}

type versions struct {
	Reader *int `json:"reader"`
	Writer *int `json:"writer"`
}

// NewMappedSegmentInfo creates the info of a mapped segment pair stored
// under dir. Files are named zone-<class>-<generation>-<source>-mapped.<n>;
// the versions in use are remembered in a -vers.json file next to them.
func NewMappedSegmentInfo(dir string, genID int, class uint16, dataSource string, log *slog.Logger) *SegmentInfo {
	if log == nil {
		log = slog.Default()
	}
	base := filepath.Join(dir, fmt.Sprintf("zone-%s-%d-%s-mapped", types.ClassString(class), genID, dataSource))
	s := &SegmentInfo{
		class:      class,
		dataSource: dataSource,
		log:        log,
		readers:    make(map[string]struct{}),
		oldReaders: make(map[string]struct{}),
		base:       base,
		versFile:   base + "-vers.json",
		readerVer:  0,
		writerVer:  1,
	}

	rver, wver, err := readVersions(s.versFile)
	switch {
	case err == nil:
		s.readerVer, s.writerVer = rver, wver
		readerFile, writerFile := s.file(rver), s.file(wver)
		s.rvalidate = func() (bool, error) { return fileExists(readerFile) }
		s.wvalidate = func() (bool, error) { return fileExists(writerFile) }
	case errors.Is(err, os.ErrNotExist):
		s.rvalidate = noFile
		s.wvalidate = noFile
	default:
		log.Warn("ignoring mapped segment versions file", "file", s.versFile, "error", err)
		s.rvalidate = noFile
		s.wvalidate = noFile
	}
	return s
}

func readVersions(path string) (int, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, err
	}
	var v versions
	if err := json.Unmarshal(data, &v); err != nil {
		return 0, 0, fmt.Errorf("parse versions: %w", err)
	}
	if v.Reader == nil || v.Writer == nil {
		return 0, 0, fmt.Errorf("versions file lacks reader or writer")
	}
	r, w := *v.Reader, *v.Writer
	if !(r == 0 && w == 1) && !(r == 1 && w == 0) {
		return 0, 0, fmt.Errorf("invalid versions reader=%d writer=%d", r, w)
	}
	return r, w, nil
}

func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func noFile() (bool, error) { return false, nil }

func (s *SegmentInfo) file(ver int) string {
	return fmt.Sprintf("%s.%d", s.base, ver)
}

// Class returns the RR class of the segment's data source.
func (s *SegmentInfo) Class() uint16 { return s.class }

// DataSource returns the data source name.
func (s *SegmentInfo) DataSource() string { return s.dataSource }

// State returns the current state.
func (s *SegmentInfo) State() State { return s.state }

// Readers returns the readers on the current reader version, sorted.
func (s *SegmentInfo) Readers() []string { return sortedIDs(s.readers) }

// OldReaders returns the readers still on the previous version, sorted.
func (s *SegmentInfo) OldReaders() []string { return sortedIDs(s.oldReaders) }

// Events returns the pending events, oldest first.
func (s *SegmentInfo) Events() []Event {
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

func sortedIDs(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// AddEvent queues an update event. No state transition happens.
func (s *SegmentInfo) AddEvent(ev Event) {
	s.events = append(s.events, ev)
}

// AddReader registers a reader as using the current reader version.
func (s *SegmentInfo) AddReader(id string) error {
	if _, ok := s.readers[id]; ok {
		return fmt.Errorf("%w: reader %q already registered", types.ErrBadState, id)
	}
	s.readers[id] = struct{}{}
	return nil
}

// StartValidate leaves INIT and returns the action validating the reader
// version. It may only be called once.
func (s *SegmentInfo) StartValidate() (builder.ValidateFunc, error) {
	if s.state != StateInit {
		return nil, fmt.Errorf("%w: start validate in state %s", types.ErrBadState, s.state)
	}
	s.state = StateRValidating
	return s.rvalidate, nil
}

// ValidateAction returns the action validating the given version.
func (s *SegmentInfo) ValidateAction(ut UserType) builder.ValidateFunc {
	if ut == Reader {
		return s.rvalidate
	}
	return s.wvalidate
}

// CompleteValidate records a validation result. After the reader
// validation every reader becomes an old reader that has to be synced; the
// returned event is non-nil only after the writer validation, when the
// first pending event starts the initial load. That event stays queued.
func (s *SegmentInfo) CompleteValidate(validated bool) (*Event, error) {
	switch s.state {
	case StateRValidating:
		if validated {
			s.mu.Lock()
			s.readerValidated = true
			s.mu.Unlock()
		}
		s.state = StateVSynchronizing
		s.oldReaders = s.readers
		s.readers = make(map[string]struct{})
		return s.syncReaderHelper(), nil
	case StateWValidating:
		if len(s.events) == 0 {
			return nil, fmt.Errorf("%w: writer validated without a pending load", types.ErrBadState)
		}
		s.state = StateUpdating
		ev := s.events[0]
		return &ev, nil
	default:
		return nil, fmt.Errorf("%w: complete validate in state %s", types.ErrBadState, s.state)
	}
}

// StartUpdate begins the next update when READY with pending events. The
// head event is returned but stays queued until the copy phase.
func (s *SegmentInfo) StartUpdate() *Event {
	if s.state != StateReady || len(s.events) == 0 {
		return nil
	}
	s.state = StateUpdating
	ev := s.events[0]
	return &ev
}

// CompleteUpdate records that the builder finished writing. From UPDATING
// the versions switch and every reader has to move to the new reader
// version; from COPYING the pair is READY again.
func (s *SegmentInfo) CompleteUpdate() (*Event, error) {
	switch s.state {
	case StateUpdating:
		s.switchVersions()
		s.state = StateSynchronizing
		s.oldReaders = s.readers
		s.readers = make(map[string]struct{})
		return s.syncReaderHelper(), nil
	case StateCopying:
		s.state = StateReady
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: complete update in state %s", types.ErrBadState, s.state)
	}
}

// SyncReader moves a reader from the old version to the current one. It
// does nothing outside the synchronizing states. When the last old reader
// moves during an update, the head event is popped and returned so it can
// be replayed on the other version.
func (s *SegmentInfo) SyncReader(id string) (*Event, error) {
	if s.state != StateVSynchronizing && s.state != StateSynchronizing {
		return nil, nil
	}
	if _, ok := s.oldReaders[id]; !ok {
		return nil, fmt.Errorf("%w: reader %q is not an old reader", types.ErrUnknownReader, id)
	}
	if _, ok := s.readers[id]; ok {
		return nil, fmt.Errorf("%w: reader %q already registered", types.ErrBadState, id)
	}
	delete(s.oldReaders, id)
	s.readers[id] = struct{}{}
	return s.syncReaderHelper(), nil
}

// RemoveReader forgets a reader wherever it is.
func (s *SegmentInfo) RemoveReader(id string) (*Event, error) {
	if _, ok := s.oldReaders[id]; ok {
		delete(s.oldReaders, id)
		return s.syncReaderHelper(), nil
	}
	if _, ok := s.readers[id]; ok {
		delete(s.readers, id)
		return nil, nil
	}
	return nil, fmt.Errorf("%w: reader %q", types.ErrUnknownReader, id)
}

func (s *SegmentInfo) syncReaderHelper() *Event {
	if len(s.oldReaders) > 0 {
		return nil
	}
	if s.state == StateSynchronizing {
		s.state = StateCopying
		if len(s.events) == 0 {
			return nil
		}
		ev := s.events[0]
		s.events = s.events[1:]
		return &ev
	}
	// Initial load: the writer version is validated next.
	s.state = StateWValidating
	return nil
}

// ResetParams returns the parameters a user of the given type resets the
// segment with. Readers get an empty file until the reader version is
// known to be usable.
func (s *SegmentInfo) ResetParams(ut UserType) segment.Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ut == Reader {
		if !s.readerValidated {
			return segment.Params{}
		}
		return segment.Params{MappedFile: s.file(s.readerVer)}
	}
	return segment.Params{MappedFile: s.file(s.writerVer)}
}

func (s *SegmentInfo) switchVersions() {
	s.mu.Lock()
	s.readerVer, s.writerVer = s.writerVer, s.readerVer
	s.readerValidated = true
	r, w := s.readerVer, s.writerVer
	s.mu.Unlock()

	data, err := json.Marshal(versions{Reader: &r, Writer: &w})
	if err != nil {
		s.log.Error("failed to encode segment versions", "error", err)
		return
	}
	if err := os.WriteFile(s.versFile, append(data, '\n'), 0o644); err != nil {
		s.log.Warn("failed to write segment versions file", "file", s.versFile, "error", err)
	}
}
