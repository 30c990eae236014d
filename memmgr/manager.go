// Package memmgr manages the memory segments of mapped data sources: it
// keeps one builder busy validating and loading segment pairs, switches
// readers over to freshly loaded versions, and replays every update on
// the second version of the pair.
package memmgr

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"jabberwocky238/jw238memmgr/builder"
	"jabberwocky238/jw238memmgr/datasrc"
	"jabberwocky238/jw238memmgr/internal/types"
	"jabberwocky238/jw238memmgr/segment"
)

// SegmentReader is a user of reader segments, typically the DNS server.
// ResetSegment is called whenever the reader version of a segment changes;
// an empty MappedFile detaches it.
type SegmentReader interface {
	ID() string
	ResetSegment(class uint16, dataSource string, params segment.Params) error
}

// Config holds the manager settings.
type Config struct {
	// MappedFileDir is where segment files and versions files live.
	MappedFileDir string
	// LoadStep is the number of records per builder load step.
	LoadStep int
	// OpenDB opens PostgreSQL data sources; nil uses the pq driver.
	OpenDB func(dsn string) (*sql.DB, error)
}

// Manager drives the segment builder.
type Manager struct {
	cfg    Config
	log    *slog.Logger
	rawLog *slog.Logger // handed to the builder, which tags its own component

	mu       sync.Mutex
	running  bool
	queue    *builder.Queue
	builder  *builder.Builder
	waker    *builder.SocketWaker
	wake     *os.File
	loopDone chan struct{}

	genID    int
	current  *DataSrcInfo
	retiring []*DataSrcInfo
	readers  map[string]SegmentReader
}

// New creates a stopped manager.
func New(cfg Config, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		cfg:     cfg,
		log:     log.With("component", "memmgr"),
		rawLog:  log,
		readers: make(map[string]SegmentReader),
	}
}

// Start launches the builder and the event loop consuming its responses.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("memory manager already running")
	}
	if err := os.MkdirAll(m.cfg.MappedFileDir, 0o755); err != nil {
		return fmt.Errorf("create mapped file directory: %w", err)
	}

	waker, wake, err := builder.NewSocketPair(m.rawLog)
	if err != nil {
		return err
	}
	m.queue = builder.NewQueue()
	m.waker = waker
	m.wake = wake
	m.builder = builder.New(m.queue, waker, m.rawLog)
	m.loopDone = make(chan struct{})
	m.running = true

	go m.builder.Run()
	go m.eventLoop(wake, m.loopDone)

	m.log.Info("memory manager started", "mapped_file_dir", m.cfg.MappedFileDir)
	return nil
}

// Stop shuts the builder down, waits for it and the event loop, and
// releases every generation.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.queue.Send(builder.Shutdown{})
	b, waker, wake, loopDone := m.builder, m.waker, m.wake, m.loopDone
	m.mu.Unlock()

	<-b.Done()
	waker.Close()
	<-loopDone
	wake.Close()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.retiring {
		d.Close()
	}
	m.retiring = nil
	if m.current != nil {
		m.current.Close()
		m.current = nil
	}
	m.log.Info("memory manager stopped")
}

// eventLoop wakes up on every byte the builder writes and handles the
// responses queued so far. It ends when the builder's end is closed.
func (m *Manager) eventLoop(wake *os.File, done chan struct{}) {
	defer close(done)
	buf := make([]byte, 64)
	for {
		if _, err := wake.Read(buf); err != nil {
			return
		}
		m.mu.Lock()
		for _, resp := range m.queue.TakeResponses() {
			m.handleResponse(resp)
		}
		m.mu.Unlock()
	}
}

func (m *Manager) handleResponse(resp builder.Response) {
	switch r := resp.(type) {
	case builder.CancelCompleted:
		m.retire(r.Token)
	case builder.ValidateCompleted:
		d, ok := r.Context.(*DataSrcInfo)
		if !ok || d != m.current {
			return
		}
		m.completeValidate(d, r)
	case builder.LoadCompleted:
		d, ok := r.Context.(*DataSrcInfo)
		if !ok || d != m.current {
			return
		}
		m.completeLoad(d, r)
	case builder.BadCommand:
		m.log.Error("builder rejected a command")
	default:
		m.log.Error("unexpected builder response", "response", builder.ResponseName(resp))
	}
}

func (m *Manager) retire(token any) {
	for i, d := range m.retiring {
		if d == token {
			m.retiring = append(m.retiring[:i], m.retiring[i+1:]...)
			d.Close()
			m.log.Info("configuration generation released", "generation", d.GenID, "id", d.ID)
			return
		}
	}
}

func (m *Manager) completeValidate(d *DataSrcInfo, r builder.ValidateCompleted) {
	info, err := d.Segment(r.Class, r.DataSource)
	if err != nil {
		m.log.Error("validate completed for unknown segment", "error", err)
		return
	}
	ev, err := info.CompleteValidate(r.OK)
	if err != nil {
		m.log.Error("unexpected validate completion", "segment", segmentName(info), "error", err)
		return
	}
	m.advance(d, info, ev)
}

func (m *Manager) completeLoad(d *DataSrcInfo, r builder.LoadCompleted) {
	info, err := d.Segment(r.Class, r.DataSource)
	if err != nil {
		m.log.Error("load completed for unknown segment", "error", err)
		return
	}
	if !r.OK {
		// The segment keeps whatever was installed; readers still switch.
		m.log.Warn("segment load failed", "segment", segmentName(info), "state", info.State())
	}
	ev, err := info.CompleteUpdate()
	if err != nil {
		m.log.Error("unexpected load completion", "segment", segmentName(info), "error", err)
		return
	}
	m.advance(d, info, ev)
}

// advance issues the builder commands the new state of info calls for
// until the pair waits on the builder or is idle.
func (m *Manager) advance(d *DataSrcInfo, info *SegmentInfo, ev *Event) {
	for {
		if ev != nil {
			m.sendLoad(d, info, *ev)
			ev = nil
		}
		switch info.State() {
		case StateVSynchronizing, StateSynchronizing:
			if len(info.OldReaders()) == 0 {
				return
			}
			ev = m.syncReaders(info)
		case StateWValidating:
			m.queue.Send(builder.Validate{
				Context:    d,
				Class:      info.Class(),
				DataSource: info.DataSource(),
				Action:     info.ValidateAction(Writer),
			})
			return
		case StateReady:
			if ev = info.StartUpdate(); ev == nil {
				m.log.Info("segment ready", "segment", segmentName(info))
				return
			}
		default:
			return
		}
	}
}

// syncReaders hands the current reader version to every old reader.
// Readers that fail to reset are dropped.
func (m *Manager) syncReaders(info *SegmentInfo) *Event {
	params := info.ResetParams(Reader)
	var ev *Event
	for _, id := range info.OldReaders() {
		var (
			next *Event
			err  error
		)
		r, ok := m.readers[id]
		if ok {
			err = r.ResetSegment(info.Class(), info.DataSource(), params)
		}
		if !ok || err != nil {
			m.log.Warn("dropping segment reader", "reader", id, "segment", segmentName(info), "error", err)
			next, err = info.RemoveReader(id)
		} else {
			next, err = info.SyncReader(id)
		}
		if err != nil {
			m.log.Error("reader sync failed", "reader", id, "error", err)
			continue
		}
		if next != nil {
			ev = next
		}
	}
	return ev
}

func (m *Manager) sendLoad(d *DataSrcInfo, info *SegmentInfo, ev Event) {
	m.log.Info("loading segment",
		"segment", segmentName(info),
		"zone", ev.Zone,
		"state", info.State(),
		"generation", d.GenID,
	)
	m.queue.Send(builder.Load{
		Zone:       ev.Zone,
		Context:    d,
		Class:      info.Class(),
		DataSource: info.DataSource(),
	})
}

// Reconfigure builds a new generation from cfg, cancels any work of the
// previous one and starts validating the new segments. Every mapped data
// source gets a full load.
func (m *Manager) Reconfigure(cfg *datasrc.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	clients, err := datasrc.NewClientLists(cfg, datasrc.Options{LoadStep: m.cfg.LoadStep, OpenDB: m.cfg.OpenDB})
	if err != nil {
		return fmt.Errorf("build client lists: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		for _, l := range clients {
			l.Close()
		}
		return types.ErrNotRunning
	}

	d, err := NewDataSrcInfo(m.genID+1, clients, m.cfg.MappedFileDir, m.log)
	if err != nil {
		for _, l := range clients {
			l.Close()
		}
		return err
	}
	m.genID++

	if old := m.current; old != nil {
		m.retiring = append(m.retiring, old)
		m.queue.Send(builder.Cancel{Token: old})
	}
	m.current = d

	for _, info := range d.Segments() {
		for id := range m.readers {
			if err := info.AddReader(id); err != nil {
				m.log.Error("add reader", "reader", id, "error", err)
			}
		}
		info.AddEvent(Event{})
		action, err := info.StartValidate()
		if err != nil {
			m.log.Error("start validate", "segment", segmentName(info), "error", err)
			continue
		}
		m.queue.Send(builder.Validate{
			Context:    d,
			Class:      info.Class(),
			DataSource: info.DataSource(),
			Action:     action,
		})
	}

	m.log.Info("data source configuration applied",
		"generation", d.GenID,
		"id", d.ID,
		"segments", len(d.segments),
	)
	return nil
}

// Reload queues an update of one zone, or of the whole data source when
// zone is empty. It starts right away if the segment pair is idle.
func (m *Manager) Reload(class uint16, dataSource, zone string) error {
	if zone != "" {
		name, err := types.CanonicalZone(zone)
		if err != nil {
			return err
		}
		zone = name
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return types.ErrNotRunning
	}
	if m.current == nil {
		return types.ErrNoConfig
	}
	info, err := m.current.Segment(class, dataSource)
	if err != nil {
		return err
	}
	info.AddEvent(Event{Zone: zone})
	if ev := info.StartUpdate(); ev != nil {
		m.sendLoad(m.current, info, *ev)
	}
	return nil
}

// Cancel abandons the current generation: its pending and running builder
// work is cancelled and readers keep the segments they have. A later
// Reconfigure starts over.
func (m *Manager) Cancel() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return types.ErrNotRunning
	}
	if m.current == nil {
		return types.ErrNoConfig
	}
	old := m.current
	m.current = nil
	m.retiring = append(m.retiring, old)
	m.queue.Send(builder.Cancel{Token: old})
	m.log.Info("configuration generation cancelled", "generation", old.GenID, "id", old.ID)
	return nil
}

// AddReader registers a segment reader. It is reset right away to every
// reader version known to be usable.
func (m *Manager) AddReader(r SegmentReader) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := r.ID()
	if _, ok := m.readers[id]; ok {
		return fmt.Errorf("%w: reader %q already registered", types.ErrBadState, id)
	}
	m.readers[id] = r
	if m.current == nil {
		return nil
	}
	for _, info := range m.current.Segments() {
		if err := info.AddReader(id); err != nil {
			return err
		}
		params := info.ResetParams(Reader)
		if params.MappedFile == "" {
			continue
		}
		if err := r.ResetSegment(info.Class(), info.DataSource(), params); err != nil {
			m.log.Warn("new reader failed to reset segment", "reader", id, "segment", segmentName(info), "error", err)
		}
	}
	return nil
}

// RemoveReader unregisters a reader. Pending version switches no longer
// wait for it.
func (m *Manager) RemoveReader(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.readers[id]; !ok {
		return fmt.Errorf("%w: %q", types.ErrUnknownReader, id)
	}
	delete(m.readers, id)
	if m.current == nil {
		return nil
	}
	for _, info := range m.current.Segments() {
		prev := info.State()
		ev, err := info.RemoveReader(id)
		if err != nil {
			continue
		}
		if ev != nil || info.State() != prev {
			m.advance(m.current, info, ev)
		}
	}
	return nil
}

func segmentName(info *SegmentInfo) string {
	return types.SegmentKey{Class: info.Class(), DataSource: info.DataSource()}.String()
}
