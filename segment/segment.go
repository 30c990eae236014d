// Package segment implements the mapped zone-data segment shared between the
// memory manager (writer) and the DNS serving workers (readers).
//
// A segment lives in a single backing file. The writer opens it read-write
// (or creates it), installs zones one by one, and every install is flushed to
// the file atomically. Readers open the same file read-only and see exactly
// the set of zones that had been installed when they were reset.
package segment

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"jabberwocky238/jw238memmgr/internal/types"

	"github.com/miekg/dns"
	"github.com/vmihailenco/msgpack/v5"
)

// Mode selects how a segment is (re)opened by Reset.
type Mode int

const (
	// ReadWrite opens an existing segment file for update.
	ReadWrite Mode = iota + 1
	// Create creates a fresh, empty segment file, replacing any previous one.
	Create
	// ReadOnly opens the segment file for lookups only.
	ReadOnly
)

func (m Mode) String() string {
	switch m {
	case ReadWrite:
		return "read-write"
	case Create:
		return "create"
	case ReadOnly:
		return "read-only"
	default:
		return "detached"
	}
}

// Params carries the reset parameters for a segment. An empty MappedFile
// detaches the segment.
type Params struct {
	MappedFile string `json:"mapped-file" yaml:"mapped-file"`
}

// snapshot is the msgpack document stored in a segment file.
type snapshot struct {
	Zones map[string]*ZoneData `msgpack:"zones"`
}

// Mapped is a file-backed zone table. It is safe for concurrent use.
type Mapped struct {
	mu    sync.RWMutex
	mode  Mode
	file  string
	zones map[string]*ZoneData
}

// NewMapped returns a detached segment.
func NewMapped() *Mapped {
	return &Mapped{zones: make(map[string]*ZoneData)}
}

// Reset reopens the segment in the given mode. On failure the segment keeps
// its previous state.
func (m *Mapped) Reset(mode Mode, params Params) error {
	switch mode {
	case ReadWrite, ReadOnly:
		if params.MappedFile == "" {
			if mode == ReadOnly {
				m.detach()
				return nil
			}
			return fmt.Errorf("reset %s: %w: no mapped file", mode, types.ErrSegmentNotFound)
		}
		zones, err := readSnapshot(params.MappedFile)
		if err != nil {
			return fmt.Errorf("reset %s: %w", mode, err)
		}
		m.mu.Lock()
		m.mode, m.file, m.zones = mode, params.MappedFile, zones
		m.mu.Unlock()
	case Create:
		if params.MappedFile == "" {
			return fmt.Errorf("reset %s: %w: no mapped file", mode, types.ErrSegmentNotFound)
		}
		zones := make(map[string]*ZoneData)
		if err := writeSnapshot(params.MappedFile, zones); err != nil {
			return fmt.Errorf("reset %s: %w", mode, err)
		}
		m.mu.Lock()
		m.mode, m.file, m.zones = mode, params.MappedFile, zones
		m.mu.Unlock()
	default:
		return fmt.Errorf("unknown segment reset mode %d", mode)
	}

	slog.Debug("segment reset", "mode", mode.String(), "file", params.MappedFile)
	return nil
}

func (m *Mapped) detach() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mode, m.file = 0, ""
	m.zones = make(map[string]*ZoneData)
}

// Mode reports the mode of the last successful reset.
func (m *Mapped) Mode() Mode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mode
}

// File returns the backing file of the segment, or "" when detached.
func (m *Mapped) File() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.file
}

// Writable reports whether Install is currently allowed.
func (m *Mapped) Writable() bool {
	mode := m.Mode()
	return mode == ReadWrite || mode == Create
}

// Install makes zone visible in the segment, replacing an older copy of the
// same zone, and flushes the segment file. Every install rewrites the whole
// file, so loading N zones one by one writes O(N²) bytes; in exchange each
// installed zone survives a crash later in the same load.
func (m *Mapped) Install(zone *ZoneData) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mode != ReadWrite && m.mode != Create {
		return fmt.Errorf("install %s: %w", zone.Origin, types.ErrSegmentNotWritable)
	}

	next := make(map[string]*ZoneData, len(m.zones)+1)
	for name, z := range m.zones {
		next[name] = z
	}
	next[zone.Origin] = zone

	if err := writeSnapshot(m.file, next); err != nil {
		return fmt.Errorf("install %s: %w", zone.Origin, err)
	}
	m.zones = next
	return nil
}

// Zone returns the installed zone with the given origin.
func (m *Mapped) Zone(origin string) (*ZoneData, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	z, ok := m.zones[dns.CanonicalName(origin)]
	return z, ok
}

// Zones returns the origins of all installed zones in sorted order.
func (m *Mapped) Zones() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.zones))
	for name := range m.zones {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// FindZone returns the closest enclosing zone of qname.
func (m *Mapped) FindZone(qname string) (*ZoneData, bool) {
	name := dns.CanonicalName(qname)

	m.mu.RLock()
	defer m.mu.RUnlock()

	for off := 0; ; {
		if z, ok := m.zones[name[off:]]; ok {
			return z, true
		}
		next, end := dns.NextLabel(name, off)
		if end {
			break
		}
		off = next
	}
	z, ok := m.zones["."]
	return z, ok
}

func readSnapshot(path string) (map[string]*ZoneData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", types.ErrSegmentNotFound, path)
		}
		return nil, fmt.Errorf("read segment file: %w", err)
	}

	var snap snapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", types.ErrSegmentCorrupt, path, err)
	}
	if snap.Zones == nil {
		snap.Zones = make(map[string]*ZoneData)
	}
	return snap.Zones, nil
}

// writeSnapshot writes the zone table using an atomic write (write to temp
// file, then rename). Its cost is linear in the size of the whole table,
// not of the zone being installed.
func writeSnapshot(path string, zones map[string]*ZoneData) error {
	data, err := msgpack.Marshal(&snapshot{Zones: zones})
	if err != nil {
		return fmt.Errorf("marshal segment: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".segment-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
