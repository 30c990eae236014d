package dns

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"jabberwocky238/jw238memmgr/internal/types"
	"jabberwocky238/jw238memmgr/segment"

	"github.com/miekg/dns"
)

// ZoneStore holds the read-only segments the server answers from, one per
// (class, data source). It is the DNS server's segment reader: the memory
// manager resets it whenever a new reader version is ready.
type ZoneStore struct {
	id string

	mu       sync.RWMutex
	segments map[types.SegmentKey]*segment.Mapped
}

// NewZoneStore creates an empty store identified as id.
func NewZoneStore(id string) *ZoneStore {
	return &ZoneStore{
		id:       id,
		segments: make(map[types.SegmentKey]*segment.Mapped),
	}
}

// ID identifies the store to the memory manager.
func (s *ZoneStore) ID() string {
	return s.id
}

// ResetSegment switches a data source to the segment file in params. An
// empty file drops the data source. The previous segment keeps serving
// if the new one cannot be opened.
func (s *ZoneStore) ResetSegment(class uint16, dataSource string, params segment.Params) error {
	key := types.SegmentKey{Class: class, DataSource: dataSource}
	if params.MappedFile == "" {
		s.mu.Lock()
		delete(s.segments, key)
		s.mu.Unlock()
		slog.Info("reader segment detached", "segment", key.String())
		return nil
	}

	seg := segment.NewMapped()
	if err := seg.Reset(segment.ReadOnly, params); err != nil {
		return fmt.Errorf("reset reader segment %s: %w", key, err)
	}

	s.mu.Lock()
	s.segments[key] = seg
	s.mu.Unlock()

	slog.Info("reader segment switched",
		"segment", key.String(),
		"file", params.MappedFile,
		"zones", len(seg.Zones()),
	)
	return nil
}

// FindZone returns the closest enclosing zone of qname among the data
// sources of class. On equally close zones the data source whose name
// sorts first wins.
func (s *ZoneStore) FindZone(class uint16, qname string) (*segment.ZoneData, bool) {
	s.mu.RLock()
	keys := make([]types.SegmentKey, 0, len(s.segments))
	for k := range s.segments {
		if k.Class == class {
			keys = append(keys, k)
		}
	}
	segs := make([]*segment.Mapped, 0, len(keys))
	sort.Slice(keys, func(i, j int) bool { return keys[i].DataSource < keys[j].DataSource })
	for _, k := range keys {
		segs = append(segs, s.segments[k])
	}
	s.mu.RUnlock()

	var best *segment.ZoneData
	for _, seg := range segs {
		z, ok := seg.FindZone(qname)
		if !ok {
			continue
		}
		if best == nil || dns.CountLabel(z.Origin) > dns.CountLabel(best.Origin) {
			best = z
		}
	}
	return best, best != nil
}

// Segments lists the data sources currently served.
func (s *ZoneStore) Segments() []types.SegmentKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.SegmentKey, 0, len(s.segments))
	for k := range s.segments {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Class != out[j].Class {
			return out[i].Class < out[j].Class
		}
		return out[i].DataSource < out[j].DataSource
	})
	return out
}
