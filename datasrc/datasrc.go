// Package datasrc provides the data source clients the memory manager loads
// zones from, grouped into one ClientList per RR class, and the zone
// writers that copy zone data into memory segments step by step.
package datasrc

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"jabberwocky238/jw238memmgr/internal/types"

	"github.com/miekg/dns"
)

// DefaultLoadStep is the number of records a writer copies per Load call.
const DefaultLoadStep = 1000

// ZoneWriter loads one zone into a writable segment in bounded steps.
type ZoneWriter interface {
	// Load copies the next batch of records. It returns true once the
	// whole zone has been read.
	Load() (bool, error)
	// Install makes the loaded zone visible in the segment.
	Install() error
	// Cleanup releases the writer. It is safe to call more than once.
	Cleanup()
}

// Source is the backend a data source reads zones from.
type Source interface {
	// Zones returns the canonical names of all zones in the source.
	Zones() ([]string, error)
	// Iterate returns an iterator over the records of zone.
	Iterate(zone string) (RRIterator, error)
	Close() error
}

// RRIterator yields the records of one zone; Next returns io.EOF at the end.
type RRIterator interface {
	Next() (dns.RR, error)
	Close() error
}

// sliceIterator iterates over records already in memory.
type sliceIterator struct {
	rrs []dns.RR
}

func (it *sliceIterator) Next() (dns.RR, error) {
	if len(it.rrs) == 0 {
		return nil, io.EOF
	}
	rr := it.rrs[0]
	it.rrs = it.rrs[1:]
	return rr, nil
}

func (it *sliceIterator) Close() error { return nil }

// StaticSource serves zones from records held in memory.
type StaticSource struct {
	zones map[string][]dns.RR
}

// NewStaticSource builds a source from zone name -> records.
func NewStaticSource(zones map[string][]dns.RR) *StaticSource {
	s := &StaticSource{zones: make(map[string][]dns.RR, len(zones))}
	for name, rrs := range zones {
		s.zones[dns.CanonicalName(name)] = rrs
	}
	return s
}

// Zones returns the zone names in sorted order.
func (s *StaticSource) Zones() ([]string, error) {
	out := make([]string, 0, len(s.zones))
	for name := range s.zones {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// Iterate returns an iterator over a copy of the zone's records.
func (s *StaticSource) Iterate(zone string) (RRIterator, error) {
	rrs, ok := s.zones[dns.CanonicalName(zone)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrZoneNotFound, zone)
	}
	return &sliceIterator{rrs: append([]dns.RR(nil), rrs...)}, nil
}

// Close is a no-op.
func (s *StaticSource) Close() error { return nil }

// NewBindSource builds the server information zone "bind." answering
// version.bind and authors.bind TXT queries, usually configured for
// class CH.
func NewBindSource(class uint16, params map[string]string) (*StaticSource, error) {
	version := params["version"]
	if version == "" {
		version = "jw238memmgr"
	}
	authors := params["authors"]
	if authors == "" {
		authors = "jabberwocky238"
	}

	cls := types.ClassString(class)
	lines := []string{
		"bind. 0 " + cls + " SOA bind. hostmaster.bind. 0 28800 7200 604800 86400",
		"bind. 0 " + cls + " NS bind.",
		"version.bind. 0 " + cls + " TXT " + strconv.Quote(version),
		"authors.bind. 0 " + cls + " TXT " + strconv.Quote(authors),
	}
	rrs := make([]dns.RR, 0, len(lines))
	for _, line := range lines {
		rr, err := dns.NewRR(line)
		if err != nil {
			return nil, fmt.Errorf("static zone record %q: %w", line, err)
		}
		rrs = append(rrs, rr)
	}
	return NewStaticSource(map[string][]dns.RR{"bind.": rrs}), nil
}
