package segment

import (
	"errors"
	"fmt"

	"github.com/miekg/dns"
)

// RRset holds the wire-format records of one type at one owner name.
type RRset struct {
	Type uint16   `msgpack:"type"`
	RRs  [][]byte `msgpack:"rrs"`
}

// ZoneData is the in-segment representation of a single zone. Records are
// kept in uncompressed wire format keyed by canonical owner name.
type ZoneData struct {
	Origin string              `msgpack:"origin"`
	Nodes  map[string][]*RRset `msgpack:"nodes"`
	Count  int                 `msgpack:"count"`
}

// NewZoneData returns an empty zone rooted at origin.
func NewZoneData(origin string) *ZoneData {
	return &ZoneData{
		Origin: dns.CanonicalName(origin),
		Nodes:  make(map[string][]*RRset),
	}
}

// Add stores rr in the zone. Records outside the zone are rejected.
func (z *ZoneData) Add(rr dns.RR) error {
	owner := dns.CanonicalName(rr.Header().Name)
	if !dns.IsSubDomain(z.Origin, owner) {
		return fmt.Errorf("record %s is out of zone %s", owner, z.Origin)
	}

	buf := make([]byte, 512)
	off, err := dns.PackRR(rr, buf, 0, nil, false)
	if errors.Is(err, dns.ErrBuf) {
		buf = make([]byte, dns.MaxMsgSize)
		off, err = dns.PackRR(rr, buf, 0, nil, false)
	}
	if err != nil {
		return fmt.Errorf("pack %s: %w", owner, err)
	}
	wire := append([]byte(nil), buf[:off]...)

	rrtype := rr.Header().Rrtype
	for _, set := range z.Nodes[owner] {
		if set.Type == rrtype {
			set.RRs = append(set.RRs, wire)
			z.Count++
			return nil
		}
	}
	z.Nodes[owner] = append(z.Nodes[owner], &RRset{Type: rrtype, RRs: [][]byte{wire}})
	z.Count++
	return nil
}

// Lookup returns the records of qtype at name. The second result reports
// whether name exists in the zone at all, so callers can tell NXDOMAIN from
// NODATA.
func (z *ZoneData) Lookup(name string, qtype uint16) ([]dns.RR, bool) {
	sets, ok := z.Nodes[dns.CanonicalName(name)]
	if !ok {
		return nil, false
	}

	var out []dns.RR
	for _, set := range sets {
		if set.Type != qtype && qtype != dns.TypeANY {
			continue
		}
		for _, wire := range set.RRs {
			rr, _, err := dns.UnpackRR(wire, 0)
			if err != nil {
				continue
			}
			out = append(out, rr)
		}
	}
	return out, true
}

// SOA returns the zone's SOA record, if any.
func (z *ZoneData) SOA() *dns.SOA {
	rrs, _ := z.Lookup(z.Origin, dns.TypeSOA)
	for _, rr := range rrs {
		if soa, ok := rr.(*dns.SOA); ok {
			return soa
		}
	}
	return nil
}
