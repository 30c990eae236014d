package dns

import (
	"context"
	"log/slog"

	"jabberwocky238/jw238memmgr/internal/types"
	"jabberwocky238/jw238memmgr/segment"

	"github.com/miekg/dns"
)

// ZoneFinder locates the zone answering a name.
type ZoneFinder interface {
	FindZone(class uint16, qname string) (*segment.ZoneData, bool)
}

// DNSBackend resolves queries against the loaded zones.
type DNSBackend interface {
	Resolve(ctx context.Context, query *types.QueryInfo) *Result
}

// Result is the outcome of resolving one question.
type Result struct {
	Rcode  int
	Answer []dns.RR
	Ns     []dns.RR
	// Authoritative is false when no loaded zone covers the name.
	Authoritative bool
}

// BackendConfig holds configurable behaviour for the Backend.
type BackendConfig struct {
	ResolveCNAMEChain   bool // Follow CNAME chains
	MaxCNAMEDepth       int  // Maximum CNAME chain depth
	ReturnSOAOnNXDOMAIN bool // Attach SOA to NXDOMAIN and NODATA responses
	ReturnNSOnAnswer    bool // Attach the zone's NS records to answers
}

// DefaultBackendConfig returns a BackendConfig with sensible defaults.
func DefaultBackendConfig() BackendConfig {
	return BackendConfig{
		ResolveCNAMEChain:   true,
		MaxCNAMEDepth:       10,
		ReturnSOAOnNXDOMAIN: true,
		ReturnNSOnAnswer:    true,
	}
}

// Backend implements DNSBackend over a ZoneFinder.
type Backend struct {
	zones  ZoneFinder
	config BackendConfig
}

// NewBackend creates a Backend answering from zones.
func NewBackend(zones ZoneFinder, cfg BackendConfig) *Backend {
	return &Backend{zones: zones, config: cfg}
}

// Resolve answers query from the closest enclosing zone. Names outside
// every loaded zone are REFUSED.
func (b *Backend) Resolve(_ context.Context, query *types.QueryInfo) *Result {
	zone, ok := b.zones.FindZone(query.Class, query.Domain)
	if !ok {
		return &Result{Rcode: dns.RcodeRefused}
	}
	res := &Result{Rcode: dns.RcodeSuccess, Authoritative: true}

	rrs, exists := zone.Lookup(query.Domain, query.Type)
	if len(rrs) > 0 {
		res.Answer = rrs
		b.addNS(res, zone, query.Type)
		return res
	}

	if b.config.ResolveCNAMEChain && query.Type != dns.TypeCNAME && query.Type != dns.TypeANY {
		if chain := b.resolveCNAMEChain(query.Class, zone, query.Domain, query.Type, 0); len(chain) > 0 {
			res.Answer = chain
			return res
		}
	}

	if !exists {
		res.Rcode = dns.RcodeNameError
	}
	if b.config.ReturnSOAOnNXDOMAIN {
		if soa := zone.SOA(); soa != nil {
			res.Ns = append(res.Ns, soa)
		}
	}
	return res
}

func (b *Backend) addNS(res *Result, zone *segment.ZoneData, qtype uint16) {
	if !b.config.ReturnNSOnAnswer || qtype == dns.TypeNS || qtype == dns.TypeANY {
		return
	}
	ns, _ := zone.Lookup(zone.Origin, dns.TypeNS)
	res.Ns = append(res.Ns, ns...)
}

// resolveCNAMEChain follows CNAME records up to MaxCNAMEDepth, collecting
// the CNAME records and the final target records of the requested type.
// Targets may live in any loaded zone of the class.
func (b *Backend) resolveCNAMEChain(class uint16, zone *segment.ZoneData, name string, qtype uint16, depth int) []dns.RR {
	if depth >= b.config.MaxCNAMEDepth {
		slog.Warn("CNAME chain depth exceeded", "domain", name, "depth", depth)
		return nil
	}

	rrs, _ := zone.Lookup(name, dns.TypeCNAME)
	if len(rrs) == 0 {
		return nil
	}
	cname, ok := rrs[0].(*dns.CNAME)
	if !ok {
		return nil
	}
	result := []dns.RR{cname}

	next, ok := b.zones.FindZone(class, cname.Target)
	if !ok {
		return result
	}
	if target, _ := next.Lookup(cname.Target, qtype); len(target) > 0 {
		return append(result, target...)
	}
	return append(result, b.resolveCNAMEChain(class, next, cname.Target, qtype, depth+1)...)
}
