package dns

import (
	"path/filepath"
	"testing"

	"jabberwocky238/jw238memmgr/segment"

	"github.com/miekg/dns"
)

func mustRR(t *testing.T, s string) dns.RR {
	t.Helper()
	rr, err := dns.NewRR(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return rr
}

// writeSegment builds a segment file holding one zone per origin.
func writeSegment(t *testing.T, zones map[string][]string) segment.Params {
	t.Helper()
	params := segment.Params{MappedFile: filepath.Join(t.TempDir(), "zone-IN-1-test-mapped.0")}
	seg := segment.NewMapped()
	if err := seg.Reset(segment.Create, params); err != nil {
		t.Fatalf("create segment: %v", err)
	}
	for origin, records := range zones {
		z := segment.NewZoneData(origin)
		for _, r := range records {
			if err := z.Add(mustRR(t, r)); err != nil {
				t.Fatalf("add %q: %v", r, err)
			}
		}
		if err := seg.Install(z); err != nil {
			t.Fatalf("install %s: %v", origin, err)
		}
	}
	return params
}

var exampleZone = []string{
	"example.com. 300 IN SOA ns1.example.com. admin.example.com. 1 3600 900 604800 86400",
	"example.com. 300 IN NS ns1.example.com.",
	"ns1.example.com. 300 IN A 192.0.2.53",
	"www.example.com. 300 IN A 192.0.2.1",
	"www.example.com. 300 IN A 192.0.2.2",
	"alias.example.com. 300 IN CNAME www.example.com.",
	"outside.example.com. 300 IN CNAME api.example.org.",
	"loop1.example.com. 300 IN CNAME loop2.example.com.",
	"loop2.example.com. 300 IN CNAME loop1.example.com.",
	"txt.example.com. 300 IN TXT \"hello\"",
}

var exampleOrgZone = []string{
	"example.org. 300 IN SOA ns1.example.org. admin.example.org. 1 3600 900 604800 86400",
	"api.example.org. 300 IN A 198.51.100.7",
}

// newTestStore returns a store serving example.com and example.org from
// two data sources.
func newTestStore(t *testing.T) *ZoneStore {
	t.Helper()
	store := NewZoneStore("test")
	if err := store.ResetSegment(dns.ClassINET, "com", writeSegment(t, map[string][]string{"example.com.": exampleZone})); err != nil {
		t.Fatal(err)
	}
	if err := store.ResetSegment(dns.ClassINET, "org", writeSegment(t, map[string][]string{"example.org.": exampleOrgZone})); err != nil {
		t.Fatal(err)
	}
	return store
}
