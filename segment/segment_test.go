package segment

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"jabberwocky238/jw238memmgr/internal/types"

	"github.com/miekg/dns"
)

func mustRR(t *testing.T, s string) dns.RR {
	t.Helper()
	rr, err := dns.NewRR(s)
	if err != nil {
		t.Fatalf("NewRR(%q): %v", s, err)
	}
	return rr
}

func testZone(t *testing.T, origin string) *ZoneData {
	t.Helper()
	z := NewZoneData(origin)
	for _, s := range []string{
		origin + " 3600 IN SOA ns1." + origin + " admin." + origin + " 1 3600 900 604800 86400",
		origin + " 3600 IN NS ns1." + origin,
		"www." + origin + " 300 IN A 192.0.2.1",
		"www." + origin + " 300 IN A 192.0.2.2",
	} {
		if err := z.Add(mustRR(t, s)); err != nil {
			t.Fatalf("Add(%q): %v", s, err)
		}
	}
	return z
}

func TestMapped_ResetModes(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "zone-IN-1-test-mapped.0")

	seg := NewMapped()

	err := seg.Reset(ReadWrite, Params{MappedFile: file})
	if !errors.Is(err, types.ErrSegmentNotFound) {
		t.Fatalf("Reset(ReadWrite) on missing file error = %v, want ErrSegmentNotFound", err)
	}
	if seg.Mode() != 0 {
		t.Errorf("Mode() after failed reset = %v, want detached", seg.Mode())
	}

	if err := seg.Reset(Create, Params{MappedFile: file}); err != nil {
		t.Fatalf("Reset(Create): %v", err)
	}
	if !seg.Writable() {
		t.Fatalf("segment should be writable after create")
	}
	if _, err := os.Stat(file); err != nil {
		t.Fatalf("segment file not created: %v", err)
	}

	if err := seg.Install(testZone(t, "example.com.")); err != nil {
		t.Fatalf("Install: %v", err)
	}

	// A second writer opening the existing file sees the installed zone.
	other := NewMapped()
	if err := other.Reset(ReadWrite, Params{MappedFile: file}); err != nil {
		t.Fatalf("Reset(ReadWrite): %v", err)
	}
	if got := other.Zones(); len(got) != 1 || got[0] != "example.com." {
		t.Errorf("Zones() = %v, want [example.com.]", got)
	}

	if err := seg.Reset(ReadOnly, Params{MappedFile: file}); err != nil {
		t.Fatalf("Reset(ReadOnly): %v", err)
	}
	if err := seg.Install(testZone(t, "example.org.")); !errors.Is(err, types.ErrSegmentNotWritable) {
		t.Errorf("Install on read-only segment error = %v, want ErrSegmentNotWritable", err)
	}

	if err := seg.Reset(ReadOnly, Params{}); err != nil {
		t.Fatalf("Reset(ReadOnly, detach): %v", err)
	}
	if len(seg.Zones()) != 0 || seg.File() != "" {
		t.Errorf("detached segment still has zones %v / file %q", seg.Zones(), seg.File())
	}
}

func TestMapped_ResetCorrupt(t *testing.T) {
	file := filepath.Join(t.TempDir(), "broken")
	if err := os.WriteFile(file, []byte{0xc1, 0xff, 0x00}, 0o644); err != nil {
		t.Fatal(err)
	}

	err := NewMapped().Reset(ReadWrite, Params{MappedFile: file})
	if !errors.Is(err, types.ErrSegmentCorrupt) {
		t.Errorf("Reset on corrupt file error = %v, want ErrSegmentCorrupt", err)
	}
}

func TestMapped_FindZone(t *testing.T) {
	file := filepath.Join(t.TempDir(), "seg")
	seg := NewMapped()
	if err := seg.Reset(Create, Params{MappedFile: file}); err != nil {
		t.Fatal(err)
	}
	for _, origin := range []string{"example.com.", "sub.example.com."} {
		if err := seg.Install(testZone(t, origin)); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		qname  string
		want   string
		wantOK bool
	}{
		{qname: "www.example.com.", want: "example.com.", wantOK: true},
		{qname: "WWW.Sub.Example.COM.", want: "sub.example.com.", wantOK: true},
		{qname: "example.com.", want: "example.com.", wantOK: true},
		{qname: "example.org.", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.qname, func(t *testing.T) {
			z, ok := seg.FindZone(tt.qname)
			if ok != tt.wantOK {
				t.Fatalf("FindZone(%q) ok = %v, want %v", tt.qname, ok, tt.wantOK)
			}
			if ok && z.Origin != tt.want {
				t.Errorf("FindZone(%q) = %q, want %q", tt.qname, z.Origin, tt.want)
			}
		})
	}
}

func TestZoneData_Lookup(t *testing.T) {
	z := testZone(t, "example.com.")

	rrs, exists := z.Lookup("www.example.com.", dns.TypeA)
	if !exists || len(rrs) != 2 {
		t.Fatalf("Lookup(www, A) = %d records, exists %v; want 2, true", len(rrs), exists)
	}
	if a, ok := rrs[0].(*dns.A); !ok || a.A.String() != "192.0.2.1" {
		t.Errorf("first A record = %v", rrs[0])
	}

	rrs, exists = z.Lookup("www.example.com.", dns.TypeAAAA)
	if !exists || len(rrs) != 0 {
		t.Errorf("Lookup(www, AAAA) = %v, exists %v; want NODATA", rrs, exists)
	}

	if _, exists = z.Lookup("nope.example.com.", dns.TypeA); exists {
		t.Errorf("Lookup(nope) reported existing name")
	}

	if soa := z.SOA(); soa == nil || soa.Serial != 1 {
		t.Errorf("SOA() = %v", soa)
	}
	if z.Count != 4 {
		t.Errorf("Count = %d, want 4", z.Count)
	}

	if err := z.Add(mustRR(t, "www.example.org. 300 IN A 192.0.2.9")); err == nil {
		t.Errorf("Add accepted an out-of-zone record")
	}
}

func TestMapped_InstallIsDurablePerZone(t *testing.T) {
	file := filepath.Join(t.TempDir(), "zone-IN-1-test-mapped.1")

	writer := NewMapped()
	if err := writer.Reset(Create, Params{MappedFile: file}); err != nil {
		t.Fatalf("Reset(Create): %v", err)
	}

	origins := []string{"a.example.", "b.example.", "c.example."}
	for i, origin := range origins {
		if err := writer.Install(testZone(t, origin)); err != nil {
			t.Fatalf("Install(%s): %v", origin, err)
		}

		// A reader opening the file now sees every zone installed so far.
		reader := NewMapped()
		if err := reader.Reset(ReadOnly, Params{MappedFile: file}); err != nil {
			t.Fatalf("Reset(ReadOnly) after %s: %v", origin, err)
		}
		got := reader.Zones()
		if len(got) != i+1 {
			t.Fatalf("zones after installing %s = %v, want %v", origin, got, origins[:i+1])
		}
		for j, want := range origins[:i+1] {
			if got[j] != want {
				t.Errorf("zones[%d] = %s, want %s", j, got[j], want)
			}
		}
	}
}
