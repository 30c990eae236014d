package memmgr

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/miekg/dns"

	"jabberwocky238/jw238memmgr/datasrc"
	"jabberwocky238/jw238memmgr/internal/types"
	"jabberwocky238/jw238memmgr/segment"
)

const testZone = `$TTL 300
@       IN SOA ns1.example.com. admin.example.com. 1 3600 900 604800 86400
@       IN NS  ns1.example.com.
ns1     IN A   192.0.2.53
www     IN A   192.0.2.1
`

// recordingReader remembers every reset it is asked for.
type recordingReader struct {
	id   string
	fail bool

	mu     sync.Mutex
	resets []segment.Params
}

func (r *recordingReader) ID() string { return r.id }

func (r *recordingReader) ResetSegment(class uint16, dataSource string, params segment.Params) error {
	if r.fail {
		return errors.New("reader is broken")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resets = append(r.resets, params)
	return nil
}

func (r *recordingReader) history() []segment.Params {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]segment.Params, len(r.resets))
	copy(out, r.resets)
	return out
}

func writeZone(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write zone file: %v", err)
	}
}

func testConfig(zoneFile string) *datasrc.Config {
	return &datasrc.Config{Classes: map[string][]datasrc.SourceConfig{
		"IN": {{
			Name:        "zones",
			Type:        datasrc.TypeMasterFiles,
			CacheEnable: true,
			CacheType:   datasrc.CacheMapped,
			Params:      map[string]string{"example.com": zoneFile},
		}},
	}}
}

func startManager(t *testing.T) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	m := New(Config{MappedFileDir: filepath.Join(dir, "mapped"), LoadStep: 2}, nil)
	if err := m.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(m.Stop)
	return m, dir
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func waitReady(t *testing.T, m *Manager, gen int) {
	t.Helper()
	waitFor(t, "segment ready", func() bool {
		st := m.Status()
		return st.Generation == gen && len(st.Segments) == 1 && st.Segments[0].State == "READY"
	})
}

func lookupA(t *testing.T, file, name string) []dns.RR {
	t.Helper()
	seg := segment.NewMapped()
	if err := seg.Reset(segment.ReadOnly, segment.Params{MappedFile: file}); err != nil {
		t.Fatalf("open %s: %v", file, err)
	}
	zone, ok := seg.Zone("example.com.")
	if !ok {
		t.Fatalf("%s has no example.com.", file)
	}
	rrs, _ := zone.Lookup(name, dns.TypeA)
	return rrs
}

func TestManager_InitialLoad(t *testing.T) {
	m, dir := startManager(t)
	zoneFile := filepath.Join(dir, "example.com.zone")
	writeZone(t, zoneFile, testZone)

	reader := &recordingReader{id: "auth"}
	if err := m.AddReader(reader); err != nil {
		t.Fatal(err)
	}
	if err := m.Reconfigure(testConfig(zoneFile)); err != nil {
		t.Fatalf("Reconfigure() error = %v", err)
	}
	waitReady(t, m, 1)

	base := filepath.Join(dir, "mapped", "zone-IN-1-zones-mapped")
	resets := reader.history()
	if len(resets) != 2 {
		t.Fatalf("reader resets = %v, want 2", resets)
	}
	if resets[0].MappedFile != "" {
		t.Errorf("first reset = %+v, want detached", resets[0])
	}
	if resets[1].MappedFile != base+".1" {
		t.Errorf("second reset = %q, want %q", resets[1].MappedFile, base+".1")
	}

	// Both versions of the pair carry the zone.
	for _, file := range []string{base + ".0", base + ".1"} {
		if rrs := lookupA(t, file, "www.example.com."); len(rrs) != 1 {
			t.Errorf("%s: www A = %v, want 1 record", file, rrs)
		}
	}

	st := m.Status()
	if !st.Running || st.GenerationID == "" {
		t.Errorf("status = %+v", st)
	}
	seg := st.Segments[0]
	if seg.Class != "IN" || seg.DataSource != "zones" || seg.ReaderFile != base+".1" || seg.WriterFile != base+".0" {
		t.Errorf("segment status = %+v", seg)
	}
	if len(seg.Readers) != 1 || seg.Readers[0] != "auth" {
		t.Errorf("segment readers = %v", seg.Readers)
	}
}

func TestManager_Reload(t *testing.T) {
	m, dir := startManager(t)
	zoneFile := filepath.Join(dir, "example.com.zone")
	writeZone(t, zoneFile, testZone)
	reader := &recordingReader{id: "auth"}
	if err := m.AddReader(reader); err != nil {
		t.Fatal(err)
	}
	if err := m.Reconfigure(testConfig(zoneFile)); err != nil {
		t.Fatal(err)
	}
	waitReady(t, m, 1)

	writeZone(t, zoneFile, testZone+"www IN A 192.0.2.2\n")
	if err := m.Reload(dns.ClassINET, "zones", "Example.COM"); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	waitReady(t, m, 1)

	base := filepath.Join(dir, "mapped", "zone-IN-1-zones-mapped")
	resets := reader.history()
	if last := resets[len(resets)-1]; last.MappedFile != base+".0" {
		t.Errorf("last reset = %q, want %q", last.MappedFile, base+".0")
	}
	for _, file := range []string{base + ".0", base + ".1"} {
		if rrs := lookupA(t, file, "www.example.com."); len(rrs) != 2 {
			t.Errorf("%s: www A = %v, want 2 records", file, rrs)
		}
	}
}

func TestManager_ReloadErrors(t *testing.T) {
	idle := New(Config{MappedFileDir: t.TempDir()}, nil)
	if err := idle.Reload(dns.ClassINET, "zones", ""); !errors.Is(err, types.ErrNotRunning) {
		t.Errorf("Reload() before Start error = %v", err)
	}

	m, dir := startManager(t)
	if err := m.Reload(dns.ClassINET, "zones", ""); !errors.Is(err, types.ErrNoConfig) {
		t.Errorf("Reload() before Reconfigure error = %v", err)
	}

	zoneFile := filepath.Join(dir, "example.com.zone")
	writeZone(t, zoneFile, testZone)
	if err := m.Reconfigure(testConfig(zoneFile)); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		class   uint16
		datasrc string
		zone    string
		wantErr error
	}{
		{name: "unknown data source", class: dns.ClassINET, datasrc: "nope", wantErr: types.ErrNotCached},
		{name: "unknown class", class: dns.ClassCHAOS, datasrc: "zones", wantErr: types.ErrNotCached},
		{name: "bad zone name", class: dns.ClassINET, datasrc: "zones", zone: "bad..name", wantErr: types.ErrInvalidName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := m.Reload(tt.class, tt.datasrc, tt.zone); !errors.Is(err, tt.wantErr) {
				t.Errorf("Reload() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestManager_Reconfigure(t *testing.T) {
	m, dir := startManager(t)
	zoneFile := filepath.Join(dir, "example.com.zone")
	writeZone(t, zoneFile, testZone)

	if err := m.Reconfigure(testConfig(zoneFile)); err != nil {
		t.Fatal(err)
	}
	if err := m.Reconfigure(testConfig(zoneFile)); err != nil {
		t.Fatal(err)
	}
	waitReady(t, m, 2)
	waitFor(t, "old generation released", func() bool { return m.Status().Retiring == 0 })

	base := filepath.Join(dir, "mapped", "zone-IN-2-zones-mapped")
	if rrs := lookupA(t, base+".1", "ns1.example.com."); len(rrs) != 1 {
		t.Errorf("ns1 A = %v, want 1 record", rrs)
	}

	bad := &datasrc.Config{Classes: map[string][]datasrc.SourceConfig{"XX": nil}}
	if err := m.Reconfigure(bad); !errors.Is(err, types.ErrInvalidClass) {
		t.Errorf("Reconfigure(bad class) error = %v", err)
	}
	if gen := m.Status().Generation; gen != 2 {
		t.Errorf("generation after failed Reconfigure = %d, want 2", gen)
	}
}

func TestManager_Cancel(t *testing.T) {
	m, dir := startManager(t)
	if err := m.Cancel(); !errors.Is(err, types.ErrNoConfig) {
		t.Errorf("Cancel() without config error = %v", err)
	}

	zoneFile := filepath.Join(dir, "example.com.zone")
	writeZone(t, zoneFile, testZone)
	if err := m.Reconfigure(testConfig(zoneFile)); err != nil {
		t.Fatal(err)
	}
	if err := m.Cancel(); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	waitFor(t, "generation released", func() bool {
		st := m.Status()
		return st.Retiring == 0 && st.Generation == 0 && st.PendingCommands == 0
	})
	if err := m.Reload(dns.ClassINET, "zones", ""); !errors.Is(err, types.ErrNoConfig) {
		t.Errorf("Reload() after Cancel error = %v", err)
	}
}

func TestManager_Readers(t *testing.T) {
	m, dir := startManager(t)
	zoneFile := filepath.Join(dir, "example.com.zone")
	writeZone(t, zoneFile, testZone)

	good := &recordingReader{id: "good"}
	broken := &recordingReader{id: "broken", fail: true}
	for _, r := range []*recordingReader{good, broken} {
		if err := m.AddReader(r); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.AddReader(good); !errors.Is(err, types.ErrBadState) {
		t.Errorf("duplicate AddReader() error = %v", err)
	}

	if err := m.Reconfigure(testConfig(zoneFile)); err != nil {
		t.Fatal(err)
	}
	waitReady(t, m, 1)

	// The broken reader was dropped from the segment on its first reset.
	if got := m.Status().Segments[0].Readers; len(got) != 1 || got[0] != "good" {
		t.Errorf("segment readers = %v, want [good]", got)
	}

	// A late reader gets the validated reader version immediately.
	late := &recordingReader{id: "late"}
	if err := m.AddReader(late); err != nil {
		t.Fatal(err)
	}
	base := filepath.Join(dir, "mapped", "zone-IN-1-zones-mapped")
	if h := late.history(); len(h) != 1 || h[0].MappedFile != base+".1" {
		t.Errorf("late reader resets = %v", h)
	}

	if err := m.RemoveReader("late"); err != nil {
		t.Errorf("RemoveReader() error = %v", err)
	}
	if err := m.RemoveReader("late"); !errors.Is(err, types.ErrUnknownReader) {
		t.Errorf("second RemoveReader() error = %v", err)
	}
	if got := m.Status().Segments[0].State; got != "READY" {
		t.Errorf("state after RemoveReader() = %s", got)
	}
}

func TestManager_StartStop(t *testing.T) {
	m := New(Config{MappedFileDir: filepath.Join(t.TempDir(), "mapped")}, nil)
	m.Stop()
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	if err := m.Start(); err == nil {
		t.Error("second Start() error = nil")
	}
	m.Stop()
	m.Stop()
	if m.Status().Running {
		t.Error("Running after Stop()")
	}
	if err := m.Reconfigure(&datasrc.Config{}); !errors.Is(err, types.ErrNotRunning) {
		t.Errorf("Reconfigure() after Stop error = %v", err)
	}
}
