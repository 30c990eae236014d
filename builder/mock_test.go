package builder

import (
	"errors"
	"fmt"
	"sync"

	"jabberwocky238/jw238memmgr/datasrc"
	"jabberwocky238/jw238memmgr/segment"
)

// bogusCommand is a command the builder does not know.
type bogusCommand struct{}

func (bogusCommand) command() string { return "bad_command" }

// fakeContext is a segment context whose identity is its token.
type fakeContext struct {
	token *token
	clist *fakeClientList
}

var (
	ctxMu    sync.Mutex
	contexts = map[*token]*fakeContext{}
)

// ctxFor returns the one context wrapping tok, so contexts built from the
// same token compare equal.
func ctxFor(tok *token) *fakeContext {
	ctxMu.Lock()
	defer ctxMu.Unlock()
	if c, ok := contexts[tok]; ok {
		return c
	}
	c := &fakeContext{token: tok}
	contexts[tok] = c
	return c
}

func (c *fakeContext) GenerationID() int { return 42 }

func (c *fakeContext) ClientList(class uint16) (ClientList, error) {
	if c.clist == nil {
		return nil, errors.New("no client list")
	}
	return c.clist, nil
}

func (c *fakeContext) WriterParams(class uint16, dataSource string) (segment.Params, error) {
	return segment.Params{MappedFile: "/nonexistent/" + dataSource}, nil
}

// fakeClientList mocks the data source client list and hands out a single
// shared fakeWriter.
type fakeClientList struct {
	mu sync.Mutex

	resetOK     bool
	createOK    bool
	panicReset  bool // ReadWrite and Create resets panic
	readOnlyErr error
	resets      []segment.Mode

	panicZoneTable bool

	writerErr error
	zoneTable []string
	writer    *fakeWriter
	acquired  []string
}

func newFakeClientList() *fakeClientList {
	return &fakeClientList{resetOK: true, writer: &fakeWriter{}}
}

func (l *fakeClientList) ResetMemorySegment(dataSource string, mode segment.Mode, params segment.Params) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resets = append(l.resets, mode)

	switch {
	case mode == segment.ReadOnly:
		return l.readOnlyErr
	case l.panicReset:
		panic("segment exploded")
	case l.resetOK:
		return nil
	case l.createOK && mode == segment.Create:
		return nil
	}
	return fmt.Errorf("reset %s failed", mode)
}

func (l *fakeClientList) ZoneTable(dataSource string) ([]string, error) {
	if l.panicZoneTable {
		panic("zone table exploded")
	}
	return l.zoneTable, nil
}

func (l *fakeClientList) GetCachedWriter(zone, dataSource string) (datasrc.ZoneWriter, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.acquired = append(l.acquired, zone)
	if l.writerErr != nil {
		return nil, l.writerErr
	}
	return l.writer, nil
}

func (l *fakeClientList) resetCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.resets)
}

// fakeWriter counts calls. With twice set, the first Load reports more
// work remaining.
type fakeWriter struct {
	twice      bool
	loadErr    error
	installErr error
	panicLoad    bool
	panicCleanup bool
	onLoad       func(call int)

	loads    int
	installs int
	cleanups int
}

func (w *fakeWriter) Load() (bool, error) {
	w.loads++
	if w.onLoad != nil {
		w.onLoad(w.loads)
	}
	if w.panicLoad {
		panic("writer exploded")
	}
	if w.loadErr != nil {
		return false, w.loadErr
	}
	if w.twice && w.loads == 1 {
		return false, nil
	}
	return true, nil
}

func (w *fakeWriter) Install() error {
	if w.installErr != nil {
		return w.installErr
	}
	w.installs++
	return nil
}

func (w *fakeWriter) Cleanup() {
	w.cleanups++
	if w.panicCleanup {
		panic("cleanup exploded")
	}
}

// countingWaker records wake-ups.
type countingWaker struct {
	mu sync.Mutex
	n  int
}

func (w *countingWaker) Wake() {
	w.mu.Lock()
	w.n++
	w.mu.Unlock()
}

func (w *countingWaker) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.n
}
