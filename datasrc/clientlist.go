package datasrc

import (
	"database/sql"
	"fmt"
	"log/slog"

	"jabberwocky238/jw238memmgr/internal/types"
	"jabberwocky238/jw238memmgr/segment"
)

// Options tunes client list construction.
type Options struct {
	// LoadStep is the number of records a writer copies per step.
	LoadStep int
	// OpenDB opens PostgreSQL data sources; defaults to OpenPostgreSQL.
	OpenDB func(dsn string) (*sql.DB, error)
}

// SourceStatus describes one data source of a ClientList.
type SourceStatus struct {
	Name        string
	SegmentType string // "" when the source is not cached
}

// ClientList is the ordered set of data source clients of one RR class.
type ClientList struct {
	class    uint16
	loadStep int
	sources  []*client
}

type client struct {
	name        string
	segmentType string
	source      Source
	segment     *segment.Mapped // nil unless segmentType is CacheMapped
}

// NewClientList returns an empty list for class.
func NewClientList(class uint16, loadStep int) *ClientList {
	if loadStep <= 0 {
		loadStep = DefaultLoadStep
	}
	return &ClientList{class: class, loadStep: loadStep}
}

// NewClientLists builds one ClientList per configured class.
func NewClientLists(cfg *Config, opts Options) (map[uint16]*ClientList, error) {
	if opts.OpenDB == nil {
		opts.OpenDB = OpenPostgreSQL
	}

	lists := make(map[uint16]*ClientList, len(cfg.Classes))
	for className, sources := range cfg.Classes {
		class, err := types.ParseClass(className)
		if err != nil {
			closeAll(lists)
			return nil, err
		}
		list := NewClientList(class, opts.LoadStep)
		lists[class] = list

		for _, sc := range sources {
			src, err := openSource(class, sc, opts)
			if err != nil {
				closeAll(lists)
				return nil, fmt.Errorf("class %s: data source %q: %w", className, sc.SourceName(), err)
			}
			list.Add(sc.SourceName(), sc.SegmentType(), src)
		}
	}
	return lists, nil
}

func openSource(class uint16, sc SourceConfig, opts Options) (Source, error) {
	switch sc.Type {
	case TypeMasterFiles:
		return NewMasterFilesSource(sc.Params)
	case TypePostgreSQL:
		db, err := opts.OpenDB(sc.DSN)
		if err != nil {
			return nil, err
		}
		return NewPostgreSQLSource(db, class, sc.ZonesTable, sc.RecordsTable), nil
	case TypeStatic:
		return NewBindSource(class, sc.Params)
	default:
		return nil, fmt.Errorf("unknown data source type %q", sc.Type)
	}
}

func closeAll(lists map[uint16]*ClientList) {
	for _, l := range lists {
		l.Close()
	}
}

// Add appends a data source. A segmentType of CacheMapped gives it a
// mapped memory segment.
func (l *ClientList) Add(name, segmentType string, src Source) {
	c := &client{name: name, segmentType: segmentType, source: src}
	if segmentType == CacheMapped {
		c.segment = segment.NewMapped()
	}
	l.sources = append(l.sources, c)
}

// Class returns the RR class of the list.
func (l *ClientList) Class() uint16 {
	return l.class
}

// Status lists the data sources in configuration order.
func (l *ClientList) Status() []SourceStatus {
	out := make([]SourceStatus, 0, len(l.sources))
	for _, c := range l.sources {
		out = append(out, SourceStatus{Name: c.name, SegmentType: c.segmentType})
	}
	return out
}

func (l *ClientList) lookup(name string) (*client, error) {
	for _, c := range l.sources {
		if c.name == name {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %s/%s", types.ErrDataSourceNotFound, types.ClassString(l.class), name)
}

func (l *ClientList) cached(name string) (*client, error) {
	c, err := l.lookup(name)
	if err != nil {
		return nil, err
	}
	if c.segment == nil {
		return nil, fmt.Errorf("%w: %s", types.ErrNotCached, name)
	}
	return c, nil
}

// ResetMemorySegment reopens the memory segment of a data source.
func (l *ClientList) ResetMemorySegment(dataSource string, mode segment.Mode, params segment.Params) error {
	c, err := l.cached(dataSource)
	if err != nil {
		return err
	}
	return c.segment.Reset(mode, params)
}

// Segment returns the memory segment of a data source.
func (l *ClientList) Segment(dataSource string) (*segment.Mapped, error) {
	c, err := l.cached(dataSource)
	if err != nil {
		return nil, err
	}
	return c.segment, nil
}

// ZoneTable returns every zone the data source serves.
func (l *ClientList) ZoneTable(dataSource string) ([]string, error) {
	c, err := l.lookup(dataSource)
	if err != nil {
		return nil, err
	}
	return c.source.Zones()
}

// GetCachedWriter returns a writer loading zone into the data source's
// segment. The segment must have been reset writable beforehand for
// Install to succeed.
func (l *ClientList) GetCachedWriter(zone, dataSource string) (ZoneWriter, error) {
	c, err := l.cached(dataSource)
	if err != nil {
		return nil, err
	}
	name, err := types.CanonicalZone(zone)
	if err != nil {
		return nil, err
	}
	iter, err := c.source.Iterate(name)
	if err != nil {
		return nil, err
	}
	return newSegmentWriter(c.segment, name, iter, l.loadStep), nil
}

// Close releases every data source.
func (l *ClientList) Close() {
	for _, c := range l.sources {
		if err := c.source.Close(); err != nil {
			slog.Warn("close data source", "datasrc", c.name, "error", err)
		}
	}
}
