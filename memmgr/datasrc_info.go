package memmgr

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"jabberwocky238/jw238memmgr/builder"
	"jabberwocky238/jw238memmgr/datasrc"
	"jabberwocky238/jw238memmgr/internal/types"
	"jabberwocky238/jw238memmgr/segment"
)

// DataSrcInfo is one generation of data source configuration: the client
// lists of every class and the segment info of every mapped data source.
// The mappings never change after construction; a new configuration
// produces a new DataSrcInfo. It is the builder's segment context and the
// token its commands are cancelled by.
type DataSrcInfo struct {
	ID    uuid.UUID
	GenID int

	clients  map[uint16]*datasrc.ClientList
	segments map[types.SegmentKey]*SegmentInfo
}

var _ builder.SegmentContext = (*DataSrcInfo)(nil)

// NewDataSrcInfo creates the segment infos for every data source of
// clients cached in a mapped segment. Sources that are not cached, or use
// local segments, are not managed.
func NewDataSrcInfo(genID int, clients map[uint16]*datasrc.ClientList, mappedDir string, log *slog.Logger) (*DataSrcInfo, error) {
	d := &DataSrcInfo{
		ID:       uuid.New(),
		GenID:    genID,
		clients:  clients,
		segments: make(map[types.SegmentKey]*SegmentInfo),
	}
	for class, list := range clients {
		for _, st := range list.Status() {
			switch st.SegmentType {
			case datasrc.CacheMapped:
				key := types.SegmentKey{Class: class, DataSource: st.Name}
				d.segments[key] = NewMappedSegmentInfo(mappedDir, genID, class, st.Name, log)
			case "", datasrc.CacheLocal:
			default:
				return nil, fmt.Errorf("unknown segment type %q for %s/%s", st.SegmentType, types.ClassString(class), st.Name)
			}
		}
	}
	return d, nil
}

// GenerationID returns the configuration generation.
func (d *DataSrcInfo) GenerationID() int {
	return d.GenID
}

// ClientList returns the client list of class.
func (d *DataSrcInfo) ClientList(class uint16) (builder.ClientList, error) {
	l, err := d.Clients(class)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// Clients returns the concrete client list of class.
func (d *DataSrcInfo) Clients(class uint16) (*datasrc.ClientList, error) {
	l, ok := d.clients[class]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrClassNotFound, types.ClassString(class))
	}
	return l, nil
}

// WriterParams returns the reset parameters of the writable version of a
// data source's segment.
func (d *DataSrcInfo) WriterParams(class uint16, dataSource string) (segment.Params, error) {
	s, err := d.Segment(class, dataSource)
	if err != nil {
		return segment.Params{}, err
	}
	return s.ResetParams(Writer), nil
}

// Segment returns the segment info of a data source.
func (d *DataSrcInfo) Segment(class uint16, dataSource string) (*SegmentInfo, error) {
	s, ok := d.segments[types.SegmentKey{Class: class, DataSource: dataSource}]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", types.ErrNotCached, types.ClassString(class), dataSource)
	}
	return s, nil
}

// Segments returns every segment info ordered by class and name.
func (d *DataSrcInfo) Segments() []*SegmentInfo {
	keys := make([]types.SegmentKey, 0, len(d.segments))
	for k := range d.segments {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Class != keys[j].Class {
			return keys[i].Class < keys[j].Class
		}
		return keys[i].DataSource < keys[j].DataSource
	})
	out := make([]*SegmentInfo, 0, len(keys))
	for _, k := range keys {
		out = append(out, d.segments[k])
	}
	return out
}

// Close releases the data sources of the generation.
func (d *DataSrcInfo) Close() {
	for _, l := range d.clients {
		l.Close()
	}
}
