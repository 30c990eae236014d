package memmgr

import "jabberwocky238/jw238memmgr/internal/types"

// Status is a snapshot of the manager for the management API.
type Status struct {
	Running         bool            `json:"running"`
	Generation      int             `json:"generation"`
	GenerationID    string          `json:"generation_id,omitempty"`
	Retiring        int             `json:"retiring"`
	PendingCommands int             `json:"pending_commands"`
	Readers         []string        `json:"readers"`
	Segments        []SegmentStatus `json:"segments"`
}

// SegmentStatus describes one managed segment pair.
type SegmentStatus struct {
	Class         string   `json:"class"`
	DataSource    string   `json:"datasrc"`
	State         string   `json:"state"`
	Readers       []string `json:"readers"`
	OldReaders    []string `json:"old_readers"`
	PendingEvents int      `json:"pending_events"`
	ReaderFile    string   `json:"reader_file"`
	WriterFile    string   `json:"writer_file"`
}

// Status reports the current generation and its segments.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{
		Running:  m.running,
		Retiring: len(m.retiring),
		Readers:  sortedIDs(readerSet(m.readers)),
		Segments: []SegmentStatus{},
	}
	if m.queue != nil {
		st.PendingCommands = m.queue.Pending()
	}
	if m.current == nil {
		return st
	}
	st.Generation = m.current.GenID
	st.GenerationID = m.current.ID.String()
	for _, info := range m.current.Segments() {
		st.Segments = append(st.Segments, SegmentStatus{
			Class:         types.ClassString(info.Class()),
			DataSource:    info.DataSource(),
			State:         info.State().String(),
			Readers:       info.Readers(),
			OldReaders:    info.OldReaders(),
			PendingEvents: len(info.Events()),
			ReaderFile:    info.ResetParams(Reader).MappedFile,
			WriterFile:    info.ResetParams(Writer).MappedFile,
		})
	}
	return st
}

func readerSet(readers map[string]SegmentReader) map[string]struct{} {
	out := make(map[string]struct{}, len(readers))
	for id := range readers {
		out[id] = struct{}{}
	}
	return out
}
