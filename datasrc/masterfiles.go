package datasrc

import (
	"fmt"
	"io"
	"os"
	"sort"

	"jabberwocky238/jw238memmgr/internal/types"

	"github.com/miekg/dns"
)

// MasterFilesSource reads zones from RFC 1035 master files.
type MasterFilesSource struct {
	files map[string]string // canonical zone -> path
}

// NewMasterFilesSource builds a source from zone name -> file path.
func NewMasterFilesSource(params map[string]string) (*MasterFilesSource, error) {
	files := make(map[string]string, len(params))
	for zone, path := range params {
		name, err := types.CanonicalZone(zone)
		if err != nil {
			return nil, err
		}
		files[name] = path
	}
	return &MasterFilesSource{files: files}, nil
}

// Zones returns the configured zone names in sorted order.
func (s *MasterFilesSource) Zones() ([]string, error) {
	out := make([]string, 0, len(s.files))
	for name := range s.files {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// Iterate opens the zone's master file and parses it lazily.
func (s *MasterFilesSource) Iterate(zone string) (RRIterator, error) {
	name := dns.CanonicalName(zone)
	path, ok := s.files[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrZoneNotFound, name)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open zone file: %w", err)
	}
	return &zoneFileIterator{file: f, parser: dns.NewZoneParser(f, name, path)}, nil
}

// Close is a no-op; files are opened per iteration.
func (s *MasterFilesSource) Close() error { return nil }

type zoneFileIterator struct {
	file   *os.File
	parser *dns.ZoneParser
}

func (it *zoneFileIterator) Next() (dns.RR, error) {
	rr, ok := it.parser.Next()
	if !ok {
		if err := it.parser.Err(); err != nil {
			return nil, fmt.Errorf("parse zone file: %w", err)
		}
		return nil, io.EOF
	}
	return rr, nil
}

func (it *zoneFileIterator) Close() error {
	return it.file.Close()
}
