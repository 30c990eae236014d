// Package types defines the shared identifiers and sentinel errors used
// throughout the jw238memmgr module.
package types

import (
	"errors"
	"fmt"
	"strings"

	"github.com/miekg/dns"
)

// SegmentKey identifies the cache segment of one data source in one RR class.
type SegmentKey struct {
	Class      uint16
	DataSource string
}

// String renders the key as "IN/MasterFiles".
func (k SegmentKey) String() string {
	return ClassString(k.Class) + "/" + k.DataSource
}

// QueryInfo holds parsed information from a DNS query.
type QueryInfo struct {
	Domain string // FQDN being queried
	Type   uint16 // DNS query type (dns.TypeA, dns.TypeAAAA, etc.)
	Class  uint16 // DNS class (usually dns.ClassINET)
}

// ClassString returns the mnemonic of an RR class, falling back to the
// RFC 3597 "CLASSnnn" form.
func ClassString(class uint16) string {
	if s, ok := dns.ClassToString[class]; ok {
		return s
	}
	return fmt.Sprintf("CLASS%d", class)
}

// ParseClass converts a class mnemonic such as "IN" or "CH" into its code.
func ParseClass(s string) (uint16, error) {
	if c, ok := dns.StringToClass[strings.ToUpper(s)]; ok {
		return c, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidClass, s)
}

// CanonicalZone validates a zone name and returns it lower-cased and fully
// qualified.
func CanonicalZone(name string) (string, error) {
	if name == "" {
		return "", ErrInvalidName
	}
	if _, ok := dns.IsDomainName(name); !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return dns.CanonicalName(name), nil
}

// Sentinel errors.
var (
	ErrInvalidName        = errors.New("invalid domain name")
	ErrInvalidClass       = errors.New("invalid RR class")
	ErrSegmentNotFound    = errors.New("memory segment file not found")
	ErrSegmentCorrupt     = errors.New("memory segment is corrupt")
	ErrSegmentNotWritable = errors.New("memory segment is not open for writing")
	ErrClassNotFound      = errors.New("no client list for RR class")
	ErrDataSourceNotFound = errors.New("data source not found")
	ErrZoneNotFound       = errors.New("zone not found in data source")
	ErrNotCached          = errors.New("data source has no memory segment")
	ErrLoadIncomplete     = errors.New("zone load has not completed")
	ErrValidation         = errors.New("segment validation failed")
	ErrBadState           = errors.New("segment info is in an incorrect state")
	ErrUnknownReader      = errors.New("unknown segment reader")
	ErrNotRunning         = errors.New("memory manager is not running")
	ErrNoConfig           = errors.New("no data source configuration loaded")
)
