package datasrc

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"

	"jabberwocky238/jw238memmgr/internal/types"

	"github.com/lib/pq"
	"github.com/miekg/dns"
)

// Default table names of the PostgreSQL schema.
const (
	DefaultZonesTable   = "zones"
	DefaultRecordsTable = "records"
)

// PostgreSQLSource reads zones from two tables:
//
//	zones(name text, rrclass text)
//	records(id bigserial, zone text, rdata text)
//
// where rdata holds a record in presentation format.
type PostgreSQLSource struct {
	db           *sql.DB
	class        uint16
	zonesQuery   string
	recordsQuery string
	timeout      time.Duration
}

// NewPostgreSQLSource wraps db. Empty table names select the defaults.
func NewPostgreSQLSource(db *sql.DB, class uint16, zonesTable, recordsTable string) *PostgreSQLSource {
	if zonesTable == "" {
		zonesTable = DefaultZonesTable
	}
	if recordsTable == "" {
		recordsTable = DefaultRecordsTable
	}
	return &PostgreSQLSource{
		db:    db,
		class: class,
		zonesQuery: fmt.Sprintf("SELECT name FROM %s WHERE rrclass = $1 ORDER BY name",
			pq.QuoteIdentifier(zonesTable)),
		recordsQuery: fmt.Sprintf("SELECT rdata FROM %s WHERE zone = $1 ORDER BY id",
			pq.QuoteIdentifier(recordsTable)),
		timeout: 10 * time.Second,
	}
}

// OpenPostgreSQL connects to dsn with the lib/pq driver.
func OpenPostgreSQL(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return db, nil
}

// Zones lists the zones of the source's class.
func (s *PostgreSQLSource) Zones() ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, s.zonesQuery, types.ClassString(s.class))
	if err != nil {
		return nil, fmt.Errorf("query zones: %w", err)
	}
	defer rows.Close()

	var zones []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan zone: %w", err)
		}
		zones = append(zones, dns.CanonicalName(name))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read zones: %w", err)
	}
	return zones, nil
}

// Iterate streams the records of zone. The query stays open until the
// iterator is closed.
func (s *PostgreSQLSource) Iterate(zone string) (RRIterator, error) {
	ctx, cancel := context.WithCancel(context.Background())
	rows, err := s.db.QueryContext(ctx, s.recordsQuery, dns.CanonicalName(zone))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("query records of %s: %w", zone, err)
	}
	return &rowIterator{rows: rows, cancel: cancel, origin: dns.CanonicalName(zone)}, nil
}

// Close closes the database handle.
func (s *PostgreSQLSource) Close() error {
	return s.db.Close()
}

type rowIterator struct {
	rows   *sql.Rows
	cancel context.CancelFunc
	origin string
}

func (it *rowIterator) Next() (dns.RR, error) {
	for it.rows.Next() {
		var text string
		if err := it.rows.Scan(&text); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rr, err := dns.NewRR("$ORIGIN " + it.origin + "\n" + text)
		if err != nil {
			return nil, fmt.Errorf("parse record %q: %w", text, err)
		}
		if rr == nil {
			continue // blank or comment-only row
		}
		return rr, nil
	}
	if err := it.rows.Err(); err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}
	return nil, io.EOF
}

func (it *rowIterator) Close() error {
	err := it.rows.Close()
	it.cancel()
	return err
}
