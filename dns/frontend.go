// Package dns answers authoritative DNS queries from the reader segments
// the memory manager hands out.
package dns

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"jabberwocky238/jw238memmgr/internal/types"

	"github.com/miekg/dns"
)

// DNSFrontend receives and parses DNS queries.
type DNSFrontend interface {
	// ReceiveQuery accepts a DNS query and returns a response.
	ReceiveQuery(ctx context.Context, query *dns.Msg) (*dns.Msg, error)

	// ParseQuery validates and extracts query information from a DNS message.
	ParseQuery(query *dns.Msg) (*types.QueryInfo, error)
}

// Frontend implements DNSFrontend by parsing incoming queries and delegating
// resolution to a DNSBackend.
type Frontend struct {
	backend DNSBackend
}

// NewFrontend creates a Frontend that delegates resolution to the given backend.
func NewFrontend(backend DNSBackend) *Frontend {
	return &Frontend{backend: backend}
}

// ReceiveQuery parses the incoming DNS message, resolves it via the backend,
// and builds the response.
func (f *Frontend) ReceiveQuery(ctx context.Context, query *dns.Msg) (*dns.Msg, error) {
	info, err := f.ParseQuery(query)
	if err != nil {
		resp := new(dns.Msg)
		if query != nil {
			resp.SetRcode(query, dns.RcodeFormatError)
		}
		return resp, err
	}

	if query.Opcode != dns.OpcodeQuery {
		resp := new(dns.Msg)
		resp.SetRcode(query, dns.RcodeNotImplemented)
		return resp, nil
	}

	slog.Debug("dns query received",
		"domain", info.Domain,
		"type", dns.TypeToString[info.Type],
		"class", types.ClassString(info.Class),
	)

	res := f.backend.Resolve(ctx, info)

	resp := new(dns.Msg)
	resp.SetRcode(query, res.Rcode)
	resp.Authoritative = res.Authoritative
	resp.Answer = res.Answer
	resp.Ns = res.Ns
	if opt := query.IsEdns0(); opt != nil {
		resp.SetEdns0(dns.DefaultMsgSize, opt.Do())
	}
	return resp, nil
}

// ParseQuery validates a DNS message and extracts the query information.
// It returns an error if the message has no questions or the domain name
// is empty.
func (f *Frontend) ParseQuery(query *dns.Msg) (*types.QueryInfo, error) {
	if query == nil {
		return nil, fmt.Errorf("nil query message")
	}
	if len(query.Question) == 0 {
		return nil, fmt.Errorf("query has no questions")
	}

	q := query.Question[0]
	domain := q.Name
	if domain == "" {
		return nil, types.ErrInvalidName
	}

	// Ensure FQDN trailing dot.
	if !strings.HasSuffix(domain, ".") {
		domain += "."
	}

	return &types.QueryInfo{
		Domain: dns.CanonicalName(domain),
		Type:   q.Qtype,
		Class:  q.Qclass,
	}, nil
}

// ServeDNS implements dns.Handler. UDP replies larger than the client's
// buffer are truncated with TC set.
func (f *Frontend) ServeDNS(w dns.ResponseWriter, r *dns.Msg) {
	resp, err := f.ReceiveQuery(context.Background(), r)
	if err != nil {
		slog.Warn("failed to process query", "error", err, "client", w.RemoteAddr().String())
	}
	if _, ok := w.RemoteAddr().(*net.UDPAddr); ok {
		resp.Truncate(udpSize(r))
	}
	if err := w.WriteMsg(resp); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

// udpSize is the largest UDP reply the client accepts.
func udpSize(query *dns.Msg) int {
	if query == nil {
		return dns.MinMsgSize
	}
	if opt := query.IsEdns0(); opt != nil && int(opt.UDPSize()) > dns.MinMsgSize {
		return int(opt.UDPSize())
	}
	return dns.MinMsgSize
}
