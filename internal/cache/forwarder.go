// Forwarder implements the cache's single-hop upstream lookup: round-
// robin over configured upstreams, UDP with a 5-second receive
// timeout, falling through to the next upstream on timeout or socket
// error, SERVFAIL after all have failed. Response id and question
// section are validated before the answer is trusted. Grounded on the
// teacher's internal/resolver/recursive.go queryNameserver, narrowed
// from an iterative root-to-leaf walk to plain forwarding — this
// server is not a validating/iterative resolver (Non-goal).
package cache

import (
	"sync/atomic"
	"time"

	"github.com/miekg/dns"

	"github.com/mydns-io/mydnsd/internal/dnsutil"
)

// DefaultUpstreamTimeout is spec.md §4.5's 5-second UDP receive timeout.
const DefaultUpstreamTimeout = 5 * time.Second

// Forwarder sends queries to a fixed, round-robin set of upstream
// resolvers.
type Forwarder struct {
	upstreams []string
	timeout   time.Duration
	client    *dns.Client
	next      atomic.Uint64
}

// NewForwarder constructs a Forwarder over upstreams (host:port pairs).
func NewForwarder(upstreams []string, timeout time.Duration) *Forwarder {
	if timeout <= 0 {
		timeout = DefaultUpstreamTimeout
	}
	return &Forwarder{
		upstreams: upstreams,
		timeout:   timeout,
		client:    &dns.Client{Net: "udp", Timeout: timeout},
	}
}

// Forward sends q to upstreams in round-robin order, returning the
// first validated answer. Returns an UpstreamError-kind error (rcode
// SERVFAIL) if every upstream times out or fails.
func (f *Forwarder) Forward(q *dns.Msg) (*dns.Msg, error) {
	if len(f.upstreams) == 0 {
		return nil, dnsutil.New(dnsutil.KindUpstreamError, "no upstreams configured")
	}

	start := int(f.next.Add(1) - 1)
	var lastErr error

	for i := 0; i < len(f.upstreams); i++ {
		upstream := f.upstreams[(start+i)%len(f.upstreams)]

		resp, _, err := f.client.Exchange(q, upstream)
		if err != nil {
			lastErr = err
			continue
		}
		if !validResponse(q, resp) {
			lastErr = dnsutil.New(dnsutil.KindUpstreamError, "response id/question mismatch from "+upstream)
			continue
		}
		return resp, nil
	}

	return nil, dnsutil.Wrap(dnsutil.KindUpstreamError, "all upstreams failed", lastErr)
}

// validResponse checks the response id matches the query id and the
// question section echoes the query, per spec.md §4.5.
func validResponse(q, resp *dns.Msg) bool {
	if resp.Id != q.Id {
		return false
	}
	if len(resp.Question) != len(q.Question) {
		return false
	}
	for i, qq := range q.Question {
		rq := resp.Question[i]
		if rq.Name != qq.Name || rq.Qtype != qq.Qtype || rq.Qclass != qq.Qclass {
			return false
		}
	}
	return true
}
