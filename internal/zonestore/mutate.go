package zonestore

import (
	"github.com/miekg/dns"

	"github.com/mydns-io/mydnsd/internal/dnsutil"
	"github.com/mydns-io/mydnsd/internal/wire"
)

// DeleteRRset removes every record of rrtype at name in zoneID,
// satisfying RFC 2136's DELETE_RRSET update op (class ANY, specific
// type). A no-op, not an error, if the RRset doesn't exist.
func (s *Store) DeleteRRset(zoneID uint32, name string, rrtype uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	z, ok := s.zones[zoneID]
	if !ok {
		return dnsutil.ErrNoSuchZone
	}

	name = wire.CanonicalName(dns.Fqdn(name))
	c := z.chain(name, false)
	if c == nil {
		return nil
	}

	removed := len(c.types[rrtype])
	delete(c.types, rrtype)
	z.recordCount -= removed
	s.totalRecs -= removed
	return nil
}

// DeleteAllAtName removes every RRset at name, satisfying RFC 2136's
// DELETE_ALL update op (class ANY, type ANY).
func (s *Store) DeleteAllAtName(zoneID uint32, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	z, ok := s.zones[zoneID]
	if !ok {
		return dnsutil.ErrNoSuchZone
	}

	name = wire.CanonicalName(dns.Fqdn(name))
	b := wire.Djb2Bucket(name)
	chains := z.buckets[b]

	for i, c := range chains {
		if c.name != name {
			continue
		}
		removed := 0
		for _, recs := range c.types {
			removed += len(recs)
		}
		z.recordCount -= removed
		s.totalRecs -= removed
		z.buckets[b] = append(chains[:i], chains[i+1:]...)
		return nil
	}
	return nil
}

// DeleteRR removes every record at (name, rrtype) whose rdata matches
// rr (TTL ignored, per RFC 2136's DELETE semantics), satisfying the
// DELETE update op (class NONE).
func (s *Store) DeleteRR(zoneID uint32, name string, rrtype uint16, rr dns.RR) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	z, ok := s.zones[zoneID]
	if !ok {
		return dnsutil.ErrNoSuchZone
	}

	name = wire.CanonicalName(dns.Fqdn(name))
	c := z.chain(name, false)
	if c == nil {
		return nil
	}

	existing := c.types[rrtype]
	kept := existing[:0]
	removed := 0
	for _, rec := range existing {
		if sameRdata(rec.RR, rr) {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	if removed == 0 {
		return nil
	}
	if len(kept) == 0 {
		delete(c.types, rrtype)
	} else {
		c.types[rrtype] = kept
	}
	z.recordCount -= removed
	s.totalRecs -= removed
	return nil
}

// HasRRsetMatching reports whether the RRset at (name, rrtype) exists
// and is exactly the set of RDATA in want, irrespective of order —
// RFC 2136's YXRRSET_VALUE prerequisite.
func (s *Store) HasRRsetMatching(zoneID uint32, name string, rrtype uint16, want []dns.RR) bool {
	got := s.Query(zoneID, name, rrtype)
	if len(got) != len(want) {
		return false
	}
	matched := make([]bool, len(got))
	for _, w := range want {
		found := false
		for i, g := range got {
			if matched[i] {
				continue
			}
			if sameRdata(g.RR, w) {
				matched[i] = true
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// sameRdata compares two RRs' type and RDATA, ignoring owner name,
// class and TTL (RFC 2136 DELETE/prerequisite matching is rdata-only).
func sameRdata(a, b dns.RR) bool {
	if a.Header().Rrtype != b.Header().Rrtype {
		return false
	}
	ac, bc := dns.Copy(a), dns.Copy(b)
	ac.Header().Ttl, bc.Header().Ttl = 0, 0
	ac.Header().Name, bc.Header().Name = "", ""
	ac.Header().Class, bc.Header().Class = 0, 0
	return ac.String() == bc.String()
}
