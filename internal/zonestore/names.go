package zonestore

import (
	"github.com/miekg/dns"

	"github.com/mydns-io/mydnsd/internal/wire"
)

// OwnerNames returns every distinct owner name in zoneID. Order is
// unspecified; callers needing canonical order (e.g. internal/dnssec's
// NSEC chain) must sort the result themselves.
func (s *Store) OwnerNames(zoneID uint32) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	z, ok := s.zones[zoneID]
	if !ok {
		return nil
	}

	var out []string
	for _, chains := range z.buckets {
		for _, c := range chains {
			out = append(out, c.name)
		}
	}
	return out
}

// TypesAtName returns every RR type present at name in zoneID, used
// by internal/dnssec to build an NSEC/NSEC3 type bitmap.
func (s *Store) TypesAtName(zoneID uint32, name string) []uint16 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	z, ok := s.zones[zoneID]
	if !ok {
		return nil
	}
	c := z.chain(wire.CanonicalName(dns.Fqdn(name)), false)
	if c == nil {
		return nil
	}

	out := make([]uint16, 0, len(c.types))
	for t := range c.types {
		out = append(out, t)
	}
	return out
}
