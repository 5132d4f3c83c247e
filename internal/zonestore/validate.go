package zonestore

import (
	"github.com/miekg/dns"

	"github.com/mydns-io/mydnsd/internal/dnsutil"
	"github.com/mydns-io/mydnsd/internal/wire"
)

// Validate checks the structural invariants spec.md §3 requires of a
// zone before it's served: an SOA owned by the apex, at least one
// nameserver with glue when the nameserver is in-bailiwick, CNAME
// exclusivity at its owner, and MX targets that aren't themselves
// CNAMEs (RFC 2181 / RFC 7505's null MX exempted). Ported from the
// teacher's zone.Zone.Validate, generalized to read through the store
// instead of a single in-process Zone value.
func (s *Store) Validate(zoneID uint32) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	z, ok := s.zones[zoneID]
	if !ok {
		return dnsutil.ErrNoSuchZone
	}
	if z.soa == nil {
		return dnsutil.New(dnsutil.KindServFail, "zone missing SOA record")
	}
	if wire.CanonicalName(z.soa.Header().Name) != z.origin {
		return dnsutil.New(dnsutil.KindServFail, "SOA name does not match zone origin")
	}

	nsChain := z.chain(z.origin, false)
	if nsChain == nil || len(nsChain.types[dns.TypeNS]) == 0 {
		return dnsutil.New(dnsutil.KindServFail, "zone has no nameservers")
	}
	for _, rr := range nsChain.types[dns.TypeNS] {
		ns := rr.RR.(*dns.NS)
		target := wire.CanonicalName(ns.Ns)
		if !dns.IsSubDomain(z.origin, target) {
			continue
		}
		glueChain := z.chain(target, false)
		hasGlue := glueChain != nil && (len(glueChain.types[dns.TypeA]) > 0 || len(glueChain.types[dns.TypeAAAA]) > 0)
		if !hasGlue {
			return dnsutil.New(dnsutil.KindServFail, "nameserver in zone missing glue records: "+target)
		}
	}

	for bucket, chains := range z.buckets {
		_ = bucket
		for _, c := range chains {
			if cnames, ok := c.types[dns.TypeCNAME]; ok {
				if len(c.types) > 1 {
					return dnsutil.New(dnsutil.KindServFail, "CNAME coexists with other records at "+c.name)
				}
				if len(cnames) > 1 {
					return dnsutil.New(dnsutil.KindServFail, "multiple CNAME records at "+c.name)
				}
			}
			for _, rr := range c.types[dns.TypeMX] {
				mx := rr.RR.(*dns.MX)
				if mx.Mx == "." {
					continue // null MX, RFC 7505
				}
				target := z.chain(mx.Mx, false)
				if target != nil && len(target.types[dns.TypeCNAME]) > 0 {
					return dnsutil.New(dnsutil.KindServFail, "MX at "+c.name+" points to CNAME "+mx.Mx)
				}
			}
		}
	}

	return nil
}
