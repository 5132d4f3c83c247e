package dnssec

import (
	"sort"
	"strings"

	"github.com/miekg/dns"
)

// nsecProof returns the single NSEC record covering qname: the owner
// name immediately preceding (or equal to) qname in canonical order,
// pointing at its successor, per spec.md §4.10's NSEC-chain recipe.
func (m *Manager) nsecProof(zoneID uint32, qname string) []dns.RR {
	names := m.store.OwnerNames(zoneID)
	if len(names) == 0 {
		return nil
	}
	sort.Slice(names, func(i, j int) bool { return canonicalLess(names[i], names[j]) })

	qname = strings.ToLower(dns.Fqdn(qname))
	owner, next := coveringPair(names, qname, canonicalLess)

	types := m.store.TypesAtName(zoneID, owner)
	types = append(types, dns.TypeNSEC, dns.TypeRRSIG)

	nsec := &dns.NSEC{
		Hdr:        dns.RR_Header{Name: owner, Rrtype: dns.TypeNSEC, Class: dns.ClassINET, Ttl: 3600},
		NextDomain: next,
		TypeBitMap: dedupSortTypes(types),
	}
	return []dns.RR{nsec}
}

// nsec3Proof hashes qname and every owner name per RFC 5155 (via
// miekg/dns's own HashName, which already matches the RFC's test
// vectors) and returns the NSEC3 record covering the queried hash.
func (m *Manager) nsec3Proof(zoneID uint32, qname string, cfg NSEC3Config) []dns.RR {
	soa := m.store.GetSOA(zoneID)
	names := m.store.OwnerNames(zoneID)
	if soa == nil || len(names) == 0 {
		return nil
	}
	origin := strings.ToLower(soa.Header().Name)

	type hashedName struct {
		hash  string
		owner string
	}
	hs := make([]hashedName, 0, len(names))
	for _, n := range names {
		hs = append(hs, hashedName{hash: dns.HashName(n, dns.SHA1, cfg.Iterations, cfg.Salt), owner: n})
	}
	sort.Slice(hs, func(i, j int) bool { return hs[i].hash < hs[j].hash })

	hashes := make([]string, len(hs))
	for i, h := range hs {
		hashes[i] = h.hash
	}

	qhash := dns.HashName(strings.ToLower(dns.Fqdn(qname)), dns.SHA1, cfg.Iterations, cfg.Salt)
	ownerHash, nextHash := coveringPair(hashes, qhash, func(a, b string) bool { return a < b })

	var owner string
	for _, h := range hs {
		if h.hash == ownerHash {
			owner = h.owner
			break
		}
	}

	types := m.store.TypesAtName(zoneID, owner)
	types = append(types, dns.TypeRRSIG)

	nsec3 := &dns.NSEC3{
		Hdr:        dns.RR_Header{Name: strings.ToLower(ownerHash) + "." + dns.Fqdn(origin), Rrtype: dns.TypeNSEC3, Class: dns.ClassINET, Ttl: 3600},
		Hash:       dns.SHA1,
		Flags:      0,
		Iterations: cfg.Iterations,
		SaltLength: uint8(len(cfg.Salt) / 2),
		Salt:       cfg.Salt,
		HashLength: 20,
		NextDomain: nextHash,
		TypeBitMap: dedupSortTypes(types),
	}
	return []dns.RR{nsec3}
}

// coveringPair finds the element of sorted (ordered by less) that is
// <= target (wrapping to the last element if target precedes all of
// them), and the element that follows it (wrapping to the first).
func coveringPair(sorted []string, target string, less func(a, b string) bool) (owner, next string) {
	idx := sort.Search(len(sorted), func(i int) bool { return !less(sorted[i], target) })
	var ownerIdx int
	switch {
	case idx < len(sorted) && !less(target, sorted[idx]):
		ownerIdx = idx // exact match
	case idx == 0:
		ownerIdx = len(sorted) - 1
	default:
		ownerIdx = idx - 1
	}
	owner = sorted[ownerIdx]
	next = sorted[(ownerIdx+1)%len(sorted)]
	return owner, next
}

// canonicalLess orders two domain names per RFC 4034 §6.1: compare
// label sequences starting from the rightmost label; a name that is a
// strict prefix of another (fewer labels, otherwise equal) sorts first.
func canonicalLess(a, b string) bool {
	ra := reverseLabels(dns.SplitDomainName(a))
	rb := reverseLabels(dns.SplitDomainName(b))
	n := len(ra)
	if len(rb) < n {
		n = len(rb)
	}
	for i := 0; i < n; i++ {
		la, lb := strings.ToLower(ra[i]), strings.ToLower(rb[i])
		if la != lb {
			return la < lb
		}
	}
	return len(ra) < len(rb)
}

func reverseLabels(labels []string) []string {
	out := make([]string, len(labels))
	for i, l := range labels {
		out[len(labels)-1-i] = l
	}
	return out
}

func dedupSortTypes(types []uint16) []uint16 {
	seen := make(map[uint16]bool, len(types))
	out := make([]uint16, 0, len(types))
	for _, t := range types {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
