// Package resolver implements the authoritative query path: for a
// parsed query it finds the longest matching zone, looks the name up
// in the zone store, and builds NOERROR/NODATA/NXDOMAIN responses with
// glue and CNAME chasing, per spec.md §4.4.
//
// Grounded on the teacher's internal/server.handleAuthoritative (zone
// match + SOA negative answer) generalized from a single-zone map scan
// to zonestore.Store's zone_id addressing, and on
// internal/zone.Zone.GetRecords's wildcard-aware lookup, now lifted
// into zonestore.Store.Query.
package resolver

import (
	"net"

	"github.com/miekg/dns"

	"github.com/mydns-io/mydnsd/internal/acl"
	"github.com/mydns-io/mydnsd/internal/zonestore"
)

// maxCNAMEHops caps CNAME chase depth per spec.md §4.4.
const maxCNAMEHops = 8

// DNSSECSigner is the narrow surface internal/dnssec implements;
// Resolver calls it when a zone is signed and the query carries the DO
// bit, so this package never has to know about RRSIG/NSEC internals.
// A nil Signer (the common case until DNSSEC is configured on a zone)
// means responses are returned unsigned.
type DNSSECSigner interface {
	SignZone(zoneID uint32) bool
	Sign(zoneID uint32, qname string, rrset []dns.RR) []dns.RR
	Deny(zoneID uint32, qname string, qtype uint16, nxdomain bool) []dns.RR
}

// Resolver answers queries against a zonestore.Store.
type Resolver struct {
	store  *zonestore.Store
	acl    *acl.ACL
	signer DNSSECSigner
}

// New constructs a Resolver. aclEval may be nil to skip ACL
// enforcement (e.g. in tests); signer may be nil to skip DNSSEC.
func New(store *zonestore.Store, aclEval *acl.ACL, signer DNSSECSigner) *Resolver {
	return &Resolver{store: store, acl: aclEval, signer: signer}
}

// Resolve answers r (which must carry exactly one question) on behalf
// of clientIP, returning a fully-populated reply.
func (res *Resolver) Resolve(r *dns.Msg, clientIP net.IP) *dns.Msg {
	m := new(dns.Msg)
	m.SetReply(r)
	m.Authoritative = true
	m.RecursionAvailable = false

	if len(r.Question) != 1 {
		m.Rcode = dns.RcodeFormatError
		return m
	}
	q := r.Question[0]
	if q.Qclass != dns.ClassINET {
		m.Rcode = dns.RcodeNotImplemented
		return m
	}

	zoneID, origin, ok := res.findZone(q.Name)
	if !ok {
		m.Rcode = dns.RcodeRefused
		return m
	}

	target := "master"
	if res.store.ZoneSlaveMode(zoneID) {
		target = "slave"
	}
	if res.acl != nil {
		denied := !res.acl.Evaluate(acl.Request{Target: target, ClientIP: clientIP})
		res.store.RecordACLCheck(denied)
		if denied {
			m.Rcode = dns.RcodeRefused
			return m
		}
	}

	dnssecRequested := optWantsDNSSEC(r)

	answer, rcode, curZoneID := res.lookup(zoneID, q.Name, q.Qtype)
	m.Rcode = rcode

	switch rcode {
	case dns.RcodeSuccess:
		if len(answer) == 0 {
			res.attachNegative(m, curZoneID, origin, dnssecRequested, q.Name, q.Qtype, false)
			return m
		}
		m.Answer = answer
		if res.signer != nil && dnssecRequested && res.signer.SignZone(curZoneID) {
			m.Answer = res.signer.Sign(curZoneID, q.Name, answer)
		}
		m.Extra = append(m.Extra, res.glue(curZoneID, answer)...)
	case dns.RcodeNameError:
		res.attachNegative(m, curZoneID, origin, dnssecRequested, q.Name, q.Qtype, true)
	case dns.RcodeServerFailure:
		// CNAME loop detected during chase; no further sections to attach.
	}

	return m
}

// attachNegative puts the zone's SOA (TTL clamped to
// min(soa.ttl, soa.minimum)) into Authority for NODATA/NXDOMAIN
// responses, and the DNSSEC denial proof when applicable.
func (res *Resolver) attachNegative(m *dns.Msg, zoneID uint32, origin string, dnssecRequested bool, qname string, qtype uint16, nxdomain bool) {
	soa := res.store.GetSOA(zoneID)
	if soa == nil {
		return
	}
	soaCopy := dns.Copy(soa).(*dns.SOA)
	if soaCopy.Header().Ttl > soaCopy.Minimum {
		soaCopy.Header().Ttl = soaCopy.Minimum
	}
	m.Ns = []dns.RR{soaCopy}

	if res.signer != nil && dnssecRequested && res.signer.SignZone(zoneID) {
		m.Ns = append(m.Ns, res.signer.Deny(zoneID, qname, qtype, nxdomain)...)
	}
}

// lookup resolves (origin-matched zoneID, name, type), chasing CNAMEs
// across zone boundaries up to maxCNAMEHops. Returns the accumulated
// answer RRset, the rcode to use, and the zone_id the final name
// resolved within (needed by the caller for glue/SOA/signing).
func (res *Resolver) lookup(zoneID uint32, name string, qtype uint16) ([]dns.RR, int, uint32) {
	var answer []dns.RR
	visited := make(map[string]bool)
	curName := name
	curZoneID := zoneID

	for hop := 0; ; hop++ {
		if hop > maxCNAMEHops {
			return nil, dns.RcodeServerFailure, curZoneID
		}
		if visited[curName] {
			return nil, dns.RcodeServerFailure, curZoneID
		}
		visited[curName] = true

		if qtype != dns.TypeCNAME {
			if direct := res.queryRR(curZoneID, curName, qtype); len(direct) > 0 {
				answer = append(answer, direct...)
				return answer, dns.RcodeSuccess, curZoneID
			}
		}

		if cnames := res.queryRR(curZoneID, curName, dns.TypeCNAME); len(cnames) > 0 {
			if qtype == dns.TypeCNAME {
				answer = append(answer, cnames...)
				return answer, dns.RcodeSuccess, curZoneID
			}
			answer = append(answer, cnames...)
			target := cnames[0].(*dns.CNAME).Target
			nextZoneID, _, ok := res.findZone(target)
			if !ok {
				// Target isn't served by this instance; stop the chase
				// here with whatever CNAMEs we've collected.
				return answer, dns.RcodeSuccess, curZoneID
			}
			curName = target
			curZoneID = nextZoneID
			continue
		}

		if res.store.HasName(curZoneID, curName) {
			return answer, dns.RcodeSuccess, curZoneID // NODATA: name exists, just not this type
		}
		if len(answer) > 0 {
			// We followed at least one CNAME but the final target
			// doesn't exist: still a successful answer chain ending in
			// NXDOMAIN for the target, reported as NODATA/empty here
			// per spec's "If the name does not exist" applying to the
			// originally-queried name only when no CNAME was chased.
			return answer, dns.RcodeSuccess, curZoneID
		}
		return nil, dns.RcodeNameError, curZoneID
	}
}

func (res *Resolver) queryRR(zoneID uint32, name string, qtype uint16) []dns.RR {
	recs := res.store.Query(zoneID, name, qtype)
	if len(recs) == 0 {
		return nil
	}
	out := make([]dns.RR, len(recs))
	for i, r := range recs {
		out[i] = r.RR
	}
	return out
}

// glue attaches A/AAAA records for in-bailiwick targets referenced by
// NS, MX, SRV or CNAME records in the answer set, per spec.md §4.4.
func (res *Resolver) glue(zoneID uint32, answer []dns.RR) []dns.RR {
	seen := make(map[string]bool)
	var extra []dns.RR

	addGlue := func(target string) {
		if seen[target] {
			return
		}
		seen[target] = true
		for _, t := range []uint16{dns.TypeA, dns.TypeAAAA} {
			for _, rr := range res.queryRR(zoneID, target, t) {
				extra = append(extra, rr)
			}
		}
	}

	for _, rr := range answer {
		switch v := rr.(type) {
		case *dns.NS:
			addGlue(v.Ns)
		case *dns.MX:
			if v.Mx != "." {
				addGlue(v.Mx)
			}
		case *dns.SRV:
			addGlue(v.Target)
		case *dns.CNAME:
			addGlue(v.Target)
		}
	}
	return extra
}

// findZone returns the zone_id and origin of the longest zone origin
// that is name itself or a suffix of it, or ok=false when no zone matches
// (the query is REFUSED).
func (res *Resolver) findZone(name string) (zoneID uint32, origin string, ok bool) {
	best := ""
	for _, candidate := range res.store.Origins() {
		if dns.IsSubDomain(candidate, name) && len(candidate) > len(best) {
			best = candidate
		}
	}
	if best == "" {
		return 0, "", false
	}
	id, found := res.store.ZoneIDByOrigin(best)
	if !found {
		return 0, "", false
	}
	return id, best, true
}

func optWantsDNSSEC(r *dns.Msg) bool {
	opt := r.IsEdns0()
	return opt != nil && opt.Do()
}
