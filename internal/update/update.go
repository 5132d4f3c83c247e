// Package update implements RFC 2136 dynamic UPDATE: per-zone
// ACL/TSIG authorization, atomic prerequisite evaluation and
// transactional apply against a zonestore.Store, per spec.md §4.8.
//
// No teacher file implements UPDATE; the zone.go mutation methods
// (AddRecord/DeleteRecord-equivalents) are generalized into
// zonestore's DeleteRR/DeleteRRset/DeleteAllAtName, and the request
// dispatch shape is grounded on internal/server/server.go's
// handleAuthoritative switch-on-opcode style.
package update

import (
	"net"

	"github.com/miekg/dns"

	"github.com/mydns-io/mydnsd/internal/acl"
	"github.com/mydns-io/mydnsd/internal/dnsutil"
	"github.com/mydns-io/mydnsd/internal/tsig"
	"github.com/mydns-io/mydnsd/internal/wire"
	"github.com/mydns-io/mydnsd/internal/zonestore"
)

// ZonePolicy carries the per-zone authorization bits spec.md §4.8
// checks each update operation against.
type ZonePolicy struct {
	RequireTSIGKey string // empty: no TSIG required for this zone
	AllowAdd       bool
	AllowDelete    bool
	AllowUpdate    bool // zone-level master switch for UPDATE at all
}

// PolicyLookup resolves a zone origin to its ZonePolicy.
type PolicyLookup interface {
	PolicyForZone(origin string) (ZonePolicy, bool)
}

// Handler processes RFC 2136 UPDATE messages.
type Handler struct {
	store    *zonestore.Store
	acl      *acl.ACL
	policies PolicyLookup
	keyring  *tsig.Keyring
}

// New constructs a Handler. keyring may be nil if no zone requires TSIG.
func New(store *zonestore.Store, a *acl.ACL, policies PolicyLookup, keyring *tsig.Keyring) *Handler {
	return &Handler{store: store, acl: a, policies: policies, keyring: keyring}
}

// Handle authorizes and applies a raw UPDATE message, returning the
// response to send back. raw must be the exact bytes received off the
// wire (TSIG verification needs the original encoding, not a
// re-packed copy).
func (h *Handler) Handle(raw []byte, clientIP net.IP) *dns.Msg {
	req := new(dns.Msg)
	if err := req.Unpack(raw); err != nil {
		resp := new(dns.Msg)
		resp.Rcode = dns.RcodeFormatError
		return resp
	}

	resp := new(dns.Msg)
	resp.SetReply(req)

	if len(req.Question) != 1 || req.Question[0].Qclass != dns.ClassINET {
		resp.Rcode = dns.RcodeFormatError
		return resp
	}
	origin := wire.CanonicalName(dns.Fqdn(req.Question[0].Name))

	policy, ok := h.policies.PolicyForZone(origin)
	if !ok {
		resp.Rcode = dns.RcodeRefused
		return resp
	}

	if !h.acl.Evaluate(acl.Request{Target: origin, ClientIP: clientIP}) {
		resp.Rcode = dns.RcodeRefused
		return resp
	}

	if policy.RequireTSIGKey != "" {
		if h.keyring == nil {
			resp.Rcode = dns.RcodeRefused
			return resp
		}
		if err := h.keyring.Verify(raw, tsig.DefaultFudge); err != nil {
			if de, ok := dnsutil.As(err); ok {
				resp.Rcode = de.Rcode()
			} else {
				resp.Rcode = dns.RcodeRefused
			}
			return resp
		}
	}

	zoneID, ok := h.store.ZoneIDByOrigin(origin)
	if !ok {
		resp.Rcode = dns.RcodeRefused
		return resp
	}

	if len(req.Ns) > 0 && !policy.AllowUpdate {
		resp.Rcode = dns.RcodeRefused
		return resp
	}

	if rc := h.checkPrereqs(zoneID, req.Answer); rc != dns.RcodeSuccess {
		resp.Rcode = rc
		return resp
	}

	if rc := h.applyUpdates(zoneID, req.Ns, policy); rc != dns.RcodeSuccess {
		resp.Rcode = rc
		return resp
	}

	if len(req.Ns) > 0 {
		h.store.IncrementSerial(zoneID)
	}
	resp.Rcode = dns.RcodeSuccess
	return resp
}

// checkPrereqs evaluates the prerequisite section per spec.md §4.8,
// returning RcodeSuccess or the RFC 2136 failure rcode for the first
// prerequisite that doesn't hold.
func (h *Handler) checkPrereqs(zoneID uint32, prereqs []dns.RR) int {
	type rrsetKey struct {
		name  string
		rtype uint16
	}
	valueGroups := make(map[rrsetKey][]dns.RR)
	for _, rr := range prereqs {
		hdr := rr.Header()
		if hdr.Class == dns.ClassINET {
			k := rrsetKey{wire.CanonicalName(hdr.Name), hdr.Rrtype}
			valueGroups[k] = append(valueGroups[k], rr)
		}
	}
	for k, want := range valueGroups {
		if !h.store.HasRRsetMatching(zoneID, k.name, k.rtype, want) {
			return dns.RcodeNXRrset
		}
	}

	for _, rr := range prereqs {
		hdr := rr.Header()
		if hdr.Class == dns.ClassINET {
			continue // handled above as a value group
		}
		name := wire.CanonicalName(hdr.Name)

		switch {
		case hdr.Class == dns.ClassANY && hdr.Rrtype == dns.TypeANY:
			if !h.store.HasName(zoneID, name) { // YXDOMAIN
				return dns.RcodeNameError
			}
		case hdr.Class == dns.ClassNONE && hdr.Rrtype == dns.TypeANY:
			if h.store.HasName(zoneID, name) { // NXDOMAIN
				return dns.RcodeYXDomain
			}
		case hdr.Class == dns.ClassANY:
			if len(h.store.Query(zoneID, name, hdr.Rrtype)) == 0 { // YXRRSET (empty rdata)
				return dns.RcodeNXRrset
			}
		case hdr.Class == dns.ClassNONE:
			if len(h.store.Query(zoneID, name, hdr.Rrtype)) != 0 { // NXRRSET
				return dns.RcodeYXRrset
			}
		}
	}
	return dns.RcodeSuccess
}

// applyUpdates applies the update section in order: on a failure
// partway through, already-applied ADDs are rolled back and the
// failing op's rcode is returned (REFUSED when the zone policy forbids
// the op, SERVFAIL when the store rejects an ADD, FORMERR for an
// unrecognised class).
func (h *Handler) applyUpdates(zoneID uint32, updates []dns.RR, policy ZonePolicy) int {
	var added []*zonestore.Record

	// rollback only undoes ADDs applied earlier in this update's RR
	// list. A DELETE (class NONE/ANY) that already ran before a later
	// op fails is not restored — the store has no snapshot to restore
	// it from. The update section is not prescanned before the ops run,
	// so a rollback is reached by a store-level failure, by a later op
	// the zone policy refuses, or by a later op with an unrecognised
	// class.
	rollback := func() {
		for _, rec := range added {
			h.store.DeleteRR(zoneID, rec.Name, rec.Type, rec.RR)
		}
	}

	for _, rr := range updates {
		hdr := rr.Header()
		name := wire.CanonicalName(hdr.Name)

		switch {
		case hdr.Class == dns.ClassINET:
			if !policy.AllowAdd {
				rollback()
				return dns.RcodeRefused
			}
			rec := &zonestore.Record{
				ZoneID: zoneID, Name: name, Type: hdr.Rrtype, Class: hdr.Class, TTL: hdr.Ttl,
				RR: dns.Copy(rr),
			}
			if err := h.store.AddRR(rec); err != nil {
				rollback()
				return dns.RcodeServerFailure
			}
			added = append(added, rec)

		case hdr.Class == dns.ClassNONE:
			if !policy.AllowDelete {
				rollback()
				return dns.RcodeRefused
			}
			h.store.DeleteRR(zoneID, name, hdr.Rrtype, rr)

		case hdr.Class == dns.ClassANY && hdr.Rrtype == dns.TypeANY:
			if !policy.AllowDelete {
				rollback()
				return dns.RcodeRefused
			}
			h.store.DeleteAllAtName(zoneID, name)

		case hdr.Class == dns.ClassANY:
			if !policy.AllowDelete {
				rollback()
				return dns.RcodeRefused
			}
			h.store.DeleteRRset(zoneID, name, hdr.Rrtype)

		default:
			rollback()
			return dns.RcodeFormatError
		}
	}
	return dns.RcodeSuccess
}
